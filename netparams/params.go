// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// RPCClientPort is the default btcd RPC port the coordinator checks
	// inputs and broadcasts through.
	RPCClientPort string

	// CoordinatorPort is the default port of the coordinator HTTP API.
	CoordinatorPort string

	// MetricsPort is the default port of the Prometheus endpoint.
	MetricsPort string
}

// MainNetParams contains parameters specific running btcjoind and btcd on
// the main network (wire.MainNet).
var MainNetParams = Params{
	Params:          &chaincfg.MainNetParams,
	RPCClientPort:   "8334",
	CoordinatorPort: "8350",
	MetricsPort:     "8351",
}

// TestNet3Params contains parameters specific running btcjoind and btcd on
// the test network (version 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:          &chaincfg.TestNet3Params,
	RPCClientPort:   "18334",
	CoordinatorPort: "18350",
	MetricsPort:     "18351",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:          &chaincfg.RegressionNetParams,
	RPCClientPort:   "18334",
	CoordinatorPort: "18450",
	MetricsPort:     "18451",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:          &chaincfg.SimNetParams,
	RPCClientPort:   "18556",
	CoordinatorPort: "18550",
	MetricsPort:     "18551",
}

// SigNetParams contains parameters specific to the default signet
// (wire.SigNet).
var SigNetParams = Params{
	Params:          &chaincfg.SigNetParams,
	RPCClientPort:   "38332",
	CoordinatorPort: "38350",
	MetricsPort:     "38351",
}

// Select returns the parameters of the one network flagged. With no flag set
// it returns the main network.
func Select(testNet3, regTest, simNet, sigNet bool) (*Params, error) {
	var (
		selected = &MainNetParams
		numNets  int
	)
	for _, n := range []struct {
		set    bool
		params *Params
	}{
		{testNet3, &TestNet3Params},
		{regTest, &RegressionNetParams},
		{simNet, &SimNetParams},
		{sigNet, &SigNetParams},
	} {
		if n.set {
			selected = n.params
			numNets++
		}
	}
	if numNets > 1 {
		return nil, fmt.Errorf("the testnet, regtest, simnet and signet " +
			"params can't be used together -- choose one")
	}

	return selected, nil
}
