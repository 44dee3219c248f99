// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
)

var (
	// ErrRejectedByNetwork is returned when the node refuses a
	// transaction for policy or consensus reasons. Retrying the same
	// transaction will not help.
	ErrRejectedByNetwork = errors.New("transaction rejected by network")

	// ErrUnavailable is returned when the node could not be reached or
	// is not ready to answer. The call may be retried.
	ErrUnavailable = errors.New("chain backend unavailable")
)

// alreadyKnownErrs are the reasons btcd and bitcoind give for refusing a
// transaction they already have. A broadcast failing with one of them was
// effectively successful.
var alreadyKnownErrs = []string{
	"txn already in mempool",
	"txn already known",
	"transaction already in block chain",
	"already have transaction",
}

// rpcInWarmup is the code bitcoind answers with while it is still loading
// its block index.
const rpcInWarmup btcjson.RPCErrorCode = -28

// matchErrStr takes an error returned from an RPC client and matches it
// against the specified string. Dashes are replaced with spaces and both
// sides are lowercased before matching.
func matchErrStr(err error, s string) bool {
	target := strings.ToLower(strings.ReplaceAll(s, "-", " "))
	msg := strings.ToLower(strings.ReplaceAll(err.Error(), "-", " "))

	return strings.Contains(msg, target)
}

// isAlreadyKnown reports whether err says the node already has the
// transaction.
func isAlreadyKnown(err error) bool {
	for _, s := range alreadyKnownErrs {
		if matchErrStr(err, s) {
			return true
		}
	}
	return false
}

// mapRPCErr classifies an error returned by the node. Errors the node
// answered with become ErrRejectedByNetwork, everything else, including
// connection failures and a node still warming up, becomes ErrUnavailable.
func mapRPCErr(err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code != rpcInWarmup {
		return fmt.Errorf("%w: %v", ErrRejectedByNetwork, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
