// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		level string
		err   bool
	}{
		{level: "debug"},
		{level: "CORD=trace,PRSN=warn"},
		{level: "loud", err: true},
		{level: "CORD", err: true},
		{level: "NOPE=info", err: true},
		{level: "CORD=loud", err: true},
	}

	for _, tc := range tests {
		err := parseAndSetDebugLevels(tc.level)
		if tc.err {
			require.Error(t, err, tc.level)
			continue
		}
		require.NoError(t, err, tc.level)
	}

	require.Equal(t, btclog.LevelTrace, cordLog.Level())
	require.Equal(t, btclog.LevelWarn, prsnLog.Level())
	require.Equal(t, btclog.LevelDebug, crpcLog.Level())
}

func testConfig() *config {
	rc := coordinator.DefaultRoundConfig()
	return &config{
		Denomination:          cfgutil.NewAmountFlag(rc.Denomination),
		AnonymitySet:          rc.AnonymitySet,
		CoordinatorFeePercent: rc.CoordinatorFeePercent,
		FeePerInput:           cfgutil.NewAmountFlag(rc.FeePerInput),
		FeePerOutput:          cfgutil.NewAmountFlag(rc.FeePerOutput),
		MaxInputsPerPeer:      rc.MaxInputsPerPeer,
		ConfirmationTimeout:   rc.ConnectionConfirmationTimeout,
		OutputTimeout:         rc.OutputRegistrationTimeout,
		SigningTimeout:        rc.SigningTimeout,
		ConfirmationTarget:    rc.ConfirmationTargetBlocks,
		MinConfirmations:      rc.MinConfirmations,
		BlindingKeyBits:       rc.BlindingKeyBits,
		BanSeverity:           rc.BanSeverity,
		BanDurationHours:      rc.BanDurationHours,
	}
}

func TestRoundConfig(t *testing.T) {
	t.Parallel()

	net := &netparams.RegressionNetParams

	cfg := testConfig()
	rc, script, err := cfg.roundConfig(net)
	require.NoError(t, err)
	require.Nil(t, script)
	require.Equal(t, coordinator.DefaultRoundConfig(), rc)

	cfg.StrictBans = true
	rc, _, err = cfg.roundConfig(net)
	require.NoError(t, err)
	require.False(t, rc.NoteBeforeBan)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	cfg.CoordinatorAddress = addr.EncodeAddress()
	_, script, err = cfg.roundConfig(net)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToWitnessPubKeyHash(script))

	// Legacy and foreign addresses are refused.
	pkh, err := btcutil.NewAddressPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	cfg.CoordinatorAddress = pkh.EncodeAddress()
	_, _, err = cfg.roundConfig(net)
	require.Error(t, err)

	mainAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	cfg.CoordinatorAddress = mainAddr.EncodeAddress()
	_, _, err = cfg.roundConfig(net)
	require.Error(t, err)

	cfg = testConfig()
	cfg.AnonymitySet = 1
	_, _, err = cfg.roundConfig(net)
	require.Error(t, err)
}
