// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestRoundConfigValidate checks the configuration bounds.
func TestRoundConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(c *RoundConfig)
		valid  bool
	}{{
		name:   "default",
		modify: func(c *RoundConfig) {},
		valid:  true,
	}, {
		name:   "zero denomination",
		modify: func(c *RoundConfig) { c.Denomination = 0 },
	}, {
		name:   "anonymity set of one",
		modify: func(c *RoundConfig) { c.AnonymitySet = 1 },
	}, {
		name:   "negative fee percent",
		modify: func(c *RoundConfig) { c.CoordinatorFeePercent = -1 },
	}, {
		name:   "negative input fee",
		modify: func(c *RoundConfig) { c.FeePerInput = -1 },
	}, {
		name:   "no inputs per peer",
		modify: func(c *RoundConfig) { c.MaxInputsPerPeer = 0 },
	}, {
		name:   "zero signing timeout",
		modify: func(c *RoundConfig) { c.SigningTimeout = 0 },
	}, {
		name:   "zero ban severity",
		modify: func(c *RoundConfig) { c.BanSeverity = 0 },
	}, {
		name:   "small key",
		modify: func(c *RoundConfig) { c.BlindingKeyBits = 512 },
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultRoundConfig()
			tc.modify(&cfg)

			err := cfg.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

// TestRequiredAmount checks the amount an Alice has to bring.
func TestRequiredAmount(t *testing.T) {
	t.Parallel()

	cfg := testRoundConfig()
	require.Equal(t, btcutil.Amount(3000), cfg.CoordinatorFee())
	require.Equal(t, btcutil.Amount(1_005_000), cfg.RequiredAmount(1))
	require.Equal(t, btcutil.Amount(1_007_000), cfg.RequiredAmount(3))
	require.Equal(t, time.Hour, cfg.BanDuration())
}

// TestFeesAt checks the per input and per output fees derived from a rate.
func TestFeesAt(t *testing.T) {
	t.Parallel()

	require.Equal(t, btcutil.Amount(680), FeePerInputAt(DefaultFeeRate()))
	require.Equal(t, btcutil.Amount(310), FeePerOutputAt(DefaultFeeRate()))

	rate, err := btcunit.ParseSatPerVByte("1.5")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(102), FeePerInputAt(rate))
	require.Equal(t, btcutil.Amount(47), FeePerOutputAt(rate))
}
