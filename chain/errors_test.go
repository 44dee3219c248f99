// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/stretchr/testify/require"
)

// TestMatchErrStr checks that `matchErrStr` can correctly replace the dashes
// with spaces and turn title cases into lowercases for a given error and match
// it against the specified string pattern.
func TestMatchErrStr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		matchStr string
		matched  bool
	}{
		{
			name:     "error without dashes",
			err:      errors.New("txn already in mempool"),
			matchStr: "txn already in mempool",
			matched:  true,
		},
		{
			name:     "error with dashes",
			err:      errors.New("txn-already-in-mempool"),
			matchStr: "txn already in mempool",
			matched:  true,
		},
		{
			name:     "match str with dashes",
			err:      errors.New("txn already in mempool"),
			matchStr: "txn-already-in-mempool",
			matched:  true,
		},
		{
			name:     "title case",
			err:      errors.New("Transaction Already In Block Chain"),
			matchStr: "transaction already in block chain",
			matched:  true,
		},
		{
			name:     "unmatched error",
			err:      errors.New("missing inputs"),
			matchStr: "txn already known",
			matched:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			matched := matchErrStr(tc.err, tc.matchStr)
			require.Equal(t, tc.matched, matched)
		})
	}
}

// TestMapRPCErr checks the split between errors the node answered with and
// transport failures.
func TestMapRPCErr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name: "policy rejection",
			err: &btcjson.RPCError{
				Code:    btcjson.ErrRPCMisc,
				Message: "min relay fee not met",
			},
			expected: ErrRejectedByNetwork,
		},
		{
			name: "warming up",
			err: &btcjson.RPCError{
				Code:    rpcInWarmup,
				Message: "Loading block index...",
			},
			expected: ErrUnavailable,
		},
		{
			name:     "client shut down",
			err:      rpcclient.ErrClientShutdown,
			expected: ErrUnavailable,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp: connection refused"),
			expected: ErrUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, mapRPCErr(tc.err), tc.expected)
		})
	}
}
