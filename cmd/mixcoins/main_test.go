// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/ccjclient"
	"github.com/stretchr/testify/require"
)

const testTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func TestParseOutPoint(t *testing.T) {
	t.Parallel()

	hash, err := chainhash.NewHashFromStr(testTxID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      string
		want    wire.OutPoint
		wantErr bool
	}{
		{
			name: "valid",
			in:   testTxID + ":3",
			want: wire.OutPoint{Hash: *hash, Index: 3},
		},
		{
			name:    "missing index",
			in:      testTxID,
			wantErr: true,
		},
		{
			name:    "bad hash",
			in:      "xyz:0",
			wantErr: true,
		},
		{
			name:    "negative index",
			in:      testTxID + ":-1",
			wantErr: true,
		},
		{
			name:    "index overflow",
			in:      testTxID + ":4294967296",
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			op, err := parseOutPoint(test.in)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, op)
		})
	}
}

func TestFinished(t *testing.T) {
	t.Parallel()

	require.NoError(t, finished([]ccjclient.GroupStatus{
		{State: ccjclient.Done}, {State: ccjclient.Done},
	}))
	require.Error(t, finished([]ccjclient.GroupStatus{
		{State: ccjclient.Done}, {State: ccjclient.Dequeued},
	}))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	txid := chainhash.HashH([]byte("coinjoin"))

	require.Equal(t, "Unregistered", describe(ccjclient.GroupStatus{}))
	require.Contains(t, describe(ccjclient.GroupStatus{
		State:   ccjclient.Done,
		RoundID: 7,
		TxID:    &txid,
	}), txid.String())
	require.Contains(t, describe(ccjclient.GroupStatus{
		State:   ccjclient.Dequeued,
		RoundID: 7,
		Err:     errors.New("insufficient funds"),
	}), "insufficient funds")
}
