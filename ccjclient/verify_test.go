// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/stretchr/testify/require"
)

// TestSignCoinJoin checks the agent signs only a coinjoin that pays it.
func TestSignCoinJoin(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	otherKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	terms := testRoundConfig()
	coin := &Coin{
		OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("ours"))},
		Value:    1_100_000,
		PkScript: p2wpkhScript(t, key),
	}
	other := &Coin{
		OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("theirs"))},
		Value:    1_200_000,
		PkScript: p2wpkhScript(t, otherKey),
	}

	activeScript := append([]byte{txscript.OP_0, 20},
		bytes.Repeat([]byte{1}, 20)...)
	changeScript := append([]byte{txscript.OP_0, 20},
		bytes.Repeat([]byte{2}, 20)...)

	newGroup := func() *group {
		signKey, _ := btcec.PrivKeyFromBytes(key.Serialize())
		return &group{
			coins:        []*Coin{coin},
			keys:         []*btcec.PrivateKey{signKey},
			activeScript: activeScript,
			changeScript: changeScript,
			terms:        terms,
		}
	}

	// build returns a coinjoin of our coin and another one paying our
	// output and change. Change is 95,000 satoshis.
	build := func(modTx func(*wire.MsgTx),
		modPacket func(*psbt.Packet)) []byte {

		tx := wire.NewMsgTx(2)
		tx.AddTxIn(wire.NewTxIn(&other.OutPoint, nil, nil))
		tx.AddTxIn(wire.NewTxIn(&coin.OutPoint, nil, nil))
		tx.AddTxOut(wire.NewTxOut(int64(terms.Denomination), activeScript))
		tx.AddTxOut(wire.NewTxOut(95_000, changeScript))
		tx.AddTxOut(wire.NewTxOut(
			int64(terms.Denomination), other.PkScript,
		))
		if modTx != nil {
			modTx(tx)
		}

		packet, err := psbt.NewFromUnsignedTx(tx)
		require.NoError(t, err)
		for i, txIn := range tx.TxIn {
			c := other
			if txIn.PreviousOutPoint == coin.OutPoint {
				c = coin
			}
			packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
				int64(c.Value), c.PkScript,
			)
		}
		if modPacket != nil {
			modPacket(packet)
		}

		var buf bytes.Buffer
		require.NoError(t, packet.Serialize(&buf))

		return buf.Bytes()
	}

	tests := []struct {
		name      string
		modTx     func(*wire.MsgTx)
		modPacket func(*psbt.Packet)
		valid     bool
	}{
		{
			name:  "valid",
			valid: true,
		},
		{
			name: "missing output",
			modTx: func(tx *wire.MsgTx) {
				tx.TxOut = tx.TxOut[1:]
			},
		},
		{
			name: "short output",
			modTx: func(tx *wire.MsgTx) {
				tx.TxOut[0].Value--
			},
		},
		{
			name: "duplicate output",
			modTx: func(tx *wire.MsgTx) {
				tx.AddTxOut(wire.NewTxOut(
					int64(terms.Denomination), activeScript,
				))
			},
		},
		{
			name: "missing change",
			modTx: func(tx *wire.MsgTx) {
				tx.TxOut = append(tx.TxOut[:1], tx.TxOut[2:]...)
			},
		},
		{
			name: "short change",
			modTx: func(tx *wire.MsgTx) {
				tx.TxOut[1].Value--
			},
		},
		{
			name: "missing input",
			modTx: func(tx *wire.MsgTx) {
				tx.TxIn = tx.TxIn[:1]
			},
		},
		{
			name: "wrong witness utxo",
			modPacket: func(p *psbt.Packet) {
				p.Inputs[1].WitnessUtxo.Value++
			},
		},
		{
			name: "no witness utxo",
			modPacket: func(p *psbt.Packet) {
				p.Inputs[0].WitnessUtxo = nil
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := newGroup()
			raw := build(tc.modTx, tc.modPacket)
			witnesses, err := signCoinJoin(
				g, raw, txrules.DefaultRelayFeePerKb,
			)
			if !tc.valid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, witnesses, 1)

			packet, err := psbt.NewFromRawBytes(
				bytes.NewReader(raw), false,
			)
			require.NoError(t, err)
			tx := packet.UnsignedTx

			prevOuts := txscript.NewMultiPrevOutFetcher(
				make(map[wire.OutPoint]*wire.TxOut),
			)
			for i, txIn := range tx.TxIn {
				prevOuts.AddPrevOut(
					txIn.PreviousOutPoint,
					packet.Inputs[i].WitnessUtxo,
				)
			}

			witness, ok := witnesses[1]
			require.True(t, ok)
			tx.TxIn[1].Witness = witness

			vm, err := txscript.NewEngine(
				coin.PkScript, tx, 1, txscript.StandardVerifyFlags,
				nil, txscript.NewTxSigHashes(tx, prevOuts),
				int64(coin.Value), prevOuts,
			)
			require.NoError(t, err)
			require.NoError(t, vm.Execute())
		})
	}
}

// TestCheckOutputsDustChange checks dust change may be left out.
func TestCheckOutputsDustChange(t *testing.T) {
	t.Parallel()

	activeScript := append([]byte{txscript.OP_0, 20},
		bytes.Repeat([]byte{1}, 20)...)
	g := &group{
		coins:        []*Coin{{Value: 1_005_100}},
		terms:        testRoundConfig(),
		activeScript: activeScript,
		changeScript: append([]byte{txscript.OP_0, 20},
			bytes.Repeat([]byte{2}, 20)...),
	}
	require.Equal(t, btcutil.Amount(100), g.change())

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(int64(g.terms.Denomination), activeScript))

	require.NoError(t, checkOutputs(g, tx, txrules.DefaultRelayFeePerKb))

	g.coins[0].Value = 1_100_000
	require.ErrorIs(t,
		checkOutputs(g, tx, txrules.DefaultRelayFeePerKb),
		errMissingChange,
	)
}
