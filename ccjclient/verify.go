// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

var (
	// errMissingOutput is returned when the coinjoin does not pay the
	// group's mixed output.
	errMissingOutput = errors.New("coinjoin does not pay the mixed output")

	// errMissingChange is returned when the coinjoin drops change that is
	// not dust.
	errMissingChange = errors.New("coinjoin does not pay the change")
)

// signCoinJoin checks the unsigned coinjoin raw pays the group what it is
// owed and returns the witnesses of the group's inputs.
func signCoinJoin(g *group, raw []byte,
	relayFee btcutil.Amount) (map[int]wire.TxWitness, error) {

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("invalid coinjoin: %w", err)
	}
	tx := packet.UnsignedTx

	if err := checkOutputs(g, tx, relayFee); err != nil {
		return nil, err
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(
		make(map[wire.OutPoint]*wire.TxOut),
	)
	for i, txIn := range tx.TxIn {
		utxo := packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return nil, fmt.Errorf("input %d has no witness utxo", i)
		}
		prevOuts.AddPrevOut(txIn.PreviousOutPoint, utxo)
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	owned := make(map[wire.OutPoint]int, len(g.coins))
	for i, c := range g.coins {
		owned[c.OutPoint] = i
	}

	witnesses := make(map[int]wire.TxWitness, len(g.coins))
	for i, txIn := range tx.TxIn {
		idx, ok := owned[txIn.PreviousOutPoint]
		if !ok {
			continue
		}
		if _, dup := witnesses[i]; dup {
			return nil, fmt.Errorf("input %v spent twice",
				txIn.PreviousOutPoint)
		}
		c := g.coins[idx]

		utxo := packet.Inputs[i].WitnessUtxo
		if utxo.Value != int64(c.Value) ||
			!bytes.Equal(utxo.PkScript, c.PkScript) {

			return nil, fmt.Errorf("input %v has a wrong witness utxo",
				c.OutPoint)
		}

		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, int64(c.Value), c.PkScript,
			txscript.SigHashAll, g.keys[idx], true,
		)
		if err != nil {
			return nil, err
		}
		witnesses[i] = witness
	}

	if len(witnesses) != len(g.coins) {
		return nil, fmt.Errorf("coinjoin spends %d of %d coins",
			len(witnesses), len(g.coins))
	}

	return witnesses, nil
}

// checkOutputs verifies the mixed output and the change.
func checkOutputs(g *group, tx *wire.MsgTx, relayFee btcutil.Amount) error {
	change := g.change()

	var haveOutput, haveChange bool
	for _, out := range tx.TxOut {
		switch {
		case bytes.Equal(out.PkScript, g.activeScript):
			if haveOutput ||
				btcutil.Amount(out.Value) != g.terms.Denomination {

				return fmt.Errorf("mixed output pays %v, want %v",
					btcutil.Amount(out.Value),
					g.terms.Denomination)
			}
			haveOutput = true

		case bytes.Equal(out.PkScript, g.changeScript):
			if haveChange || btcutil.Amount(out.Value) != change {
				return fmt.Errorf("change pays %v, want %v",
					btcutil.Amount(out.Value), change)
			}
			haveChange = true
		}
	}

	if !haveOutput {
		return errMissingOutput
	}
	if !haveChange &&
		!txrules.IsDustAmount(change, len(g.changeScript), relayFee) {

		return errMissingChange
	}

	return nil
}
