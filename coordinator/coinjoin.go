// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/build"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
)

// coinJoinVersion is the version of the coinjoin transaction.
const coinJoinVersion = 2

// errNoOutputs is returned when a coinjoin would have no covert outputs.
var errNoOutputs = errors.New("coinjoin has no outputs")

// changeAmount is what an Alice gets back after paying for its covert
// output, the coordinator and the mining fees.
func changeAmount(cfg *RoundConfig, a *Alice) btcutil.Amount {
	return a.InputSum() - cfg.RequiredAmount(len(a.Inputs))
}

// buildCoinJoin assembles the unsigned coinjoin from the registered Alices
// and outputs. Inputs and outputs are in BIP 69 order and every PSBT input
// carries its witness UTXO. It also returns the owner of every input. The
// caller must hold the write lock.
func (r *Round) buildCoinJoin() (*psbt.Packet, []uuid.UUID,
	*txscript.MultiPrevOutFetcher, error) {

	if len(r.outputs) == 0 {
		return nil, nil, nil, errNoOutputs
	}

	tx := wire.NewMsgTx(coinJoinVersion)
	prevOuts := txscript.NewMultiPrevOutFetcher(
		make(map[wire.OutPoint]*wire.TxOut),
	)

	var coordFee btcutil.Amount
	for _, a := range r.sortedAlices() {
		for _, in := range a.Inputs {
			op := in.OutPoint
			tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
			prevOuts.AddPrevOut(op, wire.NewTxOut(
				int64(in.Value), in.PkScript,
			))
		}

		change := changeAmount(&r.cfg, a)
		if !txrules.IsDustAmount(change, len(a.ChangeScript),
			r.relayFee) {

			tx.AddTxOut(wire.NewTxOut(int64(change), a.ChangeScript))
		}

		coordFee += r.cfg.CoordinatorFee()
	}

	scripts := make([]string, 0, len(r.outputs))
	for script := range r.outputs {
		scripts = append(scripts, script)
	}
	sort.Strings(scripts)
	for _, script := range scripts {
		tx.AddTxOut(wire.NewTxOut(
			int64(r.cfg.Denomination), []byte(script),
		))
	}

	if len(r.coordScript) > 0 && !txrules.IsDustAmount(coordFee,
		len(r.coordScript), r.relayFee) {

		tx.AddTxOut(wire.NewTxOut(int64(coordFee), r.coordScript))
	}

	txsort.InPlaceSort(tx)

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, nil, nil, err
	}

	owners := make([]uuid.UUID, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		a, ok := r.inputOwner(txIn.PreviousOutPoint)
		if !ok {
			return nil, nil, nil, errors.New("input without owner")
		}
		owners[i] = a.UniqueID

		packet.Inputs[i].WitnessUtxo = prevOuts.FetchPrevOutput(
			txIn.PreviousOutPoint,
		)
		packet.Inputs[i].SighashType = txscript.SigHashAll
	}

	log.Debugf("Round %d: built coinjoin %v with %d inputs and %d "+
		"outputs", r.id, tx.TxHash(), len(tx.TxIn), len(tx.TxOut))
	log.Tracef("Round %d: coinjoin %v", r.id,
		build.NewLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	return packet, owners, prevOuts, nil
}
