// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain answers the coordinator's questions about the UTXO set and
// publishes finished coinjoins through a full node's JSON-RPC interface.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// UnspentOutput describes an output of the current UTXO set.
type UnspentOutput struct {
	OutPoint      wire.OutPoint
	Value         btcutil.Amount
	PkScript      []byte
	Confirmations uint32
	Coinbase      bool
}

// rpcClient is the subset of rpcclient.Client the oracle needs.
type rpcClient interface {
	GetTxOut(txHash *chainhash.Hash, index uint32,
		mempool bool) (*btcjson.GetTxOutResult, error)

	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)

	Shutdown()
}

// A compile time check to ensure rpcclient.Client satisfies rpcClient.
var _ rpcClient = (*rpcclient.Client)(nil)

// RPCOracle implements the coordinator's chain oracle on top of a btcd or
// bitcoind JSON-RPC connection.
type RPCOracle struct {
	client rpcClient
}

// NewRPCOracle connects to the node described by cfg. The connection is
// made in HTTP POST mode, so no notifications are set up.
func NewRPCOracle(cfg *rpcclient.ConnConfig) (*RPCOracle, error) {
	connCfg := *cfg
	connCfg.HTTPPostMode = true

	client, err := rpcclient.New(&connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create rpc client: %w", err)
	}

	log.Infof("Using chain backend at %v", connCfg.Host)

	return newRPCOracle(client), nil
}

func newRPCOracle(client rpcClient) *RPCOracle {
	return &RPCOracle{client: client}
}

// UnspentOutput returns op if it is part of the UTXO set, including the
// mempool. A spent or unknown output yields nil without an error. Node
// failures wrap ErrUnavailable.
func (o *RPCOracle) UnspentOutput(ctx context.Context,
	op wire.OutPoint) (*UnspentOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := o.client.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, mapRPCErr(err)
	}
	if res == nil {
		return nil, nil
	}

	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("invalid script for %v: %w", op, err)
	}

	value, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %v: %w", op, err)
	}

	var confs uint32
	if res.Confirmations > 0 {
		confs = uint32(res.Confirmations)
	}

	return &UnspentOutput{
		OutPoint:      op,
		Value:         value,
		PkScript:      pkScript,
		Confirmations: confs,
		Coinbase:      res.Coinbase,
	}, nil
}

// BroadcastTransaction publishes tx. A node that already knows the
// transaction counts as success. Refusals wrap ErrRejectedByNetwork and
// node failures wrap ErrUnavailable.
func (o *RPCOracle) BroadcastTransaction(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txid := tx.TxHash()

	_, err := o.client.SendRawTransaction(tx, false)
	switch {
	case err == nil:
		log.Infof("Broadcast transaction %v", txid)

	case isAlreadyKnown(err):
		log.Debugf("Transaction %v already known to node: %v",
			txid, err)

	default:
		err = mapRPCErr(err)
		log.Warnf("Broadcast of %v failed: %v", txid, err)

		return nil, err
	}

	return &txid, nil
}

// Stop closes the node connection.
func (o *RPCOracle) Stop() {
	o.client.Shutdown()
}
