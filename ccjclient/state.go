// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coordinator"
)

// GroupState is where a group of queued coins stands.
type GroupState uint8

const (
	// Unregistered groups wait for an input registration round.
	Unregistered GroupState = iota

	// Registering groups have a registration request in flight.
	Registering

	// Confirming groups are registered and send heartbeats until their
	// round reaches output registration.
	Confirming

	// AwaitingOutputPhase groups hold an unblinded signature and register
	// their covert output.
	AwaitingOutputPhase

	// Signing groups verify and sign the coinjoin, then wait for the
	// round to end.
	Signing

	// Done is terminal: the coinjoin spending the group was broadcast.
	Done

	// Dequeued is terminal: the coins were released without mixing.
	Dequeued

	// Banned groups wait for the coordinator's ban on one of their coins
	// to expire.
	Banned
)

var groupStateStrings = map[GroupState]string{
	Unregistered:        "Unregistered",
	Registering:         "Registering",
	Confirming:          "Confirming",
	AwaitingOutputPhase: "AwaitingOutputPhase",
	Signing:             "Signing",
	Done:                "Done",
	Dequeued:            "Dequeued",
	Banned:              "Banned",
}

func (s GroupState) String() string {
	if str, ok := groupStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("GroupState(%d)", uint8(s))
}

// IsTerminal reports whether the group is finished.
func (s GroupState) IsTerminal() bool {
	return s == Done || s == Dequeued
}

// GroupStatus is a snapshot of a queued group.
type GroupStatus struct {
	ID      uint64
	Coins   []wire.OutPoint
	State   GroupState
	RoundID uint64

	// Phase is the last phase the coordinator reported for the round.
	Phase coordinator.Phase

	// TxID is set once the group's coinjoin was broadcast.
	TxID *chainhash.Hash

	// Err is the reason a group was dequeued by the agent.
	Err error
}
