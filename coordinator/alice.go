// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"bytes"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

// Input is a registered coin together with its ownership proof.
type Input struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
	Proof    []byte
}

// Alice is a participant's input side registration. Only the Alice knows
// its UniqueID; it is never sent along with an output.
type Alice struct {
	UniqueID      uuid.UUID
	Inputs        []*Input
	ChangeScript  []byte
	BlindedOutput []byte

	// BlindSignature is nil for an Alice carried over from a failed
	// round until it blinds its output under the new round key.
	BlindSignature []byte

	ConnectionConfirmed bool
	RegisteredAt        time.Time
	LastSeen            time.Time

	// CarriedFrom is the failed round this Alice was copied from, zero
	// if it registered directly.
	CarriedFrom uint64
}

// InputSum is the total value of the Alice's inputs.
func (a *Alice) InputSum() btcutil.Amount {
	var sum btcutil.Amount
	for _, in := range a.Inputs {
		sum += in.Value
	}
	return sum
}

// OutPoints returns the outpoints of the Alice's inputs.
func (a *Alice) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(a.Inputs))
	for _, in := range a.Inputs {
		ops = append(ops, in.OutPoint)
	}
	return ops
}

// sameRegistration reports whether draft names exactly the inputs and
// change script of the Alice.
func (a *Alice) sameRegistration(draft *Alice) bool {
	if len(a.Inputs) != len(draft.Inputs) ||
		!bytes.Equal(a.ChangeScript, draft.ChangeScript) {

		return false
	}

	ops := make(map[wire.OutPoint]struct{}, len(a.Inputs))
	for _, in := range a.Inputs {
		ops[in.OutPoint] = struct{}{}
	}
	for _, in := range draft.Inputs {
		if _, ok := ops[in.OutPoint]; !ok {
			return false
		}
	}

	return true
}

// carryOver returns the copy of the Alice a successor round receives. The
// blinded output and signature belong to the old round key and are
// dropped.
func (a *Alice) carryOver(roundID uint64, now time.Time) *Alice {
	inputs := make([]*Input, len(a.Inputs))
	for i, in := range a.Inputs {
		c := *in
		inputs[i] = &c
	}

	return &Alice{
		UniqueID:     a.UniqueID,
		Inputs:       inputs,
		ChangeScript: append([]byte(nil), a.ChangeScript...),
		RegisteredAt: now,
		LastSeen:     now,
		CarriedFrom:  roundID,
	}
}
