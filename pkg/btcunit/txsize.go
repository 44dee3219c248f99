// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides transaction size and fee rate units.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// WeightUnit expresses a transaction size in weight units: the base size
// times three plus the total serialized size, as defined by BIP141.
type WeightUnit struct {
	val uint64
}

// NewWeightUnit creates a new WeightUnit from a uint64.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{val: val}
}

// ToVB converts a value expressed in weight units to virtual bytes, rounding
// up to the next integer.
func (wu WeightUnit) ToVB() VByte {
	return VByte{
		val: (wu.val + blockchain.WitnessScaleFactor - 1) /
			blockchain.WitnessScaleFactor,
	}
}

// Add returns the sum of two weights.
func (wu WeightUnit) Add(other WeightUnit) WeightUnit {
	return WeightUnit{val: wu.val + other.val}
}

// String returns the string representation of the weight unit.
func (wu WeightUnit) String() string {
	return fmt.Sprintf("%d wu", wu.val)
}

// VByte expresses a transaction size in virtual bytes, a quarter of a weight
// unit.
type VByte struct {
	val uint64
}

// NewVByte creates a new VByte from a uint64.
func NewVByte(val uint64) VByte {
	return VByte{val: val}
}

// ToWU converts a value expressed in virtual bytes to weight units.
func (vb VByte) ToWU() WeightUnit {
	return WeightUnit{val: vb.val * blockchain.WitnessScaleFactor}
}

// String returns the string representation of the virtual byte.
func (vb VByte) String() string {
	return fmt.Sprintf("%d vb", vb.val)
}
