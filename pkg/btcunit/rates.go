// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// SatsPerKilo is the number of satoshis in a kilo-satoshi.
	SatsPerKilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string.
	floatStringPrecision = 2
)

// SatPerVByte represents a fee rate in sat/vbyte. The fee rate is encoded
// as a big.Rat to allow for fractional (sub-satoshi) fee rates.
type SatPerVByte struct {
	*big.Rat
}

// NewSatPerVByte creates a new fee rate in sat/vb paying fee for vb.
func NewSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.val == 0 {
		return SatPerVByte{big.NewRat(0, 1)}
	}

	return SatPerVByte{big.NewRat(int64(fee), capInt64(vb.val))}
}

// ParseSatPerVByte parses a decimal fee rate such as "2.5" in sat/vb.
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return SatPerVByte{}, fmt.Errorf("invalid fee rate %q", s)
	}
	if r.Sign() < 0 {
		return SatPerVByte{}, fmt.Errorf("negative fee rate %q", s)
	}

	return SatPerVByte{r}, nil
}

// FeeForVSize is the fee at this rate for vb, rounded up to the next satoshi.
func (s SatPerVByte) FeeForVSize(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(s.Rat, big.NewRat(capInt64(vb.val), 1))
	return ceilAmount(fee)
}

// FeeForWeight is the fee at this rate for wu, rounded up to the next
// satoshi. The weight is not rounded to virtual bytes first.
func (s SatPerVByte) FeeForWeight(wu WeightUnit) btcutil.Amount {
	fee := new(big.Rat).Mul(
		s.Rat,
		big.NewRat(capInt64(wu.val), blockchain.WitnessScaleFactor),
	)
	return ceilAmount(fee)
}

// FeePerKVByte converts the current fee rate from sat/vb to sat/kvb.
func (s SatPerVByte) FeePerKVByte() SatPerKVByte {
	kvbRate := new(big.Rat).Mul(s.Rat, big.NewRat(SatsPerKilo, 1))
	return SatPerKVByte{kvbRate}
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.Cmp(other.Rat) == 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.Cmp(other.Rat) < 0
}

// SatPerKVByte represents a fee rate in sat/kvb, the unit btcd's relay fee
// is given in.
type SatPerKVByte struct {
	*big.Rat
}

// NewSatPerKVByte wraps an amount per kilo virtual byte such as
// txrules.DefaultRelayFeePerKb.
func NewSatPerKVByte(feePerKb btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{big.NewRat(int64(feePerKb), 1)}
}

// FeePerVByte converts the current fee rate from sat/kvb to sat/vb.
func (s SatPerKVByte) FeePerVByte() SatPerVByte {
	vbRate := new(big.Rat).Mul(s.Rat, big.NewRat(1, SatsPerKilo))
	return SatPerVByte{vbRate}
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.FloatString(floatStringPrecision) + " sat/kvb"
}

// ceilAmount rounds a non-negative big.Rat up to a btcutil.Amount.
func ceilAmount(r *big.Rat) btcutil.Amount {
	num := new(big.Int).Set(r.Num())
	den := r.Denom()
	num.Add(num, den)
	num.Sub(num, big.NewInt(1))
	num.Div(num, den)

	if !num.IsInt64() {
		return btcutil.Amount(math.MaxInt64)
	}
	return btcutil.Amount(num.Int64())
}

// capInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func capInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}
