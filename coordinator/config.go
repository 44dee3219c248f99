// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/pkg/btcunit"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// defaultSatPerVByte is the mining fee rate of DefaultFeeRate.
	defaultSatPerVByte = 10

	// DefaultDenomination is the default covert output value.
	DefaultDenomination = btcutil.Amount(10_000_000)

	// DefaultAnonymitySet is the default number of Alices per round.
	DefaultAnonymitySet = 10

	// DefaultMaxInputsPerPeer bounds the inputs a single Alice brings.
	DefaultMaxInputsPerPeer = 7

	// CoinbaseMaturity is the number of confirmations a coinbase output
	// needs before it can be spent.
	CoinbaseMaturity = 100
)

var (
	// p2wpkhInputWeight is the weight of a P2WPKH input including its
	// witness.
	p2wpkhInputWeight = btcunit.NewVByte(
		txsizes.RedeemP2WPKHInputSize,
	).ToWU().Add(btcunit.NewWeightUnit(
		txsizes.RedeemP2WPKHInputWitnessWeight,
	))

	// p2wpkhOutputVSize is the virtual size of a P2WPKH output.
	p2wpkhOutputVSize = btcunit.NewVByte(txsizes.P2WPKHOutputSize)
)

// DefaultFeeRate returns the fee rate the default per input and per output
// fees are derived from.
func DefaultFeeRate() btcunit.SatPerVByte {
	return btcunit.NewSatPerVByte(defaultSatPerVByte, btcunit.NewVByte(1))
}

// FeePerInputAt is the mining fee of a P2WPKH input at rate.
func FeePerInputAt(rate btcunit.SatPerVByte) btcutil.Amount {
	return rate.FeeForWeight(p2wpkhInputWeight)
}

// FeePerOutputAt is the mining fee of a P2WPKH output at rate.
func FeePerOutputAt(rate btcunit.SatPerVByte) btcutil.Amount {
	return rate.FeeForVSize(p2wpkhOutputVSize)
}

// RoundConfig holds the parameters of a round. A round takes a copy when it
// is created and never sees later changes.
type RoundConfig struct {
	// Denomination is the value of every covert output.
	Denomination btcutil.Amount

	// AnonymitySet is the number of Alices a round needs.
	AnonymitySet uint32

	// CoordinatorFeePercent is charged on the denomination per Alice.
	CoordinatorFeePercent float64

	// FeePerInput and FeePerOutput are the mining fees an Alice pays for
	// each of its inputs and for each of its two outputs.
	FeePerInput  btcutil.Amount
	FeePerOutput btcutil.Amount

	// MaxInputsPerPeer bounds the inputs of a single Alice.
	MaxInputsPerPeer uint32

	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	SigningTimeout                time.Duration

	// ConfirmationTargetBlocks is the block target the per input and
	// output fees are estimated for. It is published to clients only.
	ConfirmationTargetBlocks uint32

	// MinConfirmations is required of inputs that are not outputs of a
	// coinjoin this coordinator broadcast.
	MinConfirmations uint32

	// BanSeverity is the severity of a timeout offense.
	BanSeverity uint32

	// BanDurationHours is the length of a severity one ban.
	BanDurationHours float64

	// NoteBeforeBan makes timeout offenses noted first.
	NoteBeforeBan bool

	// BlindingKeyBits is the RSA modulus size of round keys.
	BlindingKeyBits int
}

// DefaultRoundConfig returns a configuration suitable for mainnet.
func DefaultRoundConfig() RoundConfig {
	return RoundConfig{
		Denomination:                  DefaultDenomination,
		AnonymitySet:                  DefaultAnonymitySet,
		CoordinatorFeePercent:         0.003,
		FeePerInput:                   FeePerInputAt(DefaultFeeRate()),
		FeePerOutput:                  FeePerOutputAt(DefaultFeeRate()),
		MaxInputsPerPeer:              DefaultMaxInputsPerPeer,
		ConnectionConfirmationTimeout: time.Minute,
		OutputRegistrationTimeout:     time.Minute,
		SigningTimeout:                time.Minute,
		ConfirmationTargetBlocks:      144,
		MinConfirmations:              1,
		BanSeverity:                   1,
		BanDurationHours:              24,
		NoteBeforeBan:                 true,
		BlindingKeyBits:               blindsig.DefaultKeyBits,
	}
}

// Validate checks the configuration for values no round can run with.
func (c *RoundConfig) Validate() error {
	switch {
	case c.Denomination <= 0:
		return errors.New("denomination must be positive")

	case c.AnonymitySet < 2:
		return fmt.Errorf("anonymity set of %d is below 2",
			c.AnonymitySet)

	case c.CoordinatorFeePercent < 0 || c.CoordinatorFeePercent >= 100:
		return fmt.Errorf("coordinator fee of %v%% out of range",
			c.CoordinatorFeePercent)

	case c.FeePerInput < 0 || c.FeePerOutput < 0:
		return errors.New("fees must not be negative")

	case c.MaxInputsPerPeer == 0:
		return errors.New("max inputs per peer must be positive")

	case c.ConnectionConfirmationTimeout <= 0,
		c.OutputRegistrationTimeout <= 0, c.SigningTimeout <= 0:

		return errors.New("phase timeouts must be positive")

	case c.BanSeverity == 0:
		return errors.New("ban severity must be positive")

	case c.BanDurationHours <= 0:
		return errors.New("ban duration must be positive")

	case c.BlindingKeyBits < 1024:
		return fmt.Errorf("blinding key of %d bits too small",
			c.BlindingKeyBits)
	}

	return nil
}

// CoordinatorFee is the fee an Alice pays the coordinator.
func (c *RoundConfig) CoordinatorFee() btcutil.Amount {
	return btcutil.Amount(
		float64(c.Denomination) * c.CoordinatorFeePercent / 100,
	)
}

// RequiredAmount is the least an Alice registering numInputs inputs must
// bring.
func (c *RoundConfig) RequiredAmount(numInputs int) btcutil.Amount {
	return c.Denomination + c.CoordinatorFee() +
		c.FeePerInput*btcutil.Amount(numInputs) + 2*c.FeePerOutput
}

// BanDuration is the length of a severity one ban.
func (c *RoundConfig) BanDuration() time.Duration {
	return time.Duration(c.BanDurationHours * float64(time.Hour))
}
