// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrValidation indicates a malformed or invalid request.
	ErrValidation ErrorCode = iota

	// ErrConflict indicates the request collides with an existing
	// registration.
	ErrConflict

	// ErrBannedInput indicates an input is in the prison. The Err field
	// holds a *BannedInput.
	ErrBannedInput

	// ErrInsufficientFunds indicates the inputs do not cover the
	// denomination and fees. The Err field holds an *InsufficientFunds.
	ErrInsufficientFunds

	// ErrRoundNotRunning indicates the round is gone or no longer in the
	// phase the request belongs to.
	ErrRoundNotRunning

	// ErrBroadcastRejected indicates the network refused the final
	// coinjoin.
	ErrBroadcastRejected

	// ErrNotFound indicates the requested round is not known.
	ErrNotFound

	// ErrChainUnavailable indicates the chain backend could not answer.
	// The request may be retried.
	ErrChainUnavailable
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrValidation:        "ErrValidation",
	ErrConflict:          "ErrConflict",
	ErrBannedInput:       "ErrBannedInput",
	ErrInsufficientFunds: "ErrInsufficientFunds",
	ErrRoundNotRunning:   "ErrRoundNotRunning",
	ErrBroadcastRejected: "ErrBroadcastRejected",
	ErrNotFound:          "ErrNotFound",
	ErrChainUnavailable:  "ErrChainUnavailable",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ParseErrorCode returns the code whose String form is s.
func ParseErrorCode(s string) (ErrorCode, bool) {
	for code, name := range errorCodeStrings {
		if name == s {
			return code, true
		}
	}
	return 0, false
}

// Error is the single error type returned by the round manager's protocol
// operations.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error or detail
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// coordError creates an Error given a set of arguments.
func coordError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is an Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.ErrorCode == code
}

// InsufficientFunds details an ErrInsufficientFunds error.
type InsufficientFunds struct {
	Required btcutil.Amount
	Provided btcutil.Amount
}

// Error satisfies the error interface.
func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("required %v, provided %v", e.Required, e.Provided)
}

// BannedInput details an ErrBannedInput error.
type BannedInput struct {
	OutPoint  wire.OutPoint
	Remaining time.Duration
}

// Error satisfies the error interface.
func (e *BannedInput) Error() string {
	return fmt.Sprintf("%v banned for another %v", e.OutPoint,
		e.Remaining.Round(time.Second))
}
