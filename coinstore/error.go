// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinstore

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database. When
	// this error code is set, the Err field of the StoreError will be set
	// to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrNoExist indicates that the specified database does not exist.
	ErrNoExist

	// ErrAlreadyExists indicates that the specified database already
	// exists.
	ErrAlreadyExists

	// ErrData describes an error where data stored in the store is
	// incorrect.
	ErrData

	// ErrWrongPassphrase indicates the passphrase does not unlock the
	// store. The Err field is ccjclient.ErrWrongPassphrase.
	ErrWrongPassphrase

	// ErrCrypto indicates a failure to encrypt or decrypt key material.
	ErrCrypto

	// ErrUnknownScript indicates the store holds no key for a script.
	ErrUnknownScript

	// ErrUnknownCoin indicates the coin is not an unspent store coin.
	ErrUnknownCoin

	// ErrCoinLocked indicates a coin is already locked.
	ErrCoinLocked

	// ErrInput indicates an invalid argument.
	ErrInput
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrNoExist:         "ErrNoExist",
	ErrAlreadyExists:   "ErrAlreadyExists",
	ErrData:            "ErrData",
	ErrWrongPassphrase: "ErrWrongPassphrase",
	ErrCrypto:          "ErrCrypto",
	ErrUnknownScript:   "ErrUnknownScript",
	ErrUnknownCoin:     "ErrUnknownCoin",
	ErrCoinLocked:      "ErrCoinLocked",
	ErrInput:           "ErrInput",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single type for errors that can happen during coin
// store operation.
type StoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether err is a StoreError with the given code.
func IsError(err error, code ErrorCode) bool {
	var e StoreError
	return errors.As(err, &e) && e.ErrorCode == code
}
