// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import "fmt"

// Phase is the state of a round.
type Phase uint8

const (
	// InputRegistration accepts new Alices.
	InputRegistration Phase = iota

	// ConnectionConfirmation waits for every Alice to confirm it is
	// still online.
	ConnectionConfirmation

	// OutputRegistration accepts blind signed outputs from Bobs.
	OutputRegistration

	// Signing collects witnesses for the unsigned coinjoin.
	Signing

	// Succeeded is terminal: the coinjoin was broadcast.
	Succeeded

	// Failed is terminal: the round was abandoned.
	Failed
)

var phaseStrings = map[Phase]string{
	InputRegistration:      "InputRegistration",
	ConnectionConfirmation: "ConnectionConfirmation",
	OutputRegistration:     "OutputRegistration",
	Signing:                "Signing",
	Succeeded:              "Succeeded",
	Failed:                 "Failed",
}

// String returns the phase name.
func (p Phase) String() string {
	if s, ok := phaseStrings[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// ParsePhase returns the phase whose String form is s.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseStrings {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == Succeeded || p == Failed
}
