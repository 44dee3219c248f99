// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prison

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BannedUtxo is a single prison entry.
type BannedUtxo struct {
	// OutPoint is the banned output.
	OutPoint wire.OutPoint

	// Severity multiplies the base ban duration.
	Severity uint32

	// BannedAt is the start of the current ban window. It is kept when
	// an active ban is escalated.
	BannedAt time.Time

	// IsNoted marks a tolerated offense that does not block
	// registration yet.
	IsNoted bool

	// BannedForRound is the round that caused the latest offense.
	BannedForRound uint64

	// NotedOffenses counts the noted offenses within the current window.
	// It is not persisted; a loaded noted entry counts as one.
	NotedOffenses uint32
}

// Expiry returns the time the entry stops being effective.
func (b *BannedUtxo) Expiry(base time.Duration) time.Time {
	return b.BannedAt.Add(base * time.Duration(b.Severity))
}

// expired reports whether the entry is no longer effective at now.
func (b *BannedUtxo) expired(base time.Duration, now time.Time) bool {
	return now.After(b.Expiry(base))
}

// String encodes the entry as one line of the prison file:
//
//	<unix>:<severity>:<txid>:<index>:<noted>:<round>
func (b *BannedUtxo) String() string {
	return fmt.Sprintf("%d:%d:%v:%d:%s:%d", b.BannedAt.Unix(), b.Severity,
		b.OutPoint.Hash, b.OutPoint.Index,
		strconv.FormatBool(b.IsNoted), b.BannedForRound)
}

// ParseBannedUtxo decodes one line produced by String.
func ParseBannedUtxo(line string) (*BannedUtxo, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	bannedAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	severity, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid severity: %w", err)
	}
	if severity == 0 {
		return nil, fmt.Errorf("zero severity")
	}
	hash, err := chainhash.NewHashFromStr(parts[2])
	if err != nil || len(parts[2]) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("invalid txid %q", parts[2])
	}
	index, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid output index: %w", err)
	}
	noted, err := strconv.ParseBool(parts[4])
	if err != nil {
		return nil, fmt.Errorf("invalid noted flag: %w", err)
	}
	round, err := strconv.ParseUint(parts[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid round id: %w", err)
	}

	b := &BannedUtxo{
		OutPoint:       *wire.NewOutPoint(hash, uint32(index)),
		Severity:       uint32(severity),
		BannedAt:       time.Unix(bannedAt, 0),
		IsNoted:        noted,
		BannedForRound: round,
	}
	if noted {
		b.NotedOffenses = 1
	}

	return b, nil
}
