// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prison keeps the set of outpoints that misbehaved in a round and
// may not register again until their ban expires.
package prison

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultBaseDuration is the ban length of a severity one offense.
	DefaultBaseDuration = 24 * time.Hour

	// DefaultNotedOffenseLimit is the number of noted offenses tolerated
	// within one ban window.
	DefaultNotedOffenseLimit = 1
)

// ErrZeroSeverity is returned when banning with a zero severity.
var ErrZeroSeverity = errors.New("ban severity must be positive")

// Config holds the prison's parameters.
type Config struct {
	// FilePath is where the entries are persisted. An empty path keeps
	// the prison in memory only.
	FilePath string

	// BaseDuration is the ban length of a severity one offense.
	BaseDuration time.Duration

	// NotedOffenseLimit is the number of noted offenses an outpoint may
	// collect within one window before its entry is enforced. Zero
	// enforces every offense.
	NotedOffenseLimit uint32

	// Clock is the time source, replaced in tests.
	Clock clock.Clock
}

// Prison is the set of banned outpoints. It is safe for concurrent use.
type Prison struct {
	cfg Config

	// baseDuration is the current BaseDuration in nanoseconds.
	baseDuration atomic.Int64

	mtx     sync.RWMutex
	entries map[wire.OutPoint]*BannedUtxo

	// fileMtx serializes writes of the prison file. It is never held
	// together with mtx.
	fileMtx sync.Mutex
}

// New returns an empty prison. Call Load to read persisted entries.
func New(cfg *Config) *Prison {
	c := *cfg
	if c.BaseDuration == 0 {
		c.BaseDuration = DefaultBaseDuration
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	p := &Prison{
		cfg:     c,
		entries: make(map[wire.OutPoint]*BannedUtxo),
	}
	p.baseDuration.Store(int64(c.BaseDuration))

	return p
}

// BaseDuration returns the ban length of a severity one offense.
func (p *Prison) BaseDuration() time.Duration {
	return time.Duration(p.baseDuration.Load())
}

// SetBaseDuration changes the ban length of a severity one offense. Every
// entry, including those already in the prison, expires by the new length.
func (p *Prison) SetBaseDuration(d time.Duration) {
	if d <= 0 {
		d = DefaultBaseDuration
	}
	p.baseDuration.Store(int64(d))

	log.Infof("Base ban duration set to %v", d)
}

// Load replaces the in-memory entries with the contents of the prison file.
// A missing file is an empty prison. Lines that fail to parse are skipped
// and expired entries dropped.
func (p *Prison) Load() error {
	if p.cfg.FilePath == "" {
		return nil
	}

	data, err := os.ReadFile(p.cfg.FilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Infof("No prison file at %v, starting empty",
			p.cfg.FilePath)
		return nil

	case err != nil:
		return fmt.Errorf("unable to read prison file: %w", err)
	}

	now := p.cfg.Clock.Now()
	entries := make(map[wire.OutPoint]*BannedUtxo)

	var (
		lineNum int
		skipped int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		b, err := ParseBannedUtxo(line)
		if err != nil {
			log.Warnf("Skipping corrupt prison entry on line %d: %v",
				lineNum, err)
			skipped++
			continue
		}
		if b.expired(p.BaseDuration(), now) {
			continue
		}

		entries[b.OutPoint] = b
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unable to scan prison file: %w", err)
	}

	p.mtx.Lock()
	p.entries = entries
	p.mtx.Unlock()

	log.Infof("Loaded %d prison entries (%d skipped)", len(entries),
		skipped)

	return nil
}

// IsBanned returns the entry for op if it is effective. Noted entries are
// only returned when includeNoted is set. Expired entries are removed.
func (p *Prison) IsBanned(op wire.OutPoint,
	includeNoted bool) fn.Option[BannedUtxo] {

	now := p.cfg.Clock.Now()

	p.mtx.RLock()
	b, ok := p.entries[op]
	var (
		entry   BannedUtxo
		expired bool
	)
	if ok {
		entry = *b
		expired = b.expired(p.BaseDuration(), now)
	}
	p.mtx.RUnlock()

	switch {
	case !ok:
		return fn.None[BannedUtxo]()

	case expired:
		p.mtx.Lock()
		if b, ok := p.entries[op]; ok &&
			b.expired(p.BaseDuration(), now) {

			delete(p.entries, op)
		}
		p.mtx.Unlock()

		return fn.None[BannedUtxo]()

	case entry.IsNoted && !includeNoted:
		return fn.None[BannedUtxo]()
	}

	return fn.Some(entry)
}

// Remaining returns how long the entry stays effective.
func (p *Prison) Remaining(b BannedUtxo) time.Duration {
	d := b.Expiry(p.BaseDuration()).Sub(p.cfg.Clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Ban records an offense of every outpoint in ops. An effective entry is
// escalated by severity and keeps its window start. An outpoint without an
// effective entry starts a new window at severity. A noted offense is
// enforced once the outpoint exceeds the noted offense limit; an enforced
// entry never becomes noted again within its window.
func (p *Prison) Ban(ops []wire.OutPoint, severity uint32, round uint64,
	noted bool) error {

	if severity == 0 {
		return ErrZeroSeverity
	}
	if len(ops) == 0 {
		return nil
	}

	now := p.cfg.Clock.Now()
	bannedAt := time.Unix(now.Unix(), 0)

	p.mtx.Lock()
	for _, op := range ops {
		b, ok := p.entries[op]
		if !ok || b.expired(p.BaseDuration(), now) {
			b = &BannedUtxo{
				OutPoint: op,
				BannedAt: bannedAt,
				IsNoted:  noted,
			}
			p.entries[op] = b
		}

		b.Severity += severity
		b.BannedForRound = round

		switch {
		case !noted:
			b.IsNoted = false

		case b.IsNoted:
			b.NotedOffenses++
			if b.NotedOffenses > p.cfg.NotedOffenseLimit {
				b.IsNoted = false
			}
		}

		log.Debugf("Banned %v for round %d: severity=%d noted=%v",
			op, round, b.Severity, b.IsNoted)
	}
	p.mtx.Unlock()

	return p.save()
}

// Unban removes the entries of ops.
func (p *Prison) Unban(ops ...wire.OutPoint) error {
	var removed int

	p.mtx.Lock()
	for _, op := range ops {
		if _, ok := p.entries[op]; ok {
			delete(p.entries, op)
			removed++
		}
	}
	p.mtx.Unlock()

	if removed == 0 {
		return nil
	}

	return p.save()
}

// Sweep drops expired entries and rewrites the prison file. It returns the
// number of entries removed.
func (p *Prison) Sweep() (int, error) {
	now := p.cfg.Clock.Now()

	var removed int

	p.mtx.Lock()
	for op, b := range p.entries {
		if b.expired(p.BaseDuration(), now) {
			delete(p.entries, op)
			removed++
		}
	}
	p.mtx.Unlock()

	if removed == 0 {
		return 0, nil
	}

	log.Debugf("Swept %d expired prison entries", removed)

	return removed, p.save()
}

// Count returns the number of enforced and noted entries that are still
// effective.
func (p *Prison) Count() (int, int) {
	now := p.cfg.Clock.Now()

	p.mtx.RLock()
	defer p.mtx.RUnlock()

	var banned, noted int
	for _, b := range p.entries {
		switch {
		case b.expired(p.BaseDuration(), now):
		case b.IsNoted:
			noted++
		default:
			banned++
		}
	}

	return banned, noted
}

// Entries returns a sorted snapshot of all entries.
func (p *Prison) Entries() []BannedUtxo {
	p.mtx.RLock()
	entries := make([]BannedUtxo, 0, len(p.entries))
	for _, b := range p.entries {
		entries = append(entries, *b)
	}
	p.mtx.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.BannedAt.Equal(b.BannedAt) {
			return a.BannedAt.Before(b.BannedAt)
		}
		if c := bytes.Compare(a.OutPoint.Hash[:],
			b.OutPoint.Hash[:]); c != 0 {

			return c < 0
		}
		return a.OutPoint.Index < b.OutPoint.Index
	})

	return entries
}

// save writes a snapshot of the entries to a temporary file and renames it
// over the prison file.
func (p *Prison) save() error {
	if p.cfg.FilePath == "" {
		return nil
	}

	p.fileMtx.Lock()
	defer p.fileMtx.Unlock()

	// The snapshot is taken under the file mutex so a later snapshot is
	// never overwritten by an earlier one.
	var buf bytes.Buffer
	for _, b := range p.Entries() {
		buf.WriteString(b.String())
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(p.cfg.FilePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("unable to create prison dir: %w", err)
	}

	tmp := p.cfg.FilePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("unable to write prison file: %w", err)
	}
	if err := os.Rename(tmp, p.cfg.FilePath); err != nil {
		return fmt.Errorf("unable to replace prison file: %w", err)
	}

	return nil
}
