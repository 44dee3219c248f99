// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coordinator implements a Chaumian CoinJoin coordinator: the round
// state machine and the manager that owns the rounds, drives their timeouts
// and serves the protocol operations.
package coordinator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/metrics"
	"github.com/btcsuite/btcjoin/ownership"
	"github.com/btcsuite/btcjoin/prison"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTickInterval is how often timeouts are checked.
	DefaultTickInterval = time.Second

	// DefaultRetiredRounds is the number of terminal rounds kept for
	// result queries.
	DefaultRetiredRounds = 256

	// coinJoinCacheSize is the number of broadcast coinjoins whose
	// unconfirmed outputs may be registered again.
	coinJoinCacheSize = 1024

	// maxRequestInputs bounds the inputs of a registration request
	// before any lookup is made.
	maxRequestInputs = 255
)

var (
	// ErrManagerStarted is returned when starting a manager twice.
	ErrManagerStarted = errors.New("round manager already started")
)

// Config holds the collaborators and parameters of a Manager.
type Config struct {
	// Round is the configuration of new rounds.
	Round RoundConfig

	// Prison holds the banned outpoints.
	Prison *prison.Prison

	// Chain looks up inputs and publishes coinjoins.
	Chain ChainOracle

	// Ownership checks input ownership proofs. Defaults to
	// ownership.P2WPKHVerifier.
	Ownership OwnershipVerifier

	// NewSigner creates round keys. Defaults to fresh RSA keys.
	NewSigner SignerFactory

	// CoordinatorScript receives the coordinator fee. Without it the fee
	// is left to the miners.
	CoordinatorScript []byte

	// RelayFeePerKb is the relay fee dust outputs are judged by.
	RelayFeePerKb btcutil.Amount

	// Clock is the time source.
	Clock clock.Clock

	// Ticker drives timeout checks.
	Ticker ticker.Ticker

	// RetiredRounds is the number of terminal rounds kept.
	RetiredRounds int
}

// Manager owns the rounds of the coordinator. It keeps exactly one round
// accepting fresh registrations available, moves rounds along on timeouts
// and carries well behaved Alices of failed rounds into successors.
type Manager struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg Config

	mtx         sync.RWMutex
	roundCfg    RoundConfig
	nextID      uint64
	rounds      map[uint64]*Round
	aliceRounds map[uuid.UUID]uint64

	// reserved maps every input of an open round to that round. An
	// input is reserved and registered in one critical section, so no
	// two open rounds ever hold it.
	reserved map[wire.OutPoint]uint64

	retired   *lru.Cache
	coinjoins *lru.Cache

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a round manager. No round exists before Start.
func New(cfg *Config) (*Manager, error) {
	c := *cfg

	if err := c.Round.Validate(); err != nil {
		return nil, fmt.Errorf("invalid round config: %w", err)
	}
	if c.Prison == nil || c.Chain == nil {
		return nil, errors.New("prison and chain oracle required")
	}
	c.Prison.SetBaseDuration(c.Round.BanDuration())
	if c.Ownership == nil {
		c.Ownership = ownership.P2WPKHVerifier{}
	}
	if c.NewSigner == nil {
		c.NewSigner = func(bits int) (blindsig.Scheme, error) {
			return blindsig.GenerateSigner(rand.Reader, bits)
		}
	}
	if c.RelayFeePerKb == 0 {
		c.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.Ticker == nil {
		c.Ticker = ticker.New(DefaultTickInterval)
	}
	if c.RetiredRounds <= 0 {
		c.RetiredRounds = DefaultRetiredRounds
	}

	retired, err := lru.New(c.RetiredRounds)
	if err != nil {
		return nil, err
	}
	coinjoins, err := lru.New(coinJoinCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:         c,
		roundCfg:    c.Round,
		nextID:      1,
		rounds:      make(map[uint64]*Round),
		aliceRounds: make(map[uuid.UUID]uint64),
		reserved:    make(map[wire.OutPoint]uint64),
		retired:     retired,
		coinjoins:   coinjoins,
		quit:        make(chan struct{}),
	}, nil
}

// Start opens the first round and starts the timeout loop.
func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return ErrManagerStarted
	}

	metrics.Register()

	if err := m.ensureInputRound(); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.roundTicker()

	log.Infof("Round manager started: denomination=%v anonymity set=%d",
		m.roundCfg.Denomination, m.roundCfg.AnonymitySet)

	return nil
}

// Stop halts the timeout loop.
func (m *Manager) Stop() {
	if !atomic.CompareAndSwapInt32(&m.stopped, 0, 1) {
		return
	}

	close(m.quit)
	m.wg.Wait()

	log.Info("Round manager stopped")
}

// roundTicker checks every round on each tick.
//
// NOTE: This must be run as a goroutine.
func (m *Manager) roundTicker() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.cfg.Ticker.Resume()
	defer m.cfg.Ticker.Stop()

	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			m.tick(ctx)

		case <-m.quit:
			return
		}
	}
}

// tick performs timeout transitions, retries pending broadcasts and keeps
// a round open for registration.
func (m *Manager) tick(ctx context.Context) {
	for _, r := range m.openRounds() {
		res := r.expire(m.cfg.Clock.Now())
		m.handleExpiry(r, res)

		if tx := r.beginBroadcast(); tx != nil {
			if err := m.broadcast(ctx, r, tx); err != nil {
				log.Errorf("Round %d: %v", r.id, err)
			}
		}
	}

	if _, err := m.cfg.Prison.Sweep(); err != nil {
		log.Errorf("Unable to sweep prison: %v", err)
	}
	banned, noted := m.cfg.Prison.Count()
	metrics.PrisonEntries.WithLabelValues("enforced").Set(float64(banned))
	metrics.PrisonEntries.WithLabelValues("noted").Set(float64(noted))

	if err := m.ensureInputRound(); err != nil {
		log.Errorf("Unable to open input registration round: %v", err)
	}
}

// handleExpiry applies the side effects of a timeout transition outside the
// round lock.
func (m *Manager) handleExpiry(r *Round, res *expiry) {
	if len(res.evicted) > 0 {
		m.mtx.Lock()
		for _, id := range res.evicted {
			if m.aliceRounds[id] == r.id {
				delete(m.aliceRounds, id)
			}
		}
		m.releaseInputsLocked(r, res.released)
		m.mtx.Unlock()
	}

	if res.rekey && !m.replaceKey(r) {
		return
	}

	if len(res.offenders) > 0 {
		err := m.cfg.Prison.Ban(
			res.offenders, r.cfg.BanSeverity, r.id, res.noted,
		)
		if err != nil {
			log.Errorf("Round %d: unable to persist bans: %v", r.id,
				err)
		}

		kind := "enforced"
		if res.noted {
			kind = "noted"
		}
		metrics.BannedInputs.WithLabelValues(kind).Add(
			float64(len(res.offenders)),
		)

		log.Infof("Round %d: banned %d inputs after %v timeout "+
			"(noted=%v)", r.id, len(res.offenders), res.from,
			res.noted)
	}

	if !res.failed {
		return
	}

	if len(res.carry) > 0 {
		if err := m.carryOver(r, res.carry); err != nil {
			log.Errorf("Round %d: unable to carry over Alices: %v",
				r.id, err)
		}
	}

	m.retire(r, res.from)
}

// replaceKey installs a fresh key in r after a signed Alice was evicted.
// The round takes no registrations until then. A round that cannot be
// rekeyed is failed without bans. It returns whether r is still running.
func (m *Manager) replaceKey(r *Round) bool {
	signer, err := m.cfg.NewSigner(r.cfg.BlindingKeyBits)
	switch {
	case err != nil:
		log.Errorf("Round %d: unable to replace key: %v", r.id, err)

	case r.rekey(signer):
		return true

	default:
		log.Warnf("Round %d: left input registration before its key "+
			"was replaced", r.id)
		if s, ok := signer.(interface{ Zero() }); ok {
			s.Zero()
		}
	}

	r.abort("unable to replace round key", m.cfg.Clock.Now())
	m.retire(r, InputRegistration)

	return false
}

// carryOver opens a successor of failed holding copies of alices.
func (m *Manager) carryOver(failed *Round, alices []*Alice) error {
	m.mtx.RLock()
	cfg := m.roundCfg
	m.mtx.RUnlock()

	signer, err := m.cfg.NewSigner(cfg.BlindingKeyBits)
	if err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	r := m.addRoundLocked(cfg, signer)
	accepted, advanced := r.carryAlices(alices, m.cfg.Clock.Now())
	if !accepted {
		return fmt.Errorf("round %d has no room for %d Alices", r.id,
			len(alices))
	}
	if advanced {
		log.Infof("Round %d filled up from carried over Alices", r.id)
	}
	for _, a := range alices {
		m.aliceRounds[a.UniqueID] = r.id
		for _, in := range a.Inputs {
			m.reserved[in.OutPoint] = r.id
		}
	}

	log.Infof("Round %d succeeds failed round %d with %d Alices", r.id,
		failed.id, len(alices))

	return nil
}

// addRoundLocked creates a round and registers it. The caller must hold
// the write lock.
func (m *Manager) addRoundLocked(cfg RoundConfig,
	signer blindsig.Scheme) *Round {

	id := m.nextID
	m.nextID++

	r := newRound(
		id, cfg, signer, m.cfg.CoordinatorScript, m.cfg.RelayFeePerKb,
		m.cfg.Clock.Now(),
	)
	m.rounds[id] = r

	metrics.RoundsCreated.Inc()
	metrics.OpenRounds.Set(float64(len(m.rounds)))

	log.Infof("Opened round %d", id)

	return r
}

// retire moves a terminal round out of the open set.
func (m *Manager) retire(r *Round, from Phase) {
	result := r.result()

	m.mtx.Lock()
	if _, ok := m.rounds[r.id]; !ok {
		m.mtx.Unlock()
		return
	}
	delete(m.rounds, r.id)
	for _, id := range r.aliceIDs() {
		if m.aliceRounds[id] == r.id {
			delete(m.aliceRounds, id)
		}
	}
	for _, op := range r.outPoints() {
		if m.reserved[op] == r.id {
			delete(m.reserved, op)
		}
	}
	m.retired.Add(r.id, r)
	open := len(m.rounds)
	m.mtx.Unlock()

	metrics.RoundsFinished.WithLabelValues(
		result.Phase.String(), from.String(),
	).Inc()
	metrics.OpenRounds.Set(float64(open))

	if result.Phase == Succeeded {
		log.Infof("Round %d succeeded with coinjoin %v", r.id,
			result.TxID)
	} else {
		log.Infof("Round %d failed in %v: %v", r.id, from,
			result.Reason)
	}
}

// checkReservedLocked fails with a conflict if another round holds any of
// ops. The caller must hold a lock.
func (m *Manager) checkReservedLocked(roundID uint64,
	ops []wire.OutPoint) error {

	for _, op := range ops {
		id, ok := m.reserved[op]
		if ok && id != roundID {
			return coordError(ErrConflict, fmt.Sprintf("input %v "+
				"already registered in round %d", op, id), nil)
		}
	}

	return nil
}

// releaseInputsLocked drops the reservations r holds on ops it no longer
// registers. The caller must hold the write lock.
func (m *Manager) releaseInputsLocked(r *Round, ops []wire.OutPoint) {
	for _, op := range ops {
		if m.reserved[op] == r.id && !r.hasInput(op) {
			delete(m.reserved, op)
		}
	}
}

// ensureInputRound opens a round for registration if none is open.
func (m *Manager) ensureInputRound() error {
	m.mtx.RLock()
	has := m.hasInputRoundLocked()
	cfg := m.roundCfg
	m.mtx.RUnlock()

	if has {
		return nil
	}

	signer, err := m.cfg.NewSigner(cfg.BlindingKeyBits)
	if err != nil {
		return fmt.Errorf("unable to create round key: %w", err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.hasInputRoundLocked() {
		return nil
	}
	m.addRoundLocked(cfg, signer)

	return nil
}

// hasInputRoundLocked reports whether some round accepts registrations.
// The caller must hold a lock.
func (m *Manager) hasInputRoundLocked() bool {
	for _, r := range m.rounds {
		if r.Phase() == InputRegistration {
			return true
		}
	}
	return false
}

// openRounds returns the non-terminal rounds ordered by id.
func (m *Manager) openRounds() []*Round {
	m.mtx.RLock()
	rounds := make([]*Round, 0, len(m.rounds))
	for _, r := range m.rounds {
		rounds = append(rounds, r)
	}
	m.mtx.RUnlock()

	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].id < rounds[j].id
	})

	return rounds
}

// lookupRound returns an open or retired round.
func (m *Manager) lookupRound(id uint64) (*Round, bool, error) {
	m.mtx.RLock()
	r, ok := m.rounds[id]
	m.mtx.RUnlock()
	if ok {
		return r, true, nil
	}

	if v, ok := m.retired.Get(id); ok {
		return v.(*Round), false, nil
	}

	return nil, false, coordError(ErrNotFound,
		fmt.Sprintf("round %d not found", id), nil)
}

// inputRound selects the round a registration goes to: the one named by
// hash, or the fullest round in InputRegistration.
func (m *Manager) inputRound(hash chainhash.Hash) (*Round, error) {
	var best *Round
	for _, r := range m.openRounds() {
		if r.Phase() != InputRegistration {
			continue
		}
		if hash != (chainhash.Hash{}) {
			if r.Hash() == hash {
				return r, nil
			}
			continue
		}
		if best == nil || r.numAlices() > best.numAlices() {
			best = r
		}
	}

	if best == nil {
		return nil, coordError(ErrRoundNotRunning,
			"no round accepts registrations", nil)
	}

	return best, nil
}

// countError records a failed request.
func countError(err error) {
	var e Error
	if errors.As(err, &e) {
		metrics.RequestErrors.WithLabelValues(e.ErrorCode.String()).Inc()
	}
}

// RegisterInput registers an Alice in the round accepting registrations.
// The checks run in a fixed order and the first failure is returned.
func (m *Manager) RegisterInput(ctx context.Context,
	req *RegisterInputRequest) (*RegisterInputResponse, error) {

	resp, err := m.registerInput(ctx, req)
	if err != nil {
		countError(err)
		log.Debugf("RegisterInput failed: %v", err)
	}

	return resp, err
}

func (m *Manager) registerInput(ctx context.Context,
	req *RegisterInputRequest) (*RegisterInputResponse, error) {

	if err := checkRegisterInput(req); err != nil {
		return nil, err
	}

	r, err := m.inputRound(req.RoundHash)
	if err != nil {
		return nil, err
	}
	cfg := r.Config()

	ops := make([]wire.OutPoint, len(req.Inputs))
	for i, in := range req.Inputs {
		ops[i] = in.OutPoint
	}

	utxos, err := m.lookupInputs(ctx, ops)
	if err != nil {
		return nil, err
	}
	for _, utxo := range utxos {
		if err := m.checkUtxo(&cfg, utxo); err != nil {
			return nil, err
		}
	}

	for _, op := range ops {
		banned := m.cfg.Prison.IsBanned(op, false)
		if banned.IsNone() {
			continue
		}

		b := banned.UnwrapOr(prison.BannedUtxo{})
		return nil, coordError(ErrBannedInput, "input is banned",
			&BannedInput{
				OutPoint:  op,
				Remaining: m.cfg.Prison.Remaining(b),
			})
	}

	m.mtx.RLock()
	err = m.checkReservedLocked(r.id, ops)
	m.mtx.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := r.checkInputs(ops, req.BlindedOutput); err != nil {
		return nil, err
	}

	msg := ownership.Message(req.BlindedOutput)
	for i, in := range req.Inputs {
		ok := m.cfg.Ownership.VerifyOwnership(
			in.OutPoint, utxos[i].PkScript, msg, in.Proof,
		)
		if !ok {
			return nil, coordError(ErrValidation, fmt.Sprintf(
				"invalid ownership proof for %v", in.OutPoint),
				nil)
		}
	}

	draft := &Alice{
		Inputs:        make([]*Input, len(req.Inputs)),
		ChangeScript:  req.ChangeScript,
		BlindedOutput: req.BlindedOutput,
	}
	for i, in := range req.Inputs {
		draft.Inputs[i] = &Input{
			OutPoint: in.OutPoint,
			Value:    utxos[i].Value,
			PkScript: utxos[i].PkScript,
			Proof:    in.Proof,
		}
	}

	// Reservation and registration form one critical section.
	m.mtx.Lock()
	if err := m.checkReservedLocked(r.id, ops); err != nil {
		m.mtx.Unlock()
		return nil, err
	}
	resp, advanced, err := r.registerAlice(
		draft, req.RoundHash, m.cfg.Clock.Now(),
	)
	if err != nil {
		m.mtx.Unlock()
		return nil, err
	}
	for _, op := range ops {
		m.reserved[op] = r.id
	}
	_, known := m.aliceRounds[resp.UniqueID]
	m.aliceRounds[resp.UniqueID] = r.id
	m.mtx.Unlock()

	if !known {
		metrics.RegisteredAlices.Inc()
	}

	if advanced {
		if err := m.ensureInputRound(); err != nil {
			log.Errorf("Unable to open input registration "+
				"round: %v", err)
		}
	}

	return resp, nil
}

// checkRegisterInput checks that a registration request is well formed.
func checkRegisterInput(req *RegisterInputRequest) error {
	switch {
	case len(req.Inputs) == 0:
		return coordError(ErrValidation, "no inputs", nil)

	case len(req.Inputs) > maxRequestInputs:
		return coordError(ErrValidation, "too many inputs", nil)

	case len(req.BlindedOutput) == 0:
		return coordError(ErrValidation, "missing blinded output", nil)

	case len(req.ChangeScript) == 0:
		return coordError(ErrValidation, "missing change script", nil)

	case txscript.GetScriptClass(req.ChangeScript) ==
		txscript.NonStandardTy:

		return coordError(ErrValidation, "non-standard change script",
			nil)
	}

	seen := make(map[wire.OutPoint]struct{}, len(req.Inputs))
	for _, in := range req.Inputs {
		if _, ok := seen[in.OutPoint]; ok {
			return coordError(ErrValidation, fmt.Sprintf(
				"duplicate input %v", in.OutPoint), nil)
		}
		seen[in.OutPoint] = struct{}{}
	}

	return nil
}

// lookupInputs fetches every outpoint from the chain oracle concurrently.
// Spent outpoints fail validation.
func (m *Manager) lookupInputs(ctx context.Context,
	ops []wire.OutPoint) ([]*chain.UnspentOutput, error) {

	utxos := make([]*chain.UnspentOutput, len(ops))

	g, gctx := errgroup.WithContext(ctx)
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			utxo, err := m.cfg.Chain.UnspentOutput(gctx, op)
			if err != nil {
				return err
			}
			utxos[i] = utxo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, coordError(ErrChainUnavailable,
			"unable to look up inputs", err)
	}

	for i, utxo := range utxos {
		if utxo == nil {
			return nil, coordError(ErrValidation, fmt.Sprintf(
				"input %v is not unspent", ops[i]), nil)
		}
	}

	return utxos, nil
}

// checkUtxo applies the script and confirmation rules to an input.
func (m *Manager) checkUtxo(cfg *RoundConfig,
	utxo *chain.UnspentOutput) error {

	if !txscript.IsPayToWitnessPubKeyHash(utxo.PkScript) {
		return coordError(ErrValidation, fmt.Sprintf("input %v is not "+
			"p2wpkh", utxo.OutPoint), nil)
	}

	if utxo.Coinbase && utxo.Confirmations < CoinbaseMaturity {
		return coordError(ErrValidation, fmt.Sprintf("coinbase input "+
			"%v is immature", utxo.OutPoint), nil)
	}

	if utxo.Confirmations < cfg.MinConfirmations &&
		!m.coinjoins.Contains(utxo.OutPoint.Hash) {

		return coordError(ErrValidation, fmt.Sprintf("input %v has %d "+
			"of %d confirmations", utxo.OutPoint,
			utxo.Confirmations, cfg.MinConfirmations), nil)
	}

	return nil
}

// ConfirmConnection confirms an Alice is online. During input
// registration it is a heartbeat. A carried over Alice passes its output
// blinded under the new round key.
func (m *Manager) ConfirmConnection(_ context.Context,
	req *ConfirmConnectionRequest) (*ConfirmConnectionResponse, error) {

	m.mtx.RLock()
	id, ok := m.aliceRounds[req.UniqueID]
	r := m.rounds[id]
	m.mtx.RUnlock()

	if !ok || r == nil {
		err := coordError(ErrRoundNotRunning,
			"alice not registered in a running round", nil)
		countError(err)
		return nil, err
	}

	resp, advanced, err := r.confirm(req, m.cfg.Clock.Now())
	if err != nil {
		countError(err)
		return nil, err
	}

	if advanced {
		log.Infof("Round %d: all Alices confirmed", r.id)
	}

	return resp, nil
}

// RegisterOutput registers a covert output with its unblinded signature.
// Nothing in the request links it to an Alice.
func (m *Manager) RegisterOutput(_ context.Context,
	req *RegisterOutputRequest) error {

	err := m.registerOutput(req)
	if err != nil {
		countError(err)
	}
	return err
}

func (m *Manager) registerOutput(req *RegisterOutputRequest) error {
	if len(req.OutputScript) == 0 || len(req.Signature) == 0 {
		return coordError(ErrValidation,
			"missing output script or signature", nil)
	}

	var r *Round
	for _, open := range m.openRounds() {
		if open.Hash() == req.RoundHash {
			r = open
			break
		}
	}
	if r == nil {
		return coordError(ErrRoundNotRunning, "unknown round hash", nil)
	}

	advanced, err := r.registerOutput(
		req.OutputScript, req.Signature, m.cfg.Clock.Now(),
	)
	if err != nil {
		return err
	}

	if advanced {
		log.Infof("Round %d: all outputs registered", r.id)
	}

	return nil
}

// GetUnsignedCoinJoin returns the serialized unsigned coinjoin PSBT of a
// round in Signing. Every caller gets identical bytes.
func (m *Manager) GetUnsignedCoinJoin(_ context.Context,
	roundID uint64) ([]byte, error) {

	r, _, err := m.lookupRound(roundID)
	if err != nil {
		countError(err)
		return nil, err
	}

	return r.unsignedCoinJoin()
}

// SubmitSignatures stores an Alice's witnesses. The submission completing
// the transaction triggers the broadcast, and a rejection is reported to
// that submitter.
func (m *Manager) SubmitSignatures(ctx context.Context,
	req *SubmitSignaturesRequest) error {

	err := m.submitSignatures(ctx, req)
	if err != nil {
		countError(err)
	}
	return err
}

func (m *Manager) submitSignatures(ctx context.Context,
	req *SubmitSignaturesRequest) error {

	r, open, err := m.lookupRound(req.RoundID)
	if err != nil {
		return err
	}
	if !open {
		return coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is over", req.RoundID), nil)
	}

	tx, err := r.submitSignatures(req)
	if err != nil || tx == nil {
		return err
	}

	return m.broadcast(ctx, r, tx)
}

// broadcast publishes the final coinjoin of r outside the round lock.
func (m *Manager) broadcast(ctx context.Context, r *Round,
	tx *wire.MsgTx) error {

	txid, err := m.cfg.Chain.BroadcastTransaction(ctx, tx)

	outcome := broadcastDone
	switch {
	case err == nil:

	case errors.Is(err, chain.ErrRejectedByNetwork):
		outcome = broadcastRejected

	default:
		outcome = broadcastRetry
	}

	if r.endBroadcast(txid, outcome, err, m.cfg.Clock.Now()) {
		m.retire(r, Signing)
	}

	switch outcome {
	case broadcastDone:
		m.coinjoins.Add(*txid, struct{}{})
		return nil

	case broadcastRejected:
		return coordError(ErrBroadcastRejected,
			"coinjoin rejected by network", err)

	default:
		return nil
	}
}

// Status returns the public view of every open round.
func (m *Manager) Status(_ context.Context) ([]RoundStatus, error) {
	rounds := m.openRounds()

	statuses := make([]RoundStatus, 0, len(rounds))
	for _, r := range rounds {
		statuses = append(statuses, r.status())
	}

	return statuses, nil
}

// RoundResult reports the phase of a round and, once it is over, how it
// ended.
func (m *Manager) RoundResult(_ context.Context,
	roundID uint64) (*RoundResult, error) {

	r, _, err := m.lookupRound(roundID)
	if err != nil {
		return nil, err
	}

	return r.result(), nil
}

// UpdateRoundConfig replaces the configuration of future rounds and the
// base ban duration of the prison. Every running round is failed without
// bans and a new round is opened.
func (m *Manager) UpdateRoundConfig(cfg RoundConfig) error {
	if err := cfg.Validate(); err != nil {
		return coordError(ErrValidation, "invalid round config", err)
	}

	m.mtx.Lock()
	m.roundCfg = cfg
	m.mtx.Unlock()

	m.cfg.Prison.SetBaseDuration(cfg.BanDuration())

	now := m.cfg.Clock.Now()
	for _, r := range m.openRounds() {
		from := r.Phase()
		if r.abort("round configuration changed", now) {
			m.retire(r, from)
		}
	}

	return m.ensureInputRound()
}
