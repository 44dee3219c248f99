// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ccjclient drives a wallet's participation in coinjoin rounds.
//
// Coins are queued in groups. Each group is registered as one Alice, and
// the agent walks it through the rounds on a jittered poll: it confirms the
// connection, follows carry-overs into new rounds, registers the covert
// output through a separate client and signs the coinjoin once it has
// checked its own inputs and outputs are in it.
package ccjclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/ownership"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultPollInterval is the mean time between polls.
	DefaultPollInterval = 5 * time.Second

	// DefaultJitter scales the random spread around the poll interval.
	DefaultJitter = 0.5

	// queueTimeout bounds the status query made while queueing coins.
	queueTimeout = 30 * time.Second
)

var (
	// ErrAgentStarted is returned when Start is called twice.
	ErrAgentStarted = errors.New("agent already started")

	// ErrNoCoins is returned when nothing was given to queue.
	ErrNoCoins = errors.New("no coins given")
)

// Config holds the agent's collaborators.
type Config struct {
	Coins     CoinSource
	Keys      KeyRing
	Addresses AddressSource

	// Alice carries every request tied to the wallet's registration. Bob
	// carries output registrations and must use a different network
	// identity.
	Alice AliceClient
	Bob   BobClient

	// RelayFeePerKb decides whether a change amount is dust. It must
	// match the coordinator's. Zero means txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount

	// Ticker paces the polls. Nil means a JitterTicker with the default
	// interval and jitter.
	Ticker ticker.Ticker

	Clock clock.Clock
}

// group is a set of coins registered together as one Alice.
type group struct {
	id    uint64
	coins []*Coin
	keys  []*btcec.PrivateKey

	changeScript []byte
	activeScript []byte

	state GroupState
	phase coordinator.Phase

	// Registration state. roundHash names the key the output was blinded
	// under and terms are the amounts of the round.
	uniqueID  uuid.UUID
	roundID   uint64
	roundHash chainhash.Hash
	terms     coordinator.RoundConfig
	key       *blindsig.PublicKey
	factor    *blindsig.BlindingFactor
	blindSig  []byte
	signed    bool

	bannedUntil time.Time
	txid        *chainhash.Hash
	err         error
}

// outPoints returns the outpoints of the group's coins.
func (g *group) outPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(g.coins))
	for i, c := range g.coins {
		ops[i] = c.OutPoint
	}
	return ops
}

// value is the sum of the group's coins.
func (g *group) value() btcutil.Amount {
	var sum btcutil.Amount
	for _, c := range g.coins {
		sum += c.Value
	}
	return sum
}

// change is what the group should get back on its change script.
func (g *group) change() btcutil.Amount {
	return g.value() - g.terms.RequiredAmount(len(g.coins))
}

// clearRegistration forgets the group's Alice.
func (g *group) clearRegistration() {
	if g.factor != nil {
		g.factor.Zero()
	}
	g.uniqueID = uuid.Nil
	g.roundID = 0
	g.roundHash = chainhash.Hash{}
	g.key = nil
	g.factor = nil
	g.blindSig = nil
	g.signed = false
	g.phase = coordinator.InputRegistration
}

// wipe zeroes the group's secrets.
func (g *group) wipe() {
	if g.factor != nil {
		g.factor.Zero()
		g.factor = nil
	}
	for _, k := range g.keys {
		k.Zero()
	}
	g.keys = nil
}

// dequeueable reports whether leaving now cannot get the coins banned.
func (g *group) dequeueable() bool {
	switch g.state {
	case Unregistered, Banned:
		return true
	case Confirming:
		return g.phase == coordinator.InputRegistration
	default:
		return false
	}
}

// Agent mixes a wallet's queued coins.
type Agent struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg Config

	// mtx guards the groups and custom addresses. It is held for a whole
	// poll, so queue changes wait for a running poll to finish.
	mtx         sync.Mutex
	nextID      uint64
	groups      []*group
	changeAddrs [][]byte
	activeAddrs [][]byte

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates an agent from cfg.
func New(cfg *Config) (*Agent, error) {
	if cfg.Coins == nil || cfg.Keys == nil || cfg.Addresses == nil {
		return nil, errors.New("coin source, key ring and address " +
			"source are required")
	}
	if cfg.Alice == nil || cfg.Bob == nil {
		return nil, errors.New("alice and bob clients are required")
	}

	a := &Agent{
		cfg:    *cfg,
		nextID: 1,
		quit:   make(chan struct{}),
	}
	if a.cfg.RelayFeePerKb == 0 {
		a.cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}
	if a.cfg.Ticker == nil {
		a.cfg.Ticker = NewJitterTicker(DefaultPollInterval, DefaultJitter)
	}
	if a.cfg.Clock == nil {
		a.cfg.Clock = clock.NewDefaultClock()
	}

	return a, nil
}

// Start begins polling the coordinator.
func (a *Agent) Start() error {
	if !atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		return ErrAgentStarted
	}

	log.Info("Starting coinjoin agent")

	a.cfg.Ticker.Resume()

	a.wg.Add(1)
	go a.pollLoop()

	return nil
}

// Stop halts polling. Queued coins stay locked.
func (a *Agent) Stop() {
	if !atomic.CompareAndSwapInt32(&a.stopped, 0, 1) {
		return
	}

	log.Info("Coinjoin agent shutting down")

	close(a.quit)
	a.cfg.Ticker.Stop()
	a.wg.Wait()
}

func (a *Agent) pollLoop() {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-a.cfg.Ticker.Ticks():
			a.poll(ctx)

		case <-a.quit:
			return
		}
	}
}

// QueueCoinsToMix locks ops and queues them as one group. Coins already
// queued are skipped. It returns the number of coins queued.
func (a *Agent) QueueCoinsToMix(passphrase []byte,
	ops ...wire.OutPoint) (int, error) {

	if len(ops) == 0 {
		return 0, ErrNoCoins
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()

	var coins []*Coin
	seen := make(map[wire.OutPoint]struct{})
	for _, op := range ops {
		if _, ok := seen[op]; ok {
			continue
		}
		seen[op] = struct{}{}

		if a.queuedLocked(op) {
			log.Debugf("Coin %v is already queued", op)
			continue
		}

		c, err := a.cfg.Coins.Coin(op)
		if err != nil {
			return 0, err
		}
		if !txscript.IsPayToWitnessPubKeyHash(c.PkScript) {
			return 0, fmt.Errorf("coin %v is not p2wpkh", op)
		}
		coins = append(coins, c)
	}
	if len(coins) == 0 {
		return 0, nil
	}

	scripts := make([][]byte, len(coins))
	for i, c := range coins {
		scripts[i] = c.PkScript
	}
	keys, err := a.cfg.Keys.PrivKeys(passphrase, scripts...)
	if err != nil {
		return 0, err
	}

	g := &group{
		coins: coins,
		keys:  keys,
	}
	if err := a.checkFunds(g); err != nil {
		g.wipe()
		return 0, err
	}

	g.changeScript, err = a.nextScript(passphrase, true)
	if err != nil {
		g.wipe()
		return 0, err
	}
	g.activeScript, err = a.nextScript(passphrase, false)
	if err != nil {
		g.wipe()
		return 0, err
	}

	if err := a.cfg.Coins.LockCoins(g.outPoints()...); err != nil {
		g.wipe()
		return 0, err
	}

	g.id = a.nextID
	a.nextID++
	a.groups = append(a.groups, g)

	log.Infof("Queued %d coins worth %v as group %d", len(coins),
		g.value(), g.id)

	return len(coins), nil
}

// checkFunds refuses a group the current input round cannot take. A
// coordinator that cannot be reached is not an error here.
func (a *Agent) checkFunds(g *group) error {
	ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
	defer cancel()

	statuses, err := a.cfg.Alice.Status(ctx)
	if err != nil {
		log.Debugf("Unable to check round terms: %v", err)
		return nil
	}
	st := inputRound(statuses)
	if st == nil {
		return nil
	}

	if uint32(len(g.coins)) > st.MaximumInputCountPerPeer {
		return fmt.Errorf("%d coins exceed the limit of %d per peer",
			len(g.coins), st.MaximumInputCountPerPeer)
	}

	terms := roundTerms(st)
	required := terms.RequiredAmount(len(g.coins))
	if provided := g.value(); provided < required {
		return coordinator.Error{
			ErrorCode:   coordinator.ErrInsufficientFunds,
			Description: "coins do not cover the denomination and fees",
			Err: &coordinator.InsufficientFunds{
				Required: required,
				Provided: provided,
			},
		}
	}

	return nil
}

// nextScript pops a custom address or asks the wallet for a new one.
func (a *Agent) nextScript(passphrase []byte, change bool) ([]byte, error) {
	custom := &a.activeAddrs
	if change {
		custom = &a.changeAddrs
	}
	if len(*custom) > 0 {
		script := (*custom)[0]
		*custom = (*custom)[1:]
		return script, nil
	}

	return a.cfg.Addresses.NewScript(passphrase, change)
}

// queuedLocked reports whether op is in an unfinished group.
func (a *Agent) queuedLocked(op wire.OutPoint) bool {
	for _, g := range a.groups {
		if g.state.IsTerminal() {
			continue
		}
		for _, c := range g.coins {
			if c.OutPoint == op {
				return true
			}
		}
	}
	return false
}

// DequeueCoinsFromMix releases the groups holding any of ops. Groups whose
// round is past input registration cannot leave without a ban and are left
// queued.
func (a *Agent) DequeueCoinsFromMix(ops ...wire.OutPoint) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	want := make(map[wire.OutPoint]struct{}, len(ops))
	for _, op := range ops {
		want[op] = struct{}{}
	}

	// Registered groups may have missed their round leaving input
	// registration since the last poll.
	ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
	statuses, statusErr := a.cfg.Alice.Status(ctx)
	cancel()

	var firstErr error
	for _, g := range a.groups {
		if g.state.IsTerminal() || !g.holdsAny(want) {
			continue
		}

		if g.state == Confirming {
			st := findRound(statuses, g.roundID)
			switch {
			case statusErr != nil:
				log.Warnf("Group %d: unable to check round %d: %v",
					g.id, g.roundID, statusErr)
				continue

			case st != nil:
				g.phase = st.Phase
			}
		}

		if !g.dequeueable() {
			log.Infof("Group %d is past input registration in round "+
				"%d, leaving it queued", g.id, g.roundID)
			continue
		}

		if err := a.dequeueLocked(g, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (g *group) holdsAny(ops map[wire.OutPoint]struct{}) bool {
	for _, c := range g.coins {
		if _, ok := ops[c.OutPoint]; ok {
			return true
		}
	}
	return false
}

// dequeueLocked unlocks the group's coins and ends it.
func (a *Agent) dequeueLocked(g *group, reason error) error {
	g.clearRegistration()
	g.wipe()
	g.state = Dequeued
	g.err = reason

	if reason != nil {
		log.Warnf("Group %d dequeued: %v", g.id, reason)
	} else {
		log.Infof("Group %d dequeued", g.id)
	}

	err := a.cfg.Coins.UnlockCoins(g.outPoints()...)
	if err != nil {
		log.Errorf("Group %d: unable to unlock coins: %v", g.id, err)
	}
	return err
}

// AddCustomChangeAddress makes addr the change address of the next queued
// group.
func (a *Agent) AddCustomChangeAddress(addr btcutil.Address) error {
	script, err := witnessScript(addr)
	if err != nil {
		return err
	}

	a.mtx.Lock()
	a.changeAddrs = append(a.changeAddrs, script)
	a.mtx.Unlock()

	return nil
}

// AddCustomActiveAddress makes addr receive the mixed output of the next
// queued group.
func (a *Agent) AddCustomActiveAddress(addr btcutil.Address) error {
	script, err := witnessScript(addr)
	if err != nil {
		return err
	}

	a.mtx.Lock()
	a.activeAddrs = append(a.activeAddrs, script)
	a.mtx.Unlock()

	return nil
}

// witnessScript returns the output script of a p2wpkh address.
func witnessScript(addr btcutil.Address) ([]byte, error) {
	if _, ok := addr.(*btcutil.AddressWitnessPubKeyHash); !ok {
		return nil, fmt.Errorf("address %v is not p2wpkh", addr)
	}
	return txscript.PayToAddrScript(addr)
}

// State returns a snapshot of every group queued since the agent was
// created.
func (a *Agent) State() []GroupStatus {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	states := make([]GroupStatus, len(a.groups))
	for i, g := range a.groups {
		states[i] = GroupStatus{
			ID:      g.id,
			Coins:   g.outPoints(),
			State:   g.state,
			RoundID: g.roundID,
			Phase:   g.phase,
			TxID:    g.txid,
			Err:     g.err,
		}
	}

	return states
}

// poll advances every unfinished group by one step.
func (a *Agent) poll(ctx context.Context) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	var active []*group
	for _, g := range a.groups {
		if !g.state.IsTerminal() {
			active = append(active, g)
		}
	}
	if len(active) == 0 {
		return
	}

	statuses, err := a.cfg.Alice.Status(ctx)
	if err != nil {
		log.Warnf("Unable to fetch round states: %v", err)
		return
	}

	for _, g := range active {
		a.step(ctx, g, statuses)
	}
}

func (a *Agent) step(ctx context.Context, g *group,
	statuses []coordinator.RoundStatus) {

	switch g.state {
	case Banned:
		if a.cfg.Clock.Now().Before(g.bannedUntil) {
			return
		}
		log.Infof("Group %d: ban expired", g.id)
		g.state = Unregistered
		a.register(ctx, g, statuses)

	case Unregistered:
		a.register(ctx, g, statuses)

	case Confirming:
		a.confirm(ctx, g, statuses)

	case AwaitingOutputPhase:
		a.registerOutput(ctx, g)

	case Signing:
		a.sign(ctx, g)
	}
}

// inputRound picks the round a registration without a round hash would
// land in: the fullest one in input registration.
func inputRound(
	statuses []coordinator.RoundStatus) *coordinator.RoundStatus {

	var best *coordinator.RoundStatus
	for i := range statuses {
		st := &statuses[i]
		if st.Phase != coordinator.InputRegistration {
			continue
		}
		if best == nil ||
			st.RegisteredPeerCount > best.RegisteredPeerCount {

			best = st
		}
	}
	return best
}

func findRound(statuses []coordinator.RoundStatus,
	id uint64) *coordinator.RoundStatus {

	for i := range statuses {
		if statuses[i].RoundID == id {
			return &statuses[i]
		}
	}
	return nil
}

// roundTerms returns the amounts a round charges.
func roundTerms(st *coordinator.RoundStatus) coordinator.RoundConfig {
	return coordinator.RoundConfig{
		Denomination:          st.Denomination,
		CoordinatorFeePercent: st.CoordinatorFeePercent,
		FeePerInput:           st.FeePerInput,
		FeePerOutput:          st.FeePerOutput,
	}
}

// register registers the group as a new Alice.
func (a *Agent) register(ctx context.Context, g *group,
	statuses []coordinator.RoundStatus) {

	st := inputRound(statuses)
	if st == nil {
		return
	}

	terms := roundTerms(st)
	if provided, required := g.value(),
		terms.RequiredAmount(len(g.coins)); provided < required {

		// Terms changed since the coins were queued.
		a.dequeueLocked(g, coordinator.Error{
			ErrorCode:   coordinator.ErrInsufficientFunds,
			Description: "coins do not cover the denomination and fees",
			Err: &coordinator.InsufficientFunds{
				Required: required,
				Provided: provided,
			},
		})
		return
	}

	key, err := blindsig.ParsePublicKey(st.BlindingKey)
	if err != nil {
		log.Warnf("Round %d: invalid blinding key: %v", st.RoundID, err)
		return
	}
	factor, blinded, err := key.Blind(g.activeScript)
	if err != nil {
		log.Errorf("Group %d: unable to blind output: %v", g.id, err)
		return
	}

	msg := ownership.Message(blinded)
	inputs := make([]coordinator.InputProof, len(g.coins))
	for i, c := range g.coins {
		proof, err := ownership.Sign(g.keys[i], c.PkScript, msg)
		if err != nil {
			factor.Zero()
			log.Errorf("Group %d: unable to prove ownership of %v: %v",
				g.id, c.OutPoint, err)
			return
		}
		inputs[i] = coordinator.InputProof{
			OutPoint: c.OutPoint,
			Proof:    proof,
		}
	}

	g.state = Registering
	resp, err := a.cfg.Alice.RegisterInput(ctx,
		&coordinator.RegisterInputRequest{
			RoundHash:     st.RoundHash,
			Inputs:        inputs,
			BlindedOutput: blinded,
			ChangeScript:  g.changeScript,
		},
	)
	if err != nil {
		factor.Zero()
		g.state = Unregistered
		a.registrationFailed(g, err)
		return
	}

	g.uniqueID = resp.UniqueID
	g.roundID = resp.RoundID
	g.roundHash = st.RoundHash
	g.terms = terms
	g.key = key
	g.factor = factor
	g.blindSig = resp.BlindSignature
	g.phase = coordinator.InputRegistration
	g.state = Confirming
	g.err = nil

	log.Infof("Group %d: registered %d inputs in round %d", g.id,
		len(g.coins), g.roundID)
}

// registrationFailed handles a refused registration.
func (a *Agent) registrationFailed(g *group, err error) {
	var banned *coordinator.BannedInput
	switch {
	case errors.As(err, &banned):
		g.bannedUntil = a.cfg.Clock.Now().Add(banned.Remaining)
		g.state = Banned
		log.Warnf("Group %d: %v", g.id, banned)

	case coordinator.IsError(err, coordinator.ErrInsufficientFunds):
		a.dequeueLocked(g, err)

	case coordinator.IsError(err, coordinator.ErrValidation):
		// Unconfirmed coins are refused until they confirm.
		g.err = err
		log.Warnf("Group %d: registration refused: %v", g.id, err)

	default:
		log.Debugf("Group %d: registration failed, will retry: %v",
			g.id, err)
	}
}

// abandon gives up the group's registration. The coordinator may ban the
// coins, which the next registration attempt learns.
func (a *Agent) abandon(g *group, err error) {
	log.Errorf("Group %d: leaving round %d: %v", g.id, g.roundID, err)

	g.clearRegistration()
	g.state = Unregistered
	g.err = err
}

// confirm sends the heartbeat or connection confirmation and follows the
// round into output registration.
func (a *Agent) confirm(ctx context.Context, g *group,
	statuses []coordinator.RoundStatus) {

	resp, err := a.cfg.Alice.ConfirmConnection(ctx,
		&coordinator.ConfirmConnectionRequest{
			UniqueID:  g.uniqueID,
			RoundHash: g.roundHash,
		},
	)
	if err != nil {
		if coordinator.IsError(err, coordinator.ErrRoundNotRunning) {
			log.Infof("Group %d: registration in round %d ended",
				g.id, g.roundID)
			g.clearRegistration()
			g.state = Unregistered
			return
		}
		log.Warnf("Group %d: unable to confirm connection: %v", g.id,
			err)
		return
	}

	if resp.RoundID != g.roundID {
		log.Infof("Group %d: carried over from round %d to %d", g.id,
			g.roundID, resp.RoundID)
		g.roundID = resp.RoundID
		g.blindSig = nil
	}

	if resp.NeedsBlindedOutput {
		st := findRound(statuses, resp.RoundID)
		if st == nil {
			return
		}
		resp, err = a.reblind(ctx, g, st)
		if err != nil {
			log.Warnf("Group %d: unable to blind output for round "+
				"%d: %v", g.id, g.roundID, err)
			return
		}
		if resp.NeedsBlindedOutput {
			return
		}
	}

	if len(resp.BlindSignature) > 0 {
		g.blindSig = resp.BlindSignature
	}
	g.phase = resp.Phase

	switch resp.Phase {
	case coordinator.OutputRegistration:
		g.state = AwaitingOutputPhase

	case coordinator.Signing:
		g.state = Signing
	}
}

// reblind blinds the group's output under the current key of st and sends
// it with a confirmation.
func (a *Agent) reblind(ctx context.Context, g *group,
	st *coordinator.RoundStatus) (*coordinator.ConfirmConnectionResponse,
	error) {

	key, err := blindsig.ParsePublicKey(st.BlindingKey)
	if err != nil {
		return nil, err
	}
	factor, blinded, err := key.Blind(g.activeScript)
	if err != nil {
		return nil, err
	}

	resp, err := a.cfg.Alice.ConfirmConnection(ctx,
		&coordinator.ConfirmConnectionRequest{
			UniqueID:      g.uniqueID,
			RoundHash:     st.RoundHash,
			BlindedOutput: blinded,
		},
	)
	if err != nil {
		factor.Zero()
		return nil, err
	}
	if resp.NeedsBlindedOutput {
		factor.Zero()
		return resp, nil
	}

	if g.factor != nil {
		g.factor.Zero()
	}
	g.roundID = resp.RoundID
	g.roundHash = st.RoundHash
	g.terms = roundTerms(st)
	g.key = key
	g.factor = factor

	log.Debugf("Group %d: blinded output for round %d", g.id, g.roundID)

	return resp, nil
}

// registerOutput unblinds the signature and registers the covert output
// through the Bob client.
func (a *Agent) registerOutput(ctx context.Context, g *group) {
	if g.key == nil || len(g.blindSig) == 0 {
		g.state = Confirming
		return
	}

	sig, err := g.key.Unblind(g.blindSig, g.factor)
	if err != nil || !g.key.Verify(sig, g.activeScript) {
		a.abandon(g, errors.New("coordinator returned an invalid blind "+
			"signature"))
		return
	}

	err = a.cfg.Bob.RegisterOutput(ctx, &coordinator.RegisterOutputRequest{
		RoundHash:    g.roundHash,
		OutputScript: g.activeScript,
		Signature:    sig,
	})
	switch {
	// A conflict means an earlier attempt got through.
	case err == nil, coordinator.IsError(err, coordinator.ErrConflict):
		g.state = Signing

	case coordinator.IsError(err, coordinator.ErrRoundNotRunning):
		g.state = Confirming

	default:
		log.Warnf("Group %d: unable to register output: %v", g.id, err)
	}
}

// sign verifies and signs the coinjoin, then waits for the round result.
func (a *Agent) sign(ctx context.Context, g *group) {
	if g.signed {
		a.awaitResult(ctx, g)
		return
	}

	raw, err := a.cfg.Alice.GetUnsignedCoinJoin(ctx, g.roundID)
	switch {
	case err == nil:

	// The round is still collecting outputs.
	case coordinator.IsError(err, coordinator.ErrValidation):
		return

	case coordinator.IsError(err, coordinator.ErrRoundNotRunning),
		coordinator.IsError(err, coordinator.ErrNotFound):

		g.state = Confirming
		return

	default:
		log.Warnf("Group %d: unable to fetch coinjoin: %v", g.id, err)
		return
	}

	witnesses, err := signCoinJoin(g, raw, a.cfg.RelayFeePerKb)
	if err != nil {
		a.abandon(g, err)
		return
	}

	err = a.cfg.Alice.SubmitSignatures(ctx,
		&coordinator.SubmitSignaturesRequest{
			UniqueID:  g.uniqueID,
			RoundID:   g.roundID,
			Witnesses: witnesses,
		},
	)
	switch {
	case err == nil:
		g.signed = true
		log.Infof("Group %d: signed coinjoin of round %d", g.id,
			g.roundID)

	case coordinator.IsError(err, coordinator.ErrBroadcastRejected):
		g.signed = true
		log.Warnf("Group %d: %v", g.id, err)

	case coordinator.IsError(err, coordinator.ErrRoundNotRunning):
		g.state = Confirming

	default:
		log.Warnf("Group %d: unable to submit signatures: %v", g.id, err)
	}

	if g.signed {
		a.awaitResult(ctx, g)
	}
}

// awaitResult finishes the group once its round succeeded. A failed round
// may have carried the group over, which confirming reveals.
func (a *Agent) awaitResult(ctx context.Context, g *group) {
	res, err := a.cfg.Alice.RoundResult(ctx, g.roundID)
	if err != nil {
		log.Warnf("Group %d: unable to fetch result of round %d: %v",
			g.id, g.roundID, err)
		return
	}
	g.phase = res.Phase

	switch res.Phase {
	case coordinator.Succeeded:
		g.txid = res.TxID
		g.wipe()
		g.state = Done

		log.Infof("Group %d: mixed in coinjoin %v", g.id, g.txid)

		if g.txid == nil {
			return
		}
		if err := a.cfg.Coins.MarkSpent(*g.txid,
			g.outPoints()...); err != nil {

			log.Errorf("Group %d: unable to mark coins spent: %v",
				g.id, err)
		}

	case coordinator.Failed:
		log.Infof("Group %d: round %d failed: %s", g.id, g.roundID,
			res.Reason)
		g.signed = false
		g.state = Confirming
	}
}
