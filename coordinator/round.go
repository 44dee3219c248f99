// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/google/uuid"
)

// Round is one instance of the coinjoin state machine. All methods are safe
// for concurrent use. Transitions happen under the write lock, and a
// transition away from a phase happens at most once.
type Round struct {
	id  uint64
	cfg RoundConfig

	// coordScript receives the coordinator fee, nil to leave it to the
	// miners.
	coordScript []byte

	// relayFee is the relay fee per kB dust checks are made against.
	relayFee btcutil.Amount

	mtx sync.RWMutex

	signer blindsig.Scheme
	hash   chainhash.Hash

	phase          Phase
	phaseEnteredAt time.Time

	// rekeying is set from the eviction of a signed Alice until the
	// round key is replaced. No Alice registers meanwhile.
	rekeying bool

	alices  map[uuid.UUID]*Alice
	inputs  map[wire.OutPoint]uuid.UUID
	blinded map[string]uuid.UUID

	// outputs maps registered output scripts to their unblinded
	// signatures.
	outputs map[string][]byte

	// The unsigned coinjoin, built on entering Signing.
	packet      *psbt.Packet
	serialized  []byte
	prevOuts    *txscript.MultiPrevOutFetcher
	inputOwners []uuid.UUID

	witnesses    map[int]wire.TxWitness
	finalTx      *wire.MsgTx
	broadcasting bool

	txid   *chainhash.Hash
	reason string
}

// newRound creates a round in InputRegistration.
func newRound(id uint64, cfg RoundConfig, signer blindsig.Scheme,
	coordScript []byte, relayFee btcutil.Amount, now time.Time) *Round {

	r := &Round{
		id:             id,
		cfg:            cfg,
		coordScript:    coordScript,
		relayFee:       relayFee,
		phase:          InputRegistration,
		phaseEnteredAt: now,
		alices:         make(map[uuid.UUID]*Alice),
		inputs:         make(map[wire.OutPoint]uuid.UUID),
		blinded:        make(map[string]uuid.UUID),
		outputs:        make(map[string][]byte),
		witnesses:      make(map[int]wire.TxWitness),
	}
	r.setSigner(signer)

	return r
}

// roundHash binds a round id to its signing key.
func roundHash(id uint64, key *blindsig.PublicKey) chainhash.Hash {
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], id)

	return chainhash.HashH(append(idBytes[:], key.Serialize()...))
}

// setSigner installs a new round key. The caller must hold the write lock
// or own the round exclusively.
func (r *Round) setSigner(signer blindsig.Scheme) {
	if old, ok := r.signer.(interface{ Zero() }); ok {
		old.Zero()
	}

	r.signer = signer
	r.hash = roundHash(r.id, signer.PublicKey())
}

// ID returns the round id.
func (r *Round) ID() uint64 {
	return r.id
}

// Config returns the configuration of the round.
func (r *Round) Config() RoundConfig {
	return r.cfg
}

// Phase returns the current phase.
func (r *Round) Phase() Phase {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.phase
}

// Hash returns the round hash Bobs register outputs against.
func (r *Round) Hash() chainhash.Hash {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.hash
}

// numAlices returns the number of registered Alices.
func (r *Round) numAlices() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return len(r.alices)
}

// setPhase moves the round forward. The caller must hold the write lock.
func (r *Round) setPhase(p Phase, now time.Time) {
	log.Infof("Round %d: %v -> %v", r.id, r.phase, p)

	r.phase = p
	r.phaseEnteredAt = now
}

// fail ends the round. The caller must hold the write lock.
func (r *Round) fail(reason string, now time.Time) {
	r.reason = reason
	r.setPhase(Failed, now)

	if s, ok := r.signer.(interface{ Zero() }); ok {
		s.Zero()
	}
}

// deadline returns the end of the current phase, the zero time for
// InputRegistration and terminal phases. The caller must hold a lock.
func (r *Round) deadline() time.Time {
	switch r.phase {
	case ConnectionConfirmation:
		return r.phaseEnteredAt.Add(r.cfg.ConnectionConfirmationTimeout)
	case OutputRegistration:
		return r.phaseEnteredAt.Add(r.cfg.OutputRegistrationTimeout)
	case Signing:
		return r.phaseEnteredAt.Add(r.cfg.SigningTimeout)
	default:
		return time.Time{}
	}
}

// checkInputs is the lock-free precheck of a registration: it fails with a
// conflict if any outpoint belongs to an Alice with a different blinded
// output.
func (r *Round) checkInputs(ops []wire.OutPoint, blinded []byte) error {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.checkInputsLocked(ops, blinded)
}

func (r *Round) checkInputsLocked(ops []wire.OutPoint, blinded []byte) error {
	for _, op := range ops {
		id, ok := r.inputs[op]
		if !ok {
			continue
		}

		a := r.alices[id]
		if blinded == nil || !bytes.Equal(a.BlindedOutput, blinded) {
			return coordError(ErrConflict, fmt.Sprintf("input %v "+
				"already registered in round %d", op, r.id),
				nil)
		}
	}

	return nil
}

// registerAlice adds a fully validated Alice draft. Inputs must already
// carry their values and scripts. It returns whether the round moved to
// ConnectionConfirmation.
func (r *Round) registerAlice(draft *Alice, roundHash chainhash.Hash,
	now time.Time) (*RegisterInputResponse, bool, error) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.phase != InputRegistration {
		return nil, false, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is in %v", r.id, r.phase), nil)
	}
	if r.rekeying {
		return nil, false, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is replacing its key", r.id), nil)
	}
	if roundHash != (chainhash.Hash{}) && roundHash != r.hash {
		return nil, false, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d key changed", r.id), nil)
	}

	ops := draft.OutPoints()
	if err := r.checkInputsLocked(ops, draft.BlindedOutput); err != nil {
		return nil, false, err
	}

	// The identical request was already accepted.
	if a, ok := r.registeredOwner(ops); ok {
		if !a.sameRegistration(draft) {
			return nil, false, coordError(ErrConflict,
				"inputs differ from earlier registration", nil)
		}

		a.LastSeen = now
		return &RegisterInputResponse{
			UniqueID:       a.UniqueID,
			RoundID:        r.id,
			BlindSignature: a.BlindSignature,
		}, false, nil
	}

	blindedKey := string(draft.BlindedOutput)
	if _, ok := r.blinded[blindedKey]; ok {
		return nil, false, coordError(ErrConflict,
			"blinded output already registered", nil)
	}

	if uint32(len(ops)) > r.cfg.MaxInputsPerPeer {
		return nil, false, coordError(ErrValidation, fmt.Sprintf(
			"%d inputs exceed the maximum of %d", len(ops),
			r.cfg.MaxInputsPerPeer), nil)
	}

	required := r.cfg.RequiredAmount(len(ops))
	provided := draft.InputSum()
	if provided < required {
		return nil, false, coordError(ErrInsufficientFunds,
			"not enough funds", &InsufficientFunds{
				Required: required,
				Provided: provided,
			})
	}

	if uint32(len(r.alices)) >= r.cfg.AnonymitySet {
		return nil, false, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is full", r.id), nil)
	}

	sig, err := r.signer.SignBlinded(draft.BlindedOutput)
	if err != nil {
		return nil, false, coordError(ErrValidation,
			"invalid blinded output", err)
	}

	a := draft
	a.UniqueID = uuid.New()
	a.BlindSignature = sig
	a.RegisteredAt = now
	a.LastSeen = now

	r.addAlice(a)

	log.Debugf("Round %d: registered Alice %v with %d inputs (%d/%d)",
		r.id, a.UniqueID, len(a.Inputs), len(r.alices),
		r.cfg.AnonymitySet)

	var advanced bool
	if uint32(len(r.alices)) == r.cfg.AnonymitySet {
		r.setPhase(ConnectionConfirmation, now)
		advanced = true
	}

	return &RegisterInputResponse{
		UniqueID:       a.UniqueID,
		RoundID:        r.id,
		BlindSignature: sig,
	}, advanced, nil
}

// registeredOwner returns the Alice holding any of ops. The caller must
// hold a lock.
func (r *Round) registeredOwner(ops []wire.OutPoint) (*Alice, bool) {
	for _, op := range ops {
		if a, ok := r.inputOwner(op); ok {
			return a, true
		}
	}
	return nil, false
}

// hasInput reports whether an Alice of the round registered op.
func (r *Round) hasInput(op wire.OutPoint) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	_, ok := r.inputs[op]
	return ok
}

// outPoints returns every registered input.
func (r *Round) outPoints() []wire.OutPoint {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	ops := make([]wire.OutPoint, 0, len(r.inputs))
	for op := range r.inputs {
		ops = append(ops, op)
	}
	return ops
}

// addAlice indexes a. The caller must hold the write lock.
func (r *Round) addAlice(a *Alice) {
	r.alices[a.UniqueID] = a
	for _, in := range a.Inputs {
		r.inputs[in.OutPoint] = a.UniqueID
	}
	if a.BlindedOutput != nil {
		r.blinded[string(a.BlindedOutput)] = a.UniqueID
	}
}

// removeAlice drops a. The caller must hold the write lock.
func (r *Round) removeAlice(a *Alice) {
	delete(r.alices, a.UniqueID)
	for _, in := range a.Inputs {
		delete(r.inputs, in.OutPoint)
	}
	if a.BlindedOutput != nil {
		delete(r.blinded, string(a.BlindedOutput))
	}
}

// carryAlices adds Alices copied from a failed round. Only rounds in
// InputRegistration with room for all of them accept. The second return
// value reports whether the round filled up and moved to
// ConnectionConfirmation.
func (r *Round) carryAlices(alices []*Alice, now time.Time) (bool, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.phase != InputRegistration ||
		uint32(len(r.alices)+len(alices)) > r.cfg.AnonymitySet {

		return false, false
	}

	for _, a := range alices {
		r.addAlice(a)
	}

	log.Infof("Round %d: carried over %d Alices", r.id, len(alices))

	if uint32(len(r.alices)) == r.cfg.AnonymitySet {
		r.setPhase(ConnectionConfirmation, now)
		return true, true
	}

	return true, false
}

// confirm handles ConfirmConnection. It returns whether the round moved to
// OutputRegistration.
func (r *Round) confirm(req *ConfirmConnectionRequest,
	now time.Time) (*ConfirmConnectionResponse, bool, error) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	a, ok := r.alices[req.UniqueID]
	if !ok || r.phase.IsTerminal() {
		return nil, false, coordError(ErrRoundNotRunning,
			"alice not registered in a running round", nil)
	}

	a.LastSeen = now

	canSign := r.phase == InputRegistration ||
		r.phase == ConnectionConfirmation
	keyMatches := req.RoundHash == (chainhash.Hash{}) ||
		req.RoundHash == r.hash

	if canSign && a.BlindSignature == nil && len(req.BlindedOutput) > 0 &&
		keyMatches {

		key := string(req.BlindedOutput)
		if owner, ok := r.blinded[key]; ok && owner != a.UniqueID {
			return nil, false, coordError(ErrConflict,
				"blinded output already registered", nil)
		}

		sig, err := r.signer.SignBlinded(req.BlindedOutput)
		if err != nil {
			return nil, false, coordError(ErrValidation,
				"invalid blinded output", err)
		}

		a.BlindedOutput = req.BlindedOutput
		a.BlindSignature = sig
		r.blinded[key] = a.UniqueID

		log.Debugf("Round %d: Alice %v blinded its output",
			r.id, a.UniqueID)
	}

	var advanced bool
	if r.phase == ConnectionConfirmation && a.BlindSignature != nil &&
		!a.ConnectionConfirmed {

		a.ConnectionConfirmed = true

		if r.allConfirmed() {
			r.setPhase(OutputRegistration, now)
			advanced = true
		}
	}

	return &ConfirmConnectionResponse{
		RoundID:            r.id,
		Phase:              r.phase,
		NeedsBlindedOutput: a.BlindSignature == nil,
		BlindSignature:     a.BlindSignature,
	}, advanced, nil
}

// allConfirmed reports whether every Alice confirmed. The caller must hold
// a lock.
func (r *Round) allConfirmed() bool {
	for _, a := range r.alices {
		if !a.ConnectionConfirmed {
			return false
		}
	}
	return true
}

// registerOutput handles a Bob. It returns whether the round moved to
// Signing.
func (r *Round) registerOutput(script, sig []byte,
	now time.Time) (bool, error) {

	if !txscript.IsPayToWitnessPubKeyHash(script) {
		return false, coordError(ErrValidation,
			"output script is not p2wpkh", nil)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if !r.signer.Verify(sig, script) {
		return false, coordError(ErrValidation,
			"invalid output signature", nil)
	}

	if _, ok := r.outputs[string(script)]; ok {
		return false, coordError(ErrConflict,
			"output already registered", nil)
	}

	if r.phase != OutputRegistration {
		return false, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is in %v", r.id, r.phase), nil)
	}

	r.outputs[string(script)] = sig

	log.Debugf("Round %d: registered output (%d/%d)", r.id,
		len(r.outputs), len(r.alices))

	if len(r.outputs) < len(r.alices) {
		return false, nil
	}

	if err := r.enterSigning(now); err != nil {
		return false, err
	}

	return true, nil
}

// enterSigning builds the unsigned coinjoin and moves to Signing. The
// caller must hold the write lock.
func (r *Round) enterSigning(now time.Time) error {
	packet, owners, prevOuts, err := r.buildCoinJoin()
	if err != nil {
		r.fail(fmt.Sprintf("unable to build coinjoin: %v", err), now)
		return coordError(ErrRoundNotRunning, "round failed", err)
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		r.fail(fmt.Sprintf("unable to serialize coinjoin: %v", err),
			now)
		return coordError(ErrRoundNotRunning, "round failed", err)
	}

	r.packet = packet
	r.serialized = buf.Bytes()
	r.inputOwners = owners
	r.prevOuts = prevOuts
	r.setPhase(Signing, now)

	return nil
}

// sortedAlices returns the Alices ordered by id. The caller must hold a
// lock.
func (r *Round) sortedAlices() []*Alice {
	alices := make([]*Alice, 0, len(r.alices))
	for _, a := range r.alices {
		alices = append(alices, a)
	}
	sort.Slice(alices, func(i, j int) bool {
		return bytes.Compare(
			alices[i].UniqueID[:], alices[j].UniqueID[:],
		) < 0
	})

	return alices
}

// inputOwner returns the Alice that registered op. The caller must hold a
// lock.
func (r *Round) inputOwner(op wire.OutPoint) (*Alice, bool) {
	id, ok := r.inputs[op]
	if !ok {
		return nil, false
	}
	a, ok := r.alices[id]
	return a, ok
}

// unsignedCoinJoin returns the serialized unsigned coinjoin.
func (r *Round) unsignedCoinJoin() ([]byte, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	switch r.phase {
	case Signing, Succeeded:
		return r.serialized, nil

	case Failed:
		return nil, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d failed", r.id), nil)

	default:
		return nil, coordError(ErrValidation, fmt.Sprintf("round %d "+
			"has no coinjoin in %v", r.id, r.phase), nil)
	}
}

// submitSignatures verifies and stores an Alice's witnesses. Once every
// input is signed the final transaction is returned for broadcasting.
func (r *Round) submitSignatures(req *SubmitSignaturesRequest) (
	*wire.MsgTx, error) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.phase != Signing {
		return nil, coordError(ErrRoundNotRunning,
			fmt.Sprintf("round %d is in %v", r.id, r.phase), nil)
	}

	if _, ok := r.alices[req.UniqueID]; !ok {
		return nil, coordError(ErrValidation,
			"alice not registered in round", nil)
	}
	if len(req.Witnesses) == 0 {
		return nil, coordError(ErrValidation, "no witnesses", nil)
	}

	tx := r.packet.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, r.prevOuts)

	for idx, witness := range req.Witnesses {
		if idx < 0 || idx >= len(tx.TxIn) ||
			r.inputOwners[idx] != req.UniqueID {

			return nil, coordError(ErrValidation, fmt.Sprintf(
				"input %d does not belong to alice", idx), nil)
		}

		if err := r.verifyWitness(idx, witness, sigHashes); err != nil {
			return nil, coordError(ErrValidation, fmt.Sprintf(
				"invalid witness for input %d", idx), err)
		}
	}

	for idx, witness := range req.Witnesses {
		r.witnesses[idx] = witness
	}

	log.Debugf("Round %d: %d/%d inputs signed", r.id, len(r.witnesses),
		len(tx.TxIn))

	if len(r.witnesses) < len(tx.TxIn) || r.finalTx != nil {
		return nil, nil
	}

	final := tx.Copy()
	for idx, witness := range r.witnesses {
		final.TxIn[idx].Witness = witness
	}
	r.finalTx = final
	r.broadcasting = true

	return final.Copy(), nil
}

// verifyWitness runs witness through the script engine. The caller must
// hold a lock.
func (r *Round) verifyWitness(idx int, witness wire.TxWitness,
	sigHashes *txscript.TxSigHashes) error {

	tx := r.packet.UnsignedTx.Copy()
	tx.TxIn[idx].Witness = witness

	prevOut := r.packet.Inputs[idx].WitnessUtxo
	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags, nil,
		sigHashes, prevOut.Value, r.prevOuts,
	)
	if err != nil {
		return err
	}

	return vm.Execute()
}

// beginBroadcast returns the final transaction if it is waiting for a
// broadcast attempt and marks the attempt as running.
func (r *Round) beginBroadcast() *wire.MsgTx {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.phase != Signing || r.finalTx == nil || r.broadcasting {
		return nil
	}

	r.broadcasting = true
	return r.finalTx.Copy()
}

// broadcastOutcome is how a broadcast attempt ended.
type broadcastOutcome uint8

const (
	broadcastDone broadcastOutcome = iota
	broadcastRejected
	broadcastRetry
)

// endBroadcast records the result of a broadcast attempt and returns
// whether the round is now terminal.
func (r *Round) endBroadcast(txid *chainhash.Hash, outcome broadcastOutcome,
	err error, now time.Time) bool {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.broadcasting = false
	if r.phase != Signing {
		return r.phase.IsTerminal()
	}

	switch outcome {
	case broadcastDone:
		r.txid = txid
		r.setPhase(Succeeded, now)
		if s, ok := r.signer.(interface{ Zero() }); ok {
			s.Zero()
		}
		return true

	case broadcastRejected:
		r.fail(fmt.Sprintf("broadcast rejected: %v", err), now)
		return true

	default:
		log.Warnf("Round %d: broadcast deferred: %v", r.id, err)
		return false
	}
}

// expiry is the outcome of a timeout check.
type expiry struct {
	// from is the phase the round was in.
	from Phase

	// failed is set when the round ended.
	failed bool

	// advanced is set when the round moved to Signing with a partial
	// output set.
	advanced bool

	// offenders are the inputs to ban.
	offenders []wire.OutPoint

	// noted overrides the configured NoteBeforeBan for offenders.
	noted bool

	// carry are the well behaved Alices for a successor round.
	carry []*Alice

	// evicted are the Alices dropped for missing heartbeats and released
	// the inputs they held.
	evicted  []uuid.UUID
	released []wire.OutPoint

	// rekey is set when an evicted Alice held a signature under the
	// current key, so the key must be replaced.
	rekey bool
}

// expire checks the round for an elapsed timeout and performs the
// resulting transition. Calling it again after a transition is a no-op for
// the old phase.
func (r *Round) expire(now time.Time) *expiry {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	res := &expiry{from: r.phase, noted: r.cfg.NoteBeforeBan}

	if r.phase == InputRegistration {
		for _, a := range r.sortedAlices() {
			idle := now.Sub(a.LastSeen)
			if idle <= r.cfg.ConnectionConfirmationTimeout {
				continue
			}

			log.Infof("Round %d: removing idle Alice %v", r.id,
				a.UniqueID)

			if a.BlindSignature != nil {
				res.rekey = true
			}
			r.removeAlice(a)
			res.evicted = append(res.evicted, a.UniqueID)
			res.released = append(res.released, a.OutPoints()...)
		}
		if res.rekey {
			r.rekeying = true
		}

		return res
	}

	deadline := r.deadline()
	if deadline.IsZero() || now.Before(deadline) {
		return res
	}

	switch r.phase {
	case ConnectionConfirmation:
		for _, a := range r.sortedAlices() {
			if a.ConnectionConfirmed {
				res.carry = append(res.carry, a.carryOver(r.id, now))
				continue
			}
			res.offenders = append(res.offenders, a.OutPoints()...)
		}
		r.fail("connection confirmation timed out", now)
		res.failed = true

	case OutputRegistration:
		if len(r.outputs) == 0 {
			for _, a := range r.sortedAlices() {
				res.offenders = append(
					res.offenders, a.OutPoints()...,
				)
			}
			res.noted = true
			r.fail("no outputs registered", now)
			res.failed = true

			break
		}

		log.Infof("Round %d: output registration timed out with "+
			"%d/%d outputs", r.id, len(r.outputs), len(r.alices))

		if err := r.enterSigning(now); err != nil {
			res.failed = true
			break
		}
		res.advanced = true

	case Signing:
		// Every witness is in, only the broadcast is outstanding.
		if r.finalTx != nil {
			return res
		}

		signed := make(map[uuid.UUID]int)
		for idx := range r.witnesses {
			signed[r.inputOwners[idx]]++
		}
		for _, a := range r.sortedAlices() {
			if signed[a.UniqueID] == len(a.Inputs) {
				res.carry = append(res.carry, a.carryOver(r.id, now))
				continue
			}
			res.offenders = append(res.offenders, a.OutPoints()...)
		}
		r.fail("signing timed out", now)
		res.failed = true
	}

	return res
}

// rekey replaces the round key while the round is in InputRegistration
// and lets registrations in again. Every Alice has to blind its output
// again.
func (r *Round) rekey(signer blindsig.Scheme) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.rekeying = false
	if r.phase != InputRegistration {
		return false
	}

	r.setSigner(signer)
	r.blinded = make(map[string]uuid.UUID)
	for _, a := range r.alices {
		a.BlindedOutput = nil
		a.BlindSignature = nil
	}

	log.Infof("Round %d: replaced round key, %d Alices must re-blind",
		r.id, len(r.alices))

	return true
}

// abort fails a running round without blaming anyone. Rounds with a
// complete transaction are left to their broadcast.
func (r *Round) abort(reason string, now time.Time) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.phase.IsTerminal() || r.finalTx != nil {
		return false
	}

	r.fail(reason, now)
	return true
}

// aliceIDs returns the ids of all Alices.
func (r *Round) aliceIDs() []uuid.UUID {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.alices))
	for id := range r.alices {
		ids = append(ids, id)
	}
	return ids
}

// status returns the public view of the round.
func (r *Round) status() RoundStatus {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return RoundStatus{
		RoundID:                  r.id,
		Phase:                    r.phase,
		Denomination:             r.cfg.Denomination,
		CoordinatorFeePercent:    r.cfg.CoordinatorFeePercent,
		RequiredPeerCount:        r.cfg.AnonymitySet,
		RegisteredPeerCount:      uint32(len(r.alices)),
		RegistrationTimeout:      r.cfg.ConnectionConfirmationTimeout,
		FeePerInput:              r.cfg.FeePerInput,
		FeePerOutput:             r.cfg.FeePerOutput,
		MaximumInputCountPerPeer: r.cfg.MaxInputsPerPeer,
		RoundHash:                r.hash,
		BlindingKey:              r.signer.PublicKey().Serialize(),
		PhaseDeadline:            r.deadline(),
	}
}

// result returns the outcome of the round.
func (r *Round) result() *RoundResult {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return &RoundResult{
		RoundID: r.id,
		Phase:   r.phase,
		TxID:    r.txid,
		Reason:  r.reason,
	}
}

// String returns a short description for logging.
func (r *Round) String() string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return fmt.Sprintf("round %d (%v, %d alices, hash %s)", r.id, r.phase,
		len(r.alices), hex.EncodeToString(r.hash[:4]))
}
