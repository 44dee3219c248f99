// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/ownership"
	"github.com/btcsuite/btcjoin/prison"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var testStart = time.Unix(1700000000, 0)

// testRoundConfig returns a small round configuration with round numbers.
func testRoundConfig() RoundConfig {
	cfg := DefaultRoundConfig()
	cfg.Denomination = 1_000_000
	cfg.AnonymitySet = 3
	cfg.CoordinatorFeePercent = 0.3
	cfg.FeePerInput = 1000
	cfg.FeePerOutput = 500
	cfg.MaxInputsPerPeer = 3
	cfg.NoteBeforeBan = false
	cfg.BanDurationHours = 1
	cfg.BlindingKeyBits = 1024

	return cfg
}

// p2wpkhScript returns the P2WPKH script of key.
func p2wpkhScript(t *testing.T, key *btcec.PrivateKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(key.PubKey().SerializeCompressed())).
		Script()
	require.NoError(t, err)

	return script
}

func newTestScript(t *testing.T) []byte {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return p2wpkhScript(t, key)
}

type testHarness struct {
	t *testing.T

	m      *Manager
	chain  *mockChain
	prison *prison.Prison
	clock  *clock.TestClock
	ticker *ticker.Force

	coordScript []byte
	nextIndex   uint32
}

// newTestHarness starts a manager over mocks. Options adjust the manager
// config before it is created.
func newTestHarness(t *testing.T, cfg RoundConfig,
	opts ...func(*Config)) *testHarness {

	t.Helper()

	clk := clock.NewTestClock(testStart)
	p := prison.New(&prison.Config{
		FilePath:          filepath.Join(t.TempDir(), "banned.txt"),
		BaseDuration:      cfg.BanDuration(),
		NotedOffenseLimit: prison.DefaultNotedOffenseLimit,
		Clock:             clk,
	})

	h := &testHarness{
		t:           t,
		chain:       &mockChain{},
		prison:      p,
		clock:       clk,
		ticker:      ticker.NewForce(time.Hour),
		coordScript: newTestScript(t),
	}

	mcfg := &Config{
		Round:             cfg,
		Prison:            p,
		Chain:             h.chain,
		CoordinatorScript: h.coordScript,
		Clock:             clk,
		Ticker:            h.ticker,
	}
	for _, opt := range opts {
		opt(mcfg)
	}

	m, err := New(mcfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	h.m = m

	return h
}

// advance moves the clock forward and runs a timeout check.
func (h *testHarness) advance(d time.Duration) {
	h.clock.SetTime(h.clock.Now().Add(d))
	h.m.tick(context.Background())
}

// round returns an open or retired round.
func (h *testHarness) round(id uint64) *Round {
	h.t.Helper()

	r, _, err := h.m.lookupRound(id)
	require.NoError(h.t, err)

	return r
}

// inputRound returns the status of the round new Alices are sent to.
func (h *testHarness) inputRound() RoundStatus {
	h.t.Helper()

	r, err := h.m.inputRound(chainhash.Hash{})
	require.NoError(h.t, err)

	return r.status()
}

// testAlice is a participant with its keys and coins.
type testAlice struct {
	keys  []*btcec.PrivateKey
	utxos []*chain.UnspentOutput

	changeScript []byte
	outScript    []byte

	key       *blindsig.PublicKey
	roundHash chainhash.Hash
	factor    *blindsig.BlindingFactor
	blinded   []byte

	id       uuid.UUID
	roundID  uint64
	blindSig []byte
}

// newUtxo creates a confirmed P2WPKH coin known to the chain mock.
func (h *testHarness) newUtxo(value btcutil.Amount,
	confs uint32) (*btcec.PrivateKey, *chain.UnspentOutput) {

	h.t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(h.t, err)

	h.nextIndex++
	op := wire.OutPoint{
		Hash:  chainhash.HashH([]byte(h.t.Name())),
		Index: h.nextIndex,
	}
	utxo := &chain.UnspentOutput{
		OutPoint:      op,
		Value:         value,
		PkScript:      p2wpkhScript(h.t, key),
		Confirmations: confs,
	}
	h.chain.On("UnspentOutput", op).Return(utxo, nil).Maybe()

	return key, utxo
}

func (h *testHarness) newAlice(values ...btcutil.Amount) *testAlice {
	h.t.Helper()

	a := &testAlice{
		changeScript: newTestScript(h.t),
		outScript:    newTestScript(h.t),
	}
	for _, v := range values {
		key, utxo := h.newUtxo(v, 6)
		a.keys = append(a.keys, key)
		a.utxos = append(a.utxos, utxo)
	}

	return a
}

// blind blinds the covert output under the key of the given round.
func (h *testHarness) blind(a *testAlice, status RoundStatus) {
	h.t.Helper()

	key, err := blindsig.ParsePublicKey(status.BlindingKey)
	require.NoError(h.t, err)

	factor, blinded, err := key.Blind(a.outScript)
	require.NoError(h.t, err)

	a.key = key
	a.roundHash = status.RoundHash
	a.factor = factor
	a.blinded = blinded
}

func (h *testHarness) registerRequest(a *testAlice) *RegisterInputRequest {
	h.t.Helper()

	msg := ownership.Message(a.blinded)
	inputs := make([]InputProof, len(a.utxos))
	for i, utxo := range a.utxos {
		proof, err := ownership.Sign(a.keys[i], utxo.PkScript, msg)
		require.NoError(h.t, err)

		inputs[i] = InputProof{OutPoint: utxo.OutPoint, Proof: proof}
	}

	return &RegisterInputRequest{
		RoundHash:     a.roundHash,
		Inputs:        inputs,
		BlindedOutput: a.blinded,
		ChangeScript:  a.changeScript,
	}
}

// register blinds for the current input round and registers a.
func (h *testHarness) register(a *testAlice) {
	h.t.Helper()

	h.blind(a, h.inputRound())

	resp, err := h.m.RegisterInput(
		context.Background(), h.registerRequest(a),
	)
	require.NoError(h.t, err)

	a.id = resp.UniqueID
	a.roundID = resp.RoundID
	a.blindSig = resp.BlindSignature
}

func (h *testHarness) confirm(a *testAlice) *ConfirmConnectionResponse {
	h.t.Helper()

	resp, err := h.m.ConfirmConnection(
		context.Background(), &ConfirmConnectionRequest{
			UniqueID:  a.id,
			RoundHash: a.roundHash,
		},
	)
	require.NoError(h.t, err)

	return resp
}

func (h *testHarness) outputRequest(a *testAlice) *RegisterOutputRequest {
	h.t.Helper()

	sig, err := a.key.Unblind(a.blindSig, a.factor)
	require.NoError(h.t, err)

	return &RegisterOutputRequest{
		RoundHash:    a.roundHash,
		OutputScript: a.outScript,
		Signature:    sig,
	}
}

func (h *testHarness) registerOutput(a *testAlice) {
	h.t.Helper()

	err := h.m.RegisterOutput(context.Background(), h.outputRequest(a))
	require.NoError(h.t, err)
}

// witnesses signs every input of a in the serialized coinjoin.
func (h *testHarness) witnesses(a *testAlice,
	raw []byte) map[int]wire.TxWitness {

	h.t.Helper()

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(h.t, err)

	tx := packet.UnsignedTx
	prevOuts := txscript.NewMultiPrevOutFetcher(
		make(map[wire.OutPoint]*wire.TxOut),
	)
	for i, txIn := range tx.TxIn {
		prevOuts.AddPrevOut(
			txIn.PreviousOutPoint, packet.Inputs[i].WitnessUtxo,
		)
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	witnesses := make(map[int]wire.TxWitness)
	for i, txIn := range tx.TxIn {
		for j, utxo := range a.utxos {
			if utxo.OutPoint != txIn.PreviousOutPoint {
				continue
			}

			witness, err := txscript.WitnessSignature(
				tx, sigHashes, i, int64(utxo.Value),
				utxo.PkScript, txscript.SigHashAll, a.keys[j],
				true,
			)
			require.NoError(h.t, err)

			witnesses[i] = witness
		}
	}
	require.Len(h.t, witnesses, len(a.utxos))

	return witnesses
}

func (h *testHarness) submit(a *testAlice, raw []byte) error {
	h.t.Helper()

	return h.m.SubmitSignatures(
		context.Background(), &SubmitSignaturesRequest{
			UniqueID:  a.id,
			RoundID:   a.roundID,
			Witnesses: h.witnesses(a, raw),
		},
	)
}

func (h *testHarness) unsignedCoinJoin(roundID uint64) []byte {
	h.t.Helper()

	raw, err := h.m.GetUnsignedCoinJoin(context.Background(), roundID)
	require.NoError(h.t, err)

	return raw
}

// runToOutputRegistration registers and confirms alices, which must fill
// a round.
func (h *testHarness) runToOutputRegistration(alices ...*testAlice) uint64 {
	h.t.Helper()

	for _, a := range alices {
		h.register(a)
	}
	roundID := alices[0].roundID
	require.Equal(h.t, ConnectionConfirmation, h.round(roundID).Phase())

	for _, a := range alices {
		resp := h.confirm(a)
		require.False(h.t, resp.NeedsBlindedOutput)
	}
	require.Equal(h.t, OutputRegistration, h.round(roundID).Phase())

	return roundID
}

// runToSigning also registers every covert output.
func (h *testHarness) runToSigning(alices ...*testAlice) uint64 {
	h.t.Helper()

	roundID := h.runToOutputRegistration(alices...)
	for _, a := range alices {
		h.registerOutput(a)
	}
	require.Equal(h.t, Signing, h.round(roundID).Phase())

	return roundID
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()

	require.Error(t, err)
	require.Truef(t, IsError(err, code), "want %v, got %v", code, err)
}
