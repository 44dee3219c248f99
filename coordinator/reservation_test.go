// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/blindsig"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// inputRoundStatuses returns the rounds in InputRegistration ordered by id.
func (h *testHarness) inputRoundStatuses() []RoundStatus {
	h.t.Helper()

	statuses, err := h.m.Status(context.Background())
	require.NoError(h.t, err)

	var open []RoundStatus
	for _, st := range statuses {
		if st.Phase == InputRegistration {
			open = append(open, st)
		}
	}

	return open
}

// TestRegisterInputConcurrentRounds checks that a coin registered at the
// same time in two rounds taking registrations ends up in exactly one.
func TestRegisterInputConcurrentRounds(t *testing.T) {
	t.Parallel()

	cfg := testRoundConfig()
	h := newTestHarness(t, cfg)

	// A failed confirmation leaves a successor next to the fresh round.
	alices := []*testAlice{
		h.newAlice(1_100_000),
		h.newAlice(1_100_000),
		h.newAlice(1_100_000),
	}
	for _, a := range alices {
		h.register(a)
	}
	h.confirm(alices[0])
	h.confirm(alices[1])
	h.advance(cfg.ConnectionConfirmationTimeout + time.Second)

	open := h.inputRoundStatuses()
	require.Len(t, open, 2)

	// Carried coins stay with the successor.
	carried := alices[0]
	for _, st := range open {
		if st.RegisteredPeerCount != 0 {
			continue
		}
		h.blind(carried, st)
		_, err := h.m.RegisterInput(
			context.Background(), h.registerRequest(carried),
		)
		requireCode(t, err, ErrConflict)
	}

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	utxo := &chain.UnspentOutput{
		OutPoint: wire.OutPoint{
			Hash: chainhash.HashH([]byte("contested")),
		},
		Value:         1_100_000,
		PkScript:      p2wpkhScript(t, key),
		Confirmations: 6,
	}
	op := utxo.OutPoint

	// Both lookups return together, after each request chose its round.
	var arrived sync.WaitGroup
	arrived.Add(len(open))
	h.chain.On("UnspentOutput", op).Run(func(mock.Arguments) {
		arrived.Done()
		arrived.Wait()
	}).Return(utxo, nil).Times(len(open))

	reqs := make([]*RegisterInputRequest, len(open))
	for i, st := range open {
		a := &testAlice{
			keys:         []*btcec.PrivateKey{key},
			utxos:        []*chain.UnspentOutput{utxo},
			changeScript: newTestScript(t),
			outScript:    newTestScript(t),
		}
		h.blind(a, st)
		reqs[i] = h.registerRequest(a)
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *RegisterInputRequest) {
			defer wg.Done()

			_, errs[i] = h.m.RegisterInput(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	var accepted int
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		requireCode(t, err, ErrConflict)
	}
	require.Equal(t, 1, accepted)

	var holders int
	for _, r := range h.m.openRounds() {
		if r.hasInput(op) {
			holders++
		}
	}
	require.Equal(t, 1, holders)
}

// TestRekeyBlocksRegistration checks that a round replacing its key after
// evicting a signed Alice takes no registrations before the new key is in
// place, so the old signature can never count towards the round.
func TestRekeyBlocksRegistration(t *testing.T) {
	t.Parallel()

	var (
		blockNext atomic.Bool
		entered   = make(chan struct{})
		release   = make(chan struct{})
	)
	newSigner := func(bits int) (blindsig.Scheme, error) {
		if blockNext.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return blindsig.GenerateSigner(rand.Reader, bits)
	}

	cfg := testRoundConfig()
	h := newTestHarness(t, cfg, func(c *Config) {
		c.NewSigner = newSigner
	})

	idle := h.newAlice(1_100_000)
	active := h.newAlice(1_100_000)
	h.register(idle)
	h.register(active)

	r := h.round(idle.roundID)
	oldHash := r.Hash()

	h.clock.SetTime(testStart.Add(cfg.ConnectionConfirmationTimeout / 2))
	h.confirm(active)

	blockNext.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)

		h.advance(cfg.ConnectionConfirmationTimeout/2 + 2*time.Second)
	}()
	<-entered

	// Two newcomers would fill the round under the old key.
	for i := 0; i < 2; i++ {
		a := h.newAlice(1_100_000)
		h.blind(a, r.status())
		_, err := h.m.RegisterInput(
			context.Background(), h.registerRequest(a),
		)
		requireCode(t, err, ErrRoundNotRunning)
	}
	require.Equal(t, 1, r.numAlices())

	close(release)
	<-done

	require.Equal(t, InputRegistration, r.Phase())
	require.NotEqual(t, oldHash, r.Hash())

	// The evicted Alice's signature does not verify under the new key.
	req := h.outputRequest(idle)
	req.RoundHash = r.Hash()
	err := h.m.RegisterOutput(context.Background(), req)
	requireCode(t, err, ErrValidation)

	// Registrations are taken again.
	h.register(h.newAlice(1_100_000))
	require.Equal(t, 2, r.numAlices())
}
