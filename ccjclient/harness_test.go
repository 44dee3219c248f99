// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/prison"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var (
	testStart      = time.Unix(1700000000, 0)
	testPassphrase = []byte("mix me")

	// outPointSeq makes outpoints unique across wallets.
	outPointSeq uint32
)

func testRoundConfig() coordinator.RoundConfig {
	cfg := coordinator.DefaultRoundConfig()
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

func p2wpkhScript(t *testing.T, key *btcec.PrivateKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(key.PubKey().SerializeCompressed())).
		Script()
	require.NoError(t, err)

	return script
}

// testChain is an in-memory UTXO set.
type testChain struct {
	mtx       sync.Mutex
	utxos     map[wire.OutPoint]*chain.UnspentOutput
	broadcast []*wire.MsgTx
}

var _ coordinator.ChainOracle = (*testChain)(nil)

func newTestChain() *testChain {
	return &testChain{
		utxos: make(map[wire.OutPoint]*chain.UnspentOutput),
	}
}

func (c *testChain) UnspentOutput(_ context.Context,
	op wire.OutPoint) (*chain.UnspentOutput, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.utxos[op], nil
}

func (c *testChain) BroadcastTransaction(_ context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.broadcast = append(c.broadcast, tx)
	txid := tx.TxHash()

	return &txid, nil
}

func (c *testChain) transactions() []*wire.MsgTx {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return append([]*wire.MsgTx(nil), c.broadcast...)
}

// testWallet implements the agent's wallet collaborators in memory.
type testWallet struct {
	t     *testing.T
	chain *testChain

	mtx    sync.Mutex
	coins  map[wire.OutPoint]*Coin
	keys   map[string]*btcec.PrivateKey
	locked map[wire.OutPoint]struct{}
	spent  map[wire.OutPoint]chainhash.Hash
}

var (
	_ CoinSource    = (*testWallet)(nil)
	_ KeyRing       = (*testWallet)(nil)
	_ AddressSource = (*testWallet)(nil)
)

func newTestWallet(t *testing.T, c *testChain) *testWallet {
	return &testWallet{
		t:      t,
		chain:  c,
		coins:  make(map[wire.OutPoint]*Coin),
		keys:   make(map[string]*btcec.PrivateKey),
		locked: make(map[wire.OutPoint]struct{}),
		spent:  make(map[wire.OutPoint]chainhash.Hash),
	}
}

// newKey adds a key to the wallet and returns its script.
func (w *testWallet) newKey() []byte {
	key, err := btcec.NewPrivateKey()
	require.NoError(w.t, err)
	script := p2wpkhScript(w.t, key)

	w.mtx.Lock()
	w.keys[string(script)] = key
	w.mtx.Unlock()

	return script
}

// addCoin creates a confirmed wallet coin.
func (w *testWallet) addCoin(value btcutil.Amount) wire.OutPoint {
	script := w.newKey()

	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], atomic.AddUint32(&outPointSeq, 1))
	op := wire.OutPoint{Hash: chainhash.HashH(seq[:])}

	w.mtx.Lock()
	w.coins[op] = &Coin{OutPoint: op, Value: value, PkScript: script}
	w.mtx.Unlock()

	w.chain.mtx.Lock()
	w.chain.utxos[op] = &chain.UnspentOutput{
		OutPoint:      op,
		Value:         value,
		PkScript:      script,
		Confirmations: 6,
	}
	w.chain.mtx.Unlock()

	return op
}

func (w *testWallet) Coin(op wire.OutPoint) (*Coin, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	c, ok := w.coins[op]
	require.True(w.t, ok, "unknown coin %v", op)

	return c, nil
}

func (w *testWallet) LockCoins(ops ...wire.OutPoint) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, op := range ops {
		w.locked[op] = struct{}{}
	}
	return nil
}

func (w *testWallet) UnlockCoins(ops ...wire.OutPoint) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, op := range ops {
		delete(w.locked, op)
	}
	return nil
}

func (w *testWallet) MarkSpent(txid chainhash.Hash,
	ops ...wire.OutPoint) error {

	w.mtx.Lock()
	defer w.mtx.Unlock()

	for _, op := range ops {
		delete(w.locked, op)
		w.spent[op] = txid
	}
	return nil
}

// PrivKeys hands out copies, as the agent zeroes the keys it is done with.
func (w *testWallet) PrivKeys(passphrase []byte,
	pkScripts ...[]byte) ([]*btcec.PrivateKey, error) {

	if !bytes.Equal(passphrase, testPassphrase) {
		return nil, ErrWrongPassphrase
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	keys := make([]*btcec.PrivateKey, len(pkScripts))
	for i, script := range pkScripts {
		key, ok := w.keys[string(script)]
		require.True(w.t, ok)
		keys[i], _ = btcec.PrivKeyFromBytes(key.Serialize())
	}
	return keys, nil
}

func (w *testWallet) NewScript(_ []byte, _ bool) ([]byte, error) {
	return w.newKey(), nil
}

func (w *testWallet) isLocked(op wire.OutPoint) bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	_, ok := w.locked[op]
	return ok
}

func (w *testWallet) numLocked() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return len(w.locked)
}

// testEnv runs a coordinator in process for agents to talk to.
type testEnv struct {
	t *testing.T

	m      *coordinator.Manager
	chain  *testChain
	clock  *clock.TestClock
	ticker *ticker.Force
	cfg    coordinator.RoundConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testRoundConfig()
	clk := clock.NewTestClock(testStart)
	env := &testEnv{
		t:      t,
		chain:  newTestChain(),
		clock:  clk,
		ticker: ticker.NewForce(time.Hour),
		cfg:    cfg,
	}

	m, err := coordinator.New(&coordinator.Config{
		Round: cfg,
		Prison: prison.New(&prison.Config{
			FilePath:          filepath.Join(t.TempDir(), "banned.txt"),
			BaseDuration:      cfg.BanDuration(),
			NotedOffenseLimit: prison.DefaultNotedOffenseLimit,
			Clock:             clk,
		}),
		Chain:  env.chain,
		Clock:  clk,
		Ticker: env.ticker,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	env.m = m

	return env
}

// newAgent returns an unstarted agent with its own wallet.
func (e *testEnv) newAgent() (*Agent, *testWallet) {
	e.t.Helper()

	w := newTestWallet(e.t, e.chain)
	a, err := New(&Config{
		Coins:     w,
		Keys:      w,
		Addresses: w,
		Alice:     e.m,
		Bob:       e.m,
		Ticker:    ticker.NewForce(time.Hour),
		Clock:     e.clock,
	})
	require.NoError(e.t, err)

	return a, w
}

// newQueuedAgent returns an agent with one coin of value queued.
func (e *testEnv) newQueuedAgent(value btcutil.Amount) (*Agent, *testWallet,
	wire.OutPoint) {

	e.t.Helper()

	a, w := e.newAgent()
	op := w.addCoin(value)

	n, err := a.QueueCoinsToMix(testPassphrase, op)
	require.NoError(e.t, err)
	require.Equal(e.t, 1, n)

	return a, w, op
}

// poll runs one poll of each agent in order.
func (e *testEnv) poll(agents ...*Agent) {
	for _, a := range agents {
		a.poll(context.Background())
	}
}

// tick moves the clock and runs the coordinator's timeout check.
func (e *testEnv) tick(d time.Duration) {
	e.clock.SetTime(e.clock.Now().Add(d))
	e.ticker.Force <- e.clock.Now()
}

func (e *testEnv) statuses() []coordinator.RoundStatus {
	e.t.Helper()

	statuses, err := e.m.Status(context.Background())
	require.NoError(e.t, err)

	return statuses
}

// groupState returns the only group of a.
func groupState(t *testing.T, a *Agent) GroupStatus {
	t.Helper()

	states := a.State()
	require.Len(t, states, 1)

	return states[0]
}
