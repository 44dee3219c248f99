// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/ccjclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	testPass  = []byte("coin store")
	testStart = time.Unix(1700000000, 0)
)

func testConfig(t *testing.T) *Config {
	return &Config{
		DBPath:    filepath.Join(t.TempDir(), "coins.db"),
		Net:       &chaincfg.RegressionNetParams,
		DBTimeout: time.Second,
		Scrypt:    &FastScryptOptions,
		Clock:     clock.NewTestClock(testStart),
	}
}

func testStore(t *testing.T) (*Store, *Config) {
	t.Helper()

	cfg := testConfig(t)
	s, err := Create(cfg, testPass)
	require.NoError(t, err)

	return s, cfg
}

func testOutPoint(seed string, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.HashH([]byte(seed)), Index: index}
}

func TestCreateOpen(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	_, err := Open(cfg)
	require.True(t, IsError(err, ErrNoExist))

	_, err = Create(&Config{DBPath: cfg.DBPath}, testPass)
	require.True(t, IsError(err, ErrInput))

	_, err = Create(cfg, nil)
	require.True(t, IsError(err, ErrInput))

	s, err := Create(cfg, testPass)
	require.NoError(t, err)
	script, err := s.NewScript(testPass, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(cfg, testPass)
	require.True(t, IsError(err, ErrAlreadyExists))

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.PrivKeys(testPass, script)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestKeys(t *testing.T) {
	t.Parallel()

	s, _ := testStore(t)
	defer s.Close()

	script, err := s.NewScript(testPass, false)
	require.NoError(t, err)
	require.True(t, txscript.IsPayToWitnessPubKeyHash(script))

	_, err = s.NewScript([]byte("wrong"), false)
	require.ErrorIs(t, err, ccjclient.ErrWrongPassphrase)
	require.True(t, IsError(err, ErrWrongPassphrase))

	_, err = s.PrivKeys([]byte("wrong"), script)
	require.ErrorIs(t, err, ccjclient.ErrWrongPassphrase)

	keys, err := s.PrivKeys(testPass, script)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(keys[0].PubKey().SerializeCompressed()),
		&chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	got, err := s.Address(script)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), got.EncodeAddress())

	_, err = s.PrivKeys(testPass, []byte{txscript.OP_TRUE})
	require.True(t, IsError(err, ErrUnknownScript))

	newAddr, err := s.NewAddress(testPass, true)
	require.NoError(t, err)
	require.IsType(t, &btcutil.AddressWitnessPubKeyHash{}, newAddr)
}

func TestImportPrivKey(t *testing.T) {
	t.Parallel()

	s, _ := testStore(t)
	defer s.Close()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	wif, err := btcutil.NewWIF(priv, &chaincfg.MainNetParams, true)
	require.NoError(t, err)
	_, err = s.ImportPrivKey(testPass, wif)
	require.True(t, IsError(err, ErrInput))

	wif, err = btcutil.NewWIF(priv, &chaincfg.RegressionNetParams, true)
	require.NoError(t, err)
	script, err := s.ImportPrivKey(testPass, wif)
	require.NoError(t, err)

	keys, err := s.PrivKeys(testPass, script)
	require.NoError(t, err)
	require.Equal(t, priv.Serialize(), keys[0].Serialize())
}

func TestChangePassphrase(t *testing.T) {
	t.Parallel()

	s, cfg := testStore(t)

	script, err := s.NewScript(testPass, false)
	require.NoError(t, err)
	before, err := s.PrivKeys(testPass, script)
	require.NoError(t, err)

	newPass := []byte("new pass")
	err = s.ChangePassphrase([]byte("wrong"), newPass, &FastScryptOptions)
	require.True(t, IsError(err, ErrWrongPassphrase))

	err = s.ChangePassphrase(testPass, nil, &FastScryptOptions)
	require.True(t, IsError(err, ErrInput))

	require.NoError(t, s.ChangePassphrase(
		testPass, newPass, &FastScryptOptions,
	))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.PrivKeys(testPass, script)
	require.True(t, IsError(err, ErrWrongPassphrase))

	after, err := s.PrivKeys(newPass, script)
	require.NoError(t, err)
	require.Equal(t, before[0].Serialize(), after[0].Serialize())
}

func TestCoins(t *testing.T) {
	t.Parallel()

	s, cfg := testStore(t)

	script, err := s.NewScript(testPass, false)
	require.NoError(t, err)
	change, err := s.NewScript(testPass, true)
	require.NoError(t, err)

	op1 := testOutPoint("a", 0)
	op2 := testOutPoint("a", 1)
	unknown := testOutPoint("b", 0)

	require.True(t, IsError(
		s.AddCoin(op1, 1000, []byte{txscript.OP_TRUE}, ""),
		ErrUnknownScript,
	))
	require.True(t, IsError(s.AddCoin(op1, 0, script, ""), ErrInput))

	require.NoError(t, s.AddCoin(op1, 100_000, script, "savings"))
	require.NoError(t, s.AddCoin(op2, 200_000, change, ""))

	coin, err := s.Coin(op1)
	require.NoError(t, err)
	require.Equal(t, &ccjclient.Coin{
		OutPoint: op1,
		Value:    100_000,
		PkScript: script,
	}, coin)

	_, err = s.Coin(unknown)
	require.True(t, IsError(err, ErrUnknownCoin))

	// Locking is all or nothing.
	require.NoError(t, s.LockCoins(op1))
	require.True(t, IsError(s.LockCoins(op2, op1), ErrCoinLocked))
	require.False(t, s.IsLocked(op2))
	require.True(t, IsError(s.LockCoins(op2, unknown), ErrUnknownCoin))
	require.False(t, s.IsLocked(op2))

	coins, err := s.Coins()
	require.NoError(t, err)
	require.Equal(t, []CoinInfo{
		{
			Coin: ccjclient.Coin{
				OutPoint: op1,
				Value:    100_000,
				PkScript: script,
			},
			Label:  "savings",
			Locked: true,
		},
		{
			Coin: ccjclient.Coin{
				OutPoint: op2,
				Value:    200_000,
				PkScript: change,
			},
			Change: true,
		},
	}, coins)

	require.NoError(t, s.UnlockCoins(op1))
	require.False(t, s.IsLocked(op1))

	require.NoError(t, s.SetLabel(op2, "mixed"))
	require.True(t, IsError(s.SetLabel(unknown, "x"), ErrUnknownCoin))
	coins, err = s.Coins()
	require.NoError(t, err)
	require.Equal(t, "mixed", coins[1].Label)

	require.NoError(t, s.LockCoins(op1, op2))
	txid := chainhash.HashH([]byte("coinjoin"))
	require.True(t, IsError(s.MarkSpent(txid, op1, unknown), ErrUnknownCoin))
	require.NoError(t, s.MarkSpent(txid, op1))
	require.False(t, s.IsLocked(op1))
	require.True(t, s.IsLocked(op2))

	_, err = s.Coin(op1)
	require.True(t, IsError(err, ErrUnknownCoin))
	require.True(t, IsError(s.AddCoin(op1, 100_000, script, ""), ErrInput))

	require.NoError(t, s.Close())

	// Coins and history persist, locks do not.
	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	coins, err = s.Coins()
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, op2, coins[0].OutPoint)
	require.False(t, coins[0].Locked)

	history, err := s.History()
	require.NoError(t, err)
	require.Equal(t, []SpentCoin{{
		OutPoint: op1,
		Value:    100_000,
		TxID:     txid,
		Time:     testStart,
	}}, history)
}
