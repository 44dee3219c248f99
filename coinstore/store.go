// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinstore keeps the coins a mixing wallet owns, the locks the
// coinjoin agent holds on them and their private keys encrypted under a
// passphrase.
package coinstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/ccjclient"
	"github.com/btcsuite/btcjoin/internal/snacl"
	"github.com/btcsuite/btcjoin/internal/zero"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/clock"

	// Register the bolt backed walletdb driver.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

const (
	// DBType is the walletdb driver the store uses.
	DBType = "bdb"

	// DefaultDBTimeout is how long opening the database waits for its
	// file lock.
	DefaultDBTimeout = 60 * time.Second
)

// ScryptOptions is used to hold the scrypt parameters needed when deriving
// the master key from a passphrase.
type ScryptOptions struct {
	N, R, P int
}

var (
	// DefaultScryptOptions is the default options used with scrypt.
	DefaultScryptOptions = ScryptOptions{
		N: snacl.DefaultN,
		R: snacl.DefaultR,
		P: snacl.DefaultP,
	}

	// FastScryptOptions are the scrypt options that should be used for
	// testing purposes only where speed is more important than security.
	FastScryptOptions = ScryptOptions{
		N: 16,
		R: 8,
		P: 1,
	}
)

// Config describes a store.
type Config struct {
	DBPath string
	Net    *chaincfg.Params

	// NoFreelistSync skips syncing the bolt freelist to disk.
	NoFreelistSync bool

	// DBTimeout bounds waiting for the database file lock. Zero means
	// DefaultDBTimeout.
	DBTimeout time.Duration

	// Scrypt sets the cost of deriving the master key when a store is
	// created. Nil means DefaultScryptOptions.
	Scrypt *ScryptOptions

	Clock clock.Clock
}

// CoinInfo describes a stored coin.
type CoinInfo struct {
	ccjclient.Coin

	Label  string
	Change bool
	Locked bool
}

// SpentCoin records a coin that left the store.
type SpentCoin struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	TxID     chainhash.Hash
	Time     time.Time
}

// Store is a walletdb backed coin and key store.
type Store struct {
	db    walletdb.DB
	net   *chaincfg.Params
	clock clock.Clock

	// Locks are kept in memory. A restarted wallet has no agent holding
	// coins.
	mtx    sync.Mutex
	locked map[wire.OutPoint]struct{}
}

// Compile time checks that a store can back the coinjoin agent.
var (
	_ ccjclient.CoinSource    = (*Store)(nil)
	_ ccjclient.KeyRing       = (*Store)(nil)
	_ ccjclient.AddressSource = (*Store)(nil)
)

func newStore(db walletdb.DB, cfg *Config) *Store {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Store{
		db:     db,
		net:    cfg.Net,
		clock:  clk,
		locked: make(map[wire.OutPoint]struct{}),
	}
}

func dbTimeout(cfg *Config) time.Duration {
	if cfg.DBTimeout == 0 {
		return DefaultDBTimeout
	}
	return cfg.DBTimeout
}

// Create creates a store protected by passphrase.
func Create(cfg *Config, passphrase []byte) (*Store, error) {
	if cfg.Net == nil {
		return nil, storeError(ErrInput, "network required", nil)
	}
	if len(passphrase) == 0 {
		return nil, storeError(ErrInput, "empty passphrase", nil)
	}

	db, err := walletdb.Create(
		DBType, cfg.DBPath, cfg.NoFreelistSync, dbTimeout(cfg),
	)
	switch {
	case errors.Is(err, walletdb.ErrDbExists):
		return nil, storeError(ErrAlreadyExists, "store exists", err)
	case err != nil:
		return nil, storeError(ErrDatabase, "unable to create store", err)
	}

	s := newStore(db, cfg)

	opts := DefaultScryptOptions
	if cfg.Scrypt != nil {
		opts = *cfg.Scrypt
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		if err := createBuckets(tx, s.clock.Now()); err != nil {
			return err
		}
		return putMasterKey(tx, passphrase, nil, opts)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Created coin store at %v", cfg.DBPath)

	return s, nil
}

// Open opens an existing store.
func Open(cfg *Config) (*Store, error) {
	if cfg.Net == nil {
		return nil, storeError(ErrInput, "network required", nil)
	}

	db, err := walletdb.Open(
		DBType, cfg.DBPath, cfg.NoFreelistSync, dbTimeout(cfg),
	)
	switch {
	case errors.Is(err, walletdb.ErrDbDoesNotExist):
		return nil, storeError(ErrNoExist, "store does not exist", err)
	case err != nil:
		return nil, storeError(ErrDatabase, "unable to open store", err)
	}

	if err := walletdb.View(db, checkVersion); err != nil {
		db.Close()
		return nil, err
	}

	return newStore(db, cfg), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// putMasterKey derives a master key from passphrase and stores ck, or a new
// crypto key if ck is nil, encrypted under it.
func putMasterKey(tx walletdb.ReadWriteTx, passphrase []byte,
	ck *snacl.CryptoKey, opts ScryptOptions) error {

	pass := append([]byte(nil), passphrase...)
	defer zero.Bytes(pass)

	master, err := snacl.NewSecretKey(&pass, opts.N, opts.R, opts.P)
	if err != nil {
		return storeError(ErrCrypto, "failed to derive master key", err)
	}
	defer master.Zero()

	if ck == nil {
		ck, err = snacl.GenerateCryptoKey()
		if err != nil {
			return storeError(ErrCrypto, "failed to generate crypto "+
				"key", err)
		}
		defer ck.Zero()
	}

	encrypted, err := master.Encrypt(ck[:])
	if err != nil {
		return storeError(ErrCrypto, "failed to encrypt crypto key", err)
	}

	meta := tx.ReadWriteBucket(bucketMeta)
	if err := meta.Put(metaMasterParams, master.Marshal()); err != nil {
		return storeError(ErrDatabase, "failed to put master key", err)
	}
	if err := meta.Put(metaCryptoKey, encrypted); err != nil {
		return storeError(ErrDatabase, "failed to put crypto key", err)
	}

	return nil
}

// unlock returns the crypto key protected by passphrase. The caller must
// zero it.
func unlock(tx walletdb.ReadTx, passphrase []byte) (*snacl.CryptoKey,
	error) {

	meta := tx.ReadBucket(bucketMeta)

	var master snacl.SecretKey
	if err := master.Unmarshal(meta.Get(metaMasterParams)); err != nil {
		return nil, storeError(ErrData, "bad master key params", err)
	}
	defer master.Zero()

	pass := append([]byte(nil), passphrase...)
	defer zero.Bytes(pass)

	err := master.DeriveKey(&pass)
	switch {
	case errors.Is(err, snacl.ErrInvalidPassword):
		return nil, storeError(ErrWrongPassphrase, "unable to unlock "+
			"store", ccjclient.ErrWrongPassphrase)
	case err != nil:
		return nil, storeError(ErrCrypto, "failed to derive master key",
			err)
	}

	decrypted, err := master.Decrypt(meta.Get(metaCryptoKey))
	if err != nil {
		return nil, storeError(ErrCrypto, "failed to decrypt crypto key",
			err)
	}
	defer zero.Bytes(decrypted)

	if len(decrypted) != snacl.KeySize {
		return nil, storeError(ErrData, "bad crypto key", nil)
	}

	var ck snacl.CryptoKey
	copy(ck[:], decrypted)

	return &ck, nil
}

// ChangePassphrase re-protects the store under a new passphrase.
func (s *Store) ChangePassphrase(oldPass, newPass []byte,
	opts *ScryptOptions) error {

	if len(newPass) == 0 {
		return storeError(ErrInput, "empty passphrase", nil)
	}
	if opts == nil {
		opts = &DefaultScryptOptions
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ck, err := unlock(tx, oldPass)
		if err != nil {
			return err
		}
		defer ck.Zero()

		return putMasterKey(tx, newPass, ck, *opts)
	})
}

// p2wpkhScript returns the p2wpkh script paying to key.
func (s *Store) p2wpkhScript(key *btcec.PublicKey) ([]byte, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.SerializeCompressed()), s.net,
	)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// putKey encrypts priv and stores it under its p2wpkh script.
func (s *Store) putKey(tx walletdb.ReadWriteTx, ck *snacl.CryptoKey,
	priv *btcec.PrivateKey, change bool) ([]byte, error) {

	script, err := s.p2wpkhScript(priv.PubKey())
	if err != nil {
		return nil, err
	}

	serialized := priv.Serialize()
	defer zero.Bytes(serialized)

	encrypted, err := ck.Encrypt(serialized)
	if err != nil {
		return nil, storeError(ErrCrypto, "failed to encrypt key", err)
	}

	keys := tx.ReadWriteBucket(bucketKeys)
	v := serializeKey(&keyRecord{change: change, encrypted: encrypted})
	if err := keys.Put(script, v); err != nil {
		return nil, storeError(ErrDatabase, "failed to put key", err)
	}

	return script, nil
}

// NewScript generates a key and returns its p2wpkh script.
func (s *Store) NewScript(passphrase []byte, change bool) ([]byte, error) {
	var script []byte
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ck, err := unlock(tx, passphrase)
		if err != nil {
			return err
		}
		defer ck.Zero()

		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return err
		}
		defer priv.Zero()

		script, err = s.putKey(tx, ck, priv, change)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Generated new %s script", scriptKind(change))

	return script, nil
}

func scriptKind(change bool) string {
	if change {
		return "change"
	}
	return "receive"
}

// NewAddress generates a key and returns its p2wpkh address.
func (s *Store) NewAddress(passphrase []byte,
	change bool) (btcutil.Address, error) {

	script, err := s.NewScript(passphrase, change)
	if err != nil {
		return nil, err
	}
	return s.Address(script)
}

// ImportPrivKey adds a key the wallet did not generate and returns its
// p2wpkh script.
func (s *Store) ImportPrivKey(passphrase []byte,
	wif *btcutil.WIF) ([]byte, error) {

	if !wif.IsForNet(s.net) {
		return nil, storeError(ErrInput, "key is for another network",
			nil)
	}

	var script []byte
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		ck, err := unlock(tx, passphrase)
		if err != nil {
			return err
		}
		defer ck.Zero()

		script, err = s.putKey(tx, ck, wif.PrivKey, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Imported key for %x", script)

	return script, nil
}

// Address returns the address of a script.
func (s *Store) Address(script []byte) (btcutil.Address, error) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, s.net)
	if err != nil {
		return nil, err
	}
	if len(addrs) != 1 {
		return nil, storeError(ErrInput, "script has no single address",
			nil)
	}
	return addrs[0], nil
}

// PrivKeys decrypts the keys of pkScripts. The caller owns the returned
// keys and should zero them.
func (s *Store) PrivKeys(passphrase []byte,
	pkScripts ...[]byte) ([]*btcec.PrivateKey, error) {

	keys := make([]*btcec.PrivateKey, 0, len(pkScripts))
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		ck, err := unlock(tx, passphrase)
		if err != nil {
			return err
		}
		defer ck.Zero()

		bucket := tx.ReadBucket(bucketKeys)
		for _, script := range pkScripts {
			v := bucket.Get(script)
			if v == nil {
				str := fmt.Sprintf("no key for script %x", script)
				return storeError(ErrUnknownScript, str, nil)
			}
			rec, err := deserializeKey(v)
			if err != nil {
				return err
			}

			serialized, err := ck.Decrypt(rec.encrypted)
			if err != nil {
				return storeError(ErrCrypto, "failed to decrypt key",
					err)
			}
			priv, _ := btcec.PrivKeyFromBytes(serialized)
			zero.Bytes(serialized)

			keys = append(keys, priv)
		}

		return nil
	})
	if err != nil {
		for _, k := range keys {
			k.Zero()
		}
		return nil, err
	}

	return keys, nil
}

// AddCoin records an unspent output paying one of the store's scripts.
func (s *Store) AddCoin(op wire.OutPoint, value btcutil.Amount,
	pkScript []byte, label string) error {

	if value <= 0 {
		return storeError(ErrInput, "coin value must be positive", nil)
	}

	v, err := serializeCoin(&coinRecord{
		value:    value,
		pkScript: pkScript,
		label:    label,
	})
	if err != nil {
		return err
	}

	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		if tx.ReadBucket(bucketKeys).Get(pkScript) == nil {
			str := fmt.Sprintf("no key for script %x", pkScript)
			return storeError(ErrUnknownScript, str, nil)
		}

		k := canonicalOutPoint(&op.Hash, op.Index)
		if tx.ReadBucket(bucketHistory).Get(k) != nil {
			str := fmt.Sprintf("coin %v was spent", op)
			return storeError(ErrInput, str, nil)
		}

		err := tx.ReadWriteBucket(bucketCoins).Put(k, v)
		if err != nil {
			return storeError(ErrDatabase, "failed to put coin", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Added coin %v worth %v", op, value)

	return nil
}

// Coin returns an unspent coin.
func (s *Store) Coin(op wire.OutPoint) (*ccjclient.Coin, error) {
	var coin *ccjclient.Coin
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		k := canonicalOutPoint(&op.Hash, op.Index)
		v := tx.ReadBucket(bucketCoins).Get(k)
		if v == nil {
			str := fmt.Sprintf("unknown coin %v", op)
			return storeError(ErrUnknownCoin, str, nil)
		}

		rec, err := deserializeCoin(v)
		if err != nil {
			return err
		}
		coin = &ccjclient.Coin{
			OutPoint: op,
			Value:    rec.value,
			PkScript: rec.pkScript,
		}
		return nil
	})

	return coin, err
}

// SetLabel replaces the label of an unspent coin.
func (s *Store) SetLabel(op wire.OutPoint, label string) error {
	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		coins := tx.ReadWriteBucket(bucketCoins)
		k := canonicalOutPoint(&op.Hash, op.Index)
		v := coins.Get(k)
		if v == nil {
			str := fmt.Sprintf("unknown coin %v", op)
			return storeError(ErrUnknownCoin, str, nil)
		}

		rec, err := deserializeCoin(v)
		if err != nil {
			return err
		}
		rec.label = label
		v, err = serializeCoin(rec)
		if err != nil {
			return err
		}

		if err := coins.Put(k, v); err != nil {
			return storeError(ErrDatabase, "failed to put coin", err)
		}
		return nil
	})
}

// Coins returns the unspent coins ordered by outpoint.
func (s *Store) Coins() ([]CoinInfo, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var coins []CoinInfo
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		keys := tx.ReadBucket(bucketKeys)

		return tx.ReadBucket(bucketCoins).ForEach(func(k, v []byte) error {
			var info CoinInfo
			if err := readCanonicalOutPoint(k, &info.OutPoint); err != nil {
				return err
			}
			rec, err := deserializeCoin(v)
			if err != nil {
				return err
			}
			info.Value = rec.value
			info.PkScript = rec.pkScript
			info.Label = rec.label

			if kv := keys.Get(rec.pkScript); kv != nil {
				key, err := deserializeKey(kv)
				if err != nil {
					return err
				}
				info.Change = key.change
			}
			_, info.Locked = s.locked[info.OutPoint]

			coins = append(coins, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return coins, nil
}

// LockCoins locks all of ops or, if any is unknown or already locked, none.
func (s *Store) LockCoins(ops ...wire.OutPoint) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		coins := tx.ReadBucket(bucketCoins)
		for _, op := range ops {
			if coins.Get(canonicalOutPoint(&op.Hash, op.Index)) == nil {
				str := fmt.Sprintf("unknown coin %v", op)
				return storeError(ErrUnknownCoin, str, nil)
			}
			if _, ok := s.locked[op]; ok {
				str := fmt.Sprintf("coin %v is locked", op)
				return storeError(ErrCoinLocked, str, nil)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, op := range ops {
		s.locked[op] = struct{}{}
	}

	return nil
}

// UnlockCoins releases ops.
func (s *Store) UnlockCoins(ops ...wire.OutPoint) error {
	s.mtx.Lock()
	for _, op := range ops {
		delete(s.locked, op)
	}
	s.mtx.Unlock()

	return nil
}

// IsLocked reports whether op is locked.
func (s *Store) IsLocked(op wire.OutPoint) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, ok := s.locked[op]
	return ok
}

// MarkSpent moves ops to the history as spent by txid and releases them.
func (s *Store) MarkSpent(txid chainhash.Hash, ops ...wire.OutPoint) error {
	now := s.clock.Now()

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		coins := tx.ReadWriteBucket(bucketCoins)
		history := tx.ReadWriteBucket(bucketHistory)

		for _, op := range ops {
			k := canonicalOutPoint(&op.Hash, op.Index)
			v := coins.Get(k)
			if v == nil {
				str := fmt.Sprintf("unknown coin %v", op)
				return storeError(ErrUnknownCoin, str, nil)
			}
			rec, err := deserializeCoin(v)
			if err != nil {
				return err
			}

			err = history.Put(k, serializeHistory(&txid, now, rec.value))
			if err != nil {
				return storeError(ErrDatabase, "failed to put "+
					"history", err)
			}
			if err := coins.Delete(k); err != nil {
				return storeError(ErrDatabase, "failed to delete "+
					"coin", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mtx.Lock()
	for _, op := range ops {
		delete(s.locked, op)
	}
	s.mtx.Unlock()

	log.Infof("Marked %d coins spent by %v", len(ops), txid)

	return nil
}

// History returns the spent coins ordered by outpoint.
func (s *Store) History() ([]SpentCoin, error) {
	var spent []SpentCoin
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		history := tx.ReadBucket(bucketHistory)
		return history.ForEach(func(k, v []byte) error {
			var sc SpentCoin
			if err := readCanonicalOutPoint(k, &sc.OutPoint); err != nil {
				return err
			}
			if err := deserializeHistory(v, &sc); err != nil {
				return err
			}
			spent = append(spent, sc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return spent, nil
}
