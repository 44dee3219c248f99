// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
)

var byteOrder = binary.BigEndian

// Database versions. Versions start at 1 and increment for each database
// change.
const (
	// LatestVersion is the most recent store version.
	LatestVersion = 1
)

// Bucket names
var (
	bucketMeta    = []byte("meta")
	bucketKeys    = []byte("keys")
	bucketCoins   = []byte("coins")
	bucketHistory = []byte("history")
)

// Meta bucket keys
var (
	metaVersion    = []byte("vers")
	metaCreateDate = []byte("date")

	// metaMasterParams holds the scrypt parameters of the master key,
	// which is derived from the passphrase.
	metaMasterParams = []byte("mparams")

	// metaCryptoKey holds the random crypto key encrypted by the master
	// key. Private keys are encrypted by the crypto key, so changing the
	// passphrase only re-encrypts this value.
	metaCryptoKey = []byte("ckey")
)

// The canonical outpoint serialization format is:
//
//	[0:32]  Transaction hash (32 bytes)
//	[32:36] Output index (4 bytes)
func canonicalOutPoint(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) < 36 {
		str := "short canonical outpoint"
		return storeError(ErrData, str, nil)
	}
	copy(op.Hash[:], k)
	op.Index = byteOrder.Uint32(k[32:36])
	return nil
}

// The key record value format is:
//
//	[0]     Flags (1 byte), bit 0 set for change keys
//	[1:]    Private key encrypted with the crypto key
const keyFlagChange = 1 << 0

type keyRecord struct {
	change    bool
	encrypted []byte
}

func serializeKey(r *keyRecord) []byte {
	v := make([]byte, 1+len(r.encrypted))
	if r.change {
		v[0] |= keyFlagChange
	}
	copy(v[1:], r.encrypted)
	return v
}

func deserializeKey(v []byte) (*keyRecord, error) {
	if len(v) < 2 {
		return nil, storeError(ErrData, "short key record", nil)
	}
	return &keyRecord{
		change:    v[0]&keyFlagChange != 0,
		encrypted: append([]byte(nil), v[1:]...),
	}, nil
}

// The coin record value format is:
//
//	[0:8]   Value (8 bytes)
//	[8]     Script length (1 byte)
//	[9:n]   Output script
//	[n:]    Label
type coinRecord struct {
	value    btcutil.Amount
	pkScript []byte
	label    string
}

func serializeCoin(r *coinRecord) ([]byte, error) {
	if len(r.pkScript) > 0xff {
		return nil, storeError(ErrInput, "output script too long", nil)
	}

	v := make([]byte, 9+len(r.pkScript)+len(r.label))
	byteOrder.PutUint64(v, uint64(r.value))
	v[8] = byte(len(r.pkScript))
	copy(v[9:], r.pkScript)
	copy(v[9+len(r.pkScript):], r.label)

	return v, nil
}

func deserializeCoin(v []byte) (*coinRecord, error) {
	if len(v) < 9 || len(v) < 9+int(v[8]) {
		str := fmt.Sprintf("short coin record (%d bytes)", len(v))
		return nil, storeError(ErrData, str, nil)
	}

	n := 9 + int(v[8])
	return &coinRecord{
		value:    btcutil.Amount(byteOrder.Uint64(v)),
		pkScript: append([]byte(nil), v[9:n]...),
		label:    string(v[n:]),
	}, nil
}

// The history record value format is:
//
//	[0:32]  Spending transaction hash (32 bytes)
//	[32:40] Unix time the spend was recorded (8 bytes)
//	[40:48] Value (8 bytes)
func serializeHistory(txid *chainhash.Hash, t time.Time,
	value btcutil.Amount) []byte {

	v := make([]byte, 48)
	copy(v, txid[:])
	byteOrder.PutUint64(v[32:40], uint64(t.Unix()))
	byteOrder.PutUint64(v[40:48], uint64(value))
	return v
}

func deserializeHistory(v []byte, s *SpentCoin) error {
	if len(v) != 48 {
		return storeError(ErrData, "bad history record", nil)
	}
	copy(s.TxID[:], v)
	s.Time = time.Unix(int64(byteOrder.Uint64(v[32:40])), 0)
	s.Value = btcutil.Amount(byteOrder.Uint64(v[40:48]))
	return nil
}

func putUint32(b walletdb.ReadWriteBucket, key []byte, n uint32) error {
	v := make([]byte, 4)
	byteOrder.PutUint32(v, n)
	if err := b.Put(key, v); err != nil {
		return storeError(ErrDatabase, "failed to put meta value", err)
	}
	return nil
}

// createBuckets initializes a new store.
func createBuckets(tx walletdb.ReadWriteTx, now time.Time) error {
	for _, name := range [][]byte{
		bucketMeta, bucketKeys, bucketCoins, bucketHistory,
	} {
		if _, err := tx.CreateTopLevelBucket(name); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
	}

	meta := tx.ReadWriteBucket(bucketMeta)
	if err := putUint32(meta, metaVersion, LatestVersion); err != nil {
		return err
	}

	v := make([]byte, 8)
	byteOrder.PutUint64(v, uint64(now.Unix()))
	if err := meta.Put(metaCreateDate, v); err != nil {
		return storeError(ErrDatabase, "failed to put create date", err)
	}

	return nil
}

// checkVersion makes sure the store was written by this version.
func checkVersion(tx walletdb.ReadTx) error {
	meta := tx.ReadBucket(bucketMeta)
	if meta == nil {
		return storeError(ErrData, "missing meta bucket", nil)
	}

	v := meta.Get(metaVersion)
	if len(v) != 4 {
		return storeError(ErrData, "missing store version", nil)
	}
	if version := byteOrder.Uint32(v); version != LatestVersion {
		str := fmt.Sprintf("unsupported store version %d", version)
		return storeError(ErrData, str, nil)
	}

	return nil
}
