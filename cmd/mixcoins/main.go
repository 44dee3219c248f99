// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// mixcoins keeps a small coin store and mixes its coins through a coinjoin
// coordinator.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinstore"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/internal/prompt"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/jessevdk/go-flags"
)

const storeDBName = "coins.db"

var (
	mixcoinsDataDirectory = btcutil.AppDataDir("mixcoins", false)
	btcdDataDirectory     = btcutil.AppDataDir("btcd", false)
	newlineBytes          = []byte{'\n'}
	activeNet             = &netparams.MainNetParams
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

func errContext(err error, context string) error {
	return fmt.Errorf("%s: %w", context, err)
}

// Flags.
var opts = struct {
	TestNet3   bool   `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	RegTest    bool   `long:"regtest" description:"Use the regression test network"`
	SimNet     bool   `long:"simnet" description:"Use the simulation bitcoin network"`
	SigNet     bool   `long:"signet" description:"Use the signet test network"`
	DataDir    string `short:"b" long:"datadir" description:"Directory of the coin store"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical, off}"`

	// Coin store actions
	Create      bool     `long:"create" description:"Create the coin store"`
	ChangePass  bool     `long:"changepass" description:"Change the coin store passphrase"`
	NewAddress  bool     `long:"newaddress" description:"Print a new address to receive coins to"`
	ImportKey   string   `long:"importkey" description:"Import a WIF encoded private key"`
	AddCoins    []string `long:"addcoin" description:"Add the unspent output txid:index paying the store, looked up through btcd"`
	Labels      []string `long:"label" description:"Label a coin as txid:index=label"`
	ListCoins   bool     `long:"listcoins" description:"List the coins of the store"`
	History     bool     `long:"history" description:"List the coins the store spent"`
	MixAll      bool     `long:"all" description:"Mix every unlocked coin that is not change"`
	DryRun      bool     `long:"dryrun" description:"Queue nothing and print what would be mixed"`
	ChangeAddr  string   `long:"changeaddress" description:"Send change to this segwit address instead of a store address"`
	ActiveAddr  string   `long:"activeaddress" description:"Send the mixed output to this segwit address instead of a store address"`
	WaitTimeout int64    `long:"waittimeout" description:"Give up mixing after this many minutes (0 waits until interrupted)"`

	// Coordinator options
	Coordinator string `short:"C" long:"coordinator" description:"URL of the coinjoin coordinator"`
	Proxy       string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser   string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass   string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	RelayFee *cfgutil.AmountFlag `long:"relayfee" description:"Relay fee per kilobyte change is judged dust by"`

	// btcd options
	RPCConnect         string `short:"c" long:"rpcconnect" description:"Hostname[:port] of btcd RPC server"`
	RPCUsername        string `short:"u" long:"rpcuser" description:"btcd RPC username"`
	RPCCertificateFile string `long:"cafile" description:"btcd RPC TLS certificate"`
	NoClientTLS        bool   `long:"noclienttls" description:"Disable TLS for the btcd RPC client"`
}{
	DataDir:            mixcoinsDataDirectory,
	DebugLevel:         "off",
	Coordinator:        "localhost",
	RelayFee:           cfgutil.NewAmountFlag(txrules.DefaultRelayFeePerKb),
	RPCConnect:         "localhost",
	RPCCertificateFile: filepath.Join(btcdDataDirectory, "rpc.cert"),
}

// parseFlags parses and validates the flags and returns the positional
// arguments.
func parseFlags() []string {
	args, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	activeNet, err = netparams.Select(
		opts.TestNet3, opts.RegTest, opts.SimNet, opts.SigNet,
	)
	if err != nil {
		fatalf("%v", err)
	}

	opts.Coordinator, err = cfgutil.NormalizeURL(
		opts.Coordinator, activeNet.CoordinatorPort,
	)
	if err != nil {
		fatalf("Invalid coordinator URL: %v", err)
	}

	rpcConnect, err := cfgutil.NormalizeAddress(
		opts.RPCConnect, activeNet.RPCClientPort,
	)
	if err != nil {
		fatalf("Invalid RPC network address `%v`: %v", opts.RPCConnect, err)
	}
	opts.RPCConnect = rpcConnect

	if opts.RelayFee.Amount > 1e6 {
		fatalf("Relay fee `%v/kB` is exceptionally high", opts.RelayFee.Amount)
	}
	if opts.WaitTimeout < 0 {
		fatalf("Wait timeout must be non-negative")
	}
	if level, ok := btclog.LevelFromString(opts.DebugLevel); ok {
		initLogging(level)
	} else {
		fatalf("Invalid debug level `%s`", opts.DebugLevel)
	}

	return args
}

func main() {
	err := run(parseFlags())
	if err != nil {
		fatalf("%v", err)
	}
}

func storeConfig() *coinstore.Config {
	return &coinstore.Config{
		DBPath: filepath.Join(
			opts.DataDir, activeNet.Params.Name, storeDBName,
		),
		Net: activeNet.Params,
	}
}

func run(args []string) error {
	reader := bufio.NewReader(os.Stdin)

	if opts.Create {
		return create(reader)
	}

	store, err := coinstore.Open(storeConfig())
	if err != nil {
		if coinstore.IsError(err, coinstore.ErrNoExist) {
			return errors.New("the coin store does not exist, run " +
				"with --create to create it")
		}
		return errContext(err, "failed to open coin store")
	}
	defer store.Close()

	switch {
	case opts.ChangePass:
		return changePass(reader, store)

	case opts.NewAddress:
		return newAddress(reader, store)

	case opts.ImportKey != "":
		return importKey(reader, store)

	case len(opts.AddCoins) != 0:
		return addCoins(store)

	case len(opts.Labels) != 0:
		return setLabels(store)

	case opts.ListCoins:
		return listCoins(store)

	case opts.History:
		return history(store)
	}

	return mix(reader, store, args)
}

func create(reader *bufio.Reader) error {
	cfg := storeConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return err
	}

	pass, err := prompt.NewStorePass(reader)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}

	store, err := coinstore.Create(cfg, pass)
	if err != nil {
		return errContext(err, "failed to create coin store")
	}
	defer store.Close()

	fmt.Printf("Created coin store %s\n", cfg.DBPath)
	return nil
}

func changePass(reader *bufio.Reader, store *coinstore.Store) error {
	oldPass, err := prompt.StorePass(reader)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}
	newPass, err := prompt.PassPrompt(reader, "Enter the new passphrase",
		true)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}

	err = store.ChangePassphrase(oldPass, newPass, nil)
	if err != nil {
		return errContext(err, "failed to change passphrase")
	}

	fmt.Println("Passphrase changed")
	return nil
}

func newAddress(reader *bufio.Reader, store *coinstore.Store) error {
	pass, err := prompt.StorePass(reader)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}

	addr, err := store.NewAddress(pass, false)
	if err != nil {
		return errContext(err, "failed to create address")
	}

	fmt.Println(addr.EncodeAddress())
	return nil
}

func importKey(reader *bufio.Reader, store *coinstore.Store) error {
	wif, err := btcutil.DecodeWIF(opts.ImportKey)
	if err != nil {
		return errContext(err, "invalid private key")
	}
	pass, err := prompt.StorePass(reader)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}

	script, err := store.ImportPrivKey(pass, wif)
	if err != nil {
		return errContext(err, "failed to import key")
	}
	addr, err := store.Address(script)
	if err != nil {
		return err
	}

	fmt.Printf("Imported key for %s\n", addr.EncodeAddress())
	return nil
}

func setLabels(store *coinstore.Store) error {
	for _, l := range opts.Labels {
		s, label, ok := strings.Cut(l, "=")
		if !ok {
			return fmt.Errorf("label `%s` is not txid:index=label", l)
		}
		op, err := parseOutPoint(s)
		if err != nil {
			return err
		}
		if err := store.SetLabel(op, label); err != nil {
			return errContext(err, "failed to label coin")
		}
	}
	return nil
}

func listCoins(store *coinstore.Store) error {
	coins, err := store.Coins()
	if err != nil {
		return err
	}

	var total btcutil.Amount
	for _, c := range coins {
		var tags []string
		if c.Change {
			tags = append(tags, "change")
		}
		if c.Locked {
			tags = append(tags, "locked")
		}
		fmt.Printf("%v\t%v\t%s\t%s\n", c.OutPoint, c.Value,
			strings.Join(tags, ","), c.Label)
		total += c.Value
	}
	fmt.Printf("%d %s worth %v\n", len(coins),
		pickNoun(len(coins), "coin", "coins"), total)

	return nil
}

func history(store *coinstore.Store) error {
	spent, err := store.History()
	if err != nil {
		return err
	}

	for _, s := range spent {
		fmt.Printf("%v\t%v\tspent by %v at %v\n", s.OutPoint, s.Value,
			s.TxID, s.Time.Format(time.RFC3339))
	}
	return nil
}

// parseOutPoint parses txid:index.
func parseOutPoint(s string) (wire.OutPoint, error) {
	txid, index, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("outpoint `%s` is not "+
			"txid:index", s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, err
	}
	i, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return wire.OutPoint{}, err
	}

	return wire.OutPoint{Hash: *hash, Index: uint32(i)}, nil
}

func pickNoun(n int, singularForm, pluralForm string) string {
	if n == 1 {
		return singularForm
	}
	return pluralForm
}
