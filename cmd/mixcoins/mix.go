// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/ccjclient"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coinstore"
	"github.com/btcsuite/btcjoin/coordrpc"
	"github.com/btcsuite/btcjoin/internal/prompt"
	"github.com/btcsuite/btcjoin/internal/zero"
	"github.com/btcsuite/btclog"
)

// statusInterval is how often the mixing progress is checked.
const statusInterval = time.Second

// initLogging routes the library loggers to standard error.
func initLogging(level btclog.Level) {
	backend := btclog.NewBackend(os.Stderr)
	for subsystem, useLogger := range map[string]func(btclog.Logger){
		"CCJC": ccjclient.UseLogger,
		"CSTR": coinstore.UseLogger,
		"CRPC": coordrpc.UseLogger,
		"CHIO": chain.UseLogger,
	} {
		logger := backend.Logger(subsystem)
		logger.SetLevel(level)
		useLogger(logger)
	}
}

// addCoins looks the outpoints up through btcd and records those paying the
// store.
func addCoins(store *coinstore.Store) error {
	var certs []byte
	if !opts.NoClientTLS {
		var err error
		certs, err = os.ReadFile(opts.RPCCertificateFile)
		if err != nil {
			return errContext(err, "failed to read RPC certificate")
		}
	}

	rpcPassword, err := prompt.PassPrompt(
		bufio.NewReader(os.Stdin), "btcd RPC password", false,
	)
	if err != nil {
		return errContext(err, "failed to read RPC password")
	}

	oracle, err := chain.NewRPCOracle(&rpcclient.ConnConfig{
		Host:         opts.RPCConnect,
		User:         opts.RPCUsername,
		Pass:         string(rpcPassword),
		Certificates: certs,
		DisableTLS:   opts.NoClientTLS,
	})
	if err != nil {
		return errContext(err, "failed to create RPC client")
	}
	defer oracle.Stop()

	var numErrors int
	reportError := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format, args...)
		os.Stderr.Write(newlineBytes)
		numErrors++
	}

	ctx := context.Background()
	for _, s := range opts.AddCoins {
		op, err := parseOutPoint(s)
		if err != nil {
			reportError("Invalid outpoint: %v", err)
			continue
		}

		utxo, err := oracle.UnspentOutput(ctx, op)
		switch {
		case err != nil:
			reportError("Failed to look up %v: %v", op, err)
			continue

		case utxo == nil:
			reportError("Output %v is spent or unknown", op)
			continue
		}

		err = store.AddCoin(op, utxo.Value, utxo.PkScript, "")
		if coinstore.IsError(err, coinstore.ErrUnknownScript) {
			reportError("Output %v does not pay the store", op)
			continue
		}
		if err != nil {
			reportError("Failed to add %v: %v", op, err)
			continue
		}

		fmt.Printf("Added %v worth %v with %d %s\n", op, utxo.Value,
			utxo.Confirmations, pickNoun(int(utxo.Confirmations),
				"confirmation", "confirmations"))
	}

	if numErrors > 0 {
		return fmt.Errorf("failed to add %d %s", numErrors,
			pickNoun(numErrors, "coin", "coins"))
	}
	return nil
}

// selectCoins returns the outpoints named by args, or every unlocked coin
// that is not change with --all.
func selectCoins(store *coinstore.Store,
	args []string) ([]wire.OutPoint, btcutil.Amount, error) {

	coins, err := store.Coins()
	if err != nil {
		return nil, 0, err
	}
	byOutPoint := make(map[wire.OutPoint]coinstore.CoinInfo, len(coins))
	for _, c := range coins {
		byOutPoint[c.OutPoint] = c
	}

	var (
		ops   []wire.OutPoint
		total btcutil.Amount
	)
	if opts.MixAll {
		for _, c := range coins {
			if c.Change || c.Locked {
				continue
			}
			ops = append(ops, c.OutPoint)
			total += c.Value
		}
		return ops, total, nil
	}

	for _, s := range args {
		op, err := parseOutPoint(s)
		if err != nil {
			return nil, 0, err
		}
		c, ok := byOutPoint[op]
		if !ok {
			return nil, 0, fmt.Errorf("%v is not a coin of the store",
				op)
		}
		ops = append(ops, op)
		total += c.Value
	}

	return ops, total, nil
}

// customAddresses adds the configured destination addresses to agent.
func customAddresses(agent *ccjclient.Agent) error {
	for _, custom := range []struct {
		addr string
		add  func(btcutil.Address) error
	}{
		{opts.ChangeAddr, agent.AddCustomChangeAddress},
		{opts.ActiveAddr, agent.AddCustomActiveAddress},
	} {
		if custom.addr == "" {
			continue
		}
		addr, err := btcutil.DecodeAddress(custom.addr, activeNet.Params)
		if err != nil {
			return err
		}
		if !addr.IsForNet(activeNet.Params) {
			return fmt.Errorf("address %s is not for %s", custom.addr,
				activeNet.Params.Name)
		}
		if err := custom.add(addr); err != nil {
			return err
		}
	}

	return nil
}

func mix(reader *bufio.Reader, store *coinstore.Store, args []string) error {
	ops, total, err := selectCoins(store, args)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return errors.New("no coins to mix, name outpoints or use --all")
	}

	fmt.Printf("Mixing %d %s worth %v through %s\n", len(ops),
		pickNoun(len(ops), "coin", "coins"), total, opts.Coordinator)
	if opts.DryRun {
		for _, op := range ops {
			fmt.Println(op)
		}
		return nil
	}

	alice, err := coordrpc.NewClient(&coordrpc.ClientConfig{
		URL:       opts.Coordinator,
		Proxy:     opts.Proxy,
		ProxyUser: opts.ProxyUser,
		ProxyPass: opts.ProxyPass,
	})
	if err != nil {
		return errContext(err, "failed to create coordinator client")
	}
	bob, err := alice.Isolated()
	if err != nil {
		return errContext(err, "failed to create output client")
	}

	agent, err := ccjclient.New(&ccjclient.Config{
		Coins:         store,
		Keys:          store,
		Addresses:     store,
		Alice:         alice,
		Bob:           bob,
		RelayFeePerKb: opts.RelayFee.Amount,
	})
	if err != nil {
		return err
	}
	if err := customAddresses(agent); err != nil {
		return errContext(err, "invalid custom address")
	}

	pass, err := prompt.StorePass(reader)
	if err != nil {
		return errContext(err, "failed to read passphrase")
	}
	_, err = agent.QueueCoinsToMix(pass, ops...)
	zero.Bytes(pass)
	if err != nil {
		return errContext(err, "failed to queue coins")
	}

	if err := agent.Start(); err != nil {
		return err
	}
	defer agent.Stop()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()
	if opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			ctx, time.Duration(opts.WaitTimeout)*time.Minute,
		)
		defer cancel()
	}

	return watch(ctx, agent, ops)
}

// watch reports the progress of the agent until its groups are done or ctx
// ends.
func watch(ctx context.Context, agent *ccjclient.Agent,
	ops []wire.OutPoint) error {

	t := time.NewTicker(statusInterval)
	defer t.Stop()

	last := make(map[uint64]string)
	for {
		states := agent.State()
		done := true
		for _, st := range states {
			line := describe(st)
			if line != last[st.ID] {
				fmt.Printf("Group %d: %s\n", st.ID, line)
				last[st.ID] = line
			}
			if !st.State.IsTerminal() {
				done = false
			}
		}
		if done {
			return finished(states)
		}

		select {
		case <-t.C:

		case <-ctx.Done():
			fmt.Println("Leaving the mix")
			err := agent.DequeueCoinsFromMix(ops...)
			if err != nil {
				return errContext(err, "failed to dequeue coins")
			}
			for _, st := range agent.State() {
				if !st.State.IsTerminal() {
					return fmt.Errorf("coins are past input "+
						"registration of round %d and "+
						"stay in the mix", st.RoundID)
				}
			}
			return nil
		}
	}
}

func describe(st ccjclient.GroupStatus) string {
	switch {
	case st.TxID != nil:
		return fmt.Sprintf("%v in round %d: coinjoin %v", st.State,
			st.RoundID, st.TxID)

	case st.Err != nil:
		return fmt.Sprintf("%v in round %d (%v): %v", st.State,
			st.RoundID, st.Phase, st.Err)

	case st.RoundID != 0:
		return fmt.Sprintf("%v in round %d (%v)", st.State,
			st.RoundID, st.Phase)
	}

	return st.State.String()
}

func finished(states []ccjclient.GroupStatus) error {
	for _, st := range states {
		if st.State != ccjclient.Done {
			return fmt.Errorf("coins left the mix in state %v", st.State)
		}
	}
	return nil
}
