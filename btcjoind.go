// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/coordrpc"
	"github.com/btcsuite/btcjoin/metrics"
	"github.com/btcsuite/btcjoin/prison"
)

// shutdownTimeout bounds waiting for in flight API requests on shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	// Work around defer not working after os.Exit.
	if err := joinMain(); err != nil {
		os.Exit(1)
	}
}

// joinMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func joinMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, activeNet, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s on %s", version(), activeNet.Params.Name)

	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	roundCfg, coordinatorScript, err := cfg.roundConfig(activeNet)
	if err != nil {
		log.Errorf("Invalid round options: %v", err)
		return err
	}

	// Read CA certs and create the chain backend.
	var certs []byte
	if !cfg.DisableClientTLS {
		certs, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			log.Errorf("Cannot open CA file: %v", err)
			return err
		}
	} else {
		log.Info("Chain client TLS is disabled")
	}
	oracle, err := chain.NewRPCOracle(&rpcclient.ConnConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.BtcdUsername,
		Pass:         cfg.BtcdPassword,
		Certificates: certs,
		DisableTLS:   cfg.DisableClientTLS,
	})
	if err != nil {
		log.Errorf("Cannot create chain backend: %v", err)
		return err
	}
	defer oracle.Stop()

	if err := os.MkdirAll(filepath.Dir(cfg.BanFile), 0700); err != nil {
		log.Errorf("Cannot create data directory: %v", err)
		return err
	}
	p := prison.New(&prison.Config{
		FilePath:          cfg.BanFile,
		BaseDuration:      roundCfg.BanDuration(),
		NotedOffenseLimit: cfg.NotedOffenseLimit,
	})
	if err := p.Load(); err != nil {
		log.Errorf("Cannot load ban list: %v", err)
		return err
	}
	banned, noted := p.Count()
	log.Infof("Loaded %d banned %s and %d noted %s", banned,
		pickNoun(banned, "outpoint", "outpoints"), noted,
		pickNoun(noted, "outpoint", "outpoints"))

	// Bind every listener before the coordinator starts.
	var listeners []net.Listener
	defer func() {
		for _, lis := range listeners {
			lis.Close()
		}
	}()
	for _, addr := range cfg.Listeners {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Errorf("Unable to listen on %s: %v", addr, err)
			return err
		}
		listeners = append(listeners, lis)
	}
	var metricsListener net.Listener
	if !cfg.NoMetrics {
		metricsListener, err = net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			log.Errorf("Unable to listen on %s: %v",
				cfg.MetricsListen, err)
			return err
		}
		listeners = append(listeners, metricsListener)
	}

	m, err := coordinator.New(&coordinator.Config{
		Round:             roundCfg,
		Prison:            p,
		Chain:             oracle,
		CoordinatorScript: coordinatorScript,
		RelayFeePerKb:     cfg.RelayFee.Amount,
	})
	if err != nil {
		log.Errorf("Cannot create coordinator: %v", err)
		return err
	}
	if err := m.Start(); err != nil {
		log.Errorf("Cannot start coordinator: %v", err)
		return err
	}
	defer m.Stop()

	log.Infof("Mixing %v outputs in rounds of %d", roundCfg.Denomination,
		roundCfg.AnonymitySet)

	api := coordrpc.NewServer(m)
	servers := make([]*http.Server, 0, len(cfg.Listeners))
	for range cfg.Listeners {
		servers = append(servers, &http.Server{
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(net.Listener) context.Context {
				return shutdownCtx
			},
		})
	}

	// Shutdown the servers if an interrupt signal is received.
	addInterruptHandler(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				log.Warnf("Server shutdown: %v", err)
			}
		}
	})

	if metricsListener != nil {
		log.Infof("Metrics listening on %s", metricsListener.Addr())
		metricsServer := metrics.Start(metricsListener)
		addInterruptHandler(func() {
			metricsServer.Close()
		})
	}

	for i, srv := range servers {
		lis := listeners[i]
		log.Infof("Coordinator API listening on %s", lis.Addr())

		go func(srv *http.Server) {
			err := srv.Serve(lis)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Coordinator API on %s: %v",
					lis.Addr(), err)
				requestShutdown("coordinator API failed")
			}
		}(srv)
	}

	// Wait for the servers to shutdown either due to a failure or an
	// interrupt.
	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}
