// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus collectors of the coordinator.
package metrics

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every coordinator collector plus the go runtime
	// and process collectors.
	Registry = prometheus.NewRegistry()

	// RoundsCreated counts rounds opened for input registration.
	RoundsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "rounds_created_total",
		Help:      "Number of rounds opened for input registration",
	})

	// RoundsFinished counts terminal rounds by result and the phase they
	// ended in.
	RoundsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "rounds_finished_total",
		Help:      "Number of rounds that reached a terminal phase",
	}, []string{"result", "phase"})

	// OpenRounds is the number of non-terminal rounds.
	OpenRounds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "btcjoin",
		Name:      "open_rounds",
		Help:      "Number of rounds that are not terminal",
	})

	// RegisteredAlices counts successful input registrations.
	RegisteredAlices = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "registered_alices_total",
		Help:      "Number of accepted input registrations",
	})

	// BannedInputs counts ban offenses by kind, noted or enforced.
	BannedInputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "banned_inputs_total",
		Help:      "Number of inputs banned after a round timeout",
	}, []string{"kind"})

	// PrisonEntries is the number of effective prison entries by kind.
	PrisonEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btcjoin",
		Name:      "prison_entries",
		Help:      "Number of effective prison entries",
	}, []string{"kind"})

	// RequestErrors counts protocol errors returned to clients by code.
	RequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "request_errors_total",
		Help:      "Number of protocol requests that failed",
	}, []string{"code"})

	// HTTPCallCounter counts HTTP requests by status code and method.
	HTTPCallCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btcjoin",
		Name:      "http_call_counter",
		Help:      "Number of HTTP calls received",
	}, []string{"code", "method"})

	// HTTPLatency observes how long HTTP request handling takes.
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btcjoin",
		Name:      "http_response_duration",
		Help:      "Histogram of request latencies",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	registerOnce sync.Once
)

// Register adds all collectors to Registry. It is safe to call more than
// once.
func Register() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(
				prometheus.ProcessCollectorOpts{},
			),
			RoundsCreated,
			RoundsFinished,
			OpenRounds,
			RegisteredAlices,
			BannedInputs,
			PrisonEntries,
			RequestErrors,
			HTTPCallCounter,
			HTTPLatency,
		)
	})
}

// Handler returns the scrape handler of Registry.
func Handler() http.Handler {
	Register()

	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		Registry: Registry,
	})
}

// Start serves the metrics endpoint on lis until the listener is closed.
func Start(lis net.Listener) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = srv.Serve(lis)
	}()

	return srv
}
