// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptChannel is used to receive SIGINT (Ctrl+C) and SIGTERM signals.
var interruptChannel chan os.Signal

// addHandlerChannel is used to add an interrupt handler to the list of handlers
// to be invoked on shutdown.
var addHandlerChannel = make(chan func())

// interruptHandlersDone is closed after all interrupt handlers run the first
// time a shutdown is requested.
var interruptHandlersDone = make(chan struct{})

// shutdownRequestChannel carries the reason a component asks the daemon to
// shut down.
var shutdownRequestChannel = make(chan string, 1)

// shutdownCtx is canceled before the interrupt handlers run. API requests
// derive from it so round operations waiting on btcd stop early.
var shutdownCtx, cancelShutdownCtx = context.WithCancel(context.Background())

// signals defines the signals that are handled to do a clean shutdown.
var signals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// requestShutdown asks for the clean termination process from an internal
// component instead of a signal. Only the first request is kept.
func requestShutdown(reason string) {
	select {
	case shutdownRequestChannel <- reason:
	default:
	}
}

// mainInterruptHandler waits for a signal or a shutdown request and invokes
// the registered handlers. It also listens for handler registration. It must
// be run as a goroutine.
func mainInterruptHandler() {
	var interruptCallbacks []func()
	invokeCallbacks := func() {
		cancelShutdownCtx()

		// run handlers in LIFO order.
		for i := range interruptCallbacks {
			idx := len(interruptCallbacks) - 1 - i
			interruptCallbacks[idx]()
		}
		close(interruptHandlersDone)
	}

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s).  Shutting down...", sig)
			invokeCallbacks()
			return

		case reason := <-shutdownRequestChannel:
			log.Infof("Shutdown requested (%s).  Shutting down...",
				reason)
			invokeCallbacks()
			return

		case handler := <-addHandlerChannel:
			interruptCallbacks = append(interruptCallbacks, handler)
		}
	}
}

// startInterruptHandler begins listening for signals. Handlers must be added
// before any component may call requestShutdown.
func startInterruptHandler() {
	if interruptChannel != nil {
		return
	}
	interruptChannel = make(chan os.Signal, 1)
	signal.Notify(interruptChannel, signals...)
	go mainInterruptHandler()
}

// addInterruptHandler adds a handler to call on shutdown.
func addInterruptHandler(handler func()) {
	startInterruptHandler()
	addHandlerChannel <- handler
}
