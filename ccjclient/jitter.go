// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// JitterTicker is a ticker that adds jitter to the tick duration, so polls
// from different wallets do not line up. It implements ticker.Ticker.
type JitterTicker struct {
	// c is the channel that receives ticks.
	c chan time.Time

	// duration is the base duration of the ticker.
	duration time.Duration

	// min and max bound each interval. With a jitter of s they are
	// duration * (1 - s), or 0 if s > 1, and duration * (1 + s).
	min int64
	max int64

	// active is set while ticks are delivered.
	mtx    sync.Mutex
	active bool

	started sync.Once
	stopped sync.Once
	quit    chan struct{}
	wg      sync.WaitGroup
}

// A compile time check to ensure JitterTicker satisfies ticker.Ticker.
var _ ticker.Ticker = (*JitterTicker)(nil)

// NewJitterTicker returns a paused JitterTicker. It panics if jitter is
// negative.
func NewJitterTicker(d time.Duration, jitter float64) *JitterTicker {
	min, max := calculateMinMax(d, jitter)

	return &JitterTicker{
		c:        make(chan time.Time, 1),
		duration: d,
		min:      min,
		max:      max,
		quit:     make(chan struct{}),
	}
}

// calculateMinMax calculates the min and max duration values. If the
// calculated min is negative, it will be set to 0.
func calculateMinMax(d time.Duration, scaler float64) (int64, int64) {
	if scaler < 0 {
		panic(errors.New("scaler must be positive"))
	}

	min := math.Floor(float64(d) * (1 - scaler))
	max := math.Ceil(float64(d) * (1 + scaler))

	if 1-scaler < 0 {
		min = 0
	}

	return int64(min), int64(max)
}

// Ticks returns the channel ticks are delivered on.
func (jt *JitterTicker) Ticks() <-chan time.Time {
	return jt.c
}

// Resume starts or resumes delivering ticks.
func (jt *JitterTicker) Resume() {
	jt.mtx.Lock()
	jt.active = true
	jt.mtx.Unlock()

	jt.started.Do(func() {
		jt.wg.Add(1)
		go jt.start()
	})
}

// Pause suspends tick delivery. The timer keeps running.
func (jt *JitterTicker) Pause() {
	jt.mtx.Lock()
	jt.active = false
	jt.mtx.Unlock()
}

// Stop stops the ticker and waits for its goroutine to exit.
func (jt *JitterTicker) Stop() {
	jt.stopped.Do(func() {
		close(jt.quit)
	})
	jt.wg.Wait()
}

// start runs the timer loop.
func (jt *JitterTicker) start() {
	defer jt.wg.Done()

	timer := time.NewTimer(jt.rand())
	defer timer.Stop()

	for {
		select {
		case t := <-timer.C:
			timer.Reset(jt.rand())

			jt.mtx.Lock()
			active := jt.active
			jt.mtx.Unlock()
			if !active {
				continue
			}

			// NOTE: must be non-blocking.
			select {
			case jt.c <- t:
			default:
			}

		case <-jt.quit:
			return
		}
	}
}

// rand returns a random duration between the min and max values.
func (jt *JitterTicker) rand() time.Duration {
	if jt.max == jt.min {
		return jt.duration
	}

	d := rand.Int63n(jt.max-jt.min) + jt.min //nolint:gosec
	return time.Duration(d)
}
