// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ccjclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCalculateMinMax tests the calculation of the min and max jitter values.
func TestCalculateMinMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration int64
		scaler   float64
		min      int64
		max      int64
	}{
		{
			name:     "Scaler is 0",
			duration: 1000,
			scaler:   0,
			min:      1000,
			max:      1000,
		},
		{
			name:     "Scaler is 0.5",
			duration: 1000,
			scaler:   0.5,
			min:      500,
			max:      1500,
		},
		{
			name:     "Scaler is 1",
			duration: 1000,
			scaler:   1,
			min:      0,
			max:      2000,
		},
		{
			name:     "Scaler is greater than 1",
			duration: 1000,
			scaler:   1.5,
			min:      0,
			max:      2500,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			min, max := calculateMinMax(
				time.Duration(tc.duration), tc.scaler,
			)
			require.Equal(t, tc.min, min)
			require.Equal(t, tc.max, max)
		})
	}

	require.Panics(t, func() {
		calculateMinMax(time.Second, -0.5)
	})
}

// TestJitterTicker checks tick spacing stays within the jitter bounds.
func TestJitterTicker(t *testing.T) {
	t.Parallel()

	ticker := NewJitterTicker(100*time.Millisecond, 0.2)
	ticker.Resume()

	var tickTimes []time.Time
	for i := 0; i < 5; i++ {
		tickTimes = append(tickTimes, <-ticker.Ticks())
	}

	ticker.Stop()

	for i := 1; i < len(tickTimes); i++ {
		diff := tickTimes[i].Sub(tickTimes[i-1])

		require.True(t, diff >= 80*time.Millisecond, "diff: %v", diff)

		// We give 1ms more to account for the time it takes to run the
		// code.
		require.True(t, diff < 121*time.Millisecond, "diff: %v", diff)
	}
}

// TestJitterTickerPause checks a paused ticker delivers nothing and that
// Stop returns after Pause.
func TestJitterTickerPause(t *testing.T) {
	t.Parallel()

	ticker := NewJitterTicker(10*time.Millisecond, 0)
	ticker.Resume()
	<-ticker.Ticks()

	ticker.Pause()

	// Drain a tick that may have raced with the pause.
	select {
	case <-ticker.Ticks():
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-ticker.Ticks():
		t.Fatal("tick delivered while paused")
	case <-time.After(50 * time.Millisecond):
	}

	ticker.Stop()
	ticker.Stop()
}
