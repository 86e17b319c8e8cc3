package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectTriggersAfterDebounce(t *testing.T) {
	var calls atomic.Int32
	var changes []bool
	var mu sync.Mutex

	m := NewMonitor(Options{
		Debounce:    30 * time.Millisecond,
		AutoSync:    true,
		OnReconnect: func(context.Context) { calls.Add(1) },
		OnChange: func(online bool) {
			mu.Lock()
			changes = append(changes, online)
			mu.Unlock()
		},
	})

	m.SetOnline(false)
	assert.False(t, m.IsOnline())
	started := time.Now()
	m.SetOnline(true)
	m.SetOnline(true) // no transition

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	mu.Lock()
	assert.Equal(t, []bool{false, true}, changes)
	mu.Unlock()
}

func TestFlapWithinDebounceCancels(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(Options{
		Debounce:    50 * time.Millisecond,
		AutoSync:    true,
		OnReconnect: func(context.Context) { calls.Add(1) },
	})

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(false)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	// repeated reconnects only fire once
	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReconnectSeesOnlineState(t *testing.T) {
	var engineOnline atomic.Bool
	engineOnline.Store(true)
	seen := make(chan bool, 1)

	m := NewMonitor(Options{
		AutoSync:    true,
		OnChange:    engineOnline.Store,
		OnReconnect: func(context.Context) { seen <- engineOnline.Load() },
	})

	m.SetOnline(false)
	require.False(t, engineOnline.Load())
	m.SetOnline(true)

	select {
	case online := <-seen:
		assert.True(t, online)
	case <-time.After(time.Second):
		t.Fatalf("reconnect callback did not run")
	}
}

func TestAutoSyncDisabled(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(Options{
		Debounce:    time.Millisecond,
		OnReconnect: func(context.Context) { calls.Add(1) },
	})
	m.SetOnline(false)
	m.SetOnline(true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestProbeUsesNamedChecks(t *testing.T) {
	var remoteDown atomic.Bool
	remoteDown.Store(true)

	m := NewMonitor(Options{
		Checks: map[string]Check{
			"dns": func(context.Context) error { return nil },
			"remote": func(context.Context) error {
				if remoteDown.Load() {
					return errors.New("connection refused")
				}
				return nil
			},
		},
		ProbeTimeout: 100 * time.Millisecond,
	})

	ctx := context.Background()
	assert.False(t, m.Probe(ctx))
	assert.False(t, m.IsOnline())
	assert.Equal(t, map[string]string{"remote": "connection refused"}, m.Failures())

	remoteDown.Store(false)
	assert.True(t, m.Probe(ctx))
	assert.Empty(t, m.Failures())
}

func TestRunPollsAndStops(t *testing.T) {
	var probes atomic.Int32
	m := NewMonitor(Options{
		Checks: map[string]Check{
			"remote": func(context.Context) error {
				probes.Add(1)
				return nil
			},
		},
		ProbeInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestHTTPCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))

	check := HTTPCheck(srv.Client(), srv.URL)
	ctx := context.Background()
	assert.NoError(t, check(ctx))

	status.Store(http.StatusNotFound)
	assert.NoError(t, check(ctx))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, check(ctx))

	srv.Close()
	assert.Error(t, check(ctx))
}
