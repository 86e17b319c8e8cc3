// Package network tracks connectivity and triggers a sync shortly after it returns.
package network

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"mindsync/internal/metrics"

	"github.com/rs/zerolog"
)

// Check reports nil when its dependency is reachable.
type Check func(ctx context.Context) error

// Options configures a Monitor.
type Options struct {
	// Checks maps a stable name to a probe. Online means every probe passes.
	Checks        map[string]Check
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// Debounce delays OnReconnect after an offline to online transition.
	Debounce time.Duration
	AutoSync bool
	// OnReconnect runs after the debounce while still online, typically SyncAll.
	OnReconnect func(ctx context.Context)
	// OnChange observes every transition.
	OnChange func(online bool)
	Logger   *zerolog.Logger
}

type Monitor struct {
	opts   Options
	names  []string
	logger *zerolog.Logger

	mu       sync.Mutex
	online   bool
	failures map[string]string
	timer    *time.Timer
	gen      uint64
	ctx      context.Context
}

func NewMonitor(opts Options) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "network-monitor").Logger()

	names := make([]string, 0, len(opts.Checks))
	for name := range opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics.SetOnline(true)
	return &Monitor{
		opts:     opts,
		names:    names,
		logger:   &l,
		online:   true,
		failures: make(map[string]string),
		ctx:      context.Background(),
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Failures returns the last error of every failing check by name.
func (m *Monitor) Failures() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

// Run probes at ProbeInterval until ctx is done. Without checks it only
// keeps the context for reconnect callbacks and waits.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	defer m.cancelPending()

	if len(m.names) == 0 {
		<-ctx.Done()
		return nil
	}

	m.Probe(ctx)
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs every check once and applies the outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	failures := make(map[string]string)
	for _, name := range m.names {
		checkCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
		err := m.opts.Checks[name](checkCtx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	if ctx.Err() != nil {
		return m.IsOnline()
	}

	m.mu.Lock()
	m.failures = failures
	m.mu.Unlock()

	online := len(failures) == 0
	if !online {
		m.logger.Debug().Interface("failures", failures).Msg("connectivity probe failed")
	}
	m.SetOnline(online)
	return online
}

// SetOnline applies a transition pushed by the host or a probe.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	metrics.SetOnline(online)
	if online {
		m.logger.Info().Dur("debounce", m.opts.Debounce).Msg("back online")
	} else {
		m.logger.Warn().Msg("went offline")
	}
	// observers learn the new state before a reconnect can fire
	if m.opts.OnChange != nil {
		m.opts.OnChange(online)
	}

	if !online || !m.opts.AutoSync || m.opts.OnReconnect == nil {
		return
	}
	m.mu.Lock()
	if gen == m.gen {
		m.timer = time.AfterFunc(m.opts.Debounce, func() { m.fire(gen) })
	}
	m.mu.Unlock()
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.online {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ctx := m.ctx
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	m.opts.OnReconnect(ctx)
}

func (m *Monitor) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// HTTPCheck treats any response below 500 from url as reachable.
func HTTPCheck(client *http.Client, url string) Check {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}
