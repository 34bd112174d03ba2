// Package connectivity tracks whether the remote API is reachable and
// notifies subscribers on the offline-to-online edge. The engine treats
// the boolean state as advisory: drains re-check it at entry, and a wrong
// "online" merely produces one failed dispatch cycle.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger is the probe the monitor polls; satisfied by remote.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Pinger at a fixed interval and maintains an online flag.
// Subscribers registered with OnOnline are invoked exactly once per
// offline-to-online transition.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	online bool
	subs   []func()
}

// NewMonitor constructs a monitor that probes every interval. The monitor
// starts pessimistic (offline) until the first successful probe.
func NewMonitor(p Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a callback invoked on every offline-to-online edge.
// Callbacks run on the monitor's goroutine and should hand off long work.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline updates the state directly. Transport layers can feed hints
// here (e.g. a failed live call) without waiting for the next probe; tests
// use it to simulate connectivity changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	var subs []func()
	if online && !wasOnline {
		subs = append(subs, m.subs...)
	}
	m.mu.Unlock()

	if online != wasOnline {
		log.Info().Bool("online", online).Msg("connectivity changed")
	}
	for _, fn := range subs {
		fn()
	}
}

// Run probes until ctx is canceled. It performs one immediate probe so
// startup does not wait a full interval for the first state.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	m.SetOnline(m.pinger.Ping(pctx) == nil)
}
