package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/cluster"
)

// TargetHealth tracks the health of a single shard target.
// Thread-safe: protected by the Monitor's mutex when accessed.
type TargetHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	Addr             string
	Status           string // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int
}

// Monitor performs periodic health checks on every target the registry
// knows about, so the router can report dead shards before an aggregate
// discovers them the hard way.
// Thread-safe: all methods are safe for concurrent access.
type Monitor struct {
	targets     map[string]*TargetHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(addr string)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	maxFailures int
	mu          sync.RWMutex
	wg          sync.WaitGroup
	log         *zap.Logger
}

// NewMonitor creates a health monitor checking each target's /health
// endpoint every interval. Targets are marked unhealthy after 3 consecutive
// failures.
func NewMonitor(interval time.Duration, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		targets:     make(map[string]*TargetHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		interval:    interval,
		maxFailures: 3,
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

// SetOnUnhealthy sets the callback invoked when a target turns unhealthy.
func (m *Monitor) SetOnUnhealthy(cb func(addr string)) {
	m.onUnhealthy = cb
}

// SetCheckFunction overrides the default HTTP health check. Used in tests.
func (m *Monitor) SetCheckFunction(f func(addr string) error) {
	m.checkFunc = f
}

// Start runs the check loop in the current goroutine until the context or
// the monitor is cancelled. Callers usually launch it with go.
func (m *Monitor) Start(ctx context.Context, provider func() []cluster.ShardTarget) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}
	if m.checkFunc == nil {
		m.checkFunc = m.defaultCheck
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkAll(provider())
	for {
		select {
		case <-ticker.C:
			m.checkAll(provider())
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitor and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// IsHealthy reports whether a target address is currently healthy. Unknown
// addresses report false.
func (m *Monitor) IsHealthy(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.targets[addr]
	return h != nil && h.Status == "healthy"
}

// Health returns a copy of the target's health record, or nil when unknown.
func (m *Monitor) Health(addr string) *TargetHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.targets[addr]
	if h == nil {
		return nil
	}
	cp := *h
	return &cp
}

func (m *Monitor) checkAll(targets []cluster.ShardTarget) {
	current := make(map[string]bool)
	for _, t := range targets {
		current[t.Addr] = true
		m.checkTarget(t)
	}

	// Forget targets the registry no longer knows.
	m.mu.Lock()
	for addr := range m.targets {
		if !current[addr] {
			delete(m.targets, addr)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) checkTarget(t cluster.ShardTarget) {
	m.mu.Lock()
	h := m.targets[t.Addr]
	if h == nil {
		h = &TargetHealth{Addr: t.Addr, Status: "unknown", LastCheck: time.Now(), LastHealthy: time.Now()}
		m.targets[t.Addr] = h
	}
	m.mu.Unlock()

	err := m.checkFunc(t.Addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	h.LastCheck = time.Now()

	if err != nil {
		h.ConsecutiveFails++
		m.log.Warn("target health check failed",
			zap.Stringer("target", t),
			zap.Int("fails", h.ConsecutiveFails),
			zap.Error(err))
		if h.ConsecutiveFails >= m.maxFailures {
			prev := h.Status
			h.Status = "unhealthy"
			if prev != "unhealthy" && m.onUnhealthy != nil {
				// Callback without holding the lock.
				go m.onUnhealthy(t.Addr)
			}
		}
		return
	}

	if h.Status == "unhealthy" {
		m.log.Info("target recovered", zap.Stringer("target", t))
	}
	h.Status = "healthy"
	h.ConsecutiveFails = 0
	h.LastHealthy = time.Now()
}

func (m *Monitor) defaultCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
