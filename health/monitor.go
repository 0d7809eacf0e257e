// Package health periodically probes every registered specialist and writes
// the observed classification back to the registry. Probes run on fresh
// sockets so a long chat exchange on the pooled connection never delays a
// liveness verdict.
package health

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/registry"
	"github.com/ckoons/Tekton-sub006/wire"
)

// Probe timing defaults.
const (
	defaultInterval    = 30 * time.Second
	defaultPingTimeout = 5 * time.Second
	defaultCheckDelay  = 100 * time.Millisecond

	healthyBelow  = time.Second
	degradedBelow = 5 * time.Second
)

// Directory is the registry surface the monitor needs. *registry.Registry
// satisfies it.
type Directory interface {
	All(ctx context.Context) ([]*registry.Specialist, error)
	UpdateStatus(ctx context.Context, id string, status registry.Status) error
	UpdateMetrics(ctx context.Context, id string, responseTime time.Duration, success bool) error
}

// Check is the outcome of probing one specialist.
type Check struct {
	SpecialistID string
	Status       registry.Status
	Elapsed      time.Duration
	Err          error
}

// Monitor sweeps the registry on a fixed interval. Individual probes within a
// sweep are staggered so a large mesh does not see a thundering herd of pings.
type Monitor struct {
	directory   Directory
	logger      *slog.Logger
	interval    time.Duration
	pingTimeout time.Duration
	checkDelay  time.Duration
	onCheck     func(Check)

	mu     sync.Mutex
	done   chan struct{}
	stopWg sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithPingTimeout sets the per-probe budget.
func WithPingTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pingTimeout = d
		}
	}
}

// WithCheckDelay sets the stagger between probe launches within a sweep.
func WithCheckDelay(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.checkDelay = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCheckCallback sets a callback invoked after every probe, for metrics.
func WithCheckCallback(fn func(Check)) Option {
	return func(m *Monitor) { m.onCheck = fn }
}

// New creates a monitor over the given directory.
func New(directory Directory, opts ...Option) *Monitor {
	m := &Monitor{
		directory:   directory,
		logger:      slog.Default(),
		interval:    defaultInterval,
		pingTimeout: defaultPingTimeout,
		checkDelay:  defaultCheckDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sweep loop in a goroutine. Starting twice without an
// intervening Stop is an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "sweep loop running")
	}
	done := make(chan struct{})
	m.done = done

	m.stopWg.Add(1)
	go func() {
		defer m.stopWg.Done()
		m.loop(ctx, done)
	}()
	return nil
}

// Stop terminates the sweep loop and waits for in-flight probes to finish.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Monitor", "Stop", "sweep loop not running")
	}
	close(m.done)
	m.done = nil
	m.mu.Unlock()

	m.stopWg.Wait()
	return nil
}

// Run blocks sweeping until ctx is cancelled. It implements the runner
// interface the connection pool hosts.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll performs one sweep: every registered specialist is probed, with
// launches staggered by the check delay. It returns when every probe has
// completed and its result is written back.
func (m *Monitor) CheckAll(ctx context.Context) []Check {
	specialists, err := m.directory.All(ctx)
	if err != nil {
		m.logger.Error("health sweep could not list specialists", "error", err)
		return nil
	}

	checks := make([]Check, len(specialists))
	var wg sync.WaitGroup
	for i, spec := range specialists {
		if i > 0 && m.checkDelay > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return checks[:i]
			case <-time.After(m.checkDelay):
			}
		}
		wg.Add(1)
		i, spec := i, spec
		go func() {
			defer wg.Done()
			checks[i] = m.CheckOne(ctx, spec)
		}()
	}
	wg.Wait()
	return checks
}

// CheckOne probes one specialist and records the verdict. The registry status
// is only written when the classification changed; probe latency always feeds
// the rolling metrics.
func (m *Monitor) CheckOne(ctx context.Context, spec *registry.Specialist) Check {
	elapsed, err := m.probe(ctx, spec)
	status := classify(elapsed, err)

	check := Check{SpecialistID: spec.ID, Status: status, Elapsed: elapsed, Err: err}

	if err := m.directory.UpdateMetrics(ctx, spec.ID, elapsed, err == nil); err != nil {
		m.logger.Warn("probe metric write-back failed", "id", spec.ID, "error", err)
	}
	if status != spec.Status {
		if err := m.directory.UpdateStatus(ctx, spec.ID, status); err != nil {
			m.logger.Warn("status write-back failed", "id", spec.ID, "error", err)
		} else {
			m.logger.Info("specialist health changed",
				"id", spec.ID, "from", spec.Status, "to", status, "elapsed", elapsed)
		}
	}

	if m.onCheck != nil {
		m.onCheck(check)
	}
	return check
}

// probe dials a fresh socket, sends a ping, and waits for any reply line, all
// within the ping budget.
func (m *Monitor) probe(ctx context.Context, spec *registry.Specialist) (time.Duration, error) {
	addr := net.JoinHostPort(spec.Host, fmt.Sprintf("%d", spec.Port))
	start := time.Now()
	deadline := start.Add(m.pingTimeout)

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return time.Since(start), err
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return time.Since(start), err
	}
	if err := wire.WriteRequest(conn, wire.NewPingRequest()); err != nil {
		return time.Since(start), err
	}
	if _, err := wire.ReadResponse(bufio.NewReader(conn)); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}

// classify maps a probe outcome to a status. Latency bands are half-open:
// under one second is healthy, one to five seconds is degraded, five seconds
// or more is unresponsive. A setup failure that never reached the socket,
// such as an unresolvable host, is unknown rather than unresponsive.
func classify(elapsed time.Duration, err error) registry.Status {
	if err != nil {
		if isSetupError(err) {
			return registry.StatusUnknown
		}
		return registry.StatusUnresponsive
	}
	switch {
	case elapsed < healthyBelow:
		return registry.StatusHealthy
	case elapsed < degradedBelow:
		return registry.StatusDegraded
	default:
		return registry.StatusUnresponsive
	}
}

// isSetupError reports whether the probe failed before any connection attempt
// could be judged, e.g. DNS resolution.
func isSetupError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var addrErr *net.AddrError
	return errors.As(err, &addrErr)
}
