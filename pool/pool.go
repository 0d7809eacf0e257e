// Package pool maintains persistent NDJSON sockets to specialists: one
// connection per specialist, reconnected on demand, with request/response
// exchanges serialized per socket. Request failures are data, not errors —
// Send always returns a Result so callers can fold failures into routing
// decisions without unwrapping error chains.
package pool

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/registry"
	"github.com/ckoons/Tekton-sub006/wire"
)

// Connection defaults.
const (
	defaultConnectTimeout = 2 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Directory is the registry surface the pool needs: specialist lookup and
// metric write-back. *registry.Registry satisfies it.
type Directory interface {
	Get(ctx context.Context, id string) (*registry.Specialist, error)
	All(ctx context.Context) ([]*registry.Specialist, error)
	UpdateMetrics(ctx context.Context, id string, responseTime time.Duration, success bool) error
}

// MonitorRunner is a background loop the pool can host, typically the health
// monitor. Run blocks until ctx is cancelled.
type MonitorRunner interface {
	Run(ctx context.Context) error
}

// Observer receives the outcome of every exchange, for metrics export.
type Observer func(specialistID string, elapsed time.Duration, success bool)

// Result is the outcome of one exchange with a specialist. Failed exchanges
// populate Error and leave Success false; Elapsed is always set.
type Result struct {
	SpecialistID string        `json:"specialist_id"`
	Success      bool          `json:"success"`
	Content      string        `json:"content,omitempty"`
	AIID         string        `json:"ai_id,omitempty"`
	Model        string        `json:"model,omitempty"`
	Error        string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Pool manages one connection per specialist.
type Pool struct {
	directory      Directory
	logger         *slog.Logger
	connectTimeout time.Duration
	requestTimeout time.Duration
	observer       Observer

	mu       sync.RWMutex
	conns    map[string]*Connection
	inflight map[string]*atomic.Int64
	closed   bool

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithRequestTimeout sets the per-exchange deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver sets the per-exchange outcome callback.
func WithObserver(fn Observer) Option {
	return func(p *Pool) { p.observer = fn }
}

// New creates a pool over the given directory.
func New(directory Directory, opts ...Option) *Pool {
	p := &Pool{
		directory:      directory,
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
		requestTimeout: defaultRequestTimeout,
		conns:          make(map[string]*Connection),
		inflight:       make(map[string]*atomic.Int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection returns the pooled connection for a specialist, dialing if
// needed. A connection in the failed state is torn down and redialed.
func (p *Pool) GetConnection(ctx context.Context, id string) (*Connection, error) {
	spec, err := p.directory.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.connection(ctx, spec)
}

func (p *Pool) connection(ctx context.Context, spec *registry.Specialist) (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrPoolClosed, "Pool", "connection", spec.ID)
	}
	c, ok := p.conns[spec.ID]
	if !ok {
		c = &Connection{
			specialistID: spec.ID,
			addr:         net.JoinHostPort(spec.Host, fmt.Sprintf("%d", spec.Port)),
		}
		p.conns[spec.ID] = c
		p.inflight[spec.ID] = &atomic.Int64{}
	}
	p.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateConnected && c.conn != nil {
		return c, nil
	}

	c.close(StateConnecting)
	dialer := net.Dialer{Timeout: p.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.setState(StateFailed)
		return nil, errors.WrapTransient(errors.ErrConnectionFailed, "Pool", "connection",
			fmt.Sprintf("dial %s (%s)", spec.ID, c.addr))
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.setState(StateConnected)
	p.logger.Debug("connected to specialist", "id", spec.ID, "addr", c.addr)
	return c, nil
}

// Send delivers a chat request to a specialist and waits for the reply line.
// The exchange is bounded by the pool's request timeout or the context's
// deadline, whichever expires first. All failures — unknown specialist, dial
// errors, timeouts, bad replies — come back as a failed Result; the error
// string for a deadline hit is "Timeout after <effective budget>".
func (p *Pool) Send(ctx context.Context, id, content string, reqContext map[string]any) Result {
	return p.exchange(ctx, id, wire.NewChatRequest(content, reqContext))
}

// SendRequest delivers an arbitrary pre-built request.
func (p *Pool) SendRequest(ctx context.Context, id string, req wire.Request) Result {
	return p.exchange(ctx, id, req)
}

// Ping sends the liveness probe and reports the round trip as a Result.
func (p *Pool) Ping(ctx context.Context, id string) Result {
	return p.exchange(ctx, id, wire.NewPingRequest())
}

func (p *Pool) exchange(ctx context.Context, id string, req wire.Request) Result {
	start := time.Now()

	spec, err := p.directory.Get(ctx, id)
	if err != nil {
		return p.finish(ctx, Result{
			SpecialistID: id,
			Error:        fmt.Sprintf("specialist lookup failed: %v", err),
			Elapsed:      time.Since(start),
		}, false)
	}

	conn, err := p.connection(ctx, spec)
	if err != nil {
		return p.finish(ctx, Result{
			SpecialistID: id,
			Error:        fmt.Sprintf("connection failed: %v", err),
			Elapsed:      time.Since(start),
		}, true)
	}

	if counter := p.inflightCounter(id); counter != nil {
		counter.Add(1)
		defer counter.Add(-1)
	}

	// The caller's deadline tightens the pool-level request timeout.
	budget := p.requestTimeout
	deadline := start.Add(budget)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
		budget = dl.Sub(start).Round(time.Millisecond)
	}

	conn.mu.Lock()
	resp, err := p.roundTrip(conn, req, deadline)
	conn.mu.Unlock()

	elapsed := time.Since(start)
	conn.touch()

	if err != nil {
		res := Result{SpecialistID: id, Elapsed: elapsed}
		if isTimeout(err) {
			res.Error = fmt.Sprintf("Timeout after %v", budget)
		} else {
			res.Error = err.Error()
		}
		return p.finish(ctx, res, true)
	}

	res := Result{
		SpecialistID: id,
		Success:      resp.Success,
		Content:      resp.Content,
		AIID:         resp.AIID,
		Model:        resp.Model,
		Error:        resp.Err,
		Elapsed:      elapsed,
	}
	return p.finish(ctx, res, true)
}

// roundTrip performs one write/read exchange under the connection lock. Any
// I/O failure poisons the socket: the reply stream may be desynchronized, so
// the connection is closed and marked failed rather than reused.
func (p *Pool) roundTrip(c *Connection, req wire.Request, deadline time.Time) (wire.Response, error) {
	if c.conn == nil {
		return wire.Response{}, errors.WrapTransient(errors.ErrConnectionFailed, "Pool", "roundTrip", c.specialistID)
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		c.close(StateFailed)
		return wire.Response{}, errors.WrapTransient(err, "Pool", "roundTrip", "set deadline")
	}

	if err := wire.WriteRequest(c.conn, req); err != nil {
		c.close(StateFailed)
		return wire.Response{}, err
	}

	resp, err := wire.ReadResponse(c.reader)
	if err != nil {
		c.close(StateFailed)
		return wire.Response{}, err
	}

	_ = c.conn.SetDeadline(time.Time{})
	return resp, nil
}

// finish records the exchange outcome into the registry and observer. Metric
// write-back is skipped for lookup failures since there is no record to update.
func (p *Pool) finish(ctx context.Context, res Result, record bool) Result {
	if record {
		if err := p.directory.UpdateMetrics(ctx, res.SpecialistID, res.Elapsed, res.Success); err != nil {
			p.logger.Warn("metric write-back failed", "id", res.SpecialistID, "error", err)
		}
	}
	if p.observer != nil {
		p.observer(res.SpecialistID, res.Elapsed, res.Success)
	}
	if !res.Success {
		p.logger.Debug("exchange failed", "id", res.SpecialistID, "error", res.Error, "elapsed", res.Elapsed)
	}
	return res
}

// SendToAll fans a chat request out to the given specialists and returns one
// Result per target, in target order. With no explicit targets it broadcasts
// to every available specialist, ordered by ID. Individual failures do not
// interrupt the rest of the fan-out.
func (p *Pool) SendToAll(ctx context.Context, content string, reqContext map[string]any, targets ...string) ([]Result, error) {
	ids := targets
	if len(ids) == 0 {
		specialists, err := p.directory.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range specialists {
			if s.IsAvailable() {
				ids = append(ids, s.ID)
			}
		}
		sort.Strings(ids)
	}

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = p.Send(gctx, id, content, reqContext)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Inflight returns the number of requests currently in flight to a specialist.
// Routing uses this for least-loaded selection.
func (p *Pool) Inflight(id string) int64 {
	if counter := p.inflightCounter(id); counter != nil {
		return counter.Load()
	}
	return 0
}

func (p *Pool) inflightCounter(id string) *atomic.Int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	counter, ok := p.inflight[id]
	if !ok {
		counter = &atomic.Int64{}
		p.inflight[id] = counter
	}
	return counter
}

// States returns a snapshot of every pooled connection's state.
func (p *Pool) States() map[string]ConnState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ConnState, len(p.conns))
	for id, c := range p.conns {
		out[id] = c.State()
	}
	return out
}

// Drop closes and forgets the connection for a specialist, typically after it
// deregisters.
func (p *Pool) Drop(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
		delete(p.inflight, id)
	}
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// StartHealthMonitoring hosts a monitor loop on the pool's lifecycle; it stops
// when CloseAll runs. Starting twice is an error.
func (p *Pool) StartHealthMonitoring(runner MonitorRunner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.WrapInvalid(errors.ErrPoolClosed, "Pool", "StartHealthMonitoring", "pool closed")
	}
	if p.monitorCancel != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pool", "StartHealthMonitoring", "monitor running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.monitorCancel = cancel
	p.monitorDone = done

	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("health monitor exited", "error", err)
		}
	}()
	return nil
}

// CloseAll stops the hosted monitor and closes every connection. The pool
// accepts no further work afterwards.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.monitorCancel
	done := p.monitorDone
	conns := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, c := range conns {
		c.Close()
	}
}

// isTimeout reports whether err is a socket deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
