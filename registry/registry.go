package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ckoons/Tekton-sub006/errors"
)

// Port allocation defaults. Greek Chorus specialists live in this range by
// convention.
const (
	DefaultPortRangeStart = 45000
	DefaultPortRangeEnd   = 50000
)

// defaultCacheTTL bounds how long a discovery result may be served from the
// in-memory cache before the store is consulted again.
const defaultCacheTTL = 60 * time.Second

// Event types emitted by the registry.
const (
	EventRegistered    = "registered"
	EventDeregistered  = "deregistered"
	EventStatusChanged = "status_changed"
)

// Event describes one registry mutation, delivered to subscribed handlers.
type Event struct {
	Type       string
	Specialist *Specialist
	OldStatus  Status
	NewStatus  Status
}

// EventHandler receives registry events. Handlers run synchronously after the
// store lock is released and must not block.
type EventHandler func(Event)

// Filter narrows a Discover call. Zero values mean "no constraint"; a
// candidate must carry every requested capability.
type Filter struct {
	Role           string
	Capabilities   []string
	Status         Status
	Component      string
	MinSuccessRate float64
}

// Stats aggregates registry-wide request accounting.
type Stats struct {
	TotalSpecialists   int            `json:"total_specialists"`
	StatusBreakdown    map[Status]int `json:"status_breakdown"`
	TotalRequests      int64          `json:"total_requests"`
	TotalFailures      int64          `json:"total_failures"`
	OverallSuccessRate float64        `json:"overall_success_rate"`
}

// Registry is the process-shared directory of specialists. All mutation goes
// through the backend's locked read-modify-write; the registry layers audit,
// events, port allocation, and discovery caching on top.
type Registry struct {
	backend  Backend
	audit    *AuditLog
	logger   *slog.Logger
	portFrom int
	portTo   int
	cacheTTL time.Duration

	mu       sync.Mutex
	handlers map[string][]EventHandler
	cache    map[string]cacheEntry
}

type cacheEntry struct {
	at      time.Time
	results []*Specialist
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuditLog attaches an audit log.
func WithAuditLog(audit *AuditLog) Option {
	return func(r *Registry) { r.audit = audit }
}

// WithPortRange overrides the default allocation range.
func WithPortRange(from, to int) Option {
	return func(r *Registry) {
		r.portFrom = from
		r.portTo = to
	}
}

// WithCacheTTL overrides the discovery cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.cacheTTL = ttl }
}

// New creates a registry over the given backend.
func New(backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend:  backend,
		logger:   slog.Default(),
		portFrom: DefaultPortRangeStart,
		portTo:   DefaultPortRangeEnd,
		cacheTTL: defaultCacheTTL,
		handlers: make(map[string][]EventHandler),
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a file-backed registry in dir with the conventional audit log,
// shared safely with other processes using the same directory.
func Open(dir string, opts ...Option) (*Registry, error) {
	backend, err := NewFileBackend(dir, slog.Default())
	if err != nil {
		return nil, err
	}
	base := []Option{WithAuditLog(NewAuditLog(backend.AuditPath(), slog.Default()))}
	return New(backend, append(base, opts...)...), nil
}

// Register inserts or updates a specialist. It fails with ErrPortConflict when
// the port is owned by a different ID; the check runs while holding the
// exclusive store lock, so no two processes can race it. Registration always
// appends an audit record, even when the stored state is unchanged.
func (r *Registry) Register(ctx context.Context, spec *Specialist) error {
	if spec == nil || spec.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Registry", "Register", "specialist ID required")
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d out of range", spec.Port), "Registry", "Register", "validate port")
	}

	entry := spec.Clone()
	if entry.Host == "" {
		entry.Host = "localhost"
	}
	if entry.Name == "" {
		entry.Name = entry.ID
	}
	if entry.Model == "" {
		entry.Model = "unknown"
	}
	if entry.Status == "" {
		entry.Status = StatusStarting
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}
	if entry.TotalRequests == 0 && entry.SuccessRate == 0 {
		entry.SuccessRate = 1.0
	}

	err := r.backend.Mutate(ctx, func(specialists map[string]*Specialist) (bool, error) {
		for id, existing := range specialists {
			if id != entry.ID && existing.Port == entry.Port {
				return false, errors.WrapInvalid(errors.ErrPortConflict, "Registry", "Register",
					fmt.Sprintf("port %d owned by %s", entry.Port, id))
			}
		}
		// Re-registration keeps the observed metrics; identity fields win.
		if prev, ok := specialists[entry.ID]; ok {
			entry.Status = prev.Status
			entry.LastSeen = prev.LastSeen
			entry.RegisteredAt = prev.RegisteredAt
			entry.ResponseTimes = prev.ResponseTimes
			entry.SuccessRate = prev.SuccessRate
			entry.TotalRequests = prev.TotalRequests
			entry.FailedRequests = prev.FailedRequests
		}
		specialists[entry.ID] = entry
		return true, nil
	})
	if err != nil {
		return err
	}

	r.invalidateCache()
	if r.audit != nil {
		r.audit.Append(entry.ID, AuditRegistered, map[string]any{
			"port":      entry.Port,
			"component": entry.Component,
		})
	}
	r.logger.Info("registered specialist", "id", entry.ID, "port", entry.Port, "component", entry.Component)
	r.emit(Event{Type: EventRegistered, Specialist: entry.Clone()})
	return nil
}

// Deregister removes a specialist. It returns false (and no audit entry) when
// the ID is absent.
func (r *Registry) Deregister(ctx context.Context, id string) (bool, error) {
	var removed *Specialist
	err := r.backend.Mutate(ctx, func(specialists map[string]*Specialist) (bool, error) {
		s, ok := specialists[id]
		if !ok {
			return false, nil
		}
		removed = s.Clone()
		delete(specialists, id)
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if removed == nil {
		return false, nil
	}

	r.invalidateCache()
	if r.audit != nil {
		r.audit.Append(id, AuditDeregistered, map[string]any{
			"port":        removed.Port,
			"last_status": string(removed.Status),
		})
	}
	r.logger.Info("deregistered specialist", "id", id)
	r.emit(Event{Type: EventDeregistered, Specialist: removed})
	return true, nil
}

// Get returns the specialist with the given ID, or ErrSpecialistNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Specialist, error) {
	specialists, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := specialists[id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrSpecialistNotFound, "Registry", "Get", id)
	}
	return s.Clone(), nil
}

// All returns every registered specialist.
func (r *Registry) All(ctx context.Context) ([]*Specialist, error) {
	specialists, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Specialist, 0, len(specialists))
	for _, s := range specialists {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Discover filters the registry in memory. Results are sorted best-first by
// success rate, then by average response time, and cached briefly.
func (r *Registry) Discover(ctx context.Context, filter Filter) ([]*Specialist, error) {
	key := filter.cacheKey()
	if cached, ok := r.cachedDiscovery(key); ok {
		return cached, nil
	}

	specialists, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*Specialist, 0, len(specialists))
	for _, s := range specialists {
		if filter.Role != "" && !s.HasRole(filter.Role) {
			continue
		}
		if len(filter.Capabilities) > 0 && !s.HasCapabilities(filter.Capabilities) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Component != "" && s.Component != filter.Component {
			continue
		}
		if s.SuccessRate < filter.MinSuccessRate {
			continue
		}
		results = append(results, s.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SuccessRate != results[j].SuccessRate {
			return results[i].SuccessRate > results[j].SuccessRate
		}
		return results[i].AvgResponseTime() < results[j].AvgResponseTime()
	})

	r.cacheDiscovery(key, results)
	return results, nil
}

// UpdateStatus sets a specialist's status and refreshes its last-seen time.
// A status transition appends an audit record with the previous state and
// emits a status-changed event; setting the same status does neither.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown status %q", status), "Registry", "UpdateStatus", "validate status")
	}

	var old Status
	var updated *Specialist
	err := r.backend.Mutate(ctx, func(specialists map[string]*Specialist) (bool, error) {
		s, ok := specialists[id]
		if !ok {
			return false, errors.WrapInvalid(errors.ErrSpecialistNotFound, "Registry", "UpdateStatus", id)
		}
		old = s.Status
		s.Status = status
		s.LastSeen = time.Now().UTC()
		updated = s.Clone()
		return true, nil
	})
	if err != nil {
		return err
	}

	r.invalidateCache()
	if old != status {
		if r.audit != nil {
			r.audit.Append(id, AuditStatusChanged, map[string]any{
				"from": string(old),
				"to":   string(status),
			})
		}
		r.logger.Debug("specialist status changed", "id", id, "from", old, "to", status)
		r.emit(Event{Type: EventStatusChanged, Specialist: updated, OldStatus: old, NewStatus: status})
	}
	return nil
}

// UpdateMetrics folds one request outcome into a specialist's rolling metrics.
// A successful request also refreshes the last-seen time.
func (r *Registry) UpdateMetrics(ctx context.Context, id string, responseTime time.Duration, success bool) error {
	err := r.backend.Mutate(ctx, func(specialists map[string]*Specialist) (bool, error) {
		s, ok := specialists[id]
		if !ok {
			return false, errors.WrapInvalid(errors.ErrSpecialistNotFound, "Registry", "UpdateMetrics", id)
		}
		s.RecordResult(responseTime, success)
		if success {
			s.LastSeen = time.Now().UTC()
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	r.invalidateCache()
	return nil
}

// AllocatePort returns preferred when it is unclaimed, otherwise the lowest
// free port in the configured range. Allocation is a pure set-difference
// against registered ports under the allocation lock; there is no live bind
// probe, so a service that loses the (allocation, bind) race fails fast at
// bind time instead.
func (r *Registry) AllocatePort(ctx context.Context, preferred int) (int, error) {
	var port int
	err := r.backend.AllocateView(ctx, func(specialists map[string]*Specialist) error {
		used := make(map[int]bool, len(specialists))
		for _, s := range specialists {
			used[s.Port] = true
		}

		if preferred > 0 && !used[preferred] {
			port = preferred
			return nil
		}
		for p := r.portFrom; p < r.portTo; p++ {
			if !used[p] {
				port = p
				return nil
			}
		}
		return errors.WrapInvalid(errors.ErrPortRangeExhausted, "Registry", "AllocatePort",
			fmt.Sprintf("range %d-%d", r.portFrom, r.portTo))
	})
	if err != nil {
		return 0, err
	}
	r.logger.Debug("allocated port", "port", port, "preferred", preferred)
	return port, nil
}

// Statistics aggregates request accounting across the whole registry.
func (r *Registry) Statistics(ctx context.Context) (Stats, error) {
	specialists, err := r.backend.Load(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalSpecialists:   len(specialists),
		StatusBreakdown:    make(map[Status]int),
		OverallSuccessRate: 1.0,
	}
	for _, s := range specialists {
		stats.StatusBreakdown[s.Status]++
		stats.TotalRequests += s.TotalRequests
		stats.TotalFailures += s.FailedRequests
	}
	if stats.TotalRequests > 0 {
		stats.OverallSuccessRate =
			float64(stats.TotalRequests-stats.TotalFailures) / float64(stats.TotalRequests)
	}
	return stats, nil
}

// WaitFor polls until the specialist is registered and its socket accepts
// connections, or the timeout expires.
func (r *Registry) WaitFor(ctx context.Context, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s, err := r.Get(ctx, id); err == nil {
			addr := net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
			conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
			if err == nil {
				_ = conn.Close()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return errors.WrapTransient(errors.ErrTimeout, "Registry", "WaitFor", id)
		case <-ticker.C:
		}
	}
}

// On subscribes a handler to a registry event type.
func (r *Registry) On(eventType string, handler EventHandler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

func (r *Registry) emit(ev Event) {
	r.mu.Lock()
	handlers := append([]EventHandler(nil), r.handlers[ev.Type]...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (r *Registry) cachedDiscovery(key string) ([]*Specialist, bool) {
	if r.cacheTTL <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || time.Since(entry.at) > r.cacheTTL {
		return nil, false
	}
	out := make([]*Specialist, len(entry.results))
	for i, s := range entry.results {
		out[i] = s.Clone()
	}
	return out, true
}

func (r *Registry) cacheDiscovery(key string, results []*Specialist) {
	if r.cacheTTL <= 0 {
		return
	}
	stored := make([]*Specialist, len(results))
	for i, s := range results {
		stored[i] = s.Clone()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{at: time.Now(), results: stored}
}

func (r *Registry) invalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

func (f Filter) cacheKey() string {
	return strings.Join([]string{
		f.Role,
		strings.Join(f.Capabilities, ","),
		string(f.Status),
		f.Component,
		fmt.Sprintf("%.3f", f.MinSuccessRate),
	}, "|")
}
