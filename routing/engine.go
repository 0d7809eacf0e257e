// Package routing selects which specialist handles a message. Selection walks
// a strict fallback ladder: an explicit preferred specialist, then ordered
// routing rules (each resolved through its preferred specialists, a
// capability match, and its fallback chain), then a registry-wide capability
// match, then the default chain, and finally any specialist whose track
// record is not hopeless. Every decision reports how deep the fallback went.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/registry"
)

// Success-rate floors for the ladder's lower rungs. Rule discovery admits
// slightly weaker specialists than the registry-wide capability match.
const (
	ruleFloor       = 0.7
	capabilityFloor = 0.8
	lastResortFloor = 0.5
)

// lastResortLevel marks a decision that exhausted every targeted strategy.
const lastResortLevel = 99

// Message is a routable unit of work.
type Message struct {
	Content      string
	Context      map[string]any
	Capabilities []string
	Preferred    string
}

// RouteResult reports a routing decision: the chosen specialist, the rule
// that fired (if any), and how far down the fallback went. Level 0 is a
// primary choice (preferred specialist, rule preferred, capability match);
// a chain pick at position i reports i+1; the last resort reports 99.
type RouteResult struct {
	Specialist    *registry.Specialist
	RuleID        string
	FallbackLevel int
	Reason        string
}

// Directory is the registry surface the engine reads. *registry.Registry
// satisfies it.
type Directory interface {
	Get(ctx context.Context, id string) (*registry.Specialist, error)
	All(ctx context.Context) ([]*registry.Specialist, error)
	Discover(ctx context.Context, filter registry.Filter) ([]*registry.Specialist, error)
}

// LoadReporter reports in-flight request counts. *pool.Pool satisfies it; a
// nil reporter makes load-balanced rules purely score-driven.
type LoadReporter interface {
	Inflight(id string) int64
}

// Engine routes messages over the registry.
type Engine struct {
	directory    Directory
	loads        LoadReporter
	logger       *slog.Logger
	rules        []Rule
	defaultChain []string

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules sets the ordered rule list.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// WithDefaultChain sets the ordered default fallback chain.
func WithDefaultChain(ids ...string) Option {
	return func(e *Engine) { e.defaultChain = ids }
}

// WithLoadReporter wires in-flight counts into load-balanced rules.
func WithLoadReporter(loads LoadReporter) Option {
	return func(e *Engine) { e.loads = loads }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRandSeed makes weighted selection deterministic, for tests.
func WithRandSeed(seed int64) Option {
	return func(e *Engine) { e.rand = rand.New(rand.NewSource(seed)) }
}

// New creates an engine with the built-in rules and default chain.
func New(directory Directory, opts ...Option) *Engine {
	e := &Engine{
		directory:    directory,
		logger:       slog.Default(),
		rules:        DefaultRules(),
		defaultChain: DefaultChain(),
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RouteMessage picks one specialist for msg. IDs in exclude are skipped at
// every rung, letting callers retry around a specialist that just failed. When
// no rung produces a candidate the error carries ErrNoSpecialistAvailable.
func (e *Engine) RouteMessage(ctx context.Context, msg Message, exclude ...string) (RouteResult, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	if res, ok := e.routePreferred(ctx, msg, excluded); ok {
		return res, nil
	}
	if res, ok := e.routeRules(ctx, msg, excluded); ok {
		return res, nil
	}
	if res, ok := e.routeCapability(ctx, msg, excluded); ok {
		return res, nil
	}
	if res, ok := e.routeChain(ctx, e.defaultChain, excluded, "", "default chain"); ok {
		return res, nil
	}
	if res, ok := e.routeLastResort(ctx, excluded); ok {
		return res, nil
	}

	return RouteResult{}, errors.WrapTransient(
		errors.ErrNoSpecialistAvailable, "Engine", "RouteMessage", "fallback ladder exhausted")
}

func (e *Engine) routePreferred(ctx context.Context, msg Message, excluded map[string]bool) (RouteResult, bool) {
	if msg.Preferred == "" || excluded[msg.Preferred] {
		return RouteResult{}, false
	}
	spec, err := e.directory.Get(ctx, msg.Preferred)
	if err != nil || !spec.IsAvailable() {
		return RouteResult{}, false
	}
	return RouteResult{
		Specialist: spec,
		Reason:     "preferred specialist",
	}, true
}

// routeRules evaluates rules in order; a rule whose every step comes up empty
// does not stop the scan, the next rule gets its turn.
func (e *Engine) routeRules(ctx context.Context, msg Message, excluded map[string]bool) (RouteResult, bool) {
	for _, rule := range e.rules {
		if !rule.Matches(msg) {
			continue
		}
		if res, ok := e.applyRule(ctx, rule, msg, excluded); ok {
			return res, true
		}
		e.logger.Debug("rule exhausted", "rule", rule.ID)
	}
	return RouteResult{}, false
}

// applyRule resolves one firing rule: preferred specialists first, then a
// capability discovery at the rule floor, then the rule's fallback chain.
func (e *Engine) applyRule(ctx context.Context, rule Rule, msg Message, excluded map[string]bool) (RouteResult, bool) {
	caps := make([]string, 0, len(rule.Capabilities)+len(msg.Capabilities))
	caps = append(caps, rule.Capabilities...)
	caps = append(caps, msg.Capabilities...)

	for _, id := range rule.Preferred {
		if excluded[id] {
			continue
		}
		spec, err := e.directory.Get(ctx, id)
		if err != nil || !spec.IsAvailable() || !spec.HasCapabilities(caps) {
			continue
		}
		return RouteResult{
			Specialist: spec,
			RuleID:     rule.ID,
			Reason:     "rule " + rule.ID + ": preferred " + id,
		}, true
	}

	if len(caps) > 0 {
		candidates, err := e.directory.Discover(ctx, registry.Filter{
			Capabilities:   caps,
			MinSuccessRate: ruleFloor,
		})
		if err != nil {
			e.logger.Warn("rule discovery failed", "rule", rule.ID, "error", err)
		} else if pool := e.available(candidates, excluded); len(pool) > 0 {
			spec := e.best(pool)
			if rule.LoadBalance {
				spec = e.pick(pool)
			}
			return RouteResult{
				Specialist: spec,
				RuleID:     rule.ID,
				Reason:     "rule " + rule.ID + ": capability match",
			}, true
		}
	}

	return e.routeChain(ctx, rule.FallbackChain, excluded, rule.ID, "rule "+rule.ID+": fallback")
}

// routeChain walks an ordered chain of IDs and reports how deep it had to go:
// position i in the chain yields fallback level i+1.
func (e *Engine) routeChain(
	ctx context.Context,
	chain []string,
	excluded map[string]bool,
	ruleID string,
	reason string,
) (RouteResult, bool) {
	for i, id := range chain {
		if excluded[id] {
			continue
		}
		spec, err := e.directory.Get(ctx, id)
		if err != nil || !spec.IsAvailable() {
			continue
		}
		return RouteResult{
			Specialist:    spec,
			RuleID:        ruleID,
			FallbackLevel: i + 1,
			Reason:        fmt.Sprintf("%s (level %d)", reason, i+1),
		}, true
	}
	return RouteResult{}, false
}

func (e *Engine) routeCapability(ctx context.Context, msg Message, excluded map[string]bool) (RouteResult, bool) {
	if len(msg.Capabilities) == 0 {
		return RouteResult{}, false
	}
	candidates, err := e.directory.Discover(ctx, registry.Filter{
		Capabilities:   msg.Capabilities,
		MinSuccessRate: capabilityFloor,
	})
	if err != nil {
		e.logger.Warn("capability discovery failed", "error", err)
		return RouteResult{}, false
	}
	spec := e.best(e.available(candidates, excluded))
	if spec == nil {
		return RouteResult{}, false
	}
	return RouteResult{
		Specialist: spec,
		Reason:     "capability match: " + strings.Join(msg.Capabilities, ","),
	}, true
}

func (e *Engine) routeLastResort(ctx context.Context, excluded map[string]bool) (RouteResult, bool) {
	all, err := e.directory.All(ctx)
	if err != nil {
		return RouteResult{}, false
	}
	var candidates []*registry.Specialist
	for _, s := range all {
		if s.SuccessRate >= lastResortFloor {
			candidates = append(candidates, s)
		}
	}
	spec := e.best(e.available(candidates, excluded))
	if spec == nil {
		return RouteResult{}, false
	}
	return RouteResult{
		Specialist:    spec,
		FallbackLevel: lastResortLevel,
		Reason:        "last resort",
	}, true
}

func (e *Engine) available(candidates []*registry.Specialist, excluded map[string]bool) []*registry.Specialist {
	out := candidates[:0]
	for _, s := range candidates {
		if s.IsAvailable() && !excluded[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

// best deterministically selects the highest-scored candidate.
func (e *Engine) best(candidates []*registry.Specialist) *registry.Specialist {
	var best *registry.Specialist
	bestScore := -1.0
	now := time.Now()
	for _, s := range candidates {
		if score := Score(s, now); score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

// pick load-balances over candidates: the three least-loaded are kept and one
// is chosen by score-weighted random draw, so a hot specialist sheds traffic
// without starving slightly weaker peers. Only rules with LoadBalance set use
// this path.
func (e *Engine) pick(candidates []*registry.Specialist) *registry.Specialist {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	now := time.Now()
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := e.inflight(candidates[i].ID), e.inflight(candidates[j].ID)
		if li != lj {
			return li < lj
		}
		return Score(candidates[i], now) > Score(candidates[j], now)
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, s := range candidates {
		w := Score(s, now)
		if w <= 0 {
			w = 0.01
		}
		weights[i] = w
		total += w
	}

	e.randMu.Lock()
	draw := e.rand.Float64() * total
	e.randMu.Unlock()

	for i, w := range weights {
		draw -= w
		if draw <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func (e *Engine) inflight(id string) int64 {
	if e.loads == nil {
		return 0
	}
	return e.loads.Inflight(id)
}

// Score rates a specialist's fitness in [0,1]: 40% success rate, 40% average
// response time scaled against a five-second ceiling, 20% recency of last
// contact.
func Score(s *registry.Specialist, now time.Time) float64 {
	perf := 0.4 * s.SuccessRate

	avg := s.AvgResponseTime().Seconds()
	latency := 0.4 * math.Max(0, 1-avg/5)

	recency := 0.5
	if !s.LastSeen.IsZero() {
		since := now.Sub(s.LastSeen)
		switch {
		case since <= time.Minute:
			recency = 1.0
		case since <= 5*time.Minute:
			recency = 0.8
		}
	}

	return perf + latency + 0.2*recency
}
