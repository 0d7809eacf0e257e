package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/registry"
)

func newDirectory(t *testing.T, specialists ...*registry.Specialist) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.NewMemoryBackend(), registry.WithCacheTTL(0))
	for _, s := range specialists {
		require.NoError(t, reg.Register(context.Background(), s))
	}
	return reg
}

func healthySpecialist(id string, port int, caps ...string) *registry.Specialist {
	return &registry.Specialist{
		ID:           id,
		Port:         port,
		Status:       registry.StatusHealthy,
		Capabilities: caps,
		LastSeen:     time.Now().UTC(),
		SuccessRate:  1.0,
	}
}

func TestRoutePreferredOverridesEverything(t *testing.T) {
	reg := newDirectory(t,
		healthySpecialist("apollo-ai", 45007, "code-analysis"),
		healthySpecialist("athena-ai", 45017, "knowledge"),
	)
	e := New(reg, WithRandSeed(1))

	res, err := e.RouteMessage(context.Background(), Message{
		Content:   "analyze this code please",
		Preferred: "athena-ai",
	})
	require.NoError(t, err)
	assert.Equal(t, "athena-ai", res.Specialist.ID)
	assert.Equal(t, 0, res.FallbackLevel)
	assert.Equal(t, "preferred specialist", res.Reason)
}

func TestRoutePreferredUnavailableFallsThrough(t *testing.T) {
	down := healthySpecialist("athena-ai", 45017, "knowledge")
	down.Status = registry.StatusUnresponsive
	reg := newDirectory(t,
		healthySpecialist("apollo-ai", 45007, "code-analysis"),
		down,
	)
	e := New(reg, WithRandSeed(1))

	res, err := e.RouteMessage(context.Background(), Message{
		Content:   "find the bug in this function",
		Preferred: "athena-ai",
	})
	require.NoError(t, err)
	assert.Equal(t, "apollo-ai", res.Specialist.ID)
	assert.Equal(t, "code-analysis", res.RuleID)
	assert.Equal(t, 0, res.FallbackLevel)
}

func TestRuleResolutionOrder(t *testing.T) {
	rule := Rule{
		ID:            "deploys",
		Keywords:      []string{"deploy"},
		Preferred:     []string{"hermes-ai"},
		Capabilities:  []string{"deployment"},
		FallbackChain: []string{"athena-ai", "rhetor-ai"},
	}
	reg := newDirectory(t,
		healthySpecialist("hermes-ai", 45008, "deployment"),
		healthySpecialist("helios-ai", 45020, "deployment"),
		healthySpecialist("athena-ai", 45017, "knowledge"),
		healthySpecialist("rhetor-ai", 45003, "orchestration"),
	)
	e := New(reg, WithRandSeed(1), WithRules([]Rule{rule}))
	ctx := context.Background()

	// Preferred specialist first.
	res, err := e.RouteMessage(ctx, Message{Content: "deploy the service"})
	require.NoError(t, err)
	assert.Equal(t, "hermes-ai", res.Specialist.ID)
	assert.Equal(t, "deploys", res.RuleID)
	assert.Equal(t, 0, res.FallbackLevel)

	// Preferred excluded: the rule's capability discovery takes over.
	res, err = e.RouteMessage(ctx, Message{Content: "deploy the service"}, "hermes-ai")
	require.NoError(t, err)
	assert.Equal(t, "helios-ai", res.Specialist.ID)
	assert.Equal(t, "deploys", res.RuleID)
	assert.Equal(t, 0, res.FallbackLevel)

	// Discovery empty too: the rule's fallback chain, with its depth reported.
	res, err = e.RouteMessage(ctx, Message{Content: "deploy the service"}, "hermes-ai", "helios-ai", "athena-ai")
	require.NoError(t, err)
	assert.Equal(t, "rhetor-ai", res.Specialist.ID)
	assert.Equal(t, "deploys", res.RuleID)
	assert.Equal(t, 2, res.FallbackLevel, "second chain entry")
}

func TestRulePreferredMustCarryCapabilities(t *testing.T) {
	rule := Rule{
		ID:           "deploys",
		Keywords:     []string{"deploy"},
		Preferred:    []string{"athena-ai"},
		Capabilities: []string{"deployment"},
	}
	reg := newDirectory(t,
		healthySpecialist("athena-ai", 45017, "knowledge"),
		healthySpecialist("helios-ai", 45020, "deployment"),
	)
	e := New(reg, WithRandSeed(1), WithRules([]Rule{rule}))

	// The preferred specialist lacks the required capability, so discovery
	// supplies the candidate instead.
	res, err := e.RouteMessage(context.Background(), Message{Content: "deploy the service"})
	require.NoError(t, err)
	assert.Equal(t, "helios-ai", res.Specialist.ID)
}

func TestRuleExhaustedTriesNextRule(t *testing.T) {
	down := healthySpecialist("down-ai", 45011, "ops")
	down.Status = registry.StatusUnresponsive
	reg := newDirectory(t,
		down,
		healthySpecialist("up-ai", 45012, "ops"),
	)
	e := New(reg, WithRandSeed(1), WithRules([]Rule{
		{ID: "first", Keywords: []string{"deploy"}, FallbackChain: []string{"down-ai"}},
		{ID: "second", Keywords: []string{"deploy"}, FallbackChain: []string{"up-ai"}},
	}))

	// The first matching rule has nothing to offer; the second one fires.
	res, err := e.RouteMessage(context.Background(), Message{Content: "deploy it"})
	require.NoError(t, err)
	assert.Equal(t, "up-ai", res.Specialist.ID)
	assert.Equal(t, "second", res.RuleID)
	assert.Equal(t, 1, res.FallbackLevel)
}

func TestRuleDiscoveryFloorBelowGlobal(t *testing.T) {
	decent := healthySpecialist("helios-ai", 45020, "translation")
	decent.SuccessRate = 0.75
	decent.TotalRequests = 20
	reg := newDirectory(t, decent)
	e := New(reg, WithRandSeed(1), WithRules([]Rule{
		{ID: "translate", Keywords: []string{"translate"}, Capabilities: []string{"translation"}},
	}))

	// 0.75 clears the rule rung's 0.7 floor even though the registry-wide
	// capability rung would reject it at 0.8.
	res, err := e.RouteMessage(context.Background(), Message{Content: "translate this"})
	require.NoError(t, err)
	assert.Equal(t, "helios-ai", res.Specialist.ID)
	assert.Equal(t, "translate", res.RuleID)
}

func TestRouteCapabilityMatch(t *testing.T) {
	weak := healthySpecialist("hermes-ai", 45008, "translation")
	weak.SuccessRate = 0.6
	weak.TotalRequests = 10
	reg := newDirectory(t,
		healthySpecialist("helios-ai", 45020, "translation"),
		weak,
	)
	e := New(reg, WithRandSeed(1))

	// No rule keyword matches; capability matching applies the 0.8 floor, so
	// the weak specialist never surfaces at this rung.
	for i := 0; i < 10; i++ {
		res, err := e.RouteMessage(context.Background(), Message{
			Content:      "hola",
			Capabilities: []string{"translation"},
		})
		require.NoError(t, err)
		assert.Equal(t, "helios-ai", res.Specialist.ID)
		assert.Equal(t, 0, res.FallbackLevel)
	}
}

func TestCapabilityRungIgnoresLoad(t *testing.T) {
	strong := healthySpecialist("a-ai", 45001, "chat")
	weaker := healthySpecialist("b-ai", 45002, "chat")
	weaker.SuccessRate = 0.9
	weaker.TotalRequests = 10
	reg := newDirectory(t, strong, weaker)
	loads := fixedLoads{"a-ai": 50, "b-ai": 0}
	e := New(reg, WithRandSeed(1), WithLoadReporter(loads))

	// Registry-wide capability matching is deterministic highest-score;
	// in-flight load only matters to load-balanced rules.
	for i := 0; i < 10; i++ {
		res, err := e.RouteMessage(context.Background(), Message{
			Content:      "x",
			Capabilities: []string{"chat"},
		})
		require.NoError(t, err)
		assert.Equal(t, "a-ai", res.Specialist.ID)
	}
}

func TestRouteDefaultChain(t *testing.T) {
	reg := newDirectory(t,
		healthySpecialist("rhetor-ai", 45003, "orchestration"),
		healthySpecialist("numa-ai", 45004, "companionship"),
	)
	e := New(reg, WithRandSeed(1))

	res, err := e.RouteMessage(context.Background(), Message{Content: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, "rhetor-ai", res.Specialist.ID)
	assert.Equal(t, 1, res.FallbackLevel, "chain head is level 1")
}

func TestFallbackLevelReportsChainDepth(t *testing.T) {
	// Only the third entry of the default chain is registered.
	reg := newDirectory(t, healthySpecialist("apollo-ai", 45007))
	e := New(reg, WithRandSeed(1))

	res, err := e.RouteMessage(context.Background(), Message{Content: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, "apollo-ai", res.Specialist.ID)
	assert.Equal(t, 3, res.FallbackLevel)
}

func TestRouteLastResort(t *testing.T) {
	solid := healthySpecialist("numa-ai", 45004, "companionship")
	hopeless := healthySpecialist("chaos-ai", 45005, "chaos")
	hopeless.SuccessRate = 0.3
	hopeless.TotalRequests = 10
	reg := newDirectory(t, solid, hopeless)
	e := New(reg, WithRandSeed(1))

	res, err := e.RouteMessage(context.Background(), Message{Content: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, "numa-ai", res.Specialist.ID)
	assert.Equal(t, lastResortLevel, res.FallbackLevel)
}

func TestRouteNoSpecialistAvailable(t *testing.T) {
	down := healthySpecialist("apollo-ai", 45007, "code-analysis")
	down.Status = registry.StatusUnresponsive
	reg := newDirectory(t, down)
	e := New(reg, WithRandSeed(1))

	_, err := e.RouteMessage(context.Background(), Message{Content: "anyone?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoSpecialistAvailable)
}

func TestRouteExclusionCoversEveryRung(t *testing.T) {
	reg := newDirectory(t, healthySpecialist("apollo-ai", 45007, "code-analysis"))
	e := New(reg, WithRandSeed(1))

	_, err := e.RouteMessage(context.Background(),
		Message{Content: "analyze this code", Preferred: "apollo-ai", Capabilities: []string{"code-analysis"}},
		"apollo-ai")
	assert.ErrorIs(t, err, errors.ErrNoSpecialistAvailable)
}

func TestScore(t *testing.T) {
	now := time.Now()

	fresh := &registry.Specialist{SuccessRate: 1.0, LastSeen: now}
	assert.InDelta(t, 1.0, Score(fresh, now), 1e-9)

	slow := &registry.Specialist{
		SuccessRate:   1.0,
		LastSeen:      now,
		ResponseTimes: []float64{5.0},
	}
	assert.InDelta(t, 0.6, Score(slow, now), 1e-9)

	stale := &registry.Specialist{SuccessRate: 1.0, LastSeen: now.Add(-10 * time.Minute)}
	assert.InDelta(t, 0.9, Score(stale, now), 1e-9)

	recent := &registry.Specialist{SuccessRate: 1.0, LastSeen: now.Add(-2 * time.Minute)}
	assert.InDelta(t, 0.96, Score(recent, now), 1e-9)

	never := &registry.Specialist{SuccessRate: 0.5}
	assert.InDelta(t, 0.7, Score(never, now), 1e-9)
}

type fixedLoads map[string]int64

func (f fixedLoads) Inflight(id string) int64 { return f[id] }

func TestLoadBalancedRulePrefersLeastLoaded(t *testing.T) {
	reg := newDirectory(t,
		healthySpecialist("a-ai", 45001, "chat"),
		healthySpecialist("b-ai", 45002, "chat"),
		healthySpecialist("c-ai", 45003, "chat"),
		healthySpecialist("d-ai", 45004, "chat"),
	)
	loads := fixedLoads{"a-ai": 9, "b-ai": 0, "c-ai": 1, "d-ai": 2}
	e := New(reg, WithRandSeed(1), WithLoadReporter(loads), WithRules([]Rule{
		{ID: "chat", Keywords: []string{"chat"}, Capabilities: []string{"chat"}, LoadBalance: true},
	}))

	// The most loaded candidate is cut before the weighted draw, so it can
	// never be chosen.
	for i := 0; i < 25; i++ {
		res, err := e.RouteMessage(context.Background(), Message{Content: "chat with me"})
		require.NoError(t, err)
		assert.NotEqual(t, "a-ai", res.Specialist.ID)
	}
}

func TestRuleWithoutLoadBalanceIsDeterministic(t *testing.T) {
	strong := healthySpecialist("a-ai", 45001, "chat")
	weaker := healthySpecialist("b-ai", 45002, "chat")
	weaker.SuccessRate = 0.85
	weaker.TotalRequests = 20
	reg := newDirectory(t, strong, weaker)
	loads := fixedLoads{"a-ai": 50, "b-ai": 0}
	e := New(reg, WithRandSeed(1), WithLoadReporter(loads), WithRules([]Rule{
		{ID: "chat", Keywords: []string{"chat"}, Capabilities: []string{"chat"}},
	}))

	for i := 0; i < 10; i++ {
		res, err := e.RouteMessage(context.Background(), Message{Content: "chat with me"})
		require.NoError(t, err)
		assert.Equal(t, "a-ai", res.Specialist.ID)
	}
}

func TestRouteToTeamDiversity(t *testing.T) {
	reg := newDirectory(t,
		healthySpecialist("apollo-ai", 45007, "code-analysis", "chat"),
		healthySpecialist("athena-ai", 45017, "knowledge", "chat"),
		healthySpecialist("hermes-ai", 45008, "translation", "chat"),
		healthySpecialist("clone-ai", 45009, "code-analysis", "chat"),
	)
	e := New(reg, WithRandSeed(1))

	team, err := e.RouteToTeam(context.Background(), Message{
		Capabilities: []string{"code-analysis", "knowledge", "translation"},
	}, 3, true)
	require.NoError(t, err)
	require.Len(t, team, 3)

	covered := make(map[string]bool)
	for _, member := range team {
		for _, c := range member.Specialist.Capabilities {
			covered[c] = true
		}
		assert.NotEmpty(t, member.Reason)
	}
	assert.True(t, covered["code-analysis"])
	assert.True(t, covered["knowledge"])
	assert.True(t, covered["translation"])
}

func TestRouteToTeamTopPerformers(t *testing.T) {
	best := healthySpecialist("a-ai", 45001, "chat")
	mid := healthySpecialist("b-ai", 45002, "chat")
	mid.SuccessRate = 0.9
	mid.TotalRequests = 10
	low := healthySpecialist("c-ai", 45003, "chat")
	low.SuccessRate = 0.8
	low.TotalRequests = 10
	reg := newDirectory(t, best, mid, low)
	e := New(reg, WithRandSeed(1))

	team, err := e.RouteToTeam(context.Background(), Message{}, 2, false)
	require.NoError(t, err)
	require.Len(t, team, 2)
	assert.Equal(t, "a-ai", team[0].Specialist.ID)
	assert.Equal(t, "b-ai", team[1].Specialist.ID)
}

func TestRouteToTeamFloors(t *testing.T) {
	weakHealthy := healthySpecialist("weak-ai", 45001, "chat")
	weakHealthy.SuccessRate = 0.65
	weakHealthy.TotalRequests = 20

	degraded := healthySpecialist("backup-ai", 45002, "chat")
	degraded.Status = registry.StatusDegraded
	degraded.SuccessRate = 0.55
	degraded.TotalRequests = 20

	reg := newDirectory(t, healthySpecialist("a-ai", 45003, "chat"), weakHealthy, degraded)
	e := New(reg, WithRandSeed(1))

	// Healthy specialists below 0.7 never qualify; the short healthy pool is
	// topped up from degraded specialists above 0.5.
	team, err := e.RouteToTeam(context.Background(), Message{}, 2, false)
	require.NoError(t, err)
	require.Len(t, team, 2)
	assert.Equal(t, "a-ai", team[0].Specialist.ID)
	assert.Equal(t, "backup-ai", team[1].Specialist.ID)
}

func TestRouteToTeamSizeAndErrors(t *testing.T) {
	reg := newDirectory(t, healthySpecialist("apollo-ai", 45007, "chat"))
	e := New(reg, WithRandSeed(1))
	ctx := context.Background()

	_, err := e.RouteToTeam(ctx, Message{}, 0, true)
	assert.Error(t, err)

	team, err := e.RouteToTeam(ctx, Message{}, 5, true)
	require.NoError(t, err)
	assert.Len(t, team, 1, "team is capped by available specialists")

	empty := registry.New(registry.NewMemoryBackend())
	_, err = New(empty).RouteToTeam(ctx, Message{}, 2, true)
	assert.ErrorIs(t, err, errors.ErrNoSpecialistAvailable)
}

func TestRuleMatching(t *testing.T) {
	rule := CodeAnalysisRule()
	assert.True(t, rule.Matches(Message{Content: "There is a BUG in my parser"}))
	assert.False(t, rule.Matches(Message{Content: "what is the weather"}))

	// Keywordless rules match on requested capabilities.
	capRule := Rule{ID: "caps", Capabilities: []string{"knowledge"}}
	assert.True(t, capRule.Matches(Message{Capabilities: []string{"knowledge"}}))
	assert.False(t, capRule.Matches(Message{Capabilities: []string{"chat"}}))

	// An explicit condition overrides keyword matching.
	condRule := Rule{
		ID:        "urgent",
		Keywords:  []string{"never-matches"},
		Condition: func(msg Message) bool { return msg.Context["priority"] == "high" },
	}
	assert.True(t, condRule.Matches(Message{Context: map[string]any{"priority": "high"}}))
	assert.False(t, condRule.Matches(Message{Content: "never-matches"}))
}
