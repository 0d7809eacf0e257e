package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ckoons/Tekton-sub006/errors"
	"github.com/ckoons/Tekton-sub006/registry"
)

// Team composition weights for diverse selection: coverage of still-missing
// capabilities dominates, individual track record breaks ties.
const (
	teamCoverageWeight = 0.7
	teamScoreWeight    = 0.3
)

// Team candidate floors: healthy specialists qualify at 0.7; when that pool
// is smaller than the requested team, degraded ones at 0.5 top it up.
const (
	teamHealthyFloor  = 0.7
	teamDegradedFloor = 0.5
)

// RouteToTeam assembles up to size specialists for collaborative work. In
// diverse mode selection is greedy: each round picks the candidate whose
// capabilities add the most uncovered ground, weighted against its
// performance score. Otherwise the team is simply the top performers by
// success rate, faster average response time breaking ties.
func (e *Engine) RouteToTeam(ctx context.Context, msg Message, size int, diverse bool) ([]RouteResult, error) {
	if size <= 0 {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "Engine", "RouteToTeam", "team size must be positive")
	}

	candidates, err := e.teamCandidates(ctx, size)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.WrapTransient(
			errors.ErrNoSpecialistAvailable, "Engine", "RouteToTeam", "no available specialists")
	}

	if diverse {
		return e.diverseTeam(msg, candidates, size), nil
	}
	return topPerformers(candidates, size), nil
}

// teamCandidates gathers the healthy pool and tops it up with degraded
// specialists when the healthy pool alone cannot fill the team.
func (e *Engine) teamCandidates(ctx context.Context, size int) ([]*registry.Specialist, error) {
	candidates, err := e.directory.Discover(ctx, registry.Filter{
		Status:         registry.StatusHealthy,
		MinSuccessRate: teamHealthyFloor,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) < size {
		degraded, err := e.directory.Discover(ctx, registry.Filter{
			Status:         registry.StatusDegraded,
			MinSuccessRate: teamDegradedFloor,
		})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, degraded...)
	}
	return candidates, nil
}

func (e *Engine) diverseTeam(msg Message, candidates []*registry.Specialist, size int) []RouteResult {
	uncovered := make(map[string]bool, len(msg.Capabilities))
	for _, c := range msg.Capabilities {
		uncovered[c] = true
	}

	now := time.Now()
	var team []RouteResult
	taken := make(map[string]bool)

	for len(team) < size && len(taken) < len(candidates) {
		var best *registry.Specialist
		bestValue := -1.0
		for _, s := range candidates {
			if taken[s.ID] {
				continue
			}
			value := teamCoverageWeight*coverage(s, uncovered) + teamScoreWeight*Score(s, now)
			if value > bestValue {
				best, bestValue = s, value
			}
		}
		if best == nil {
			break
		}
		taken[best.ID] = true
		team = append(team, RouteResult{
			Specialist: best,
			Reason:     fmt.Sprintf("team member %d (diverse selection)", len(team)+1),
		})
		for _, c := range best.Capabilities {
			delete(uncovered, c)
		}
	}
	return team
}

func topPerformers(candidates []*registry.Specialist, size int) []RouteResult {
	sorted := make([]*registry.Specialist, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SuccessRate != sorted[j].SuccessRate {
			return sorted[i].SuccessRate > sorted[j].SuccessRate
		}
		return sorted[i].AvgResponseTime() < sorted[j].AvgResponseTime()
	})
	if len(sorted) > size {
		sorted = sorted[:size]
	}

	team := make([]RouteResult, len(sorted))
	for i, s := range sorted {
		team[i] = RouteResult{
			Specialist: s,
			Reason:     fmt.Sprintf("team member %d (performance-based selection)", i+1),
		}
	}
	return team
}

// coverage is the fraction of still-uncovered capabilities the specialist
// would add, zero when nothing remains to cover.
func coverage(s *registry.Specialist, uncovered map[string]bool) float64 {
	if len(uncovered) == 0 {
		return 0
	}
	added := 0
	for _, c := range s.Capabilities {
		if uncovered[c] {
			added++
		}
	}
	return float64(added) / float64(len(uncovered))
}
