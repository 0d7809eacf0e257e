// Package registry implements the persistent, process-shared directory of AI
// specialists: identity, location, port allocation, health status, and
// per-specialist performance metrics. The registry is the sole owner of
// specialist records; the health monitor and connection pool mutate them only
// through registry operations.
package registry

import (
	"time"
)

// Status is the coarse liveness classification of a specialist.
type Status string

// Specialist status levels.
const (
	StatusStarting     Status = "starting"
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusUnresponsive Status = "unresponsive"
	StatusUnknown      Status = "unknown"
	StatusStopping     Status = "stopping"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusHealthy, StatusDegraded, StatusUnresponsive, StatusUnknown, StatusStopping:
		return true
	}
	return false
}

// Available reports whether a specialist with this status is eligible for
// routing. Only healthy and degraded specialists receive traffic.
func (s Status) Available() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// responseTimeWindow bounds the rolling latency sample per specialist.
const responseTimeWindow = 20

// Specialist is one registered AI worker: identity, socket location, and
// observed state. Response times are stored in seconds to keep the persisted
// form portable.
type Specialist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Host         string         `json:"host"`
	Port         int            `json:"port"`
	Model        string         `json:"model,omitempty"`
	Component    string         `json:"component,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
	Status       Status         `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	RegisteredAt time.Time      `json:"registered_at"`

	// Rolling performance metrics, maintained by RecordResult.
	ResponseTimes  []float64 `json:"response_times,omitempty"`
	SuccessRate    float64   `json:"success_rate"`
	TotalRequests  int64     `json:"total_requests"`
	FailedRequests int64     `json:"failed_requests"`

	// Launcher-supplied extras (process ID, launch args, ...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecordResult folds one request outcome into the rolling metrics. Successful
// latencies enter the bounded response-time window; the success rate is
// recomputed over all requests.
func (s *Specialist) RecordResult(responseTime time.Duration, success bool) {
	s.TotalRequests++
	if !success {
		s.FailedRequests++
	} else {
		s.ResponseTimes = append(s.ResponseTimes, responseTime.Seconds())
		if len(s.ResponseTimes) > responseTimeWindow {
			s.ResponseTimes = s.ResponseTimes[len(s.ResponseTimes)-responseTimeWindow:]
		}
	}
	s.SuccessRate = float64(s.TotalRequests-s.FailedRequests) / float64(s.TotalRequests)
}

// AvgResponseTime returns the mean of the rolling latency window, zero when no
// successful request has been observed yet.
func (s *Specialist) AvgResponseTime() time.Duration {
	if len(s.ResponseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, rt := range s.ResponseTimes {
		sum += rt
	}
	return time.Duration(sum / float64(len(s.ResponseTimes)) * float64(time.Second))
}

// IsAvailable reports whether the specialist may receive routed requests.
func (s *Specialist) IsAvailable() bool {
	return s.Status.Available()
}

// HasCapabilities reports whether the specialist advertises every capability
// in want.
func (s *Specialist) HasCapabilities(want []string) bool {
	for _, w := range want {
		found := false
		for _, c := range s.Capabilities {
			if c == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasRole reports whether the specialist advertises the given role.
func (s *Specialist) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The registry hands out clones so callers can
// never mutate the backing store directly.
func (s *Specialist) Clone() *Specialist {
	if s == nil {
		return nil
	}
	c := *s
	if s.Capabilities != nil {
		c.Capabilities = append([]string(nil), s.Capabilities...)
	}
	if s.Roles != nil {
		c.Roles = append([]string(nil), s.Roles...)
	}
	if s.ResponseTimes != nil {
		c.ResponseTimes = append([]float64(nil), s.ResponseTimes...)
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
