package health

import (
	"time"

	"github.com/powerpig99/smart-socks-sub000/component"
)

// Status levels, worst to best.
const (
	StateUnhealthy = "unhealthy"
	StateDegraded  = "degraded"
	StateHealthy   = "healthy"
)

// Status is the health of one component or of the whole pipeline.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries the numeric side of a health report.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// Healthy builds a healthy status.
func Healthy(name, msg string) Status {
	return Status{Component: name, Healthy: true, State: StateHealthy, Message: msg, Timestamp: time.Now()}
}

// Degraded builds a degraded status. Degraded components keep the
// pipeline running but something needs attention.
func Degraded(name, msg string) Status {
	return Status{Component: name, State: StateDegraded, Message: msg, Timestamp: time.Now()}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(name, msg string) Status {
	return Status{Component: name, State: StateUnhealthy, Message: msg, Timestamp: time.Now()}
}

// FromComponent converts a component's self-report. A component that is
// running but accumulating errors reports degraded rather than unhealthy.
func FromComponent(name string, h component.HealthStatus) Status {
	var s Status
	switch {
	case h.Healthy && h.ErrorCount == 0:
		s = Healthy(name, "")
	case h.Healthy:
		s = Degraded(name, h.LastError)
	default:
		s = Unhealthy(name, h.LastError)
	}
	s.Metrics = &Metrics{
		Uptime:       h.Uptime,
		ErrorCount:   h.ErrorCount,
		LastActivity: h.LastCheck,
	}
	return s
}

// Aggregate folds sub-statuses into one: any unhealthy makes the whole
// unhealthy, otherwise any degraded makes it degraded.
func Aggregate(name string, subs []Status) Status {
	if len(subs) == 0 {
		return Healthy(name, "no components")
	}

	state := StateHealthy
	for _, sub := range subs {
		switch sub.State {
		case StateUnhealthy:
			state = StateUnhealthy
		case StateDegraded:
			if state == StateHealthy {
				state = StateDegraded
			}
		}
	}

	s := Status{
		Component: name,
		Healthy:   state == StateHealthy,
		State:     state,
		Timestamp: time.Now(),
	}
	s.SubStatuses = make([]Status, len(subs))
	copy(s.SubStatuses, subs)
	return s
}
