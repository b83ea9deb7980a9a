// Package divisions implements the four syndicate decision-makers:
// Front-Office, Risk & Compliance, Treasury and Clearing & Settlement.
// Each division analyzes transactions independently and can execute
// side-effecting actions (onboard, deposit, withdraw, execute, rebalance).
//
// Analyze never returns an error: internal failures become a reject vote
// with risk 1.0 so the coordinator always has a usable verdict.
package divisions

import (
	"context"
	"sync"
	"time"

	"github.com/agentbank/syndicate/internal/entities"
)

// Division is the capability set shared by all four analyzers.
type Division interface {
	Role() entities.Role
	Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) *entities.DivisionAnalysis
	Execute(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, action string, params map[string]interface{}) (*entities.ActionResult, error)
	GetHealth() Health
}

// Health reports a division's operational state.
type Health struct {
	Role       entities.Role `json:"role"`
	Status     string        `json:"status"` // operational | degraded
	Analyses   int64         `json:"analyses"`
	Rejections int64         `json:"rejections"`
	LastActive time.Time     `json:"last_active,omitempty"`
}

// healthTracker is embedded by each division to maintain health counters.
type healthTracker struct {
	mu         sync.Mutex
	analyses   int64
	rejections int64
	failures   int64
	lastActive time.Time
}

func (h *healthTracker) observe(decision entities.Decision, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.analyses++
	if decision == entities.DecisionReject {
		h.rejections++
	}
	h.lastActive = at
}

func (h *healthTracker) observeFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
}

func (h *healthTracker) health(role entities.Role) Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := "operational"
	if h.failures > 0 && h.failures*5 > h.analyses {
		status = "degraded"
	}
	return Health{
		Role:       role,
		Status:     status,
		Analyses:   h.analyses,
		Rejections: h.rejections,
		LastActive: h.lastActive,
	}
}
