package syndicate

import (
	"sync"

	"github.com/agentbank/syndicate/internal/entities"
)

// Registry owns the agent states and the per-agent mutexes that serialize
// their mutation. Readers get clones; the live pointer is only handed out
// while the agent's lock is held.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entities.AgentState
	locks  map[string]*sync.Mutex
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*entities.AgentState),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Register stores a freshly onboarded agent.
func (r *Registry) Register(state *entities.AgentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[state.AgentID] = state
	if _, ok := r.locks[state.AgentID]; !ok {
		r.locks[state.AgentID] = &sync.Mutex{}
	}
}

// IsOnboarded reports membership; satisfies the front-office directory.
func (r *Registry) IsOnboarded(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Snapshot returns a clone of the agent's state for lock-free reads.
func (r *Registry) Snapshot(agentID string) (*entities.AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Lock returns the agent's mutex, creating it on first use so batch and
// transfer paths can lock agents that onboard concurrently.
func (r *Registry) Lock(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[agentID] = lock
	}
	return lock
}

// live returns the mutable state pointer. Callers must hold the agent's
// lock from Lock().
func (r *Registry) live(agentID string) *entities.AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AgentIDs returns all registered agent ids.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
