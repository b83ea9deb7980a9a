package ports

import (
	"context"
	"strings"
	"sync"

	"github.com/agentbank/syndicate/internal/entities"
)

// StaticSanctionsOracle is the default SanctionsOracle: an in-memory union
// of OFAC/UN/EU style lists. Real list lookups plug in behind the same
// interface.
type StaticSanctionsOracle struct {
	mu     sync.RWMutex
	listed map[string]entities.SanctionsStatus
}

// NewStaticSanctionsOracle builds an oracle with optional seed entries.
func NewStaticSanctionsOracle(seed map[string]entities.SanctionsStatus) *StaticSanctionsOracle {
	listed := make(map[string]entities.SanctionsStatus, len(seed))
	for k, v := range seed {
		listed[strings.ToLower(k)] = v
	}
	return &StaticSanctionsOracle{listed: listed}
}

func (o *StaticSanctionsOracle) Check(ctx context.Context, subject string) (entities.SanctionsStatus, error) {
	if err := ctx.Err(); err != nil {
		return entities.SanctionsPending, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if status, ok := o.listed[strings.ToLower(subject)]; ok {
		return status, nil
	}
	return entities.SanctionsCleared, nil
}

// Add lists a subject with the given status.
func (o *StaticSanctionsOracle) Add(subject string, status entities.SanctionsStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listed[strings.ToLower(subject)] = status
}
