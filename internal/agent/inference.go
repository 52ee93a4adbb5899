package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"memory-mesh/internal/memapi"
)

const inferenceLockTTL = 300 * time.Second

// InferenceAgent turns recent observations into claims via memory.Infer,
// skipping anything already processed, locked by another tick, or older
// than the agent's own start time (spec §4.8).
type InferenceAgent struct {
	memory    memapi.MemoryAPI
	startedAt time.Time
	processed *processedSet
	locks     *lockTable
	source    string
}

// NewInferenceAgent builds an InferenceAgent. Its source, the Source it
// names when it asserts claims, is fixed to "agent:inference".
func NewInferenceAgent(memory memapi.MemoryAPI) *InferenceAgent {
	return &InferenceAgent{
		memory:    memory,
		startedAt: time.Now().UTC(),
		processed: newProcessedSet(),
		locks:     newLockTable(),
		source:    "agent:inference",
	}
}

func (a *InferenceAgent) Name() string            { return "inference" }
func (a *InferenceAgent) EventTypes() []string     { return []string{"observe"} }

func (a *InferenceAgent) Process(ctx context.Context) error {
	observations, err := a.memory.GetRecentObservations(10)
	if err != nil {
		return fmt.Errorf("inference: get recent observations: %w", err)
	}

	for _, obs := range observations {
		if !obs.CreatedAt.IsZero() && obs.CreatedAt.Before(a.startedAt) {
			continue
		}
		key := "agent:inference:processed_obs:" + obs.ID
		if a.processed.has(key) {
			continue
		}
		if !a.locks.tryAcquire("inference:"+obs.ID, inferenceLockTTL) {
			continue
		}

		claimText, err := a.memory.Infer(obs.RawContent)
		if err != nil {
			log.Printf("inference: infer failed for observation %s: %v", obs.ID, err)
			continue
		}
		a.processed.mark(key)
		if claimText == "" {
			continue
		}
		if _, err := a.memory.Claim(claimText, a.source); err != nil {
			log.Printf("inference: claim failed for observation %s: %v", obs.ID, err)
			continue
		}
	}
	return nil
}
