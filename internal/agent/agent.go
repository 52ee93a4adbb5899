// Package agent implements the generic worker runtime (spec §4.7) and its
// two concrete agents: the inference agent (§4.8) and the validator agent
// (§4.9). Every agent runs as one goroutine per node, woken by relevant
// P2P events or a poll-interval timeout, whichever comes first.
package agent

import (
	"context"
	"log"
	"time"
)

// StartupRetries/StartupRetryDelay bound how long an agent tolerates a
// memory backend that isn't ready yet at process start (spec §4.7).
const (
	StartupRetries   = 12
	StartupRetryDelay = 5 * time.Second
	TickErrorBackoff  = 5 * time.Second
)

// Agent is the contract every worker implements: which event types wake
// it early, and the unit of work to run on each tick.
type Agent interface {
	Name() string
	EventTypes() []string
	Process(ctx context.Context) error
}

// Worker drives one Agent's lifecycle: a bounded startup retry, then a
// steady-state loop woken by either a registered event or poll_interval.
type Worker struct {
	agent        Agent
	pollInterval time.Duration
	wake         chan struct{}
	tickErrors   int
}

// NewWorker builds a Worker for agent, woken at least every pollInterval.
func NewWorker(agent Agent, pollInterval time.Duration) *Worker {
	return &Worker{
		agent:        agent,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Signal marks the agent's wake flag, matching event_type against the
// agent's declared EventTypes(). Safe to call from any goroutine
// (typically a p2p.Node event listener).
func (w *Worker) Signal(eventType string) {
	for _, want := range w.agent.EventTypes() {
		if want == eventType {
			select {
			case w.wake <- struct{}{}:
			default:
			}
			return
		}
	}
}

// Run blocks until ctx is cancelled, executing the startup retry then the
// steady-state loop.
func (w *Worker) Run(ctx context.Context) {
	if !w.startupRetry(ctx) {
		log.Printf("agent[%s]: giving up after %d startup attempts", w.agent.Name(), StartupRetries)
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			w.tick(ctx)
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) startupRetry(ctx context.Context) bool {
	for attempt := 1; attempt <= StartupRetries; attempt++ {
		if err := w.agent.Process(ctx); err == nil {
			return true
		} else {
			log.Printf("agent[%s]: startup attempt %d/%d failed: %v", w.agent.Name(), attempt, StartupRetries, err)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(StartupRetryDelay):
		}
	}
	return false
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.agent.Process(ctx); err != nil {
		w.tickErrors++
		log.Printf("agent[%s]: tick failed (%d total errors): %v", w.agent.Name(), w.tickErrors, err)
		select {
		case <-ctx.Done():
		case <-time.After(TickErrorBackoff):
		}
	}
}

// lockTable is a small advisory, node-local lock manager with per-key
// TTLs, used by agents to avoid duplicate concurrent work on the same
// item. Cross-node coordination is intentionally dropped (spec §5): the
// store is append-only, so duplicate inference is wasted work, not
// corruption.
type lockTable struct {
	held map[string]time.Time
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[string]time.Time)}
}

// tryAcquire reports whether key was free (or its previous lock expired)
// and, if so, acquires it until ttl from now.
func (l *lockTable) tryAcquire(key string, ttl time.Duration) bool {
	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return false
	}
	l.held[key] = time.Now().Add(ttl)
	return true
}

// processedSet is a simple node-local idempotency marker set.
type processedSet struct {
	seen map[string]struct{}
}

func newProcessedSet() *processedSet {
	return &processedSet{seen: make(map[string]struct{})}
}

func (p *processedSet) has(key string) bool {
	_, ok := p.seen[key]
	return ok
}

func (p *processedSet) mark(key string) {
	p.seen[key] = struct{}{}
}
