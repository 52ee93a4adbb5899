package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockTableTryAcquireAndExpiry(t *testing.T) {
	l := newLockTable()

	require.True(t, l.tryAcquire("obs-1", time.Hour), "first acquire must succeed")
	require.False(t, l.tryAcquire("obs-1", time.Hour), "re-acquiring a held lock must fail")

	// A lock with a TTL in the past must be treated as expired.
	l2 := newLockTable()
	l2.held["obs-2"] = time.Now().Add(-time.Second)
	require.True(t, l2.tryAcquire("obs-2", time.Hour))
}

func TestProcessedSetMarkAndHas(t *testing.T) {
	p := newProcessedSet()
	require.False(t, p.has("obs-1"))
	p.mark("obs-1")
	require.True(t, p.has("obs-1"))
	require.False(t, p.has("obs-2"))
}

// countingAgent counts Process calls and always declares a single event
// type of interest, so Worker.Signal's matching logic can be exercised.
type countingAgent struct {
	calls      int
	eventTypes []string
}

func (c *countingAgent) Name() string            { return "counting" }
func (c *countingAgent) EventTypes() []string    { return c.eventTypes }
func (c *countingAgent) Process(context.Context) error {
	c.calls++
	return nil
}

func TestWorkerSignalOnlyWakesForDeclaredEventTypes(t *testing.T) {
	a := &countingAgent{eventTypes: []string{"claim"}}
	w := NewWorker(a, time.Hour)

	w.Signal("observe") // not declared — must be a no-op
	select {
	case <-w.wake:
		t.Fatal("Signal must not wake on an undeclared event type")
	default:
	}

	w.Signal("claim")
	select {
	case <-w.wake:
	default:
		t.Fatal("Signal must wake on a declared event type")
	}
}

func TestWorkerRunProcessesOnStartupAndOnSignal(t *testing.T) {
	a := &countingAgent{eventTypes: []string{"claim"}}
	w := NewWorker(a, time.Hour) // poll interval long enough to not interfere

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return a.calls >= 1 }, time.Second, time.Millisecond, "startup must call Process at least once")

	w.Signal("claim")
	require.Eventually(t, func() bool { return a.calls >= 2 }, time.Second, time.Millisecond, "a signal must trigger another Process call")

	cancel()
	<-done
}
