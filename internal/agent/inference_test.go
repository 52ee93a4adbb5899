package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memory-mesh/internal/memapi"
)

// stubMemory supports just the calls InferenceAgent makes, with canned
// per-observation infer results and a log of claims asserted.
type stubMemory struct {
	fakeMemory
	observations []memapi.Observation
	inferResults map[string]string
	claimed      []string
}

func (s *stubMemory) GetRecentObservations(int) ([]memapi.Observation, error) {
	return s.observations, nil
}

func (s *stubMemory) Infer(text string) (string, error) {
	return s.inferResults[text], nil
}

func (s *stubMemory) Claim(text, source string) (string, error) {
	s.claimed = append(s.claimed, text)
	return "stmt-" + text, nil
}

func TestInferenceAgentSkipsObservationsBeforeStart(t *testing.T) {
	startedAt := time.Now().UTC()
	mem := &stubMemory{
		observations: []memapi.Observation{
			{ID: "old", RawContent: "old text", CreatedAt: startedAt.Add(-time.Hour)},
		},
		inferResults: map[string]string{"old text": "should never be asserted"},
	}
	a := NewInferenceAgent(mem)
	a.startedAt = startedAt

	require.NoError(t, a.Process(context.Background()))
	require.Empty(t, mem.claimed, "observations predating agent start must be skipped")
}

func TestInferenceAgentClaimsNonEmptyInference(t *testing.T) {
	mem := &stubMemory{
		observations: []memapi.Observation{
			{ID: "obs-1", RawContent: "alice said she prefers morning meetings", CreatedAt: time.Now().UTC()},
		},
		inferResults: map[string]string{
			"alice said she prefers morning meetings": "alice prefers morning meetings",
		},
	}
	a := NewInferenceAgent(mem)
	a.startedAt = time.Time{} // accept any observation regardless of timestamp

	require.NoError(t, a.Process(context.Background()))
	require.Equal(t, []string{"alice prefers morning meetings"}, mem.claimed)
}

func TestInferenceAgentSkipsEmptyInferenceResult(t *testing.T) {
	mem := &stubMemory{
		observations: []memapi.Observation{
			{ID: "obs-1", RawContent: "the weather is nice", CreatedAt: time.Now().UTC()},
		},
		inferResults: map[string]string{"the weather is nice": ""},
	}
	a := NewInferenceAgent(mem)
	a.startedAt = time.Time{}

	require.NoError(t, a.Process(context.Background()))
	require.Empty(t, mem.claimed)
}

func TestInferenceAgentIsIdempotentAcrossProcessCalls(t *testing.T) {
	mem := &stubMemory{
		observations: []memapi.Observation{
			{ID: "obs-1", RawContent: "alice prefers morning meetings", CreatedAt: time.Now().UTC()},
		},
		inferResults: map[string]string{
			"alice prefers morning meetings": "alice prefers morning meetings",
		},
	}
	a := NewInferenceAgent(mem)
	a.startedAt = time.Time{}

	require.NoError(t, a.Process(context.Background()))
	require.NoError(t, a.Process(context.Background()))
	require.Len(t, mem.claimed, 1, "the same observation must not be re-inferred on a later tick")
}
