package memsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memory-mesh/internal/memapi"
)

func TestCleanedWordsStripsPunctuationAndStopwords(t *testing.T) {
	words := cleanedWords("I prefer morning meetings, not evening ones!")
	_, hasI := words["i"]
	require.False(t, hasI, "stopword must be stripped")
	_, hasPrefer := words["prefer"]
	require.True(t, hasPrefer)
	_, hasMeetings := words["meetings"]
	require.True(t, hasMeetings, "trailing comma must be stripped")
}

func TestBestOverlapMatchRequiresAtLeastTwoSharedWords(t *testing.T) {
	candidates := []TextRef{
		{ID: "t1", Text: "alice prefers morning meetings over evening ones"},
		{ID: "t2", Text: "bob enjoys playing chess on weekends"},
	}

	match, ok := bestOverlapMatch("said they prefer morning meetings", candidates)
	require.True(t, ok)
	require.Equal(t, "t1", match.ID)

	_, ok = bestOverlapMatch("completely unrelated text about nothing", candidates)
	require.False(t, ok)
}

func TestBestOverlapMatchPicksHighestScoringCandidate(t *testing.T) {
	candidates := []TextRef{
		{ID: "weak", Text: "alice likes morning walks"},
		{ID: "strong", Text: "alice prefers morning meetings over evening meetings"},
	}
	match, ok := bestOverlapMatch("alice prefers morning meetings", candidates)
	require.True(t, ok)
	require.Equal(t, "strong", match.ID)
}

// fakeStore implements GraphStore with just enough behavior for Claim to
// exercise the basis/supersedes matching paths.
type fakeStore struct {
	statements []memapi.Statement
	textRefs   []TextRef
	linkedFrom map[string]string
	supersedes map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{linkedFrom: map[string]string{}, supersedes: map[string]string{}}
}

func (f *fakeStore) EnsureSource(context.Context, string, string) (memapi.Source, error) {
	return memapi.Source{ID: "src-1"}, nil
}
func (f *fakeStore) MergeConcept(_ context.Context, name, kind string) (memapi.Concept, error) {
	return memapi.Concept{ID: "concept-" + name, Name: name, Kind: kind}, nil
}
func (f *fakeStore) FindConceptByName(context.Context, string) (memapi.Concept, bool, error) {
	return memapi.Concept{}, false, nil
}
func (f *fakeStore) CreateObservation(context.Context, string) (memapi.Observation, error) {
	return memapi.Observation{ID: "obs-1"}, nil
}
func (f *fakeStore) LinkRecordedBy(context.Context, string, string) error { return nil }
func (f *fakeStore) LinkMentions(context.Context, string, string) error  { return nil }
func (f *fakeStore) CreateStatement(_ context.Context, stmt memapi.Statement) (memapi.Statement, error) {
	f.statements = append(f.statements, stmt)
	return stmt, nil
}
func (f *fakeStore) LinkAssertedBy(context.Context, string, string) error     { return nil }
func (f *fakeStore) LinkSubjectObject(context.Context, string, string, string) error { return nil }
func (f *fakeStore) LinkDerivedFrom(_ context.Context, stmtID, fromID string) error {
	f.linkedFrom[stmtID] = fromID
	return nil
}
func (f *fakeStore) LinkSupersedes(_ context.Context, newID, oldID string) error {
	f.supersedes[newID] = oldID
	return nil
}
func (f *fakeStore) FlagContradiction(context.Context, string, string, string) error { return nil }
func (f *fakeStore) RecentObservations(context.Context, int) ([]memapi.Observation, error) {
	return nil, nil
}
func (f *fakeStore) RecentStatements(context.Context, int) ([]memapi.Statement, error) {
	return f.statements, nil
}
func (f *fakeStore) RecentTextRefs(context.Context, int) ([]TextRef, error) { return f.textRefs, nil }
func (f *fakeStore) UnresolvedContradictions(context.Context) ([]memapi.Contradiction, error) {
	return nil, nil
}
func (f *fakeStore) Concepts(context.Context) ([]memapi.Concept, error) { return nil, nil }
func (f *fakeStore) RawQuery(context.Context, string) ([]map[string]any, error) { return nil, nil }
func (f *fakeStore) Clear(context.Context) error                                { return nil }

type fakeLLM struct {
	parseClaim func(text string) ParsedClaim
	inferText  string
}

func (l *fakeLLM) ExtractObservation(context.Context, string) (ExtractedObservation, error) {
	return ExtractedObservation{}, nil
}
func (l *fakeLLM) ParseClaim(_ context.Context, text, _ string) (ParsedClaim, error) {
	return l.parseClaim(text), nil
}
func (l *fakeLLM) Infer(context.Context, string) (string, error) { return l.inferText, nil }
func (l *fakeLLM) GenerateQuery(context.Context, string) (string, error) { return "", nil }
func (l *fakeLLM) SynthesizeResponse(context.Context, string, []map[string]any) (string, error) {
	return "synthesized answer", nil
}

func TestServiceClaimLinksSupersedesWhenDescribed(t *testing.T) {
	store := newFakeStore()
	store.textRefs = []TextRef{
		{ID: "old-1", Text: "alice prefers evening meetings", CreatedAt: time.Now().Add(-time.Hour)},
	}
	llm := &fakeLLM{parseClaim: func(string) ParsedClaim {
		return ParsedClaim{
			Subject: "alice", Predicate: "prefers", Object: "morning meetings",
			Confidence: 0.9, SupersedesDescription: "alice prefers evening meetings",
		}
	}}
	svc := New(store, llm, time.Second)

	id, err := svc.Claim("alice now prefers morning meetings", "test")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, "old-1", store.supersedes[id])
}

func TestServiceInferTreatsSkipAsNoClaim(t *testing.T) {
	store := newFakeStore()
	llm := &fakeLLM{inferText: "SKIP"}
	svc := New(store, llm, time.Second)

	claim, err := svc.Infer("the weather is nice today")
	require.NoError(t, err)
	require.Empty(t, claim)
}

func TestServiceInferReturnsClaimWhenPresent(t *testing.T) {
	store := newFakeStore()
	llm := &fakeLLM{inferText: "alice prefers morning meetings"}
	svc := New(store, llm, time.Second)

	claim, err := svc.Infer("alice said she'd rather meet before lunch")
	require.NoError(t, err)
	require.Equal(t, "alice prefers morning meetings", claim)
}

func TestServiceGetSchemaErrorsWithoutSchemaStore(t *testing.T) {
	svc := New(newFakeStore(), &fakeLLM{}, time.Second)
	_, err := svc.GetSchema()
	require.Error(t, err)
}
