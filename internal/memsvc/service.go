package memsvc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"memory-mesh/internal/memapi"
)

// Service is the concrete memapi.MemoryAPI implementation: it composes a
// GraphStore and an LLM and owns the observe/claim/remember/infer
// contracts (spec §4.11). It carries no network awareness — the P2P
// router decides whether a call runs here or gets proxied.
type Service struct {
	store GraphStore
	llm   LLM
	// ctxTimeout bounds every graph/LLM call issued from a MemoryAPI
	// method, since memapi's interface is synchronous and carries no
	// context parameter of its own.
	ctxTimeout time.Duration
}

// New builds a Service.
func New(store GraphStore, llm LLM, ctxTimeout time.Duration) *Service {
	if ctxTimeout <= 0 {
		ctxTimeout = 120 * time.Second
	}
	return &Service{store: store, llm: llm, ctxTimeout: ctxTimeout}
}

func (s *Service) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.ctxTimeout)
}

// Observe records raw text, extracting concepts and topics, but creates
// no statements — inference is the agent's responsibility (spec §4.11).
func (s *Service) Observe(text, source string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	extracted, err := s.llm.ExtractObservation(ctx, text)
	if err != nil {
		return "", fmt.Errorf("memsvc: extract observation: %w", err)
	}

	src, err := s.store.EnsureSource(ctx, source, "agent")
	if err != nil {
		return "", fmt.Errorf("memsvc: ensure source %q: %w", source, err)
	}

	obs, err := s.store.CreateObservation(ctx, text)
	if err != nil {
		return "", fmt.Errorf("memsvc: create observation: %w", err)
	}
	obs.Topics = extracted.Topics

	if err := s.store.LinkRecordedBy(ctx, obs.ID, src.ID); err != nil {
		return "", fmt.Errorf("memsvc: link recorded_by: %w", err)
	}

	for _, c := range extracted.Concepts {
		concept, err := s.store.MergeConcept(ctx, c.Name, c.Kind)
		if err != nil {
			return "", fmt.Errorf("memsvc: merge concept %q: %w", c.Name, err)
		}
		if err := s.store.LinkMentions(ctx, obs.ID, concept.ID); err != nil {
			return "", fmt.Errorf("memsvc: link mentions %q: %w", c.Name, err)
		}
		for _, comp := range c.Components {
			compConcept, err := s.store.MergeConcept(ctx, comp, "attribute")
			if err != nil {
				continue
			}
			_ = compConcept
		}
	}

	return obs.ID, nil
}

// Claim parses text into a (subject, predicate, object) statement,
// linking subject/object concepts, the asserting source, best-effort
// DERIVED_FROM edges, and an optional SUPERSEDES edge. No contradiction
// detection happens here (spec §4.11) — that's the validator agent.
func (s *Service) Claim(text, source string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	parsed, err := s.llm.ParseClaim(ctx, text, "")
	if err != nil {
		return "", fmt.Errorf("memsvc: parse claim: %w", err)
	}

	src, err := s.store.EnsureSource(ctx, source, "agent")
	if err != nil {
		return "", fmt.Errorf("memsvc: ensure source %q: %w", source, err)
	}
	subjConcept, err := s.store.MergeConcept(ctx, parsed.Subject, "entity")
	if err != nil {
		return "", fmt.Errorf("memsvc: merge subject concept: %w", err)
	}
	objConcept, err := s.store.MergeConcept(ctx, parsed.Object, "value")
	if err != nil {
		return "", fmt.Errorf("memsvc: merge object concept: %w", err)
	}

	stmt := memapi.Statement{
		ID:          uuid.NewString(),
		Predicate:   strings.ToLower(strings.TrimSpace(parsed.Predicate)),
		Confidence:  parsed.Confidence,
		Negated:     parsed.Negated,
		CreatedAt:   time.Now().UTC(),
		SubjectName: parsed.Subject,
		ObjectName:  parsed.Object,
		AssertedBy:  source,
	}
	stmt, err = s.store.CreateStatement(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("memsvc: create statement: %w", err)
	}
	if err := s.store.LinkSubjectObject(ctx, stmt.ID, subjConcept.ID, objConcept.ID); err != nil {
		return "", fmt.Errorf("memsvc: link subject/object: %w", err)
	}
	if err := s.store.LinkAssertedBy(ctx, stmt.ID, src.ID); err != nil {
		return "", fmt.Errorf("memsvc: link asserted_by: %w", err)
	}

	if len(parsed.BasisDescriptions) > 0 {
		refs, err := s.store.RecentTextRefs(ctx, 50)
		if err == nil {
			for _, basis := range parsed.BasisDescriptions {
				if match, ok := bestOverlapMatch(basis, refs); ok {
					_ = s.store.LinkDerivedFrom(ctx, stmt.ID, match.ID)
				}
			}
		}
	}

	if parsed.SupersedesDescription != "" {
		refs, err := s.store.RecentTextRefs(ctx, 50)
		if err == nil {
			if match, ok := bestOverlapMatch(parsed.SupersedesDescription, refs); ok {
				_ = s.store.LinkSupersedes(ctx, stmt.ID, match.ID)
			}
		}
	}

	return stmt.ID, nil
}

// FlagContradiction records a CONTRADICTS edge between two statements.
func (s *Service) FlagContradiction(id1, id2, reason string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.FlagContradiction(ctx, id1, id2, reason); err != nil {
		return fmt.Errorf("memsvc: flag contradiction: %w", err)
	}
	return nil
}

// Remember translates a natural-language query into a graph query via
// the LLM, executes it, and falls back to a broad recent-facts fetch on
// failure or an empty result before synthesizing a text answer.
func (s *Service) Remember(query string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var rows []map[string]any

	if graphQuery, err := s.llm.GenerateQuery(ctx, query); err == nil && graphQuery != "" {
		if r, err := s.store.RawQuery(ctx, graphQuery); err == nil && len(r) > 0 {
			rows = r
		}
	}

	if len(rows) == 0 {
		rows = s.broadFallback(ctx)
	}

	answer, err := s.llm.SynthesizeResponse(ctx, query, rows)
	if err != nil {
		return "", fmt.Errorf("memsvc: synthesize response: %w", err)
	}
	return answer, nil
}

func (s *Service) broadFallback(ctx context.Context) []map[string]any {
	var rows []map[string]any
	if obs, err := s.store.RecentObservations(ctx, 10); err == nil {
		for _, o := range obs {
			rows = append(rows, map[string]any{"kind": "observation", "text": o.RawContent})
		}
	}
	if stmts, err := s.store.RecentStatements(ctx, 20); err == nil {
		for _, st := range stmts {
			rows = append(rows, map[string]any{
				"kind": "statement", "subject": st.SubjectName, "predicate": st.Predicate, "object": st.ObjectName,
			})
		}
	}
	return rows
}

// Infer asks the LLM to derive a one-sentence factual claim from an
// observation, or "" if none applies.
func (s *Service) Infer(observationText string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	claim, err := s.llm.Infer(ctx, observationText)
	if err != nil {
		return "", fmt.Errorf("memsvc: infer: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(claim), "SKIP") {
		return "", nil
	}
	return claim, nil
}

func (s *Service) GetRecentObservations(limit int) ([]memapi.Observation, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.RecentObservations(ctx, limit)
}

func (s *Service) GetRecentStatements(limit int) ([]memapi.Statement, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.RecentStatements(ctx, limit)
}

func (s *Service) GetUnresolvedContradictions() ([]memapi.Contradiction, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.UnresolvedContradictions(ctx)
}

func (s *Service) GetConcepts() ([]memapi.Concept, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.Concepts(ctx)
}

func (s *Service) Clear() error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.store.Clear(ctx)
}

// GetSchema/UpdateSchema are satisfied by SchemaAwareService, below —
// plain Service has no schema of its own (only store-capable nodes carry
// one, and even then it's owned by internal/schema, not memsvc).
func (s *Service) GetSchema() (map[string]any, error) {
	return nil, fmt.Errorf("memsvc: this node has no schema store")
}

func (s *Service) UpdateSchema(changes map[string]any, source string) (map[string]any, error) {
	return nil, fmt.Errorf("memsvc: this node has no schema store")
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "and": {}, "or": {}, "for": {}, "my": {},
}

func cleanedWords(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if w == "" {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// bestOverlapMatch finds the TextRef whose cleaned-word overlap with
// basis is >=2 and highest among candidates (spec §4.11 "cleaned
// word-overlap >=2, stopwords removed").
func bestOverlapMatch(basis string, candidates []TextRef) (TextRef, bool) {
	basisWords := cleanedWords(basis)
	var best TextRef
	bestScore := 0
	for _, c := range candidates {
		score := 0
		for w := range cleanedWords(c.Text) {
			if _, ok := basisWords[w]; ok {
				score++
			}
		}
		if score >= 2 && score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore >= 2
}
