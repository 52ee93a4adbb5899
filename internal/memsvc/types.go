// Package memsvc implements the concrete memory service (spec §4.11):
// observe/claim/remember/infer/flag_contradiction, composed from a
// GraphStore and an LLM external collaborator, satisfying memapi.MemoryAPI
// so the same Service can run in-process or behind the P2P router.
package memsvc

import (
	"context"
	"time"

	"memory-mesh/internal/memapi"
)

// ExtractedObservation is the structured output of LLM.ExtractObservation.
type ExtractedObservation struct {
	Concepts []ExtractedConcept `json:"concepts"`
	Topics   []string           `json:"topics"`
}

// ExtractedConcept is one concept surfaced while extracting an
// observation, optionally decomposed into components (e.g. "chess" under
// "hobby").
type ExtractedConcept struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Components []string `json:"components,omitempty"`
}

// ParsedClaim is the structured output of LLM.ParseClaim.
type ParsedClaim struct {
	Subject               string  `json:"subject"`
	Predicate             string  `json:"predicate"`
	Object                string  `json:"object"`
	Confidence            float64 `json:"confidence"`
	Negated               bool    `json:"negated"`
	BasisDescriptions     []string `json:"basis_descriptions,omitempty"`
	SupersedesDescription string   `json:"supersedes_description,omitempty"`
}

// LLM is the external collaborator interface for natural-language
// understanding and generation (spec §6). Implementations must validate
// structured outputs at the boundary rather than trusting raw model text.
type LLM interface {
	ExtractObservation(ctx context.Context, text string) (ExtractedObservation, error)
	ParseClaim(ctx context.Context, text, context_ string) (ParsedClaim, error)
	Infer(ctx context.Context, observationText string) (string, error) // "" / "SKIP" means no claim
	GenerateQuery(ctx context.Context, naturalLanguage string) (string, error)
	SynthesizeResponse(ctx context.Context, query string, rows []map[string]any) (string, error)
}

// TextRef is a lightweight (id, text, created_at) projection used for
// basis-description matching against recent observations/statements.
type TextRef struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// GraphStore is the external collaborator interface for a labelled-
// property graph (spec §6): node/edge mutation, recency-ordered reads,
// the "current" (no incoming SUPERSEDES) filter, and a raw-query escape
// hatch remember() uses to run its LLM-generated query.
type GraphStore interface {
	EnsureSource(ctx context.Context, name, kind string) (memapi.Source, error)
	MergeConcept(ctx context.Context, name, kind string) (memapi.Concept, error)
	FindConceptByName(ctx context.Context, name string) (memapi.Concept, bool, error)

	CreateObservation(ctx context.Context, rawContent string) (memapi.Observation, error)
	LinkRecordedBy(ctx context.Context, obsID, sourceID string) error
	LinkMentions(ctx context.Context, obsID, conceptID string) error

	CreateStatement(ctx context.Context, stmt memapi.Statement) (memapi.Statement, error)
	LinkAssertedBy(ctx context.Context, stmtID, sourceID string) error
	LinkSubjectObject(ctx context.Context, stmtID, subjectConceptID, objectConceptID string) error
	LinkDerivedFrom(ctx context.Context, stmtID, fromID string) error
	LinkSupersedes(ctx context.Context, newStmtID, oldID string) error
	FlagContradiction(ctx context.Context, id1, id2, reason string) error

	RecentObservations(ctx context.Context, limit int) ([]memapi.Observation, error)
	RecentStatements(ctx context.Context, limit int) ([]memapi.Statement, error)
	RecentTextRefs(ctx context.Context, limit int) ([]TextRef, error)
	UnresolvedContradictions(ctx context.Context) ([]memapi.Contradiction, error)
	Concepts(ctx context.Context) ([]memapi.Concept, error)

	RawQuery(ctx context.Context, query string) ([]map[string]any, error)
	Clear(ctx context.Context) error
}
