// Package memapi defines the duck-typed MemoryAPI contract shared by the
// in-process memory service, the P2P router, and the agent runtime (spec
// §9: "Both the in-process service and the RPC router satisfy the same
// contract"). It carries no dependency on p2p or memsvc so all three can
// import it without forming a cycle.
package memapi

import "time"

// Source is a named originator of observations and statements,
// deduplicated by Name.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Concept is a deduplicated, name-addressable node: entity, attribute,
// value, category, or action.
type Concept struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Observation is an append-only raw-text record.
type Observation struct {
	ID         string    `json:"id"`
	RawContent string    `json:"raw_content"`
	Topics     []string  `json:"topics,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	SourceName string    `json:"source_name,omitempty"`
	Concepts   []string  `json:"concepts,omitempty"`
}

// Statement is a reified (subject, predicate, object) triple.
type Statement struct {
	ID           string    `json:"id"`
	Predicate    string    `json:"predicate"`
	Confidence   float64   `json:"confidence"`
	Negated      bool      `json:"negated"`
	CreatedAt    time.Time `json:"created_at"`
	SubjectName  string    `json:"subject_name"`
	ObjectName   string    `json:"object_name"`
	AssertedBy   string    `json:"asserted_by,omitempty"`
	DerivedFrom  []string  `json:"derived_from,omitempty"`
	Supersedes   string    `json:"supersedes,omitempty"`
}

// Contradiction is a pair of current statements linked by a CONTRADICTS
// edge, along with the reason recorded when they were flagged.
type Contradiction struct {
	StatementID1 string `json:"statement_id_1"`
	StatementID2 string `json:"statement_id_2"`
	Reason       string `json:"reason"`
}

// MemoryAPI is the uniform surface every call in spec §4.6 routes
// through, whether served locally or proxied to a capable peer over RPC.
// Implementations need not be safe for concurrent use unless they are
// wrapped under a mutex by their caller (spec §9) — the in-process
// memsvc.Service happens to delegate to a concurrency-safe graph store, so
// it is.
type MemoryAPI interface {
	Observe(text, source string) (string, error)
	Claim(text, source string) (string, error)
	Remember(query string) (string, error)
	Infer(observationText string) (string, error)
	FlagContradiction(id1, id2, reason string) error
	GetRecentObservations(limit int) ([]Observation, error)
	GetRecentStatements(limit int) ([]Statement, error)
	GetUnresolvedContradictions() ([]Contradiction, error)
	GetConcepts() ([]Concept, error)
	GetSchema() (map[string]any, error)
	UpdateSchema(changes map[string]any, source string) (map[string]any, error)
	Clear() error
}
