// Package schema implements the predicate schema store: a small,
// hot-reloadable piece of config that tells the validator agent how to
// interpret same-subject statement pairs (cardinality, exclusivity
// groups, aliases) so it knows which pairs are genuine contradictions.
package schema

import "time"

// Cardinality says whether a predicate may hold multiple simultaneous
// values for the same subject.
type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

// Temporality says whether a predicate's value can legitimately change
// over time.
type Temporality string

const (
	TemporalityPermanent Temporality = "permanent"
	TemporalityTemporal  Temporality = "temporal"
	TemporalityUnknown   Temporality = "unknown"
)

// Origin distinguishes predicates seeded at bootstrap from ones a node
// has learned (via update_schema) at runtime.
type Origin string

const (
	OriginBootstrap Origin = "bootstrap"
	OriginLearned   Origin = "learned"
)

// DefaultCardinality and DefaultTemporality apply to any predicate not
// present in the schema.
const (
	DefaultCardinality = CardinalitySingle
	DefaultTemporality = TemporalityUnknown
)

// PredicateInfo describes one predicate's validation-relevant metadata.
type PredicateInfo struct {
	Name         string      `yaml:"name" json:"name"`
	Cardinality  Cardinality `yaml:"cardinality" json:"cardinality"`
	Temporality  Temporality `yaml:"temporality" json:"temporality"`
	Aliases      []string    `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Origin       Origin      `yaml:"origin" json:"origin"`
	Reasoning    string      `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
	LastReviewed time.Time   `yaml:"last_reviewed,omitempty" json:"last_reviewed,omitempty"`
}

// ExclusivityGroup names a set of predicates that are mutually exclusive
// for a given subject (e.g. "gender": is_male, is_female).
type ExclusivityGroup struct {
	Name        string   `yaml:"name" json:"name"`
	Predicates  []string `yaml:"predicates" json:"predicates"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Defaults holds the fallback cardinality/temporality applied to
// predicates absent from the schema.
type Defaults struct {
	Cardinality Cardinality `yaml:"cardinality" json:"cardinality"`
	Temporality Temporality `yaml:"temporality" json:"temporality"`
}

// PredicateSchema is the full versioned schema document, both the
// on-disk YAML shape and the payload carried by schema_updated events.
type PredicateSchema struct {
	SchemaVersion     int                         `yaml:"schema_version" json:"schema_version"`
	UpdatedAt         time.Time                   `yaml:"updated_at" json:"updated_at"`
	UpdatedBy         string                      `yaml:"updated_by" json:"updated_by"`
	Defaults          Defaults                    `yaml:"defaults" json:"defaults"`
	Predicates        map[string]PredicateInfo    `yaml:"predicates" json:"predicates"`
	ExclusivityGroups map[string]ExclusivityGroup `yaml:"exclusivity_groups" json:"exclusivity_groups"`
}

// aliasIndex is derived, not stored on disk: alias -> canonical name.
func (s PredicateSchema) aliasIndex() map[string]string {
	idx := make(map[string]string)
	for canonical, info := range s.Predicates {
		for _, alias := range info.Aliases {
			idx[alias] = canonical
		}
	}
	return idx
}

// Canonicalize resolves name to its canonical predicate form: lowercase,
// trimmed, spaces replaced with underscores, then mapped through any
// known alias.
func (s PredicateSchema) Canonicalize(name string) string {
	c := canonicalizeName(name)
	if canon, ok := s.aliasIndex()[c]; ok {
		return canon
	}
	return c
}

// Lookup returns the PredicateInfo for name (after canonicalisation),
// falling back to the schema defaults if the predicate is unknown.
func (s PredicateSchema) Lookup(name string) PredicateInfo {
	canon := s.Canonicalize(name)
	if info, ok := s.Predicates[canon]; ok {
		return info
	}
	cardinality := s.Defaults.Cardinality
	if cardinality == "" {
		cardinality = DefaultCardinality
	}
	temporality := s.Defaults.Temporality
	if temporality == "" {
		temporality = DefaultTemporality
	}
	return PredicateInfo{Name: canon, Cardinality: cardinality, Temporality: temporality, Origin: OriginLearned}
}

// IsMultiValued reports whether predicate name is declared multi-valued.
func (s PredicateSchema) IsMultiValued(name string) bool {
	return s.Lookup(name).Cardinality == CardinalityMulti
}

// ExclusivityGroupFor returns the group name containing predicate, if any.
func (s PredicateSchema) ExclusivityGroupFor(name string) (string, bool) {
	canon := s.Canonicalize(name)
	for groupName, g := range s.ExclusivityGroups {
		for _, p := range g.Predicates {
			if canonicalizeName(p) == canon {
				return groupName, true
			}
		}
	}
	return "", false
}
