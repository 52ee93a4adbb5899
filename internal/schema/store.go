package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed bootstrap.yaml
var bootstrapYAML []byte

func canonicalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(n, " ", "_")
}

func bootstrapSchema() PredicateSchema {
	var s PredicateSchema
	if err := yaml.Unmarshal(bootstrapYAML, &s); err != nil {
		panic(fmt.Sprintf("schema: embedded bootstrap.yaml is invalid: %v", err))
	}
	return s
}

// Store owns a single store-capable node's on-disk predicate schema
// (spec §4.10): load-or-seed-from-bootstrap, monotonic versioned
// updates, atomic persistence, and a hot-reload notification hook.
type Store struct {
	mu     sync.RWMutex
	path   string
	schema PredicateSchema

	// onUpdate is called (outside the lock) after every successful
	// update, so the node can flood a schema_updated event.
	onUpdate func(PredicateSchema)
}

// Load reads path, or seeds it from the bundled bootstrap schema if it
// doesn't exist or fails to parse.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var parsed PredicateSchema
		if yamlErr := yaml.Unmarshal(data, &parsed); yamlErr != nil {
			s.schema = bootstrapSchema()
			if writeErr := s.persist(); writeErr != nil {
				return nil, writeErr
			}
			return s, nil
		}
		s.schema = parsed
		return s, nil
	case os.IsNotExist(err):
		s.schema = bootstrapSchema()
		if writeErr := s.persist(); writeErr != nil {
			return nil, writeErr
		}
		return s, nil
	default:
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
}

// OnUpdate registers the hot-reload notification callback.
func (s *Store) OnUpdate(fn func(PredicateSchema)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Schema returns the current schema (read-only snapshot).
func (s *Store) Schema() PredicateSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// Version returns the current schema_version.
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema.SchemaVersion
}

// Update merges changes into the schema per spec §4.10: predicates merge
// field-by-field (creating missing ones), exclusivity_groups and
// defaults replace wholesale, schema_version always increments.
func (s *Store) Update(changes map[string]any, source string) (PredicateSchema, error) {
	s.mu.Lock()

	if rawPredicates, ok := changes["predicates"].(map[string]any); ok {
		if s.schema.Predicates == nil {
			s.schema.Predicates = make(map[string]PredicateInfo)
		}
		for name, fieldsAny := range rawPredicates {
			fields, _ := fieldsAny.(map[string]any)
			canon := canonicalizeName(name)
			existing, had := s.schema.Predicates[canon]
			if !had {
				existing = PredicateInfo{Name: canon, Cardinality: DefaultCardinality, Temporality: DefaultTemporality, Origin: OriginLearned}
			}
			mergePredicateFields(&existing, fields)
			existing.Name = canon
			s.schema.Predicates[canon] = existing
		}
	}

	if rawGroups, ok := changes["exclusivity_groups"].(map[string]any); ok {
		groups := make(map[string]ExclusivityGroup, len(rawGroups))
		for name, gAny := range rawGroups {
			g, _ := gAny.(map[string]any)
			group := ExclusivityGroup{Name: name}
			if preds, ok := g["predicates"].([]any); ok {
				for _, p := range preds {
					if ps, ok := p.(string); ok {
						group.Predicates = append(group.Predicates, canonicalizeName(ps))
					}
				}
			}
			if desc, ok := g["description"].(string); ok {
				group.Description = desc
			}
			groups[name] = group
		}
		s.schema.ExclusivityGroups = groups
	}

	if rawDefaults, ok := changes["defaults"].(map[string]any); ok {
		var d Defaults
		if c, ok := rawDefaults["cardinality"].(string); ok {
			d.Cardinality = Cardinality(c)
		}
		if t, ok := rawDefaults["temporality"].(string); ok {
			d.Temporality = Temporality(t)
		}
		s.schema.Defaults = d
	}

	s.schema.SchemaVersion++
	s.schema.UpdatedAt = time.Now().UTC()
	s.schema.UpdatedBy = source

	snapshot := s.schema
	persistErr := s.persist()
	onUpdate := s.onUpdate
	s.mu.Unlock()

	if persistErr != nil {
		return snapshot, persistErr
	}
	if onUpdate != nil {
		onUpdate(snapshot)
	}
	return snapshot, nil
}

// ReplaceFromWire overwrites the in-memory schema from a deserialized
// schema_updated event payload, without touching disk. The validator
// agent does not go through a Store: it rebuilds its own copy with
// FromWire.
func (s *Store) ReplaceFromWire(payload map[string]any) error {
	parsed, err := FromWire(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = parsed
	return nil
}

// FromWire parses a schema_updated event payload (or any schemaToWire
// output) into a PredicateSchema. Exported so agents that track a schema
// without owning a Store (the validator, on a non-store node) can
// rebuild their in-memory copy directly from the event.
func FromWire(payload map[string]any) (PredicateSchema, error) {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return PredicateSchema{}, fmt.Errorf("schema: re-marshal payload: %w", err)
	}
	var parsed PredicateSchema
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return PredicateSchema{}, fmt.Errorf("schema: parse payload: %w", err)
	}
	return parsed, nil
}

// ToWire serializes the current schema to a JSON/YAML-compatible map,
// the shape carried by schema_updated event payloads.
func (s *Store) ToWire() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schemaToWire(s.schema)
}

func schemaToWire(sc PredicateSchema) map[string]any {
	predicates := make(map[string]any, len(sc.Predicates))
	for name, info := range sc.Predicates {
		predicates[name] = map[string]any{
			"name":          info.Name,
			"cardinality":   string(info.Cardinality),
			"temporality":   string(info.Temporality),
			"aliases":       info.Aliases,
			"origin":        string(info.Origin),
			"reasoning":     info.Reasoning,
			"last_reviewed": info.LastReviewed,
		}
	}
	groups := make(map[string]any, len(sc.ExclusivityGroups))
	for name, g := range sc.ExclusivityGroups {
		groups[name] = map[string]any{
			"name":        g.Name,
			"predicates":  g.Predicates,
			"description": g.Description,
		}
	}
	return map[string]any{
		"schema_version": sc.SchemaVersion,
		"updated_at":     sc.UpdatedAt,
		"updated_by":     sc.UpdatedBy,
		"defaults": map[string]any{
			"cardinality": string(sc.Defaults.Cardinality),
			"temporality": string(sc.Defaults.Temporality),
		},
		"predicates":         predicates,
		"exclusivity_groups": groups,
	}
}

func mergePredicateFields(info *PredicateInfo, fields map[string]any) {
	if v, ok := fields["cardinality"].(string); ok {
		info.Cardinality = Cardinality(v)
	}
	if v, ok := fields["temporality"].(string); ok {
		info.Temporality = Temporality(v)
	}
	if v, ok := fields["origin"].(string); ok {
		info.Origin = Origin(v)
	}
	if v, ok := fields["reasoning"].(string); ok {
		info.Reasoning = v
	}
	if raw, ok := fields["aliases"].([]any); ok {
		aliases := make([]string, 0, len(raw))
		for _, a := range raw {
			if s, ok := a.(string); ok {
				aliases = append(aliases, canonicalizeName(s))
			}
		}
		info.Aliases = aliases
	}
}

// persist writes the schema to a temp file in the same directory and
// renames it into place, so a crash mid-write never leaves a truncated
// schema.yaml behind.
func (s *Store) persist() error {
	data, err := yaml.Marshal(s.schema)
	if err != nil {
		return fmt.Errorf("schema: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("schema: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".schema-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("schema: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("schema: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("schema: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("schema: rename into place: %w", err)
	}
	return nil
}
