package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"memory-mesh/internal/memapi"
	"memory-mesh/internal/schema"
)

// ValidatorAgent groups recent statements by subject and flags
// contradictions, both same-predicate (respecting declared cardinality)
// and cross-predicate within a declared exclusivity group (spec §4.9).
// It never returns claim text; contradictions are a side effect.
type ValidatorAgent struct {
	memory       memapi.MemoryAPI
	checkedPairs *processedSet

	schemaMu         sync.RWMutex
	loadedSchema     *schema.PredicateSchema
	unknownPredicate map[string]int
}

// NewValidatorAgent builds a ValidatorAgent. initial may be nil if no
// schema has loaded yet (backward-compat mode: every same-predicate pair
// is flagged until a schema arrives).
func NewValidatorAgent(memory memapi.MemoryAPI, initial *schema.PredicateSchema) *ValidatorAgent {
	return &ValidatorAgent{
		memory:           memory,
		checkedPairs:     newProcessedSet(),
		loadedSchema:     initial,
		unknownPredicate: make(map[string]int),
	}
}

func (a *ValidatorAgent) Name() string        { return "validator" }
func (a *ValidatorAgent) EventTypes() []string { return []string{"claim", "schema_updated"} }

// OnSchemaUpdated rebuilds the agent's in-memory schema from an event
// payload. Wired as the node's schema_updated listener.
func (a *ValidatorAgent) OnSchemaUpdated(payload map[string]any) {
	parsed, err := schema.FromWire(payload)
	if err != nil {
		log.Printf("validator: failed to apply schema_updated payload: %v", err)
		return
	}
	a.schemaMu.Lock()
	a.loadedSchema = &parsed
	a.schemaMu.Unlock()
}

func (a *ValidatorAgent) currentSchema() *schema.PredicateSchema {
	a.schemaMu.RLock()
	defer a.schemaMu.RUnlock()
	return a.loadedSchema
}

func (a *ValidatorAgent) Process(ctx context.Context) error {
	statements, err := a.memory.GetRecentStatements(20)
	if err != nil {
		return fmt.Errorf("validator: get recent statements: %w", err)
	}

	bySubject := make(map[string][]memapi.Statement)
	for _, st := range statements {
		bySubject[st.SubjectName] = append(bySubject[st.SubjectName], st)
	}

	sch := a.currentSchema()

	for subject, stmts := range bySubject {
		a.checkSamePredicate(subject, stmts, sch)
		if sch != nil {
			a.checkExclusivityGroups(subject, stmts, sch)
		}
	}
	return nil
}

func (a *ValidatorAgent) checkSamePredicate(subject string, stmts []memapi.Statement, sch *schema.PredicateSchema) {
	byPredicate := make(map[string][]memapi.Statement)
	for _, st := range stmts {
		byPredicate[st.Predicate] = append(byPredicate[st.Predicate], st)
	}

	for predicate, group := range byPredicate {
		if len(group) < 2 {
			continue
		}
		if sch != nil {
			if sch.IsMultiValued(predicate) {
				continue
			}
			if _, known := sch.Predicates[sch.Canonicalize(predicate)]; !known {
				a.unknownPredicate[predicate]++
			}
		}

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				s1, s2 := group[i], group[j]
				if s1.ObjectName == s2.ObjectName {
					continue
				}
				a.flagPair(s1, s2, fmt.Sprintf("%s %s: '%s' vs '%s'", subject, predicate, s1.ObjectName, s2.ObjectName))
			}
		}
	}
}

func (a *ValidatorAgent) checkExclusivityGroups(subject string, stmts []memapi.Statement, sch *schema.PredicateSchema) {
	byGroup := make(map[string][]memapi.Statement)
	for _, st := range stmts {
		if groupName, ok := sch.ExclusivityGroupFor(st.Predicate); ok {
			byGroup[groupName] = append(byGroup[groupName], st)
		}
	}

	for groupName, group := range byGroup {
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				s1, s2 := group[i], group[j]
				a.flagPair(s1, s2, fmt.Sprintf("Exclusivity group '%s': %s vs %s", groupName, s1.Predicate, s2.Predicate))
			}
		}
	}
}

func (a *ValidatorAgent) flagPair(s1, s2 memapi.Statement, reason string) {
	key := pairKey(s1.ID, s2.ID)
	if a.checkedPairs.has(key) {
		return
	}
	if err := a.memory.FlagContradiction(s1.ID, s2.ID, reason); err != nil {
		log.Printf("validator: flag_contradiction(%s, %s) failed: %v", s1.ID, s2.ID, err)
		return
	}
	a.checkedPairs.mark(key)
}

func pairKey(id1, id2 string) string {
	ids := []string{id1, id2}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}
