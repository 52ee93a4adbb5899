// Package neo4j implements memsvc.GraphStore against a Neo4j property
// graph via the official Go driver, the store binding named in spec §6.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"memory-mesh/internal/memapi"
	"memory-mesh/internal/memsvc"
)

// Store adapts a neo4j.DriverWithContext to memsvc.GraphStore.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver against uri with basic auth and verifies
// connectivity.
func Connect(ctx context.Context, uri, username, password, database string) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: build driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Store{driver: driver, database: database}, nil
}

// Close releases the underlying driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func (s *Store) write(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database))
}

func (s *Store) EnsureSource(ctx context.Context, name, kind string) (memapi.Source, error) {
	result, err := s.write(ctx, `
		MERGE (src:Source {name: $name})
		ON CREATE SET src.id = $id, src.kind = $kind
		RETURN src.id AS id, src.name AS name, src.kind AS kind`,
		map[string]any{"name": name, "kind": kind, "id": uuid.NewString()})
	if err != nil {
		return memapi.Source{}, fmt.Errorf("neo4j: ensure source: %w", err)
	}
	if len(result.Records) == 0 {
		return memapi.Source{}, fmt.Errorf("neo4j: ensure source: no row returned")
	}
	rec := result.Records[0]
	id, _ := neo4j.GetProperty[string](rec, "id")
	kindOut, _ := neo4j.GetProperty[string](rec, "kind")
	return memapi.Source{ID: id, Name: name, Kind: kindOut}, nil
}

func (s *Store) MergeConcept(ctx context.Context, name, kind string) (memapi.Concept, error) {
	result, err := s.write(ctx, `
		MERGE (c:Concept {name: toLower($name)})
		ON CREATE SET c.id = $id, c.kind = $kind, c.display_name = $name, c.created_at = datetime()
		RETURN c.id AS id, c.display_name AS name, c.kind AS kind, c.created_at AS created_at`,
		map[string]any{"name": name, "kind": kind, "id": uuid.NewString()})
	if err != nil {
		return memapi.Concept{}, fmt.Errorf("neo4j: merge concept: %w", err)
	}
	if len(result.Records) == 0 {
		return memapi.Concept{}, fmt.Errorf("neo4j: merge concept: no row returned")
	}
	return conceptFromRecord(result.Records[0])
}

func (s *Store) FindConceptByName(ctx context.Context, name string) (memapi.Concept, bool, error) {
	result, err := s.write(ctx, `
		MATCH (c:Concept {name: toLower($name)})
		RETURN c.id AS id, c.display_name AS name, c.kind AS kind, c.created_at AS created_at`,
		map[string]any{"name": name})
	if err != nil {
		return memapi.Concept{}, false, fmt.Errorf("neo4j: find concept: %w", err)
	}
	if len(result.Records) == 0 {
		return memapi.Concept{}, false, nil
	}
	c, err := conceptFromRecord(result.Records[0])
	return c, err == nil, err
}

func conceptFromRecord(rec *neo4j.Record) (memapi.Concept, error) {
	id, _ := neo4j.GetProperty[string](rec, "id")
	name, _ := neo4j.GetProperty[string](rec, "name")
	kind, _ := neo4j.GetProperty[string](rec, "kind")
	createdAt := time.Now().UTC()
	if v, ok := rec.Get("created_at"); ok {
		if dt, ok := v.(time.Time); ok {
			createdAt = dt
		}
	}
	return memapi.Concept{ID: id, Name: name, Kind: kind, CreatedAt: createdAt}, nil
}

func (s *Store) CreateObservation(ctx context.Context, rawContent string) (memapi.Observation, error) {
	id := uuid.NewString()
	_, err := s.write(ctx, `
		CREATE (o:Observation {id: $id, raw_content: $text, created_at: datetime()})`,
		map[string]any{"id": id, "text": rawContent})
	if err != nil {
		return memapi.Observation{}, fmt.Errorf("neo4j: create observation: %w", err)
	}
	return memapi.Observation{ID: id, RawContent: rawContent, CreatedAt: time.Now().UTC()}, nil
}

func (s *Store) LinkRecordedBy(ctx context.Context, obsID, sourceID string) error {
	_, err := s.write(ctx, `
		MATCH (o:Observation {id: $obsID}), (src:Source {id: $sourceID})
		MERGE (o)-[:RECORDED_BY]->(src)`,
		map[string]any{"obsID": obsID, "sourceID": sourceID})
	if err != nil {
		return fmt.Errorf("neo4j: link recorded_by: %w", err)
	}
	return nil
}

func (s *Store) LinkMentions(ctx context.Context, obsID, conceptID string) error {
	_, err := s.write(ctx, `
		MATCH (o:Observation {id: $obsID}), (c:Concept {id: $conceptID})
		MERGE (o)-[:MENTIONS]->(c)`,
		map[string]any{"obsID": obsID, "conceptID": conceptID})
	if err != nil {
		return fmt.Errorf("neo4j: link mentions: %w", err)
	}
	return nil
}

func (s *Store) CreateStatement(ctx context.Context, stmt memapi.Statement) (memapi.Statement, error) {
	_, err := s.write(ctx, `
		CREATE (s:Statement {
			id: $id, predicate: $predicate, confidence: $confidence, negated: $negated,
			created_at: datetime(), subject_name: $subjectName, object_name: $objectName,
			asserted_by: $assertedBy
		})`,
		map[string]any{
			"id": stmt.ID, "predicate": stmt.Predicate, "confidence": stmt.Confidence,
			"negated": stmt.Negated, "subjectName": stmt.SubjectName, "objectName": stmt.ObjectName,
			"assertedBy": stmt.AssertedBy,
		})
	if err != nil {
		return memapi.Statement{}, fmt.Errorf("neo4j: create statement: %w", err)
	}
	stmt.CreatedAt = time.Now().UTC()
	return stmt, nil
}

func (s *Store) LinkAssertedBy(ctx context.Context, stmtID, sourceID string) error {
	_, err := s.write(ctx, `
		MATCH (s:Statement {id: $stmtID}), (src:Source {id: $sourceID})
		MERGE (s)-[:ASSERTED_BY]->(src)`,
		map[string]any{"stmtID": stmtID, "sourceID": sourceID})
	if err != nil {
		return fmt.Errorf("neo4j: link asserted_by: %w", err)
	}
	return nil
}

func (s *Store) LinkSubjectObject(ctx context.Context, stmtID, subjectConceptID, objectConceptID string) error {
	_, err := s.write(ctx, `
		MATCH (s:Statement {id: $stmtID}), (subj:Concept {id: $subjID}), (obj:Concept {id: $objID})
		MERGE (s)-[:ABOUT_SUBJECT]->(subj)
		MERGE (s)-[:ABOUT_OBJECT]->(obj)`,
		map[string]any{"stmtID": stmtID, "subjID": subjectConceptID, "objID": objectConceptID})
	if err != nil {
		return fmt.Errorf("neo4j: link subject/object: %w", err)
	}
	return nil
}

func (s *Store) LinkDerivedFrom(ctx context.Context, stmtID, fromID string) error {
	_, err := s.write(ctx, `
		MATCH (s:Statement {id: $stmtID})
		MATCH (n) WHERE n.id = $fromID
		MERGE (s)-[:DERIVED_FROM]->(n)`,
		map[string]any{"stmtID": stmtID, "fromID": fromID})
	if err != nil {
		return fmt.Errorf("neo4j: link derived_from: %w", err)
	}
	return nil
}

func (s *Store) LinkSupersedes(ctx context.Context, newStmtID, oldID string) error {
	_, err := s.write(ctx, `
		MATCH (new:Statement {id: $newID})
		MATCH (old) WHERE old.id = $oldID
		MERGE (new)-[:SUPERSEDES]->(old)`,
		map[string]any{"newID": newStmtID, "oldID": oldID})
	if err != nil {
		return fmt.Errorf("neo4j: link supersedes: %w", err)
	}
	return nil
}

func (s *Store) FlagContradiction(ctx context.Context, id1, id2, reason string) error {
	_, err := s.write(ctx, `
		MATCH (s1:Statement {id: $id1}), (s2:Statement {id: $id2})
		MERGE (s1)-[c:CONTRADICTS]->(s2)
		SET c.reason = $reason`,
		map[string]any{"id1": id1, "id2": id2, "reason": reason})
	if err != nil {
		return fmt.Errorf("neo4j: flag contradiction: %w", err)
	}
	return nil
}

func (s *Store) RecentObservations(ctx context.Context, limit int) ([]memapi.Observation, error) {
	result, err := s.write(ctx, `
		MATCH (o:Observation)
		OPTIONAL MATCH (o)-[:RECORDED_BY]->(src:Source)
		RETURN o.id AS id, o.raw_content AS raw_content, o.created_at AS created_at, src.name AS source_name
		ORDER BY o.created_at DESC LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: recent observations: %w", err)
	}
	out := make([]memapi.Observation, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _ := neo4j.GetProperty[string](rec, "id")
		raw, _ := neo4j.GetProperty[string](rec, "raw_content")
		sourceName, _ := neo4j.GetProperty[string](rec, "source_name")
		out = append(out, memapi.Observation{ID: id, RawContent: raw, SourceName: sourceName, CreatedAt: recordTime(rec)})
	}
	return out, nil
}

func (s *Store) RecentStatements(ctx context.Context, limit int) ([]memapi.Statement, error) {
	result, err := s.write(ctx, `
		MATCH (s:Statement)
		RETURN s.id AS id, s.predicate AS predicate, s.confidence AS confidence, s.negated AS negated,
		       s.created_at AS created_at, s.subject_name AS subject_name, s.object_name AS object_name,
		       s.asserted_by AS asserted_by
		ORDER BY s.created_at DESC LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: recent statements: %w", err)
	}
	out := make([]memapi.Statement, 0, len(result.Records))
	for _, rec := range result.Records {
		out = append(out, statementFromRecord(rec))
	}
	return out, nil
}

func statementFromRecord(rec *neo4j.Record) memapi.Statement {
	id, _ := neo4j.GetProperty[string](rec, "id")
	predicate, _ := neo4j.GetProperty[string](rec, "predicate")
	confidence, _ := neo4j.GetProperty[float64](rec, "confidence")
	negated, _ := neo4j.GetProperty[bool](rec, "negated")
	subjectName, _ := neo4j.GetProperty[string](rec, "subject_name")
	objectName, _ := neo4j.GetProperty[string](rec, "object_name")
	assertedBy, _ := neo4j.GetProperty[string](rec, "asserted_by")
	return memapi.Statement{
		ID: id, Predicate: predicate, Confidence: confidence, Negated: negated,
		CreatedAt: recordTime(rec), SubjectName: subjectName, ObjectName: objectName, AssertedBy: assertedBy,
	}
}

func recordTime(rec *neo4j.Record) time.Time {
	if v, ok := rec.Get("created_at"); ok {
		if dt, ok := v.(time.Time); ok {
			return dt
		}
	}
	return time.Time{}
}

func (s *Store) RecentTextRefs(ctx context.Context, limit int) ([]memsvc.TextRef, error) {
	result, err := s.write(ctx, `
		MATCH (n) WHERE n:Observation OR n:Statement
		WITH n, coalesce(n.raw_content, n.subject_name + ' ' + n.predicate + ' ' + n.object_name) AS text
		RETURN n.id AS id, text AS text, n.created_at AS created_at
		ORDER BY n.created_at DESC LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("neo4j: recent text refs: %w", err)
	}
	out := make([]memsvc.TextRef, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _ := neo4j.GetProperty[string](rec, "id")
		text, _ := neo4j.GetProperty[string](rec, "text")
		out = append(out, memsvc.TextRef{ID: id, Text: text, CreatedAt: recordTime(rec)})
	}
	return out, nil
}

// UnresolvedContradictions joins CONTRADICTS with the "current" filter
// (no incoming SUPERSEDES) on both endpoints.
func (s *Store) UnresolvedContradictions(ctx context.Context) ([]memapi.Contradiction, error) {
	result, err := s.write(ctx, `
		MATCH (s1:Statement)-[c:CONTRADICTS]->(s2:Statement)
		WHERE NOT ( ()-[:SUPERSEDES]->(s1) ) AND NOT ( ()-[:SUPERSEDES]->(s2) )
		RETURN s1.id AS id1, s2.id AS id2, c.reason AS reason`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j: unresolved contradictions: %w", err)
	}
	out := make([]memapi.Contradiction, 0, len(result.Records))
	for _, rec := range result.Records {
		id1, _ := neo4j.GetProperty[string](rec, "id1")
		id2, _ := neo4j.GetProperty[string](rec, "id2")
		reason, _ := neo4j.GetProperty[string](rec, "reason")
		out = append(out, memapi.Contradiction{StatementID1: id1, StatementID2: id2, Reason: reason})
	}
	return out, nil
}

func (s *Store) Concepts(ctx context.Context) ([]memapi.Concept, error) {
	result, err := s.write(ctx, `
		MATCH (c:Concept)
		RETURN c.id AS id, c.display_name AS name, c.kind AS kind, c.created_at AS created_at
		ORDER BY c.created_at DESC`, nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j: concepts: %w", err)
	}
	out := make([]memapi.Concept, 0, len(result.Records))
	for _, rec := range result.Records {
		c, err := conceptFromRecord(rec)
		if err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// RawQuery is the escape hatch remember() uses to run the Cypher query the
// LLM produced; remember() falls back to recency reads when it fails or
// returns no rows.
func (s *Store) RawQuery(ctx context.Context, query string) ([]map[string]any, error) {
	result, err := s.write(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j: raw query: %w", err)
	}
	out := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = rec.Values[i]
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.write(ctx, `MATCH (n) DETACH DELETE n`, nil)
	if err != nil {
		return fmt.Errorf("neo4j: clear: %w", err)
	}
	return nil
}
