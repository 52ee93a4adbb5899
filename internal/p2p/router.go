package p2p

import (
	"context"
	"fmt"

	"memory-mesh/internal/memapi"
)

// Router is the memory-API router (spec §4.6): for every call it decides
// whether the local node is capable of serving it, and if not, asks the
// routing table for a capable peer and proxies the call as an RPC.
type Router struct {
	selfID    string
	caps      CapabilitySet
	routing   *RoutingTable
	transport *Transport
	local     memapi.MemoryAPI
	emit      func(EventType, map[string]any)
}

// NewRouter builds a Router. emit is called after a successful local
// mutating call so the node can flood the corresponding event.
func NewRouter(selfID string, caps CapabilitySet, routing *RoutingTable, transport *Transport, local memapi.MemoryAPI, emit func(EventType, map[string]any)) *Router {
	return &Router{
		selfID:    selfID,
		caps:      caps,
		routing:   routing,
		transport: transport,
		local:     local,
		emit:      emit,
	}
}

// Call executes method with args, locally if this node is capable, or via
// RPC to a capable peer otherwise.
func (r *Router) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	required, known := MethodCapabilities[method]
	if !known {
		return nil, fmt.Errorf("unknown method %q", method)
	}

	if r.caps.Superset(required) && r.local != nil {
		return r.callLocal(method, args)
	}

	peer, ok := r.routing.RouteMethod(method, r.selfID)
	if !ok {
		return nil, fmt.Errorf("no capable peer for method %q", method)
	}

	return r.callRemote(ctx, peer, method, args)
}

func (r *Router) callLocal(method string, args map[string]any) (any, error) {
	result, err := dispatchLocal(r.local, method, args)
	if err != nil {
		return nil, err
	}

	switch method {
	case "observe":
		r.emit(EventObserve, map[string]any{"id": result, "source": argString(args, "source"), "text": argString(args, "text")})
	case "claim":
		r.emit(EventClaim, map[string]any{"id": result, "source": argString(args, "source"), "text": argString(args, "text")})
	case "flag_contradiction":
		r.emit(EventFlagContradiction, map[string]any{
			"id1": argString(args, "id1"), "id2": argString(args, "id2"), "reason": argString(args, "reason"),
		})
	}
	return result, nil
}

// callLocalOnly serves an inbound request envelope: unlike Call, it never
// re-routes, since the peer that sent us this request already chose us as
// a capable node. It still refuses methods we're not equipped for, in case
// the caller's view of our capabilities is stale.
func (r *Router) callLocalOnly(method string, args map[string]any) (any, error) {
	required, known := MethodCapabilities[method]
	if !known {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	if r.local == nil || !r.caps.Superset(required) {
		return nil, fmt.Errorf("node lacks required capability for %q", method)
	}
	return r.callLocal(method, args)
}

func (r *Router) callRemote(ctx context.Context, peer PeerState, method string, args map[string]any) (any, error) {
	env := NewEnvelope(MsgRequest, r.selfID)
	env.Payload = map[string]any{"method": method, "args": args}

	timeout := RPCTimeout
	if required := MethodCapabilities[method]; required.Has(CapLLM) {
		timeout = LLMTimeout
	}

	resp, err := r.transport.HTTPPost(ctx, peer.Info.HTTPURL+"/p2p/message", envelopeToWire(env), timeout)
	if err != nil {
		return nil, fmt.Errorf("no capable peer reachable: %w", err)
	}

	msgType, _ := resp["msg_type"].(string)
	if msgType != string(MsgResponse) {
		return nil, fmt.Errorf("protocol error: expected response, got %q", msgType)
	}
	payload, _ := resp["payload"].(map[string]any)
	if errStr, ok := payload["error"].(string); ok && errStr != "" {
		return nil, fmt.Errorf("%s", errStr)
	}
	return payload["result"], nil
}

// AsMemoryAPI adapts Router onto memapi.MemoryAPI, so agents (which only
// know about the uniform memory contract, not about local-vs-RPC
// routing) can call observe/claim/remember/infer exactly like an
// in-process memsvc.Service would.
func (r *Router) AsMemoryAPI() memapi.MemoryAPI { return routerMemoryAPI{r} }

type routerMemoryAPI struct{ r *Router }

func (m routerMemoryAPI) call(method string, args map[string]any) (any, error) {
	timeout := RPCTimeout
	if required := MethodCapabilities[method]; required.Has(CapLLM) {
		timeout = LLMTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.r.Call(ctx, method, args)
}

func (m routerMemoryAPI) Observe(text, source string) (string, error) {
	res, err := m.call("observe", map[string]any{"text": text, "source": source})
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (m routerMemoryAPI) Claim(text, source string) (string, error) {
	res, err := m.call("claim", map[string]any{"text": text, "source": source})
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (m routerMemoryAPI) Remember(query string) (string, error) {
	res, err := m.call("remember", map[string]any{"query": query})
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (m routerMemoryAPI) Infer(observationText string) (string, error) {
	res, err := m.call("infer", map[string]any{"observation_text": observationText})
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (m routerMemoryAPI) FlagContradiction(id1, id2, reason string) error {
	_, err := m.call("flag_contradiction", map[string]any{"id1": id1, "id2": id2, "reason": reason})
	return err
}

func (m routerMemoryAPI) GetRecentObservations(limit int) ([]memapi.Observation, error) {
	res, err := m.call("get_recent_observations", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return coerceObservations(res), nil
}

func (m routerMemoryAPI) GetRecentStatements(limit int) ([]memapi.Statement, error) {
	res, err := m.call("get_recent_statements", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return coerceStatements(res), nil
}

func (m routerMemoryAPI) GetUnresolvedContradictions() ([]memapi.Contradiction, error) {
	res, err := m.call("get_unresolved_contradictions", nil)
	if err != nil {
		return nil, err
	}
	out, _ := res.([]memapi.Contradiction)
	return out, nil
}

func (m routerMemoryAPI) GetConcepts() ([]memapi.Concept, error) {
	res, err := m.call("get_concepts", nil)
	if err != nil {
		return nil, err
	}
	out, _ := res.([]memapi.Concept)
	return out, nil
}

func (m routerMemoryAPI) GetSchema() (map[string]any, error) {
	res, err := m.call("get_schema", nil)
	if err != nil {
		return nil, err
	}
	out, _ := res.(map[string]any)
	return out, nil
}

func (m routerMemoryAPI) UpdateSchema(changes map[string]any, source string) (map[string]any, error) {
	res, err := m.call("update_schema", map[string]any{"changes": changes, "source": source})
	if err != nil {
		return nil, err
	}
	out, _ := res.(map[string]any)
	return out, nil
}

func (m routerMemoryAPI) Clear() error {
	_, err := m.call("clear", nil)
	return err
}

// coerceObservations/coerceStatements handle the two shapes a result can
// arrive in: a native []memapi.Observation (local call) or a
// []any-of-map[string]any (decoded from a remote JSON response).
func coerceObservations(res any) []memapi.Observation {
	if native, ok := res.([]memapi.Observation); ok {
		return native
	}
	raw, ok := res.([]any)
	if !ok {
		return nil
	}
	out := make([]memapi.Observation, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, memapi.Observation{
			ID:         argString(m, "id"),
			RawContent: argString(m, "raw_content"),
			SourceName: argString(m, "source_name"),
		})
	}
	return out
}

func coerceStatements(res any) []memapi.Statement {
	if native, ok := res.([]memapi.Statement); ok {
		return native
	}
	raw, ok := res.([]any)
	if !ok {
		return nil
	}
	out := make([]memapi.Statement, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, memapi.Statement{
			ID:          argString(m, "id"),
			Predicate:   argString(m, "predicate"),
			SubjectName: argString(m, "subject_name"),
			ObjectName:  argString(m, "object_name"),
			AssertedBy:  argString(m, "asserted_by"),
		})
	}
	return out
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// dispatchLocal maps a method name + generic args onto the local
// MemoryAPI's typed methods. This plays the role of Python's
// getattr(memory, method)(**args) in a statically typed language.
func dispatchLocal(m memapi.MemoryAPI, method string, args map[string]any) (any, error) {
	switch method {
	case "observe":
		return m.Observe(argString(args, "text"), argString(args, "source"))
	case "claim":
		return m.Claim(argString(args, "text"), argString(args, "source"))
	case "remember":
		return m.Remember(argString(args, "query"))
	case "infer":
		return m.Infer(argString(args, "observation_text"))
	case "flag_contradiction":
		return nil, m.FlagContradiction(argString(args, "id1"), argString(args, "id2"), argString(args, "reason"))
	case "get_recent_observations":
		return m.GetRecentObservations(argInt(args, "limit", 10))
	case "get_recent_statements":
		return m.GetRecentStatements(argInt(args, "limit", 20))
	case "get_unresolved_contradictions":
		return m.GetUnresolvedContradictions()
	case "get_concepts":
		return m.GetConcepts()
	case "get_schema":
		return m.GetSchema()
	case "update_schema":
		changes, _ := args["changes"].(map[string]any)
		return m.UpdateSchema(changes, argString(args, "source"))
	case "clear":
		return nil, m.Clear()
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

// envelopeToWire converts an Envelope to its JSON-compatible map form.
func envelopeToWire(e Envelope) map[string]any {
	return map[string]any{
		"msg_type":     string(e.MsgType),
		"msg_id":       e.MsgID,
		"sender_id":    e.SenderID,
		"recipient_id": e.RecipientID,
		"timestamp":    e.Timestamp.UnixNano(),
		"ttl":          e.TTL,
		"reply_to":     e.ReplyTo,
		"payload":      e.Payload,
	}
}

// envelopeFromWire converts a JSON-compatible map back to an Envelope.
func envelopeFromWire(m map[string]any) Envelope {
	var e Envelope
	if s, ok := m["msg_type"].(string); ok {
		e.MsgType = MsgType(s)
	}
	e.MsgID, _ = m["msg_id"].(string)
	e.SenderID, _ = m["sender_id"].(string)
	e.RecipientID, _ = m["recipient_id"].(string)
	e.ReplyTo, _ = m["reply_to"].(string)
	e.TTL = argInt(m, "ttl", 0)
	e.Payload, _ = m["payload"].(map[string]any)
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e
}
