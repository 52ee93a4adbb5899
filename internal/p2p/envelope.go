package p2p

import (
	"fmt"
	"time"
)

// MsgType enumerates every wire message kind the overlay exchanges.
type MsgType string

const (
	MsgJoin     MsgType = "join"
	MsgWelcome  MsgType = "welcome"
	MsgGossip   MsgType = "gossip"
	MsgRequest  MsgType = "request"
	MsgResponse MsgType = "response"
	MsgEvent    MsgType = "event"
	MsgPing     MsgType = "ping"
	MsgPong     MsgType = "pong"
	MsgLeave    MsgType = "leave"
)

// EventType enumerates the event_type values carried by "event" envelopes.
type EventType string

const (
	EventObserve           EventType = "observe"
	EventClaim             EventType = "claim"
	EventFlagContradiction EventType = "flag_contradiction"
	EventSchemaUpdated     EventType = "schema_updated"
)

// Envelope is the wire-format wrapper for every node-to-node message.
// Payload is a loosely typed, JSON-compatible map so every msg_type can
// carry its own shape without a parallel Go type per variant; handlers
// pull typed values out field by field, mirroring how the Python source
// treated the payload as a plain dict.
type Envelope struct {
	MsgType     MsgType        `json:"msg_type"`
	MsgID       string         `json:"msg_id"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	TTL         int            `json:"ttl,omitempty"`
	ReplyTo     string         `json:"reply_to,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a fresh msg_id and the current time,
// the defaults every call site wants unless it has a reason to override
// them (event forwarding keeps the original msg_id and sender_id).
func NewEnvelope(msgType MsgType, senderID string) Envelope {
	return Envelope{
		MsgType:   msgType,
		MsgID:     NewMsgID(),
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{},
	}
}

// peerInfoWire/peerStateWire are the JSON-safe shapes PeerInfo/PeerState
// serialise to. Capabilities go out as a sorted string slice so two
// identical PeerInfo values always hash identically regardless of map
// iteration order.
type peerInfoWire struct {
	NodeID       string   `json:"node_id"`
	Capabilities []string `json:"capabilities"`
	HTTPURL      string   `json:"http_url"`
	StreamURL    string   `json:"stream_url"`
	StartedAt    int64    `json:"started_at"`
	Version      string   `json:"version"`
}

type peerStateWire struct {
	Info         peerInfoWire   `json:"info"`
	Status       string         `json:"status"`
	LastSeen     int64          `json:"last_seen"`
	HeartbeatSeq uint64         `json:"heartbeat_seq"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ToWire converts a PeerInfo into its JSON-compatible form.
func (p PeerInfo) ToWire() map[string]any {
	w := peerInfoWire{
		NodeID:       p.NodeID,
		Capabilities: p.Capabilities.Sorted(),
		HTTPURL:      p.HTTPURL,
		StreamURL:    p.StreamURL,
		StartedAt:    p.StartedAt.UnixNano(),
		Version:      p.Version,
	}
	return map[string]any{
		"node_id":      w.NodeID,
		"capabilities": w.Capabilities,
		"http_url":     w.HTTPURL,
		"stream_url":   w.StreamURL,
		"started_at":   w.StartedAt,
		"version":      w.Version,
	}
}

// PeerInfoFromWire reconstructs a PeerInfo from its JSON-compatible form.
func PeerInfoFromWire(m map[string]any) (PeerInfo, error) {
	nodeID, _ := m["node_id"].(string)
	if nodeID == "" {
		return PeerInfo{}, fmt.Errorf("peer_info missing node_id")
	}
	caps := NewCapabilitySet()
	if raw, ok := m["capabilities"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				caps[Capability(s)] = struct{}{}
			}
		}
	}
	startedAt := time.Time{}
	if ns, ok := asInt64(m["started_at"]); ok {
		startedAt = time.Unix(0, ns).UTC()
	}
	httpURL, _ := m["http_url"].(string)
	streamURL, _ := m["stream_url"].(string)
	version, _ := m["version"].(string)
	return PeerInfo{
		NodeID:       nodeID,
		Capabilities: caps,
		HTTPURL:      httpURL,
		StreamURL:    streamURL,
		StartedAt:    startedAt,
		Version:      version,
	}, nil
}

// ToWire converts a PeerState into its JSON-compatible form.
func (ps PeerState) ToWire() map[string]any {
	return map[string]any{
		"info":          ps.Info.ToWire(),
		"status":        string(ps.Status),
		"last_seen":     ps.LastSeen.UnixNano(),
		"heartbeat_seq": ps.HeartbeatSeq,
		"metadata":      ps.Metadata,
	}
}

// PeerStateFromWire reconstructs a PeerState from its JSON-compatible form.
func PeerStateFromWire(m map[string]any) (PeerState, error) {
	infoRaw, ok := m["info"].(map[string]any)
	if !ok {
		return PeerState{}, fmt.Errorf("peer_state missing info")
	}
	info, err := PeerInfoFromWire(infoRaw)
	if err != nil {
		return PeerState{}, err
	}
	status, _ := m["status"].(string)
	lastSeen := time.Time{}
	if ns, ok := asInt64(m["last_seen"]); ok {
		lastSeen = time.Unix(0, ns).UTC()
	}
	seq, _ := asInt64(m["heartbeat_seq"])
	md, _ := m["metadata"].(map[string]any)
	return PeerState{
		Info:         info,
		Status:       Status(status),
		LastSeen:     lastSeen,
		HeartbeatSeq: uint64(seq),
		Metadata:     md,
	}, nil
}

// asInt64 handles the fact that decoded JSON numbers arrive as float64,
// but values built in-process (tests, same-process calls) may already be
// int64 — numbers go out as JSON numbers and come back as float64, while
// in-memory payloads built by Go code keep their native numeric types.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
