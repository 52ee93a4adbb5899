// Package p2p implements the peer-to-peer overlay: node identity, the
// routing table, gossip dissemination, transport, and the per-node runtime
// that dispatches envelopes and floods events.
package p2p

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capability names a service a node offers to the overlay.
type Capability string

const (
	CapStore      Capability = "store"
	CapLLM        Capability = "llm"
	CapInference  Capability = "inference"
	CapValidation Capability = "validation"
	CapCLI        Capability = "cli"
)

// CapabilitySet is a small set type over Capability, used throughout the
// routing table and wire payloads. Serialised as a sorted string slice for
// deterministic hashing and stable JSON output.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from a variadic list.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Superset reports whether s contains every capability in required.
func (s CapabilitySet) Superset(required CapabilitySet) bool {
	for c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Sorted returns the capabilities in deterministic (lexical) order.
func (s CapabilitySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Diff returns the number of capabilities in other that are not in s —
// used by neighbor selection to prefer peers with complementary coverage.
func (s CapabilitySet) Diff(other CapabilitySet) int {
	n := 0
	for c := range other {
		if !s.Has(c) {
			n++
		}
	}
	return n
}

// MarshalJSON-equivalent helper: capabilities as a sorted slice, since
// map[Capability]struct{} does not marshal the way the wire format wants.
// PeerInfo/PeerState hold a CapabilitySet; their wire shapes
// (peerInfoWire in envelope.go) carry the sorted []string instead.

// PeerInfo is the immutable identity of a node, gossiped verbatim.
type PeerInfo struct {
	NodeID       string
	Capabilities CapabilitySet
	HTTPURL      string
	StreamURL    string
	StartedAt    time.Time
	Version      string
}

// Equal reports whether two PeerInfo values have identical fields.
func (p PeerInfo) Equal(o PeerInfo) bool {
	if p.NodeID != o.NodeID || p.HTTPURL != o.HTTPURL || p.StreamURL != o.StreamURL ||
		!p.StartedAt.Equal(o.StartedAt) || p.Version != o.Version {
		return false
	}
	if len(p.Capabilities) != len(o.Capabilities) {
		return false
	}
	for c := range p.Capabilities {
		if !o.Has(c) {
			return false
		}
	}
	return true
}

// Has reports whether the peer advertises capability c.
func (p PeerInfo) Has(c Capability) bool { return p.Capabilities.Has(c) }

// Status values for PeerState.
type Status string

const (
	StatusAlive   Status = "alive"
	StatusSuspect Status = "suspect"
	StatusDead    Status = "dead"
)

// PeerState is the mutable, locally maintained view of a known peer.
type PeerState struct {
	Info         PeerInfo
	Status       Status
	LastSeen     time.Time
	HeartbeatSeq uint64
	Metadata     map[string]any
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// routing table's lock (Metadata is copied shallowly, matching how the
// original source treats it as write-once diagnostic data).
func (ps PeerState) Clone() PeerState {
	md := make(map[string]any, len(ps.Metadata))
	for k, v := range ps.Metadata {
		md[k] = v
	}
	caps := make(CapabilitySet, len(ps.Info.Capabilities))
	for c := range ps.Info.Capabilities {
		caps[c] = struct{}{}
	}
	ps.Info.Capabilities = caps
	ps.Metadata = md
	return ps
}

// GenerateNodeID returns a short, stable-looking node identifier.
func GenerateNodeID() string {
	return "node-" + uuid.NewString()[:8]
}

// NewMsgID returns a unique envelope id.
func NewMsgID() string {
	return uuid.NewString()
}

// urlOverride is a local-only remap of a peer's self-reported URLs, seeded
// at bootstrap time (see RoutingTable.SetOverride) so gossip bearing a
// container-internal hostname never clobbers the address we actually used
// to reach that peer.
type urlOverride struct {
	httpURL   string
	streamURL string
}

// overrideTable is a small synchronized map; kept separate from
// RoutingTable's main lock since overrides are written rarely (bootstrap)
// and read on every update_peer.
type overrideTable struct {
	mu   sync.RWMutex
	data map[string]urlOverride
}

func newOverrideTable() *overrideTable {
	return &overrideTable{data: make(map[string]urlOverride)}
}

func (t *overrideTable) set(nodeID, httpURL, streamURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[nodeID] = urlOverride{httpURL: httpURL, streamURL: streamURL}
}

func (t *overrideTable) apply(info *PeerInfo) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if o, ok := t.data[info.NodeID]; ok {
		info.HTTPURL = o.httpURL
		info.StreamURL = o.streamURL
	}
}

func fmtAdvertiseURL(scheme, host string, port int, path string) string {
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, port, path)
}
