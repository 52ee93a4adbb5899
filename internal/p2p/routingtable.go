package p2p

import (
	"math/rand"
	"sync"
)

// MethodCapabilities is the compile-time method -> required-capability-set
// table. It is part of the wire contract (spec §4.1/§6): both caller and
// callee consult the same table when deciding whether a call can run
// locally or must be routed.
var MethodCapabilities = map[string]CapabilitySet{
	"observe":                        NewCapabilitySet(CapStore, CapLLM),
	"claim":                          NewCapabilitySet(CapStore, CapLLM),
	"remember":                       NewCapabilitySet(CapStore, CapLLM),
	"infer":                          NewCapabilitySet(CapLLM),
	"flag_contradiction":             NewCapabilitySet(CapStore),
	"get_recent_observations":        NewCapabilitySet(CapStore),
	"get_recent_statements":          NewCapabilitySet(CapStore),
	"get_unresolved_contradictions":  NewCapabilitySet(CapStore),
	"get_concepts":                   NewCapabilitySet(CapStore),
	"clear":                          NewCapabilitySet(CapStore),
	"get_schema":                     NewCapabilitySet(CapStore),
	"update_schema":                  NewCapabilitySet(CapStore),
}

// RoutingTable maps node_id to PeerState. Writers are envelope dispatch
// (join, ping and leave handling), the gossip-receive path, bootstrap
// (overrides) and the health-check loop (status changes, touches and
// removals); readers are the memory-API router, the gossip sender, and the
// health-check loop. A single RWMutex makes every operation here atomic
// with respect to those concurrent callers.
type RoutingTable struct {
	mu        sync.RWMutex
	peers     map[string]*PeerState
	overrides *overrideTable
}

// NewRoutingTable returns an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		peers:     make(map[string]*PeerState),
		overrides: newOverrideTable(),
	}
}

// SetOverride records a reachability override for node_id, seeded at
// bootstrap when a peer's self-reported URL isn't usable from here (e.g.
// a container-internal hostname). Re-applied after every UpdatePeer.
func (rt *RoutingTable) SetOverride(nodeID, httpURL, streamURL string) {
	rt.overrides.set(nodeID, httpURL, streamURL)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if ps, ok := rt.peers[nodeID]; ok {
		rt.overrides.apply(&ps.Info)
	}
}

// UpdatePeer inserts or refreshes a peer's state. Returns true iff stored
// state actually changed (new peer or a higher heartbeat_seq), so gossip
// forwarding can choose to only re-announce genuinely new information.
func (rt *RoutingTable) UpdatePeer(ps PeerState) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	existing, ok := rt.peers[ps.Info.NodeID]
	if !ok {
		clone := ps.Clone()
		rt.overrides.apply(&clone.Info)
		rt.peers[ps.Info.NodeID] = &clone
		return true
	}

	if ps.HeartbeatSeq > existing.HeartbeatSeq {
		clone := ps.Clone()
		rt.overrides.apply(&clone.Info)
		rt.peers[ps.Info.NodeID] = &clone
		return true
	}

	// Sequence hasn't advanced, but fresher evidence of liveness still
	// matters for the health checker.
	if ps.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = ps.LastSeen
		existing.Status = StatusAlive
	}
	return false
}

// RemovePeer deletes a peer; idempotent.
func (rt *RoutingTable) RemovePeer(nodeID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.peers, nodeID)
}

// FindPeersWithCapability returns all alive peers holding cap, excluding
// exclude.
func (rt *RoutingTable) FindPeersWithCapability(cap Capability, exclude string) []PeerState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var out []PeerState
	for _, ps := range rt.peers {
		if ps.Status == StatusAlive && ps.Info.Has(cap) && ps.Info.NodeID != exclude {
			out = append(out, ps.Clone())
		}
	}
	return out
}

// RouteMethod resolves method to its required capability set and picks one
// alive peer whose capabilities are a superset, uniformly at random.
// Returns (PeerState{}, false) if no candidate exists.
func (rt *RoutingTable) RouteMethod(method, exclude string) (PeerState, bool) {
	required := MethodCapabilities[method]

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var candidates []*PeerState
	for _, ps := range rt.peers {
		if ps.Status == StatusAlive && ps.Info.NodeID != exclude && ps.Info.Capabilities.Superset(required) {
			candidates = append(candidates, ps)
		}
	}
	if len(candidates) == 0 {
		return PeerState{}, false
	}
	return candidates[rand.Intn(len(candidates))].Clone(), true
}

// AlivePeers returns all alive peers, excluding exclude.
func (rt *RoutingTable) AlivePeers(exclude string) []PeerState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var out []PeerState
	for _, ps := range rt.peers {
		if ps.Status == StatusAlive && ps.Info.NodeID != exclude {
			out = append(out, ps.Clone())
		}
	}
	return out
}

// AllPeers returns every known peer regardless of status.
func (rt *RoutingTable) AllPeers() []PeerState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]PeerState, 0, len(rt.peers))
	for _, ps := range rt.peers {
		out = append(out, ps.Clone())
	}
	return out
}

// Get returns a single peer's state by id.
func (rt *RoutingTable) Get(nodeID string) (PeerState, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ps, ok := rt.peers[nodeID]
	if !ok {
		return PeerState{}, false
	}
	return ps.Clone(), true
}

// SetStatus updates a peer's status in place (used by the health checker).
func (rt *RoutingTable) SetStatus(nodeID string, status Status) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if ps, ok := rt.peers[nodeID]; ok {
		ps.Status = status
	}
}

// Touch refreshes last_seen and restores alive status (used after a
// successful liveness probe of a suspect peer).
func (rt *RoutingTable) Touch(nodeID string, when PeerState) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if ps, ok := rt.peers[nodeID]; ok {
		ps.Status = StatusAlive
		ps.LastSeen = when.LastSeen
	}
}

// PeerCount returns the number of known peers.
func (rt *RoutingTable) PeerCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.peers)
}
