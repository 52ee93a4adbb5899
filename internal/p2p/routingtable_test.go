package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func samplePeer(nodeID string, caps CapabilitySet, seq uint64) PeerState {
	return PeerState{
		Info: PeerInfo{
			NodeID:       nodeID,
			Capabilities: caps,
			HTTPURL:      "http://" + nodeID + ":7420",
			StreamURL:    "ws://" + nodeID + ":7420/p2p/stream",
			StartedAt:    time.Now().UTC(),
			Version:      "0.1.0",
		},
		Status:       StatusAlive,
		LastSeen:     time.Now().UTC(),
		HeartbeatSeq: seq,
	}
}

func TestRoutingTableHighestHeartbeatSeqWins(t *testing.T) {
	rt := NewRoutingTable()

	changed := rt.UpdatePeer(samplePeer("node-a", NewCapabilitySet(CapStore), 5))
	require.True(t, changed, "first insert of a peer must report changed")

	// A stale update (lower heartbeat_seq) must not overwrite the stored
	// peer's capabilities.
	stale := samplePeer("node-a", NewCapabilitySet(), 2)
	changed = rt.UpdatePeer(stale)
	require.False(t, changed)

	ps, ok := rt.Get("node-a")
	require.True(t, ok)
	require.True(t, ps.Info.Has(CapStore), "stale update must not clobber capabilities")
	require.Equal(t, uint64(5), ps.HeartbeatSeq)

	// A fresher update (higher heartbeat_seq) must win.
	fresher := samplePeer("node-a", NewCapabilitySet(CapStore, CapLLM), 9)
	changed = rt.UpdatePeer(fresher)
	require.True(t, changed)

	ps, ok = rt.Get("node-a")
	require.True(t, ok)
	require.True(t, ps.Info.Has(CapLLM))
	require.Equal(t, uint64(9), ps.HeartbeatSeq)
}

func TestRoutingTableRouteMethodRequiresCapabilitySuperset(t *testing.T) {
	rt := NewRoutingTable()
	rt.UpdatePeer(samplePeer("node-store-only", NewCapabilitySet(CapStore), 1))
	rt.UpdatePeer(samplePeer("node-store-llm", NewCapabilitySet(CapStore, CapLLM), 1))

	// "observe" requires both store and llm — only node-store-llm qualifies.
	for i := 0; i < 10; i++ {
		peer, ok := rt.RouteMethod("observe", "self")
		require.True(t, ok)
		require.Equal(t, "node-store-llm", peer.Info.NodeID)
	}

	// "get_recent_observations" only requires store — either peer qualifies.
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		peer, ok := rt.RouteMethod("get_recent_observations", "self")
		require.True(t, ok)
		seen[peer.Info.NodeID] = true
	}
	require.Len(t, seen, 2)
}

func TestRoutingTableRouteMethodExcludesSelf(t *testing.T) {
	rt := NewRoutingTable()
	rt.UpdatePeer(samplePeer("node-a", NewCapabilitySet(CapStore), 1))

	_, ok := rt.RouteMethod("get_recent_observations", "node-a")
	require.False(t, ok, "the only capable peer is excluded, so no route exists")
}

func TestRoutingTableRouteMethodSkipsDeadPeers(t *testing.T) {
	rt := NewRoutingTable()
	rt.UpdatePeer(samplePeer("node-a", NewCapabilitySet(CapStore), 1))
	rt.SetStatus("node-a", StatusDead)

	_, ok := rt.RouteMethod("get_recent_observations", "self")
	require.False(t, ok)
}

func TestRoutingTableRemovePeerIsIdempotent(t *testing.T) {
	rt := NewRoutingTable()
	rt.UpdatePeer(samplePeer("node-a", NewCapabilitySet(CapStore), 1))
	require.Equal(t, 1, rt.PeerCount())

	rt.RemovePeer("node-a")
	require.Equal(t, 0, rt.PeerCount())

	// Removing again must not panic or error.
	rt.RemovePeer("node-a")
	require.Equal(t, 0, rt.PeerCount())
}

func TestRoutingTableOverrideSurvivesGossipedURL(t *testing.T) {
	rt := NewRoutingTable()
	rt.SetOverride("node-a", "http://reachable:7420", "ws://reachable:7420/p2p/stream")

	// Even though the gossiped peer claims a container-internal hostname,
	// the locally seeded override must win once applied.
	gossiped := samplePeer("node-a", NewCapabilitySet(CapStore), 1)
	gossiped.Info.HTTPURL = "http://internal-hostname:7420"
	rt.UpdatePeer(gossiped)

	ps, ok := rt.Get("node-a")
	require.True(t, ok)
	require.Equal(t, "http://reachable:7420", ps.Info.HTTPURL)
}

func TestCapabilitySetSuperset(t *testing.T) {
	s := NewCapabilitySet(CapStore, CapLLM, CapCLI)
	require.True(t, s.Superset(NewCapabilitySet(CapStore)))
	require.True(t, s.Superset(NewCapabilitySet(CapStore, CapLLM)))
	require.False(t, s.Superset(NewCapabilitySet(CapInference)))
}
