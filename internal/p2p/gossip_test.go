package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPickGossipTargetsCapsAtFanout(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	targets := pickGossipTargets(ids)
	require.Len(t, targets, GossipFanout)

	// Every chosen target must come from the original set, with no
	// duplicates.
	seen := map[string]bool{}
	for _, id := range targets {
		require.Contains(t, ids, id)
		require.False(t, seen[id], "duplicate target %q", id)
		seen[id] = true
	}
}

func TestPickGossipTargetsReturnsAllWhenUnderFanout(t *testing.T) {
	ids := []string{"a", "b"}
	require.ElementsMatch(t, ids, pickGossipTargets(ids))
}

func TestMergeGossipPeersSkipsSelfAndMalformedEntries(t *testing.T) {
	rt := NewRoutingTable()
	self := samplePeer("self-node", NewCapabilitySet(CapStore), 1)
	other := samplePeer("node-b", NewCapabilitySet(CapStore), 1)

	payload := buildGossipPayload(self, []PeerState{other})
	// Inject one malformed entry to confirm it's skipped rather than
	// aborting the whole merge.
	payload["peers"] = append(payload["peers"].([]any), "not-a-map")

	changed := mergeGossipPeers(rt, payload, "self-node")
	require.Equal(t, []string{"node-b"}, changed)
	require.Equal(t, 1, rt.PeerCount(), "self must never be inserted into its own routing table")
}

func TestMergeGossipPeersOverwritesLastSeenToReceiveTime(t *testing.T) {
	rt := NewRoutingTable()

	stale := samplePeer("node-b", NewCapabilitySet(CapStore), 1)
	stale.LastSeen = time.Now().UTC().Add(-time.Hour)

	before := time.Now().UTC()
	payload := buildGossipPayload(samplePeer("self-node", NewCapabilitySet(), 1), []PeerState{stale})
	mergeGossipPeers(rt, payload, "self-node")

	stored, ok := rt.Get("node-b")
	require.True(t, ok)
	require.True(t, stored.LastSeen.After(before) || stored.LastSeen.Equal(before),
		"last_seen must be stamped at local receive time, not carried over from the wire")
}

func TestMergeGossipPeersOnlyReportsChangedNodes(t *testing.T) {
	rt := NewRoutingTable()
	other := samplePeer("node-b", NewCapabilitySet(CapStore), 5)
	rt.UpdatePeer(other)

	// Re-gossiping the same (or staler) state must report no changes.
	payload := buildGossipPayload(samplePeer("self-node", NewCapabilitySet(), 1), []PeerState{other})
	changed := mergeGossipPeers(rt, payload, "self-node")
	require.Empty(t, changed)

	// Advancing the heartbeat must be reported as changed.
	advanced := other
	advanced.HeartbeatSeq = 6
	advanced.LastSeen = time.Now().UTC()
	payload = buildGossipPayload(samplePeer("self-node", NewCapabilitySet(), 1), []PeerState{advanced})
	changed = mergeGossipPeers(rt, payload, "self-node")
	require.Equal(t, []string{"node-b"}, changed)
}
