package p2p

import (
	"math/rand"
	"time"
)

// GossipInterval is how often a node pushes its known-peer view to a random
// subset of its stream neighbors (confirmed against the original source's
// gossip loop cadence).
const GossipInterval = 5 // seconds

// GossipFanout caps how many neighbors receive each gossip push.
const GossipFanout = 3

// buildGossipPayload packs every known peer (including self) into the
// payload shape a "gossip" envelope carries on the wire.
func buildGossipPayload(self PeerState, known []PeerState) map[string]any {
	entries := make([]any, 0, len(known)+1)
	entries = append(entries, self.ToWire())
	for _, ps := range known {
		entries = append(entries, ps.ToWire())
	}
	return map[string]any{"peers": entries}
}

// pickGossipTargets chooses up to GossipFanout node ids at random from the
// union of currently connected stream neighbors.
func pickGossipTargets(neighborIDs []string) []string {
	if len(neighborIDs) <= GossipFanout {
		return neighborIDs
	}
	shuffled := make([]string, len(neighborIDs))
	copy(shuffled, neighborIDs)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:GossipFanout]
}

// mergeGossipPeers applies every peer entry in a gossip payload to the
// routing table and returns the node ids that were genuinely new or
// advanced; callers pass them to connectNeighbors as stream candidates.
func mergeGossipPeers(rt *RoutingTable, payload map[string]any, selfID string) []string {
	raw, _ := payload["peers"].([]any)
	var changed []string
	for _, entryAny := range raw {
		entry, ok := entryAny.(map[string]any)
		if !ok {
			continue
		}
		ps, err := PeerStateFromWire(entry)
		if err != nil || ps.Info.NodeID == "" || ps.Info.NodeID == selfID {
			continue
		}
		// Never trust the sender's clock: last_seen reflects when we
		// received this evidence, not when the advertising peer last
		// saw it (spec §4.3).
		ps.LastSeen = time.Now().UTC()
		if rt.UpdatePeer(ps) {
			changed = append(changed, ps.Info.NodeID)
		}
	}
	return changed
}
