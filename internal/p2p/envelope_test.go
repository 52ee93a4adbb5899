package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeerInfoWireRoundTrip(t *testing.T) {
	original := PeerInfo{
		NodeID:       "node-abc123",
		Capabilities: NewCapabilitySet(CapStore, CapLLM, CapValidation),
		HTTPURL:      "http://node-a:7420",
		StreamURL:    "ws://node-a:7420/p2p/stream",
		StartedAt:    time.Now().UTC().Truncate(time.Nanosecond),
		Version:      "0.1.0",
	}

	restored, err := PeerInfoFromWire(original.ToWire())
	require.NoError(t, err)
	require.True(t, original.Equal(restored), "round trip must preserve every field")
}

func TestPeerInfoFromWireRequiresNodeID(t *testing.T) {
	_, err := PeerInfoFromWire(map[string]any{"http_url": "http://x"})
	require.Error(t, err)
}

func TestPeerStateWireRoundTrip(t *testing.T) {
	original := PeerState{
		Info: PeerInfo{
			NodeID:       "node-xyz",
			Capabilities: NewCapabilitySet(CapStore),
			HTTPURL:      "http://node-xyz:7420",
			StreamURL:    "ws://node-xyz:7420/p2p/stream",
			StartedAt:    time.Now().UTC(),
			Version:      "0.1.0",
		},
		Status:       StatusSuspect,
		LastSeen:     time.Now().UTC(),
		HeartbeatSeq: 42,
		Metadata:     map[string]any{"region": "us-east"},
	}

	restored, err := PeerStateFromWire(original.ToWire())
	require.NoError(t, err)
	require.True(t, original.Info.Equal(restored.Info))
	require.Equal(t, original.Status, restored.Status)
	require.Equal(t, original.HeartbeatSeq, restored.HeartbeatSeq)
	require.WithinDuration(t, original.LastSeen, restored.LastSeen, time.Microsecond)
}

// Decoding JSON through encoding/json turns every number into float64;
// PeerStateFromWire must tolerate that shape as well as the native int64
// values an in-process caller would pass.
func TestPeerStateFromWireToleratesFloat64Numbers(t *testing.T) {
	wire := map[string]any{
		"info": map[string]any{
			"node_id":      "node-a",
			"capabilities": []any{"store"},
			"http_url":     "http://node-a:7420",
			"stream_url":   "ws://node-a:7420/p2p/stream",
			"started_at":   float64(1700000000000000000),
			"version":      "0.1.0",
		},
		"status":        "alive",
		"last_seen":     float64(1700000001000000000),
		"heartbeat_seq": float64(7),
	}

	ps, err := PeerStateFromWire(wire)
	require.NoError(t, err)
	require.Equal(t, uint64(7), ps.HeartbeatSeq)
	require.Equal(t, StatusAlive, ps.Status)
	require.True(t, ps.Info.Has(CapStore))
}

func TestNewEnvelopeDefaults(t *testing.T) {
	env := NewEnvelope(MsgJoin, "node-a")
	require.Equal(t, MsgJoin, env.MsgType)
	require.Equal(t, "node-a", env.SenderID)
	require.NotEmpty(t, env.MsgID)
	require.NotNil(t, env.Payload)
	require.False(t, env.Timestamp.IsZero())
}

func TestCapabilitySetDiffCountsMissingOnly(t *testing.T) {
	a := NewCapabilitySet(CapStore)
	b := NewCapabilitySet(CapStore, CapLLM, CapValidation)
	require.Equal(t, 2, a.Diff(b))
	require.Equal(t, 0, b.Diff(a))
}
