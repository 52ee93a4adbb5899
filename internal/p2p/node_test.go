package p2p

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memory-mesh/internal/memapi"
)

// fakeMemory is a minimal memapi.MemoryAPI stub for exercising the node's
// request dispatch without pulling in memsvc.
type fakeMemory struct {
	observeErr error
}

func (f *fakeMemory) Observe(text, source string) (string, error) {
	if f.observeErr != nil {
		return "", f.observeErr
	}
	return "obs-1", nil
}
func (f *fakeMemory) Claim(text, source string) (string, error)     { return "stmt-1", nil }
func (f *fakeMemory) Remember(query string) (string, error)         { return "answer", nil }
func (f *fakeMemory) Infer(observationText string) (string, error)  { return "", nil }
func (f *fakeMemory) FlagContradiction(id1, id2, reason string) error { return nil }
func (f *fakeMemory) GetRecentObservations(limit int) ([]memapi.Observation, error) {
	return nil, nil
}
func (f *fakeMemory) GetRecentStatements(limit int) ([]memapi.Statement, error) { return nil, nil }
func (f *fakeMemory) GetUnresolvedContradictions() ([]memapi.Contradiction, error) {
	return nil, nil
}
func (f *fakeMemory) GetConcepts() ([]memapi.Concept, error) { return nil, nil }
func (f *fakeMemory) GetSchema() (map[string]any, error)     { return nil, nil }
func (f *fakeMemory) UpdateSchema(changes map[string]any, source string) (map[string]any, error) {
	return nil, nil
}
func (f *fakeMemory) Clear() error { return nil }

func newTestNode(caps CapabilitySet, mem memapi.MemoryAPI) *Node {
	self := PeerInfo{
		NodeID:       GenerateNodeID(),
		Capabilities: caps,
		HTTPURL:      "http://self.invalid",
		StreamURL:    "ws://self.invalid/p2p/stream",
		StartedAt:    time.Now().UTC(),
		Version:      "test",
	}
	return NewNode(self, NodeConfig{}, mem)
}

func TestSeenSetDedup(t *testing.T) {
	s := newSeenSet()
	require.True(t, s.markIfNew("a"))
	require.False(t, s.markIfNew("a"))
	require.True(t, s.markIfNew("b"))
}

func TestSeenSetEvictsOldestWhenFull(t *testing.T) {
	s := newSeenSet()
	for i := 0; i < SeenMsgMax+10; i++ {
		s.markIfNew(fmt.Sprintf("msg-%d", i))
	}
	require.LessOrEqual(t, len(s.order), SeenMsgMax)
	_, oldestKept := s.set["msg-0"]
	require.False(t, oldestKept, "the oldest id must be evicted first")
	_, newestKept := s.set[fmt.Sprintf("msg-%d", SeenMsgMax+9)]
	require.True(t, newestKept, "the newest id must still be present")
}

func TestHandleJoinInstallsPeerAndRepliesWelcome(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapStore, CapLLM), &fakeMemory{})

	joiner := PeerInfo{
		NodeID:       "peer-a",
		Capabilities: NewCapabilitySet(CapCLI),
		HTTPURL:      "http://peer-a",
		StreamURL:    "ws://peer-a/p2p/stream",
		StartedAt:    time.Now().UTC(),
		Version:      "test",
	}
	env := NewEnvelope(MsgJoin, joiner.NodeID)
	env.Payload = map[string]any{"peer_info": joiner.ToWire()}

	reply, ok := n.handleFrame(envelopeToWire(env))
	require.True(t, ok)
	require.Equal(t, string(MsgWelcome), reply["msg_type"])
	require.Equal(t, env.MsgID, reply["reply_to"])

	stored, found := n.routing.Get("peer-a")
	require.True(t, found)
	require.Equal(t, StatusAlive, stored.Status)
}

func TestHandlePingRepliesPongWithReplyTo(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapCLI), &fakeMemory{})
	env := NewEnvelope(MsgPing, "peer-x")

	reply, ok := n.handleFrame(envelopeToWire(env))
	require.True(t, ok)
	require.Equal(t, string(MsgPong), reply["msg_type"])
	require.Equal(t, env.MsgID, reply["reply_to"])
}

func TestHandleRequestMissingCapabilityReturnsError(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapCLI), nil)
	env := NewEnvelope(MsgRequest, "peer-x")
	env.Payload = map[string]any{"method": "observe", "args": map[string]any{"text": "hi", "source": "user"}}

	reply, ok := n.handleFrame(envelopeToWire(env))
	require.True(t, ok)
	payload, _ := reply["payload"].(map[string]any)
	require.NotEmpty(t, payload["error"])
}

func TestHandleRequestSucceedsWhenCapable(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapStore, CapLLM), &fakeMemory{})
	env := NewEnvelope(MsgRequest, "peer-x")
	env.Payload = map[string]any{"method": "observe", "args": map[string]any{"text": "hi", "source": "user"}}

	reply, ok := n.handleFrame(envelopeToWire(env))
	require.True(t, ok)
	payload, _ := reply["payload"].(map[string]any)
	require.Empty(t, payload["error"])
	require.Equal(t, "obs-1", payload["result"])
}

func TestHandleEventDedupsByMsgIDAndNotifiesListeners(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapInference), &fakeMemory{})

	var seen []EventType
	n.OnEvent(func(et EventType, data map[string]any, senderID string) {
		seen = append(seen, et)
	})

	env := NewEnvelope(MsgEvent, "peer-x")
	env.TTL = 2
	env.Payload = map[string]any{"event_type": "observe", "data": map[string]any{"id": "obs-1"}}

	n.handleEvent(env)
	require.Equal(t, []EventType{EventObserve}, seen)

	// Re-delivering the identical envelope (same msg_id) must not notify again.
	n.handleEvent(env)
	require.Equal(t, []EventType{EventObserve}, seen)
}

func TestBroadcastEventMarksOwnMsgSeenBeforeSending(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapStore, CapLLM), &fakeMemory{})

	var seen []EventType
	n.OnEvent(func(et EventType, data map[string]any, senderID string) {
		seen = append(seen, et)
	})

	n.broadcastEvent(EventObserve, map[string]any{"id": "obs-1"})
	require.Equal(t, []EventType{EventObserve}, seen)
	require.Equal(t, 0, n.routing.PeerCount())

	// The originated msg_id is already in the seen set, so a copy reflected
	// back by a neighbor is absorbed without notifying listeners again.
	require.Len(t, n.seen.order, 1, "broadcastEvent must mark its own msg_id seen")
	echo := NewEnvelope(MsgEvent, "peer-x")
	echo.MsgID = n.seen.order[0]
	echo.TTL = 2
	echo.Payload = map[string]any{"event_type": "observe", "data": map[string]any{"id": "obs-1"}}
	n.handleEvent(echo)
	require.Equal(t, []EventType{EventObserve}, seen)
}

func TestHandleLeaveRemovesPeer(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapCLI), &fakeMemory{})
	n.routing.UpdatePeer(PeerState{
		Info:     PeerInfo{NodeID: "peer-a", Capabilities: NewCapabilitySet(CapStore)},
		Status:   StatusAlive,
		LastSeen: time.Now().UTC(),
	})

	env := NewEnvelope(MsgLeave, "peer-a")
	n.handleLeave(env)

	_, found := n.routing.Get("peer-a")
	require.False(t, found)
}

func TestStopWithNoNeighborsCompletesWithoutPanic(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapCLI), &fakeMemory{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx, http.NewServeMux())

	// With no live stream connections, Stop's leave broadcast reaches no
	// one; this checks only that Stop completes without panicking.
	require.NotPanics(t, n.Stop)
}

func TestHandleEventStopsReforwardingAtTTLOne(t *testing.T) {
	n := newTestNode(NewCapabilitySet(CapCLI), &fakeMemory{})

	// TTL=1 must be absorbed without attempting a reforward (spec §4.4:
	// "if ttl > 1, re-emit"). With zero stream neighbors connected, both
	// branches are observably silent, so this asserts the non-panicking
	// absorb path and that the envelope is marked seen exactly once.
	ttl1 := NewEnvelope(MsgEvent, "peer-x")
	ttl1.TTL = 1
	ttl1.Payload = map[string]any{"event_type": "observe", "data": map[string]any{}}
	n.handleEvent(ttl1)
	require.False(t, n.seen.markIfNew(ttl1.MsgID), "handleEvent must mark the envelope seen")

	// TTL=2 takes the reforward branch (ttl-1=1) before absorption next hop.
	ttl2 := NewEnvelope(MsgEvent, "peer-x")
	ttl2.TTL = 2
	ttl2.Payload = map[string]any{"event_type": "observe", "data": map[string]any{}}
	n.handleEvent(ttl2)
	require.False(t, n.seen.markIfNew(ttl2.MsgID), "handleEvent must mark the envelope seen")
}

func TestWsURLForDerivesFromHTTPScheme(t *testing.T) {
	require.Equal(t, "ws://host:1234/p2p/stream", wsURLFor("http://host:1234"))
	require.Equal(t, "wss://host:1234/p2p/stream", wsURLFor("https://host:1234"))
}
