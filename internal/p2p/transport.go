package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RPCTimeout bounds request/response control calls; LLMTimeout bounds the
// heavier observe/claim/remember/infer calls that may block on an LLM
// round trip (spec §5).
const (
	RPCTimeout = 30 * time.Second
	LLMTimeout = 120 * time.Second
)

// MessageHandler processes one inbound envelope (from either an inbound
// stream or the HTTP request endpoint) and produces an optional reply.
type MessageHandler func(map[string]any) (map[string]any, bool)

// Transport owns every network-facing concern of a node: the inbound HTTP
// endpoints, the inbound/outbound websocket stream tables, and the unary
// HTTP client pool used for bootstrap and RPC. It mirrors the teacher's
// separation of "peers" (client pool) from the storage/replication logic,
// generalized to a bidirectional stream transport.
type Transport struct {
	httpClient *http.Client
	upgrader   websocket.Upgrader

	outboundMu sync.RWMutex
	outbound   map[string]*websocket.Conn

	inboundMu sync.RWMutex
	inbound   map[string]*websocket.Conn

	onMessage MessageHandler
}

// NewTransport builds a Transport. onMessage is invoked for every envelope
// arriving on any stream (inbound or outbound) and is expected to return
// (reply, true) when a reply should be written back.
func NewTransport(onMessage MessageHandler) *Transport {
	return &Transport{
		httpClient: &http.Client{Timeout: RPCTimeout},
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		outbound:   make(map[string]*websocket.Conn),
		inbound:    make(map[string]*websocket.Conn),
		onMessage:  onMessage,
	}
}

// HTTPPost POSTs body as JSON to url and decodes a JSON object response.
// Any failure (marshal, transport, non-2xx status, undecodable body) is
// returned as a wrapped error with a nil map; nothing is logged here.
func (t *Transport) HTTPPost(ctx context.Context, url string, body map[string]any, timeout time.Duration) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer %s returned HTTP %d", url, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return out, nil
}

// HTTPGet issues a bare GET to url and decodes a JSON object response.
// Used for the health-check loop's liveness probe of a suspect peer
// (spec §4.4); failures are returned to the caller, not logged here, since
// a probe failure is expected and handled as "still suspect".
func (t *Transport) HTTPGet(ctx context.Context, url string, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer %s returned HTTP %d", url, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return out, nil
}

// StreamConnect dials an outbound websocket stream to nodeID at url and
// starts a read loop that dispatches every frame through onMessage,
// writing back any produced reply. Failures remove nothing here (the
// caller decides whether to retry); a failed dial simply returns an error.
func (t *Transport) StreamConnect(nodeID, url string) error {
	t.outboundMu.RLock()
	_, already := t.outbound[nodeID]
	t.outboundMu.RUnlock()
	if already {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	t.outboundMu.Lock()
	t.outbound[nodeID] = conn
	t.outboundMu.Unlock()

	go t.readLoop(conn, func() { t.closeOutbound(nodeID) })
	return nil
}

// readLoop pumps frames off conn until it errors or closes, dispatching
// each to onMessage and writing back any reply. onClose runs exactly once,
// removing the connection from whichever table it belongs to.
func (t *Transport) readLoop(conn *websocket.Conn, onClose func()) {
	defer onClose()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("p2p: dropping malformed stream frame: %v", err)
			continue
		}
		if reply, ok := t.onMessage(msg); ok {
			out, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}

func (t *Transport) closeOutbound(nodeID string) {
	t.outboundMu.Lock()
	defer t.outboundMu.Unlock()
	delete(t.outbound, nodeID)
}

// StreamSend writes msg to the named peer's outbound stream. Send failures
// remove the peer from the outbound table and return false; they never
// propagate to the caller as an error (spec §4.2).
func (t *Transport) StreamSend(nodeID string, msg map[string]any) bool {
	t.outboundMu.RLock()
	conn, ok := t.outbound[nodeID]
	t.outboundMu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.closeOutbound(nodeID)
		return false
	}
	return true
}

// BroadcastStream writes msg to every outbound and inbound stream peer and
// returns how many sends succeeded. A slow or dead neighbor's failing
// stream is dropped rather than blocking the broadcaster (spec §5
// backpressure).
func (t *Transport) BroadcastStream(msg map[string]any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	sent := 0
	t.outboundMu.Lock()
	for nodeID, conn := range t.outbound {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(t.outbound, nodeID)
			continue
		}
		sent++
	}
	t.outboundMu.Unlock()

	t.inboundMu.Lock()
	for nodeID, conn := range t.inbound {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(t.inbound, nodeID)
			continue
		}
		sent++
	}
	t.inboundMu.Unlock()

	return sent
}

// NeighborCount returns the number of outbound stream connections this
// node currently maintains, surfaced as neighbor_count in the metadata of
// this node's gossip, welcome and heartbeat payloads.
func (t *Transport) NeighborCount() int {
	t.outboundMu.RLock()
	defer t.outboundMu.RUnlock()
	return len(t.outbound)
}

// Close closes any outbound connection to nodeID.
func (t *Transport) Close(nodeID string) {
	t.outboundMu.Lock()
	conn, ok := t.outbound[nodeID]
	delete(t.outbound, nodeID)
	t.outboundMu.Unlock()
	if ok {
		conn.Close()
	}
}

// CloseAll closes every outbound and inbound connection.
func (t *Transport) CloseAll() {
	t.outboundMu.Lock()
	for id, conn := range t.outbound {
		conn.Close()
		delete(t.outbound, id)
	}
	t.outboundMu.Unlock()

	t.inboundMu.Lock()
	for id, conn := range t.inbound {
		conn.Close()
		delete(t.inbound, id)
	}
	t.inboundMu.Unlock()
}

// OutboundPeerIDs returns the node ids of currently connected outbound
// streams.
func (t *Transport) OutboundPeerIDs() []string {
	t.outboundMu.RLock()
	defer t.outboundMu.RUnlock()
	out := make([]string, 0, len(t.outbound))
	for id := range t.outbound {
		out = append(out, id)
	}
	return out
}

// InboundPeerIDs returns the node ids of currently connected inbound
// streams.
func (t *Transport) InboundPeerIDs() []string {
	t.inboundMu.RLock()
	defer t.inboundMu.RUnlock()
	out := make([]string, 0, len(t.inbound))
	for id := range t.inbound {
		out = append(out, id)
	}
	return out
}

// HandleStreamUpgrade upgrades an inbound HTTP connection to a websocket
// stream. The sender's node_id is learned from the first frame received
// and used to index the inbound table from then on.
func (t *Transport) HandleStreamUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("p2p: stream upgrade failed: %v", err)
		return
	}

	var learnedID string
	defer func() {
		if learnedID != "" {
			t.inboundMu.Lock()
			delete(t.inbound, learnedID)
			t.inboundMu.Unlock()
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("p2p: dropping malformed stream frame: %v", err)
			continue
		}

		if learnedID == "" {
			if sid, ok := msg["sender_id"].(string); ok && sid != "" {
				learnedID = sid
				t.inboundMu.Lock()
				t.inbound[learnedID] = conn
				t.inboundMu.Unlock()
			}
		}

		if reply, ok := t.onMessage(msg); ok {
			out, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}
