package p2p

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"memory-mesh/internal/memapi"
)

// Timing constants for the background loops, confirmed against the
// original source's node runtime.
const (
	HealthCheckInterval = 10 * time.Second
	SuspectTimeout      = 15 * time.Second
	DeadTimeout         = 30 * time.Second
	HeartbeatInterval   = 5 * time.Second
	MaxNeighbors        = 8
	SeenMsgMax          = 10000
	DefaultEventTTL     = 3
)

// seenSet is a bounded FIFO set of message ids used to suppress re-floods
// of events this node has already processed. Capped at SeenMsgMax so a
// long-lived node's memory doesn't grow unbounded (spec §4.5).
type seenSet struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{set: make(map[string]struct{})}
}

// markIfNew records id and reports whether it was not already present.
func (s *seenSet) markIfNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[id]; ok {
		return false
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > SeenMsgMax {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
	return true
}

// EventListener is invoked for every locally-observed or remotely-flooded
// event. Listeners are called synchronously, in registration order, on the
// goroutine that dispatched the event (an inbound HTTP handler, a stream
// read loop, or the caller of broadcastEvent).
type EventListener func(eventType EventType, data map[string]any, senderID string)

// NodeConfig configures a Node's bootstrap and background-loop behavior.
type NodeConfig struct {
	BootstrapURLs []string
	EventTTL      int
}

// Node is the per-process overlay runtime: it owns the routing table, the
// transport, the memory-API router, and the three background loops
// (gossip, health-check, heartbeat) that keep the overlay's view of the
// world current.
type Node struct {
	Self   PeerInfo
	Caps   CapabilitySet
	config NodeConfig

	routing   *RoutingTable
	transport *Transport
	router    *Router

	seen *seenSet

	listenersMu sync.Mutex
	listeners   []EventListener

	seqMu        sync.Mutex
	heartbeatSeq uint64

	cancel context.CancelFunc
}

// NewNode builds a Node. local may be nil for a node with no local
// MemoryAPI implementation (pure routing/relay capabilities).
func NewNode(self PeerInfo, config NodeConfig, local memapi.MemoryAPI) *Node {
	n := &Node{
		Self:    self,
		Caps:    self.Capabilities,
		config:  config,
		routing: NewRoutingTable(),
		seen:    newSeenSet(),
	}
	n.transport = NewTransport(n.handleFrame)
	n.router = NewRouter(self.NodeID, self.Capabilities, n.routing, n.transport, local, n.broadcastEvent)
	if config.EventTTL == 0 {
		n.config.EventTTL = DefaultEventTTL
	}
	return n
}

// Router exposes the memory-API router for the HTTP handler and the CLI.
func (n *Node) Router() *Router { return n.router }

// Routing exposes the routing table for diagnostics (meshctl status).
func (n *Node) Routing() *RoutingTable { return n.routing }

// OnEvent registers a listener invoked for every event this node observes,
// whether generated locally or flooded in from a peer.
func (n *Node) OnEvent(fn EventListener) {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *Node) notifyListeners(eventType EventType, data map[string]any, senderID string) {
	n.listenersMu.Lock()
	fns := make([]EventListener, len(n.listeners))
	copy(fns, n.listeners)
	n.listenersMu.Unlock()
	for _, fn := range fns {
		fn(eventType, data, senderID)
	}
}

// Start binds the inbound endpoints onto mux, performs the bootstrap
// sequence against config.BootstrapURLs, and launches the background
// loops. It returns once bootstrap has been attempted against every
// configured URL (bootstrap failures are logged, not fatal — an isolated
// node still serves its own capabilities).
func (n *Node) Start(ctx context.Context, mux *http.ServeMux) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	mux.HandleFunc("/p2p/message", n.handleHTTPMessage)
	mux.HandleFunc("/p2p/stream", n.transport.HandleStreamUpgrade)

	for _, url := range n.config.BootstrapURLs {
		n.bootstrap(ctx, url)
	}

	go n.gossipLoop(ctx)
	go n.healthCheckLoop(ctx)
	go n.heartbeatLoop(ctx)
}

// Stop announces departure to every neighbor, then cancels the background
// loops and closes every stream (spec §5).
func (n *Node) Stop() {
	leave := NewEnvelope(MsgLeave, n.Self.NodeID)
	n.transport.BroadcastStream(envelopeToWire(leave))

	if n.cancel != nil {
		n.cancel()
	}
	n.transport.CloseAll()
}

func (n *Node) nextHeartbeatSeq() uint64 {
	n.seqMu.Lock()
	defer n.seqMu.Unlock()
	n.heartbeatSeq++
	return n.heartbeatSeq
}

// selfState builds this node's own PeerState for gossip, welcome and
// heartbeat payloads, including peer_count/neighbor_count diagnostic metadata (original
// source's _build_metadata).
func (n *Node) selfState() PeerState {
	return PeerState{
		Info:         n.Self,
		Status:       StatusAlive,
		LastSeen:     time.Now().UTC(),
		HeartbeatSeq: n.nextHeartbeatSeq(),
		Metadata: map[string]any{
			"peer_count":     n.routing.PeerCount(),
			"neighbor_count": n.transport.NeighborCount(),
		},
	}
}

// bootstrap sends a "join" envelope to url and, on a successful "welcome"
// reply, installs every advertised peer and opens outbound streams to up
// to MaxNeighbors of them, preferring peers whose capabilities most
// complement our own. url may be the peer's base HTTP URL or its
// /p2p/message endpoint; the base URL is what gets recorded for the peer.
func (n *Node) bootstrap(ctx context.Context, url string) {
	env := NewEnvelope(MsgJoin, n.Self.NodeID)
	env.Payload = map[string]any{"peer_info": n.Self.ToWire()}

	const msgPath = "/p2p/message"
	base := url
	if len(base) > len(msgPath) && base[len(base)-len(msgPath):] == msgPath {
		base = base[:len(base)-len(msgPath)]
	}

	resp, err := n.transport.HTTPPost(ctx, base+msgPath, envelopeToWire(env), RPCTimeout)
	if err != nil {
		log.Printf("p2p: bootstrap against %s failed: %v", url, err)
		return
	}
	if msgType, _ := resp["msg_type"].(string); msgType != string(MsgWelcome) {
		log.Printf("p2p: bootstrap against %s: unexpected reply %v", url, resp["msg_type"])
		return
	}

	payload, _ := resp["payload"].(map[string]any)
	bootstrapNodeID, _ := payload["node_id"].(string)
	if bootstrapNodeID != "" {
		n.routing.SetOverride(bootstrapNodeID, base, wsURLFor(base))
	}

	changed := mergeGossipPeers(n.routing, payload, n.Self.NodeID)
	n.connectNeighbors(changed)
}

// connectNeighbors opens outbound streams to up to MaxNeighbors candidates,
// preferring those whose capability set most complements ours, up to the
// budget remaining after already-connected neighbors.
func (n *Node) connectNeighbors(candidateIDs []string) {
	have := len(n.transport.OutboundPeerIDs())
	if have >= MaxNeighbors {
		return
	}

	type scored struct {
		ps    PeerState
		score int
	}
	var pool []scored
	for _, id := range candidateIDs {
		ps, ok := n.routing.Get(id)
		if !ok || ps.Status != StatusAlive {
			continue
		}
		pool = append(pool, scored{ps: ps, score: n.Self.Capabilities.Diff(ps.Info.Capabilities)})
	}
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if pool[j].score > pool[i].score {
				pool[i], pool[j] = pool[j], pool[i]
			}
		}
	}

	for _, s := range pool {
		if have >= MaxNeighbors {
			return
		}
		if err := n.transport.StreamConnect(s.ps.Info.NodeID, s.ps.Info.StreamURL); err != nil {
			log.Printf("p2p: failed to connect neighbor %s: %v", s.ps.Info.NodeID, err)
			continue
		}
		have++
	}
}

func wsURLFor(httpURL string) string {
	switch {
	case len(httpURL) > 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:] + "/p2p/stream"
	case len(httpURL) > 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:] + "/p2p/stream"
	default:
		return httpURL
	}
}

// handleHTTPMessage serves join/request envelopes arriving over plain HTTP
// POST (the teacher's unary-request idiom generalized to this node's
// Envelope wire format).
func (n *Node) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	var wire map[string]any
	if err := decodeJSONBody(r, &wire); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	reply, ok := n.handleFrame(wire)
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	encodeJSON(w, reply)
}

// handleFrame is the single envelope dispatch point shared by the HTTP
// endpoint, inbound streams, and outbound stream read loops (spec §4.4).
func (n *Node) handleFrame(wire map[string]any) (map[string]any, bool) {
	env := envelopeFromWire(wire)

	switch env.MsgType {
	case MsgJoin:
		return n.handleJoin(env), true
	case MsgGossip:
		n.handleGossip(env)
		return nil, false
	case MsgPing:
		return n.handlePing(env), true
	case MsgRequest:
		return n.handleRequest(env), true
	case MsgEvent:
		n.handleEvent(env)
		return nil, false
	case MsgLeave:
		n.handleLeave(env)
		return nil, false
	default:
		log.Printf("p2p: dropping envelope with unknown msg_type %q", env.MsgType)
		return nil, false
	}
}

func (n *Node) handleJoin(env Envelope) map[string]any {
	peerInfoRaw, _ := env.Payload["peer_info"].(map[string]any)
	if info, err := PeerInfoFromWire(peerInfoRaw); err == nil {
		n.routing.UpdatePeer(PeerState{Info: info, Status: StatusAlive, LastSeen: time.Now().UTC()})
	}

	resp := NewEnvelope(MsgWelcome, n.Self.NodeID)
	resp.ReplyTo = env.MsgID
	known := n.routing.AlivePeers(env.SenderID)
	resp.Payload = buildGossipPayload(n.selfState(), known)
	resp.Payload["node_id"] = n.Self.NodeID
	return envelopeToWire(resp)
}

func (n *Node) handleGossip(env Envelope) {
	changed := mergeGossipPeers(n.routing, env.Payload, n.Self.NodeID)
	if len(changed) > 0 {
		n.connectNeighbors(changed)
	}
}

func (n *Node) handlePing(env Envelope) map[string]any {
	n.routing.Touch(env.SenderID, PeerState{LastSeen: time.Now().UTC()})
	resp := NewEnvelope(MsgPong, n.Self.NodeID)
	resp.ReplyTo = env.MsgID
	return envelopeToWire(resp)
}

func (n *Node) handleRequest(env Envelope) map[string]any {
	method, _ := env.Payload["method"].(string)
	args, _ := env.Payload["args"].(map[string]any)

	resp := NewEnvelope(MsgResponse, n.Self.NodeID)
	resp.ReplyTo = env.MsgID

	result, err := n.router.callLocalOnly(method, args)
	if err != nil {
		resp.Payload = map[string]any{"error": err.Error()}
		return envelopeToWire(resp)
	}
	resp.Payload = map[string]any{"result": result}
	return envelopeToWire(resp)
}

func (n *Node) handleLeave(env Envelope) {
	n.routing.RemovePeer(env.SenderID)
	n.transport.Close(env.SenderID)
}

// handleEvent applies seen_msgs dedup, notifies local listeners, and
// reforwards the event (with ttl-1) to every stream neighbor if ttl still
// allows (spec §4.5).
func (n *Node) handleEvent(env Envelope) {
	if !n.seen.markIfNew(env.MsgID) {
		return
	}

	eventType, _ := env.Payload["event_type"].(string)
	data, _ := env.Payload["data"].(map[string]any)
	n.notifyListeners(EventType(eventType), data, env.SenderID)

	if env.TTL <= 1 {
		return
	}
	forwarded := env
	forwarded.TTL = env.TTL - 1
	n.transport.BroadcastStream(envelopeToWire(forwarded))
}

// broadcastEvent originates a new event: marks its own msg_id seen first
// (so a reflected copy from a neighbor is dropped) then floods it at
// config.EventTTL hops.
func (n *Node) broadcastEvent(eventType EventType, data map[string]any) {
	env := NewEnvelope(MsgEvent, n.Self.NodeID)
	env.TTL = n.config.EventTTL
	env.Payload = map[string]any{"event_type": string(eventType), "data": data}
	n.seen.markIfNew(env.MsgID)
	n.transport.BroadcastStream(envelopeToWire(env))
	n.notifyListeners(eventType, data, n.Self.NodeID)
}

// BroadcastSchemaUpdated lets the schema store announce a hot reload to
// the overlay without depending on the schema package. The event data is
// the local MemoryAPI's GetSchema wire map (the full schema); when this
// node has no local schema to serve, it carries only schema_version.
func (n *Node) BroadcastSchemaUpdated(version int) {
	data := map[string]any{"schema_version": version}
	if n.router.local != nil {
		if wire, err := n.router.local.GetSchema(); err == nil && wire != nil {
			data = wire
		}
	}
	n.broadcastEvent(EventSchemaUpdated, data)
}

func (n *Node) gossipLoop(ctx context.Context) {
	ticker := time.NewTicker(GossipInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.gossipOnce()
		}
	}
}

func (n *Node) gossipOnce() {
	neighbors := append(n.transport.OutboundPeerIDs(), n.transport.InboundPeerIDs()...)
	targets := pickGossipTargets(neighbors)
	if len(targets) == 0 {
		return
	}
	env := NewEnvelope(MsgGossip, n.Self.NodeID)
	env.Payload = buildGossipPayload(n.selfState(), n.routing.AllPeers())
	wire := envelopeToWire(env)
	for _, id := range targets {
		n.transport.StreamSend(id, wire)
	}
}

// healthCheckLoop walks the routing table every HealthCheckInterval: peers
// silent for SuspectTimeout are marked suspect and probed over HTTP (a
// successful probe refreshes last_seen), and peers silent for DeadTimeout
// or longer are removed from the table and their stream is closed.
func (n *Node) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.healthCheckOnce()
		}
	}
}

func (n *Node) healthCheckOnce() {
	now := time.Now().UTC()
	pruned := false
	var stillAlive []string

	for _, ps := range n.routing.AllPeers() {
		age := now.Sub(ps.LastSeen)
		switch {
		case age >= DeadTimeout:
			n.routing.RemovePeer(ps.Info.NodeID)
			n.transport.Close(ps.Info.NodeID)
			pruned = true
		case age >= SuspectTimeout:
			if ps.Status != StatusSuspect {
				n.routing.SetStatus(ps.Info.NodeID, StatusSuspect)
			}
			if n.probeLiveness(ps) {
				n.routing.Touch(ps.Info.NodeID, PeerState{LastSeen: time.Now().UTC()})
				stillAlive = append(stillAlive, ps.Info.NodeID)
			}
		default:
			stillAlive = append(stillAlive, ps.Info.NodeID)
		}
	}

	if pruned {
		n.connectNeighbors(stillAlive)
	}
}

// probeLiveness GETs a suspect peer's health endpoint. Success restores
// alive status and refreshes last_seen (spec §4.4); failure leaves the
// peer suspect for the next health-check tick to decide.
func (n *Node) probeLiveness(ps PeerState) bool {
	if ps.Info.HTTPURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), RPCTimeout)
	defer cancel()
	_, err := n.transport.HTTPGet(ctx, ps.Info.HTTPURL+"/p2p/health", RPCTimeout)
	return err == nil
}

// heartbeatLoop periodically re-announces this node's own liveness over
// every open stream, independent of gossip content changes.
func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env := NewEnvelope(MsgGossip, n.Self.NodeID)
			env.Payload = buildGossipPayload(n.selfState(), nil)
			n.transport.BroadcastStream(envelopeToWire(env))
		}
	}
}
