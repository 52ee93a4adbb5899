// cmd/node is the main entrypoint for a memory-mesh node.
//
// Configuration is entirely via flags/environment so a single binary can
// serve any capability mix in the overlay.
//
// Example — a store+llm node with no bootstrap peers:
//
//	./node --capabilities store,llm --host 0.0.0.0 --port 7420 \
//	       --advertise-host node-a.local
//
// Example — a cli-only node joining that overlay:
//
//	./node --capabilities cli --host 0.0.0.0 --port 7421 \
//	       --advertise-host node-b.local --bootstrap http://node-a.local:7420/p2p/message
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"memory-mesh/internal/agent"
	"memory-mesh/internal/api"
	"memory-mesh/internal/clirepl"
	"memory-mesh/internal/config"
	"memory-mesh/internal/p2p"
	"memory-mesh/internal/schema"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	capabilities := flag.String("capabilities", "store,llm", "Comma-separated capability list (store,llm,inference,validation,cli)")
	host := flag.String("host", "0.0.0.0", "Listen host")
	port := flag.Int("port", 7420, "Listen port")
	bootstrap := flag.String("bootstrap", "", "Comma-separated bootstrap peer URLs")
	nodeID := flag.String("node-id", "", "Unique node identifier (auto-generated if empty)")
	advertiseHost := flag.String("advertise-host", "", "Hostname other nodes should use to reach this one")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "Agent steady-state poll interval")
	flag.Parse()

	cfg, err := config.Resolve(config.NodeFlags{
		Capabilities:  *capabilities,
		Host:          *host,
		Port:          *port,
		Bootstrap:     *bootstrap,
		NodeID:        *nodeID,
		AdvertiseHost: *advertiseHost,
		PollInterval:  *pollInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	self := p2p.PeerInfo{
		NodeID:       cfg.NodeID,
		Capabilities: cfg.Capabilities,
		HTTPURL:      fmt.Sprintf("http://%s:%d", cfg.AdvertiseHost, cfg.Port),
		StreamURL:    fmt.Sprintf("ws://%s:%d/p2p/stream", cfg.AdvertiseHost, cfg.Port),
		StartedAt:    time.Now().UTC(),
		Version:      "0.1.0",
	}

	localMemory, schemaStore, cleanup := buildLocalMemory(cfg)
	defer cleanup()

	node := p2p.NewNode(self, p2p.NodeConfig{BootstrapURLs: cfg.BootstrapURLs}, localMemory)

	if schemaStore != nil {
		schemaStore.OnUpdate(func(schema.PredicateSchema) {
			node.BroadcastSchemaUpdated(schemaStore.Version())
		})
	}

	ctx, cancel := context.WithCancel(context.Background())

	startAgents(ctx, node, cfg, schemaStore)

	// ── HTTP + stream server ────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	mux := http.NewServeMux()
	node.Start(ctx, mux)

	router.GET("/p2p/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"node_id":      cfg.NodeID,
			"capabilities": cfg.Capabilities.Sorted(),
			"peer_count":   node.Routing().PeerCount(),
		})
	})
	router.Any("/p2p/message", gin.WrapF(mux.ServeHTTP))
	router.Any("/p2p/stream", gin.WrapF(mux.ServeHTTP))

	if cfg.Capabilities.Has(p2p.CapCLI) {
		go func() {
			repl := clirepl.New(node.Router().AsMemoryAPI(), "cli:"+cfg.NodeID, os.Stdout)
			if err := repl.Run(os.Stdin); err != nil {
				log.Printf("cli: repl exited: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 125 * time.Second,
	}

	go func() {
		log.Printf("node %s listening on %s (capabilities=%v)", cfg.NodeID, srv.Addr, cfg.Capabilities.Sorted())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", cfg.NodeID)
	node.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func startAgents(ctx context.Context, node *p2p.Node, cfg config.Node, schemaStore *schema.Store) {
	routerMemory := node.Router().AsMemoryAPI()

	if cfg.Capabilities.Has(p2p.CapInference) {
		inf := agent.NewInferenceAgent(routerMemory)
		w := agent.NewWorker(inf, cfg.PollInterval)
		node.OnEvent(func(eventType p2p.EventType, _ map[string]any, _ string) { w.Signal(string(eventType)) })
		go w.Run(ctx)
	}

	if cfg.Capabilities.Has(p2p.CapValidation) {
		var initial *schema.PredicateSchema
		if schemaStore != nil {
			s := schemaStore.Schema()
			initial = &s
		}
		val := agent.NewValidatorAgent(routerMemory, initial)
		w := agent.NewWorker(val, cfg.PollInterval)
		node.OnEvent(func(eventType p2p.EventType, data map[string]any, _ string) {
			if eventType == p2p.EventSchemaUpdated {
				val.OnSchemaUpdated(data)
			}
			w.Signal(string(eventType))
		})
		go w.Run(ctx)
	}
}
