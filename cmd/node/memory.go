package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"memory-mesh/internal/config"
	"memory-mesh/internal/graphstore/neo4j"
	"memory-mesh/internal/llmclient/anthropic"
	"memory-mesh/internal/memapi"
	"memory-mesh/internal/memsvc"
	"memory-mesh/internal/p2p"
	"memory-mesh/internal/schema"
)

// buildLocalMemory wires the external collaborators this node's declared
// capabilities call for: a Neo4j-backed GraphStore and its schema.Store
// when store is declared, an Anthropic LLM client when llm is declared.
// Returns (nil, nil, no-op) whenever store is not declared, including an
// llm-only node (its LLM client is then left unused); such a node serves
// purely by routing to capable peers.
func buildLocalMemory(cfg config.Node) (memapi.MemoryAPI, *schema.Store, func()) {
	var store memsvc.GraphStore
	var llmClient memsvc.LLM
	var schemaStore *schema.Store
	var closers []func()

	if cfg.Capabilities.Has(p2p.CapStore) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ns, err := neo4j.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUsername, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			log.Fatalf("FATAL: neo4j: %v", err)
		}
		store = ns
		closers = append(closers, func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := ns.Close(closeCtx); err != nil {
				log.Printf("neo4j: close error: %v", err)
			}
		})

		ss, err := schema.Load(filepath.Join(cfg.DataDir, "schema.yaml"))
		if err != nil {
			log.Fatalf("FATAL: schema: %v", err)
		}
		schemaStore = ss
	}

	if cfg.Capabilities.Has(p2p.CapLLM) {
		llmClient = anthropic.New(cfg.AnthropicAPIKey, cfg.LLMModel)
	}

	if store == nil {
		return nil, nil, func() {}
	}

	svc := memsvc.New(store, llmClient, 120*time.Second)

	var api memapi.MemoryAPI = svc
	if schemaStore != nil {
		api = memsvc.NewSchemaAware(svc, schemaStore)
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return api, schemaStore, cleanup
}
