// Package config loads node configuration from flags and environment
// variables (spec §6): capabilities, listen/advertise addressing,
// bootstrap peers, and the external collaborators' credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"memory-mesh/internal/p2p"
)

// NodeFlags holds the --flag values a node daemon accepts.
type NodeFlags struct {
	Capabilities  string
	Host          string
	Port          int
	Bootstrap     string
	NodeID        string
	AdvertiseHost string
	PollInterval  time.Duration
}

// Node is the fully resolved configuration for one node process.
type Node struct {
	NodeID        string
	Capabilities  p2p.CapabilitySet
	Host          string
	Port          int
	AdvertiseHost string
	BootstrapURLs []string
	PollInterval  time.Duration

	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	AnthropicAPIKey string
	LLMModel        string

	DataDir string
}

// Resolve merges flags with environment variables into a Node config,
// applying the defaults and validations spec §6 calls out (advertise
// host required when binding 0.0.0.0; node id auto-generated if absent).
func Resolve(f NodeFlags) (Node, error) {
	nodeID := f.NodeID
	if nodeID == "" {
		nodeID = p2p.GenerateNodeID()
	}

	advertiseHost := f.AdvertiseHost
	if advertiseHost == "" {
		if f.Host == "0.0.0.0" || f.Host == "" {
			return Node{}, fmt.Errorf("config: --advertise-host is required when --host is %q", f.Host)
		}
		advertiseHost = f.Host
	}

	caps := p2p.NewCapabilitySet()
	for _, raw := range strings.Split(f.Capabilities, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		caps[p2p.Capability(raw)] = struct{}{}
	}

	var bootstrapURLs []string
	for _, raw := range strings.Split(f.Bootstrap, ",") {
		raw = strings.TrimSpace(raw)
		if raw != "" {
			bootstrapURLs = append(bootstrapURLs, raw)
		}
	}

	pollInterval := f.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	dataDir := os.Getenv("MEMORY_MESH_DATA_DIR")
	if dataDir == "" {
		dataDir = "/tmp/memory-mesh/" + nodeID
	}

	return Node{
		NodeID:          nodeID,
		Capabilities:    caps,
		Host:            f.Host,
		Port:            f.Port,
		AdvertiseHost:   advertiseHost,
		BootstrapURLs:   bootstrapURLs,
		PollInterval:    pollInterval,
		Neo4jURI:        getenvDefault("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUsername:   getenvDefault("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword:   os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase:   getenvDefault("NEO4J_DATABASE", "neo4j"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:        getenvDefault("LLM_MODEL", "claude-sonnet-4-5"),
		DataDir:         dataDir,
	}, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
