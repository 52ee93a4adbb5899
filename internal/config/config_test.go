package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memory-mesh/internal/p2p"
)

func TestResolveRequiresAdvertiseHostWhenBindingAllInterfaces(t *testing.T) {
	_, err := Resolve(NodeFlags{Host: "0.0.0.0", Capabilities: "store"})
	require.Error(t, err)
}

func TestResolveDefaultsAdvertiseHostToExplicitHost(t *testing.T) {
	cfg, err := Resolve(NodeFlags{Host: "node-a.local", Capabilities: "store,llm"})
	require.NoError(t, err)
	require.Equal(t, "node-a.local", cfg.AdvertiseHost)
}

func TestResolveParsesCapabilitiesAndBootstrapList(t *testing.T) {
	cfg, err := Resolve(NodeFlags{
		Host:          "node-a.local",
		Capabilities:  " store , llm ,cli",
		Bootstrap:     "http://node-b:7420/p2p/message, http://node-c:7420/p2p/message",
		AdvertiseHost: "node-a.local",
	})
	require.NoError(t, err)
	require.True(t, cfg.Capabilities.Has(p2p.CapStore))
	require.True(t, cfg.Capabilities.Has(p2p.CapLLM))
	require.True(t, cfg.Capabilities.Has(p2p.CapCLI))
	require.False(t, cfg.Capabilities.Has(p2p.CapInference))
	require.Equal(t, []string{"http://node-b:7420/p2p/message", "http://node-c:7420/p2p/message"}, cfg.BootstrapURLs)
}

func TestResolveGeneratesNodeIDWhenAbsent(t *testing.T) {
	cfg, err := Resolve(NodeFlags{Host: "node-a.local", Capabilities: "store"})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.NodeID)
}

func TestResolveDefaultsPollIntervalWhenZeroOrNegative(t *testing.T) {
	cfg, err := Resolve(NodeFlags{Host: "node-a.local", Capabilities: "store", PollInterval: 0})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestResolvePreservesExplicitPollInterval(t *testing.T) {
	cfg, err := Resolve(NodeFlags{Host: "node-a.local", Capabilities: "store", PollInterval: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
}
