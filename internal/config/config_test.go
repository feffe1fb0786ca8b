package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
listen-addr: ":9090"
networks:
  - name: ethereum
    chain-id: 1
    rpc-url: https://rpc.example.org
    factories:
      - address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
        version: uniswap-v3
  - name: polygon
    chain-id: 137
    source: subgraph
    subgraph-url: https://subgraph.example.org/algebra
    confirmation-lag: 30
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig), nil)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.CacheTTL.Blocks)
	require.Equal(t, 300*time.Second, cfg.CacheTTL.Assets)
	require.Equal(t, []string{"ethereum", "polygon"}, cfg.NetworkNames())

	eth := cfg.Networks[0]
	require.Equal(t, SourceRPC, eth.Source)
	require.Equal(t, uint64(10), eth.ConfirmationLag)
	require.Equal(t, uint64(10000), eth.MaxRangeSpan)
	require.Equal(t, uint64(2000), eth.BatchSize)
	require.Equal(t, 5*time.Second, eth.ScanInterval)
	require.Equal(t, uint64(64), eth.RollbackDepth)

	polygon := cfg.Networks[1]
	require.Equal(t, SourceSubgraph, polygon.Source)
	require.Equal(t, uint64(30), polygon.ConfirmationLag)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no networks", `listen-addr: ":8080"`},
		{"rpc without url", `
networks:
  - name: ethereum
    factories:
      - address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
        version: uniswap-v3
`},
		{"rpc without factories", `
networks:
  - name: ethereum
    rpc-url: https://rpc.example.org
`},
		{"subgraph without url", `
networks:
  - name: polygon
    source: subgraph
`},
		{"bad factory version", `
networks:
  - name: ethereum
    rpc-url: https://rpc.example.org
    factories:
      - address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
        version: v4
`},
		{"bad factory address", `
networks:
  - name: ethereum
    rpc-url: https://rpc.example.org
    factories:
      - address: "not-an-address"
        version: algebra
`},
		{"duplicate names", `
networks:
  - name: ethereum
    rpc-url: https://rpc.example.org
    factories:
      - address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
        version: algebra
  - name: ethereum
    source: subgraph
    subgraph-url: https://subgraph.example.org
`},
		{"batch larger than span", `
networks:
  - name: ethereum
    rpc-url: https://rpc.example.org
    batch-size: 500
    max-range-span: 100
    factories:
      - address: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
        version: algebra
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
		})
	}
}
