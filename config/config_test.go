package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Server.Debug)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 72*time.Hour, cfg.Security.JWTTTLH)
	assert.Equal(t, int64(1), cfg.Ledger.GasPrice)
	assert.Equal(t, 6, cfg.Trading.MaxSlots)
	assert.Equal(t, 5, cfg.Trading.BalanceTolerance)
	assert.Equal(t, 5*time.Minute, cfg.Trading.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.Trading.ProposalTTL)
	assert.Equal(t, time.Hour, cfg.Trading.Retention)
	assert.Equal(t, 128, cfg.Mint.QueueSize)
	assert.Equal(t, time.Second, cfg.Mint.JobInterval)
	assert.Equal(t, "terravale", cfg.Mint.Collection)
}

func TestLoadOverridesAndNestedMaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 8081
  admin_key: hunter2
database:
  mode: memory
ledger:
  rpc_addr: http://127.0.0.1:9000
  package: "0xfarm"
  signer_addr: "0xoperator"
  gas_price: 3
  gas_estimates:
    mint: 25
    execute-swap: 40
trading:
  max_slots: 4
  lock_ttl: 90s
`))
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Server.AdminKey)
	assert.Equal(t, "memory", cfg.Database.Mode)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.Ledger.RPCAddr)
	assert.Equal(t, "0xoperator", cfg.Ledger.SignerAddr)
	assert.Equal(t, int64(3), cfg.Ledger.GasPrice)
	assert.Equal(t, int64(25), cfg.Ledger.GasEstimates["mint"])
	assert.Equal(t, int64(40), cfg.Ledger.GasEstimates["execute-swap"])
	assert.Equal(t, 4, cfg.Trading.MaxSlots)
	assert.Equal(t, 90*time.Second, cfg.Trading.LockTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
