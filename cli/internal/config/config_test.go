package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestNotes_Config_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Empty(t, cfg.Cluster)
	require.Equal(t, "127.0.0.1:8787", cfg.Server.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.ConfirmTimeout.Std())
	require.Equal(t, filepath.Join(cfg.StateDir, "state.db"), cfg.StateDBPath())
	require.Equal(t, filepath.Join(cfg.StateDir, "notes.log"), cfg.LogPath())
}

func TestNotes_Config_Load(t *testing.T) {
	t.Parallel()

	t.Run("file values override defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
cluster = "localnet"
keypair = "/tmp/id.json"
rpc_rate = 2.5
confirm_timeout = "45s"

[server]
listen_addr = "0.0.0.0:9000"
cors_origins = ["https://notes.example"]
mutations_per_minute = 5
`), 0o600))

		cfg, err := Load(path, true)
		require.NoError(t, err)
		require.Equal(t, "localnet", cfg.Cluster)
		require.Equal(t, "/tmp/id.json", cfg.Keypair)
		require.Equal(t, 2.5, cfg.RPCRate)
		require.Equal(t, 45*time.Second, cfg.ConfirmTimeout.Std())
		require.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
		require.Equal(t, []string{"https://notes.example"}, cfg.Server.CORSOrigins)
		require.Equal(t, 5, cfg.Server.MutationsPerMinute)
		require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Std())
	})

	t.Run("missing optional file uses defaults", func(t *testing.T) {
		t.Parallel()

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"), false)
		require.NoError(t, err)
		require.Equal(t, Default().Server.ListenAddr, cfg.Server.ListenAddr)
	})

	t.Run("missing required file fails", func(t *testing.T) {
		t.Parallel()

		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), true)
		require.Error(t, err)
	})

	t.Run("invalid toml fails", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("cluster = "), 0o600))
		_, err := Load(path, true)
		require.Error(t, err)
	})
}

func TestNotes_Config_ApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Cluster = "devnet"
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		EnvCluster:     "localnet",
		EnvPrivateKey:  " secret ",
		EnvRPCRate:     "4",
		EnvCORSOrigins: "https://a.example, ,https://b.example",
		EnvKeypair:     "   ",
	})))
	require.Equal(t, "localnet", cfg.Cluster)
	require.Equal(t, "secret", cfg.PrivateKey)
	require.Equal(t, 4.0, cfg.RPCRate)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Empty(t, cfg.Keypair)

	err := cfg.ApplyEnv(env(map[string]string{EnvRPCRate: "fast"}))
	require.ErrorContains(t, err, EnvRPCRate)
}

func TestNotes_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.StateDir = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RPCRate = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RPCRate = 3
	cfg.RPCBurst = 0
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1, cfg.RPCBurst)

	cfg = Default()
	cfg.ConfirmTimeout = 0
	require.Error(t, cfg.Validate())
}
