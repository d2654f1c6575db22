package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	EnvCluster     = "NOTES_CLUSTER"
	EnvKeypair     = "NOTES_KEYPAIR"
	EnvPrivateKey  = "NOTES_PRIVATE_KEY"
	EnvStateDir    = "NOTES_STATE_DIR"
	EnvListenAddr  = "NOTES_LISTEN_ADDR"
	EnvRPCRate     = "NOTES_RPC_RATE"
	EnvSentryDSN   = "SENTRY_DSN"
	EnvSentryEnv   = "SENTRY_ENVIRONMENT"
	EnvCORSOrigins = "NOTES_CORS_ORIGINS"

	defaultListenAddr = "127.0.0.1:8787"
	stateDBFile       = "state.db"
	logFile           = "notes.log"
)

// Config is the client configuration. Values are layered defaults < file < environment
// < flags; flags are applied by the command layer.
type Config struct {
	// Cluster is the cluster to select on start. Empty keeps the persisted choice.
	Cluster string `toml:"cluster"`
	// Keypair is the path of a solana-keygen JSON keypair file.
	Keypair string `toml:"keypair"`
	// PrivateKey is a base58 secret key. Only read from the environment.
	PrivateKey string `toml:"-"`
	StateDir   string `toml:"state_dir"`

	// RPCRate limits read RPCs per second. Zero disables the limit.
	RPCRate  float64 `toml:"rpc_rate"`
	RPCBurst int     `toml:"rpc_burst"`

	// ConfirmTimeout bounds how long mutations wait for confirmation.
	ConfirmTimeout Duration `toml:"confirm_timeout"`

	Server ServerConfig `toml:"server"`
}

type ServerConfig struct {
	ListenAddr      string        `toml:"listen_addr"`
	ShutdownTimeout Duration      `toml:"shutdown_timeout"`
	CORSOrigins     []string      `toml:"cors_origins"`
	// MutationsPerMinute limits note mutations per client IP.
	MutationsPerMinute int    `toml:"mutations_per_minute"`
	SentryDSN          string `toml:"sentry_dsn"`
	SentryEnvironment  string `toml:"sentry_environment"`
}

// Duration is a time.Duration written as a Go duration string in the config file.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Default() Config {
	return Config{
		StateDir:       defaultStateDir(),
		RPCBurst:       1,
		ConfirmTimeout: Duration(30 * time.Second),
		Server: ServerConfig{
			ListenAddr:         defaultListenAddr,
			ShutdownTimeout:    Duration(10 * time.Second),
			CORSOrigins:        []string{"http://localhost:*", "http://127.0.0.1:*"},
			MutationsPerMinute: 30,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "notes", "config.toml")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "notes")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "notes")
	}
	return filepath.Join(home, ".local", "state", "notes")
}

// Load reads the config file at path over the defaults and applies the environment. A
// missing file is an error only when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvCluster, &c.Cluster)
	str(EnvKeypair, &c.Keypair)
	str(EnvPrivateKey, &c.PrivateKey)
	str(EnvStateDir, &c.StateDir)
	str(EnvListenAddr, &c.Server.ListenAddr)
	str(EnvSentryDSN, &c.Server.SentryDSN)
	str(EnvSentryEnv, &c.Server.SentryEnvironment)

	if v, ok := lookup(EnvRPCRate); ok && strings.TrimSpace(v) != "" {
		rate, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRPCRate, err)
		}
		c.RPCRate = rate
	}
	if v, ok := lookup(EnvCORSOrigins); ok && strings.TrimSpace(v) != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}
	return nil
}

func (c *Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("state dir is required")
	}
	if c.RPCRate < 0 {
		return errors.New("rpc rate must not be negative")
	}
	if c.RPCRate > 0 && c.RPCBurst < 1 {
		c.RPCBurst = 1
	}
	if c.ConfirmTimeout <= 0 {
		return errors.New("confirm timeout must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.MutationsPerMinute < 0 {
		return errors.New("mutations per minute must not be negative")
	}
	return nil
}

// StateDBPath is the location of the persisted client state.
func (c Config) StateDBPath() string {
	return filepath.Join(c.StateDir, stateDBFile)
}

// LogPath is the location of the log file used by the terminal UI.
func (c Config) LogPath() string {
	return filepath.Join(c.StateDir, logFile)
}
