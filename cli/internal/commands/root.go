package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/malbeclabs/notes/cli/internal/config"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/utils/pkg/logger"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"github.com/spf13/cobra"
)

// BuildInfo is set at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Options customizes how commands reach the outside world.
type Options struct {
	Build BuildInfo

	// Dial connects to a cluster. Defaults to solrpc.Dial.
	Dial solrpc.DialFunc
	// DefaultKeypair is the keypair file used when none is configured. Defaults to the
	// solana CLI keypair.
	DefaultKeypair string
	// Confirm overrides transaction confirmation polling.
	Confirm retry.Config
	// Prompt asks a yes/no question. Defaults to an interactive confirmation.
	Prompt func(title string) (bool, error)
}

type root struct {
	opts Options

	configPath string
	cluster    string
	keypair    string
	stateDir   string
	verbose    bool

	cfg      config.Config
	log      *slog.Logger
	registry *cluster.Registry
}

// NewRootCommand returns the notes command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.DefaultKeypair == "" {
		if home, err := os.UserHomeDir(); err == nil {
			opts.DefaultKeypair = filepath.Join(home, ".config", "solana", "id.json")
		}
	}
	if opts.Prompt == nil {
		opts.Prompt = confirmPrompt
	}
	r := &root{opts: opts, registry: cluster.DefaultRegistry()}

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Read and write notes kept by the notes program on Solana",
		Long: `notes lists, creates, edits and deletes the notes an address keeps on a Solana
cluster. Notes are signed with a local keypair; without one the client is read-only.`,
		Version:           opts.Build.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.load,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath()))
	pf.BoolVarP(&r.verbose, "verbose", "v", false, "enable verbose (debug) logging")
	pf.StringVar(&r.cluster, "cluster", "", "cluster to use: "+fmt.Sprint(r.registry.Names())+" (or set "+config.EnvCluster+")")
	pf.StringVar(&r.keypair, "keypair", "", "keypair file used to sign (or set "+config.EnvKeypair+")")
	pf.StringVar(&r.stateDir, "state-dir", "", "directory holding client state (or set "+config.EnvStateDir+")")

	cmd.AddCommand(
		newListCommand(r),
		newCreateCommand(r),
		newEditCommand(r),
		newDeleteCommand(r),
		newAccountCommand(r),
		newClusterCommand(r),
		newAddressCommand(r),
		newTUICommand(r),
		newServeCommand(r),
	)
	return cmd
}

// load resolves the configuration: defaults, then the config file, then the environment,
// then flags.
func (r *root) load(cmd *cobra.Command, args []string) error {
	path, explicit := r.configPath, r.configPath != ""
	if !explicit {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("cluster") {
		cfg.Cluster = r.cluster
	}
	if flags.Changed("keypair") {
		cfg.Keypair = r.keypair
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = r.stateDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Cluster != "" {
		if _, ok := r.registry.Lookup(cfg.Cluster); !ok {
			return fmt.Errorf("unknown cluster %q, expected one of %v", cfg.Cluster, r.registry.Names())
		}
	}

	r.cfg = cfg
	r.log = logger.NewCommand(cmd.ErrOrStderr(), r.verbose)
	return nil
}

func confirmPrompt(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
