// Package app assembles the client components over one session: the program accessor,
// the account watcher and the notes view.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/prefs"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"golang.org/x/time/rate"
)

type Config struct {
	Logger   *slog.Logger
	Prefs    prefs.Store
	Registry *cluster.Registry
	Dial     solrpc.DialFunc
	Clock    clockwork.Clock

	// Wallet is optional. Without one the client is read-only.
	Wallet wallet.Wallet
	// Cluster selects a cluster on start instead of the persisted choice.
	Cluster string

	Confirm     retry.Config
	ReadLimiter *rate.Limiter
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Prefs == nil {
		return errors.New("prefs store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type App struct {
	log *slog.Logger

	Session  *session.Session
	Accessor *program.Accessor
	Watcher  *account.Watcher
	View     *notes.View
}

// New connects to the selected cluster and builds the components. Nothing follows the
// session until Start is called.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sess, err := session.New(session.Config{
		Logger:   cfg.Logger,
		Registry: cfg.Registry,
		Prefs:    cfg.Prefs,
		Dial:     cfg.Dial,
		Wallet:   cfg.Wallet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if cfg.Cluster != "" && cfg.Cluster != sess.ClusterName() {
		if err := sess.SetClusterName(cfg.Cluster); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("failed to select cluster: %w", err)
		}
	}

	accessor, err := program.NewAccessor(program.AccessorConfig{
		Logger:      cfg.Logger,
		Session:     sess,
		Confirm:     cfg.Confirm,
		ReadLimiter: cfg.ReadLimiter,
	})
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("failed to create program accessor: %w", err)
	}

	watcher, err := account.NewWatcher(account.WatcherConfig{
		Logger:  cfg.Logger,
		Session: sess,
	})
	if err != nil {
		accessor.Close()
		_ = sess.Close()
		return nil, fmt.Errorf("failed to create account watcher: %w", err)
	}

	view, err := notes.NewView(notes.ViewConfig{
		Logger:   cfg.Logger,
		Accessor: accessor,
		Clock:    cfg.Clock,
	})
	if err != nil {
		accessor.Close()
		_ = sess.Close()
		return nil, fmt.Errorf("failed to create notes view: %w", err)
	}

	return &App{
		log:      cfg.Logger,
		Session:  sess,
		Accessor: accessor,
		Watcher:  watcher,
		View:     view,
	}, nil
}

// Start begins following the session: the watcher subscribes to the effective address and
// the view fetches its notes.
func (a *App) Start(ctx context.Context) {
	a.Watcher.Start(ctx)
	a.View.Start(ctx)
	st := a.Session.State()
	var addr string
	if st.EffectiveAddress != nil {
		addr = st.EffectiveAddress.String()
	}
	a.log.Info("app: started", "cluster", st.ClusterName(), "address", addr, "wallet", st.WalletConnected)
}

// Close stops all components and closes the connection.
func (a *App) Close() error {
	a.View.Close()
	a.Watcher.Close()
	a.Accessor.Close()
	return a.Session.Close()
}
