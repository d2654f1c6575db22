package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/cli/internal/config"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/app"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/prefs"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"golang.org/x/time/rate"
)

var errNoAddress = errors.New("no address: configure a keypair with --keypair or " + config.EnvKeypair + ", or pass --address")

// loadWallet returns the signing wallet: the secret from the environment, the configured
// keypair file, or the default keypair file when it exists. Nil means read-only.
func (r *root) loadWallet() (wallet.Wallet, error) {
	switch {
	case r.cfg.PrivateKey != "":
		kp, err := wallet.KeypairFromBase58(r.cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", config.EnvPrivateKey, err)
		}
		return kp, nil
	case r.cfg.Keypair != "":
		return loadKeypairFile(r.cfg.Keypair)
	case r.opts.DefaultKeypair != "":
		if _, err := os.Stat(r.opts.DefaultKeypair); err != nil {
			return nil, nil
		}
		return loadKeypairFile(r.opts.DefaultKeypair)
	}
	return nil, nil
}

func loadKeypairFile(path string) (wallet.Wallet, error) {
	kp, err := wallet.LoadKeypairFile(path)
	if err != nil {
		return nil, err
	}
	return kp, nil
}

type openOptions struct {
	external *solana.PublicKey
	log      *slog.Logger
}

// openApp connects to the configured cluster and starts the client. The returned func
// stops it.
func (r *root) openApp(ctx context.Context, o openOptions) (*app.App, func(), error) {
	log := o.log
	if log == nil {
		log = r.log
	}

	w, err := r.loadWallet()
	if err != nil {
		return nil, nil, err
	}
	store, err := prefs.OpenBolt(r.cfg.StateDBPath())
	if err != nil {
		return nil, nil, err
	}

	var limiter *rate.Limiter
	if r.cfg.RPCRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RPCRate), r.cfg.RPCBurst)
	}
	a, err := app.New(app.Config{
		Logger:      log,
		Prefs:       store,
		Registry:    r.registry,
		Dial:        r.opts.Dial,
		Wallet:      w,
		Cluster:     r.cfg.Cluster,
		Confirm:     r.opts.Confirm,
		ReadLimiter: limiter,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if o.external != nil {
		a.Session.SetExternalAddress(o.external)
	}
	a.Start(ctx)

	return a, func() {
		if err := a.Close(); err != nil {
			log.Debug("commands: failed to close session", "error", err)
		}
		if err := store.Close(); err != nil {
			log.Debug("commands: failed to close state db", "error", err)
		}
	}, nil
}

// waitList blocks until the notes list for the current address has loaded or failed.
func waitList(ctx context.Context, v *notes.View) (notes.Snapshot, error) {
	notify := make(chan struct{}, 1)
	unsub := v.Subscribe(func(notes.Snapshot) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsub()

	for {
		s := v.Snapshot()
		switch {
		case s.ListState == notes.ListLoading:
		case s.ListState == notes.ListLoaded && !s.Busy:
			return s, nil
		case s.ListState == notes.ListFailed && !s.Busy:
			return s, errors.New(s.Error)
		case !s.Connected:
			return s, notes.ErrNoClient
		case s.Address == nil:
			return s, errNoAddress
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-notify:
		}
	}
}

// waitAccount blocks until the first balance arrives or timeout passes.
func waitAccount(ctx context.Context, w *account.Watcher, timeout time.Duration) (account.Data, error) {
	if err := w.WaitReady(ctx); err != nil {
		return account.Data{}, err
	}
	notify := make(chan struct{}, 1)
	unsub := w.Subscribe(func(account.Data) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsub()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		d := w.Data()
		if d.Address == nil {
			return d, errNoAddress
		}
		if d.Lamports > 0 || d.Slot > 0 {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return d, ctx.Err()
		case <-timer.C:
			return d, nil
		case <-notify:
		}
	}
}
