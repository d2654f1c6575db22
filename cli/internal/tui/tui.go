// Package tui is the interactive terminal client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/app"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/session"
)

type Config struct {
	Logger *slog.Logger
	App    *app.App
	// ConfirmTimeout bounds each mutation. Zero means no limit.
	ConfirmTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.App == nil {
		return errors.New("app is required")
	}
	return nil
}

// Run shows the notes client until the user quits or ctx is done. The app must be
// started.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	p := tea.NewProgram(newModel(ctx, cfg), tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := bridge(cfg.App, p.Send)
	defer unsubscribe()

	cfg.Logger.Info("tui: started", "cluster", cfg.App.Session.ClusterName())
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run tui: %w", err)
	}
	return nil
}

// bridge forwards component updates to send as model messages. Listeners only record
// the latest value of each kind; a separate goroutine delivers them, so publishers never
// wait on the event loop.
func bridge(a *app.App, send func(tea.Msg)) func() {
	var (
		mu      sync.Mutex
		pending = map[int]tea.Msg{}
		wake    = make(chan struct{}, 1)
		done    = make(chan struct{})
	)
	post := func(kind int, msg tea.Msg) {
		mu.Lock()
		if olderSnapshot(msg, pending[kind]) {
			mu.Unlock()
			return
		}
		pending[kind] = msg
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	unsubs := []func(){
		a.Session.Subscribe(func(s session.State) { post(0, sessionMsg(s)) }),
		a.Watcher.Subscribe(func(d account.Data) { post(1, accountMsg(d)) }),
		a.View.Subscribe(func(s notes.Snapshot) { post(2, snapshotMsg(s)) }),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-wake:
			}
			mu.Lock()
			batch := make([]tea.Msg, 0, len(pending))
			for kind := 0; kind < 3; kind++ {
				if msg, ok := pending[kind]; ok {
					batch = append(batch, msg)
					delete(pending, kind)
				}
			}
			mu.Unlock()
			for _, msg := range batch {
				send(msg)
			}
		}
	}()

	return func() {
		for _, u := range unsubs {
			u()
		}
		close(done)
		wg.Wait()
	}
}

// olderSnapshot reports whether next is a snapshot published before prev.
func olderSnapshot(next, prev tea.Msg) bool {
	n, ok := next.(snapshotMsg)
	if !ok {
		return false
	}
	p, ok := prev.(snapshotMsg)
	return ok && n.Seq < p.Seq
}
