package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/session"
)

// Session is the part of session.Session the gateway drives.
type Session interface {
	State() session.State
	Clusters() []cluster.Info
	SetClusterName(name string) error
	SetExternalAddress(addr *solana.PublicKey)
	ResetToWallet()
}

// Account is the part of account.Watcher the gateway reads.
type Account interface {
	Data() account.Data
	Ready() bool
}

// Notes is the part of notes.View the gateway drives.
type Notes interface {
	Snapshot() notes.Snapshot
	Refresh(ctx context.Context) error
	Create(ctx context.Context, name, value string) (solana.Signature, error)
	Edit(ctx context.Context, key program.Key, value string) (solana.Signature, error)
	Delete(ctx context.Context, key program.Key) (solana.Signature, error)
}

type Config struct {
	Logger  *slog.Logger
	Session Session
	Account Account
	Notes   Notes
	// MutationTimeout bounds a create, edit or delete including confirmation.
	MutationTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Account == nil {
		return errors.New("account is required")
	}
	if cfg.Notes == nil {
		return errors.New("notes is required")
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = 60 * time.Second
	}
	return nil
}

type Handlers struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Handlers{log: cfg.Logger, cfg: cfg}, nil
}

// Ready reports whether the account data for the current address has loaded.
func (h *Handlers) Ready() bool {
	return h.cfg.Account.Ready() && h.cfg.Session.State().Conn != nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusForError maps client errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, notes.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, notes.ErrValidation), errors.Is(err, notes.ErrNoAddress):
		return http.StatusBadRequest
	case errors.Is(err, program.ErrNoWallet):
		return http.StatusForbidden
	case errors.Is(err, notes.ErrNoClient):
		return http.StatusServiceUnavailable
	case errors.Is(err, notes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, program.ErrNotConfirmed):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("api: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
