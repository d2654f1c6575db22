package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/program"
)

type CreateNoteRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type EditNoteRequest struct {
	Value string `json:"value"`
}

type MutationResponse struct {
	Signature   solana.Signature `json:"signature"`
	ExplorerURL string           `json:"explorerUrl"`
	Notes       notes.Snapshot   `json:"notes"`
}

// GetNotes handles GET /api/notes.
func (h *Handlers) GetNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Notes.Snapshot())
}

// PostRefresh handles POST /api/notes/refresh.
func (h *Handlers) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Notes.Refresh(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cfg.Notes.Snapshot())
}

// PostNote handles POST /api/notes.
func (h *Handlers) PostNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context) (solana.Signature, error) {
		return h.cfg.Notes.Create(ctx, req.Name, req.Value)
	})
}

// PutNote handles PUT /api/notes/{name} for a note of the listed address.
func (h *Handlers) PutNote(w http.ResponseWriter, r *http.Request) {
	key, ok := h.noteKey(w, r)
	if !ok {
		return
	}
	var req EditNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (solana.Signature, error) {
		return h.cfg.Notes.Edit(ctx, key, req.Value)
	})
}

// DeleteNote handles DELETE /api/notes/{name} for a note of the listed address.
func (h *Handlers) DeleteNote(w http.ResponseWriter, r *http.Request) {
	key, ok := h.noteKey(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, http.StatusOK, func(ctx context.Context) (solana.Signature, error) {
		return h.cfg.Notes.Delete(ctx, key)
	})
}

func (h *Handlers) noteKey(w http.ResponseWriter, r *http.Request) (program.Key, bool) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	snap := h.cfg.Notes.Snapshot()
	if snap.Address == nil {
		h.writeError(w, r, notes.ErrNoAddress)
		return program.Key{}, false
	}
	return program.Key{Author: *snap.Address, Name: name}, true
}

func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context) (solana.Signature, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.MutationTimeout)
	defer cancel()

	sig, err := fn(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, MutationResponse{
		Signature:   sig,
		ExplorerURL: h.cfg.Session.State().Cluster.ExplorerURL("tx/" + sig.String()),
		Notes:       h.cfg.Notes.Snapshot(),
	})
}
