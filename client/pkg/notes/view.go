package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/notes/client/pkg/metrics"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/utils/pkg/broadcast"
)

var (
	// ErrBusy is returned while another operation is in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrNoClient is returned when there is no connection to the program.
	ErrNoClient = errors.New("not connected")
	// ErrNoAddress is returned when there is no address to list notes for.
	ErrNoAddress = errors.New("no address selected")
	// ErrNotFound is returned for operations on notes not in the list.
	ErrNotFound = errors.New("note not found")
	// ErrValidation is wrapped by input validation failures.
	ErrValidation = errors.New("invalid input")
)

const (
	msgCreateFieldsRequired = "Please fill in both name and value fields"
	msgEditValueRequired    = "Note content cannot be empty"
	msgFetchFailed          = "Failed to fetch notes"
)

// ValidationError is returned when input is rejected before any RPC.
type ValidationError struct {
	Message string
	Fields  error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Accessor is the part of program.Accessor the view depends on.
type Accessor interface {
	Current() program.Update
	Subscribe(fn func(program.Update)) (unsubscribe func())
}

type ViewConfig struct {
	Logger   *slog.Logger
	Accessor Accessor
	Clock    clockwork.Clock
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Accessor == nil {
		return errors.New("accessor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type ListState int

const (
	ListIdle ListState = iota
	ListLoading
	ListLoaded
	ListFailed
)

func (s ListState) String() string {
	switch s {
	case ListLoading:
		return "loading"
	case ListLoaded:
		return "loaded"
	case ListFailed:
		return "failed"
	}
	return "idle"
}

func (s ListState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ListState) UnmarshalText(text []byte) error {
	for _, v := range []ListState{ListIdle, ListLoading, ListLoaded, ListFailed} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown list state %q", text)
}

type MutationState int

const (
	MutationIdle MutationState = iota
	MutationSubmitting
	MutationApplied
	MutationRejected
)

func (s MutationState) String() string {
	switch s {
	case MutationSubmitting:
		return "submitting"
	case MutationApplied:
		return "applied"
	case MutationRejected:
		return "rejected"
	}
	return "idle"
}

func (s MutationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MutationState) UnmarshalText(text []byte) error {
	for _, v := range []MutationState{MutationIdle, MutationSubmitting, MutationApplied, MutationRejected} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown mutation state %q", text)
}

// Snapshot is a copy of the view's state.
type Snapshot struct {
	Notes         []program.Note    `json:"notes"`
	ListState     ListState         `json:"listState"`
	MutationState MutationState     `json:"mutationState"`
	Busy          bool              `json:"busy"`
	Error         string            `json:"error,omitempty"`
	PendingDelete *program.Key      `json:"pendingDelete,omitempty"`
	Address       *solana.PublicKey `json:"address,omitempty"`
	IsExternal    bool              `json:"isExternal"`
	// ReadOnly is set when no wallet is connected.
	ReadOnly      bool             `json:"readOnly"`
	Connected     bool             `json:"connected"`
	LastSignature solana.Signature `json:"lastSignature"`
	// Seq increases with every published snapshot. Listeners can receive snapshots out of
	// order and should drop any with a lower Seq than the last one they applied.
	Seq uint64 `json:"seq"`
}

type viewContext struct {
	addr       *solana.PublicKey
	client     *program.Client
	isExternal bool
}

func (c viewContext) same(o viewContext) bool {
	if c.client != o.client {
		return false
	}
	if c.addr == nil || o.addr == nil {
		return c.addr == nil && o.addr == nil
	}
	return c.addr.Equals(*o.addr)
}

// View is the notes list of the effective address together with the create, edit and
// delete flows. Successful mutations patch the list in place instead of re-fetching.
type View struct {
	log *slog.Logger
	cfg ViewConfig
	hub *broadcast.Hub[Snapshot]

	mu            sync.Mutex
	ctx           viewContext
	epoch         uint64
	cache         *cache
	listState     ListState
	mutationState MutationState
	busy          int
	errMsg        string
	pendingDelete *program.Key
	lastSig       solana.Signature
	seq           uint64

	bg        sync.WaitGroup
	unsub     func()
	closeOnce sync.Once
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{
		log:   cfg.Logger,
		cfg:   cfg,
		hub:   broadcast.NewHub[Snapshot](),
		cache: newCache(),
	}, nil
}

// Start follows the accessor: every change of effective address or client resets the list
// and fetches it again in the background.
func (v *View) Start(ctx context.Context) {
	unsub := v.cfg.Accessor.Subscribe(func(u program.Update) {
		v.onUpdate(ctx, u)
	})
	v.mu.Lock()
	v.unsub = unsub
	v.mu.Unlock()

	v.onUpdate(ctx, v.cfg.Accessor.Current())

	go func() {
		<-ctx.Done()
		v.Close()
	}()
}

// Close stops following the accessor and waits for background fetches.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.mu.Lock()
		unsub := v.unsub
		v.unsub = nil
		v.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		v.bg.Wait()
	})
}

// Subscribe registers fn for state changes. fn runs outside the view lock.
func (v *View) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return v.hub.Subscribe(fn)
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	s := Snapshot{
		Notes:         v.cache.list(),
		ListState:     v.listState,
		MutationState: v.mutationState,
		Busy:          v.busy > 0,
		Error:         v.errMsg,
		IsExternal:    v.ctx.isExternal,
		Connected:     v.ctx.client != nil,
		Seq:           v.seq,
		ReadOnly:      v.ctx.client == nil || v.ctx.client.ReadOnly(),
		LastSignature: v.lastSig,
	}
	if v.pendingDelete != nil {
		k := *v.pendingDelete
		s.PendingDelete = &k
	}
	if v.ctx.addr != nil {
		a := *v.ctx.addr
		s.Address = &a
	}
	return s
}

// publishLocked releases the lock and notifies listeners.
func (v *View) publishLocked() {
	v.seq++
	s := v.snapshotLocked()
	v.mu.Unlock()
	v.hub.Publish(s)
}

func (v *View) onUpdate(ctx context.Context, u program.Update) {
	next := viewContext{client: u.Client, isExternal: u.State.IsExternal}
	if u.State.EffectiveAddress != nil {
		a := *u.State.EffectiveAddress
		next.addr = &a
	}

	v.mu.Lock()
	if next.same(v.ctx) && v.epoch > 0 {
		v.ctx.isExternal = next.isExternal
		v.mu.Unlock()
		return
	}
	v.epoch++
	epoch := v.epoch
	v.ctx = next
	v.cache.clear()
	v.pendingDelete = nil
	v.errMsg = ""
	v.mutationState = MutationIdle
	v.listState = ListIdle

	fetch := next.addr != nil && next.client != nil && ctx.Err() == nil
	if fetch {
		v.listState = ListLoading
		v.busy++
		v.bg.Add(1)
	}
	v.log.Debug("notes: context changed", "address", addrString(next.addr), "connected", next.client != nil, "epoch", epoch)
	v.publishLocked()

	if fetch {
		go func() {
			defer v.bg.Done()
			_ = v.fetch(ctx, epoch, next)
		}()
	}
}

// Refresh re-fetches the list for the current address.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	switch {
	case v.ctx.addr == nil:
		v.mu.Unlock()
		return ErrNoAddress
	case v.ctx.client == nil:
		v.mu.Unlock()
		return ErrNoClient
	case v.busy > 0:
		v.mu.Unlock()
		return ErrBusy
	}
	epoch, vctx := v.epoch, v.ctx
	v.listState = ListLoading
	v.errMsg = ""
	v.busy++
	v.publishLocked()

	return v.fetch(ctx, epoch, vctx)
}

// fetch loads the list for vctx. The caller has already marked the view busy and loading.
func (v *View) fetch(ctx context.Context, epoch uint64, vctx viewContext) error {
	opID := uuid.NewString()
	log := v.log.With("op", opID, "address", vctx.addr.String())
	log.Debug("notes: fetch started")

	notes, err := vctx.client.FetchNotes(ctx, *vctx.addr)
	metrics.RecordFetch(err)

	v.mu.Lock()
	v.busy--
	if epoch != v.epoch {
		log.Info("notes: discarding stale fetch result", "error", err)
		v.publishLocked()
		return nil
	}
	if err != nil {
		log.Warn("notes: fetch failed", "error", err)
		v.listState = ListFailed
		v.errMsg = fmt.Sprintf("%s: %v", msgFetchFailed, err)
		v.publishLocked()
		return err
	}
	v.cache.replace(notes)
	v.listState = ListLoaded
	log.Debug("notes: fetch completed", "count", v.cache.len())
	v.publishLocked()
	return nil
}

// mutation is a claimed slot for a create, edit or delete.
type mutation struct {
	op    string
	id    string
	epoch uint64
	ctx   viewContext
	log   *slog.Logger
}

// beginLocked checks that a mutation can run and marks the view busy. On error the lock is
// still held.
func (v *View) beginLocked(op string) (*mutation, error) {
	if v.ctx.client == nil {
		return nil, ErrNoClient
	}
	if v.ctx.client.ReadOnly() {
		return nil, program.ErrNoWallet
	}
	if v.busy > 0 {
		metrics.RecordMutation(op, "busy")
		return nil, ErrBusy
	}
	v.busy++
	v.errMsg = ""
	v.mutationState = MutationSubmitting
	m := &mutation{op: op, id: uuid.NewString(), epoch: v.epoch, ctx: v.ctx}
	m.log = v.log.With("op", m.id, "operation", op)
	return m, nil
}

// finishLocked records the outcome of m and reports whether the result still applies to
// the current list. When it does not, nothing but the busy count is changed.
func (v *View) finishLocked(m *mutation, sig solana.Signature, err error) bool {
	v.busy--
	if m.epoch != v.epoch {
		m.log.Info("notes: discarding stale mutation result", "signature", sig.String(), "error", err)
		metrics.RecordMutation(m.op, "discarded")
		return false
	}
	if err != nil {
		status := "rejected"
		if pe, ok := program.ParseProgramError(err); ok {
			status = "program_error"
			m.log.Warn("notes: mutation rejected by program", "code", pe.Code, "reason", pe.Name, "error", err)
		} else {
			m.log.Warn("notes: mutation failed", "error", err)
		}
		metrics.RecordMutation(m.op, status)
		v.mutationState = MutationRejected
		v.errMsg = err.Error()
		return false
	}
	metrics.RecordMutation(m.op, "applied")
	v.mutationState = MutationApplied
	v.lastSig = sig
	m.log.Info("notes: mutation applied", "signature", sig.String())
	return true
}

func (v *View) rejectInputLocked(op string, verr *ValidationError) error {
	v.errMsg = verr.Message
	metrics.RecordMutation(op, "invalid")
	v.publishLocked()
	return verr
}

// Create initializes a note named name for the connected wallet. On success the note is
// put at the front of the list when the list belongs to the wallet.
func (v *View) Create(ctx context.Context, name, value string) (solana.Signature, error) {
	v.mu.Lock()
	if err := (validation.Errors{
		"name":  validation.Validate(strings.TrimSpace(name), validation.Required),
		"value": validation.Validate(strings.TrimSpace(value), validation.Required),
	}).Filter(); err != nil {
		return solana.Signature{}, v.rejectInputLocked("create", &ValidationError{Message: msgCreateFieldsRequired, Fields: err})
	}
	m, err := v.beginLocked("create")
	if err != nil {
		v.mu.Unlock()
		return solana.Signature{}, err
	}
	v.publishLocked()

	sig, err := m.ctx.client.InitializeNote(ctx, name, value)

	v.mu.Lock()
	if v.finishLocked(m, sig, err) {
		signer := m.ctx.client.Wallet().PublicKey()
		if v.ctx.addr != nil && v.ctx.addr.Equals(signer) {
			v.cache.prepend(program.Note{
				Author:   signer,
				InitTime: v.cfg.Clock.Now().Unix(),
				Name:     name,
				Value:    value,
			})
		}
	}
	v.publishLocked()
	return sig, err
}

// Edit replaces the value of the listed note identified by key.
func (v *View) Edit(ctx context.Context, key program.Key, value string) (solana.Signature, error) {
	v.mu.Lock()
	if err := validation.Validate(strings.TrimSpace(value), validation.Required); err != nil {
		return solana.Signature{}, v.rejectInputLocked("edit", &ValidationError{Message: msgEditValueRequired, Fields: err})
	}
	if _, ok := v.cache.get(key); !ok {
		v.mu.Unlock()
		return solana.Signature{}, ErrNotFound
	}
	m, err := v.beginLocked("edit")
	if err != nil {
		v.mu.Unlock()
		return solana.Signature{}, err
	}
	v.publishLocked()

	sig, err := m.ctx.client.EditNote(ctx, key, value)

	v.mu.Lock()
	if v.finishLocked(m, sig, err) {
		v.cache.setValue(key, value)
	}
	v.publishLocked()
	return sig, err
}

// RequestDelete opens the delete confirmation for the listed note identified by key.
func (v *View) RequestDelete(key program.Key) error {
	v.mu.Lock()
	if _, ok := v.cache.get(key); !ok {
		v.mu.Unlock()
		return ErrNotFound
	}
	v.pendingDelete = &key
	v.publishLocked()
	return nil
}

// CancelDelete dismisses the delete confirmation.
func (v *View) CancelDelete() {
	v.mu.Lock()
	if v.pendingDelete == nil {
		v.mu.Unlock()
		return
	}
	v.pendingDelete = nil
	v.publishLocked()
}

// ConfirmDelete closes the note awaiting confirmation. The confirmation is dismissed on
// success and kept open on failure.
func (v *View) ConfirmDelete(ctx context.Context) (solana.Signature, error) {
	v.mu.Lock()
	if v.pendingDelete == nil {
		v.mu.Unlock()
		return solana.Signature{}, ErrNotFound
	}
	key := *v.pendingDelete
	v.mu.Unlock()
	return v.Delete(ctx, key)
}

// Delete closes the listed note identified by key.
func (v *View) Delete(ctx context.Context, key program.Key) (solana.Signature, error) {
	v.mu.Lock()
	if _, ok := v.cache.get(key); !ok {
		v.mu.Unlock()
		return solana.Signature{}, ErrNotFound
	}
	m, err := v.beginLocked("delete")
	if err != nil {
		v.mu.Unlock()
		return solana.Signature{}, err
	}
	v.publishLocked()

	sig, err := m.ctx.client.CloseNote(ctx, key)

	v.mu.Lock()
	if v.finishLocked(m, sig, err) {
		v.cache.remove(key)
		if v.pendingDelete != nil && *v.pendingDelete == key {
			v.pendingDelete = nil
		}
	}
	v.publishLocked()
	return sig, err
}

// DismissError clears the error banner.
func (v *View) DismissError() {
	v.mu.Lock()
	v.errMsg = ""
	v.publishLocked()
}

func addrString(pk *solana.PublicKey) string {
	if pk == nil {
		return ""
	}
	return pk.String()
}
