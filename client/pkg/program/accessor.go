package program

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/utils/pkg/broadcast"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"golang.org/x/time/rate"
)

// Session is the part of session.Session the accessor depends on.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

type AccessorConfig struct {
	Logger  *slog.Logger
	Session Session

	// Optional settings passed to every client.
	Confirm     retry.Config
	ReadLimiter *rate.Limiter
}

func (cfg *AccessorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	return nil
}

// Update is delivered to accessor listeners after every session change, once the client
// has been rebuilt if needed.
type Update struct {
	Client *Client
	State  session.State
}

type clientKey struct {
	connGen   uint64
	hasWallet bool
	wallet    solana.PublicKey
}

// Accessor keeps a Client matching the session's current connection and wallet.
type Accessor struct {
	log *slog.Logger
	cfg AccessorConfig
	hub *broadcast.Hub[Update]

	// applyMu serialises session changes so updates are delivered in order.
	applyMu sync.Mutex

	mu     sync.Mutex
	key    clientKey
	client *Client
	last   Update
	unsub  func()
}

// NewAccessor builds the client for the current session state and follows later changes.
// Call Close to stop following.
func NewAccessor(cfg AccessorConfig) (*Accessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Accessor{
		log: cfg.Logger,
		cfg: cfg,
		hub: broadcast.NewHub[Update](),
	}
	a.unsub = cfg.Session.Subscribe(a.apply)
	a.applyMu.Lock()
	a.rebuild(cfg.Session.State())
	a.applyMu.Unlock()
	return a, nil
}

// Client returns the current client, nil when there is no connection.
func (a *Accessor) Client() *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Current returns the latest update.
func (a *Accessor) Current() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Subscribe registers fn for updates.
func (a *Accessor) Subscribe(fn func(Update)) (unsubscribe func()) {
	return a.hub.Subscribe(fn)
}

func (a *Accessor) Close() {
	a.mu.Lock()
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (a *Accessor) apply(st session.State) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.mu.Lock()
	stale := st.Generation < a.last.State.Generation
	a.mu.Unlock()
	if stale {
		return
	}
	a.hub.Publish(a.rebuild(st))
}

func (a *Accessor) rebuild(st session.State) Update {
	key := clientKey{connGen: st.ConnGeneration}
	if st.Wallet != nil {
		key.hasWallet = true
		key.wallet = st.Wallet.PublicKey()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() { a.last = Update{Client: a.client, State: st} }()

	if a.client != nil && key == a.key {
		return Update{Client: a.client, State: st}
	}
	a.key = key
	a.client = nil

	if st.Conn == nil || st.Conn.RPC == nil {
		return Update{State: st}
	}
	client, err := NewClient(ClientConfig{
		Logger:      a.log,
		RPC:         st.Conn.RPC,
		Wallet:      st.Wallet,
		Confirm:     a.cfg.Confirm,
		ReadLimiter: a.cfg.ReadLimiter,
	})
	if err != nil {
		a.log.Error("program: failed to build client", "error", err)
		return Update{State: st}
	}
	a.client = client
	a.log.Debug("program: client rebuilt", "cluster", st.Cluster.Name, "readOnly", client.ReadOnly())
	return Update{Client: client, State: st}
}
