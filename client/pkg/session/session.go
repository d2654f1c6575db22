package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/metrics"
	"github.com/malbeclabs/notes/client/pkg/prefs"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/malbeclabs/notes/utils/pkg/broadcast"
)

type Config struct {
	Logger   *slog.Logger
	Registry *cluster.Registry
	Prefs    prefs.Store
	Dial     solrpc.DialFunc

	// Wallet is the initially connected wallet. Optional.
	Wallet wallet.Wallet
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Prefs == nil {
		return errors.New("prefs store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = cluster.DefaultRegistry()
	}
	if cfg.Dial == nil {
		cfg.Dial = solrpc.Dial
	}
	return nil
}

// State is a snapshot of the session.
type State struct {
	Cluster         cluster.Info
	WalletAddress   *solana.PublicKey
	ExternalAddress *solana.PublicKey

	// EffectiveAddress is the external address when it is set and differs from the
	// wallet address, the wallet address otherwise. Nil when neither is available.
	EffectiveAddress *solana.PublicKey
	IsExternal       bool
	WalletConnected  bool

	// Conn and Wallet are the live connection and wallet at the time of the snapshot.
	Conn   *solrpc.Conn  `json:"-"`
	Wallet wallet.Wallet `json:"-"`

	// ConnGeneration increases each time the connection is rebuilt.
	ConnGeneration uint64
	// Generation increases on every state change.
	Generation uint64
}

// ClusterName returns the active cluster's name.
func (s State) ClusterName() string { return s.Cluster.Name }

// Session is the process's single connection and wallet context. It owns the live
// connection and is the only writer of cluster, wallet and viewing-address state.
type Session struct {
	log *slog.Logger
	cfg Config
	hub *broadcast.Hub[State]

	// pubMu is held from a state change until its listeners have run, so listeners see
	// states in generation order.
	pubMu sync.Mutex

	mu       sync.Mutex
	cluster  cluster.Info
	conn     *solrpc.Conn
	wallet   wallet.Wallet
	external *solana.PublicKey
	connGen  uint64
	gen      uint64
	closed   bool
}

// New restores the persisted cluster choice and dials it. Unknown or missing names
// resolve to the first registered cluster.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	saved, err := cfg.Prefs.ClusterName()
	if err != nil {
		cfg.Logger.Warn("session: failed to read saved cluster, using default", "error", err)
	}
	info := cfg.Registry.Resolve(saved)

	conn, err := cfg.Dial(info)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", info.Name, err)
	}

	s := &Session{
		log:     cfg.Logger,
		cfg:     cfg,
		hub:     broadcast.NewHub[State](),
		cluster: info,
		conn:    conn,
		wallet:  cfg.Wallet,
		connGen: 1,
		gen:     1,
	}
	if saved != info.Name {
		if err := cfg.Prefs.SetClusterName(info.Name); err != nil {
			s.log.Warn("session: failed to persist cluster", "cluster", info.Name, "error", err)
		}
	}
	s.log.Debug("session: started", "cluster", info.Name, "endpoint", info.Endpoint)
	return s, nil
}

// Subscribe registers fn for state changes. fn runs synchronously on the goroutine that
// made the change, after the session lock is released, and states arrive in generation
// order. fn must not change the session.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		Cluster:        s.cluster,
		Conn:           s.conn,
		ConnGeneration: s.connGen,
		Generation:     s.gen,
	}
	if s.wallet != nil {
		st.Wallet = s.wallet
		pk := s.wallet.PublicKey()
		st.WalletAddress = &pk
		st.WalletConnected = true
	}
	if s.external != nil {
		ext := *s.external
		st.ExternalAddress = &ext
	}
	switch {
	case st.ExternalAddress != nil && (st.WalletAddress == nil || !st.ExternalAddress.Equals(*st.WalletAddress)):
		st.EffectiveAddress = st.ExternalAddress
		st.IsExternal = true
	case st.WalletAddress != nil:
		st.EffectiveAddress = st.WalletAddress
	}
	return st
}

// EffectiveAddress returns the address currently being viewed.
func (s *Session) EffectiveAddress() (solana.PublicKey, bool) {
	st := s.State()
	if st.EffectiveAddress == nil {
		return solana.PublicKey{}, false
	}
	return *st.EffectiveAddress, true
}

func (s *Session) ClusterName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cluster.Name
}

// Cluster returns the active cluster.
func (s *Session) Cluster() cluster.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cluster
}

// Clusters returns the registered clusters.
func (s *Session) Clusters() []cluster.Info {
	return s.cfg.Registry.All()
}

// Conn returns the live connection, nil once the session is closed.
func (s *Session) Conn() *solrpc.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Wallet returns the connected wallet, nil when none is connected.
func (s *Session) Wallet() wallet.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet
}

// SetClusterName switches to the named cluster, falling back to the first registered
// cluster for unknown names. Listeners are notified before the previous connection is
// closed so they can detach from it. A persistence failure is returned after the switch
// has been applied.
func (s *Session) SetClusterName(name string) error {
	info := s.cfg.Registry.Resolve(name)
	if info.Name != name {
		s.log.Warn("session: unknown cluster, using default", "requested", name, "cluster", info.Name)
	}

	conn, err := s.cfg.Dial(info)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", info.Name, err)
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errors.New("session is closed")
	}
	old := s.conn
	s.cluster = info
	s.conn = conn
	s.connGen++
	s.gen++
	st := s.stateLocked()
	s.mu.Unlock()

	metrics.ClusterSwitchesTotal.WithLabelValues(info.Name).Inc()
	s.log.Info("session: cluster switched", "cluster", info.Name, "endpoint", info.Endpoint)

	persistErr := s.cfg.Prefs.SetClusterName(info.Name)
	if persistErr != nil {
		s.log.Warn("session: failed to persist cluster", "cluster", info.Name, "error", persistErr)
	}

	s.hub.Publish(st)

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Debug("session: failed to close previous connection", "error", err)
		}
	}
	if persistErr != nil {
		return fmt.Errorf("failed to persist cluster choice: %w", persistErr)
	}
	return nil
}

// SetExternalAddress sets the read-only viewing address. Nil, or the wallet's own
// address, clears the override.
func (s *Session) SetExternalAddress(addr *solana.PublicKey) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	var next *solana.PublicKey
	if addr != nil && (s.wallet == nil || !addr.Equals(s.wallet.PublicKey())) {
		a := *addr
		next = &a
	}
	if equalAddr(s.external, next) {
		s.mu.Unlock()
		return
	}
	s.external = next
	s.gen++
	st := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("session: viewing address changed", "address", addrString(st.EffectiveAddress), "external", st.IsExternal)
	s.hub.Publish(st)
}

// ResetToWallet clears the viewing address override.
func (s *Session) ResetToWallet() {
	s.SetExternalAddress(nil)
}

// ConnectWallet makes w the connected wallet. An external address equal to the new
// wallet's address stops being an override.
func (s *Session) ConnectWallet(w wallet.Wallet) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.wallet = w
	if w != nil && s.external != nil && s.external.Equals(w.PublicKey()) {
		s.external = nil
	}
	s.gen++
	st := s.stateLocked()
	s.mu.Unlock()

	s.log.Info("session: wallet changed", "wallet", addrString(st.WalletAddress))
	s.hub.Publish(st)
}

func (s *Session) DisconnectWallet() {
	s.ConnectWallet(nil)
}

// Close closes the live connection. Listeners are not notified.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.closed = true
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func equalAddr(a, b *solana.PublicKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(*b)
}

func addrString(pk *solana.PublicKey) string {
	if pk == nil {
		return ""
	}
	return pk.String()
}
