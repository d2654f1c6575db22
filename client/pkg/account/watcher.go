package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/metrics"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/utils/pkg/broadcast"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Session is the part of session.Session the watcher depends on.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

type WatcherConfig struct {
	Logger  *slog.Logger
	Session Session

	// Commitment for the account subscription and the initial balance pull.
	Commitment solanarpc.CommitmentType
}

func (cfg *WatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	return nil
}

// Data is the live view of the effective address.
type Data struct {
	Address  *solana.PublicKey
	Slot     uint64
	Lamports uint64
	// Balance is Lamports in SOL.
	Balance decimal.Decimal
}

// BalanceString formats the balance with four decimals.
func (d Data) BalanceString() string {
	return d.Balance.StringFixed(4)
}

func newData(addr *solana.PublicKey) Data {
	return Data{Address: addr, Balance: decimal.Zero}
}

// LamportsToSOL converts a lamport amount to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

type attachKey struct {
	addr    solana.PublicKey
	hasAddr bool
	connGen uint64
}

type attachment struct {
	id      uint64
	cancel  context.CancelFunc
	streams []solrpc.Stream
	group   *errgroup.Group
}

// Watcher keeps the slot and balance of the session's effective address current. It
// re-attaches whenever the effective address or the connection changes, detaching the
// previous subscriptions first.
type Watcher struct {
	log *slog.Logger
	cfg WatcherConfig
	hub *broadcast.Hub[Data]

	// attachMu serialises attach and detach.
	attachMu sync.Mutex
	key      attachKey
	keySet   bool
	gen      uint64
	current  *attachment
	nextID   uint64
	unsub    func()
	closed   bool

	mu       sync.Mutex
	data     Data
	activeID uint64

	readyOnce sync.Once
	readyCh   chan struct{}
	closeOnce sync.Once
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Watcher{
		log:     cfg.Logger,
		cfg:     cfg,
		hub:     broadcast.NewHub[Data](),
		data:    newData(nil),
		readyCh: make(chan struct{}),
	}, nil
}

// Start attaches to the current effective address and follows session changes until ctx
// is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.attachMu.Lock()
	w.unsub = w.cfg.Session.Subscribe(func(st session.State) {
		w.apply(ctx, st)
	})
	w.attachMu.Unlock()

	w.apply(ctx, w.cfg.Session.State())

	go func() {
		<-ctx.Done()
		w.Close()
	}()
}

func (w *Watcher) Ready() bool {
	select {
	case <-w.readyCh:
		return true
	default:
		return false
	}
}

func (w *Watcher) WaitReady(ctx context.Context) error {
	select {
	case <-w.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for account watcher: %w", ctx.Err())
	}
}

// Data returns the latest slot and balance.
func (w *Watcher) Data() Data {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.data
}

// Subscribe registers fn for data updates. fn runs on the goroutine that received the
// update.
func (w *Watcher) Subscribe(fn func(Data)) (unsubscribe func()) {
	return w.hub.Subscribe(fn)
}

// Close detaches all subscriptions and stops following the session.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.attachMu.Lock()
		defer w.attachMu.Unlock()
		if w.unsub != nil {
			w.unsub()
		}
		w.detachLocked()
		w.closed = true
	})
}

func (w *Watcher) apply(ctx context.Context, st session.State) {
	w.attachMu.Lock()
	defer w.attachMu.Unlock()
	defer w.readyOnce.Do(func() { close(w.readyCh) })

	key := attachKey{connGen: st.ConnGeneration}
	if st.EffectiveAddress != nil {
		key.addr = *st.EffectiveAddress
		key.hasAddr = true
	}
	if w.closed || st.Generation < w.gen || (w.keySet && key == w.key) {
		return
	}
	w.gen = st.Generation
	w.key = key
	w.keySet = true

	w.detachLocked()

	w.nextID++
	id := w.nextID
	var addr *solana.PublicKey
	if key.hasAddr {
		a := key.addr
		addr = &a
	}
	w.set(id, newData(addr))

	if !key.hasAddr || st.Conn == nil || ctx.Err() != nil {
		return
	}
	w.attachLocked(ctx, id, key.addr, st.Conn)
}

func (w *Watcher) attachLocked(ctx context.Context, id uint64, addr solana.PublicKey, conn *solrpc.Conn) {
	subCtx, cancel := context.WithCancel(ctx)
	a := &attachment{id: id, cancel: cancel, group: &errgroup.Group{}}
	w.current = a

	log := w.log.With("address", addr.String(), "cluster", conn.Cluster.Name)

	if conn.Subscriber != nil {
		slots, err := conn.Subscriber.SlotSubscribe(subCtx)
		if err != nil {
			log.Debug("account: slot subscription failed", "error", err)
			metrics.SubscriptionErrorsTotal.WithLabelValues("slot").Inc()
		} else {
			a.streams = append(a.streams, slots)
			metrics.ActiveSubscriptions.Inc()
			a.group.Go(func() error {
				w.receive(subCtx, log, id, "slot", slots, func(d *Data, v uint64) { d.Slot = v })
				return nil
			})
		}

		balance, err := conn.Subscriber.AccountSubscribe(subCtx, addr, w.cfg.Commitment)
		if err != nil {
			log.Debug("account: account subscription failed", "error", err)
			metrics.SubscriptionErrorsTotal.WithLabelValues("account").Inc()
		} else {
			a.streams = append(a.streams, balance)
			metrics.ActiveSubscriptions.Inc()
			a.group.Go(func() error {
				w.receive(subCtx, log, id, "account", balance, func(d *Data, v uint64) { d.Lamports = v })
				return nil
			})
		}
	}

	if conn.RPC != nil {
		a.group.Go(func() error {
			res, err := conn.RPC.GetBalance(subCtx, addr, w.cfg.Commitment)
			if err != nil {
				if subCtx.Err() == nil {
					log.Debug("account: initial balance failed", "error", err)
				}
				return nil
			}
			w.update(id, func(d *Data) {
				d.Lamports = res.Value
				if res.Context.Slot > d.Slot {
					d.Slot = res.Context.Slot
				}
			})
			return nil
		})
	}

	log.Debug("account: attached", "streams", len(a.streams))
}

func (w *Watcher) receive(ctx context.Context, log *slog.Logger, id uint64, kind string, stream solrpc.Stream, patch func(*Data, uint64)) {
	for {
		v, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("account: subscription ended", "kind", kind, "error", err)
				metrics.SubscriptionErrorsTotal.WithLabelValues(kind).Inc()
			}
			return
		}
		metrics.SubscriptionUpdatesTotal.WithLabelValues(kind).Inc()
		w.update(id, func(d *Data) { patch(d, v) })
	}
}

// detachLocked cancels the current attachment, unsubscribes its streams and waits for
// its goroutines to return.
func (w *Watcher) detachLocked() {
	a := w.current
	if a == nil {
		return
	}
	w.current = nil
	a.cancel()
	for _, s := range a.streams {
		s.Unsubscribe()
		metrics.ActiveSubscriptions.Dec()
	}
	_ = a.group.Wait()
	w.log.Debug("account: detached", "streams", len(a.streams))
}

func (w *Watcher) set(id uint64, d Data) {
	w.mu.Lock()
	w.activeID = id
	w.data = d
	w.mu.Unlock()
	w.hub.Publish(d)
}

// update patches the data if id is still the active attachment.
func (w *Watcher) update(id uint64, patch func(*Data)) {
	w.mu.Lock()
	if id != w.activeID {
		w.mu.Unlock()
		return
	}
	patch(&w.data)
	w.data.Balance = LamportsToSOL(w.data.Lamports)
	d := w.data
	w.mu.Unlock()
	w.hub.Publish(d)
}
