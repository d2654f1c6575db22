package solrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/metrics"
)

// RPC is the subset of the Solana JSON-RPC client used by the notes client.
type RPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

// Stream is a push subscription yielding one number per notification: the slot for slot
// subscriptions, the lamport balance for account subscriptions.
type Stream interface {
	Recv(ctx context.Context) (uint64, error)
	Unsubscribe()
}

// Subscriber opens push subscriptions.
type Subscriber interface {
	SlotSubscribe(ctx context.Context) (Stream, error)
	AccountSubscribe(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (Stream, error)
	Close() error
}

// Conn is a live connection to one cluster.
type Conn struct {
	Cluster    cluster.Info
	RPC        RPC
	Subscriber Subscriber

	closeOnce sync.Once
	closeFn   func() error
}

// NewConn assembles a connection from parts. closeFn may be nil.
func NewConn(info cluster.Info, rpc RPC, sub Subscriber, closeFn func() error) *Conn {
	return &Conn{Cluster: info, RPC: rpc, Subscriber: sub, closeFn: closeFn}
}

// Close releases the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		var errs []error
		if c.Subscriber != nil {
			errs = append(errs, c.Subscriber.Close())
		}
		if c.closeFn != nil {
			errs = append(errs, c.closeFn())
		}
		err = errors.Join(errs...)
	})
	return err
}

// DialFunc builds a connection for a cluster.
type DialFunc func(info cluster.Info) (*Conn, error)

// Dial builds an instrumented connection to info. The HTTP client connects per request
// and the websocket is opened on first subscription, so Dial does no network I/O.
func Dial(info cluster.Info) (*Conn, error) {
	if info.Endpoint == "" {
		return nil, errors.New("cluster endpoint is required")
	}
	client := solanarpc.New(info.Endpoint)
	return NewConn(
		info,
		Instrument(info.Name, client),
		NewWSSubscriber(info.WSEndpoint),
		client.Close,
	), nil
}

type instrumentedRPC struct {
	cluster string
	next    RPC
}

// Instrument wraps rpc so every call is recorded in metrics.
func Instrument(clusterName string, rpc RPC) RPC {
	return &instrumentedRPC{cluster: clusterName, next: rpc}
}

func (r *instrumentedRPC) observe(method string, start time.Time, err error) {
	metrics.RecordRPC(r.cluster, method, time.Since(start), err)
}

func (r *instrumentedRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	start := time.Now()
	out, err := r.next.GetBalance(ctx, account, commitment)
	r.observe("getBalance", start, err)
	return out, err
}

func (r *instrumentedRPC) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
	start := time.Now()
	out, err := r.next.GetProgramAccountsWithOpts(ctx, program, opts)
	r.observe("getProgramAccounts", start, err)
	return out, err
}

func (r *instrumentedRPC) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	start := time.Now()
	out, err := r.next.GetLatestBlockhash(ctx, commitment)
	r.observe("getLatestBlockhash", start, err)
	return out, err
}

func (r *instrumentedRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	start := time.Now()
	sig, err := r.next.SendTransactionWithOpts(ctx, tx, opts)
	r.observe("sendTransaction", start, err)
	return sig, err
}

func (r *instrumentedRPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	start := time.Now()
	out, err := r.next.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
	r.observe("getSignatureStatuses", start, err)
	return out, err
}

// WSSubscriber opens subscriptions over a single lazily dialed websocket.
type WSSubscriber struct {
	endpoint string

	mu     sync.Mutex
	client *ws.Client
	closed bool
}

func NewWSSubscriber(endpoint string) *WSSubscriber {
	return &WSSubscriber{endpoint: endpoint}
}

func (s *WSSubscriber) conn(ctx context.Context) (*ws.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("subscriber is closed")
	}
	if s.client != nil {
		return s.client, nil
	}
	if s.endpoint == "" {
		return nil, errors.New("websocket endpoint is required")
	}
	client, err := ws.Connect(ctx, s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *WSSubscriber) SlotSubscribe(ctx context.Context) (Stream, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := client.SlotSubscribe()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to slots: %w", err)
	}
	return &slotStream{sub: sub}, nil
}

func (s *WSSubscriber) AccountSubscribe(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (Stream, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := client.AccountSubscribe(account, commitment)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to account: %w", err)
	}
	return &accountStream{sub: sub}, nil
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return nil
}

type slotStream struct {
	sub *ws.SlotSubscription
}

func (s *slotStream) Recv(ctx context.Context) (uint64, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return 0, err
	}
	return res.Slot, nil
}

func (s *slotStream) Unsubscribe() { s.sub.Unsubscribe() }

type accountStream struct {
	sub *ws.AccountSubscription
}

func (s *accountStream) Recv(ctx context.Context) (uint64, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return 0, err
	}
	return res.Value.Lamports, nil
}

func (s *accountStream) Unsubscribe() { s.sub.Unsubscribe() }
