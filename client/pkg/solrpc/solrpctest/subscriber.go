// Package solrpctest provides in-memory push subscriptions for tests.
package solrpctest

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
)

// ErrUnsubscribed is returned by Recv once the stream is unsubscribed.
var ErrUnsubscribed = errors.New("unsubscribed")

// Stream is a channel-fed solrpc.Stream.
type Stream struct {
	Account solana.PublicKey

	ch       chan uint64
	errCh    chan error
	done     chan struct{}
	doneOnce sync.Once
}

func newStream(account solana.PublicKey) *Stream {
	return &Stream{
		Account: account,
		ch:      make(chan uint64),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Push delivers v to the receiver. It reports false if the stream was unsubscribed
// before the value was taken.
func (s *Stream) Push(v uint64) bool {
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// Fail ends the stream with err on the next Recv.
func (s *Stream) Fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Stream) Recv(ctx context.Context) (uint64, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case err := <-s.errCh:
		return 0, err
	case <-s.done:
		return 0, ErrUnsubscribed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Stream) Unsubscribe() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Unsubscribed reports whether Unsubscribe was called.
func (s *Stream) Unsubscribed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Subscriber is an in-memory solrpc.Subscriber recording every stream it opens.
type Subscriber struct {
	mu       sync.Mutex
	slots    []*Stream
	accounts []*Stream
	closed   bool

	// SubscribeErr, when set, is returned by both subscribe methods.
	SubscribeErr error
	// BeforeSubscribe, when set, is called at the start of both subscribe methods.
	BeforeSubscribe func()
}

var _ solrpc.Subscriber = (*Subscriber)(nil)

func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

func (s *Subscriber) SlotSubscribe(ctx context.Context) (solrpc.Stream, error) {
	if s.BeforeSubscribe != nil {
		s.BeforeSubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	st := newStream(solana.PublicKey{})
	s.slots = append(s.slots, st)
	return st, nil
}

func (s *Subscriber) AccountSubscribe(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (solrpc.Stream, error) {
	if s.BeforeSubscribe != nil {
		s.BeforeSubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	st := newStream(account)
	s.accounts = append(s.accounts, st)
	return st, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SlotStreams returns the slot streams opened so far, oldest first.
func (s *Subscriber) SlotStreams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.slots...)
}

// AccountStreams returns the account streams opened so far, oldest first.
func (s *Subscriber) AccountStreams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.accounts...)
}

// Active returns the number of streams not yet unsubscribed.
func (s *Subscriber) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range append(append([]*Stream(nil), s.slots...), s.accounts...) {
		if !st.Unsubscribed() {
			n++
		}
	}
	return n
}
