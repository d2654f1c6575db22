package notes_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/prefs"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/program/programtest"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc/solrpctest"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	notestesting "github.com/malbeclabs/notes/utils/pkg/testing"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var startTime = time.Unix(1_700_000_000, 0)

type fixture struct {
	session *session.Session
	view    *notes.View
	clock   *clockwork.FakeClock
	ledgers map[string]*programtest.Ledger
}

func (f *fixture) ledger() *programtest.Ledger {
	return f.ledgers[f.session.ClusterName()]
}

func newWallet(t *testing.T) *wallet.Keypair {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	kp, err := wallet.NewKeypair(key)
	require.NoError(t, err)
	return kp
}

func newFixture(t *testing.T, w wallet.Wallet, setup func(l *programtest.Ledger)) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(startTime)
	f := &fixture{clock: clock, ledgers: map[string]*programtest.Ledger{}}
	for _, name := range cluster.DefaultRegistry().Names() {
		l := programtest.NewLedger(clock)
		if setup != nil {
			setup(l)
		}
		f.ledgers[name] = l
	}

	s, err := session.New(session.Config{
		Logger: notestesting.NewLogger(),
		Prefs:  prefs.NewMemoryStore(""),
		Dial: func(info cluster.Info) (*solrpc.Conn, error) {
			return solrpc.NewConn(info, f.ledgers[info.Name], solrpctest.NewSubscriber(), nil), nil
		},
		Wallet: w,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	f.session = s

	accessor, err := program.NewAccessor(program.AccessorConfig{
		Logger:  notestesting.NewLogger(),
		Session: s,
		Confirm: retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(accessor.Close)

	view, err := notes.NewView(notes.ViewConfig{
		Logger:   notestesting.NewLogger(),
		Accessor: accessor,
		Clock:    clock,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		view.Close()
	})
	view.Start(ctx)
	f.view = view
	return f
}

func (f *fixture) waitLoaded(t *testing.T) notes.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		s := f.view.Snapshot()
		return s.ListState == notes.ListLoaded && !s.Busy
	}, waitFor, 5*time.Millisecond)
	return f.view.Snapshot()
}

// blockSends makes the ledger hold every transaction until the returned release is called.
// started receives one value per transaction that reached the ledger.
func blockSends(l *programtest.Ledger) (started <-chan struct{}, release func()) {
	startedCh := make(chan struct{}, 8)
	gate := make(chan struct{})
	var once sync.Once
	l.BeforeSend = func(*solana.Transaction) {
		startedCh <- struct{}{}
		<-gate
	}
	return startedCh, func() { once.Do(func() { close(gate) }) }
}

func TestNotes_Notes_ViewConfig(t *testing.T) {
	t.Parallel()

	_, err := notes.NewView(notes.ViewConfig{})
	require.Error(t, err)

	_, err = notes.NewView(notes.ViewConfig{Logger: notestesting.NewLogger()})
	require.Error(t, err)
}

func TestNotes_Notes_TodoScenario(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, nil)
	ctx := context.Background()

	snap := f.waitLoaded(t)
	require.Empty(t, snap.Notes)
	require.Equal(t, alice.PublicKey(), *snap.Address)
	require.False(t, snap.ReadOnly)

	f.clock.Advance(5 * time.Second)
	sig, err := f.view.Create(ctx, "todo", "buy milk")
	require.NoError(t, err)
	require.NotEqual(t, solana.Signature{}, sig)

	snap = f.view.Snapshot()
	require.Equal(t, notes.MutationApplied, snap.MutationState)
	require.Equal(t, sig, snap.LastSignature)
	require.Equal(t, []program.Note{{
		Author:   alice.PublicKey(),
		InitTime: startTime.Add(5 * time.Second).Unix(),
		Name:     "todo",
		Value:    "buy milk",
	}}, snap.Notes)

	// The remote state matches the optimistic entry.
	require.NoError(t, f.view.Refresh(ctx))
	snap = f.view.Snapshot()
	require.Len(t, snap.Notes, 1)
	require.Equal(t, "buy milk", snap.Notes[0].Value)
	key := snap.Notes[0].Key()

	_, err = f.view.Edit(ctx, key, "buy oat milk")
	require.NoError(t, err)
	require.Equal(t, "buy oat milk", f.view.Snapshot().Notes[0].Value)

	require.NoError(t, f.view.RequestDelete(key))
	require.Equal(t, key, *f.view.Snapshot().PendingDelete)
	_, err = f.view.ConfirmDelete(ctx)
	require.NoError(t, err)

	snap = f.view.Snapshot()
	require.Empty(t, snap.Notes)
	require.Nil(t, snap.PendingDelete)

	require.NoError(t, f.view.Refresh(ctx))
	require.Empty(t, f.view.Snapshot().Notes)
	require.Zero(t, f.ledger().NoteCount())
}

func TestNotes_Notes_CreatePrependsToExistingList(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice.PublicKey(), Name: "first", Value: "1", InitTime: 1})
		require.NoError(t, err)
	})
	require.Len(t, f.waitLoaded(t).Notes, 1)

	_, err := f.view.Create(context.Background(), "second", "2")
	require.NoError(t, err)

	got := f.view.Snapshot().Notes
	require.Len(t, got, 2)
	require.Equal(t, "second", got[0].Name)
	require.Equal(t, "first", got[1].Name)
}

func TestNotes_Notes_ValidationHappensBeforeRPC(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice.PublicKey(), Name: "todo", Value: "x"})
		require.NoError(t, err)
	})
	snap := f.waitLoaded(t)
	ctx := context.Background()

	for _, in := range [][2]string{{"", "x"}, {"x", ""}, {"   ", "x"}, {"x", "\t\n"}} {
		_, err := f.view.Create(ctx, in[0], in[1])
		require.ErrorIs(t, err, notes.ErrValidation)
		require.EqualError(t, err, "Please fill in both name and value fields")
		require.Equal(t, "Please fill in both name and value fields", f.view.Snapshot().Error)
	}

	_, err := f.view.Edit(ctx, snap.Notes[0].Key(), "  ")
	require.ErrorIs(t, err, notes.ErrValidation)
	require.Equal(t, "Note content cannot be empty", f.view.Snapshot().Error)

	var verr *notes.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Error(t, verr.Fields)

	require.Zero(t, f.ledger().Sent())
	require.Equal(t, snap.Notes, f.view.Snapshot().Notes)

	f.view.DismissError()
	require.Empty(t, f.view.Snapshot().Error)
}

func TestNotes_Notes_NonOwnerEditIsRejected(t *testing.T) {
	t.Parallel()

	alice := solana.NewWallet().PublicKey()
	bob := newWallet(t)
	f := newFixture(t, bob, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice, Name: "todo", Value: "buy milk"})
		require.NoError(t, err)
	})
	f.waitLoaded(t)

	f.session.SetExternalAddress(&alice)
	snap := f.waitLoaded(t)
	require.True(t, snap.IsExternal)
	require.Len(t, snap.Notes, 1)

	_, err := f.view.Edit(context.Background(), snap.Notes[0].Key(), "hijacked")
	require.Error(t, err)

	after := f.view.Snapshot()
	require.Equal(t, notes.MutationRejected, after.MutationState)
	require.Equal(t, err.Error(), after.Error)
	require.Equal(t, "buy milk", after.Notes[0].Value)

	_, err = f.view.Delete(context.Background(), snap.Notes[0].Key())
	require.Error(t, err)
	require.Len(t, f.view.Snapshot().Notes, 1)
	require.Equal(t, 1, f.ledger().NoteCount())
}

func TestNotes_Notes_CreateInExternalModeDoesNotTouchList(t *testing.T) {
	t.Parallel()

	alice := solana.NewWallet().PublicKey()
	bob := newWallet(t)
	f := newFixture(t, bob, nil)
	f.waitLoaded(t)
	f.session.SetExternalAddress(&alice)
	f.waitLoaded(t)

	_, err := f.view.Create(context.Background(), "mine", "x")
	require.NoError(t, err)
	require.Empty(t, f.view.Snapshot().Notes)
	require.Equal(t, 1, f.ledger().NoteCount())
}

func TestNotes_Notes_DeleteFailureKeepsPrompt(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice.PublicKey(), Name: "todo", Value: "x"})
		require.NoError(t, err)
	})
	key := f.waitLoaded(t).Notes[0].Key()

	require.NoError(t, f.view.RequestDelete(key))
	f.ledger().FailNext("sendTransaction", errors.New("insufficient funds for fee"))

	_, err := f.view.ConfirmDelete(context.Background())
	require.EqualError(t, err, "insufficient funds for fee")

	snap := f.view.Snapshot()
	require.Equal(t, "insufficient funds for fee", snap.Error)
	require.NotNil(t, snap.PendingDelete)
	require.Len(t, snap.Notes, 1)

	f.view.CancelDelete()
	require.Nil(t, f.view.Snapshot().PendingDelete)

	_, err = f.view.ConfirmDelete(context.Background())
	require.ErrorIs(t, err, notes.ErrNotFound)
	require.ErrorIs(t, f.view.RequestDelete(program.Key{Name: "missing"}), notes.ErrNotFound)
}

func TestNotes_Notes_FetchFailureKeepsList(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice.PublicKey(), Name: "todo", Value: "x"})
		require.NoError(t, err)
	})
	before := f.waitLoaded(t)

	f.ledger().FailNext("getProgramAccounts", errors.New("503 Service Unavailable"))
	err := f.view.Refresh(context.Background())
	require.ErrorContains(t, err, "503 Service Unavailable")

	snap := f.view.Snapshot()
	require.Equal(t, notes.ListFailed, snap.ListState)
	require.Contains(t, snap.Error, "Failed to fetch notes")
	require.Contains(t, snap.Error, "503 Service Unavailable")
	require.Equal(t, before.Notes, snap.Notes)

	require.NoError(t, f.view.Refresh(context.Background()))
	require.Empty(t, f.view.Snapshot().Error)
	require.Equal(t, notes.ListLoaded, f.view.Snapshot().ListState)
}

func TestNotes_Notes_BusyRejectsConcurrentOperations(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, func(l *programtest.Ledger) {
		_, err := l.PutNote(program.Note{Author: alice.PublicKey(), Name: "todo", Value: "x"})
		require.NoError(t, err)
	})
	key := f.waitLoaded(t).Notes[0].Key()
	started, release := blockSends(f.ledger())
	defer release()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := f.view.Create(ctx, "second", "y")
		done <- err
	}()
	<-started
	require.True(t, f.view.Snapshot().Busy)
	require.Equal(t, notes.MutationSubmitting, f.view.Snapshot().MutationState)

	_, err := f.view.Create(ctx, "third", "z")
	require.ErrorIs(t, err, notes.ErrBusy)
	_, err = f.view.Edit(ctx, key, "changed")
	require.ErrorIs(t, err, notes.ErrBusy)
	_, err = f.view.Delete(ctx, key)
	require.ErrorIs(t, err, notes.ErrBusy)
	require.ErrorIs(t, f.view.Refresh(ctx), notes.ErrBusy)

	release()
	require.NoError(t, <-done)
	require.False(t, f.view.Snapshot().Busy)
	require.Equal(t, 1, f.ledger().Sent())
}

func TestNotes_Notes_SnapshotsCarryIncreasingSeq(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, nil)
	loaded := f.waitLoaded(t)

	var (
		mu  sync.Mutex
		got []notes.Snapshot
	)
	unsub := f.view.Subscribe(func(s notes.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})
	defer unsub()

	started, release := blockSends(f.ledger())
	defer release()
	done := make(chan error, 1)
	go func() {
		_, err := f.view.Create(context.Background(), "todo", "buy milk")
		done <- err
	}()
	<-started
	busy := f.view.Snapshot()
	require.True(t, busy.Busy)
	require.Greater(t, busy.Seq, loaded.Seq)

	release()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	latest := got[0]
	seen := map[uint64]bool{}
	for _, s := range got {
		require.False(t, seen[s.Seq], "seq %d published twice", s.Seq)
		seen[s.Seq] = true
		if s.Seq > latest.Seq {
			latest = s
		}
	}
	// Whatever order listeners saw them in, the highest Seq is the settled state.
	require.False(t, latest.Busy)
	require.Equal(t, notes.MutationApplied, latest.MutationState)
	require.Equal(t, f.view.Snapshot().Seq, latest.Seq)
}

func TestNotes_Notes_StaleMutationIsDiscarded(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	other := solana.NewWallet().PublicKey()
	f := newFixture(t, alice, nil)
	f.waitLoaded(t)
	started, release := blockSends(f.ledger())
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := f.view.Create(context.Background(), "todo", "buy milk")
		done <- err
	}()
	<-started

	// The viewed address changes while the create is in flight.
	f.session.SetExternalAddress(&other)
	f.session.ResetToWallet()

	release()
	require.NoError(t, <-done)

	// The note landed remotely, but the local list of the new context was not patched;
	// it only shows up through a fetch.
	require.Equal(t, 1, f.ledger().NoteCount())
	snap := f.waitLoaded(t)
	require.NotEqual(t, notes.MutationApplied, snap.MutationState)
}

func TestNotes_Notes_ContextChanges(t *testing.T) {
	t.Parallel()

	alice := newWallet(t)
	f := newFixture(t, alice, nil)
	f.waitLoaded(t)
	_, err := f.view.Create(context.Background(), "devnet-note", "x")
	require.NoError(t, err)

	t.Run("cluster switch refetches from the new cluster", func(t *testing.T) {
		require.NoError(t, f.session.SetClusterName("localnet"))
		snap := f.waitLoaded(t)
		require.Empty(t, snap.Notes)

		require.NoError(t, f.session.SetClusterName("devnet"))
		snap = f.waitLoaded(t)
		require.Len(t, snap.Notes, 1)
		require.Equal(t, "devnet-note", snap.Notes[0].Name)
	})

	t.Run("disconnecting clears the list", func(t *testing.T) {
		f.session.DisconnectWallet()
		snap := f.view.Snapshot()
		require.Nil(t, snap.Address)
		require.Empty(t, snap.Notes)
		require.Equal(t, notes.ListIdle, snap.ListState)
		require.True(t, snap.ReadOnly)

		require.ErrorIs(t, f.view.Refresh(context.Background()), notes.ErrNoAddress)
	})

	t.Run("viewing without a wallet is read-only", func(t *testing.T) {
		addr := alice.PublicKey()
		f.session.SetExternalAddress(&addr)
		snap := f.waitLoaded(t)
		require.Len(t, snap.Notes, 1)
		require.True(t, snap.ReadOnly)

		_, err := f.view.Create(context.Background(), "x", "y")
		require.ErrorIs(t, err, program.ErrNoWallet)
	})
}
