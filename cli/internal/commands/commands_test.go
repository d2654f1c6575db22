package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/program/programtest"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc/solrpctest"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ledgers     map[string]*programtest.Ledger
	wallet      *wallet.Keypair
	dir         string
	configPath  string
	keypairPath string

	prompts []string
	answer  bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	kp, err := wallet.NewKeypair(key)
	require.NoError(t, err)

	dir := t.TempDir()
	h := &harness{
		ledgers:     map[string]*programtest.Ledger{},
		wallet:      kp,
		dir:         dir,
		configPath:  filepath.Join(dir, "config.toml"),
		keypairPath: filepath.Join(dir, "id.json"),
	}
	require.NoError(t, os.WriteFile(h.configPath, nil, 0o600))

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.keypairPath, raw, 0o600))

	for _, name := range cluster.DefaultRegistry().Names() {
		l := programtest.NewLedger(nil)
		l.Fund(kp.PublicKey(), 1_000_000_000)
		h.ledgers[name] = l
	}
	return h
}

// run executes the command tree with args and returns what it wrote to stdout.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand(Options{
		Dial: func(info cluster.Info) (*solrpc.Conn, error) {
			return solrpc.NewConn(info, h.ledgers[info.Name], solrpctest.NewSubscriber(), nil), nil
		},
		DefaultKeypair: filepath.Join(h.dir, "missing.json"),
		Confirm:        retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Prompt: func(title string) (bool, error) {
			h.prompts = append(h.prompts, title)
			return h.answer, nil
		},
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", h.configPath, "--state-dir", filepath.Join(h.dir, "state")}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// signed runs args with the harness keypair.
func (h *harness) signed(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return h.run(t, append([]string{"--keypair", h.keypairPath}, args...)...)
}

func (h *harness) note(t *testing.T, ledger, name string) (*program.Note, bool) {
	t.Helper()
	addr, err := program.FindNoteAddress(program.ProgramID, h.wallet.PublicKey(), name)
	require.NoError(t, err)
	return h.ledgers[ledger].Note(addr)
}

func TestNotes_Commands_NotesLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	out, err := h.signed(t, "create", "todo", "buy milk")
	require.NoError(t, err)
	require.Contains(t, out, `Created note "todo"`)
	require.Contains(t, out, "Transaction: ")
	require.Contains(t, out, "https://solscan.io/tx/")
	require.Contains(t, out, "?cluster=devnet")

	n, ok := h.note(t, "devnet", "todo")
	require.True(t, ok)
	require.Equal(t, "buy milk", n.Value)

	out, err = h.signed(t, "list")
	require.NoError(t, err)
	require.Contains(t, out, h.wallet.PublicKey().String())
	require.Contains(t, out, "todo")
	require.Contains(t, out, "buy milk")

	out, err = h.signed(t, "edit", "todo", "buy oat milk")
	require.NoError(t, err)
	require.Contains(t, out, `Updated note "todo"`)
	n, ok = h.note(t, "devnet", "todo")
	require.True(t, ok)
	require.Equal(t, "buy oat milk", n.Value)

	h.answer = false
	out, err = h.signed(t, "delete", "todo")
	require.NoError(t, err)
	require.Contains(t, out, "Cancelled.")
	require.Equal(t, []string{`Delete note "todo"?`}, h.prompts)
	require.Equal(t, 1, h.ledgers["devnet"].NoteCount())

	out, err = h.signed(t, "delete", "todo", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, `Deleted note "todo"`)
	require.Len(t, h.prompts, 1)
	require.Zero(t, h.ledgers["devnet"].NoteCount())

	out, err = h.signed(t, "list")
	require.NoError(t, err)
	require.Contains(t, out, "No notes found.")
}

func TestNotes_Commands_DeleteAfterPrompt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.signed(t, "create", "todo", "buy milk")
	require.NoError(t, err)

	h.answer = true
	out, err := h.signed(t, "delete", "todo")
	require.NoError(t, err)
	require.Contains(t, out, `Deleted note "todo"`)
	require.Zero(t, h.ledgers["devnet"].NoteCount())
}

func TestNotes_Commands_UnknownNote(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.signed(t, "edit", "missing", "value")
	require.ErrorIs(t, err, notes.ErrNotFound)

	_, err = h.signed(t, "delete", "missing", "--yes")
	require.ErrorIs(t, err, notes.ErrNotFound)
	require.Zero(t, h.ledgers["devnet"].Sent())
}

func TestNotes_Commands_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.signed(t, "create", "todo", "")
	require.ErrorIs(t, err, notes.ErrValidation)
	require.Zero(t, h.ledgers["devnet"].Sent())

	_, err = h.signed(t, "create", "todo")
	require.Error(t, err)
}

func TestNotes_Commands_ReadOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.signed(t, "create", "todo", "buy milk")
	require.NoError(t, err)

	_, err = h.run(t, "list")
	require.ErrorIs(t, err, errNoAddress)

	_, err = h.run(t, "create", "other", "value")
	require.ErrorIs(t, err, errNoAddress)

	out, err := h.run(t, "list", "--address", h.wallet.PublicKey().String())
	require.NoError(t, err)
	require.Contains(t, out, "external address")
	require.Contains(t, out, "buy milk")

	_, err = h.run(t, "list", "--address", "nope")
	require.Error(t, err)
}

func TestNotes_Commands_Account(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	out, err := h.signed(t, "account")
	require.NoError(t, err)
	require.Contains(t, out, "Address:  "+h.wallet.PublicKey().String())
	require.Contains(t, out, "Cluster:  Devnet")
	require.Contains(t, out, "Balance:  1.0000 SOL")
	require.Contains(t, out, "https://solscan.io/account/"+h.wallet.PublicKey().String()+"?cluster=devnet")

	_, err = h.run(t, "account")
	require.ErrorIs(t, err, errNoAddress)
}

func TestNotes_Commands_Cluster(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	out, err := h.run(t, "cluster")
	require.NoError(t, err)
	require.Contains(t, out, "* devnet")
	require.Contains(t, out, "  localnet")

	out, err = h.run(t, "cluster", "localnet")
	require.NoError(t, err)
	require.Contains(t, out, "Selected Localnet")

	out, err = h.run(t, "cluster")
	require.NoError(t, err)
	require.Contains(t, out, "* localnet")

	out, err = h.signed(t, "create", "todo", "buy milk")
	require.NoError(t, err)
	require.Contains(t, out, "?cluster=localnet")
	require.Equal(t, 1, h.ledgers["localnet"].NoteCount())
	require.Zero(t, h.ledgers["devnet"].NoteCount())

	_, err = h.run(t, "cluster", "mainnet")
	require.ErrorContains(t, err, `unknown cluster "mainnet"`)

	_, err = h.run(t, "--cluster", "nope", "list")
	require.ErrorContains(t, err, `unknown cluster "nope"`)
}

func TestNotes_Commands_ClusterFlagPersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.signed(t, "--cluster", "localnet", "create", "todo", "buy milk")
	require.NoError(t, err)
	require.Equal(t, 1, h.ledgers["localnet"].NoteCount())

	out, err := h.run(t, "cluster")
	require.NoError(t, err)
	require.Contains(t, out, "* localnet")
}

func TestNotes_Commands_Address(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	want, err := program.FindNoteAddress(program.ProgramID, h.wallet.PublicKey(), "todo")
	require.NoError(t, err)

	out, err := h.run(t, "address", "todo", "--author", h.wallet.PublicKey().String())
	require.NoError(t, err)
	require.Equal(t, want.String()+"\n", out)

	out, err = h.signed(t, "address", "todo")
	require.NoError(t, err)
	require.Equal(t, want.String()+"\n", out)

	_, err = h.run(t, "address", "todo")
	require.ErrorIs(t, err, errNoAddress)
}

func TestNotes_Commands_MissingConfigFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.configPath = filepath.Join(h.dir, "nope.toml")

	_, err := h.run(t, "cluster")
	require.Error(t, err)
}
