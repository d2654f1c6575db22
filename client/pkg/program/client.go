package program

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/malbeclabs/notes/utils/pkg/retry"
	"golang.org/x/time/rate"
)

var (
	// ErrNoWallet is returned by mutations on a client without a wallet.
	ErrNoWallet = errors.New("wallet not connected")
	// ErrNotConfirmed is returned when a sent transaction did not reach the requested
	// commitment in time. The transaction may still land.
	ErrNotConfirmed = errors.New("transaction not confirmed")
)

type ClientConfig struct {
	Logger *slog.Logger
	RPC    solrpc.RPC

	// Wallet signs mutations. A client without a wallet is read-only.
	Wallet wallet.Wallet

	ProgramID  solana.PublicKey
	Commitment solanarpc.CommitmentType

	// Confirm controls confirmation polling after a transaction is sent.
	Confirm retry.Config

	// ReadLimiter, when set, throttles read RPCs.
	ReadLimiter *rate.Limiter
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = ProgramID
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Confirm.MaxAttempts == 0 {
		cfg.Confirm = retry.DefaultConfig()
	}
	if err := cfg.Confirm.Validate(); err != nil {
		return fmt.Errorf("invalid confirm config: %w", err)
	}
	return nil
}

// Client is a typed handle to the notes program on one connection, optionally bound to a
// wallet.
type Client struct {
	log *slog.Logger
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.cfg.ProgramID
}

// Wallet returns the signing wallet, nil for a read-only client.
func (c *Client) Wallet() wallet.Wallet {
	return c.cfg.Wallet
}

func (c *Client) ReadOnly() bool {
	return c.cfg.Wallet == nil
}

// FindNoteAddress derives the address of the note named name written by author.
func (c *Client) FindNoteAddress(author solana.PublicKey, name string) (solana.PublicKey, error) {
	return FindNoteAddress(c.cfg.ProgramID, author, name)
}

// FetchNotes returns every note written by author, in the order the RPC node returned
// them. Accounts that are not notes are skipped.
func (c *Client) FetchNotes(ctx context.Context, author solana.PublicKey) ([]Note, error) {
	if err := c.waitRead(ctx); err != nil {
		return nil, err
	}

	res, err := c.cfg.RPC.GetProgramAccountsWithOpts(ctx, c.cfg.ProgramID, &solanarpc.GetProgramAccountsOpts{
		Commitment: c.cfg.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []solanarpc.RPCFilter{
			{
				Memcmp: &solanarpc.RPCFilterMemcmp{
					Offset: uint64(len(NoteDiscriminator)),
					Bytes:  solana.Base58(author.Bytes()),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}

	notes := make([]Note, 0, len(res))
	for _, acc := range res {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		note, err := DecodeNote(acc.Account.Data.GetBinary())
		if err != nil {
			c.log.Debug("program: skipping undecodable account", "account", acc.Pubkey.String(), "error", err)
			continue
		}
		notes = append(notes, *note)
	}
	return notes, nil
}

// InitializeNote creates the signer's note named name.
func (c *Client) InitializeNote(ctx context.Context, name, value string) (solana.Signature, error) {
	signer, err := c.signer()
	if err != nil {
		return solana.Signature{}, err
	}
	addr, err := c.FindNoteAddress(signer, name)
	if err != nil {
		return solana.Signature{}, err
	}
	data, err := encodeWithDiscriminator(InitializeNoteDiscriminator, initializeNoteArgs{Name: name, Value: value})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to encode initializeNote: %w", err)
	}
	return c.send(ctx, "initializeNote", c.instruction(addr, signer, data))
}

// EditNote replaces the value of the note identified by key. The program only accepts the
// edit when the signer is the note's author.
func (c *Client) EditNote(ctx context.Context, key Key, value string) (solana.Signature, error) {
	signer, err := c.signer()
	if err != nil {
		return solana.Signature{}, err
	}
	addr, err := c.FindNoteAddress(key.Author, key.Name)
	if err != nil {
		return solana.Signature{}, err
	}
	data, err := encodeWithDiscriminator(EditNoteDiscriminator, editNoteArgs{Value: value})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to encode editNote: %w", err)
	}
	return c.send(ctx, "editNote", c.instruction(addr, signer, data))
}

// CloseNote deletes the note identified by key and returns its rent to the signer.
func (c *Client) CloseNote(ctx context.Context, key Key) (solana.Signature, error) {
	signer, err := c.signer()
	if err != nil {
		return solana.Signature{}, err
	}
	addr, err := c.FindNoteAddress(key.Author, key.Name)
	if err != nil {
		return solana.Signature{}, err
	}
	data, err := encodeWithDiscriminator(CloseNoteDiscriminator, nil)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to encode closeNote: %w", err)
	}
	return c.send(ctx, "closeNote", c.instruction(addr, signer, data))
}

func (c *Client) signer() (solana.PublicKey, error) {
	if c.cfg.Wallet == nil {
		return solana.PublicKey{}, ErrNoWallet
	}
	return c.cfg.Wallet.PublicKey(), nil
}

func (c *Client) instruction(note, signer solana.PublicKey, data []byte) solana.Instruction {
	return solana.NewInstruction(
		c.cfg.ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(note, true, false),
			solana.NewAccountMeta(signer, true, true),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	)
}

func (c *Client) send(ctx context.Context, op string, ix solana.Instruction) (solana.Signature, error) {
	signer := c.cfg.Wallet.PublicKey()

	bh, err := c.cfg.RPC.GetLatestBlockhash(ctx, c.cfg.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if bh == nil || bh.Value == nil {
		return solana.Signature{}, errors.New("failed to get latest blockhash: empty response")
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, bh.Value.Blockhash, solana.TransactionPayer(signer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := c.cfg.Wallet.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	c.log.Debug("program: transaction sent", "op", op, "signature", sig.String())

	if err := c.waitConfirmed(ctx, sig); err != nil {
		return sig, err
	}
	c.log.Debug("program: transaction confirmed", "op", op, "signature", sig.String())
	return sig, nil
}

func (c *Client) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	err := retry.Do(ctx, c.cfg.Confirm, func() error {
		res, err := c.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return fmt.Errorf("failed to get signature status: %w", err)
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return retry.ErrPending
		}
		st := res.Value[0]
		if st.Err != nil {
			return fmt.Errorf("transaction %s failed: %v", sig, st.Err)
		}
		if !reachedCommitment(st.ConfirmationStatus, c.cfg.Commitment) {
			return retry.ErrPending
		}
		return nil
	})
	if retry.IsPending(err) {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, sig)
	}
	return err
}

func reachedCommitment(status solanarpc.ConfirmationStatusType, want solanarpc.CommitmentType) bool {
	switch status {
	case solanarpc.ConfirmationStatusFinalized:
		return true
	case solanarpc.ConfirmationStatusConfirmed:
		return want != solanarpc.CommitmentFinalized
	case solanarpc.ConfirmationStatusProcessed:
		return want == solanarpc.CommitmentProcessed
	}
	return false
}

func (c *Client) waitRead(ctx context.Context) error {
	if c.cfg.ReadLimiter == nil {
		return nil
	}
	if err := c.cfg.ReadLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return nil
}
