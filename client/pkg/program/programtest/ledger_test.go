package programtest

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/stretchr/testify/require"
)

func TestNotes_ProgramTest_Ledger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLedger(nil)
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := key.PublicKey()
	l.Fund(payer, 42)

	bal, err := l.GetBalance(ctx, payer, solanarpc.CommitmentConfirmed)
	require.NoError(t, err)
	require.Equal(t, uint64(42), bal.Value)

	t.Run("rejects unsigned transactions", func(t *testing.T) {
		ix := solana.NewInstruction(program.ProgramID, solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
		}, program.CloseNoteDiscriminator[:])
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
		require.NoError(t, err)

		_, err = l.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{})
		require.Error(t, err)
		require.Zero(t, l.Sent())
	})

	t.Run("put note is visible through program accounts", func(t *testing.T) {
		addr, err := l.PutNote(program.Note{Author: payer, Name: "n", Value: "v"})
		require.NoError(t, err)

		res, err := l.GetProgramAccountsWithOpts(ctx, program.ProgramID, &solanarpc.GetProgramAccountsOpts{
			Filters: []solanarpc.RPCFilter{{Memcmp: &solanarpc.RPCFilterMemcmp{Offset: 8, Bytes: solana.Base58(payer.Bytes())}}},
		})
		require.NoError(t, err)
		require.Len(t, res, 1)
		require.Equal(t, addr, res[0].Pubkey)

		res, err = l.GetProgramAccountsWithOpts(ctx, solana.SystemProgramID, nil)
		require.NoError(t, err)
		require.Empty(t, res)
	})

	t.Run("unknown signatures have no status", func(t *testing.T) {
		res, err := l.GetSignatureStatuses(ctx, false, solana.Signature{1})
		require.NoError(t, err)
		require.Len(t, res.Value, 1)
		require.Nil(t, res.Value[0])
	})

	t.Run("blockhash is served", func(t *testing.T) {
		res, err := l.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
		require.NoError(t, err)
		require.NotEqual(t, solana.Hash{}, res.Value.Blockhash)
	})
}
