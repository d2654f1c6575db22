package solrpctest

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
)

var errNotImplemented = errors.New("not implemented")

// RPC is a solrpc.RPC whose methods delegate to the func fields. Unset fields return an
// error.
type RPC struct {
	GetBalanceFunc                 func(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetProgramAccountsWithOptsFunc func(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error)
	GetLatestBlockhashFunc         func(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOptsFunc    func(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatusesFunc       func(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

var _ solrpc.RPC = (*RPC)(nil)

func (m *RPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	if m.GetBalanceFunc == nil {
		return nil, errNotImplemented
	}
	return m.GetBalanceFunc(ctx, account, commitment)
}

func (m *RPC) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
	if m.GetProgramAccountsWithOptsFunc == nil {
		return nil, errNotImplemented
	}
	return m.GetProgramAccountsWithOptsFunc(ctx, program, opts)
}

func (m *RPC) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	if m.GetLatestBlockhashFunc == nil {
		return nil, errNotImplemented
	}
	return m.GetLatestBlockhashFunc(ctx, commitment)
}

func (m *RPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	if m.SendTransactionWithOptsFunc == nil {
		return solana.Signature{}, errNotImplemented
	}
	return m.SendTransactionWithOptsFunc(ctx, tx, opts)
}

func (m *RPC) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	if m.GetSignatureStatusesFunc == nil {
		return nil, errNotImplemented
	}
	return m.GetSignatureStatusesFunc(ctx, searchTransactionHistory, signatures...)
}

// Balance returns a GetBalanceResult for lamports.
func Balance(lamports uint64) *solanarpc.GetBalanceResult {
	return &solanarpc.GetBalanceResult{Value: lamports}
}
