package solrpc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/solrpc"
	"github.com/malbeclabs/notes/client/pkg/solrpc/solrpctest"
	"github.com/stretchr/testify/require"
)

type balanceOnlyRPC struct {
	solrpc.RPC
	getBalanceFunc func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
}

func (m *balanceOnlyRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	return m.getBalanceFunc(ctx, account, commitment)
}

func TestNotes_Solrpc_Dial(t *testing.T) {
	t.Parallel()

	t.Run("requires an endpoint", func(t *testing.T) {
		t.Parallel()

		_, err := solrpc.Dial(cluster.Info{Name: "empty"})
		require.Error(t, err)
	})

	t.Run("builds without network io", func(t *testing.T) {
		t.Parallel()

		conn, err := solrpc.Dial(cluster.DefaultRegistry().Resolve("localnet"))
		require.NoError(t, err)
		require.Equal(t, "localnet", conn.Cluster.Name)
		require.NoError(t, conn.Close())
	})
}

func TestNotes_Solrpc_Conn_Close(t *testing.T) {
	t.Parallel()

	sub := solrpctest.NewSubscriber()
	calls := 0
	conn := solrpc.NewConn(cluster.Info{Name: "test"}, nil, sub, func() error {
		calls++
		return nil
	})

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.True(t, sub.Closed())
	require.Equal(t, 1, calls)
}

func TestNotes_Solrpc_Instrument(t *testing.T) {
	t.Parallel()

	want := errors.New("node is behind")
	rpc := solrpc.Instrument("test", &balanceOnlyRPC{
		getBalanceFunc: func(_ context.Context, account solana.PublicKey, _ solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
			if account.IsZero() {
				return nil, want
			}
			return &solanarpc.GetBalanceResult{Value: 42}, nil
		},
	})

	_, err := rpc.GetBalance(context.Background(), solana.PublicKey{}, solanarpc.CommitmentConfirmed)
	require.ErrorIs(t, err, want)

	out, err := rpc.GetBalance(context.Background(), solana.NewWallet().PublicKey(), solanarpc.CommitmentConfirmed)
	require.NoError(t, err)
	require.Equal(t, uint64(42), out.Value)
}
