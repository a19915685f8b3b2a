package rpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialBufconn(t *testing.T, f *rpcFixture) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = f.server.ServeGRPC(lis) }()
	t.Cleanup(func() { _ = f.server.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCInvokeMirrorsJSONRPC(t *testing.T) {
	f := newRPCFixture(t, nil)
	conn := dialBufconn(t, f)

	raw, err := InvokeGRPC(f.ctx, conn, "lend_create_offer", f.sign(f.lender, "lend_create_offer", offerParams()), "")
	require.NoError(t, err)
	var created idResult
	require.NoError(t, json.Unmarshal(raw, &created))
	require.Equal(t, uint64(1), created.ID)

	raw, err = InvokeGRPC(f.ctx, conn, "lend_get_active_offers", nil, "")
	require.NoError(t, err)
	var active idsResult
	require.NoError(t, json.Unmarshal(raw, &active))
	require.Equal(t, []uint64{1}, active.IDs)
}

func TestGRPCErrorCodes(t *testing.T) {
	f := newRPCFixture(t, nil)
	conn := dialBufconn(t, f)

	_, err := InvokeGRPC(f.ctx, conn, "lend_get_offer", map[string]interface{}{"offerId": 9}, "")
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = InvokeGRPC(f.ctx, conn, "lend_nope", nil, "")
	require.Equal(t, codes.Unimplemented, status.Code(err))

	_, err = InvokeGRPC(f.ctx, conn, "lend_set_module_paused", map[string]interface{}{"module": "oracle", "paused": true}, "")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = InvokeGRPC(f.ctx, conn, "lend_set_module_paused", map[string]interface{}{"module": "oracle", "paused": true}, f.operatorToken("operator"))
	require.NoError(t, err)
	require.True(t, f.node.Pauses().IsPaused("oracle"))
}
