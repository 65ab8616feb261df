package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

type stubAuthority struct {
	claims ports.TokenClaims
	err    error
}

func (s stubAuthority) ValidateAccessToken(_ context.Context, token string) (ports.TokenClaims, error) {
	if token != "good" {
		return ports.TokenClaims{}, domain.ErrUnauthorized
	}
	return s.claims, s.err
}

func (s stubAuthority) PublicKeys() ([]map[string]any, error) {
	return []map[string]any{{"kid": "k1", "kty": "RSA"}}, nil
}

func dial(t *testing.T, authority TokenAuthority) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, NewAccountInternalServer(authority))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestValidateTokenOverTheWire(t *testing.T) {
	authority := stubAuthority{claims: ports.TokenClaims{
		AccountID:   42,
		Email:       "ada@example.com",
		Permissions: []string{"reports:read"},
		IssuedAt:    time.Unix(1_700_000_000, 0),
		ExpiresAt:   time.Unix(1_700_000_600, 0),
	}}
	conn := dial(t, authority)

	req, err := structpb.NewStruct(map[string]any{"token": "good"})
	require.NoError(t, err)
	resp := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), "/"+serviceName+"/ValidateToken", req, resp))

	fields := resp.AsMap()
	assert.Equal(t, true, fields["valid"])
	assert.Equal(t, "42", fields["account_id"])
	assert.Equal(t, []any{"reports:read"}, fields["permissions"])
	assert.Equal(t, float64(1_700_000_600), fields["expires_at"])

	bad, err := structpb.NewStruct(map[string]any{"token": "bad"})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), "/"+serviceName+"/ValidateToken", bad, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGetPublicKeysOverTheWire(t *testing.T) {
	conn := dial(t, stubAuthority{})

	resp := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), "/"+serviceName+"/GetPublicKeys", &emptypb.Empty{}, resp))
	keys, ok := resp.AsMap()["keys"].([]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].(map[string]any)["kid"])
}

func TestValidateTokenErrors(t *testing.T) {
	server := NewAccountInternalServer(stubAuthority{err: errors.New("redis down")})

	_, err := server.ValidateToken(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err := structpb.NewStruct(map[string]any{"token": "good"})
	require.NoError(t, err)
	_, err = server.ValidateToken(context.Background(), req)
	assert.Equal(t, codes.Internal, status.Code(err))
}
