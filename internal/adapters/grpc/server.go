package grpc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

const serviceName = "viralforge.accounts.v1.AccountInternalService"

// TokenAuthority is the slice of the application service exposed to other services.
type TokenAuthority interface {
	ValidateAccessToken(ctx context.Context, token string) (ports.TokenClaims, error)
	PublicKeys() ([]map[string]any, error)
}

type AccountInternalService interface {
	ValidateToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type AccountInternalServer struct {
	authority TokenAuthority
}

func NewAccountInternalServer(authority TokenAuthority) *AccountInternalServer {
	return &AccountInternalServer{authority: authority}
}

// Register binds svc without generated stubs; requests and responses travel
// as google.protobuf.Struct.
func Register(server grpc.ServiceRegistrar, svc AccountInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*AccountInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateToken",
				Handler:    unaryHandler[structpb.Struct]("ValidateToken", svc.ValidateToken),
			},
			{
				MethodName: "GetPublicKeys",
				Handler:    unaryHandler[emptypb.Empty]("GetPublicKeys", svc.GetPublicKeys),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "accounts/v1/account_internal.proto",
	}, svc)
}

// ValidateToken checks an access token, including revocation markers.
func (s *AccountInternalServer) ValidateToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := req.GetFields()["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	claims, err := s.authority.ValidateAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return nil, status.Error(codes.Internal, "token validation failed")
	}

	permissions := make([]any, 0, len(claims.Permissions))
	for _, p := range claims.Permissions {
		permissions = append(permissions, p)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"valid":       true,
		"account_id":  strconv.FormatInt(claims.AccountID, 10),
		"email":       claims.Email,
		"permissions": permissions,
		"issued_at":   claims.IssuedAt.Unix(),
		"expires_at":  claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *AccountInternalServer) GetPublicKeys(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	keys, err := s.authority.PublicKeys()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get keys: %v", err)
	}
	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, k)
	}
	resp, err := structpb.NewStruct(map[string]any{
		"keys": list,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

type methodHandler = func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)

// unaryHandler decodes a request of type Req and runs call behind the interceptor chain.
func unaryHandler[Req any, PReq interface {
	*Req
	proto.Message
}](method string, call func(context.Context, PReq) (*structpb.Struct, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := PReq(new(Req))
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(PReq)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		})
	}
}
