package interceptor

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/security"
)

// Keep in sync with the handler package; importing it here would cycle.
const (
	userIDKey    = "user-id"
	userRolesKey = "user-roles"
)

type AuthInterceptor struct {
	tokenManager security.TokenManager
}

func NewAuthInterceptor(tm security.TokenManager) *AuthInterceptor {
	return &AuthInterceptor{tokenManager: tm}
}

// Unary returns a server interceptor function to authenticate and authorize unary RPCs
func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		// Never trust identity headers sent by the client.
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			md = metadata.New(nil)
		} else {
			md = md.Copy()
		}
		md.Delete(userIDKey)
		md.Delete(userRolesKey)

		level := config.GetSecurityLevel(info.FullMethod)

		// Public endpoint - skip auth
		if level == config.SecurityPublic {
			return handler(metadata.NewIncomingContext(ctx, md), req)
		}

		token, err := extractToken(md)
		if err != nil {
			return nil, err
		}

		claims, err := i.tokenManager.ValidateToken(token)
		if err != nil {
			logger.Warn("Rejected API token", "method", info.FullMethod, "error", err)
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}
		if claims.Type != security.TokenTypeAccess {
			return nil, status.Error(codes.PermissionDenied, "access token required")
		}

		md.Set(userIDKey, claims.UserID)
		if len(claims.Roles) > 0 {
			md.Set(userRolesKey, claims.Roles...)
		}
		return handler(metadata.NewIncomingContext(ctx, md), req)
	}
}

func extractToken(md metadata.MD) (string, error) {
	authHeader := md.Get("authorization")
	if len(authHeader) == 0 {
		return "", status.Error(codes.Unauthenticated, "authorization token is not provided")
	}

	token := authHeader[0]
	// Remove Bearer prefix if present
	if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
		token = token[7:]
	}
	return token, nil
}
