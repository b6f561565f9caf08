package grpc

import (
	"context"
	"slices"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys set by the auth interceptor. Client-supplied values are
// overwritten.
const (
	UserIDKey    = "user-id"
	UserRolesKey = "user-roles"
)

// RoleArbiter may record dispute outcomes.
const RoleArbiter = "arbiter"

// GetUserIDFromContext extracts the authenticated user ID from the gRPC metadata.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "metadata is not provided")
	}

	userIDs := md.Get(UserIDKey)
	if len(userIDs) == 0 || userIDs[0] == "" {
		return "", status.Errorf(codes.Unauthenticated, "user_id is not provided in metadata")
	}
	return userIDs[0], nil
}

// HasRole reports whether the authenticated caller carries role.
func HasRole(ctx context.Context, role string) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	return slices.Contains(md.Get(UserRolesKey), role)
}
