package grpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"peerlend-backend/internal/api/grpc/interceptor"
	"peerlend-backend/internal/pricing"
	"peerlend-backend/internal/security"
	"peerlend-backend/internal/service"
)

// Services are the application services exposed over gRPC.
type Services struct {
	Custody service.CustodyService
	Listing service.ListingService
	Pricing *pricing.Engine
}

// NewServer builds a gRPC server with authentication, tracing, health and
// reflection registered. The returned health server reports SERVING.
func NewServer(tm security.TokenManager, svcs Services, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	authInterceptor := interceptor.NewAuthInterceptor(tm)
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(authInterceptor.Unary()),
	}, opts...)

	s := grpc.NewServer(opts...)
	RegisterCustodyServer(s, NewCustodyHandler(svcs.Custody))
	RegisterListingServer(s, NewListingHandler(svcs.Listing, svcs.Pricing))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	// Register reflection service for grpcurl
	reflection.Register(s)
	return s, hs
}
