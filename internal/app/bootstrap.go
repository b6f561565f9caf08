// Package app assembles the stores and services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/exchange"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/payment"
	"peerlend-backend/internal/pricing"
	"peerlend-backend/internal/repository"
	"peerlend-backend/internal/repository/memory"
	"peerlend-backend/internal/repository/postgres"
	"peerlend-backend/internal/risk"
	"peerlend-backend/internal/service"
)

// Store is a repository backend that can report its health.
type Store interface {
	Repositories() repository.Repositories
	Ping(ctx context.Context) error
}

// OpenStore connects the configured backend. For postgres the schema is
// applied before returning. The close func is always non-nil.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on exit")
		return memory.NewStore(), func() error { return nil }, nil
	}

	logger.Debug("Connecting to database...", "connection_string", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, func() error { return nil }, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, func() error { return nil }, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established", "host", cfg.Database.Host, "database", cfg.Database.Database)

	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, func() error { return nil }, err
	}
	return postgres.NewStore(db), db.Close, nil
}

// Services are the application services built from configuration.
type Services struct {
	Custody  service.CustodyService
	Listing  service.ListingService
	Pricing  *pricing.Engine
	Tokens   *exchange.Protocol
	Payments payment.Gateway
}

// NewServices wires the custody and listing services over repos.
func NewServices(cfg *config.Config, repos repository.Repositories) (*Services, error) {
	keys, err := exchange.NewKeyringFromHex(cfg.Exchange.Keys, cfg.Exchange.ActiveKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange token keys: %w", err)
	}
	tokens := exchange.NewProtocol(keys, cfg.TokenValidity())

	gateway, err := newGateway(cfg.Payment)
	if err != nil {
		return nil, err
	}

	engine := pricing.NewEngine()
	custody := service.NewCustodyService(service.CustodyDeps{
		Repos:    repos,
		Payments: gateway,
		Tokens:   tokens,
		Pricing:  engine,
		Risk:     risk.NewEngine(),
		Fees: service.FeeSchedule{
			PlatformPercent:      cfg.Fees.PlatformPercent,
			BuddyCourierFeePaise: cfg.Fees.BuddyCourierFeePaise,
			PriorityFeePaise:     cfg.Fees.PriorityFeePaise,
		},
	})
	listing := service.NewListingService(repos.Items, repos.Users, engine, cfg.Pricing.ReferenceHours)

	return &Services{
		Custody:  custody,
		Listing:  listing,
		Pricing:  engine,
		Tokens:   tokens,
		Payments: gateway,
	}, nil
}

func newGateway(cfg config.PaymentConfig) (payment.Gateway, error) {
	var next payment.Gateway
	switch cfg.Provider {
	case "memory":
		logger.Warn("Using in-memory payment gateway, no money moves")
		next = payment.NewInMemoryGateway()
	default:
		return nil, fmt.Errorf("unsupported payment provider: %q", cfg.Provider)
	}
	return payment.NewRetrying(next, cfg.Provider, payment.RetryPolicy{
		AttemptTimeout: cfg.AttemptTimeout(),
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	}), nil
}
