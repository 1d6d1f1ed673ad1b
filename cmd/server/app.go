package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-ledger-approvals/internal/client"
	"github.com/pesio-ai/be-ledger-approvals/internal/config"
	"github.com/pesio-ai/be-ledger-approvals/internal/database"
	"github.com/pesio-ai/be-ledger-approvals/internal/logger"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository"
	"github.com/pesio-ai/be-ledger-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-ledger-approvals/internal/service"
)

// app is the wired service graph shared by every command.
type app struct {
	store        repository.Store
	db           *database.DB
	nc           *nats.Conn
	accounts     *service.AccountService
	transactions *service.TransactionService
	approvals    *service.ApprovalService
	notifier     *service.NotificationDispatcher
}

func (a *app) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func databaseConfig(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		SSLMode:     cfg.SSLMode,
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxConnTime: cfg.MaxConnTime,
		MaxIdleTime: cfg.MaxIdleTime,
		HealthCheck: cfg.HealthCheck,
	}
}

// newApp connects the configured store and NATS and builds the services.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.store = memory.New()
		log.Warn().Msg("Using in-memory store; data is lost on exit")
	default:
		db, err := database.New(ctx, databaseConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		a.store = repository.NewPostgresStore(db)
		log.Info().Msg("Database connection established")
	}

	var publisher service.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			// Events are best effort; the service runs without them.
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS, event publishing disabled")
		} else {
			a.nc = nc
			publisher = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	threshold, err := cfg.Approvals.Threshold()
	if err != nil {
		a.Close()
		return nil, err
	}

	seed := uint64(time.Now().UnixNano())
	rnd := rand.New(rand.NewPCG(seed, seed>>32|1))
	ids := service.NewIdentifierAllocator(rnd, cfg.Approvals.IDMaxAttempts, cfg.Approvals.IDSuffixDigits, log.With("component", "identifiers"))

	approvalLog := log.With("component", "approvals")
	a.notifier = service.NewNotificationDispatcher(a.store, ids, publisher, log.With("component", "notifications"))
	a.approvals = service.NewApprovalService(service.ApprovalServiceConfig{
		Store:           a.store,
		IDs:             ids,
		Projector:       service.NewAccountProjector(approvalLog),
		Notifier:        a.notifier,
		Publisher:       publisher,
		DefaultReviewer: cfg.Approvals.DefaultReviewerID,
		Logger:          approvalLog,
	})
	a.transactions = service.NewTransactionService(a.store, ids, service.NewHighValueGate(threshold), a.approvals, log.With("component", "transactions"))
	a.accounts = service.NewAccountService(a.store)

	return a, nil
}
