package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shareshelf/shareshelf/internal/server"
	"github.com/shareshelf/shareshelf/internal/server/handler"
	"github.com/shareshelf/shareshelf/internal/server/ws"
	"github.com/shareshelf/shareshelf/internal/service"
	"github.com/shareshelf/shareshelf/internal/store/postgres"
)

// ServeMode builds the service layer, starts the WebSocket hub, and runs the
// HTTP API server until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// Build services. Requests and transactions reference each other for the
	// sale handshake, so the opener is attached after construction.
	itemSvc := service.NewItemService(deps.ItemStore, a.logger)
	requestSvc := service.NewRequestService(
		deps.ItemStore, deps.RequestStore, deps.RateLimiter,
		deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	)
	txnSvc := service.NewTransactionService(
		deps.TransactionStore, deps.RequestStore, deps.ItemStore,
		deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	)
	requestSvc.SetTransactionOpener(txnSvc)

	proofSvc := service.NewProofService(
		deps.ProofStore, deps.TransactionStore, deps.ItemStore,
		txnSvc, deps.BlobWriter, a.logger,
	)
	webhookSvc := service.NewWebhookService(
		deps.Verifier, txnSvc, deps.RateLimiter, deps.LockManager, a.logger,
	)
	accessSvc := service.NewAccessService(
		deps.ItemStore, deps.RequestStore, deps.TransactionStore,
		deps.BlobReader, deps.AuditStore, a.logger,
	)

	// WebSocket hub relays request and transaction events to dashboards.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	healthChecks := make(map[string]handler.HealthCheckFunc, len(deps.HealthChecks))
	for name, check := range deps.HealthChecks {
		healthChecks[name] = handler.HealthCheckFunc(check)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:       handler.NewHealthHandler(healthChecks, a.logger),
		Items:        handler.NewItemHandler(itemSvc, a.logger),
		Requests:     handler.NewRequestHandler(requestSvc, a.logger),
		Transactions: handler.NewTransactionHandler(txnSvc, proofSvc, a.cfg.Upload.MaxProofBytes, a.logger),
		Webhooks:     handler.NewWebhookHandler(webhookSvc, a.logger),
		Resources:    handler.NewResourceHandler(accessSvc, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// MigrateMode connects to PostgreSQL, applies pending migrations, and exits.
func (a *App) MigrateMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting migrate mode")

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      a.cfg.Postgres.DSN,
		Host:     a.cfg.Postgres.Host,
		Port:     a.cfg.Postgres.Port,
		Database: a.cfg.Postgres.Database,
		User:     a.cfg.Postgres.User,
		Password: a.cfg.Postgres.Password,
		SSLMode:  a.cfg.Postgres.SSLMode,
		MaxConns: a.cfg.Postgres.PoolMaxConns,
		MinConns: a.cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fmt.Errorf("migrate mode: postgres: %w", err)
	}
	defer pgClient.Close()

	if err := pgClient.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}

	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}
