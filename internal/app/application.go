// Package app wires the derivative layer together: ledger, dispatcher,
// contract provider, event journal, API surface and lifecycle management.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/httpapi"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/provider"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/services/dispatch"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/services/ledger"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/services/scheduler"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage/memory"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/storage/postgres"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/system"
	"github.com/WeatherVane-Labs/derivative_layer/internal/config"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// Application ties the services together and manages their lifecycle plus the
// HTTP server.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager

	Ledger   *ledger.Memory
	Provider *provider.Provider
	Hub      *httpapi.Hub

	httpServer *http.Server
	db         *sql.DB
	amqp       *dispatch.AMQPSender
}

// New builds a fully wired application from configuration.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.New(cfg.Logging)

	bank := ledger.NewMemory()
	if cfg.Provider.InitialBalance > 0 {
		bank.Mint(cfg.Provider.Account, cfg.Provider.InitialBalance)
	}

	app := &Application{
		cfg:     cfg,
		log:     log,
		manager: system.NewManager(),
		Ledger:  bank,
	}

	sender, err := app.buildSender()
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(sender, cfg.Transport.CallbackURL, log.WithField("component", "dispatch"))

	events, err := app.buildEventStore()
	if err != nil {
		return nil, err
	}

	app.Provider = provider.New(provider.Config{
		Admin:   cfg.Provider.Admin,
		Account: cfg.Provider.Account,
		DefaultJob: contract.Job{
			Endpoint: cfg.Provider.DefaultEndpoint,
			JobID:    cfg.Provider.DefaultJobID,
		},
		PaymentPerRequest: cfg.Provider.PaymentPerRequest,
		FundingBuffer:     uint64(cfg.Provider.FundingBuffer),
	}, bank, dispatcher, events, log.WithField("component", "provider"))

	app.Hub = httpapi.NewHub(log.WithField("component", "ws"))
	app.Provider.WithNotifier(app.Hub)

	apiHandler, err := httpapi.NewHandler(app.Provider, app.Hub, httpapi.Options{
		AuditFile:        cfg.API.AuditFile,
		FulfillmentRate:  cfg.API.FulfillmentRate,
		FulfillmentBurst: cfg.API.FulfillmentBurst,
	}, log.WithField("component", "httpapi"))
	if err != nil {
		return nil, err
	}
	app.httpServer = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      apiHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Scheduler.Enabled {
		auto := scheduler.New(app.Provider, cfg.Scheduler.Spec, log.WithField("component", "scheduler"))
		if err := app.manager.Register(auto); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	}

	return app, nil
}

func (a *Application) buildSender() (dispatch.Sender, error) {
	switch a.cfg.Transport.Mode {
	case "amqp":
		sender, err := dispatch.DialAMQP(a.cfg.Transport.AMQPURL, a.cfg.Transport.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("connect amqp broker: %w", err)
		}
		a.amqp = sender
		return sender, nil
	default:
		client := &http.Client{Timeout: 10 * time.Second}
		return dispatch.NewHTTPSender(client, a.cfg.Transport.APIKey), nil
	}
}

func (a *Application) buildEventStore() (storage.EventStore, error) {
	if a.cfg.Database.DSN == "" {
		a.log.Warn("no database configured; contract events are kept in memory")
		return memory.New(), nil
	}

	db, err := sql.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := postgres.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.db = db
	return store, nil
}

// Run starts the managed services and the HTTP server, then blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.ListenAddr())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and managed services and releases external
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.manager.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	a.Hub.Close()
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.log.WithError(err).Warn("error closing amqp connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}
