package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/phrazzld/lottery-keeper/internal/api"
	"github.com/phrazzld/lottery-keeper/internal/config"
	"github.com/phrazzld/lottery-keeper/internal/confirm"
	"github.com/phrazzld/lottery-keeper/internal/events"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"github.com/phrazzld/lottery-keeper/internal/ledger/gateway"
	"github.com/phrazzld/lottery-keeper/internal/ledger/memledger"
	"github.com/phrazzld/lottery-keeper/internal/pipeline"
	kafkasink "github.com/phrazzld/lottery-keeper/internal/platform/kafka"
	mongostore "github.com/phrazzld/lottery-keeper/internal/platform/mongo"
	natsbus "github.com/phrazzld/lottery-keeper/internal/platform/nats"
	"github.com/phrazzld/lottery-keeper/internal/platform/postgres"
	"github.com/phrazzld/lottery-keeper/internal/platform/telemetry"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ledgerBackend bundles the three ledger collaborators, which both
// implementations provide from a single value.
type ledgerBackend interface {
	ledger.Program
	ledger.Oracle
	ledger.Client
}

// application holds the process-wide dependencies and releases them on
// shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	source string

	db          *sql.DB
	mongoClient *mongo.Client
	store       task.Store
	pinger      api.Pinger
	ledger      ledgerBackend

	emitter   *events.InMemoryEventEmitter
	kafkaSink *kafkasink.Sink
	natsConn  *nats.Conn
	natsSub   *natsbus.Subscriber

	scheduler *task.Scheduler
	service   *task.Service

	jwtService   auth.JWTService
	cronVerifier auth.SecretVerifier

	cancelBase        context.CancelFunc
	shutdownTelemetry telemetry.ShutdownFunc
}

// newApplication wires every component from cfg. On error, whatever was
// already opened is released.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		source: instanceID(),
	}
	initialized := false
	defer func() {
		if !initialized {
			app.cleanup(context.Background())
		}
	}()

	var err error
	if cfg.Telemetry.Enabled {
		app.shutdownTelemetry, err = telemetry.Setup(ctx, telemetry.Options{ServiceName: cfg.Telemetry.ServiceName})
		if err != nil {
			return nil, fmt.Errorf("failed to set up telemetry: %w", err)
		}
		logger.Info("telemetry enabled", "service_name", cfg.Telemetry.ServiceName)
	}

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}

	adminAddress, err := app.setupLedger()
	if err != nil {
		return nil, err
	}

	app.emitter = events.NewInMemoryEventEmitter(logger)

	poller := confirm.NewPoller(app.ledger, cfg.Task.ConfirmAttempts, cfg.Task.ConfirmInterval, logger)
	winnerSelection, err := pipeline.NewWinnerSelection(pipeline.Deps{
		Program: app.ledger,
		Oracle:  app.ledger,
		Client:  app.ledger,
		Poller:  poller,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create winner selection pipeline: %w", err)
	}

	processor, err := task.NewProcessor(app.store, app.emitter, app.source, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task processor: %w", err)
	}
	processor.Register(task.ActionSelectWinner, task.NewWinnerSelectionHandler(winnerSelection))

	// Forced runs and the scheduler outlive the requests that start them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	app.cancelBase = cancelBase

	app.scheduler = task.NewScheduler(baseCtx, app.store, processor, task.SchedulerConfig{
		TickInterval:       cfg.Task.TickInterval,
		StaleTaskAge:       cfg.Task.StaleTaskAge,
		StaleCheckInterval: cfg.Task.StaleCheckInterval,
		DrainTimeout:       cfg.Task.ShutdownDrainTimeout,
	}, logger)

	app.service, err = task.NewService(task.ServiceDeps{
		Store:     app.store,
		Processor: processor,
		Scheduler: app.scheduler,
		Program:   app.ledger,
		Emitter:   app.emitter,
		BaseCtx:   baseCtx,
	}, task.ServiceConfig{
		InlineProcessing: cfg.Task.InlineProcessing,
		AdminAddress:     adminAddress,
		Source:           app.source,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	if err = app.setupEventSinks(); err != nil {
		return nil, err
	}

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	app.cronVerifier = auth.NewBcryptVerifier(cfg.Auth.CronSecretHash)
	if cfg.Auth.CronSecretHash == "" {
		logger.Warn("cron secret hash not configured, /api/cron is disabled")
	}

	logger.Info("application initialized",
		"store", cfg.Store.Driver,
		"ledger_mode", cfg.Ledger.Mode,
		"inline_processing", cfg.Task.InlineProcessing,
		"source", app.source)
	initialized = true
	return app, nil
}

func (app *application) setupStore(ctx context.Context) error {
	switch app.config.Store.Driver {
	case "postgres":
		db, err := openDatabase(ctx, app.config.Database.URL, app.logger)
		if err != nil {
			return err
		}
		app.db = db
		if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		app.store = postgres.NewPostgresTaskStore(db, app.logger)
		app.pinger = db

	case "mongo":
		client, err := mongostore.Connect(ctx, app.config.Store.MongoURI)
		if err != nil {
			return err
		}
		app.mongoClient = client
		s := mongostore.NewMongoTaskStore(client.Database(app.config.Store.MongoDatabase), app.logger)
		if err := s.EnsureIndexes(ctx); err != nil {
			return err
		}
		app.store = s
		app.pinger = mongoPinger{client: client}

	case "memory":
		app.logger.Warn("using the in-memory task store, tasks are lost on restart")
		app.store = task.NewMemoryStore()

	default:
		return fmt.Errorf("unknown store driver %q", app.config.Store.Driver)
	}
	return nil
}

// setupLedger returns the admin address the ended-lottery sweep is
// restricted to. The simulated ledger has no admin.
func (app *application) setupLedger() (string, error) {
	cfg := app.config.Ledger
	if cfg.Mode == "simulated" {
		app.logger.Warn("using the simulated ledger")
		app.ledger = memledger.New()
		return "", nil
	}

	client, err := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.GatewayURL,
		ProgramID: cfg.ProgramID,
		AdminKey:  cfg.AdminKey,
		Timeout:   cfg.Timeout,
	}, app.logger)
	if err != nil {
		return "", fmt.Errorf("failed to create ledger gateway client: %w", err)
	}
	app.ledger = client
	return client.AdminAddress(), nil
}

// setupEventSinks attaches the optional Kafka and NATS handlers to the
// emitter. NATS also delivers other instances' events to the local
// scheduler so remote enqueues are picked up without waiting for a tick.
func (app *application) setupEventSinks() error {
	cfg := app.config.Events

	if len(cfg.KafkaBrokers) > 0 {
		app.kafkaSink = kafkasink.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic, app.logger)
		app.emitter.RegisterHandler(app.kafkaSink)
		app.logger.Info("kafka event sink enabled", "topic", cfg.KafkaTopic)
	}

	if cfg.NATSURL != "" {
		conn, err := natsbus.Connect(cfg.NATSURL, "lottery-keeper-"+app.source, app.logger)
		if err != nil {
			return err
		}
		app.natsConn = conn
		app.emitter.RegisterHandler(natsbus.NewPublisher(conn, cfg.NATSSubject, app.logger))

		wake := task.NewWakeOnEventHandler(app.scheduler, app.source, app.logger)
		app.natsSub = natsbus.NewSubscriber(conn, cfg.NATSSubject, wake, app.logger)
		if err := app.natsSub.Start(); err != nil {
			return err
		}
		app.logger.Info("nats event bus enabled", "subject", cfg.NATSSubject)
	}
	return nil
}

// Run starts the scheduler and serves HTTP until ctx is done, then shuts
// everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	err := app.startHTTPServer(ctx, app.setupRouter())
	app.cleanup(context.Background())
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases resources in reverse order of acquisition. It is safe to
// call on a partially initialized application.
func (app *application) cleanup(ctx context.Context) {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.service != nil {
		app.service.Wait()
	}
	if app.cancelBase != nil {
		app.cancelBase()
	}

	if app.natsSub != nil {
		if err := app.natsSub.Stop(); err != nil {
			app.logger.Error("failed to unsubscribe from nats", "error", err)
		}
	}
	if app.natsConn != nil {
		if err := app.natsConn.Drain(); err != nil {
			app.natsConn.Close()
		}
	}
	if app.kafkaSink != nil {
		if err := app.kafkaSink.Close(); err != nil {
			app.logger.Error("failed to close kafka sink", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	if app.mongoClient != nil {
		if err := app.mongoClient.Disconnect(ctx); err != nil {
			app.logger.Error("error disconnecting from mongo", "error", err)
		}
	}

	if app.shutdownTelemetry != nil {
		if err := app.shutdownTelemetry(ctx); err != nil {
			app.logger.Error("failed to flush telemetry", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}

type mongoPinger struct {
	client *mongo.Client
}

func (p mongoPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// instanceID identifies this process in emitted events.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}
