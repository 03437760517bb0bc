// cmd/container.go
//
// Composition root. Owns infrastructure (Postgres, Redis, AWS) and wires the
// queues, handlers and supervisor. This is the only place that knows about
// every package.
package main

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/partline/partline/pkg/config"
	"github.com/partline/partline/pkg/jobs"
	"github.com/partline/partline/pkg/logx"
	"github.com/partline/partline/pkg/notifx"
	"github.com/partline/partline/pkg/notifx/notifxconsole"
	"github.com/partline/partline/pkg/notifx/notifxses"
	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/queuex/queuexmem"
	"github.com/partline/partline/pkg/queuex/queuexpg"
	"github.com/partline/partline/pkg/queuex/queuexredis"
	"github.com/partline/partline/pkg/scanx"
)

// Container holds shared infrastructure and the composed worker.
type Container struct {
	Config *config.Config

	DB    *sqlx.DB
	Store queuex.Store

	Notifier *notifx.Client
	Scans    *scanx.Client

	Registry   *queuex.Registry
	Supervisor *queuex.Supervisor
}

// NewContainer builds the full worker process from configuration.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	if err := c.initInfrastructure(ctx); err != nil {
		c.Cleanup()
		return nil, err
	}
	if err := c.initQueues(ctx); err != nil {
		c.Cleanup()
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"store":  cfg.Queuex.Store,
		"queues": c.Registry.Names(),
	}).Info("container initialized")
	return c, nil
}

func (c *Container) initInfrastructure(ctx context.Context) error {
	cfg := c.Config

	// The maintenance handler needs the marketplace database regardless of
	// which job store backs the queues.
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("database connected")

	store, err := c.buildStore(ctx)
	if err != nil {
		return err
	}
	c.Store = store
	logx.Infof("job store ready (%s)", cfg.Queuex.Store)

	notifier, err := c.buildNotifier(ctx)
	if err != nil {
		return err
	}
	c.Notifier = notifier

	c.Scans = scanx.NewClient(
		cfg.Scanx.BaseURL,
		cfg.Scanx.BackendURL,
		cfg.Scanx.APIKey,
		&http.Client{Timeout: cfg.Scanx.Timeout},
	)
	return nil
}

func (c *Container) buildStore(ctx context.Context) (queuex.Store, error) {
	cfg := c.Config

	switch cfg.Queuex.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return queuexredis.NewStore(rdb), nil

	case "postgres":
		store := queuexpg.NewStore(c.DB)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate job tables: %w", err)
		}
		return store, nil

	case "memory":
		logx.Warn("using in-memory job store; jobs are lost on restart")
		return queuexmem.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown QUEUE_STORE %q (use redis, postgres or memory)", cfg.Queuex.Store)
	}
}

func (c *Container) buildNotifier(ctx context.Context) (*notifx.Client, error) {
	cfg := c.Config.Notifx

	var provider notifx.EmailSender
	switch cfg.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		provider = notifxses.NewProvider(ses.NewFromConfig(awsCfg))
		logx.Infof("email provider ready (ses, region %s)", cfg.AWSRegion)

	case "console":
		provider = notifxconsole.NewProvider()
		logx.Info("email provider ready (console)")

	default:
		return nil, fmt.Errorf("unknown NOTIFX_PROVIDER %q (use ses or console)", cfg.Provider)
	}

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	client := notifx.NewClient(provider, notifx.WithDefaultFrom(from))
	if err := jobs.RegisterEmailTemplates(client); err != nil {
		return nil, fmt.Errorf("register email templates: %w", err)
	}
	return client, nil
}

func (c *Container) initQueues(ctx context.Context) error {
	cfg := c.Config.Queuex

	c.Registry = queuex.NewRegistry()
	c.Supervisor = queuex.NewSupervisor(c.Registry, queuex.SupervisorOptions{
		MetricsInterval: cfg.MetricsInterval,
		HealthInterval:  cfg.HealthInterval,
		CleanupInterval: cfg.CleanupInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CompletedMaxAge: cfg.CompletedRetention,
		FailedMaxAge:    cfg.FailedRetention,
		Pool: queuex.PoolOptions{
			LeaseTimeout:    cfg.LeaseTimeout,
			JobTimeout:      cfg.JobTimeout,
			PollInterval:    cfg.PollInterval,
			ReclaimInterval: cfg.ReclaimInterval,
		},
	})

	queueCfg := func(concurrency int) queuex.QueueConfig {
		qc := queuex.DefaultQueueConfig()
		qc.Concurrency = concurrency
		qc.CompletedRetention.MaxAge = cfg.CompletedRetention
		qc.FailedRetention.MaxAge = cfg.FailedRetention
		return qc
	}

	emailQueue := queuex.NewQueue(jobs.QueueEmail, c.Store, queueCfg(cfg.EmailConcurrency))
	scanQueue := queuex.NewQueue(jobs.QueueScan, c.Store, queueCfg(cfg.ScanConcurrency))
	maintQueue := queuex.NewQueue(jobs.QueueMaintenance, c.Store, queueCfg(cfg.MaintenanceConcurrency))

	emailHandler := jobs.NewEmailHandler(c.Notifier)
	scanHandler := jobs.NewScanHandler(c.Scans)
	maintHandler := jobs.NewMaintenanceHandler(
		jobs.NewPostgresVehicleDirectory(c.DB),
		emailQueue,
	)

	if err := c.Supervisor.Register(emailQueue, emailHandler.Handle); err != nil {
		return err
	}
	if err := c.Supervisor.Register(scanQueue, scanHandler.Handle); err != nil {
		return err
	}
	return c.Supervisor.Register(maintQueue, maintHandler.Handle)
}

// Cleanup releases infrastructure. Safe to call on a partially built
// container.
func (c *Container) Cleanup() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logx.WithError(err).Error("error closing job store")
		}
	}
	// database/sql Close is idempotent, so this is safe when the postgres
	// store already closed the shared pool.
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.WithError(err).Error("error closing database")
		}
	}
	logx.Info("cleanup complete")
}
