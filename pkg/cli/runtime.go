package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/unitofwork/pkg/config"
	"github.com/nimburion/unitofwork/pkg/health"
	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/observability/metrics"
	"github.com/nimburion/unitofwork/pkg/observability/tracing"
	"github.com/nimburion/unitofwork/pkg/store"
	"github.com/nimburion/unitofwork/pkg/uow"
	"github.com/nimburion/unitofwork/pkg/version"
)

// DatabaseOpener opens the configured database. store.NewDatabase is the default.
type DatabaseOpener func(cfg config.DatabaseConfig, log logger.Logger) (store.Database, error)

// Runtime is everything a command needs to run statements through a unit of
// work: the pool, the provider registered on it and the observability stack.
type Runtime struct {
	Config   *config.Config
	Logger   logger.Logger
	Database store.Database
	Provider *uow.Provider
	Metrics  *metrics.Registry
	Tracing  *tracing.TracerProvider
	Health   *health.Registry
}

// OpenRuntime opens the database and registers a unit-of-work provider on it
// using the unit_of_work section of cfg.
func OpenRuntime(ctx context.Context, cfg *config.Config, log logger.Logger, open DatabaseOpener) (*Runtime, error) {
	if open == nil {
		open = store.NewDatabase
	}
	txOptions, err := cfg.UnitOfWork.TxOptions()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: log, Health: health.NewRegistry()}

	rt.Tracing, err = tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	opts := []uow.Option{
		uow.WithLogger(log),
		uow.WithTxOptions(txOptions),
	}
	if cfg.Observability.MetricsEnabled {
		rt.Metrics = metrics.NewRegistry()
		m, err := uow.NewMetrics(rt.Metrics.Registerer())
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("register unit-of-work metrics: %w", err)
		}
		opts = append(opts, uow.WithMetrics(m))
	}

	rt.Database, err = open(cfg.Database, log)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("open database: %w", err)
	}
	opts = append(opts,
		uow.WithDialect(rt.Database.Dialect()),
		uow.WithStatementTimeout(rt.Database.QueryTimeout()),
	)

	rt.Provider, err = uow.NewRegistry().AddUnitOfWork(cfg.UnitOfWork.ContextName, rt.Database, opts...)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	rt.Health.Register(health.NewDatabaseChecker("database", rt.Database))
	rt.Health.Register(health.NewPoolChecker("pool", rt.Database))
	rt.Health.Register(health.NewSessionChecker("session", rt.Provider, 0))
	return rt, nil
}

// Close flushes traces and closes the database.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Tracing != nil {
		if err := rt.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Database != nil {
		if err := rt.Database.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
