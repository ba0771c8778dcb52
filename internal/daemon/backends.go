package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediaflow/internal/bus"
	"mediaflow/internal/bus/amqpbus"
	"mediaflow/internal/config"
	"mediaflow/internal/guard"
	"mediaflow/internal/guard/redisguard"
	"mediaflow/internal/jobs"
	"mediaflow/internal/jobs/pgstore"
	"mediaflow/internal/jobs/sqlitestore"
	"mediaflow/internal/metrics"
	"mediaflow/internal/preflight"
	"mediaflow/internal/services"
)

// Backends holds the store, bus, locker, and metrics recorder selected by
// configuration. Bus and Locker are nil in in-process mode; Metrics is nil
// when metrics are disabled.
type Backends struct {
	Store   jobs.Store
	Bus     bus.Bus
	Locker  guard.Locker
	Metrics *metrics.Recorder

	probes  []preflight.Probe
	closers []func() error
}

// OpenBackends connects every backend the configured mode needs. On error
// anything already opened is closed.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Backends, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	switch cfg.Store.Driver {
	case config.StorePostgres:
		store, err := pgstore.Open(ctx, cfg)
		if err != nil {
			return nil, services.Wrap(services.ErrDependencyUnavailable, "", "open store", "postgres unreachable", err)
		}
		b.Store = store
	default:
		store, err := sqlitestore.Open(cfg)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "", "open store", "sqlite open failed", err)
		}
		b.Store = store
	}
	b.closers = append(b.closers, b.Store.Close)
	b.probes = append(b.probes, preflight.Probe{Name: "Store (" + cfg.Store.Driver + ")", Ping: b.Store.Ping})

	if cfg.Metrics.Enabled {
		b.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if !cfg.Distributed() {
		return b, nil
	}

	switch cfg.Bus.Driver {
	case config.BusAMQP:
		amqp, err := amqpbus.Dial(amqpbus.OptionsFromConfig(cfg), logger)
		if err != nil {
			return nil, services.Wrap(services.ErrDependencyUnavailable, "", "open bus", "rabbitmq unreachable", err)
		}
		b.Bus = amqp
		b.probes = append(b.probes, preflight.Probe{Name: "Bus (amqp)", Ping: amqp.Ping})
	default:
		b.Bus = bus.NewMemory(0, logger)
		b.probes = append(b.probes, preflight.Probe{Name: "Bus (memory)"})
	}
	b.closers = append(b.closers, b.Bus.Close)

	switch cfg.Guard.Driver {
	case config.GuardRedis:
		locker, err := redisguard.New(ctx, redisguard.Options{
			Addr:     cfg.Guard.RedisAddr,
			Password: cfg.Guard.RedisPassword,
			DB:       cfg.Guard.RedisDB,
			TTL:      time.Duration(cfg.Guard.LockTTL) * time.Second,
		}, logger)
		if err != nil {
			return nil, services.Wrap(services.ErrDependencyUnavailable, "", "open guard", "redis unreachable", err)
		}
		b.Locker = locker
		b.closers = append(b.closers, locker.Close)
		b.probes = append(b.probes, preflight.Probe{Name: "Guard (redis)", Ping: locker.Ping})
	default:
		b.Locker = guard.NewLocal()
		b.probes = append(b.probes, preflight.Probe{Name: "Guard (local)"})
	}
	return b, nil
}

// Probes returns reachability checks for every opened backend.
func (b *Backends) Probes() []preflight.Probe {
	if b == nil {
		return nil
	}
	return append([]preflight.Probe(nil), b.probes...)
}

// Close releases backends in reverse open order.
func (b *Backends) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close backends: %w", err)
	}
	return nil
}
