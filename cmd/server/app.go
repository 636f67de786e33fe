package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/nuxni/reaction-engine/config"
	"github.com/nuxni/reaction-engine/factory"
	"github.com/nuxni/reaction-engine/generic"
	"github.com/nuxni/reaction-engine/generic/store"
	"github.com/nuxni/reaction-engine/lock"
	"github.com/nuxni/reaction-engine/logger"
	"github.com/nuxni/reaction-engine/metrics"
	"github.com/nuxni/reaction-engine/reaction"
	"github.com/nuxni/reaction-engine/store/orm"
	"github.com/nuxni/reaction-engine/store/sqlite"
	"github.com/nuxni/reaction-engine/telemetry"
)

const serviceName = "reaction-engine"

// app holds the wired collaborators shared by every command.
type app struct {
	cfg     *config.Config
	backend generic.Backend
	engine  *reaction.Engine
	redis   *redis.Client
	tracer  *sdktrace.TracerProvider
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := logger.Initialize(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	metrics.Initialize()

	a := &app{cfg: cfg}

	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.Endpoint,
		Enabled:      cfg.Telemetry.Enabled,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		// Tracing is optional; the service keeps running without it.
		logger.Warn("tracing disabled", zap.Error(err))
	}
	a.tracer = tp

	if a.backend, err = openBackend(cfg.Store); err != nil {
		a.close(ctx)
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	policies, err := loadPolicies(ctx, cfg.Policies.File, a.backend)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.engine = reaction.NewEngine(a.backend, reaction.Config{
		PlatformAccount: generic.AccountID(cfg.Platform.AccountID),
		Policies:        policies,
		Locker:          locker,
	})

	logger.Log.Info("engine ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("platform_account", cfg.Platform.AccountID),
		zap.Bool("redis_lock", a.redis != nil),
	)
	return a, nil
}

func openBackend(sc config.StoreConfig) (generic.Backend, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite:
		if sc.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(sc.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.New(sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := orm.Open(orm.DialectPostgres, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", sc.Driver)
	}
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.RedisAddr == "" {
		return lock.NewLocal(), nil
	}
	client, err := lock.NewRedisClient(ctx, a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	return lock.NewRedis(client, a.cfg.Lock.TTL), nil
}

// loadPolicies applies the policies file, then stored overrides on top.
func loadPolicies(ctx context.Context, file string, ps generic.PolicyStore) (*reaction.PolicySet, error) {
	f := factory.NewPolicyFactory()
	set := reaction.NewPolicySet()

	if file != "" {
		policies, err := f.ParsePolicyFile(file)
		if err != nil {
			return nil, err
		}
		for _, p := range policies {
			set.Set(p)
		}
		logger.Log.Info("policies file applied",
			zap.String("file", file),
			zap.Int("count", len(policies)),
		)
	}

	n, err := f.LoadStored(ctx, ps, set)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored policies: %w", err)
	}
	logger.Log.Info("stored policies applied", zap.Int("count", n))
	return set, nil
}

// ensurePlatform opens the platform account if it doesn't exist yet.
func (a *app) ensurePlatform(ctx context.Context, balance int64) error {
	id := a.engine.PlatformAccount()
	_, err := a.backend.Account(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, generic.ErrAccountNotFound) {
		return err
	}
	now := time.Now().UTC()
	if err := a.backend.OpenAccount(ctx, generic.Account{
		ID:        id,
		Name:      "Platform",
		Balance:   generic.Points(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to open platform account: %w", err)
	}
	logger.Log.Info("platform account opened",
		zap.String("id", string(id)),
		zap.Int64("balance", balance),
	)
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			logger.ErrorWithFields("failed to close store", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithFields("failed to flush traces", err)
		}
	}
	_ = logger.Close()
}
