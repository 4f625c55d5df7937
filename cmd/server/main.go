package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/assign"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/receipts"
	"github.com/example/ride-dispatch/internal/storage"
)

type driverDirectory interface {
	geo.Directory
	Upsert(ctx context.Context, d models.Driver) error
}

type bookingStore interface {
	lifecycle.Store
	lifecycle.RiderDirectory
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	var drivers driverDirectory
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, rc)
		drivers = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		logger.Info("driver directory: redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		drivers = geo.NewIndex()
		logger.Info("driver directory: in-memory")
	}

	var store bookingStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, falling back to in-memory bookings", "error", err)
		} else {
			closers = append(closers, ps)
			if cfg.RunMigrations {
				if err := migrate(ctx, ps.DB(), "migrations", logger); err != nil {
					return err
				}
			}
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	hub := notify.NewHub(logger)
	publishers := notify.Fanout{hub}
	if cfg.AMQPURL != "" {
		ap, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		closers = append(closers, ap)
		publishers = append(publishers, ap)
	}

	earnings := ledger.NewMemoryLedger()
	deps := lifecycle.Deps{
		Store:    store,
		Riders:   store,
		Drivers:  drivers,
		Notifier: publishers,
		Ledger:   earnings,
		Receipts: receipts.LogSender{Logger: logger},
		Logger:   logger,
	}
	if cfg.StripeAPIKey != "" {
		deps.Refunds = payments.NewStripeRefunder(cfg.StripeAPIKey, logger)
	} else {
		logger.Warn("STRIPE_API_KEY not set, refunds will be reported as warnings")
	}

	var heartbeats httpapi.HeartbeatPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kl := ledger.NewKafkaLedger(cfg.KafkaBrokers, cfg.KafkaAccountingTopic)
		ks := receipts.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaReceiptTopic)
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaHeartbeatTopic)
		closers = append(closers, kl, ks, kp)
		deps.Ledger = ledger.Tee{earnings, kl}
		deps.Receipts = ks
		heartbeats = kp
	}

	d := cfg.Dispatch
	svc := lifecycle.NewService(deps, lifecycle.Policy{
		SideEffectTimeout:     d.SideEffectTimeout,
		StoreTimeout:          d.StoreTimeout,
		SendReceipts:          d.SendReceipts,
		DefaultCommissionRate: d.DefaultCommissionRate,
		Currency:              d.Currency,
	})

	m := cfg.Matcher
	scorer := geo.NewScorer(geo.Weights{Distance: m.DistanceWeight, Rating: m.RatingWeight, WheelchairBonus: m.WheelchairBonus}, m.LocationFreshness)
	coord := assign.NewCoordinator(svc, drivers, matcher.NewSelector(scorer), assign.Config{
		SearchRadiusKm:   m.SearchRadiusKm,
		CandidateLimit:   m.CandidateLimit,
		DefaultTopN:      m.TopN,
		MaxTopN:          m.MaxTopN,
		DirectoryTimeout: m.DirectoryTimeout,
	}, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Bookings:   svc,
		Dispatcher: coord,
		Drivers:    drivers,
		Heartbeats: heartbeats,
		Earnings:   earnings,
		Hub:        hub,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shCtx)
}

// migrate applies every .sql file in dir in lexical order.
func migrate(ctx context.Context, db *sql.DB, dir string, logger *slog.Logger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err = db.ExecContext(mctx, string(b))
		cancel()
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
