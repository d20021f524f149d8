// Command guardian-server exposes the guardian engine over HTTP, backed by
// Postgres for accounts and tokens and Redis for address throttling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/config"
	"github.com/MrEthical07/guardian/notify"
	"github.com/MrEthical07/guardian/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "guardian-server:", err)
		os.Exit(1)
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(settings)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := initSentry(settings.SentryDSN, settings.AppEnv); err != nil {
		logger.Error("init sentry failed", zap.Error(err))
	}
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if settings.RunMigrations {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	engineCfg, err := settings.EngineConfig()
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := buildNotifier(settings.Notify, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	builder := guardian.New().
		WithConfig(engineCfg).
		WithStore(postgres.New(pool)).
		WithRedis(rdb).
		WithLogger(logger).
		WithNotifier(notifier)
	if settings.AuditLog {
		builder = builder.WithAuditSink(guardian.NewLogSink(logger.Named("audit")))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           newRouter(engine, logger, settings.Metrics.Enabled),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server start", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(settings *config.Settings) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewDevelopmentConfig()
	if settings.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// buildNotifier fans out to every notifier whose settings are present.
func buildNotifier(s config.NotifySettings, logger *zap.Logger) (notify.Notifier, func(), error) {
	var (
		targets notify.Multi
		closers []func()
	)

	if s.TelegramBotToken != "" && s.TelegramChatID != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: s.TelegramBotToken,
			ChatID:   s.TelegramChatID,
		}, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, tg)
	}

	if s.SMTPHost != "" && s.SMTPFrom != "" {
		mail, err := notify.NewEmail(notify.EmailConfig{
			Host:        s.SMTPHost,
			Port:        s.SMTPPort,
			Username:    s.SMTPUsername,
			Password:    s.SMTPPassword,
			FromAddress: s.SMTPFrom,
			StartTLS:    s.SMTPStartTLS,
		})
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, mail)
	}

	if len(s.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{
			Brokers: s.KafkaBrokers,
			Source:  s.KafkaSource,
		})
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(targets) == 0 {
		return notify.Nop{}, closeAll, nil
	}
	return targets, closeAll, nil
}
