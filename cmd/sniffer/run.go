package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/bootstrap"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/messaging"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/metrics"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/postgres"
	apihttp "github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http/handlers"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl from the initial student until the queue drains or interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.ValidateSniffer(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// crawlerConfig переводит настройки sniffer в конфигурацию краулера.
func crawlerConfig(cfg config.SnifferConfig, clock timeutil.Clock) (crawler.Config, error) {
	preset, err := attendance.ParseCrawlPreset(cfg.Window)
	if err != nil {
		return crawler.Config{}, err
	}

	out := crawler.DefaultConfig()
	out.InitialStudentID = cfg.InitialStudentID
	out.InitialStudentName = cfg.InitialStudentName
	out.Window = preset.Window(clock)
	out.RateLimitPerSecond = cfg.RateLimitPerSecond
	out.MaxRetries = cfg.MaxRetries
	out.RetryDelay = cfg.RetryDelay
	if cfg.AcquireTimeout > 0 {
		out.AcquireTimeout = cfg.AcquireTimeout
	}
	return out, nil
}

func run(parent context.Context, cfg *config.Config) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЛОГИРОВАНИЕ И МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := bootstrap.SignalContext(parent)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	log.Info("starting sniffer",
		logger.String("env", string(cfg.App.Environment)),
		logger.StudentID(cfg.Sniffer.InitialStudentID),
		logger.String("window", cfg.Sniffer.Window),
		logger.Int("rate_limit_per_second", cfg.Sniffer.RateLimitPerSecond),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. КЛИЕНТ API ШКОЛЫ И КРАУЛЕР
	// ─────────────────────────────────────────────────────────────────────────
	client, err := bootstrap.NewSchoolClient(cfg.School, log, m)
	if err != nil {
		return err
	}
	health := handlers.NewHealthChecker(cfg.App.Version)
	health.AddBreaker(client.Breaker())

	crawlCfg, err := crawlerConfig(cfg.Sniffer, timeutil.SystemClock)
	if err != nil {
		return err
	}
	c, err := crawler.New(client, crawlCfg, crawler.WithLogger(log), crawler.WithRecorder(m))
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}
	defer c.Close()

	// Потребители состояний живут дольше сигнала: после Stop им ещё нужно
	// получить Completed и сохранить результаты.
	consumerCtx, cancelConsumers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConsumers()
	var consumers errgroup.Group

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СОХРАНЕНИЕ РЕЗУЛЬТАТОВ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Features.IsEnabled(config.FeaturePersistResults) {
		db, err := bootstrap.OpenPostgres(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := postgres.NewMigrator(db, log).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("applied", applied))

		repo := postgres.NewStudentRepository(db,
			postgres.WithRepositoryLogger(log),
			postgres.WithRepositoryBreakerHook(m.BreakerStateHook()),
		)
		health.AddCheck("postgres", bootstrap.PostgresCheck(db))
		health.AddBreaker(repo.Breaker())

		states, unsubscribe := c.States()
		persister := crawler.NewResultPersister(repo, log)
		consumers.Go(func() error {
			defer unsubscribe()
			summary, err := persister.Run(consumerCtx, states)
			if err != nil {
				return fmt.Errorf("persist results: %w", err)
			}
			log.Info("crawl results persisted",
				logger.Int("added", summary.Added),
				logger.Int("skipped", summary.Skipped),
				logger.Int("failed", summary.Failed),
			)
			return nil
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЖУРНАЛ СОБЫТИЙ И ПУБЛИКАЦИЯ СОСТОЯНИЯ (Redis)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Features.IsEnabled(config.FeatureEventLog) {
		states, unsubscribe := c.States()
		events := crawler.NewEventLogger(log, cfg.Sniffer.EventLogInterval)
		consumers.Go(func() error {
			defer unsubscribe()
			events.Run(consumerCtx, states)
			return nil
		})
	}

	if cfg.Features.IsEnabled(config.FeaturePublishState) {
		cache, err := bootstrap.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := cache.Close(); err != nil {
				log.Warn("failed to close redis", logger.Err(err))
			}
		}()
		health.AddCheck("redis", handlers.PingCheck(cache))

		publisher, err := messaging.NewCrawlStatePublisher(messaging.CrawlStatePublisherConfig{
			Publisher: cache,
			Channel:   cfg.Sniffer.StateChannel,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		log.Info("publishing crawl state",
			logger.String("channel", cfg.Sniffer.StateChannel),
			logger.String("instance_id", publisher.InstanceID()),
		)

		states, unsubscribe := c.States()
		consumers.Go(func() error {
			defer unsubscribe()
			publisher.Run(consumerCtx, states)
			return nil
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP API (статус, управление, метрики)
	// ─────────────────────────────────────────────────────────────────────────
	var server *apihttp.Server
	if cfg.HTTP.Enabled {
		server = apihttp.NewServer(bootstrap.HTTPServerConfig(cfg), apihttp.Dependencies{
			Logger:   log,
			Health:   health,
			Crawl:    c,
			Gatherer: reg,
		})
		serverErrs := server.StartAsync()
		go func() {
			if err := <-serverErrs; err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", logger.Err(err))
				stop()
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОБХОД
	// ─────────────────────────────────────────────────────────────────────────
	final, startErr := crawl(ctx, c, log)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown failed", logger.Err(err))
		}
	}

	deadline := time.AfterFunc(cfg.App.ShutdownTimeout, cancelConsumers)
	consumerErr := consumers.Wait()
	deadline.Stop()

	log.Info("sniffer finished",
		logger.CrawlStatus(final.Status.String()),
		logger.Int("discovered", final.DiscoveredCount()),
		logger.Int("pending", final.PendingCount),
	)

	switch {
	case startErr != nil:
		return fmt.Errorf("failed to start crawler: %w", startErr)
	case final.Status == crawler.StatusFailed:
		return fmt.Errorf("crawl failed: %w", final.LastError)
	default:
		return consumerErr
	}
}

// crawl запускает краулер и ждёт терминального состояния. Сигнал завершения
// останавливает обход как Completed.
func crawl(ctx context.Context, c *crawler.StudentCrawler, log *logger.Logger) (crawler.CrawlState, error) {
	if err := c.Start(ctx); err != nil {
		return c.Current(), err
	}

	done := make(chan crawler.CrawlState, 1)
	go func() {
		s, _ := c.Wait(context.Background())
		done <- s
	}()

	select {
	case s := <-done:
		return s, nil
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping crawler")
		c.Stop()
		return <-done, nil
	}
}
