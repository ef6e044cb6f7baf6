package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/RyanStanLin/IntSchool.Sharp/config"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/eventhandler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/bootstrap"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/attendance"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/notification"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/school"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/external/bark"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/metrics"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/infrastructure/persistence/redis"
	apihttp "github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http/handlers"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/timeutil"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll attendance and push changes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
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

	log.Info("starting barker",
		logger.String("env", string(cfg.App.Environment)),
		logger.Int("profiles", len(cfg.Barker.Profiles)),
		logger.Duration("interval", cfg.Barker.Interval),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. КЛИЕНТ API ШКОЛЫ
	// ─────────────────────────────────────────────────────────────────────────
	client, err := bootstrap.NewSchoolClient(cfg.School, log, m)
	if err != nil {
		return err
	}

	health := handlers.NewHealthChecker(cfg.App.Version)
	health.AddBreaker(client.Breaker())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. КЕШ СНИМКОВ (память или Redis)
	// ─────────────────────────────────────────────────────────────────────────
	var cache poller.SnapshotCache
	if cfg.Barker.SnapshotStore == "redis" {
		redisCache, err := bootstrap.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Warn("failed to close redis", logger.Err(err))
			}
		}()
		cache = redis.NewSnapshotCache(redisCache, cfg.Barker.SnapshotTTL)
		health.AddCheck("redis", handlers.PingCheck(redisCache))
		log.Info("snapshot cache: redis", logger.String("addr", bootstrap.RedisConfig(cfg.Redis).Addr()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПРОФИЛИ И ПОДПИСКИ
	// ─────────────────────────────────────────────────────────────────────────
	ap, err := buildPoller(cfg, client, cache, m, log, health)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP API (статус, метрики)
	// ─────────────────────────────────────────────────────────────────────────
	var server *apihttp.Server
	if cfg.HTTP.Enabled {
		server = apihttp.NewServer(bootstrap.HTTPServerConfig(cfg), apihttp.Dependencies{
			Logger:   log,
			Health:   health,
			Profiles: ap,
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
	// 6. ЗАПУСК И ОЖИДАНИЕ СИГНАЛА
	// ─────────────────────────────────────────────────────────────────────────
	if err := ap.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	log.Info("barker is running")

	<-ctx.Done()
	log.Info("shutdown signal received")

	ap.Dispose()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown failed", logger.Err(err))
		}
	}

	log.Info("barker stopped")
	return nil
}

// buildPoller собирает поллер: один профиль на запись barker.profiles,
// у каждого журнал и, если включено, уведомления Bark на его устройства.
func buildPoller(
	cfg *config.Config,
	client school.Client,
	cache poller.SnapshotCache,
	m *metrics.Metrics,
	log *logger.Logger,
	health *handlers.HealthChecker,
) (*poller.AttendancePoller, error) {
	handler := eventhandler.NewOnAttendanceChangedHandler(log, handlerConfig(cfg))

	builder := poller.NewBuilder(client).
		WithInterval(cfg.Barker.Interval).
		WithLogger(log)
	if cfg.Barker.FetchTimeout > 0 {
		builder.WithFetchTimeout(cfg.Barker.FetchTimeout)
	}
	if cache != nil {
		builder.WithCache(cache)
	}
	if m != nil {
		builder.WithRecorder(m)
	}

	for i, pc := range cfg.Barker.Profiles {
		profile, err := newProfile(pc, cfg.Barker.Window)
		if err != nil {
			return nil, fmt.Errorf("barker.profiles[%d]: %w", i, err)
		}

		notifier, err := newNotifier(cfg, pc.BarkKeys, m, log)
		if err != nil {
			return nil, fmt.Errorf("barker.profiles[%d]: %w", i, err)
		}
		if b, ok := notifier.(*bark.Client); ok && health != nil {
			health.AddBreaker(b.Breaker())
		}

		handler.Attach(profile, notifier)
		if err := builder.AddProfile(profile); err != nil {
			return nil, err
		}
	}

	ap, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build poller: %w", err)
	}
	return ap, nil
}

// newProfile создаёт профиль; пустое окно профиля берётся из barker.window.
func newProfile(pc config.ProfileConfig, defaultWindow string) (*poller.Profile, error) {
	window := pc.Window
	if window == "" {
		window = defaultWindow
	}
	preset, err := attendance.ParsePreset(window)
	if err != nil {
		return nil, err
	}
	return poller.NewProfile(poller.ProfileParams{
		Description:  pc.Description,
		StudentID:    pc.StudentID,
		SchoolYearID: pc.SchoolYearID,
		Window:       preset.Window(timeutil.SystemClock),
	})
}

// newNotifier возвращает nil, если уведомления выключены или у профиля нет
// ключей устройств.
func newNotifier(cfg *config.Config, keys []string, m *metrics.Metrics, log *logger.Logger) (notification.Notifier, error) {
	if !cfg.Features.IsEnabled(config.FeatureBarkNotifications) || len(keys) == 0 {
		return nil, nil
	}

	barkCfg := bark.DefaultConfig(keys...)
	if cfg.Bark.ServerURL != "" {
		barkCfg.ServerURL = cfg.Bark.ServerURL
	}
	barkCfg.Sound = cfg.Bark.Sound
	barkCfg.Icon = cfg.Bark.Icon
	if cfg.Bark.Timeout > 0 {
		barkCfg.Timeout = cfg.Bark.Timeout
	}
	if cfg.Bark.MaxAttempts > 0 {
		barkCfg.MaxAttempts = uint(cfg.Bark.MaxAttempts)
	}
	if cfg.Bark.RetryDelay > 0 {
		barkCfg.RetryDelay = cfg.Bark.RetryDelay
	}

	opts := []bark.Option{bark.WithLogger(log)}
	if m != nil {
		opts = append(opts, bark.WithRecorder(m), bark.WithBreakerHook(m.BreakerStateHook()))
	}
	client, err := bark.NewClient(barkCfg, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func handlerConfig(cfg *config.Config) eventhandler.AttendanceChangedConfig {
	hc := eventhandler.DefaultAttendanceChangedConfig()
	if cfg.Bark.Group != "" {
		hc.Group = cfg.Bark.Group
	}
	if cfg.Bark.Sound != "" {
		hc.Sound = cfg.Bark.Sound
	}
	hc.Icon = cfg.Bark.Icon
	if cfg.Bark.URL != "" {
		hc.URL = cfg.Bark.URL
	}
	if cfg.Barker.CriticalThreshold != "" {
		hc.CriticalThreshold = attendance.ParseStatus(cfg.Barker.CriticalThreshold)
	}
	hc.CriticalEnabled = cfg.Features.IsEnabled(config.FeatureCriticalAlerts)
	return hc
}
