package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nimasrn/campaign-dispatcher/internal/config"
	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/handlers"
	"github.com/nimasrn/campaign-dispatcher/internal/queue"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/services"
	"github.com/nimasrn/campaign-dispatcher/internal/tracking"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"github.com/nimasrn/campaign-dispatcher/pkg/prom"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.Load(argContainsEnvPath()); err != nil {
		return err
	}
	cfg := config.Get()
	logger.Info("starting api", "version", version, "commit", commit, "date", date, "mode", cfg.DispatchMode)

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return err
	}

	// redis is optional in inline mode
	var redisAdap redis.RedisAdapter
	if cfg.RedisAddr != "" {
		redisAdap, err = redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions())
		if err != nil {
			logger.Error("failed connecting to redis", "error", err)
			return err
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Warn("prometheus metrics disabled", "error", err)
	}

	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	eventRepo := repository.NewTrackingEventRepository(db)

	var lease dispatch.Lease = dispatch.NoopLease{}
	if redisAdap != nil {
		lease = dispatch.NewRedisLease(redisAdap, dispatch.LeaseConfig{TTL: cfg.RunLeaseTTL, ReserveTTL: cfg.RunReserveTTL})
	}

	var (
		launcher dispatch.Launcher
		inline   *dispatch.InlineLauncher
		active   dispatch.ActiveRuns
	)
	switch cfg.DispatchMode {
	case config.DispatchModeQueue:
		q, err := queue.NewQueue(redisAdap, cfg.QueueSettings())
		if err != nil {
			logger.Error("failed creating queue", "error", err)
			return err
		}
		launcher = dispatch.NewQueueLauncher(q, lease)
	default:
		engine := dispatch.NewEngine(
			campaignRepo,
			recipientRepo,
			transport.NewSMTPOpener(smtpSettings(cfg)),
			dispatch.EngineConfig{BaseURL: cfg.TrackingBaseURL, Pacing: cfg.DispatchPacing},
			dispatch.WithLease(lease),
		)
		inline = dispatch.NewInlineLauncher(engine, cfg.DispatchWorkers, cfg.DispatchBuffer)
		inline.Start()
		launcher = inline
		active = inline
	}

	sweeper := dispatch.NewSweeper(campaignRepo, lease, active, cfg.RunSweepInterval, cfg.RunLeaseTTL)
	sweeper.Start(ctx)

	var markers tracking.MarkerStore = tracking.NoopMarkerStore{}
	if redisAdap != nil {
		markers = tracking.NewRedisMarkerStore(redisAdap, cfg.TrackingMarkerTTL)
	}

	// services
	campaignService := services.NewCampaignService(campaignRepo, recipientRepo, launcher, services.CampaignServiceConfig{
		DefaultSender:      cfg.DispatchSenderAddress,
		Relay:              transport.Credentials{Username: cfg.SMTPUsername, Password: cfg.SMTPPassword},
		RequireCredentials: cfg.DispatchMode == config.DispatchModeInline,
	})
	trackingService := services.NewTrackingService(recipientRepo, eventRepo, markers, cfg.RecipientCacheTTL)
	healthService := services.NewHealthService(map[string]services.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	})

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterCampaignRoutes(g, handlers.NewCampaignHandler(campaignService))
	handlers.RegisterTrackingRoutes(s.Router, handlers.NewTrackingHandler(trackingService))
	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(healthService))

	var metricsServer *xhttp.Engine
	if cfg.MetricsListenAddr != "" {
		metricsServer = prom.NewServer(cfg.MetricsPath)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.ListenAndServe(cfg.HttpListenAddr)
	})
	if metricsServer != nil {
		eg.Go(func() error {
			return metricsServer.ListenAndServe(cfg.MetricsListenAddr)
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		s.Shutdown()
		if metricsServer != nil {
			metricsServer.Shutdown()
		}
		sweeper.Stop()
		if inline != nil {
			if err := inline.Stop(cfg.DispatchStopTimeout); err != nil {
				logger.Warn("dispatch runs did not stop in time", "error", err)
			}
		}
		return nil
	})

	return eg.Wait()
}

func smtpSettings(cfg *config.Config) transport.Settings {
	return transport.Settings{
		Host:    cfg.SMTPHost,
		Port:    cfg.SMTPPort,
		TLSMode: cfg.SMTPTLSMode,
		Timeout: cfg.SMTPTimeout,
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "error", err)
				return ""
			}
			return path
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}
	return ""
}
