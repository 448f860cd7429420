package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/campaign-dispatcher/internal/config"
	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
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

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()
	logger.Info("starting dispatcher", "version", version, "commit", commit, "date", date)

	if cfg.RedisAddr == "" {
		logger.Error("the dispatcher consumes a redis stream, REDIS_ADDR is required")
		os.Exit(1)
	}

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		os.Exit(1)
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions())
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		os.Exit(1)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		os.Exit(1)
	}

	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	lease := dispatch.NewRedisLease(redisAdap, dispatch.LeaseConfig{TTL: cfg.RunLeaseTTL, ReserveTTL: cfg.RunReserveTTL})

	engine := dispatch.NewEngine(
		campaignRepo,
		recipientRepo,
		transport.NewSMTPOpener(transport.Settings{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			TLSMode: cfg.SMTPTLSMode,
			Timeout: cfg.SMTPTimeout,
		}),
		dispatch.EngineConfig{BaseURL: cfg.TrackingBaseURL, Pacing: cfg.DispatchPacing},
		dispatch.WithLease(lease),
	)
	launcher := dispatch.NewInlineLauncher(engine, cfg.DispatchWorkers, cfg.DispatchBuffer)

	// relay credentials never travel through the stream
	dispatcher := dispatch.NewDispatcher(redisAdap, launcher, dispatch.DispatcherConfig{
		Queue:       cfg.QueueSettings(),
		Consumers:   cfg.DispatchConsumers,
		Credentials: transport.Credentials{Username: cfg.SMTPUsername, Password: cfg.SMTPPassword},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := dispatch.NewSweeper(campaignRepo, lease, launcher, cfg.RunSweepInterval, cfg.RunLeaseTTL)
	sweeper.Start(ctx)

	if cfg.MetricsListenAddr != "" {
		metricsServer := prom.NewServer(cfg.MetricsPath)
		go func() {
			if err := metricsServer.ListenAndServe(cfg.MetricsListenAddr); err != nil {
				logger.Error("error in running metrics server", "error", err)
			}
		}()
		defer metricsServer.Shutdown()
	}

	if err := dispatcher.Start(); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		sweeper.Stop()
		os.Exit(1)
	}

	<-ctx.Done()
	dispatcher.Stop(cfg.DispatchStopTimeout)
	sweeper.Stop()
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
