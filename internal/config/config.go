package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/campaign-dispatcher/internal/queue"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DispatchModeInline = "inline"
	DispatchModeQueue  = "queue"
)

var config *Config

// Config holds every setting of the api, dispatcher and cli binaries. Only
// this struct must be used to read configuration, nothing else reads the
// environment directly.
type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	AppName  string `env:"APP_NAME,default=campaign_dispatcher"`
	AppDebug bool   `env:"APP_DEBUG,default=false"`

	HttpListenAddr      string        `env:"HTTP_LISTEN_ADDR,default=:5000"`
	HttpRequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=10s"`
	MetricsListenAddr   string        `env:"METRICS_LISTEN_ADDR"`
	MetricsPath         string        `env:"METRICS_PATH,default=/metrics"`
	TrackingBaseURL     string        `env:"TRACKING_BASE_URL,default=http://127.0.0.1:5000"`
	RecipientCacheTTL   time.Duration `env:"RECIPIENT_CACHE_TTL,default=5m"`
	TrackingMarkerTTL   time.Duration `env:"TRACKING_MARKER_TTL,default=720h"`
	CampaignListDefault int           `env:"CAMPAIGN_LIST_DEFAULT_LIMIT,default=50"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST,default=localhost"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST,default=localhost"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE,default=0"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=campaign:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=campaign_dispatcher"`

	SMTPHost     string        `env:"SMTP_HOST,default=smtp.gmail.com"`
	SMTPPort     int           `env:"SMTP_PORT,default=587"`
	SMTPTLSMode  string        `env:"SMTP_TLS_MODE,default=starttls"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT,default=30s"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`

	DispatchMode          string        `env:"DISPATCH_MODE,default=inline"`
	DispatchPacing        time.Duration `env:"DISPATCH_PACING,default=1s"`
	DispatchWorkers       int           `env:"DISPATCH_WORKERS,default=4"`
	DispatchBuffer        int           `env:"DISPATCH_BUFFER,default=64"`
	DispatchConsumers     int           `env:"DISPATCH_CONSUMERS,default=1"`
	RunLeaseTTL           time.Duration `env:"RUN_LEASE_TTL,default=2m"`
	RunSweepInterval      time.Duration `env:"RUN_SWEEP_INTERVAL,default=1m"`
	RunReserveTTL         time.Duration `env:"RUN_RESERVE_TTL,default=24h"`
	DispatchStopTimeout   time.Duration `env:"DISPATCH_STOP_TIMEOUT,default=30s"`
	DispatchSenderAddress string        `env:"DISPATCH_SENDER_ADDRESS"`

	QueueName              string        `env:"QUEUE_NAME,default=campaign:start"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=dispatchers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=10000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	config = c
	return nil
}

func (c *Config) Validate() error {
	switch c.DispatchMode {
	case DispatchModeInline, DispatchModeQueue:
	default:
		return errors.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchModeInline, DispatchModeQueue, c.DispatchMode)
	}
	if c.DispatchMode == DispatchModeQueue && c.RedisAddr == "" {
		return errors.New("DISPATCH_MODE=queue requires REDIS_ADDR")
	}
	if c.DispatchPacing < 0 {
		return errors.New("DISPATCH_PACING must not be negative")
	}
	if c.SMTPPort <= 0 {
		return errors.Errorf("SMTP_PORT must be positive, got %d", c.SMTPPort)
	}
	return nil
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

func (c *Config) RedisOptions() *goredis.UniversalOptions {
	return &goredis.UniversalOptions{
		Addrs:    []string{c.RedisAddr},
		DB:       c.RedisDatabase,
		Username: c.RedisUsername,
		Password: c.RedisPassword,
	}
}

func (c *Config) QueueSettings() queue.QueueConfig {
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

// Set replaces the loaded configuration. Tests and embedding binaries use it
// instead of the environment.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
