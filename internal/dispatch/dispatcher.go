package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/queue"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/prom"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

const (
	HealthInterval  = time.Second * 30
	ReportInterval  = time.Second * 30
	ShutdownTimeout = time.Minute
	// queue lag that triggers a health warning
	HighLagThreshold = 1000
)

type DispatcherConfig struct {
	Queue     queue.QueueConfig
	Consumers int
	// Relay credentials for every run this process executes.
	Credentials transport.Credentials
}

// Dispatcher consumes start events from the stream and runs them on a local
// worker pool. Messages are acked as soon as the run is accepted; the
// campaign status and the run lease make redelivered events harmless.
type Dispatcher struct {
	adapter  redis.RedisAdapter
	launcher *InlineLauncher
	config   DispatcherConfig
	queues   []*queue.Queue
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewDispatcher(adapter redis.RedisAdapter, launcher *InlineLauncher, config DispatcherConfig) *Dispatcher {
	if config.Consumers < 1 {
		config.Consumers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		adapter:  adapter,
		launcher: launcher,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Dispatcher) Start() error {
	logger.Info("starting dispatcher...")
	d.launcher.Start()

	for i := 0; i < d.config.Consumers; i++ {
		qc := d.config.Queue
		if qc.ConsumerName != "" {
			qc.ConsumerName = fmt.Sprintf("%s-instance-%d", qc.ConsumerName, i)
		}

		q, err := queue.NewQueue(d.adapter, qc)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(d.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		d.queues = append(d.queues, q)
	}

	d.wg.Add(2)
	go d.metricsReporter()
	go d.healthChecker()

	logger.Info("dispatcher started", "consumers", len(d.queues), "queue", d.config.Queue.Name)
	return nil
}

func (d *Dispatcher) messageHandler(ctx context.Context, msg *queue.Message) error {
	var evt StartEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil || evt.CampaignID <= 0 {
		// retrying cannot fix a malformed event
		logger.Error("dropping malformed start event", "message_id", msg.ID, "error", err)
		return nil
	}

	return d.launcher.Launch(ctx, RunRequest{
		CampaignID:  evt.CampaignID,
		From:        evt.SenderEmail,
		Credentials: d.config.Credentials,
	})
}

func (d *Dispatcher) metricsReporter() {
	defer d.wg.Done()

	ticker := time.NewTicker(ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.reportMetrics(d.ctx)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) reportMetrics(ctx context.Context) {
	stats := d.launcher.engine.Metrics().GetStats()
	logger.Info("dispatch metrics",
		"runs_completed", stats["runs_completed"],
		"runs_aborted", stats["runs_aborted"],
		"recipients_sent", stats["recipients_sent"],
		"recipients_failed", stats["recipients_failed"],
		"attempts_per_sec", stats["attempts_per_sec"],
		"avg_run_duration_s", stats["avg_run_duration_s"])

	for i, q := range d.queues {
		if qs, err := q.GetStats(ctx); err == nil {
			logger.Info("queue stats", "queue", i, "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetters)
			prom.SetQueueMessages("pending", qs.PendingMessages)
			prom.SetQueueMessages("dead_letters", qs.DeadLetters)
		}
	}
}

func (d *Dispatcher) healthChecker() {
	defer d.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.performHealthCheck()
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) performHealthCheck() {
	if err := d.adapter.Ping(d.ctx); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}

	for i, q := range d.queues {
		stats, err := q.GetStats(d.ctx)
		if err != nil {
			logger.Warn("health check: queue stats unavailable", "queue", i, "error", err)
			continue
		}
		if stats.PendingMessages > HighLagThreshold {
			logger.Warn("health check: queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}
	logger.Debug("health check ok")
}

// Stop stops consuming first, then cancels the runs in flight.
func (d *Dispatcher) Stop(timeout time.Duration) {
	logger.Info("shutting down dispatcher...")
	d.cancel()

	var wg sync.WaitGroup
	for i, q := range d.queues {
		wg.Add(1)
		go func(index int, q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(timeout); err != nil {
				logger.Error("error stopping queue", "queue", index, "error", err)
			}
		}(i, q)
	}
	wg.Wait()

	if err := d.launcher.Stop(timeout); err != nil {
		logger.Warn("dispatch runs did not stop in time", "error", err)
	}

	d.wg.Wait()
	d.reportMetrics(context.Background())
	logger.Info("dispatcher stopped")
}
