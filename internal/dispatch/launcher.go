package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/worker"
)

var ErrLauncherStopped = errors.New("launcher is stopped")

// Launcher hands a run off to the background. It returns once the run is
// accepted, never after it finishes; an error means the run will not happen.
type Launcher interface {
	Launch(ctx context.Context, req RunRequest) error
}

// StartEvent is the queue payload of a start request. Credentials never
// travel through the queue.
type StartEvent struct {
	CampaignID  int64  `json:"campaign_id"`
	SenderEmail string `json:"sender_email"`
}

type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// InlineLauncher runs the engine on a local worker pool. Runs share the
// launcher's root context, not the caller's, so they outlive the request.
// A campaign counts as active from Launch until its run returns.
type InlineLauncher struct {
	engine *Engine
	worker *worker.WorkerManager
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	queued map[int64]int
}

func NewInlineLauncher(engine *Engine, workers, buffer int) *InlineLauncher {
	ctx, cancel := context.WithCancel(context.Background())
	l := &InlineLauncher{
		engine: engine,
		worker: worker.NewWorkerManager(buffer, workers),
		ctx:    ctx,
		cancel: cancel,
		queued: make(map[int64]int),
	}
	l.worker.SetWorker(l.workerHandler)
	return l
}

func (l *InlineLauncher) Start() {
	l.once.Do(l.worker.Start)
}

func (l *InlineLauncher) Launch(ctx context.Context, req RunRequest) error {
	if l.ctx.Err() != nil {
		return ErrLauncherStopped
	}

	l.track(req.CampaignID, 1)
	if err := l.engine.lease.Reserve(ctx, req.CampaignID); err != nil {
		logger.Warn("could not reserve queued run", "campaign_id", req.CampaignID, "error", err)
	}
	if err := l.worker.TryEnqueue(req); err != nil {
		l.finish(req.CampaignID)
		return errors.Wrapf(err, "failed to launch run for campaign %d", req.CampaignID)
	}
	logger.Info("dispatch run launched", "campaign_id", req.CampaignID, "queued", l.worker.GetUnreadCount())
	return nil
}

// Active reports whether the campaign has a run queued or running here.
func (l *InlineLauncher) Active(campaignID int64) bool {
	l.mu.Lock()
	n := l.queued[campaignID]
	l.mu.Unlock()
	return n > 0 || l.engine.Active(campaignID)
}

func (l *InlineLauncher) track(campaignID int64, delta int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.queued[campaignID] + delta
	if n <= 0 {
		delete(l.queued, campaignID)
		return 0
	}
	l.queued[campaignID] = n
	return n
}

// finish drops one accepted run; the shared reservation goes with the last.
func (l *InlineLauncher) finish(campaignID int64) {
	if l.track(campaignID, -1) > 0 {
		return
	}
	if err := l.engine.lease.Unreserve(context.Background(), campaignID); err != nil {
		logger.Warn("could not clear run reservation", "campaign_id", campaignID, "error", err)
	}
}

// Stop cancels in-flight runs and waits up to timeout for them to record
// their final state. Cancelled campaigns end up Failed and can be restarted.
func (l *InlineLauncher) Stop(timeout time.Duration) error {
	l.cancel()
	l.worker.Exit()

	done := make(chan struct{})
	go func() {
		l.worker.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for dispatch runs to stop")
	}
	l.abandonQueued()
	return err
}

// abandonQueued fails campaigns whose runs were still buffered when the pool
// exited, since the pool drops them.
func (l *InlineLauncher) abandonQueued() {
	l.mu.Lock()
	ids := make([]int64, 0, len(l.queued))
	for id := range l.queued {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		if l.engine.Active(id) {
			continue
		}
		err := l.engine.campaigns.TransitionStatus(ctx, id, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusFailed)
		if err != nil {
			logger.Warn("could not fail dropped run", "campaign_id", id, "error", err)
		} else {
			logger.Warn("queued run dropped on shutdown, campaign marked failed", "campaign_id", id)
		}
		l.mu.Lock()
		delete(l.queued, id)
		l.mu.Unlock()
		if err := l.engine.lease.Unreserve(ctx, id); err != nil {
			logger.Warn("could not clear run reservation", "campaign_id", id, "error", err)
		}
	}
}

func (l *InlineLauncher) workerHandler(workerIndex int, job interface{}) {
	req, ok := job.(RunRequest)
	if !ok {
		logger.Error("invalid job type in dispatch worker", "worker", workerIndex)
		return
	}
	defer l.finish(req.CampaignID)
	l.engine.Run(l.ctx, req)
}

// QueueLauncher publishes start events for a separate dispatcher process.
// The reservation it takes keeps the campaign safe from the sweeper while
// the event waits in the stream; the dispatcher clears it once the run ends.
type QueueLauncher struct {
	publisher Publisher
	lease     Lease
}

func NewQueueLauncher(publisher Publisher, lease Lease) *QueueLauncher {
	if lease == nil {
		lease = NoopLease{}
	}
	return &QueueLauncher{publisher: publisher, lease: lease}
}

func (l *QueueLauncher) Launch(ctx context.Context, req RunRequest) error {
	if err := l.lease.Reserve(ctx, req.CampaignID); err != nil {
		return errors.Wrapf(err, "failed to reserve run for campaign %d", req.CampaignID)
	}

	evt := StartEvent{CampaignID: req.CampaignID, SenderEmail: req.From}
	id, err := l.publisher.PublishJSON(ctx, evt, map[string]string{"type": "campaign.start"})
	if err != nil {
		if uerr := l.lease.Unreserve(context.WithoutCancel(ctx), req.CampaignID); uerr != nil {
			logger.Warn("could not clear run reservation", "campaign_id", req.CampaignID, "error", uerr)
		}
		return errors.Wrapf(err, "failed to publish start event for campaign %d", req.CampaignID)
	}
	logger.Info("start event published", "campaign_id", req.CampaignID, "message_id", id)
	return nil
}
