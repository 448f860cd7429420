// Package dispatch runs campaigns: it sends one personalized message per
// pending recipient over a single relay session and records each outcome as
// soon as it is known.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimasrn/campaign-dispatcher/internal/composer"
	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/prom"
)

var (
	ErrNotSending    = errors.New("campaign is not in sending state")
	ErrRunInProgress = errors.New("another run holds the campaign lease")
	ErrCancelled     = errors.New("run cancelled")
)

type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

type CampaignStore interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	TransitionStatus(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) error
}

type RecipientStore interface {
	ListPending(ctx context.Context, campaignID int64) ([]*model.Recipient, error)
	UpdateStatus(ctx context.Context, id int64, status model.RecipientStatus, sentAt *time.Time) error
}

// RunRequest is everything one run needs. Credentials are held only here.
type RunRequest struct {
	CampaignID  int64
	From        string
	Credentials transport.Credentials
}

type RunResult struct {
	RunID      string
	CampaignID int64
	State      State
	Attempted  int
	Sent       int
	Failed     int
	Duration   time.Duration
	Err        error
}

type EngineConfig struct {
	BaseURL string
	// Pacing is the pause after each attempt.
	Pacing time.Duration
}

type Engine struct {
	campaigns  CampaignStore
	recipients RecipientStore
	opener     transport.Opener
	lease      Lease
	metrics    *RunMetrics
	config     EngineConfig
	now        func() time.Time
	active     sync.Map
}

type EngineOption func(*Engine)

func WithLease(l Lease) EngineOption {
	return func(e *Engine) { e.lease = l }
}

func WithMetrics(m *RunMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(campaigns CampaignStore, recipients RecipientStore, opener transport.Opener, config EngineConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		campaigns:  campaigns,
		recipients: recipients,
		opener:     opener,
		lease:      NoopLease{},
		metrics:    NewRunMetrics(),
		config:     config,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Metrics() *RunMetrics {
	return e.metrics
}

// Active reports whether this process is currently running the campaign.
func (e *Engine) Active(campaignID int64) bool {
	_, ok := e.active.Load(campaignID)
	return ok
}

// Run executes one dispatch run. The campaign must already be Sending. The
// result is informational: every outcome is persisted in the stores and the
// campaign status, which is what callers observe.
//
// Cancelling ctx stops the run between recipients; the campaign is then
// marked Failed and unattempted recipients stay Pending.
func (e *Engine) Run(ctx context.Context, req RunRequest) (res RunResult) {
	res = RunResult{RunID: uuid.NewString(), CampaignID: req.CampaignID, State: StateStarting}
	log := logger.With("run_id", res.RunID, "campaign_id", req.CampaignID)
	start := time.Now()

	defer func() {
		res.Duration = time.Since(start)
		e.metrics.RecordRun(res)
		prom.IncRunResult(string(res.State))
		if res.Err != nil {
			log.Error("dispatch run finished", "state", res.State, "attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed, "duration", res.Duration, "error", res.Err)
			return
		}
		log.Info("dispatch run finished", "state", res.State, "attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed, "duration", res.Duration)
	}()

	campaign, err := e.campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		// nothing to release: a missing campaign keeps whatever it had
		res.State, res.Err = StateAborted, err
		return res
	}
	if campaign.Status != model.CampaignStatusSending {
		res.State, res.Err = StateAborted, ErrNotSending
		return res
	}

	if _, running := e.active.LoadOrStore(campaign.ID, res.RunID); running {
		res.State, res.Err = StateAborted, ErrRunInProgress
		return res
	}
	defer e.active.Delete(campaign.ID)
	prom.AddActiveRuns(1)
	defer prom.AddActiveRuns(-1)

	acquired, err := e.lease.Acquire(ctx, campaign.ID, res.RunID)
	if err != nil {
		log.Warn("run lease unavailable, continuing without it", "error", err)
	} else if !acquired {
		res.State, res.Err = StateAborted, ErrRunInProgress
		return res
	}
	defer func() {
		if err := e.lease.Release(context.WithoutCancel(ctx), campaign.ID, res.RunID); err != nil {
			log.Warn("failed to release run lease", "error", err)
		}
	}()

	session, err := e.opener.Open(ctx, req.Credentials)
	if err != nil {
		e.abort(ctx, &res, log, err)
		return res
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close smtp session", "error", err)
		}
	}()

	res.State = StateRunning
	pending, err := e.recipients.ListPending(ctx, campaign.ID)
	if err != nil {
		e.abort(ctx, &res, log, err)
		return res
	}
	log.Info("dispatch run started", "pending", len(pending), "from", req.From)

	for i, r := range pending {
		if ctx.Err() != nil {
			e.abort(ctx, &res, log, ErrCancelled)
			return res
		}

		if err := e.attempt(ctx, &res, log, campaign, req.From, session, r); err != nil {
			e.abort(ctx, &res, log, err)
			return res
		}

		if err := e.lease.Refresh(ctx, campaign.ID, res.RunID); err != nil {
			log.Warn("failed to refresh run lease", "error", err)
		}

		if i < len(pending)-1 && !e.pause(ctx) {
			e.abort(ctx, &res, log, ErrCancelled)
			return res
		}
	}

	if err := e.campaigns.TransitionStatus(context.WithoutCancel(ctx), campaign.ID, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusCompleted); err != nil {
		res.Err = err
	}
	res.State = StateCompleted
	return res
}

// attempt sends to one recipient and persists the outcome before returning.
// A non-nil error ends the run; the recipient is left untouched unless the
// relay rejected it before the session was lost.
func (e *Engine) attempt(ctx context.Context, res *RunResult, log logger.Logger, c *model.Campaign, from string, session transport.Session, r *model.Recipient) error {
	body := composer.Compose(c.Body, r.ID, e.config.BaseURL)

	sendStart := time.Now()
	err := session.Send(ctx, transport.Envelope{
		From:    from,
		To:      r.Email,
		Subject: c.Subject,
		HTML:    body,
	})
	elapsed := time.Since(sendStart)

	// a rejected recipient is recorded even when the session died with it
	var rejected *transport.SendError
	if err != nil && !errors.As(err, &rejected) && (errors.Is(err, transport.ErrFatal) || errors.Is(err, transport.ErrClosed) || ctx.Err() != nil) {
		return err
	}

	res.Attempted++
	status := model.RecipientStatusSent
	var sentAt *time.Time
	if err == nil {
		now := e.now()
		sentAt = &now
		res.Sent++
		log.Debug("recipient sent", "recipient_id", r.ID)
	} else {
		status = model.RecipientStatusFailed
		res.Failed++
		log.Warn("recipient failed", "recipient_id", r.ID, "error", err)
	}
	prom.IncRecipientOutcome(string(status))
	prom.AddSendDuration(elapsed.Seconds(), string(status))

	// persist even if ctx was cancelled mid-send, the message already left
	perr := e.recipients.UpdateStatus(context.WithoutCancel(ctx), r.ID, status, sentAt)
	switch {
	case perr == nil:
	case errors.Is(perr, repository.ErrRecipientNotFound), errors.Is(perr, repository.ErrRecipientNotPending):
		log.Warn("recipient changed during run, outcome not stored", "recipient_id", r.ID, "status", status, "error", perr)
	default:
		return perr
	}
	if rejected != nil && errors.Is(err, transport.ErrFatal) {
		return err
	}
	return nil
}

func (e *Engine) abort(ctx context.Context, res *RunResult, log logger.Logger, cause error) {
	res.State = StateAborted
	res.Err = cause

	err := e.campaigns.TransitionStatus(context.WithoutCancel(ctx), res.CampaignID, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusFailed)
	if err != nil {
		log.Error("failed to mark campaign failed", "error", err)
	}
}

// pause waits for the pacing interval and reports false if ctx ended first.
func (e *Engine) pause(ctx context.Context) bool {
	if e.config.Pacing <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(e.config.Pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
