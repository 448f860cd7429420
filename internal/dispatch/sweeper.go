package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
)

type StaleCampaignStore interface {
	ListStaleSending(ctx context.Context, before time.Time) ([]*model.Campaign, error)
	TransitionStatus(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) error
}

// ActiveRuns reports runs owned by the local process.
type ActiveRuns interface {
	Active(campaignID int64) bool
}

// Sweeper fails campaigns stuck in Sending whose run has died, so they can
// be retried. A campaign is considered orphaned once it has been Sending
// for longer than the grace period with no local run, queued or running, and
// no live lease or reservation.
type Sweeper struct {
	campaigns StaleCampaignStore
	lease     Lease
	local     ActiveRuns
	interval  time.Duration
	grace     time.Duration
	now       func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewSweeper(campaigns StaleCampaignStore, lease Lease, local ActiveRuns, interval, grace time.Duration) *Sweeper {
	if lease == nil {
		lease = NoopLease{}
	}
	return &Sweeper{
		campaigns: campaigns,
		lease:     lease,
		local:     local,
		interval:  interval,
		grace:     grace,
		now:       time.Now,
	}
}

// Start sweeps once and then on every tick until Stop or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Sweep returns the number of campaigns moved to Failed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	stale, err := s.campaigns.ListStaleSending(ctx, s.now().Add(-s.grace))
	if err != nil {
		logger.Error("sweeper failed to list sending campaigns", "error", err)
		return 0
	}

	swept := 0
	for _, c := range stale {
		if s.local != nil && s.local.Active(c.ID) {
			continue
		}
		held, err := s.lease.Held(ctx, c.ID)
		if err != nil {
			logger.Warn("sweeper could not check run lease", "campaign_id", c.ID, "error", err)
			continue
		}
		if held {
			continue
		}

		err = s.campaigns.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusFailed)
		if err != nil {
			logger.Warn("sweeper could not fail orphaned campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		logger.Warn("orphaned campaign marked failed", "campaign_id", c.ID, "sending_since", c.UpdatedAt)
		swept++
	}
	return swept
}
