package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/tracking"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/prom"
)

// unknown ids are remembered for less time than known ones
const missingRecipientTTL = 30 * time.Second

type RecipientLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Recipient, error)
}

type EventRecorder interface {
	RecordOnce(ctx context.Context, recipientID int64, t model.EventType) (bool, error)
}

type TrackingService struct {
	recipients RecipientLookup
	events     EventRecorder
	markers    tracking.MarkerStore
	known      *gocache.Cache
}

func NewTrackingService(recipients RecipientLookup, events EventRecorder, markers tracking.MarkerStore, cacheTTL time.Duration) *TrackingService {
	if markers == nil {
		markers = tracking.NoopMarkerStore{}
	}
	return &TrackingService{
		recipients: recipients,
		events:     events,
		markers:    markers,
		known:      gocache.New(cacheTTL, time.Minute),
	}
}

func (s *TrackingService) RecordOpen(ctx context.Context, recipientID int64) (bool, error) {
	return s.Record(ctx, recipientID, model.EventTypeOpen)
}

func (s *TrackingService) RecordClick(ctx context.Context, recipientID int64) (bool, error) {
	return s.Record(ctx, recipientID, model.EventTypeClick)
}

// Record stores the first event of type t for the recipient and reports
// whether it was new. Unknown recipients and repeats are silently ignored.
func (s *TrackingService) Record(ctx context.Context, recipientID int64, t model.EventType) (bool, error) {
	if recipientID <= 0 || !t.Valid() {
		return false, nil
	}

	exists, err := s.recipientExists(ctx, recipientID)
	if err != nil || !exists {
		return false, err
	}

	first, err := s.markers.Mark(ctx, recipientID, t)
	if err != nil {
		logger.Warn("tracking marker unavailable, falling back to database", "recipient_id", recipientID, "error", err)
		first = true
	}
	if !first {
		prom.IncTrackingEvent(string(t), false)
		return false, nil
	}

	recorded, err := s.events.RecordOnce(ctx, recipientID, t)
	if err != nil {
		// let the next hit try again
		if ferr := s.markers.Forget(context.WithoutCancel(ctx), recipientID, t); ferr != nil {
			logger.Warn("failed to clear tracking marker", "recipient_id", recipientID, "error", ferr)
		}
		return false, err
	}
	prom.IncTrackingEvent(string(t), recorded)
	if recorded {
		logger.Debug("tracking event recorded", "recipient_id", recipientID, "type", t)
	}
	return recorded, nil
}

func (s *TrackingService) recipientExists(ctx context.Context, id int64) (bool, error) {
	key := strconv.FormatInt(id, 10)
	if v, ok := s.known.Get(key); ok {
		return v.(bool), nil
	}

	_, err := s.recipients.GetByID(ctx, id)
	switch {
	case err == nil:
		s.known.Set(key, true, gocache.DefaultExpiration)
		return true, nil
	case errors.Is(err, repository.ErrRecipientNotFound):
		s.known.Set(key, false, missingRecipientTTL)
		return false, nil
	default:
		return false, err
	}
}
