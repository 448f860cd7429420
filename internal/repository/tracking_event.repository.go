package repository

import (
	"context"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"gorm.io/gorm/clause"
)

type TrackingEventRepository struct {
	*pg.DB
}

func NewTrackingEventRepository(db *pg.DB) *TrackingEventRepository {
	return &TrackingEventRepository{
		db,
	}
}

// RecordOnce appends an event unless the recipient already has one of the
// same type. It reports whether a row was inserted.
func (r *TrackingEventRepository) RecordOnce(ctx context.Context, recipientID int64, t model.EventType) (bool, error) {
	entity := &TrackingEventEntity{
		RecipientID: recipientID,
		Type:        string(t),
	}

	res := r.Write(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "recipient_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(entity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TrackingEventRepository) ListByRecipient(ctx context.Context, recipientID int64) ([]*model.TrackingEvent, error) {
	var entities []*TrackingEventEntity
	if err := r.Read(ctx).Where("recipient_id = ?", recipientID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}

	events := make([]*model.TrackingEvent, len(entities))
	for i, e := range entities {
		events[i] = toTrackingEventModel(e)
	}
	return events, nil
}
