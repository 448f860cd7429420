package repository

import (
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
)

// TrackingEventEntity rows are append-only. The unique index is what keeps a
// recipient at one event per type.
type TrackingEventEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	RecipientID int64     `db:"recipient_id" gorm:"column:recipient_id;not null;uniqueIndex:idx_event_recipient_type,priority:1"`
	Type        string    `db:"type"         gorm:"column:type;not null;uniqueIndex:idx_event_recipient_type,priority:2"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
}

func (TrackingEventEntity) TableName() string {
	return "tracking_events"
}

func toTrackingEventModel(e *TrackingEventEntity) *model.TrackingEvent {
	if e == nil {
		return nil
	}
	return &model.TrackingEvent{
		ID:          e.ID,
		RecipientID: e.RecipientID,
		Type:        model.EventType(e.Type),
		CreatedAt:   e.CreatedAt,
	}
}
