package model

import "time"

type EventType string

const (
	EventTypeOpen  EventType = "open"
	EventTypeClick EventType = "click"
)

func (t EventType) Valid() bool {
	return t == EventTypeOpen || t == EventTypeClick
}

type TrackingEvent struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Type        EventType `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}
