package model

import "time"

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
	RecipientStatusBounced RecipientStatus = "bounced"
)

type Recipient struct {
	ID         int64           `json:"id"`
	CampaignID int64           `json:"campaign_id"`
	Email      string          `json:"email"`
	Status     RecipientStatus `json:"status"`
	SentAt     *time.Time      `json:"sent_at"` // nil until Sent
}
