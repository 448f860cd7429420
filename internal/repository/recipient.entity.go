package repository

import (
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
)

type RecipientEntity struct {
	ID         int64                  `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	CampaignID int64                  `db:"campaign_id" gorm:"column:campaign_id;not null;index:idx_recipient_campaign_status,priority:1"`
	Email      string                 `db:"email"       gorm:"column:email;not null"`
	Status     string                 `db:"status"      gorm:"column:status;not null;default:pending;index:idx_recipient_campaign_status,priority:2"`
	SentAt     *time.Time             `db:"sent_at"     gorm:"column:sent_at"`
	Events     []*TrackingEventEntity `gorm:"foreignKey:RecipientID;constraint:OnDelete:CASCADE"`
}

func (RecipientEntity) TableName() string {
	return "recipients"
}

func toRecipientModel(e *RecipientEntity) *model.Recipient {
	if e == nil {
		return nil
	}
	return &model.Recipient{
		ID:         e.ID,
		CampaignID: e.CampaignID,
		Email:      e.Email,
		Status:     model.RecipientStatus(e.Status),
		SentAt:     e.SentAt,
	}
}

func toRecipientModels(entities []*RecipientEntity) []*model.Recipient {
	models := make([]*model.Recipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
