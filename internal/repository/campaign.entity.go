package repository

import (
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
)

type CampaignEntity struct {
	ID         int64              `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Name       string             `db:"name"       gorm:"column:name;not null"`
	Subject    string             `db:"subject"    gorm:"column:subject;not null"`
	Body       string             `db:"body"       gorm:"column:body;type:text;not null"`
	Status     string             `db:"status"     gorm:"column:status;not null;index;default:draft"`
	CreatedAt  time.Time          `db:"created_at" gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt  time.Time          `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	Recipients []*RecipientEntity `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE"`
}

func (CampaignEntity) TableName() string {
	return "campaigns"
}

func toCampaignEntity(c *model.Campaign) *CampaignEntity {
	if c == nil {
		return nil
	}
	return &CampaignEntity{
		ID:        c.ID,
		Name:      c.Name,
		Subject:   c.Subject,
		Body:      c.Body,
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toCampaignModel(e *CampaignEntity) *model.Campaign {
	if e == nil {
		return nil
	}
	return &model.Campaign{
		ID:        e.ID,
		Name:      e.Name,
		Subject:   e.Subject,
		Body:      e.Body,
		Status:    model.CampaignStatus(e.Status),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toCampaignModels(entities []*CampaignEntity) []*model.Campaign {
	models := make([]*model.Campaign, len(entities))
	for i, e := range entities {
		models[i] = toCampaignModel(e)
	}
	return models
}
