package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrRecipientNotPending is returned when an outcome is recorded for a
	// recipient that was already attempted.
	ErrRecipientNotPending = errors.New("recipient is not pending")
)

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

// ListPending returns the campaign's Pending recipients in ascending id order.
func (r *RecipientRepository) ListPending(ctx context.Context, campaignID int64) ([]*model.Recipient, error) {
	var entities []*RecipientEntity
	err := r.Read(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, string(model.RecipientStatusPending)).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}

// UpdateStatus records the outcome of one attempt. Only Pending recipients
// are updated so a recipient moves out of Pending at most once per run.
func (r *RecipientRepository) UpdateStatus(ctx context.Context, id int64, status model.RecipientStatus, sentAt *time.Time) error {
	res := r.Write(ctx).Model(&RecipientEntity{}).
		Where("id = ? AND status = ?", id, string(model.RecipientStatusPending)).
		Updates(map[string]interface{}{
			"status":  string(status),
			"sent_at": sentAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrRecipientNotPending
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int64) (*model.Recipient, error) {
	var entity RecipientEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return toRecipientModel(&entity), nil
}

func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.Recipient, int64, error) {
	q := r.Read(ctx).Model(&RecipientEntity{}).Where("campaign_id = ?", campaignID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entities []*RecipientEntity
	if err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toRecipientModels(entities), total, nil
}

// ResetFailed moves the campaign's Failed recipients back to Pending so the
// next run retries them. It is the manual operator reset.
func (r *RecipientRepository) ResetFailed(ctx context.Context, campaignID int64) (int64, error) {
	res := r.Write(ctx).Model(&RecipientEntity{}).
		Where("campaign_id = ? AND status = ?", campaignID, string(model.RecipientStatusFailed)).
		Updates(map[string]interface{}{
			"status":  string(model.RecipientStatusPending),
			"sent_at": nil,
		})
	return res.RowsAffected, res.Error
}
