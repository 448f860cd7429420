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
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrStatusConflict is returned when a conditional status update finds the
	// campaign in a status other than the expected ones.
	ErrStatusConflict = errors.New("campaign status changed concurrently")
)

const recipientBatchSize = 500

type CampaignRepository struct {
	*pg.DB
}

func NewCampaignRepository(db *pg.DB) *CampaignRepository {
	return &CampaignRepository{
		db,
	}
}

// Create stores the campaign in Draft together with one Pending recipient per
// email, in a single transaction.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, emails []string) (*model.Campaign, error) {
	entity := toCampaignEntity(c)
	entity.Status = string(model.CampaignStatusDraft)

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			return err
		}

		recipients := make([]*RecipientEntity, len(emails))
		for i, email := range emails {
			recipients[i] = &RecipientEntity{
				CampaignID: entity.ID,
				Email:      email,
				Status:     string(model.RecipientStatusPending),
			}
		}
		if len(recipients) == 0 {
			return nil
		}
		return r.Write(ctx).CreateInBatches(recipients, recipientBatchSize).Error
	})
	if err != nil {
		return nil, err
	}

	return toCampaignModel(entity), nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var entity CampaignEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return toCampaignModel(&entity), nil
}

// List returns campaigns newest first.
func (r *CampaignRepository) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	q := r.Read(ctx).Model(&CampaignEntity{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*CampaignEntity
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toCampaignModels(entities), total, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	var entities []*CampaignEntity
	if err := r.Read(ctx).Where("status = ?", string(status)).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

// ListStaleSending returns Sending campaigns whose status has not changed
// since before.
func (r *CampaignRepository) ListStaleSending(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	var entities []*CampaignEntity
	err := r.Read(ctx).
		Where("status = ? AND updated_at < ?", string(model.CampaignStatusSending), before).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCampaignModels(entities), nil
}

// UpdateStatus sets the status unconditionally.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, status model.CampaignStatus) error {
	res := r.Write(ctx).Model(&CampaignEntity{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// TransitionStatus moves the campaign to `to` only if its current status is
// one of `from`. This compare-and-set is the run lock: two concurrent start
// requests cannot both move a campaign into Sending.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) error {
	fromValues := make([]string, len(from))
	for i, s := range from {
		fromValues[i] = string(s)
	}

	res := r.Write(ctx).Model(&CampaignEntity{}).
		Where("id = ? AND status IN ?", id, fromValues).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

// Delete removes the campaign, its recipients and their tracking events.
func (r *CampaignRepository) Delete(ctx context.Context, id int64) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		db := r.Write(ctx)

		recipientIDs := db.Model(&RecipientEntity{}).Select("id").Where("campaign_id = ?", id)
		if err := db.Where("recipient_id IN (?)", recipientIDs).Delete(&TrackingEventEntity{}).Error; err != nil {
			return err
		}
		if err := db.Where("campaign_id = ?", id).Delete(&RecipientEntity{}).Error; err != nil {
			return err
		}

		res := db.Where("id = ?", id).Delete(&CampaignEntity{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCampaignNotFound
		}
		return nil
	})
}

type statusCount struct {
	Status string
	Count  int64
}

// Stats computes the derived per-campaign aggregates. Opened and Clicked
// count recipients with at least one event of that type.
func (r *CampaignRepository) Stats(ctx context.Context, id int64) (model.CampaignStats, error) {
	var stats model.CampaignStats
	db := r.Read(ctx)

	var rows []statusCount
	err := db.Model(&RecipientEntity{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, row := range rows {
		stats.Total += row.Count
		switch model.RecipientStatus(row.Status) {
		case model.RecipientStatusSent:
			stats.Sent = row.Count
		case model.RecipientStatusFailed:
			stats.Failed = row.Count
		case model.RecipientStatusBounced:
			stats.Bounced = row.Count
		case model.RecipientStatusPending:
			stats.Pending = row.Count
		}
	}

	if stats.Opened, err = r.countRecipientsWithEvent(ctx, id, model.EventTypeOpen); err != nil {
		return stats, err
	}
	if stats.Clicked, err = r.countRecipientsWithEvent(ctx, id, model.EventTypeClick); err != nil {
		return stats, err
	}
	return stats, nil
}

func (r *CampaignRepository) countRecipientsWithEvent(ctx context.Context, campaignID int64, t model.EventType) (int64, error) {
	var n int64
	err := r.Read(ctx).Model(&TrackingEventEntity{}).
		Joins("JOIN recipients ON recipients.id = tracking_events.recipient_id").
		Where("recipients.campaign_id = ? AND tracking_events.type = ?", campaignID, string(t)).
		Distinct("tracking_events.recipient_id").
		Count(&n).Error
	return n, err
}
