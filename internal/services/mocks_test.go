package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/model"
)

type MockCampaignRepository struct {
	mock.Mock
}

func (m *MockCampaignRepository) Create(ctx context.Context, c *model.Campaign, emails []string) (*model.Campaign, error) {
	args := m.Called(ctx, c, emails)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *MockCampaignRepository) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Campaign), args.Get(1).(int64), args.Error(2)
}

func (m *MockCampaignRepository) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCampaignRepository) TransitionStatus(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *MockCampaignRepository) Stats(ctx context.Context, id int64) (model.CampaignStats, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.CampaignStats), args.Error(1)
}

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.Recipient, int64, error) {
	args := m.Called(ctx, campaignID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Recipient), args.Get(1).(int64), args.Error(2)
}

func (m *MockRecipientRepository) ResetFailed(ctx context.Context, campaignID int64) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRecipientRepository) GetByID(ctx context.Context, id int64) (*model.Recipient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Recipient), args.Error(1)
}

type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context, req dispatch.RunRequest) error {
	return m.Called(ctx, req).Error(0)
}

type MockEventRecorder struct {
	mock.Mock
}

func (m *MockEventRecorder) RecordOnce(ctx context.Context, recipientID int64, t model.EventType) (bool, error) {
	args := m.Called(ctx, recipientID, t)
	return args.Bool(0), args.Error(1)
}
