package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
)

var toSending = []model.CampaignStatus{model.CampaignStatusSending}

func newCampaignService(cfg CampaignServiceConfig) (*CampaignService, *MockCampaignRepository, *MockRecipientRepository, *MockLauncher) {
	campaigns := new(MockCampaignRepository)
	recipients := new(MockRecipientRepository)
	launcher := new(MockLauncher)
	return NewCampaignService(campaigns, recipients, launcher, cfg), campaigns, recipients, launcher
}

func TestCampaignService_Create(t *testing.T) {
	t.Run("normalizes recipients", func(t *testing.T) {
		svc, campaigns, _, _ := newCampaignService(CampaignServiceConfig{})
		ctx := context.Background()

		campaigns.On("Create", ctx, mock.MatchedBy(func(c *model.Campaign) bool {
			return c.Name == "Launch" && c.Subject == "Hi"
		}), []string{"a@example.com", "b@example.com"}).
			Return(&model.Campaign{ID: 1, Name: "Launch", Status: model.CampaignStatusDraft}, nil)

		c, err := svc.Create(ctx, model.CampaignCreateRequest{
			Name:    " Launch ",
			Subject: "Hi",
			Body:    "[VERIFY_BUTTON]",
			Emails:  []string{"A@example.com", "a@example.com", "junk", "b@example.com"},
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), c.ID)
		campaigns.AssertExpectations(t)
	})

	t.Run("rejects invalid request", func(t *testing.T) {
		svc, campaigns, _, _ := newCampaignService(CampaignServiceConfig{})

		_, err := svc.Create(context.Background(), model.CampaignCreateRequest{Name: "x", Subject: "y", Body: "z"})

		assert.Error(t, err)
		campaigns.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCampaignService_Get(t *testing.T) {
	svc, campaigns, _, _ := newCampaignService(CampaignServiceConfig{})
	ctx := context.Background()

	campaigns.On("GetByID", ctx, int64(3)).Return(&model.Campaign{ID: 3}, nil)
	campaigns.On("Stats", ctx, int64(3)).Return(model.CampaignStats{Total: 5, Sent: 2}, nil)
	campaigns.On("GetByID", ctx, int64(4)).Return(nil, repository.ErrCampaignNotFound)

	got, err := svc.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stats.Total)

	_, err = svc.Get(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCampaignService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("moves draft to sending and launches", func(t *testing.T) {
		svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{RequireCredentials: true})

		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusDraft}, nil)
		campaigns.On("TransitionStatus", ctx, int64(1), model.StartableStatuses(), model.CampaignStatusSending).Return(nil)
		launcher.On("Launch", ctx, dispatch.RunRequest{
			CampaignID:  1,
			From:        "me@example.com",
			Credentials: transport.Credentials{Username: "me@example.com", Password: "secret"},
		}).Return(nil)

		c, err := svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"})

		require.NoError(t, err)
		assert.Equal(t, model.CampaignStatusSending, c.Status)
		campaigns.AssertExpectations(t)
		launcher.AssertExpectations(t)
	})

	t.Run("failed campaign can be retried", func(t *testing.T) {
		svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{})

		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusFailed}, nil)
		campaigns.On("TransitionStatus", ctx, int64(1), model.StartableStatuses(), model.CampaignStatusSending).Return(nil)
		launcher.On("Launch", ctx, mock.Anything).Return(nil)

		_, err := svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"})
		require.NoError(t, err)
	})

	t.Run("launch failure rolls back to draft", func(t *testing.T) {
		svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{})

		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusDraft}, nil)
		campaigns.On("TransitionStatus", ctx, int64(1), model.StartableStatuses(), model.CampaignStatusSending).Return(nil)
		campaigns.On("TransitionStatus", mock.Anything, int64(1), toSending, model.CampaignStatusDraft).Return(nil)
		launcher.On("Launch", ctx, mock.Anything).Return(errors.New("buffer full"))

		_, err := svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"})

		assert.ErrorIs(t, err, ErrLaunchFailed)
		campaigns.AssertCalled(t, "TransitionStatus", mock.Anything, int64(1), toSending, model.CampaignStatusDraft)
	})

	t.Run("refuses campaigns that are not startable", func(t *testing.T) {
		for _, st := range []model.CampaignStatus{model.CampaignStatusSending, model.CampaignStatusCompleted} {
			svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{})
			campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: st}, nil)

			_, err := svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"})

			assert.ErrorIs(t, err, ErrNotStartable, st)
			launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
		}
	})

	t.Run("lost race for the status", func(t *testing.T) {
		svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{})

		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusDraft}, nil)
		campaigns.On("TransitionStatus", ctx, int64(1), model.StartableStatuses(), model.CampaignStatusSending).
			Return(repository.ErrStatusConflict)

		_, err := svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"})

		assert.ErrorIs(t, err, ErrNotStartable)
		launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
	})

	t.Run("falls back to default sender and relay credentials", func(t *testing.T) {
		relay := transport.Credentials{Username: "relay", Password: "relay-pass"}
		svc, campaigns, _, launcher := newCampaignService(CampaignServiceConfig{
			DefaultSender:      "noreply@example.com",
			Relay:              relay,
			RequireCredentials: true,
		})

		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusDraft}, nil)
		campaigns.On("TransitionStatus", ctx, int64(1), model.StartableStatuses(), model.CampaignStatusSending).Return(nil)
		launcher.On("Launch", ctx, dispatch.RunRequest{CampaignID: 1, From: "noreply@example.com", Credentials: relay}).Return(nil)

		_, err := svc.Start(ctx, 1, StartRequest{})
		require.NoError(t, err)
		launcher.AssertExpectations(t)
	})

	t.Run("missing sender or password", func(t *testing.T) {
		svc, _, _, _ := newCampaignService(CampaignServiceConfig{RequireCredentials: true})

		_, err := svc.Start(ctx, 1, StartRequest{})
		assert.ErrorIs(t, err, ErrSenderRequired)

		_, err = svc.Start(ctx, 1, StartRequest{SenderEmail: "me@example.com"})
		assert.ErrorIs(t, err, ErrCredentialsRequired)
	})
}

func TestCampaignService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("refused while sending", func(t *testing.T) {
		svc, campaigns, _, _ := newCampaignService(CampaignServiceConfig{})
		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusSending}, nil)

		assert.ErrorIs(t, svc.Delete(ctx, 1), ErrCampaignBusy)
		campaigns.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("deletes draft", func(t *testing.T) {
		svc, campaigns, _, _ := newCampaignService(CampaignServiceConfig{})
		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusDraft}, nil)
		campaigns.On("Delete", ctx, int64(1)).Return(nil)

		assert.NoError(t, svc.Delete(ctx, 1))
		campaigns.AssertExpectations(t)
	})
}

func TestCampaignService_ResetFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("completed campaign becomes failed", func(t *testing.T) {
		svc, campaigns, recipients, _ := newCampaignService(CampaignServiceConfig{})
		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusCompleted}, nil)
		recipients.On("ResetFailed", ctx, int64(1)).Return(int64(2), nil)
		campaigns.On("TransitionStatus", ctx, int64(1), []model.CampaignStatus{model.CampaignStatusCompleted}, model.CampaignStatusFailed).Return(nil)

		n, err := svc.ResetFailed(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		campaigns.AssertExpectations(t)
	})

	t.Run("nothing to reset keeps status", func(t *testing.T) {
		svc, campaigns, recipients, _ := newCampaignService(CampaignServiceConfig{})
		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusCompleted}, nil)
		recipients.On("ResetFailed", ctx, int64(1)).Return(int64(0), nil)

		n, err := svc.ResetFailed(ctx, 1)

		require.NoError(t, err)
		assert.Zero(t, n)
		campaigns.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("refused while sending", func(t *testing.T) {
		svc, campaigns, recipients, _ := newCampaignService(CampaignServiceConfig{})
		campaigns.On("GetByID", ctx, int64(1)).Return(&model.Campaign{ID: 1, Status: model.CampaignStatusSending}, nil)

		_, err := svc.ResetFailed(ctx, 1)

		assert.ErrorIs(t, err, ErrCampaignBusy)
		recipients.AssertNotCalled(t, "ResetFailed", mock.Anything, mock.Anything)
	})
}
