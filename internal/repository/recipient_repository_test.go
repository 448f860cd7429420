package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientRepository_UpdateStatus(t *testing.T) {
	db := NewTestDB(t)
	campaigns := NewCampaignRepository(db)
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	c := createCampaign(t, campaigns, "outcomes", "a@example.com", "b@example.com")
	pending, err := repo.ListPending(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	t.Run("sent stores timestamp", func(t *testing.T) {
		sentAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, repo.UpdateStatus(ctx, pending[0].ID, model.RecipientStatusSent, &sentAt))

		got, err := repo.GetByID(ctx, pending[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.RecipientStatusSent, got.Status)
		require.NotNil(t, got.SentAt)
		assert.True(t, sentAt.Equal(*got.SentAt))
	})

	t.Run("failed keeps sent_at empty", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, pending[1].ID, model.RecipientStatusFailed, nil))

		got, err := repo.GetByID(ctx, pending[1].ID)
		require.NoError(t, err)
		assert.Equal(t, model.RecipientStatusFailed, got.Status)
		assert.Nil(t, got.SentAt)
	})

	t.Run("second outcome is rejected", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, pending[0].ID, model.RecipientStatusFailed, nil)
		assert.ErrorIs(t, err, ErrRecipientNotPending)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, 9999, model.RecipientStatusSent, nil)
		assert.ErrorIs(t, err, ErrRecipientNotFound)
	})

	t.Run("nothing left pending", func(t *testing.T) {
		left, err := repo.ListPending(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, left)
	})
}

func TestRecipientRepository_ResetFailed(t *testing.T) {
	db := NewTestDB(t)
	campaigns := NewCampaignRepository(db)
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	c := createCampaign(t, campaigns, "reset", "a@example.com", "b@example.com", "c@example.com")
	pending, err := repo.ListPending(ctx, c.ID)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.UpdateStatus(ctx, pending[0].ID, model.RecipientStatusSent, &now))
	require.NoError(t, repo.UpdateStatus(ctx, pending[1].ID, model.RecipientStatusFailed, nil))

	n, err := repo.ResetFailed(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := repo.ListPending(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, pending[1].ID, left[0].ID)
	assert.Equal(t, pending[2].ID, left[1].ID)
}

func TestRecipientRepository_ListByCampaign(t *testing.T) {
	db := NewTestDB(t)
	campaigns := NewCampaignRepository(db)
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	c := createCampaign(t, campaigns, "list", "a@example.com", "b@example.com", "c@example.com")
	createCampaign(t, campaigns, "noise", "x@example.com")

	list, total, err := repo.ListByCampaign(ctx, c.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 2)
	assert.Equal(t, "a@example.com", list[0].Email)

	list, _, err = repo.ListByCampaign(ctx, c.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c@example.com", list[0].Email)
}
