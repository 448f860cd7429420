package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingEventRepository_RecordOnce(t *testing.T) {
	db := NewTestDB(t)
	campaigns := NewCampaignRepository(db)
	recipients := NewRecipientRepository(db)
	repo := NewTrackingEventRepository(db)
	ctx := context.Background()

	c := createCampaign(t, campaigns, "tracking", "a@example.com")
	pending, err := recipients.ListPending(ctx, c.ID)
	require.NoError(t, err)
	id := pending[0].ID

	t.Run("first open is recorded", func(t *testing.T) {
		recorded, err := repo.RecordOnce(ctx, id, model.EventTypeOpen)
		require.NoError(t, err)
		assert.True(t, recorded)
	})

	t.Run("repeated open is ignored", func(t *testing.T) {
		recorded, err := repo.RecordOnce(ctx, id, model.EventTypeOpen)
		require.NoError(t, err)
		assert.False(t, recorded)
	})

	t.Run("click is tracked separately", func(t *testing.T) {
		recorded, err := repo.RecordOnce(ctx, id, model.EventTypeClick)
		require.NoError(t, err)
		assert.True(t, recorded)
	})

	t.Run("concurrent clicks store one event", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.RecordOnce(ctx, id, model.EventTypeClick)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		events, err := repo.ListByRecipient(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventTypeOpen, events[0].Type)
		assert.Equal(t, model.EventTypeClick, events[1].Type)
	})
}
