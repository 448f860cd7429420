package dispatch

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
)

type fakeSession struct {
	mu     sync.Mutex
	sent   []transport.Envelope
	errs   map[string]error
	onSend func(env transport.Envelope)
	closed bool
}

func (s *fakeSession) Send(_ context.Context, env transport.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	err := s.errs[env.To]
	hook := s.onSend
	s.mu.Unlock()

	if hook != nil {
		hook(env)
	}
	return err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, env := range s.sent {
		out[i] = env.To
	}
	return out
}

type fakeOpener struct {
	session *fakeSession
	err     error
	creds   []transport.Credentials
}

func (o *fakeOpener) Open(_ context.Context, creds transport.Credentials) (transport.Session, error) {
	o.creds = append(o.creds, creds)
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type stores struct {
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
}

func newStores(t *testing.T) stores {
	db := repository.NewTestDB(t)
	return stores{
		campaigns:  repository.NewCampaignRepository(db),
		recipients: repository.NewRecipientRepository(db),
	}
}

// sendingCampaign creates a campaign and moves it to Sending, the state a
// run expects to find.
func (s stores) sendingCampaign(t *testing.T, emails ...string) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := s.campaigns.Create(ctx, &model.Campaign{
		Name:    "launch",
		Subject: "Please verify",
		Body:    "<p>Hi</p>[VERIFY_BUTTON]",
	}, emails)
	require.NoError(t, err)
	require.NoError(t, s.campaigns.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignStatusDraft}, model.CampaignStatusSending))
	c.Status = model.CampaignStatusSending
	return c
}

func (s stores) statuses(t *testing.T, campaignID int64) map[string]model.RecipientStatus {
	t.Helper()
	list, _, err := s.recipients.ListByCampaign(context.Background(), campaignID, 100, 0)
	require.NoError(t, err)
	out := make(map[string]model.RecipientStatus, len(list))
	for _, r := range list {
		out[r.Email] = r.Status
	}
	return out
}

func (s stores) campaignStatus(t *testing.T, id int64) model.CampaignStatus {
	t.Helper()
	c, err := s.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
