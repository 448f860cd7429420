package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimasrn/campaign-dispatcher/internal/dispatch"
	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/repository"
	"github.com/nimasrn/campaign-dispatcher/internal/transport"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
)

var (
	ErrNotFound            = errors.New("campaign not found")
	ErrNotStartable        = errors.New("campaign cannot be started in its current status")
	ErrCampaignBusy        = errors.New("campaign is sending")
	ErrSenderRequired      = errors.New("sender email is required")
	ErrCredentialsRequired = errors.New("sender password is required")
	ErrLaunchFailed        = errors.New("failed to launch dispatch run")
)

type CampaignRepository interface {
	Create(ctx context.Context, c *model.Campaign, emails []string) (*model.Campaign, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error)
	Delete(ctx context.Context, id int64) error
	TransitionStatus(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus) error
	Stats(ctx context.Context, id int64) (model.CampaignStats, error)
}

type RecipientRepository interface {
	ListByCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*model.Recipient, int64, error)
	ResetFailed(ctx context.Context, campaignID int64) (int64, error)
}

type StartRequest struct {
	SenderEmail    string `json:"sender_email"`
	SenderPassword string `json:"sender_password"`
}

type CampaignServiceConfig struct {
	// DefaultSender is used when a start request names no sender.
	DefaultSender string
	// Relay credentials are used when a start request carries no password.
	Relay transport.Credentials
	// RequireCredentials rejects starts that end up without a password. The
	// queue mode leaves it off because the dispatcher brings its own.
	RequireCredentials bool
}

type CampaignService struct {
	campaigns  CampaignRepository
	recipients RecipientRepository
	launcher   dispatch.Launcher
	config     CampaignServiceConfig
}

func NewCampaignService(campaigns CampaignRepository, recipients RecipientRepository, launcher dispatch.Launcher, config CampaignServiceConfig) *CampaignService {
	return &CampaignService{
		campaigns:  campaigns,
		recipients: recipients,
		launcher:   launcher,
		config:     config,
	}
}

func (s *CampaignService) Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		Name:    p.Name,
		Subject: p.Subject,
		Body:    p.Body,
	}
	created, err := s.campaigns.Create(ctx, c, p.Emails)
	if err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	logger.Info("campaign created", "campaign_id", created.ID, "recipients", len(p.Emails))
	return created, nil
}

func (s *CampaignService) Get(ctx context.Context, id int64) (*model.CampaignWithStats, error) {
	c, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.campaigns.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	return &model.CampaignWithStats{Campaign: c, Stats: stats}, nil
}

func (s *CampaignService) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	return s.campaigns.List(ctx, f)
}

func (s *CampaignService) Recipients(ctx context.Context, id int64, limit, offset int) ([]*model.Recipient, int64, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.recipients.ListByCampaign(ctx, id, limit, offset)
}

// Delete refuses campaigns that are Sending; their run still writes to the
// recipients.
func (s *CampaignService) Delete(ctx context.Context, id int64) error {
	c, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignStatusSending {
		return ErrCampaignBusy
	}
	if err := s.campaigns.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrCampaignNotFound) {
			return ErrNotFound
		}
		return err
	}
	logger.Info("campaign deleted", "campaign_id", id)
	return nil
}

// Start moves the campaign to Sending and hands the run to the launcher.
// It returns as soon as the run is accepted. If the launch fails the
// campaign is rolled back to Draft.
func (s *CampaignService) Start(ctx context.Context, id int64, req StartRequest) (*model.Campaign, error) {
	run, err := s.runRequest(id, req)
	if err != nil {
		return nil, err
	}

	c, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Startable() {
		return nil, ErrNotStartable
	}

	err = s.campaigns.TransitionStatus(ctx, id, model.StartableStatuses(), model.CampaignStatusSending)
	switch {
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, ErrNotStartable
	case errors.Is(err, repository.ErrCampaignNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}

	if err := s.launcher.Launch(ctx, run); err != nil {
		logger.Error("dispatch launch failed, rolling back", "campaign_id", id, "error", err)
		rbErr := s.campaigns.TransitionStatus(context.WithoutCancel(ctx), id,
			[]model.CampaignStatus{model.CampaignStatusSending}, model.CampaignStatusDraft)
		if rbErr != nil {
			logger.Error("rollback to draft failed", "campaign_id", id, "error", rbErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	logger.Info("campaign started", "campaign_id", id, "sender", run.From)
	c.Status = model.CampaignStatusSending
	return c, nil
}

func (s *CampaignService) runRequest(id int64, req StartRequest) (dispatch.RunRequest, error) {
	from := strings.TrimSpace(req.SenderEmail)
	if from == "" {
		from = s.config.DefaultSender
	}
	if from == "" {
		return dispatch.RunRequest{}, ErrSenderRequired
	}

	creds := transport.Credentials{Username: from, Password: req.SenderPassword}
	if creds.Password == "" {
		creds = s.config.Relay
	}
	if s.config.RequireCredentials && creds.Password == "" {
		return dispatch.RunRequest{}, ErrCredentialsRequired
	}

	return dispatch.RunRequest{CampaignID: id, From: from, Credentials: creds}, nil
}

// ResetFailed puts the campaign's Failed recipients back to Pending. A
// Completed campaign with reset recipients becomes Failed so it can be
// started again.
func (s *CampaignService) ResetFailed(ctx context.Context, id int64) (int64, error) {
	c, err := s.get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignStatusSending {
		return 0, ErrCampaignBusy
	}

	n, err := s.recipients.ResetFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	if n > 0 && c.Status == model.CampaignStatusCompleted {
		err := s.campaigns.TransitionStatus(ctx, id,
			[]model.CampaignStatus{model.CampaignStatusCompleted}, model.CampaignStatusFailed)
		if err != nil && !errors.Is(err, repository.ErrStatusConflict) {
			return n, err
		}
	}
	logger.Info("failed recipients reset", "campaign_id", id, "count", n)
	return n, nil
}

func (s *CampaignService) get(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCampaignNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}
