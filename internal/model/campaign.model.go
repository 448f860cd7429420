package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign. While a campaign is
// Sending exactly one dispatch run owns it.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrInvalidCampaign   = errors.New("invalid campaign")
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusSending},
	CampaignStatusFailed:    {CampaignStatusSending},
	CampaignStatusSending: {CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusDraft},
	// operator reset of a completed campaign with failed recipients
	CampaignStatusCompleted: {CampaignStatusFailed},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Sending -> Draft only happens when launching the run failed.
// Completed -> Failed only happens on an operator reset.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range campaignTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartableStatuses are the states a start request may move to Sending.
func StartableStatuses() []CampaignStatus {
	return []CampaignStatus{CampaignStatusDraft, CampaignStatusFailed}
}

func (s CampaignStatus) Startable() bool {
	return CanTransition(s, CampaignStatusSending)
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusSending, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	}
	return false
}

type Campaign struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Status    CampaignStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type CampaignStats struct {
	Total   int64 `json:"total"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Bounced int64 `json:"bounced"`
	Pending int64 `json:"pending"`
	Opened  int64 `json:"opened"`
	Clicked int64 `json:"clicked"`
}

type CampaignWithStats struct {
	*Campaign
	Stats CampaignStats `json:"stats"`
}

type CampaignCreateRequest struct {
	Name    string   `json:"name"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	Emails  []string `json:"emails"`
}

// Validate normalizes Emails in place and rejects requests that would
// create a campaign without any deliverable recipient.
func (p *CampaignCreateRequest) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Subject = strings.TrimSpace(p.Subject)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidCampaign)
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidCampaign)
	}
	p.Emails = NormalizeEmails(p.Emails)
	if len(p.Emails) == 0 {
		return fmt.Errorf("%w: at least one valid email is required", ErrInvalidCampaign)
	}
	return nil
}

// NormalizeEmails trims, lower-cases and de-duplicates addresses, keeping the
// first occurrence order. Entries without an '@' are dropped.
func NormalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.Contains(e, "@") {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

type CampaignFilter struct {
	Status *CampaignStatus
	Limit  int
	Offset int
}
