package entity

import (
	"strings"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignClosed CampaignStatus = "closed"
)

// Campaign is a long-lived grouping of related sessions working toward
// one objective.
type Campaign struct {
	id        string
	name      string
	objective string
	status    CampaignStatus
	sessions  []string
	createdAt time.Time
}

// NewCampaign creates an active campaign.
func NewCampaign(id, name, objective string) (*Campaign, error) {
	if id == "" || strings.TrimSpace(name) == "" {
		return nil, ErrInvalidCampaign
	}
	return &Campaign{
		id:        id,
		name:      strings.TrimSpace(name),
		objective: strings.TrimSpace(objective),
		status:    CampaignActive,
		createdAt: time.Now(),
	}, nil
}

func (c *Campaign) ID() string { return c.id }
func (c *Campaign) Name() string { return c.name }
func (c *Campaign) Objective() string { return c.objective }
func (c *Campaign) Status() CampaignStatus { return c.status }
func (c *Campaign) CreatedAt() time.Time { return c.createdAt }

// Sessions returns the attached session ids in attach order.
func (c *Campaign) Sessions() []string {
	out := make([]string, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// AttachSession records a session run under this campaign.
func (c *Campaign) AttachSession(sessionID string) error {
	if c.status != CampaignActive {
		return ErrCampaignClosed
	}
	c.sessions = append(c.sessions, sessionID)
	return nil
}

// Close ends the campaign; further sessions are rejected.
func (c *Campaign) Close() {
	c.status = CampaignClosed
}
