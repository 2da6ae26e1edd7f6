package service

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/pkg/errors"
)

// CampaignRegistry keeps campaigns in memory. Campaigns group related
// sessions against one objective; only a bounded number may be active.
type CampaignRegistry struct {
	mu        sync.RWMutex
	campaigns map[string]*entity.Campaign
	maxActive int
	logger    *zap.Logger
}

// NewCampaignRegistry creates a registry allowing maxActive concurrent
// active campaigns.
func NewCampaignRegistry(maxActive int, logger *zap.Logger) *CampaignRegistry {
	return &CampaignRegistry{
		campaigns: make(map[string]*entity.Campaign),
		maxActive: maxActive,
		logger:    logger.With(zap.String("component", "campaigns")),
	}
}

// Create opens a new campaign.
func (r *CampaignRegistry) Create(name, objective string) (*entity.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, c := range r.campaigns {
		if c.Status() == entity.CampaignActive {
			active++
		}
	}
	if active >= r.maxActive {
		return nil, errors.NewBusyError("active campaign limit reached")
	}

	campaign, err := entity.NewCampaign(uuid.New().String(), name, objective)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	r.campaigns[campaign.ID()] = campaign

	r.logger.Info("Campaign created",
		zap.String("campaign", campaign.ID()),
		zap.String("name", campaign.Name()),
	)
	return campaign, nil
}

// Get returns one campaign.
func (r *CampaignRegistry) Get(id string) (*entity.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, errors.NewNotFoundError("campaign " + id + " not found")
	}
	return c, nil
}

// List returns all campaigns, newest first.
func (r *CampaignRegistry) List() []*entity.Campaign {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out
}

// AttachSession records a session under a campaign.
func (r *CampaignRegistry) AttachSession(campaignID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return errors.NewNotFoundError("campaign " + campaignID + " not found")
	}
	if err := c.AttachSession(sessionID); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	return nil
}

// Close ends a campaign.
func (r *CampaignRegistry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return errors.NewNotFoundError("campaign " + id + " not found")
	}
	c.Close()
	return nil
}
