package service

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

type CampaignInput struct {
	Name               string `json:"name"`
	MessageTemplate    string `json:"message_template"`
	ChannelInstanceID  string `json:"channel_instance_id"`
	MinDelaySeconds    int    `json:"min_delay_seconds"`
	MaxDelaySeconds    int    `json:"max_delay_seconds"`
	PauseAfterMessages int    `json:"pause_after_messages"`
}

type ContactInput struct {
	Address   string            `json:"address"`
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables,omitempty"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *DispatchService) CreateCampaign(ctx context.Context, ownerID string, in CampaignInput) (*model.Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, appErrors.NewValidation("name", "cannot be empty")
	}
	if strings.TrimSpace(in.MessageTemplate) == "" {
		return nil, appErrors.NewValidation("message_template", "cannot be empty")
	}
	if err := template.Validate(in.MessageTemplate); err != nil {
		return nil, err
	}
	if in.MinDelaySeconds < 0 || in.MaxDelaySeconds < in.MinDelaySeconds {
		return nil, appErrors.NewValidation("delay", "need 0 <= min_delay_seconds <= max_delay_seconds")
	}
	if in.PauseAfterMessages < 0 {
		return nil, appErrors.NewValidation("pause_after_messages", "cannot be negative")
	}

	c := &model.Campaign{
		OwnerID:            ownerID,
		ChannelInstanceID:  in.ChannelInstanceID,
		Name:               strings.TrimSpace(in.Name),
		MessageTemplate:    in.MessageTemplate,
		Status:             model.CampaignDraft,
		MinDelaySeconds:    in.MinDelaySeconds,
		MaxDelaySeconds:    in.MaxDelaySeconds,
		PauseAfterMessages: in.PauseAfterMessages,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Log.Info().Str("campaign", c.ID).Str("owner", ownerID).Msg("campaign created")
	return c, nil
}

// AddCampaignContacts appends contacts, in order, to a draft or paused
// campaign and returns the new total.
func (s *DispatchService) AddCampaignContacts(ctx context.Context, ownerID, campaignID string, contacts []ContactInput) (int, error) {
	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	if len(contacts) == 0 {
		return 0, appErrors.NewValidation("contacts", "cannot be empty")
	}
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignPaused {
		return 0, appErrors.NewInvalidTransition("campaign", campaignID, string(c.Status), "add contacts")
	}

	list := make([]*model.CampaignContact, 0, len(contacts))
	for i, in := range contacts {
		addr := strings.TrimSpace(in.Address)
		if addr == "" {
			return 0, appErrors.NewValidation("contacts", fmt.Sprintf("entry %d has no address", i))
		}
		list = append(list, &model.CampaignContact{
			Target:    model.DispatchTarget{Address: addr, Name: strings.TrimSpace(in.Name)},
			Variables: in.Variables,
		})
	}
	if err := s.CampaignRepo.AddContacts(ctx, campaignID, list); err != nil {
		return 0, err
	}
	return c.TotalContacts + len(list), nil
}

// transition applies a guarded status change and reports the current
// status when the guard fails.
func (s *DispatchService) transition(ctx context.Context, ownerID, id string, from []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.CampaignRepo.SetStatus(ctx, id, from, to, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if c, err = s.CampaignRepo.GetByID(ctx, ownerID, id); err != nil {
			return nil, err
		}
		return nil, appErrors.NewInvalidTransition("campaign", id, string(c.Status), string(to))
	}
	s.Log.Info().Str("campaign", id).Str("from", string(c.Status)).Str("to", string(to)).Msg("campaign status changed")
	return s.CampaignRepo.GetByID(ctx, ownerID, id)
}

func (s *DispatchService) StartCampaign(ctx context.Context, ownerID, id string) (*model.Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignDraft && c.TotalContacts == 0 {
		return nil, appErrors.NewValidation("contacts", "campaign has no contacts")
	}
	return s.transition(ctx, ownerID, id, []model.CampaignStatus{model.CampaignDraft}, model.CampaignRunning)
}

func (s *DispatchService) PauseCampaign(ctx context.Context, ownerID, id string) (*model.Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.transition(ctx, ownerID, id, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused)
}

// ResumeCampaign restarts a paused campaign; the pause-after counter starts
// again from zero.
func (s *DispatchService) ResumeCampaign(ctx context.Context, ownerID, id string) (*model.Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.transition(ctx, ownerID, id, []model.CampaignStatus{model.CampaignPaused}, model.CampaignRunning)
}

// DeleteCampaign removes a campaign that is not running, with its contacts.
func (s *DispatchService) DeleteCampaign(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignRunning {
		return appErrors.NewInvalidTransition("campaign", id, string(c.Status), "deleted")
	}
	ok, err := s.CampaignRepo.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// ListCampaigns fetches campaigns with pagination
func (s *DispatchService) ListCampaigns(ctx context.Context, ownerID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, ownerID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

func (s *DispatchService) GetCampaignDetailsWithStats(ctx context.Context, ownerID, id string) (*CampaignDetails, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.CampaignRepo.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": 0, "pending": 0, "sent": 0, "failed": 0}
	for status, n := range counts {
		if _, ok := stats[status]; ok {
			stats[status] = n
		}
		stats["total"] += n
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// RenderPreview resolves the campaign's template, or the override when one
// is given, for a sample contact. Spintax is re-rolled on every call.
func (s *DispatchService) RenderPreview(ctx context.Context, ownerID, campaignID string, contact ContactInput, override *string) (string, error) {
	if err := requireOwner(ownerID); err != nil {
		return "", err
	}
	c, err := s.CampaignRepo.GetByID(ctx, ownerID, campaignID)
	if err != nil {
		return "", err
	}

	tpl := c.MessageTemplate
	if override != nil && strings.TrimSpace(*override) != "" {
		tpl = *override
	}
	if strings.TrimSpace(tpl) == "" {
		return "", appErrors.NewValidation("template", "cannot be empty")
	}
	if err := template.Validate(tpl); err != nil {
		return "", err
	}

	rc := template.FromVariables(contact.Name, contact.Address, contact.Variables)
	return s.Renderer.Resolve(tpl, rc), nil
}
