package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

type campaignGroup struct {
	inst      *model.ChannelInstance
	campaigns []*model.Campaign
}

func (e *Engine) runCampaigns(ctx context.Context) CampaignCounts {
	campaigns, err := e.Campaigns.SelectRunningCampaignsWithPendingContacts(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("select running campaigns")
		return CampaignCounts{Errors: 1}
	}
	counts := CampaignCounts{Campaigns: len(campaigns)}

	owners := make(map[string]*model.ChannelInstance)
	groups := make(map[string]*campaignGroup)
	var order []string
	for _, c := range campaigns {
		if c.Done() {
			if e.completeCampaign(ctx, c) {
				counts.Completed++
			}
			continue
		}
		inst, ok := owners[c.OwnerID]
		if !ok {
			inst, err = e.Channel.ConnectedInstance(ctx, c.OwnerID)
			if err != nil {
				e.log.Error().Err(err).Str("campaign", c.ID).Msg("resolve channel instance")
				counts.Errors++
				continue
			}
			owners[c.OwnerID] = inst
		}
		if inst == nil {
			e.log.Info().Str("campaign", c.ID).Str("owner", c.OwnerID).Msg("no connected channel instance, skipping campaign")
			counts.Skipped++
			continue
		}
		g, ok := groups[inst.ID]
		if !ok {
			g = &campaignGroup{inst: inst}
			groups[inst.ID] = g
			order = append(order, inst.ID)
		}
		g.campaigns = append(g.campaigns, c)
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(e.config().MaxConcurrentInstances)
	for _, id := range order {
		g := groups[id]
		eg.Go(func() error {
			c := e.runCampaignGroup(ctx, g)
			mu.Lock()
			counts.add(c)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return counts
}

func (e *Engine) runCampaignGroup(ctx context.Context, g *campaignGroup) CampaignCounts {
	var counts CampaignCounts
	settings, err := e.Settings.Settings(ctx, g.inst.ID, g.inst.OwnerID)
	if err != nil {
		e.log.Error().Err(err).Str("instance", g.inst.ID).Msg("read channel settings")
		counts.Errors++
		return counts
	}
	if !settings.DispatchEnabled {
		counts.Skipped += len(g.campaigns)
		return counts
	}

	p := e.newPacer(settings)
	for _, c := range g.campaigns {
		if ctx.Err() != nil {
			break
		}
		var cc CampaignCounts
		if e.protect("campaign:"+c.ID, func() { cc = e.runCampaign(ctx, g.inst, p, settings, c) }) {
			cc.Errors++
		}
		counts.add(cc)
	}
	return counts
}

// runCampaign sends up to MaxContactsPerTick contacts in insertion order.
// The contacts are leased first, so a concurrent tick in another process
// skips the campaign. It stops early when the campaign completes, reaches
// its pause threshold, stops running or the lease would run out; contacts
// not attempted are released.
func (e *Engine) runCampaign(ctx context.Context, inst *model.ChannelInstance, p *pacer, settings model.ChannelSettings, c *model.Campaign) CampaignCounts {
	var counts CampaignCounts
	log := e.log.With().Str("campaign", c.ID).Str("instance", inst.ID).Logger()

	cfg := e.config()
	claimedAt := e.Now()
	contacts, err := e.Campaigns.ClaimPendingContacts(ctx, c.ID, claimedAt, cfg.MaxContactsPerTick, cfg.Lease)
	if err != nil {
		log.Error().Err(err).Msg("claim pending contacts")
		counts.Errors++
		return counts
	}
	if len(contacts) == 0 {
		log.Debug().Msg("contacts held by another tick")
		counts.Skipped++
		return counts
	}
	deadline := claimedAt.Add(cfg.Lease)

	attempted := 0
	defer func() {
		if attempted == len(contacts) {
			return
		}
		ids := make([]string, 0, len(contacts)-attempted)
		for _, ct := range contacts[attempted:] {
			ids = append(ids, ct.ID)
		}
		if err := e.Campaigns.ReleaseContacts(context.WithoutCancel(ctx), c.ID, ids); err != nil {
			log.Error().Err(err).Int("contacts", len(ids)).Msg("release contacts")
		}
	}()

	delay := e.sendDelay(settings)
	for _, ct := range contacts {
		if !e.Now().Add(delay).Before(deadline) {
			log.Info().Msg("contact lease about to expire, releasing the rest")
			return counts
		}
		if err := p.wait(ctx, delay); err != nil {
			log.Warn().Err(err).Msg("tick interrupted")
			return counts
		}
		attempted++

		body := e.Renderer.Resolve(c.MessageTemplate, contactContext(ct))
		_, sendErr := e.send(ctx, channel.Message{
			InstanceID:    inst.ID,
			CredentialRef: inst.CredentialRef,
			To:            []model.DispatchTarget{ct.Target},
			Kind:          model.PayloadText,
			Text:          body,
		})

		out := model.ContactOutcome{
			ContactID:  ct.ID,
			CampaignID: c.ID,
			Status:     model.ContactSent,
			At:         e.Now(),
			Error:      errText(sendErr),
		}
		if sendErr != nil {
			out.Status = model.ContactFailed
		}
		updated, err := e.Campaigns.RecordContactOutcome(context.WithoutCancel(ctx), out)
		if err != nil {
			log.Error().Err(err).Str("contact", ct.ID).Msg("record contact outcome")
			counts.Errors++
			return counts
		}
		if updated == nil {
			log.Warn().Str("contact", ct.ID).Msg("contact no longer pending, outcome discarded")
			continue
		}
		if sendErr != nil {
			counts.ContactsFailed++
			log.Warn().Err(sendErr).Str("contact", ct.ID).Msg("contact send failed")
		} else {
			counts.ContactsSent++
		}

		if updated.Done() {
			if e.completeCampaign(ctx, updated) {
				counts.Completed++
			}
			return counts
		}
		if updated.Status != model.CampaignRunning {
			return counts
		}
		if updated.ShouldPause() {
			ok, err := e.Campaigns.SetStatus(context.WithoutCancel(ctx), c.ID,
				[]model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, e.Now())
			if err != nil {
				log.Error().Err(err).Msg("pause campaign")
				counts.Errors++
			} else if ok {
				counts.Paused++
				log.Info().Int("processed", updated.ProcessedSinceResume).Msg("pause threshold reached, campaign paused")
			}
			return counts
		}
		delay = e.campaignDelay(updated, settings)
	}
	return counts
}

// campaignDelay draws the wait before the campaign's next contact uniformly
// from [MinDelaySeconds, MaxDelaySeconds]. With no range configured the
// instance's fixed send delay applies.
func (e *Engine) campaignDelay(c *model.Campaign, settings model.ChannelSettings) time.Duration {
	lo, hi := c.MinDelaySeconds, c.MaxDelaySeconds
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	if hi == 0 {
		return e.sendDelay(settings)
	}
	secs := lo
	if hi > lo {
		secs += e.Intn(hi - lo + 1)
	}
	return time.Duration(secs) * time.Second
}

func (e *Engine) completeCampaign(ctx context.Context, c *model.Campaign) bool {
	at := e.Now()
	ok, err := e.Campaigns.CompleteIfDone(context.WithoutCancel(ctx), c.ID, at)
	if err != nil {
		e.log.Error().Err(err).Str("campaign", c.ID).Msg("complete campaign")
		return false
	}
	if !ok {
		return false
	}
	e.log.Info().Str("campaign", c.ID).Int("sent", c.SentCount).Int("failed", c.FailedCount).Msg("campaign completed")
	if e.History != nil {
		err := e.History.RecordDispatch(context.WithoutCancel(ctx), model.DispatchHistoryRecord{
			OwnerID:         c.OwnerID,
			DispatchType:    model.DispatchCampaign,
			TargetType:      model.TargetContactList,
			TotalRecipients: c.TotalContacts,
			SuccessCount:    c.SentCount,
			FailedCount:     c.FailedCount,
			MessageContent:  c.MessageTemplate,
			CreatedAt:       at,
		})
		if err != nil {
			e.log.Warn().Err(err).Str("campaign", c.ID).Msg("record history")
		}
	}
	return true
}

func contactContext(ct *model.CampaignContact) template.RecipientContext {
	return template.FromVariables(ct.Target.Name, ct.Target.Address, ct.Variables)
}
