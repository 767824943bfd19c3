package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

// queueRow is the part of a queue entity the drain skeleton needs.
type queueRow struct {
	ID       string
	OwnerID  string
	Schedule model.Schedule
}

// queueOps adapts one recurring queue table (scheduled sends, status posts)
// to the shared drain skeleton.
type queueOps[T any] struct {
	name      string
	selectDue func(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]T, error)
	complete  func(ctx context.Context, id string, expected time.Time, out model.SendOutcome) (bool, error)
	release   func(ctx context.Context, id string) error
	row       func(T) queueRow
	deliver   func(ctx context.Context, inst *model.ChannelInstance, row T) (body string, err error)
	audit     func(ctx context.Context, row T, body string, sendErr error)
}

// outcome is the single write for an attempt: a repeating schedule is
// re-armed whatever the result; otherwise the row ends sent or failed.
func outcome(sched model.Schedule, at time.Time, sendErr error) model.SendOutcome {
	out := model.SendOutcome{Status: model.SendSent, Error: errText(sendErr)}
	if sendErr != nil {
		out.Status = model.SendFailed
	} else {
		out.SentAt = &at
	}
	if next, ok := sched.Advance(); ok {
		out.Status = model.SendPending
		out.NextAt = &next
	}
	return out
}

type instanceGroup[T any] struct {
	inst *model.ChannelInstance
	rows []T
}

func drain[T any](ctx context.Context, e *Engine, now time.Time, q queueOps[T]) UnitCounts {
	log := e.log.With().Str("queue", q.name).Logger()

	cfg := e.config()
	rows, err := q.selectDue(ctx, now, cfg.BatchSize, cfg.Lease)
	if err != nil {
		log.Error().Err(err).Msg("select due rows")
		return UnitCounts{Errors: 1}
	}
	counts := UnitCounts{Selected: len(rows)}
	if len(rows) == 0 {
		return counts
	}

	owners := make(map[string]*model.ChannelInstance)
	groups := make(map[string]*instanceGroup[T])
	var order []string
	for _, row := range rows {
		r := q.row(row)
		inst, ok := owners[r.OwnerID]
		if !ok {
			inst, err = e.Channel.ConnectedInstance(ctx, r.OwnerID)
			if err != nil {
				log.Error().Err(err).Str("row", r.ID).Str("owner", r.OwnerID).Msg("resolve channel instance")
				counts.Errors++
				_ = q.release(context.WithoutCancel(ctx), r.ID)
				continue
			}
			owners[r.OwnerID] = inst
		}
		if inst == nil {
			c, _ := processRow(ctx, e, q, nil, row)
			counts.add(c)
			continue
		}
		g, ok := groups[inst.ID]
		if !ok {
			g = &instanceGroup[T]{inst: inst}
			groups[inst.ID] = g
			order = append(order, inst.ID)
		}
		g.rows = append(g.rows, row)
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(e.config().MaxConcurrentInstances)
	for _, id := range order {
		g := groups[id]
		eg.Go(func() error {
			c := drainGroup(ctx, e, q, g)
			mu.Lock()
			counts.add(c)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return counts
}

// drainGroup sends one instance's rows strictly in order, paced.
func drainGroup[T any](ctx context.Context, e *Engine, q queueOps[T], g *instanceGroup[T]) UnitCounts {
	var counts UnitCounts
	log := e.log.With().Str("queue", q.name).Str("instance", g.inst.ID).Logger()

	releaseFrom := func(i int) {
		for _, row := range g.rows[i:] {
			_ = q.release(context.WithoutCancel(ctx), q.row(row).ID)
		}
		counts.Deferred += len(g.rows) - i
	}

	settings, err := e.Settings.Settings(ctx, g.inst.ID, g.inst.OwnerID)
	if err != nil {
		log.Error().Err(err).Msg("read channel settings")
		counts.Errors++
		releaseFrom(0)
		return counts
	}
	if !settings.DispatchEnabled {
		log.Debug().Int("rows", len(g.rows)).Msg("dispatch disabled for instance, deferring")
		releaseFrom(0)
		return counts
	}

	p := e.newPacer(settings)
	delay := e.sendDelay(settings)
	for i, row := range g.rows {
		if err := p.wait(ctx, delay); err != nil {
			log.Warn().Err(err).Msg("tick interrupted, releasing remaining rows")
			releaseFrom(i)
			break
		}
		var c UnitCounts
		if e.protect(q.name+":"+q.row(row).ID, func() { c, _ = processRow(ctx, e, q, g.inst, row) }) {
			c.Errors++
		}
		counts.add(c)
	}
	return counts
}

// processRow attempts one row and commits its outcome. A nil instance is a
// configuration error: the row fails without a send and is not re-armed.
func processRow[T any](ctx context.Context, e *Engine, q queueOps[T], inst *model.ChannelInstance, row T) (UnitCounts, model.SendOutcome) {
	r := q.row(row)
	var body string
	var sendErr error
	var out model.SendOutcome
	if inst == nil {
		sendErr = appErrors.ErrNoConnectedInstance
		out = model.SendOutcome{Status: model.SendFailed, Error: errText(sendErr)}
	} else {
		body, sendErr = q.deliver(ctx, inst, row)
		out = outcome(r.Schedule, e.Now(), sendErr)
	}

	// The attempt happened; record it even if the tick is being cancelled.
	wctx := context.WithoutCancel(ctx)
	var counts UnitCounts
	ok, err := q.complete(wctx, r.ID, r.Schedule.ScheduledAt, out)
	ev := e.log.With().Str("queue", q.name).Str("row", r.ID).Str("owner", r.OwnerID).Logger()
	switch {
	case err != nil:
		ev.Error().Err(err).Msg("commit outcome")
		counts.Errors++
	case !ok:
		ev.Warn().Msg("row changed during attempt, outcome discarded")
		counts.Conflicts++
	default:
		if sendErr != nil {
			counts.Failed++
			ev.Warn().Err(sendErr).Str("status", string(out.Status)).Msg("send failed")
		} else {
			counts.Sent++
			ev.Debug().Str("status", string(out.Status)).Msg("sent")
		}
		if out.Status == model.SendPending {
			counts.Rearmed++
		}
	}
	q.audit(wctx, row, body, sendErr)
	return counts, out
}

func (e *Engine) scheduledQueue() queueOps[*model.ScheduledSend] {
	return queueOps[*model.ScheduledSend]{
		name:      "scheduled_sends",
		selectDue: e.Sends.SelectDueScheduledSends,
		complete:  e.Sends.Complete,
		release:   e.Sends.Release,
		row: func(s *model.ScheduledSend) queueRow {
			return queueRow{ID: s.ID, OwnerID: s.OwnerID, Schedule: s.Schedule}
		},
		deliver: e.deliverScheduledSend,
		audit:   e.auditScheduledSend,
	}
}

func (e *Engine) statusPostQueue() queueOps[*model.StatusPost] {
	return queueOps[*model.StatusPost]{
		name:      "status_posts",
		selectDue: e.Posts.SelectDueStatusPosts,
		complete:  e.Posts.Complete,
		release:   e.Posts.Release,
		row: func(p *model.StatusPost) queueRow {
			return queueRow{ID: p.ID, OwnerID: p.OwnerID, Schedule: p.Schedule}
		},
		deliver: e.deliverStatusPost,
		audit:   e.auditStatusPost,
	}
}

func (e *Engine) recipientContext(ctx context.Context, s *model.ScheduledSend) template.RecipientContext {
	rc := template.RecipientContext{Name: s.Target.Name, Phone: s.Target.Address}
	if s.ClientID == nil || e.Clients == nil {
		return rc
	}
	c, err := e.Clients.GetByID(ctx, s.OwnerID, *s.ClientID)
	if err != nil {
		e.log.Warn().Err(err).Str("row", s.ID).Str("client", *s.ClientID).Msg("load client metadata")
		return rc
	}
	if c.Name != "" {
		rc.Name = c.Name
	}
	if c.Phone != "" {
		rc.Phone = c.Phone
	}
	rc.Email = c.Email
	rc.Plan = c.Plan
	rc.Link = c.Link
	rc.ExpiresAt = c.ExpiresAt
	rc.Custom = c.Custom
	return rc
}

func (e *Engine) deliverScheduledSend(ctx context.Context, inst *model.ChannelInstance, s *model.ScheduledSend) (string, error) {
	body := e.Renderer.Resolve(s.TemplateBody, e.recipientContext(ctx, s))
	_, err := e.send(ctx, channel.Message{
		InstanceID:    inst.ID,
		CredentialRef: inst.CredentialRef,
		To:            []model.DispatchTarget{s.Target},
		Kind:          s.PayloadKind,
		Text:          body,
		MediaRef:      s.MediaRef,
	})
	return body, err
}

func (e *Engine) deliverStatusPost(ctx context.Context, inst *model.ChannelInstance, p *model.StatusPost) (string, error) {
	body := e.Renderer.ResolveSpintax(p.Body)
	_, err := e.send(ctx, channel.Message{
		InstanceID:    inst.ID,
		CredentialRef: inst.CredentialRef,
		To:            p.Targets,
		Kind:          p.PayloadKind,
		Text:          body,
		MediaRef:      p.MediaRef,
		Status:        true,
	})
	return body, err
}

// auditScheduledSend writes one-off sends to the dispatch history and
// recurring or reminder sends to the client notification log.
func (e *Engine) auditScheduledSend(ctx context.Context, s *model.ScheduledSend, body string, sendErr error) {
	if e.History == nil {
		return
	}
	status := model.SendSent
	if sendErr != nil {
		status = model.SendFailed
	}

	var err error
	if s.Rule().Repeats() || s.Origin == model.OriginReminder {
		kind := model.NotificationRecurring
		if s.Origin == model.OriginReminder {
			kind = model.NotificationReminder
		}
		err = e.History.RecordClientNotification(ctx, model.ClientNotificationLog{
			OwnerID:         s.OwnerID,
			ClientID:        s.ClientID,
			ScheduledSendID: s.ID,
			Kind:            kind,
			Status:          status,
			Message:         body,
			Error:           errText(sendErr),
		})
	} else {
		dt := model.DispatchScheduled
		if s.Origin == model.OriginInteractive {
			dt = model.DispatchInteractive
		}
		rec := model.DispatchHistoryRecord{
			OwnerID:         s.OwnerID,
			DispatchType:    dt,
			TargetType:      model.TargetSingle,
			TotalRecipients: 1,
			MessageContent:  body,
		}
		if sendErr != nil {
			rec.FailedCount = 1
		} else {
			rec.SuccessCount = 1
		}
		err = e.History.RecordDispatch(ctx, rec)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("row", s.ID).Msg("record history")
	}
}

func (e *Engine) auditStatusPost(ctx context.Context, p *model.StatusPost, body string, sendErr error) {
	if e.History == nil {
		return
	}
	rec := model.DispatchHistoryRecord{
		OwnerID:         p.OwnerID,
		DispatchType:    model.DispatchStatusPost,
		TargetType:      model.TargetBroadcast,
		TotalRecipients: len(p.Targets),
		MessageContent:  body,
	}
	if sendErr != nil {
		rec.FailedCount = len(p.Targets)
	} else {
		rec.SuccessCount = len(p.Targets)
	}
	if err := e.History.RecordDispatch(ctx, rec); err != nil {
		e.log.Warn().Err(err).Str("row", p.ID).Msg("record history")
	}
}
