package dispatch

import (
	"context"
	"fmt"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// DispatchNow synchronously drains one pending row, outside the periodic
// tick, with the same transition rules. The row is leased first so a
// concurrent tick cannot send it as well. When the instance lookup, the
// settings read or the rate limiter fails, the row ends failed.
func (e *Engine) DispatchNow(ctx context.Context, send *model.ScheduledSend) (model.SendOutcome, error) {
	ok, err := e.Sends.Claim(ctx, send.ID, e.Now(), e.config().Lease)
	if err != nil {
		return model.SendOutcome{}, err
	}
	if !ok {
		return model.SendOutcome{}, appErrors.NewInvalidTransition("scheduled send", send.ID, string(send.Status), "sending")
	}

	q := e.scheduledQueue()
	inst, err := e.Channel.ConnectedInstance(ctx, send.OwnerID)
	if err != nil {
		return e.failNow(ctx, q, send, err)
	}
	if inst != nil {
		settings, err := e.Settings.Settings(ctx, inst.ID, inst.OwnerID)
		if err != nil {
			return e.failNow(ctx, q, send, err)
		}
		if lim := e.limiter(settings); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return e.failNow(ctx, q, send, err)
			}
		}
	}

	var out model.SendOutcome
	if e.protect("interactive:"+send.ID, func() { _, out = processRow(ctx, e, q, inst, send) }) {
		return model.SendOutcome{}, fmt.Errorf("dispatch of %s panicked", send.ID)
	}
	return out, nil
}

// failNow commits a terminal failed outcome for an interactive row that was
// never attempted.
func (e *Engine) failNow(ctx context.Context, q queueOps[*model.ScheduledSend], send *model.ScheduledSend, cause error) (model.SendOutcome, error) {
	wctx := context.WithoutCancel(ctx)
	out := model.SendOutcome{Status: model.SendFailed, Error: errText(cause)}
	ok, err := q.complete(wctx, send.ID, send.ScheduledAt, out)
	if err != nil {
		return model.SendOutcome{}, fmt.Errorf("fail interactive send %s after %v: %w", send.ID, cause, err)
	}
	if !ok {
		return model.SendOutcome{}, appErrors.NewInvalidTransition("scheduled send", send.ID, string(send.Status), string(model.SendFailed))
	}
	e.log.Warn().Err(cause).Str("row", send.ID).Str("owner", send.OwnerID).Msg("interactive send not attempted")
	q.audit(wctx, send, "", cause)
	return out, nil
}
