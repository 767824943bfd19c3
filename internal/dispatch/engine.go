// Package dispatch is the rate-limited drain loop. A periodic trigger calls
// Engine.RunTick, which sends every due scheduled send and status post and
// advances running campaigns, one channel instance at a time.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/dispatch-engine/internal/channel"
	"github.com/unclebandit/dispatch-engine/internal/history"
	"github.com/unclebandit/dispatch-engine/internal/model"
	"github.com/unclebandit/dispatch-engine/internal/repository"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

type Config struct {
	BatchSize              int
	Lease                  time.Duration
	SendDelay              time.Duration
	MaxContactsPerTick     int
	MaxConcurrentInstances int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.SendDelay < 0 {
		c.SendDelay = 0
	}
	if c.MaxContactsPerTick <= 0 {
		c.MaxContactsPerTick = 20
	}
	if c.MaxConcurrentInstances <= 0 {
		c.MaxConcurrentInstances = 4
	}
	return c
}

// SettingsReader returns an instance's dispatch settings, defaults included.
type SettingsReader interface {
	Settings(ctx context.Context, instanceID, ownerID string) (model.ChannelSettings, error)
}

type Deps struct {
	Sends     repository.ScheduledSendRepositoryInterface
	Posts     repository.StatusPostRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Clients   repository.ClientRepositoryInterface
	Settings  SettingsReader
	Channel   channel.Client
	History   *history.Recorder
}

type Engine struct {
	Deps
	cfg atomic.Pointer[Config]
	log zerolog.Logger

	Renderer template.Renderer
	Now      func() time.Time
	// Sleep waits d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Intn draws campaign pacing delays.
	Intn func(n int) int

	tick sync.Mutex

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(deps Deps, cfg Config, log zerolog.Logger) *Engine {
	e := &Engine{
		Deps:     deps,
		log:      log.With().Str("component", "dispatch").Logger(),
		Now:      time.Now,
		Sleep:    sleepCtx,
		Intn:     rand.IntN,
		limiters: make(map[string]*rate.Limiter),
	}
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the tuning used from the next tick on.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

func (e *Engine) config() Config {
	return *e.cfg.Load()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UnitCounts summarizes one queue's drain within a tick.
type UnitCounts struct {
	Selected  int
	Sent      int
	Failed    int
	Rearmed   int
	Deferred  int
	Conflicts int
	Errors    int
}

func (c *UnitCounts) add(o UnitCounts) {
	c.Selected += o.Selected
	c.Sent += o.Sent
	c.Failed += o.Failed
	c.Rearmed += o.Rearmed
	c.Deferred += o.Deferred
	c.Conflicts += o.Conflicts
	c.Errors += o.Errors
}

type CampaignCounts struct {
	Campaigns      int
	ContactsSent   int
	ContactsFailed int
	Paused         int
	Completed      int
	Skipped        int
	Errors         int
}

func (c *CampaignCounts) add(o CampaignCounts) {
	c.Campaigns += o.Campaigns
	c.ContactsSent += o.ContactsSent
	c.ContactsFailed += o.ContactsFailed
	c.Paused += o.Paused
	c.Completed += o.Completed
	c.Skipped += o.Skipped
	c.Errors += o.Errors
}

type TickReport struct {
	// Skipped is set when another tick was still running in this process.
	Skipped     bool
	Scheduled   UnitCounts
	StatusPosts UnitCounts
	Campaigns   CampaignCounts
	Took        time.Duration
}

// RunTick drains every queue once. It never returns an error: failures are
// recorded on the affected rows and logged. Calls that overlap in one
// process are skipped; overlapping ticks across processes are kept apart by
// the selection leases and the compare-and-set completions.
func (e *Engine) RunTick(ctx context.Context) TickReport {
	if !e.tick.TryLock() {
		e.log.Debug().Msg("tick already running, skipping")
		return TickReport{Skipped: true}
	}
	defer e.tick.Unlock()

	start := time.Now()
	now := e.Now()
	var rep TickReport
	if e.Sends != nil {
		rep.Scheduled = drain(ctx, e, now, e.scheduledQueue())
	}
	if e.Posts != nil {
		rep.StatusPosts = drain(ctx, e, now, e.statusPostQueue())
	}
	if e.Campaigns != nil {
		rep.Campaigns = e.runCampaigns(ctx)
	}
	rep.Took = time.Since(start)

	e.log.Info().
		Int("sends", rep.Scheduled.Selected).
		Int("sent", rep.Scheduled.Sent).
		Int("failed", rep.Scheduled.Failed).
		Int("status_posts", rep.StatusPosts.Selected).
		Int("campaigns", rep.Campaigns.Campaigns).
		Int("contacts_sent", rep.Campaigns.ContactsSent).
		Int("contacts_failed", rep.Campaigns.ContactsFailed).
		Dur("took", rep.Took).
		Msg("tick done")
	return rep
}

// limiter returns the instance's token bucket, updated to the current
// settings. Nil means unlimited.
func (e *Engine) limiter(s model.ChannelSettings) *rate.Limiter {
	e.limMu.Lock()
	defer e.limMu.Unlock()

	if s.MaxPerMinute <= 0 {
		delete(e.limiters, s.InstanceID)
		return nil
	}
	limit := rate.Every(time.Minute / time.Duration(s.MaxPerMinute))
	lim, ok := e.limiters[s.InstanceID]
	if !ok {
		lim = rate.NewLimiter(limit, 1)
		e.limiters[s.InstanceID] = lim
	} else if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}

func (e *Engine) sendDelay(s model.ChannelSettings) time.Duration {
	if s.SendDelayMillis > 0 {
		return time.Duration(s.SendDelayMillis) * time.Millisecond
	}
	return e.config().SendDelay
}

// pacer spaces consecutive sends on one channel instance.
type pacer struct {
	e    *Engine
	lim  *rate.Limiter
	sent bool
}

func (e *Engine) newPacer(s model.ChannelSettings) *pacer {
	return &pacer{e: e, lim: e.limiter(s)}
}

// wait sleeps d unless this is the first send, then takes a limiter token.
func (p *pacer) wait(ctx context.Context, d time.Duration) error {
	if p.sent && d > 0 {
		if err := p.e.Sleep(ctx, d); err != nil {
			return err
		}
	}
	p.sent = true
	if p.lim != nil {
		return p.lim.Wait(ctx)
	}
	return ctx.Err()
}

// send calls the channel client, turning a panic into an error so one bad
// unit cannot take down the tick.
func (e *Engine) send(ctx context.Context, msg channel.Message) (rcpt channel.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("instance", msg.InstanceID).Str("stack", string(debug.Stack())).Msgf("channel send panicked: %v", r)
			err = fmt.Errorf("channel send panicked: %v", r)
		}
	}()
	return e.Channel.Send(ctx, msg)
}

// protect runs fn and logs a recovered panic instead of propagating it.
func (e *Engine) protect(unit string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			e.log.Error().Str("unit", unit).Str("stack", string(debug.Stack())).Msgf("panic recovered: %v", r)
		}
	}()
	fn()
	return false
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
