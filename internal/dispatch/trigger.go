package dispatch

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Ticker is what the trigger drives.
type Ticker interface {
	RunTick(ctx context.Context) TickReport
}

// Trigger calls RunTick on a cron schedule (e.g. "@every 30s"). A tick
// still running when the next one fires is skipped.
type Trigger struct {
	c   *cron.Cron
	log zerolog.Logger
}

func NewTrigger(ctx context.Context, spec string, t Ticker, log zerolog.Logger) (*Trigger, error) {
	log = log.With().Str("component", "trigger").Logger()
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})))
	if _, err := c.AddFunc(spec, func() { t.RunTick(ctx) }); err != nil {
		return nil, fmt.Errorf("tick schedule %q: %w", spec, err)
	}
	return &Trigger{c: c, log: log}, nil
}

func (t *Trigger) Start() {
	t.log.Info().Msg("dispatch trigger started")
	t.c.Start()
}

// Stop stops scheduling and returns a context that is done once the
// running tick, if any, has returned.
func (t *Trigger) Stop() context.Context {
	return t.c.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// AddFunc schedules an extra job on the same cron, e.g. the reminder run.
func (t *Trigger) AddFunc(spec string, fn func()) error {
	_, err := t.c.AddFunc(spec, fn)
	return err
}
