package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "tabsleep/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start begins cron-driven ticking. Ticks run with a context derived from
// ctx; a tick still running when the next one is due is skipped.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		return nil
	}
	sched, err := parser.Parse(l.spec.Cron)
	if err != nil {
		return fmt.Errorf("scheduler: parse tick %q: %w", l.spec.Cron, err)
	}

	clog := cronLogger{log: l.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	tctx, cancel := context.WithCancel(ctx)
	c.Schedule(sched, cron.FuncJob(func() { l.Tick(tctx) }))
	c.Start()

	l.c, l.cancel = c, cancel
	l.log.Info("scheduler started", logx.String("tick", l.spec.Cron), logx.Time("next", sched.Next(time.Now())))
	return nil
}

// Stop halts ticking and waits for an in-flight tick, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	c, cancel := l.c, l.cancel
	l.c, l.cancel = nil, nil
	l.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	done := c.Stop().Done()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
	l.log.Info("scheduler stopped", logx.Uint64("ticks", l.Ticks()), logx.Duration("took", time.Since(start)))
}

// Run starts the loop and blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.Stop(stopCtx)
	return nil
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !c.log.Enabled(logx.LevelTrace) {
		return
	}
	c.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Warn("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
