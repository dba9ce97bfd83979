package scheduler

import (
	"context"
	"fmt"
	"time"

	"followmail/utils"

	"github.com/robfig/cron/v3"
)

// Cron runs a Job on a cron schedule inside the web process.
type Cron struct {
	c *cron.Cron
}

// NewCron schedules job at spec (standard five-field syntax or a descriptor
// such as "@daily") in loc. A run still in progress when the next one is due
// makes the next one a no-op.
func NewCron(ctx context.Context, spec string, loc *time.Location, job *Job) (*Cron, error) {
	logger := cronLogger{log: utils.Log.WithField("component", "cron")}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := job.Run(ctx); err != nil {
			utils.Log.Error("Scheduled run failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler cron %q: %w", spec, err)
	}
	return &Cron{c: c}, nil
}

// Start begins firing in the background.
func (c *Cron) Start() {
	c.c.Start()
}

// Stop prevents new runs and returns a context done once the current run ends.
func (c *Cron) Stop() context.Context {
	return c.c.Stop()
}

// cronLogger adapts utils.Logger to cron.Logger
type cronLogger struct {
	log *utils.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvMap(keysAndValues)).Debug("%s", msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvMap(keysAndValues)).Error("%s: %v", msg, err)
}

func kvMap(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return m
}
