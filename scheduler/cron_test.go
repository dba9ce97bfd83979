package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCron_RejectsBadSpec(t *testing.T) {
	_, err := NewCron(context.Background(), "not a schedule", time.UTC, newTestJob(newFakeStore(), &fakeSender{}))
	assert.Error(t, err)
}

func TestNewCron_StartStop(t *testing.T) {
	c, err := NewCron(context.Background(), "@daily", time.UTC, newTestJob(newFakeStore(), &fakeSender{}))
	require.NoError(t, err)

	c.Start()
	select {
	case <-c.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("cron did not stop")
	}
}

func TestCronLogger(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"now": 1, "entry": "x"}, kvMap([]interface{}{"now", 1, "entry", "x", "dangling"}))

	l := cronLogger{log: newTestJob(newFakeStore(), &fakeSender{}).log}
	l.Info("wake", "now", time.Now())
	l.Error(errors.New("boom"), "panic", "stack", "...")
}
