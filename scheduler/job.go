// Package scheduler sends the follow-up emails that are due today.
//
// A run takes one snapshot of "today", loads the due set once, and then
// handles each client on its own: a failed send is recorded on the client and
// the run moves on. Only store failures end a run early.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"followmail/mailer"
	"followmail/metrics"
	"followmail/models"
	"followmail/storage"
	"followmail/utils"
)

// LockKey names the run lock shared by every scheduler process
const LockKey = "followmail:scheduler:run"

// Store is the part of storage.ClientStorage the job uses.
type Store interface {
	ListDueClients(ctx context.Context, today time.Time) ([]models.DueClient, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, message string) error
}

// Sender is implemented by *mailer.Sender.
type Sender interface {
	SendFollowup(ctx context.Context, user *models.User, client *models.Client) error
}

// Result summarises one run
type Result struct {
	Today   time.Time
	Due     int
	Sent    int
	Failed  int
	Skipped bool // another run held the lock
}

// Job is one scheduler run configuration
type Job struct {
	store   Store
	sender  Sender
	now     func() time.Time
	loc     *time.Location
	locker  Locker
	lockTTL time.Duration
	log     *utils.Logger
}

// Option configures a Job
type Option func(*Job)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// WithLocation sets the zone in which "today" is computed.
func WithLocation(loc *time.Location) Option {
	return func(j *Job) {
		if loc != nil {
			j.loc = loc
		}
	}
}

// WithLocker guards runs with locker; ttl bounds how long a crashed run holds it.
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(j *Job) {
		if locker != nil {
			j.locker = locker
		}
		if ttl > 0 {
			j.lockTTL = ttl
		}
	}
}

// WithLogger sets the logger; utils.Log is used otherwise.
func WithLogger(l *utils.Logger) Option {
	return func(j *Job) { j.log = l }
}

// New creates a Job.
func New(store Store, sender Sender, opts ...Option) *Job {
	j := &Job{
		store:   store,
		sender:  sender,
		now:     time.Now,
		loc:     time.Local,
		locker:  NoopLocker{},
		lockTTL: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.log == nil {
		j.log = utils.Log
	}
	return j
}

// Run processes every client due today. Per-client send failures are recorded
// and never returned; the returned error is always a lock or store failure.
func (j *Job) Run(ctx context.Context) (Result, error) {
	res := Result{Today: models.Today(j.now(), j.loc)}
	log := j.log.WithField("today", res.Today.Format(models.DateLayout))

	release, acquired, err := j.locker.Acquire(ctx, LockKey, j.lockTTL)
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		res.Skipped = true
		metrics.SchedulerRuns.WithLabelValues("skipped").Inc()
		log.Info("Another scheduler run holds the lock, skipping")
		return res, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release run lock: %v", err)
		}
	}()

	// A started batch runs to completion; each send is bounded by the mailer timeout.
	ctx = context.WithoutCancel(ctx)

	due, err := j.store.ListDueClients(ctx, res.Today)
	if err != nil {
		metrics.SchedulerRuns.WithLabelValues("error").Inc()
		return res, fmt.Errorf("list due clients: %w", err)
	}
	res.Due = len(due)
	log.Info("Found %d due clients", res.Due)

	for _, dc := range due {
		if !models.IsDue(dc.User, dc.Client, res.Today) {
			log.Warn("Skipping client %s: not due on this run", clientID(dc))
			continue
		}

		sent, err := j.process(ctx, log, dc)
		if err != nil {
			metrics.SchedulerRuns.WithLabelValues("error").Inc()
			return res, err
		}
		if sent {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	result := "ok"
	if res.Failed > 0 {
		result = "partial"
	}
	metrics.SchedulerRuns.WithLabelValues(result).Inc()
	log.Info("Scheduler run finished: %d sent, %d failed", res.Sent, res.Failed)
	return res, nil
}

// process sends one follow-up and commits its outcome. It returns an error
// only when the outcome could not be stored.
func (j *Job) process(ctx context.Context, log *utils.Logger, dc models.DueClient) (bool, error) {
	client := dc.Client
	log = log.WithFields(map[string]interface{}{"client": client.ID, "user": dc.User.ID})

	if sendErr := j.send(ctx, dc); sendErr != nil {
		metrics.FollowupsFailed.WithLabelValues(mailer.ErrorCode(sendErr)).Inc()
		log.Warn("Follow-up to %s failed: %v", client.Email, sendErr)

		if err := j.store.RecordFailure(ctx, client.ID, sendErr.Error()); err != nil {
			return false, fmt.Errorf("record failure for client %s: %w", client.ID, err)
		}
		client.AttemptCount++
		client.LastError = sendErr.Error()
		return false, nil
	}

	sentAt := j.now().UTC()
	if err := j.store.MarkSent(ctx, client.ID, sentAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("Client %s was already marked sent", client.ID)
			return true, nil
		}
		return false, fmt.Errorf("mark client %s sent: %w", client.ID, err)
	}
	client.Sent = true
	client.SentAt = &sentAt

	metrics.FollowupsSent.Inc()
	log.Info("Follow-up sent to %s", client.Email)
	return true, nil
}

func (j *Job) send(ctx context.Context, dc models.DueClient) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while sending: %v", r)
		}
	}()
	return j.sender.SendFollowup(ctx, dc.User, dc.Client)
}

func clientID(dc models.DueClient) string {
	if dc.Client == nil {
		return "<nil>"
	}
	return dc.Client.ID
}
