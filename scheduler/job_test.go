package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"followmail/mailer"
	"followmail/metrics"
	"followmail/models"
	"followmail/storage"
	"followmail/utils"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	runDay = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	runAt  = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
)

// fakeStore mimics storage.ClientStorage over in-memory records.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	clients   []*models.Client
	listErr   error
	recordErr error
	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*models.User{}}
}

func (s *fakeStore) addUser(id string, verified bool) *models.User {
	u := &models.User{
		ID: id, Email: id + "@example.com",
		SMTPEmail: id + "@example.com", SMTPHost: "smtp.example.com", SMTPPort: 587,
		SMTPPassword: "enc", SMTPVerified: verified,
	}
	s.users[id] = u
	return u
}

func (s *fakeStore) addClient(id, userID, name string, date time.Time) *models.Client {
	c := &models.Client{ID: id, UserID: userID, Name: name, Email: name + "@example.com", FollowupDate: date}
	s.clients = append(s.clients, c)
	return c
}

func (s *fakeStore) ListDueClients(_ context.Context, today time.Time) ([]models.DueClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}

	var due []models.DueClient
	for _, c := range s.clients {
		u := s.users[c.UserID]
		if models.IsDue(u, c, today) {
			uc, cc := *u, *c
			due = append(due, models.DueClient{User: &uc, Client: &cc})
		}
	}
	return due, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(id)
	if c == nil || c.Sent {
		return storage.ErrNotFound
	}
	c.Sent = true
	c.SentAt = &at
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	c := s.find(id)
	if c == nil {
		return storage.ErrNotFound
	}
	c.AttemptCount++
	c.LastError = message
	return nil
}

func (s *fakeStore) find(id string) *models.Client {
	for _, c := range s.clients {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// fakeSender fails for recipients listed in errs.
type fakeSender struct {
	mu   sync.Mutex
	errs map[string]error
	sent []string
	all  []string
}

func (f *fakeSender) SendFollowup(_ context.Context, _ *models.User, c *models.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, c.Email)
	if err := f.errs[c.Email]; err != nil {
		return err
	}
	f.sent = append(f.sent, c.Email)
	return nil
}

func timeoutSendErr() error {
	return &mailer.SendError{
		Op: "send", Code: "timeout", Temporary: true,
		Err: errors.New("dial tcp 10.0.0.9:587: i/o timeout"),
	}
}

func newTestJob(store Store, sender Sender, opts ...Option) *Job {
	core, _ := observer.New(zapcore.DebugLevel)
	base := []Option{
		WithClock(func() time.Time { return runAt }),
		WithLocation(time.UTC),
		WithLogger(utils.NewLoggerFromCore(core, utils.DEBUG)),
	}
	return New(store, sender, append(base, opts...)...)
}

func TestRun_SendsDueClientOnce(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	bob := store.addClient("c-bob", "alice", "bob", runDay)
	sender := &fakeSender{}
	job := newTestJob(store, sender)

	res, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Today: runDay, Due: 1, Sent: 1}, res)
	assert.Equal(t, []string{"bob@example.com"}, sender.sent)
	assert.True(t, bob.Sent)
	require.NotNil(t, bob.SentAt)
	assert.Equal(t, runAt, *bob.SentAt)

	res, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Zero(t, res.Sent)
	assert.Len(t, sender.all, 1, "second run must not send again")
}

func TestRun_UnverifiedOwnerIsNotSelected(t *testing.T) {
	store := newFakeStore()
	store.addUser("brenda", false)
	carol := store.addClient("c-carol", "brenda", "carol", runDay)
	sender := &fakeSender{}

	res, err := newTestJob(store, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Empty(t, sender.all)
	assert.False(t, carol.Sent)
	assert.Zero(t, carol.AttemptCount)
}

func TestRun_FailureIsRecordedAndRunContinues(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	dan := store.addClient("c-dan", "alice", "dan", runDay)
	eve := store.addClient("c-eve", "alice", "eve", runDay)
	sender := &fakeSender{errs: map[string]error{"dan@example.com": timeoutSendErr()}}

	before := testutil.ToFloat64(metrics.FollowupsFailed.WithLabelValues("timeout"))

	res, err := newTestJob(store, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)

	assert.False(t, dan.Sent)
	assert.Equal(t, 1, dan.AttemptCount)
	assert.Contains(t, dan.LastError, "timeout")
	assert.True(t, eve.Sent)
	assert.Len(t, sender.all, 2)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FollowupsFailed.WithLabelValues("timeout")))
}

func TestRun_NClientsMFailures(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	store.addUser("zed", true)

	errs := map[string]error{}
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, n := range names {
		owner := "alice"
		if i%2 == 1 {
			owner = "zed"
		}
		store.addClient("c-"+n, owner, n, runDay)
		if i%3 == 0 {
			errs[n+"@example.com"] = errors.New("535 authentication failed")
		}
	}
	sender := &fakeSender{errs: errs}

	res, err := newTestJob(store, sender).Run(context.Background())
	require.NoError(t, err)

	n, m := len(names), len(errs)
	assert.Equal(t, n, res.Due)
	assert.Equal(t, n-m, res.Sent)
	assert.Equal(t, m, res.Failed)
	assert.Len(t, sender.all, n)

	sent, failed := 0, 0
	for _, c := range store.clients {
		if c.Sent {
			sent++
			assert.Zero(t, c.AttemptCount)
		} else {
			failed++
			assert.Equal(t, 1, c.AttemptCount)
			assert.NotEmpty(t, c.LastError)
		}
	}
	assert.Equal(t, n-m, sent)
	assert.Equal(t, m, failed)
}

func TestRun_OnlyTodaysUnsentClients(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	store.addClient("c-past", "alice", "past", runDay.AddDate(0, 0, -1))
	store.addClient("c-future", "alice", "future", runDay.AddDate(0, 0, 1))
	done := store.addClient("c-done", "alice", "done", runDay)
	done.Sent = true
	sender := &fakeSender{}

	res, err := newTestJob(store, sender).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Empty(t, sender.all)
}

func TestRun_TodayIsSnapshottedOnce(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	first := store.addClient("c-1", "alice", "first", runDay)
	second := store.addClient("c-2", "alice", "second", runDay)

	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return runDay.Add(24*time.Hour - time.Second)
		}
		return runDay.Add(24*time.Hour + time.Second)
	}

	res, err := newTestJob(store, &fakeSender{}, WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runDay, res.Today)
	assert.Equal(t, 2, res.Sent)
	assert.True(t, first.Sent)
	assert.True(t, second.Sent)
}

func TestRun_TodayUsesConfiguredLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	store := newFakeStore()
	store.addUser("alice", true)
	store.addClient("c-1", "alice", "early", runDay.AddDate(0, 0, 1))

	// 20:00 UTC on the 19th is already the 20th in Tokyo.
	clock := func() time.Time { return runDay.Add(20 * time.Hour) }

	res, err := newTestJob(store, &fakeSender{}, WithClock(clock), WithLocation(tokyo)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runDay.AddDate(0, 0, 1), res.Today)
	assert.Equal(t, 1, res.Sent)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	_, err := newTestJob(store, &fakeSender{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRun_RecordFailureErrorHaltsRun(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	store.addClient("c-1", "alice", "dan", runDay)
	store.recordErr = errors.New("db down")
	sender := &fakeSender{errs: map[string]error{"dan@example.com": timeoutSendErr()}}

	_, err := newTestJob(store, sender).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

type panicSender struct{}

func (panicSender) SendFollowup(context.Context, *models.User, *models.Client) error {
	panic("relay exploded")
}

func TestRun_PanicInSenderIsRecorded(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	c := store.addClient("c-1", "alice", "bob", runDay)

	res, err := newTestJob(store, panicSender{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, c.LastError, "relay exploded")
}

func TestRun_CanceledContextStillFinishesBatch(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	c := store.addClient("c-1", "alice", "bob", runDay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestJob(store, &fakeSender{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, c.Sent)
}

func TestRun_LogsFailures(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	store.addClient("c-dan", "alice", "dan", runDay)
	sender := &fakeSender{errs: map[string]error{"dan@example.com": timeoutSendErr()}}

	core, logs := observer.New(zapcore.DebugLevel)
	job := newTestJob(store, sender, WithLogger(utils.NewLoggerFromCore(core, utils.DEBUG)))

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "dan@example.com")
	assert.Equal(t, "c-dan", warnings[0].ContextMap()["client"])
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice", true)
	store.addClient("c-1", "alice", "bob", runDay)
	sender := &fakeSender{}

	res, err := newTestJob(store, sender, WithLocker(busyLocker{}, time.Minute)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, store.listCalls)
	assert.Empty(t, sender.all)
}
