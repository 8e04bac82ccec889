package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/scheduled-messaging/internal/feed"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/notify"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type registration struct {
	id      string
	fireAt  time.Time
	payload notify.Payload
}

// fakeNotifier records registrations and fires them on demand.
type fakeNotifier struct {
	mu       sync.Mutex
	cb       notify.Callback
	seq      notify.Handle
	active   map[notify.Handle]registration
	failWith error
	denied   bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{active: make(map[notify.Handle]registration)}
}

func (f *fakeNotifier) factory(cb notify.Callback) notify.Notifier {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return f
}

func (f *fakeNotifier) RequestPermission(context.Context) (bool, error) {
	return !f.denied, nil
}

func (f *fakeNotifier) Schedule(_ context.Context, id string, fireAt time.Time, p notify.Payload) (notify.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.seq++
	f.active[f.seq] = registration{id: id, fireAt: fireAt, payload: p}
	return f.seq, nil
}

func (f *fakeNotifier) Cancel(h notify.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, h)
}

// fire runs the active registration for id, if any.
func (f *fakeNotifier) fire(id string) bool {
	f.mu.Lock()
	var (
		found bool
		reg   registration
	)
	for h, r := range f.active {
		if r.id == id {
			found, reg = true, r
			delete(f.active, h)
			break
		}
	}
	cb := f.cb
	f.mu.Unlock()

	if !found {
		return false
	}
	cb(context.Background(), reg.payload)
	return true
}

func (f *fakeNotifier) registrationsFor(id string) []registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registration
	for _, r := range f.active {
		if r.id == id {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeNotifier) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type launch struct {
	recipient string
	body      string
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls []launch
	err   error
}

func (l *fakeLauncher) Open(_ context.Context, recipient, body string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, launch{recipient, body})
	return l.err
}

func (l *fakeLauncher) launches() []launch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launch(nil), l.calls...)
}

// flakyRepo injects failures in front of the in-memory repository.
type flakyRepo struct {
	*repo.MemoryMessageRepo

	mu        sync.Mutex
	insertErr error
	updateErr error
	listErr   error
	deleteErr error
}

func (r *flakyRepo) fail(insert, update, list, del error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertErr, r.updateErr, r.listErr, r.deleteErr = insert, update, list, del
}

func (r *flakyRepo) errs() (error, error, error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertErr, r.updateErr, r.listErr, r.deleteErr
}

func (r *flakyRepo) Insert(ctx context.Context, msgs []model.ScheduledMessage) error {
	if err, _, _, _ := r.errs(); err != nil {
		return err
	}
	return r.MemoryMessageRepo.Insert(ctx, msgs)
}

func (r *flakyRepo) Update(ctx context.Context, m model.ScheduledMessage) error {
	if _, err, _, _ := r.errs(); err != nil {
		return err
	}
	return r.MemoryMessageRepo.Update(ctx, m)
}

func (r *flakyRepo) UpdateStatus(ctx context.Context, owner, id string, s model.Status, at time.Time) error {
	if _, err, _, _ := r.errs(); err != nil {
		return err
	}
	return r.MemoryMessageRepo.UpdateStatus(ctx, owner, id, s, at)
}

func (r *flakyRepo) List(ctx context.Context, owner string, q repo.Query) ([]model.ScheduledMessage, error) {
	if _, _, err, _ := r.errs(); err != nil {
		return nil, err
	}
	return r.MemoryMessageRepo.List(ctx, owner, q)
}

func (r *flakyRepo) Delete(ctx context.Context, owner, id string) error {
	if _, _, _, err := r.errs(); err != nil {
		return err
	}
	return r.MemoryMessageRepo.Delete(ctx, owner, id)
}

type fakeFeed struct {
	mu        sync.Mutex
	published []feed.Event
	handlers  map[string][]func(feed.Event)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string][]func(feed.Event))}
}

func (f *fakeFeed) Publish(_ context.Context, ev feed.Event) error {
	f.mu.Lock()
	f.published = append(f.published, ev)
	hs := slices.Clone(f.handlers[ev.Owner])
	f.mu.Unlock()

	for _, h := range hs {
		// Delivered asynchronously like a real broker.
		go h(ev)
	}
	return nil
}

func (f *fakeFeed) Subscribe(_ context.Context, owner string, fn func(feed.Event)) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[owner] = append(f.handlers[owner], fn)
	return noopSub{}, nil
}

func (f *fakeFeed) events() []feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feed.Event(nil), f.published...)
}

type noopSub struct{}

func (noopSub) Close() error { return nil }

type env struct {
	repo     *flakyRepo
	notifier *fakeNotifier
	launcher *fakeLauncher
	feed     *fakeFeed
	clock    *clock
}

func (e *env) deps(n *fakeNotifier) Deps {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return Deps{
		Repo:     e.repo,
		Notifier: n.factory,
		Launcher: e.launcher,
		Feed:     e.feed,
		Logger:   logger,
	}
}

func newEnv() *env {
	return &env{
		repo:     &flakyRepo{MemoryMessageRepo: repo.NewMemoryMessageRepo()},
		notifier: newFakeNotifier(),
		launcher: &fakeLauncher{},
		feed:     newFakeFeed(),
		clock:    &clock{now: t0},
	}
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *env) {
	t.Helper()
	e := newEnv()
	m := e.manager(t, "alice", e.notifier, opts...)
	return m, e
}

func (e *env) manager(t *testing.T, owner string, n *fakeNotifier, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(e.clock.Now), WithSweepInterval(time.Hour)}, opts...)
	m, err := NewManager(owner, e.deps(n), opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}
