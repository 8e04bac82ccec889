// Package service holds the scheduled message lifecycle: one Manager per
// signed-in owner, created and torn down through Sessions.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/cache"
	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
	"github.com/LeventeLantos/scheduled-messaging/internal/feed"
	"github.com/LeventeLantos/scheduled-messaging/internal/launcher"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/notify"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
	"github.com/LeventeLantos/scheduled-messaging/internal/scheduler"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultHistoryLimit  = 50
)

// Deps are the collaborators shared by every Manager. Cache and Feed are optional.
type Deps struct {
	Repo     repo.MessageRepository
	Notifier notify.Factory
	Launcher launcher.Launcher
	Cache    cache.MessageCache
	Feed     feed.Feed
	Logger   logrus.FieldLogger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithFailedOnLaunchError marks items failed instead of sent when the launcher errors.
func WithFailedOnLaunchError(on bool) Option {
	return func(m *Manager) { m.failOnLaunchError = on }
}

type ScheduleRequest struct {
	Recipients  []string
	Body        string
	DueAt       time.Time
	Attachments []model.Attachment
}

// EditRequest rewrites a pending item. Nil fields are left unchanged.
type EditRequest struct {
	Recipient *string
	Body      *string
	DueAt     time.Time
}

type ListQuery struct {
	Status model.Status
	Limit  int
	Offset int
}

type Manager struct {
	owner  string
	origin string

	repo     repo.MessageRepository
	notifier notify.Notifier
	launcher launcher.Launcher
	cache    cache.MessageCache
	feed     feed.Feed
	logger   *logrus.Entry

	now               func() time.Time
	sweepInterval     time.Duration
	failOnLaunchError bool

	mu       sync.Mutex
	items    map[string]model.ScheduledMessage
	triggers map[string]notify.Handle
	sweep    *scheduler.Scheduler
	sub      feed.Subscription
	closed   bool
}

func errClosed() error {
	return apperrors.New(apperrors.ErrCodeInvalidState, "session is signed out")
}

func NewManager(owner string, deps Deps, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, apperrors.NewValidationError("owner", "cannot be empty")
	}
	if deps.Repo == nil || deps.Notifier == nil || deps.Launcher == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "manager requires a repository, notifier and launcher")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Manager{
		owner:         owner,
		origin:        uuid.NewString(),
		repo:          deps.Repo,
		launcher:      deps.Launcher,
		cache:         deps.Cache,
		feed:          deps.Feed,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		items:         make(map[string]model.ScheduledMessage),
		triggers:      make(map[string]notify.Handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.WithFields(logrus.Fields{"owner": owner, "session": m.origin})
	m.notifier = deps.Notifier(m.onTrigger)

	sweep, err := scheduler.New(m.sweepInterval, m.sweepTick, scheduler.WithLogger(m.logger))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "invalid sweep configuration")
	}
	m.sweep = sweep

	return m, nil
}

func (m *Manager) Owner() string { return m.owner }

// Start loads the owner's items, follows the change feed and starts the sweep.
// A returned warning leaves the Manager usable.
func (m *Manager) Start(ctx context.Context) error {
	err := m.Load(ctx)
	if err != nil && !apperrors.IsWarning(err) {
		return err
	}

	if m.feed != nil {
		sub, subErr := m.feed.Subscribe(ctx, m.owner, m.onChange)
		if subErr != nil {
			apperrors.Entry(m.logger, subErr).Warn("Change feed unavailable, relying on sweep refresh")
		} else {
			m.mu.Lock()
			m.sub = sub
			m.mu.Unlock()
		}
	}

	m.sweep.Start()
	return err
}

// Close stops the sweep, unsubscribes and cancels every registered trigger.
// A closed Manager rejects mutations and ignores late triggers and feed events.
func (m *Manager) Close() {
	m.sweep.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	if m.sub != nil {
		if err := m.sub.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close change feed subscription")
		}
		m.sub = nil
	}
	for id := range m.triggers {
		m.cancelTriggerLocked(id)
	}
	if c, ok := m.notifier.(interface{ Close() }); ok {
		c.Close()
	}
}

func (m *Manager) Schedule(ctx context.Context, req ScheduleRequest) ([]model.ScheduledMessage, error) {
	recipients := model.Recipients(req.Recipients).Normalized()
	if len(recipients) == 0 {
		return nil, apperrors.NewValidationError("recipients", "at least one recipient is required")
	}
	for _, r := range recipients {
		if r == "" {
			return nil, apperrors.NewValidationError("recipients", "recipient cannot be blank")
		}
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperrors.NewValidationError("body", "cannot be empty")
	}

	now := m.now()
	if !req.DueAt.After(now) {
		return nil, apperrors.NewValidationError("dueAt", "must be in the future")
	}

	items := make([]model.ScheduledMessage, 0, len(recipients))
	for _, r := range recipients {
		items = append(items, model.ScheduledMessage{
			ID:          uuid.NewString(),
			Owner:       m.owner,
			Recipient:   r,
			Body:        req.Body,
			DueAt:       req.DueAt.UTC(),
			Status:      model.Pending,
			Attachments: append([]model.Attachment(nil), req.Attachments...),
			CreatedAt:   now.UTC(),
			UpdatedAt:   now.UTC(),
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errClosed()
	}
	if err := m.repo.Insert(ctx, items); err != nil {
		return nil, apperrors.NewPersistenceError("insert", err)
	}

	var warnings []error
	for _, it := range items {
		m.items[it.ID] = it
		if err := m.registerLocked(ctx, it); err != nil {
			warnings = append(warnings, err)
		}
		m.publish(ctx, feed.Created, it.ID)
	}

	m.logger.WithFields(logrus.Fields{
		"count":  len(items),
		"due_at": req.DueAt.UTC().Format(time.RFC3339),
	}).Info("Scheduled messages")

	return items, apperrors.Join(warnings...)
}

func (m *Manager) Edit(ctx context.Context, id string, req EditRequest) (model.ScheduledMessage, error) {
	var recipient string
	if req.Recipient != nil {
		r, err := singleRecipient(*req.Recipient)
		if err != nil {
			return model.ScheduledMessage{}, err
		}
		recipient = r
	}
	if req.Body != nil && strings.TrimSpace(*req.Body) == "" {
		return model.ScheduledMessage{}, apperrors.NewValidationError("body", "cannot be empty")
	}

	now := m.now()
	if !req.DueAt.After(now) {
		return model.ScheduledMessage{}, apperrors.NewValidationError("dueAt", "must be in the future")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return model.ScheduledMessage{}, errClosed()
	}
	cur, ok := m.items[id]
	if !ok {
		return model.ScheduledMessage{}, apperrors.NewNotFoundError("scheduled message", id)
	}
	if cur.Status != model.Pending {
		return model.ScheduledMessage{}, apperrors.NewInvalidStateError(id, string(cur.Status))
	}

	next := cur
	if req.Recipient != nil {
		next.Recipient = recipient
	}
	if req.Body != nil {
		next.Body = *req.Body
	}
	next.DueAt = req.DueAt.UTC()
	next.UpdatedAt = now.UTC()

	if err := m.repo.Update(ctx, next); err != nil {
		return model.ScheduledMessage{}, m.resolveWriteErrorLocked(ctx, id, "update", err)
	}

	m.items[id] = next
	warn := m.registerLocked(ctx, next)
	m.publish(ctx, feed.Updated, id)

	return next, warn
}

// MarkDue launches a pending item and marks it sent. Any other state or an
// unknown id is a no-op.
func (m *Manager) MarkDue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if m.closed || !ok || it.Status != model.Pending {
		return nil
	}
	return m.deliverLocked(ctx, it, it.Recipient, it.Body)
}

// SendNow launches an item regardless of its due time. A sent item is
// launched again without changing its state.
func (m *Manager) SendNow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	it, ok := m.items[id]
	if !ok {
		return apperrors.NewNotFoundError("scheduled message", id)
	}

	switch it.Status {
	case model.Pending:
		return m.deliverLocked(ctx, it, it.Recipient, it.Body)
	case model.Sent:
		if err := m.launcher.Open(ctx, it.Recipient, it.Body); err != nil {
			warn := apperrors.NewLauncherError(id, err)
			apperrors.Entry(m.logger, warn).Warn("Relaunch failed")
			return warn
		}
		return nil
	default:
		return apperrors.NewInvalidStateError(id, string(it.Status))
	}
}

// Cancel moves a pending item to cancelled. Any other state or an unknown id is
// a no-op. An id missing from the item set is still cancelled in storage.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	it, ok := m.items[id]
	if ok && it.Status != model.Pending {
		return nil
	}

	now := m.now().UTC()
	if err := m.repo.UpdateStatus(ctx, m.owner, id, model.Cancelled, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrStatusConflict) {
			if ok {
				_ = m.resolveWriteErrorLocked(ctx, id, "cancel", err)
			}
			return nil
		}
		return apperrors.NewPersistenceError("cancel", err)
	}

	if !ok {
		m.publish(ctx, feed.Status, id)
		m.refreshLocked(ctx)
		return nil
	}

	it.Status = model.Cancelled
	it.UpdatedAt = now
	m.items[id] = it
	m.cancelTriggerLocked(id)
	m.publish(ctx, feed.Status, id)
	return nil
}

// Delete removes an item in any state, including rows not yet in the item set.
// An unknown id is a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed()
	}
	_, ok := m.items[id]

	err := m.repo.Delete(ctx, m.owner, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if !ok {
			return nil
		}
	case err != nil:
		return apperrors.NewPersistenceError("delete", err)
	}

	delete(m.items, id)
	m.cancelTriggerLocked(id)
	m.publish(ctx, feed.Deleted, id)
	return nil
}

func (m *Manager) Get(id string) (model.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[id]
	if !ok {
		return model.ScheduledMessage{}, apperrors.NewNotFoundError("scheduled message", id)
	}
	return it, nil
}

// List returns the owner's items ordered by due time.
func (m *Manager) List(q ListQuery) ([]model.ScheduledMessage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown status "+string(q.Status))
	}

	m.mu.Lock()
	out := make([]model.ScheduledMessage, 0, len(m.items))
	for _, it := range m.items {
		if q.Status == "" || it.Status == q.Status {
			out = append(out, it)
		}
	}
	m.mu.Unlock()

	sortByDue(out)
	return page(out, q.Limit, q.Offset), nil
}

// ListSent returns sent items from storage, most recently sent first.
func (m *Manager) ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	out, err := m.repo.List(ctx, m.owner, repo.Query{
		Status: model.Sent,
		Order:  repo.ByUpdatedDesc,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("list sent", err)
	}
	return out, nil
}

// SentAt reports when an item was handed to the launcher.
func (m *Manager) SentAt(ctx context.Context, id string) (time.Time, bool) {
	it, err := m.Get(id)
	if err != nil || it.Status != model.Sent {
		return time.Time{}, false
	}

	if m.cache != nil {
		at, ok, err := m.cache.SentAt(ctx, m.owner, id)
		if err != nil {
			m.logger.WithError(err).WithField("item_id", id).Debug("Sent cache lookup failed")
		} else if ok {
			return at, true
		}
	}
	return it.UpdatedAt, true
}

func (m *Manager) RequestPermission(ctx context.Context) (bool, error) {
	return m.notifier.RequestPermission(ctx)
}

// Load replaces the item set with the owner's stored items and reconciles
// registered triggers with it.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if m.closed {
		return errClosed()
	}
	rows, err := m.repo.List(ctx, m.owner, repo.Query{Order: repo.ByDueAt})
	if err != nil {
		return apperrors.NewPersistenceError("load", err)
	}

	fresh := make(map[string]model.ScheduledMessage, len(rows))
	for _, r := range rows {
		fresh[r.ID] = r
	}

	for id := range m.triggers {
		it, ok := fresh[id]
		if !ok || it.Status != model.Pending || triggerChanged(m.items[id], it) {
			m.cancelTriggerLocked(id)
		}
	}
	m.items = fresh

	var warnings []error
	for _, it := range rows {
		if it.Status != model.Pending {
			continue
		}
		if _, ok := m.triggers[it.ID]; ok {
			continue
		}
		if err := m.registerLocked(ctx, it); err != nil {
			warnings = append(warnings, err)
		}
	}
	return apperrors.Join(warnings...)
}

// refreshLocked reloads after a write to a row the item set did not hold.
func (m *Manager) refreshLocked(ctx context.Context) {
	if err := m.loadLocked(ctx); err != nil && !apperrors.IsWarning(err) {
		apperrors.Entry(m.logger, err).Warn("Failed to refresh after write")
	}
}

// singleRecipient parses raw the way Schedule does and requires exactly one entry.
func singleRecipient(raw string) (string, error) {
	list := model.ParseRecipients(raw).Normalized()
	switch {
	case len(list) == 0 || list[0] == "":
		return "", apperrors.NewValidationError("recipient", "cannot be blank")
	case len(list) > 1:
		return "", apperrors.NewValidationError("recipient", "an edit targets exactly one recipient")
	}
	return list[0], nil
}

func triggerChanged(old, cur model.ScheduledMessage) bool {
	return !old.DueAt.Equal(cur.DueAt) || old.Recipient != cur.Recipient || old.Body != cur.Body
}

// Sweep refreshes from storage and launches every due item. If storage cannot
// be read the current item set is swept instead.
func (m *Manager) Sweep(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if err := m.loadLocked(ctx); err != nil && !apperrors.IsWarning(err) {
		apperrors.Entry(m.logger, err).Warn("Sweep refresh failed, using current item set")
	}

	items := make([]model.ScheduledMessage, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it)
	}

	var errs []error
	for _, it := range DueSweep(m.now(), items) {
		if err := m.deliverLocked(ctx, it, it.Recipient, it.Body); err != nil {
			errs = append(errs, err)
		}
	}
	return apperrors.Join(errs...)
}

func (m *Manager) StartSweep() bool { return m.sweep.Start() }

func (m *Manager) StopSweep() bool { return m.sweep.Stop() }

func (m *Manager) SweepRunning() bool { return m.sweep.IsRunning() }

func (m *Manager) SweepStatus() scheduler.Status { return m.sweep.Status() }

func (m *Manager) sweepTick(ctx context.Context) {
	if err := m.Sweep(ctx); err != nil && !apperrors.IsWarning(err) {
		apperrors.Entry(m.logger, err).Error("Sweep failed")
	}
}

// onTrigger is the notifier callback. It launches from the payload without
// reading storage.
func (m *Manager) onTrigger(ctx context.Context, p notify.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[p.ItemID]
	if m.closed || !ok || it.Status != model.Pending {
		return
	}
	// Rescheduled after this trigger was armed; the newer trigger owns it.
	if it.DueAt.After(m.now()) {
		return
	}
	if err := m.deliverLocked(ctx, it, p.Recipient, p.Body); err != nil && !apperrors.IsWarning(err) {
		apperrors.Entry(m.logger, err).Error("Failed to mark triggered message as sent")
	}
}

func (m *Manager) onChange(ev feed.Event) {
	if ev.Origin == m.origin {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if err := m.loadLocked(context.Background()); err != nil && !apperrors.IsWarning(err) {
		apperrors.Entry(m.logger, err).Warn("Failed to refresh after remote change")
	}
}

// deliverLocked opens the launcher then records the transition. A launcher
// failure is returned as a warning after the transition is stored.
func (m *Manager) deliverLocked(ctx context.Context, it model.ScheduledMessage, recipient, body string) error {
	log := m.logger.WithFields(logrus.Fields{
		"item_id":   it.ID,
		"recipient": model.MaskPhone(recipient),
	})

	launchErr := m.launcher.Open(ctx, recipient, body)

	next := model.Sent
	if launchErr != nil && m.failOnLaunchError {
		next = model.Failed
	}

	now := m.now().UTC()
	if err := m.repo.UpdateStatus(ctx, m.owner, it.ID, next, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrStatusConflict) {
			_ = m.resolveWriteErrorLocked(ctx, it.ID, "mark sent", err)
			return nil
		}
		return apperrors.NewPersistenceError("mark sent", err)
	}

	it.Status = next
	it.UpdatedAt = now
	m.items[it.ID] = it
	m.cancelTriggerLocked(it.ID)

	if next == model.Sent && m.cache != nil {
		if err := m.cache.StoreSent(ctx, m.owner, it.ID, now); err != nil {
			log.WithError(err).Warn("Failed to record sent message in cache")
		}
	}
	m.publish(ctx, feed.Status, it.ID)

	if launchErr != nil {
		warn := apperrors.NewLauncherError(it.ID, launchErr)
		apperrors.Entry(log, warn).Warn("Launcher failed")
		return warn
	}

	log.WithField("status", next).Info("Scheduled message launched")
	return nil
}

// resolveWriteErrorLocked handles a write rejected because the row changed
// elsewhere: the row is re-read so the item set matches storage.
func (m *Manager) resolveWriteErrorLocked(ctx context.Context, id, op string, err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		delete(m.items, id)
		m.cancelTriggerLocked(id)
		return apperrors.NewNotFoundError("scheduled message", id)
	case errors.Is(err, repo.ErrStatusConflict):
		if loadErr := m.loadLocked(ctx); loadErr != nil && !apperrors.IsWarning(loadErr) {
			apperrors.Entry(m.logger, loadErr).Warn("Failed to reload after conflicting write")
		}
		status := "unknown"
		if it, ok := m.items[id]; ok {
			status = string(it.Status)
		}
		return apperrors.NewInvalidStateError(id, status)
	default:
		return apperrors.NewPersistenceError(op, err)
	}
}

// registerLocked replaces any trigger for it with one at it.DueAt.
func (m *Manager) registerLocked(ctx context.Context, it model.ScheduledMessage) error {
	m.cancelTriggerLocked(it.ID)

	h, err := m.notifier.Schedule(ctx, it.ID, it.DueAt, notify.Payload{
		ItemID:    it.ID,
		Recipient: it.Recipient,
		Body:      it.Body,
	})
	if err != nil {
		warn := apperrors.NewNotificationError(it.ID, err)
		apperrors.Entry(m.logger, warn).Warn("Trigger registration failed, sweep will cover it")
		return warn
	}
	m.triggers[it.ID] = h
	return nil
}

func (m *Manager) cancelTriggerLocked(id string) {
	if h, ok := m.triggers[id]; ok {
		m.notifier.Cancel(h)
		delete(m.triggers, id)
	}
}

func (m *Manager) publish(ctx context.Context, kind feed.EventKind, id string) {
	if m.feed == nil {
		return
	}
	err := m.feed.Publish(ctx, feed.Event{
		Owner:  m.owner,
		ItemID: id,
		Kind:   kind,
		Origin: m.origin,
		At:     m.now().UTC(),
	})
	if err != nil {
		m.logger.WithError(err).WithField("item_id", id).Warn("Failed to publish change")
	}
}

func page(items []model.ScheduledMessage, limit, offset int) []model.ScheduledMessage {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []model.ScheduledMessage{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
