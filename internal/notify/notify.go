// Package notify schedules due-time triggers for scheduled messages.
//
// A Notifier fires at most once per registration. When it fires it presents
// the reminder through an Alerter and then invokes the callback it was built
// with, passing the registration payload verbatim.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

var ErrPermissionDenied = errors.New("notification permission denied")

// Payload carries everything needed to launch the message without a storage read.
type Payload struct {
	ItemID    string `json:"itemId"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

type Handle uint64

type Callback func(ctx context.Context, p Payload)

type Notifier interface {
	RequestPermission(ctx context.Context) (bool, error)
	Schedule(ctx context.Context, id string, fireAt time.Time, p Payload) (Handle, error)
	Cancel(h Handle)
}

// Factory builds a Notifier bound to a callback, one per session.
type Factory func(cb Callback) Notifier

type TimerNotifier struct {
	alerter Alerter
	onFire  Callback
	logger  logrus.FieldLogger

	mu         sync.Mutex
	seq        Handle
	timers     map[Handle]*time.Timer
	permission *bool
}

func NewTimerNotifier(alerter Alerter, onFire Callback, logger logrus.FieldLogger) *TimerNotifier {
	return &TimerNotifier{
		alerter: alerter,
		onFire:  onFire,
		logger:  logger,
		timers:  make(map[Handle]*time.Timer),
	}
}

func NewTimerFactory(alerter Alerter, logger logrus.FieldLogger) Factory {
	return func(cb Callback) Notifier {
		return NewTimerNotifier(alerter, cb, logger)
	}
}

// RequestPermission asks the alerter once and remembers a positive answer.
func (n *TimerNotifier) RequestPermission(ctx context.Context) (bool, error) {
	n.mu.Lock()
	if n.permission != nil && *n.permission {
		n.mu.Unlock()
		return true, nil
	}
	n.mu.Unlock()

	granted, err := n.alerter.Permission(ctx)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	n.permission = &granted
	n.mu.Unlock()
	return granted, nil
}

func (n *TimerNotifier) Schedule(ctx context.Context, id string, fireAt time.Time, p Payload) (Handle, error) {
	granted, err := n.RequestPermission(ctx)
	if err != nil {
		return 0, err
	}
	if !granted {
		return 0, ErrPermissionDenied
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	h := n.seq
	n.timers[h] = time.AfterFunc(delay, func() { n.fire(h, p) })

	n.logger.WithFields(logrus.Fields{
		"item_id": id,
		"fire_at": fireAt.UTC().Format(time.RFC3339),
		"handle":  h,
	}).Debug("Registered due-time trigger")

	return h, nil
}

func (n *TimerNotifier) Cancel(h Handle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.timers[h]; ok {
		t.Stop()
		delete(n.timers, h)
	}
}

// Close stops every outstanding timer.
func (n *TimerNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for h, t := range n.timers {
		t.Stop()
		delete(n.timers, h)
	}
}

// Pending returns the number of registrations that have not fired or been cancelled.
func (n *TimerNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

func (n *TimerNotifier) fire(h Handle, p Payload) {
	n.mu.Lock()
	if _, ok := n.timers[h]; !ok {
		n.mu.Unlock()
		return
	}
	delete(n.timers, h)
	n.mu.Unlock()

	ctx := context.Background()
	if err := n.alerter.Alert(ctx, p); err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"item_id":   p.ItemID,
			"recipient": model.MaskPhone(p.Recipient),
		}).Warn("Failed to present reminder")
	}

	if n.onFire != nil {
		n.onFire(ctx, p)
	}
}
