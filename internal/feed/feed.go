// Package feed broadcasts changes to an owner's scheduled messages so that
// other sessions of the same owner can refresh their item set.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type EventKind string

const (
	Created EventKind = "created"
	Updated EventKind = "updated"
	Status  EventKind = "status"
	Deleted EventKind = "deleted"
)

type Event struct {
	Owner  string    `json:"owner"`
	ItemID string    `json:"itemId"`
	Kind   EventKind `json:"kind"`
	// Origin identifies the publishing session so it can ignore its own events.
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

type Subscription interface {
	Close() error
}

type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, owner string, fn func(Event)) (Subscription, error)
}

type RedisFeed struct {
	rdb    *redis.Client
	logger logrus.FieldLogger
}

func NewRedisFeed(rdb *redis.Client, logger logrus.FieldLogger) *RedisFeed {
	return &RedisFeed{rdb: rdb, logger: logger}
}

func channel(owner string) string {
	return fmt.Sprintf("sched:%s:changes", owner)
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, channel(ev.Owner), b).Err()
}

// Subscribe calls fn for each event published for owner until the subscription is closed.
func (f *RedisFeed) Subscribe(ctx context.Context, owner string, fn func(Event)) (Subscription, error) {
	ps := f.rdb.Subscribe(ctx, channel(owner))

	// Wait for the subscription to be confirmed so no publish is missed afterwards.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	go func() {
		for m := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				f.logger.WithError(err).WithField("channel", m.Channel).Warn("Dropping malformed change event")
				continue
			}
			fn(ev)
		}
	}()

	return ps, nil
}
