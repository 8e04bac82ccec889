package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

var ErrNotFound = errors.New("scheduled message not found")

// ErrStatusConflict is returned when a row exists but is no longer pending.
var ErrStatusConflict = errors.New("scheduled message is no longer pending")

type Order int

const (
	// ByDueAt orders ascending by due time, then id.
	ByDueAt Order = iota
	// ByUpdatedDesc orders most recently updated first.
	ByUpdatedDesc
)

// Query filters a List call. A zero Status matches every status; Limit <= 0 means no limit.
type Query struct {
	Status model.Status
	Order  Order
	Limit  int
	Offset int
}

// MessageRepository persists scheduled messages. Every call is scoped to one owner.
type MessageRepository interface {
	Insert(ctx context.Context, msgs []model.ScheduledMessage) error
	Update(ctx context.Context, msg model.ScheduledMessage) error
	UpdateStatus(ctx context.Context, owner, id string, status model.Status, at time.Time) error
	Delete(ctx context.Context, owner, id string) error
	List(ctx context.Context, owner string, q Query) ([]model.ScheduledMessage, error)
}

type ContactRepository interface {
	SaveContact(ctx context.Context, c model.Contact) error
	FindContacts(ctx context.Context, owner, query string, limit int) ([]model.Contact, error)
}
