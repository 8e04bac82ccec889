package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LeventeLantos/scheduled-messaging/internal/model"
)

// MemoryMessageRepo keeps everything in process. It is used when no backend is configured.
type MemoryMessageRepo struct {
	mu       sync.RWMutex
	messages map[string]model.ScheduledMessage
	contacts map[string]model.Contact
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		messages: make(map[string]model.ScheduledMessage),
		contacts: make(map[string]model.Contact),
	}
}

func (r *MemoryMessageRepo) Insert(ctx context.Context, msgs []model.ScheduledMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.messages[m.ID] = clone(m)
	}
	return nil
}

func (r *MemoryMessageRepo) Update(ctx context.Context, m model.ScheduledMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.pendingLocked(m.Owner, m.ID)
	if err != nil {
		return err
	}
	cur.Recipient = m.Recipient
	cur.Body = m.Body
	cur.DueAt = m.DueAt
	cur.Attachments = m.Attachments
	cur.UpdatedAt = m.UpdatedAt
	r.messages[m.ID] = clone(cur)
	return nil
}

func (r *MemoryMessageRepo) UpdateStatus(ctx context.Context, owner, id string, status model.Status, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.pendingLocked(owner, id)
	if err != nil {
		return err
	}
	cur.Status = status
	cur.UpdatedAt = at
	r.messages[id] = cur
	return nil
}

func (r *MemoryMessageRepo) pendingLocked(owner, id string) (model.ScheduledMessage, error) {
	cur, ok := r.messages[id]
	if !ok || cur.Owner != owner {
		return model.ScheduledMessage{}, ErrNotFound
	}
	if cur.Status != model.Pending {
		return model.ScheduledMessage{}, ErrStatusConflict
	}
	return cur, nil
}

func (r *MemoryMessageRepo) Delete(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.messages[id]
	if !ok || cur.Owner != owner {
		return ErrNotFound
	}
	delete(r.messages, id)
	return nil
}

func (r *MemoryMessageRepo) List(ctx context.Context, owner string, q Query) ([]model.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var out []model.ScheduledMessage
	for _, m := range r.messages {
		if m.Owner != owner {
			continue
		}
		if q.Status != "" && m.Status != q.Status {
			continue
		}
		out = append(out, clone(m))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.Order == ByUpdatedDesc {
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
			return a.ID < b.ID
		}
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		return a.ID < b.ID
	})

	return paginate(out, q.Limit, q.Offset), nil
}

func (r *MemoryMessageRepo) SaveContact(ctx context.Context, c model.Contact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.contacts[c.Owner+"|"+c.PhoneNumber] = c
	return nil
}

func (r *MemoryMessageRepo) FindContacts(ctx context.Context, owner, query string, limit int) ([]model.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	var out []model.Contact
	for _, c := range r.contacts {
		if c.Owner != owner {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), needle) || strings.Contains(c.PhoneNumber, needle) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, limit, 0), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clone(m model.ScheduledMessage) model.ScheduledMessage {
	if m.Attachments != nil {
		m.Attachments = append([]model.Attachment(nil), m.Attachments...)
	}
	return m
}
