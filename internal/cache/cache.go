package cache

import (
	"context"
	"time"
)

// MessageCache records scheduled messages that were handed to the launcher.
type MessageCache interface {
	StoreSent(ctx context.Context, owner, id string, sentAt time.Time) error
	SentAt(ctx context.Context, owner, id string) (time.Time, bool, error)
}
