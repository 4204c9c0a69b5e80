package cache

import (
	"context"
	"time"
)

// RelayCache backs the relay engine: it claims inbound messages once and
// records where each one was delivered.
type RelayCache interface {
	MarkSeen(ctx context.Context, botID, messageID string) (first bool, err error)
	StoreSent(ctx context.Context, botID, messageID, destinationID, remoteMessageID string, sentAt time.Time) error
}

// Nop is used when Redis is not configured. Every message counts as new.
type Nop struct{}

func (Nop) MarkSeen(context.Context, string, string) (bool, error) { return true, nil }

func (Nop) StoreSent(context.Context, string, string, string, string, time.Time) error { return nil }
