package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("bot not found")
	ErrNotConnected  = errors.New("bot is not connected")
	ErrAlreadyExists = errors.New("bot already exists")
	ErrInvalidBotID  = errors.New("bot id is required")
)

// TransportInitError means no client could be allocated for the bot.
type TransportInitError struct {
	BotID string
	Cause error
}

func (e *TransportInitError) Error() string {
	return fmt.Sprintf("init transport for bot %s: %v", e.BotID, e.Cause)
}

func (e *TransportInitError) Unwrap() error { return e.Cause }

type SendFailedError struct {
	Destination string
	Cause       error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Destination, e.Cause)
}

func (e *SendFailedError) Unwrap() error { return e.Cause }
