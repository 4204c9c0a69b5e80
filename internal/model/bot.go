package model

import "time"

type Status string

const (
	Pending      Status = "pending"
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
	Error        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case Pending, Connected, Disconnected, Error:
		return true
	}
	return false
}

// BotRecord is a row from the bots table that carries an external bot id.
type BotRecord struct {
	ID            int64
	ExternalBotID string
	BotName       string
	CustomerID    string
	Status        Status
}

// BotSnapshot is a point-in-time copy of a live session.
type BotSnapshot struct {
	BotID          string
	BotName        string
	CustomerID     string
	Status         Status
	PairingPayload string
	PhoneNumber    string
	ConnectedAt    *time.Time
	LastActiveAt   time.Time
	CreatedAt      time.Time
}

type Group struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ParticipantsCount int    `json:"participantsCount"`
}

// LifecycleEvent is published whenever a session changes status.
type LifecycleEvent struct {
	BotID       string    `json:"botId"`
	CustomerID  string    `json:"customerId,omitempty"`
	Status      Status    `json:"status"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}
