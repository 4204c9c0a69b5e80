package model

import "time"

type Destination struct {
	ID    string
	Label string
}

// RelayConfig describes where a bot forwards messages from its source
// conversation. Destinations are kept in fan-out order.
type RelayConfig struct {
	SourceConversationID string
	Destinations         []Destination
	DelaySeconds         int
}

func (c RelayConfig) Delay() time.Duration {
	if c.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(c.DelaySeconds) * time.Second
}

// DistributionGroup is a stored relay destination row.
type DistributionGroup struct {
	ID        int64     `json:"id"`
	BotID     int64     `json:"bot_id"`
	GroupID   string    `json:"group_id"`
	GroupName string    `json:"group_name"`
	CreatedAt time.Time `json:"created_at"`
}

type DeliveryError struct {
	DestinationID string `json:"groupId"`
	Error         string `json:"error"`
}

type BroadcastResult struct {
	Total  int             `json:"total"`
	Sent   int             `json:"sent"`
	Failed int             `json:"failed"`
	Errors []DeliveryError `json:"errors,omitempty"`
}
