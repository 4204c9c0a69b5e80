// Package transport describes the messaging capability a bot session needs:
// connect and pair, send text and media, receive messages and report
// connection state changes.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

const groupServer = "g.us"

// Event is one of PairingReady, Authenticated, Connected, AuthFailed,
// Disconnected or MessageReceived.
type Event interface {
	isEvent()
}

type PairingReady struct {
	Payload string
}

type Authenticated struct{}

type Self struct {
	User     string
	PushName string
}

type Connected struct {
	Self Self
}

type AuthFailed struct {
	Reason string
}

type Disconnected struct {
	Reason string
}

type MessageReceived struct {
	Message Message
}

func (PairingReady) isEvent()    {}
func (Authenticated) isEvent()   {}
func (Connected) isEvent()       {}
func (AuthFailed) isEvent()      {}
func (Disconnected) isEvent()    {}
func (MessageReceived) isEvent() {}

type Message struct {
	ID        string
	Chat      string
	Sender    string
	Text      string
	FromMe    bool
	HasMedia  bool
	Timestamp time.Time

	// Raw is the transport-native payload, needed to download attachments.
	Raw any
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

type Media struct {
	Kind     MediaKind
	Data     []byte
	MimeType string
	FileName string
}

// Handler receives events on the transport's own goroutine and must not block.
type Handler func(Event)

type Client interface {
	// Start connects and, when the device is not yet linked, begins emitting
	// PairingReady events. It returns once the connection attempt is made.
	Start(ctx context.Context) error
	Logout(ctx context.Context) error
	Close()

	SendText(ctx context.Context, to, text string) (string, error)
	SendMedia(ctx context.Context, to string, media Media, caption string) (string, error)
	DownloadMedia(ctx context.Context, msg Message) (Media, error)
	JoinedGroups(ctx context.Context) ([]model.Group, error)
}

// Factory allocates clients bound to the persistent state of one bot.
type Factory interface {
	New(botID string, h Handler) (Client, error)
	Purge(botID string) error
}

// GroupAddress turns a bare group id into a full address. Ids that already
// carry a server part are returned unchanged.
func GroupAddress(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "@") {
		return id
	}
	return id + "@" + groupServer
}

func SameConversation(a, b string) bool {
	return a != "" && GroupAddress(a) == GroupAddress(b)
}
