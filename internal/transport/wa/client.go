package wa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

var ErrNotStarted = errors.New("whatsapp client not started")

// maxPairingRounds bounds how many QR rounds an unlinked device gets before
// it is reported disconnected. Each round lasts as long as whatsmeow keeps
// issuing codes (about two minutes).
const maxPairingRounds = 5

type Client struct {
	botID     string
	db        *sql.DB
	container *sqlstore.Container
	log       waLog.Logger
	emit      transport.Handler
	restart   func(ctx context.Context) error

	mu        sync.Mutex
	wm        *whatsmeow.Client
	handlerID uint32
	qrCancel  context.CancelFunc
	rounds    int
}

func newClient(botID string, db *sql.DB, container *sqlstore.Container, log waLog.Logger, h transport.Handler) *Client {
	c := &Client{
		botID:     botID,
		db:        db,
		container: container,
		log:       log,
		emit:      h,
	}
	c.restart = c.connect
	return c
}

// Start builds a whatsmeow client on the stored device (or a fresh one after
// a logout) and connects it. Unlinked devices get a QR channel first.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.rounds = 0
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.release(c.detach())

	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	wm := whatsmeow.NewClient(device, c.log.Sub("client"))
	wm.EnableAutoReconnect = false
	handlerID := wm.AddEventHandler(func(evt any) { c.handleEvent(wm, evt) })

	var qrChan <-chan whatsmeow.QRChannelItem
	var qrCancel context.CancelFunc
	if wm.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err = wm.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			wm.RemoveEventHandler(handlerID)
			return fmt.Errorf("qr channel: %w", err)
		}
		qrCancel = cancel
	}

	c.mu.Lock()
	c.wm = wm
	c.handlerID = handlerID
	c.qrCancel = qrCancel
	c.mu.Unlock()

	if qrChan != nil {
		go c.pumpQR(wm, qrChan)
	}

	if err := wm.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// pumpQR forwards pairing codes from one QR round of wm. A successful scan is
// reported by the PairSuccess event, not here.
func (c *Client) pumpQR(wm *whatsmeow.Client, items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case "code":
			c.emit(transport.PairingReady{Payload: item.Code})
		case "success":
		case "timeout":
			c.pairingTimedOut(wm)
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			c.emit(transport.AuthFailed{Reason: reason})
		}
	}
}

// pairingTimedOut starts another QR round while the device is still unlinked
// and the round budget allows it.
func (c *Client) pairingTimedOut(wm *whatsmeow.Client) {
	c.mu.Lock()
	if c.wm != wm {
		c.mu.Unlock()
		return
	}
	c.rounds++
	again := c.rounds < maxPairingRounds
	c.mu.Unlock()

	if !again {
		c.emit(transport.Disconnected{Reason: "pairing timed out"})
		return
	}

	c.log.Infof("pairing round expired for %s, issuing new codes", c.botID)
	if err := c.restart(context.Background()); err != nil {
		c.emit(transport.Disconnected{Reason: "pairing restart failed: " + err.Error()})
	}
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	wm := c.wm
	c.mu.Unlock()

	if wm == nil {
		return ErrNotStarted
	}
	if wm.Store.ID == nil {
		wm.Disconnect()
		return nil
	}
	return wm.Logout(ctx)
}

// Close disconnects and releases the device store.
func (c *Client) Close() {
	c.release(c.detach())

	if err := c.db.Close(); err != nil {
		c.log.Warnf("closing device store: %v", err)
	}
}

type detached struct {
	wm        *whatsmeow.Client
	handlerID uint32
	qrCancel  context.CancelFunc
}

// detach takes the current whatsmeow client out of c. The caller tears it
// down with release after c.mu is no longer held, since whatsmeow holds its
// handler lock while dispatching events into handleEvent.
func (c *Client) detach() detached {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := detached{wm: c.wm, handlerID: c.handlerID, qrCancel: c.qrCancel}
	c.wm = nil
	c.handlerID = 0
	c.qrCancel = nil
	return d
}

func (c *Client) release(d detached) {
	if d.qrCancel != nil {
		d.qrCancel()
	}
	if d.wm != nil {
		d.wm.RemoveEventHandler(d.handlerID)
		d.wm.Disconnect()
	}
}

func (c *Client) connected() (*whatsmeow.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wm == nil {
		return nil, ErrNotStarted
	}
	return c.wm, nil
}

// handleEvent runs on whatsmeow's dispatch goroutine and must not take c.mu.
func (c *Client) handleEvent(wm *whatsmeow.Client, evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		c.emit(transport.Connected{Self: selfOf(wm)})
	case *events.PairSuccess:
		c.emit(transport.Authenticated{})
	case *events.PairError:
		c.emit(transport.AuthFailed{Reason: errString(v.Error)})
	case *events.LoggedOut:
		c.emit(transport.AuthFailed{Reason: "logged out: " + v.Reason.String()})
	case *events.ConnectFailure:
		c.emit(transport.AuthFailed{Reason: fmt.Sprintf("connect failure: %s %s", v.Reason.String(), v.Message)})
	case *events.TemporaryBan:
		c.emit(transport.AuthFailed{Reason: fmt.Sprint(v)})
	case *events.StreamReplaced:
		c.emit(transport.Disconnected{Reason: "stream replaced"})
	case *events.Disconnected:
		c.emit(transport.Disconnected{Reason: "connection closed"})
	case *events.Message:
		c.emit(transport.MessageReceived{Message: convertMessage(v)})
	}
}

func selfOf(wm *whatsmeow.Client) transport.Self {
	if wm == nil || wm.Store == nil || wm.Store.ID == nil {
		return transport.Self{}
	}
	return transport.Self{User: wm.Store.ID.User, PushName: wm.Store.PushName}
}

func (c *Client) JoinedGroups(ctx context.Context) ([]model.Group, error) {
	wm, err := c.connected()
	if err != nil {
		return nil, err
	}
	infos, err := wm.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}

	groups := make([]model.Group, 0, len(infos))
	for _, g := range infos {
		groups = append(groups, model.Group{
			ID:                g.JID.String(),
			Name:              g.Name,
			ParticipantsCount: len(g.Participants),
		})
	}
	return groups, nil
}

func parseAddress(to string) (types.JID, error) {
	jid, err := types.ParseJID(transport.GroupAddress(to))
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid address %q: %w", to, err)
	}
	return jid, nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
