package session

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/qr"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

const (
	persistTimeout  = 10 * time.Second
	teardownTimeout = 10 * time.Second
)

// Repository is the part of the record store the manager writes to.
type Repository interface {
	ResolveRelay(ctx context.Context, customerID, botID string) (model.RelayConfig, error)
	SaveConnected(ctx context.Context, botID, phone string, at time.Time) error
	UpdateStatus(ctx context.Context, botID string, status model.Status) error
	TouchLastActive(ctx context.Context, botID string, at time.Time) error
}

type Notifier interface {
	Notify(ctx context.Context, ev model.LifecycleEvent) error
}

type MessageHook func(ctx context.Context, botID string, msg transport.Message)

// Content is what gets delivered to one destination. Media is optional; when
// set, Text becomes its caption.
type Content struct {
	Text  string
	Media *transport.Media
}

type PairingView struct {
	Payload    string
	Status     model.Status
	Generating bool
}

type Manager struct {
	store   *Store
	factory transport.Factory
	repo    Repository
	notify  Notifier
	onMsg   MessageHook
	render  func(string) (string, error)
	now     func() time.Time

	gens atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(factory transport.Factory) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   NewStore(),
		factory: factory,
		render:  qr.Render,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) WithRepository(r Repository) *Manager {
	m.repo = r
	return m
}

func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notify = n
	return m
}

// OnMessage registers the hook that receives every inbound message. It runs
// on its own goroutine per message.
func (m *Manager) OnMessage(h MessageHook) *Manager {
	m.onMsg = h
	return m
}

func (m *Manager) Create(botID, customerID, botName string) (model.BotSnapshot, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return model.BotSnapshot{}, ErrInvalidBotID
	}
	if m.store.Has(botID) {
		return model.BotSnapshot{}, ErrAlreadyExists
	}

	gen := m.gens.Add(1)
	client, err := m.factory.New(botID, m.handler(botID, gen))
	if err != nil {
		return model.BotSnapshot{}, &TransportInitError{BotID: botID, Cause: err}
	}

	if botName == "" {
		botName = botID
	}
	now := m.now()
	sess := Session{
		BotID:        botID,
		BotName:      botName,
		CustomerID:   customerID,
		Client:       client,
		Status:       model.Pending,
		LastActiveAt: now,
		CreatedAt:    now,
		gen:          gen,
	}
	if err := m.store.Insert(sess); err != nil {
		client.Close()
		return model.BotSnapshot{}, err
	}

	slog.Info("bot session created", "bot_id", botID, "customer_id", customerID)

	if customerID != "" {
		go func() {
			if err := m.ReloadRelayTarget(m.ctx, botID); err != nil {
				slog.Warn("relay target not loaded", "bot_id", botID, "err", err)
			}
		}()
	}
	go m.start(botID, gen, client)

	return sess.Snapshot(), nil
}

func (m *Manager) start(botID string, gen uint64, client transport.Client) {
	if err := client.Start(m.ctx); err != nil {
		slog.Error("transport start failed", "bot_id", botID, "err", err)
		m.markDisconnected(botID, gen, "start failed: "+err.Error())
	}
}

// Destroy tears down the transport, forgets the session and removes its
// on-disk state. Teardown errors are logged, not returned.
func (m *Manager) Destroy(ctx context.Context, botID string) error {
	sess, ok := m.store.Delete(botID)
	if !ok {
		return ErrNotFound
	}

	if sess.Client != nil {
		tctx, cancel := context.WithTimeout(ctx, teardownTimeout)
		if err := sess.Client.Logout(tctx); err != nil {
			slog.Warn("logout during destroy failed", "bot_id", botID, "err", err)
		}
		cancel()
		sess.Client.Close()
	}

	if err := m.factory.Purge(botID); err != nil {
		slog.Warn("purging session artifacts failed", "bot_id", botID, "err", err)
	}

	slog.Info("bot session destroyed", "bot_id", botID)
	return nil
}

// RefreshPairing logs the bot out and starts a fresh pairing flow.
func (m *Manager) RefreshPairing(ctx context.Context, botID string) error {
	sess, ok := m.store.Get(botID)
	if !ok {
		return ErrNotFound
	}

	if err := sess.Client.Logout(ctx); err != nil {
		slog.Info("logout before re-pair failed", "bot_id", botID, "err", err)
	}

	_, ok = m.store.Update(botID, func(s *Session) {
		s.Status = model.Pending
		s.PairingPayload = ""
		s.PhoneNumber = ""
		s.ConnectedAt = nil
	})
	if !ok {
		return ErrNotFound
	}

	m.publish(botID, model.Pending, "pairing refreshed")
	go m.start(botID, sess.gen, sess.Client)
	return nil
}

func (m *Manager) Get(botID string) (model.BotSnapshot, error) {
	sess, ok := m.store.Get(botID)
	if !ok {
		return model.BotSnapshot{}, ErrNotFound
	}
	return sess.Snapshot(), nil
}

// Session returns a copy of the full session state, relay target included.
func (m *Manager) Session(botID string) (Session, bool) {
	return m.store.Get(botID)
}

func (m *Manager) PairingPayload(botID string) (PairingView, error) {
	sess, ok := m.store.Get(botID)
	if !ok {
		return PairingView{}, ErrNotFound
	}

	view := PairingView{Status: sess.Status}
	switch {
	case sess.Status == model.Connected:
	case sess.PairingPayload != "":
		view.Payload = sess.PairingPayload
	case sess.Status == model.Pending:
		view.Generating = true
	}
	return view, nil
}

// List returns snapshots, optionally filtered by owner.
func (m *Manager) List(customerID string) []model.BotSnapshot {
	all := m.store.List()
	out := make([]model.BotSnapshot, 0, len(all))
	for _, s := range all {
		if customerID != "" && s.CustomerID != customerID {
			continue
		}
		out = append(out, s.Snapshot())
	}
	return out
}

func (m *Manager) Count() int {
	return m.store.Len()
}

func (m *Manager) Rename(botID, name string) (model.BotSnapshot, error) {
	sess, ok := m.store.Update(botID, func(s *Session) {
		if name == "" {
			s.BotName = s.BotID
			return
		}
		s.BotName = name
	})
	if !ok {
		return model.BotSnapshot{}, ErrNotFound
	}
	return sess.Snapshot(), nil
}

func (m *Manager) ReloadRelayTarget(ctx context.Context, botID string) error {
	sess, ok := m.store.Get(botID)
	if !ok {
		return ErrNotFound
	}
	if m.repo == nil || sess.CustomerID == "" {
		return nil
	}

	cfg, err := m.repo.ResolveRelay(ctx, sess.CustomerID, botID)
	if err != nil {
		return err
	}

	m.store.Update(botID, func(s *Session) {
		s.RelayTarget = &cfg
	})
	slog.Info("relay target loaded",
		"bot_id", botID,
		"source", cfg.SourceConversationID,
		"destinations", len(cfg.Destinations),
		"delay_seconds", cfg.DelaySeconds,
	)
	return nil
}

func (m *Manager) connectedClient(botID string) (transport.Client, error) {
	sess, ok := m.store.Get(botID)
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status != model.Connected {
		return nil, ErrNotConnected
	}
	return sess.Client, nil
}

func (m *Manager) SendDirect(ctx context.Context, botID, destination, text string) (string, error) {
	return m.SendContent(ctx, botID, destination, Content{Text: text})
}

func (m *Manager) SendContent(ctx context.Context, botID, destination string, c Content) (string, error) {
	client, err := m.connectedClient(botID)
	if err != nil {
		return "", err
	}

	addr := transport.GroupAddress(destination)
	var id string
	if c.Media != nil {
		id, err = client.SendMedia(ctx, addr, *c.Media, c.Text)
	} else {
		id, err = client.SendText(ctx, addr, c.Text)
	}
	if err != nil {
		return "", &SendFailedError{Destination: addr, Cause: err}
	}
	return id, nil
}

func (m *Manager) DownloadMedia(ctx context.Context, botID string, msg transport.Message) (transport.Media, error) {
	client, err := m.connectedClient(botID)
	if err != nil {
		return transport.Media{}, err
	}
	return client.DownloadMedia(ctx, msg)
}

func (m *Manager) JoinedGroups(ctx context.Context, botID string) ([]model.Group, error) {
	client, err := m.connectedClient(botID)
	if err != nil {
		return nil, err
	}
	return client.JoinedGroups(ctx)
}

// SyncActivity writes last-active timestamps of connected bots to the record
// store and returns how many were written.
func (m *Manager) SyncActivity(ctx context.Context) int {
	if m.repo == nil {
		return 0
	}
	n := 0
	for _, s := range m.store.List() {
		if s.Status != model.Connected {
			continue
		}
		if err := m.repo.TouchLastActive(ctx, s.BotID, s.LastActiveAt); err != nil {
			slog.Warn("last active sync failed", "bot_id", s.BotID, "err", err)
			continue
		}
		n++
	}
	return n
}

// Shutdown closes every transport without touching on-disk state so the
// sessions can be restored on the next start.
func (m *Manager) Shutdown() {
	m.cancel()
	for _, s := range m.store.List() {
		if s.Client != nil {
			s.Client.Close()
		}
	}
	slog.Info("all bot sessions closed", "count", m.store.Len())
}
