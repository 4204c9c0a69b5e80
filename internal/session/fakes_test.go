package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

type fakeClient struct {
	mu       sync.Mutex
	handler  transport.Handler
	starts   int
	logouts  int
	closed   bool
	startErr error
	sent     []string
	sendErr  map[string]error
	groups   []model.Group
}

func (c *fakeClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return errors.New("not logged in")
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) SendText(ctx context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErr[to]; err != nil {
		return "", err
	}
	c.sent = append(c.sent, to+"|"+text)
	return "remote-" + to, nil
}

func (c *fakeClient) SendMedia(ctx context.Context, to string, media transport.Media, caption string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+"|media:"+string(media.Kind)+"|"+caption)
	return "remote-media-" + to, nil
}

func (c *fakeClient) DownloadMedia(ctx context.Context, msg transport.Message) (transport.Media, error) {
	return transport.Media{Kind: transport.MediaImage, Data: []byte("img")}, nil
}

func (c *fakeClient) JoinedGroups(ctx context.Context) ([]model.Group, error) {
	return c.groups, nil
}

func (c *fakeClient) emit(ev transport.Event) {
	c.handler(ev)
}

func (c *fakeClient) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	purged  []string
	newErr  error
	prepare func(*fakeClient)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeClient)}
}

func (f *fakeFactory) New(botID string, h transport.Handler) (transport.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := &fakeClient{handler: h}
	if f.prepare != nil {
		f.prepare(c)
	}
	f.clients[botID] = c
	return c, nil
}

func (f *fakeFactory) Purge(botID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, botID)
	return nil
}

func (f *fakeFactory) client(botID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[botID]
}

type fakeRepo struct {
	mu        sync.Mutex
	relay     model.RelayConfig
	relayErr  error
	connected map[string]string
	statuses  map[string]model.Status
	touched   map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		connected: make(map[string]string),
		statuses:  make(map[string]model.Status),
		touched:   make(map[string]time.Time),
	}
}

func (r *fakeRepo) ResolveRelay(ctx context.Context, customerID, botID string) (model.RelayConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relay, r.relayErr
}

func (r *fakeRepo) SaveConnected(ctx context.Context, botID, phone string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[botID] = phone
	return nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, botID string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[botID] = status
	return nil
}

func (r *fakeRepo) TouchLastActive(ctx context.Context, botID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[botID] = at
	return nil
}

func (r *fakeRepo) savedPhone(botID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[botID]
}

func (r *fakeRepo) status(botID string) model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[botID]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (n *fakeNotifier) Notify(ctx context.Context, ev model.LifecycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) statuses() []model.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Status, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Status)
	}
	return out
}
