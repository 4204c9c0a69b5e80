// Package relay forwards messages from a bot's source conversation to its
// destination groups and runs operator-initiated broadcasts.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-relay/internal/cache"
	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/session"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

var (
	ErrNoDestinations = errors.New("at least one destination is required")
	ErrEmptyMessage   = errors.New("message is required")
)

type Sessions interface {
	Session(botID string) (session.Session, bool)
	SendContent(ctx context.Context, botID, destination string, c session.Content) (string, error)
	DownloadMedia(ctx context.Context, botID string, msg transport.Message) (transport.Media, error)
	JoinedGroups(ctx context.Context, botID string) ([]model.Group, error)
}

type ConfigSource interface {
	ResolveRelay(ctx context.Context, customerID, botID string) (model.RelayConfig, error)
}

type Engine struct {
	sessions Sessions
	configs  ConfigSource
	cache    cache.RelayCache
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func NewEngine(sessions Sessions, configs ConfigSource) *Engine {
	return &Engine{
		sessions: sessions,
		configs:  configs,
		cache:    cache.Nop{},
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func (e *Engine) WithCache(c cache.RelayCache) *Engine {
	e.cache = c
	return e
}

type BroadcastRequest struct {
	DestinationIDs []string
	Message        string
	DelaySeconds   int
}

// HandleMessage relays msg when it comes from the bot's source conversation.
// It blocks for the whole fan-out, delays included.
func (e *Engine) HandleMessage(ctx context.Context, botID string, msg transport.Message) {
	if msg.FromMe {
		return
	}
	sess, ok := e.sessions.Session(botID)
	if !ok || sess.RelayTarget == nil {
		return
	}
	if !transport.SameConversation(msg.Chat, sess.RelayTarget.SourceConversationID) {
		return
	}

	first, err := e.cache.MarkSeen(ctx, botID, msg.ID)
	if err != nil {
		slog.Warn("relay dedup check failed", "bot_id", botID, "message_id", msg.ID, "err", err)
	} else if !first {
		slog.Info("relay skipped, message already handled", "bot_id", botID, "message_id", msg.ID)
		return
	}

	cfg := e.resolve(ctx, sess)
	if len(cfg.Destinations) == 0 {
		slog.Info("relay skipped, no destinations", "bot_id", botID)
		return
	}

	content, ok := e.content(ctx, botID, msg)
	if !ok {
		return
	}

	dests := make([]string, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		dests = append(dests, d.ID)
	}

	runID := uuid.NewString()
	slog.Info("relay started",
		"run_id", runID,
		"bot_id", botID,
		"message_id", msg.ID,
		"destinations", len(dests),
		"delay_seconds", cfg.DelaySeconds,
	)
	res := e.fanOut(ctx, runID, botID, msg.ID, dests, content, cfg.Delay())
	slog.Info("relay finished",
		"run_id", runID,
		"bot_id", botID,
		"sent", res.Sent,
		"failed", res.Failed,
	)
}

// resolve prefers a fresh record-store read and falls back to the target
// cached on the session.
func (e *Engine) resolve(ctx context.Context, sess session.Session) model.RelayConfig {
	cached := *sess.RelayTarget
	if e.configs == nil || sess.CustomerID == "" {
		return cached
	}
	fresh, err := e.configs.ResolveRelay(ctx, sess.CustomerID, sess.BotID)
	if err != nil {
		slog.Warn("relay config lookup failed, using cached target", "bot_id", sess.BotID, "err", err)
		return cached
	}
	return fresh
}

func (e *Engine) content(ctx context.Context, botID string, msg transport.Message) (session.Content, bool) {
	c := session.Content{Text: msg.Text}
	if !msg.HasMedia {
		if strings.TrimSpace(c.Text) == "" {
			slog.Info("relay skipped, nothing to forward", "bot_id", botID, "message_id", msg.ID)
			return c, false
		}
		return c, true
	}

	media, err := e.sessions.DownloadMedia(ctx, botID, msg)
	if err != nil {
		slog.Error("media download failed", "bot_id", botID, "message_id", msg.ID, "err", err)
		if strings.TrimSpace(c.Text) == "" {
			return c, false
		}
		return c, true
	}
	c.Media = &media
	return c, true
}

// SendToGroups sends one text message to every destination in order and
// reports per-destination failures without stopping.
func (e *Engine) SendToGroups(ctx context.Context, botID string, req BroadcastRequest) (model.BroadcastResult, error) {
	sess, ok := e.sessions.Session(botID)
	if !ok {
		return model.BroadcastResult{}, session.ErrNotFound
	}
	if sess.Status != model.Connected {
		return model.BroadcastResult{}, session.ErrNotConnected
	}
	if len(req.DestinationIDs) == 0 {
		return model.BroadcastResult{}, ErrNoDestinations
	}
	if strings.TrimSpace(req.Message) == "" {
		return model.BroadcastResult{}, ErrEmptyMessage
	}

	var delay time.Duration
	if req.DelaySeconds > 0 {
		delay = time.Duration(req.DelaySeconds) * time.Second
	}

	runID := uuid.NewString()
	res := e.fanOut(ctx, runID, botID, "", req.DestinationIDs, session.Content{Text: req.Message}, delay)
	slog.Info("broadcast finished",
		"run_id", runID,
		"bot_id", botID,
		"total", res.Total,
		"sent", res.Sent,
		"failed", res.Failed,
	)
	return res, nil
}

func (e *Engine) Groups(ctx context.Context, botID string) ([]model.Group, error) {
	return e.sessions.JoinedGroups(ctx, botID)
}

// fanOut delivers c to every destination in order. Once started it runs to
// completion: a cancelled caller context neither skips destinations nor
// shortens the delays.
func (e *Engine) fanOut(ctx context.Context, runID, botID, messageID string, dests []string, c session.Content, delay time.Duration) model.BroadcastResult {
	ctx = context.WithoutCancel(ctx)
	res := model.BroadcastResult{Total: len(dests)}

	for i, dest := range dests {
		remoteID, err := e.sessions.SendContent(ctx, botID, dest, c)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, model.DeliveryError{DestinationID: dest, Error: err.Error()})
			slog.Warn("delivery failed", "run_id", runID, "bot_id", botID, "destination", dest, "err", err)
		} else {
			res.Sent++
			if messageID != "" {
				if err := e.cache.StoreSent(ctx, botID, messageID, dest, remoteID, e.now()); err != nil {
					slog.Warn("delivery log write failed", "run_id", runID, "bot_id", botID, "err", err)
				}
			}
		}

		if delay <= 0 || i == len(dests)-1 {
			continue
		}
		if err := e.sleep(ctx, delay); err != nil {
			slog.Warn("fan-out delay cut short", "run_id", runID, "bot_id", botID, "err", err)
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
