package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

// transitions lists the statuses reachable from each status through
// transport events. connected -> pending only happens through
// RefreshPairing, which bypasses this table.
var transitions = map[model.Status][]model.Status{
	model.Pending:      {model.Pending, model.Connected, model.Disconnected, model.Error},
	model.Connected:    {model.Disconnected, model.Error},
	model.Disconnected: {model.Disconnected, model.Pending, model.Error},
	model.Error:        {model.Pending, model.Disconnected},
}

func canTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// handler binds events to one generation of a bot's session. Events from a
// client that was destroyed and replaced under the same id are dropped.
func (m *Manager) handler(botID string, gen uint64) transport.Handler {
	return func(ev transport.Event) {
		m.handleEvent(botID, gen, ev)
	}
}

func (m *Manager) handleEvent(botID string, gen uint64, ev transport.Event) {
	if sess, ok := m.store.Get(botID); !ok || sess.gen != gen {
		slog.Debug("stale transport event ignored", "bot_id", botID, "event", fmt.Sprintf("%T", ev))
		return
	}

	switch e := ev.(type) {
	case transport.PairingReady:
		m.onPairingReady(botID, gen, e.Payload)

	case transport.Authenticated:
		slog.Info("bot authenticated", "bot_id", botID)

	case transport.Connected:
		m.onConnected(botID, gen, e.Self)

	case transport.AuthFailed:
		slog.Warn("bot authentication failed", "bot_id", botID, "reason", e.Reason)
		m.markDisconnected(botID, gen, e.Reason)

	case transport.Disconnected:
		slog.Warn("bot disconnected", "bot_id", botID, "reason", e.Reason)
		m.markDisconnected(botID, gen, e.Reason)

	case transport.MessageReceived:
		m.onMessage(botID, gen, e.Message)
	}
}

// transition applies mutate and sets the new status if the table allows it
// and the session still belongs to generation gen.
func (m *Manager) transition(botID string, gen uint64, to model.Status, mutate func(*Session)) (Session, bool) {
	var (
		from    model.Status
		stale   bool
		applied bool
	)
	sess, ok := m.store.Update(botID, func(s *Session) {
		if s.gen != gen {
			stale = true
			return
		}
		from = s.Status
		if !canTransition(from, to) {
			return
		}
		s.Status = to
		if mutate != nil {
			mutate(s)
		}
		applied = true
	})
	if !ok {
		slog.Debug("event for unknown bot ignored", "bot_id", botID, "to", to)
		return Session{}, false
	}
	if stale {
		slog.Debug("stale transport event ignored", "bot_id", botID, "to", to)
		return sess, false
	}
	if !applied {
		slog.Warn("status transition rejected", "bot_id", botID, "from", from, "to", to)
		return sess, false
	}
	return sess, true
}

func (m *Manager) onPairingReady(botID string, gen uint64, payload string) {
	url, err := m.render(payload)
	if err != nil {
		slog.Error("rendering pairing code failed", "bot_id", botID, "err", err)
		return
	}
	if _, ok := m.transition(botID, gen, model.Pending, func(s *Session) {
		s.PairingPayload = url
	}); ok {
		slog.Info("pairing code ready", "bot_id", botID)
	}
}

func (m *Manager) onConnected(botID string, gen uint64, self transport.Self) {
	now := m.now()
	sess, ok := m.transition(botID, gen, model.Connected, func(s *Session) {
		s.PairingPayload = ""
		s.PhoneNumber = self.User
		s.ConnectedAt = &now
		s.LastActiveAt = now
	})
	if !ok {
		return
	}

	slog.Info("bot connected", "bot_id", botID, "phone", sess.PhoneNumber)
	m.publish(botID, model.Connected, "")

	if m.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.repo.SaveConnected(ctx, botID, sess.PhoneNumber, now); err != nil {
			slog.Error("persisting connected status failed", "bot_id", botID, "err", err)
		}
	}()
}

func (m *Manager) markDisconnected(botID string, gen uint64, reason string) {
	if _, ok := m.transition(botID, gen, model.Disconnected, func(s *Session) {
		s.PairingPayload = ""
	}); !ok {
		return
	}

	m.publish(botID, model.Disconnected, reason)

	if m.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.repo.UpdateStatus(ctx, botID, model.Disconnected); err != nil {
			slog.Error("persisting disconnected status failed", "bot_id", botID, "err", err)
		}
	}()
}

func (m *Manager) onMessage(botID string, gen uint64, msg transport.Message) {
	current := false
	m.store.Update(botID, func(s *Session) {
		if s.gen != gen {
			return
		}
		current = true
		s.LastActiveAt = m.now()
	})
	if !current {
		return
	}
	if m.onMsg == nil {
		return
	}
	go m.onMsg(m.ctx, botID, msg)
}

func (m *Manager) publish(botID string, status model.Status, detail string) {
	if m.notify == nil {
		return
	}
	sess, ok := m.store.Get(botID)
	if !ok {
		return
	}
	ev := model.LifecycleEvent{
		BotID:       botID,
		CustomerID:  sess.CustomerID,
		Status:      status,
		PhoneNumber: sess.PhoneNumber,
		Detail:      detail,
		At:          m.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, persistTimeout)
		defer cancel()
		if err := m.notify.Notify(ctx, ev); err != nil {
			slog.Warn("lifecycle notification failed", "bot_id", botID, "status", status, "err", err)
		}
	}()
}
