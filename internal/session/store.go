package session

import (
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

// Session is the in-memory state of one bot. Values handed out by Store are
// copies; only Store.Update mutates the stored entry.
type Session struct {
	BotID      string
	BotName    string
	CustomerID string

	Client transport.Client

	Status         model.Status
	PairingPayload string
	PhoneNumber    string
	RelayTarget    *model.RelayConfig

	ConnectedAt  *time.Time
	LastActiveAt time.Time
	CreatedAt    time.Time

	// gen identifies the client instance the session was created with.
	gen uint64
}

func (s Session) Snapshot() model.BotSnapshot {
	snap := model.BotSnapshot{
		BotID:          s.BotID,
		BotName:        s.BotName,
		CustomerID:     s.CustomerID,
		Status:         s.Status,
		PairingPayload: s.PairingPayload,
		PhoneNumber:    s.PhoneNumber,
		LastActiveAt:   s.LastActiveAt,
		CreatedAt:      s.CreatedAt,
	}
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		snap.ConnectedAt = &t
	}
	return snap
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (s *Store) Insert(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.BotID]; ok {
		return ErrAlreadyExists
	}
	s.sessions[sess.BotID] = &sess
	return nil
}

func (s *Store) Get(botID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[botID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

func (s *Store) Has(botID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[botID]
	return ok
}

// Update runs fn on the stored entry under the write lock and returns the
// resulting copy. fn must not block.
func (s *Store) Update(botID string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[botID]
	if !ok {
		return Session{}, false
	}
	fn(sess)
	return *sess, true
}

func (s *Store) Delete(botID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[botID]
	if !ok {
		return Session{}, false
	}
	delete(s.sessions, botID)
	return *sess, true
}

// List returns copies ordered by creation time, then bot id.
func (s *Store) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].BotID < out[j].BotID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
