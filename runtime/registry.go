package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	id           string
	name         string
	peerAddress  string
	connectedAt  time.Time
	lastActiveAt time.Time
	sink         contract.MessageSink
}

func (s *session) view() domain.SessionView {
	return domain.SessionView{
		ID:           s.id,
		Name:         s.name,
		Address:      s.peerAddress,
		ConnectedAt:  s.connectedAt,
		LastActiveAt: s.lastActiveAt,
	}
}

// Evicted describes a session removed by the peer-identity index so the
// caller can close its handle and announce the departure outside the lock.
type Evicted struct {
	View domain.SessionView
	Sink contract.MessageSink
}

// Recipient pairs a session id with its outbound handle for fan-out.
type Recipient struct {
	ID   string
	Sink contract.MessageSink
}

// Registry holds every live session plus the uniqueness indices.
// All mutations run under one mutex held only for the in-memory update;
// the registry never touches the network.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	byName    map[string]string
	byPeer    map[string]string
	order     []string
	peerIndex bool
	reject    func(name string) bool
}

// NewRegistry builds a registry. peerIndex enables single-connection-per-peer
// eviction; reject is the handshake filter applied to requested names
// (nil accepts everything non-empty).
func NewRegistry(peerIndex bool, reject func(name string) bool) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		byName:    make(map[string]string),
		byPeer:    make(map[string]string),
		peerIndex: peerIndex,
		reject:    reject,
	}
}

// CreateSession validates and registers a new participant.
// The requested name is resolved against currently live names by suffixing
// _1, _2, ... until free. If the peer already owns a live session that
// session is removed first (newest connection from a peer wins) and returned
// so the caller can close and announce it. Session ids are fresh uuids and
// never reused.
func (r *Registry) CreateSession(requestedName, peerAddress string, sink contract.MessageSink) (domain.SessionView, *Evicted, error) {
	name := strings.TrimSpace(requestedName)
	if name == "" || (r.reject != nil && r.reject(requestedName)) {
		return domain.SessionView{}, nil, errors.ErrNameRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Evicted
	if r.peerIndex {
		if oldID, ok := r.byPeer[peerAddress]; ok {
			if old := r.sessions[oldID]; old != nil {
				evicted = &Evicted{View: old.view(), Sink: old.sink}
				r.removeLocked(oldID)
			}
		}
	}

	resolved := name
	for i := 1; ; i++ {
		if _, taken := r.byName[resolved]; !taken {
			break
		}
		resolved = fmt.Sprintf("%s_%d", name, i)
	}

	now := time.Now()
	s := &session{
		id:           uuid.NewString(),
		name:         resolved,
		peerAddress:  peerAddress,
		connectedAt:  now,
		lastActiveAt: now,
		sink:         sink,
	}
	r.sessions[s.id] = s
	r.byName[resolved] = s.id
	if r.peerIndex {
		r.byPeer[peerAddress] = s.id
	}
	r.order = append(r.order, s.id)

	return s.view(), evicted, nil
}

// RemoveSession deletes all index entries for the id. Idempotent: removing
// an unknown id is a no-op returning false. The removed view and sink are
// returned so the caller can close the handle and broadcast the departure.
func (r *Registry) RemoveSession(sessionID string) (domain.SessionView, contract.MessageSink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.SessionView{}, nil, false
	}
	view, sink := s.view(), s.sink
	r.removeLocked(sessionID)
	return view, sink, true
}

func (r *Registry) removeLocked(sessionID string) {
	s := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	if id, ok := r.byName[s.name]; ok && id == sessionID {
		delete(r.byName, s.name)
	}
	if id, ok := r.byPeer[s.peerAddress]; ok && id == sessionID {
		delete(r.byPeer, s.peerAddress)
	}
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// UpdateActivity refreshes lastActiveAt. Returns false for unknown ids,
// which poll-based transports surface as an expired session.
func (r *Registry) UpdateActivity(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.lastActiveAt = time.Now()
	return true
}

// Name resolves a session id to its display name.
func (r *Registry) Name(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.name, true
}

// Sink returns the outbound handle of a session, for unicast replies.
func (r *Registry) Sink(sessionID string) (contract.MessageSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.sink, true
}

// Recipients lists live sessions except the excluded one, in join order.
// The fan-out delivers outside the registry lock.
func (r *Registry) Recipients(excludeSessionID string) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recipients := make([]Recipient, 0, len(r.order))
	for _, id := range r.order {
		if id == excludeSessionID {
			continue
		}
		if s, ok := r.sessions[id]; ok && s.sink != nil {
			recipients = append(recipients, Recipient{ID: id, Sink: s.sink})
		}
	}
	return recipients
}

// Snapshot returns read-only views of all live sessions in join order.
func (r *Registry) Snapshot() []domain.SessionView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]domain.SessionView, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			views = append(views, s.view())
		}
	}
	return views
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
