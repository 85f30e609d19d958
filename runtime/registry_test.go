package runtime

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/errors"
)

type fakeSink struct {
	mu       sync.Mutex
	messages []domain.Message
	failing  bool
	closed   bool
}

func (s *fakeSink) Deliver(m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("sink failure")
	}
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = true
}

func (s *fakeSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.messages {
		out = append(out, m.Text)
	}
	return out
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRegistry_CreateSession_Name_Dedup_Is_Deterministic(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)

	// When three peers request the same name
	var resolved []string
	for i := 0; i < 3; i++ {
		view, evicted, err := registry.CreateSession("alice", fmt.Sprintf("10.0.0.%d:1", i), &fakeSink{})
		req.NoError(err)
		req.Nil(evicted)
		resolved = append(resolved, view.Name)
	}

	// Then names are suffixed in assignment order
	req.Equal([]string{"alice", "alice_1", "alice_2"}, resolved)
	req.Equal(3, registry.Len())
}

func TestRegistry_CreateSession_Reuses_Retired_Names(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)

	// Given alice joined and left
	view, _, err := registry.CreateSession("alice", "10.0.0.1:1", &fakeSink{})
	req.NoError(err)
	_, _, removed := registry.RemoveSession(view.ID)
	req.True(removed)

	// When a new peer requests alice
	view2, _, err := registry.CreateSession("alice", "10.0.0.2:1", &fakeSink{})
	req.NoError(err)

	// Then resolution only considers live names
	req.Equal("alice", view2.Name)
	req.NotEqual(view.ID, view2.ID)
}

func TestRegistry_CreateSession_Rejects_Empty_And_Filtered_Names(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, func(name string) bool {
		return strings.HasPrefix(name, "GET ")
	})

	_, _, err := registry.CreateSession("   ", "10.0.0.1:1", &fakeSink{})
	req.ErrorIs(err, errors.ErrNameRejected)

	_, _, err = registry.CreateSession("GET / HTTP/1.1", "10.0.0.1:1", &fakeSink{})
	req.ErrorIs(err, errors.ErrNameRejected)

	req.Zero(registry.Len())
}

func TestRegistry_RemoveSession_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)
	view, _, err := registry.CreateSession("bob", "10.0.0.1:1", &fakeSink{})
	req.NoError(err)

	_, _, removed := registry.RemoveSession(view.ID)
	req.True(removed)

	// A second removal is a no-op, never an error
	_, _, removed = registry.RemoveSession(view.ID)
	req.False(removed)
	req.False(registry.UpdateActivity(view.ID))
}

func TestRegistry_Peer_Identity_Eviction(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)

	// Given a live session from a peer
	oldSink := &fakeSink{}
	oldView, _, err := registry.CreateSession("alice", "10.0.0.1", oldSink)
	req.NoError(err)

	// When the same peer connects again
	newView, evicted, err := registry.CreateSession("alice", "10.0.0.1", &fakeSink{})
	req.NoError(err)

	// Then the old session was evicted before the new one became queryable
	req.NotNil(evicted)
	req.Equal(oldView.ID, evicted.View.ID)
	req.Equal(1, registry.Len())
	req.False(registry.UpdateActivity(oldView.ID))
	req.True(registry.UpdateActivity(newView.ID))

	// And the vacated name was free again
	req.Equal("alice", newView.Name)
}

func TestRegistry_Peer_Index_Disabled(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(false, nil)

	_, _, err := registry.CreateSession("alice", "10.0.0.1", &fakeSink{})
	req.NoError(err)
	_, evicted, err := registry.CreateSession("alice", "10.0.0.1", &fakeSink{})
	req.NoError(err)

	req.Nil(evicted)
	req.Equal(2, registry.Len())
}

func TestRegistry_Recipients_Excludes_Sender(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)
	bob, _, err := registry.CreateSession("bob", "10.0.0.1:1", &fakeSink{})
	req.NoError(err)
	_, _, err = registry.CreateSession("carol", "10.0.0.2:1", &fakeSink{})
	req.NoError(err)

	recipients := registry.Recipients(bob.ID)
	req.Len(recipients, 1)
	req.NotEqual(bob.ID, recipients[0].ID)
}

func TestRegistry_Snapshot_Preserves_Join_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(true, nil)
	for _, name := range []string{"a", "b", "c"} {
		_, _, err := registry.CreateSession(name, name+":1", &fakeSink{})
		req.NoError(err)
	}

	views := registry.Snapshot()
	req.Len(views, 3)
	req.Equal("a", views[0].Name)
	req.Equal("b", views[1].Name)
	req.Equal("c", views[2].Name)
}
