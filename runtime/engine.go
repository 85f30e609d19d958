// Package runtime hosts the session/broadcast engine shared by every
// transport: the registry, the append-only history, concurrent fan-out
// and the command dispatcher. Transports feed it inbound lines and
// consume outbound messages through per-session sinks.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

type Engine struct {
	log        *slog.Logger
	registry   *Registry
	history    *History
	stores     []contract.SnapshotStore
	dispatcher *Dispatcher
	startTime  time.Time
}

func NewEngine(log *slog.Logger, registry *Registry, history *History, stores ...contract.SnapshotStore) *Engine {
	e := &Engine{
		log:       log,
		registry:  registry,
		history:   history,
		stores:    stores,
		startTime: time.Now(),
	}
	e.dispatcher = NewDispatcher(log, e)
	return e
}

// Join runs the handshake: validates the requested name, registers the
// session, announces the arrival to everyone else and welcomes the
// newcomer. A peer-identity eviction triggered by the join is announced
// before the join itself. On error the caller must close the connection.
func (e *Engine) Join(requestedName, peerAddress string, sink contract.MessageSink) (domain.SessionView, error) {
	view, evicted, err := e.registry.CreateSession(requestedName, peerAddress, sink)
	if err != nil {
		return domain.SessionView{}, err
	}

	if evicted != nil {
		e.log.Warn("evicting stale session from same peer",
			"peer", peerAddress, "old", evicted.View.Name, "new", view.Name)
		if evicted.Sink != nil {
			_ = evicted.Sink.Close()
		}
		e.Broadcast(domain.System(fmt.Sprintf("%s left", evicted.View.Name)), "")
	}

	if view.Name != strings.TrimSpace(requestedName) {
		e.log.Warn("display name already taken, renamed",
			"requested", requestedName, "resolved", view.Name)
	}

	e.Broadcast(domain.System(fmt.Sprintf("%s joined", view.Name)), view.ID)
	e.log.Info("session joined", "name", view.Name, "peer", peerAddress, "online", e.registry.Len())

	welcome := domain.System(fmt.Sprintf("welcome %s, %d online", view.Name, e.registry.Len()))
	if err := sink.Deliver(welcome); err != nil {
		e.log.Warn("welcome delivery failed, evicting", "name", view.Name, "error", err)
		e.Leave(view.ID)
		return domain.SessionView{}, err
	}
	return view, nil
}

// Leave removes the session, closes its handle and broadcasts the
// departure. Idempotent: removing an unknown id returns false and
// produces no duplicate "left" message.
func (e *Engine) Leave(sessionID string) bool {
	view, sink, ok := e.registry.RemoveSession(sessionID)
	if !ok {
		return false
	}
	if sink != nil {
		_ = sink.Close()
	}
	e.log.Info("session left", "name", view.Name, "online", e.registry.Len())
	e.Broadcast(domain.System(fmt.Sprintf("%s left", view.Name)), "")
	return true
}

// Submit handles one inbound line from a live session. Lines starting
// with "/" go to the dispatcher and yield a unicast-only reply
// (isReply=true, never appended to history); anything else becomes a chat
// message broadcast to everyone but the sender. Activity is refreshed
// either way.
func (e *Engine) Submit(sessionID, text string) (msg domain.Message, isReply bool, err error) {
	name, ok := e.registry.Name(sessionID)
	if !ok {
		return domain.Message{}, false, errors.ErrSessionNotFound
	}
	e.registry.UpdateActivity(sessionID)

	line := strings.TrimSpace(text)
	if strings.HasPrefix(line, "/") {
		reply := e.dispatcher.Dispatch(line)
		e.log.Info("command executed", "name", name, "command", line)
		return reply, true, nil
	}

	chat := domain.Chat(name, line)
	e.log.Info("chat message", "name", name, "text", truncate(line, 50))
	e.Broadcast(chat, sessionID)
	return chat, false, nil
}

// Unicast delivers a message to a single session, used by persistent
// transports for command replies.
func (e *Engine) Unicast(sessionID string, m domain.Message) error {
	sink, ok := e.registry.Sink(sessionID)
	if !ok {
		return errors.ErrSessionNotFound
	}
	return sink.Deliver(m)
}

// Broadcast appends the message to history, then fans it out concurrently
// to every live session except the excluded sender. A delivery failure is
// an implicit disconnect: the failing session is evicted, producing its
// own "left" notice; the broadcast itself never fails and is not retried.
func (e *Engine) Broadcast(m domain.Message, excludeSessionID string) {
	e.history.Append(m)

	recipients := e.registry.Recipients(excludeSessionID)
	if len(recipients) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, rec := range recipients {
		wg.Add(1)
		go func(rec Recipient) {
			defer wg.Done()
			if err := rec.Sink.Deliver(m); err != nil {
				e.log.Warn("delivery failed, treating session as dead",
					"session", rec.ID, "error", err)
				mu.Lock()
				failed = append(failed, rec.ID)
				mu.Unlock()
			}
		}(rec)
	}
	wg.Wait()

	for _, id := range failed {
		e.Leave(id)
	}
}

// ServerSay broadcasts an operator chat message to all sessions.
func (e *Engine) ServerSay(text string) {
	e.Broadcast(domain.Chat("Server", text), "")
}

// Shutdown announces the stop and closes every session without
// individual departure notices.
func (e *Engine) Shutdown() {
	e.Broadcast(domain.System("server shutting down"), "")
	for _, v := range e.registry.Snapshot() {
		if _, sink, ok := e.registry.RemoveSession(v.ID); ok && sink != nil {
			_ = sink.Close()
		}
	}
}

// EvictIdle removes poll-based sessions whose last activity is older
// than the timeout. Sessions on persistent connections are exempt:
// their transport observes the disconnect itself.
func (e *Engine) EvictIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	idle := lo.Filter(e.registry.Snapshot(), func(v domain.SessionView, _ int) bool {
		if !v.LastActiveAt.Before(cutoff) {
			return false
		}
		sink, ok := e.registry.Sink(v.ID)
		if !ok {
			return false
		}
		_, pollOnly := sink.(contract.PollSink)
		return pollOnly
	})
	// A session filtered as idle can disappear before its Leave, for
	// example when a departure broadcast evicts it first; only count
	// the ones this sweep actually removed.
	evicted := 0
	for _, v := range idle {
		if !e.Leave(v.ID) {
			continue
		}
		e.log.Warn("session timed out", "name", v.Name)
		evicted++
	}
	return evicted
}

// MessagesSince serves incremental polling against the history index.
func (e *Engine) MessagesSince(since int) ([]domain.Message, int) {
	return e.history.Since(since)
}

// RefreshActivity marks a poll as liveness. False means the session is
// unknown or already expired.
func (e *Engine) RefreshActivity(sessionID string) bool {
	return e.registry.UpdateActivity(sessionID)
}

func (e *Engine) OnlineCount() int {
	return e.registry.Len()
}

// BuildSnapshot assembles the durable image of the current state.
func (e *Engine) BuildSnapshot() domain.Snapshot {
	now := time.Now()
	views := e.registry.Snapshot()
	messages, counter := e.history.All()

	return domain.Snapshot{
		SaveTime:           now.Format(domain.TimeLayout),
		ServerStartTime:    e.startTime.Format(domain.TimeLayout),
		TotalMessages:      len(messages),
		MessageCount:       counter,
		CurrentOnlineUsers: len(views),
		OnlineUsers: lo.Map(views, func(v domain.SessionView, _ int) string {
			return v.Name
		}),
		Messages: messages,
		SessionInfo: lo.Map(views, func(v domain.SessionView, _ int) domain.SessionInfo {
			return domain.SessionInfo{
				Username:       v.Name,
				Address:        v.Address,
				ConnectTime:    v.ConnectedAt.Format(domain.TimeLayout),
				OnlineDuration: v.OnlineDuration(now).Seconds(),
			}
		}),
	}
}

// SaveSnapshot writes the snapshot to every configured store. The history
// sequence is cleared only when clear is requested and every write
// succeeded; a failure leaves the buffer intact for the next attempt.
func (e *Engine) SaveSnapshot(clear bool) error {
	snap := e.BuildSnapshot()
	for _, store := range e.stores {
		if err := store.SaveSnapshot(snap); err != nil {
			return fmt.Errorf("snapshot write: %w", err)
		}
	}
	if clear {
		e.history.Clear()
	}
	e.log.Info("history snapshot saved",
		"messages", snap.TotalMessages, "online", snap.CurrentOnlineUsers, "cleared", clear)
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
