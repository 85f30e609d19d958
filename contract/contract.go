package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// MessageSink is a session's outbound handle. Deliver enqueues without
// blocking: a full or closed queue is a delivery failure and the engine
// treats the session as dead. Close must also unblock the session's reader.
type MessageSink interface {
	Deliver(m domain.Message) error
	Close() error
}

// PollSink marks sinks with no persistent connection behind them. Their
// sessions produce no disconnect signal, so the inactivity sweeper is
// the only thing reclaiming them; sessions on other sinks are exempt.
type PollSink interface {
	MessageSink
	PollOnly()
}

// SnapshotStore persists a compaction snapshot under a
// timestamp-derived identifier.
type SnapshotStore interface {
	SaveSnapshot(s domain.Snapshot) error
}
