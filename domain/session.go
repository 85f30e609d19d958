// Package domain contains core concepts of the chat relay.
// This file defines the read-only Session view exposed by the registry.
package domain

import "time"

// SessionView is an immutable copy of one registered participant's state.
// The registry owns the live Session; everything else sees views.
type SessionView struct {
	ID           string
	Name         string
	Address      string
	ConnectedAt  time.Time
	LastActiveAt time.Time
}

func (s SessionView) OnlineDuration(now time.Time) time.Duration {
	return now.Sub(s.ConnectedAt)
}
