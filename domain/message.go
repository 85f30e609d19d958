// Package domain contains core concepts of the chat relay.
// This file defines Message events and their wire encoding.
// Messages are immutable and appended to an ordered history.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates server notices from participant chat.
type Kind string

const (
	KindSystem Kind = "system"
	KindChat   Kind = "message"
)

// TimeLayout is the local timestamp format used on the wire and in snapshots.
const TimeLayout = "2006-01-02 15:04:05"

// Message represents an immutable chat event.
// Author is empty for system messages.
type Message struct {
	ID     uuid.UUID
	Kind   Kind
	Author string
	Text   string
	At     time.Time
}

func System(text string) Message {
	return Message{ID: uuid.New(), Kind: KindSystem, Text: text, At: time.Now()}
}

func Chat(author, text string) Message {
	return Message{ID: uuid.New(), Kind: KindChat, Author: author, Text: text, At: time.Now()}
}

// wireMessage is the JSON shape shared by every transport:
// {"type":"system"|"message","time":"...","username"?:"...","message":"..."}
// The internal ID never leaves the process.
type wireMessage struct {
	Type     string `json:"type"`
	Time     string `json:"time"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:     string(m.Kind),
		Time:     m.At.Format(TimeLayout),
		Username: m.Author,
		Message:  m.Text,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	at, err := time.ParseInLocation(TimeLayout, w.Time, time.Local)
	if err != nil {
		return err
	}
	m.Kind = Kind(w.Type)
	m.Author = w.Username
	m.Text = w.Message
	m.At = at
	return nil
}
