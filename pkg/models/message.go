// Package models contains domain models for chatterbox.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SystemFrom is the sender name of locally generated system messages.
	SystemFrom = "System"
	// InteractiveSystemFrom marks system messages that still count as
	// participant activity. It is rewritten to SystemFrom on ingestion.
	InteractiveSystemFrom = "F387446C-37C4-45f2-A438-D99CBDBB563B"
)

// Message is one entry of a session's message buffer.
type Message struct {
	From      string    `json:"from"`
	FromID    uuid.UUID `json:"from_id"`
	Text      string    `json:"message"`
	Time      time.Time `json:"time"`
	Index     int       `json:"index"`
	IsHistory bool      `json:"is_history"`
}

// TranscriptEntry is one persisted line of a session transcript.
type TranscriptEntry struct {
	ID        int64     `db:"id" json:"id"`
	LogName   string    `db:"log_name" json:"log_name"`
	From      string    `db:"from_name" json:"from"`
	FromID    uuid.UUID `db:"from_id" json:"from_id"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AvatarName is a resolved participant name.
type AvatarName struct {
	DisplayName string `json:"display_name"`
	UserName    string `json:"username"`
	// DisplayNameDefault is set when the resident never chose a display name.
	DisplayNameDefault bool `json:"is_display_name_default"`
}

// IsValid reports whether the lookup produced a usable name.
func (n AvatarName) IsValid() bool {
	return n.DisplayName != "" || n.UserName != ""
}

// CompleteName returns "Display Name (user.name)", or just the name
// when both halves agree.
func (n AvatarName) CompleteName() string {
	if n.DisplayName == "" {
		return n.UserName
	}
	if n.UserName == "" || n.DisplayNameDefault || strings.EqualFold(n.DisplayName, n.UserName) {
		return n.DisplayName
	}
	return n.DisplayName + " (" + n.UserName + ")"
}

// GroupData describes a group the agent belongs to.
type GroupData struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	AcceptNotices bool      `json:"accept_notices"`
	// ChatMuted is set when the agent muted the group's chat.
	ChatMuted bool `json:"chat_muted"`
}

// IncomingMessage is a text message entering the session model, either
// delivered by the server or echoed locally.
type IncomingMessage struct {
	SessionID    uuid.UUID        `json:"session_id"`
	FromID       uuid.UUID        `json:"from_id"`
	From         string           `json:"from_name"`
	Text         string           `json:"message"`
	Offline      bool             `json:"offline"`
	SessionName  string           `json:"session_name"`
	Kind         ConversationKind `json:"dialog"`
	Announcement bool             `json:"announcement"`
}

// TypingEvent is a typing start or stop notification from a participant.
type TypingEvent struct {
	FromID uuid.UUID        `json:"from_id"`
	Name   string           `json:"from_name"`
	Kind   ConversationKind `json:"dialog"`
	Typing bool             `json:"typing"`
}
