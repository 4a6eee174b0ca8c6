// Package models contains domain models for chatterbox.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationKind mirrors the dialog type carried by the wire layer.
type ConversationKind int

const (
	KindP2P ConversationKind = iota
	KindP2PInvite
	KindGroupStart
	KindConferenceStart
	KindInvite
)

var kindNames = map[ConversationKind]string{
	KindP2P:             "p2p",
	KindP2PInvite:       "p2p_invite",
	KindGroupStart:      "group_start",
	KindConferenceStart: "conference_start",
	KindInvite:          "invite",
}

func (k ConversationKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k ConversationKind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown conversation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ConversationKind) UnmarshalText(b []byte) error {
	parsed, err := ParseConversationKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseConversationKind converts the wire name of a kind back to its value.
func ParseConversationKind(s string) (ConversationKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindP2P, fmt.Errorf("unknown conversation kind %q", s)
}

// IsPeerToPeer reports whether the kind binds a P2P voice channel.
func (k ConversationKind) IsPeerToPeer() bool {
	return k == KindP2P || k == KindP2PInvite
}

// SessionType classifies a session once it has been constructed.
type SessionType int

const (
	SessionP2P SessionType = iota
	SessionGroup
	SessionAdHoc
	SessionAvaline
)

var sessionTypeNames = map[SessionType]string{
	SessionP2P:     "p2p",
	SessionGroup:   "group",
	SessionAdHoc:   "adhoc",
	SessionAvaline: "avaline",
}

func (t SessionType) String() string {
	if s, ok := sessionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t SessionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SessionType) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseSessionType converts a session type name back to its value.
func ParseSessionType(s string) (SessionType, error) {
	for t, name := range sessionTypeNames {
		if name == s {
			return t, nil
		}
	}
	return SessionP2P, fmt.Errorf("unknown session type %q", s)
}

// InitState tracks the start-session round trip of a session.
type InitState int

const (
	InitUninitialized InitState = iota
	InitPending
	InitInitialized
	InitError
)

var initStateNames = map[InitState]string{
	InitUninitialized: "uninitialized",
	InitPending:       "pending",
	InitInitialized:   "initialized",
	InitError:         "error",
}

func (s InitState) String() string {
	if name, ok := initStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s InitState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *InitState) UnmarshalText(b []byte) error {
	parsed, err := ParseInitState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseInitState converts an init state name back to its value.
func ParseInitState(s string) (InitState, error) {
	for st, name := range initStateNames {
		if name == s {
			return st, nil
		}
	}
	return InitUninitialized, fmt.Errorf("unknown init state %q", s)
}

// CloseAction decides what leaving a session does on the server side.
type CloseAction int

const (
	CloseDefault CloseAction = iota
	CloseLeave
	CloseSnooze
)

// ParseCloseAction maps a settings value to a CloseAction.
func ParseCloseAction(s string) CloseAction {
	switch s {
	case "leave":
		return CloseLeave
	case "snooze":
		return CloseSnooze
	}
	return CloseDefault
}

// SessionInfo is a read-only snapshot of a session record.
type SessionInfo struct {
	ID                       uuid.UUID        `json:"id"`
	Name                     string           `json:"name"`
	Kind                     ConversationKind `json:"kind"`
	Type                     SessionType      `json:"type"`
	OtherParticipantID       uuid.UUID        `json:"other_participant_id"`
	InitialTargetIDs         []uuid.UUID      `json:"initial_target_ids"`
	HistoryName              string           `json:"history_name"`
	State                    InitState        `json:"state"`
	UnreadCount              int              `json:"unread_count"`
	ParticipantUnreadCount   int              `json:"participant_unread_count"`
	LastParticipantMessageAt time.Time        `json:"last_participant_message_at"`
	TextCapable              bool             `json:"text_capable"`
	VoiceCapable             bool             `json:"voice_capable"`
	StartedAsIMCall          bool             `json:"started_as_im_call"`
	HasOfflineMessage        bool             `json:"has_offline_message"`
	CallActive               bool             `json:"call_active"`
	Participants             []uuid.UUID      `json:"participants"`
}
