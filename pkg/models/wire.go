// Package models contains domain models for chatterbox.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrRemoteSessionNotFound is returned by the chat service when the server
// no longer knows the session an operation refers to.
var ErrRemoteSessionNotFound = errors.New("remote session does not exist")

// InvitationType distinguishes the three server invitation flavours.
type InvitationType int

const (
	InvitationInstantMessage InvitationType = iota
	InvitationVoice
	InvitationImmediate
)

func (t InvitationType) String() string {
	switch t {
	case InvitationInstantMessage:
		return "instantmessage"
	case InvitationVoice:
		return "voice"
	case InvitationImmediate:
		return "immediate"
	}
	return fmt.Sprintf("invitation(%d)", int(t))
}

// InviteClass selects the question shown for an incoming invitation.
type InviteClass string

const (
	InviteNone       InviteClass = ""
	InviteVoiceP2P   InviteClass = "VoiceInviteP2P"
	InviteVoiceGroup InviteClass = "VoiceInviteGroup"
	InviteVoiceAdHoc InviteClass = "VoiceInviteAdHoc"
	InviteAdHoc      InviteClass = "InviteAdHoc"
)

const (
	QuestionDefault = "VoiceInviteQuestionDefault"
	QuestionGroup   = "VoiceInviteQuestionGroup"
)

// Invitation is the payload staged for an incoming call or conference
// invitation until the user responds.
type Invitation struct {
	SessionID      uuid.UUID        `json:"session_id"`
	SessionName    string           `json:"session_name"`
	CallerID       uuid.UUID        `json:"caller_id"`
	CallerName     string           `json:"caller_name"`
	Kind           ConversationKind `json:"type"`
	InvitationType InvitationType   `json:"inv_type"`
	VoiceHandle    string           `json:"session_handle,omitempty"`
	VoiceURI       string           `json:"session_uri,omitempty"`
	Class          InviteClass      `json:"notify_box_type"`
	Question       string           `json:"question_type"`
}

// CallResponse is the user's answer to an invitation.
type CallResponse int

const (
	CallAccept CallResponse = iota
	CallDecline
	CallAcceptTextOnly
	// CallMuteAndDecline mutes the caller, then declines.
	CallMuteAndDecline
)

// ParseCallResponse accepts "accept", "decline", "text" and "mute".
func ParseCallResponse(s string) (CallResponse, error) {
	switch strings.ToLower(s) {
	case "accept":
		return CallAccept, nil
	case "decline":
		return CallDecline, nil
	case "text", "accept_text", "im":
		return CallAcceptTextOnly, nil
	case "mute":
		return CallMuteAndDecline, nil
	}
	return CallDecline, fmt.Errorf("unknown call response %q", s)
}

// Roster transitions.
const (
	TransitionEnter = "ENTER"
	TransitionLeave = "LEAVE"
)

// AgentUpdate is a single roster delta for one participant.
type AgentUpdate struct {
	Transition  string `json:"transition,omitempty"`
	IsModerator *bool  `json:"is_moderator,omitempty"`
	MutesText   *bool  `json:"mutes_text,omitempty"`
}

// AgentListUpdate is the roster payload of ChatterBoxSessionAgentListUpdates.
// AgentUpdates is the newer form; Updates maps participants to ENTER/LEAVE.
type AgentListUpdate struct {
	SessionID    uuid.UUID                 `json:"session_id"`
	AgentUpdates map[uuid.UUID]AgentUpdate `json:"agent_updates,omitempty"`
	Updates      map[uuid.UUID]string      `json:"updates,omitempty"`
}

// RosterSnapshot is the participant base delivered with a start or accept
// reply.
type RosterSnapshot struct {
	AgentInfo map[uuid.UUID]AgentUpdate `json:"agent_info,omitempty"`
	Agents    []uuid.UUID               `json:"agents,omitempty"`
}

// StartReply is the body of ChatterBoxSessionStartReply.
type StartReply struct {
	Success       bool      `json:"success"`
	TempSessionID uuid.UUID `json:"temp_session_id"`
	SessionID     uuid.UUID `json:"session_id"`
	Error         string    `json:"error,omitempty"`
	RosterSnapshot
}

// EventReply is the body of ChatterBoxSessionEventReply.
type EventReply struct {
	Success   bool      `json:"success"`
	SessionID uuid.UUID `json:"session_id"`
	Event     string    `json:"event"`
	Error     string    `json:"error,omitempty"`
}

// ForceClose is the body of ForceCloseChatterBoxSession.
type ForceClose struct {
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

// TextInvitation is the "instantmessage" flavour of ChatterBoxInvitation:
// a conference or group message that implicitly invites the agent.
type TextInvitation struct {
	SessionID   uuid.UUID `json:"id"`
	FromID      uuid.UUID `json:"from_id"`
	FromName    string    `json:"from_name"`
	Message     string    `json:"message"`
	Offline     bool      `json:"offline"`
	Timestamp   int64     `json:"timestamp"`
	SessionName string    `json:"session_name"`
}
