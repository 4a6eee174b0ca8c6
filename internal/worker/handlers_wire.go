package worker

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

// invitationBody is the ChatterBoxInvitation payload. Exactly one of
// instantmessage, voice or immediate is present.
type invitationBody struct {
	InstantMessage *struct {
		MessageParams models.TextInvitation `json:"message_params"`
	} `json:"instantmessage,omitempty"`
	Voice     json.RawMessage `json:"voice,omitempty"`
	Immediate json.RawMessage `json:"immediate,omitempty"`

	SessionID   uuid.UUID `json:"session_id"`
	SessionName string    `json:"session_name"`
	FromID      uuid.UUID `json:"from_id"`
	FromName    string    `json:"from_name"`

	// Set by the voice service for P2P calls.
	Dialog        *models.ConversationKind `json:"dialog,omitempty"`
	SessionHandle string                   `json:"session_handle,omitempty"`
	SessionURI    string                   `json:"session_uri,omitempty"`
}

func (b invitationBody) invitation(t models.InvitationType) models.Invitation {
	kind := models.KindInvite
	if b.Dialog != nil {
		kind = *b.Dialog
	}
	return models.Invitation{
		SessionID:      b.SessionID,
		SessionName:    b.SessionName,
		CallerID:       b.FromID,
		CallerName:     b.FromName,
		Kind:           kind,
		InvitationType: t,
		VoiceHandle:    b.SessionHandle,
		VoiceURI:       b.SessionURI,
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleStartReply(w http.ResponseWriter, r *http.Request) {
	var reply models.StartReply
	if !readJSON(w, r, &reply) {
		return
	}
	log.Debug().
		Str("temp_session_id", reply.TempSessionID.String()).
		Str("session_id", reply.SessionID.String()).
		Bool("success", reply.Success).
		Msg("ChatterBoxSessionStartReply")
	if s.onLoop(w, r, func() { s.manager.ProcessSessionStartReply(reply) }) {
		writeOK(w)
	}
}

func (s *Service) handleEventReply(w http.ResponseWriter, r *http.Request) {
	var reply models.EventReply
	if !readJSON(w, r, &reply) {
		return
	}
	if s.onLoop(w, r, func() { s.manager.ProcessSessionEventReply(reply) }) {
		writeOK(w)
	}
}

func (s *Service) handleForceClose(w http.ResponseWriter, r *http.Request) {
	var fc models.ForceClose
	if !readJSON(w, r, &fc) {
		return
	}
	if s.onLoop(w, r, func() { s.manager.ProcessForceClose(fc) }) {
		writeOK(w)
	}
}

func (s *Service) handleAgentListUpdates(w http.ResponseWriter, r *http.Request) {
	var u models.AgentListUpdate
	if !readJSON(w, r, &u) {
		return
	}
	if u.SessionID == uuid.Nil {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if s.onLoop(w, r, func() { s.manager.ProcessAgentListUpdates(u.SessionID, u) }) {
		writeOK(w)
	}
}

func (s *Service) handleInvitation(w http.ResponseWriter, r *http.Request) {
	var body invitationBody
	if !readJSON(w, r, &body) {
		return
	}

	var fn func()
	switch {
	case body.InstantMessage != nil:
		ti := body.InstantMessage.MessageParams
		fn = func() { s.manager.ProcessInstantMessageInvitation(ti) }
	case len(body.Voice) > 0:
		inv := body.invitation(models.InvitationVoice)
		fn = func() { s.manager.InviteToSession(inv) }
	case len(body.Immediate) > 0:
		inv := body.invitation(models.InvitationImmediate)
		fn = func() { s.manager.InviteToSession(inv) }
	default:
		http.Error(w, "unknown invitation type", http.StatusBadRequest)
		return
	}
	if s.onLoop(w, r, fn) {
		writeOK(w)
	}
}

func (s *Service) handleInstantMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.IncomingMessage
	if !readJSON(w, r, &msg) {
		return
	}
	var added bool
	if s.onLoop(w, r, func() { added = s.manager.AddMessage(msg) }) {
		writeJSON(w, http.StatusOK, map[string]bool{"added": added})
	}
}

func (s *Service) handleTypingState(w http.ResponseWriter, r *http.Request) {
	var ev models.TypingEvent
	if !readJSON(w, r, &ev) {
		return
	}
	if s.onLoop(w, r, func() { s.manager.ProcessTyping(ev) }) {
		writeOK(w)
	}
}
