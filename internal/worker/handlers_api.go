package worker

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/db/sqlite"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/pkg/models"
)

// DefaultTranscriptLimit is used when a transcript request has no limit.
const DefaultTranscriptLimit = 100

type addSessionRequest struct {
	Name    string                  `json:"name"`
	Kind    models.ConversationKind `json:"kind"`
	OtherID uuid.UUID               `json:"other_id"`
	Targets []uuid.UUID             `json:"targets"`
	Voice   bool                    `json:"voice"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

type respondRequest struct {
	Response string `json:"response"`
}

type snoozedSession struct {
	SessionID uuid.UUID `json:"session_id"`
	SnoozedAt time.Time `json:"snoozed_at"`
	Expired   bool      `json:"expired"`
}

type statusResponse struct {
	Version            string `json:"version"`
	Sessions           int    `json:"sessions"`
	Unread             int    `json:"unread"`
	ParticipantUnread  int    `json:"participant_unread"`
	PendingInvitations int    `json:"pending_invitations"`
	Snoozed            int    `json:"snoozed"`
	EventClients       int    `json:"event_clients"`
	EventsDropped      int64  `json:"events_dropped"`
	DoNotDisturb       bool   `json:"do_not_disturb"`

	telemetry.Snapshot
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st statusResponse
	if !s.onLoop(w, r, func() {
		reg := s.manager.Registry()
		st.Sessions = reg.Len()
		st.Unread = reg.TotalUnread()
		st.ParticipantUnread = reg.TotalParticipantUnread()
		st.PendingInvitations = len(s.manager.PendingInvitations())
		st.Snoozed = len(s.manager.SnoozedSessions())
	}) {
		return
	}
	st.Version = s.version
	st.EventClients = s.broadcaster.ClientCount()
	st.EventsDropped = s.broadcaster.Dropped()
	if s.config != nil {
		st.DoNotDisturb = s.config.Current().DoNotDisturb
	}
	st.Snapshot = s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var infos []models.SessionInfo
	if !s.onLoop(w, r, func() {
		for _, sess := range s.manager.Registry().Sessions() {
			infos = append(infos, sess.Info())
		}
	}) {
		return
	}
	if infos == nil {
		infos = []models.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Service) handleAddSession(w http.ResponseWriter, r *http.Request) {
	var req addSessionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if len(req.Targets) == 0 && req.OtherID != uuid.Nil {
		req.Targets = []uuid.UUID{req.OtherID}
	}

	var id uuid.UUID
	if !s.onLoop(w, r, func() {
		id = s.manager.AddSession(req.Name, req.Kind, req.OtherID, req.Targets, req.Voice)
		if id != uuid.Nil && req.Voice {
			s.manager.AutoStartCallOnStartup(id)
		}
	}) {
		return
	}
	if id == uuid.Nil {
		http.Error(w, "session could not be created", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"session_id": id})
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	var (
		info  models.SessionInfo
		found bool
	)
	if !s.onLoop(w, r, func() {
		if sess := s.manager.Registry().Find(id); sess != nil {
			info, found = sess.Info(), true
		}
	}) {
		return
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	markRead, _ := strconv.ParseBool(r.URL.Query().Get("mark_read"))

	var (
		msgs  []models.Message
		found bool
	)
	if !s.onLoop(w, r, func() {
		reg := s.manager.Registry()
		if found = reg.Has(id); found {
			msgs = reg.Messages(id, start, markRead)
		}
	}) {
		return
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	var req sendMessageRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	var found bool
	if !s.onLoop(w, r, func() {
		reg := s.manager.Registry()
		kind, exists := reg.Kind(id)
		if found = exists; found {
			s.manager.SendMessage(req.Text, id, reg.OtherParticipantID(id), kind)
		}
	}) {
		return
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

// sessionAction runs a bool-returning manager call for the {id} session
// and maps false to 404.
func (s *Service) sessionAction(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) bool) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	var done bool
	if !s.onLoop(w, r, func() { done = fn(id) }) {
		return
	}
	if !done {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (s *Service) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.manager.Registry().MarkAllRead)
}

func (s *Service) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.manager.LeaveSession)
}

func (s *Service) handleStartCall(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, func(id uuid.UUID) bool {
		return s.manager.StartCall(id, voice.DirectionOutgoing)
	})
}

func (s *Service) handleEndCall(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.manager.EndCall)
}

func (s *Service) handleDismissError(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.manager.DismissSessionError)
}

func (s *Service) handleRestoreSnoozed(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.manager.RestoreSnoozedSession)
}

func (s *Service) handleSendTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.sessionAction(w, r, func(id uuid.UUID) bool {
		reg := s.manager.Registry()
		if !reg.Has(id) {
			return false
		}
		s.manager.SendTypingState(id, reg.OtherParticipantID(id), req.Typing)
		return true
	})
}

func (s *Service) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	var invs []models.Invitation
	if !s.onLoop(w, r, func() { invs = s.manager.PendingInvitations() }) {
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Service) handleRespondInvitation(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !readJSON(w, r, &req) {
		return
	}
	resp, err := models.ParseCallResponse(req.Response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.sessionAction(w, r, func(id uuid.UUID) bool {
		return s.manager.RespondToInvitation(id, resp)
	})
}

func (s *Service) handleListSnoozed(w http.ResponseWriter, r *http.Request) {
	out := []snoozedSession{}
	if !s.onLoop(w, r, func() {
		for _, id := range s.manager.SnoozedSessions() {
			at, _ := s.manager.SnoozedAt(id)
			out = append(out, snoozedSession{
				SessionID: id,
				SnoozedAt: at,
				Expired:   s.manager.CheckSnoozeExpiration(id),
			})
		}
	}) {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleListMutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Mutes())
}

func (s *Service) handleAddMute(w http.ResponseWriter, r *http.Request) {
	var m models.Mute
	if !readJSON(w, r, &m) {
		return
	}
	if m.Type == "" {
		m.Type = models.MuteAgent
	}
	if m.ID == uuid.Nil && m.Name == "" {
		http.Error(w, "id or name is required", http.StatusBadRequest)
		return
	}
	if err := s.agent.AddMute(r.Context(), m); err != nil {
		log.Error().Err(err).Msg("Failed to add mute")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Service) handleRemoveMute(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	removed, err := s.agent.RemoveMute(r.Context(), id, r.URL.Query().Get("name"))
	if err != nil {
		log.Error().Err(err).Str("id", id.String()).Msg("Failed to remove mute")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "mute not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (s *Service) handleListFriends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Friends())
}

func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agent.Groups())
}

func (s *Service) handleSetGroupChatMuted(w http.ResponseWriter, r *http.Request) {
	id, valid := idParam(w, r)
	if !valid {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	found, err := s.agent.SetGroupChatMuted(r.Context(), id, req.Muted)
	if err != nil {
		log.Error().Err(err).Str("group_id", id.String()).Msg("Failed to update group chat mute")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}
	writeOK(w)
}

func (s *Service) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeJSON(w, http.StatusOK, map[string]int{})
		return
	}
	logs, err := s.transcripts.ListLogs(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list transcripts")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Service) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.transcripts == nil || name == "" {
		http.Error(w, "transcript not found", http.StatusNotFound)
		return
	}
	limit := sqlite.ParseLimitParam(r, DefaultTranscriptLimit)

	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()
	entries, err := s.transcripts.LoadHistory(ctx, name, limit)
	if err != nil {
		log.Error().Err(err).Str("log", name).Msg("Failed to load transcript")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
