package imsession

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/identity"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/pkg/models"
)

// transcriptStampLayout names unhashed ad-hoc transcripts.
const transcriptStampLayout = "2006/01/02 15:04"

// Registry is the single source of truth for open sessions, keyed by
// session id.
type Registry struct {
	deps      *Deps
	sessions  map[uuid.UUID]*Session
	nextSeq   uint64
	pending   map[uuid.UUID]*rosterUpdates
	observers fanout

	newMessage    event.List[func(NewMessage)]
	unreadCleared event.List[func(UnreadCleared)]
}

func newRegistry(deps *Deps, pending map[uuid.UUID]*rosterUpdates) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[uuid.UUID]*Session),
		pending:  pending,
	}
}

// OnNewMessage registers fn for every message appended with AppendMessage.
func (r *Registry) OnNewMessage(fn func(NewMessage)) event.Subscription {
	return r.newMessage.Add(fn)
}

// OnUnreadCleared registers fn for MarkAllRead.
func (r *Registry) OnUnreadCleared(fn func(UnreadCleared)) event.Subscription {
	return r.unreadCleared.Add(fn)
}

// Find returns the session with id, or nil.
func (r *Registry) Find(id uuid.UUID) *Session {
	return r.sessions[id]
}

// Has reports whether a session with id exists.
func (r *Registry) Has(id uuid.UUID) bool {
	_, ok := r.sessions[id]
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Sessions returns every open session in creation order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CreateSession builds and registers a session record. It fails (false)
// when a session with id already exists or name is empty.
func (r *Registry) CreateSession(id uuid.UUID, name string, kind models.ConversationKind, other uuid.UUID, targets []uuid.UUID, voiceCall, hasOffline bool) bool {
	if name == "" {
		log.Warn().Str("session_id", id.String()).Msg("Refusing to create a session without a name")
		return false
	}
	if r.Has(id) {
		log.Warn().Str("session_id", id.String()).Msg("Session already exists")
		return false
	}

	cfg := r.deps.cfg()
	r.nextSeq++
	s := &Session{
		seq:             r.nextSeq,
		id:              id,
		name:            name,
		kind:            kind,
		other:           other,
		targets:         append([]uuid.UUID(nil), targets...),
		createdAt:       r.deps.Clock.Now(),
		state:           models.InitUninitialized,
		startedAsIMCall: voiceCall,
		textCapable:     true,
		callBackEnabled: true,
		roster:          newRoster(),
		closeAction:     cfg.CloseAction(),
		hasOffline:      hasOffline,
	}

	if kind.IsPeerToPeer() {
		s.voice = r.deps.Voice.NewP2PChannel(id, name, other, "", "")
		s.typ = models.SessionP2P
		if !r.deps.Voice.IsParticipantAvatar(other) {
			s.typ = models.SessionAvaline
		}
	} else {
		s.voice = r.deps.Voice.NewGroupChannel(id, name)
		s.typ = models.SessionAdHoc
		if r.deps.Agent.IsInGroup(id) {
			s.typ = models.SessionGroup
		}
	}
	s.voiceSub = s.voice.OnStateChanged(func(c voice.StateChange) {
		r.onVoiceStateChanged(s, c)
	})

	r.sessions[id] = s

	if r.SendStartSessionRequest(id, other, targets, kind) {
		s.state = models.InitPending
		timeout := cfg.SessionInitTimeout()
		s.initTimer = r.deps.Clock.AfterFunc(timeout, func() {
			r.deps.Exec.Post(func() { r.onInitTimeout(s) })
		})
	} else {
		s.state = models.InitInitialized
	}

	if kind == models.KindP2P {
		s.callBackEnabled = r.deps.Voice.IsSessionCallBackPossible(id)
		s.textCapable = r.deps.Voice.IsSessionTextIMPossible(id)
	}

	s.historyName = r.buildHistoryName(s)
	r.loadHistory(s)

	if s.typ == models.SessionAdHoc && kind == models.KindInvite {
		s.nameSub = r.deps.Names.Get(other, func(_ uuid.UUID, n models.AvatarName) {
			r.onAdHocNameResolved(s, n)
		})
	}

	if p := r.pending[id]; p != nil {
		s.roster.applyUpdates(p)
	}

	r.deps.Metrics.SessionCreated()
	log.Info().
		Str("session_id", id.String()).
		Str("name", name).
		Str("kind", kind.String()).
		Str("type", s.typ.String()).
		Msg("Session created")

	r.observers.sessionAdded(id, name, other, hasOffline)
	return true
}

// SendStartSessionRequest sends the start request for kinds that need a
// server round trip and reports whether one was sent.
func (r *Registry) SendStartSessionRequest(id, other uuid.UUID, targets []uuid.UUID, kind models.ConversationKind) bool {
	switch kind {
	case models.KindGroupStart:
		r.deps.Wire.StartGroupSession(id, other)
		return true
	case models.KindConferenceStart:
		r.deps.Wire.StartConference(id, other, targets, func(err error) {
			if err == nil {
				return
			}
			log.Warn().Err(err).Str("session_id", id.String()).Msg("Conference start failed")
			if r.MarkStartFailed(id) {
				r.showSessionStartError("conference_start_failed", id)
			}
		})
		return true
	}
	return false
}

func (r *Registry) onInitTimeout(s *Session) {
	if r.sessions[s.id] != s || s.state != models.InitPending {
		return
	}
	log.Warn().Str("session_id", s.id.String()).Msg("Session initialization timed out")
	s.state = models.InitError
	s.initTimer = nil
	r.deps.Metrics.StartFailed()
	r.showSessionStartError("session_initialization_timed_out_error", s.id)
}

// MarkStartFailed moves a pending session to the error state.
func (r *Registry) MarkStartFailed(id uuid.UUID) bool {
	s := r.sessions[id]
	if s == nil || s.state == models.InitInitialized {
		return false
	}
	s.stopInitTimer()
	s.state = models.InitError
	r.deps.Metrics.StartFailed()
	return true
}

func (s *Session) stopInitTimer() {
	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
}

// ReconcileSessionID marks the session initialized and, when the server
// assigned a different id, re-keys it. Observers are told in both cases.
func (r *Registry) ReconcileSessionID(oldID, newID uuid.UUID) bool {
	s := r.sessions[oldID]
	if s == nil {
		log.Warn().Str("session_id", oldID.String()).Msg("Start reply for unknown session")
		return false
	}
	s.stopInitTimer()
	s.state = models.InitInitialized

	if newID != oldID {
		if existing := r.sessions[newID]; existing != nil {
			log.Warn().Str("session_id", newID.String()).Msg("Replacing session with the same id")
			r.RemoveSession(newID)
			r.observers.sessionRemoved(newID)
		}
		delete(r.sessions, oldID)
		s.id = newID
		s.voice.UpdateSessionID(newID)
		r.sessions[newID] = s
		log.Info().Str("old_id", oldID.String()).Str("new_id", newID.String()).Msg("Session id updated")
	}

	r.observers.sessionIDUpdated(oldID, newID)

	if s.startCallOnInit {
		s.startCallOnInit = false
		r.startCall(s, voice.DirectionOutgoing)
	}
	return true
}

func (r *Registry) startCall(s *Session, d voice.Direction) {
	s.voice.SetCallDirection(d)
	s.voice.Activate()
}

// RemoveSession tears down a session: the name lookup is cancelled, the
// voice channel is disconnected and deactivated and the record dropped.
func (r *Registry) RemoveSession(id uuid.UUID) bool {
	s := r.sessions[id]
	if s == nil {
		return false
	}
	if s.nameSub != nil {
		s.nameSub.Close()
		s.nameSub = nil
	}
	s.stopInitTimer()
	if s.kind.IsPeerToPeer() && s.other != uuid.Nil {
		r.deps.Voice.EndUserIMSession(s.other)
	}
	s.voiceSub.Close()
	s.voice.Deactivate()
	delete(r.sessions, id)

	r.deps.Metrics.SessionRemoved()
	log.Info().Str("session_id", id.String()).Str("name", s.name).Msg("Session removed")
	return true
}

// AppendMessage adds a message to the session buffer and publishes it.
// It returns false if the session does not exist.
func (r *Registry) AppendMessage(id uuid.UUID, from string, fromID uuid.UUID, text string, logToFile bool) bool {
	return r.appendMessage(id, from, fromID, text, logToFile, false)
}

func (r *Registry) appendMessage(id uuid.UUID, from string, fromID uuid.UUID, text string, logToFile, announcement bool) bool {
	s, msg := r.appendSilently(id, from, fromID, text, logToFile, announcement)
	if s == nil {
		return false
	}
	ev := NewMessage{
		SessionID:         s.id,
		SessionType:       s.typ,
		Message:           msg,
		UnreadCount:       s.unread,
		ParticipantUnread: s.participantUnread,
		Announcement:      announcement,
	}
	r.newMessage.Each(func(fn func(NewMessage)) { fn(ev) })
	return true
}

// appendSilently updates the buffer and counters without publishing.
func (r *Registry) appendSilently(id uuid.UUID, from string, fromID uuid.UUID, text string, logToFile, announcement bool) (*Session, models.Message) {
	s := r.sessions[id]
	if s == nil {
		log.Warn().Str("session_id", id.String()).Msg("Message for unknown session")
		return nil, models.Message{}
	}

	name := from
	if from == models.InteractiveSystemFrom {
		name = models.SystemFrom
	}
	now := r.deps.Clock.Now()
	msg := s.push(models.Message{
		From:   name,
		FromID: fromID,
		Text:   text,
		Time:   now,
	})
	s.roster.chatted(fromID, now)

	if logToFile && !announcement {
		r.logToFile(s.historyName, name, fromID, text, now)
	}

	s.unread++
	self := r.deps.Agent.ID()
	if !(fromID == uuid.Nil || fromID == self || from == models.SystemFrom) || from == models.InteractiveSystemFrom {
		s.participantUnread++
		s.lastParticipantAt = now
	}
	r.deps.Metrics.MessageAppended()
	return s, msg
}

func (r *Registry) logToFile(logName, from string, fromID uuid.UUID, text string, at time.Time) {
	if r.deps.Transcripts == nil || !r.deps.cfg().KeepTranscripts {
		return
	}
	if fromID != uuid.Nil {
		if n, ok := r.deps.Names.Cached(fromID); ok && !n.DisplayNameDefault && n.IsValid() {
			from = n.CompleteName()
		}
	}
	ctx, cancel := storeContext()
	defer cancel()
	if _, err := r.deps.Transcripts.AppendEntry(ctx, logName, from, fromID, text, at); err != nil {
		log.Warn().Err(err).Str("log", logName).Msg("Failed to write transcript")
	}
}

func (r *Registry) loadHistory(s *Session) {
	cfg := r.deps.cfg()
	if r.deps.Transcripts == nil || !cfg.LogShowHistory {
		return
	}
	ctx, cancel := storeContext()
	defer cancel()
	entries, err := r.deps.Transcripts.LoadHistory(ctx, s.historyName, cfg.HistoryLimit)
	if err != nil {
		log.Warn().Err(err).Str("log", s.historyName).Msg("Failed to load history")
		return
	}
	for _, e := range entries {
		s.push(models.Message{
			From:      e.From,
			FromID:    e.FromID,
			Text:      e.Text,
			Time:      e.CreatedAt,
			IsHistory: true,
		})
	}
}

// buildHistoryName picks the transcript name of a new session.
func (r *Registry) buildHistoryName(s *Session) string {
	cfg := r.deps.cfg()
	switch {
	case r.isAdHoc(s):
		if len(s.targets) > 0 {
			return s.name + " hash" + identity.ParticipantsHash(s.targets).String()
		}
		return s.name + " " + s.createdAt.Format(transcriptStampLayout) + " " + s.id.String()[:4]
	case s.kind == models.KindP2P:
		full := s.name
		if n, ok := r.deps.Names.Cached(s.other); ok && n.UserName != "" {
			full = n.UserName
		}
		if cfg.LegacyLogNames {
			return identity.LegacyLogName(full)
		}
		return identity.BuildUsername(full)
	}
	return s.name
}

// isAdHoc reports whether the session is an ad-hoc conference: started by
// us, or an invitation into something that is not one of our groups.
func (r *Registry) isAdHoc(s *Session) bool {
	return s.kind == models.KindConferenceStart ||
		(s.kind == models.KindInvite && !r.deps.Agent.IsInGroup(s.id))
}

func (r *Registry) onAdHocNameResolved(s *Session, n models.AvatarName) {
	s.nameSub = nil
	if r.sessions[s.id] != s {
		return
	}
	agentName := ""
	if n.IsValid() {
		agentName = n.CompleteName()
	} else {
		// Without a resolved name, fall back to the "<name> Conference"
		// naming used for repaired session names.
		if i := strings.LastIndex(s.name, " "); i >= 0 && s.name[i+1:] == conferenceSuffix {
			agentName = s.name[:i]
		}
	}
	if agentName == "" {
		return
	}
	s.name = r.deps.Catalog.Format("conference-title-incoming", map[string]string{"AGENT_NAME": agentName})
}

func (r *Registry) onVoiceStateChanged(s *Session, c voice.StateChange) {
	if r.sessions[s.id] != s {
		return
	}
	key := ""
	args := map[string]string{}
	incoming := c.Direction == voice.DirectionIncoming

	switch s.typ {
	case models.SessionAvaline:
		return
	case models.SessionP2P:
		switch {
		case incoming && c.New == voice.StateCallStarted:
			key = "name_started_call"
			args["NAME"] = r.otherName(s)
		case incoming && c.New == voice.StateConnected:
			key = "you_joined_call"
		case !incoming && c.New == voice.StateCallStarted:
			key = "you_started_call"
		case !incoming && c.New == voice.StateConnected:
			key = "answered_call"
		}
	case models.SessionGroup, models.SessionAdHoc:
		switch {
		case incoming && c.New == voice.StateConnected:
			key = "you_joined_call"
		case !incoming && c.New == voice.StateCallStarted:
			key = "you_started_call"
		}
	}
	if key == "" {
		return
	}
	r.AppendMessage(s.id, models.SystemFrom, uuid.Nil, r.deps.Catalog.Format(key, args), true)
}

func (r *Registry) otherName(s *Session) string {
	if n, ok := r.deps.Names.Cached(s.other); ok && n.IsValid() {
		return n.CompleteName()
	}
	return s.name
}

// MarkAllRead resets both unread counters.
func (r *Registry) MarkAllRead(id uuid.UUID) bool {
	s := r.sessions[id]
	if s == nil {
		log.Warn().Str("session_id", id.String()).Msg("Mark read for unknown session")
		return false
	}
	s.unread = 0
	s.participantUnread = 0
	ev := UnreadCleared{SessionID: id}
	r.unreadCleared.Each(func(fn func(UnreadCleared)) { fn(ev) })
	return true
}

// Messages returns the session's messages with index >= start, newest
// first, and optionally marks the session read.
func (r *Registry) Messages(id uuid.UUID, start int, markRead bool) []models.Message {
	s := r.sessions[id]
	if s == nil {
		return nil
	}
	msgs := s.Messages(start)
	if markRead {
		r.MarkAllRead(id)
	}
	return msgs
}

// FindAdHocByParticipants returns the ad-hoc session whose initial targets
// are exactly ids, or nil. Both lists must have the same length and the
// same members; duplicates do not stand in for a missing participant.
func (r *Registry) FindAdHocByParticipants(ids []uuid.UUID) *Session {
	if len(ids) == 0 {
		return nil
	}
	want := uuidSet(ids)
	for _, s := range r.Sessions() {
		if !r.isAdHoc(s) || len(s.targets) != len(ids) {
			continue
		}
		if sameMembers(want, uuidSet(s.targets)) {
			return s
		}
	}
	return nil
}

func uuidSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sameMembers(a, b map[uuid.UUID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// Name returns the session name, or "" if unknown.
func (r *Registry) Name(id uuid.UUID) string {
	if s := r.sessions[id]; s != nil {
		return s.name
	}
	log.Warn().Str("session_id", id.String()).Msg("Name requested for unknown session")
	return ""
}

// UnreadCount returns the unread count, or -1 if the session is unknown.
func (r *Registry) UnreadCount(id uuid.UUID) int {
	if s := r.sessions[id]; s != nil {
		return s.unread
	}
	return -1
}

// ParticipantUnreadCount returns the participant unread count, or -1.
func (r *Registry) ParticipantUnreadCount(id uuid.UUID) int {
	if s := r.sessions[id]; s != nil {
		return s.participantUnread
	}
	return -1
}

// OtherParticipantID returns the other participant, or uuid.Nil.
func (r *Registry) OtherParticipantID(id uuid.UUID) uuid.UUID {
	if s := r.sessions[id]; s != nil {
		return s.other
	}
	return uuid.Nil
}

// Kind returns the conversation kind of the session.
func (r *Registry) Kind(id uuid.UUID) (models.ConversationKind, bool) {
	if s := r.sessions[id]; s != nil {
		return s.kind, true
	}
	return models.KindP2P, false
}

// VoiceChannel returns the voice channel bound to the session, or nil.
func (r *Registry) VoiceChannel(id uuid.UUID) voice.Channel {
	if s := r.sessions[id]; s != nil {
		return s.voice
	}
	return nil
}

// Roster returns the session roster, or nil.
func (r *Registry) Roster(id uuid.UUID) *Roster {
	if s := r.sessions[id]; s != nil {
		return s.roster
	}
	return nil
}

// TotalUnread sums unread counts across sessions.
func (r *Registry) TotalUnread() int {
	n := 0
	for _, s := range r.sessions {
		n += s.unread
	}
	return n
}

// TotalParticipantUnread sums participant unread counts across sessions.
func (r *Registry) TotalParticipantUnread() int {
	n := 0
	for _, s := range r.sessions {
		n += s.participantUnread
	}
	return n
}
