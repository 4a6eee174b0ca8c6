package imsession

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/identity"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/pkg/models"
)

const (
	// conferenceSuffix names ad-hoc sessions whose name had to be repaired.
	conferenceSuffix = "Conference"
	// MaxMessageBytes is the largest chunk the chat service accepts.
	MaxMessageBytes = 1023
	savedStampLayout = "2006-01-02 15:04:05 MST"
)

// Manager drives session lifecycles: creation, filtering, invitations,
// server replies, leaving and snoozing. It owns the Registry.
type Manager struct {
	deps     Deps
	reg      *Registry
	resolver *identity.Resolver

	pendingInvites    map[uuid.UUID]models.Invitation
	pendingRoster     map[uuid.UUID]*rosterUpdates
	inviteNameSubs    map[uuid.UUID]event.Subscription
	snoozes           map[uuid.UUID]time.Time
	nonFriendNotified map[uuid.UUID]struct{}

	typing event.List[func(TypingNotice)]
}

// NewManager creates a Manager with an empty registry.
func NewManager(deps Deps) *Manager {
	deps.setDefaults()
	m := &Manager{
		deps:              deps,
		resolver:          identity.NewResolver(deps.Agent.ID(), deps.Agent),
		pendingInvites:    make(map[uuid.UUID]models.Invitation),
		pendingRoster:     make(map[uuid.UUID]*rosterUpdates),
		inviteNameSubs:    make(map[uuid.UUID]event.Subscription),
		snoozes:           make(map[uuid.UUID]time.Time),
		nonFriendNotified: make(map[uuid.UUID]struct{}),
	}
	m.reg = newRegistry(&m.deps, m.pendingRoster)
	return m
}

// Registry returns the session registry.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// AddObserver registers a lifecycle observer.
func (m *Manager) AddObserver(o Observer) event.Subscription {
	return m.reg.observers.add(o)
}

// OnTyping registers fn for typing notifications.
func (m *Manager) OnTyping(fn func(TypingNotice)) event.Subscription {
	return m.typing.Add(fn)
}

// SessionID computes the session id for a conversation with other.
func (m *Manager) SessionID(kind models.ConversationKind, other uuid.UUID) uuid.UUID {
	return m.resolver.SessionID(kind, other)
}

// AddMessage routes an incoming or locally generated message into the
// session model, creating the session on first contact and applying the
// mute, friends-only, group-mute and ad-hoc filters. It reports whether
// the message landed in a buffer.
func (m *Manager) AddMessage(msg models.IncomingMessage) bool {
	cfg := m.deps.cfg()
	agent := m.deps.Agent
	other := msg.FromID

	id := msg.SessionID
	if id == uuid.Nil {
		id = m.resolver.SessionID(msg.Kind, other)
	}

	name := msg.From
	nameSet := false
	if len(msg.SessionName) > 1 {
		name = msg.SessionName
		nameSet = true
	}

	trusted := cfg.IsTrustedSender(msg.From)
	skip := false
	if cfg.FriendsOnly && !trusted &&
		(msg.Kind == models.KindP2P || (msg.Kind == models.KindInvite && !agent.IsInGroup(id))) {
		skip = !agent.IsFriend(other) && other != agent.ID()
	}

	if !m.reg.Has(id) {
		if n, ok := m.deps.Names.Cached(other); ok && !nameSet && n.DisplayName != "" {
			name = n.DisplayName
		}
		if name == "" && !msg.Kind.IsPeerToPeer() {
			name = m.repairSessionName(id, other)
		}

		if g, muted := m.groupChatMuted(id); muted {
			log.Info().Str("session_id", id.String()).Str("group", g.Name).Msg("Dropping message for muted group chat")
			m.deps.Notifier.SystemNotice(m.deps.Catalog.Format("GroupChatMuteNotice", map[string]string{"NAME": g.Name}))
			m.clearPending(id)
			m.deps.Wire.LeaveSession(id, other)
			m.deps.Metrics.MessageDropped(telemetry.DropGroupMuted)
			return false
		}

		if !msg.Kind.IsPeerToPeer() && agent.IsInGroup(id) && agent.IsMuted(other, msg.From, models.MuteAll) && !trusted {
			log.Info().Str("session_id", id.String()).Str("from", msg.From).Msg("Ignoring group message from muted resident")
			m.deps.Metrics.MessageDropped(telemetry.DropMuted)
			return false
		}

		// A message for a snoozed group brings the session back.
		if _, ok := m.snoozes[id]; ok {
			m.EvictSnoozedSession(id)
		}

		if !m.reg.CreateSession(id, name, msg.Kind, other, []uuid.UUID{other}, false, msg.Offline) {
			return false
		}

		skip = skip && !m.reg.Find(id).IsGroup()
		if skip {
			log.Info().Str("session_id", id.String()).Str("from", msg.From).Msg("Leaving session from non-friend")
			m.LeaveSession(id)
			m.deps.Metrics.MessageDropped(telemetry.DropFriendsOnly)
			return false
		}

		if agent.IsMuted(other, msg.From, models.MuteAll) && !trusted {
			log.Warn().Str("session_id", id.String()).Str("from", msg.From).Msg("Leaving session from initiating muted resident")
			m.LeaveSession(id)
			m.deps.Metrics.MessageDropped(telemetry.DropMuted)
			return false
		}

		isGroupChat := msg.Kind != models.KindP2P && agent.IsInGroup(id)
		if msg.Kind != models.KindP2P && !isGroupChat && cfg.IgnoreAdHocSessions && !trusted {
			log.Info().Str("session_id", id.String()).Str("from", msg.From).Msg("Ignoring ad-hoc session")
			m.LeaveSession(id)
			m.deps.Notifier.SystemNotice(m.deps.Catalog.Format("IgnoredAdHocSession", nil))
			m.deps.Metrics.MessageDropped(telemetry.DropIgnoreAdHoc)
			return false
		}
	}

	if skip {
		m.deps.Metrics.MessageDropped(telemetry.DropFriendsOnly)
		return false
	}
	if !trusted && agent.IsMuted(other, msg.From, models.MuteTextChat) {
		m.deps.Metrics.MessageDropped(telemetry.DropMuted)
		return false
	}
	return m.reg.appendMessage(id, msg.From, other, msg.Text, true, msg.Announcement)
}

// groupChatMuted reports whether messages for group id are suppressed.
func (m *Manager) groupChatMuted(id uuid.UUID) (models.GroupData, bool) {
	g, ok := m.deps.Agent.GroupData(id)
	if !ok {
		return g, false
	}
	cfg := m.deps.cfg()
	return g, g.ChatMuted || cfg.MuteAllGroups || (cfg.MuteGroupWhenNoticesDisabled && !g.AcceptNotices)
}

// repairSessionName derives a name for a group or ad-hoc session that
// arrived without one.
func (m *Manager) repairSessionName(id, caller uuid.UUID) string {
	if g, ok := m.deps.Agent.GroupData(id); ok && g.Name != "" {
		return g.Name
	}
	if n, ok := m.deps.Names.Cached(caller); ok && n.IsValid() {
		return n.CompleteName() + " " + conferenceSuffix
	}
	log.Warn().Str("session_id", id.String()).Msg("Unable to repair session name")
	return ""
}

// AddSystemMessage adds the catalog message key to a session, or to the
// transcript of args["user_id"] when the session is not open.
func (m *Manager) AddSystemMessage(id uuid.UUID, key string, args map[string]string) {
	if id == uuid.Nil {
		m.deps.Notifier.SystemNotice(m.deps.Catalog.Format(key, args))
		return
	}
	text := m.deps.Catalog.Format(key+"-im", args)
	if m.reg.Has(id) {
		m.reg.AppendMessage(id, models.SystemFrom, uuid.Nil, text, true)
		return
	}

	if m.deps.Transcripts == nil || !m.deps.cfg().KeepTranscripts {
		return
	}
	userID, err := uuid.Parse(args["user_id"])
	if err != nil {
		log.Debug().Str("session_id", id.String()).Msg("System message for closed session without user_id")
		return
	}
	full := ""
	if n, ok := m.deps.Names.Cached(userID); ok {
		full = n.UserName
	}
	if full == "" {
		return
	}
	logName := identity.BuildUsername(full)
	if m.deps.cfg().LegacyLogNames {
		logName = identity.LegacyLogName(full)
	}
	m.reg.logToFile(logName, models.SystemFrom, uuid.Nil, text, m.deps.Clock.Now())
}

// AddSession opens (or re-activates) a session and returns its id. Empty
// targets or an empty name return uuid.Nil.
func (m *Manager) AddSession(name string, kind models.ConversationKind, other uuid.UUID, targets []uuid.UUID, voiceCall bool) uuid.UUID {
	if len(targets) == 0 {
		log.Warn().Str("name", name).Msg("AddSession without participants")
		return uuid.Nil
	}
	if name == "" {
		log.Warn().Str("other", other.String()).Msg("AddSession without a name")
		return uuid.Nil
	}

	id := m.resolver.SessionID(kind, other)
	isNew := !m.reg.Has(id)

	// Reuse an existing outgoing conference with the same people.
	if isNew && kind == models.KindConferenceStart {
		if s := m.reg.FindAdHocByParticipants(targets); s != nil {
			isNew = false
			id = s.ID()
		}
	}

	if !isNew {
		m.reg.observers.sessionActivated(id, m.reg.Name(id), other)
		return id
	}
	if !m.reg.CreateSession(id, name, kind, other, targets, voiceCall, false) {
		return uuid.Nil
	}

	log.Info().Str("session_id", id.String()).Str("name", name).Str("kind", kind.String()).Msg("Session added")
	if kind == models.KindP2P {
		m.noteMutedUsers(id, targets)
	}
	m.reg.observers.sessionVoiceOrIMStarted(id)
	return id
}

// AddP2PSession opens a P2P session for an accepted voice invitation and
// binds its channel to the caller's voice handle.
func (m *Manager) AddP2PSession(name string, other uuid.UUID, handle, uri string) uuid.UUID {
	id := m.AddSession(name, models.KindP2P, other, []uuid.UUID{other}, true)
	if ch, ok := m.reg.VoiceChannel(id).(voice.P2PChannel); ok {
		ch.SetSessionHandle(handle, uri)
	}
	return id
}

func (m *Manager) noteMutedUsers(id uuid.UUID, ids []uuid.UUID) {
	for _, other := range ids {
		if m.deps.Agent.IsMuted(other, "", models.MuteAll) {
			m.reg.AppendMessage(id, models.SystemFrom, uuid.Nil, m.deps.Catalog.Format("muted_message", nil), true)
			return
		}
	}
}

// SendMessage delivers text in chunks the chat service accepts. Messaging
// a muted participant outside a group unmutes them. P2P sessions echo the
// message locally.
func (m *Manager) SendMessage(text string, id, other uuid.UUID, kind models.ConversationKind) {
	for _, chunk := range SplitMessage(text, MaxMessageBytes) {
		m.deps.Wire.SendInstantMessage(id, other, chunk, kind)
		m.deps.Metrics.MessageSent()
	}

	agent := m.deps.Agent
	isGroupChat := agent.IsInGroup(id)
	if !isGroupChat && other != uuid.Nil && agent.IsMuted(other, "", models.MuteAll) {
		ctx, cancel := storeContext()
		removed, err := agent.RemoveMute(ctx, other, "")
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("id", other.String()).Msg("Failed to remove mute")
		} else if removed {
			log.Info().Str("id", other.String()).Msg("Unmuted resident after sending a message")
			name := m.reg.Name(id)
			m.deps.Notifier.SystemNotice(m.deps.Catalog.Format("auto_unmuted", map[string]string{"NAME": name}))
		}
	}

	if kind == models.KindP2P && other != uuid.Nil {
		m.reg.AppendMessage(id, agent.FullName(), agent.ID(), text, true)
	}
}

// SplitMessage cuts text into chunks of at most limit bytes. It prefers to
// split before a space, then avoids splitting a UTF-8 sequence, and only
// then splits hard.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	pos := 0
	for pos < len(text) {
		next := limit
		if pos+next >= len(text) {
			next = len(text) - pos
		} else {
			for next > 0 && text[pos+next] != ' ' {
				next--
			}
			if next == 0 {
				next = limit
				for next > 0 && text[pos+next] >= 0x80 && text[pos+next] < 0xC0 {
					next--
				}
			}
			if next == 0 {
				log.Warn().Int("offset", pos).Msg("Unable to split message cleanly")
				next = limit
			}
		}
		chunks = append(chunks, text[pos:pos+next])
		pos += next
	}
	return chunks
}

// SendTypingState forwards our typing state when enabled.
func (m *Manager) SendTypingState(id, other uuid.UUID, typing bool) {
	if !m.deps.cfg().SendTypingState {
		return
	}
	m.deps.Wire.SendTypingState(id, other, typing)
}

// LeaveSession leaves a session. Group sessions whose close action is
// snooze are snoozed instead of left on the server.
func (m *Manager) LeaveSession(id uuid.UUID) bool {
	s := m.reg.Find(id)
	if s == nil {
		log.Warn().Str("session_id", id.String()).Msg("Leave for unknown session")
		return false
	}
	if s.IsGroup() && s.closeAction == models.CloseSnooze {
		m.snooze(id, m.deps.Clock.Now())
	} else {
		m.deps.Wire.LeaveSession(id, s.other)
	}
	return m.RemoveSession(id)
}

// RemoveSession drops a session and its pending state, then notifies
// observers.
func (m *Manager) RemoveSession(id uuid.UUID) bool {
	if !m.reg.Has(id) {
		log.Warn().Str("session_id", id.String()).Msg("Remove for unknown session")
		return false
	}
	m.clearPending(id)
	m.reg.RemoveSession(id)
	m.reg.observers.sessionRemoved(id)
	return true
}

func (m *Manager) clearPending(id uuid.UUID) {
	m.clearPendingInvitation(id)
	m.clearPendingAgentListUpdates(id)
}

func (m *Manager) clearPendingInvitation(id uuid.UUID) {
	delete(m.pendingInvites, id)
	if sub, ok := m.inviteNameSubs[id]; ok {
		sub.Close()
		delete(m.inviteNameSubs, id)
	}
}

func (m *Manager) clearPendingAgentListUpdates(id uuid.UUID) {
	delete(m.pendingRoster, id)
}

// PendingInvitations returns the invitations still awaiting an answer.
func (m *Manager) PendingInvitations() []models.Invitation {
	out := make([]models.Invitation, 0, len(m.pendingInvites))
	for _, inv := range m.pendingInvites {
		out = append(out, inv)
	}
	return out
}

// HasPendingInvitation reports whether an invitation for id is pending.
func (m *Manager) HasPendingInvitation(id uuid.UUID) bool {
	_, ok := m.pendingInvites[id]
	return ok
}

// ProcessAgentListUpdates applies a roster delta, or buffers it until the
// session exists.
func (m *Manager) ProcessAgentListUpdates(id uuid.UUID, u models.AgentListUpdate) {
	if s := m.reg.Find(id); s != nil {
		s.roster.Apply(u)
		return
	}
	p := m.pendingRoster[id]
	if p == nil {
		p = newRosterUpdates()
	}
	p.merge(u)
	if !p.empty() {
		m.pendingRoster[id] = p
	}
}

// HasPendingAgentListUpdates reports whether roster deltas are buffered
// for id.
func (m *Manager) HasPendingAgentListUpdates(id uuid.UUID) bool {
	_, ok := m.pendingRoster[id]
	return ok
}

func (m *Manager) seedRoster(id uuid.UUID, snap models.RosterSnapshot) {
	s := m.reg.Find(id)
	if s == nil {
		return
	}
	s.roster.SetBase(snap)
	if p := m.pendingRoster[id]; p != nil {
		s.roster.applyUpdates(p)
	}
}

// ProcessSessionStartReply handles ChatterBoxSessionStartReply.
func (m *Manager) ProcessSessionStartReply(reply models.StartReply) {
	if reply.Success {
		if m.reg.ReconcileSessionID(reply.TempSessionID, reply.SessionID) {
			m.seedRoster(reply.SessionID, reply.RosterSnapshot)
		}
		m.clearPendingAgentListUpdates(reply.SessionID)
		return
	}
	if m.reg.MarkStartFailed(reply.TempSessionID) {
		m.reg.showSessionStartError(reply.Error, reply.TempSessionID)
	}
	m.clearPendingAgentListUpdates(reply.TempSessionID)
	m.clearPendingAgentListUpdates(reply.SessionID)
}

// ProcessSessionEventReply handles ChatterBoxSessionEventReply.
func (m *Manager) ProcessSessionEventReply(reply models.EventReply) {
	if reply.Success {
		return
	}
	m.reg.showSessionEventError(reply.Event, reply.Error, reply.SessionID)
}

// ProcessForceClose handles ForceCloseChatterBoxSession.
func (m *Manager) ProcessForceClose(fc models.ForceClose) {
	m.reg.showSessionForceClose(fc.Reason, fc.SessionID)
}

// DismissSessionError is the user's acknowledgement of a start failure or
// forced close. The session is left.
func (m *Manager) DismissSessionError(id uuid.UUID) bool {
	return m.LeaveSession(id)
}

// InviteToSession classifies an incoming invitation and either answers it
// automatically or surfaces it through the notifier.
func (m *Manager) InviteToSession(inv models.Invitation) {
	cfg := m.deps.cfg()
	agent := m.deps.Agent
	id := inv.SessionID

	inv.Question = models.QuestionDefault
	voiceInvite := false
	switch {
	case inv.Kind == models.KindP2PInvite:
		inv.Class = models.InviteVoiceP2P
		voiceInvite = true
	case agent.IsInGroup(id):
		inv.Class = models.InviteVoiceGroup
		inv.Question = models.QuestionGroup
		voiceInvite = true
	case inv.InvitationType == models.InvitationVoice:
		inv.Class = models.InviteVoiceAdHoc
		voiceInvite = true
	case inv.InvitationType == models.InvitationImmediate:
		inv.Class = models.InviteAdHoc
	}

	trusted := cfg.IsTrustedSender(inv.CallerName)
	if agent.IsMuted(inv.CallerID, inv.CallerName, models.MuteAll) && !trusted {
		if voiceInvite && inv.Question == models.QuestionDefault {
			log.Info().Str("session_id", id.String()).Msg("Declining voice call from muted resident")
			m.ProcessCallResponse(models.CallDecline, inv)
		}
		m.deps.Metrics.InvitationReceived(true)
		return
	}

	if ch := m.reg.VoiceChannel(id); ch != nil && ch.CallStarted() {
		m.ProcessCallResponse(models.CallAccept, inv)
		m.deps.Metrics.InvitationReceived(false)
		return
	}

	if voiceInvite {
		rejectGroup := cfg.RejectGroupCalls && inv.Class == models.InviteVoiceGroup
		rejectNonFriend := cfg.FriendsOnly && !agent.IsFriend(inv.CallerID)
		rejectAdHoc := cfg.RejectAdHocCalls && inv.Class == models.InviteVoiceAdHoc
		rejectP2P := cfg.RejectP2PCalls && inv.Class == models.InviteVoiceP2P
		dnd := cfg.DoNotDisturb
		if rejectGroup || rejectNonFriend || rejectAdHoc || rejectP2P || dnd {
			if dnd && !(rejectGroup || rejectNonFriend || rejectAdHoc || rejectP2P) {
				m.AddSystemMessage(id, "you_auto_rejected_call", map[string]string{"user_id": inv.CallerID.String()})
				m.deps.Wire.SendDoNotDisturb(id, inv.CallerID, cfg.DNDResponse)
			}
			log.Info().Str("session_id", id.String()).Str("class", string(inv.Class)).Msg("Auto-declining voice invitation")
			m.ProcessCallResponse(models.CallDecline, inv)
			m.deps.Metrics.InvitationReceived(true)
			return
		}
	}

	if _, pending := m.pendingInvites[id]; !pending {
		if inv.CallerName == "" {
			m.inviteNameSubs[id] = m.deps.Names.Get(inv.CallerID, func(_ uuid.UUID, n models.AvatarName) {
				delete(m.inviteNameSubs, id)
				inv.CallerName = n.CompleteName()
				inv.SessionName = inv.CallerName
				if _, still := m.pendingInvites[id]; still {
					m.pendingInvites[id] = inv
				}
				m.deps.Notifier.InvitationReceived(inv)
			})
		} else {
			m.deps.Notifier.InvitationReceived(inv)
		}
		m.pendingInvites[id] = inv
	}
	m.deps.Metrics.InvitationReceived(false)
}

// RespondToInvitation answers a pending invitation.
func (m *Manager) RespondToInvitation(id uuid.UUID, resp models.CallResponse) bool {
	inv, ok := m.pendingInvites[id]
	if !ok {
		log.Warn().Str("session_id", id.String()).Msg("No pending invitation")
		return false
	}
	m.ProcessCallResponse(resp, inv)
	return true
}

// ProcessCallResponse carries out the answer to an invitation. Accepting
// text only opens the session but still declines the call on the server,
// exactly like a decline.
func (m *Manager) ProcessCallResponse(resp models.CallResponse, inv models.Invitation) {
	id := inv.SessionID

	switch resp {
	case models.CallAccept, models.CallAcceptTextOnly:
		voiceOn := resp == models.CallAccept
		if inv.Kind == models.KindP2PInvite {
			id = m.AddP2PSession(inv.SessionName, inv.CallerID, inv.VoiceHandle, inv.VoiceURI)
			if voiceOn {
				m.StartCall(id, voice.DirectionIncoming)
			} else if s := m.reg.Find(id); s != nil {
				m.reg.observers.sessionActivated(id, s.name, inv.CallerID)
			}
		} else {
			name := inv.SessionName
			if name == "" {
				log.Warn().Str("session_id", id.String()).Msg("Invitation without a session name")
				name = m.repairSessionName(id, inv.CallerID)
			}
			m.AddSession(name, inv.Kind, id, []uuid.UUID{id}, true)
			if voiceOn {
				m.acceptInvitation(id, inv.InvitationType)
				if inv.Class == models.InviteVoiceGroup || inv.Class == models.InviteVoiceAdHoc {
					m.reg.appendSilently(id, models.SystemFrom, uuid.Nil,
						m.deps.Catalog.Format("name_started_call", map[string]string{"NAME": inv.CallerName}), true, false)
				}
			}
		}
		if !voiceOn {
			m.declineInvitation(inv)
		}
	case models.CallMuteAndDecline:
		if !m.deps.Agent.IsMuted(inv.CallerID, "", models.MuteAll) {
			ctx, cancel := storeContext()
			err := m.deps.Agent.AddMute(ctx, models.Mute{ID: inv.CallerID, Name: inv.CallerName, Type: models.MuteAgent})
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("id", inv.CallerID.String()).Msg("Failed to mute caller")
			}
		}
		m.declineInvitation(inv)
	case models.CallDecline:
		m.declineInvitation(inv)
	}

	m.clearPending(id)
	if id != inv.SessionID {
		m.clearPending(inv.SessionID)
	}
}

func (m *Manager) declineInvitation(inv models.Invitation) {
	if inv.Kind == models.KindP2PInvite {
		m.deps.Voice.DeclineInvite(inv.VoiceHandle)
		return
	}
	m.deps.Wire.DeclineInvitation(inv.SessionID, func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("session_id", inv.SessionID.String()).Msg("Decline invitation failed")
		}
	})
}

func (m *Manager) acceptInvitation(id uuid.UUID, invType models.InvitationType) {
	m.deps.Wire.AcceptInvitation(id, func(snap models.RosterSnapshot, err error) {
		m.onAcceptReply(id, invType, snap, err)
	})
}

func (m *Manager) onAcceptReply(id uuid.UUID, invType models.InvitationType, snap models.RosterSnapshot, err error) {
	if err != nil {
		m.clearPending(id)
		log.Warn().Err(err).Str("session_id", id.String()).Msg("Accept invitation failed")
		if errors.Is(err, models.ErrRemoteSessionNotFound) {
			m.reg.showSessionStartError("session_does_not_exist_error", id)
		} else {
			m.reg.showSessionEventError("accept_invitation_event", err.Error(), id)
		}
		return
	}
	m.seedRoster(id, snap)
	if invType == models.InvitationVoice {
		m.StartCall(id, voice.DirectionIncoming)
	}
	m.clearPending(id)
}

// ProcessInstantMessageInvitation handles the "instantmessage" flavour of
// ChatterBoxInvitation: a group or conference message that implicitly
// invites the agent.
func (m *Manager) ProcessInstantMessageInvitation(ti models.TextInvitation) {
	cfg := m.deps.cfg()
	id := ti.SessionID

	if cfg.DoNotDisturb {
		log.Debug().Str("session_id", id.String()).Msg("Ignoring chat invitation while in do not disturb")
		m.deps.Metrics.MessageDropped(telemetry.DropDND)
		return
	}

	if g, ok := m.deps.Agent.GroupData(id); ok &&
		(cfg.MuteAllGroups || (cfg.MuteGroupWhenNoticesDisabled && !g.AcceptNotices)) {
		log.Info().Str("session_id", id.String()).Str("group", g.Name).Msg("Declining muted group chat")
		m.deps.Notifier.SystemNotice(m.deps.Catalog.Format("GroupChatMuteNotice", map[string]string{"NAME": g.Name}))
		m.deps.Wire.LeaveSession(id, ti.FromID)
		if m.reg.Has(id) {
			m.RemoveSession(id)
		}
		m.deps.Metrics.MessageDropped(telemetry.DropGroupMuted)
		return
	}

	text := ti.Message
	if ti.Offline {
		stamp := time.Unix(ti.Timestamp, 0).UTC().Format(savedStampLayout)
		text = m.deps.Catalog.Format("Saved_message", map[string]string{"LONG_TIMESTAMP": stamp}) + text
	}

	if ti.FromID == m.deps.Agent.ID() {
		return
	}

	m.AddMessage(models.IncomingMessage{
		SessionID:   id,
		FromID:      ti.FromID,
		From:        ti.FromName,
		Text:        text,
		Offline:     ti.Offline,
		SessionName: ti.SessionName,
		Kind:        models.KindInvite,
	})

	if m.deps.Agent.IsMuted(ti.FromID, ti.FromName, models.MuteTextChat) {
		return
	}
	if m.reg.Has(id) {
		m.acceptInvitation(id, models.InvitationInstantMessage)
	}
}

// ProcessTyping handles a typing start or stop from a participant. The
// first keystroke of an unknown sender may announce the incoming IM and,
// in do not disturb, trigger the auto-response.
func (m *Manager) ProcessTyping(ev models.TypingEvent) {
	cfg := m.deps.cfg()
	agent := m.deps.Agent
	id := m.resolver.SessionID(ev.Kind, ev.FromID)

	if ev.Typing && !m.reg.Has(id) && cfg.AnnounceIncomingIM {
		muted := agent.IsMuted(ev.FromID, ev.Name, models.MuteTextChat)
		friendOK := !cfg.FriendsOnly || agent.IsFriend(ev.FromID)

		if !muted && friendOK {
			m.AddMessage(models.IncomingMessage{
				SessionID:    id,
				FromID:       ev.FromID,
				From:         models.SystemFrom,
				Text:         m.deps.Catalog.Format("IM_announce_incoming", map[string]string{"NAME": ev.Name}),
				SessionName:  ev.Name,
				Kind:         models.KindP2P,
				Announcement: true,
			})
		}

		if cfg.DoNotDisturb && friendOK && !cfg.IsTrustedSender(ev.Name) {
			m.deps.Wire.SendDoNotDisturb(id, ev.FromID, cfg.DNDResponse)
			m.AddMessage(models.IncomingMessage{
				SessionID:    id,
				FromID:       agent.ID(),
				Text:         m.deps.Catalog.Format("IM_autoresponse_sent", nil),
				SessionName:  ev.Name,
				Kind:         models.KindP2P,
				Announcement: true,
			})
			m.SetDNDMessageSent(id, true)
		}
	}

	if s := m.reg.Find(id); s != nil {
		s.roster.SetTyping(ev.FromID, ev.Typing)
	}
	notice := TypingNotice{SessionID: id, FromID: ev.FromID, Name: ev.Name, Typing: ev.Typing}
	m.typing.Each(func(fn func(TypingNotice)) { fn(notice) })
}

// StartCall activates the session's voice channel in direction d.
func (m *Manager) StartCall(id uuid.UUID, d voice.Direction) bool {
	s := m.reg.Find(id)
	if s == nil {
		return false
	}
	m.reg.startCall(s, d)
	return true
}

// EndCall deactivates the session's voice channel.
func (m *Manager) EndCall(id uuid.UUID) bool {
	ch := m.reg.VoiceChannel(id)
	if ch == nil {
		return false
	}
	ch.Deactivate()
	return true
}

// IsVoiceCall reports whether the session was started as a call.
func (m *Manager) IsVoiceCall(id uuid.UUID) bool {
	s := m.reg.Find(id)
	return s != nil && s.startedAsIMCall
}

// AutoStartCallOnStartup starts an outgoing call now if the session is
// initialized, otherwise as soon as it is.
func (m *Manager) AutoStartCallOnStartup(id uuid.UUID) {
	s := m.reg.Find(id)
	if s == nil {
		return
	}
	if s.state == models.InitInitialized {
		m.reg.startCall(s, voice.DirectionOutgoing)
		return
	}
	s.startCallOnInit = true
}

// UpdateDNDMessageStatus re-arms the do not disturb auto-response for
// every P2P session.
func (m *Manager) UpdateDNDMessageStatus() {
	for _, s := range m.reg.sessions {
		if s.kind == models.KindP2P {
			s.dndSent = false
		}
	}
}

// IsDNDMessageSent reports whether the auto-response went out for id.
func (m *Manager) IsDNDMessageSent(id uuid.UUID) bool {
	s := m.reg.Find(id)
	return s != nil && s.dndSent
}

// SetDNDMessageSent records whether the auto-response went out for id.
func (m *Manager) SetDNDMessageSent(id uuid.UUID, sent bool) {
	if s := m.reg.Find(id); s != nil {
		s.dndSent = sent
	}
}

// AddNotifiedNonFriendSessionID remembers that the user was told about a
// session from a non-friend.
func (m *Manager) AddNotifiedNonFriendSessionID(id uuid.UUID) {
	m.nonFriendNotified[id] = struct{}{}
}

// IsNonFriendSessionNotified reports whether the user was told about id.
func (m *Manager) IsNonFriendSessionNotified(id uuid.UUID) bool {
	_, ok := m.nonFriendNotified[id]
	return ok
}
