package imsession

import (
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/internal/clock"
	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/pkg/models"
)

// Session is the record of one conversation. It is owned by the Registry
// and must only be touched on the loop.
type Session struct {
	seq         uint64
	id          uuid.UUID
	name        string
	kind        models.ConversationKind
	typ         models.SessionType
	other       uuid.UUID
	targets     []uuid.UUID
	historyName string
	createdAt   time.Time

	// messages is kept oldest first; Messages returns newest first.
	messages          []models.Message
	unread            int
	participantUnread int
	lastParticipantAt time.Time

	state           models.InitState
	initTimer       clock.Timer
	startCallOnInit bool

	voice           voice.Channel
	voiceSub        event.Subscription
	startedAsIMCall bool
	textCapable     bool
	callBackEnabled bool

	roster      *Roster
	nameSub     event.Subscription
	closeAction models.CloseAction
	hasOffline  bool
	dndSent     bool
}

// Accessors.

func (s *Session) ID() uuid.UUID { return s.id }
func (s *Session) Name() string { return s.name }
func (s *Session) Kind() models.ConversationKind { return s.kind }
func (s *Session) Type() models.SessionType { return s.typ }
func (s *Session) OtherParticipantID() uuid.UUID { return s.other }
func (s *Session) HistoryName() string { return s.historyName }
func (s *Session) State() models.InitState { return s.state }
func (s *Session) UnreadCount() int { return s.unread }
func (s *Session) ParticipantUnreadCount() int { return s.participantUnread }
func (s *Session) LastParticipantMessageAt() time.Time { return s.lastParticipantAt }
func (s *Session) Voice() voice.Channel { return s.voice }
func (s *Session) Roster() *Roster { return s.roster }
func (s *Session) IsP2P() bool { return s.typ == models.SessionP2P }
func (s *Session) IsGroup() bool { return s.typ == models.SessionGroup }
func (s *Session) IsAdHocType() bool { return s.typ == models.SessionAdHoc }
func (s *Session) InitialTargetIDs() []uuid.UUID { return append([]uuid.UUID(nil), s.targets...) }
func (s *Session) IsOutgoingAdHoc() bool { return s.kind == models.KindConferenceStart }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Len() int { return len(s.messages) }
func (s *Session) callStarted() bool { return s.voice != nil && s.voice.CallStarted() }

// Messages returns the messages whose index is at least start, newest
// first.
func (s *Session) Messages(start int) []models.Message {
	if start < 0 {
		start = 0
	}
	n := len(s.messages) - start
	if n <= 0 {
		return nil
	}
	out := make([]models.Message, 0, n)
	for i := len(s.messages) - 1; i >= start; i-- {
		out = append(out, s.messages[i])
	}
	return out
}

func (s *Session) push(m models.Message) models.Message {
	m.Index = len(s.messages)
	s.messages = append(s.messages, m)
	return m
}

// Info returns a read-only snapshot of the record.
func (s *Session) Info() models.SessionInfo {
	info := models.SessionInfo{
		ID:                       s.id,
		Name:                     s.name,
		Kind:                     s.kind,
		Type:                     s.typ,
		OtherParticipantID:       s.other,
		InitialTargetIDs:         s.InitialTargetIDs(),
		HistoryName:              s.historyName,
		State:                    s.state,
		UnreadCount:              s.unread,
		ParticipantUnreadCount:   s.participantUnread,
		LastParticipantMessageAt: s.lastParticipantAt,
		TextCapable:              s.textCapable,
		VoiceCapable:             s.callBackEnabled,
		StartedAsIMCall:          s.startedAsIMCall,
		HasOfflineMessage:        s.hasOffline,
		CallActive:               s.callStarted(),
		Participants:             s.roster.IDs(),
	}
	return info
}
