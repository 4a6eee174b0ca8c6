package worker

import (
	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/imsession"
	"github.com/thebtf/chatterbox/internal/worker/sse"
	"github.com/thebtf/chatterbox/pkg/models"
)

// SSE event types.
const (
	EventSessionAdded     = "session_added"
	EventSessionActivated = "session_activated"
	EventSessionStarted   = "session_started"
	EventSessionRemoved   = "session_removed"
	EventSessionIDUpdated = "session_id_updated"
	EventNewMessage       = "new_message"
	EventUnreadCleared    = "unread_cleared"
	EventTyping           = "typing"
	EventStartError       = "session_start_error"
	EventEventError       = "session_event_error"
	EventForceClose       = "force_close"
	EventInvitation       = "invitation"
	EventSystemNotice     = "system_notice"
)

type sessionRef struct {
	SessionID  uuid.UUID `json:"session_id"`
	Name       string    `json:"name,omitempty"`
	OtherID    uuid.UUID `json:"other_id,omitempty"`
	HasOffline bool      `json:"has_offline_message,omitempty"`
}

type idUpdate struct {
	OldID uuid.UUID `json:"old_session_id"`
	NewID uuid.UUID `json:"new_session_id"`
}

// EventSink turns session model callbacks into SSE events. It implements
// both imsession.Notifier and imsession.Observer; all calls arrive on the
// loop and only queue.
type EventSink struct {
	b *sse.Broadcaster
}

// NewEventSink publishes to b.
func NewEventSink(b *sse.Broadcaster) *EventSink {
	return &EventSink{b: b}
}

// Attach subscribes the sink to m and returns a subscription that
// detaches it again.
func (e *EventSink) Attach(m *imsession.Manager) event.Subscription {
	reg := m.Registry()
	subs := []event.Subscription{
		m.AddObserver(e),
		m.OnTyping(func(n imsession.TypingNotice) { e.publish(EventTyping, n) }),
		reg.OnNewMessage(func(n imsession.NewMessage) { e.publish(EventNewMessage, n) }),
		reg.OnUnreadCleared(func(n imsession.UnreadCleared) { e.publish(EventUnreadCleared, n) }),
	}
	return event.SubscriptionFunc(func() {
		for _, s := range subs {
			s.Close()
		}
	})
}

func (e *EventSink) publish(typ string, data any) {
	e.b.Publish(sse.Event{Type: typ, Data: data})
}

func (e *EventSink) SessionAdded(id uuid.UUID, name string, other uuid.UUID, hasOffline bool) {
	e.publish(EventSessionAdded, sessionRef{SessionID: id, Name: name, OtherID: other, HasOffline: hasOffline})
}

func (e *EventSink) SessionActivated(id uuid.UUID, name string, other uuid.UUID) {
	e.publish(EventSessionActivated, sessionRef{SessionID: id, Name: name, OtherID: other})
}

func (e *EventSink) SessionVoiceOrIMStarted(id uuid.UUID) {
	e.publish(EventSessionStarted, sessionRef{SessionID: id})
}

func (e *EventSink) SessionRemoved(id uuid.UUID) {
	e.publish(EventSessionRemoved, sessionRef{SessionID: id})
}

func (e *EventSink) SessionIDUpdated(oldID, newID uuid.UUID) {
	e.publish(EventSessionIDUpdated, idUpdate{OldID: oldID, NewID: newID})
}

func (e *EventSink) SessionStartError(n imsession.Notice) { e.publish(EventStartError, n) }
func (e *EventSink) SessionEventError(n imsession.Notice) { e.publish(EventEventError, n) }
func (e *EventSink) ForceClose(n imsession.Notice)        { e.publish(EventForceClose, n) }

func (e *EventSink) InvitationReceived(inv models.Invitation) {
	e.publish(EventInvitation, inv)
}

func (e *EventSink) SystemNotice(text string) {
	e.publish(EventSystemNotice, map[string]string{"text": text})
}
