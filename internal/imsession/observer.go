package imsession

import (
	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/pkg/models"
)

// Observer is told about session lifecycle changes.
type Observer interface {
	SessionAdded(id uuid.UUID, name string, other uuid.UUID, hasOffline bool)
	SessionActivated(id uuid.UUID, name string, other uuid.UUID)
	SessionVoiceOrIMStarted(id uuid.UUID)
	SessionRemoved(id uuid.UUID)
	SessionIDUpdated(oldID, newID uuid.UUID)
}

// ObserverFuncs implements Observer with optional callbacks.
type ObserverFuncs struct {
	Added     func(id uuid.UUID, name string, other uuid.UUID, hasOffline bool)
	Activated func(id uuid.UUID, name string, other uuid.UUID)
	Started   func(id uuid.UUID)
	Removed   func(id uuid.UUID)
	IDUpdated func(oldID, newID uuid.UUID)
}

func (f ObserverFuncs) SessionAdded(id uuid.UUID, name string, other uuid.UUID, hasOffline bool) {
	if f.Added != nil {
		f.Added(id, name, other, hasOffline)
	}
}

func (f ObserverFuncs) SessionActivated(id uuid.UUID, name string, other uuid.UUID) {
	if f.Activated != nil {
		f.Activated(id, name, other)
	}
}

func (f ObserverFuncs) SessionVoiceOrIMStarted(id uuid.UUID) {
	if f.Started != nil {
		f.Started(id)
	}
}

func (f ObserverFuncs) SessionRemoved(id uuid.UUID) {
	if f.Removed != nil {
		f.Removed(id)
	}
}

func (f ObserverFuncs) SessionIDUpdated(oldID, newID uuid.UUID) {
	if f.IDUpdated != nil {
		f.IDUpdated(oldID, newID)
	}
}

// fanout delivers each notification to every registered observer, in
// registration order.
type fanout struct {
	observers event.List[Observer]
}

func (f *fanout) add(o Observer) event.Subscription {
	return f.observers.Add(o)
}

func (f *fanout) sessionAdded(id uuid.UUID, name string, other uuid.UUID, hasOffline bool) {
	f.observers.Each(func(o Observer) { o.SessionAdded(id, name, other, hasOffline) })
}

func (f *fanout) sessionActivated(id uuid.UUID, name string, other uuid.UUID) {
	f.observers.Each(func(o Observer) { o.SessionActivated(id, name, other) })
}

func (f *fanout) sessionVoiceOrIMStarted(id uuid.UUID) {
	f.observers.Each(func(o Observer) { o.SessionVoiceOrIMStarted(id) })
}

func (f *fanout) sessionRemoved(id uuid.UUID) {
	f.observers.Each(func(o Observer) { o.SessionRemoved(id) })
}

func (f *fanout) sessionIDUpdated(oldID, newID uuid.UUID) {
	f.observers.Each(func(o Observer) { o.SessionIDUpdated(oldID, newID) })
}

// NewMessage is published after a message lands in a session buffer.
type NewMessage struct {
	SessionID         uuid.UUID          `json:"session_id"`
	SessionType       models.SessionType `json:"session_type"`
	Message           models.Message     `json:"message"`
	UnreadCount       int                `json:"num_unread"`
	ParticipantUnread int                `json:"participant_unread"`
	Announcement      bool               `json:"is_announcement"`
}

// UnreadCleared is published when a session's unread counters are reset.
type UnreadCleared struct {
	SessionID uuid.UUID `json:"session_id"`
}

// TypingNotice is published when a participant starts or stops typing.
type TypingNotice struct {
	SessionID uuid.UUID `json:"session_id"`
	FromID    uuid.UUID `json:"from_id"`
	Name      string    `json:"from_name"`
	Typing    bool      `json:"typing"`
}
