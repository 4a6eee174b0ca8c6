// Package voice defines the voice channel abstraction bound to each IM
// session, and a local implementation used when no voice backend is
// attached.
package voice

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/event"
)

// State is the call state of a voice channel.
type State int

const (
	StateReady State = iota
	StateCallStarted
	StateRinging
	StateConnected
	StateHungUp
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCallStarted:
		return "call_started"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateHungUp:
		return "hung_up"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Direction tells who placed the call.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// StateChange is delivered to channel listeners after every transition.
type StateChange struct {
	Old       State
	New       State
	Direction Direction
}

// Listener receives state changes.
type Listener func(StateChange)

// Channel is the voice side of one session.
type Channel interface {
	SessionID() uuid.UUID
	UpdateSessionID(id uuid.UUID)
	Activate()
	Deactivate()
	SetCallDirection(d Direction)
	Direction() Direction
	State() State
	// CallStarted reports whether a call is in progress (started, ringing
	// or connected).
	CallStarted() bool
	OnStateChanged(l Listener) event.Subscription
}

// P2PChannel is a Channel that can be rebound to the voice handle of an
// accepted one-to-one call.
type P2PChannel interface {
	Channel
	SetSessionHandle(handle, uri string)
}

// Service creates channels and answers capability questions about
// participants and sessions.
type Service interface {
	NewP2PChannel(sessionID uuid.UUID, name string, other uuid.UUID, handle, uri string) Channel
	NewGroupChannel(sessionID uuid.UUID, name string) Channel
	IsParticipantAvatar(id uuid.UUID) bool
	IsSessionTextIMPossible(sessionID uuid.UUID) bool
	IsSessionCallBackPossible(sessionID uuid.UUID) bool
	DeclineInvite(handle string)
	EndUserIMSession(other uuid.UUID)
}

// Local is a Service without a media backend. Channels move through the
// call states immediately, which is enough to drive the session model and
// its call notices.
type Local struct {
	mu           sync.Mutex
	nonAvatars   map[uuid.UUID]struct{}
	textDisabled map[uuid.UUID]struct{}
	declined     []string
	ended        []uuid.UUID
	channels     map[*LocalChannel]struct{}
}

// NewLocal creates a Local voice service.
func NewLocal() *Local {
	return &Local{
		nonAvatars:   make(map[uuid.UUID]struct{}),
		textDisabled: make(map[uuid.UUID]struct{}),
		channels:     make(map[*LocalChannel]struct{}),
	}
}

// MarkNonAvatar records id as a telephony participant.
func (v *Local) MarkNonAvatar(id uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nonAvatars[id] = struct{}{}
}

// DisableText marks a session as voice only.
func (v *Local) DisableText(sessionID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.textDisabled[sessionID] = struct{}{}
}

// NewP2PChannel implements Service.
func (v *Local) NewP2PChannel(sessionID uuid.UUID, name string, other uuid.UUID, handle, uri string) Channel {
	return v.newChannel(sessionID, name, true, other, handle, uri)
}

// NewGroupChannel implements Service.
func (v *Local) NewGroupChannel(sessionID uuid.UUID, name string) Channel {
	return v.newChannel(sessionID, name, false, uuid.Nil, "", "")
}

func (v *Local) newChannel(sessionID uuid.UUID, name string, p2p bool, other uuid.UUID, handle, uri string) *LocalChannel {
	ch := &LocalChannel{
		service:   v,
		sessionID: sessionID,
		name:      name,
		p2p:       p2p,
		other:     other,
		handle:    handle,
		uri:       uri,
	}
	v.mu.Lock()
	v.channels[ch] = struct{}{}
	v.mu.Unlock()
	return ch
}

// IsParticipantAvatar implements Service.
func (v *Local) IsParticipantAvatar(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, telephony := v.nonAvatars[id]
	return !telephony
}

// IsSessionTextIMPossible implements Service.
func (v *Local) IsSessionTextIMPossible(sessionID uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, disabled := v.textDisabled[sessionID]
	return !disabled
}

// IsSessionCallBackPossible implements Service.
func (v *Local) IsSessionCallBackPossible(uuid.UUID) bool {
	return true
}

// DeclineInvite implements Service.
func (v *Local) DeclineInvite(handle string) {
	v.mu.Lock()
	v.declined = append(v.declined, handle)
	v.mu.Unlock()
	log.Debug().Str("handle", handle).Msg("Declined voice invite")
}

// EndUserIMSession implements Service.
func (v *Local) EndUserIMSession(other uuid.UUID) {
	v.mu.Lock()
	v.ended = append(v.ended, other)
	v.mu.Unlock()
}

// Declined returns the voice handles passed to DeclineInvite.
func (v *Local) Declined() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.declined...)
}

// Ended returns the participants passed to EndUserIMSession.
func (v *Local) Ended() []uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uuid.UUID(nil), v.ended...)
}

// ActiveChannels returns the number of channels currently in a call.
func (v *Local) ActiveChannels() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for ch := range v.channels {
		if ch.CallStarted() {
			n++
		}
	}
	return n
}

func (v *Local) track(ch *LocalChannel) {
	v.mu.Lock()
	v.channels[ch] = struct{}{}
	v.mu.Unlock()
}

func (v *Local) release(ch *LocalChannel) {
	v.mu.Lock()
	delete(v.channels, ch)
	v.mu.Unlock()
}

// LocalChannel is the Channel created by Local. Listeners run on the
// goroutine that changes the state.
type LocalChannel struct {
	service   *Local
	sessionID uuid.UUID
	name      string
	p2p       bool
	other     uuid.UUID
	handle    string
	uri       string

	mu        sync.Mutex
	state     State
	direction Direction
	listeners event.List[Listener]
}

// SessionID implements Channel.
func (c *LocalChannel) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UpdateSessionID implements Channel.
func (c *LocalChannel) UpdateSessionID(id uuid.UUID) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SetSessionHandle implements P2PChannel.
func (c *LocalChannel) SetSessionHandle(handle, uri string) {
	c.mu.Lock()
	c.handle = handle
	c.uri = uri
	c.mu.Unlock()
}

// Handle returns the voice handle of the channel.
func (c *LocalChannel) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// URI returns the voice URI of the channel.
func (c *LocalChannel) URI() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uri
}

// IsP2P reports whether the channel is a one-to-one channel.
func (c *LocalChannel) IsP2P() bool { return c.p2p }

// Activate starts the call. Without a media backend the call connects
// right away.
func (c *LocalChannel) Activate() {
	if c.CallStarted() {
		return
	}
	log.Debug().Str("session_id", c.SessionID().String()).Str("name", c.name).Msg("Activating voice channel")
	c.service.track(c)
	c.SetState(StateCallStarted)
	c.SetState(StateConnected)
}

// Deactivate hangs up and releases the channel.
func (c *LocalChannel) Deactivate() {
	if c.CallStarted() {
		c.SetState(StateHungUp)
	}
	c.service.release(c)
}

// SetCallDirection implements Channel.
func (c *LocalChannel) SetCallDirection(d Direction) {
	c.mu.Lock()
	c.direction = d
	c.mu.Unlock()
}

// Direction implements Channel.
func (c *LocalChannel) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// State implements Channel.
func (c *LocalChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CallStarted implements Channel.
func (c *LocalChannel) CallStarted() bool {
	switch c.State() {
	case StateCallStarted, StateRinging, StateConnected:
		return true
	}
	return false
}

// OnStateChanged implements Channel.
func (c *LocalChannel) OnStateChanged(l Listener) event.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &lockedSub{mu: &c.mu, sub: c.listeners.Add(l)}
}

// SetState moves the channel to s and notifies listeners.
func (c *LocalChannel) SetState(s State) {
	c.mu.Lock()
	old := c.state
	if old == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	change := StateChange{Old: old, New: s, Direction: c.direction}
	var listeners []Listener
	c.listeners.Each(func(l Listener) { listeners = append(listeners, l) })
	c.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

type lockedSub struct {
	mu  *sync.Mutex
	sub event.Subscription
}

func (s *lockedSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub.Close()
}
