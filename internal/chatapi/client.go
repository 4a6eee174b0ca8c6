// Package chatapi is the outbound side of the wire: capability requests to
// the chat session service, instant message packets, and name lookups.
//
// Capability requests run on their own goroutines. Instant message
// packets go out one at a time in the order they were sent. Completions
// are posted to the executor supplied at construction so callers observe
// them on the event loop.
package chatapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/pkg/models"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 30 * time.Second

// Capability request methods.
const (
	MethodStartConference   = "start conference"
	MethodAcceptInvitation  = "accept invitation"
	MethodDeclineInvitation = "decline invitation"
)

// Instant message dialogs carried by outbound packets.
const (
	DialogNothingSpecial    = "nothing_special"
	DialogSessionSend       = "session_send"
	DialogSessionLeave      = "session_leave"
	DialogSessionGroupStart = "session_group_start"
	DialogSessionConfStart  = "session_conference_start"
	DialogTypingStart       = "typing_start"
	DialogTypingStop        = "typing_stop"
	DialogDoNotDisturbReply = "do_not_disturb_auto_response"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat service returned %d: %s", e.Code, e.Body)
}

// Unwrap maps 404 to models.ErrRemoteSessionNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return models.ErrRemoteSessionNotFound
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Request is the body of a ChatSessionRequest capability POST.
type Request struct {
	Method    string      `json:"method"`
	SessionID uuid.UUID   `json:"session-id"`
	Params    []uuid.UUID `json:"params,omitempty"`
}

// Packet is an outbound instant message.
type Packet struct {
	Dialog        string      `json:"dialog"`
	FromAgentID   uuid.UUID   `json:"from_agent_id"`
	FromAgentName string      `json:"from_agent_name"`
	ToAgentID     uuid.UUID   `json:"to_agent_id"`
	SessionID     uuid.UUID   `json:"session_id"`
	Message       string      `json:"message"`
	Offline       bool        `json:"offline"`
	BinaryBucket  []uuid.UUID `json:"binary_bucket,omitempty"`
}

// Options configures a Client.
type Options struct {
	ChatSessionURL string
	MessageURL     string
	NamesURL       string
	AgentID        uuid.UUID
	AgentName      string
	HTTPClient     *http.Client
}

// Client talks to the chat session service.
type Client struct {
	opts Options
	http *http.Client
	exec loop.Executor

	outMu    sync.Mutex
	outbox   []Packet
	draining bool
}

// New creates a Client. exec receives completions.
func New(opts Options, exec loop.Executor) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{opts: opts, http: hc, exec: exec}
}

// StartConference asks the service to open an ad-hoc conference. A 400
// means the service predates the capability, in which case the legacy
// conference start packet is sent instead.
func (c *Client) StartConference(tempID, other uuid.UUID, targets []uuid.UUID, done func(error)) {
	req := Request{Method: MethodStartConference, SessionID: tempID, Params: targets}
	go func() {
		_, err := c.capability(context.Background(), req)
		if err != nil && StatusCode(err) == http.StatusBadRequest {
			log.Info().Str("session_id", tempID.String()).Msg("Conference capability rejected, using legacy start")
			err = c.send(context.Background(), Packet{
				Dialog:       DialogSessionConfStart,
				ToAgentID:    other,
				SessionID:    tempID,
				BinaryBucket: targets,
			})
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", tempID.String()).Msg("Failed to start conference")
		}
		c.complete(func() { done(err) })
	}()
}

// StartGroupSession sends the group start packet. Fire and forget.
func (c *Client) StartGroupSession(sessionID, groupID uuid.UUID) {
	c.fire(Packet{Dialog: DialogSessionGroupStart, ToAgentID: groupID, SessionID: sessionID})
}

// AcceptInvitation joins an invited session. The reply carries the roster
// at the time the service answered.
func (c *Client) AcceptInvitation(sessionID uuid.UUID, done func(models.RosterSnapshot, error)) {
	req := Request{Method: MethodAcceptInvitation, SessionID: sessionID}
	go func() {
		var roster models.RosterSnapshot
		body, err := c.capability(context.Background(), req)
		if err == nil && len(body) > 0 {
			if jerr := json.Unmarshal(body, &roster); jerr != nil {
				err = fmt.Errorf("malformed accept reply: %w", jerr)
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to accept invitation")
		}
		c.complete(func() { done(roster, err) })
	}()
}

// DeclineInvitation rejects an invited session. done may be nil.
func (c *Client) DeclineInvitation(sessionID uuid.UUID, done func(error)) {
	req := Request{Method: MethodDeclineInvitation, SessionID: sessionID}
	go func() {
		_, err := c.capability(context.Background(), req)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to decline invitation")
		}
		if done != nil {
			c.complete(func() { done(err) })
		}
	}()
}

// LeaveSession tells the service the agent left a session.
func (c *Client) LeaveSession(sessionID, other uuid.UUID) {
	c.fire(Packet{Dialog: DialogSessionLeave, ToAgentID: other, SessionID: sessionID})
}

// SendTypingState sends a typing start or stop packet.
func (c *Client) SendTypingState(sessionID, other uuid.UUID, typing bool) {
	dialog := DialogTypingStop
	if typing {
		dialog = DialogTypingStart
	}
	c.fire(Packet{Dialog: dialog, ToAgentID: other, SessionID: sessionID, Message: "typing"})
}

// SendDoNotDisturb sends the busy auto-response to a caller.
func (c *Client) SendDoNotDisturb(sessionID, to uuid.UUID, text string) {
	c.fire(Packet{Dialog: DialogDoNotDisturbReply, ToAgentID: to, SessionID: sessionID, Message: text})
}

// SendInstantMessage sends one chunk of user text. Group and conference
// sessions use the session dialog; P2P uses the plain one.
func (c *Client) SendInstantMessage(sessionID, other uuid.UUID, text string, kind models.ConversationKind) {
	dialog := DialogSessionSend
	if kind == models.KindP2P {
		dialog = DialogNothingSpecial
	}
	c.fire(Packet{Dialog: dialog, ToAgentID: other, SessionID: sessionID, Message: text})
}

// LookupName resolves a participant name. It implements namecache.Lookup.
func (c *Client) LookupName(ctx context.Context, id uuid.UUID) (models.AvatarName, error) {
	if c.opts.NamesURL == "" {
		return models.AvatarName{}, errors.New("names service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.NamesURL+"?id="+id.String(), nil)
	if err != nil {
		return models.AvatarName{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.AvatarName{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return models.AvatarName{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.AvatarName{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var name models.AvatarName
	if err := json.Unmarshal(body, &name); err != nil {
		return models.AvatarName{}, fmt.Errorf("decode name: %w", err)
	}
	return name, nil
}

func (c *Client) complete(fn func()) {
	if c.exec == nil {
		fn()
		return
	}
	c.exec.Post(fn)
}

// fire queues p behind any packets still in flight. A single drain
// goroutine runs while the queue is non-empty.
func (c *Client) fire(p Packet) {
	c.outMu.Lock()
	c.outbox = append(c.outbox, p)
	if c.draining {
		c.outMu.Unlock()
		return
	}
	c.draining = true
	c.outMu.Unlock()

	go c.drain()
}

func (c *Client) drain() {
	for {
		c.outMu.Lock()
		if len(c.outbox) == 0 {
			c.draining = false
			c.outMu.Unlock()
			return
		}
		p := c.outbox[0]
		c.outbox[0] = Packet{}
		c.outbox = c.outbox[1:]
		c.outMu.Unlock()

		if err := c.send(context.Background(), p); err != nil {
			log.Warn().Err(err).Str("dialog", p.Dialog).Str("session_id", p.SessionID.String()).Msg("Failed to send packet")
		}
	}
}

func (c *Client) send(ctx context.Context, p Packet) error {
	if c.opts.MessageURL == "" {
		log.Debug().Str("dialog", p.Dialog).Msg("Message service not configured, dropping packet")
		return nil
	}
	p.FromAgentID = c.opts.AgentID
	p.FromAgentName = c.opts.AgentName
	_, err := c.post(ctx, c.opts.MessageURL, p)
	return err
}

func (c *Client) capability(ctx context.Context, req Request) ([]byte, error) {
	if c.opts.ChatSessionURL == "" {
		return nil, errors.New("chat session capability not configured")
	}
	return c.post(ctx, c.opts.ChatSessionURL, req)
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
