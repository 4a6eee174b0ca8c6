// Package telemetry counts session model activity. Every counter is
// exported through an OpenTelemetry meter and mirrored in process so the
// status endpoint can report it without a collector.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/chatterbox"

// Drop reasons recorded by MessageDropped.
const (
	DropMuted       = "muted"
	DropFriendsOnly = "friends_only"
	DropGroupMuted  = "group_muted"
	DropIgnoreAdHoc = "ignore_adhoc"
	DropDND         = "dnd"
)

// Metrics tracks counts for the session model. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	startTime time.Time

	sessionsCreated  atomic.Int64
	sessionsRemoved  atomic.Int64
	messagesAppended atomic.Int64
	messagesDropped  atomic.Int64
	messagesSent     atomic.Int64
	startFailures    atomic.Int64
	invitations      atomic.Int64
	autoDeclined     atomic.Int64

	otelSessions    metric.Int64UpDownCounter
	otelMessages    metric.Int64Counter
	otelDropped     metric.Int64Counter
	otelSent        metric.Int64Counter
	otelFailures    metric.Int64Counter
	otelInvitations metric.Int64Counter
}

// New creates Metrics on the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates Metrics on meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{startTime: time.Now()}

	var err error
	if m.otelSessions, err = meter.Int64UpDownCounter("chatterbox.sessions",
		metric.WithDescription("Open IM sessions")); err != nil {
		return nil, err
	}
	if m.otelMessages, err = meter.Int64Counter("chatterbox.messages.appended",
		metric.WithDescription("Messages added to session buffers")); err != nil {
		return nil, err
	}
	if m.otelDropped, err = meter.Int64Counter("chatterbox.messages.dropped",
		metric.WithDescription("Messages dropped by filtering policy")); err != nil {
		return nil, err
	}
	if m.otelSent, err = meter.Int64Counter("chatterbox.messages.sent",
		metric.WithDescription("Outgoing message chunks")); err != nil {
		return nil, err
	}
	if m.otelFailures, err = meter.Int64Counter("chatterbox.sessions.start_failures",
		metric.WithDescription("Session start failures and timeouts")); err != nil {
		return nil, err
	}
	if m.otelInvitations, err = meter.Int64Counter("chatterbox.invitations",
		metric.WithDescription("Incoming invitations")); err != nil {
		return nil, err
	}
	return m, nil
}

// SessionCreated records a new session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(1)
	m.otelSessions.Add(context.Background(), 1)
}

// SessionRemoved records a removed session.
func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsRemoved.Add(1)
	m.otelSessions.Add(context.Background(), -1)
}

// MessageAppended records a message added to a session buffer.
func (m *Metrics) MessageAppended() {
	if m == nil {
		return
	}
	m.messagesAppended.Add(1)
	m.otelMessages.Add(context.Background(), 1)
}

// MessageDropped records a message discarded by policy.
func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(1)
	m.otelDropped.Add(context.Background(), 1, metric.WithAttributes(reasonAttr(reason)))
}

// MessageSent records one outgoing message chunk.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Add(1)
	m.otelSent.Add(context.Background(), 1)
}

// StartFailed records a failed or timed out session start.
func (m *Metrics) StartFailed() {
	if m == nil {
		return
	}
	m.startFailures.Add(1)
	m.otelFailures.Add(context.Background(), 1)
}

// InvitationReceived records an incoming invitation.
func (m *Metrics) InvitationReceived(autoDeclined bool) {
	if m == nil {
		return
	}
	m.invitations.Add(1)
	if autoDeclined {
		m.autoDeclined.Add(1)
	}
	m.otelInvitations.Add(context.Background(), 1, metric.WithAttributes(autoDeclinedAttr(autoDeclined)))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsCreated  int64  `json:"sessions_created"`
	SessionsRemoved  int64  `json:"sessions_removed"`
	MessagesAppended int64  `json:"messages_appended"`
	MessagesDropped  int64  `json:"messages_dropped"`
	MessagesSent     int64  `json:"messages_sent"`
	StartFailures    int64  `json:"start_failures"`
	Invitations      int64  `json:"invitations"`
	AutoDeclined     int64  `json:"auto_declined"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Uptime:           time.Since(m.startTime).Round(time.Second).String(),
		SessionsCreated:  m.sessionsCreated.Load(),
		SessionsRemoved:  m.sessionsRemoved.Load(),
		MessagesAppended: m.messagesAppended.Load(),
		MessagesDropped:  m.messagesDropped.Load(),
		MessagesSent:     m.messagesSent.Load(),
		StartFailures:    m.startFailures.Load(),
		Invitations:      m.invitations.Load(),
		AutoDeclined:     m.autoDeclined.Load(),
	}
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String("reason", reason)
}

func autoDeclinedAttr(v bool) attribute.KeyValue {
	return attribute.Bool("auto_declined", v)
}
