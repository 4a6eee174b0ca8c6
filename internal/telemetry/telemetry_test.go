package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestMetrics_Snapshot(t *testing.T) {
	m, err := NewWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	m.SessionCreated()
	m.SessionCreated()
	m.SessionRemoved()
	m.MessageAppended()
	m.MessageDropped(DropMuted)
	m.MessageDropped(DropFriendsOnly)
	m.MessageSent()
	m.StartFailed()
	m.InvitationReceived(false)
	m.InvitationReceived(true)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.SessionsCreated)
	assert.Equal(t, int64(1), snap.SessionsRemoved)
	assert.Equal(t, int64(1), snap.MessagesAppended)
	assert.Equal(t, int64(2), snap.MessagesDropped)
	assert.Equal(t, int64(1), snap.MessagesSent)
	assert.Equal(t, int64(1), snap.StartFailures)
	assert.Equal(t, int64(2), snap.Invitations)
	assert.Equal(t, int64(1), snap.AutoDeclined)
	assert.NotEmpty(t, snap.Uptime)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionCreated()
		m.SessionRemoved()
		m.MessageAppended()
		m.MessageDropped(DropDND)
		m.MessageSent()
		m.StartFailed()
		m.InvitationReceived(true)
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestNew_GlobalProvider(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.SessionCreated()
	assert.Equal(t, int64(1), m.Snapshot().SessionsCreated)
}
