package imsession

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

// Notice describes a session failure surfaced to the user.
type Notice struct {
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	Event     string    `json:"event,omitempty"`
	Reason    string    `json:"reason"`
	Text      string    `json:"text"`
}

// Notifier surfaces errors, invitations and notices outside the session
// buffers. Calls arrive on the loop and must not block.
type Notifier interface {
	SessionStartError(n Notice)
	SessionEventError(n Notice)
	ForceClose(n Notice)
	InvitationReceived(inv models.Invitation)
	SystemNotice(text string)
}

// NopNotifier logs and otherwise drops notifications.
type NopNotifier struct{}

func (NopNotifier) SessionStartError(n Notice) {
	log.Warn().Str("session_id", n.SessionID.String()).Str("reason", n.Reason).Msg("Session start error")
}

func (NopNotifier) SessionEventError(n Notice) {
	log.Warn().Str("session_id", n.SessionID.String()).Str("event", n.Event).Str("reason", n.Reason).Msg("Session event error")
}

func (NopNotifier) ForceClose(n Notice) {
	log.Warn().Str("session_id", n.SessionID.String()).Str("reason", n.Reason).Msg("Session force closed")
}

func (NopNotifier) InvitationReceived(inv models.Invitation) {
	log.Info().Str("session_id", inv.SessionID.String()).Str("caller", inv.CallerName).Msg("Invitation received")
}

func (NopNotifier) SystemNotice(text string) {
	log.Info().Str("text", text).Msg("System notice")
}

// showSessionStartError reports a failed start. reason is a catalog key;
// unknown keys are shown verbatim.
func (r *Registry) showSessionStartError(reason string, id uuid.UUID) {
	s := r.sessions[id]
	if s == nil {
		return
	}
	n := Notice{
		SessionID: id,
		Name:      s.name,
		Reason:    r.deps.Catalog.Format(reason, nil),
	}
	n.Text = r.deps.Catalog.Format("ChatterBoxSessionStartError", map[string]string{
		"RECIPIENT": n.Name,
		"REASON":    n.Reason,
	})
	r.deps.Notifier.SessionStartError(n)
}

// showSessionEventError reports a failed session event. The session may
// already be gone.
func (r *Registry) showSessionEventError(eventName, reason string, id uuid.UUID) {
	name := ""
	if s := r.sessions[id]; s != nil {
		name = s.name
	}
	n := Notice{
		SessionID: id,
		Name:      name,
		Event:     r.deps.Catalog.Format(eventName, map[string]string{"RECIPIENT": name}),
		Reason:    r.deps.Catalog.Format(reason, nil),
	}
	n.Text = r.deps.Catalog.Format("ChatterBoxSessionEventError", map[string]string{
		"EVENT":  n.Event,
		"REASON": n.Reason,
	})
	r.deps.Notifier.SessionEventError(n)
}

func (r *Registry) showSessionForceClose(reason string, id uuid.UUID) {
	s := r.sessions[id]
	if s == nil {
		return
	}
	n := Notice{
		SessionID: id,
		Name:      s.name,
		Reason:    r.deps.Catalog.Format(reason, nil),
	}
	n.Text = r.deps.Catalog.Format("ForceCloseChatterBoxSession", map[string]string{
		"NAME":   n.Name,
		"REASON": n.Reason,
	})
	r.deps.Notifier.ForceClose(n)
}
