package imsession

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

// LoadSnoozes restores the snooze table from the store.
func (m *Manager) LoadSnoozes(ctx context.Context) error {
	if m.deps.Snoozes == nil {
		return nil
	}
	snoozes, err := m.deps.Snoozes.ListSnoozes(ctx)
	if err != nil {
		return err
	}
	for id, at := range snoozes {
		m.snoozes[id] = at
	}
	log.Info().Int("count", len(snoozes)).Msg("Snoozed sessions loaded")
	return nil
}

func (m *Manager) snooze(id uuid.UUID, at time.Time) {
	m.snoozes[id] = at
	log.Info().Str("session_id", id.String()).Time("at", at).Msg("Group session snoozed")
	if m.deps.Snoozes == nil {
		return
	}
	ctx, cancel := storeContext()
	defer cancel()
	if err := m.deps.Snoozes.Snooze(ctx, id, at); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to persist snooze")
	}
}

// IsSnoozed reports whether id is in the snooze table.
func (m *Manager) IsSnoozed(id uuid.UUID) bool {
	_, ok := m.snoozes[id]
	return ok
}

// SnoozedAt returns when id was snoozed.
func (m *Manager) SnoozedAt(id uuid.UUID) (time.Time, bool) {
	at, ok := m.snoozes[id]
	return at, ok
}

// SnoozedSessions returns the snoozed session ids, oldest first.
func (m *Manager) SnoozedSessions() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.snoozes))
	for id := range m.snoozes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.snoozes[ids[i]].Before(m.snoozes[ids[j]]) })
	return ids
}

// CheckSnoozeExpiration reports whether the snooze window of id has
// passed. Unknown ids are not expired.
func (m *Manager) CheckSnoozeExpiration(id uuid.UUID) bool {
	at, ok := m.snoozes[id]
	if !ok {
		return false
	}
	return at.Add(m.deps.cfg().GroupSnooze()).Before(m.deps.Clock.Now())
}

// EvictSnoozedSession drops id from the snooze table.
func (m *Manager) EvictSnoozedSession(id uuid.UUID) bool {
	if _, ok := m.snoozes[id]; !ok {
		return false
	}
	delete(m.snoozes, id)
	if m.deps.Snoozes != nil {
		ctx, cancel := storeContext()
		defer cancel()
		if err := m.deps.Snoozes.DeleteSnooze(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to delete snooze")
		}
	}
	return true
}

// RestoreSnoozedSession reopens a snoozed group session. It fails when the
// session is not snoozed, the window has expired (the entry is kept for
// PruneExpiredSnoozes) or the agent left the group.
func (m *Manager) RestoreSnoozedSession(id uuid.UUID) bool {
	if !m.IsSnoozed(id) {
		return false
	}
	if m.CheckSnoozeExpiration(id) {
		log.Info().Str("session_id", id.String()).Msg("Snooze expired, not restoring")
		return false
	}
	m.EvictSnoozedSession(id)

	g, ok := m.deps.Agent.GroupData(id)
	if !ok {
		log.Warn().Str("session_id", id.String()).Msg("Snoozed session is no longer a group")
		return false
	}
	m.AddSession(g.Name, models.KindInvite, id, []uuid.UUID{id}, false)
	m.reg.SendStartSessionRequest(id, id, nil, models.KindGroupStart)
	return true
}

// PruneExpiredSnoozes leaves every snoozed session whose window has passed
// and returns how many were pruned.
func (m *Manager) PruneExpiredSnoozes() int {
	n := 0
	for _, id := range m.SnoozedSessions() {
		if !m.CheckSnoozeExpiration(id) {
			continue
		}
		m.deps.Wire.LeaveSession(id, id)
		m.EvictSnoozedSession(id)
		n++
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("Pruned expired snoozes")
	}
	return n
}
