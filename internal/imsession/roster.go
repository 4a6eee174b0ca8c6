package imsession

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/pkg/models"
)

// Participant is one roster entry of a session.
type Participant struct {
	ID          uuid.UUID `json:"id"`
	IsModerator bool      `json:"is_moderator"`
	MutesText   bool      `json:"mutes_text"`
	Typing      bool      `json:"typing"`
	LastSpokeAt time.Time `json:"last_spoke_at,omitempty"`
}

// rosterUpdates accumulates agent list deltas, last update per agent
// wins. Agents keep the position of their first update.
type rosterUpdates struct {
	agentUpdates map[uuid.UUID]models.AgentUpdate
	agentOrder   []uuid.UUID
	updates      map[uuid.UUID]string
	updateOrder  []uuid.UUID
}

func newRosterUpdates() *rosterUpdates {
	return &rosterUpdates{
		agentUpdates: make(map[uuid.UUID]models.AgentUpdate),
		updates:      make(map[uuid.UUID]string),
	}
}

// merge folds u in. A payload carrying agent_updates alone is ignored;
// one carrying both merges both; one carrying updates merges those.
func (p *rosterUpdates) merge(u models.AgentListUpdate) {
	if len(u.AgentUpdates) > 0 && len(u.Updates) > 0 {
		for _, id := range sortedKeys(u.AgentUpdates) {
			if _, ok := p.agentUpdates[id]; !ok {
				p.agentOrder = append(p.agentOrder, id)
			}
			p.agentUpdates[id] = u.AgentUpdates[id]
		}
	}
	if len(u.Updates) > 0 {
		for _, id := range sortedKeys(u.Updates) {
			if _, ok := p.updates[id]; !ok {
				p.updateOrder = append(p.updateOrder, id)
			}
			p.updates[id] = u.Updates[id]
		}
	}
}

func (p *rosterUpdates) empty() bool {
	return len(p.agentOrder) == 0 && len(p.updateOrder) == 0
}

// Roster tracks the participants of a session. Every applied delta is
// kept in a journal so that a base snapshot arriving later (the start or
// accept reply) can be laid down underneath the deltas already seen.
type Roster struct {
	participants map[uuid.UUID]*Participant
	order        []uuid.UUID
	journal      *rosterUpdates
}

func newRoster() *Roster {
	return &Roster{
		participants: make(map[uuid.UUID]*Participant),
		journal:      newRosterUpdates(),
	}
}

// SetBase replaces the participants with snap and replays the journal on
// top of it.
func (r *Roster) SetBase(snap models.RosterSnapshot) {
	r.participants = make(map[uuid.UUID]*Participant)
	r.order = nil

	if len(snap.AgentInfo) > 0 {
		for _, id := range sortedKeys(snap.AgentInfo) {
			p := r.enter(id)
			applyInfo(p, snap.AgentInfo[id])
		}
	} else {
		for _, id := range snap.Agents {
			r.enter(id)
		}
	}
	r.replay(r.journal)
}

// Apply applies an agent list update and records it in the journal.
func (r *Roster) Apply(u models.AgentListUpdate) {
	p := newRosterUpdates()
	p.mergeAll(u)
	r.applyUpdates(p)
}

// mergeAll folds u in without the pending-buffer filtering rule.
func (p *rosterUpdates) mergeAll(u models.AgentListUpdate) {
	for _, id := range sortedKeys(u.AgentUpdates) {
		if _, ok := p.agentUpdates[id]; !ok {
			p.agentOrder = append(p.agentOrder, id)
		}
		p.agentUpdates[id] = u.AgentUpdates[id]
	}
	for _, id := range sortedKeys(u.Updates) {
		if _, ok := p.updates[id]; !ok {
			p.updateOrder = append(p.updateOrder, id)
		}
		p.updates[id] = u.Updates[id]
	}
}

func (r *Roster) applyUpdates(p *rosterUpdates) {
	r.replay(p)
	for _, id := range p.agentOrder {
		if _, ok := r.journal.agentUpdates[id]; !ok {
			r.journal.agentOrder = append(r.journal.agentOrder, id)
		}
		r.journal.agentUpdates[id] = p.agentUpdates[id]
	}
	for _, id := range p.updateOrder {
		if _, ok := r.journal.updates[id]; !ok {
			r.journal.updateOrder = append(r.journal.updateOrder, id)
		}
		r.journal.updates[id] = p.updates[id]
	}
}

// replay applies agent_updates when present, otherwise the plain
// ENTER/LEAVE updates.
func (r *Roster) replay(p *rosterUpdates) {
	if len(p.agentOrder) > 0 {
		for _, id := range p.agentOrder {
			u := p.agentUpdates[id]
			switch u.Transition {
			case models.TransitionLeave:
				r.leave(id)
				continue
			case models.TransitionEnter:
				r.enter(id)
			}
			if existing, ok := r.participants[id]; ok {
				applyInfo(existing, u)
			}
		}
		return
	}
	for _, id := range p.updateOrder {
		switch p.updates[id] {
		case models.TransitionEnter:
			r.enter(id)
		case models.TransitionLeave:
			r.leave(id)
		}
	}
}

func (r *Roster) enter(id uuid.UUID) *Participant {
	if p, ok := r.participants[id]; ok {
		return p
	}
	p := &Participant{ID: id}
	r.participants[id] = p
	r.order = append(r.order, id)
	return p
}

func (r *Roster) leave(id uuid.UUID) {
	if _, ok := r.participants[id]; !ok {
		return
	}
	delete(r.participants, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// SetTyping flags a participant as typing. Unknown participants are
// added.
func (r *Roster) SetTyping(id uuid.UUID, typing bool) {
	if id == uuid.Nil {
		return
	}
	if !typing {
		if p, ok := r.participants[id]; ok {
			p.Typing = false
		}
		return
	}
	r.enter(id).Typing = true
}

// chatted records that a participant sent a message, which also ends its
// typing state.
func (r *Roster) chatted(id uuid.UUID, at time.Time) {
	if p, ok := r.participants[id]; ok {
		p.LastSpokeAt = at
		p.Typing = false
	}
}

// Has reports whether id is in the roster.
func (r *Roster) Has(id uuid.UUID) bool {
	_, ok := r.participants[id]
	return ok
}

// Len returns the number of participants.
func (r *Roster) Len() int {
	return len(r.order)
}

// Participants returns the roster in join order.
func (r *Roster) Participants() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.participants[id])
	}
	return out
}

// IDs returns the participant ids in join order.
func (r *Roster) IDs() []uuid.UUID {
	return append([]uuid.UUID(nil), r.order...)
}

func applyInfo(p *Participant, u models.AgentUpdate) {
	if u.IsModerator != nil {
		p.IsModerator = *u.IsModerator
	}
	if u.MutesText != nil {
		p.MutesText = *u.MutesText
	}
}

func sortedKeys[V any](m map[uuid.UUID]V) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}
