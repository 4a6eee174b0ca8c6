// Package agent holds the local agent's identity and social relations
// (mute list, friends, group memberships) in memory, backed by the
// relations database.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

// Store persists relations. *gorm.RelationsStore implements it.
type Store interface {
	AddMute(ctx context.Context, m models.Mute) error
	RemoveMute(ctx context.Context, id uuid.UUID, name string) (int64, error)
	ListMutes(ctx context.Context) ([]models.Mute, error)
	UpsertFriend(ctx context.Context, f models.Friend) error
	RemoveFriend(ctx context.Context, id uuid.UUID) error
	ListFriends(ctx context.Context) ([]models.Friend, error)
	UpsertGroup(ctx context.Context, g models.GroupData) error
	RemoveGroup(ctx context.Context, id uuid.UUID) error
	ListGroups(ctx context.Context) ([]models.GroupData, error)
	SetGroupChatMuted(ctx context.Context, id uuid.UUID, muted bool) error
}

// Agent answers relation questions from memory. Mutations are written to
// the store first and only applied in memory when the write succeeds. A
// nil store keeps everything in memory.
type Agent struct {
	id    uuid.UUID
	name  string
	store Store

	mu      sync.RWMutex
	mutes   []models.Mute
	friends map[uuid.UUID]models.Friend
	groups  map[uuid.UUID]models.GroupData
}

// New creates an Agent with empty relations.
func New(id uuid.UUID, name string, store Store) *Agent {
	return &Agent{
		id:      id,
		name:    name,
		store:   store,
		friends: make(map[uuid.UUID]models.Friend),
		groups:  make(map[uuid.UUID]models.GroupData),
	}
}

// Load replaces the in-memory relations with the store's contents.
func (a *Agent) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	start := time.Now()

	mutes, err := a.store.ListMutes(ctx)
	if err != nil {
		return err
	}
	friends, err := a.store.ListFriends(ctx)
	if err != nil {
		return err
	}
	groups, err := a.store.ListGroups(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.mutes = mutes
	a.friends = make(map[uuid.UUID]models.Friend, len(friends))
	for _, f := range friends {
		a.friends[f.ID] = f
	}
	a.groups = make(map[uuid.UUID]models.GroupData, len(groups))
	for _, g := range groups {
		a.groups[g.ID] = g
	}
	a.mu.Unlock()

	log.Info().
		Int("mutes", len(mutes)).
		Int("friends", len(friends)).
		Int("groups", len(groups)).
		Dur("took", time.Since(start)).
		Msg("Relations loaded")
	return nil
}

// ID returns the agent id.
func (a *Agent) ID() uuid.UUID { return a.id }

// FullName returns the agent's name as used for local echo.
func (a *Agent) FullName() string { return a.name }

// IsInGroup reports whether the agent is a member of group id.
func (a *Agent) IsInGroup(id uuid.UUID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.groups[id]
	return ok
}

// GroupData returns the membership record for group id.
func (a *Agent) GroupData(id uuid.UUID) (models.GroupData, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.groups[id]
	return g, ok
}

// Groups returns every membership.
func (a *Agent) Groups() []models.GroupData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.GroupData, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g)
	}
	return out
}

// JoinGroup records or updates a membership.
func (a *Agent) JoinGroup(ctx context.Context, g models.GroupData) error {
	if a.store != nil {
		if err := a.store.UpsertGroup(ctx, g); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.groups[g.ID] = g
	a.mu.Unlock()
	return nil
}

// LeaveGroup drops a membership.
func (a *Agent) LeaveGroup(ctx context.Context, id uuid.UUID) error {
	if a.store != nil {
		if err := a.store.RemoveGroup(ctx, id); err != nil {
			return err
		}
	}
	a.mu.Lock()
	delete(a.groups, id)
	a.mu.Unlock()
	return nil
}

// SetGroupChatMuted toggles the chat mute of a group the agent belongs to.
// It returns false when the agent is not a member.
func (a *Agent) SetGroupChatMuted(ctx context.Context, id uuid.UUID, muted bool) (bool, error) {
	if !a.IsInGroup(id) {
		return false, nil
	}
	if a.store != nil {
		if err := a.store.SetGroupChatMuted(ctx, id, muted); err != nil {
			return false, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[id]
	if !ok {
		return false, nil
	}
	g.ChatMuted = muted
	a.groups[id] = g
	return true, nil
}

// IsFriend reports whether id is on the friend list.
func (a *Agent) IsFriend(id uuid.UUID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.friends[id]
	return ok
}

// Friends returns the friend list.
func (a *Agent) Friends() []models.Friend {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Friend, 0, len(a.friends))
	for _, f := range a.friends {
		out = append(out, f)
	}
	return out
}

// AddFriend adds or renames a friend.
func (a *Agent) AddFriend(ctx context.Context, f models.Friend) error {
	if a.store != nil {
		if err := a.store.UpsertFriend(ctx, f); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.friends[f.ID] = f
	a.mu.Unlock()
	return nil
}

// RemoveFriend drops a friend.
func (a *Agent) RemoveFriend(ctx context.Context, id uuid.UUID) error {
	if a.store != nil {
		if err := a.store.RemoveFriend(ctx, id); err != nil {
			return err
		}
	}
	a.mu.Lock()
	delete(a.friends, id)
	a.mu.Unlock()
	return nil
}

// IsMuted reports whether a mute list entry for id or name covers flag.
// MuteAll asks whether the participant is on the list at all.
func (a *Agent) IsMuted(id uuid.UUID, name string, flag models.MuteFlags) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, m := range a.mutes {
		if m.Matches(id, name) && m.Covers(flag) {
			return true
		}
	}
	return false
}

// Mutes returns the mute list.
func (a *Agent) Mutes() []models.Mute {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.Mute(nil), a.mutes...)
}

// AddMute adds an entry or replaces the flags of an existing one.
func (a *Agent) AddMute(ctx context.Context, m models.Mute) error {
	if m.Type == "" {
		m.Type = models.MuteAgent
	}
	if m.Type == models.MuteByName {
		m.ID = uuid.Nil
	}
	if a.store != nil {
		if err := a.store.AddMute(ctx, m); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.mutes {
		if sameMuteTarget(existing, m) {
			a.mutes[i] = m
			return nil
		}
	}
	a.mutes = append(a.mutes, m)
	return nil
}

// RemoveMute deletes the entries for id, or the by-name entry for name
// when id is nil. It reports whether anything was removed.
func (a *Agent) RemoveMute(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	if a.store != nil {
		if _, err := a.store.RemoveMute(ctx, id, name); err != nil {
			return false, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.mutes[:0]
	removed := false
	for _, m := range a.mutes {
		if (id != uuid.Nil && m.Type != models.MuteByName && m.ID == id) ||
			(id == uuid.Nil && m.Type == models.MuteByName && m.Matches(uuid.Nil, name)) {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	a.mutes = kept
	return removed, nil
}

func sameMuteTarget(a, b models.Mute) bool {
	if a.Type == models.MuteByName || b.Type == models.MuteByName {
		return a.Type == b.Type && a.Matches(uuid.Nil, b.Name)
	}
	return a.ID == b.ID
}
