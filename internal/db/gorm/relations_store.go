package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/chatterbox/pkg/models"
)

// RelationsStore provides mute list, friend, group and snooze operations.
type RelationsStore struct {
	db *gorm.DB
}

// NewRelationsStore creates a new relations store.
func NewRelationsStore(store *Store) *RelationsStore {
	return &RelationsStore{db: store.DB}
}

// AddMute inserts or updates a mute list entry.
func (s *RelationsStore) AddMute(ctx context.Context, m models.Mute) error {
	entry := &MuteEntry{
		AgentID: idString(m.ID),
		Name:    m.Name,
		Type:    string(m.Type),
		Flags:   int(m.Flags),
	}
	if m.Type == models.MuteByName {
		entry.AgentID = ""
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "flags"}),
		}).
		Create(entry).Error
}

// RemoveMute deletes entries for id (or, for by-name entries, name).
func (s *RelationsStore) RemoveMute(ctx context.Context, id uuid.UUID, name string) (int64, error) {
	q := s.db.WithContext(ctx)
	if id != uuid.Nil {
		q = q.Where("agent_id = ?", id.String())
	} else {
		q = q.Where("agent_id = '' AND name = ? COLLATE NOCASE", name)
	}
	result := q.Delete(&MuteEntry{})
	return result.RowsAffected, result.Error
}

// ListMutes returns the whole mute list.
func (s *RelationsStore) ListMutes(ctx context.Context) ([]models.Mute, error) {
	var rows []MuteEntry
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	mutes := make([]models.Mute, 0, len(rows))
	for _, r := range rows {
		mutes = append(mutes, models.Mute{
			ID:    parseID(r.AgentID),
			Name:  r.Name,
			Type:  models.MuteType(r.Type),
			Flags: models.MuteFlags(r.Flags),
		})
	}
	return mutes, nil
}

// UpsertFriend adds a friend or renames an existing one.
func (s *RelationsStore) UpsertFriend(ctx context.Context, f models.Friend) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&FriendEntry{AgentID: f.ID.String(), Name: f.Name}).Error
}

// RemoveFriend deletes a friend.
func (s *RelationsStore) RemoveFriend(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("agent_id = ?", id.String()).Delete(&FriendEntry{}).Error
}

// ListFriends returns every friend.
func (s *RelationsStore) ListFriends(ctx context.Context) ([]models.Friend, error) {
	var rows []FriendEntry
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	friends := make([]models.Friend, 0, len(rows))
	for _, r := range rows {
		friends = append(friends, models.Friend{ID: parseID(r.AgentID), Name: r.Name})
	}
	return friends, nil
}

// UpsertGroup records a group membership.
func (s *RelationsStore) UpsertGroup(ctx context.Context, g models.GroupData) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "accept_notices", "chat_muted"}),
		}).
		Create(&GroupMembership{
			GroupID:       g.ID.String(),
			Name:          g.Name,
			AcceptNotices: g.AcceptNotices,
			ChatMuted:     g.ChatMuted,
		}).Error
}

// RemoveGroup deletes a group membership.
func (s *RelationsStore) RemoveGroup(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("group_id = ?", id.String()).Delete(&GroupMembership{}).Error
}

// GetGroup returns a membership, or nil if the agent is not in the group.
func (s *RelationsStore) GetGroup(ctx context.Context, id uuid.UUID) (*models.GroupData, error) {
	var row GroupMembership
	err := s.db.WithContext(ctx).Where("group_id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g := toGroupData(row)
	return &g, nil
}

// ListGroups returns every membership.
func (s *RelationsStore) ListGroups(ctx context.Context) ([]models.GroupData, error) {
	var rows []GroupMembership
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	groups := make([]models.GroupData, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, toGroupData(r))
	}
	return groups, nil
}

// SetGroupChatMuted toggles the chat mute of a group.
func (s *RelationsStore) SetGroupChatMuted(ctx context.Context, id uuid.UUID, muted bool) error {
	return s.db.WithContext(ctx).
		Model(&GroupMembership{}).
		Where("group_id = ?", id.String()).
		Update("chat_muted", muted).Error
}

// Snooze records that a group session was snoozed at the given time.
func (s *RelationsStore) Snooze(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"snoozed_at_epoch"}),
		}).
		Create(&SnoozedSession{SessionID: sessionID.String(), SnoozedAtEpoch: at.UnixMilli()}).Error
}

// DeleteSnooze removes a snooze entry.
func (s *RelationsStore) DeleteSnooze(ctx context.Context, sessionID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("session_id = ?", sessionID.String()).Delete(&SnoozedSession{}).Error
}

// ListSnoozes returns every snooze entry.
func (s *RelationsStore) ListSnoozes(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	var rows []SnoozedSession
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	snoozes := make(map[uuid.UUID]time.Time, len(rows))
	for _, r := range rows {
		snoozes[parseID(r.SessionID)] = time.UnixMilli(r.SnoozedAtEpoch)
	}
	return snoozes, nil
}

// DeleteSnoozesBefore removes snoozes recorded before cutoff.
func (s *RelationsStore) DeleteSnoozesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("snoozed_at_epoch < ?", cutoff.UnixMilli()).Delete(&SnoozedSession{})
	return result.RowsAffected, result.Error
}

func toGroupData(r GroupMembership) models.GroupData {
	return models.GroupData{
		ID:            parseID(r.GroupID),
		Name:          r.Name,
		AcceptNotices: r.AcceptNotices,
		ChatMuted:     r.ChatMuted,
	}
}
