package gorm

import (
	"time"

	"gorm.io/gorm"
)

// GORM Models

// MuteEntry is a row of the mute list. Agent and group entries are keyed
// by id; by-name entries carry an empty agent_id.
type MuteEntry struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	AgentID        string `gorm:"uniqueIndex:idx_mutes_target,priority:1;not null;default:''"`
	Name           string `gorm:"uniqueIndex:idx_mutes_target,priority:2;not null;default:''"`
	Type           string `gorm:"type:text;check:type IN ('agent', 'group', 'by_name');not null"`
	Flags          int    `gorm:"not null;default:0"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (MuteEntry) TableName() string { return "mutes" }

// BeforeCreate hook to ensure timestamps are set.
func (m *MuteEntry) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&m.CreatedAt, &m.CreatedAtEpoch)
	return nil
}

// FriendEntry is a row of the friend list.
type FriendEntry struct {
	AgentID        string `gorm:"primaryKey"`
	Name           string `gorm:"not null;default:''"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (FriendEntry) TableName() string { return "friends" }

// BeforeCreate hook to ensure timestamps are set.
func (f *FriendEntry) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&f.CreatedAt, &f.CreatedAtEpoch)
	return nil
}

// GroupMembership is a group the agent belongs to.
type GroupMembership struct {
	GroupID       string `gorm:"primaryKey"`
	Name          string `gorm:"not null;default:''"`
	AcceptNotices bool   `gorm:"not null;default:true"`
	ChatMuted     bool   `gorm:"not null;default:false"`
	JoinedAt      string `gorm:"not null"`
	JoinedAtEpoch int64  `gorm:"not null"`
}

func (GroupMembership) TableName() string { return "group_memberships" }

// BeforeCreate hook to ensure timestamps are set.
func (g *GroupMembership) BeforeCreate(tx *gorm.DB) error {
	stampCreated(&g.JoinedAt, &g.JoinedAtEpoch)
	return nil
}

// SnoozedSession records when a group session was snoozed.
type SnoozedSession struct {
	SessionID      string `gorm:"primaryKey"`
	SnoozedAtEpoch int64  `gorm:"index;not null"`
}

func (SnoozedSession) TableName() string { return "snoozed_sessions" }

func stampCreated(at *string, epoch *int64) {
	now := time.Now()
	if *epoch == 0 {
		*epoch = now.UnixMilli()
	}
	if *at == "" {
		*at = now.Format(time.RFC3339)
	}
}
