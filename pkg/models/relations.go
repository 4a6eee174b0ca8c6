package models

import (
	"strings"

	"github.com/google/uuid"
)

// MuteType says what a mute list entry refers to.
type MuteType string

const (
	MuteAgent  MuteType = "agent"
	MuteGroup  MuteType = "group"
	MuteByName MuteType = "by_name"
)

// MuteFlags selects what is muted. Zero mutes everything.
type MuteFlags uint8

const (
	MuteAll       MuteFlags = 0
	MuteTextChat  MuteFlags = 1 << 0
	MuteVoiceChat MuteFlags = 1 << 1
	MuteSounds    MuteFlags = 1 << 2
)

// Mute is one mute list entry.
type Mute struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Type  MuteType  `json:"type"`
	Flags MuteFlags `json:"flags"`
}

// Covers reports whether the entry mutes the channel selected by flag.
// Passing MuteAll asks whether any entry exists at all.
func (m Mute) Covers(flag MuteFlags) bool {
	return m.Flags == MuteAll || flag == MuteAll || m.Flags&flag != 0
}

// Matches reports whether the entry applies to the participant id or name.
// By-name entries compare names case-insensitively.
func (m Mute) Matches(id uuid.UUID, name string) bool {
	if m.Type == MuteByName {
		return name != "" && strings.EqualFold(m.Name, name)
	}
	return id != uuid.Nil && m.ID == id
}

// Friend is an entry of the agent's friend list.
type Friend struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
