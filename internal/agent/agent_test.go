package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	gormdb "github.com/thebtf/chatterbox/internal/db/gorm"
	"github.com/thebtf/chatterbox/pkg/models"
)

// AgentSuite exercises the cache against a real relations database.
type AgentSuite struct {
	suite.Suite
	tmpDir string
	store  *gormdb.Store
	rel    *gormdb.RelationsStore
	agent  *Agent
	ctx    context.Context
}

func (s *AgentSuite) SetupTest() {
	var err error
	s.tmpDir, err = os.MkdirTemp("", "agent-test-*")
	s.Require().NoError(err)

	s.store, err = gormdb.NewStore(gormdb.Config{
		Path:     filepath.Join(s.tmpDir, "relations.db"),
		MaxConns: 1,
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.rel = gormdb.NewRelationsStore(s.store)
	s.agent = New(uuid.New(), "Me Myself", s.rel)
	s.ctx = context.Background()
}

func (s *AgentSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
	os.RemoveAll(s.tmpDir)
}

func TestAgentSuite(t *testing.T) {
	suite.Run(t, new(AgentSuite))
}

func (s *AgentSuite) TestLoadRestoresRelations() {
	friend, group, troll := uuid.New(), uuid.New(), uuid.New()
	s.Require().NoError(s.agent.AddFriend(s.ctx, models.Friend{ID: friend, Name: "Alice"}))
	s.Require().NoError(s.agent.JoinGroup(s.ctx, models.GroupData{ID: group, Name: "Builders", AcceptNotices: true}))
	s.Require().NoError(s.agent.AddMute(s.ctx, models.Mute{ID: troll, Name: "Troll"}))

	fresh := New(s.agent.ID(), s.agent.FullName(), s.rel)
	s.Require().NoError(fresh.Load(s.ctx))

	s.True(fresh.IsFriend(friend))
	s.True(fresh.IsInGroup(group))
	g, ok := fresh.GroupData(group)
	s.True(ok)
	s.Equal("Builders", g.Name)
	s.True(fresh.IsMuted(troll, "", models.MuteAll))
	s.Len(fresh.Groups(), 1)
	s.Len(fresh.Friends(), 1)
}

func (s *AgentSuite) TestMuteFlags() {
	troll, other := uuid.New(), uuid.New()
	s.Require().NoError(s.agent.AddMute(s.ctx, models.Mute{ID: troll, Name: "Troll", Flags: models.MuteVoiceChat}))
	s.Require().NoError(s.agent.AddMute(s.ctx, models.Mute{Name: "Spam Bot", Type: models.MuteByName}))

	tests := []struct {
		name string
		id   uuid.UUID
		who  string
		flag models.MuteFlags
		want bool
	}{
		{name: "on list at all", id: troll, flag: models.MuteAll, want: true},
		{name: "voice flag", id: troll, flag: models.MuteVoiceChat, want: true},
		{name: "text not covered", id: troll, flag: models.MuteTextChat, want: false},
		{name: "by name any case", id: other, who: "spam bot", flag: models.MuteTextChat, want: true},
		{name: "unrelated", id: other, who: "Alice", flag: models.MuteAll, want: false},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.want, s.agent.IsMuted(tt.id, tt.who, tt.flag))
		})
	}

	// Re-adding replaces flags in place.
	s.Require().NoError(s.agent.AddMute(s.ctx, models.Mute{ID: troll, Name: "Troll", Flags: models.MuteAll}))
	s.Len(s.agent.Mutes(), 2)
	s.True(s.agent.IsMuted(troll, "", models.MuteTextChat))

	removed, err := s.agent.RemoveMute(s.ctx, troll, "")
	s.NoError(err)
	s.True(removed)
	removed, err = s.agent.RemoveMute(s.ctx, uuid.Nil, "SPAM BOT")
	s.NoError(err)
	s.True(removed)
	s.Empty(s.agent.Mutes())

	persisted, err := s.rel.ListMutes(s.ctx)
	s.NoError(err)
	s.Empty(persisted)
}

func (s *AgentSuite) TestGroupChatMute() {
	group := uuid.New()

	ok, err := s.agent.SetGroupChatMuted(s.ctx, group, true)
	s.NoError(err)
	s.False(ok)

	s.Require().NoError(s.agent.JoinGroup(s.ctx, models.GroupData{ID: group, Name: "Builders"}))
	ok, err = s.agent.SetGroupChatMuted(s.ctx, group, true)
	s.NoError(err)
	s.True(ok)

	g, _ := s.agent.GroupData(group)
	s.True(g.ChatMuted)

	s.Require().NoError(s.agent.LeaveGroup(s.ctx, group))
	s.False(s.agent.IsInGroup(group))
}

type failingStore struct {
	Store
}

func (failingStore) UpsertFriend(context.Context, models.Friend) error {
	return errors.New("disk full")
}

func TestAgent_StoreErrorLeavesMemoryUntouched(t *testing.T) {
	a := New(uuid.New(), "Me", failingStore{})
	friend := uuid.New()

	err := a.AddFriend(context.Background(), models.Friend{ID: friend, Name: "Alice"})
	require.Error(t, err)
	assert.False(t, a.IsFriend(friend))
}

func TestAgent_MemoryOnly(t *testing.T) {
	a := New(uuid.New(), "Me", nil)
	require.NoError(t, a.Load(context.Background()))

	friend := uuid.New()
	require.NoError(t, a.AddFriend(context.Background(), models.Friend{ID: friend}))
	assert.True(t, a.IsFriend(friend))
	require.NoError(t, a.RemoveFriend(context.Background(), friend))
	assert.False(t, a.IsFriend(friend))
}
