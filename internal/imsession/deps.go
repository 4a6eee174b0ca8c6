// Package imsession implements the instant-message session model: the
// registry of open sessions and their message buffers, and the lifecycle
// manager that creates, reconciles, filters and tears them down in
// response to server events and user actions.
//
// Everything in this package runs on the event loop. Callbacks from other
// goroutines (timers, network completions, name lookups) are posted back
// through Deps.Exec.
package imsession

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/internal/catalog"
	"github.com/thebtf/chatterbox/internal/clock"
	"github.com/thebtf/chatterbox/internal/config"
	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/internal/namecache"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/pkg/models"
)

// storeTimeout bounds transcript and snooze writes made from the loop.
const storeTimeout = 5 * time.Second

// Wire sends session traffic to the chat service. *chatapi.Client
// implements it. Completion callbacks must arrive on the loop.
type Wire interface {
	StartConference(tempID, other uuid.UUID, targets []uuid.UUID, done func(error))
	StartGroupSession(sessionID, groupID uuid.UUID)
	AcceptInvitation(sessionID uuid.UUID, done func(models.RosterSnapshot, error))
	DeclineInvitation(sessionID uuid.UUID, done func(error))
	LeaveSession(sessionID, other uuid.UUID)
	SendTypingState(sessionID, other uuid.UUID, typing bool)
	SendDoNotDisturb(sessionID, to uuid.UUID, text string)
	SendInstantMessage(sessionID, other uuid.UUID, text string, kind models.ConversationKind)
}

// Names resolves participant names. *namecache.Cache implements it.
type Names interface {
	Cached(id uuid.UUID) (models.AvatarName, bool)
	Get(id uuid.UUID, cb namecache.Callback) event.Subscription
}

// Directory answers questions about the local agent's relations.
// *agent.Agent implements it.
type Directory interface {
	ID() uuid.UUID
	FullName() string
	IsInGroup(id uuid.UUID) bool
	GroupData(id uuid.UUID) (models.GroupData, bool)
	IsFriend(id uuid.UUID) bool
	IsMuted(id uuid.UUID, name string, flag models.MuteFlags) bool
	AddMute(ctx context.Context, m models.Mute) error
	RemoveMute(ctx context.Context, id uuid.UUID, name string) (bool, error)
}

// Transcripts persists and replays message history.
// *sqlite.TranscriptStore implements it.
type Transcripts interface {
	AppendEntry(ctx context.Context, logName, from string, fromID uuid.UUID, text string, at time.Time) (int64, error)
	LoadHistory(ctx context.Context, logName string, limit int) ([]models.TranscriptEntry, error)
}

// SnoozeStore persists snoozed group sessions across restarts.
// *gorm.RelationsStore implements it.
type SnoozeStore interface {
	Snooze(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	DeleteSnooze(ctx context.Context, sessionID uuid.UUID) error
	ListSnoozes(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

// Deps bundles the collaborators of the session model. Agent, Wire, Voice
// and Names are required; the rest default to no-ops or built-ins.
type Deps struct {
	Agent       Directory
	Wire        Wire
	Voice       voice.Service
	Names       Names
	Transcripts Transcripts
	Snoozes     SnoozeStore
	Config      *config.Source
	Catalog     *catalog.Catalog
	Clock       clock.Clock
	Exec        loop.Executor
	Metrics     *telemetry.Metrics
	Notifier    Notifier
}

func (d *Deps) setDefaults() {
	if d.Config == nil {
		d.Config = config.NewSource(config.Default())
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Exec == nil {
		d.Exec = loop.Inline
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
}

func (d *Deps) cfg() *config.Config {
	return d.Config.Current()
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
