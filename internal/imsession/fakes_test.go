package imsession

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/internal/namecache"
	"github.com/thebtf/chatterbox/pkg/models"
)

type sentMessage struct {
	SessionID uuid.UUID
	Other     uuid.UUID
	Text      string
	Kind      models.ConversationKind
}

type conferenceStart struct {
	TempID  uuid.UUID
	Other   uuid.UUID
	Targets []uuid.UUID
	Done    func(error)
}

// fakeWire records outgoing traffic. Completion callbacks are kept so
// tests decide when and how the server answers.
type fakeWire struct {
	conferences []conferenceStart
	groupStarts []uuid.UUID
	accepts     map[uuid.UUID]func(models.RosterSnapshot, error)
	acceptOrder []uuid.UUID
	declines    []uuid.UUID
	leaves      []uuid.UUID
	typing      []bool
	dndReplies  []uuid.UUID
	sent        []sentMessage
}

func newFakeWire() *fakeWire {
	return &fakeWire{accepts: make(map[uuid.UUID]func(models.RosterSnapshot, error))}
}

func (w *fakeWire) StartConference(tempID, other uuid.UUID, targets []uuid.UUID, done func(error)) {
	w.conferences = append(w.conferences, conferenceStart{TempID: tempID, Other: other, Targets: targets, Done: done})
}

func (w *fakeWire) StartGroupSession(sessionID, _ uuid.UUID) {
	w.groupStarts = append(w.groupStarts, sessionID)
}

func (w *fakeWire) AcceptInvitation(sessionID uuid.UUID, done func(models.RosterSnapshot, error)) {
	w.accepts[sessionID] = done
	w.acceptOrder = append(w.acceptOrder, sessionID)
}

func (w *fakeWire) DeclineInvitation(sessionID uuid.UUID, done func(error)) {
	w.declines = append(w.declines, sessionID)
	done(nil)
}

func (w *fakeWire) LeaveSession(sessionID, _ uuid.UUID) {
	w.leaves = append(w.leaves, sessionID)
}

func (w *fakeWire) SendTypingState(_, _ uuid.UUID, typing bool) {
	w.typing = append(w.typing, typing)
}

func (w *fakeWire) SendDoNotDisturb(sessionID, _ uuid.UUID, _ string) {
	w.dndReplies = append(w.dndReplies, sessionID)
}

func (w *fakeWire) SendInstantMessage(sessionID, other uuid.UUID, text string, kind models.ConversationKind) {
	w.sent = append(w.sent, sentMessage{SessionID: sessionID, Other: other, Text: text, Kind: kind})
}

// fakeNames serves names from a map; Get delivers through the executor
// like namecache.Cache does.
type fakeNames struct {
	exec  loop.Executor
	names map[uuid.UUID]models.AvatarName
}

func (n *fakeNames) Cached(id uuid.UUID) (models.AvatarName, bool) {
	name, ok := n.names[id]
	return name, ok
}

func (n *fakeNames) Get(id uuid.UUID, cb namecache.Callback) event.Subscription {
	cancelled := false
	n.exec.Post(func() {
		if !cancelled {
			cb(id, n.names[id])
		}
	})
	return event.SubscriptionFunc(func() { cancelled = true })
}

type transcriptLine struct {
	LogName string
	From    string
	Text    string
}

type fakeTranscripts struct {
	lines   []transcriptLine
	history map[string][]models.TranscriptEntry
}

func (t *fakeTranscripts) AppendEntry(_ context.Context, logName, from string, _ uuid.UUID, text string, _ time.Time) (int64, error) {
	t.lines = append(t.lines, transcriptLine{LogName: logName, From: from, Text: text})
	return int64(len(t.lines)), nil
}

func (t *fakeTranscripts) LoadHistory(_ context.Context, logName string, _ int) ([]models.TranscriptEntry, error) {
	return t.history[logName], nil
}

type fakeSnoozes struct {
	saved map[uuid.UUID]time.Time
}

func (f *fakeSnoozes) Snooze(_ context.Context, id uuid.UUID, at time.Time) error {
	f.saved[id] = at
	return nil
}

func (f *fakeSnoozes) DeleteSnooze(_ context.Context, id uuid.UUID) error {
	delete(f.saved, id)
	return nil
}

func (f *fakeSnoozes) ListSnoozes(context.Context) (map[uuid.UUID]time.Time, error) {
	out := make(map[uuid.UUID]time.Time, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

type fakeNotifier struct {
	startErrors []Notice
	eventErrors []Notice
	forceClosed []Notice
	invitations []models.Invitation
	notices     []string
}

func (n *fakeNotifier) SessionStartError(x Notice) { n.startErrors = append(n.startErrors, x) }
func (n *fakeNotifier) SessionEventError(x Notice) { n.eventErrors = append(n.eventErrors, x) }
func (n *fakeNotifier) ForceClose(x Notice) { n.forceClosed = append(n.forceClosed, x) }
func (n *fakeNotifier) InvitationReceived(inv models.Invitation) { n.invitations = append(n.invitations, inv) }
func (n *fakeNotifier) SystemNotice(text string) { n.notices = append(n.notices, text) }

// recorder collects observer callbacks as strings.
type recorder struct {
	events []string
}

func (r *recorder) observer() Observer {
	return ObserverFuncs{
		Added:     func(id uuid.UUID, _ string, _ uuid.UUID, _ bool) { r.events = append(r.events, "added:"+id.String()) },
		Activated: func(id uuid.UUID, _ string, _ uuid.UUID) { r.events = append(r.events, "activated:"+id.String()) },
		Started:   func(id uuid.UUID) { r.events = append(r.events, "started:"+id.String()) },
		Removed:   func(id uuid.UUID) { r.events = append(r.events, "removed:"+id.String()) },
		IDUpdated: func(oldID, newID uuid.UUID) { r.events = append(r.events, "updated:"+oldID.String()+">"+newID.String()) },
	}
}
