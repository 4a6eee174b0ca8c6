package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/chatterbox/internal/agent"
	"github.com/thebtf/chatterbox/internal/config"
	"github.com/thebtf/chatterbox/internal/db/sqlite"
	"github.com/thebtf/chatterbox/internal/identity"
	"github.com/thebtf/chatterbox/internal/imsession"
	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/internal/namecache"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/voice"
	"github.com/thebtf/chatterbox/internal/worker/sse"
	"github.com/thebtf/chatterbox/pkg/models"
)

// recordingWire records outgoing traffic. Calls arrive on the loop while
// tests read from their own goroutine.
type recordingWire struct {
	mu       sync.Mutex
	sent     []string
	typing   []bool
	leaves   []uuid.UUID
	declines []uuid.UUID
}

func (w *recordingWire) StartConference(uuid.UUID, uuid.UUID, []uuid.UUID, func(error)) {}
func (w *recordingWire) StartGroupSession(uuid.UUID, uuid.UUID)                         {}
func (w *recordingWire) SendDoNotDisturb(uuid.UUID, uuid.UUID, string)                  {}

func (w *recordingWire) AcceptInvitation(_ uuid.UUID, done func(models.RosterSnapshot, error)) {
	done(models.RosterSnapshot{}, nil)
}

func (w *recordingWire) DeclineInvitation(id uuid.UUID, done func(error)) {
	w.mu.Lock()
	w.declines = append(w.declines, id)
	w.mu.Unlock()
	done(nil)
}

func (w *recordingWire) LeaveSession(id, _ uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leaves = append(w.leaves, id)
}

func (w *recordingWire) SendTypingState(_, _ uuid.UUID, typing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.typing = append(w.typing, typing)
}

func (w *recordingWire) SendInstantMessage(_, _ uuid.UUID, text string, _ models.ConversationKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, text)
}

func (w *recordingWire) snapshot() recordingWire {
	w.mu.Lock()
	defer w.mu.Unlock()
	return recordingWire{
		sent:     append([]string(nil), w.sent...),
		typing:   append([]bool(nil), w.typing...),
		leaves:   append([]uuid.UUID(nil), w.leaves...),
		declines: append([]uuid.UUID(nil), w.declines...),
	}
}

type staticNames map[uuid.UUID]models.AvatarName

func (n staticNames) LookupName(_ context.Context, id uuid.UUID) (models.AvatarName, error) {
	return n[id], nil
}

// syncWriter is a thread-safe SSE sink.
type syncWriter struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
}

func (w *syncWriter) Header() http.Header { return w.header }
func (w *syncWriter) WriteHeader(int)     {}
func (w *syncWriter) Flush()              {}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// HandlersSuite drives the service over HTTP against a real loop, session
// manager and transcript store.
type HandlersSuite struct {
	suite.Suite

	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup

	self, alice, bob uuid.UUID

	agent   *agent.Agent
	wire    *recordingWire
	store   *sqlite.Store
	tr      *sqlite.TranscriptStore
	mgr     *imsession.Manager
	bc      *sse.Broadcaster
	events  *syncWriter
	service *Service
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.self, s.alice, s.bob = uuid.New(), uuid.New(), uuid.New()

	var err error
	s.store, err = sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(s.T().TempDir(), "t.db"), MaxConns: 1})
	s.Require().NoError(err)
	s.tr = sqlite.NewTranscriptStore(s.store)

	lp := loop.New()
	bc := sse.NewBroadcaster()
	s.bc = bc
	s.running.Add(2)
	go func() {
		defer s.running.Done()
		_ = lp.Run(ctx)
	}()
	go func() {
		defer s.running.Done()
		_ = bc.Run(ctx)
	}()
	s.events = &syncWriter{header: make(http.Header)}
	_, err = s.bc.AddClient(s.events)
	s.Require().NoError(err)

	sink := NewEventSink(s.bc)
	s.agent = agent.New(s.self, "Me Myself", nil)
	s.wire = &recordingWire{}
	names := namecache.New(staticNames{
		s.alice: {DisplayName: "Alice", UserName: "alice.smith"},
		s.bob:   {DisplayName: "Bob", UserName: "bob.builder"},
	}, lp)

	src := config.NewSource(config.Default())
	s.mgr = imsession.NewManager(imsession.Deps{
		Agent:       s.agent,
		Wire:        s.wire,
		Voice:       voice.NewLocal(),
		Names:       names,
		Transcripts: s.tr,
		Config:      src,
		Exec:        lp,
		Notifier:    sink,
	})
	sink.Attach(s.mgr)

	metrics, err := telemetry.New()
	s.Require().NoError(err)

	s.service = NewService(Options{
		Version:     "test-version",
		Config:      src,
		Manager:     s.mgr,
		Agent:       s.agent,
		Transcripts: s.tr,
		Metrics:     metrics,
		Loop:        lp,
		Broadcaster: s.bc,
	})
	s.service.SetReady(true)
}

func (s *HandlersSuite) TearDownTest() {
	s.cancel()
	s.running.Wait()
	s.store.Close()
}

func (s *HandlersSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.service.Router().ServeHTTP(rec, req)
	return rec
}

func (s *HandlersSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *HandlersSuite) p2pID(other uuid.UUID) uuid.UUID {
	return identity.ComputeSessionID(models.KindP2P, other, s.self)
}

func (s *HandlersSuite) receive(from uuid.UUID, name, text string) {
	rec := s.do(http.MethodPost, "/message/ImprovedInstantMessage", map[string]any{
		"from_id":   from,
		"from_name": name,
		"message":   text,
		"dialog":    "p2p",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]bool
	s.decode(rec, &resp)
	s.Require().True(resp["added"])
}

func (s *HandlersSuite) TestInstantMessageOpensSession() {
	s.receive(s.alice, "Alice Smith", "hi")
	id := s.p2pID(s.alice)

	rec := s.do(http.MethodGet, "/api/sessions", nil)
	s.Equal(http.StatusOK, rec.Code)
	var list []models.SessionInfo
	s.decode(rec, &list)
	s.Require().Len(list, 1)
	s.Equal(id, list[0].ID)
	s.Equal(1, list[0].UnreadCount)

	rec = s.do(http.MethodGet, "/api/sessions/"+id.String()+"/messages?mark_read=true", nil)
	s.Equal(http.StatusOK, rec.Code)
	var msgs []models.Message
	s.decode(rec, &msgs)
	s.Require().Len(msgs, 1)
	s.Equal("hi", msgs[0].Text)

	rec = s.do(http.MethodGet, "/api/sessions/"+id.String(), nil)
	s.Equal(http.StatusOK, rec.Code)
	var info models.SessionInfo
	s.decode(rec, &info)
	s.Equal(0, info.UnreadCount)

	s.Eventually(func() bool {
		out := s.events.String()
		return strings.Contains(out, "event: "+EventSessionAdded) &&
			strings.Contains(out, "event: "+EventNewMessage) &&
			strings.Contains(out, "event: "+EventUnreadCleared)
	}, time.Second, 10*time.Millisecond)
}

func (s *HandlersSuite) TestSendTypeAndLeave() {
	s.receive(s.alice, "Alice Smith", "hi")
	base := "/api/sessions/" + s.p2pID(s.alice).String()

	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/messages", map[string]string{"text": "hello back"}).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, base+"/messages", map[string]string{"text": ""}).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/typing", map[string]bool{"typing": true}).Code)

	rec := s.do(http.MethodGet, base+"/messages", nil)
	var msgs []models.Message
	s.decode(rec, &msgs)
	s.Require().Len(msgs, 2)
	s.Equal("hello back", msgs[0].Text)
	s.Equal("Me Myself", msgs[0].From)

	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/read", nil).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, base+"/leave", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, base, nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, base+"/leave", nil).Code)

	w := s.wire.snapshot()
	s.Equal([]string{"hello back"}, w.sent)
	s.Equal([]bool{true}, w.typing)
	s.Equal([]uuid.UUID{s.p2pID(s.alice)}, w.leaves)
}

func (s *HandlersSuite) TestUnknownSessionAndBadIDs() {
	missing := "/api/sessions/" + uuid.NewString()

	tests := []struct {
		name, method, path string
		body               any
		want               int
	}{
		{"get missing", http.MethodGet, missing, nil, http.StatusNotFound},
		{"messages missing", http.MethodGet, missing + "/messages", nil, http.StatusNotFound},
		{"send missing", http.MethodPost, missing + "/messages", map[string]string{"text": "x"}, http.StatusNotFound},
		{"read missing", http.MethodPost, missing + "/read", nil, http.StatusNotFound},
		{"call missing", http.MethodPost, missing + "/call", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/sessions/not-a-uuid", nil, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/api/sessions", "not an object", http.StatusBadRequest},
		{"no targets", http.MethodPost, "/api/sessions", map[string]string{"name": "Nobody"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.want, s.do(tt.method, tt.path, tt.body).Code)
		})
	}
}

func (s *HandlersSuite) TestAddSession() {
	rec := s.do(http.MethodPost, "/api/sessions", map[string]any{
		"name":     "Bob",
		"kind":     "p2p",
		"other_id": s.bob,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]uuid.UUID
	s.decode(rec, &resp)
	s.Equal(s.p2pID(s.bob), resp["session_id"])

	rec = s.do(http.MethodGet, "/api/status", nil)
	s.Equal(http.StatusOK, rec.Code)
	var st statusResponse
	s.decode(rec, &st)
	s.Equal(1, st.Sessions)
	s.Equal("test-version", st.Version)
	s.Equal(1, st.EventClients)
}

func (s *HandlersSuite) TestInvitationRespond() {
	conf := uuid.New()
	rec := s.do(http.MethodPost, "/message/ChatterBoxInvitation", map[string]any{
		"immediate":    map[string]any{},
		"session_id":   conf,
		"session_name": "Planning",
		"from_id":      s.bob,
		"from_name":    "Bob",
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var invs []models.Invitation
	s.decode(s.do(http.MethodGet, "/api/invitations", nil), &invs)
	s.Require().Len(invs, 1)
	s.Equal(conf, invs[0].SessionID)
	s.Equal(models.InviteAdHoc, invs[0].Class)

	path := "/api/invitations/" + conf.String() + "/respond"
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, path, map[string]string{"response": "maybe"}).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, path, map[string]string{"response": "decline"}).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, path, map[string]string{"response": "decline"}).Code)
	s.Equal([]uuid.UUID{conf}, s.wire.snapshot().declines)

	s.Eventually(func() bool {
		return strings.Contains(s.events.String(), "event: "+EventInvitation)
	}, time.Second, 10*time.Millisecond)
}

func (s *HandlersSuite) TestUnknownInvitationType() {
	rec := s.do(http.MethodPost, "/message/ChatterBoxInvitation", map[string]any{"session_id": uuid.New()})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestAgentListUpdatesRequiresSession() {
	rec := s.do(http.MethodPost, "/message/ChatterBoxSessionAgentListUpdates", map[string]any{})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlersSuite) TestForceCloseNotifies() {
	s.receive(s.alice, "Alice Smith", "hi")
	rec := s.do(http.MethodPost, "/message/ForceCloseChatterBoxSession", map[string]any{
		"session_id": s.p2pID(s.alice),
		"reason":     "removed",
	})
	s.Equal(http.StatusOK, rec.Code)
	s.Eventually(func() bool {
		return strings.Contains(s.events.String(), "event: "+EventForceClose)
	}, time.Second, 10*time.Millisecond)
}

func (s *HandlersSuite) TestMutesRoundTrip() {
	rec := s.do(http.MethodPost, "/api/mutes", map[string]any{"id": s.bob, "name": "Bob"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.True(s.agent.IsMuted(s.bob, "", models.MuteAll))

	var mutes []models.Mute
	s.decode(s.do(http.MethodGet, "/api/mutes", nil), &mutes)
	s.Require().Len(mutes, 1)
	s.Equal(models.MuteAgent, mutes[0].Type)

	s.Equal(http.StatusOK, s.do(http.MethodDelete, "/api/mutes/"+s.bob.String(), nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/mutes/"+s.bob.String(), nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/mutes", map[string]any{}).Code)
}

func (s *HandlersSuite) TestGroupChatMuted() {
	group := uuid.New()
	s.Require().NoError(s.agent.JoinGroup(s.ctx, models.GroupData{ID: group, Name: "Builders", AcceptNotices: true}))

	path := "/api/groups/" + group.String() + "/chat-muted"
	s.Equal(http.StatusOK, s.do(http.MethodPost, path, map[string]bool{"muted": true}).Code)
	g, _ := s.agent.GroupData(group)
	s.True(g.ChatMuted)

	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/groups/"+uuid.NewString()+"/chat-muted", map[string]bool{"muted": true}).Code)

	var groups []models.GroupData
	s.decode(s.do(http.MethodGet, "/api/groups", nil), &groups)
	s.Len(groups, 1)
}

func (s *HandlersSuite) TestTranscripts() {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		_, err := s.tr.AppendEntry(s.ctx, "bob.builder", "Bob", s.bob, text, at.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(err)
	}

	var logs map[string]int
	s.decode(s.do(http.MethodGet, "/api/transcripts", nil), &logs)
	s.Equal(3, logs["bob.builder"])

	var entries []models.TranscriptEntry
	s.decode(s.do(http.MethodGet, "/api/transcripts/bob.builder?limit=2", nil), &entries)
	s.Len(entries, 2)

	var none []models.TranscriptEntry
	s.decode(s.do(http.MethodGet, "/api/transcripts/nobody", nil), &none)
	s.Empty(none)
}

func (s *HandlersSuite) TestSnoozedListEmpty() {
	rec := s.do(http.MethodGet, "/api/snoozed", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq("[]", rec.Body.String())
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/snoozed/"+uuid.NewString()+"/restore", nil).Code)
}

func (s *HandlersSuite) TestDashboardServed() {
	rec := s.do(http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "/assets/app.js")

	rec = s.do(http.MethodGet, "/assets/app.js", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Content-Type"), "javascript")

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/assets/missing.js", nil).Code)
}

func newBareService(version string) *Service {
	return NewService(Options{Version: version, Loop: loop.New()})
}

func TestHandleHealth_ReturnsVersion(t *testing.T) {
	svc := newBareService("test-version-1.2.3")
	svc.SetReady(true)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, "ready", response["status"])
	assert.Equal(t, "test-version-1.2.3", response["version"])
}

func TestHandleVersion(t *testing.T) {
	svc := newBareService("v2.0.0-beta")

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	err := json.Unmarshal(rec.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0-beta", response["version"])
}

func TestHandleReady(t *testing.T) {
	svc := newBareService("v1")

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.SetReady(true)
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ready", response["status"])
}

func TestRequireReadyMiddleware_Blocks(t *testing.T) {
	svc := newBareService("v1")

	for path, method := range map[string]string{
		"/api/sessions":        http.MethodGet,
		"/message/TypingState": http.MethodPost,
		"/events":              http.MethodGet,
	} {
		req := httptest.NewRequest(method, path, nil)
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestOnLoop_StoppedLoop(t *testing.T) {
	lp := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = lp.Run(ctx)

	svc := NewService(Options{Version: "v1", Loop: lp})
	svc.SetReady(true)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
