package sqlite

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// testStore opens a migrated database in a temp directory.
func testStore(t *testing.T) (*Store, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "transcripts-test-*")
	require.NoError(t, err)

	path := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(StoreConfig{Path: path, MaxConns: 1, WALMode: true})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, path, cleanup
}

// StoreSuite is a test suite for Store operations.
type StoreSuite struct {
	suite.Suite
	store   *Store
	cleanup func()
}

func (s *StoreSuite) SetupTest() {
	s.store, _, s.cleanup = testStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

// TestGetStmt tests prepared statement caching.
func (s *StoreSuite) TestGetStmt() {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{
			name:  "valid simple query",
			query: "SELECT 1",
		},
		{
			name:  "valid query with parameter",
			query: "SELECT * FROM transcripts WHERE log_name = ?",
		},
		{
			name:    "invalid query syntax",
			query:   "SELECT * FROM nonexistent_table WHERE",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			stmt, err := s.store.GetStmt(tt.query)
			if tt.wantErr {
				s.Error(err)
				s.Nil(stmt)
				return
			}
			s.NoError(err)
			s.NotNil(stmt)

			stmt2, err := s.store.GetStmt(tt.query)
			s.NoError(err)
			s.Same(stmt, stmt2)
		})
	}
}

// TestMigrationsIdempotent tests reopening an existing database.
func (s *StoreSuite) TestMigrationsIdempotent() {
	ctx := context.Background()
	s.NoError(migrate(ctx, s.store.DB()))

	var version int
	s.Require().NoError(s.store.DB().QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&version))
	s.Equal(len(migrations), version)
}

// TestQueryRowContext_Invalid tests that preparation errors surface on Scan.
func (s *StoreSuite) TestQueryRowContext_Invalid() {
	var n int
	err := s.store.QueryRowContext(context.Background(), "SELECT FROM").Scan(&n)
	s.Error(err)
}

// TestClose tests closing the store.
func (s *StoreSuite) TestClose() {
	store, _, cleanup := testStore(s.T())
	defer cleanup()

	_, err := store.GetStmt("SELECT 1")
	s.NoError(err)
	s.NoError(store.Close())
	s.Error(store.Ping())
}

// TranscriptSuite tests transcript persistence.
type TranscriptSuite struct {
	suite.Suite
	store       *Store
	transcripts *TranscriptStore
	cleanup     func()
}

func (s *TranscriptSuite) SetupTest() {
	s.store, _, s.cleanup = testStore(s.T())
	s.transcripts = NewTranscriptStore(s.store)
}

func (s *TranscriptSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func TestTranscriptSuite(t *testing.T) {
	suite.Run(t, new(TranscriptSuite))
}

func (s *TranscriptSuite) TestAppendAndLoad() {
	ctx := context.Background()
	alice := uuid.New()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, text := range []string{"one", "two", "three"} {
		id, err := s.transcripts.AppendEntry(ctx, "alice.smith", "Alice", alice, text, base.Add(time.Duration(i)*time.Second))
		s.Require().NoError(err)
		s.Greater(id, int64(0))
	}
	_, err := s.transcripts.AppendEntry(ctx, "other", "Bob", uuid.Nil, "elsewhere", base)
	s.Require().NoError(err)

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"one", "two", "three"}},
		{name: "newest two oldest first", limit: 2, want: []string{"two", "three"}},
		{name: "limit above count", limit: 10, want: []string{"one", "two", "three"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			entries, err := s.transcripts.LoadHistory(ctx, "alice.smith", tt.limit)
			s.Require().NoError(err)
			var texts []string
			for _, e := range entries {
				texts = append(texts, e.Text)
				s.Equal(alice, e.FromID)
				s.Equal("Alice", e.From)
				s.Equal("alice.smith", e.LogName)
			}
			s.Equal(tt.want, texts)
		})
	}

	entries, err := s.transcripts.LoadHistory(ctx, "other", 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(uuid.Nil, entries[0].FromID)
	s.Equal(base.UnixMilli(), entries[0].CreatedAt.UnixMilli())
}

func (s *TranscriptSuite) TestLastEntryAndCount() {
	ctx := context.Background()

	last, err := s.transcripts.LastEntry(ctx, "empty")
	s.NoError(err)
	s.Nil(last)

	now := time.Now()
	_, _ = s.transcripts.AppendEntry(ctx, "log", "A", uuid.New(), "first", now)
	_, _ = s.transcripts.AppendEntry(ctx, "log", "B", uuid.New(), "second", now)

	last, err = s.transcripts.LastEntry(ctx, "log")
	s.Require().NoError(err)
	s.Require().NotNil(last)
	s.Equal("second", last.Text)

	n, err := s.transcripts.CountEntries(ctx, "log")
	s.NoError(err)
	s.Equal(2, n)

	logs, err := s.transcripts.ListLogs(ctx)
	s.NoError(err)
	s.Equal(map[string]int{"log": 2}, logs)
}

func (s *TranscriptSuite) TestDeleteOlderThan() {
	ctx := context.Background()
	now := time.Now()
	_, _ = s.transcripts.AppendEntry(ctx, "log", "A", uuid.New(), "old", now.Add(-48*time.Hour))
	_, _ = s.transcripts.AppendEntry(ctx, "log", "A", uuid.New(), "new", now)

	deleted, err := s.transcripts.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	s.NoError(err)
	s.Equal(int64(1), deleted)

	entries, err := s.transcripts.LoadHistory(ctx, "log", 0)
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("new", entries[0].Text)
}

func TestParseLimitParam(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{url: "/x", want: 50},
		{url: "/x?limit=10", want: 10},
		{url: "/x?limit=0", want: 50},
		{url: "/x?limit=-3", want: 50},
		{url: "/x?limit=abc", want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			assert.Equal(t, tt.want, ParseLimitParam(r, 50))
		})
	}
}
