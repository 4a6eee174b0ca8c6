// Package worker is the HTTP face of chatterbox: inbound wire messages
// from the chat service, the UI API and the SSE event stream.
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/internal/agent"
	"github.com/thebtf/chatterbox/internal/config"
	"github.com/thebtf/chatterbox/internal/imsession"
	"github.com/thebtf/chatterbox/internal/telemetry"
	"github.com/thebtf/chatterbox/internal/worker/sse"
	"github.com/thebtf/chatterbox/pkg/models"
)

// loopTimeout bounds how long a request waits for the event loop.
const loopTimeout = 10 * time.Second

// Runner runs fn on the event loop and waits for it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// TranscriptReader is the read side of the transcript store.
type TranscriptReader interface {
	ListLogs(ctx context.Context) (map[string]int, error)
	LoadHistory(ctx context.Context, logName string, limit int) ([]models.TranscriptEntry, error)
}

// Options wires a Service.
type Options struct {
	Version     string
	Config      *config.Source
	Manager     *imsession.Manager
	Agent       *agent.Agent
	Transcripts TranscriptReader
	Metrics     *telemetry.Metrics
	Loop        Runner
	Broadcaster *sse.Broadcaster
}

// Service serves the wire, API and event endpoints.
type Service struct {
	version     string
	config      *config.Source
	manager     *imsession.Manager
	agent       *agent.Agent
	transcripts TranscriptReader
	metrics     *telemetry.Metrics
	loop        Runner
	broadcaster *sse.Broadcaster

	router    chi.Router
	server    *http.Server
	startTime time.Time
	ready     atomic.Bool
}

// NewService builds the router. The service answers 503 on gated routes
// until SetReady is called.
func NewService(opts Options) *Service {
	s := &Service{
		version:     opts.Version,
		config:      opts.Config,
		manager:     opts.Manager,
		agent:       opts.Agent,
		transcripts: opts.Transcripts,
		metrics:     opts.Metrics,
		loop:        opts.Loop,
		broadcaster: opts.Broadcaster,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	if s.broadcaster == nil {
		s.broadcaster = sse.NewBroadcaster()
	}
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Service) Router() http.Handler {
	return s.router
}

// SetReady marks startup as finished.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/", serveIndex)
	r.Get("/assets/*", serveAssets)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Route("/message", func(r chi.Router) {
			r.Post("/ChatterBoxSessionStartReply", s.handleStartReply)
			r.Post("/ChatterBoxSessionEventReply", s.handleEventReply)
			r.Post("/ForceCloseChatterBoxSession", s.handleForceClose)
			r.Post("/ChatterBoxSessionAgentListUpdates", s.handleAgentListUpdates)
			r.Post("/ChatterBoxInvitation", s.handleInvitation)
			r.Post("/ImprovedInstantMessage", s.handleInstantMessage)
			r.Post("/TypingState", s.handleTypingState)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)

			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleAddSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Get("/messages", s.handleGetMessages)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/read", s.handleMarkRead)
				r.Post("/leave", s.handleLeave)
				r.Post("/typing", s.handleSendTyping)
				r.Post("/call", s.handleStartCall)
				r.Delete("/call", s.handleEndCall)
			})

			r.Get("/invitations", s.handleListInvitations)
			r.Post("/invitations/{id}/respond", s.handleRespondInvitation)

			r.Get("/snoozed", s.handleListSnoozed)
			r.Post("/snoozed/{id}/restore", s.handleRestoreSnoozed)
			r.Post("/errors/{id}/dismiss", s.handleDismissError)

			r.Get("/mutes", s.handleListMutes)
			r.Post("/mutes", s.handleAddMute)
			r.Delete("/mutes/{id}", s.handleRemoveMute)
			r.Get("/friends", s.handleListFriends)
			r.Get("/groups", s.handleListGroups)
			r.Post("/groups/{id}/chat-muted", s.handleSetGroupChatMuted)

			r.Get("/transcripts", s.handleListTranscripts)
			r.Get("/transcripts/{name}", s.handleGetTranscript)
		})

		r.Get("/events", s.broadcaster.HandleSSE)
	})
}

// Start listens on addr until ctx is cancelled, then shuts down.
func (s *Service) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requireReady rejects requests until startup has finished.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "service not ready", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// onLoop runs fn on the event loop on behalf of r. It writes the error
// response itself and reports whether fn ran.
func (s *Service) onLoop(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()
	if err := s.loop.Do(ctx, fn); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Event loop unavailable")
		http.Error(w, "event loop unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
