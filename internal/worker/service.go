// Package worker serves the HTTP API for sessions, messages, feedback and the
// audit history of every task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/config"
	"github.com/thebtf/roundtable/internal/conversation"
	gormdb "github.com/thebtf/roundtable/internal/db/gorm"
	"github.com/thebtf/roundtable/internal/session"
	"github.com/thebtf/roundtable/internal/worker/sse"
)

// Service is the HTTP front of roundtable.
type Service struct {
	version string
	config  *config.Config

	store         *gormdb.Store
	users         *gormdb.UserStore
	projects      *gormdb.ProjectStore
	interactions  *gormdb.InteractionStore
	feedback      *gormdb.FeedbackStore
	sessions      *session.Manager
	conversations *conversation.Service

	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	server         *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// NewService wires the API over an open store and the conversation stack.
func NewService(version string, cfg *config.Config, store *gormdb.Store, sessions *session.Manager,
	conversations *conversation.Service, broadcaster *sse.Broadcaster) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:        version,
		config:         cfg,
		store:          store,
		users:          gormdb.NewUserStore(store),
		projects:       gormdb.NewProjectStore(store),
		interactions:   gormdb.NewInteractionStore(store),
		feedback:       gormdb.NewFeedbackStore(store),
		sessions:       sessions,
		conversations:  conversations,
		sseBroadcaster: broadcaster,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.setupRoutes()
	svc.ready.Store(true)
	return svc
}

// TurnPublisher forwards conversation turns to SSE clients.
func TurnPublisher(b *sse.Broadcaster) conversation.TurnListener {
	return func(e conversation.TurnEvent) {
		b.Publish(e.TaskID, "turn", e)
	}
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/sessions", s.handleCreateSession)
		r.Post("/api/sessions/restore", s.handleRestoreSession)
		r.Get("/api/sessions/{id}", s.handleGetSession)
		r.Delete("/api/sessions/{id}", s.handleDeleteSession)
		r.Post("/api/sessions/{id}/messages", s.handleMessage)
		r.Post("/api/sessions/{id}/feedback", s.handleFeedback)

		r.Get("/api/users/{id}/projects", s.handleListProjects)
		r.Get("/api/projects/{id}/tasks", s.handleListTasks)
		r.Get("/api/tasks/{id}/interactions", s.handleListInteractions)
		r.Get("/api/tasks/{id}/feedback", s.handleListFeedback)

		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})
}

// Handler returns the routed handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Start serves on port until Shutdown. It returns nil after a clean shutdown.
func (s *Service) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", s.server.Addr).Str("version", s.version).Msg("HTTP API listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireReady rejects requests until the service is ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "service not ready", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
