package worker

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/conversation"
	gormdb "github.com/thebtf/roundtable/internal/db/gorm"
	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/session"
	"github.com/thebtf/roundtable/pkg/models"
)

// DefaultListLimit caps list endpoints without a limit parameter.
const DefaultListLimit = 50

type createSessionRequest struct {
	Username           string `json:"username"`
	ProjectName        string `json:"project_name"`
	ProjectDescription string `json:"project_description"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type feedbackRequest struct {
	TaskID int64  `json:"task_id"`
	Text   string `json:"text"`
}

type messageResponse struct {
	*conversation.Outcome
	Reason     string        `json:"reason,omitempty"`
	Rounds     int           `json:"rounds"`
	Excluded   []string      `json:"excluded,omitempty"`
	Transcript []models.Turn `json:"transcript"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEmptyIdentity), errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, session.ErrNoProject), errors.Is(err, session.ErrUnknownAssignee):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDuplicateIdentity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound.Error())
		return nil, false
	}
	return sess, true
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"sessions": s.sessions.ActiveCount(),
		"clients":  s.sseBroadcaster.ClientCount(),
		"driver":   s.store.Driver(),
		"db_conns": s.store.GetRawDB().Stats().OpenConnections,
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if err := s.store.GetRawDB().PingContext(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Readiness check failed to reach the database")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleCreateSession opens a session. The project name and description answer
// the bootstrap prompts when the first message arrives.
func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, session.ErrEmptyIdentity.Error())
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.Username,
		session.WithPrompter(frontend.NewStatic(req.ProjectName, req.ProjectDescription)),
		session.WithRenderer(frontend.Discard))
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("Failed to open session")
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.State())
}

func (s *Service) handleRestoreSession(w http.ResponseWriter, r *http.Request) {
	var state session.State
	if err := decode(r, &state); err != nil || state.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid session state")
		return
	}
	sess, err := s.sessions.Restore(r.Context(), state, session.WithRenderer(frontend.Discard))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleMessage runs one conversation and returns its outcome and transcript.
func (s *Service) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.conversations.HandleMessage(r.Context(), sess, req.Text)
	if out == nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	resp := messageResponse{Outcome: out}
	if out.Result != nil {
		resp.Reason = string(out.Result.Reason)
		resp.Rounds = out.Result.Rounds
		resp.Excluded = out.Result.Excluded
		resp.Transcript = out.Result.Transcript
	}
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Int64("task_id", out.TaskID).Msg("Conversation ended with error")
		writeJSON(w, statusForError(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleFeedback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	taskID := req.TaskID
	if taskID == 0 {
		taskID = sess.TaskID()
	}
	if taskID == 0 {
		writeError(w, http.StatusBadRequest, "session has no task")
		return
	}
	task, err := s.projects.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if task.ProjectID != sess.ProjectID() {
		writeError(w, http.StatusNotFound, "task not found in session project")
		return
	}

	stored, err := s.conversations.SubmitFeedback(r.Context(), sess, taskID, req.Text)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	code := http.StatusOK
	if stored {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"task_id": taskID, "stored": stored})
}

func (s *Service) handleListProjects(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	projects, err := s.projects.ListProjectsByUser(r.Context(), id, gormdb.ParseLimitParam(r, DefaultListLimit))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Service) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if _, err := s.projects.GetProject(r.Context(), id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	tasks, err := s.projects.ListTasksByProject(r.Context(), id, gormdb.ParseLimitParam(r, DefaultListLimit))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Service) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if _, err := s.projects.GetTask(r.Context(), id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	rows, err := s.interactions.ListInteractions(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": rows})
}

func (s *Service) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	rows, err := s.feedback.ListFeedbackByTask(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": rows})
}
