package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/registry"
	"github.com/thebtf/roundtable/pkg/models"
)

const (
	// SessionTimeout is how long an idle session is kept.
	SessionTimeout = 30 * time.Minute
	// CleanupInterval is how often idle sessions are swept.
	CleanupInterval = 5 * time.Minute

	// untitledProject names a project whose name prompt came back empty.
	untitledProject = "Untitled project"
)

var (
	// ErrEmptyIdentity is returned for a blank username.
	ErrEmptyIdentity = errors.New("identity cannot be empty")
	// ErrNoProject is returned when a task is bound before the project.
	ErrNoProject = errors.New("session has no project")
	// ErrUnknownAssignee is returned when a task is assigned to a non-participant.
	ErrUnknownAssignee = errors.New("assignee is not a session participant")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// Users is the user persistence the manager needs.
type Users interface {
	CreateUser(ctx context.Context, user *models.User) (int64, error)
	GetUserByIdentity(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Projects is the project and task persistence the manager needs.
type Projects interface {
	CreateProject(ctx context.Context, userID int64, name, description string) (int64, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	CreateTask(ctx context.Context, projectID int64, name, description, assignedAgent string) (int64, error)
}

// Snapshotter freezes agent definitions for a session.
type Snapshotter interface {
	Snapshot(ctx context.Context, names ...string) (*registry.Snapshot, error)
}

// ParticipantFactory turns a frozen definition into a participant handle.
type ParticipantFactory interface {
	Participant(def *models.AgentDefinition) orchestrator.Participant
}

// Manager owns the active sessions.
type Manager struct {
	users     Users
	projects  Projects
	snapshots Snapshotter
	factory   ParticipantFactory
	roster    []string

	prompter frontend.Prompter
	renderer frontend.Renderer

	timeout  time.Duration
	interval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	onCreated func(id string)
	onDeleted func(id string)

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithIO sets the default prompter and renderer for new sessions.
func WithIO(p frontend.Prompter, r frontend.Renderer) Option {
	return func(m *Manager) {
		m.prompter = p
		m.renderer = r
	}
}

// WithRoster overrides the agent names every session snapshots.
func WithRoster(names ...string) Option {
	return func(m *Manager) { m.roster = append([]string(nil), names...) }
}

// WithIdleTimeout overrides SessionTimeout and CleanupInterval.
func WithIdleTimeout(timeout, interval time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
		m.interval = interval
	}
}

// NewManager creates a session manager. Call Start to enable idle expiry.
func NewManager(users Users, projects Projects, snapshots Snapshotter, factory ParticipantFactory, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		users:     users,
		projects:  projects,
		snapshots: snapshots,
		factory:   factory,
		renderer:  frontend.Discard,
		timeout:   SessionTimeout,
		interval:  CleanupInterval,
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, role := range models.Roles {
		m.roster = append(m.roster, models.DefaultAgentNames[role])
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnSessionCreated sets the callback for session creation.
func (m *Manager) SetOnSessionCreated(fn func(id string)) {
	m.onCreated = fn
}

// SetOnSessionDeleted sets the callback for session deletion.
func (m *Manager) SetOnSessionDeleted(fn func(id string)) {
	m.onDeleted = fn
}

// AskIdentity prompts until a non-blank username is given.
func AskIdentity(ctx context.Context, p frontend.Prompter) (string, error) {
	prompt := frontend.PromptUsername
	for {
		answer, err := p.Ask(ctx, prompt)
		if err != nil {
			return "", err
		}
		if answer = strings.TrimSpace(answer); answer != "" {
			return answer, nil
		}
		prompt = frontend.PromptUsernameEmpty
	}
}

// EnsureUser returns the id of the user with this username, creating the row
// when absent. A concurrent creator winning the race is resolved by reading.
func (m *Manager) EnsureUser(ctx context.Context, identity string) (int64, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return 0, ErrEmptyIdentity
	}

	user, err := m.users.GetUserByIdentity(ctx, identity)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return 0, fmt.Errorf("lookup user %q: %w", identity, err)
	}

	hash, err := placeholderHash()
	if err != nil {
		return 0, err
	}
	id, err := m.users.CreateUser(ctx, &models.User{
		Username:     identity,
		Email:        identity + "@example.com",
		PasswordHash: hash,
	})
	if errors.Is(err, models.ErrDuplicateIdentity) {
		user, err = m.users.GetUserByIdentity(ctx, identity)
		if err != nil {
			return 0, fmt.Errorf("reread user %q: %w", identity, err)
		}
		return user.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", identity, err)
	}
	log.Info().Int64("user_id", id).Str("username", identity).Msg("Created user")
	return id, nil
}

// placeholderHash hashes a random credential nobody knows.
func placeholderHash() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// OpenOption overrides per-session front-end adapters.
type OpenOption func(*Session)

// WithPrompter sets the session's prompter.
func WithPrompter(p frontend.Prompter) OpenOption {
	return func(s *Session) { s.Prompter = p }
}

// WithRenderer sets the session's renderer.
func WithRenderer(r frontend.Renderer) OpenOption {
	return func(s *Session) { s.Renderer = r }
}

// Open ensures the user, snapshots the roster and registers a new session.
// A roster name missing from the store fails the open.
func (m *Manager) Open(ctx context.Context, identity string, opts ...OpenOption) (*Session, error) {
	userID, err := m.EnsureUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	return m.build(ctx, State{ID: uuid.NewString(), UserID: userID, Username: strings.TrimSpace(identity)}, opts)
}

// Restore rebuilds a session from exported ids. The user must still exist and
// the project, when set, must belong to that user.
func (m *Manager) Restore(ctx context.Context, state State, opts ...OpenOption) (*Session, error) {
	user, err := m.users.GetUserByID(ctx, state.UserID)
	if err != nil {
		return nil, fmt.Errorf("restore session user %d: %w", state.UserID, err)
	}
	state.Username = user.Username
	if state.ProjectID != 0 {
		project, err := m.projects.GetProject(ctx, state.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("restore session project %d: %w", state.ProjectID, err)
		}
		if project.UserID != user.ID {
			return nil, fmt.Errorf("restore session project %d: %w", state.ProjectID, models.ErrNotFound)
		}
	} else {
		state.TaskID = 0
	}
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	return m.build(ctx, state, opts)
}

func (m *Manager) build(ctx context.Context, state State, opts []OpenOption) (*Session, error) {
	snap, err := m.snapshots.Snapshot(ctx, m.roster...)
	if err != nil {
		return nil, fmt.Errorf("snapshot agents: %w", err)
	}

	sessCtx, cancel := context.WithCancel(m.ctx)
	sess := &Session{
		ID:         state.ID,
		UserID:     state.UserID,
		Username:   state.Username,
		StartTime:  time.Now(),
		Prompter:   m.prompter,
		Renderer:   m.renderer,
		snapshot:   snap,
		projectID:  state.ProjectID,
		taskID:     state.TaskID,
		lastActive: time.Now(),
		ctx:        sessCtx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(sess)
	}
	if sess.Renderer == nil {
		sess.Renderer = frontend.Discard
	}
	for _, name := range snap.Names() {
		def, _ := snap.Resolve(name)
		sess.participants = append(sess.participants, m.factory.Participant(def))
	}

	m.mu.Lock()
	if old, ok := m.sessions[sess.ID]; ok {
		old.close()
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	log.Info().Str("session_id", sess.ID).Int64("user_id", sess.UserID).Int("participants", len(sess.participants)).
		Msg("Session opened")
	if m.onCreated != nil {
		m.onCreated(sess.ID)
	}
	return sess, nil
}

// EnsureProject returns the session's project, asking the human for a name and
// description and creating it on first use.
func (m *Manager) EnsureProject(ctx context.Context, sess *Session) (int64, error) {
	sess.projectMu.Lock()
	defer sess.projectMu.Unlock()

	if id := sess.ProjectID(); id != 0 {
		return id, nil
	}
	if sess.Prompter == nil {
		return 0, fmt.Errorf("%w: no prompter to ask for one", ErrNoProject)
	}

	name, err := sess.Prompter.Ask(ctx, frontend.PromptProjectName)
	if err != nil {
		return 0, fmt.Errorf("ask project name: %w", err)
	}
	description, err := sess.Prompter.Ask(ctx, frontend.PromptProjectDescription)
	if err != nil {
		return 0, fmt.Errorf("ask project description: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = untitledProject
	}

	id, err := m.projects.CreateProject(ctx, sess.UserID, name, strings.TrimSpace(description))
	if err != nil {
		return 0, fmt.Errorf("create project: %w", err)
	}

	sess.mu.Lock()
	sess.projectID = id
	sess.mu.Unlock()

	sess.Renderer.Notify(fmt.Sprintf("Created project: %s (ID: %d)", name, id))
	log.Info().Str("session_id", sess.ID).Int64("project_id", id).Str("name", name).Msg("Created project")
	return id, nil
}

// BindTask creates a new task under the session's project and makes it current.
// assignee must name one of the session's participants.
func (m *Manager) BindTask(ctx context.Context, sess *Session, name, description, assignee string) (int64, error) {
	projectID := sess.ProjectID()
	if projectID == 0 {
		return 0, ErrNoProject
	}
	p, ok := sess.Participant(assignee)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAssignee, assignee)
	}

	id, err := m.projects.CreateTask(ctx, projectID, name, description, p.Name())
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}

	sess.mu.Lock()
	sess.taskID = id
	sess.mu.Unlock()

	log.Debug().Str("session_id", sess.ID).Int64("task_id", id).Str("assignee", p.Name()).Msg("Bound task")
	return id, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Delete removes a session and cancels its context and any running conversation.
// Unknown ids are ignored.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	log.Info().Str("session_id", id).Dur("age", time.Since(sess.StartTime)).Msg("Session closed")
	if m.onDeleted != nil {
		m.onDeleted(id)
	}
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns the open sessions.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// Start runs the idle cleanup loop until Shutdown.
func (m *Manager) Start() {
	go m.cleanupLoop()
}

// Shutdown closes every session and stops the cleanup loop.
func (m *Manager) Shutdown() {
	m.cancel()
	for _, sess := range m.All() {
		m.Delete(sess.ID)
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.cleanupIdle(now)
		}
	}
}

// cleanupIdle closes sessions idle longer than the timeout that are not running a conversation.
func (m *Manager) cleanupIdle(now time.Time) int {
	var expired []string
	for _, sess := range m.All() {
		if sess.busy.Load() > 0 {
			continue
		}
		if sess.idleSince(now) > m.timeout {
			expired = append(expired, sess.ID)
		}
	}
	for _, id := range expired {
		m.Delete(id)
	}
	if len(expired) > 0 {
		log.Info().Int("expired", len(expired)).Msg("Cleaned up idle sessions")
	}
	return len(expired)
}
