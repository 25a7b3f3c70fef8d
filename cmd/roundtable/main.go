// Package main is the roundtable entry point: an interactive console chat, or
// the HTTP API with --serve.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/thebtf/roundtable/internal/agent"
	"github.com/thebtf/roundtable/internal/config"
	"github.com/thebtf/roundtable/internal/conversation"
	gormdb "github.com/thebtf/roundtable/internal/db/gorm"
	"github.com/thebtf/roundtable/internal/frontend"
	"github.com/thebtf/roundtable/internal/interaction"
	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/internal/orchestrator"
	"github.com/thebtf/roundtable/internal/privacy"
	"github.com/thebtf/roundtable/internal/registry"
	"github.com/thebtf/roundtable/internal/session"
	"github.com/thebtf/roundtable/internal/watcher"
	"github.com/thebtf/roundtable/internal/worker"
	"github.com/thebtf/roundtable/internal/worker/sse"
	"github.com/thebtf/roundtable/pkg/models"
)

// Version is set at build time via ldflags.
var Version = "dev"

const promptNextMessage = "What should the team work on next? (leave empty to quit)"

func main() {
	serve := pflag.Bool("serve", false, "Serve the HTTP API instead of the console chat")
	debug := pflag.Bool("debug", false, "Enable debug logging")
	showVersion := pflag.Bool("version", false, "Print the version and exit")
	backendName := pflag.String("backend", "", "Model backend: openai or scripted (default from settings)")
	model := pflag.String("model", "", "Default model name")
	dbPath := pflag.String("db", "", "SQLite database path")
	port := pflag.Int("port", 0, "HTTP API port")
	maxRounds := pflag.Int("max-rounds", 0, "Maximum rounds per conversation")
	humanInput := pflag.String("human-input", "", "Human input mode for the Admin seat: always or never")
	pflag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	applyFlags(cfg, *backendName, *model, *dbPath, *port, *maxRounds, *humanInput)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open database")
	}
	defer store.Close()

	reg := registry.New(gormdb.NewAgentStore(store))
	importRoster(ctx, reg, cfg.AgentsPath)
	rosterWatcher := watchRoster(ctx, reg, cfg.AgentsPath)
	if rosterWatcher != nil {
		defer rosterWatcher.Stop()
	}

	backend := newBackend(cfg)

	var (
		prompter frontend.Prompter
		renderer frontend.Renderer = frontend.Discard
		console  *frontend.Console
	)
	if !*serve {
		console = frontend.NewConsole(os.Stdin, os.Stdout)
		prompter, renderer = console, console
	}

	factory := &agent.Factory{
		Backend:          backend,
		Prompter:         prompter,
		HumanInputMode:   cfg.HumanInputMode,
		AutoReply:        cfg.AutoReply,
		TerminationToken: cfg.TerminationToken,
	}
	manager := session.NewManager(gormdb.NewUserStore(store), gormdb.NewProjectStore(store), reg, factory,
		session.WithIO(prompter, renderer))
	manager.Start()
	defer manager.Shutdown()

	turnLogger := interaction.NewLogger(gormdb.NewInteractionStore(store), reg,
		interaction.WithCleaner(privacy.NewCleaner(cfg.PrivateTags)))
	fallbackCfg := models.ModelConfig{Model: cfg.Model}
	coordinators := func(sess *session.Session) orchestrator.Coordinator {
		defs := sess.Definitions()
		return agent.NewCoordinator(backend, agent.CoordinatorConfig(defs, fallbackCfg), agent.RolesFrom(defs))
	}
	orchCfg := orchestrator.Config{
		MaxRounds:              cfg.MaxRounds,
		TerminationToken:       cfg.TerminationToken,
		TurnTimeout:            time.Duration(cfg.TurnTimeoutSeconds) * time.Second,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		AllowRepeatSpeaker:     cfg.AllowRepeatSpeaker,
	}

	if *serve {
		broadcaster := sse.NewBroadcaster()
		conversations := conversation.NewService(manager, turnLogger, gormdb.NewFeedbackStore(store), coordinators, orchCfg,
			conversation.WithTurnListener(worker.TurnPublisher(broadcaster)))
		if err := runServer(ctx, cfg, store, manager, conversations, broadcaster); err != nil {
			log.Fatal().Err(err).Msg("HTTP API failed")
		}
		return
	}

	conversations := conversation.NewService(manager, turnLogger, gormdb.NewFeedbackStore(store), coordinators, orchCfg)
	if err := runConsole(ctx, manager, conversations, console); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Console session failed")
	}
}

func applyFlags(cfg *config.Config, backend, model, dbPath string, port, maxRounds int, humanInput string) {
	if backend != "" {
		cfg.Backend = backend
	}
	if model != "" {
		cfg.Model = model
	}
	if dbPath != "" {
		cfg.DBDriver = gormdb.DriverSQLite
		cfg.DBPath = dbPath
	}
	if port > 0 {
		cfg.HTTPPort = port
	}
	if maxRounds > 0 {
		cfg.MaxRounds = maxRounds
	}
	if humanInput != "" {
		cfg.HumanInputMode = humanInput
	}
}

// newBackend builds the configured model backend.
func newBackend(cfg *config.Config) llm.Backend {
	if cfg.Backend == "scripted" {
		log.Warn().Msg("Using the scripted backend; replies are canned")
		scripted := llm.NewScripted()
		scripted.Fallback = func(def *models.AgentDefinition, transcript []models.Turn) string {
			switch def.Name {
			case agent.CoordinatorName:
				return ""
			case models.DefaultAgentNames[models.RoleCritic]:
				if len(transcript) > 4 {
					return "The plan holds up. " + cfg.TerminationToken
				}
			}
			return fmt.Sprintf("%s acknowledges.", def.Name)
		}
		return scripted
	}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		log.Warn().Msg("No OPENAI_API_KEY set; model calls will fail")
	}
	timeout := time.Duration(cfg.TurnTimeoutSeconds) * time.Second
	client := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, timeout)
	return llm.NewOpenAI(client, cfg.Model, llm.WithEndpointClients(func(baseURL string) llm.ChatClient {
		return llm.NewClient(cfg.OpenAIAPIKey, baseURL, timeout)
	}))
}

// importRoster writes the default roster file when absent and upserts its agents.
func importRoster(ctx context.Context, reg *registry.Registry, path string) {
	if err := registry.EnsureRosterFile(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write default agent roster")
	}
	roster, err := registry.LoadRoster(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load agent roster")
		return
	}
	n, err := reg.Import(ctx, roster)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to import agent roster")
		return
	}
	log.Info().Int("agents", n).Str("path", path).Msg("Agent roster imported")
}

// watchRoster re-imports the roster whenever the file changes. Open sessions keep their snapshot.
func watchRoster(ctx context.Context, reg *registry.Registry, path string) *watcher.Watcher {
	w, err := watcher.New(path, func() {
		log.Info().Str("path", path).Msg("Agent roster changed, re-importing")
		importRoster(ctx, reg, path)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create roster watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start roster watcher")
		return nil
	}
	log.Info().Str("path", path).Msg("Agent roster watcher started")
	return w
}

func runServer(ctx context.Context, cfg *config.Config, store *gormdb.Store, manager *session.Manager,
	conversations *conversation.Service, broadcaster *sse.Broadcaster) error {
	svc := worker.NewService(Version, cfg, store, manager, conversations, broadcaster)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(cfg.HTTPPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runConsole drives one interactive session until the human sends an empty message.
func runConsole(ctx context.Context, manager *session.Manager, conversations *conversation.Service, console *frontend.Console) error {
	identity, err := session.AskIdentity(ctx, console)
	if err != nil {
		return err
	}
	sess, err := manager.Open(ctx, identity)
	if err != nil {
		return err
	}

	prompt := frontend.MessageWelcome
	for {
		text, err := console.Ask(ctx, prompt)
		if errors.Is(err, frontend.ErrNoInput) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		prompt = promptNextMessage

		out, err := conversations.HandleMessage(ctx, sess, text)
		if out != nil {
			console.Notify(fmt.Sprintf("Conversation %s (task %d).", out.Status, out.TaskID))
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("Conversation failed")
			continue
		}

		if _, err := conversations.CollectFeedback(ctx, sess, out.TaskID); err != nil {
			log.Warn().Err(err).Msg("Failed to record feedback")
		}
	}
}
