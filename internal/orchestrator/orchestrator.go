// Package orchestrator runs one multi-agent conversation as an explicit state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/roundtable/internal/llm"
	"github.com/thebtf/roundtable/pkg/models"
)

// Defaults applied by New when the config leaves a field zero.
const (
	DefaultMaxRounds              = 50
	DefaultTerminationToken       = "TERMINATE"
	DefaultMaxConsecutiveFailures = 3
)

var (
	// ErrStall is returned when no participant is eligible to speak.
	ErrStall = errors.New("no eligible speaker")
	// ErrAlreadyStarted is returned when Run is called on a used orchestrator.
	ErrAlreadyStarted = errors.New("conversation already started")
	// errDiscarded marks a Respond whose caller was cancelled before it returned.
	errDiscarded = errors.New("response discarded after cancellation")
)

// Participant is one named agent taking turns in the conversation.
type Participant interface {
	Name() string
	Respond(ctx context.Context, transcript []models.Turn) (string, error)
}

// Coordinator nominates the next speaker from the eligible names.
// The returned text is parsed leniently; anything unusable triggers the fallback.
type Coordinator interface {
	Nominate(ctx context.Context, transcript []models.Turn, eligible []string) (string, error)
}

// TurnSink durably records each turn as soon as it is appended.
type TurnSink interface {
	Commit(ctx context.Context, sequence int, turn models.Turn) error
}

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reason explains how a conversation ended.
type Reason string

const (
	ReasonTerminated  Reason = "terminated"
	ReasonMaxRounds   Reason = "max_rounds"
	ReasonStalled     Reason = "stalled"
	ReasonCancelled   Reason = "cancelled"
	ReasonPersistence Reason = "persistence"
)

// Config bounds one conversation.
type Config struct {
	MaxRounds              int
	TerminationToken       string
	TurnTimeout            time.Duration
	MaxConsecutiveFailures int
	AllowRepeatSpeaker     bool
}

// Result is the outcome of Run. Transcript is always populated, partially on abort.
type Result struct {
	State      State
	Reason     Reason
	Truncated  bool
	Rounds     int
	Transcript []models.Turn
	Excluded   []string
}

// Orchestrator drives a single conversation. It is not reusable.
type Orchestrator struct {
	cfg          Config
	participants []Participant
	patterns     []*regexp.Regexp
	coordinator  Coordinator
	sink         TurnSink
	observer     Observer
	metrics      *metrics
	state        atomic.Int32
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink commits every turn through sink.
func WithSink(sink TurnSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithObserver receives conversation events.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) { o.observer = observer }
}

// New validates the participant list and applies config defaults.
func New(cfg Config, participants []Participant, coordinator Coordinator, opts ...Option) (*Orchestrator, error) {
	if len(participants) == 0 {
		return nil, errors.New("orchestrator needs at least one participant")
	}
	if coordinator == nil {
		return nil, errors.New("orchestrator needs a coordinator")
	}
	seen := make(map[string]bool, len(participants))
	patterns := make([]*regexp.Regexp, len(participants))
	for i, p := range participants {
		key := strings.ToLower(p.Name())
		if key == "" {
			return nil, fmt.Errorf("participant %d has no name", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate participant %q", p.Name())
		}
		seen[key] = true
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p.Name()) + `\b`)
	}

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.TerminationToken == "" {
		cfg.TerminationToken = DefaultTerminationToken
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	o := &Orchestrator{
		cfg:          cfg,
		participants: participants,
		patterns:     patterns,
		coordinator:  coordinator,
		metrics:      defaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current lifecycle state. Safe for concurrent use.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run seeds the transcript with seed authored by seedSpeaker and takes turns
// until termination. Aborted conversations return the partial result and a
// non-nil error: ErrStall, models.ErrPersistence or the context error.
func (o *Orchestrator) Run(ctx context.Context, seedSpeaker, seed string) (*Result, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, ErrAlreadyStarted
	}
	o.emit(Event{Kind: EventStateChanged, State: StateRunning})

	run := &conversation{
		transcript: []models.Turn{{Speaker: seedSpeaker, Content: seed}},
		excluded:   make(map[string]bool),
		failures:   make(map[string]int),
		last:       seedSpeaker,
	}
	if err := o.commit(ctx, 0, run.transcript[0]); err != nil {
		return o.abort(ctx, run, ReasonPersistence, err)
	}

	for round := 1; round <= o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, run, ReasonCancelled, err)
		}

		eligible := o.eligible(run)
		if len(eligible) == 0 {
			return o.abort(ctx, run, ReasonStalled, ErrStall)
		}

		speaker := o.selectSpeaker(ctx, run, round, eligible)

		// Cancellation must stop the loop before the next Respond is issued.
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, run, ReasonCancelled, err)
		}

		content, err := o.respond(ctx, speaker, slices.Clone(run.transcript))
		if errors.Is(err, errDiscarded) {
			return o.abort(ctx, run, ReasonCancelled, ctx.Err())
		}

		turn := models.Turn{Speaker: speaker.Name(), Content: content}
		if err != nil {
			turn = o.failTurn(ctx, run, round, speaker.Name(), err)
		} else {
			run.failures[speaker.Name()] = 0
		}

		run.transcript = append(run.transcript, turn)
		run.rounds = round
		run.last = speaker.Name()
		seq := len(run.transcript) - 1
		if err := o.commit(ctx, seq, turn); err != nil {
			return o.abort(ctx, run, ReasonPersistence, err)
		}
		o.metrics.turn(ctx, turn)
		o.emit(Event{Kind: EventTurn, Round: round, Sequence: seq, Speaker: turn.Speaker, Turn: &turn})

		if err == nil && strings.Contains(content, o.cfg.TerminationToken) {
			return o.complete(ctx, run, ReasonTerminated), nil
		}
	}

	return o.complete(ctx, run, ReasonMaxRounds), nil
}

// conversation is the mutable state of one Run, owned by the Run goroutine.
type conversation struct {
	transcript []models.Turn
	excluded   map[string]bool
	failures   map[string]int
	last       string
	rounds     int
}

// eligible lists participants in order minus excluded ones and, unless
// repeats are allowed, the last speaker.
func (o *Orchestrator) eligible(run *conversation) []string {
	out := make([]string, 0, len(o.participants))
	for _, p := range o.participants {
		name := p.Name()
		if run.excluded[name] {
			continue
		}
		if !o.cfg.AllowRepeatSpeaker && strings.EqualFold(name, run.last) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// respond calls the participant without holding any lock. The call runs on a
// context detached from ctx so cancellation never interrupts it; if ctx ends
// first the eventual result is dropped.
func (o *Orchestrator) respond(ctx context.Context, p Participant, transcript []models.Turn) (string, error) {
	callCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if o.cfg.TurnTimeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, o.cfg.TurnTimeout)
	}

	type result struct {
		content string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		content, err := p.Respond(callCtx, transcript)
		done <- result{content: content, err: err}
	}()

	select {
	case r := <-done:
		return r.content, r.err
	case <-ctx.Done():
		log.Debug().Str("speaker", p.Name()).Msg("Conversation cancelled during response; result will be discarded")
		return "", errDiscarded
	}
}

// failTurn builds the synthetic error turn and applies the exclusion policy.
func (o *Orchestrator) failTurn(ctx context.Context, run *conversation, round int, name string, err error) models.Turn {
	kind := llm.Classify(err)
	run.failures[name]++
	hard := llm.IsHard(kind) || run.failures[name] >= o.cfg.MaxConsecutiveFailures

	log.Warn().Err(err).Str("speaker", name).Str("kind", string(kind)).Int("round", round).Bool("hard", hard).
		Msg("Participant failed to respond")
	o.metrics.failure(ctx, name, kind, hard)

	turn := models.Turn{
		Speaker: name,
		Content: fmt.Sprintf("%s %s: %v", models.ErrorMarker, kind, err),
		Failure: &models.TurnFailure{Kind: kind, Message: err.Error()},
	}

	if hard && !run.excluded[name] {
		run.excluded[name] = true
		o.emit(Event{Kind: EventParticipantExcluded, Round: round, Speaker: name, Reason: string(kind)})
		log.Warn().Str("speaker", name).Int("round", round).Msg("Participant excluded for the rest of the conversation")
	}
	return turn
}

func (o *Orchestrator) commit(ctx context.Context, seq int, turn models.Turn) error {
	if o.sink == nil {
		return nil
	}
	// An authored turn is recorded even when the caller has already cancelled.
	if err := o.sink.Commit(context.WithoutCancel(ctx), seq, turn); err != nil {
		if errors.Is(err, models.ErrPersistence) {
			return err
		}
		return fmt.Errorf("commit turn %d: %w: %w", seq, models.ErrPersistence, err)
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, run *conversation, reason Reason) *Result {
	o.state.Store(int32(StateCompleted))
	res := o.result(run, StateCompleted, reason)
	res.Truncated = reason == ReasonMaxRounds
	o.metrics.finished(ctx, reason)
	o.emit(Event{Kind: EventStateChanged, State: StateCompleted, Reason: string(reason)})
	log.Info().Str("reason", string(reason)).Int("rounds", run.rounds).Bool("truncated", res.Truncated).
		Msg("Conversation completed")
	return res
}

func (o *Orchestrator) abort(ctx context.Context, run *conversation, reason Reason, err error) (*Result, error) {
	o.state.Store(int32(StateAborted))
	res := o.result(run, StateAborted, reason)
	o.metrics.finished(context.WithoutCancel(ctx), reason)
	o.emit(Event{Kind: EventStateChanged, State: StateAborted, Reason: string(reason)})
	log.Warn().Err(err).Str("reason", string(reason)).Int("rounds", run.rounds).Msg("Conversation aborted")
	return res, err
}

func (o *Orchestrator) result(run *conversation, state State, reason Reason) *Result {
	excluded := make([]string, 0, len(run.excluded))
	for _, p := range o.participants {
		if run.excluded[p.Name()] {
			excluded = append(excluded, p.Name())
		}
	}
	return &Result{
		State:      state,
		Reason:     reason,
		Rounds:     run.rounds,
		Transcript: slices.Clone(run.transcript),
		Excluded:   excluded,
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}
