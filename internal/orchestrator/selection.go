// Package orchestrator runs one multi-agent conversation as an explicit state machine.
package orchestrator

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// selectSpeaker asks the coordinator for a nominee and falls back to list
// order when the nomination cannot be used.
func (o *Orchestrator) selectSpeaker(ctx context.Context, run *conversation, round int, eligible []string) Participant {
	nomCtx := ctx
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		nomCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	nominee, err := o.coordinator.Nominate(nomCtx, slices.Clone(run.transcript), slices.Clone(eligible))
	if err == nil {
		if idx, ok := o.matchNomination(nominee, eligible); ok {
			return o.participants[idx]
		}
	}

	chosen := o.nextInOrder(run.last, eligible)
	reason := "invalid nomination"
	if err != nil {
		reason = err.Error()
	}
	log.Info().Str("nominee", nominee).Str("fallback", chosen.Name()).Str("reason", reason).Int("round", round).
		Msg("Speaker selection fell back to list order")
	o.metrics.fallback(ctx)
	o.emit(Event{Kind: EventSelectionFallback, Round: round, Speaker: chosen.Name(), Nominee: nominee, Reason: reason})
	return chosen
}

// matchNomination resolves nominee text to a participant index.
// An exact (case-insensitive) name wins; otherwise exactly one participant
// must be mentioned. The match must be eligible.
func (o *Orchestrator) matchNomination(nominee string, eligible []string) (int, bool) {
	text := strings.Trim(strings.TrimSpace(nominee), "\"'`.,:;!* ")
	if text == "" {
		return 0, false
	}

	match := -1
	for i, p := range o.participants {
		if strings.EqualFold(p.Name(), text) {
			match = i
			break
		}
	}
	if match < 0 {
		for i, re := range o.patterns {
			if !re.MatchString(text) {
				continue
			}
			if match >= 0 {
				return 0, false // ambiguous
			}
			match = i
		}
	}
	if match < 0 {
		return 0, false
	}
	if !containsFold(eligible, o.participants[match].Name()) {
		return 0, false
	}
	return match, true
}

// nextInOrder returns the first eligible participant after last in cyclic
// list order, starting at the head of the list when last is not a participant.
// eligible must be non-empty.
func (o *Orchestrator) nextInOrder(last string, eligible []string) Participant {
	start := -1
	for i, p := range o.participants {
		if strings.EqualFold(p.Name(), last) {
			start = i
			break
		}
	}
	n := len(o.participants)
	for step := 1; step <= n; step++ {
		p := o.participants[(start+step+n)%n]
		if containsFold(eligible, p.Name()) {
			return p
		}
	}
	// Unreachable while eligible is a non-empty subset of participants.
	return o.participants[0]
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
