// Package registry resolves agent definitions by name.
package registry

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/thebtf/roundtable/pkg/models"
)

// ErrNotFound is returned when no definition is stored under a name.
var ErrNotFound = models.ErrNotFound

// DefinitionStore is the persistence surface the registry needs.
type DefinitionStore interface {
	GetAgentDefinitionByName(ctx context.Context, name string) (*models.AgentDefinition, error)
	UpsertAgentDefinition(ctx context.Context, def *models.AgentDefinition) (int64, error)
}

// Registry resolves agent definitions from the store on every call.
// Concurrent lookups of the same name share one store read; nothing is cached
// beyond that read, so out-of-band edits are visible to the next lookup.
type Registry struct {
	store DefinitionStore
	group singleflight.Group
}

// New creates a registry over store.
func New(store DefinitionStore) *Registry {
	return &Registry{store: store}
}

// Resolve returns the current definition stored under name.
func (r *Registry) Resolve(ctx context.Context, name string) (*models.AgentDefinition, error) {
	ch := r.group.DoChan(name, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		return r.store.GetAgentDefinitionByName(context.WithoutCancel(ctx), name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("resolve agent %q: %w", name, res.Err)
		}
		// Shared results are cloned so callers never alias each other.
		return res.Val.(*models.AgentDefinition).Clone(), nil
	}
}

// Snapshot resolves every name once and freezes the results.
// Any missing name fails the whole snapshot.
func (r *Registry) Snapshot(ctx context.Context, names ...string) (*Snapshot, error) {
	snap := &Snapshot{
		byName: make(map[string]*models.AgentDefinition, len(names)),
		order:  make([]string, 0, len(names)),
	}
	for _, name := range names {
		if _, dup := snap.byName[name]; dup {
			continue
		}
		def, err := r.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		snap.byName[name] = def
		snap.order = append(snap.order, name)
	}
	return snap, nil
}

// Import upserts every roster entry and returns how many were written.
func (r *Registry) Import(ctx context.Context, roster *Roster) (int, error) {
	n := 0
	for _, def := range roster.Definitions() {
		if _, err := r.store.UpsertAgentDefinition(ctx, def); err != nil {
			return n, fmt.Errorf("import agent %q: %w", def.Name, err)
		}
		n++
	}
	return n, nil
}

// Snapshot is an immutable set of agent definitions frozen at session start.
type Snapshot struct {
	byName map[string]*models.AgentDefinition
	order  []string
}

// Resolve returns a copy of the frozen definition for name without touching the store.
func (s *Snapshot) Resolve(name string) (*models.AgentDefinition, bool) {
	def, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// Names returns the snapshot's names in resolution order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
