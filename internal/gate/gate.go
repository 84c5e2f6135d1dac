// ============================================================================
// Dependency Gate - Type-Keyed Readiness Classification
// ============================================================================
//
// Package: internal/gate
// File: gate.go
// Purpose: Decides whether a task's declared dependencies are satisfied by
//          previously completed work.
//
// Resolution Model:
//   Dependencies are resolved by task TYPE, not by task instance. A task
//   declaring dependencies ["collect", "analyze"] becomes ready as soon as
//   at least one completed result exists for EACH of those types. If two
//   independently submitted requests share a type, the dependent unblocks
//   on whichever instance finishes first.
//
//   This is a deliberate constraint, not an oversight: callers must treat
//   task types as having at most one logically relevant concurrent instance
//   whenever dependencies matter.
//
// Evaluation Points:
//   The gate is consulted lazily (no event propagation):
//   1. Continuous engine: on submission, on every admission attempt, and on
//      the blocked-task promotion pass of each tick.
//   2. Wave executor: on every wave iteration.
//
// Retention Interaction:
//   The continuous engine's retention sweep purges old completed results.
//   When the last retained completed result of a type is purged, the engine
//   calls Forget so the gate stays consistent with the retained result set.
//
// ============================================================================

package gate

import (
	"sync"

	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

// Gate tracks which task types have at least one completed instance and
// classifies tasks as ready or blocked.
type Gate struct {
	mu        sync.RWMutex
	completed map[types.TaskType]int // type -> count of retained completed results
}

// New creates an empty Gate.
func New() *Gate {
	return &Gate{
		completed: make(map[types.TaskType]int),
	}
}

// MarkCompleted records one completed result for the given type.
func (g *Gate) MarkCompleted(taskType types.TaskType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskType]++
}

// Forget removes one retained completed result for the given type. Once the
// count drops to zero the type no longer satisfies dependencies. Called by
// the retention sweep.
func (g *Gate) Forget(taskType types.TaskType) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.completed[taskType] <= 1 {
		delete(g.completed, taskType)
		return
	}
	g.completed[taskType]--
}

// IsReady reports whether every dependency type has at least one completed
// instance. A task with no dependencies is always ready.
func (g *Gate) IsReady(deps []types.TaskType) bool {
	if len(deps) == 0 {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, dep := range deps {
		if g.completed[dep] == 0 {
			return false
		}
	}
	return true
}

// Missing returns the dependency types that are not yet satisfied, in the
// order they were declared. Used for logging and introspection.
func (g *Gate) Missing(deps []types.TaskType) []types.TaskType {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var missing []types.TaskType
	for _, dep := range deps {
		if g.completed[dep] == 0 {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Satisfied reports whether a single type has a completed instance.
func (g *Gate) Satisfied(taskType types.TaskType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completed[taskType] > 0
}
