// ============================================================================
// Wave Plan Executor - One-Shot Dependency-Ordered Execution
// ============================================================================
//
// Package: internal/wave
// File: wave.go
// Purpose: Drives a fixed, finite list of task requests to completion in
//          dependency order, executing each wave of ready tasks
//          concurrently and detecting deadlock.
//
// Algorithm:
//   1. Validate the plan up front: every dependency type must appear in
//      the plan, types must be unique, and the type graph must be acyclic
//      (topological sort). Validation failures return an error with zero
//      results before anything runs.
//   2. Loop until every task is terminal:
//      a. Tasks with a failed or skipped dependency become terminal
//         "skipped" - an explicit result, never a silent drop.
//      b. Collect the ready set: non-terminal tasks whose dependencies all
//         completed. An empty ready set with work remaining is a deadlock.
//      c. Execute the whole wave concurrently (no concurrency cap in this
//         mode), each task under its own timeout.
//   3. Results are returned in plan order, one terminal result per task.
//
// Unlike the continuous engine there is no retry policy here: each task in
// a plan is executed exactly once.
//
// Identity note: within a plan, tasks are keyed by task TYPE (the unit of
// dependency reference), which is why duplicate types are rejected.
//
// ============================================================================

package wave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/toposort"
	"golang.org/x/sync/errgroup"

	"github.com/Emmelman/lawdigest-bot-sub000/pkg/logger"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

var log = logger.GetLogger()

var (
	// ErrNilExecutor is returned when no executor function is supplied.
	ErrNilExecutor = errors.New("executor must not be nil")
	// ErrDuplicateTaskType is returned when two plan entries share a type.
	ErrDuplicateTaskType = errors.New("duplicate task type in plan")
	// ErrUnknownDependency is returned when a dependency type never
	// appears among the plan's tasks.
	ErrUnknownDependency = errors.New("dependency type not present in plan")
	// ErrDependencyCycle is returned when the dependency graph contains a
	// cycle; no task of the plan is executed.
	ErrDependencyCycle = errors.New("dependency cycle in plan")
	// ErrDeadlock is returned when no task is ready yet not all tasks are
	// terminal. Partial results are still returned.
	ErrDeadlock = errors.New("plan deadlock: no ready tasks remain")
)

// planTask tracks one plan entry through the run.
type planTask struct {
	request  types.TaskRequest
	terminal bool
}

// ExecutePlan runs the given requests to completion respecting their
// declared dependencies and returns one terminal result per task, in plan
// order. The error is an engine-level condition (validation failure or
// deadlock), never a per-task failure: individual failures are reported
// through the result statuses.
func ExecutePlan(ctx context.Context, plan []types.TaskRequest, executor types.Executor) ([]types.TaskResult, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	if len(plan) == 0 {
		return nil, nil
	}

	now := time.Now()
	tasks := make([]*planTask, len(plan))
	byType := make(map[types.TaskType]*planTask, len(plan))

	for i, req := range plan {
		req.Normalize(now)
		if _, exists := byType[req.TaskType]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTaskType, req.TaskType)
		}
		task := &planTask{request: req}
		tasks[i] = task
		byType[req.TaskType] = task
	}

	if err := validate(tasks, byType); err != nil {
		return nil, err
	}

	log.Info().Int("tasks", len(tasks)).Msg("executing plan")

	completed := make(map[types.TaskType]bool)
	failed := make(map[types.TaskType]bool)
	results := make(map[types.TaskType]types.TaskResult, len(tasks))

	terminalCount := 0
	wave := 0

	for terminalCount < len(tasks) {
		wave++

		// Dependency failure propagates as an explicit "skipped" terminal
		// outcome so no task silently disappears from the result list.
		// Iterated to a fixpoint so whole chains of dependents resolve in
		// one pass regardless of plan order.
		for progressed := true; progressed; {
			progressed = false
			for _, task := range tasks {
				if task.terminal {
					continue
				}
				dep, bad := failedDependency(task.request.Dependencies, failed)
				if !bad {
					continue
				}
				task.terminal = true
				terminalCount++
				progressed = true
				failed[task.request.TaskType] = true
				results[task.request.TaskType] = types.TaskResult{
					TaskID:      types.TaskID(task.request.TaskType),
					TaskType:    task.request.TaskType,
					Status:      types.StatusSkipped,
					Error:       fmt.Sprintf("dependency %s failed", dep),
					CompletedAt: time.Now(),
				}
				log.Warn().
					Str("task_type", string(task.request.TaskType)).
					Str("failed_dependency", string(dep)).
					Msg("task skipped")
			}
		}
		if terminalCount == len(tasks) {
			break
		}

		var ready []*planTask
		for _, task := range tasks {
			if task.terminal {
				continue
			}
			if dependenciesMet(task.request.Dependencies, completed) {
				ready = append(ready, task)
			}
		}

		if len(ready) == 0 {
			// Validation should make this unreachable, but a buggy
			// executor cannot be allowed to spin the loop forever.
			remaining := remainingTypes(tasks)
			log.Error().Interface("remaining", remaining).Msg("plan deadlocked")
			return collectResults(tasks, results), fmt.Errorf("%w: remaining %v", ErrDeadlock, remaining)
		}

		log.Info().Int("wave", wave).Int("ready", len(ready)).Msg("executing wave")

		var group errgroup.Group
		waveResults := make([]types.TaskResult, len(ready))

		for i, task := range ready {
			i, task := i, task
			group.Go(func() error {
				waveResults[i] = executeOne(ctx, task.request, executor)
				return nil
			})
		}
		_ = group.Wait()

		for i, task := range ready {
			result := waveResults[i]
			task.terminal = true
			terminalCount++
			results[task.request.TaskType] = result

			if result.Status == types.StatusCompleted {
				completed[task.request.TaskType] = true
			} else {
				failed[task.request.TaskType] = true
			}
		}
	}

	log.Info().
		Int("completed", len(completed)).
		Int("failed_or_skipped", len(failed)).
		Msg("plan execution finished")

	return collectResults(tasks, results), nil
}

// validate rejects unknown dependency types and cycles before any task
// runs. The cycle check is a topological sort over the type graph.
func validate(tasks []*planTask, byType map[types.TaskType]*planTask) error {
	var edges []toposort.Edge

	for _, task := range tasks {
		if len(task.request.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, string(task.request.TaskType)})
			continue
		}
		for _, dep := range task.request.Dependencies {
			if _, exists := byType[dep]; !exists {
				return fmt.Errorf("%w: task %s depends on %s",
					ErrUnknownDependency, task.request.TaskType, dep)
			}
			edges = append(edges, toposort.Edge{string(dep), string(task.request.TaskType)})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}
	return nil
}

// executeOne runs a single plan task under its timeout and converts the
// outcome into a terminal result. Timeouts are treated identically to
// executor errors.
func executeOne(ctx context.Context, req types.TaskRequest, executor types.Executor) types.TaskResult {
	taskCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := executor(taskCtx, req)
		done <- outcome{result: result, err: err}
	}()

	result := types.TaskResult{
		TaskID:   types.TaskID(req.TaskType),
		TaskType: req.TaskType,
	}

	select {
	case <-taskCtx.Done():
		result.Status = types.StatusFailed
		result.Error = "execution timed out"
		log.Error().Str("task_type", string(req.TaskType)).Msg("plan task timed out")

	case out := <-done:
		if out.err != nil {
			result.Status = types.StatusFailed
			result.Error = out.err.Error()
			log.Error().Str("task_type", string(req.TaskType)).Err(out.err).Msg("plan task failed")
		} else {
			result.Status = types.StatusCompleted
			result.Result = out.result
			log.Info().
				Str("task_type", string(req.TaskType)).
				Dur("execution_time", time.Since(start)).
				Msg("plan task completed")
		}
	}

	result.ExecutionTime = time.Since(start)
	result.CompletedAt = time.Now()
	return result
}

func dependenciesMet(deps []types.TaskType, completed map[types.TaskType]bool) bool {
	for _, dep := range deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// failedDependency returns the first dependency that terminally failed or
// was skipped.
func failedDependency(deps []types.TaskType, failed map[types.TaskType]bool) (types.TaskType, bool) {
	for _, dep := range deps {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

func remainingTypes(tasks []*planTask) []types.TaskType {
	var remaining []types.TaskType
	for _, task := range tasks {
		if !task.terminal {
			remaining = append(remaining, task.request.TaskType)
		}
	}
	return remaining
}

// collectResults orders terminal results by plan position. Tasks that never
// ran (deadlock abort) have no entry.
func collectResults(tasks []*planTask, results map[types.TaskType]types.TaskResult) []types.TaskResult {
	out := make([]types.TaskResult, 0, len(results))
	for _, task := range tasks {
		if result, ok := results[task.request.TaskType]; ok {
			out = append(out, result)
		}
	}
	return out
}
