// ============================================================================
// Engine Integration Test Suite
// ============================================================================
//
// Package: test/integration
// File: engine_test.go
// Functionality: End-to-end tests of both execution modes
//
// Test Objectives:
//   1. verify the continuous engine drives a dependency chain to completion
//   2. verify priority ordering and retry under a flaky executor
//   3. verify a wave plan produces one terminal result per task with skip
//      propagation on failure
//
// Test Environment:
//   - simulated task execution latency: 0-50ms
//   - fast tick interval (10ms) to keep wall-clock time low
//
// Notes:
//   - test results affected by system load
//   - CI environment may be slower than local
//
// ============================================================================

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emmelman/lawdigest-bot-sub000/internal/queue"
	"github.com/Emmelman/lawdigest-bot-sub000/internal/wave"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

// TestEndToEndChain drives a collect -> analyze -> digest pipeline plus
// independent filler tasks through the continuous engine.
func TestEndToEndChain(t *testing.T) {
	q := queue.New(queue.Config{
		MaxConcurrent: 3,
		TickInterval:  10 * time.Millisecond,
	})

	var mu sync.Mutex
	executed := make(map[types.TaskType]time.Time)

	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		mu.Lock()
		executed[req.TaskType] = time.Now()
		mu.Unlock()
		return string(req.TaskType) + " done", nil
	}

	chain := []types.TaskRequest{
		{TaskType: "collect", Priority: types.PriorityHigh},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"}},
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
	}
	ids := make(map[types.TaskType]types.TaskID)
	for _, req := range chain {
		id, err := q.AddTask(req)
		require.NoError(t, err)
		ids[req.TaskType] = id
	}
	for i := 0; i < 5; i++ {
		_, err := q.AddTask(types.TaskRequest{
			TaskType: types.TaskType(fmt.Sprintf("filler-%d", i)),
			Priority: types.PriorityLow,
		})
		require.NoError(t, err)
	}

	require.NoError(t, q.StartProcessing(executor))
	defer q.StopProcessing()

	require.Eventually(t, func() bool {
		return q.GetStatus().Completed == 8
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, executed["collect"].Before(executed["analyze"]))
	assert.True(t, executed["analyze"].Before(executed["digest"]))

	for taskType, id := range ids {
		result, ok := q.GetResult(id)
		require.True(t, ok, "result for %s must be retained", taskType)
		assert.Equal(t, types.StatusCompleted, result.Status)
		assert.Equal(t, string(taskType)+" done", result.Result)
	}
}

// TestFlakyWorkloadRetriesToCompletion submits tasks against an executor
// that fails the first attempt of every task; retries must drive all of
// them to completion.
func TestFlakyWorkloadRetriesToCompletion(t *testing.T) {
	q := queue.New(queue.Config{
		MaxConcurrent: 4,
		TickInterval:  10 * time.Millisecond,
		BackoffCap:    20 * time.Millisecond,
	})

	var mu sync.Mutex
	seen := make(map[types.TaskType]int)
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		mu.Lock()
		seen[req.TaskType]++
		attempt := seen[req.TaskType]
		mu.Unlock()
		if attempt == 1 {
			return nil, errors.New("transient failure")
		}
		return nil, nil
	}

	const n = 10
	for i := 0; i < n; i++ {
		_, err := q.AddTask(types.TaskRequest{
			TaskType:   types.TaskType(fmt.Sprintf("job-%d", i)),
			MaxRetries: 2,
		})
		require.NoError(t, err)
	}

	require.NoError(t, q.StartProcessing(executor))
	defer q.StopProcessing()

	require.Eventually(t, func() bool {
		return q.GetStatus().Completed == n
	}, 15*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, q.GetStatus().Failed)
	mu.Lock()
	defer mu.Unlock()
	for taskType, attempts := range seen {
		assert.Equal(t, 2, attempts, "%s should succeed on the second attempt", taskType)
	}
}

// TestGracefulShutdownFinishesDispatchedWork verifies that StopProcessing
// waits for the scheduling loop and leaves the queue in a restartable state.
func TestGracefulShutdownFinishesDispatchedWork(t *testing.T) {
	q := queue.New(queue.Config{
		MaxConcurrent: 2,
		TickInterval:  10 * time.Millisecond,
	})

	var completed int64
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt64(&completed, 1)
		return nil, nil
	}

	for i := 0; i < 4; i++ {
		_, err := q.AddTask(types.TaskRequest{
			TaskType: types.TaskType(fmt.Sprintf("job-%d", i)),
		})
		require.NoError(t, err)
	}

	require.NoError(t, q.StartProcessing(executor))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&completed) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	q.StopProcessing()
	assert.False(t, q.GetStatus().Running)

	// The engine restarts cleanly and drains whatever is left.
	require.NoError(t, q.StartProcessing(executor))
	require.Eventually(t, func() bool {
		return q.GetStatus().Completed == 4
	}, 10*time.Second, 20*time.Millisecond)
	q.StopProcessing()
}

// TestWavePlanEndToEnd exercises the one-shot mode: a pipeline with a
// deliberate failure in the middle and an untouched independent branch.
func TestWavePlanEndToEnd(t *testing.T) {
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		if flaky, _ := req.Params["fail"].(bool); flaky {
			return nil, errors.New("simulated failure")
		}
		return string(req.TaskType) + " done", nil
	}

	plan := []types.TaskRequest{
		{TaskType: "collect", Priority: types.PriorityHigh},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"},
			Params: map[string]interface{}{"fail": true}},
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
		{TaskType: "housekeeping", Priority: types.PriorityLow},
	}

	results, err := wave.ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err)
	require.Len(t, results, len(plan), "one terminal result per plan task")

	byType := make(map[types.TaskType]types.TaskResult)
	for _, result := range results {
		byType[result.TaskType] = result
	}

	assert.Equal(t, types.StatusCompleted, byType["collect"].Status)
	assert.Equal(t, types.StatusFailed, byType["analyze"].Status)
	assert.Equal(t, types.StatusSkipped, byType["digest"].Status)
	assert.Equal(t, types.StatusCompleted, byType["housekeeping"].Status)
}
