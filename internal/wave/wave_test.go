package wave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

func okExecutor(ctx context.Context, req types.TaskRequest) (interface{}, error) {
	return string(req.TaskType) + " done", nil
}

func TestExecutePlanNilExecutor(t *testing.T) {
	results, err := ExecutePlan(context.Background(), []types.TaskRequest{{TaskType: "a"}}, nil)
	assert.ErrorIs(t, err, ErrNilExecutor)
	assert.Nil(t, results)
}

func TestExecutePlanEmpty(t *testing.T) {
	results, err := ExecutePlan(context.Background(), nil, okExecutor)
	assert.NoError(t, err)
	assert.Nil(t, results)
}

func TestExecutePlanChainRunsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []types.TaskType
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		mu.Lock()
		order = append(order, req.TaskType)
		mu.Unlock()
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
		{TaskType: "collect"},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"}},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []types.TaskType{"collect", "analyze", "digest"}, order)

	for _, result := range results {
		assert.Equal(t, types.StatusCompleted, result.Status)
	}
}

func TestExecutePlanResultsInPlanOrder(t *testing.T) {
	plan := []types.TaskRequest{
		{TaskType: "digest", Dependencies: []types.TaskType{"collect"}},
		{TaskType: "collect"},
	}

	results, err := ExecutePlan(context.Background(), plan, okExecutor)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, types.TaskType("digest"), results[0].TaskType)
	assert.Equal(t, types.TaskType("collect"), results[1].TaskType)
}

func TestExecutePlanIndependentTasksSameWave(t *testing.T) {
	// Three tasks with no dependencies should overlap: with each sleeping
	// 50ms, a serial run would take 150ms+.
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "a"},
		{TaskType: "b"},
		{TaskType: "c"},
	}

	start := time.Now()
	results, err := ExecutePlan(context.Background(), plan, executor)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Less(t, elapsed, 140*time.Millisecond,
		"independent tasks must run concurrently within one wave")
}

func TestExecutePlanFailurePropagatesAsSkipped(t *testing.T) {
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		if req.TaskType == "analyze" {
			return nil, errors.New("model unavailable")
		}
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "collect"},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"}},
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
		{TaskType: "publish", Dependencies: []types.TaskType{"digest"}},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err, "per-task failures are not engine errors")
	require.Len(t, results, 4)

	byType := make(map[types.TaskType]types.TaskResult)
	for _, result := range results {
		byType[result.TaskType] = result
	}

	assert.Equal(t, types.StatusCompleted, byType["collect"].Status)
	assert.Equal(t, types.StatusFailed, byType["analyze"].Status)
	assert.Equal(t, "model unavailable", byType["analyze"].Error)

	// Skips propagate transitively through the whole dependent chain.
	assert.Equal(t, types.StatusSkipped, byType["digest"].Status)
	assert.Equal(t, "dependency analyze failed", byType["digest"].Error)
	assert.Equal(t, types.StatusSkipped, byType["publish"].Status)
	assert.Equal(t, "dependency digest failed", byType["publish"].Error)
}

func TestExecutePlanUnaffectedBranchStillRuns(t *testing.T) {
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		if req.TaskType == "broken" {
			return nil, errors.New("boom")
		}
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "broken"},
		{TaskType: "victim", Dependencies: []types.TaskType{"broken"}},
		{TaskType: "bystander"},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byType := make(map[types.TaskType]types.TaskResult)
	for _, result := range results {
		byType[result.TaskType] = result
	}
	assert.Equal(t, types.StatusFailed, byType["broken"].Status)
	assert.Equal(t, types.StatusSkipped, byType["victim"].Status)
	assert.Equal(t, types.StatusCompleted, byType["bystander"].Status)
}

func TestExecutePlanDuplicateTypeRejected(t *testing.T) {
	plan := []types.TaskRequest{
		{TaskType: "collect"},
		{TaskType: "collect"},
	}

	results, err := ExecutePlan(context.Background(), plan, okExecutor)
	assert.ErrorIs(t, err, ErrDuplicateTaskType)
	assert.Nil(t, results)
}

func TestExecutePlanUnknownDependencyRejected(t *testing.T) {
	called := false
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		called = true
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "digest", Dependencies: []types.TaskType{"nonexistent"}},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	assert.ErrorIs(t, err, ErrUnknownDependency)
	assert.Nil(t, results)
	assert.False(t, called, "nothing may run when validation fails")
}

func TestExecutePlanCycleRejected(t *testing.T) {
	called := false
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		called = true
		return nil, nil
	}

	plan := []types.TaskRequest{
		{TaskType: "a", Dependencies: []types.TaskType{"b"}},
		{TaskType: "b", Dependencies: []types.TaskType{"c"}},
		{TaskType: "c", Dependencies: []types.TaskType{"a"}},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Nil(t, results)
	assert.False(t, called, "no task of a cyclic plan may execute")
}

func TestExecutePlanTaskTimeout(t *testing.T) {
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	plan := []types.TaskRequest{
		{TaskType: "slow", Timeout: 50 * time.Millisecond},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.Equal(t, "execution timed out", results[0].Error)
}

func TestExecutePlanSingleAttemptPerTask(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[types.TaskType]int)
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		mu.Lock()
		attempts[req.TaskType]++
		mu.Unlock()
		return nil, errors.New("always fails")
	}

	plan := []types.TaskRequest{
		{TaskType: "flaky", MaxRetries: 3},
	}

	results, err := ExecutePlan(context.Background(), plan, executor)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.Equal(t, 1, attempts["flaky"], "plan tasks run exactly once")
}

func TestExecutePlanCarriesResultPayload(t *testing.T) {
	plan := []types.TaskRequest{{TaskType: "collect"}}

	results, err := ExecutePlan(context.Background(), plan, okExecutor)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "collect done", results[0].Result)
	assert.Greater(t, results[0].ExecutionTime, time.Duration(0))
	assert.False(t, results[0].CompletedAt.IsZero())
}
