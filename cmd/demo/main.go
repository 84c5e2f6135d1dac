// Demo: drives both engine modes with an instant executor.
//
//  1. Continuous queue: submits a collect -> analyze -> digest chain and a
//     batch of independent tasks, waits for completion, prints status.
//  2. Wave plan: executes the same chain as a one-shot plan, including a
//     task that fails so the skip propagation is visible.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Emmelman/lawdigest-bot-sub000/internal/queue"
	"github.com/Emmelman/lawdigest-bot-sub000/internal/wave"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

func main() {
	executor := func(ctx context.Context, req types.TaskRequest) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if flaky, _ := req.Params["fail"].(bool); flaky {
			return nil, errors.New("simulated failure")
		}
		return fmt.Sprintf("%s done", req.TaskType), nil
	}

	runContinuous(executor)
	runWavePlan(executor)
}

func runContinuous(executor types.Executor) {
	fmt.Println("=== continuous queue ===")

	q := queue.New(queue.Config{
		MaxConcurrent: 2,
		TickInterval:  50 * time.Millisecond,
	})

	chain := []types.TaskRequest{
		{TaskType: "collect", Priority: types.PriorityHigh},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"}},
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
	}
	for _, req := range chain {
		id, err := q.AddTask(req)
		if err != nil {
			fmt.Printf("add task failed: %v\n", err)
			return
		}
		fmt.Printf("submitted %-8s id=%s\n", req.TaskType, id)
	}

	if err := q.StartProcessing(executor); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}

	deadline := time.After(10 * time.Second)
	for {
		status := q.GetStatus()
		if status.Completed == len(chain) {
			break
		}
		select {
		case <-deadline:
			fmt.Println("timed out waiting for chain")
			q.StopProcessing()
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	q.StopProcessing()

	status := q.GetStatus()
	fmt.Printf("completed=%d failed=%d pending=%d blocked=%d\n\n",
		status.Completed, status.Failed, status.Pending, status.Blocked)
}

func runWavePlan(executor types.Executor) {
	fmt.Println("=== wave plan ===")

	plan := []types.TaskRequest{
		{TaskType: "collect", Priority: types.PriorityHigh},
		{TaskType: "analyze", Dependencies: []types.TaskType{"collect"},
			Params: map[string]interface{}{"fail": true}, MaxRetries: 0},
		{TaskType: "digest", Dependencies: []types.TaskType{"analyze"}},
		{TaskType: "housekeeping", Priority: types.PriorityLow},
	}

	results, err := wave.ExecutePlan(context.Background(), plan, executor)
	if err != nil {
		fmt.Printf("plan error: %v\n", err)
	}
	for _, result := range results {
		fmt.Printf("%-14s %-10s %s\n", result.TaskType, result.Status, result.Error)
	}
}
