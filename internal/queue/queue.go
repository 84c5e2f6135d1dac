// ============================================================================
// Continuous Queue Engine - Priority Scheduler with Dependencies and Retry
// ============================================================================
//
// Package: internal/queue
// File: queue.go
// Purpose: Long-lived task scheduler with bounded concurrency, type-keyed
//          dependency gating, retry with exponential backoff, and
//          retention-based cleanup of terminal results.
//
// Task State Machine:
//   pending (heap)
//      |  dependencies unmet at submission or admission
//      v
//   blocked (map) --- dependencies satisfied ---> pending
//      |
//   pending -- admitted --> running (active map)
//      |                       |-- success --> completed (terminal)
//      |                       |-- failure/timeout, retries left
//      |                       |       --> pending (backoff delay)
//      |                       `-- failure, retries exhausted --> failed
//      `-- CancelTask (pending/blocked only) --> cancelled (terminal)
//
// Scheduling Tick (fixed interval, default 1s):
//   1. Admit: while the active set is below the concurrency cap, pop the
//      highest-scored pending task, re-validate its dependencies and
//      admission deadline, and dispatch it as a fire-and-forget goroutine
//      bounded by its timeout.
//   2. Promote: move blocked tasks whose dependencies became satisfied back
//      into the pending heap (score recomputed).
//   The retention sweep runs on its own cron schedule, purging terminal
//   results older than the retention window.
//
// Concurrency Model:
//   One coarse mutex owns the heap and all four state maps. The executor
//   call itself runs OUTSIDE the lock: a dispatched goroutine re-acquires
//   the lock only to record its outcome, so one slow task never blocks
//   admission of other ready work. Running tasks cannot be cancelled; this
//   is a hard limitation of the design, not an oversight.
//
// ============================================================================

package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Emmelman/lawdigest-bot-sub000/internal/gate"
	"github.com/Emmelman/lawdigest-bot-sub000/internal/metrics"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/logger"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

var log = logger.GetLogger()

var (
	// ErrAlreadyRunning is returned when StartProcessing is called twice.
	ErrAlreadyRunning = errors.New("queue processing already running")
	// ErrNilExecutor is returned when no executor function is supplied.
	ErrNilExecutor = errors.New("executor must not be nil")
	// ErrEmptyTaskType is returned for a request without a task type.
	ErrEmptyTaskType = errors.New("task type must not be empty")
)

// Default configuration values.
const (
	DefaultMaxConcurrent   = 3
	DefaultTickInterval    = 1 * time.Second
	DefaultRetentionWindow = 24 * time.Hour
	DefaultBackoffBase     = 2
	DefaultBackoffCap      = 60 * time.Second
	DefaultSweepSchedule   = "@every 1m"
)

// Config holds the tunables of the continuous queue engine.
type Config struct {
	MaxConcurrent   int           // concurrency cap for active tasks
	TickInterval    time.Duration // scheduling tick interval
	RetentionWindow time.Duration // how long terminal results are kept
	BackoffBase     int           // exponential backoff base (delay = base^retry seconds)
	BackoffCap      time.Duration // upper bound on the backoff delay
	SweepSchedule   string        // cron expression for the retention sweep
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   DefaultMaxConcurrent,
		TickInterval:    DefaultTickInterval,
		RetentionWindow: DefaultRetentionWindow,
		BackoffBase:     DefaultBackoffBase,
		BackoffCap:      DefaultBackoffCap,
		SweepSchedule:   DefaultSweepSchedule,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = DefaultRetentionWindow
	}
	if c.BackoffBase < 2 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
}

// Status is the read-only aggregate view returned by GetStatus.
type Status struct {
	Running       bool `json:"running"`
	Pending       int  `json:"pending"`
	Active        int  `json:"active"`
	Blocked       int  `json:"blocked"`
	Completed     int  `json:"completed"`
	Failed        int  `json:"failed"`
	MaxConcurrent int  `json:"max_concurrent"`
}

// TaskQueue is the continuous priority queue engine. All state is owned by
// the struct and guarded by a single mutex; callers interact only through
// the exported methods.
type TaskQueue struct {
	mu     sync.Mutex
	config Config

	pending   taskHeap
	active    map[types.TaskID]*types.QueuedTask
	blocked   map[types.TaskID]*types.QueuedTask
	completed map[types.TaskID]*types.TaskResult
	failed    map[types.TaskID]*types.TaskResult

	gate      *gate.Gate
	collector *metrics.Collector
	executor  types.Executor

	running bool
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
	sweeper *cron.Cron
}

// New creates a TaskQueue with the given configuration. Zero-value config
// fields fall back to defaults.
func New(config Config) *TaskQueue {
	config.applyDefaults()

	q := &TaskQueue{
		config:    config,
		pending:   taskHeap{},
		active:    make(map[types.TaskID]*types.QueuedTask),
		blocked:   make(map[types.TaskID]*types.QueuedTask),
		completed: make(map[types.TaskID]*types.TaskResult),
		failed:    make(map[types.TaskID]*types.TaskResult),
		gate:      gate.New(),
	}
	heap.Init(&q.pending)

	log.Info().
		Int("max_concurrent", config.MaxConcurrent).
		Dur("tick_interval", config.TickInterval).
		Msg("task queue initialized")

	return q
}

// SetCollector attaches a metrics collector. Optional; must be called
// before StartProcessing.
func (q *TaskQueue) SetCollector(c *metrics.Collector) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.collector = c
}

// AddTask wraps the request in a task descriptor and inserts it into the
// pending heap, or into the blocked set when its dependencies are not yet
// satisfied. Never fails for a well-formed request; tasks may be added
// before or after StartProcessing.
func (q *TaskQueue) AddTask(req types.TaskRequest) (types.TaskID, error) {
	if req.TaskType == "" {
		return "", ErrEmptyTaskType
	}

	now := time.Now()
	req.Normalize(now)

	task := &types.QueuedTask{
		ID:          types.TaskID(uuid.NewString()),
		Request:     req,
		CreatedAt:   req.CreatedAt,
		ScheduledAt: now,
	}
	task.ComputeScore(now)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.gate.IsReady(req.Dependencies) {
		heap.Push(&q.pending, task)
		log.Info().
			Str("task_id", string(task.ID)).
			Str("task_type", string(req.TaskType)).
			Int("score", task.PriorityScore).
			Msg("task added to queue")
	} else {
		q.blocked[task.ID] = task
		log.Info().
			Str("task_id", string(task.ID)).
			Str("task_type", string(req.TaskType)).
			Interface("missing", q.gate.Missing(req.Dependencies)).
			Msg("task blocked on dependencies")
	}

	if q.collector != nil {
		q.collector.RecordSubmitted()
	}

	return task.ID, nil
}

// StartProcessing starts the scheduling tick loop and the retention sweep.
// The supplied executor is invoked for every admitted task; it must be safe
// for concurrent calls when MaxConcurrent > 1.
func (q *TaskQueue) StartProcessing(executor types.Executor) error {
	if executor == nil {
		return ErrNilExecutor
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return ErrAlreadyRunning
	}

	q.executor = executor
	q.running = true
	q.stopCh = make(chan struct{})

	q.loopWg.Add(1)
	go q.workerLoop(q.stopCh)

	q.sweeper = cron.New()
	if _, err := q.sweeper.AddFunc(q.config.SweepSchedule, q.sweepRetention); err != nil {
		// Bad schedule expression; the engine still runs, results just
		// accumulate until the caller fixes the config.
		log.Error().Err(err).Str("schedule", q.config.SweepSchedule).Msg("failed to schedule retention sweep")
	} else {
		q.sweeper.Start()
	}

	log.Info().Msg("queue processing started")
	return nil
}

// StopProcessing stops the scheduling loop and the retention sweep. Tasks
// already dispatched keep running to completion; their outcomes are still
// recorded.
func (q *TaskQueue) StopProcessing() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	stopCh := q.stopCh
	sweeper := q.sweeper
	q.mu.Unlock()

	close(stopCh)
	q.loopWg.Wait()
	if sweeper != nil {
		sweeper.Stop()
	}

	log.Info().Msg("queue processing stopped")
}

// workerLoop is the scheduling tick. It owns no state itself; every pass
// locks, admits ready work, promotes unblocked tasks and refreshes gauges.
func (q *TaskQueue) workerLoop(stopCh chan struct{}) {
	defer q.loopWg.Done()

	ticker := time.NewTicker(q.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Info().Msg("scheduling loop stopped")
			return

		case <-ticker.C:
			q.processPendingTasks()
			q.promoteBlockedTasks()
			q.updateGauges()
		}
	}
}

// processPendingTasks admits work while slots are free. Each pop
// re-validates dependencies (the gate may have regressed since submission)
// and the optional admission deadline. Tasks whose retry backoff has not
// elapsed are held back for a later tick without losing heap position.
func (q *TaskQueue) processPendingTasks() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var deferred []*types.QueuedTask

	for len(q.active) < q.config.MaxConcurrent && q.pending.Len() > 0 {
		task := heap.Pop(&q.pending).(*types.QueuedTask)

		// Dependencies are re-checked at admission: a sweep may have
		// purged the result that satisfied them at submission time.
		if !q.gate.IsReady(task.Request.Dependencies) {
			q.blocked[task.ID] = task
			continue
		}

		if task.Request.Expired(now) {
			log.Warn().
				Str("task_id", string(task.ID)).
				Str("task_type", string(task.Request.TaskType)).
				Msg("task expired before admission, dropping")
			continue
		}

		if task.ScheduledAt.After(now) {
			deferred = append(deferred, task)
			continue
		}

		task.StartedAt = now
		q.active[task.ID] = task

		if q.collector != nil {
			q.collector.RecordDispatched()
		}

		go q.executeTask(task)

		log.Info().
			Str("task_id", string(task.ID)).
			Str("task_type", string(task.Request.TaskType)).
			Int("retry", task.RetryCount).
			Msg("task dispatched")
	}

	for _, task := range deferred {
		heap.Push(&q.pending, task)
	}
}

// executeTask runs one task under its timeout. It holds no lock around the
// executor call; the outcome handlers re-acquire it to record state.
func (q *TaskQueue) executeTask(task *types.QueuedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), task.Request.Timeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := q.executor(ctx, task.Request)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		// Timeout is treated identically to an executor error. The
		// executor goroutine may still be running; it cannot be cancelled
		// mid-flight and its late result is discarded.
		log.Error().
			Str("task_id", string(task.ID)).
			Dur("timeout", task.Request.Timeout).
			Msg("task execution timed out")
		q.handleTaskFailure(task, "execution timed out", time.Since(start))

	case out := <-done:
		if out.err != nil {
			log.Error().
				Str("task_id", string(task.ID)).
				Err(out.err).
				Msg("task execution failed")
			q.handleTaskFailure(task, out.err.Error(), time.Since(start))
			return
		}
		q.handleTaskCompletion(task, out.result, time.Since(start))
	}
}

// handleTaskCompletion records a successful terminal result and satisfies
// the task's type in the dependency gate.
func (q *TaskQueue) handleTaskCompletion(task *types.QueuedTask, result interface{}, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, task.ID)

	q.completed[task.ID] = &types.TaskResult{
		TaskID:        task.ID,
		TaskType:      task.Request.TaskType,
		Status:        types.StatusCompleted,
		Result:        result,
		ExecutionTime: elapsed,
		CompletedAt:   time.Now(),
	}
	q.gate.MarkCompleted(task.Request.TaskType)

	if q.collector != nil {
		q.collector.RecordCompleted(elapsed.Seconds())
	}

	log.Info().
		Str("task_id", string(task.ID)).
		Str("task_type", string(task.Request.TaskType)).
		Dur("execution_time", elapsed).
		Msg("task completed")
}

// handleTaskFailure either reschedules the task with backoff or records a
// terminal failed result once retries are exhausted. A task's failure never
// cascades to its dependents here: they simply stay blocked until some
// other instance of the dependency type completes.
func (q *TaskQueue) handleTaskFailure(task *types.QueuedTask, errMsg string, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, task.ID)

	now := time.Now()

	if task.RetryCount < task.Request.MaxRetries {
		task.RetryCount++
		task.ComputeScore(now)

		delay := q.backoffDelay(task.RetryCount)
		task.ScheduledAt = now.Add(delay)
		heap.Push(&q.pending, task)

		if q.collector != nil {
			q.collector.RecordRetried()
		}

		log.Info().
			Str("task_id", string(task.ID)).
			Int("attempt", task.RetryCount+1).
			Dur("delay", delay).
			Msg("task scheduled for retry")
		return
	}

	q.failed[task.ID] = &types.TaskResult{
		TaskID:        task.ID,
		TaskType:      task.Request.TaskType,
		Status:        types.StatusFailed,
		Error:         errMsg,
		ExecutionTime: elapsed,
		CompletedAt:   now,
	}

	if q.collector != nil {
		q.collector.RecordFailed()
	}

	log.Error().
		Str("task_id", string(task.ID)).
		Str("task_type", string(task.Request.TaskType)).
		Str("error", errMsg).
		Msg("task failed permanently")
}

// backoffDelay computes min(base^retry, cap) seconds.
func (q *TaskQueue) backoffDelay(retry int) time.Duration {
	delay := time.Second
	for i := 0; i < retry; i++ {
		delay *= time.Duration(q.config.BackoffBase)
		if delay >= q.config.BackoffCap {
			return q.config.BackoffCap
		}
	}
	return delay
}

// promoteBlockedTasks moves tasks whose dependencies became satisfied back
// into the pending heap with a fresh score.
func (q *TaskQueue) promoteBlockedTasks() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()

	for id, task := range q.blocked {
		if !q.gate.IsReady(task.Request.Dependencies) {
			continue
		}

		delete(q.blocked, id)
		task.ComputeScore(now)
		heap.Push(&q.pending, task)

		log.Info().
			Str("task_id", string(id)).
			Str("task_type", string(task.Request.TaskType)).
			Msg("task unblocked")
	}
}

// sweepRetention purges terminal results older than the retention window.
// Purged completed results are also forgotten by the gate, so dependency
// checks stay consistent with the retained result set.
func (q *TaskQueue) sweepRetention() {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.config.RetentionWindow)
	purgedCompleted, purgedFailed := 0, 0

	for id, result := range q.completed {
		if result.CompletedAt.Before(cutoff) {
			delete(q.completed, id)
			q.gate.Forget(result.TaskType)
			purgedCompleted++
		}
	}
	for id, result := range q.failed {
		if result.CompletedAt.Before(cutoff) {
			delete(q.failed, id)
			purgedFailed++
		}
	}

	if purgedCompleted > 0 || purgedFailed > 0 {
		log.Debug().
			Int("completed", purgedCompleted).
			Int("failed", purgedFailed).
			Msg("retention sweep purged old results")
	}
}

// updateGauges refreshes the Prometheus state gauges once per tick.
func (q *TaskQueue) updateGauges() {
	if q.collector == nil {
		return
	}

	q.mu.Lock()
	pending, active, blocked := q.pending.Len(), len(q.active), len(q.blocked)
	q.mu.Unlock()

	q.collector.UpdateQueueStats(pending, active, blocked)
}

// CancelTask removes a task from the pending or blocked sets. Active tasks
// cannot be cancelled; the call returns false and the task keeps running.
func (q *TaskQueue) CancelTask(id types.TaskID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task := q.pending.removeByID(id); task != nil {
		if q.collector != nil {
			q.collector.RecordCancelled()
		}
		log.Info().Str("task_id", string(id)).Msg("pending task cancelled")
		return true
	}

	if _, ok := q.blocked[id]; ok {
		delete(q.blocked, id)
		if q.collector != nil {
			q.collector.RecordCancelled()
		}
		log.Info().Str("task_id", string(id)).Msg("blocked task cancelled")
		return true
	}

	if _, ok := q.active[id]; ok {
		log.Warn().Str("task_id", string(id)).Msg("task is active, cancellation not supported")
		return false
	}

	log.Warn().Str("task_id", string(id)).Msg("task not found for cancellation")
	return false
}

// GetStatus returns aggregate queue counts.
func (q *TaskQueue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Status{
		Running:       q.running,
		Pending:       q.pending.Len(),
		Active:        len(q.active),
		Blocked:       len(q.blocked),
		Completed:     len(q.completed),
		Failed:        len(q.failed),
		MaxConcurrent: q.config.MaxConcurrent,
	}
}

// GetTaskStatus returns the current bucket of a task, or false if the task
// is unknown (never submitted, cancelled, or purged by retention).
func (q *TaskQueue) GetTaskStatus(id types.TaskID) (types.TaskStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[id]; ok {
		return types.StatusRunning, true
	}
	if _, ok := q.completed[id]; ok {
		return types.StatusCompleted, true
	}
	if _, ok := q.failed[id]; ok {
		return types.StatusFailed, true
	}
	if _, ok := q.blocked[id]; ok {
		return types.StatusBlocked, true
	}
	if task := q.pending.findByID(id); task != nil {
		if task.RetryCount > 0 && task.ScheduledAt.After(time.Now()) {
			return types.StatusRetrying, true
		}
		return types.StatusPending, true
	}

	return "", false
}

// GetResult returns the terminal result of a task, if one exists.
func (q *TaskQueue) GetResult(id types.TaskID) (*types.TaskResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if result, ok := q.completed[id]; ok {
		return result, true
	}
	if result, ok := q.failed[id]; ok {
		return result, true
	}
	return nil, false
}
