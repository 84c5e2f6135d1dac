// ============================================================================
// CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface for the task engine.
//
// Command Structure:
//   digestq                        # Root command
//   ├── run                        # Start the continuous queue engine
//   │   ├── --config, -c          # Config file (default configs/default.yaml)
//   │   └── --demo-tasks          # Submit N simulated tasks at startup
//   ├── plan                       # Execute a one-shot wave plan
//   │   └── --file, -f            # Plan YAML file
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration:
//   YAML config file with queue tunables (concurrency cap, tick interval,
//   retention window, backoff) and metrics exposition settings. Durations
//   are plain integers (milliseconds/seconds/hours) to keep the file
//   format unambiguous.
//
// Signal Handling:
//   run captures SIGINT/SIGTERM and shuts down gracefully: the scheduling
//   loop stops, already dispatched tasks finish, final status is logged.
//
// Executor:
//   Both commands drive the engine with a simulated executor (random
//   latency, 10% failure rate). Production callers embed the engine as a
//   library and supply their own executor; the CLI exists for operating
//   and demonstrating the engine itself.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Emmelman/lawdigest-bot-sub000/internal/metrics"
	"github.com/Emmelman/lawdigest-bot-sub000/internal/queue"
	"github.com/Emmelman/lawdigest-bot-sub000/internal/wave"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/logger"
	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

var log = logger.GetLogger()

// Config maps the YAML configuration file.
type Config struct {
	Queue struct {
		MaxConcurrent     int    `yaml:"max_concurrent"`
		TickIntervalMs    int    `yaml:"tick_interval_ms"`
		RetentionHours    int    `yaml:"retention_hours"`
		BackoffBase       int    `yaml:"backoff_base"`
		BackoffCapSeconds int    `yaml:"backoff_cap_seconds"`
		SweepSchedule     string `yaml:"sweep_schedule"`
	} `yaml:"queue"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// queueConfig converts the file representation into engine config. Zero
// values fall through to the engine defaults.
func (c *Config) queueConfig() queue.Config {
	return queue.Config{
		MaxConcurrent:   c.Queue.MaxConcurrent,
		TickInterval:    time.Duration(c.Queue.TickIntervalMs) * time.Millisecond,
		RetentionWindow: time.Duration(c.Queue.RetentionHours) * time.Hour,
		BackoffBase:     c.Queue.BackoffBase,
		BackoffCap:      time.Duration(c.Queue.BackoffCapSeconds) * time.Second,
		SweepSchedule:   c.Queue.SweepSchedule,
	}
}

var configFile string

// BuildCLI assembles the root command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "digestq",
		Short: "digestq: dependency-aware priority task engine",
		Long: `digestq runs the task orchestration engine:
- continuous priority queue with bounded concurrency and retry/backoff
- one-shot wave plan execution with deadlock detection
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildPlanCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var demoTasks int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the continuous queue engine",
		Long:  "Start the scheduling loop with a simulated executor and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(demoTasks)
		},
	}

	cmd.Flags().IntVar(&demoTasks, "demo-tasks", 0, "submit N simulated tasks at startup")

	return cmd
}

func runEngine(demoTasks int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	q := queue.New(cfg.queueConfig())

	if cfg.Metrics.Enabled {
		q.SetCollector(metrics.NewCollector())
		go func() {
			log.Info().Int("port", cfg.Metrics.Port).Msg("starting metrics server")
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	if err := q.StartProcessing(simulatedExecutor); err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}

	if demoTasks > 0 {
		submitDemoTasks(q, demoTasks)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	statusTicker := time.NewTicker(10 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-sigChan:
			log.Info().Msg("received shutdown signal, stopping gracefully")
			q.StopProcessing()
			logStatus(q.GetStatus())
			return nil

		case <-statusTicker.C:
			logStatus(q.GetStatus())
		}
	}
}

func logStatus(status queue.Status) {
	log.Info().
		Int("pending", status.Pending).
		Int("active", status.Active).
		Int("blocked", status.Blocked).
		Int("completed", status.Completed).
		Int("failed", status.Failed).
		Msg("queue status")
}

// submitDemoTasks enqueues a small synthetic workload: a collect/analyze/
// digest chain plus independent filler tasks at random priorities.
func submitDemoTasks(q *queue.TaskQueue, n int) {
	chain := []types.TaskRequest{
		{TaskType: "collect", Priority: types.PriorityHigh},
		{TaskType: "analyze", Priority: types.PriorityNormal, Dependencies: []types.TaskType{"collect"}},
		{TaskType: "digest", Priority: types.PriorityNormal, Dependencies: []types.TaskType{"analyze"}},
	}
	for _, req := range chain {
		if _, err := q.AddTask(req); err != nil {
			log.Error().Err(err).Msg("failed to submit demo task")
		}
	}

	for i := 0; i < n; i++ {
		req := types.TaskRequest{
			TaskType: types.TaskType(fmt.Sprintf("filler-%d", i)),
			Priority: types.TaskPriority(rand.Intn(4) + 1),
		}
		if _, err := q.AddTask(req); err != nil {
			log.Error().Err(err).Msg("failed to submit demo task")
		}
	}
}

// planEntry is the YAML representation of one plan task.
type planEntry struct {
	TaskType       string                 `yaml:"task_type"`
	Priority       int                    `yaml:"priority"`
	Params         map[string]interface{} `yaml:"params"`
	Dependencies   []string               `yaml:"dependencies"`
	TimeoutSeconds int                    `yaml:"timeout_seconds"`
}

func buildPlanCommand() *cobra.Command {
	var planFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Execute a one-shot wave plan from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(planFile)
		},
	}

	cmd.Flags().StringVarP(&planFile, "file", "f", "", "plan YAML file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPlan(planFile string) error {
	data, err := os.ReadFile(planFile)
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}

	var entries []planEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse plan file: %w", err)
	}
	if len(entries) == 0 {
		return errors.New("plan file contains no tasks")
	}

	plan := make([]types.TaskRequest, len(entries))
	for i, entry := range entries {
		deps := make([]types.TaskType, len(entry.Dependencies))
		for j, dep := range entry.Dependencies {
			deps[j] = types.TaskType(dep)
		}
		plan[i] = types.TaskRequest{
			TaskType:     types.TaskType(entry.TaskType),
			Priority:     types.TaskPriority(entry.Priority),
			Params:       entry.Params,
			Dependencies: deps,
			Timeout:      time.Duration(entry.TimeoutSeconds) * time.Second,
		}
	}

	results, err := wave.ExecutePlan(context.Background(), plan, simulatedExecutor)

	for _, result := range results {
		fmt.Printf("%-24s %-10s %8.2fs  %s\n",
			result.TaskType, result.Status, result.ExecutionTime.Seconds(), result.Error)
	}

	if err != nil {
		return fmt.Errorf("plan execution failed: %w", err)
	}
	return nil
}

// loadConfig reads and parses the YAML config file.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// simulatedExecutor stands in for real business logic: random delay
// 0-500ms with a 10% failure rate, honoring the task timeout via ctx.
func simulatedExecutor(ctx context.Context, req types.TaskRequest) (interface{}, error) {
	workDuration := time.Duration(rand.Intn(500)) * time.Millisecond

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-time.After(workDuration):
		if rand.Intn(100) < 10 {
			return nil, errors.New("simulated execution failure")
		}
		return map[string]interface{}{
			"task_type": string(req.TaskType),
			"simulated": true,
		}, nil
	}
}
