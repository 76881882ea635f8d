package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults for PeriodicConfig.
const (
	DefaultInterval = time.Minute
	DefaultTimeout  = 30 * time.Second
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// PeriodicConfig configures a periodic job.
type PeriodicConfig struct {
	// Name labels logs and metrics, e.g. JobTypeRateLimitCleanup.
	Name string
	// Interval is the duration between runs.
	Interval time.Duration
	// Timeout bounds a single run.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *Metrics
}

// Periodic runs a Task on a fixed interval until stopped.
type Periodic struct {
	config PeriodicConfig
	task   Task

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPeriodic creates a job that runs task every config.Interval.
func NewPeriodic(config PeriodicConfig, task Task) *Periodic {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Periodic{config: config, task: task}
}

// Start begins the periodic job. It returns immediately; the job runs in a
// background goroutine until ctx is done or Stop is called. Starting a
// running job is a no-op.
func (j *Periodic) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.run(ctx, j.stopCh, j.doneCh)
}

// Stop signals the job to stop and waits for the current run to finish.
func (j *Periodic) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh, doneCh := j.stopCh, j.doneCh
	j.running = false
	j.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning returns whether the job is currently running.
func (j *Periodic) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *Periodic) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("background job stopping due to context cancellation", "job", j.config.Name)
			return
		case <-stopCh:
			j.config.Logger.Info("background job stopping due to stop signal", "job", j.config.Name)
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce executes the task once with the configured timeout and records
// the outcome. Panics in the task are recovered and counted as failures.
func (j *Periodic) RunOnce(parent context.Context) (err error) {
	ctx, cancel := context.WithTimeout(parent, j.config.Timeout)
	defer cancel()

	name := j.config.Name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			j.config.Metrics.IncJobErrors(name, ErrorTypePanic)
		} else if err != nil {
			errorType := ErrorTypeFailed
			if errors.Is(err, context.DeadlineExceeded) {
				errorType = ErrorTypeTimeout
			}
			j.config.Metrics.IncJobErrors(name, errorType)
		}

		status := StatusSuccess
		if err != nil {
			status = StatusFailure
			j.config.Logger.Error("background job failed", "job", name, "error", err)
		}
		j.config.Metrics.IncJobsTotal(name, status)
		j.config.Metrics.ObserveJobDuration(name, time.Since(start).Seconds())
	}()

	return j.task(ctx)
}
