package controllers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewHTTPClient creates a standardized HTTP client with timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
	}
}

// PeriodicTask represents a periodic task configuration
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once before the first tick.
	Immediate bool
	Task      func() error
}

// RunPeriodicTask runs a task periodically until context is cancelled
func RunPeriodicTask(ctx context.Context, task PeriodicTask, logger *zap.SugaredLogger) {
	logger.Debugf("Starting periodic task: %s (interval: %v)", task.Name, task.Interval)

	run := func() {
		if err := task.Task(); err != nil {
			logger.Errorf("Error in periodic task %s: %v", task.Name, err)
		}
	}

	if task.Immediate {
		run()
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			logger.Debugf("Stopping periodic task: %s", task.Name)
			return
		}
	}
}
