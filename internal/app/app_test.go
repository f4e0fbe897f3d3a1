package app

import (
	"context"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/pkg/config"
	"go.uber.org/zap"
)

func TestRunStopsWhenContextIsCancelled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Upstream.BaseURL = "http://127.0.0.1:1/api"
	cfg.Upstream.Timeout = 100 * time.Millisecond
	cfg.Polling.Live = false

	a := New(cfg, zap.NewNop().Sugar())
	a.controllers = []string{"hub", "poller"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunRejectsUnknownController(t *testing.T) {
	a := New(config.NewDefaultConfig(), zap.NewNop().Sugar())
	a.controllers = []string{"ghost"}
	if err := a.Run(context.Background()); err == nil {
		t.Error("expected an error")
	}
}
