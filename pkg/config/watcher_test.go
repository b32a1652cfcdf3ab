// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initial := `model:
  provider: http
  model: test-model
`
	if err := os.WriteFile(configPath, []byte(initial), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher([]string{configPath}, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		changes <- cfg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.Start(ctx)
	defer watcher.Stop()

	cfg := watcher.Config()
	if cfg.Model.Model != "test-model" {
		t.Errorf("expected model 'test-model', got %q", cfg.Model.Model)
	}

	// Ensure mtime moves forward even on coarse-grained filesystems.
	time.Sleep(100 * time.Millisecond)
	updated := `model:
  provider: http
  model: updated-model
`
	if err := os.WriteFile(configPath, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}
	now := time.Now()
	_ = os.Chtimes(configPath, now, now)

	select {
	case next := <-changes:
		if next.Model.Model != "updated-model" {
			t.Errorf("expected reloaded model 'updated-model', got %q", next.Model.Model)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestReloadableConfig(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rc := NewReloadableConfig(base)
	if rc.Policy().MaxRetries != base.Policy.MaxRetries {
		t.Fatalf("policy accessor mismatch")
	}

	next := *base
	next.Model.Model = "swapped"
	rc.Update(&next)
	if rc.Model().Model != "swapped" {
		t.Fatalf("expected swapped model, got %q", rc.Model().Model)
	}
}
