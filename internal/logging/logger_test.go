package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeProductionModeIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".claudeindex", "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no logs directory in production mode, got err=%v", err)
	}
}

func TestConfigureEnablesCategory(t *testing.T) {
	dir := t.TempDir()
	workspace = dir
	logsDir = filepath.Join(dir, ".claudeindex", "logs")
	defer CloseAll()

	Configure(true, "debug", false, nil)
	if !IsDebugMode() {
		t.Fatal("expected debug mode enabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Fatal("expected store category enabled by default")
	}

	logger := Get(CategoryStore)
	logger.Info("hello %s", "world")
	logger.Critical("systemic failure: %s", "empty_content_rate")

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one log file to be created")
	}
}

func TestCriticalAlwaysEmitsEvenWithoutFileLogger(t *testing.T) {
	l := &Logger{category: CategoryOrchestrator}
	// Must not panic when logger.logger is nil (category disabled).
	l.Critical("circuit breaker tripped")
}
