package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "indexpool.log" {
		t.Errorf("DefaultLogPath should end with indexpool.log, got: %s", path)
	}
	if !strings.Contains(path, ".indexpool") {
		t.Errorf("DefaultLogPath should live under .indexpool, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected format 'json', got: %s", cfg.Format)
	}
	if cfg.FilePath != "" {
		t.Errorf("expected no file logging by default, got: %s", cfg.FilePath)
	}
	if cfg.Stderr != os.Stderr {
		t.Error("expected stderr output by default")
	}
}

func TestSetup_JSONToFileAndStderr(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	cfg := Config{
		Level:    "debug",
		Format:   "json",
		FilePath: filepath.Join(dir, "logs", "indexpool.log"),
		Stderr:   &stderr,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Debug("task_rejected", slog.String("lane", "interactive"))
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "task_rejected" || record["lane"] != "interactive" {
		t.Errorf("unexpected record: %v", record)
	}
	if !bytes.Equal(data, stderr.Bytes()) {
		t.Errorf("stderr copy differs from file:\nfile:   %q\nstderr: %q", data, stderr.String())
	}
}

func TestSetup_TextFormatAndLevel(t *testing.T) {
	var out bytes.Buffer
	logger, cleanup, err := Setup(Config{Level: "warn", Format: "text", Stderr: &out})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("hidden")
	logger.Warn("lane_shutdown", slog.Int("not_run", 2))

	got := out.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", got)
	}
	if !strings.Contains(got, "msg=lane_shutdown") || !strings.Contains(got, "not_run=2") {
		t.Errorf("expected text record, got: %q", got)
	}
}

func TestSetup_UnknownFormat(t *testing.T) {
	if _, _, err := Setup(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexpool.log")
	w, err := newRotatingWriter(path, 100, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	line := strings.Repeat("x", 60) + "\n"
	for i := 0; i < 3; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	for _, name := range []string{"indexpool.log", "indexpool.log.1", "indexpool.log.2"} {
		if _, err := os.Stat(filepath.Join(filepath.Dir(path), name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(line)) {
		t.Errorf("current file should hold one line, has %d bytes", info.Size())
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexpool.log")
	w, err := newRotatingWriter(path, 10, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()

	for i := 0; i < 6; i++ {
		if _, err := fmt.Fprintf(w, "line-%02d\n", i); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected at most 2 rotated files, found %s.3", path)
	}
	data, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("expected %s.2: %v", path, err)
	}
	if string(data) != "line-03\n" {
		t.Errorf("oldest kept file should hold line-03, got %q", data)
	}
}

func TestRotatingWriter_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexpool.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("next\n"))
	_ = w.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "previous\nnext\n" {
		t.Errorf("expected append, got %q", data)
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "indexpool.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexpool.log")
	w, err := newRotatingWriter(path, 1<<20, 2)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = fmt.Fprintf(w, "g%d-%02d\n", g, i)
			}
		}(g)
	}
	wg.Wait()
	_ = w.Close()

	data, _ := os.ReadFile(path)
	if lines := strings.Count(string(data), "\n"); lines != 400 {
		t.Errorf("expected 400 lines, got %d", lines)
	}
}
