package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_FallbackWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(Options{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()

	l.Debug("hidden")
	l.Info("hello", "user_id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"user_id":7`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNew_FileSinkRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "relay.log")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}

	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	if err := os.WriteFile(path, big, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".1", []byte("older"), 0600); err != nil {
		t.Fatal(err)
	}

	l, closer, err := New(Options{File: path, MaxSizeMB: 1, Backups: 2}, os.Stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("fresh start")
	closer.Close()

	if data, _ := os.ReadFile(path + ".2"); string(data) != "older" {
		t.Errorf(".2 = %q, want the previous .1", data)
	}
	if fi, err := os.Stat(path + ".1"); err != nil || fi.Size() != int64(len(big)) {
		t.Errorf(".1 should hold the rotated file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "fresh start") {
		t.Errorf("live file = %q", data)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := slog.Default()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return a non-nil logger unchanged")
	}
}
