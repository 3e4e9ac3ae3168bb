package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, InfoLevel)

	l.Debug("hidden debug")
	l.Info("visible info", String("peer", "127.0.0.1:5683"))
	_ = l.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden debug") {
		t.Errorf("debug line should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, "visible info") || !strings.Contains(out, "127.0.0.1:5683") {
		t.Errorf("info line missing: %s", out)
	}

	buf.Reset()
	l.SetLevel(DebugLevel)
	l.Debugf("now visible %d", 42)
	_ = l.Sync()
	if !strings.Contains(buf.String(), "now visible 42") {
		t.Errorf("debug line missing after SetLevel: %s", buf.String())
	}
}

func TestReplaceDefault(t *testing.T) {
	prev := Default()
	defer ReplaceDefault(prev)

	var buf bytes.Buffer
	ReplaceDefault(New(&buf, WarnLevel))

	Info("not written")
	Error("write failed", GetError(errors.New("boom")))
	_ = Sync()

	out := buf.String()
	if strings.Contains(out, "not written") {
		t.Errorf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, "write failed") || !strings.Contains(out, "boom") {
		t.Errorf("error line missing: %s", out)
	}

	ReplaceDefault(nil)
	if Default() == nil {
		t.Fatal("ReplaceDefault(nil) must keep the current logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": DebugLevel,
		"info":  InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"":      InfoLevel,
		"bogus": InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotateBySize(t *testing.T) {
	file := filepath.Join(t.TempDir(), "observe.log")
	w := NewProductionRotateBySize(file, 1, 2)
	l := New(w, InfoLevel)
	l.Info("rotated line")
	_ = l.Sync()

	if c, ok := w.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	matches, _ := filepath.Glob(file + "*")
	if len(matches) == 0 {
		t.Fatalf("expected log file at %s", file)
	}
}
