package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected line: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatal("info reported as enabled")
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	l.Error("ignored", Err(nil))
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

type recordingPoster struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordingPoster) PostLog(_ context.Context, _ int64, _ int, text string) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, text)
	p.mu.Unlock()
	return nil
}

func (p *recordingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestTelegramSinkHonoursMinLevel(t *testing.T) {
	poster := &recordingPoster{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/out.log"},
		Telegram: TelegramConfig{
			Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10,
		},
	}, poster)
	defer svc.Close()

	log.Info("below threshold")
	log.Warn("above threshold", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for poster.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	poster.mu.Lock()
	defer poster.mu.Unlock()
	if len(poster.msgs) != 1 {
		t.Fatalf("posted %d messages, want 1: %v", len(poster.msgs), poster.msgs)
	}
	if !strings.HasPrefix(poster.msgs[0], "[WARN] above threshold") || !strings.Contains(poster.msgs[0], "- k=v") {
		t.Fatalf("unexpected message %q", poster.msgs[0])
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "info", "WARNING", " debug "} {
		if !ValidLevel(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("loud should be invalid")
	}
}
