package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/keithlinneman/baseline-gate/internal/xerrors"
)

func newJSONLogger(t *testing.T, buf *bytes.Buffer, lvl slog.Level) Logger {
	t.Helper()
	l, err := New(Options{
		App:        "testapp",
		Level:      lvl,
		JsonFormat: true,
		Writer:     buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel should reject unknown levels")
	}
}

func TestInfo_EmitsAppAndKV(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, slog.LevelInfo)

	l.Info(context.Background(), "hello", "identity", "203.0.113.1")

	m := lastLine(t, &buf)
	if m["msg"] != "hello" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["app"] != "testapp" {
		t.Errorf("app = %v", m["app"])
	}
	if m["identity"] != "203.0.113.1" {
		t.Errorf("identity = %v", m["identity"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, slog.LevelWarn)

	l.Debug(context.Background(), "too quiet")
	l.Info(context.Background(), "still too quiet")
	if buf.Len() != 0 {
		t.Fatalf("below-level messages were emitted: %s", buf.String())
	}

	l.Warn(context.Background(), "loud enough")
	if buf.Len() == 0 {
		t.Fatal("warn message was not emitted")
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf, slog.LevelInfo)

	child := l.With("component", "registry")
	child.Info(context.Background(), "from child")
	if m := lastLine(t, &buf); m["component"] != "registry" {
		t.Errorf("child missing component attr: %v", m)
	}

	buf.Reset()
	l.Info(context.Background(), "from parent")
	if m := lastLine(t, &buf); m["component"] != nil {
		t.Error("parent logger picked up child's attrs")
	}
}

func TestNop_IsSilentAndChainable(t *testing.T) {
	n := Nop()
	n = n.With("k", "v")
	n.Info(context.Background(), "into the void")
	n.Error(context.Background(), xerrors.New("x"), "also void")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	if l := FromContext(context.Background()); l == nil {
		t.Fatal("FromContext should fall back to a non-nil logger")
	}

	var buf bytes.Buffer
	real := newJSONLogger(t, &buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), real)
	FromContext(ctx).Info(ctx, "carried")
	if buf.Len() == 0 {
		t.Fatal("logger from context did not write")
	}
}
