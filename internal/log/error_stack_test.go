package log_test

// These tests live outside the log package on purpose: the stack renderer
// drops log-internal frames, so call sites inside package log would never
// show up in the output being asserted on.

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/keithlinneman/baseline-gate/internal/log"
	"github.com/keithlinneman/baseline-gate/internal/xerrors"
)

func failToOpenLedger() error {
	return xerrors.New("root failure")
}

func parseLastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestError_AddsChainAndStack(t *testing.T) {
	var buf bytes.Buffer
	l, err := log.New(log.Options{
		App:        "testapp",
		Level:      slog.LevelInfo,
		JsonFormat: true,
		Writer:     &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	failure := xerrors.Wrap(failToOpenLedger(), "outer step")
	l.Error(context.Background(), failure, "operation failed")

	m := parseLastLine(t, &buf)
	if m["err"] != "outer step: root failure" {
		t.Errorf("err = %v", m["err"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) < 2 {
		t.Fatalf("error_chain = %v, want at least 2 entries", m["error_chain"])
	}

	// the stack captured at xerrors.New must survive the wrap layer and the
	// renderer must keep both the origin frame and its caller
	stack, _ := m["stack"].(string)
	if !strings.Contains(stack, "failToOpenLedger") {
		t.Errorf("stack does not reference the error origin:\n%s", stack)
	}
	if !strings.Contains(stack, "TestError_AddsChainAndStack") {
		t.Errorf("stack does not reference the call site:\n%s", stack)
	}
}

func TestError_WithoutErrorStackFallsBackToCapture(t *testing.T) {
	var buf bytes.Buffer
	l, err := log.New(log.Options{
		App:        "testapp",
		Level:      slog.LevelInfo,
		JsonFormat: true,
		Writer:     &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Error(context.Background(), context.DeadlineExceeded, "no wrapped stack")

	m := parseLastLine(t, &buf)
	stack, _ := m["stack"].(string)
	if stack == "" {
		t.Fatal("no stack attached for a plain error")
	}
	if !strings.Contains(stack, "TestError_WithoutErrorStackFallsBackToCapture") {
		t.Errorf("captured stack does not reference the logging call site:\n%s", stack)
	}
}
