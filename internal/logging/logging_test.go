package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: JSONFormat, Level: WarnLevel, Output: &buf})

	logger.Debug("debug msg", nil)
	logger.Info("info msg", nil)
	logger.Warn("warn msg", nil)
	logger.Error("error msg", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "warn msg") {
		t.Errorf("expected first line to be the warn message, got %q", lines[0])
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	logger.Info("indexed file", map[string]interface{}{"path": "a/b.java", "fragments": 3})

	var e map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if e["message"] != "indexed file" {
		t.Errorf("message = %v", e["message"])
	}
	fields, ok := e["fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing fields object: %v", e)
	}
	if fields["path"] != "a/b.java" {
		t.Errorf("path field = %v", fields["path"])
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: HumanFormat, Level: DebugLevel, Output: &buf})

	child := logger.With("pipeline")
	child.Info("processing", map[string]interface{}{"file": "x.java"})

	out := buf.String()
	if !strings.Contains(out, "(pipeline)") {
		t.Errorf("expected component tag in output, got %q", out)
	}
	if !strings.Contains(out, "file=x.java") {
		t.Errorf("expected field in output, got %q", out)
	}
}

func TestHumanFieldOrderIsStable(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: HumanFormat, Level: InfoLevel, Output: &buf})

	logger.Info("m", map[string]interface{}{"b": 2, "a": 1, "c": 3})

	out := buf.String()
	ai := strings.Index(out, "a=1")
	bi := strings.Index(out, "b=2")
	ci := strings.Index(out, "c=3")
	if ai < 0 || bi < 0 || ci < 0 || !(ai < bi && bi < ci) {
		t.Errorf("fields not in sorted order: %q", out)
	}
}
