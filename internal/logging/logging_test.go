// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTextHandlerWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelInfo, JSON: false})
	logger.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNewJSONHandlerWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelInfo, JSON: true})
	logger.Info("hello", "container_id", "abc123")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected valid JSON, got error %v on: %s", err, buf.String())
	}
	if record["msg"] != "hello" {
		t.Errorf("expected msg=hello, got %v", record["msg"])
	}
	if record["container_id"] != "abc123" {
		t.Errorf("expected container_id=abc123, got %v", record["container_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn, JSON: false})
	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("info message should have been filtered at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message should have been written")
	}
}

func TestWithComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelInfo, JSON: true}).WithComponent("loader")
	logger.Info("attached")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected valid JSON: %v", err)
	}
	if record["component"] != "loader" {
		t.Errorf("expected component=loader, got %v", record["component"])
	}
}
