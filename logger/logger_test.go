package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureRotatingFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	path := filepath.Join(t.TempDir(), "skinflow.log")
	if err := log.Configure("debug", "text", path, 7); err != nil {
		t.Fatalf("configure rotating file: %v", err)
	}
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
}

func TestJSONOutputFieldNames(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("fetcher").WithFields(Fields{"source": "steam"}).Info("fetched")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "source"} {
		if _, ok := line[key]; !ok {
			t.Errorf("missing %q in %v", key, line)
		}
	}
}

func TestCountersTrackBatches(t *testing.T) {
	before := Counters()
	IncrementBatch("succeeded", 10)
	IncrementBatch("failed", 0)
	IncrementBatch("skipped_invalid", 0)
	after := Counters()

	if after["batches_written"].(int64)-before["batches_written"].(int64) != 1 {
		t.Errorf("batches_written not incremented")
	}
	if after["items_processed"].(int64)-before["items_processed"].(int64) != 10 {
		t.Errorf("items_processed not incremented by 10")
	}
	if after["batches_failed"].(int64)-before["batches_failed"].(int64) != 1 {
		t.Errorf("batches_failed not incremented")
	}
	if after["batches_skipped"].(int64)-before["batches_skipped"].(int64) != 1 {
		t.Errorf("batches_skipped not incremented")
	}
}
