package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestAuditLogger(t *testing.T, maxSize int64) (*AuditLogger, string) {
	t.Helper()
	dir := t.TempDir()
	template := filepath.Join(dir, "audit-%s.jsonl")
	logger, err := NewAuditLogger(template, maxSize, 3, 100, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAuditLogger() error = %v", err)
	}
	return logger, dir
}

func readEntries(t *testing.T, dir string) []AuditEntry {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	var entries []AuditEntry
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			var entry AuditEntry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal line %q: %v", scanner.Text(), err)
			}
			entries = append(entries, entry)
		}
		f.Close()
	}
	return entries
}

func TestAuditLoggerWritesEntries(t *testing.T) {
	logger, dir := newTestAuditLogger(t, 1<<20)

	logger.Log(AuditEntry{
		RequestID:  "req-1",
		AccountID:  "acct-1",
		Method:     http.MethodPost,
		Endpoint:   "/v1/chat/completions",
		Model:      "gpt-4o-mini",
		Stream:     true,
		StatusCode: http.StatusOK,
		DurationMs: 125,
	})
	logger.Log(AuditEntry{
		RequestID:  "req-2",
		Method:     http.MethodPost,
		Endpoint:   "/v1/chat/completions",
		StatusCode: http.StatusTooManyRequests,
		Error:      "budget exceeded",
	})
	logger.Shutdown()

	entries := readEntries(t, dir)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	byID := map[string]AuditEntry{}
	for _, e := range entries {
		byID[e.RequestID] = e
	}

	first := byID["req-1"]
	if first.Model != "gpt-4o-mini" || !first.Stream || first.StatusCode != http.StatusOK {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.Timestamp.IsZero() {
		t.Error("timestamp was not filled in")
	}

	second := byID["req-2"]
	if second.Error != "budget exceeded" || second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("unexpected second entry: %+v", second)
	}
}

func TestAuditLoggerOmitsEmptyFields(t *testing.T) {
	logger, dir := newTestAuditLogger(t, 1<<20)

	logger.Log(AuditEntry{
		RequestID:  "req-1",
		Method:     http.MethodGet,
		Endpoint:   "/v1/models",
		StatusCode: http.StatusOK,
	})
	logger.Shutdown()

	matches, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if len(matches) == 0 {
		t.Fatal("no audit file written")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"account_id", "model", "stream", "error"} {
		if _, ok := raw[key]; ok {
			t.Errorf("field %q present in %s, want omitted", key, data)
		}
	}
}

func TestAuditLoggerRotation(t *testing.T) {
	logger, dir := newTestAuditLogger(t, 256)

	for i := 0; i < 20; i++ {
		logger.Log(AuditEntry{
			RequestID:  "req",
			Method:     http.MethodPost,
			Endpoint:   "/v1/chat/completions",
			Model:      "gpt-4o-mini",
			StatusCode: http.StatusOK,
		})
		// Rotation keys files by second-resolution timestamps, so spread
		// the writes out enough for distinct names.
		time.Sleep(2 * time.Millisecond)
	}
	logger.Shutdown()

	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) < 1 {
		t.Fatal("no audit files written")
	}
	if len(matches) > 3 {
		t.Errorf("got %d files, want at most 3 after cleanup", len(matches))
	}
}

func TestAuditLoggerCleanupOnRotation(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "audit-%s.jsonl")

	// Stale files from earlier runs, oldest first
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf(template, fmt.Sprintf("old%d", i))
		if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		stamp := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	// maxSize small enough that every entry triggers rotation
	logger, err := NewAuditLogger(template, 64, 3, 100, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAuditLogger() error = %v", err)
	}
	for i := 0; i < 4; i++ {
		logger.Log(AuditEntry{
			RequestID:  "req",
			Method:     http.MethodPost,
			Endpoint:   "/v1/chat/completions",
			StatusCode: http.StatusOK,
		})
	}
	logger.Shutdown()

	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) > 3 {
		t.Errorf("got %d files after rotation, want at most 3", len(matches))
	}
	for _, path := range matches {
		if strings.HasSuffix(path, "old0.jsonl") {
			t.Error("oldest stale file survived cleanup")
		}
	}
}

func TestAuditLoggerShutdownDrains(t *testing.T) {
	logger, dir := newTestAuditLogger(t, 1<<20)

	for i := 0; i < 50; i++ {
		logger.Log(AuditEntry{
			RequestID:  "req",
			Method:     http.MethodPost,
			Endpoint:   "/v1/chat/completions",
			StatusCode: http.StatusOK,
		})
	}
	logger.Shutdown()

	entries := readEntries(t, dir)
	if len(entries) != 50 {
		t.Errorf("got %d entries after shutdown, want 50", len(entries))
	}
}

func TestAuditLoggerShutdownIdempotent(t *testing.T) {
	logger, _ := newTestAuditLogger(t, 1<<20)
	logger.Shutdown()
	logger.Shutdown()
}
