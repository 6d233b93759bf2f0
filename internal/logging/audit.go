package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// AuditEntry is the JSON structure written for every proxied request.
// It deliberately carries no credentials and no message content.
type AuditEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	AccountID  string    `json:"account_id,omitempty"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	Model      string    `json:"model,omitempty"`
	Stream     bool      `json:"stream,omitempty"`
	StatusCode int       `json:"status_code"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// AuditLogger implements asynchronous, buffered JSONL audit logging with
// size-based rotation and periodic flush.
type AuditLogger struct {
	fileTemplate  string // e.g. "/var/log/costshield/audit-%s.jsonl"
	maxSize       int64  // maximum size in bytes before rotation
	maxFiles      int    // maximum number of rotated files to keep
	flushInterval time.Duration

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64

	entryCh chan AuditEntry
	doneCh  chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewAuditLogger creates an AuditLogger writing to files named from
// fileTemplate (which must contain a single %s for the timestamp).
func NewAuditLogger(fileTemplate string, maxSize int64, maxFiles, bufferSize int, flushInterval time.Duration) (*AuditLogger, error) {
	a := &AuditLogger{
		fileTemplate:  fileTemplate,
		maxSize:       maxSize,
		maxFiles:      maxFiles,
		flushInterval: flushInterval,
		entryCh:       make(chan AuditEntry, bufferSize),
		doneCh:        make(chan struct{}),
	}

	if err := a.openFile(); err != nil {
		return nil, err
	}

	a.wg.Add(1)
	go a.run()

	return a, nil
}

// Log queues an entry for writing. If the queue is full the entry is
// dropped; audit logging must never block request handling.
func (a *AuditLogger) Log(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case a.entryCh <- entry:
	default:
		// Queue full; dropping entry.
	}
}

// Shutdown flushes buffered entries and closes the file.
func (a *AuditLogger) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.doneCh)
	a.wg.Wait()
}

func (a *AuditLogger) newFileName() string {
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf(a.fileTemplate, timestamp)
}

func (a *AuditLogger) openFile() error {
	a.currentFile = a.newFileName()
	dir := filepath.Dir(a.currentFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(a.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	a.currentSize = fi.Size()
	a.file = file
	a.writer = bufio.NewWriter(file)
	return nil
}

// rotateIfNeeded rotates the active file when adding n bytes would exceed
// the configured maximum size, pruning the oldest files past maxFiles.
func (a *AuditLogger) rotateIfNeeded(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentSize+int64(n) < a.maxSize {
		return nil
	}

	if err := a.writer.Flush(); err != nil {
		return err
	}
	if err := a.file.Close(); err != nil {
		return err
	}

	if err := a.openFile(); err != nil {
		return err
	}
	_ = a.cleanupOldFiles()
	return nil
}

// cleanupOldFiles removes the oldest rotated files if more than maxFiles exist.
func (a *AuditLogger) cleanupOldFiles() error {
	pattern := fmt.Sprintf(a.fileTemplate, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, err1 := os.Stat(matches[i])
		fj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return false
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	excess := len(matches) - a.maxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

func (a *AuditLogger) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-a.entryCh:
			a.writeEntry(entry)
		case <-ticker.C:
			a.mu.Lock()
			_ = a.writer.Flush()
			a.mu.Unlock()
		case <-a.doneCh:
			// Drain remaining entries before closing.
			for {
				select {
				case entry := <-a.entryCh:
					a.writeEntry(entry)
				default:
					a.mu.Lock()
					_ = a.writer.Flush()
					_ = a.file.Close()
					a.mu.Unlock()
					return
				}
			}
		}
	}
}

func (a *AuditLogger) writeEntry(entry AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line := string(data) + "\n"
	n := len(line)
	if err := a.rotateIfNeeded(n); err != nil {
		return
	}
	a.mu.Lock()
	_, _ = a.writer.WriteString(line)
	a.currentSize += int64(n)
	a.mu.Unlock()
}
