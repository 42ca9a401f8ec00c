// Package trace writes protocol frames and probe events to rotated JSONL
// files for offline inspection of a run.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	errWriterClosed = errors.New("trace writer is closed")
	errBufferFull   = errors.New("trace buffer full")
)

// Writer appends records as JSON lines under baseDir/<UTC date>/<kind>/.
// Writes are queued and never block the caller.
type Writer struct {
	baseDir   string
	kind      string
	name      string
	maxSizeMB int

	writeCh   chan any
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewWriter starts an async writer. name is the file stem; an empty name
// uses the start time.
func NewWriter(baseDir, kind, name string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if name == "" {
		name = fmt.Sprintf("%d", time.Now().Unix())
	}
	w := &Writer{
		baseDir:   baseDir,
		kind:      kind,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. A full buffer drops the record.
func (w *Writer) Write(record any) error {
	select {
	case <-w.done:
		return errWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("Trace buffer full, dropping record", "kind", w.kind)
		return errBufferFull
	}
}

// Close flushes queued records and closes the file.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case record := <-w.writeCh:
				w.writeRecord(record)
			case <-timeout:
				slog.Warn("Trace writer close timeout, some records may be lost", "kind", w.kind)
				break drain
			default:
				break drain
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.logger != nil {
			err = w.logger.Close()
		}
	})
	return err
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal trace record", "error", err, "kind", w.kind)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.openForDate(date); err != nil {
			slog.Error("Failed to open trace file", "error", err, "kind", w.kind)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write trace record", "error", err, "kind", w.kind)
	}
}

func (w *Writer) openForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date, w.kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, w.name+".jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 20,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Info("Opened trace file", "file", filename, "kind", w.kind)
	return nil
}
