// Package statusfile mirrors the engine status into a JSON file that is
// replaced atomically, so readers never see a partial document.
package statusfile

import (
	"bytes"
	"encoding/json"
	"log"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/i474232898/weather-time-animator/internal/engine"
)

// Writer rewrites path with the most recent status. Only the latest pending
// status is written; intermediate ones are skipped.
type Writer struct {
	path string

	mu      sync.Mutex
	pending []byte
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New starts a writer for path.
func New(path string) *Writer {
	w := &Writer{
		path: path,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Update queues st for writing. It never blocks, which makes it safe to use
// as an engine status listener.
func (w *Writer) Update(st engine.Status) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("ERROR: statusfile: encode status: %v", err)
		return
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = data
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

func (w *Writer) run() {
	defer close(w.done)
	for range w.wake {
		w.mu.Lock()
		data := w.pending
		w.pending = nil
		w.mu.Unlock()
		if data == nil {
			continue
		}
		if err := atomic.WriteFile(w.path, bytes.NewReader(data)); err != nil {
			log.Printf("ERROR: statusfile: write %s: %v", w.path, err)
		}
	}
}

// Close flushes the last queued status and stops the writer.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.wake)
	<-w.done
}
