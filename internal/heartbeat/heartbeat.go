// Package heartbeat lets CLI commands tell whether a gateway is serving.
package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dohr-michael/fintellix/internal/storage/jsonfile"
)

// Status represents the liveness state of the gateway.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// DefaultInterval is how often a Writer refreshes the file.
const DefaultInterval = 30 * time.Second

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Workers   int       `json:"workers"`
	Active    int       `json:"active"`
}

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path     string
	addr     string
	workers  int
	active   func() int
	interval time.Duration
	started  time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a heartbeat writer for a gateway at addr. active reports
// the number of jobs in flight and may be nil.
func NewWriter(path, addr string, workers int, active func() int) *Writer {
	return &Writer{
		path:     path,
		addr:     addr,
		workers:  workers,
		active:   active,
		interval: DefaultInterval,
	}
}

// Start writes a heartbeat now and then every interval until Stop.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}

	w.started = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.write()

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.write()
			case <-stop:
				return
			}
		}
	}(w.stop, w.done)
}

// Stop stops writing and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop == nil {
		return
	}

	close(w.stop)
	<-w.done
	w.stop = nil

	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("remove heartbeat", "path", w.path, "error", err)
	}
}

func (w *Writer) write() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Addr:      w.addr,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
		Workers:   w.workers,
	}
	if w.active != nil {
		hb.Active = w.active()
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}
	if err := jsonfile.WriteAtomic(w.path, data); err != nil {
		slog.Debug("write heartbeat", "error", err)
	}
}

// Check reads a heartbeat file and returns the liveness status. A heartbeat
// older than maxAge is stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}
	return StatusAlive, &hb, nil
}
