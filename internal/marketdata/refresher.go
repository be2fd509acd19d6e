package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/subjects"
)

// DefaultConcurrency bounds parallel fetches during a refresh.
const DefaultConcurrency = 4

// Target receives refreshed series. session.Controller satisfies it.
type Target interface {
	Subjects() []subjects.Key
	SetSupplementary(subject subjects.Key, data json.RawMessage) error
}

// Config holds the refresher dependencies.
type Config struct {
	Source      Source
	Target      Target
	Bus         *events.Bus // optional
	Schedule    *Schedule   // nil = on demand only
	Limit       int
	Concurrency int
}

// Refresher re-fetches every subject's series on a schedule and on demand.
// A failed fetch leaves the previous data in place.
type Refresher struct {
	cfg Config

	mu      sync.Mutex
	lastRun time.Time

	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewRefresher creates a refresher. Call Start to enable the schedule.
func NewRefresher(cfg Config) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if hs, ok := cfg.Source.(*HTTPSource); ok && hs == nil {
		cfg.Source = nil
	}
	return &Refresher{cfg: cfg, done: make(chan struct{})}
}

// Start begins the schedule loop. It is a no-op without a schedule.
func (r *Refresher) Start() {
	if r.cfg.Schedule == nil {
		return
	}
	slog.Info("market data refresh scheduled", "cron", r.cfg.Schedule.String(),
		"next", r.cfg.Schedule.Next(time.Now()).Format(time.RFC3339))
	r.wg.Add(1)
	go r.loop()
}

// Stop ends the schedule loop and waits for in-flight fetches.
func (r *Refresher) Stop() {
	r.stopped.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Refresher) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Refresher) tick(now time.Time) {
	if !r.cfg.Schedule.Due(now) {
		return
	}
	r.mu.Lock()
	if now.Sub(r.lastRun) < time.Minute {
		r.mu.Unlock()
		return
	}
	r.lastRun = now
	r.mu.Unlock()

	ctx, cancel := r.stopContext()
	defer cancel()
	n, err := r.RefreshAll(ctx)
	if err != nil {
		slog.Warn("scheduled refresh incomplete", "refreshed", n, "error", err)
		return
	}
	slog.Info("scheduled refresh done", "refreshed", n)
}

// stopContext is cancelled when the refresher stops.
func (r *Refresher) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// RefreshAll fetches every subject concurrently. It returns how many subjects
// were updated and the joined fetch errors.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	list := r.cfg.Target.Subjects()
	if len(list) == 0 {
		return 0, nil
	}

	var (
		mu   sync.Mutex
		n    int
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, subject := range list {
		g.Go(func() error {
			err := r.Refresh(gctx, subject)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				n++
			}
			// One failing subject must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()
	return n, errors.Join(errs...)
}

// Refresh fetches and stores the series of one subject.
func (r *Refresher) Refresh(ctx context.Context, subject subjects.Key) error {
	if r.cfg.Source == nil {
		return ErrNoSource
	}
	data, err := r.cfg.Source.History(ctx, subject, r.cfg.Limit)
	if err == nil {
		err = r.cfg.Target.SetSupplementary(subject, data)
	}

	payload := events.MarketDataRefreshedPayload{Bytes: len(data)}
	if err != nil {
		payload = events.MarketDataRefreshedPayload{Error: err.Error()}
		slog.Warn("market data refresh failed, keeping previous data", "subject", subject, "error", err)
	} else {
		slog.Debug("market data refreshed", "subject", subject, "bytes", len(data))
	}
	r.cfg.Bus.Publish(events.NewSubjectEvent(events.SourceMarketData, string(subject), payload))

	if err != nil {
		return fmt.Errorf("refresh %s: %w", subject, err)
	}
	return nil
}

// Track fetches a newly created subject in the background.
func (r *Refresher) Track(subject subjects.Key) {
	if r.cfg.Source == nil {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := r.stopContext()
		defer cancel()
		_ = r.Refresh(ctx, subject)
	}()
}
