package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teilen/snap-to-days/config"
	"github.com/teilen/snap-to-days/stats"
)

// PhaseFunc is one step of the pipeline. Phases run in registration order;
// the first failure stops the run.
type PhaseFunc func(context.Context) error

type phase struct {
	name string
	fn   PhaseFunc
}

// Runner sequences the pipeline phases and fans events out to stats
// subscribers. The dataflow is strictly forward, so unlike a streaming
// pipeline no two phases ever run at the same time; parallelism lives
// inside the phases.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	phases []phase

	subMu       sync.Mutex
	subscribers []chan stats.Event
	statsWG     sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(cfg config.Config, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// EmitEvent delivers an event to every subscriber. A subscriber that falls
// behind blocks the producing phase rather than dropping events.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subs := r.subscribers
	r.subMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers a consumer of the event stream. Each subscriber
// gets its own channel so consumers never steal events from one another.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)

	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// AddPhase appends a named phase to the pipeline.
func (r *Runner) AddPhase(name string, fn PhaseFunc) {
	r.phases = append(r.phases, phase{name: name, fn: fn})
}

// Start runs the registered phases in order, then drains the subscribers.
func (r *Runner) Start() error {
	r.since = time.Now()

	for _, p := range r.phases {
		if err := r.ctx.Err(); err != nil {
			break
		}
		started := time.Now()
		if err := p.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s phase: %w", p.name, err))
			break
		}
		r.logger.Debug("phase completed", "phase", p.name, "duration", time.Since(started))
	}

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subscribers {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
