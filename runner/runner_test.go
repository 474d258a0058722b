package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilen/snap-to-days/config"
	"github.com/teilen/snap-to-days/stats"
)

func newTestRunner() *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.Config{}, logger)
}

func TestPhasesRunInOrder(t *testing.T) {
	r := newTestRunner()

	var order []string
	for _, name := range []string{"one", "two", "three"} {
		r.AddPhase(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, r.Start())
	assert.Equal(t, []string{"one", "two", "three"}, order)
}

func TestFirstFailureStopsThePipeline(t *testing.T) {
	r := newTestRunner()
	boom := errors.New("boom")

	ran := false
	r.AddPhase("failing", func(context.Context) error { return boom })
	r.AddPhase("after", func(context.Context) error {
		ran = true
		return nil
	})

	err := r.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran, "phases after a failure must not run")
}

func TestEventsFanOutToAllSubscribers(t *testing.T) {
	r := newTestRunner()

	counts := make([]int, 2)
	for i := range counts {
		r.SubscribeStats("sub", func(ctx context.Context, events <-chan stats.Event) error {
			for range events {
				counts[i]++
			}
			return nil
		})
	}

	r.AddPhase("emit", func(context.Context) error {
		for j := 0; j < 5; j++ {
			r.EmitEvent(stats.Event{Phase: stats.PhaseExtract, Type: stats.EventTypeFileExtracted})
		}
		return nil
	})

	require.NoError(t, r.Start())
	assert.Equal(t, 5, counts[0])
	assert.Equal(t, 5, counts[1])
}

func TestSubscriberErrorFailsTheRun(t *testing.T) {
	r := newTestRunner()
	boom := errors.New("consumer broke")

	r.SubscribeStats("broken", func(ctx context.Context, events <-chan stats.Event) error {
		for range events {
		}
		return boom
	})
	r.AddPhase("noop", func(context.Context) error { return nil })

	err := r.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestReporterCollectsSummary(t *testing.T) {
	r := newTestRunner()
	reporter := stats.NewReporter(r, r.Logger())

	r.AddPhase("emit", func(context.Context) error {
		r.EmitEvent(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeMatchedByID})
		r.EmitEvent(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeMatchedByTime})
		r.EmitEvent(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeUnmatched})
		return nil
	})

	require.NoError(t, r.Start())

	summary := reporter.Summary()
	assert.Equal(t, 1, summary.MatchedByID)
	assert.Equal(t, 1, summary.MatchedByTime)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Equal(t, 2, summary.Matched())
}
