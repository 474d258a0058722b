package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Phase string

const (
	PhaseExtract   Phase = "extract"
	PhaseHistory   Phase = "history"
	PhaseMedia     Phase = "media"
	PhaseCorrelate Phase = "correlate"
	PhaseAssemble  Phase = "assemble"
	PhaseAvatar    Phase = "avatar"
)

type EventType string

const (
	// Phase lifecycle, consumed by the progress renderer.
	EventTypePhaseStart EventType = "phase_start"
	EventTypePhaseDone  EventType = "phase_done"

	// Domain events, counted into the summary.
	EventTypeArchiveRead    EventType = "archive_read"
	EventTypeFileExtracted  EventType = "file_extracted"
	EventTypeMessagesLoaded EventType = "messages_loaded"
	EventTypeMediaScanned   EventType = "media_scanned"
	EventTypeMatchedByID    EventType = "matched_by_id"
	EventTypeMatchedByTime  EventType = "matched_by_time"
	EventTypeUnmatched      EventType = "unmatched"
	EventTypeMediaCopied    EventType = "media_copied"
	EventTypeOrphaned       EventType = "orphaned"
	EventTypeDayWritten     EventType = "day_written"
	EventTypeAvatarFetched  EventType = "avatar_fetched"
	EventTypeAvatarFallback EventType = "avatar_fallback"
	EventTypeError          EventType = "error"
)

type Event struct {
	Phase Phase
	Type  EventType
	Name  string
	// Count carries the increment for aggregate events; zero means one.
	Count int
	// Total is the declared unit count on phase-start events.
	Total int
	Err   error
}

type Summary struct {
	ArchivesRead   int
	FilesExtracted int
	MessagesLoaded int
	MediaScanned   int
	MatchedByID    int
	MatchedByTime  int
	Unmatched      int
	MediaCopied    int
	Orphaned       int
	DaysWritten    int
	AvatarsFetched int
	AvatarFallback int
	Errors         int
	LastError      error
}

// Matched returns the total number of media files matched over both passes.
func (s Summary) Matched() int {
	return s.MatchedByID + s.MatchedByTime
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"archivesRead", s.ArchivesRead,
		"filesExtracted", s.FilesExtracted,
		"messagesLoaded", s.MessagesLoaded,
		"mediaScanned", s.MediaScanned,
		"matchedByID", s.MatchedByID,
		"matchedByTime", s.MatchedByTime,
		"unmatched", s.Unmatched,
		"mediaCopied", s.MediaCopied,
		"orphaned", s.Orphaned,
		"daysWritten", s.DaysWritten,
		"avatarsFetched", s.AvatarsFetched,
		"avatarFallbacks", s.AvatarFallback,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	n := evt.Count
	if n == 0 {
		n = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeArchiveRead:
		c.summary.ArchivesRead += n
	case EventTypeFileExtracted:
		c.summary.FilesExtracted += n
	case EventTypeMessagesLoaded:
		c.summary.MessagesLoaded += n
	case EventTypeMediaScanned:
		c.summary.MediaScanned += n
	case EventTypeMatchedByID:
		c.summary.MatchedByID += n
	case EventTypeMatchedByTime:
		c.summary.MatchedByTime += n
	case EventTypeUnmatched:
		c.summary.Unmatched += n
	case EventTypeMediaCopied:
		c.summary.MediaCopied += n
	case EventTypeOrphaned:
		c.summary.Orphaned += n
	case EventTypeDayWritten:
		c.summary.DaysWritten += n
	case EventTypeAvatarFetched:
		c.summary.AvatarsFetched += n
	case EventTypeAvatarFallback:
		c.summary.AvatarFallback += n
	case EventTypeError:
		c.summary.Errors += n
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Printf("%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
