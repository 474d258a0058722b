package progress

import (
	"context"
	"sync"

	"github.com/pterm/pterm"

	"github.com/teilen/snap-to-days/stats"
)

// Renderer draws one progress bar per pipeline phase, driven by the event
// stream. It is purely observational and never affects correctness.
type Renderer struct {
	mu      sync.Mutex
	bar     *pterm.ProgressbarPrinter
	enabled bool
}

// Phase titles shown above the bars.
var phaseTitles = map[stats.Phase]string{
	stats.PhaseExtract:   "Extracting archives",
	stats.PhaseHistory:   "Reading history",
	stats.PhaseMedia:     "Scanning media",
	stats.PhaseCorrelate: "Matching media",
	stats.PhaseAssemble:  "Writing day archive",
	stats.PhaseAvatar:    "Fetching avatars",
}

// Event types that advance the active phase's bar by one unit.
var stepTypes = map[stats.EventType]bool{
	stats.EventTypeArchiveRead:    true,
	stats.EventTypeMatchedByID:    true,
	stats.EventTypeMatchedByTime:  true,
	stats.EventTypeUnmatched:      true,
	stats.EventTypeDayWritten:     true,
	stats.EventTypeAvatarFetched:  true,
	stats.EventTypeAvatarFallback: true,
}

// New creates a renderer; bars are drawn only at the info log level so
// debug output is not interleaved with terminal redraws.
func New(logLevel string) *Renderer {
	return &Renderer{enabled: logLevel == "info"}
}

// Subscriber consumes the event stream and updates the bars.
func (r *Renderer) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			r.stop()
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				r.stop()
				return nil
			}
			r.update(evt)
		}
	}
}

func (r *Renderer) update(evt stats.Event) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch evt.Type {
	case stats.EventTypePhaseStart:
		r.stopLocked()
		if evt.Total > 0 {
			pb, _ := pterm.DefaultProgressbar.
				WithTotal(evt.Total).
				WithTitle(phaseTitles[evt.Phase]).
				Start()
			r.bar = pb
		}
	case stats.EventTypePhaseDone:
		r.stopLocked()
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	default:
		if r.bar != nil && stepTypes[evt.Type] {
			r.bar.Increment()
		}
	}
}

func (r *Renderer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Renderer) stopLocked() {
	if r.bar == nil {
		return
	}
	if r.bar.Current < r.bar.Total {
		r.bar.Current = r.bar.Total
	}
	r.bar.Stop()
	r.bar = nil
}

// PrintSummary renders the final run summary below the last bar.
func PrintSummary(summary stats.Summary, owner string) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Account owner: %s\n", owner)
	pterm.Info.Printf("Archives read: %d\n", summary.ArchivesRead)
	pterm.Info.Printf("Files extracted: %d\n", summary.FilesExtracted)
	pterm.Info.Printf("Messages loaded: %d\n", summary.MessagesLoaded)
	pterm.Info.Printf("Days written: %d\n", summary.DaysWritten)

	total := summary.Matched() + summary.Unmatched
	if total > 0 {
		rate := float64(summary.Matched()) / float64(total) * 100
		pterm.Info.Printf("Media matched: %d/%d (%.1f%%) - %d by identifier, %d by timestamp\n",
			summary.Matched(), total, rate, summary.MatchedByID, summary.MatchedByTime)
	}
	pterm.Info.Printf("Orphaned media: %d\n", summary.Orphaned)
	if summary.AvatarsFetched+summary.AvatarFallback > 0 {
		pterm.Info.Printf("Avatars: %d fetched, %d fallbacks\n", summary.AvatarsFetched, summary.AvatarFallback)
	}
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
