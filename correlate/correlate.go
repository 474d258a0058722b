// Package correlate matches media files onto message records: first by the
// explicit identifiers messages carry, then by timestamp proximity with a
// penalty that spreads burst captures across sibling messages.
package correlate

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/teilen/snap-to-days/media"
	"github.com/teilen/snap-to-days/model"
	"github.com/teilen/snap-to-days/stats"
)

const (
	// ThresholdMS is the maximum raw distance between a file's capture
	// instant and a message's creation time for a timestamp match.
	ThresholdMS int64 = 30_000
	// PenaltyMS is added to the ranked score once per file a message has
	// already matched, so one message does not hoard a whole burst.
	PenaltyMS int64 = 5_000

	// idPrefix precedes every entry of a message's "Media IDs" field.
	idPrefix = "b~"
)

// Result aggregates what both passes did. It is the only output besides the
// matched-file lists written onto the messages themselves.
type Result struct {
	IdentifiersSeen    int
	IdentifiersMatched int
	MatchedByID        int
	MatchedByTime      int
	Unmatched          int
}

// Engine owns the store's message lists for the duration of a run; nothing
// else may mutate them until Run returns.
type Engine struct {
	store  *model.Store
	inv    *media.Inventory
	logger *slog.Logger
	emit   func(stats.Event)

	consumed map[string]bool
}

func New(store *model.Store, inv *media.Inventory, logger *slog.Logger, emit func(stats.Event)) *Engine {
	if emit == nil {
		emit = func(stats.Event) {}
	}
	return &Engine{
		store:    store,
		inv:      inv,
		logger:   logger,
		emit:     emit,
		consumed: make(map[string]bool),
	}
}

// Run executes both passes and returns the aggregate counters.
func (e *Engine) Run() Result {
	candidates := len(e.inv.ByID) + len(e.inv.Residual)
	e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypePhaseStart, Total: candidates})
	defer e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypePhaseDone})

	e.sortMessages()

	var res Result
	e.matchByIdentifier(&res)
	e.matchByTimestamp(&res)

	if e.logger != nil {
		e.logger.Info("correlation finished",
			"identifiersSeen", res.IdentifiersSeen,
			"identifiersMatched", res.IdentifiersMatched,
			"matchedByID", res.MatchedByID,
			"matchedByTime", res.MatchedByTime,
			"unmatched", res.Unmatched,
		)
	}
	return res
}

// sortMessages enforces ascending creation order within every conversation.
// Tie-breaking in the timestamp pass depends on this order, so it is
// established here rather than assumed.
func (e *Engine) sortMessages() {
	for _, day := range e.store.Days {
		for _, conv := range day.Conversations {
			sort.SliceStable(conv.Messages, func(i, j int) bool {
				return conv.Messages[i].CreatedMS < conv.Messages[j].CreatedMS
			})
		}
	}
}

// matchByIdentifier is pass 1: identifiers are authoritative when present.
// Each file is claimable exactly once.
func (e *Engine) matchByIdentifier(res *Result) {
	for _, day := range e.store.SortedDays() {
		for _, conv := range e.store.Days[day].Conversations {
			for _, msg := range conv.Messages {
				if msg.MediaIDs == "" {
					continue
				}
				for _, token := range strings.Split(msg.MediaIDs, ",") {
					id := strings.TrimPrefix(strings.TrimSpace(token), idPrefix)
					if id == "" {
						continue
					}
					res.IdentifiersSeen++

					f, ok := e.inv.ByID[id]
					if !ok || e.consumed[f.Name] {
						continue
					}
					msg.MediaFilenames = append(msg.MediaFilenames, f.Name)
					e.consumed[f.Name] = true
					res.IdentifiersMatched++
					res.MatchedByID++
					e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeMatchedByID, Name: f.Name})
				}
			}
		}
	}
}

// matchByTimestamp is pass 2: every file still unclaimed competes for the
// closest message within its day and the two adjacent days.
func (e *Engine) matchByTimestamp(res *Result) {
	for _, f := range e.candidates() {
		day := dayOf(f.Name)
		if day == "" {
			res.Unmatched++
			e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeUnmatched, Name: f.Name})
			continue
		}

		best := e.closestMessage(day, f.ModTime.UnixMilli())
		if best.msg != nil && best.rawDiff <= ThresholdMS {
			best.msg.MediaFilenames = append(best.msg.MediaFilenames, f.Name)
			res.MatchedByTime++
			e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeMatchedByTime, Name: f.Name})
		} else {
			res.Unmatched++
			e.emit(stats.Event{Phase: stats.PhaseCorrelate, Type: stats.EventTypeUnmatched, Name: f.Name})
		}
	}
}

// candidates returns the pass-2 file list in deterministic name order:
// identifier files pass 1 left unclaimed, plus the residual pool.
func (e *Engine) candidates() []media.File {
	files := make([]media.File, 0, len(e.inv.ByID)+len(e.inv.Residual))
	for _, f := range e.inv.ByID {
		if !e.consumed[f.Name] {
			files = append(files, f)
		}
	}
	files = append(files, e.inv.Residual...)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

type candidateMatch struct {
	msg     *model.Message
	ranked  int64
	rawDiff int64
}

// closestMessage scans the candidate day and its two neighbours. The ranked
// score is the raw distance plus the spread penalty; a strict less-than
// comparison makes ties fall to the first message encountered, which is
// deterministic given sorted days, insertion-ordered conversations and
// time-sorted messages.
func (e *Engine) closestMessage(day string, fileMS int64) candidateMatch {
	best := candidateMatch{ranked: int64(1) << 62, rawDiff: int64(1) << 62}

	for _, offset := range []int{0, -1, 1} {
		bucket, ok := e.store.Days[shiftDay(day, offset)]
		if !ok {
			continue
		}
		for _, conv := range bucket.Conversations {
			for _, msg := range conv.Messages {
				rawDiff := msg.CreatedMS - fileMS
				if rawDiff < 0 {
					rawDiff = -rawDiff
				}
				ranked := rawDiff + int64(len(msg.MediaFilenames))*PenaltyMS
				if ranked < best.ranked {
					best = candidateMatch{msg: msg, ranked: ranked, rawDiff: rawDiff}
				}
			}
		}
	}
	return best
}

func dayOf(name string) string {
	if len(name) < 10 {
		return ""
	}
	day := name[:10]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return ""
	}
	return day
}

func shiftDay(day string, offset int) string {
	if offset == 0 {
		return day
	}
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, offset).Format("2006-01-02")
}
