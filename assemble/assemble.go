// Package assemble writes the day-partitioned output: copied media, orphan
// accounting and one conversations.json document per day.
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/teilen/snap-to-days/media"
	"github.com/teilen/snap-to-days/model"
	"github.com/teilen/snap-to-days/stats"
)

// DayDocument is the per-day output schema.
type DayDocument struct {
	Date          string            `json:"date"`
	Stats         DayStats          `json:"stats"`
	Conversations []ConversationDoc `json:"conversations"`
	OrphanedMedia OrphanSet         `json:"orphanedMedia"`
}

type DayStats struct {
	ConversationCount int `json:"conversationCount"`
	MessageCount      int `json:"messageCount"`
	MediaCount        int `json:"mediaCount"`
}

type ConversationDoc struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversation_id"`
	ConversationType string           `json:"conversation_type"`
	Messages         []*model.Message `json:"messages"`
	GroupName        string           `json:"group_name,omitempty"`
}

type OrphanSet struct {
	Count   int      `json:"orphaned_media_count"`
	Orphans []Orphan `json:"orphaned_media"`
}

type Orphan struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Type      string `json:"type"`
	Extension string `json:"extension"`
}

// Result aggregates what an assembly run produced.
type Result struct {
	DaysWritten int
	MediaCopied int
	Orphaned    int
}

// Options configures an assembly run.
type Options struct {
	OutputDir string
	Workers   int
}

// Assembler renders the day folders. Days own disjoint input and output
// paths, so they are processed in parallel.
type Assembler struct {
	opts   Options
	logger *slog.Logger
	emit   func(stats.Event)
}

func New(opts Options, logger *slog.Logger, emit func(stats.Event)) (*Assembler, error) {
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if emit == nil {
		emit = func(stats.Event) {}
	}
	return &Assembler{opts: opts, logger: logger, emit: emit}, nil
}

// Run wipes any stale days tree and regenerates it from scratch, so a rerun
// against the same inputs is fully idempotent.
func (a *Assembler) Run(ctx context.Context, store *model.Store, inv *media.Inventory) (Result, error) {
	days := store.SortedDays()
	a.emit(stats.Event{Phase: stats.PhaseAssemble, Type: stats.EventTypePhaseStart, Total: len(days)})
	defer a.emit(stats.Event{Phase: stats.PhaseAssemble, Type: stats.EventTypePhaseDone})

	daysOut := filepath.Join(a.opts.OutputDir, "days")
	if err := os.RemoveAll(daysOut); err != nil {
		return Result{}, fmt.Errorf("clear days output: %w", err)
	}
	if err := os.MkdirAll(daysOut, 0o755); err != nil {
		return Result{}, fmt.Errorf("create days output: %w", err)
	}

	// Read-only during assembly; each day reads its own slice.
	byDay := primariesByDay(inv.Primaries)

	var mu sync.Mutex
	var total Result

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for _, day := range days {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := a.assembleDay(day, store, inv, byDay[day], daysOut)
			if err != nil {
				return fmt.Errorf("day %s: %w", day, err)
			}
			mu.Lock()
			total.DaysWritten++
			total.MediaCopied += res.MediaCopied
			total.Orphaned += res.Orphaned
			mu.Unlock()
			a.emit(stats.Event{Phase: stats.PhaseAssemble, Type: stats.EventTypeDayWritten, Name: day})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

func primariesByDay(files []media.File) map[string][]media.File {
	byDay := make(map[string][]media.File)
	for _, f := range files {
		if len(f.Name) < 10 {
			continue
		}
		day := f.Name[:10]
		byDay[day] = append(byDay[day], f)
	}
	for _, list := range byDay {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return byDay
}

// assembleDay renders one self-contained day folder. The document write is
// the last step, so an interrupted day is recognisable by its missing
// conversations.json and can be retried in full.
func (a *Assembler) assembleDay(day string, store *model.Store, inv *media.Inventory, dayFiles []media.File, daysOut string) (Result, error) {
	folder := filepath.Join(daysOut, day)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return Result{}, err
	}

	bucket := store.Days[day]
	mapped := make(map[string]bool)
	res := Result{}

	conversations := make([]ConversationDoc, 0, len(bucket.Conversations))
	for _, conv := range bucket.Conversations {
		for _, msg := range conv.Messages {
			copied, err := a.copyMessageMedia(msg, inv, folder)
			if err != nil {
				return res, err
			}
			for name := range copied {
				mapped[name] = true
			}
			res.MediaCopied += len(copied)
		}

		doc := ConversationDoc{
			ID:               conv.ID,
			ConversationID:   conv.ID,
			ConversationType: "individual",
			Messages:         conv.Messages,
		}
		if conv.IsGroup() {
			doc.ConversationType = "group"
			doc.GroupName = conv.ID
			if name, ok := store.GroupTitles[conv.ID]; ok {
				doc.GroupName = name
			}
		}
		conversations = append(conversations, doc)
	}

	orphans, err := a.collectOrphans(dayFiles, mapped, folder)
	if err != nil {
		return res, err
	}
	res.Orphaned = len(orphans)

	doc := DayDocument{
		Date: day,
		Stats: DayStats{
			ConversationCount: len(conversations),
			MessageCount:      bucket.MessageCount(),
			MediaCount:        res.MediaCopied,
		},
		Conversations: conversations,
		OrphanedMedia: OrphanSet{Count: len(orphans), Orphans: orphans},
	}

	if err := writeJSON(filepath.Join(folder, "conversations.json"), doc); err != nil {
		return res, err
	}
	return res, nil
}

// copyMessageMedia copies a message's matched files into the day folder and
// annotates the message with its final relative paths. A file missing from
// the workspace is skipped silently and contributes no path.
func (a *Assembler) copyMessageMedia(msg *model.Message, inv *media.Inventory, folder string) (map[string]bool, error) {
	if len(msg.MediaFilenames) == 0 {
		return nil, nil
	}

	copied := make(map[string]bool)
	var locations []string

	for _, name := range msg.MediaFilenames {
		src, ok := inv.Lookup(name)
		if !ok {
			continue
		}
		if _, err := os.Stat(src.Path); err != nil {
			continue
		}

		overlay, paired := inv.Overlays[name]
		if paired {
			// The overlay can vanish from the workspace just like the
			// primary; degrade to an unpaired copy rather than abort.
			if _, err := os.Stat(overlay.Path); err != nil {
				paired = false
			}
		}

		if paired {
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			sub := filepath.Join(folder, "media", stem)
			if err := os.MkdirAll(sub, 0o755); err != nil {
				return copied, err
			}
			if err := copyFile(src.Path, filepath.Join(sub, name)); err != nil {
				return copied, err
			}
			if err := copyFile(overlay.Path, filepath.Join(sub, overlay.Name)); err != nil {
				return copied, err
			}
			locations = append(locations, "media/"+stem)
			msg.OverlayGrouped = true
		} else {
			mediaDir := filepath.Join(folder, "media")
			if err := os.MkdirAll(mediaDir, 0o755); err != nil {
				return copied, err
			}
			if err := copyFile(src.Path, filepath.Join(mediaDir, name)); err != nil {
				return copied, err
			}
			locations = append(locations, "media/"+name)
		}
		copied[name] = true
		a.emit(stats.Event{Phase: stats.PhaseAssemble, Type: stats.EventTypeMediaCopied, Name: name})
	}

	if len(locations) > 0 {
		msg.MediaLocations = locations
		msg.MappingMethod = model.MappingTimestamp
		if msg.MediaIDs != "" {
			msg.MappingMethod = model.MappingIdentifier
		}
	}
	return copied, nil
}

// collectOrphans files every primary of the day that no message claimed.
func (a *Assembler) collectOrphans(dayFiles []media.File, mapped map[string]bool, folder string) ([]Orphan, error) {
	orphans := make([]Orphan, 0)
	for _, f := range dayFiles {
		if mapped[f.Name] {
			continue
		}
		if _, err := os.Stat(f.Path); err != nil {
			continue
		}
		orphanDir := filepath.Join(folder, "orphaned")
		if err := os.MkdirAll(orphanDir, 0o755); err != nil {
			return orphans, err
		}
		if err := copyFile(f.Path, filepath.Join(orphanDir, f.Name)); err != nil {
			return orphans, err
		}
		ext := strings.TrimPrefix(filepath.Ext(f.Name), ".")
		orphans = append(orphans, Orphan{
			Path:      "orphaned/" + f.Name,
			Filename:  f.Name,
			Type:      mediaType(ext),
			Extension: ext,
		})
		a.emit(stats.Event{Phase: stats.PhaseAssemble, Type: stats.EventTypeOrphaned, Name: f.Name})
	}
	return orphans, nil
}

// mediaType maps a file extension onto its media family. Unrecognised
// extensions default to the image family.
func mediaType(ext string) string {
	switch strings.ToLower(ext) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "IMAGE"
	case "mp4", "mov", "avi", "webm":
		return "VIDEO"
	case "mp3", "aac", "m4a", "wav", "ogg":
		return "AUDIO"
	}
	return "IMAGE"
}

// copyFile copies src to dst preserving the source's modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// writeJSON serialises v with stable formatting and renames it into place
// as the final step, so a document either exists complete or not at all.
func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
