// Package media inventories the extracted media pool: primary/overlay
// classification, identifier indexing and overlay pairing.
package media

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/teilen/snap-to-days/stats"
)

// File is one media file from the workspace pool. ModTime is the archive-
// recovered capture instant set during extraction.
type File struct {
	Name        string
	Path        string
	ModTime     time.Time
	FromArchive bool
	MediaID     string
}

// Inventory is the classifier's view of the media pool.
type Inventory struct {
	// ByID indexes identifier-bearing primaries for the exact-match pass.
	ByID map[string]File
	// Residual holds primaries without a usable identifier; they are only
	// reachable through the timestamp pass.
	Residual []File
	// Overlays maps a primary filename to its paired overlay file.
	Overlays map[string]File
	// Primaries is the full primary pool, used for orphan accounting.
	Primaries []File

	byName map[string]File
}

// Lookup resolves a primary filename against the inventory.
func (inv *Inventory) Lookup(name string) (File, bool) {
	f, ok := inv.byName[name]
	return f, ok
}

// Scan enumerates the media directory once and builds the inventory. A
// missing directory is an expected absence and yields an empty inventory.
func Scan(dir string, logger *slog.Logger, emit func(stats.Event)) (*Inventory, error) {
	if emit == nil {
		emit = func(stats.Event) {}
	}
	emit(stats.Event{Phase: stats.PhaseMedia, Type: stats.EventTypePhaseStart})
	defer emit(stats.Event{Phase: stats.PhaseMedia, Type: stats.EventTypePhaseDone})

	inv := &Inventory{
		ByID:     make(map[string]File),
		Overlays: make(map[string]File),
		byName:   make(map[string]File),
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		if logger != nil {
			logger.Warn("no media directory in workspace", "dir", dir)
		}
		return inv, nil
	}
	if err != nil {
		return nil, err
	}

	var overlays []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		class := Classify(entry.Name())
		if class.Kind == KindUnclassified {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if logger != nil {
				logger.Warn("skipping unreadable media file", "name", entry.Name(), "err", err)
			}
			continue
		}

		f := File{
			Name:        entry.Name(),
			Path:        filepath.Join(dir, entry.Name()),
			ModTime:     info.ModTime(),
			FromArchive: class.FromArchive,
			MediaID:     class.MediaID,
		}

		switch class.Kind {
		case KindOverlay:
			overlays = append(overlays, f)
		case KindPrimary:
			inv.Primaries = append(inv.Primaries, f)
			inv.byName[f.Name] = f
			if f.MediaID != "" {
				inv.ByID[f.MediaID] = f
			} else {
				inv.Residual = append(inv.Residual, f)
			}
		}
		emit(stats.Event{Phase: stats.PhaseMedia, Type: stats.EventTypeMediaScanned, Name: f.Name})
	}

	inv.Overlays = pairOverlays(inv.Primaries, overlays)

	sort.Slice(inv.Primaries, func(i, j int) bool { return inv.Primaries[i].Name < inv.Primaries[j].Name })
	sort.Slice(inv.Residual, func(i, j int) bool { return inv.Residual[i].Name < inv.Residual[j].Name })

	return inv, nil
}

// pairOverlays derives the primary -> overlay relation. Files are grouped by
// day prefix and archive origin; within a group both sides are sorted by
// name and paired element-wise, but only when the counts match exactly. A
// count mismatch yields no pairing for that group rather than a guess.
func pairOverlays(primaries, overlays []File) map[string]File {
	type key struct {
		day         string
		fromArchive bool
	}
	groups := make(map[key]*struct{ primaries, overlays []File })

	group := func(f File) *struct{ primaries, overlays []File } {
		day := dayPrefix(f.Name)
		if day == "" {
			return nil
		}
		k := key{day: day, fromArchive: f.FromArchive}
		g, ok := groups[k]
		if !ok {
			g = &struct{ primaries, overlays []File }{}
			groups[k] = g
		}
		return g
	}

	for _, f := range primaries {
		if !f.FromArchive {
			continue
		}
		if g := group(f); g != nil {
			g.primaries = append(g.primaries, f)
		}
	}
	for _, f := range overlays {
		if g := group(f); g != nil {
			g.overlays = append(g.overlays, f)
		}
	}

	pairs := make(map[string]File)
	for _, g := range groups {
		if len(g.primaries) == 0 || len(g.primaries) != len(g.overlays) {
			continue
		}
		sort.Slice(g.primaries, func(i, j int) bool { return g.primaries[i].Name < g.primaries[j].Name })
		sort.Slice(g.overlays, func(i, j int) bool { return g.overlays[i].Name < g.overlays[j].Name })
		for i, p := range g.primaries {
			pairs[p.Name] = g.overlays[i]
		}
	}
	return pairs
}
