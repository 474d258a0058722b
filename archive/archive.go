// Package archive extracts history JSON and chat media from the export zip
// parts, recovering true capture timestamps from per-entry metadata.
package archive

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teilen/snap-to-days/stats"
)

// ErrNoArchives is returned when the input directory holds no zip files.
// It is the only fatal condition of the whole pipeline.
var ErrNoArchives = errors.New("no zip archives found in input directory")

// extTimeTag identifies the extended-timestamp extra field in zip entry
// metadata. The field carries UTC seconds, unlike the coarse stored
// date-time which has local-time semantics.
const extTimeTag = 0x5455

// History files pulled out of any json/ directory inside the archives.
var targetJSON = map[string]bool{
	"chat_history.json": true,
	"snap_history.json": true,
	"friends.json":      true,
}

var partSuffix = regexp.MustCompile(`-(\d+)\.zip$`)

// ListArchives returns the export zip parts in processing order: the
// primary archive(s) without a numeric suffix first, then continuation
// parts sorted by ascending part number.
func ListArchives(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArchives, dir)
	}

	var primary, parts []string
	for _, m := range matches {
		if partSuffix.MatchString(filepath.Base(m)) {
			parts = append(parts, m)
		} else {
			primary = append(primary, m)
		}
	}

	sort.Strings(primary)
	sort.Slice(parts, func(i, j int) bool {
		return partNumber(parts[i]) < partNumber(parts[j])
	})

	return append(primary, parts...), nil
}

func partNumber(path string) int {
	m := partSuffix.FindStringSubmatch(filepath.Base(path))
	n, _ := strconv.Atoi(m[1])
	return n
}

// Options configures an extraction run.
type Options struct {
	Workspace string
	Workers   int
}

// Extractor unpacks the relevant entries of the export archives into a
// scratch workspace, preserving recovered timestamps on the extracted files.
type Extractor struct {
	opts   Options
	logger *slog.Logger
	emit   func(stats.Event)
}

func NewExtractor(opts Options, logger *slog.Logger, emit func(stats.Event)) (*Extractor, error) {
	if strings.TrimSpace(opts.Workspace) == "" {
		return nil, fmt.Errorf("workspace directory is empty")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if emit == nil {
		emit = func(stats.Event) {}
	}
	return &Extractor{opts: opts, logger: logger, emit: emit}, nil
}

// ExtractAll processes the archives in parallel. Each entry writes to a
// distinct destination path, so no locking is needed across archives.
func (e *Extractor) ExtractAll(ctx context.Context, archives []string) error {
	e.emit(stats.Event{Phase: stats.PhaseExtract, Type: stats.EventTypePhaseStart, Total: len(archives)})
	defer e.emit(stats.Event{Phase: stats.PhaseExtract, Type: stats.EventTypePhaseDone})

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for _, path := range archives {
		g.Go(func() error {
			if err := e.extractArchive(ctx, path); err != nil {
				return fmt.Errorf("extract %s: %w", filepath.Base(path), err)
			}
			e.emit(stats.Event{Phase: stats.PhaseExtract, Type: stats.EventTypeArchiveRead, Name: filepath.Base(path)})
			return nil
		})
	}

	return g.Wait()
}

func (e *Extractor) extractArchive(ctx context.Context, path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			continue
		}

		rel, ok := destination(f.Name)
		if !ok {
			continue
		}
		if !filepath.IsLocal(rel) {
			if e.logger != nil {
				e.logger.Warn("skipping non-local archive entry", "entry", f.Name)
			}
			continue
		}

		dest := filepath.Join(e.opts.Workspace, rel)
		if err := e.extractEntry(f, dest); err != nil {
			return fmt.Errorf("entry %s: %w", f.Name, err)
		}
		e.emit(stats.Event{Phase: stats.PhaseExtract, Type: stats.EventTypeFileExtracted, Name: rel})
	}

	return nil
}

// destination maps an archive entry onto its workspace-relative path, or
// reports that the entry is not one the pipeline cares about. History files
// flatten into json/; media entries keep their path tail from the
// chat_media marker on.
func destination(entryName string) (string, bool) {
	parts := strings.Split(strings.Trim(entryName, "/"), "/")

	if len(parts) > 1 && parts[len(parts)-2] == "json" && targetJSON[parts[len(parts)-1]] {
		return filepath.Join("json", parts[len(parts)-1]), true
	}

	for i, p := range parts {
		if p == "chat_media" {
			return filepath.Join(parts[i:]...), true
		}
	}

	return "", false
}

func (e *Extractor) extractEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	mtime := entryModTime(&f.FileHeader)
	if err := os.Chtimes(dest, mtime, mtime); err != nil {
		return err
	}

	return nil
}

// entryModTime recovers the entry's true UTC modification time from the
// extended-timestamp extra field. A missing or malformed field degrades to
// the archive's coarse stored date-time; it never fails the entry.
func entryModTime(fh *zip.FileHeader) time.Time {
	extra := fh.Extra
	for i := 0; i+4 <= len(extra); {
		tag := binary.LittleEndian.Uint16(extra[i:])
		size := int(binary.LittleEndian.Uint16(extra[i+2:]))
		i += 4
		if i+size > len(extra) {
			break
		}
		if tag == extTimeTag && size >= 5 && extra[i]&1 != 0 {
			secs := binary.LittleEndian.Uint32(extra[i+1:])
			return time.Unix(int64(secs), 0).UTC()
		}
		i += size
	}
	return fh.Modified
}
