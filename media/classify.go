package media

import (
	"regexp"
	"strings"
)

// Filename markers. These are the single source of truth for how the media
// pool is partitioned; nothing else in the pipeline inspects raw names.
const (
	thumbnailMarker = "thumbnail"
	overlayMarker   = "_overlay~"
	archiveMarker   = "_media~"
)

// idPattern extracts the short identifier embedded in primary files named
// like <date>_b~<id>.<ext>. The same identifier appears in messages'
// "Media IDs" field with a b~ prefix.
var idPattern = regexp.MustCompile(`_b~([^.~]+)\.\w+$`)

type Kind int

const (
	KindUnclassified Kind = iota
	KindPrimary
	KindOverlay
)

// Class is the result of classifying one media filename.
type Class struct {
	Kind Kind
	// FromArchive marks the tilde-style names that the export archive
	// itself produced; only those participate in overlay pairing.
	FromArchive bool
	// MediaID is the embedded short identifier, when present.
	MediaID string
}

// Classify partitions a media filename into primary/overlay variants.
// Thumbnails and anything without a known marker come back unclassified.
func Classify(name string) Class {
	if strings.Contains(strings.ToLower(name), thumbnailMarker) {
		return Class{Kind: KindUnclassified}
	}
	if strings.Contains(name, overlayMarker) {
		return Class{Kind: KindOverlay, FromArchive: true}
	}
	if strings.Contains(name, archiveMarker) {
		return Class{Kind: KindPrimary, FromArchive: true}
	}
	if m := idPattern.FindStringSubmatch(name); m != nil {
		return Class{Kind: KindPrimary, MediaID: m[1]}
	}
	return Class{Kind: KindUnclassified}
}

// dayPrefix returns the calendar-day prefix a media filename encodes, or
// the empty string when the name is too short to carry one.
func dayPrefix(name string) string {
	if len(name) < 10 {
		return ""
	}
	return name[:10]
}
