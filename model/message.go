package model

// Message is a single chat or snap record from the export history. The
// upper-case JSON tags mirror the export schema; the lower-case fields are
// filled in later by correlation and output assembly.
type Message struct {
	From      string  `json:"From"`
	MediaType string  `json:"Media Type,omitempty"`
	Created   string  `json:"Created"`
	CreatedMS int64   `json:"Created(microseconds)"`
	Title     string  `json:"Conversation Title,omitempty"`
	IsSender  bool    `json:"IsSender"`
	Content   *string `json:"Content"`
	IsSaved   bool    `json:"IsSaved"`
	MediaIDs  string  `json:"Media IDs"`
	Type      string  `json:"Type"`

	MediaFilenames []string `json:"media_filenames,omitempty"`
	MediaLocations []string `json:"media_locations,omitempty"`
	MappingMethod  string   `json:"mapping_method,omitempty"`
	OverlayGrouped bool     `json:"overlay_grouped,omitempty"`
}

// Day returns the calendar-day portion of the creation timestamp, or the
// empty string if the record has no usable timestamp.
func (m *Message) Day() string {
	if len(m.Created) < 10 {
		return ""
	}
	return m.Created[:10]
}

// Message type tags.
const (
	TypeMessage = "message"
	TypeSnap    = "snap"
)

// Mapping methods recorded on messages with matched media.
const (
	MappingIdentifier = "identifier"
	MappingTimestamp  = "timestamp"
)
