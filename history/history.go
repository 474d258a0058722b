// Package history parses the exported chat and snap collections into the
// day-bucketed message store used by correlation and output assembly.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/teilen/snap-to-days/model"
	"github.com/teilen/snap-to-days/stats"
)

const (
	chatHistoryFile = "chat_history.json"
	snapHistoryFile = "snap_history.json"
	friendsFile     = "friends.json"
)

// rawConversation is one conversation-id key of a history collection with
// its records still undecoded. File order is preserved so that output stays
// deterministic across runs.
type rawConversation struct {
	ID      string
	Records []json.RawMessage
}

// snapRecord is the narrow field set read from snap_history.json. Everything
// else a snap record might carry is replaced by defaults on projection.
type snapRecord struct {
	From      string `json:"From"`
	MediaType string `json:"Media Type"`
	Created   string `json:"Created"`
	Title     string `json:"Conversation Title"`
	IsSender  bool   `json:"IsSender"`
	CreatedMS int64  `json:"Created(microseconds)"`
}

func (r snapRecord) project() *model.Message {
	return &model.Message{
		From:      r.From,
		MediaType: r.MediaType,
		Created:   r.Created,
		Title:     r.Title,
		IsSender:  r.IsSender,
		CreatedMS: r.CreatedMS,
		Content:   nil,
		IsSaved:   false,
		MediaIDs:  "",
		Type:      model.TypeSnap,
	}
}

// Builder turns the extracted history JSON into a model.Store.
type Builder struct {
	logger *slog.Logger
	emit   func(stats.Event)
}

func NewBuilder(logger *slog.Logger, emit func(stats.Event)) *Builder {
	if emit == nil {
		emit = func(stats.Event) {}
	}
	return &Builder{logger: logger, emit: emit}
}

// Load reads the history files below jsonDir and builds the message store
// plus the username -> display name map from friends.json. Missing or
// malformed files degrade to empty collections; Load fails only on I/O
// errors outside the per-file taxonomy.
func (b *Builder) Load(jsonDir string) (*model.Store, map[string]string, error) {
	b.emit(stats.Event{Phase: stats.PhaseHistory, Type: stats.EventTypePhaseStart})
	defer b.emit(stats.Event{Phase: stats.PhaseHistory, Type: stats.EventTypePhaseDone})

	chat := b.loadCollection(filepath.Join(jsonDir, chatHistoryFile))
	snap := b.loadCollection(filepath.Join(jsonDir, snapHistoryFile))

	store, loaded := build(chat, snap)
	b.emit(stats.Event{Phase: stats.PhaseHistory, Type: stats.EventTypeMessagesLoaded, Count: loaded})

	return store, b.LoadDisplayNames(jsonDir), nil
}

func (b *Builder) loadCollection(path string) []rawConversation {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if b.logger != nil {
			b.logger.Warn("history file missing, continuing with empty collection", "path", path)
		}
		return nil
	}
	if err != nil {
		b.degrade(path, err)
		return nil
	}
	defer f.Close()

	convs, err := decodeCollection(f)
	if err != nil {
		b.degrade(path, err)
		return nil
	}
	return convs
}

func (b *Builder) degrade(path string, err error) {
	if b.logger != nil {
		b.logger.Warn("history file unreadable, continuing with empty collection", "path", path, "err", err)
	}
	b.emit(stats.Event{Phase: stats.PhaseHistory, Type: stats.EventTypeError, Err: err})
}

// decodeCollection reads a {conversation id -> [records]} object token by
// token, keeping the file's key order.
func decodeCollection(r io.Reader) ([]rawConversation, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var convs []rawConversation
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected conversation id, got %v", keyTok)
		}

		var records []json.RawMessage
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("conversation %s: %w", id, err)
		}
		convs = append(convs, rawConversation{ID: id, Records: records})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return convs, nil
}

// build assembles the day/conversation buckets, the username set and the
// group metadata from both collections. Per-record decode failures and
// records without a usable timestamp skip the record, never the run.
func build(chat, snap []rawConversation) (*model.Store, int) {
	store := model.NewStore()
	loaded := 0

	for _, conv := range chat {
		participants := make(map[string]struct{})
		title := ""

		for _, raw := range conv.Records {
			msg := &model.Message{}
			if err := json.Unmarshal(raw, msg); err != nil {
				continue
			}
			if msg.Day() == "" {
				continue
			}
			msg.Type = model.TypeMessage
			bucket := store.Day(msg.Day()).Conversation(conv.ID)
			bucket.Messages = append(bucket.Messages, msg)
			loaded++

			if msg.From != "" {
				store.AddUsername(msg.From)
				participants[msg.From] = struct{}{}
			}
			if title == "" {
				title = msg.Title
			}
		}

		if model.IsGroupID(conv.ID) {
			name := title
			if name == "" {
				name = conv.ID
			}
			store.GroupTitles[conv.ID] = name
			store.Groups = append(store.Groups, model.Group{
				GroupID: conv.ID,
				Name:    name,
				Members: sortedKeys(participants),
			})
		} else {
			store.AddUsername(conv.ID)
		}
	}

	for _, conv := range snap {
		isGroup := model.IsGroupID(conv.ID)
		for _, raw := range conv.Records {
			var rec snapRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				continue
			}
			msg := rec.project()
			if msg.Day() == "" {
				continue
			}
			bucket := store.Day(msg.Day()).Conversation(conv.ID)
			bucket.Messages = append(bucket.Messages, msg)
			loaded++

			store.AddUsername(msg.From)
			if isGroup {
				if _, known := store.GroupTitles[conv.ID]; !known && msg.Title != "" {
					store.GroupTitles[conv.ID] = msg.Title
				}
			}
		}
		if !isGroup {
			store.AddUsername(conv.ID)
		}
	}

	store.Owner = findOwner(chat, snap)
	store.AddUsername(store.Owner)

	return store, loaded
}

// findOwner scans both collections in original order; the sender of the
// first outgoing message is the account owner. No outgoing message at all
// yields the placeholder identity, never an error.
func findOwner(chat, snap []rawConversation) string {
	probe := struct {
		From     string `json:"From"`
		IsSender bool   `json:"IsSender"`
	}{}

	for _, convs := range [][]rawConversation{chat, snap} {
		for _, conv := range convs {
			for _, raw := range conv.Records {
				if err := json.Unmarshal(raw, &probe); err != nil {
					continue
				}
				if probe.IsSender {
					if probe.From == "" {
						return model.PlaceholderOwner
					}
					return probe.From
				}
			}
		}
	}
	return model.PlaceholderOwner
}

// LoadDisplayNames parses friends.json into a username -> display name map.
// A missing or malformed file yields an empty map.
func (b *Builder) LoadDisplayNames(jsonDir string) map[string]string {
	names := make(map[string]string)

	data, err := os.ReadFile(filepath.Join(jsonDir, friendsFile))
	if err != nil {
		return names
	}

	var categories map[string][]struct {
		Username    string `json:"Username"`
		DisplayName string `json:"Display Name"`
	}
	if err := json.Unmarshal(data, &categories); err != nil {
		if b.logger != nil {
			b.logger.Warn("friends.json unreadable, display names unavailable", "err", err)
		}
		return names
	}

	for _, entries := range categories {
		for _, e := range entries {
			if e.Username != "" {
				names[e.Username] = e.DisplayName
			}
		}
	}
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
