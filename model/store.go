package model

import (
	"sort"
	"strings"
)

// PlaceholderOwner is reported when no outgoing message identifies the
// account owner.
const PlaceholderOwner = "unknown_user"

// Conversation groups the messages of one conversation id within a single
// day bucket. Messages keep their insertion order until the correlation
// engine sorts them by creation timestamp.
type Conversation struct {
	ID       string
	Messages []*Message
}

// IsGroup reports whether the conversation id names a group chat. Individual
// conversations are keyed by plain usernames; group ids carry a separator.
func (c *Conversation) IsGroup() bool {
	return IsGroupID(c.ID)
}

// IsGroupID reports whether a conversation id names a group chat.
func IsGroupID(id string) bool {
	return strings.Contains(id, "-")
}

// DayBucket holds every conversation that has at least one message on one
// calendar date. Conversation order is first-seen order, which keeps output
// deterministic across runs.
type DayBucket struct {
	Date          string
	Conversations []*Conversation

	index map[string]*Conversation
}

// Conversation returns the bucket's conversation for id, creating it on
// first use.
func (d *DayBucket) Conversation(id string) *Conversation {
	if d.index == nil {
		d.index = make(map[string]*Conversation)
	}
	if c, ok := d.index[id]; ok {
		return c
	}
	c := &Conversation{ID: id}
	d.index[id] = c
	d.Conversations = append(d.Conversations, c)
	return c
}

// MessageCount returns the number of messages across all conversations in
// the bucket.
func (d *DayBucket) MessageCount() int {
	n := 0
	for _, c := range d.Conversations {
		n += len(c.Messages)
	}
	return n
}

// Group describes one group conversation for the final index document.
type Group struct {
	GroupID string   `json:"group_id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Store is the day-bucketed message structure produced by the history
// builder, together with the global username set and group metadata.
type Store struct {
	Days        map[string]*DayBucket
	Usernames   map[string]struct{}
	Groups      []Group
	GroupTitles map[string]string
	Owner       string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Days:        make(map[string]*DayBucket),
		Usernames:   make(map[string]struct{}),
		GroupTitles: make(map[string]string),
	}
}

// Day returns the bucket for a date, creating it on first use.
func (s *Store) Day(date string) *DayBucket {
	if b, ok := s.Days[date]; ok {
		return b
	}
	b := &DayBucket{Date: date}
	s.Days[date] = b
	return b
}

// SortedDays returns the bucket dates in ascending order.
func (s *Store) SortedDays() []string {
	days := make([]string, 0, len(s.Days))
	for d := range s.Days {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// AddUsername records a non-empty username in the global set.
func (s *Store) AddUsername(name string) {
	if name != "" {
		s.Usernames[name] = struct{}{}
	}
}

// SortedUsernames returns the global username set in ascending order.
func (s *Store) SortedUsernames() []string {
	names := make([]string, 0, len(s.Usernames))
	for n := range s.Usernames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
