package correlate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilen/snap-to-days/media"
	"github.com/teilen/snap-to-days/model"
)

var base = time.Date(2023, 5, 12, 10, 0, 0, 0, time.UTC)

func msgAt(offsetMS int64, mediaIDs string) *model.Message {
	return &model.Message{
		From:      "alice",
		Created:   base.Format("2006-01-02 15:04:05 UTC"),
		CreatedMS: base.UnixMilli() + offsetMS,
		MediaIDs:  mediaIDs,
		Type:      model.TypeMessage,
	}
}

func addMessages(store *model.Store, day, conv string, msgs ...*model.Message) {
	bucket := store.Day(day).Conversation(conv)
	bucket.Messages = append(bucket.Messages, msgs...)
}

func fileAt(name string, offsetMS int64, id string) media.File {
	return media.File{
		Name:    name,
		ModTime: base.Add(time.Duration(offsetMS) * time.Millisecond),
		MediaID: id,
	}
}

func TestIdentifierMatchConsumesFile(t *testing.T) {
	store := model.NewStore()
	withID := msgAt(0, "b~id1")
	nearby := msgAt(1_000, "")
	addMessages(store, "2023-05-12", "alice", withID, nearby)

	f := fileAt("2023-05-12_b~id1.jpg", 1_000, "id1")
	inv := &media.Inventory{
		ByID:      map[string]media.File{"id1": f},
		Primaries: []media.File{f},
	}

	res := New(store, inv, nil, nil).Run()

	assert.Equal(t, 1, res.MatchedByID)
	assert.Equal(t, 0, res.MatchedByTime)
	assert.Equal(t, 0, res.Unmatched)
	assert.Equal(t, []string{f.Name}, withID.MediaFilenames)
	// The file is claimed by the identifier even though the other message
	// sits closer in time; pass 2 never sees it again.
	assert.Empty(t, nearby.MediaFilenames)
}

func TestIdentifierTokensParsed(t *testing.T) {
	store := model.NewStore()
	msg := msgAt(0, "b~id1, b~id2,missing")
	addMessages(store, "2023-05-12", "alice", msg)

	f1 := fileAt("2023-05-12_b~id1.jpg", 0, "id1")
	f2 := fileAt("2023-05-12_b~id2.jpg", 0, "id2")
	inv := &media.Inventory{
		ByID:      map[string]media.File{"id1": f1, "id2": f2},
		Primaries: []media.File{f1, f2},
	}

	res := New(store, inv, nil, nil).Run()

	assert.Equal(t, 3, res.IdentifiersSeen)
	assert.Equal(t, 2, res.IdentifiersMatched)
	assert.Equal(t, []string{f1.Name, f2.Name}, msg.MediaFilenames)
}

func TestTimestampThreshold(t *testing.T) {
	tests := []struct {
		name    string
		diffMS  int64
		matched bool
	}{
		{"at threshold", ThresholdMS, true},
		{"past threshold", ThresholdMS + 1, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := model.NewStore()
			msg := msgAt(0, "")
			addMessages(store, "2023-05-12", "alice", msg)

			inv := &media.Inventory{
				Residual: []media.File{fileAt("2023-05-12_media~x.mp4", tc.diffMS, "")},
			}

			res := New(store, inv, nil, nil).Run()
			if tc.matched {
				assert.Equal(t, 1, res.MatchedByTime)
				assert.Len(t, msg.MediaFilenames, 1)
			} else {
				assert.Equal(t, 1, res.Unmatched)
				assert.Empty(t, msg.MediaFilenames)
			}
		})
	}
}

func TestPenaltySpreadsBurst(t *testing.T) {
	store := model.NewStore()
	first := msgAt(0, "")
	second := msgAt(4_000, "")
	addMessages(store, "2023-05-12", "alice", first, second)

	inv := &media.Inventory{
		Residual: []media.File{
			fileAt("2023-05-12_media~a.mp4", 0, ""),
			fileAt("2023-05-12_media~b.mp4", 0, ""),
		},
	}

	res := New(store, inv, nil, nil).Run()

	assert.Equal(t, 2, res.MatchedByTime)
	// Both files sit exactly on the first message, but its second candidacy
	// carries the spread penalty, so the second file lands on the neighbour.
	assert.Equal(t, []string{"2023-05-12_media~a.mp4"}, first.MediaFilenames)
	assert.Equal(t, []string{"2023-05-12_media~b.mp4"}, second.MediaFilenames)
}

func TestTieFallsToFirstConversation(t *testing.T) {
	store := model.NewStore()
	inAlice := msgAt(0, "")
	inBob := msgAt(0, "")
	addMessages(store, "2023-05-12", "alice", inAlice)
	addMessages(store, "2023-05-12", "bob", inBob)

	inv := &media.Inventory{
		Residual: []media.File{fileAt("2023-05-12_media~x.mp4", 0, "")},
	}

	New(store, inv, nil, nil).Run()

	assert.Len(t, inAlice.MediaFilenames, 1)
	assert.Empty(t, inBob.MediaFilenames)
}

func TestAdjacentDaySearch(t *testing.T) {
	store := model.NewStore()
	lateMsg := &model.Message{
		From:      "alice",
		Created:   "2023-05-12 23:59:50 UTC",
		CreatedMS: time.Date(2023, 5, 12, 23, 59, 50, 0, time.UTC).UnixMilli(),
		Type:      model.TypeMessage,
	}
	addMessages(store, "2023-05-12", "alice", lateMsg)

	f := media.File{
		Name:    "2023-05-13_media~x.mp4",
		ModTime: time.Date(2023, 5, 13, 0, 0, 10, 0, time.UTC),
	}
	inv := &media.Inventory{Residual: []media.File{f}}

	res := New(store, inv, nil, nil).Run()

	assert.Equal(t, 1, res.MatchedByTime)
	assert.Equal(t, []string{f.Name}, lateMsg.MediaFilenames)
}

func TestUnclaimedIdentifierFileReachesPassTwo(t *testing.T) {
	store := model.NewStore()
	msg := msgAt(0, "")
	addMessages(store, "2023-05-12", "alice", msg)

	f := fileAt("2023-05-12_b~orphan.jpg", 2_000, "orphan")
	inv := &media.Inventory{
		ByID:      map[string]media.File{"orphan": f},
		Primaries: []media.File{f},
	}

	res := New(store, inv, nil, nil).Run()

	assert.Equal(t, 0, res.MatchedByID)
	assert.Equal(t, 1, res.MatchedByTime)
	assert.Equal(t, []string{f.Name}, msg.MediaFilenames)
}

func TestUndatedNameIsUnmatched(t *testing.T) {
	store := model.NewStore()
	addMessages(store, "2023-05-12", "alice", msgAt(0, ""))

	inv := &media.Inventory{
		Residual: []media.File{fileAt("undated_media~x.mp4", 0, "")},
	}

	res := New(store, inv, nil, nil).Run()
	assert.Equal(t, 1, res.Unmatched)
}

func TestRunSortsMessagesWithinConversations(t *testing.T) {
	store := model.NewStore()
	later := msgAt(10_000, "")
	earlier := msgAt(0, "")
	addMessages(store, "2023-05-12", "alice", later, earlier)

	New(store, &media.Inventory{}, nil, nil).Run()

	msgs := store.Day("2023-05-12").Conversation("alice").Messages
	require.Len(t, msgs, 2)
	assert.Same(t, earlier, msgs[0])
	assert.Same(t, later, msgs[1])
}
