package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDay(t *testing.T) {
	msg := &Message{Created: "2023-05-12 10:00:00 UTC"}
	assert.Equal(t, "2023-05-12", msg.Day())

	assert.Equal(t, "", (&Message{Created: "bad"}).Day())
	assert.Equal(t, "", (&Message{}).Day())
}

func TestIsGroupID(t *testing.T) {
	assert.True(t, IsGroupID("f3c0a1-4b2d"))
	assert.False(t, IsGroupID("alice"))
}

func TestConversationGetOrCreate(t *testing.T) {
	bucket := &DayBucket{Date: "2023-05-12"}

	a := bucket.Conversation("alice")
	b := bucket.Conversation("bob")
	again := bucket.Conversation("alice")

	assert.Same(t, a, again)
	assert.Equal(t, []*Conversation{a, b}, bucket.Conversations)
}

func TestStoreAccounting(t *testing.T) {
	store := NewStore()

	conv := store.Day("2023-05-13").Conversation("alice")
	conv.Messages = append(conv.Messages, &Message{}, &Message{})
	store.Day("2023-05-12")

	assert.Equal(t, []string{"2023-05-12", "2023-05-13"}, store.SortedDays())
	assert.Equal(t, 2, store.Days["2023-05-13"].MessageCount())

	store.AddUsername("bob")
	store.AddUsername("")
	store.AddUsername("alice")
	assert.Equal(t, []string{"alice", "bob"}, store.SortedUsernames())
}
