package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatLens/internal/session"
)

func history(contents ...string) []session.Message {
	msgs := make([]session.Message, len(contents))
	for i, c := range contents {
		msgs[i] = session.Message{Role: session.RoleUser, Content: c}
	}
	return msgs
}

func TestGetMissesOnEmptyCache(t *testing.T) {
	c := New()
	_, ok := c.Get(history("hello"))
	assert.False(t, ok)
}

func TestPutThenGet(t *testing.T) {
	c := New()
	h := history("hello")
	c.Put(h, "hi there")

	got, ok := c.Get(h)
	require.True(t, ok)
	assert.Equal(t, "hi there", got)
}

func TestKeyDependsOnContentAndRole(t *testing.T) {
	a := []session.Message{{Role: session.RoleUser, Content: "x"}}
	b := []session.Message{{Role: session.RoleAssistant, Content: "x"}}
	cMsgs := []session.Message{{Role: session.RoleUser, Content: "y"}}

	assert.NotEqual(t, Key(a), Key(b))
	assert.NotEqual(t, Key(a), Key(cMsgs))
	assert.Equal(t, Key(a), Key([]session.Message{{Role: session.RoleUser, Content: "x"}}))
}

func TestDifferentHistoriesDoNotCollide(t *testing.T) {
	c := New()
	c.Put(history("hello"), "reply one")
	c.Put(history("hello", "again"), "reply two")

	got, ok := c.Get(history("hello"))
	require.True(t, ok)
	assert.Equal(t, "reply one", got)

	got, ok = c.Get(history("hello", "again"))
	require.True(t, ok)
	assert.Equal(t, "reply two", got)
}

func TestKeyIgnoresTimestamps(t *testing.T) {
	c := New()
	h := history("hello")
	c.Put(h, "cached")

	// The same conversation replayed later has fresh timestamps.
	replay := history("hello")
	got, ok := c.Get(replay)
	require.True(t, ok)
	assert.Equal(t, "cached", got)
}
