package room

import (
	"context"
	"testing"

	"github.com/dgruss/karaoked/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved map[string]int
}

func (m *memStore) Load() (map[string]int, error) {
	if m.saved == nil {
		return map[string]int{}, nil
	}
	return m.saved, nil
}

func (m *memStore) Save(capacity map[string]int) error {
	m.saved = capacity
	return nil
}

func TestJoinAndLeaveRoundTrips(t *testing.T) {
	c := New(&memStore{}, nil)
	ctx := context.Background()

	before := c.Snapshot()

	sink, err := c.Join(ctx, Mic2, "Ada")
	require.NoError(t, err)
	assert.Equal(t, 2, sink)
	assert.Equal(t, []string{"Ada"}, c.MembersOf(Mic2))

	assert.True(t, c.Leave(ctx, "Ada"))
	assert.Equal(t, before, c.Snapshot())
}

func TestJoinRemovesFromPriorRoom(t *testing.T) {
	c := New(&memStore{}, nil)
	ctx := context.Background()

	_, err := c.Join(ctx, Mic1, "Bob")
	require.NoError(t, err)
	_, err = c.Join(ctx, Mic2, "Bob")
	require.NoError(t, err)

	assert.Empty(t, c.MembersOf(Mic1))
	assert.Equal(t, []string{"Bob"}, c.MembersOf(Mic2))
}

func TestJoinUnknownRoomFails(t *testing.T) {
	c := New(&memStore{}, nil)
	_, err := c.Join(context.Background(), "mic9", "X")
	require.Error(t, err)
	assert.Equal(t, errs.UnknownRoom, errs.CodeFor(err))
}

func TestMicRoomCapacityEnforced(t *testing.T) {
	c := New(&memStore{}, nil)
	ctx := context.Background()
	require.NoError(t, c.SetCapacity(map[string]int{Mic1: 1}))

	_, err := c.Join(ctx, Mic1, "X")
	require.NoError(t, err)

	_, err = c.Join(ctx, Mic1, "Y")
	require.Error(t, err)
	assert.Equal(t, errs.RoomFull, errs.CodeFor(err))
}

func TestLobbyNeverFull(t *testing.T) {
	c := New(&memStore{}, nil)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := c.Join(ctx, Lobby, string(rune('a'+i)))
		require.NoError(t, err)
	}
	assert.Len(t, c.MembersOf(Lobby), 20)
}

func TestSetCapacityClampsAndIsIdempotent(t *testing.T) {
	store := &memStore{}
	c := New(store, nil)

	require.NoError(t, c.SetCapacity(map[string]int{Mic3: 99}))
	assert.Equal(t, 6, store.saved[Mic3])

	require.NoError(t, c.SetCapacity(map[string]int{Mic3: 0}))
	assert.Equal(t, 1, store.saved[Mic3])

	firstSave := store.saved[Mic3]
	require.NoError(t, c.SetCapacity(map[string]int{Mic3: 1}))
	assert.Equal(t, firstSave, store.saved[Mic3])
}

func TestSinkIndex(t *testing.T) {
	idx, err := SinkIndex(Lobby)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = SinkIndex(Mic4)
	require.NoError(t, err)
	assert.Equal(t, 4, idx)

	_, err = SinkIndex("nope")
	require.Error(t, err)
}

func TestBroadcastFiresExactlyOncePerMutation(t *testing.T) {
	var calls int
	c := New(&memStore{}, func(Snapshot) { calls++ })

	_, err := c.Join(context.Background(), Mic1, "Ada")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.Leave(context.Background(), "Ada")
	assert.Equal(t, 2, calls)
}

func TestDuplicateNameCannotOccupyTwoRooms(t *testing.T) {
	c := New(&memStore{}, nil)
	ctx := context.Background()

	_, err := c.Join(ctx, Mic1, "Ada")
	require.NoError(t, err)
	_, err = c.Join(ctx, Mic2, "Ada")
	require.NoError(t, err)

	total := 0
	for _, name := range Names {
		total += len(c.MembersOf(name))
	}
	assert.Equal(t, 1, total)
}
