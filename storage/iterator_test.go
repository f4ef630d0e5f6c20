package storage_test

import (
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstore/config"
	"logstore/storage"
	"logstore/storage/memlog"
)

type entry struct {
	id      storage.LogID
	payload string
}

func newLog() *memlog.Log {
	cfg := config.Default()
	cfg.MaxRecordSize = 4096

	return memlog.New(cfg)
}

func collect(it *storage.Iterator) []entry {
	var out []entry

	for id, payload := range it.All() {
		out = append(out, entry{id, string(payload)})
	}

	return out
}

func TestIteratorScenario(t *testing.T) {
	l := newLog()

	id, err := l.Write([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, storage.LogID(0), id)

	id, err = l.Write([]byte("bb"))
	require.NoError(t, err)
	assert.Equal(t, storage.LogID(6), id)

	require.NoError(t, l.MakeStable(l.Tip()))

	it := l.IterFrom(0)
	assert.Equal(t, []entry{{0, "a"}, {6, "bb"}}, collect(it))
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Corruption())
}

func TestIteratorOrder(t *testing.T) {
	l := newLog()

	var want []entry

	for i := 0; i < 50; i++ {
		payload := faker.Sentence()
		id, err := l.Write([]byte(payload))
		require.NoError(t, err)
		want = append(want, entry{id, payload})
	}

	require.NoError(t, l.MakeStable(l.Tip()))

	got := collect(l.IterFrom(0))
	require.Equal(t, want, got)

	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].id, got[i].id)
	}
}

func TestIteratorSkipsZeroed(t *testing.T) {
	l := newLog()

	first, err := l.Write([]byte("first"))
	require.NoError(t, err)

	r, err := l.Reserve([]byte("aborted payload"))
	require.NoError(t, err)
	r.Abort()

	second, err := l.Write([]byte("second"))
	require.NoError(t, err)

	empty, err := l.Reserve(nil)
	require.NoError(t, err)
	empty.Abort()

	third, err := l.Write([]byte("third"))
	require.NoError(t, err)

	require.NoError(t, l.MakeStable(l.Tip()))

	assert.Equal(t, []entry{{first, "first"}, {second, "second"}, {third, "third"}}, collect(l.IterFrom(0)))
}

func TestIteratorSkipsPunchedHoles(t *testing.T) {
	l := newLog()

	first, err := l.Write([]byte("first"))
	require.NoError(t, err)
	dead, err := l.Write([]byte("dead"))
	require.NoError(t, err)
	last, err := l.Write([]byte("last"))
	require.NoError(t, err)

	require.NoError(t, l.MakeStable(l.Tip()))
	require.NoError(t, l.PunchHole(dead))

	assert.Equal(t, []entry{{first, "first"}, {last, "last"}}, collect(l.IterFrom(0)))
}

func TestIteratorFromMiddle(t *testing.T) {
	l := newLog()

	_, err := l.Write([]byte("a"))
	require.NoError(t, err)
	id, err := l.Write([]byte("bb"))
	require.NoError(t, err)

	require.NoError(t, l.MakeStable(l.Tip()))

	assert.Equal(t, []entry{{id, "bb"}}, collect(l.IterFrom(id)))
}

func TestIteratorStopsAtStableOffset(t *testing.T) {
	l := newLog()

	id, err := l.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, l.MakeStable(l.Tip()))

	_, err = l.Write([]byte("not yet durable"))
	require.NoError(t, err)

	it := l.IterFrom(0)
	assert.Equal(t, []entry{{id, "durable"}}, collect(it))
	assert.NoError(t, it.Corruption())
}

func TestIteratorTornTail(t *testing.T) {
	l := newLog()

	first, err := l.Write([]byte("complete"))
	require.NoError(t, err)
	torn, err := l.Write([]byte("torn by a crash"))
	require.NoError(t, err)
	require.NoError(t, l.MakeStable(l.Tip()))

	l.Truncate(int(torn) + storage.HeaderLen + 3)

	it := l.IterFrom(0)
	assert.Equal(t, []entry{{first, "complete"}}, collect(it))
	assert.NoError(t, it.Err())
	require.Error(t, it.Corruption())
	assert.Equal(t, torn, it.Offset())

	assert.False(t, it.Next(), "iterator must stay exhausted")
}

func TestIteratorEmptyLog(t *testing.T) {
	it := newLog().IterFrom(0)

	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	assert.NoError(t, it.Corruption())
}

type failingLog struct {
	*memlog.Log
	err error
}

func (l failingLog) Read(storage.LogID) (storage.LogRead, error) {
	return storage.LogRead{}, l.err
}

func TestIteratorReadError(t *testing.T) {
	l := newLog()
	_, err := l.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, l.MakeStable(l.Tip()))

	readErr := errors.New("device gone")
	it := storage.NewIterator(failingLog{Log: l, err: readErr}, 0)

	assert.False(t, it.Next())
	assert.Equal(t, readErr, it.Err())
}
