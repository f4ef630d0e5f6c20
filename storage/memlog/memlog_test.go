package memlog

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logstore/config"
	"logstore/storage"
)

func newTestLog() *Log {
	cfg := config.Default()
	cfg.MaxRecordSize = 16

	return New(cfg)
}

func TestUnresolvedReservationReadsZeroed(t *testing.T) {
	l := newTestLog()

	r, err := l.Reserve([]byte("pending"))
	require.NoError(t, err)

	rec, err := l.Read(r.LogID())
	require.NoError(t, err)
	assert.Equal(t, storage.Zeroed(storage.HeaderLen+7), rec)

	r.Complete()

	rec, err = l.Read(r.LogID())
	require.NoError(t, err)
	assert.Equal(t, storage.Flushed([]byte("pending")), rec)

	assert.Panics(t, func() { r.Abort() })
}

func TestMakeStableClampsAndFails(t *testing.T) {
	l := newTestLog()

	_, err := l.Write([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, l.MakeStable(1000))
	assert.Equal(t, l.Tip(), l.StableOffset())

	failure := errors.New("injected")
	l.SetFailStable(failure)

	_, err = l.Write([]byte("def"))
	require.NoError(t, err)

	assert.Equal(t, failure, l.MakeStable(l.Tip()))
	assert.Equal(t, 2, l.StableCalls())
	assert.Less(t, l.StableOffset(), l.Tip())
}

func TestPunchHoleAndTooLarge(t *testing.T) {
	l := newTestLog()

	_, err := l.Write(make([]byte, 17))
	assert.ErrorIs(t, err, storage.ErrRecordTooLarge)

	id, err := l.Write([]byte("dead"))
	require.NoError(t, err)
	require.NoError(t, l.PunchHole(id))

	rec, err := l.Read(id)
	require.NoError(t, err)
	assert.Equal(t, storage.Zeroed(storage.HeaderLen+4), rec)

	assert.Error(t, l.PunchHole(l.Tip()))
}
