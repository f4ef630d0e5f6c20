package storage_test

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"logstore/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPeriodicFlusherAdvancesStableOffset(t *testing.T) {
	l := newLog()
	f := storage.NewPeriodicFlusher(log.NewNopLogger(), prometheus.NewRegistry(), l, 5*time.Millisecond)
	f.Run()
	defer f.Stop()

	_, err := l.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return l.StableOffset() == l.Tip()
	}, time.Second, 5*time.Millisecond)
}

func TestPeriodicFlusherRetriesAfterFailure(t *testing.T) {
	l := newLog()
	l.SetFailStable(errors.New("disk full"))

	f := storage.NewPeriodicFlusher(log.NewNopLogger(), nil, l, 5*time.Millisecond)
	f.Run()
	defer f.Stop()

	_, err := l.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return l.StableCalls() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, storage.LogID(0), l.StableOffset())

	l.SetFailStable(nil)

	require.Eventually(t, func() bool {
		return l.StableOffset() == l.Tip()
	}, time.Second, 5*time.Millisecond)
}

func TestPeriodicFlusherSkipsWhenStable(t *testing.T) {
	l := newLog()
	f := storage.NewPeriodicFlusher(log.NewNopLogger(), nil, l, 2*time.Millisecond)
	f.Run()

	time.Sleep(20 * time.Millisecond)
	f.Stop()

	assert.Equal(t, 0, l.StableCalls())
}

func TestPeriodicFlusherStopFlushes(t *testing.T) {
	l := newLog()
	f := storage.NewPeriodicFlusher(log.NewNopLogger(), nil, l, time.Hour)
	f.Run()

	_, err := l.Write([]byte("written just before shutdown"))
	require.NoError(t, err)
	assert.Equal(t, storage.LogID(0), l.StableOffset())

	f.Stop()
	assert.Equal(t, l.Tip(), l.StableOffset())

	// Stopping twice is harmless.
	f.Stop()
}

func TestPeriodicFlusherStopWithoutRun(t *testing.T) {
	l := newLog()
	f := storage.NewPeriodicFlusher(log.NewNopLogger(), nil, l, time.Hour)

	_, err := l.Write([]byte("never ticked"))
	require.NoError(t, err)

	f.Stop()
	assert.Equal(t, l.Tip(), l.StableOffset())
	assert.Equal(t, 1, l.StableCalls())
}
