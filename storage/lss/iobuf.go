package lss

import (
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"logstore/storage"
)

// Buffer header word:
// [ 1 bit sealed ] [ 31 bits writers ] [ 32 bits write cursor ]
const (
	sealedBit   = uint64(1) << 63
	writerShift = 32
	writerOne   = uint64(1) << writerShift
	writerMask  = (uint64(1)<<31 - 1) << writerShift
	cursorMask  = uint64(1)<<32 - 1
)

func isSealed(h uint64) bool { return h&sealedBit != 0 }

func writers(h uint64) uint64 { return (h & writerMask) >> writerShift }

func cursor(h uint64) int { return int(h & cursorMask) }

type bufState uint8

const (
	bufFree bufState = iota
	bufOpen
	bufSealed
	bufReady
	bufWriting
	bufFailed
	bufWritten
)

type iobuf struct {
	buf    []byte
	lid    atomic.Uint64
	header atomic.Uint64

	// Guarded by iobufs.mu.
	seq   uint64
	state bufState
	end   storage.LogID
	err   error
}

type writeSyncer interface {
	io.WriterAt
	Sync() error
}

// iobufs stages reservations in a ring of buffers. Reserving is lock free;
// rolling to the next buffer and publishing the stable offset go through mu.
// Buffers reach the file one at a time in sequence order, so the file is
// always a valid prefix of the log.
type iobufs struct {
	logger   log.Logger
	metrics  *Metrics
	file     writeSyncer
	capacity int

	bufs    []*iobuf
	current atomic.Uint64 // sequence number of the open buffer
	stable  atomic.Uint64

	mu        sync.Mutex
	cond      *sync.Cond
	published uint64 // sequence number of the next buffer to publish
	writing   bool   // a buffer write is in flight
	closed    bool

	workQueue chan func()
	stopc     chan chan struct{}
}

func newIOBufs(logger log.Logger, metrics *Metrics, file writeSyncer, capacity, ringSize int, start storage.LogID) *iobufs {
	m := &iobufs{
		logger:    logger,
		metrics:   metrics,
		file:      file,
		capacity:  capacity,
		bufs:      make([]*iobuf, ringSize),
		workQueue: make(chan func(), 1),
		stopc:     make(chan chan struct{}),
	}

	m.cond = sync.NewCond(&m.mu)

	for i := range m.bufs {
		m.bufs[i] = &iobuf{buf: make([]byte, capacity)}
	}

	first := m.bufs[0]
	first.state = bufOpen
	first.lid.Store(start)

	m.stable.Store(start)
	m.metrics.stableOffset.Set(float64(start))

	go m.run()

	return m
}

func (m *iobufs) slot(seq uint64) *iobuf {
	return m.bufs[seq%uint64(len(m.bufs))]
}

func (m *iobufs) reserve(payload []byte) (*Reservation, error) {
	size := storage.HeaderLen + len(payload)

	for {
		seq := m.current.Load()
		b := m.slot(seq)
		hv := b.header.Load()

		if isSealed(hv) {
			if err := m.waitRoll(seq); err != nil {
				return nil, err
			}
			continue
		}

		off := cursor(hv)

		if off+size > m.capacity {
			m.seal(seq, b, hv)
			continue
		}

		if !b.header.CompareAndSwap(hv, hv+writerOne+uint64(size)) {
			continue
		}

		// The writer count now pins the buffer, lid cannot change under us.
		lid := b.lid.Load() + uint64(off)
		slot := b.buf[off : off+size]

		// Pending records read as zeroed until completed.
		storage.EncodeRecord(slot, storage.FlagZeroed, payload)

		m.metrics.reservations.Inc()

		return newReservation(m, b, lid, slot, len(payload)), nil
	}
}

// release drops one writer from b and marks the buffer ready for writing when
// it was the last writer of a sealed buffer.
func (m *iobufs) release(b *iobuf) {
	hv := b.header.Sub(writerOne)

	if isSealed(hv) && writers(hv) == 0 {
		m.enqueue(b)
	}
}

// seal stops admissions to b and rolls the ring to the next buffer, which
// starts where b ends. Only the goroutine whose CAS sets the sealed bit rolls.
func (m *iobufs) seal(seq uint64, b *iobuf, hv uint64) bool {
	if isSealed(hv) || cursor(hv) == 0 {
		return false
	}

	if !b.header.CompareAndSwap(hv, hv|sealedBit) {
		return false
	}

	end := b.lid.Load() + uint64(cursor(hv))

	m.mu.Lock()

	if b.state == bufOpen {
		b.state = bufSealed
	}

	next := m.slot(seq + 1)

	if next.state != bufFree {
		m.metrics.reserveStalls.Inc()
	}

	for next.state != bufFree && !m.closed {
		m.cond.Wait()
	}

	if !m.closed {
		next.seq = seq + 1
		next.state = bufOpen
		next.err = nil
		next.lid.Store(end)
		next.header.Store(0)
		m.current.Store(seq + 1)
	}

	m.cond.Broadcast()
	m.mu.Unlock()

	if writers(hv) == 0 {
		m.enqueue(b)
	}

	return true
}

func (m *iobufs) waitRoll(seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.current.Load() == seq && !m.closed {
		m.cond.Wait()
	}

	if m.closed {
		return ErrClosed
	}

	return nil
}

func (m *iobufs) enqueue(b *iobuf) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.state = bufReady
	m.dispatch()
}

// dispatch hands the next buffer in sequence to the worker once it is ready
// and no other write is in flight. A ready buffer behind an unwritten or
// failed one waits. Must hold mu.
func (m *iobufs) dispatch() {
	if m.writing || m.closed {
		return
	}

	b := m.slot(m.published)

	if b.seq != m.published || b.state != bufReady {
		return
	}

	b.state = bufWriting
	m.writing = true

	m.workQueue <- func() { m.write(b) }
}

func (m *iobufs) write(b *iobuf) {
	var (
		lid = b.lid.Load()
		n   = cursor(b.header.Load())
	)

	m.metrics.bufferFlushes.Inc()

	_, err := m.file.WriteAt(b.buf[:n], int64(lid))

	if err == nil {
		err = m.fsync()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writing = false

	if err != nil {
		m.metrics.writesFailed.Inc()
		level.Error(m.logger).Log("msg", "error writing buffer", "err", err, "offset", lid, "size", n)

		b.state = bufFailed
		b.err = errors.Wrapf(err, "write buffer at %d", lid)
		m.cond.Broadcast()
		return
	}

	b.state = bufWritten
	b.end = lid + uint64(n)

	m.publish()
	m.dispatch()
	m.cond.Broadcast()
}

// publish advances the stable offset over written buffers in sequence order.
// Must hold mu.
func (m *iobufs) publish() {
	for {
		b := m.slot(m.published)

		if b.seq != m.published || b.state != bufWritten {
			return
		}

		m.stable.Store(b.end)
		m.metrics.stableOffset.Set(float64(b.end))

		b.state = bufFree
		m.published++
	}
}

func (m *iobufs) fsync() error {
	now := time.Now()
	err := m.file.Sync()

	m.metrics.fsyncDuration.Observe(time.Since(now).Seconds())

	return err
}

// tip returns the offset of the next reservation. Reading lid before the
// header keeps a racing roll from overshooting the real tip.
func (m *iobufs) tip() storage.LogID {
	b := m.slot(m.current.Load())
	lid := b.lid.Load()
	hv := b.header.Load()

	return lid + uint64(cursor(hv))
}

func (m *iobufs) makeStable(id storage.LogID) error {
	if id <= m.stable.Load() {
		return nil
	}

	if tip := m.tip(); id > tip {
		id = tip
	}

	for {
		seq := m.current.Load()
		b := m.slot(seq)
		lid := b.lid.Load()
		hv := b.header.Load()

		if m.current.Load() != seq {
			continue
		}

		if isSealed(hv) || lid >= id || cursor(hv) == 0 {
			break
		}

		if m.seal(seq, b, hv) {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryFailed()

	for m.stable.Load() < id {
		if err := m.failedBelow(id); err != nil {
			return err
		}

		if m.closed {
			return ErrClosed
		}

		m.cond.Wait()
	}

	return nil
}

// retryFailed makes the failed buffer ready for another write. Writes are
// sequential, so at most one buffer has failed. Must hold mu.
func (m *iobufs) retryFailed() {
	for _, b := range m.bufs {
		if b.state != bufFailed {
			continue
		}

		b.state = bufReady
		b.err = nil
	}

	m.dispatch()
}

// failedBelow returns the error of a failed buffer holding bytes below id.
// Must hold mu.
func (m *iobufs) failedBelow(id storage.LogID) error {
	for _, b := range m.bufs {
		if b.state == bufFailed && b.lid.Load() < id {
			return b.err
		}
	}

	return nil
}

func (m *iobufs) run() {
	for {
		select {
		case f := <-m.workQueue:
			f()
		case donec := <-m.stopc:
			for {
				select {
				case f := <-m.workQueue:
					f()
				default:
					close(donec)
					return
				}
			}
		}
	}
}

func (m *iobufs) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	donec := make(chan struct{})
	m.stopc <- donec
	<-donec
}
