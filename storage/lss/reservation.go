package lss

import (
	"fmt"
	"runtime"

	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"logstore/storage"
)

// Reservation is an exclusive claim on a range of an open staging buffer.
// The payload is already copied into the buffer; Complete publishes it and
// Abort turns the range into a zeroed record of the same length.
type Reservation struct {
	m        *iobufs
	buf      *iobuf
	lid      storage.LogID
	slot     []byte
	length   int
	resolved atomic.Bool
}

var _ storage.Reservation = (*Reservation)(nil)

func newReservation(m *iobufs, b *iobuf, lid storage.LogID, slot []byte, length int) *Reservation {
	r := &Reservation{
		m:      m,
		buf:    b,
		lid:    lid,
		slot:   slot,
		length: length,
	}

	// A reservation that is dropped unresolved would keep its buffer from
	// ever being written.
	runtime.SetFinalizer(r, func(r *Reservation) {
		if r.resolved.Load() {
			return
		}

		level.Error(r.m.logger).Log("msg", "reservation dropped without being resolved, aborting it", "offset", r.lid)
		r.Abort()
	})

	return r
}

func (r *Reservation) LogID() storage.LogID {
	return r.lid
}

// Complete marks the record as flushed and returns its LogID. The record is
// durable once the stable offset passes it.
func (r *Reservation) Complete() storage.LogID {
	r.resolve("complete")

	storage.Header{Flag: storage.FlagFlushed, Length: uint32(r.length)}.Encode(r.slot)
	r.m.release(r.buf)

	return r.lid
}

// Abort zeroes the reserved range. The space stays consumed in the log.
func (r *Reservation) Abort() {
	r.resolve("abort")

	clear(r.slot[storage.HeaderLen:])
	storage.Header{Flag: storage.FlagZeroed, Length: uint32(r.length)}.Encode(r.slot)
	r.m.metrics.aborts.Inc()
	r.m.release(r.buf)
}

func (r *Reservation) resolve(op string) {
	if !r.resolved.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("lss: %s of reservation at %d that is already resolved", op, r.lid))
	}

	runtime.SetFinalizer(r, nil)
}
