package storage

import (
	"iter"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

var ErrCorruptRecord = errors.New("corrupt record")

// Iterator walks the durable records of a log in offset order. It is forward
// only; create a new one to restart from any offset.
type Iterator struct {
	log  Log
	next LogID

	cur     LogID
	rec     []byte
	err     error
	corrupt *wlog.CorruptionErr
	done    bool
}

func NewIterator(log Log, from LogID) *Iterator {
	return &Iterator{log: log, next: from}
}

// Next advances to the next flushed record, skipping zeroed ones. It returns
// false at the stable offset, on the first corrupted record and on I/O errors.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}

	for {
		if it.next >= it.log.StableOffset() {
			return it.stop()
		}

		rec, err := it.log.Read(it.next)

		if err != nil {
			it.err = err
			return it.stop()
		}

		switch rec.Kind {
		case ReadFlushed:
			it.cur, it.rec = it.next, rec.Payload
			it.next = rec.Next(it.next)
			return true
		case ReadZeroed:
			it.next = rec.Next(it.next)
		default:
			// Most likely a write torn by an unclean shutdown: the records
			// before it are the last good ones.
			it.corrupt = &wlog.CorruptionErr{
				Err:     ErrCorruptRecord,
				Segment: -1,
				Offset:  int64(it.next),
			}
			return it.stop()
		}
	}
}

func (it *Iterator) stop() bool {
	it.done = true
	it.rec = nil

	return false
}

// At returns the current record.
func (it *Iterator) At() (LogID, []byte) {
	return it.cur, it.rec
}

// Offset returns where the iterator will read next. After the iteration ended
// on a corrupted record it is the offset of that record.
func (it *Iterator) Offset() LogID {
	return it.next
}

// Err returns the I/O error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Corruption reports the corrupted record that ended the iteration, or nil.
func (it *Iterator) Corruption() error {
	if it.corrupt == nil {
		return nil
	}

	return it.corrupt
}

func (it *Iterator) All() iter.Seq2[LogID, []byte] {
	return func(yield func(LogID, []byte) bool) {
		for it.Next() {
			if !yield(it.At()) {
				return
			}
		}
	}
}
