// Package memlog is an in-memory storage.Log for tests of code built on top
// of the log. Everything written is kept in one byte slice; MakeStable only
// moves the stable offset.
package memlog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"logstore/config"
	"logstore/storage"
)

type Log struct {
	cfg config.Config

	mu     sync.Mutex
	data   []byte
	stable storage.LogID

	failStable  error
	stableCalls int
}

var _ storage.Log = (*Log)(nil)

func New(cfg config.Config) *Log {
	return &Log{cfg: cfg}
}

type reservation struct {
	l        *Log
	lid      storage.LogID
	length   int
	resolved bool
}

func (r *reservation) LogID() storage.LogID { return r.lid }

func (r *reservation) Complete() storage.LogID {
	r.resolve(storage.FlagFlushed)
	return r.lid
}

func (r *reservation) Abort() {
	r.resolve(storage.FlagZeroed)
}

func (r *reservation) resolve(flag byte) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()

	if r.resolved {
		panic(fmt.Sprintf("memlog: reservation at %d resolved twice", r.lid))
	}

	r.resolved = true

	slot := r.l.data[r.lid : r.lid+storage.HeaderLen+uint64(r.length)]

	if flag == storage.FlagZeroed {
		clear(slot[storage.HeaderLen:])
	}

	storage.Header{Flag: flag, Length: uint32(r.length)}.Encode(slot)
}

func (l *Log) Reserve(payload []byte) (storage.Reservation, error) {
	if len(payload) > int(l.cfg.MaxRecordSize) {
		return nil, errors.Wrapf(storage.ErrRecordTooLarge, "%d bytes", len(payload))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lid := storage.LogID(len(l.data))
	rec := make([]byte, storage.HeaderLen+len(payload))
	storage.EncodeRecord(rec, storage.FlagZeroed, payload)
	l.data = append(l.data, rec...)

	return &reservation{l: l, lid: lid, length: len(payload)}, nil
}

func (l *Log) Write(payload []byte) (storage.LogID, error) {
	r, err := l.Reserve(payload)

	if err != nil {
		return 0, err
	}

	return r.Complete(), nil
}

func (l *Log) Read(id storage.LogID) (storage.LogRead, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return storage.ReadRecord(bytes.NewReader(l.data), id, int(l.cfg.MaxRecordSize))
}

func (l *Log) StableOffset() storage.LogID {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stable
}

func (l *Log) Tip() storage.LogID {
	l.mu.Lock()
	defer l.mu.Unlock()

	return storage.LogID(len(l.data))
}

func (l *Log) MakeStable(id storage.LogID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stableCalls++

	if l.failStable != nil {
		return l.failStable
	}

	id = min(id, storage.LogID(len(l.data)))

	if id > l.stable {
		l.stable = id
	}

	return nil
}

// StableCalls returns how many times MakeStable was called.
func (l *Log) StableCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stableCalls
}

// SetFailStable makes MakeStable fail with err until called with nil.
func (l *Log) SetFailStable(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failStable = err
}

func (l *Log) PunchHole(id storage.LogID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id+storage.HeaderLen > uint64(len(l.data)) {
		return errors.Errorf("no record at %d", id)
	}

	h := storage.DecodeHeader(l.data[id:])
	end := id + storage.HeaderLen + uint64(h.Length)

	if end > uint64(len(l.data)) {
		return errors.Errorf("record at %d runs past the tip", id)
	}

	clear(l.data[id:end])
	storage.Header{Flag: storage.FlagZeroed, Length: h.Length}.Encode(l.data[id:])

	return nil
}

func (l *Log) Config() config.Config {
	return l.cfg
}

func (l *Log) IterFrom(id storage.LogID) *storage.Iterator {
	return storage.NewIterator(l, id)
}

// Truncate cuts the log at n bytes, as a crash would.
func (l *Log) Truncate(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data = l.data[:n]
	l.stable = min(l.stable, storage.LogID(n))
}
