package storage

import "logstore/config"

// LogID is a byte offset into the log. It also identifies the record
// starting at that offset.
type LogID = uint64

// Log is an append-only, crash-recoverable byte log.
type Log interface {
	// Reserve claims space for payload. The returned reservation must be
	// completed or aborted.
	Reserve(payload []byte) (Reservation, error)

	// Write reserves and immediately completes payload.
	Write(payload []byte) (LogID, error)

	// Read decodes the record at id straight from durable storage.
	Read(id LogID) (LogRead, error)

	// StableOffset returns the offset below which everything is durable.
	StableOffset() LogID

	// Tip returns the offset the next reservation will start at.
	Tip() LogID

	// MakeStable blocks until every byte below id is durable.
	MakeStable(id LogID) error

	// PunchHole reclaims the space of the dead record at id.
	PunchHole(id LogID) error

	Config() config.Config

	// IterFrom returns an iterator over the records starting at id.
	IterFrom(id LogID) *Iterator
}

// Reservation is a claimed but unresolved slot of the log. Exactly one of
// Complete or Abort must be called.
type Reservation interface {
	LogID() LogID
	Complete() LogID
	Abort()
}

type ReadKind uint8

const (
	ReadFlushed ReadKind = iota
	ReadZeroed
	ReadCorrupted
)

func (k ReadKind) String() string {
	switch k {
	case ReadFlushed:
		return "flushed"
	case ReadZeroed:
		return "zeroed"
	case ReadCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

// LogRead is the outcome of reading at an offset. For flushed records Len is
// the payload length; for zeroed and corrupted ones it is the number of bytes
// to skip, header included.
type LogRead struct {
	Kind    ReadKind
	Payload []byte
	Len     int
}

func Flushed(payload []byte) LogRead {
	return LogRead{Kind: ReadFlushed, Payload: payload, Len: len(payload)}
}

func Zeroed(skip int) LogRead {
	return LogRead{Kind: ReadZeroed, Len: skip}
}

func Corrupted(skip int) LogRead {
	return LogRead{Kind: ReadCorrupted, Len: skip}
}

func (r LogRead) IsFlushed() bool { return r.Kind == ReadFlushed }

func (r LogRead) IsZeroed() bool { return r.Kind == ReadZeroed }

func (r LogRead) IsCorrupt() bool { return r.Kind == ReadCorrupted }

// Next returns the offset following the record read at id.
func (r LogRead) Next(id LogID) LogID {
	if r.Kind == ReadFlushed {
		return id + HeaderLen + uint64(r.Len)
	}

	return id + uint64(r.Len)
}
