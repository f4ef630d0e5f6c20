package storage

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Record layout:
// [ 1 byte flag ] [ 4 byte little-endian payload length ] [ payload ]
const HeaderLen = 5

const (
	FlagZeroed  byte = 0
	FlagFlushed byte = 1
	// FlagCorrupt is never written, it only names flags that are neither
	// flushed nor zeroed.
	FlagCorrupt byte = 2
)

var byteOrder = binary.LittleEndian

// ErrRecordTooLarge is returned for payloads above the configured max record
// size.
var ErrRecordTooLarge = errors.New("record exceeds max record size")

type Header struct {
	Flag   byte
	Length uint32
}

// Encode writes the header into the first HeaderLen bytes of dst.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderLen-1]

	dst[0] = h.Flag
	byteOrder.PutUint32(dst[1:HeaderLen], h.Length)
}

func DecodeHeader(src []byte) Header {
	_ = src[HeaderLen-1]

	return Header{
		Flag:   src[0],
		Length: byteOrder.Uint32(src[1:HeaderLen]),
	}
}

// EncodeRecord writes a record with the given flag for payload into dst,
// which must hold HeaderLen+len(payload) bytes, and returns the number of
// bytes written.
func EncodeRecord(dst []byte, flag byte, payload []byte) int {
	Header{Flag: flag, Length: uint32(len(payload))}.Encode(dst)
	copy(dst[HeaderLen:], payload)

	return HeaderLen + len(payload)
}

// classify decides the outcome for a decoded header. avail is the number of
// payload bytes readable after the header.
func classify(h Header, avail int, maxRecordSize int) (kind ReadKind, skip int) {
	length := int(h.Length)

	if uint64(h.Length) > uint64(maxRecordSize) {
		// The length itself is unusable, skip the header only.
		return ReadCorrupted, HeaderLen
	}

	switch h.Flag {
	case FlagFlushed:
		if length > avail {
			return ReadCorrupted, HeaderLen + length
		}
		return ReadFlushed, length
	case FlagZeroed:
		return ReadZeroed, HeaderLen + length
	default:
		return ReadCorrupted, HeaderLen + length
	}
}

// DecodeRecord interprets the bytes of buf as a record.
func DecodeRecord(buf []byte, maxRecordSize int) LogRead {
	if len(buf) < HeaderLen {
		return Corrupted(HeaderLen)
	}

	h := DecodeHeader(buf)
	kind, n := classify(h, len(buf)-HeaderLen, maxRecordSize)

	if kind != ReadFlushed {
		return LogRead{Kind: kind, Len: n}
	}

	payload := make([]byte, n)
	copy(payload, buf[HeaderLen:HeaderLen+n])

	return Flushed(payload)
}

// ReadRecord decodes the record at id from r. Short reads are reported as
// corrupted records, only device errors are returned.
func ReadRecord(r io.ReaderAt, id LogID, maxRecordSize int) (LogRead, error) {
	var hdr [HeaderLen]byte

	if _, err := r.ReadAt(hdr[:], int64(id)); err != nil {
		if isShortRead(err) {
			return Corrupted(HeaderLen), nil
		}
		return LogRead{}, errors.Wrapf(err, "read header at %d", id)
	}

	h := DecodeHeader(hdr[:])

	if h.Flag != FlagFlushed || uint64(h.Length) > uint64(maxRecordSize) {
		kind, n := classify(h, 0, maxRecordSize)
		return LogRead{Kind: kind, Len: n}, nil
	}

	payload := make([]byte, h.Length)

	n, err := r.ReadAt(payload, int64(id)+HeaderLen)

	if err != nil && !isShortRead(err) {
		return LogRead{}, errors.Wrapf(err, "read payload at %d", id)
	}

	kind, skip := classify(h, n, maxRecordSize)

	if kind != ReadFlushed {
		return LogRead{Kind: kind, Len: skip}, nil
	}

	return Flushed(payload), nil
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
