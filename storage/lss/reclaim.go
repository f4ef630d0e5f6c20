package lss

import (
	"os"

	"github.com/pkg/errors"
)

// Reclaimer releases the disk space of a byte range of the log file while
// keeping the file size, so later offsets stay valid.
type Reclaimer interface {
	Reclaim(f *os.File, off, length int64) error
}

// NewReclaimer returns the sparse deallocating reclaimer of the platform when
// punchHoles is set and a zero-filling one otherwise.
func NewReclaimer(punchHoles bool) Reclaimer {
	if punchHoles {
		return platformReclaimer()
	}

	return ZeroFiller{}
}

var zeros = make([]byte, 32*1024)

// ZeroFiller overwrites the range with zeros.
type ZeroFiller struct{}

func (ZeroFiller) Reclaim(f *os.File, off, length int64) error {
	for length > 0 {
		n := min(length, int64(len(zeros)))

		if _, err := f.WriteAt(zeros[:n], off); err != nil {
			return errors.Wrapf(err, "zero fill at %d", off)
		}

		off += n
		length -= n
	}

	return nil
}
