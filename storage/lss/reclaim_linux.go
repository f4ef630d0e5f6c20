//go:build linux

package lss

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HolePuncher deallocates the range with fallocate, falling back when the
// filesystem does not support punching holes.
type HolePuncher struct {
	fallback Reclaimer
}

func (p HolePuncher) Reclaim(f *os.File, off, length int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)

	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return p.fallback.Reclaim(f, off, length)
	}

	return errors.Wrapf(err, "punch hole at %d", off)
}

func platformReclaimer() Reclaimer {
	return HolePuncher{fallback: ZeroFiller{}}
}
