package lss

import (
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"logstore/storage"
)

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)

	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}

	return f, nil
}

// recoverTip scans the log from the start and returns the end of its valid
// prefix. Anything after the first corrupted record is a torn tail from an
// unclean shutdown and is cut off.
func recoverTip(logger log.Logger, f *os.File, maxRecordSize int) (storage.LogID, error) {
	stat, err := f.Stat()

	if err != nil {
		return 0, errors.Wrap(err, "stat log file")
	}

	size := uint64(stat.Size())

	var (
		off     storage.LogID
		records int
	)

	for off < size {
		rec, err := storage.ReadRecord(f, off, maxRecordSize)

		if err != nil {
			return 0, err
		}

		next := rec.Next(off)

		if rec.IsCorrupt() || next > size {
			break
		}

		if rec.IsFlushed() {
			records++
		}

		off = next
	}

	if off < size {
		level.Warn(logger).Log("msg", "truncating torn log tail", "offset", off, "size", size)

		if err := f.Truncate(int64(off)); err != nil {
			return 0, errors.Wrap(err, "truncate torn tail")
		}

		if err := f.Sync(); err != nil {
			return 0, errors.Wrap(err, "sync truncated log")
		}
	}

	level.Info(logger).Log("msg", "log recovered", "records", records, "tip", off)

	return off, nil
}
