package lss

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"logstore/config"
	"logstore/storage"
)

var (
	ErrClosed        = errors.New("log closed")
	ErrAlreadyClosed = errors.New("log already closed")
	ErrNotStable     = errors.New("record is not stable")
	ErrInvalidRecord = errors.New("no record at offset")
)

// Store is a log-structured store over a single append-only file. Writes are
// staged in a ring of buffers and become durable once the stable offset
// passes them.
type Store struct {
	cfg       config.Config
	logger    log.Logger
	metrics   *Metrics
	file      *os.File
	bufs      *iobufs
	reclaimer Reclaimer
	flusher   *storage.PeriodicFlusher

	closeMu sync.Mutex
	closed  atomic.Bool
}

var _ storage.Log = (*Store)(nil)

// Open opens or creates the log file at cfg.Path, recovers its valid prefix
// and starts the background flusher when cfg.FlushInterval is set.
func Open(logger log.Logger, registerer prometheus.Registerer, cfg config.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.MaxRecordSize+storage.HeaderLen > cfg.BufferCapacity {
		return nil, errors.Wrapf(config.ErrInvalidConfig, "record of %s plus header does not fit buffer of %s", cfg.MaxRecordSize, cfg.BufferCapacity)
	}

	f, err := openLogFile(cfg.Path)

	if err != nil {
		return nil, err
	}

	tip, err := recoverTip(logger, f, int(cfg.MaxRecordSize))

	if err != nil {
		f.Close()
		return nil, err
	}

	if registerer != nil {
		registerer = prometheus.WrapRegistererWithPrefix("storage_lss_", registerer)
	}

	s := &Store{
		cfg:       cfg,
		logger:    logger,
		metrics:   NewMetrics(registerer),
		file:      f,
		reclaimer: NewReclaimer(cfg.PunchHoles),
	}

	s.bufs = newIOBufs(logger, s.metrics, f, int(cfg.BufferCapacity), cfg.RingSize, tip)

	if cfg.FlushInterval > 0 {
		s.flusher = storage.NewPeriodicFlusher(logger, registerer, s, cfg.FlushInterval)
		s.flusher.Run()
	}

	return s, nil
}

func (s *Store) Reserve(payload []byte) (storage.Reservation, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if len(payload) > int(s.cfg.MaxRecordSize) {
		return nil, errors.Wrapf(storage.ErrRecordTooLarge, "%d bytes", len(payload))
	}

	r, err := s.bufs.reserve(payload)

	if err != nil {
		return nil, err
	}

	return r, nil
}

func (s *Store) Write(payload []byte) (storage.LogID, error) {
	r, err := s.Reserve(payload)

	if err != nil {
		return 0, err
	}

	return r.Complete(), nil
}

// Read decodes the record at id from the file. Callers only read offsets
// below the stable offset; anything else reads as corrupted or zeroed.
func (s *Store) Read(id storage.LogID) (storage.LogRead, error) {
	if s.closed.Load() {
		return storage.LogRead{}, ErrClosed
	}

	return storage.ReadRecord(s.file, id, int(s.cfg.MaxRecordSize))
}

func (s *Store) StableOffset() storage.LogID {
	return s.bufs.stable.Load()
}

func (s *Store) Tip() storage.LogID {
	return s.bufs.tip()
}

func (s *Store) MakeStable(id storage.LogID) error {
	if err := s.bufs.makeStable(id); err != nil {
		return errors.Wrapf(err, "make stable up to %d", id)
	}

	return nil
}

// PunchHole reclaims the payload space of the stable record at id. The header
// is rewritten as zeroed with the original length so readers skip the whole
// hole in one step.
func (s *Store) PunchHole(id storage.LogID) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if id >= s.StableOffset() {
		return errors.Wrapf(ErrNotStable, "punch hole at %d", id)
	}

	var hdr [storage.HeaderLen]byte

	if _, err := s.file.ReadAt(hdr[:], int64(id)); err != nil {
		return errors.Wrapf(err, "read header at %d", id)
	}

	h := storage.DecodeHeader(hdr[:])

	if (h.Flag != storage.FlagFlushed && h.Flag != storage.FlagZeroed) || uint64(h.Length) > uint64(s.cfg.MaxRecordSize) {
		return errors.Wrapf(ErrInvalidRecord, "punch hole at %d", id)
	}

	// The zeroed header goes first and is never reclaimed, so a reader or a
	// crash at any point still finds the length to skip.
	storage.Header{Flag: storage.FlagZeroed, Length: h.Length}.Encode(hdr[:])

	if _, err := s.file.WriteAt(hdr[:], int64(id)); err != nil {
		return errors.Wrapf(err, "write hole header at %d", id)
	}

	if h.Length > 0 {
		if err := s.reclaimer.Reclaim(s.file, int64(id)+storage.HeaderLen, int64(h.Length)); err != nil {
			return err
		}
	}

	s.metrics.holesPunched.Inc()

	return nil
}

func (s *Store) Config() config.Config {
	return s.cfg
}

func (s *Store) IterFrom(id storage.LogID) *storage.Iterator {
	return storage.NewIterator(s, id)
}

// Close makes everything reserved so far stable, stops the background work
// and closes the file.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed.Load() {
		return ErrAlreadyClosed
	}

	if s.flusher != nil {
		s.flusher.Stop()
	}

	err := s.MakeStable(s.Tip())

	if err != nil {
		level.Error(s.logger).Log("msg", "error flushing log on close", "err", err)
	}

	s.closed.Store(true)
	s.bufs.close()

	if err := s.file.Sync(); err != nil {
		level.Error(s.logger).Log("msg", "sync log file", "err", err)
	}

	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "close log file")
	}

	return err
}
