package page

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLockedByOther is returned when another process already holds an
// exclusive advisory lock on a store's file, the same failure mode the
// teacher's flock() reports as ErrWriteByOther in sys.go.
var ErrLockedByOther = errors.New("page store is locked by another process")

// AllocatedTracker receives the page count allocated so far each time
// Allocate extends a store, the Go analogue of the Java
// LongConsumer/AtomicLong passed into FilePageStoreFactory.createPageStore.
type AllocatedTracker func(pages int64)

// Store is a fixed-size-page file (C1 Page Store). It is the unit the
// engine creates one of per temp file named in spec §3: part-dfrg-N.bin.tmp,
// part-map-N.bin, index-dfrg.bin.tmp.
type Store struct {
	path string
	flag Flag

	mu       sync.Mutex
	file     *os.File
	data     []byte // mmap'ed region, grows as the store is extended
	pages    int64  // pages currently allocated
	tracker  AllocatedTracker
	readOnly bool
}

// Create creates a fresh, empty page store at path and locks it
// exclusively for the lifetime of the process, mirroring the teacher's
// Open()+flock() sequence in db.go/sys.go.
func Create(path string, flag Flag, tracker AllocatedTracker) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create page store %s", path)
	}
	return newStore(f, path, flag, tracker, 0)
}

// Open opens an existing page store at path, inferring its current page
// count from the file size. Used when resuming a partially defragmented
// partition after a crash (spec §7 "AlreadyDefragmented").
func Open(path string, flag Flag, tracker AllocatedTracker) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open page store %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat page store %s", path)
	}
	if info.Size()%Size != 0 {
		_ = f.Close()
		return nil, errors.Errorf("page store %s size %d is not a multiple of page size %d", path, info.Size(), Size)
	}
	return newStore(f, path, flag, tracker, info.Size()/Size)
}

func newStore(f *os.File, path string, flag Flag, tracker AllocatedTracker, pages int64) (*Store, error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return nil, ErrLockedByOther
		}
		return nil, errors.Wrap(err, "flock page store")
	}

	s := &Store{path: path, flag: flag, file: f, pages: pages, tracker: tracker}
	if pages > 0 {
		if err := s.remap(pages); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the filesystem path the store was created/opened with.
func (s *Store) Path() string { return s.path }

// Flag returns the page flag (DATA/IDX) this store was created with.
func (s *Store) Flag() Flag { return s.flag }

// Pages returns the number of pages currently allocated.
func (s *Store) Pages() int64 {
	return atomic.LoadInt64(&s.pages)
}

// Allocate grows the store by one page and returns its index.
func (s *Store) Allocate() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.pages
	newSize := (idx + 1) * Size
	if err := s.file.Truncate(newSize); err != nil {
		return 0, errors.Wrapf(err, "grow page store %s to %d bytes", s.path, newSize)
	}
	s.pages++
	if err := s.remapLocked(s.pages); err != nil {
		return 0, err
	}
	if s.tracker != nil {
		s.tracker(s.pages)
	}
	return uint32(idx), nil
}

// ReadPage copies the contents of page index into dst, which must be at
// least Size bytes.
func (s *Store) ReadPage(index uint32, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	off := int64(index) * Size
	if off+Size > int64(len(s.data)) {
		return errors.Errorf("page index %d out of range for store %s (%d pages)", index, s.path, s.pages)
	}
	copy(dst, s.data[off:off+Size])
	return nil
}

// WritePage overwrites page index with src, which must be exactly Size
// bytes.
func (s *Store) WritePage(index uint32, src []byte) error {
	if len(src) != Size {
		return errors.Errorf("page payload must be exactly %d bytes, got %d", Size, len(src))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	off := int64(index) * Size
	if off+Size > int64(len(s.data)) {
		return errors.Errorf("page index %d out of range for store %s (%d pages)", index, s.path, s.pages)
	}
	copy(s.data[off:off+Size], src)
	return nil
}

// Sync flushes the mapped pages and the underlying file to durable
// storage, the page store half of the checkpoint discipline (spec §4.1).
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) > 0 {
		if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
			return errors.Wrapf(err, "msync page store %s", s.path)
		}
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrapf(err, "fsync page store %s", s.path)
	}
	return nil
}

// Close releases the mmap, the advisory lock, and the file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if len(s.data) > 0 {
		if err := unix.Munmap(s.data); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "munmap page store")
		}
		s.data = nil
	}
	if s.file != nil {
		if err := unix.Flock(int(s.file.Fd()), unix.LOCK_UN); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unlock page store")
		}
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close page store file")
		}
		s.file = nil
	}
	return firstErr
}

func (s *Store) remap(pages int64) error {
	return s.remapLocked(pages)
}

// remapLocked must be called with s.mu held. It remaps the whole file
// every time it grows, the same "remap on growth" technique as the
// teacher's extendMmap-equivalent in sys.go's mmap(), simplified because
// defragmentation stores are created once and only ever grow forward.
func (s *Store) remapLocked(pages int64) error {
	if len(s.data) > 0 {
		if err := unix.Munmap(s.data); err != nil {
			return errors.Wrap(err, "remap: munmap old region")
		}
		s.data = nil
	}
	if pages == 0 {
		return nil
	}
	data, err := unix.Mmap(int(s.file.Fd()), 0, int(pages*Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mmap page store")
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return errors.Wrap(err, "madvise page store")
	}
	s.data = data
	return nil
}
