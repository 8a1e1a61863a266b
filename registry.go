package vaultfs

import (
	"log/slog"
	"sync"

	"github.com/absfs/absfs"
)

// OpenFileRegistry is the process-wide mapping from ciphertext path to
// OpenFile. It guarantees at most one OpenFile per physical path: concurrent
// opens of the same path share one entry with an incremented refcount, and a
// per-path lock serializes entry construction against final close.
type OpenFileRegistry struct {
	fsys          absfs.FileSystem
	cryptor       *Cryptor
	logger        *slog.Logger
	readonly      bool
	cacheCapacity int
	sealer        *parallelSealer

	mu    sync.Mutex
	files map[string]*OpenFile
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newOpenFileRegistry(fsys absfs.FileSystem, cryptor *Cryptor, logger *slog.Logger, readonly bool, cacheCapacity int, parallel ParallelConfig) *OpenFileRegistry {
	return &OpenFileRegistry{
		fsys:          fsys,
		cryptor:       cryptor,
		logger:        logger,
		readonly:      readonly,
		cacheCapacity: cacheCapacity,
		sealer:        newParallelSealer(parallel),
		files:         make(map[string]*OpenFile),
		locks:         make(map[string]*pathLock),
	}
}

// lockPath acquires the per-path lock, creating it on demand. The returned
// function releases the lock and drops it once unused.
func (r *OpenFileRegistry) lockPath(ctPath string) func() {
	r.mu.Lock()
	pl, ok := r.locks[ctPath]
	if !ok {
		pl = &pathLock{}
		r.locks[ctPath] = pl
	}
	pl.refs++
	r.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		r.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(r.locks, ctPath)
		}
		r.mu.Unlock()
	}
}

// OpenChannel returns a new cleartext channel on the OpenFile for ctPath,
// creating the entry (and, with create set, the backing file) if needed.
func (r *OpenFileRegistry) OpenChannel(ctPath, cleartextPath string, flags int, create bool) (*CryptoFile, error) {
	unlock := r.lockPath(ctPath)
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		r.mu.Lock()
		of, ok := r.files[ctPath]
		r.mu.Unlock()

		if ok {
			if of.addRef() {
				return newCryptoFile(of, r, cleartextPath, flags), nil
			}
			// Entry caught mid-close; re-look-up once.
			continue
		}

		of, err := newOpenFile(r.fsys, r.cryptor, r.logger, ctPath, create, r.readonly, r.cacheCapacity, r.sealer)
		if err != nil {
			return nil, err
		}
		of.refs = 1

		r.mu.Lock()
		r.files[ctPath] = of
		r.mu.Unlock()

		return newCryptoFile(of, r, cleartextPath, flags), nil
	}
	return nil, NewCorruptionError(ctPath, "open file entry stuck in closing state")
}

// Lookup returns the live OpenFile for ctPath, if any. Used by attribute
// queries to report unflushed size and modification time.
func (r *OpenFileRegistry) Lookup(ctPath string) (*OpenFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	of, ok := r.files[ctPath]
	if !ok {
		return nil, false
	}
	return of, true
}

// release drops one channel reference. The last reference triggers the
// Closing transition under the per-path lock and removes the entry only
// after the flush has completed.
func (r *OpenFileRegistry) release(of *OpenFile) error {
	of.mu.Lock()
	of.refs--
	last := of.refs == 0
	of.mu.Unlock()
	if !last {
		return nil
	}

	unlock := r.lockPath(of.ctPath)
	defer unlock()

	of.mu.Lock()
	reopened := of.refs > 0
	of.mu.Unlock()
	if reopened {
		return nil
	}

	err := of.finalize()

	r.mu.Lock()
	if r.files[of.ctPath] == of {
		delete(r.files, of.ctPath)
	}
	r.mu.Unlock()

	return err
}
