package vaultfs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/absfs/absfs"
)

// OpenFileState tracks the lifecycle of an OpenFile.
type OpenFileState uint8

const (
	// StateOpen accepts new channels.
	StateOpen OpenFileState = iota
	// StateClosing rejects new channels while the final flush runs.
	StateClosing
	// StateClosed is terminal; the entry has left the registry.
	StateClosed
)

// OpenFile coordinates all cleartext channels that target one physical
// ciphertext file. It owns the backing file handle, the decrypted header,
// the chunk cache, and the authoritative cleartext length and modification
// time. At most one OpenFile exists per ciphertext path at any instant; the
// OpenFileRegistry enforces that.
type OpenFile struct {
	fsys   absfs.FileSystem
	logger *slog.Logger
	ctPath string
	sealer *parallelSealer

	// mu guards refcount, state and modification time.
	mu        sync.Mutex
	refs      int
	state     OpenFileState
	modTime   time.Time
	timeDirty bool

	// rw guards the backing file, cache and cleartext length. Readers share;
	// writers and truncation are exclusive.
	rw     sync.RWMutex
	f      absfs.File
	header *FileHeader
	io     *chunkIO
	cache  *chunkCache
	size   int64
}

// newOpenFile opens the backing ciphertext file and loads or creates its
// header. An empty or freshly created file gets a new header, written
// immediately unless the registry is read-only; an existing file has its header decrypted once and held in
// memory for the OpenFile's lifetime.
func newOpenFile(fsys absfs.FileSystem, cryptor *Cryptor, logger *slog.Logger, ctPath string, create, readonly bool, cacheCapacity int, sealer *parallelSealer) (*OpenFile, error) {
	flags := os.O_RDWR
	if readonly {
		flags = os.O_RDONLY
	} else if create {
		flags |= os.O_CREATE
	}

	f, err := fsys.OpenFile(ctPath, flags, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	of := &OpenFile{
		fsys:    fsys,
		logger:  logger,
		ctPath:  ctPath,
		sealer:  sealer,
		state:   StateOpen,
		f:       f,
		modTime: info.ModTime(),
	}

	if info.Size() == 0 {
		header, err := cryptor.NewFileHeader()
		if err != nil {
			f.Close()
			return nil, err
		}
		if !readonly {
			sealed, err := cryptor.EncryptHeader(header)
			if err != nil {
				f.Close()
				return nil, err
			}
			if _, err := f.WriteAt(sealed, 0); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write file header: %w", err)
			}
		}
		of.header = header
		of.size = 0
	} else {
		buf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read file header: %w", err)
		}
		header, err := cryptor.DecryptHeader(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		of.header = header

		size, err := CleartextFileSize(info.Size())
		if err != nil {
			logger.Warn("malformed ciphertext file size, treating as empty",
				"path", ctPath, "ciphertextSize", info.Size(), "error", err)
			size = 0
		}
		of.size = size
	}

	of.io = &chunkIO{f: f, cryptor: cryptor, header: of.header, path: ctPath}
	of.cache = newChunkCache(of.io, cacheCapacity)
	return of, nil
}

// Path returns the ciphertext path this OpenFile is bound to.
func (of *OpenFile) Path() string {
	return of.ctPath
}

// Size returns the current cleartext length, including unflushed extensions.
func (of *OpenFile) Size() int64 {
	of.rw.RLock()
	defer of.rw.RUnlock()
	return of.size
}

// ModTime returns the in-memory last-modified time.
func (of *OpenFile) ModTime() time.Time {
	of.mu.Lock()
	defer of.mu.Unlock()
	return of.modTime
}

// addRef admits a new channel. Returns false when the file is closing.
// Caller holds the registry's per-path lock.
func (of *OpenFile) addRef() bool {
	of.mu.Lock()
	defer of.mu.Unlock()
	if of.state != StateOpen {
		return false
	}
	of.refs++
	return true
}

func (of *OpenFile) markModified() {
	of.mu.Lock()
	of.modTime = time.Now()
	of.timeDirty = true
	of.mu.Unlock()
}

// ReadAt reads cleartext bytes starting at off. Returns io.EOF at or past
// the current cleartext length.
func (of *OpenFile) ReadAt(p []byte, off int64) (int, error) {
	if p == nil {
		return 0, ErrNilBuffer
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	of.rw.RLock()
	defer of.rw.RUnlock()

	if off >= of.size {
		return 0, io.EOF
	}

	n := int64(len(p))
	if off+n > of.size {
		n = of.size - off
	}

	var read int64
	for read < n {
		pos := off + read
		index := uint64(pos / ChunkPayloadSize)
		inChunk := pos % ChunkPayloadSize

		chunkLen := of.size - int64(index)*ChunkPayloadSize
		if chunkLen > ChunkPayloadSize {
			chunkLen = ChunkPayloadSize
		}

		chunk, err := of.cache.Get(index)
		if err != nil {
			return int(read), err
		}

		toCopy := n - read
		if avail := chunkLen - inChunk; toCopy > avail {
			toCopy = avail
		}
		copyChunkRegion(p[read:read+toCopy], chunk.data, inChunk)
		read += toCopy
	}

	var err error
	if read < int64(len(p)) {
		err = io.EOF
	}
	return int(read), err
}

// copyChunkRegion copies len(dst) bytes of chunk data starting at offset,
// zero-filling any region beyond the chunk's physical length. Sparse regions
// created by truncate-up or gap writes read as zeroes.
func copyChunkRegion(dst, data []byte, offset int64) {
	var copied int
	if offset < int64(len(data)) {
		copied = copy(dst, data[offset:])
	}
	for i := copied; i < len(dst); i++ {
		dst[i] = 0
	}
}

// WriteAt writes cleartext bytes at off, extending the file (and zero-filling
// any gap) as needed.
func (of *OpenFile) WriteAt(p []byte, off int64) (int, error) {
	if p == nil {
		return 0, ErrNilBuffer
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	of.rw.Lock()
	n, err := of.writeLocked(p, off)
	of.rw.Unlock()

	if n > 0 {
		of.markModified()
	}
	return n, err
}

func (of *OpenFile) writeLocked(p []byte, off int64) (int, error) {
	if off > of.size {
		if err := of.fillZeroes(of.size, off); err != nil {
			return 0, err
		}
		of.size = off
	}

	var written int
	for written < len(p) {
		pos := off + int64(written)
		index := uint64(pos / ChunkPayloadSize)
		inChunk := pos % ChunkPayloadSize

		toWrite := len(p) - written
		if avail := ChunkPayloadSize - int(inChunk); toWrite > avail {
			toWrite = avail
		}

		chunk, err := of.chunkForWrite(index, inChunk, toWrite)
		if err != nil {
			return written, err
		}

		if need := int(inChunk) + toWrite; len(chunk.data) < need {
			chunk.data = append(chunk.data, make([]byte, need-len(chunk.data))...)
		}
		copy(chunk.data[inChunk:], p[written:written+toWrite])
		chunk.dirty = true
		written += toWrite
	}

	if end := off + int64(len(p)); end > of.size {
		of.size = end
	}
	return written, nil
}

// chunkForWrite loads the target chunk, skipping the disk read when the
// write replaces the whole chunk or the chunk starts at or past the current
// end of file.
func (of *OpenFile) chunkForWrite(index uint64, inChunk int64, toWrite int) (*cachedChunk, error) {
	chunkStart := int64(index) * ChunkPayloadSize
	fullOverwrite := inChunk == 0 && toWrite == ChunkPayloadSize
	beyondEOF := chunkStart >= of.size
	if fullOverwrite || beyondEOF {
		return of.cache.GetForOverwrite(index)
	}
	return of.cache.Get(index)
}

// fillZeroes extends the cleartext range [from, to) with zero bytes so that
// later derived sizes match the written length. Caller holds of.rw.
func (of *OpenFile) fillZeroes(from, to int64) error {
	pos := from
	for pos < to {
		index := uint64(pos / ChunkPayloadSize)
		inChunk := pos % ChunkPayloadSize

		n := int64(ChunkPayloadSize) - inChunk
		if rest := to - pos; n > rest {
			n = rest
		}

		var chunk *cachedChunk
		var err error
		if inChunk == 0 {
			chunk, err = of.cache.GetForOverwrite(index)
		} else {
			chunk, err = of.cache.Get(index)
		}
		if err != nil {
			return err
		}

		if need := int(inChunk + n); len(chunk.data) < need {
			chunk.data = append(chunk.data, make([]byte, need-len(chunk.data))...)
		}
		chunk.dirty = true
		pos += n
	}
	return nil
}

// Truncate sets the cleartext length to size, trimming or zero-extending.
func (of *OpenFile) Truncate(size int64) error {
	if size < 0 {
		return NewValidationError("size", size, "negative truncate length")
	}

	of.rw.Lock()
	err := of.truncateLocked(size)
	of.rw.Unlock()

	if err == nil {
		of.markModified()
	}
	return err
}

func (of *OpenFile) truncateLocked(size int64) error {
	switch {
	case size == of.size:
		return nil
	case size > of.size:
		if err := of.fillZeroes(of.size, size); err != nil {
			return err
		}
		of.size = size
		return nil
	}

	rem := size % ChunkPayloadSize
	last := size / ChunkPayloadSize
	if rem > 0 {
		chunk, err := of.cache.Get(uint64(last))
		if err != nil {
			return err
		}
		if int64(len(chunk.data)) > rem {
			chunk.data = chunk.data[:rem]
		}
		chunk.dirty = true
		of.cache.DropAbove(last)
	} else {
		of.cache.DropAbove(last - 1)
	}

	if err := of.f.Truncate(CiphertextFileSize(size)); err != nil {
		return fmt.Errorf("failed to truncate ciphertext: %w", err)
	}
	of.size = size
	return nil
}

// Flush writes all dirty chunks through to the ciphertext file.
func (of *OpenFile) Flush() error {
	of.rw.Lock()
	defer of.rw.Unlock()
	return of.cache.Flush(of.sealer)
}

// Sync flushes dirty chunks and syncs the backing file.
func (of *OpenFile) Sync() error {
	if err := of.Flush(); err != nil {
		return err
	}
	return of.f.Sync()
}

// finalize runs the Closing transition: flush dirty chunks, persist the
// modification time, close the backing file, zeroize the content key.
// Caller holds the registry's per-path lock.
func (of *OpenFile) finalize() error {
	of.mu.Lock()
	of.state = StateClosing
	timeDirty := of.timeDirty
	modTime := of.modTime
	of.mu.Unlock()

	of.rw.Lock()
	defer of.rw.Unlock()

	flushErr := of.cache.Flush(of.sealer)
	if flushErr == nil && timeDirty {
		if err := of.fsys.Chtimes(of.ctPath, modTime, modTime); err != nil {
			of.logger.Warn("failed to persist modification time", "path", of.ctPath, "error", err)
		}
	}

	closeErr := of.f.Close()
	of.header.Destroy()

	of.mu.Lock()
	of.state = StateClosed
	of.mu.Unlock()

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
