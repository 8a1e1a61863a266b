package vaultfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"
)

// CryptoFile is one cleartext channel onto an OpenFile. It carries its own
// position cursor and access flags; all data and length state lives in the
// shared OpenFile, so a write on one channel is observed by reads on every
// other channel of the same file.
type CryptoFile struct {
	of       *OpenFile
	registry *OpenFileRegistry
	name     string
	flags    int

	mu     sync.Mutex
	pos    int64
	closed bool
}

func newCryptoFile(of *OpenFile, registry *OpenFileRegistry, cleartextPath string, flags int) *CryptoFile {
	return &CryptoFile{
		of:       of,
		registry: registry,
		name:     cleartextPath,
		flags:    flags,
	}
}

// Name returns the cleartext path the channel was opened with.
func (f *CryptoFile) Name() string {
	return f.name
}

func (f *CryptoFile) readable() bool {
	acc := f.flags & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return acc == os.O_RDONLY || acc == os.O_RDWR
}

func (f *CryptoFile) writable() bool {
	acc := f.flags & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return acc == os.O_WRONLY || acc == os.O_RDWR
}

// Read reads from the current position.
func (f *CryptoFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFileClosed
	}
	if !f.readable() {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: os.ErrPermission}
	}

	n, err := f.of.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads at an absolute offset without moving the position cursor.
func (f *CryptoFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrFileClosed
	}
	if !f.readable() {
		f.mu.Unlock()
		return 0, &os.PathError{Op: "read", Path: f.name, Err: os.ErrPermission}
	}
	f.mu.Unlock()

	return f.of.ReadAt(p, off)
}

// Write writes at the current position, or at the end with O_APPEND.
func (f *CryptoFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFileClosed
	}
	if !f.writable() {
		return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
	}

	pos := f.pos
	if f.flags&os.O_APPEND != 0 {
		pos = f.of.Size()
	}

	n, err := f.of.WriteAt(p, pos)
	f.pos = pos + int64(n)
	return n, err
}

// WriteAt writes at an absolute offset without moving the position cursor.
func (f *CryptoFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrFileClosed
	}
	if !f.writable() {
		f.mu.Unlock()
		return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
	}
	f.mu.Unlock()

	return f.of.WriteAt(p, off)
}

// WriteString writes the contents of s at the current position.
func (f *CryptoFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Seek sets the position cursor for the next Read or Write.
func (f *CryptoFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrFileClosed
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.of.Size() + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if pos < 0 {
		return 0, ErrNegativeOffset
	}
	f.pos = pos
	return pos, nil
}

// Truncate changes the cleartext length of the file.
func (f *CryptoFile) Truncate(size int64) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFileClosed
	}
	if !f.writable() {
		f.mu.Unlock()
		return &os.PathError{Op: "truncate", Path: f.name, Err: os.ErrPermission}
	}
	f.mu.Unlock()

	return f.of.Truncate(size)
}

// Sync flushes dirty chunks and syncs the backing ciphertext file.
func (f *CryptoFile) Sync() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFileClosed
	}
	f.mu.Unlock()

	return f.of.Sync()
}

// Stat returns the cleartext attributes of the open file.
func (f *CryptoFile) Stat() (os.FileInfo, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFileClosed
	}
	f.mu.Unlock()

	return &fileInfo{
		name:    path.Base(f.name),
		size:    f.of.Size(),
		mode:    0644,
		modTime: f.of.ModTime(),
	}, nil
}

// Readdir is not supported on regular files.
func (f *CryptoFile) Readdir(n int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.name, Err: ErrNotDirectory}
}

// Readdirnames is not supported on regular files.
func (f *CryptoFile) Readdirnames(n int) ([]string, error) {
	return nil, &os.PathError{Op: "readdirnames", Path: f.name, Err: ErrNotDirectory}
}

// Close releases the channel. The last channel of an OpenFile flushes dirty
// chunks, persists the modification time, and retires the registry entry.
func (f *CryptoFile) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFileClosed
	}
	f.closed = true
	f.mu.Unlock()

	return f.registry.release(f.of)
}
