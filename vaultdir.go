package vaultfs

import (
	"io"
	"os"
	"path"
	"sync"
)

// vaultDir is the read-only handle returned when opening a cleartext
// directory. Listing decrypts entry names on demand; repeated partial
// Readdir calls walk a snapshot taken at the first call.
type vaultDir struct {
	v    *VaultFS
	name string

	mu      sync.Mutex
	entries []string
	offset  int
	listed  bool
	closed  bool
}

func newVaultDir(v *VaultFS, cleartextPath string) *vaultDir {
	return &vaultDir{v: v, name: cleartextPath}
}

func (d *vaultDir) Name() string {
	return d.name
}

// snapshot lists the directory once and reuses the result for pagination.
func (d *vaultDir) snapshot() error {
	if d.listed {
		return nil
	}
	entries, err := d.v.ReadDirNames(d.name)
	if err != nil {
		return err
	}
	d.entries = entries
	d.listed = true
	return nil
}

// Readdirnames returns up to n entry names, or all remaining for n <= 0.
func (d *vaultDir) Readdirnames(n int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrFileClosed
	}
	if err := d.snapshot(); err != nil {
		return nil, err
	}

	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return append([]string(nil), remaining...), nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return append([]string(nil), remaining[:n]...), nil
}

// Readdir returns up to n entries with attributes, or all for n <= 0.
func (d *vaultDir) Readdir(n int) ([]os.FileInfo, error) {
	names, err := d.Readdirnames(n)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		info, err := d.v.Stat(path.Join(d.name, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (d *vaultDir) Stat() (os.FileInfo, error) {
	return d.v.Stat(d.name)
}

func (d *vaultDir) Read(p []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) ReadAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) WriteAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) WriteString(s string) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) Seek(offset int64, whence int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) Truncate(size int64) error {
	return &os.PathError{Op: "truncate", Path: d.name, Err: ErrIsDirectory}
}

func (d *vaultDir) Sync() error {
	return nil
}

func (d *vaultDir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrFileClosed
	}
	d.closed = true
	return nil
}
