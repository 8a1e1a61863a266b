package vaultfs

import (
	"os"
	"time"
)

// fileInfo is the cleartext os.FileInfo reported for vault entries.
type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileInfo) Sys() any           { return nil }

// AttributeView is a lazy attribute handle bound to a cleartext path. It
// resolves nothing at construction time: every call observes the path as it
// is at that moment, so a view obtained before a file exists starts working
// once the file is created and reports the file as missing again after
// deletion. Live size and modification time come from the open-file registry
// when the file is currently open.
type AttributeView struct {
	v    *VaultFS
	path string
}

// AttributeView returns a lazy attribute view for the given cleartext path.
// The path does not need to exist.
func (v *VaultFS) AttributeView(name string) *AttributeView {
	return &AttributeView{v: v, path: name}
}

// ReadAttributes resolves the path and returns its current cleartext
// attributes. Returns an error wrapping os.ErrNotExist when the path is
// missing.
func (a *AttributeView) ReadAttributes() (os.FileInfo, error) {
	return a.v.Stat(a.path)
}

// SetTimes updates access and modification times on the backing entry.
func (a *AttributeView) SetTimes(atime, mtime time.Time) error {
	return a.v.Chtimes(a.path, atime, mtime)
}

// SetReadOnly toggles the read-only permission bits on the backing entry.
// This is the one DOS-style attribute the vault tracks; others are dropped.
func (a *AttributeView) SetReadOnly(readonly bool) error {
	mode := os.FileMode(0644)
	if readonly {
		mode = 0444
	}
	return a.v.Chmod(a.path, mode)
}
