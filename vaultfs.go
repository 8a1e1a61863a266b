package vaultfs

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/absfs/absfs"
)

// VaultFS is an encrypting filesystem over a vault directory on a backing
// absfs.FileSystem. All paths passed to its methods are cleartext paths
// inside the vault.
type VaultFS struct {
	base   absfs.FileSystem
	root   string
	cfg    *Config
	logger *slog.Logger

	masterKey *MasterKey
	cryptor   *Cryptor
	longNames *LongNameCodec
	dirIDs    *DirectoryIDProvider
	mapper    *PathMapper
	registry  *OpenFileRegistry

	mu     sync.Mutex
	cwd    string
	closed bool
}

// Open counts per vault root: how many VaultFS handles are currently open on
// each vault. Every handle owns its own keys and caches.
var (
	openVaultsMu sync.Mutex
	openVaults   = make(map[string]int)
)

// Initialize creates a new empty vault at root on the backing filesystem:
// the masterkey file, the data tree root, and the long-name directory.
// Fails if a masterkey file already exists there.
func Initialize(base absfs.FileSystem, root string, cfg *Config) error {
	if base == nil {
		return NewValidationError("base", nil, "base filesystem cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	root = path.Clean(root)
	keyPath := path.Join(root, cfg.MasterkeyFilename)
	if exists, err := fileExists(base, keyPath); err != nil {
		return err
	} else if exists {
		return &os.PathError{Op: "initialize", Path: keyPath, Err: os.ErrExist}
	}

	if err := mkdirAll(base, root); err != nil {
		return fmt.Errorf("failed to create vault root: %w", err)
	}

	key, err := CreateMasterkey(base, keyPath, cfg.Passphrase, cfg.Pepper)
	if err != nil {
		return err
	}
	defer key.Destroy()

	if err := mkdirAll(base, dataDirPath(root, RootDirID)); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}
	if err := mkdirAll(base, metaDirPath(root)); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return nil
}

// Open unlocks the vault at root with the configured passphrase and returns
// a filesystem over its cleartext contents.
func Open(base absfs.FileSystem, root string, cfg *Config) (*VaultFS, error) {
	if base == nil {
		return nil, NewValidationError("base", nil, "base filesystem cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root = path.Clean(root)
	key, err := LoadMasterkey(base, path.Join(root, cfg.MasterkeyFilename), cfg.Passphrase, cfg.Pepper)
	if err != nil {
		return nil, err
	}

	cryptor, err := NewCryptor(key)
	if err != nil {
		key.Destroy()
		return nil, err
	}

	v := &VaultFS{
		base:      base,
		root:      root,
		cfg:       cfg,
		logger:    cfg.Logger,
		masterKey: key,
		cryptor:   cryptor,
		cwd:       "/",
	}
	v.longNames = newLongNameCodec(base, root)
	v.dirIDs = newDirectoryIDProvider(base, DefaultDirCacheCapacity)
	v.mapper = newPathMapper(base, cryptor, v.dirIDs, v.longNames, root)
	v.registry = newOpenFileRegistry(base, cryptor, cfg.Logger, cfg.Readonly, cfg.ChunkCacheCapacity, cfg.Parallel)

	if err := mkdirAll(base, dataDirPath(root, RootDirID)); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("failed to open data root: %w", err)
	}

	openVaultsMu.Lock()
	openVaults[root]++
	openVaultsMu.Unlock()

	return v, nil
}

// Close releases the vault handle and zeroizes its key material. Open
// channels keep their decrypted headers and finish independently.
func (v *VaultFS) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrVaultClosed
	}
	v.closed = true
	v.mu.Unlock()

	openVaultsMu.Lock()
	if openVaults[v.root] > 0 {
		openVaults[v.root]--
		if openVaults[v.root] == 0 {
			delete(openVaults, v.root)
		}
	}
	openVaultsMu.Unlock()

	v.masterKey.Destroy()
	return nil
}

// check rejects operations on a closed vault.
func (v *VaultFS) check() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVaultClosed
	}
	return nil
}

func (v *VaultFS) checkWrite() error {
	if err := v.check(); err != nil {
		return err
	}
	if v.cfg.Readonly {
		return ErrReadOnly
	}
	return nil
}

// resolve turns a caller path into a cleaned absolute cleartext path.
func (v *VaultFS) resolve(name string) (string, error) {
	if name == "" {
		return "", &os.PathError{Op: "resolve", Path: name, Err: os.ErrInvalid}
	}
	if !strings.HasPrefix(name, "/") {
		v.mu.Lock()
		name = path.Join(v.cwd, name)
		v.mu.Unlock()
	}
	return path.Clean(name), nil
}

// Separator returns the cleartext path separator.
func (v *VaultFS) Separator() uint8 {
	return '/'
}

// ListSeparator returns the path list separator.
func (v *VaultFS) ListSeparator() uint8 {
	return ':'
}

// TempDir returns the vault-internal scratch location.
func (v *VaultFS) TempDir() string {
	return "/"
}

// Chdir changes the current working directory used for relative paths.
func (v *VaultFS) Chdir(dir string) error {
	if err := v.check(); err != nil {
		return err
	}
	p, err := v.resolve(dir)
	if err != nil {
		return err
	}
	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return err
	}
	if t == TypeMissing {
		return &os.PathError{Op: "chdir", Path: dir, Err: os.ErrNotExist}
	}
	if t != TypeDirectory {
		return &os.PathError{Op: "chdir", Path: dir, Err: ErrNotDirectory}
	}
	v.mu.Lock()
	v.cwd = p
	v.mu.Unlock()
	return nil
}

// Getwd returns the current working directory.
func (v *VaultFS) Getwd() (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cwd, nil
}

// Open opens a file for reading.
func (v *VaultFS) Open(name string) (absfs.File, error) {
	return v.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file for writing.
func (v *VaultFS) Create(name string) (absfs.File, error) {
	return v.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

const maxSymlinkHops = 8

// followLinks resolves symlink components at the end of p, up to a fixed
// hop limit.
func (v *VaultFS) followLinks(p string) (string, error) {
	for hop := 0; hop < maxSymlinkHops; hop++ {
		t, err := v.mapper.CiphertextFileType(p)
		if err != nil {
			return "", err
		}
		if t != TypeSymlink {
			return p, nil
		}
		target, err := v.readSymlinkTarget(p)
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(target, "/") {
			p = path.Clean(target)
		} else {
			p = path.Join(path.Dir(p), target)
		}
	}
	return "", &os.PathError{Op: "open", Path: p, Err: fmt.Errorf("too many levels of symbolic links")}
}

// OpenFile opens a cleartext file with the given flags. Symlinks in the
// final component are followed.
func (v *VaultFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	wantsWrite := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	if wantsWrite {
		if err := v.checkWrite(); err != nil {
			return nil, err
		}
	} else if err := v.check(); err != nil {
		return nil, err
	}

	p, err := v.resolve(name)
	if err != nil {
		return nil, err
	}
	p, err = v.followLinks(p)
	if err != nil {
		return nil, err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeDirectory:
		if wantsWrite {
			return nil, &os.PathError{Op: "open", Path: name, Err: ErrIsDirectory}
		}
		return newVaultDir(v, p), nil
	case TypeMissing:
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
	case TypeFile:
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
		}
	}

	var ctPath string
	if t == TypeMissing {
		ctPath, err = v.mapper.CiphertextFilePathForCreate(p, TypeFile)
	} else {
		ctPath, err = v.mapper.CiphertextFilePath(p, TypeFile)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
		return nil, err
	}

	ch, err := v.registry.OpenChannel(ctPath, p, flag, flag&os.O_CREATE != 0)
	if err != nil {
		return nil, err
	}

	if flag&os.O_TRUNC != 0 && t == TypeFile {
		if err := ch.of.Truncate(0); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return ch, nil
}

// Mkdir creates a cleartext directory: a pointer file under the parent and a
// fresh physical directory in the data tree.
func (v *VaultFS) Mkdir(name string, perm os.FileMode) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	p, err := v.resolve(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return err
	}
	if t != TypeMissing {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}

	parent, err := v.mapper.CiphertextDir(path.Dir(p))
	if err != nil {
		if os.IsNotExist(err) {
			return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrNotExist}
		}
		return err
	}

	pointerName, err := v.mapper.CiphertextNameForCreate(path.Base(p), parent.ID, TypeDirectory)
	if err != nil {
		return err
	}
	if err := mkdirAll(v.base, parent.Path); err != nil {
		return err
	}

	id, err := v.dirIDs.Create(path.Join(parent.Path, pointerName))
	if err != nil {
		return err
	}
	if err := mkdirAll(v.base, dataDirPath(v.root, id)); err != nil {
		return err
	}

	v.mapper.Invalidate(p)
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (v *VaultFS) MkdirAll(name string, perm os.FileMode) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	p, err := v.resolve(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return nil
	}

	var prefix string
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		prefix = prefix + "/" + part
		t, err := v.mapper.CiphertextFileType(prefix)
		if err != nil {
			return err
		}
		switch t {
		case TypeDirectory:
			continue
		case TypeMissing:
			if err := v.Mkdir(prefix, perm); err != nil {
				return err
			}
		default:
			return &os.PathError{Op: "mkdir", Path: prefix, Err: ErrNotDirectory}
		}
	}
	return nil
}

// Remove removes a file, symlink, or empty directory.
func (v *VaultFS) Remove(name string) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	p, err := v.resolve(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrInvalid}
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return err
	}

	switch t {
	case TypeMissing:
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	case TypeFile, TypeSymlink:
		ctPath, err := v.mapper.CiphertextFilePath(p, t)
		if err != nil {
			return err
		}
		if err := v.base.Remove(ctPath); err != nil {
			return err
		}
		v.mapper.Invalidate(p)
		return nil
	default:
		return v.removeDirectory(name, p)
	}
}

func (v *VaultFS) removeDirectory(name, p string) error {
	dir, err := v.mapper.CiphertextDir(p)
	if err != nil {
		return err
	}

	entries, err := v.listPhysicalDir(dir.Path)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &os.PathError{Op: "remove", Path: name, Err: ErrNotEmpty}
	}

	pointerPath, err := v.mapper.CiphertextFilePath(p, TypeDirectory)
	if err != nil {
		return err
	}
	if err := v.base.Remove(dir.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := v.base.Remove(pointerPath); err != nil {
		return err
	}
	v.dirIDs.Invalidate(pointerPath)
	v.mapper.Invalidate(p)
	return nil
}

// RemoveAll removes a path and all of its children.
func (v *VaultFS) RemoveAll(name string) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	p, err := v.resolve(name)
	if err != nil {
		return err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return err
	}
	switch t {
	case TypeMissing:
		return nil
	case TypeFile, TypeSymlink:
		return v.Remove(p)
	}

	children, err := v.ReadDirNames(p)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := v.RemoveAll(path.Join(p, child)); err != nil {
			return err
		}
	}
	if p == "/" {
		return nil
	}
	return v.Remove(p)
}

// Rename moves a cleartext entry. Renaming a directory relocates only its
// pointer file; the directory's contents stay at their hashed location.
func (v *VaultFS) Rename(oldpath, newpath string) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	oldP, err := v.resolve(oldpath)
	if err != nil {
		return err
	}
	newP, err := v.resolve(newpath)
	if err != nil {
		return err
	}
	if oldP == "/" || newP == "/" {
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrInvalid}
	}
	if oldP == newP {
		return nil
	}

	oldType, err := v.mapper.CiphertextFileType(oldP)
	if err != nil {
		return err
	}
	if oldType == TypeMissing {
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrNotExist}
	}
	newType, err := v.mapper.CiphertextFileType(newP)
	if err != nil {
		return err
	}

	if oldType == TypeDirectory {
		switch newType {
		case TypeDirectory:
			if err := v.Remove(newP); err != nil {
				return err
			}
		case TypeMissing:
		default:
			return &os.PathError{Op: "rename", Path: newpath, Err: ErrNotDirectory}
		}
	} else {
		switch newType {
		case TypeDirectory:
			return &os.PathError{Op: "rename", Path: newpath, Err: ErrIsDirectory}
		case TypeMissing:
		default:
			if err := v.Remove(newP); err != nil {
				return err
			}
		}
	}

	ctOld, err := v.mapper.CiphertextFilePath(oldP, oldType)
	if err != nil {
		return err
	}
	ctNew, err := v.mapper.CiphertextFilePathForCreate(newP, oldType)
	if err != nil {
		return err
	}
	if err := v.base.Rename(ctOld, ctNew); err != nil {
		return err
	}

	if oldType == TypeDirectory {
		v.dirIDs.Invalidate(ctOld)
	}
	v.mapper.Invalidate(oldP)
	v.mapper.Invalidate(newP)
	return nil
}

// Stat returns the cleartext attributes of a path. Symlinks are not
// followed; they report their own entry.
func (v *VaultFS) Stat(name string) (os.FileInfo, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	p, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeMissing:
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	case TypeDirectory:
		return v.statDirectory(p)
	case TypeSymlink:
		return v.statSymlink(p)
	default:
		return v.statFile(p)
	}
}

func (v *VaultFS) statDirectory(p string) (os.FileInfo, error) {
	dir, err := v.mapper.CiphertextDir(p)
	if err != nil {
		return nil, err
	}
	modTime := time.Time{}
	if info, err := v.base.Stat(dir.Path); err == nil {
		modTime = info.ModTime()
	}
	return &fileInfo{
		name:    path.Base(p),
		mode:    os.ModeDir | 0755,
		modTime: modTime,
	}, nil
}

func (v *VaultFS) statSymlink(p string) (os.FileInfo, error) {
	ctPath, err := v.mapper.CiphertextFilePath(p, TypeSymlink)
	if err != nil {
		return nil, err
	}
	modTime := time.Time{}
	if info, err := v.base.Stat(ctPath); err == nil {
		modTime = info.ModTime()
	}
	return &fileInfo{
		name:    path.Base(p),
		size:    -1,
		mode:    os.ModeSymlink | 0777,
		modTime: modTime,
	}, nil
}

func (v *VaultFS) statFile(p string) (os.FileInfo, error) {
	ctPath, err := v.mapper.CiphertextFilePath(p, TypeFile)
	if err != nil {
		return nil, err
	}

	if of, ok := v.registry.Lookup(ctPath); ok {
		return &fileInfo{
			name:    path.Base(p),
			size:    of.Size(),
			mode:    0644,
			modTime: of.ModTime(),
		}, nil
	}

	info, err := v.base.Stat(ctPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
		}
		return nil, err
	}
	size, err := CleartextFileSize(info.Size())
	if err != nil {
		v.logger.Warn("malformed ciphertext file size, reporting 0",
			"path", ctPath, "ciphertextSize", info.Size(), "error", err)
		size = 0
	}
	return &fileInfo{
		name:    path.Base(p),
		size:    size,
		mode:    info.Mode().Perm(),
		modTime: info.ModTime(),
	}, nil
}

// Truncate changes the cleartext length of a file by path.
func (v *VaultFS) Truncate(name string, size int64) error {
	f, err := v.OpenFile(name, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if terr := f.Truncate(size); terr != nil {
		f.Close()
		return terr
	}
	return f.Close()
}

// Chmod changes the permission bits of the backing ciphertext entry.
func (v *VaultFS) Chmod(name string, mode os.FileMode) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	ctPath, err := v.ciphertextPathOf(name)
	if err != nil {
		return err
	}
	return v.base.Chmod(ctPath, mode)
}

// Chtimes changes access and modification times of the backing entry.
func (v *VaultFS) Chtimes(name string, atime, mtime time.Time) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	ctPath, err := v.ciphertextPathOf(name)
	if err != nil {
		return err
	}
	return v.base.Chtimes(ctPath, atime, mtime)
}

// Chown changes the owner of the backing entry.
func (v *VaultFS) Chown(name string, uid, gid int) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	ctPath, err := v.ciphertextPathOf(name)
	if err != nil {
		return err
	}
	return v.base.Chown(ctPath, uid, gid)
}

// ciphertextPathOf resolves a cleartext path to the host path of its entry,
// whatever type it currently is. Directories resolve to their physical
// data-tree location.
func (v *VaultFS) ciphertextPathOf(name string) (string, error) {
	p, err := v.resolve(name)
	if err != nil {
		return "", err
	}
	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return "", err
	}
	switch t {
	case TypeMissing:
		return "", &os.PathError{Op: "resolve", Path: name, Err: os.ErrNotExist}
	case TypeDirectory:
		dir, err := v.mapper.CiphertextDir(p)
		if err != nil {
			return "", err
		}
		return dir.Path, nil
	default:
		return v.mapper.CiphertextFilePath(p, t)
	}
}

// Symlink creates a symbolic link at link pointing at target. The target is
// stored encrypted; it is not resolved or validated.
func (v *VaultFS) Symlink(target, link string) error {
	if err := v.checkWrite(); err != nil {
		return err
	}
	p, err := v.resolve(link)
	if err != nil {
		return err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return err
	}
	if t != TypeMissing {
		return &os.PathError{Op: "symlink", Path: link, Err: os.ErrExist}
	}

	ctPath, err := v.mapper.CiphertextFilePathForCreate(p, TypeSymlink)
	if err != nil {
		if os.IsNotExist(err) {
			return &os.PathError{Op: "symlink", Path: link, Err: os.ErrNotExist}
		}
		return err
	}

	blob, err := v.encodeSymlinkTarget(target)
	if err != nil {
		return err
	}
	return writeFileExcl(v.base, ctPath, blob, 0644)
}

// Readlink returns the target of a symbolic link.
func (v *VaultFS) Readlink(link string) (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	p, err := v.resolve(link)
	if err != nil {
		return "", err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return "", err
	}
	switch t {
	case TypeMissing:
		return "", &os.PathError{Op: "readlink", Path: link, Err: os.ErrNotExist}
	case TypeSymlink:
		return v.readSymlinkTarget(p)
	default:
		return "", &os.PathError{Op: "readlink", Path: link, Err: os.ErrInvalid}
	}
}

func (v *VaultFS) readSymlinkTarget(p string) (string, error) {
	ctPath, err := v.mapper.CiphertextFilePath(p, TypeSymlink)
	if err != nil {
		return "", err
	}
	blob, err := readFileAll(v.base, ctPath)
	if err != nil {
		return "", err
	}
	return v.decodeSymlinkTarget(ctPath, blob)
}

// listPhysicalDir returns the raw entry names of a data-tree directory.
// A directory with no physical location yet lists as empty.
func (v *VaultFS) listPhysicalDir(physicalDir string) ([]string, error) {
	f, err := v.base.OpenFile(physicalDir, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	entries := names[:0]
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, name)
	}
	return entries, nil
}

// ReadDirNames returns the sorted cleartext names inside a directory.
// Entries whose names cannot be inflated or decrypted are skipped with a
// warning: they do not belong to this directory id or are damaged.
func (v *VaultFS) ReadDirNames(name string) ([]string, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	p, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	t, err := v.mapper.CiphertextFileType(p)
	if err != nil {
		return nil, err
	}
	if t == TypeMissing {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: os.ErrNotExist}
	}
	if t != TypeDirectory {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}

	dir, err := v.mapper.CiphertextDir(p)
	if err != nil {
		return nil, err
	}
	physical, err := v.listPhysicalDir(dir.Path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(physical))
	seen := make(map[string]bool, len(physical))
	for _, entry := range physical {
		short := entry
		if isDeflatedName(entry) {
			short, err = v.longNames.Inflate(entry)
			if err != nil {
				v.logger.Warn("skipping entry with unreadable long-name sidecar",
					"dir", dir.Path, "entry", entry, "error", err)
				continue
			}
		}

		encrypted := short
		switch {
		case strings.HasPrefix(short, symlinkPrefix):
			encrypted = short[len(symlinkPrefix):]
		case strings.HasPrefix(short, dirPrefix):
			encrypted = short[len(dirPrefix):]
		}

		cleartext, err := v.cryptor.DecryptFilename(encrypted, dir.ID)
		if err != nil {
			v.logger.Warn("skipping undecryptable directory entry",
				"dir", dir.Path, "entry", entry, "error", err)
			continue
		}
		// The same cleartext name can surface as several entry types when
		// external tools raced; list it once.
		if seen[cleartext] {
			continue
		}
		seen[cleartext] = true
		names = append(names, cleartext)
	}

	sort.Strings(names)
	return names, nil
}

// ReadDir returns the sorted cleartext entries of a directory with their
// attributes.
func (v *VaultFS) ReadDir(name string) ([]os.FileInfo, error) {
	names, err := v.ReadDirNames(name)
	if err != nil {
		return nil, err
	}
	p, err := v.resolve(name)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, child := range names {
		info, err := v.Stat(path.Join(p, child))
		if err != nil {
			// Raced with a concurrent delete.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
