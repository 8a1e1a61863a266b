package vaultfs

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/absfs/absfs"
)

// Entry-name marker prefixes in the data tree.
const (
	dirPrefix     = "0"
	symlinkPrefix = "1S"
)

// CiphertextDirectory is the resolved physical identity of a cleartext
// directory: the UUID stored in its pointer file and the hashed data-tree
// location holding its entries.
type CiphertextDirectory struct {
	ID   string
	Path string
}

// PathMapper translates cleartext paths into ciphertext paths. Directory
// resolutions are cached; the cache must be invalidated on every structural
// change (create, remove, rename of directories).
type PathMapper struct {
	fsys      absfs.FileSystem
	cryptor   *Cryptor
	dirIDs    *DirectoryIDProvider
	longNames *LongNameCodec
	root      string

	mu       sync.RWMutex
	cache    map[string]CiphertextDirectory
	order    []string
	capacity int
}

func newPathMapper(fsys absfs.FileSystem, cryptor *Cryptor, dirIDs *DirectoryIDProvider, longNames *LongNameCodec, vaultRoot string) *PathMapper {
	return &PathMapper{
		fsys:      fsys,
		cryptor:   cryptor,
		dirIDs:    dirIDs,
		longNames: longNames,
		root:      vaultRoot,
		cache:     make(map[string]CiphertextDirectory),
		order:     make([]string, 0, DefaultDirCacheCapacity),
		capacity:  DefaultDirCacheCapacity,
	}
}

// CiphertextDir resolves a cleartext directory path to its physical identity.
// Resolution recurses through the parents; each hop reads (or hits the cache
// for) one pointer file.
func (m *PathMapper) CiphertextDir(cleartextPath string) (CiphertextDirectory, error) {
	p := path.Clean(cleartextPath)
	if p == "/" || p == "." {
		return CiphertextDirectory{ID: RootDirID, Path: dataDirPath(m.root, RootDirID)}, nil
	}

	m.mu.RLock()
	cached, ok := m.cache[p]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parent, err := m.CiphertextDir(path.Dir(p))
	if err != nil {
		return CiphertextDirectory{}, err
	}

	pointer, err := m.CiphertextName(path.Base(p), parent.ID, TypeDirectory)
	if err != nil {
		return CiphertextDirectory{}, err
	}

	id, err := m.dirIDs.Load(path.Join(parent.Path, pointer))
	if err != nil {
		if os.IsNotExist(err) {
			return CiphertextDirectory{}, &os.PathError{Op: "resolve", Path: cleartextPath, Err: os.ErrNotExist}
		}
		return CiphertextDirectory{}, err
	}

	dir := CiphertextDirectory{ID: id, Path: dataDirPath(m.root, id)}
	m.put(p, dir)
	return dir, nil
}

// CiphertextName computes the on-disk entry name for a cleartext basename
// under the given directory id, applying the marker prefix for the entry type
// and long-name deflation when the encoded form exceeds the threshold.
// Pure: the deflated form is a hash, so lookups never touch the sidecar
// store. Creation paths use CiphertextNameForCreate, which also writes the
// sidecar on first reference.
func (m *PathMapper) CiphertextName(name, dirID string, t CiphertextFileType) (string, error) {
	return m.ciphertextName(name, dirID, t, false)
}

// CiphertextNameForCreate is CiphertextName for paths about to be created:
// an over-threshold name gets its sidecar written (or verified) in m/.
func (m *PathMapper) CiphertextNameForCreate(name, dirID string, t CiphertextFileType) (string, error) {
	return m.ciphertextName(name, dirID, t, true)
}

func (m *PathMapper) ciphertextName(name, dirID string, t CiphertextFileType, create bool) (string, error) {
	encrypted, err := m.cryptor.EncryptFilename(name, dirID)
	if err != nil {
		return "", err
	}

	var full string
	switch t {
	case TypeDirectory:
		full = dirPrefix + encrypted
	case TypeSymlink:
		full = symlinkPrefix + encrypted
	default:
		full = encrypted
	}

	if len(full) <= ShortNameThreshold {
		return full, nil
	}
	if create {
		return m.longNames.Deflate(full)
	}
	return deflatedName(full), nil
}

// CiphertextFilePath returns the host path of the entry for cleartextPath,
// assuming it is of the given type.
func (m *PathMapper) CiphertextFilePath(cleartextPath string, t CiphertextFileType) (string, error) {
	return m.ciphertextFilePath(cleartextPath, t, false)
}

// CiphertextFilePathForCreate resolves the host path for an entry about to
// be created, materializing its long-name sidecar if needed.
func (m *PathMapper) CiphertextFilePathForCreate(cleartextPath string, t CiphertextFileType) (string, error) {
	return m.ciphertextFilePath(cleartextPath, t, true)
}

func (m *PathMapper) ciphertextFilePath(cleartextPath string, t CiphertextFileType, create bool) (string, error) {
	p := path.Clean(cleartextPath)
	if p == "/" {
		return "", NewValidationError("path", cleartextPath, "root has no ciphertext file path")
	}
	parent, err := m.CiphertextDir(path.Dir(p))
	if err != nil {
		return "", err
	}
	name, err := m.ciphertextName(path.Base(p), parent.ID, t, create)
	if err != nil {
		return "", err
	}
	return path.Join(parent.Path, name), nil
}

// CiphertextFileType probes what kind of entry a cleartext path resolves to.
// When multiple candidates exist for the same basename the precedence is
// directory, then symlink, then regular file.
func (m *PathMapper) CiphertextFileType(cleartextPath string) (CiphertextFileType, error) {
	p := path.Clean(cleartextPath)
	if p == "/" {
		return TypeDirectory, nil
	}

	parent, err := m.CiphertextDir(path.Dir(p))
	if err != nil {
		if os.IsNotExist(err) {
			return TypeMissing, nil
		}
		return TypeMissing, err
	}

	for _, t := range []CiphertextFileType{TypeDirectory, TypeSymlink, TypeFile} {
		name, err := m.CiphertextName(path.Base(p), parent.ID, t)
		if err != nil {
			return TypeMissing, err
		}
		if _, err := m.fsys.Stat(path.Join(parent.Path, name)); err == nil {
			return t, nil
		} else if !os.IsNotExist(err) {
			return TypeMissing, fmt.Errorf("failed to probe %s candidate: %w", t, err)
		}
	}
	return TypeMissing, nil
}

// Invalidate flushes the cached resolution for cleartextPath and all of its
// descendants. Must be called on every structural change.
func (m *PathMapper) Invalidate(cleartextPath string) {
	p := path.Clean(cleartextPath)
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, key := range m.order {
		if key == p || strings.HasPrefix(key, prefix) {
			delete(m.cache, key)
			continue
		}
		kept = append(kept, key)
	}
	m.order = kept
}

func (m *PathMapper) put(p string, dir CiphertextDirectory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[p]; ok {
		m.cache[p] = dir
		return
	}
	if len(m.cache) >= m.capacity && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, oldest)
	}
	m.cache[p] = dir
	m.order = append(m.order, p)
}
