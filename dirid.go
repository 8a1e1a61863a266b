package vaultfs

import (
	"fmt"
	"os"
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// dirIDLength is the textual length of a version-4 UUID.
const dirIDLength = 36

// DirectoryIDProvider resolves directory-pointer files to the UUID stored
// inside them. A bounded cache avoids re-reading pointer files on every path
// resolution. A directory move relocates the pointer file but never changes
// its contents, so cached ids stay valid across renames; deletion must
// invalidate the key.
type DirectoryIDProvider struct {
	fsys absfs.FileSystem

	mu       sync.RWMutex
	cache    map[string]string
	order    []string
	capacity int
}

func newDirectoryIDProvider(fsys absfs.FileSystem, capacity int) *DirectoryIDProvider {
	if capacity < 1 {
		capacity = DefaultDirCacheCapacity
	}
	return &DirectoryIDProvider{
		fsys:     fsys,
		cache:    make(map[string]string),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Load returns the directory id stored in the pointer file at ctPath.
func (p *DirectoryIDProvider) Load(ctPath string) (string, error) {
	p.mu.RLock()
	id, ok := p.cache[ctPath]
	p.mu.RUnlock()
	if ok {
		return id, nil
	}

	content, err := readFileAll(p.fsys, ctPath)
	if err != nil {
		return "", err
	}
	if len(content) != dirIDLength {
		return "", NewCorruptionError(ctPath, fmt.Sprintf("directory id must be %d bytes, got %d", dirIDLength, len(content)))
	}
	id = string(content)
	if _, err := uuid.Parse(id); err != nil {
		return "", NewCorruptionError(ctPath, fmt.Sprintf("malformed directory id: %v", err))
	}

	p.put(ctPath, id)
	return id, nil
}

// Create generates a fresh random id, writes the pointer file, and caches the
// mapping. Fails if a pointer file already exists at ctPath.
func (p *DirectoryIDProvider) Create(ctPath string) (string, error) {
	id := uuid.New().String()
	if err := writeFileExcl(p.fsys, ctPath, []byte(id), 0644); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("directory pointer already exists: %w", err)
		}
		return "", fmt.Errorf("failed to write directory pointer: %w", err)
	}
	p.put(ctPath, id)
	return id, nil
}

// Invalidate flushes the cached id for a pointer file. Called when the
// pointer is deleted or relocated.
func (p *DirectoryIDProvider) Invalidate(ctPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[ctPath]; !ok {
		return
	}
	delete(p.cache, ctPath)
	for i, key := range p.order {
		if key == ctPath {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *DirectoryIDProvider) put(ctPath, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[ctPath]; ok {
		p.cache[ctPath] = id
		return
	}
	if len(p.cache) >= p.capacity && len(p.order) > 0 {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, oldest)
	}
	p.cache[ctPath] = id
	p.order = append(p.order, ctPath)
}
