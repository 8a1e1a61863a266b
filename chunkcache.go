package vaultfs

import (
	"sort"
	"sync"
)

// cachedChunk is one cleartext chunk held in memory. data is at most
// ChunkPayloadSize bytes; dirty marks it as needing write-out.
type cachedChunk struct {
	data  []byte
	dirty bool
}

// chunkCache is a bounded LRU of cleartext chunks keyed by chunk index.
// Evicting a dirty entry writes it through; Flush writes all dirty entries in
// ascending index order.
type chunkCache struct {
	io       *chunkIO
	capacity int

	mu     sync.RWMutex
	chunks map[uint64]*cachedChunk
	lru    []uint64
}

func newChunkCache(io *chunkIO, capacity int) *chunkCache {
	if capacity < 1 {
		capacity = DefaultChunkCacheCapacity
	}
	return &chunkCache{
		io:       io,
		capacity: capacity,
		chunks:   make(map[uint64]*cachedChunk),
		lru:      make([]uint64, 0, capacity),
	}
}

// Get returns the cached chunk for index, loading it from the ciphertext file
// on a miss. The returned chunk is owned by the cache; callers mutate it only
// while holding the owning OpenFile's write lock.
func (c *chunkCache) Get(index uint64) (*cachedChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chunk, ok := c.chunks[index]; ok {
		c.touch(index)
		return chunk, nil
	}

	data, err := c.io.ReadChunk(index)
	if err != nil {
		return nil, err
	}
	chunk := &cachedChunk{data: data}
	if err := c.insert(index, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetForOverwrite returns a chunk buffer for index without loading its
// current contents. Used when a write covers the chunk completely.
func (c *chunkCache) GetForOverwrite(index uint64) (*cachedChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if chunk, ok := c.chunks[index]; ok {
		c.touch(index)
		return chunk, nil
	}
	chunk := &cachedChunk{}
	if err := c.insert(index, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// insert adds a chunk, evicting the least recently used entry first if the
// cache is full. Caller holds c.mu.
func (c *chunkCache) insert(index uint64, chunk *cachedChunk) error {
	for len(c.chunks) >= c.capacity && len(c.lru) > 0 {
		oldest := c.lru[0]
		c.lru = c.lru[1:]
		victim := c.chunks[oldest]
		delete(c.chunks, oldest)
		if victim.dirty {
			if err := c.io.WriteChunk(oldest, victim.data); err != nil {
				return err
			}
		}
	}
	c.chunks[index] = chunk
	c.lru = append(c.lru, index)
	return nil
}

// touch moves index to the most recently used position. Caller holds c.mu.
func (c *chunkCache) touch(index uint64) {
	for i, key := range c.lru {
		if key == index {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			c.lru = append(c.lru, index)
			return
		}
	}
}

// Flush writes all dirty chunks in ascending index order.
func (c *chunkCache) Flush(sealer *parallelSealer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := make([]uint64, 0, len(c.chunks))
	for index, chunk := range c.chunks {
		if chunk.dirty {
			dirty = append(dirty, index)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i] < dirty[j] })

	if sealer != nil && sealer.worthIt(len(dirty)) {
		jobs := make([]chunkJob, len(dirty))
		for i, index := range dirty {
			jobs[i] = chunkJob{index: index, plaintext: c.chunks[index].data}
		}
		if err := sealer.sealAll(c.io, jobs); err != nil {
			return err
		}
		for i, index := range dirty {
			if err := c.io.writeSealed(index, jobs[i].sealed); err != nil {
				return err
			}
			c.chunks[index].dirty = false
		}
		return nil
	}

	for _, index := range dirty {
		if err := c.io.WriteChunk(index, c.chunks[index].data); err != nil {
			return err
		}
		c.chunks[index].dirty = false
	}
	return nil
}

// DropAbove discards all cached chunks with index > last, without writing
// them. Used by truncation; the caller shrinks the ciphertext file itself.
func (c *chunkCache) DropAbove(last int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.lru[:0]
	for _, index := range c.lru {
		if last < 0 || int64(index) > last {
			delete(c.chunks, index)
			continue
		}
		kept = append(kept, index)
	}
	c.lru = kept
}
