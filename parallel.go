package vaultfs

import (
	"errors"
	"runtime"
	"sync"
)

// ParallelConfig controls parallel chunk sealing during flush.
type ParallelConfig struct {
	// Enabled turns on parallel sealing.
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines.
	// If 0, defaults to runtime.NumCPU().
	MaxWorkers int

	// MinChunksForParallel is the minimum number of dirty chunks before the
	// parallel path is used; smaller flushes run sequentially. Defaults to 4.
	MinChunksForParallel int
}

// Validate checks if the parallel configuration is valid.
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinChunksForParallel < 0 {
		return errors.New("parallel min chunks threshold cannot be negative")
	}
	return nil
}

// DefaultParallelConfig returns the default parallel sealing configuration.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:              true,
		MaxWorkers:           runtime.NumCPU(),
		MinChunksForParallel: 4,
	}
}

// chunkJob carries one chunk through the sealing pool.
type chunkJob struct {
	index     uint64
	plaintext []byte
	sealed    []byte
}

// parallelSealer seals batches of chunks on a bounded worker pool. Sealing is
// CPU-bound (AES-CTR plus HMAC), so it parallelizes well; the ordered
// write-out stays with the caller.
type parallelSealer struct {
	workers   int
	minChunks int
}

func newParallelSealer(cfg ParallelConfig) *parallelSealer {
	if !cfg.Enabled {
		return nil
	}
	workers := cfg.MaxWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	minChunks := cfg.MinChunksForParallel
	if minChunks == 0 {
		minChunks = 4
	}
	return &parallelSealer{workers: workers, minChunks: minChunks}
}

func (s *parallelSealer) worthIt(chunkCount int) bool {
	return chunkCount >= s.minChunks && s.workers > 1
}

// sealAll fills in the sealed ciphertext of every job. The first error wins;
// remaining jobs still run to completion.
func (s *parallelSealer) sealAll(io *chunkIO, jobs []chunkJob) error {
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job *chunkJob) {
			defer wg.Done()
			defer func() { <-sem }()

			sealed, err := io.cryptor.EncryptChunk(io.header, job.index, job.plaintext)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = NewCryptoError("encrypt", io.path, job.index, err)
				}
				mu.Unlock()
				return
			}
			job.sealed = sealed
		}(&jobs[i])
	}

	wg.Wait()
	return firstErr
}
