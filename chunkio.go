package vaultfs

import (
	"fmt"
	"io"

	"github.com/absfs/absfs"
)

// chunkIO reads and writes sealed chunks at their fixed positions inside a
// ciphertext file. Chunk n occupies ciphertext bytes
// [HeaderSize + n*ChunkCiphertextSize, HeaderSize + (n+1)*ChunkCiphertextSize).
type chunkIO struct {
	f       absfs.File
	cryptor *Cryptor
	header  *FileHeader
	path    string
}

func chunkOffset(index uint64) int64 {
	return HeaderSize + int64(index)*ChunkCiphertextSize
}

// ReadChunk reads and opens chunk index. A read past the ciphertext end
// returns a zero-length chunk; a trailing partial chunk returns its partial
// cleartext.
func (c *chunkIO) ReadChunk(index uint64) ([]byte, error) {
	buf := make([]byte, ChunkCiphertextSize)
	n, err := c.f.ReadAt(buf, chunkOffset(index))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	if n == 0 {
		return nil, nil
	}
	if n < ChunkOverhead {
		return nil, NewCorruptionError(c.path, fmt.Sprintf("chunk %d truncated to %d bytes", index, n))
	}

	plaintext, err := c.cryptor.DecryptChunk(c.header, index, buf[:n])
	if err != nil {
		return nil, NewCryptoError("decrypt", c.path, index, err)
	}
	return plaintext, nil
}

// WriteChunk seals plaintext as chunk index and writes it in place.
func (c *chunkIO) WriteChunk(index uint64, plaintext []byte) error {
	sealed, err := c.cryptor.EncryptChunk(c.header, index, plaintext)
	if err != nil {
		return NewCryptoError("encrypt", c.path, index, err)
	}
	return c.writeSealed(index, sealed)
}

// writeSealed places an already-sealed chunk at its position.
func (c *chunkIO) writeSealed(index uint64, sealed []byte) error {
	if _, err := c.f.WriteAt(sealed, chunkOffset(index)); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	return nil
}
