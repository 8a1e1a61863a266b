package vaultfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"fmt"
)

const (
	// ChunkPayloadSize is the cleartext capacity of one chunk.
	ChunkPayloadSize = 32768

	// ChunkOverhead is the per-chunk framing cost: 16-byte nonce plus
	// 32-byte MAC.
	ChunkOverhead = chunkNonceSize + chunkMacSize

	// ChunkCiphertextSize is the on-disk size of one full chunk.
	ChunkCiphertextSize = ChunkPayloadSize + ChunkOverhead

	chunkNonceSize = 16
	chunkMacSize   = 32
)

// base32enc encodes ciphertext names and hashed directory ids. No padding:
// every encoded byte lands in a filename.
var base32enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// Cryptor bundles the vault's cryptographic operations: file header
// encryption, chunk sealing, and deterministic filename encryption. All
// methods are safe for concurrent use.
type Cryptor struct {
	encKey []byte
	macKey []byte
	siv    *sivEngine
}

// NewCryptor builds a Cryptor over the master key. The filename cipher is
// keyed with the concatenation of the MAC and encryption keys.
func NewCryptor(key *MasterKey) (*Cryptor, error) {
	if key == nil || key.Destroyed() {
		return nil, NewValidationError("masterKey", nil, "master key is nil or destroyed")
	}

	sivKey := make([]byte, 0, 64)
	sivKey = append(sivKey, key.macKey...)
	sivKey = append(sivKey, key.encKey...)
	siv, err := newSIVEngine(sivKey)
	if err != nil {
		return nil, err
	}

	return &Cryptor{
		encKey: key.encKey,
		macKey: key.macKey,
		siv:    siv,
	}, nil
}

// NewFileHeader generates a header with a fresh nonce and content key.
func (c *Cryptor) NewFileHeader() (*FileHeader, error) {
	h := &FileHeader{ContentKey: make([]byte, headerContentKeySize)}
	if _, err := rand.Read(h.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate header nonce: %w", err)
	}
	if _, err := rand.Read(h.ContentKey); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	return h, nil
}

// EncryptHeader seals a header into its 88-byte ciphertext form.
func (c *Cryptor) EncryptHeader(h *FileHeader) ([]byte, error) {
	if len(h.ContentKey) != headerContentKeySize {
		return nil, NewValidationError("contentKey", len(h.ContentKey), "content key must be 32 bytes")
	}

	payload := make([]byte, headerPayloadSize)
	copy(payload, h.ContentKey)
	for i := headerContentKeySize; i < headerPayloadSize; i++ {
		payload[i] = headerSentinelByte
	}

	out := make([]byte, HeaderSize)
	copy(out, h.Nonce[:])

	if err := ctrCrypt(c.encKey, h.Nonce[:], out[headerNonceSize:headerNonceSize+headerPayloadSize], payload); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(out[:headerNonceSize+headerPayloadSize])
	copy(out[headerNonceSize+headerPayloadSize:], mac.Sum(nil))

	return out, nil
}

// DecryptHeader verifies and opens an 88-byte header ciphertext.
func (c *Cryptor) DecryptHeader(buf []byte) (*FileHeader, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("%w: header must be %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(buf))
	}

	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(buf[:headerNonceSize+headerPayloadSize])
	if !hmac.Equal(mac.Sum(nil), buf[headerNonceSize+headerPayloadSize:]) {
		return nil, ErrAuthFailed
	}

	h := &FileHeader{ContentKey: make([]byte, headerContentKeySize)}
	copy(h.Nonce[:], buf[:headerNonceSize])

	payload := make([]byte, headerPayloadSize)
	if err := ctrCrypt(c.encKey, h.Nonce[:], payload, buf[headerNonceSize:headerNonceSize+headerPayloadSize]); err != nil {
		return nil, err
	}
	copy(h.ContentKey, payload[:headerContentKeySize])

	for i := headerContentKeySize; i < headerPayloadSize; i++ {
		if payload[i] != headerSentinelByte {
			h.Destroy()
			return nil, ErrInvalidHeader
		}
	}

	return h, nil
}

// EncryptChunk seals one cleartext chunk. The MAC covers the header nonce,
// the big-endian chunk index, the chunk nonce, and the ciphertext, which pins
// every chunk to its file and ordinal position.
func (c *Cryptor) EncryptChunk(h *FileHeader, index uint64, plaintext []byte) ([]byte, error) {
	if len(plaintext) > ChunkPayloadSize {
		return nil, NewValidationError("plaintext", len(plaintext), "chunk payload too large")
	}

	out := make([]byte, chunkNonceSize+len(plaintext)+chunkMacSize)
	nonce := out[:chunkNonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate chunk nonce: %w", err)
	}

	ct := out[chunkNonceSize : chunkNonceSize+len(plaintext)]
	if err := ctrCrypt(h.ContentKey, nonce, ct, plaintext); err != nil {
		return nil, err
	}

	copy(out[chunkNonceSize+len(plaintext):], c.chunkMac(h, index, nonce, ct))
	return out, nil
}

// DecryptChunk verifies and opens one chunk ciphertext.
func (c *Cryptor) DecryptChunk(h *FileHeader, index uint64, buf []byte) ([]byte, error) {
	if len(buf) < ChunkOverhead {
		return nil, NewCorruptionError("", fmt.Sprintf("chunk %d too short: %d bytes", index, len(buf)))
	}

	nonce := buf[:chunkNonceSize]
	ct := buf[chunkNonceSize : len(buf)-chunkMacSize]
	tag := buf[len(buf)-chunkMacSize:]

	if !hmac.Equal(tag, c.chunkMac(h, index, nonce, ct)) {
		return nil, ErrAuthFailed
	}

	plaintext := make([]byte, len(ct))
	if err := ctrCrypt(h.ContentKey, nonce, plaintext, ct); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (c *Cryptor) chunkMac(h *FileHeader, index uint64, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(h.Nonce[:])
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	mac.Write(idx[:])
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// EncryptFilename deterministically encrypts a cleartext name. The owning
// directory's id is associated data, so the same name under two directories
// yields distinct ciphertext.
func (c *Cryptor) EncryptFilename(name, dirID string) (string, error) {
	if name == "" {
		return "", NewValidationError("name", name, "name cannot be empty")
	}
	sealed, err := c.siv.Seal([]byte(name), []byte(dirID))
	if err != nil {
		return "", err
	}
	return base32enc.EncodeToString(sealed), nil
}

// DecryptFilename reverses EncryptFilename. Fails with ErrAuthFailed when the
// name was not produced under the given directory id.
func (c *Cryptor) DecryptFilename(ciphertext, dirID string) (string, error) {
	raw, err := base32enc.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode filename: %w", err)
	}
	name, err := c.siv.Open(raw, []byte(dirID))
	if err != nil {
		return "", err
	}
	return string(name), nil
}

// ctrCrypt runs AES-CTR keyed with key and the 16-byte iv over src into dst.
func ctrCrypt(key, iv, dst, src []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(dst, src)
	return nil
}

// CiphertextFileSize returns the on-disk size of a file with the given
// cleartext length.
func CiphertextFileSize(cleartextSize int64) int64 {
	full := cleartextSize / ChunkPayloadSize
	rem := cleartextSize % ChunkPayloadSize
	size := int64(HeaderSize) + full*ChunkCiphertextSize
	if rem > 0 {
		size += rem + ChunkOverhead
	}
	return size
}

// CleartextFileSize derives the cleartext length from a ciphertext size.
// Returns an error for sizes no valid file can have: smaller than a header,
// or with a trailing fragment too short to hold a nonce, a MAC and at least
// one payload byte.
func CleartextFileSize(ciphertextSize int64) (int64, error) {
	payload := ciphertextSize - HeaderSize
	if payload < 0 {
		return 0, NewCorruptionError("", fmt.Sprintf("ciphertext size %d smaller than header", ciphertextSize))
	}
	full := payload / ChunkCiphertextSize
	rem := payload % ChunkCiphertextSize
	if rem == 0 {
		return full * ChunkPayloadSize, nil
	}
	if rem <= ChunkOverhead {
		return 0, NewCorruptionError("", fmt.Sprintf("ciphertext size %d has invalid trailing fragment of %d bytes", ciphertextSize, rem))
	}
	return full*ChunkPayloadSize + rem - ChunkOverhead, nil
}
