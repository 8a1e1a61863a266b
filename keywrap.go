package vaultfs

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// AES key wrap (RFC 3394). The masterkey file stores the vault's two 256-bit
// keys wrapped under a scrypt-derived key-encryption key; the integrity check
// built into unwrapping is what turns a wrong passphrase into a detectable
// error instead of garbage keys.

// keywrapIV is the initial value from RFC 3394 section 2.2.3.
var keywrapIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// wrapKey wraps plaintext key material under kek. The plaintext must be a
// multiple of 8 bytes and at least 16; the result is 8 bytes longer.
func wrapKey(kek, plaintext []byte) ([]byte, error) {
	if len(plaintext) < 16 || len(plaintext)%8 != 0 {
		return nil, fmt.Errorf("key wrap requires a multiple of 8 bytes >= 16, got %d", len(plaintext))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	n := len(plaintext) / 8
	r := make([][]byte, n)
	for i := range r {
		r[i] = make([]byte, 8)
		copy(r[i], plaintext[i*8:])
	}

	a := make([]byte, 8)
	copy(a, keywrapIV[:])

	buf := make([]byte, 16)
	for j := 0; j < 6; j++ {
		for i := 0; i < n; i++ {
			copy(buf[:8], a)
			copy(buf[8:], r[i])
			block.Encrypt(buf, buf)

			t := uint64(n*j + i + 1)
			copy(a, buf[:8])
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(a)^t)
			copy(a, buf[:8])
			copy(r[i], buf[8:])
		}
	}

	out := make([]byte, 8+len(plaintext))
	copy(out, a)
	for i := 0; i < n; i++ {
		copy(out[8+i*8:], r[i])
	}
	return out, nil
}

// unwrapKey reverses wrapKey. An integrity failure (wrong kek or tampered
// ciphertext) returns ErrInvalidPassphrase, since in this vault the only kek
// is passphrase-derived.
func unwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, fmt.Errorf("wrapped key must be a multiple of 8 bytes >= 24, got %d", len(wrapped))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	n := len(wrapped)/8 - 1
	a := make([]byte, 8)
	copy(a, wrapped[:8])

	r := make([][]byte, n)
	for i := range r {
		r[i] = make([]byte, 8)
		copy(r[i], wrapped[8+i*8:])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			binary.BigEndian.PutUint64(buf[:8], binary.BigEndian.Uint64(a)^t)
			copy(buf[8:], r[i])
			block.Decrypt(buf, buf)

			copy(a, buf[:8])
			copy(r[i], buf[8:])
		}
	}

	if subtle.ConstantTimeCompare(a, keywrapIV[:]) != 1 {
		return nil, ErrInvalidPassphrase
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:], r[i])
	}
	return out, nil
}
