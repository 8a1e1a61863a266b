package vaultfs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// sivEngine implements AES-SIV (RFC 5297) deterministic authenticated
// encryption. Filename encryption needs determinism so that the same
// cleartext name under the same directory always maps to the same ciphertext
// name; the associated data binds each name to its owning directory.
type sivEngine struct {
	macKey []byte // first half, keys S2V
	ctrKey []byte // second half, keys CTR
	block  cipher.Block
}

// newSIVEngine creates an AES-SIV engine. The key must be 64 bytes; it is
// split into a 32-byte S2V key and a 32-byte CTR key.
func newSIVEngine(key []byte) (*sivEngine, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("AES-SIV requires a 64-byte key, got %d bytes", len(key))
	}

	macKey := key[:32]
	ctrKey := key[32:]

	block, err := aes.NewCipher(ctrKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	return &sivEngine{
		macKey: macKey,
		ctrKey: ctrKey,
		block:  block,
	}, nil
}

// Seal encrypts plaintext deterministically. The result is the 16-byte
// synthetic IV followed by the CTR ciphertext.
func (e *sivEngine) Seal(plaintext []byte, associatedData ...[]byte) ([]byte, error) {
	siv := e.s2v(plaintext, associatedData...)

	ciphertext := make([]byte, len(plaintext))
	e.ctrMode(siv, plaintext, ciphertext)

	result := make([]byte, 16+len(ciphertext))
	copy(result[:16], siv)
	copy(result[16:], ciphertext)

	return result, nil
}

// Open decrypts and authenticates a Seal result. The associated data must
// match what was used during encryption.
func (e *sivEngine) Open(ciphertext []byte, associatedData ...[]byte) ([]byte, error) {
	if len(ciphertext) < 16 {
		return nil, fmt.Errorf("siv ciphertext too short: %d bytes", len(ciphertext))
	}

	siv := ciphertext[:16]
	ct := ciphertext[16:]

	plaintext := make([]byte, len(ct))
	e.ctrMode(siv, ct, plaintext)

	expected := e.s2v(plaintext, associatedData...)
	if subtle.ConstantTimeCompare(siv, expected) != 1 {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// s2v implements the S2V construction from RFC 5297 section 2.4.
func (e *sivEngine) s2v(plaintext []byte, associatedData ...[]byte) []byte {
	block, _ := aes.NewCipher(e.macKey)

	// D = CMAC(zero block), folded with each associated-data string.
	d := e.cmac(block, make([]byte, 16))
	for _, ad := range associatedData {
		d = xorSlices(dbl(d), e.cmac(block, ad))
	}

	var t []byte
	if len(plaintext) >= 16 {
		// xorend: the final 16 bytes absorb D.
		t = make([]byte, len(plaintext))
		copy(t, plaintext)
		xorInto(t[len(t)-16:], d)
	} else {
		t = xorSlices(dbl(d), padBlock(plaintext))
	}

	return e.cmac(block, t)
}

// cmac implements AES-CMAC (NIST SP 800-38B).
func (e *sivEngine) cmac(block cipher.Block, data []byte) []byte {
	sub1, sub2 := cmacSubkeys(block)

	n := (len(data) + 15) / 16
	if n == 0 {
		n = 1
	}

	lastBlock := make([]byte, 16)
	if len(data) == 0 || len(data)%16 != 0 {
		copy(lastBlock, data[16*(n-1):])
		lastBlock = padBlock(lastBlock[:len(data)%16])
		xorInto(lastBlock, sub2)
	} else {
		copy(lastBlock, data[16*(n-1):])
		xorInto(lastBlock, sub1)
	}

	mac := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		xorInto(mac, data[i*16:(i+1)*16])
		block.Encrypt(mac, mac)
	}
	xorInto(mac, lastBlock)
	block.Encrypt(mac, mac)

	return mac
}

// ctrMode runs AES-CTR with the SIV as IV, clearing the two reserved bits
// per RFC 5297 section 2.5.
func (e *sivEngine) ctrMode(iv, src, dst []byte) {
	ctr := make([]byte, 16)
	copy(ctr, iv)
	ctr[8] &= 0x7f
	ctr[12] &= 0x7f

	stream := cipher.NewCTR(e.block, ctr)
	stream.XORKeyStream(dst, src)
}

// dbl doubles a block in GF(2^128).
func dbl(block []byte) []byte {
	result := make([]byte, 16)
	carry := uint64(0)

	for i := 0; i < 2; i++ {
		offset := (1 - i) * 8
		val := binary.BigEndian.Uint64(block[offset : offset+8])
		binary.BigEndian.PutUint64(result[offset:offset+8], (val<<1)|carry)
		carry = val >> 63
	}

	if carry != 0 {
		result[15] ^= 0x87
	}

	return result
}

// padBlock applies the 10* padding used by CMAC and S2V.
func padBlock(data []byte) []byte {
	result := make([]byte, 16)
	copy(result, data)
	result[len(data)] = 0x80
	return result
}

func xorSlices(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := 0; i < len(a) && i < len(b); i++ {
		result[i] = a[i] ^ b[i]
	}
	return result
}

func xorInto(a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		a[i] ^= b[i]
	}
}

// cmacSubkeys derives the two CMAC subkeys from the block cipher.
func cmacSubkeys(block cipher.Block) ([]byte, []byte) {
	l := make([]byte, 16)
	block.Encrypt(l, l)

	k1 := dbl(l)
	k2 := dbl(k1)

	return k1, k2
}
