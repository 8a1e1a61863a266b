package vaultfs

import (
	"fmt"
)

// Symlink targets are stored as whole-blob ciphertext files: an ordinary
// file header followed by a single sealed chunk holding the target string.
// The entry name carries the "1S" marker prefix.

// encodeSymlinkTarget seals a symlink target into its on-disk blob form.
func (v *VaultFS) encodeSymlinkTarget(target string) ([]byte, error) {
	if target == "" {
		return nil, NewValidationError("target", target, "symlink target cannot be empty")
	}
	if len(target) > ChunkPayloadSize {
		return nil, NewValidationError("target", len(target), "symlink target too long")
	}

	header, err := v.cryptor.NewFileHeader()
	if err != nil {
		return nil, err
	}
	defer header.Destroy()

	sealedHeader, err := v.cryptor.EncryptHeader(header)
	if err != nil {
		return nil, err
	}
	sealedTarget, err := v.cryptor.EncryptChunk(header, 0, []byte(target))
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(sealedHeader)+len(sealedTarget))
	blob = append(blob, sealedHeader...)
	blob = append(blob, sealedTarget...)
	return blob, nil
}

// decodeSymlinkTarget opens a symlink blob back into the target string.
func (v *VaultFS) decodeSymlinkTarget(ctPath string, blob []byte) (string, error) {
	if len(blob) < HeaderSize+ChunkOverhead {
		return "", NewCorruptionError(ctPath, fmt.Sprintf("symlink blob too short: %d bytes", len(blob)))
	}

	header, err := v.cryptor.DecryptHeader(blob[:HeaderSize])
	if err != nil {
		return "", err
	}
	defer header.Destroy()

	target, err := v.cryptor.DecryptChunk(header, 0, blob[HeaderSize:])
	if err != nil {
		return "", NewCryptoError("decrypt", ctPath, 0, err)
	}
	return string(target), nil
}
