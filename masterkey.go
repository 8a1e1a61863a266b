package vaultfs

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/absfs/absfs"
	"golang.org/x/crypto/scrypt"
)

const (
	// VaultVersion is the vault format version this implementation reads and
	// writes. Older vaults need migration; newer ones are rejected.
	VaultVersion = 6

	// DefaultScryptCostParam is the scrypt N parameter for new vaults.
	DefaultScryptCostParam = 32768

	// DefaultScryptBlockSize is the scrypt r parameter for new vaults.
	DefaultScryptBlockSize = 8

	// scrypt p is fixed and not persisted in the masterkey file.
	scryptParallelism = 1

	masterKeySize = 32
	scryptSaltSize = 8
)

// MasterKey holds the vault's two symmetric keys: one for content and
// filename encryption, one for MACs. The material is zeroized by Destroy.
type MasterKey struct {
	encKey    []byte
	macKey    []byte
	version   int
	destroyed bool
}

// newMasterKey generates fresh random key material.
func newMasterKey() (*MasterKey, error) {
	encKey := make([]byte, masterKeySize)
	macKey := make([]byte, masterKeySize)
	if _, err := rand.Read(encKey); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if _, err := rand.Read(macKey); err != nil {
		return nil, fmt.Errorf("failed to generate mac key: %w", err)
	}
	return &MasterKey{encKey: encKey, macKey: macKey, version: VaultVersion}, nil
}

// Version returns the vault format version the key was loaded from.
func (k *MasterKey) Version() int {
	return k.version
}

// Destroy zeroizes the key material. The key is unusable afterwards.
func (k *MasterKey) Destroy() {
	for i := range k.encKey {
		k.encKey[i] = 0
	}
	for i := range k.macKey {
		k.macKey[i] = 0
	}
	k.destroyed = true
}

// Destroyed reports whether the key material has been zeroized.
func (k *MasterKey) Destroyed() bool {
	return k.destroyed
}

// masterkeyFile is the JSON document persisted as masterkey.cryptomator.
// Byte slices marshal as base64, matching the on-disk format.
type masterkeyFile struct {
	Version          int    `json:"version"`
	ScryptSalt       []byte `json:"scryptSalt"`
	ScryptCostParam  int    `json:"scryptCostParam"`
	ScryptBlockSize  int    `json:"scryptBlockSize"`
	PrimaryMasterKey []byte `json:"primaryMasterKey"`
	HmacMasterKey    []byte `json:"hmacMasterKey"`
	VersionMac       []byte `json:"versionMac"`
}

// deriveKEK stretches the passphrase into a key-encryption key. The pepper,
// if any, is appended to the per-vault salt.
func deriveKEK(passphrase string, salt, pepper []byte, costParam, blockSize int) ([]byte, error) {
	saltAndPepper := make([]byte, 0, len(salt)+len(pepper))
	saltAndPepper = append(saltAndPepper, salt...)
	saltAndPepper = append(saltAndPepper, pepper...)

	kek, err := scrypt.Key([]byte(passphrase), saltAndPepper, costParam, blockSize, scryptParallelism, masterKeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return kek, nil
}

func (k *MasterKey) versionMac() []byte {
	mac := hmac.New(sha256.New, k.macKey)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(k.version))
	mac.Write(buf[:])
	return mac.Sum(nil)
}

// CreateMasterkey generates a fresh master key and persists it, wrapped under
// the passphrase, at the given path. A backup copy is written next to it.
func CreateMasterkey(fsys absfs.FileSystem, path, passphrase string, pepper []byte) (*MasterKey, error) {
	if passphrase == "" {
		return nil, NewValidationError("passphrase", nil, "passphrase is required")
	}

	key, err := newMasterKey()
	if err != nil {
		return nil, err
	}

	if err := writeMasterkeyFile(fsys, path, key, passphrase, pepper); err != nil {
		key.Destroy()
		return nil, err
	}
	return key, nil
}

func writeMasterkeyFile(fsys absfs.FileSystem, path string, key *MasterKey, passphrase string, pepper []byte) error {
	salt := make([]byte, scryptSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate scrypt salt: %w", err)
	}

	kek, err := deriveKEK(passphrase, salt, pepper, DefaultScryptCostParam, DefaultScryptBlockSize)
	if err != nil {
		return err
	}

	wrappedEnc, err := wrapKey(kek, key.encKey)
	if err != nil {
		return err
	}
	wrappedMac, err := wrapKey(kek, key.macKey)
	if err != nil {
		return err
	}

	doc := masterkeyFile{
		Version:          key.version,
		ScryptSalt:       salt,
		ScryptCostParam:  DefaultScryptCostParam,
		ScryptBlockSize:  DefaultScryptBlockSize,
		PrimaryMasterKey: wrappedEnc,
		HmacMasterKey:    wrappedMac,
		VersionMac:       key.versionMac(),
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode masterkey file: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAll(fsys, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write masterkey file: %w", err)
	}
	// Best-effort backup copy; the vault opens fine without it.
	_ = writeFileAll(fsys, path+".bc", data, 0600)
	return nil
}

// LoadMasterkey reads and unwraps the master key at the given path.
//
// Returns ErrInvalidPassphrase when the passphrase does not unlock the keys,
// ErrVaultNeedsMigration for vaults in an older format, and
// ErrUnsupportedVaultVersion for vaults newer than this implementation.
func LoadMasterkey(fsys absfs.FileSystem, path, passphrase string, pepper []byte) (*MasterKey, error) {
	data, err := readFileAll(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read masterkey file: %w", err)
	}

	var doc masterkeyFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewCorruptionError(path, fmt.Sprintf("malformed masterkey file: %v", err))
	}

	switch {
	case doc.Version < VaultVersion:
		return nil, fmt.Errorf("%w: vault version %d", ErrVaultNeedsMigration, doc.Version)
	case doc.Version > VaultVersion:
		return nil, fmt.Errorf("%w: vault version %d", ErrUnsupportedVaultVersion, doc.Version)
	}
	if doc.ScryptCostParam < 2 || doc.ScryptBlockSize < 1 {
		return nil, NewCorruptionError(path, "invalid scrypt parameters")
	}

	kek, err := deriveKEK(passphrase, doc.ScryptSalt, pepper, doc.ScryptCostParam, doc.ScryptBlockSize)
	if err != nil {
		return nil, err
	}

	encKey, err := unwrapKey(kek, doc.PrimaryMasterKey)
	if err != nil {
		return nil, err
	}
	macKey, err := unwrapKey(kek, doc.HmacMasterKey)
	if err != nil {
		return nil, err
	}

	key := &MasterKey{encKey: encKey, macKey: macKey, version: doc.Version}
	if !hmac.Equal(doc.VersionMac, key.versionMac()) {
		key.Destroy()
		return nil, NewCorruptionError(path, "version mac mismatch")
	}
	return key, nil
}

// ChangePassphrase re-wraps the master key under a new passphrase. File
// contents are untouched; only the masterkey file is rewritten.
func ChangePassphrase(fsys absfs.FileSystem, path, oldPassphrase, newPassphrase string, pepper []byte) error {
	if newPassphrase == "" {
		return NewValidationError("passphrase", nil, "new passphrase is required")
	}

	key, err := LoadMasterkey(fsys, path, oldPassphrase, pepper)
	if err != nil {
		return err
	}
	defer key.Destroy()

	return writeMasterkeyFile(fsys, path, key, newPassphrase, pepper)
}
