package vaultfs

import (
	"fmt"
	"log/slog"
)

// CiphertextFileType classifies what a cleartext path resolves to inside the
// data tree.
type CiphertextFileType uint8

const (
	// TypeMissing means no ciphertext entry exists for the path.
	TypeMissing CiphertextFileType = iota
	// TypeFile is a regular encrypted file (no marker prefix).
	TypeFile
	// TypeDirectory is a directory pointer file ("0" prefix).
	TypeDirectory
	// TypeSymlink is an encrypted symlink target file ("1S" prefix).
	TypeSymlink
)

// String returns the string representation of the file type.
func (t CiphertextFileType) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

const (
	// DefaultMasterkeyFilename is the name of the master key file inside the
	// vault root.
	DefaultMasterkeyFilename = "masterkey.cryptomator"

	// DefaultChunkCacheCapacity is the number of cleartext chunks each open
	// file keeps in memory.
	DefaultChunkCacheCapacity = 5

	// DefaultDirCacheCapacity bounds the path-mapper and directory-id caches.
	DefaultDirCacheCapacity = 5000
)

// Config contains configuration for opening or initializing a vault.
//
// The zero value is not usable: a passphrase is required.
type Config struct {
	// Passphrase unlocks the vault's master key. Required.
	Passphrase string

	// Pepper is an optional application-wide secret mixed into the key
	// derivation alongside the per-vault salt.
	Pepper []byte

	// MasterkeyFilename is the name of the master key file inside the vault
	// root. Defaults to DefaultMasterkeyFilename.
	MasterkeyFilename string

	// Readonly rejects all mutating operations.
	Readonly bool

	// MigrationEnabled reports whether the caller is prepared to migrate an
	// outdated vault. The core performs no migration itself: opening an old
	// vault fails with ErrVaultNeedsMigration either way, and the flag is
	// carried for the external migrator consuming this configuration.
	MigrationEnabled bool

	// ChunkCacheCapacity is the per-file chunk cache size. Defaults to
	// DefaultChunkCacheCapacity.
	ChunkCacheCapacity int

	// Parallel controls parallel chunk sealing during flush.
	Parallel ParallelConfig

	// Logger receives warnings about degraded results (malformed ciphertext
	// sizes, undecryptable directory entries). Defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return NewValidationError("config", nil, "config cannot be nil")
	}
	if c.Passphrase == "" {
		return NewValidationError("passphrase", nil, "passphrase is required")
	}
	if c.MasterkeyFilename == "" {
		c.MasterkeyFilename = DefaultMasterkeyFilename
	}
	if c.ChunkCacheCapacity == 0 {
		c.ChunkCacheCapacity = DefaultChunkCacheCapacity
	}
	if c.ChunkCacheCapacity < 1 {
		return NewValidationError("chunkCacheCapacity", c.ChunkCacheCapacity, "must be at least 1")
	}
	if err := c.Parallel.Validate(); err != nil {
		return err
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// ParseOptions builds a Config from a flat option map, rejecting any key it
// does not recognize.
//
// Recognized keys: "passphrase" (string, required), "pepper" ([]byte),
// "masterkeyFilename" (string), "readonly" (bool), "migrationEnabled" (bool).
func ParseOptions(opts map[string]any) (*Config, error) {
	cfg := &Config{}
	for key, value := range opts {
		switch key {
		case "passphrase":
			s, ok := value.(string)
			if !ok {
				return nil, NewValidationError(key, value, "must be a string")
			}
			cfg.Passphrase = s
		case "pepper":
			b, ok := value.([]byte)
			if !ok {
				return nil, NewValidationError(key, value, "must be a byte slice")
			}
			cfg.Pepper = b
		case "masterkeyFilename":
			s, ok := value.(string)
			if !ok {
				return nil, NewValidationError(key, value, "must be a string")
			}
			cfg.MasterkeyFilename = s
		case "readonly":
			b, ok := value.(bool)
			if !ok {
				return nil, NewValidationError(key, value, "must be a bool")
			}
			cfg.Readonly = b
		case "migrationEnabled":
			b, ok := value.(bool)
			if !ok {
				return nil, NewValidationError(key, value, "must be a bool")
			}
			cfg.MigrationEnabled = b
		default:
			return nil, NewValidationError(key, value, fmt.Sprintf("unrecognized option %q", key))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
