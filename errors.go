package vaultfs

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers of the filesystem API.
var (
	// ErrInvalidPassphrase indicates the supplied passphrase does not unlock
	// the vault's master key.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrUnsupportedVaultVersion indicates the masterkey file declares a
	// vault format newer than this implementation understands.
	ErrUnsupportedVaultVersion = errors.New("unsupported vault version")

	// ErrVaultNeedsMigration indicates the vault uses an older format that
	// must be migrated before it can be opened.
	ErrVaultNeedsMigration = errors.New("vault needs migration")

	// ErrVaultClosed is returned by operations on a closed VaultFS.
	ErrVaultClosed = errors.New("filesystem closed")

	// ErrFileClosed is returned by operations on a closed file channel.
	ErrFileClosed = errors.New("file already closed")

	// ErrReadOnly is returned for mutating operations on a read-only vault.
	ErrReadOnly = errors.New("filesystem is read-only")

	// ErrNotDirectory is returned when a path component resolves to
	// something other than a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is returned when a file operation targets a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty is returned when removing a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrAuthFailed indicates an authentication tag mismatch: the ciphertext
	// has been corrupted or tampered with.
	ErrAuthFailed = errors.New("authentication failed - data may be corrupted or tampered")

	// ErrInvalidHeader indicates a file header that failed to decrypt or
	// carries an unexpected sentinel.
	ErrInvalidHeader = errors.New("invalid file header")

	// ErrNilBuffer is returned when a nil buffer is passed to a read or
	// write operation.
	ErrNilBuffer = errors.New("buffer cannot be nil")

	// ErrNegativeOffset is returned for negative file offsets.
	ErrNegativeOffset = errors.New("negative offset not allowed")
)

// CryptoError represents an encryption or decryption failure on file content.
type CryptoError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // ciphertext path, if applicable
	Chunk     uint64 // chunk index, if applicable
	Err       error
}

func (e *CryptoError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s error: %s (chunk %d): %v", e.Operation, e.Path, e.Chunk, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Operation, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// CorruptionError represents a structural defect in the vault: a malformed
// ciphertext size, a missing or mismatched long-name sidecar, a bad
// directory-id file.
type CorruptionError struct {
	Path    string
	Message string
	Err     error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a configuration or parameter validation error.
type ValidationError struct {
	Field   string
	Value   any
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewCorruptionError creates a new corruption error.
func NewCorruptionError(path, message string) error {
	return &CorruptionError{
		Path:    path,
		Message: message,
	}
}

// NewCryptoError creates a new crypto error.
func NewCryptoError(operation, path string, chunk uint64, err error) error {
	return &CryptoError{
		Operation: operation,
		Path:      path,
		Chunk:     chunk,
		Err:       err,
	}
}

// IsCorruptionError checks if an error is a corruption error.
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsCryptoError checks if an error is a crypto error.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
