package vaultfs

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path"

	"github.com/absfs/absfs"
)

const (
	// ShortNameThreshold is the longest encoded entry name (marker prefix
	// included) stored directly in the data tree. Anything longer is
	// deflated into a sidecar under m/.
	ShortNameThreshold = 222

	// longNameSuffix marks deflated names and their sidecar files.
	longNameSuffix = ".lng"
)

// LongNameCodec deflates over-long ciphertext names into content-addressed
// sidecar files and inflates them back. A sidecar's name contains the SHA-1
// of its own contents, so a sidecar is written at most once and never
// rewritten; two different names hashing to the same sidecar is corruption.
type LongNameCodec struct {
	fsys    absfs.FileSystem
	metaDir string
}

func newLongNameCodec(fsys absfs.FileSystem, vaultRoot string) *LongNameCodec {
	return &LongNameCodec{fsys: fsys, metaDir: metaDirPath(vaultRoot)}
}

// isDeflatedName reports whether an on-disk entry name is a sidecar
// reference rather than a direct ciphertext name.
func isDeflatedName(name string) bool {
	return len(name) > len(longNameSuffix) && name[len(name)-len(longNameSuffix):] == longNameSuffix
}

// deflatedName computes the sidecar reference for a short name.
func deflatedName(shortName string) string {
	sum := sha1.Sum([]byte(shortName))
	return base32enc.EncodeToString(sum[:]) + longNameSuffix
}

// sidecarPath shards a deflated name into m/<AB>/<CD>/<name>.
func (l *LongNameCodec) sidecarPath(deflated string) string {
	return path.Join(l.metaDir, deflated[0:2], deflated[2:4], deflated)
}

// Deflate maps a short ciphertext name to its deflated reference, writing the
// sidecar on first use. Subsequent calls verify the existing sidecar instead
// of rewriting it.
func (l *LongNameCodec) Deflate(shortName string) (string, error) {
	deflated := deflatedName(shortName)
	sidecar := l.sidecarPath(deflated)

	existing, err := readFileAll(l.fsys, sidecar)
	switch {
	case err == nil:
		if string(existing) != shortName {
			return "", NewCorruptionError(sidecar, "sidecar contents do not match deflated name")
		}
		return deflated, nil
	case os.IsNotExist(err):
		// First reference: the one write this codec is allowed.
	default:
		return "", fmt.Errorf("failed to read sidecar: %w", err)
	}

	if err := mkdirAll(l.fsys, path.Dir(sidecar)); err != nil {
		return "", fmt.Errorf("failed to create sidecar directory: %w", err)
	}
	if err := writeFileExcl(l.fsys, sidecar, []byte(shortName), 0644); err != nil {
		if os.IsExist(err) {
			// Lost a creation race; the winner wrote identical contents or
			// the vault is corrupt. Re-read to find out.
			raced, rerr := readFileAll(l.fsys, sidecar)
			if rerr != nil {
				return "", fmt.Errorf("failed to re-read sidecar: %w", rerr)
			}
			if string(raced) != shortName {
				return "", NewCorruptionError(sidecar, "sidecar contents do not match deflated name")
			}
			return deflated, nil
		}
		return "", fmt.Errorf("failed to write sidecar: %w", err)
	}
	return deflated, nil
}

// Inflate reads back the full short name behind a deflated reference.
func (l *LongNameCodec) Inflate(deflated string) (string, error) {
	if !isDeflatedName(deflated) {
		return "", NewValidationError("name", deflated, "not a deflated name")
	}
	sidecar := l.sidecarPath(deflated)
	content, err := readFileAll(l.fsys, sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewCorruptionError(sidecar, "missing long-name sidecar")
		}
		return "", fmt.Errorf("failed to read sidecar: %w", err)
	}
	if deflatedName(string(content)) != deflated {
		return "", NewCorruptionError(sidecar, "sidecar contents do not hash to sidecar name")
	}
	return string(content), nil
}
