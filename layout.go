package vaultfs

import (
	"crypto/sha1"
	"path"
)

// On-disk vault structure constants.
const (
	dataDirName = "d"
	metaDirName = "m"

	// RootDirID is the conventional directory id of the cleartext root.
	RootDirID = ""
)

// hashDirID shards a directory id into its physical location fragment:
// the first 2 and next 28 characters of base32(sha1(dirID)).
func hashDirID(dirID string) (shard, remainder string) {
	sum := sha1.Sum([]byte(dirID))
	enc := base32enc.EncodeToString(sum[:])
	return enc[:2], enc[2:30]
}

// dataDirPath returns the physical directory holding the entries of the
// cleartext directory identified by dirID.
func dataDirPath(vaultRoot, dirID string) string {
	shard, remainder := hashDirID(dirID)
	return path.Join(vaultRoot, dataDirName, shard, remainder)
}

// metaDirPath returns the vault's long-name sidecar root.
func metaDirPath(vaultRoot string) string {
	return path.Join(vaultRoot, metaDirName)
}
