// Package vaultfs implements an encrypting virtual filesystem on top of the
// AbsFs filesystem abstraction. User files are stored as authenticated
// encrypted blobs inside a backing directory tree (the "vault"); callers open
// the vault with a passphrase and then work with cleartext paths, while
// vaultfs translates every operation into reads and writes of ciphertext on
// the backing filesystem.
//
// # Vault layout
//
// A vault is an ordinary directory on the backing filesystem:
//
//	<vaultRoot>/
//	  masterkey.cryptomator   JSON file holding the scrypt-wrapped master keys
//	  d/<XX>/<YYY...>/        data tree, sharded by hashed directory id
//	  m/<AB>/<CD>/<...>.lng   sidecars for filenames too long for the host
//
// Every cleartext directory is identified by a random UUID stored in a
// pointer file under its parent. The directory's entries live at a physical
// location derived from a hash of that UUID, which makes directory renames
// cheap: only the pointer file moves, never the subtree.
//
// # Content format
//
// File contents are framed as a signed 88-byte header followed by 32 KiB
// chunks, each sealed with AES-256-CTR and an HMAC-SHA256 tag bound to the
// chunk's ordinal position. Filenames are encrypted deterministically with
// AES-SIV, using the owning directory's UUID as associated data, and encoded
// in base32.
//
// # Basic usage
//
//	base, err := memfs.NewFS()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg := &vaultfs.Config{Passphrase: "correct horse"}
//
//	if err := vaultfs.Initialize(base, "/vault", cfg); err != nil {
//	    log.Fatal(err)
//	}
//
//	fs, err := vaultfs.Open(base, "/vault", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fs.Close()
//
//	f, _ := fs.Create("/hello.txt")
//	f.Write([]byte("hello"))
//	f.Close()
//
// All paths passed to a VaultFS are cleartext paths inside the vault. The
// backing filesystem only ever sees ciphertext names and ciphertext bytes.
package vaultfs
