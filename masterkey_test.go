package vaultfs

import (
	"encoding/json"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterkey_CreateLoadRoundTrip(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	defer created.Destroy()

	loaded, err := LoadMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	defer loaded.Destroy()

	assert.Equal(t, created.encKey, loaded.encKey)
	assert.Equal(t, created.macKey, loaded.macKey)
	assert.Equal(t, VaultVersion, loaded.Version())
}

func TestMasterkey_WrongPassphrase(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	created.Destroy()

	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "qwe", nil)
	assert.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestMasterkey_PepperMismatch(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", []byte("pepper"))
	require.NoError(t, err)
	created.Destroy()

	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	loaded, err := LoadMasterkey(base, "/masterkey.cryptomator", "asd", []byte("pepper"))
	require.NoError(t, err)
	loaded.Destroy()
}

func rewriteVersion(t *testing.T, base absfs.FileSystem, path string, version int) {
	t.Helper()
	data, err := readFileAll(base, path)
	require.NoError(t, err)

	var doc masterkeyFile
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.Version = version
	out, err := json.Marshal(&doc)
	require.NoError(t, err)
	require.NoError(t, writeFileAll(base, path, out, 0600))
}

func TestMasterkey_VersionChecks(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	created.Destroy()

	rewriteVersion(t, base, "/masterkey.cryptomator", VaultVersion-1)
	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	assert.ErrorIs(t, err, ErrVaultNeedsMigration)

	rewriteVersion(t, base, "/masterkey.cryptomator", VaultVersion+1)
	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	assert.ErrorIs(t, err, ErrUnsupportedVaultVersion)
}

func TestMasterkey_VersionMacTamper(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	created.Destroy()

	data, err := readFileAll(base, "/masterkey.cryptomator")
	require.NoError(t, err)
	var doc masterkeyFile
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.VersionMac[0] ^= 0x01
	out, err := json.Marshal(&doc)
	require.NoError(t, err)
	require.NoError(t, writeFileAll(base, "/masterkey.cryptomator", out, 0600))

	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	assert.True(t, IsCorruptionError(err), "tampered version mac should surface as corruption, got %v", err)
}

func TestMasterkey_ChangePassphrase(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "old", nil)
	require.NoError(t, err)
	origEnc := append([]byte(nil), created.encKey...)
	created.Destroy()

	require.NoError(t, ChangePassphrase(base, "/masterkey.cryptomator", "old", "new", nil))

	_, err = LoadMasterkey(base, "/masterkey.cryptomator", "old", nil)
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	loaded, err := LoadMasterkey(base, "/masterkey.cryptomator", "new", nil)
	require.NoError(t, err)
	defer loaded.Destroy()
	assert.Equal(t, origEnc, loaded.encKey, "key material must survive a passphrase change")
}

func TestMasterkey_BackupWritten(t *testing.T) {
	base, err := memfs.NewFS()
	require.NoError(t, err)

	created, err := CreateMasterkey(base, "/masterkey.cryptomator", "asd", nil)
	require.NoError(t, err)
	created.Destroy()

	exists, err := fileExists(base, "/masterkey.cryptomator.bc")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMasterkey_Destroy(t *testing.T) {
	key, err := newMasterKey()
	require.NoError(t, err)

	key.Destroy()
	assert.True(t, key.Destroyed())
	for _, b := range key.encKey {
		assert.Zero(t, b)
	}

	_, err = NewCryptor(key)
	assert.Error(t, err, "destroyed key must not build a cryptor")
}
