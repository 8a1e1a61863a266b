package vaultfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

func newTestVault(t *testing.T) (*VaultFS, absfs.FileSystem) {
	t.Helper()
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	cfg := &Config{Passphrase: "asd"}
	if err := Initialize(base, "/vault", cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	v, err := Open(base, "/vault", cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return v, base
}

func writeVaultFile(t *testing.T, v *VaultFS, name string, data []byte) {
	t.Helper()
	f, err := v.Create(name)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		t.Fatalf("Write to %q failed: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close of %q failed: %v", name, err)
	}
}

func readVaultFile(t *testing.T, v *VaultFS, name string) []byte {
	t.Helper()
	f, err := v.Open(name)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll(%q) failed: %v", name, err)
	}
	return data
}

// findBaseFiles walks the backing filesystem and returns every regular file
// under root.
func findBaseFiles(t *testing.T, base absfs.FileSystem, root string) []string {
	t.Helper()
	var files []string
	var walk func(dir string)
	walk = func(dir string) {
		f, err := base.OpenFile(dir, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		names, _ := f.Readdirnames(-1)
		f.Close()
		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}
			p := path.Join(dir, name)
			info, err := base.Stat(p)
			if err != nil {
				continue
			}
			if info.IsDir() {
				walk(p)
			} else {
				files = append(files, p)
			}
		}
	}
	walk(root)
	return files
}

func TestVault_CreateWriteReadReopen(t *testing.T) {
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	cfg := &Config{Passphrase: "asd"}
	if err := Initialize(base, "/vault", cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	v, err := Open(base, "/vault", cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := v.MkdirAll("/foo", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	writeVaultFile(t, v, "/foo/bar", payload)
	if err := v.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	v2, err := Open(base, "/vault", &Config{Passphrase: "asd"})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer v2.Close()

	info, err := v2.Stat("/foo/bar")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 7 {
		t.Errorf("Size: got %d, want 7", info.Size())
	}
	if got := readVaultFile(t, v2, "/foo/bar"); !bytes.Equal(got, payload) {
		t.Errorf("Content: got %v, want %v", got, payload)
	}
}

func TestVault_WrongPassphrase(t *testing.T) {
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	if err := Initialize(base, "/vault", &Config{Passphrase: "asd"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	_, err = Open(base, "/vault", &Config{Passphrase: "qwe"})
	if !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Open with wrong passphrase: got %v, want ErrInvalidPassphrase", err)
	}
}

func TestVault_LongDirectoryName(t *testing.T) {
	v, base := newTestVault(t)
	defer v.Close()

	longName := strings.Repeat("x", 200)
	if err := v.Mkdir("/"+longName, 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	// The pointer entry must live behind a sidecar in m/.
	sidecars := findBaseFiles(t, base, "/vault/m")
	if len(sidecars) != 1 {
		t.Fatalf("Sidecar count under m/: got %d, want 1", len(sidecars))
	}
	if !strings.HasSuffix(sidecars[0], longNameSuffix) {
		t.Errorf("Sidecar %q lacks the %s suffix", sidecars[0], longNameSuffix)
	}

	names, err := v.ReadDirNames("/")
	if err != nil {
		t.Fatalf("ReadDirNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != longName {
		t.Errorf("Listing: got %v, want exactly the original cleartext name", names)
	}

	// The directory is fully usable behind its deflated entry.
	writeVaultFile(t, v, "/"+longName+"/inner", []byte("data"))
	if got := readVaultFile(t, v, "/"+longName+"/inner"); string(got) != "data" {
		t.Errorf("Inner file content: got %q", got)
	}
}

func TestVault_SymlinkRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	if err := v.MkdirAll("/a", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := v.Symlink("./target", "/a/link"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	target, err := v.Readlink("/a/link")
	if err != nil {
		t.Fatalf("Readlink failed: %v", err)
	}
	if target != "./target" {
		t.Errorf("Readlink: got %q, want %q", target, "./target")
	}

	info, err := v.Stat("/a/link")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("Stat of a symlink should report ModeSymlink")
	}

	// Opening the link resolves to its target.
	writeVaultFile(t, v, "/a/target", []byte("via link"))
	if got := readVaultFile(t, v, "/a/link"); string(got) != "via link" {
		t.Errorf("Read through symlink: got %q", got)
	}
}

func TestVault_CrossVaultCopy(t *testing.T) {
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	if err := Initialize(base, "/v1", &Config{Passphrase: "asd"}); err != nil {
		t.Fatalf("Initialize v1 failed: %v", err)
	}
	if err := Initialize(base, "/v2", &Config{Passphrase: "qwe"}); err != nil {
		t.Fatalf("Initialize v2 failed: %v", err)
	}
	v1, err := Open(base, "/v1", &Config{Passphrase: "asd"})
	if err != nil {
		t.Fatalf("Open v1 failed: %v", err)
	}
	defer v1.Close()
	v2, err := Open(base, "/v2", &Config{Passphrase: "qwe"})
	if err != nil {
		t.Fatalf("Open v2 failed: %v", err)
	}
	defer v2.Close()

	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	if err := v1.MkdirAll("/foo", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	writeVaultFile(t, v1, "/foo/bar", payload)

	if err := v2.MkdirAll("/bar", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	writeVaultFile(t, v2, "/bar/baz", readVaultFile(t, v1, "/foo/bar"))

	if got := readVaultFile(t, v1, "/foo/bar"); !bytes.Equal(got, payload) {
		t.Error("v1 content mismatch")
	}
	if got := readVaultFile(t, v2, "/bar/baz"); !bytes.Equal(got, payload) {
		t.Error("v2 content mismatch")
	}

	ct1, err := v1.mapper.CiphertextFilePath("/foo/bar", TypeFile)
	if err != nil {
		t.Fatalf("CiphertextFilePath v1 failed: %v", err)
	}
	ct2, err := v2.mapper.CiphertextFilePath("/bar/baz", TypeFile)
	if err != nil {
		t.Fatalf("CiphertextFilePath v2 failed: %v", err)
	}
	raw1, err := readFileAll(base, ct1)
	if err != nil {
		t.Fatalf("Failed to read v1 ciphertext: %v", err)
	}
	raw2, err := readFileAll(base, ct2)
	if err != nil {
		t.Fatalf("Failed to read v2 ciphertext: %v", err)
	}
	if bytes.Equal(raw1, raw2) {
		t.Error("Ciphertext of the two vaults must differ")
	}
}

func TestVault_AttributeLaziness(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	view := v.AttributeView("/lazy")

	if _, err := view.ReadAttributes(); !os.IsNotExist(err) {
		t.Errorf("View on missing file: got %v, want not-exist", err)
	}

	writeVaultFile(t, v, "/lazy", []byte{1, 2, 3})
	info, err := view.ReadAttributes()
	if err != nil {
		t.Fatalf("ReadAttributes failed: %v", err)
	}
	if info.Size() != 3 {
		t.Errorf("Size: got %d, want 3", info.Size())
	}

	if err := v.Remove("/lazy"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := view.ReadAttributes(); !os.IsNotExist(err) {
		t.Errorf("View after delete: got %v, want not-exist", err)
	}
}

func TestVault_DirectoryRenameIsCheap(t *testing.T) {
	v, base := newTestVault(t)
	defer v.Close()

	if err := v.MkdirAll("/dir/sub", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	writeVaultFile(t, v, "/dir/child", []byte("payload"))

	oldDir, err := v.mapper.CiphertextDir("/dir")
	if err != nil {
		t.Fatalf("CiphertextDir failed: %v", err)
	}
	childCt, err := v.mapper.CiphertextFilePath("/dir/child", TypeFile)
	if err != nil {
		t.Fatalf("CiphertextFilePath failed: %v", err)
	}
	childRaw, err := readFileAll(base, childCt)
	if err != nil {
		t.Fatalf("Failed to read child ciphertext: %v", err)
	}

	if err := v.Rename("/dir", "/renamed"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	newDir, err := v.mapper.CiphertextDir("/renamed")
	if err != nil {
		t.Fatalf("CiphertextDir after rename failed: %v", err)
	}
	if newDir.ID != oldDir.ID || newDir.Path != oldDir.Path {
		t.Error("Directory rename must preserve the physical location")
	}

	// Only the pointer moved; descendants are byte-identical.
	raw, err := readFileAll(base, childCt)
	if err != nil {
		t.Fatalf("Child ciphertext gone after rename: %v", err)
	}
	if !bytes.Equal(raw, childRaw) {
		t.Error("Directory rename must not rewrite descendant ciphertext")
	}

	if got := readVaultFile(t, v, "/renamed/child"); string(got) != "payload" {
		t.Errorf("Child content after rename: got %q", got)
	}
	if _, err := v.Stat("/dir"); !os.IsNotExist(err) {
		t.Errorf("Old directory name should be gone, got %v", err)
	}
}

func TestVault_ReadDirTypes(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	if err := v.Mkdir("/sub", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	writeVaultFile(t, v, "/plain", []byte("x"))
	if err := v.Symlink("/plain", "/ln"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	infos, err := v.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	byName := make(map[string]os.FileInfo)
	for _, info := range infos {
		byName[info.Name()] = info
	}
	if len(byName) != 3 {
		t.Fatalf("Entry count: got %d, want 3", len(byName))
	}
	if !byName["sub"].IsDir() {
		t.Error("sub should be a directory")
	}
	if byName["ln"].Mode()&os.ModeSymlink == 0 {
		t.Error("ln should be a symlink")
	}
	if byName["plain"].Mode()&(os.ModeDir|os.ModeSymlink) != 0 {
		t.Error("plain should be a regular file")
	}
}

func TestVault_DirectoryHandle(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	writeVaultFile(t, v, "/a", []byte("1"))
	writeVaultFile(t, v, "/b", []byte("2"))

	dir, err := v.Open("/")
	if err != nil {
		t.Fatalf("Open of root failed: %v", err)
	}
	defer dir.Close()

	first, err := dir.Readdirnames(1)
	if err != nil {
		t.Fatalf("Readdirnames(1) failed: %v", err)
	}
	rest, err := dir.Readdirnames(0)
	if err != nil {
		t.Fatalf("Readdirnames(0) failed: %v", err)
	}
	all := append(first, rest...)
	if len(all) != 2 || all[0] != "a" || all[1] != "b" {
		t.Errorf("Paginated listing: got %v", all)
	}

	if _, err := dir.Read(make([]byte, 1)); err == nil {
		t.Error("Reading bytes from a directory handle should fail")
	}
}

func TestVault_RemoveSemantics(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	if err := v.MkdirAll("/d/inner", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	writeVaultFile(t, v, "/d/file", []byte("x"))

	if err := v.Remove("/d"); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("Remove of non-empty dir: got %v, want ErrNotEmpty", err)
	}
	if err := v.RemoveAll("/d"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if _, err := v.Stat("/d"); !os.IsNotExist(err) {
		t.Errorf("Removed tree should be gone, got %v", err)
	}
	if err := v.Remove("/d"); !os.IsNotExist(err) {
		t.Errorf("Remove of missing path: got %v, want not-exist", err)
	}
}

func TestVault_RenameFileOverwrite(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	writeVaultFile(t, v, "/src", []byte("source"))
	writeVaultFile(t, v, "/dst", []byte("old"))

	if err := v.Rename("/src", "/dst"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if got := readVaultFile(t, v, "/dst"); string(got) != "source" {
		t.Errorf("Renamed content: got %q", got)
	}
	if _, err := v.Stat("/src"); !os.IsNotExist(err) {
		t.Error("Source should be gone after rename")
	}
}

func TestVault_ReadOnly(t *testing.T) {
	base, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("Failed to create base filesystem: %v", err)
	}
	if err := Initialize(base, "/vault", &Config{Passphrase: "asd"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	rw, err := Open(base, "/vault", &Config{Passphrase: "asd"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	writeVaultFile(t, rw, "/existing", []byte("data"))
	rw.Close()

	v, err := Open(base, "/vault", &Config{Passphrase: "asd", Readonly: true})
	if err != nil {
		t.Fatalf("Read-only open failed: %v", err)
	}
	defer v.Close()

	if _, err := v.Create("/new"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Create on read-only vault: got %v, want ErrReadOnly", err)
	}
	if err := v.Mkdir("/dir", 0755); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Mkdir on read-only vault: got %v, want ErrReadOnly", err)
	}
	if err := v.Remove("/existing"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Remove on read-only vault: got %v, want ErrReadOnly", err)
	}
	if got := readVaultFile(t, v, "/existing"); string(got) != "data" {
		t.Errorf("Read on read-only vault: got %q", got)
	}
}

func TestVault_ClosedRejectsOperations(t *testing.T) {
	v, _ := newTestVault(t)
	if err := v.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := v.Open("/x"); !errors.Is(err, ErrVaultClosed) {
		t.Errorf("Open on closed vault: got %v, want ErrVaultClosed", err)
	}
	if err := v.Mkdir("/x", 0755); !errors.Is(err, ErrVaultClosed) {
		t.Errorf("Mkdir on closed vault: got %v, want ErrVaultClosed", err)
	}
	if err := v.Close(); !errors.Is(err, ErrVaultClosed) {
		t.Errorf("Double close: got %v, want ErrVaultClosed", err)
	}
}

func TestVault_OpenFileFlags(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	if _, err := v.Open("/missing"); !os.IsNotExist(err) {
		t.Errorf("Open of missing file: got %v, want not-exist", err)
	}

	writeVaultFile(t, v, "/f", []byte("x"))
	if _, err := v.OpenFile("/f", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644); err == nil {
		t.Error("O_EXCL on existing file should fail")
	}

	f, err := v.OpenFile("/f", os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("O_TRUNC open failed: %v", err)
	}
	f.Close()
	if info, _ := v.Stat("/f"); info.Size() != 0 {
		t.Errorf("Size after O_TRUNC: got %d, want 0", info.Size())
	}
}

func TestVault_RelativePaths(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	if err := v.MkdirAll("/w/inner", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := v.Chdir("/w"); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	if wd, _ := v.Getwd(); wd != "/w" {
		t.Errorf("Getwd: got %q, want %q", wd, "/w")
	}

	writeVaultFile(t, v, "inner/file", []byte("relative"))
	if got := readVaultFile(t, v, "/w/inner/file"); string(got) != "relative" {
		t.Errorf("Relative write landed wrong: got %q", got)
	}

	if err := v.Chdir("/w/inner/file"); err == nil {
		t.Error("Chdir to a file should fail")
	}
}

func TestVault_TruncateByPath(t *testing.T) {
	v, _ := newTestVault(t)
	defer v.Close()

	writeVaultFile(t, v, "/f", []byte("0123456789"))
	if err := v.Truncate("/f", 4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if got := readVaultFile(t, v, "/f"); string(got) != "0123" {
		t.Errorf("Content after truncate: got %q", got)
	}
}

func TestVault_NamesEncryptedOnDisk(t *testing.T) {
	v, base := newTestVault(t)
	defer v.Close()

	if err := v.Mkdir("/plainname", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	writeVaultFile(t, v, "/plainname/secret.txt", []byte("content"))

	for _, f := range findBaseFiles(t, base, "/vault/d") {
		if strings.Contains(f, "plainname") || strings.Contains(f, "secret") {
			t.Errorf("Cleartext name leaked into the data tree: %s", f)
		}
	}
}

func TestParseOptions(t *testing.T) {
	cfg, err := ParseOptions(map[string]any{
		"passphrase":        "asd",
		"readonly":          true,
		"masterkeyFilename": "mk.json",
	})
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if !cfg.Readonly || cfg.MasterkeyFilename != "mk.json" {
		t.Error("Options not applied")
	}

	if _, err := ParseOptions(map[string]any{"passphrase": "asd", "bogus": 1}); err == nil {
		t.Error("Unknown option should be rejected")
	}
	if _, err := ParseOptions(map[string]any{"readonly": true}); err == nil {
		t.Error("Missing passphrase should be rejected")
	}
	if _, err := ParseOptions(map[string]any{"passphrase": 42}); err == nil {
		t.Error("Mistyped passphrase should be rejected")
	}
}
