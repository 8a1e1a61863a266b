package vaultfs

import (
	"io"
	"os"

	"github.com/absfs/absfs"
)

// Small helpers over the backing filesystem. absfs has no ReadFile/WriteFile
// conveniences, so the vault carries its own.

func readFileAll(fsys absfs.FileSystem, name string) ([]byte, error) {
	f, err := fsys.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeFileAll(fsys absfs.FileSystem, name string, data []byte, perm os.FileMode) error {
	f, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeFileExcl creates name and writes data, failing if the file exists.
func writeFileExcl(fsys absfs.FileSystem, name string, data []byte, perm os.FileMode) error {
	f, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fileExists(fsys absfs.FileSystem, name string) (bool, error) {
	_, err := fsys.Stat(name)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// mkdirAll is MkdirAll with the vault's default directory mode.
func mkdirAll(fsys absfs.FileSystem, name string) error {
	return fsys.MkdirAll(name, 0755)
}
