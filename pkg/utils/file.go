package utils

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// IsDirectory checks if a path is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// PathExists reports whether anything, including a dangling symlink, exists
// at path.
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// EnsureDir creates dir with exactly mode if it does not exist. mkdir drops
// the setgid bit, so mode is applied with chmod afterwards. It reports
// whether the directory was created.
func EnsureDir(dir string, mode os.FileMode) (bool, error) {
	if IsDirectory(dir) {
		return false, nil
	}
	if err := os.MkdirAll(dir, mode.Perm()); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.Chmod(dir, mode); err != nil {
		return true, fmt.Errorf("failed to set mode on %s: %w", dir, err)
	}
	return true, nil
}

// CopyVisitor is called with every path CopyTree creates, including dst.
type CopyVisitor func(path string, d fs.DirEntry) error

// CopyTree copies the tree at src to dst. Symlinks are recreated rather than
// followed, regular files keep their mode and modification time, and
// existing entries in dst are replaced. visit, when not nil, runs after each
// entry is created; its error aborts the copy.
func CopyTree(src, dst string, visit CopyVisitor) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if PathExists(target) {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		case d.Type().IsRegular():
			if err := copyFile(path, target, info); err != nil {
				return err
			}
		default:
			// sockets, devices and pipes are not copied
			return nil
		}

		if visit != nil {
			return visit(target, d)
		}
		return nil
	})
}

func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if PathExists(dst) {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	mtime := info.ModTime()
	return os.Chtimes(dst, time.Now(), mtime)
}
