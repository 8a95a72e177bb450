package profile

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charlievieth/fastwalk"
)

// replaceDir swaps src into dst. The previous dst is parked as a backup and
// restored if neither rename nor copy succeeds.
func replaceDir(src, dst string) error {
	backup := ""
	if _, err := os.Stat(dst); err == nil {
		backup = fmt.Sprintf("%s.bak-%d", dst, time.Now().UnixMilli())
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move current profile aside: %w", err)
		}
	}

	restore := func(cause error) error {
		os.RemoveAll(dst)
		if backup != "" {
			if err := os.Rename(backup, dst); err != nil {
				return fmt.Errorf("%w (restoring previous profile failed: %v)", cause, err)
			}
		}
		return cause
	}

	if err := os.Rename(src, dst); err != nil {
		// Cross-device renames fail; fall back to copying.
		if err := copyTree(src, dst); err != nil {
			return restore(fmt.Errorf("copy profile into place: %w", err))
		}
	}
	if err := os.Chmod(dst, 0o700); err != nil {
		return restore(fmt.Errorf("chmod profile: %w", err))
	}
	if backup != "" {
		os.RemoveAll(backup)
	}
	return nil
}

func copyTree(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
