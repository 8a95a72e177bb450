package profile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// stage links every entry into a scratch tree laid out by archive name, so a
// host tool can archive the tree as-is.
func stage(entries []Entry) (string, error) {
	dir, err := os.MkdirTemp("", "profile-export-*")
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		abs, err := filepath.Abs(e.Path)
		if err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		link := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.Symlink(abs, link); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

// listNames runs a listing command and validates every name it prints.
func listNames(ctx context.Context, name string, args ...string) ([]string, int, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", name, err)
	}
	var names []string
	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		clean, err := safeEntryName(line)
		if err != nil {
			skipped++
			continue
		}
		if clean != "" {
			names = append(names, clean)
		}
	}
	return names, skipped, sc.Err()
}

func runTool(ctx context.Context, dir string, stdout io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CLITarGz shells out to the host tar.
type CLITarGz struct{}

func (CLITarGz) Name() string   { return "tar" }
func (CLITarGz) Format() Format { return TarGz }

func (CLITarGz) Available() bool {
	_, err := exec.LookPath("tar")
	return err == nil
}

func (CLITarGz) Write(ctx context.Context, w io.Writer, entries []Entry, progress func(Progress)) error {
	dir, err := stage(entries)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := runTool(ctx, dir, w, "tar", "-czhf", "-", "."); err != nil {
		return err
	}
	if progress != nil {
		progress(Progress{Processed: len(entries), Total: len(entries)})
	}
	return nil
}

// Extract refuses archives containing unsafe names, since tar cannot skip them selectively.
func (CLITarGz) Extract(ctx context.Context, src, dest string, onEntry func(string)) (ExtractStats, error) {
	names, skipped, err := listNames(ctx, "tar", "-tzf", src)
	if err != nil {
		return ExtractStats{}, err
	}
	if skipped > 0 {
		return ExtractStats{Skipped: skipped}, fmt.Errorf("%w: archive contains %d unsafe entries", ErrUnsafePath, skipped)
	}
	if err := runTool(ctx, dest, io.Discard, "tar", "-xzf", src, "--no-same-owner", "-C", dest); err != nil {
		return ExtractStats{}, err
	}
	for _, n := range names {
		if onEntry != nil {
			onEntry(n)
		}
	}
	return ExtractStats{Entries: len(names)}, nil
}

// CLIZip shells out to the host zip and unzip.
type CLIZip struct{}

func (CLIZip) Name() string   { return "zip" }
func (CLIZip) Format() Format { return Zip }

func (CLIZip) Available() bool {
	_, zipErr := exec.LookPath("zip")
	_, unzipErr := exec.LookPath("unzip")
	return zipErr == nil && unzipErr == nil
}

func (CLIZip) Write(ctx context.Context, w io.Writer, entries []Entry, progress func(Progress)) error {
	dir, err := stage(entries)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := runTool(ctx, dir, w, "zip", "-q", "-r", "-", "."); err != nil {
		return err
	}
	if progress != nil {
		progress(Progress{Processed: len(entries), Total: len(entries)})
	}
	return nil
}

func (CLIZip) Extract(ctx context.Context, src, dest string, onEntry func(string)) (ExtractStats, error) {
	names, skipped, err := listNames(ctx, "unzip", "-Z1", src)
	if err != nil {
		return ExtractStats{}, err
	}
	if skipped > 0 {
		return ExtractStats{Skipped: skipped}, fmt.Errorf("%w: archive contains %d unsafe entries", ErrUnsafePath, skipped)
	}
	if err := runTool(ctx, dest, io.Discard, "unzip", "-q", "-o", src, "-d", dest); err != nil {
		return ExtractStats{}, err
	}
	for _, n := range names {
		if onEntry != nil {
			onEntry(n)
		}
	}
	return ExtractStats{Entries: len(names)}, nil
}
