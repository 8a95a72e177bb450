package profile

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Format is an archive container understood by the engine.
type Format string

const (
	TarGz Format = "tar.gz"
	Zip   Format = "zip"
)

// ParseFormat maps a query value to a Format, defaulting to tar.gz.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "zip") {
		return Zip
	}
	return TarGz
}

// Filename is the download name used for an export in this format.
func (f Format) Filename() string {
	return "exported_profile." + string(f)
}

// Entry maps one file on disk to its slash-separated name inside the archive.
type Entry struct {
	Name string
	Path string
}

// Progress is reported after each entry is written.
type Progress struct {
	Bytes     int64
	Processed int
	Total     int
}

// ExtractStats summarises an extraction.
type ExtractStats struct {
	Entries int
	Skipped int
}

// Archiver is one way of producing and unpacking a Format.
type Archiver interface {
	Name() string
	Format() Format
	Available() bool
	Write(ctx context.Context, w io.Writer, entries []Entry, progress func(Progress)) error
	// Extract unpacks src under dest, calling onEntry for each entry written.
	Extract(ctx context.Context, src, dest string, onEntry func(name string)) (ExtractStats, error)
}

// Resolve picks, per format, the first available archiver in preference order.
func Resolve(candidates ...Archiver) map[Format]Archiver {
	out := make(map[Format]Archiver)
	for _, a := range candidates {
		if _, taken := out[a.Format()]; taken || !a.Available() {
			continue
		}
		out[a.Format()] = a
	}
	return out
}

// DefaultArchivers lists the native codecs first, then the host tools.
func DefaultArchivers() []Archiver {
	return []Archiver{
		NativeTarGz{},
		NativeZip{},
		CLITarGz{},
		CLIZip{},
	}
}

// safeEntryName normalises an archive entry name and rejects absolute paths
// and any name with a parent-directory segment.
func safeEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func writeEntries(ctx context.Context, entries []Entry, progress func(Progress), add func(e Entry, info os.FileInfo, f *os.File) error) error {
	var p Progress
	p.Total = len(entries)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(e.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		err = add(e, info, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", e.Name, err)
		}
		p.Bytes += info.Size()
		p.Processed++
		if progress != nil {
			progress(p)
		}
	}
	return nil
}

func extractFile(dest, name string, mode os.FileMode, r io.Reader) error {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// NativeTarGz writes gzip-compressed tar streams in process.
type NativeTarGz struct{}

func (NativeTarGz) Name() string    { return "native-tar.gz" }
func (NativeTarGz) Format() Format  { return TarGz }
func (NativeTarGz) Available() bool { return true }

func (NativeTarGz) Write(ctx context.Context, w io.Writer, entries []Entry, progress func(Progress)) error {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	err = writeEntries(ctx, entries, progress, func(e Entry, info os.FileInfo, f *os.File) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = e.Name
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func (NativeTarGz) Extract(ctx context.Context, src, dest string, onEntry func(string)) (ExtractStats, error) {
	var stats ExtractStats
	file, err := os.Open(src)
	if err != nil {
		return stats, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return stats, err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		header, err := tarReader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		name, err := safeEntryName(header.Name)
		if err != nil {
			stats.Skipped++
			continue
		}
		if name == "" {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(filepath.Join(dest, filepath.FromSlash(name)), 0o755); err != nil {
				return stats, err
			}
		case tar.TypeReg:
			if err := extractFile(dest, name, os.FileMode(header.Mode), tarReader); err != nil {
				return stats, err
			}
		default:
			stats.Skipped++
			continue
		}
		stats.Entries++
		if onEntry != nil {
			onEntry(name)
		}
	}
}

// NativeZip writes deflated zip archives in process.
type NativeZip struct{}

func (NativeZip) Name() string    { return "native-zip" }
func (NativeZip) Format() Format  { return Zip }
func (NativeZip) Available() bool { return true }

func (NativeZip) Write(ctx context.Context, w io.Writer, entries []Entry, progress func(Progress)) error {
	zw := zip.NewWriter(w)
	err := writeEntries(ctx, entries, progress, func(e Entry, info os.FileInfo, f *os.File) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = e.Name
		header.Method = zip.Deflate
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func (NativeZip) Extract(ctx context.Context, src, dest string, onEntry func(string)) (ExtractStats, error) {
	var stats ExtractStats
	zr, err := zip.OpenReader(src)
	if err != nil {
		return stats, err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		name, err := safeEntryName(zf.Name)
		if err != nil {
			stats.Skipped++
			continue
		}
		if name == "" {
			continue
		}

		mode := zf.Mode()
		switch {
		case zf.FileInfo().IsDir():
			if err := os.MkdirAll(filepath.Join(dest, filepath.FromSlash(name)), 0o755); err != nil {
				return stats, err
			}
		case mode.IsRegular():
			rc, err := zf.Open()
			if err != nil {
				return stats, err
			}
			err = extractFile(dest, name, mode, rc)
			rc.Close()
			if err != nil {
				return stats, err
			}
		default:
			stats.Skipped++
			continue
		}
		stats.Entries++
		if onEntry != nil {
			onEntry(name)
		}
	}
	return stats, nil
}
