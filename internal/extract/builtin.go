package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"
)

// BuiltinCodec is a pure-Go Codec for tar, tar.gz, tar.xz and zip archives.
// It understands split archives (".xxx.001" plus siblings) by concatenating
// the parts in order. Progress output mimics the textual percent lines an
// external codec would print.
type BuiltinCodec struct{}

// NewBuiltinCodec creates a BuiltinCodec.
func NewBuiltinCodec() *BuiltinCodec {
	return &BuiltinCodec{}
}

// Extract unpacks archivePath into destDir.
func (c *BuiltinCodec) Extract(ctx context.Context, archivePath, destDir string, onOutput OutputCallback) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	logical := archivePath
	if IsSplitPart(archivePath) {
		logical = strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
	}

	switch {
	case hasSuffixFold(logical, ".tar.gz"), hasSuffixFold(logical, ".tgz"):
		return c.extractStream(ctx, archivePath, destDir, onOutput, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case hasSuffixFold(logical, ".tar.xz"), hasSuffixFold(logical, ".txz"):
		return c.extractStream(ctx, archivePath, destDir, onOutput, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case hasSuffixFold(logical, ".tar"):
		return c.extractStream(ctx, archivePath, destDir, onOutput, func(r io.Reader) (io.Reader, error) {
			return r, nil
		})
	case hasSuffixFold(logical, ".zip"):
		return c.extractZip(ctx, archivePath, destDir, onOutput)
	default:
		return fmt.Errorf("unsupported archive type: %s", filepath.Base(archivePath))
	}
}

// openParts opens the archive, concatenating split parts in order.
func openParts(archivePath string) (io.Reader, []io.Closer, int64, error) {
	parts := []string{archivePath}
	if IsSplitPart(archivePath) {
		found, err := SplitParts(archivePath)
		if err != nil {
			return nil, nil, 0, err
		}
		parts = found
	}

	var readers []io.Reader
	var closers []io.Closer
	var total int64
	for _, p := range parts {
		f, err := os.Open(p)
		if err != nil {
			for _, cl := range closers {
				cl.Close()
			}
			return nil, nil, 0, fmt.Errorf("failed to open archive part: %w", err)
		}
		if info, err := f.Stat(); err == nil {
			total += info.Size()
		}
		readers = append(readers, f)
		closers = append(closers, f)
	}
	return io.MultiReader(readers...), closers, total, nil
}

type decompressFn func(io.Reader) (io.Reader, error)

func (c *BuiltinCodec) extractStream(ctx context.Context, archivePath, destDir string, onOutput OutputCallback, decompress decompressFn) error {
	raw, closers, total, err := openParts(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		for _, cl := range closers {
			cl.Close()
		}
	}()

	counted := &countingReader{reader: raw}
	dr, err := decompress(counted)
	if err != nil {
		return fmt.Errorf("failed to open compressed stream: %w", err)
	}
	if closer, ok := dr.(io.Closer); ok {
		defer closer.Close()
	}

	report := func() {
		if onOutput != nil && total > 0 {
			onOutput(fmt.Sprintf("%3d%%", counted.count*100/total))
		}
	}

	tr := tar.NewReader(dr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		if !isInsideDir(destDir, target) {
			return fmt.Errorf("invalid file path: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), hdr.Linkname)
			if !isInsideDir(destDir, linkTarget) {
				return fmt.Errorf("invalid symlink target: %s -> %s", hdr.Name, hdr.Linkname)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}
		}
		report()
	}

	slog.Debug("archive extracted", "archive", archivePath, "dest", destDir)
	return nil
}

func (c *BuiltinCodec) extractZip(ctx context.Context, archivePath, destDir string, onOutput OutputCallback) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer zr.Close()

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if isOSMetadataPath(f.Name) {
			continue
		}

		target := filepath.Join(destDir, f.Name)
		if !isInsideDir(destDir, target) {
			return fmt.Errorf("invalid file path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open file in archive: %w", err)
		}
		if err := writeEntry(rc, target, f.Mode()); err != nil {
			rc.Close()
			return err
		}
		rc.Close()

		if onOutput != nil && len(zr.File) > 0 {
			onOutput(fmt.Sprintf("%3d%%", (i+1)*100/len(zr.File)))
		}
	}

	slog.Debug("zip archive extracted", "archive", archivePath, "dest", destDir)
	return nil
}

// writeEntry extracts a single file entry from an archive.
func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

type countingReader struct {
	reader io.Reader
	count  int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.count += int64(n)
	return n, err
}

// IsSplitPart reports whether name looks like the first or a later part of
// a split archive (".xxx.001", ".xxx.002", ...).
func IsSplitPart(name string) bool {
	ext := filepath.Ext(name)
	if len(ext) != 4 {
		return false
	}
	for _, r := range ext[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitParts returns all sibling parts of a split archive, sorted.
// firstPart must be the ".001" file.
func SplitParts(firstPart string) ([]string, error) {
	base := strings.TrimSuffix(firstPart, filepath.Ext(firstPart))
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, m := range matches {
		if IsSplitPart(m) {
			parts = append(parts, m)
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no parts found for split archive %s", firstPart)
	}
	sort.Strings(parts)
	return parts, nil
}

// isOSMetadataPath returns true if the archive entry path belongs to an
// OS-specific metadata tree that should be skipped during extraction.
// Currently handles __MACOSX/, which macOS ZIP creation tools inject.
func isOSMetadataPath(name string) bool {
	return name == "__MACOSX" || name == "__MACOSX/" || strings.HasPrefix(name, "__MACOSX/")
}

// isInsideDir checks if target path is inside the base directory.
// This prevents path traversal attacks.
func isInsideDir(baseDir, target string) bool {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && len(rel) > 0 && rel[0] != '.'
}

func hasSuffixFold(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), suffix)
}
