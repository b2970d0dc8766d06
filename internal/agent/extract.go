package agent

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
)

// ExtractTarGz unpacks a gzipped tarball into destDir. Entry paths are
// confined to destDir: absolute paths, ".." traversal, and symlinks whose
// targets resolve outside destDir are rejected, failing the whole
// extraction rather than skipping the entry.
func ExtractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("invalid gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("corrupt tar stream: %w", err)
		}
		if err := extractEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, destDir string) error {
	name := hdr.Name
	if filepath.IsAbs(name) || hasDotDotSegment(name) {
		return fmt.Errorf("unsafe path in archive: %q", name)
	}

	// SecureJoin resolves the entry path relative to destDir with any
	// intermediate symlinks contained inside it.
	target, err := securejoin.SecureJoin(destDir, name)
	if err != nil {
		return fmt.Errorf("unsafe path in archive: %q: %w", name, err)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700)

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		return out.Close()

	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) {
			return fmt.Errorf("unsafe symlink in archive: %q -> %q", name, hdr.Linkname)
		}
		resolved := filepath.Clean(filepath.Join(filepath.Dir(name), hdr.Linkname))
		if resolved == ".." || strings.HasPrefix(resolved, "../") {
			return fmt.Errorf("unsafe symlink in archive: %q -> %q", name, hdr.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)

	default:
		// Hard links, devices, FIFOs have no business in a release tarball.
		return fmt.Errorf("unsupported entry type %c in archive: %q", hdr.Typeflag, name)
	}
}

// hasDotDotSegment reports whether any path segment is exactly "..".
// Dots inside a segment, as in "app..js", are legitimate.
func hasDotDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// NormalizeExtractedDir handles tarballs that wrap their payload in a single
// top-level directory. If destDir contains exactly one directory and nothing
// else, its contents are hoisted into destDir.
func NormalizeExtractedDir(destDir string) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(destDir, entries[0].Name())
	innerEntries, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	for _, e := range innerEntries {
		if err := os.Rename(filepath.Join(inner, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(inner)
}
