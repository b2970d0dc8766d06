// Package artifact implements the content-addressed blob store for release
// archives. Blobs are immutable once written; the version catalog row is the
// source of truth for their expected checksum.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// DefaultExtension is used when the uploaded filename carries no extension.
const DefaultExtension = "tar.gz"

// Store is a flat directory of release blobs keyed by filename.
type Store struct {
	root string
}

// NewStore creates the store directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Filename derives the stored blob name for a version from the uploaded
// filename: "<semver>.<ext>", where ext is the last dot-segment of the
// original name, defaulting to tar.gz.
func Filename(version, uploadName string) string {
	ext := DefaultExtension
	if strings.HasSuffix(uploadName, ".tar.gz") {
		ext = "tar.gz"
	} else if idx := strings.LastIndex(uploadName, "."); idx >= 0 && idx < len(uploadName)-1 {
		ext = uploadName[idx+1:]
	}
	return fmt.Sprintf("%s.%s", version, ext)
}

// Checksum returns the SHA-256 hex digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes a blob under name, atomically: the bytes land in a temp file
// which is fsynced and renamed into place, so a crash never leaves a partial
// blob under the final name.
func (s *Store) Save(name string, data []byte) error {
	path := filepath.Join(s.root, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return nil
}

// Open returns the blob file and its size for streaming. A missing blob is
// reported via os.IsNotExist on the returned error; callers decide whether
// that is a plain 404 or the artifact_missing inconsistency.
func (s *Store) Open(name string) (*os.File, int64, error) {
	path := filepath.Join(s.root, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Exists reports whether a blob is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.root, name))
	return err == nil
}
