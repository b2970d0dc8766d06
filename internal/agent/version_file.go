package agent

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// VersionFileName is the marker file inside the service directory that
// records the installed version. It survives restarts and is the source of
// truth the agent reports at check-in.
const VersionFileName = ".dm-version"

// ReadVersionFile returns the installed version recorded in dir, or nil if
// no marker exists yet (a fresh install reports no current version).
func ReadVersionFile(dir string) (*string, error) {
	data, err := os.ReadFile(filepath.Join(dir, VersionFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return nil, nil
	}
	return &v, nil
}

// WriteVersionFile atomically records the installed version in dir.
func WriteVersionFile(dir, version string) error {
	return renameio.WriteFile(filepath.Join(dir, VersionFileName), []byte(version+"\n"), 0o644)
}
