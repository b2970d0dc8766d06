package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samlabs/depman/internal/config"
)

func offlineAgentConfig(root string) *config.AgentConfig {
	return &config.AgentConfig{
		ServiceDir:     filepath.Join(root, "service"),
		BackupDir:      filepath.Join(root, "backups"),
		RestartCommand: "true",
	}
}

func TestApplyOffline(t *testing.T) {
	t.Run("applies a bare artifact with explicit version", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "offline code"}})

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			ArchivePath: archive,
			Version:     "3.0.0",
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)

		v, err := ReadVersionFile(cfg.ServiceDir)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "3.0.0", *v)
	})

	t.Run("reads version and checksum from a bundle manifest", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)

		bundleDir := filepath.Join(root, "bundle")
		require.NoError(t, os.MkdirAll(bundleDir, 0o755))
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "bundled code"}})
		bundledArchive := filepath.Join(bundleDir, "3.1.0.tar.gz")
		require.NoError(t, os.Rename(archive, bundledArchive))

		manifest, err := json.Marshal(OfflineManifest{
			Version:  "3.1.0",
			Checksum: fileChecksum(t, bundledArchive),
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.json"), manifest, 0o644))

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			BundleDir: bundleDir,
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)

		v, err := ReadVersionFile(cfg.ServiceDir)
		require.NoError(t, err)
		assert.Equal(t, "3.1.0", *v)
	})

	t.Run("manifest names the artifact among several tarballs", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)

		bundleDir := filepath.Join(root, "bundle")
		require.NoError(t, os.MkdirAll(bundleDir, 0o755))
		wanted := makeTarGz(t, []tarEntry{{name: "app.js", body: "named code"}})
		require.NoError(t, os.Rename(wanted, filepath.Join(bundleDir, "release.tar.gz")))
		decoy := makeTarGz(t, []tarEntry{{name: "app.js", body: "decoy code"}})
		require.NoError(t, os.Rename(decoy, filepath.Join(bundleDir, "old.tar.gz")))

		manifest, err := json.Marshal(OfflineManifest{
			Version:  "3.2.0",
			Artifact: "release.tar.gz",
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.json"), manifest, 0o644))

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			BundleDir: bundleDir,
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)

		data, err := os.ReadFile(filepath.Join(cfg.ServiceDir, "app.js"))
		require.NoError(t, err)
		assert.Equal(t, "named code", string(data))
	})

	t.Run("defaults to update.tar.gz when the manifest names nothing", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)

		bundleDir := filepath.Join(root, "bundle")
		require.NoError(t, os.MkdirAll(bundleDir, 0o755))
		wanted := makeTarGz(t, []tarEntry{{name: "app.js", body: "default code"}})
		require.NoError(t, os.Rename(wanted, filepath.Join(bundleDir, "update.tar.gz")))
		decoy := makeTarGz(t, []tarEntry{{name: "app.js", body: "decoy code"}})
		require.NoError(t, os.Rename(decoy, filepath.Join(bundleDir, "other.tar.gz")))
		require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.json"),
			[]byte(`{"version":"3.3.0"}`), 0o644))

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			BundleDir: bundleDir,
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)

		data, err := os.ReadFile(filepath.Join(cfg.ServiceDir, "app.js"))
		require.NoError(t, err)
		assert.Equal(t, "default code", string(data))
	})

	t.Run("errors when the named artifact is missing", func(t *testing.T) {
		root := t.TempDir()
		cfg := offlineAgentConfig(root)

		bundleDir := filepath.Join(root, "bundle")
		require.NoError(t, os.MkdirAll(bundleDir, 0o755))
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "x"}})
		require.NoError(t, os.Rename(archive, filepath.Join(bundleDir, "a.tar.gz")))
		require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.json"),
			[]byte(`{"version":"3.4.0","artifact":"gone.tar.gz"}`), 0o644))

		_, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			BundleDir: bundleDir,
		}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gone.tar.gz")
	})

	t.Run("bare artifact picks up a sibling manifest", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)

		dir := filepath.Join(root, "media")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "sibling code"}})
		archivePath := filepath.Join(dir, "update.tar.gz")
		require.NoError(t, os.Rename(archive, archivePath))

		manifest, err := json.Marshal(OfflineManifest{
			Version:  "3.5.0",
			Checksum: fileChecksum(t, archivePath),
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0o644))

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			ArchivePath: archivePath,
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)

		v, err := ReadVersionFile(cfg.ServiceDir)
		require.NoError(t, err)
		assert.Equal(t, "3.5.0", *v)
	})

	t.Run("command-line version overrides the manifest", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)

		bundleDir := filepath.Join(root, "bundle")
		require.NoError(t, os.MkdirAll(bundleDir, 0o755))
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "x"}})
		require.NoError(t, os.Rename(archive, filepath.Join(bundleDir, "a.tar.gz")))
		require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "manifest.json"),
			[]byte(`{"version":"3.1.0"}`), 0o644))

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			BundleDir: bundleDir,
			Version:   "4.0.0",
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)

		v, err := ReadVersionFile(cfg.ServiceDir)
		require.NoError(t, err)
		assert.Equal(t, "4.0.0", *v)
	})

	t.Run("rejects missing version", func(t *testing.T) {
		root := t.TempDir()
		cfg := offlineAgentConfig(root)
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "x"}})

		_, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			ArchivePath: archive,
		}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no version given")
	})

	t.Run("rejects loose version strings", func(t *testing.T) {
		root := t.TempDir()
		cfg := offlineAgentConfig(root)
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "x"}})

		_, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			ArchivePath: archive,
			Version:     "1.2",
		}, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid version")
	})

	t.Run("missing checksum proceeds with warning", func(t *testing.T) {
		root := t.TempDir()
		installedService(t, root)
		cfg := offlineAgentConfig(root)
		archive := makeTarGz(t, []tarEntry{{name: "app.js", body: "unverified"}})

		result, err := ApplyOffline(context.Background(), cfg, OfflineRequest{
			ArchivePath: archive,
			Version:     "5.0.0",
		}, discardLogger())

		require.NoError(t, err)
		require.NoError(t, result.Err)
		assert.Equal(t, OutcomeSucceeded, result.Outcome)
	})
}
