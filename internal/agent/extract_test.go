package agent

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func makeTarGz(t *testing.T, entries []tarEntry) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o755,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
		}
		if e.typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "artifact.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractTarGz(t *testing.T) {
	t.Run("extracts files and directories", func(t *testing.T) {
		archive := makeTarGz(t, []tarEntry{
			{name: "bin/", typeflag: tar.TypeDir},
			{name: "bin/app", body: "binary"},
			{name: "config.json", body: "{}"},
		})
		dest := t.TempDir()

		require.NoError(t, ExtractTarGz(archive, dest))

		data, err := os.ReadFile(filepath.Join(dest, "bin", "app"))
		require.NoError(t, err)
		assert.Equal(t, "binary", string(data))
	})

	t.Run("allows consecutive dots inside a name", func(t *testing.T) {
		archive := makeTarGz(t, []tarEntry{
			{name: "app..js", body: "dotted"},
			{name: "assets/logo..png", body: "img"},
			{name: "rel..link", typeflag: tar.TypeSymlink, linkname: "..config"},
		})
		dest := t.TempDir()

		require.NoError(t, ExtractTarGz(archive, dest))

		data, err := os.ReadFile(filepath.Join(dest, "app..js"))
		require.NoError(t, err)
		assert.Equal(t, "dotted", string(data))
		_, err = os.Stat(filepath.Join(dest, "assets", "logo..png"))
		assert.NoError(t, err)
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		dest := t.TempDir()
		outside := filepath.Join(filepath.Dir(dest), "escaped")

		archive := makeTarGz(t, []tarEntry{
			{name: "../escaped", body: "pwned"},
		})
		err := ExtractTarGz(archive, dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe path")

		_, statErr := os.Stat(outside)
		assert.True(t, os.IsNotExist(statErr), "file must not be written outside the destination")
	})

	t.Run("rejects absolute paths", func(t *testing.T) {
		archive := makeTarGz(t, []tarEntry{
			{name: "/etc/passwd", body: "pwned"},
		})
		err := ExtractTarGz(archive, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe path")
	})

	t.Run("rejects symlinks escaping the destination", func(t *testing.T) {
		archive := makeTarGz(t, []tarEntry{
			{name: "link", typeflag: tar.TypeSymlink, linkname: "../../secrets"},
		})
		err := ExtractTarGz(archive, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsafe symlink")
	})

	t.Run("allows internal relative symlinks", func(t *testing.T) {
		archive := makeTarGz(t, []tarEntry{
			{name: "data/real.txt", body: "content"},
			{name: "data/alias", typeflag: tar.TypeSymlink, linkname: "real.txt"},
		})
		dest := t.TempDir()
		require.NoError(t, ExtractTarGz(archive, dest))

		data, err := os.ReadFile(filepath.Join(dest, "data", "alias"))
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	})
}

func TestNormalizeExtractedDir(t *testing.T) {
	t.Run("hoists single top-level directory", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "myapp-1.0.0"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "myapp-1.0.0", "app.js"), []byte("x"), 0o644))

		require.NoError(t, NormalizeExtractedDir(dest))

		_, err := os.Stat(filepath.Join(dest, "app.js"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(dest, "myapp-1.0.0"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("leaves flat trees alone", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dest, "app.js"), []byte("x"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "lib"), 0o755))

		require.NoError(t, NormalizeExtractedDir(dest))

		_, err := os.Stat(filepath.Join(dest, "app.js"))
		assert.NoError(t, err)
	})
}
