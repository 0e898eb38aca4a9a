// Package local_test tests the local filesystem sink.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pdf-capture-service/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		sink, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, "local", sink.Name())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "captures")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestUpload(t *testing.T) {
	tempDir := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidUpload", func(t *testing.T) {
		data := []byte("%PDF-1.7")
		obj, err := sink.Upload(context.Background(), "report.pdf", "application/pdf", data)
		require.NoError(t, err)

		want := filepath.Join(tempDir, "report.pdf")
		assert.Equal(t, want, obj.ID)
		assert.Equal(t, "file://"+want, obj.ViewURL)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("EmptyFilename", func(t *testing.T) {
		_, err := sink.Upload(context.Background(), "", "application/pdf", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := sink.Upload(context.Background(), "../escape.pdf", "application/pdf", []byte("data"))
		assert.Error(t, err)
	})
}
