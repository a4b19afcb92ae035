package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "35240211222333000181550010000012341000012345"

func TestFolderManager_CreateInvoiceFolder(t *testing.T) {
	tempDir := t.TempDir()
	fm := NewFolderManager(tempDir, zap.NewNop())

	t.Run("creates issuer and key folders", func(t *testing.T) {
		folderPath, err := fm.CreateInvoiceFolder("11222333000181", testKey)

		require.NoError(t, err)
		assert.DirExists(t, folderPath)
		assert.Equal(t, filepath.Join(tempDir, "11222333000181", testKey), folderPath)
		assert.True(t, fm.FolderExists("11222333000181", testKey))
	})

	t.Run("is idempotent", func(t *testing.T) {
		first, err := fm.CreateInvoiceFolder("11222333000181", testKey)
		require.NoError(t, err)
		second, err := fm.CreateInvoiceFolder("11222333000181", testKey)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unknown issuer", func(t *testing.T) {
		folderPath, err := fm.CreateInvoiceFolder("", testKey)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "unknown", testKey), folderPath)
	})

	t.Run("returns error for empty key", func(t *testing.T) {
		_, err := fm.CreateInvoiceFolder("11222333000181", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("traversal in key stays inside base", func(t *testing.T) {
		folderPath, err := fm.CreateInvoiceFolder("x", "../../etc")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tempDir, "x", "etc"), folderPath)
	})
}

func TestFolderManager_DocumentPath(t *testing.T) {
	fm := NewFolderManager("/archive", nil)

	assert.Equal(t,
		filepath.Join("/archive", "11222333000181", testKey, "danfe.pdf"),
		fm.DocumentPath("11222333000181", testKey, "danfe.pdf"))
	assert.Equal(t,
		filepath.Join("/archive", "11222333000181", testKey, "passwd"),
		fm.DocumentPath("11222333000181", testKey, "../passwd"))
}

func TestFolderManager_DeleteInvoiceFolder(t *testing.T) {
	tempDir := t.TempDir()
	fm := NewFolderManager(tempDir, nil)

	folderPath, err := fm.CreateInvoiceFolder("11222333000181", testKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folderPath, "danfe.pdf"), []byte("x"), 0644))

	require.NoError(t, fm.DeleteInvoiceFolder("11222333000181", testKey))
	assert.NoDirExists(t, folderPath)
	assert.False(t, fm.FolderExists("11222333000181", testKey))

	// missing folder is not an error
	assert.NoError(t, fm.DeleteInvoiceFolder("11222333000181", testKey))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"danfe.pdf", "danfe.pdf"},
		{"../../etc/passwd", "etcpasswd"},
		{"nota fiscal #12", "notafiscal12"},
		{"a\\b", "ab"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}
