package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/garyjia/nfe-danfe/internal/nfe/nfetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.Execute()
	return out.String(), err
}

func writeXML(t *testing.T, dir string, name string, opts nfetest.Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, nfetest.XML(opts), 0644))
	return path
}

func TestParseCommand(t *testing.T) {
	path := writeXML(t, t.TempDir(), "nota.xml", nfetest.Options{Items: 2, Envelope: true})

	out, err := run(t, "parse", path, "--compact")
	require.NoError(t, err)

	var inv struct {
		Identification struct {
			AccessKey string `json:"access_key"`
		} `json:"identification"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &inv))
	assert.Equal(t, nfetest.KeyFor(1234), inv.Identification.AccessKey)

	_, err = run(t, "parse", filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}

func TestDanfeCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "nota.xml", nfetest.Options{Items: 3})
	output := filepath.Join(dir, "danfe.pdf")

	_, err := run(t, "danfe", path, "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	t.Run("invalid key", func(t *testing.T) {
		bad := writeXML(t, dir, "bad.xml", nfetest.Options{Items: 1, AccessKey: "123"})
		_, err := run(t, "danfe", bad, "-o", filepath.Join(dir, "x.pdf"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InvalidAccessKey")
	})
}

func TestLabelsCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeXML(t, dir, "nota.xml", nfetest.Options{Items: 1, Volumes: 2})

	t.Run("json to stdout", func(t *testing.T) {
		out, err := run(t, "labels", path, "--format", "json", "--count", "3", "--consolidate")
		require.NoError(t, err)

		var set struct {
			Volumes []json.RawMessage `json:"volumes"`
			Master  *struct {
				ChildCount int `json:"child_count"`
			} `json:"master"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &set))
		assert.Len(t, set.Volumes, 3)
		require.NotNil(t, set.Master)
		assert.Equal(t, 3, set.Master.ChildCount)
	})

	t.Run("pdf and xlsx files", func(t *testing.T) {
		for _, format := range []string{"pdf", "xlsx"} {
			output := filepath.Join(dir, "labels."+format)
			_, err := run(t, "labels", path, "--format", format, "-o", output)
			require.NoError(t, err, format)
			assert.FileExists(t, output)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := run(t, "labels", path, "--format", "gif")
		assert.Error(t, err)
	})
}

func TestBatchCommand(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	for i := 1; i <= 4; i++ {
		writeXML(t, in, fmt.Sprintf("nfe-%d.xml", i), nfetest.Options{Number: i, Items: 1, Volumes: 1})
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.xml"), []byte("<NFe>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "readme.txt"), []byte("skip"), 0644))
	report := filepath.Join(out, "lote.xlsx")

	stdout, err := run(t, "batch", in, "--out", out, "--report", report, "--labels")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 5 documents failed")
	assert.Contains(t, stdout, "4 succeeded, 1 failed")
	assert.Contains(t, stdout, "broken.xml [parse]")

	assert.FileExists(t, report)
	for i := 1; i <= 4; i++ {
		folder := filepath.Join(out, "11222333000181", nfetest.KeyFor(i))
		assert.FileExists(t, filepath.Join(folder, "danfe.pdf"))
		assert.FileExists(t, filepath.Join(folder, "labels.pdf"))
	}
}

func TestBatchCommand_Persist(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0755))
	writeXML(t, in, "a.xml", nfetest.Options{Number: 1, Items: 1})
	writeXML(t, in, "b.xml", nfetest.Options{Number: 2, Items: 1})

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("database:\n  path: %s\nstorage:\n  archive_dir: %s\nlogger:\n  output_path: stderr\n  level: error\n",
		filepath.Join(dir, "nfe.db"), filepath.Join(dir, "archive"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	stdout, err := run(t, "batch", in, "--persist", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 succeeded, 0 failed")
	assert.FileExists(t, filepath.Join(dir, "archive", "11222333000181", nfetest.KeyFor(1), "danfe.pdf"))

	// resubmission is refused per item
	stdout, err = run(t, "batch", filepath.Join(in, "a.xml"), "--persist", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, stdout, "[persist]")
}

func TestCollectItems(t *testing.T) {
	dir := t.TempDir()
	writeXML(t, dir, "b.xml", nfetest.Options{Items: 1})
	writeXML(t, dir, "A.XML", nfetest.Options{Items: 1})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), nil, 0644))

	items, unreadable, err := collectItems([]string{dir})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Empty(t, unreadable)
	assert.Equal(t, filepath.Join(dir, "A.XML"), items[0].ID)

	_, _, err = collectItems([]string{filepath.Join(dir, "nope")})
	assert.Error(t, err)
}

func TestBatchCommand_UnreadableFileIsItemFailure(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0755))
	writeXML(t, in, "b.xml", nfetest.Options{Number: 1, Items: 1})
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing.xml"), filepath.Join(in, "a.xml")))

	items, unreadable, err := collectItems([]string{in})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	require.Len(t, unreadable, 1)
	assert.Equal(t, filepath.Join(in, "a.xml"), unreadable[0].ItemID)
	assert.Equal(t, "batch", unreadable[0].Stage)

	out := filepath.Join(dir, "out")
	stdout, err := run(t, "batch", in, "--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents failed")
	assert.Contains(t, stdout, "1 succeeded, 1 failed")
	assert.Contains(t, stdout, "a.xml [batch] unreadable")
	assert.FileExists(t, filepath.Join(out, "11222333000181", nfetest.KeyFor(1), "danfe.pdf"))
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("database:\n  path: %s\nlogger:\n  output_path: stderr\n  level: error\n",
		filepath.Join(dir, "nfe.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	stdout, err := run(t, "migrate", "--status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "001")
	assert.Contains(t, stdout, "invoices")
	assert.Contains(t, stdout, "pending")

	stdout, err = run(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "pending")
	assert.Contains(t, stdout, "applied")
}
