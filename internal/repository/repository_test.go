package repository

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/nfe/nfetest"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/garyjia/nfe-danfe/internal/storage"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "nfe.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, zap.NewNop()))
	return db
}

func processed(t *testing.T, number int, opts pipeline.Options) *pipeline.Result {
	t.Helper()
	p := pipeline.NewDefault(qrcode.Config{CSC: "TEST"}, nil, zap.NewNop())
	doc := nfetest.XML(nfetest.Options{Number: number, Items: 2, Volumes: 3, Envelope: true})
	res, err := p.Process(bytes.NewReader(doc), opts)
	require.NoError(t, err)
	return res
}

func TestInvoiceRepository_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	res := processed(t, 1234, pipeline.Options{})

	id, err := repo.Create(nil, res.Invoice)
	require.NoError(t, err)
	assert.Positive(t, id)

	t.Run("loads payload", func(t *testing.T) {
		stored, err := repo.GetByAccessKey(nfetest.KeyFor(1234))
		require.NoError(t, err)
		assert.Equal(t, id, stored.ID)
		assert.Equal(t, entity.InvoiceStatusImported, stored.Status)
		assert.Equal(t, "1234", stored.Invoice.Identification.Number)
		require.Len(t, stored.Invoice.Items, 2)
		assert.True(t, stored.Invoice.Totals.DocumentTotal.Equal(res.Invoice.Totals.DocumentTotal))
	})

	t.Run("stores items", func(t *testing.T) {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM invoice_items WHERE invoice_id = ?`, id).Scan(&n))
		assert.Equal(t, 2, n)
	})

	t.Run("rejects duplicate access key", func(t *testing.T) {
		_, err := repo.Create(nil, res.Invoice)
		assert.ErrorIs(t, err, ErrDuplicateAccessKey)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByAccessKey("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := repo.Exists(nfetest.KeyFor(1234))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(nil, id, entity.InvoiceStatusRendered))
		stored, err := repo.GetByAccessKey(nfetest.KeyFor(1234))
		require.NoError(t, err)
		assert.Equal(t, entity.InvoiceStatusRendered, stored.Status)

		assert.ErrorIs(t, repo.UpdateStatus(nil, 9999, entity.InvoiceStatusRendered), ErrNotFound)
	})
}

func TestInvoiceRepository_List(t *testing.T) {
	db := setupDB(t)
	repo := NewInvoiceRepository(db.DB, nil)

	for _, n := range []int{1, 2, 3} {
		_, err := repo.Create(nil, processed(t, n, pipeline.Options{}).Invoice)
		require.NoError(t, err)
	}

	list, err := repo.List(2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "3", list[0].Number)
	assert.Equal(t, "Quimica Exemplo Ltda", list[0].EmitterName)
	require.NotNil(t, list[0].IssuedAt)

	rest, err := repo.List(10, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "1", rest[0].Number)
}

func TestVolumeRepository_CreateSet(t *testing.T) {
	db := setupDB(t)
	invoices := NewInvoiceRepository(db.DB, nil)
	volumes := NewVolumeRepository(db.DB, zap.NewNop())
	res := processed(t, 77, pipeline.Options{Labels: label.DeriveOptions{Consolidate: true}})

	id, err := invoices.Create(nil, res.Invoice)
	require.NoError(t, err)
	require.NoError(t, volumes.CreateSet(nil, id, res.Labels.Volumes, res.Labels.Master))

	list, err := volumes.ListByInvoice(id)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, v := range list {
		assert.Equal(t, i+1, v.Sequence)
		assert.Equal(t, res.Labels.Volumes[i].LabelCode, v.LabelCode)
		assert.True(t, v.GrossWeight.Equal(res.Labels.Volumes[i].GrossWeight))
	}

	master, err := volumes.GetMaster(id)
	require.NoError(t, err)
	assert.Equal(t, 3, master.ChildCount)
	assert.Len(t, master.ChildCodes, 3)

	byCode, err := volumes.GetByLabelCode(list[1].LabelCode)
	require.NoError(t, err)
	assert.Equal(t, 2, byCode.Sequence)

	t.Run("label codes are unique", func(t *testing.T) {
		err := volumes.CreateSet(nil, id, res.Labels.Volumes[:1], nil)
		assert.ErrorIs(t, err, ErrDuplicateLabel)
	})

	t.Run("missing master", func(t *testing.T) {
		_, err := volumes.GetMaster(id + 100)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBatchRepository_SaveAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db, zap.NewNop())

	started := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	report := &entity.BatchReport{
		JobID:     "job-1",
		Succeeded: 34,
		Failed:    1,
		Errors: []entity.ItemError{
			{ItemID: "item-17", Stage: "parse", Reason: "malformed xml document"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
	require.NoError(t, repo.Save(report))

	got, err := repo.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, 34, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, []string{"item-17"}, got.FailedIDs())
	assert.Equal(t, "parse", got.Errors[0].Stage)
	assert.True(t, got.StartedAt.Equal(started))

	assert.Error(t, repo.Save(report), "job ids are unique")

	_, err = repo.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Save(t *testing.T) {
	db := setupDB(t)
	archive := t.TempDir()
	store := NewStore(db,
		storage.NewLocalFileStorage(archive, nil),
		storage.NewFolderManager(archive, nil),
		zap.NewNop())

	res := processed(t, 1234, pipeline.Options{Document: true, LabelSheet: true,
		Labels: label.DeriveOptions{Consolidate: true}})

	require.NoError(t, store.Save(context.Background(), "item-1", res))

	stored, err := store.Invoices().GetByAccessKey(nfetest.KeyFor(1234))
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusRendered, stored.Status)

	vols, err := store.Volumes().ListByInvoice(stored.ID)
	require.NoError(t, err)
	assert.Len(t, vols, 3)

	docs, err := store.Documents().ListByInvoice(stored.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		content, err := os.ReadFile(d.Path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
		assert.Equal(t, int64(len(content)), d.Size)
		assert.True(t, strings.HasPrefix(d.Path, archive))
	}

	t.Run("duplicate is refused and keeps the first archive", func(t *testing.T) {
		err := store.Save(context.Background(), "item-2", res)
		assert.ErrorIs(t, err, ErrDuplicateAccessKey)
		for _, d := range docs {
			assert.FileExists(t, d.Path)
		}
	})
}

func TestStore_SaveWithoutArchive(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db, nil, nil, nil)

	res := processed(t, 5, pipeline.Options{Document: true})
	require.NoError(t, store.Save(context.Background(), "item-1", res))

	stored, err := store.Invoices().GetByAccessKey(nfetest.KeyFor(5))
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusImported, stored.Status)

	assert.Error(t, store.Save(context.Background(), "item-2", nil))
}

// failingStorage fails every write whose name contains failOn
type failingStorage struct {
	*storage.LocalFileStorage
	failOn string
}

func (f *failingStorage) SaveFileWithType(fullPath string, content []byte, fileType storage.FileType) error {
	if strings.Contains(fullPath, f.failOn) {
		return errors.New("disk full")
	}
	return f.LocalFileStorage.SaveFileWithType(fullPath, content, fileType)
}

func TestStore_SaveIsAtomic(t *testing.T) {
	db := setupDB(t)
	archive := t.TempDir()
	folders := storage.NewFolderManager(archive, nil)
	files := &failingStorage{LocalFileStorage: storage.NewLocalFileStorage(archive, nil), failOn: "labels"}
	store := NewStore(db, files, folders, zap.NewNop())

	res := processed(t, 1234, pipeline.Options{Document: true, LabelSheet: true})
	err := store.Save(context.Background(), "item-1", res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// no rows
	_, err = store.Invoices().GetByAccessKey(nfetest.KeyFor(1234))
	assert.ErrorIs(t, err, ErrNotFound)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM volumes`).Scan(&n))
	assert.Zero(t, n)

	// no files
	danfePath := folders.DocumentPath(res.Invoice.Emitter.TaxID, nfetest.KeyFor(1234), "danfe.pdf")
	assert.NoFileExists(t, danfePath)

	// retry after the fault clears succeeds
	files.failOn = "\x00"
	require.NoError(t, store.Save(context.Background(), "item-1", res))
	assert.FileExists(t, danfePath)
}
