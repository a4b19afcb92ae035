package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/garyjia/nfe-danfe/internal/batch"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/export"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/internal/repository"
	"github.com/garyjia/nfe-danfe/internal/storage"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCommand(g *globalOptions) *cobra.Command {
	var (
		lf         labelFlags
		outDir     string
		reportPath string
		persist    bool
		labels     bool
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "batch <dir|file.xml>...",
		Short: "Process many NF-e documents and report per-item failures",
		Long: `batch renders every XML document found in the given files and
directories. One failing document never stops the others; failures are listed
in the report with the stage that rejected them, so only those need to be
resubmitted.

Without --persist the DANFEs are written below --out, one folder per issuer
and access key. With --persist invoices, labels and the report are stored in
the configured database and documents go to the storage archive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, g)
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			items, unreadable, err := collectItems(args)
			if err != nil {
				return err
			}
			if len(items)+len(unreadable) == 0 {
				return fmt.Errorf("no .xml files found")
			}

			var (
				sink    batch.Sink
				reports *repository.BatchRepository
			)
			if persist {
				db, err := database.New(a.cfg.DatabaseSettings(), a.logger)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := repository.Migrate(db, a.logger); err != nil {
					return err
				}
				archive := a.cfg.Storage.ArchiveDir
				sink = repository.NewStore(db,
					storage.NewLocalFileStorage(archive, a.logger),
					storage.NewFolderManager(archive, a.logger),
					a.logger)
				reports = repository.NewBatchRepository(db, a.logger)
			} else {
				if outDir == "" {
					outDir = a.cfg.Render.OutputDir
				}
				sink = newDirectorySink(outDir, a.logger)
			}

			bcfg := a.cfg.BatchSettings()
			if workers > 0 {
				bcfg.Workers = workers
			}
			bcfg.Options = pipeline.Options{
				Labels:     lf.options(),
				Document:   true,
				LabelSheet: labels || a.cfg.Render.LabelSheet,
			}
			if !cmd.Flags().Changed("consolidate") {
				bcfg.Options.Labels.Consolidate = a.cfg.Render.Consolidate
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report := batch.NewCoordinator(a.pipeline, sink, bcfg, a.logger).Run(ctx, items)
			report.Failed += len(unreadable)
			report.Errors = append(report.Errors, unreadable...)

			if reports != nil {
				if err := reports.Save(report); err != nil {
					return err
				}
			}
			if reportPath != "" {
				data, err := export.NewWriter(a.logger).BatchReport(report)
				if err != nil {
					return err
				}
				if err := os.WriteFile(reportPath, data, 0644); err != nil {
					return err
				}
			}

			printReport(a, report)
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", report.Failed, report.Total())
			}
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default render.output_dir)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the batch report as XLSX to this path")
	cmd.Flags().BoolVar(&persist, "persist", false, "Store results in the database and archive")
	cmd.Flags().BoolVar(&labels, "labels", false, "Also render the label sheet of each invoice")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers per chunk (default batch.workers)")
	return cmd
}

// collectItems reads the .xml files named by paths (files or directories).
// Items are sorted by path; files that cannot be read come back as item
// failures.
func collectItems(paths []string) ([]batch.Item, []entity.ItemError, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}
	sort.Strings(files)

	items := make([]batch.Item, 0, len(files))
	var unreadable []entity.ItemError
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			unreadable = append(unreadable, entity.ItemError{
				ItemID: f,
				Stage:  batch.StageBatch,
				Reason: fmt.Sprintf("unreadable: %v", err),
			})
			continue
		}
		items = append(items, batch.Item{ID: f, Data: data})
	}
	return items, unreadable, nil
}

func printReport(a *app, r *entity.BatchReport) {
	fmt.Fprintf(a.stdout, "job %s: %d succeeded, %d failed\n", r.JobID, r.Succeeded, r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(a.stdout, "  %s [%s] %s\n", e.ItemID, e.Stage, e.Reason)
	}
}

// documentFiles is the part of LocalFileStorage the sink writes through
type documentFiles interface {
	SaveFileWithType(fullPath string, content []byte, fileType storage.FileType) error
	Remove(fullPath string) error
}

// directorySink writes rendered documents below a folder without a database
type directorySink struct {
	files   documentFiles
	folders *storage.FolderManager
	logger  *zap.Logger
}

func newDirectorySink(dir string, logger *zap.Logger) *directorySink {
	return &directorySink{
		files:   storage.NewLocalFileStorage(dir, logger),
		folders: storage.NewFolderManager(dir, logger),
		logger:  logger,
	}
}

// Save writes the DANFE and label sheet of res. A partial write is removed.
func (s *directorySink) Save(_ context.Context, itemID string, res *pipeline.Result) error {
	inv := res.Invoice
	issuer, key := inv.Emitter.TaxID, inv.Identification.AccessKey
	if _, err := s.folders.CreateInvoiceFolder(issuer, key); err != nil {
		return err
	}

	docs := []struct {
		name string
		data []byte
	}{
		{repository.DocumentKindDANFE + ".pdf", res.Document},
		{repository.DocumentKindLabels + ".pdf", res.LabelSheet},
	}

	var written []string
	for _, doc := range docs {
		if len(doc.data) == 0 {
			continue
		}
		path := s.folders.DocumentPath(issuer, key, doc.name)
		if err := s.files.SaveFileWithType(path, doc.data, storage.FileTypePDF); err != nil {
			for _, p := range written {
				if rmErr := s.files.Remove(p); rmErr != nil {
					s.logger.Warn("Failed to remove partial document", zap.String("path", p), zap.Error(rmErr))
				}
			}
			return err
		}
		written = append(written, path)
	}

	s.logger.Debug("Documents written", zap.String("item_id", itemID), zap.Strings("paths", written))
	return nil
}
