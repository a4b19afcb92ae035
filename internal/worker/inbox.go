package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/nfe-danfe/internal/batch"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Inbox subfolders
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// BatchRunner processes one batch of invoices
type BatchRunner interface {
	Run(ctx context.Context, items []batch.Item) *entity.BatchReport
}

// ReportSaver stores finished batch reports
type ReportSaver interface {
	Save(report *entity.BatchReport) error
}

// InboxConfig controls the inbox watcher
type InboxConfig struct {
	Dir          string
	PollInterval time.Duration
	// MaxFiles caps how many documents one poll picks up
	MaxFiles int
}

// InboxWatcher polls a folder for NF-e XML files and runs them as a batch.
// Processed files move to done/, rejected ones to failed/ next to a .err file
// holding the reason. Files left unprocessed by a shutdown stay in the inbox.
type InboxWatcher struct {
	cfg     InboxConfig
	runner  BatchRunner
	reports ReportSaver
	logger  *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewInboxWatcher creates a new inbox watcher. reports may be nil.
func NewInboxWatcher(cfg InboxConfig, runner BatchRunner, reports ReportSaver, logger *zap.Logger) *InboxWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxWatcher{
		cfg:     cfg,
		runner:  runner,
		reports: reports,
		logger:  logger,
	}
}

// Start creates the inbox folders and starts polling
func (w *InboxWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("inbox watcher is already running")
	}

	for _, dir := range []string{w.cfg.Dir, filepath.Join(w.cfg.Dir, DoneDir), filepath.Join(w.cfg.Dir, FailedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox folder: %w", err)
		}
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("InboxWatcher started",
		zap.String("dir", w.cfg.Dir),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	go w.pollLoop(loopCtx)
	return nil
}

// Stop stops polling and waits for a running batch to finish
func (w *InboxWatcher) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("InboxWatcher stopped")
}

// Name returns the worker name for identification
func (w *InboxWatcher) Name() string {
	return "InboxWatcher"
}

func (w *InboxWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// Poll immediately on start
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *InboxWatcher) poll(ctx context.Context) {
	if _, err := w.Scan(ctx); err != nil {
		w.logger.Error("Inbox scan failed", zap.Error(err))
	}
}

// Scan processes the documents currently in the inbox once. It returns nil
// when the inbox is empty.
func (w *InboxWatcher) Scan(ctx context.Context) (*entity.BatchReport, error) {
	names, err := w.pending()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	items := make([]batch.Item, 0, len(names))
	var unreadable []entity.ItemError
	skipped := make(map[string]bool)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.cfg.Dir, name))
		if err != nil {
			w.logger.Warn("Unreadable inbox document", zap.String("file", name), zap.Error(err))
			unreadable = append(unreadable, entity.ItemError{
				ItemID: name,
				Stage:  batch.StageBatch,
				Reason: fmt.Sprintf("unreadable: %v", err),
			})
			skipped[name] = true
			continue
		}
		items = append(items, batch.Item{ID: name, Data: data})
	}

	var report *entity.BatchReport
	if len(items) > 0 {
		report = w.runner.Run(ctx, items)
	} else {
		now := time.Now().UTC()
		report = &entity.BatchReport{JobID: uuid.NewString(), StartedAt: now, FinishedAt: now}
	}
	report.Failed += len(unreadable)
	report.Errors = append(report.Errors, unreadable...)

	failed := make(map[string]entity.ItemError, len(report.Errors))
	for _, e := range report.Errors {
		failed[e.ItemID] = e
	}

	for _, name := range names {
		e, isFailed := failed[name]
		switch {
		case !isFailed:
			_, err = w.move(name, DoneDir)
		case e.Stage == batch.StageBatch && ctx.Err() != nil && !skipped[name]:
			// not attempted; picked up again on the next start
			continue
		default:
			var target string
			target, err = w.move(name, FailedDir)
			if err == nil {
				err = writeReason(target, e)
			}
		}
		if err != nil {
			w.logger.Error("Failed to file inbox document", zap.String("file", name), zap.Error(err))
		}
	}

	if w.reports != nil {
		if err := w.reports.Save(report); err != nil {
			w.logger.Error("Failed to save inbox batch report", zap.String("job_id", report.JobID), zap.Error(err))
		}
	}

	w.logger.Info("Inbox batch processed",
		zap.String("job_id", report.JobID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed))
	return report, nil
}

// pending lists the XML files waiting in the inbox, oldest name first
func (w *InboxWatcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) > w.cfg.MaxFiles {
		names = names[:w.cfg.MaxFiles]
	}
	return names, nil
}

// move files name into sub, adding a timestamp when the target exists. It
// returns the final path.
func (w *InboxWatcher) move(name, sub string) (string, error) {
	target := filepath.Join(w.cfg.Dir, sub, name)
	if _, err := os.Lstat(target); err == nil {
		ext := filepath.Ext(name)
		target = filepath.Join(w.cfg.Dir, sub,
			fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), time.Now().UnixNano(), ext))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return target, os.Rename(filepath.Join(w.cfg.Dir, name), target)
}

// writeReason stores why a document failed next to it, as <document>.err
func writeReason(document string, e entity.ItemError) error {
	reason := fmt.Sprintf("stage: %s\nreason: %s\n", e.Stage, e.Reason)
	return os.WriteFile(document+".err", []byte(reason), 0644)
}
