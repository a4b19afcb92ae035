package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// StageBatch marks failures raised by the coordinator itself
const StageBatch = "batch"

// Item is one raw invoice submitted for import
type Item struct {
	ID   string
	Data []byte
}

// Processor runs the single-invoice pipeline
type Processor interface {
	Process(r io.Reader, opts pipeline.Options) (*pipeline.Result, error)
}

// Sink persists one processed invoice with all of its derived records. It
// must store everything or nothing.
type Sink interface {
	Save(ctx context.Context, itemID string, res *pipeline.Result) error
}

// Config controls chunking and parallelism
type Config struct {
	ChunkSize int
	Workers   int
	Options   pipeline.Options
}

// Coordinator drives the pipeline over a batch of invoices
type Coordinator struct {
	proc   Processor
	sink   Sink
	cfg    Config
	logger *zap.Logger
}

// NewCoordinator creates a coordinator. sink may be nil.
func NewCoordinator(proc Processor, sink Sink, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > cfg.ChunkSize {
		cfg.Workers = cfg.ChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{proc: proc, sink: sink, cfg: cfg, logger: logger}
}

type outcome struct {
	err   error
	stage string
}

// Run processes items chunk by chunk and always returns a report. One item's
// failure never affects its siblings. When ctx is cancelled no further chunk
// is started and the unprocessed items are reported as failed so they can be
// resubmitted.
func (c *Coordinator) Run(ctx context.Context, items []Item) *entity.BatchReport {
	report := &entity.BatchReport{
		JobID:     uuid.NewString(),
		Errors:    []entity.ItemError{},
		StartedAt: time.Now(),
	}
	log := c.logger.With(zap.String("job_id", report.JobID))
	log.Info("Batch started",
		zap.Int("items", len(items)),
		zap.Int("chunk_size", c.cfg.ChunkSize),
		zap.Int("workers", c.cfg.Workers))

	outcomes := make([]outcome, len(items))
	processed := 0

	for start := 0; start < len(items); start += c.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			log.Warn("Batch cancelled, remaining chunks not submitted",
				zap.Int("processed", processed),
				zap.Error(err))
			for i := start; i < len(items); i++ {
				outcomes[i] = outcome{err: fmt.Errorf("not processed: %w", err), stage: StageBatch}
			}
			break
		}

		end := start + c.cfg.ChunkSize
		if end > len(items) {
			end = len(items)
		}

		p := pool.New().WithMaxGoroutines(c.cfg.Workers)
		for i := start; i < end; i++ {
			p.Go(func() {
				outcomes[i] = c.processItem(ctx, itemID(items[i], i), items[i].Data)
			})
		}
		p.Wait()
		processed = end

		log.Debug("Chunk finished", zap.Int("start", start), zap.Int("end", end))
	}

	for i, o := range outcomes {
		if o.err == nil {
			report.Succeeded++
			continue
		}
		report.Failed++
		report.Errors = append(report.Errors, entity.ItemError{
			ItemID: itemID(items[i], i),
			Stage:  o.stage,
			Reason: o.err.Error(),
		})
	}
	report.FinishedAt = time.Now()

	log.Info("Batch finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

// RunWithOptions is Run with pipeline options chosen per call
func (c *Coordinator) RunWithOptions(ctx context.Context, items []Item, opts pipeline.Options) *entity.BatchReport {
	cc := *c
	cc.cfg.Options = opts
	return cc.Run(ctx, items)
}

func (c *Coordinator) processItem(ctx context.Context, id string, data []byte) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Batch item panicked", zap.String("item_id", id), zap.Any("panic", r))
			out = outcome{err: fmt.Errorf("panic: %v", r), stage: StageBatch}
		}
	}()

	res, err := c.proc.Process(bytes.NewReader(data), c.cfg.Options)
	if err != nil {
		c.logger.Warn("Batch item failed", zap.String("item_id", id), zap.Error(err))
		return outcome{err: err, stage: stageOf(err)}
	}

	if c.sink != nil {
		if err := c.sink.Save(ctx, id, res); err != nil {
			err = pipeline.Wrap(pipeline.StagePersist, err)
			c.logger.Warn("Batch item not persisted", zap.String("item_id", id), zap.Error(err))
			return outcome{err: err, stage: string(pipeline.StagePersist)}
		}
	}
	return outcome{}
}

func stageOf(err error) string {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}

func itemID(item Item, index int) string {
	if item.ID != "" {
		return item.ID
	}
	return fmt.Sprintf("item-%d", index+1)
}
