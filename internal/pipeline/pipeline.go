package pipeline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/garyjia/nfe-danfe/internal/danfe"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/nfe"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"go.uber.org/zap"
)

// Options selects what a single run produces
type Options struct {
	Labels label.DeriveOptions
	// Document renders the DANFE
	Document bool
	// LabelSheet renders the volume labels
	LabelSheet bool
}

// DefaultOptions renders the DANFE and derives volumes from the declared count
func DefaultOptions() Options {
	return Options{Document: true}
}

// Result carries everything produced for one invoice
type Result struct {
	Invoice    *entity.Invoice
	Labels     *label.DerivedSet
	QR         *qrcode.Artifact
	Document   []byte
	LabelSheet []byte
}

// Pipeline runs parse, normalize, compose, derive and render for one invoice.
// It holds no per-invoice state and is safe for concurrent use.
type Pipeline struct {
	normalizer *nfe.Normalizer
	composer   *qrcode.Composer
	deriver    *label.Deriver
	renderer   *danfe.Renderer
	labels     *danfe.LabelRenderer
	logger     *zap.Logger
}

// New creates a pipeline from its stages
func New(normalizer *nfe.Normalizer, composer *qrcode.Composer, deriver *label.Deriver,
	renderer *danfe.Renderer, labels *danfe.LabelRenderer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		normalizer: normalizer,
		composer:   composer,
		deriver:    deriver,
		renderer:   renderer,
		labels:     labels,
		logger:     logger,
	}
}

// NewDefault wires every stage with its default collaborators
func NewDefault(qr qrcode.Config, catalog *label.HazmatCatalog, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return New(
		nfe.NewNormalizer(logger.Named("normalizer")),
		qrcode.NewComposer(qr, logger.Named("qrcode")),
		label.NewDeriver(catalog, logger.Named("label")),
		danfe.NewRenderer(nil, logger.Named("danfe")),
		danfe.NewLabelRenderer(nil, logger.Named("labels")),
		logger,
	)
}

// Parse runs only the parse and normalize stages
func (p *Pipeline) Parse(r io.Reader) (*entity.Invoice, error) {
	root, err := nfe.ParseTree(r)
	if err != nil {
		return nil, Wrap(StageParse, err)
	}
	inv, err := p.normalizer.Normalize(root)
	if err != nil {
		return nil, Wrap(StageNormalize, err)
	}
	return inv, nil
}

// ParseBytes is Parse over an in-memory document
func (p *Pipeline) ParseBytes(data []byte) (*entity.Invoice, error) {
	return p.Parse(bytes.NewReader(data))
}

// Process runs the whole pipeline and returns the first failing stage as a *StageError
func (p *Pipeline) Process(r io.Reader, opts Options) (*Result, error) {
	inv, err := p.Parse(r)
	if err != nil {
		return nil, err
	}
	return p.ProcessInvoice(inv, opts)
}

// ProcessInvoice runs the stages after normalization
func (p *Pipeline) ProcessInvoice(inv *entity.Invoice, opts Options) (*Result, error) {
	res := &Result{Invoice: inv}

	if !inv.AccessKeyValid {
		return nil, &StageError{
			Stage: StageCompose,
			Kind:  KindInvalidAccessKey,
			Err:   fmt.Errorf("%w: %q", qrcode.ErrInvalidAccessKey, inv.Identification.AccessKey),
		}
	}

	qr, err := p.composer.Compose(inv)
	if err != nil {
		return nil, Wrap(StageCompose, err)
	}
	res.QR = qr

	set, err := p.deriver.Derive(inv, opts.Labels)
	if err != nil {
		return nil, Wrap(StageDerive, err)
	}
	res.Labels = set

	if opts.Document {
		doc, err := p.renderer.Render(inv, qr)
		if err != nil {
			return nil, Wrap(StageRender, err)
		}
		res.Document = doc
	}

	if opts.LabelSheet {
		sheet, err := p.labels.RenderLabels(set.Volumes, set.Master)
		if err != nil {
			return nil, Wrap(StageRender, err)
		}
		res.LabelSheet = sheet
	}

	p.logger.Info("Invoice processed",
		zap.String("access_key", inv.Identification.AccessKey),
		zap.String("invoice_number", inv.Identification.Number),
		zap.Int("volumes", len(set.Volumes)),
		zap.Int("document_bytes", len(res.Document)))
	return res, nil
}
