package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/nfe-danfe/internal/batch"
	"github.com/garyjia/nfe-danfe/internal/danfe"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/pipeline"
	"github.com/garyjia/nfe-danfe/internal/repository"
)

// Content types served besides JSON
const (
	contentTypePDF  = "application/pdf"
	contentTypePNG  = "image/png"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Processor runs the single-invoice pipeline
type Processor interface {
	Parse(r io.Reader) (*entity.Invoice, error)
	Process(r io.Reader, opts pipeline.Options) (*pipeline.Result, error)
}

// BatchRunner processes a batch with the given pipeline options
type BatchRunner interface {
	RunWithOptions(ctx context.Context, items []batch.Item, opts pipeline.Options) *entity.BatchReport
}

// InvoiceReader reads stored invoices
type InvoiceReader interface {
	GetByAccessKey(accessKey string) (*repository.StoredInvoice, error)
	List(limit, offset int) ([]repository.InvoiceSummary, error)
}

// ReportStore persists batch reports
type ReportStore interface {
	Save(report *entity.BatchReport) error
	Get(jobID string) (*entity.BatchReport, error)
}

// Workbooks builds spreadsheet exports
type Workbooks interface {
	LabelManifest(volumes []entity.Volume, master *entity.MasterLabel) ([]byte, error)
	BatchReport(report *entity.BatchReport) ([]byte, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	processor Processor
	batches   BatchRunner
	invoices  InvoiceReader
	reports   ReportStore
	workbooks Workbooks
	database  Pinger
	logger    Logger
}

// Pinger checks a backing store; *database.DB satisfies it
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies groups the collaborators of Handlers. Invoices, Reports and
// Database may be nil when the server runs without a database.
type Dependencies struct {
	Processor Processor
	Batches   BatchRunner
	Invoices  InvoiceReader
	Reports   ReportStore
	Workbooks Workbooks
	Database  Pinger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		processor: deps.Processor,
		batches:   deps.Batches,
		invoices:  deps.Invoices,
		reports:   deps.Reports,
		workbooks: deps.Workbooks,
		database:  deps.Database,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Stage   string      `json:"stage,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// LabelsResponse is the JSON form of a derived label set
type LabelsResponse struct {
	AccessKey string              `json:"access_key"`
	Volumes   []entity.Volume     `json:"volumes"`
	Master    *entity.MasterLabel `json:"master,omitempty"`
}

// ListInvoicesRequest represents query parameters for listing invoices
type ListInvoicesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// Ready handles GET /ready. It fails while the database is unreachable.
func (h *Handlers) Ready(c *gin.Context) {
	if h.database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.PingContext(ctx); err != nil {
			h.logger.Error("Readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"status": "ready"}})
}

// ParseInvoice handles POST /api/invoices/parse
func (h *Handlers) ParseInvoice(c *gin.Context) {
	inv, err := h.processor.Parse(c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inv})
}

// RenderDANFE handles POST /api/invoices/danfe. With format=png the requested
// page (1-based, default 1) is returned as an image.
func (h *Handlers) RenderDANFE(c *gin.Context) {
	res, err := h.processor.Process(c.Request.Body, pipeline.Options{Document: true})
	if err != nil {
		h.fail(c, err)
		return
	}

	key := res.Invoice.Identification.AccessKey
	if c.Query("format") == "png" {
		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			h.badRequest(c, "page must be a positive integer")
			return
		}
		pages, err := danfe.PageCount(res.Document)
		if err != nil {
			h.logger.Error("Rendered DANFE cannot be opened", "error", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
			return
		}
		if page > pages {
			h.badRequest(c, fmt.Sprintf("page %d out of range (document has %d)", page, pages))
			return
		}
		img, err := danfe.Rasterize(res.Document, page-1)
		if err != nil {
			h.logger.Error("Failed to rasterize DANFE", "page", page, "error", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
			return
		}
		c.Header("X-Page-Count", strconv.Itoa(pages))
		c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="danfe-%s-%d.png"`, key, page))
		c.Data(http.StatusOK, contentTypePNG, img)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="danfe-%s.pdf"`, key))
	c.Data(http.StatusOK, contentTypePDF, res.Document)
}

// RenderLabels handles POST /api/invoices/labels. Query parameters: count,
// consolidate, un/risk/class (hazard override) and format=pdf|xlsx|json.
func (h *Handlers) RenderLabels(c *gin.Context) {
	opts, err := labelOptions(c)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	format := c.DefaultQuery("format", "pdf")
	switch format {
	case "pdf", "xlsx", "json":
	default:
		h.badRequest(c, "format must be pdf, xlsx or json")
		return
	}
	opts.LabelSheet = format == "pdf"

	res, err := h.processor.Process(c.Request.Body, opts)
	if err != nil {
		h.fail(c, err)
		return
	}

	key := res.Invoice.Identification.AccessKey
	switch format {
	case "json":
		c.JSON(http.StatusOK, Response{Success: true, Data: LabelsResponse{
			AccessKey: key,
			Volumes:   res.Labels.Volumes,
			Master:    res.Labels.Master,
		}})
	case "xlsx":
		data, err := h.workbooks.LabelManifest(res.Labels.Volumes, res.Labels.Master)
		if err != nil {
			h.logger.Error("Failed to build label manifest", "error", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to build manifest"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="etiquetas-%s.xlsx"`, key))
		c.Data(http.StatusOK, contentTypeXLSX, data)
	default:
		c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="etiquetas-%s.pdf"`, key))
		c.Data(http.StatusOK, contentTypePDF, res.LabelSheet)
	}
}

// RunBatch handles POST /api/batches with a multipart form of XML files
// under the field "files". format=xlsx returns the report as a workbook.
func (h *Handlers) RunBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.badRequest(c, "multipart form with files is required")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		h.badRequest(c, "no files submitted")
		return
	}

	opts, err := labelOptions(c)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}
	opts.Document = c.DefaultQuery("document", "true") == "true"

	items := make([]batch.Item, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.badRequest(c, fmt.Sprintf("cannot read %s", fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.badRequest(c, fmt.Sprintf("cannot read %s", fh.Filename))
			return
		}
		items = append(items, batch.Item{ID: fh.Filename, Data: data})
	}

	report := h.batches.RunWithOptions(c.Request.Context(), items, opts)

	if h.reports != nil {
		if err := h.reports.Save(report); err != nil {
			h.logger.Error("Failed to save batch report", "job_id", report.JobID, "error", err)
		}
	}

	if c.Query("format") == "xlsx" {
		data, err := h.workbooks.BatchReport(report)
		if err != nil {
			h.logger.Error("Failed to build batch workbook", "error", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to build report"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="lote-%s.xlsx"`, report.JobID))
		c.Data(http.StatusOK, contentTypeXLSX, data)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

// GetBatch handles GET /api/batches/:id
func (h *Handlers) GetBatch(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "persistence disabled"})
		return
	}

	report, err := h.reports.Get(c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "batch not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get batch", "job_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve batch"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

// ListInvoices handles GET /api/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	if h.invoices == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "persistence disabled"})
		return
	}

	var req ListInvoicesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	list, err := h.invoices.List(req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list invoices", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve invoices"})
		return
	}
	if list == nil {
		list = []repository.InvoiceSummary{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: list})
}

// GetInvoice handles GET /api/invoices/:key
func (h *Handlers) GetInvoice(c *gin.Context) {
	if h.invoices == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "persistence disabled"})
		return
	}

	stored, err := h.invoices.GetByAccessKey(c.Param("key"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "invoice not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get invoice", "access_key", c.Param("key"), "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve invoice"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stored})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps a pipeline error to a status code
func (h *Handlers) fail(c *gin.Context, err error) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		h.logger.Error("Pipeline failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case pipeline.KindMalformedInput, pipeline.KindInvalidRequest:
		status = http.StatusBadRequest
	case pipeline.KindInvalidAccessKey:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Pipeline failed", "stage", se.Stage, "error", err)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   se.Err.Error(),
		Stage:   string(se.Stage),
		Kind:    string(se.Kind),
	})
}

func labelOptions(c *gin.Context) (pipeline.Options, error) {
	var opts pipeline.Options

	if s := c.Query("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("count must be a positive integer")
		}
		opts.Labels.Count = n
	}
	opts.Labels.Consolidate = c.Query("consolidate") == "true"

	if un := strings.TrimSpace(c.Query("un")); un != "" {
		opts.Labels.Hazard = &entity.Hazard{
			UNNumber:       un,
			RiskCode:       c.Query("risk"),
			Classification: c.Query("class"),
		}
	}
	return opts, nil
}
