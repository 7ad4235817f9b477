package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/extract"
	"github.com/procuresight/procuresight/internal/ingest"
	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/stream"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 25 << 20

// keepaliveInterval paces SSE comment frames so idle proxies keep the
// connection open.
const keepaliveInterval = 15 * time.Second

// IngestPipeline is what the ingest endpoints need from the pipeline
// service.
type IngestPipeline interface {
	ProcessBatch(ctx context.Context, orgID string, invoices []models.Invoice, rawDocID string) ([]ingest.Result, error)
	RescoreInvoice(ctx context.Context, orgID, invoiceID string) ([]models.Alert, error)
}

// PDFExtractor extracts an invoice from PDF bytes.
type PDFExtractor interface {
	ExtractPDF(ctx context.Context, data []byte) (*models.Invoice, error)
}

// BlobStore stores raw uploads.
type BlobStore interface {
	Put(orgID, filename string, content []byte) (string, error)
}

// Handlers holds the route implementations.
type Handlers struct {
	defaultOrgID string
	pipeline     IngestPipeline
	extractor    PDFExtractor
	blobs        BlobStore
	rawDocs      *repository.RawDocRepository
	invoices     *repository.InvoiceRepository
	vendors      *repository.VendorRepository
	alerts       *repository.AlertRepository
	registry     *stream.Registry
	logger       *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	defaultOrgID string,
	pipeline IngestPipeline,
	extractor PDFExtractor,
	blobs BlobStore,
	rawDocs *repository.RawDocRepository,
	invoices *repository.InvoiceRepository,
	vendors *repository.VendorRepository,
	alerts *repository.AlertRepository,
	registry *stream.Registry,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		defaultOrgID: defaultOrgID,
		pipeline:     pipeline,
		extractor:    extractor,
		blobs:        blobs,
		rawDocs:      rawDocs,
		invoices:     invoices,
		vendors:      vendors,
		alerts:       alerts,
		registry:     registry,
		logger:       logger,
	}
}

// orgID resolves the org for a request. Single-tenant deployments just use
// the configured default.
func (h *Handlers) orgID(c *gin.Context) string {
	if org := c.GetHeader("X-Org-ID"); org != "" {
		return org
	}
	return h.defaultOrgID
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Ingest accepts a multipart document upload, stores the raw bytes, parses
// it by type and runs every extracted invoice through the pipeline.
func (h *Handlers) Ingest(c *gin.Context) {
	orgID := h.orgID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open upload"})
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	// Byte-identical re-uploads short-circuit here; reprocessing them would
	// insert duplicate invoice rows.
	if existing, err := h.rawDocs.GetByHash(c.Request.Context(), orgID, hash); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check upload"})
		return
	} else if existing != nil {
		h.logger.Info("Re-upload of known document, skipping",
			zap.String("raw_doc_id", existing.ID),
			zap.String("sha256", hash))
		c.JSON(http.StatusOK, gin.H{
			"raw_doc_id": existing.ID,
			"duplicate":  true,
			"invoices":   0,
			"accepted":   0,
		})
		return
	}

	key, err := h.blobs.Put(orgID, fileHeader.Filename, content)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	rawDoc := &models.RawDoc{
		OrgID:      orgID,
		StorageKey: key,
		Filename:   fileHeader.Filename,
		Mime:       fileHeader.Header.Get("Content-Type"),
		Bytes:      int64(len(content)),
		SHA256:     hash,
	}
	if _, err := h.rawDocs.Insert(c.Request.Context(), rawDoc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register upload"})
		return
	}

	invoices, err := h.parseUpload(c.Request.Context(), fileHeader.Filename, content)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	results, err := h.pipeline.ProcessBatch(c.Request.Context(), orgID, invoices, rawDoc.ID)
	if err != nil {
		h.logger.Error("Ingest pipeline failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline failure"})
		return
	}

	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"raw_doc_id": rawDoc.ID,
		"invoices":   len(results),
		"accepted":   accepted,
		"results":    results,
	})
}

// parseUpload dispatches on file extension.
func (h *Handlers) parseUpload(ctx context.Context, filename string, content []byte) ([]models.Invoice, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return extract.ParseCSV(content)
	case ".xlsx":
		return extract.ParseXLSX(content)
	case ".json":
		inv, err := extract.ParseJSON(content)
		if err != nil {
			return nil, err
		}
		return []models.Invoice{*inv}, nil
	case ".pdf":
		if h.extractor == nil {
			return nil, fmt.Errorf("PDF extraction is not configured")
		}
		inv, err := h.extractor.ExtractPDF(ctx, content)
		if err != nil {
			return nil, err
		}
		return []models.Invoice{*inv}, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}

// ListInvoices returns invoices for the org, newest first.
func (h *Handlers) ListInvoices(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	invoices, err := h.invoices.List(c.Request.Context(), h.orgID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invoices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// GetInvoice returns one invoice with its line items.
func (h *Handlers) GetInvoice(c *gin.Context) {
	inv, err := h.invoices.GetWithLines(c.Request.Context(), h.orgID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load invoice"})
		return
	}
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

// PatchInvoice partially updates invoice header fields.
func (h *Handlers) PatchInvoice(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	ok, err := h.invoices.UpdateFields(c.Request.Context(), h.orgID(c), c.Param("id"), fields)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update invoice"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// ListVendors returns vendors for the org.
func (h *Handlers) ListVendors(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	vendors, err := h.vendors.List(c.Request.Context(), h.orgID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list vendors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

// GetVendor returns a single vendor.
func (h *Handlers) GetVendor(c *gin.Context) {
	vendor, err := h.vendors.GetByID(c.Request.Context(), h.orgID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load vendor"})
		return
	}
	if vendor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
		return
	}
	c.JSON(http.StatusOK, vendor)
}

// ListAlerts returns persisted alerts, filterable by severity, type, status
// and invoice.
func (h *Handlers) ListAlerts(c *gin.Context) {
	filter := repository.AlertFilter{
		Severity:  c.Query("severity"),
		Type:      c.Query("type"),
		Status:    c.Query("status"),
		InvoiceID: c.Query("invoice_id"),
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	alerts, err := h.alerts.List(c.Request.Context(), h.orgID(c), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// UpdateAlertStatus moves an alert through its review lifecycle.
func (h *Handlers) UpdateAlertStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing status field"})
		return
	}
	switch body.Status {
	case models.AlertStatusOpen, models.AlertStatusAcked, models.AlertStatusResolved:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status value"})
		return
	}

	ok, err := h.alerts.UpdateStatus(c.Request.Context(), h.orgID(c), c.Param("id"), body.Status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// RescoreInvoice re-runs anomaly scoring for a committed invoice.
func (h *Handlers) RescoreInvoice(c *gin.Context) {
	alerts, err := h.pipeline.RescoreInvoice(c.Request.Context(), h.orgID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// Events serves the live alert feed as server-sent events. The connection
// stays open until the client disconnects.
func (h *Handlers) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	sub := h.registry.Subscribe(h.orgID(c))
	defer h.registry.Unsubscribe(sub)

	fmt.Fprintf(c.Writer, "event: hello\ndata: {\"subscriber_id\":%q}\n\n", sub.ID)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case event, open := <-sub.C:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to encode stream event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: alert\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
