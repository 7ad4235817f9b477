package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/ingest"
	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/storage"
	"github.com/procuresight/procuresight/internal/stream"
)

const ingestCSV = `invoice_no,vendor,invoice_date,currency,subtotal,tax,total,desc,qty,unit_price,line_total
INV-1,Acme Corp,2026-03-10,USD,30.00,3.00,33.00,Widget,2,15.00,30.00
`

// stubPipeline records what the handler passed through and answers with a
// fixed result per invoice.
type stubPipeline struct {
	batches [][]models.Invoice
}

func (p *stubPipeline) ProcessBatch(_ context.Context, _ string, invoices []models.Invoice, _ string) ([]ingest.Result, error) {
	p.batches = append(p.batches, invoices)
	results := make([]ingest.Result, 0, len(invoices))
	for _, inv := range invoices {
		results = append(results, ingest.Result{InvoiceNo: inv.InvoiceNo, Accepted: true})
	}
	return results, nil
}

func (p *stubPipeline) RescoreInvoice(context.Context, string, string) ([]models.Alert, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *stubPipeline) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_initial_schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	logger := zap.NewNop()
	pipeline := &stubPipeline{}
	server := NewServer(DefaultServerConfig(), pipeline, nil,
		storage.NewLocalBlobStore(t.TempDir(), logger),
		repository.NewRawDocRepository(db, logger),
		repository.NewInvoiceRepository(db, logger),
		repository.NewVendorRepository(db, logger),
		repository.NewAlertRepository(db, logger),
		stream.NewRegistry(4, logger),
		logger)
	return server, pipeline
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestIngest_CSVUpload(t *testing.T) {
	server, pipeline := newTestServer(t)

	body, contentType := multipartUpload(t, "invoices.csv", []byte(ingestCSV))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["raw_doc_id"])
	assert.EqualValues(t, 1, resp["invoices"])
	assert.EqualValues(t, 1, resp["accepted"])

	require.Len(t, pipeline.batches, 1)
	require.Len(t, pipeline.batches[0], 1)
	assert.Equal(t, "INV-1", pipeline.batches[0][0].InvoiceNo)
}

func TestIngest_RepeatUploadShortCircuits(t *testing.T) {
	server, pipeline := newTestServer(t)

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t, "invoices.csv", []byte(ingestCSV))
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)

	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
	assert.EqualValues(t, 0, resp["invoices"])

	// The same bytes never reach the pipeline twice.
	assert.Len(t, pipeline.batches, 1)
}

func TestIngest_UnsupportedExtension(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "invoices.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestIngest_PDFWithoutExtractor(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "invoice.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestIngest_MissingFileField(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ingest", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAlertStatus_RejectsUnknownValue(t *testing.T) {
	server, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"status":"snoozed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/a-1/status", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetInvoice_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices/none", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
