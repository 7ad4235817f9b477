package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"net/http"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

const extractionPrompt = `You are an invoice data extractor. Read the attached invoice pages and return a single JSON object with exactly these fields:
{
  "vendor": string,
  "invoice_no": string,
  "invoice_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD" or null,
  "currency": ISO 4217 code string,
  "subtotal": number,
  "tax": number,
  "total": number,
  "lines": [{"sku": string or null, "desc": string, "qty": number or null, "unit_price": number or null, "line_total": number}]
}
Copy amounts exactly as printed. Do not compute or correct any value. If a field is unreadable, use null. Return only the JSON object.`

// maxPDFPages bounds how many pages are sent to the model per document.
const maxPDFPages = 8

// VisionExtractor pulls structured invoice data out of PDF uploads by
// rendering each page to an image and asking a vision model to transcribe it.
type VisionExtractor struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewVisionExtractor creates a PDF extractor backed by the given model.
func NewVisionExtractor(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *VisionExtractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &VisionExtractor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// ExtractPDF renders the document pages and transcribes them into an invoice.
// The returned invoice is raw extractor output; arithmetic is reconciled by
// the caller, never here.
func (e *VisionExtractor) ExtractPDF(ctx context.Context, data []byte) (*models.Invoice, error) {
	images, err := renderPages(data)
	if err != nil {
		return nil, err
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: extractionPrompt},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		e.logger.Error("Vision extraction request failed", zap.Error(err))
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision extraction returned no choices")
	}

	content := stripJSONFences(resp.Choices[0].Message.Content)
	inv, err := ParseJSON([]byte(content))
	if err != nil {
		e.logger.Error("Vision extraction returned unparseable JSON",
			zap.String("content", truncate(content, 500)), zap.Error(err))
		return nil, fmt.Errorf("failed to parse extracted invoice: %w", err)
	}

	e.logger.Info("Extracted invoice from PDF",
		zap.String("vendor", inv.Vendor),
		zap.String("invoice_no", inv.InvoiceNo),
		zap.Int("pages", len(images)),
		zap.Int("lines", len(inv.Lines)))
	return inv, nil
}

// renderPages rasterizes the PDF to JPEG, one image per page.
func renderPages(data []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if pages > maxPDFPages {
		pages = maxPDFPages
	}

	images := make([][]byte, 0, pages)
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", n+1, err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", n+1, err)
		}
		images = append(images, buf.Bytes())
	}
	return images, nil
}

// stripJSONFences removes markdown code fences some models wrap around JSON.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
