// Package extract turns uploaded documents into invoice values: CSV, JSON
// and XLSX files are parsed directly, PDFs go through a vision model.
package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/procuresight/procuresight/internal/models"
)

// csvHeaderAliases maps the column names seen in the wild onto canonical
// field names. Unrecognized columns pass through unchanged so line-level
// columns (sku, desc, qty, unit_price, line_total) survive.
var csvHeaderAliases = map[string][]string{
	"invoice_no":   {"invoice", "invoice_no", "invoice number", "inv_no"},
	"vendor":       {"vendor", "supplier", "vendor_name"},
	"invoice_date": {"date", "invoice_date"},
	"due_date":     {"due", "due_date"},
	"currency":     {"currency"},
	"subtotal":     {"subtotal"},
	"tax":          {"tax", "tax_total"},
	"total":        {"total", "grand_total"},
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	for canonical, aliases := range csvHeaderAliases {
		for _, alias := range aliases {
			if h == alias {
				return canonical
			}
		}
	}
	return h
}

// ParseCSV parses a denormalized CSV where every row repeats the invoice
// header and carries one line item. Rows are grouped by invoice number, so a
// single file may yield several invoices.
func ParseCSV(data []byte) ([]models.Invoice, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV file contained no data rows")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(value)
			}
		}
		rows = append(rows, row)
	}

	return assembleInvoices(rows)
}

// ParseXLSX parses the first sheet of a workbook using the same denormalized
// row shape as CSV.
func ParseXLSX(data []byte) ([]models.Invoice, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	records, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("sheet %q contained no data rows", sheets[0])
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = normalizeHeader(h)
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, value := range record {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(value)
			}
		}
		rows = append(rows, row)
	}

	return assembleInvoices(rows)
}

// assembleInvoices groups denormalized rows by invoice_no into invoices.
// Header fields come from the first row of each group.
func assembleInvoices(rows []map[string]string) ([]models.Invoice, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("file contained no rows")
	}

	var order []string
	grouped := make(map[string][]map[string]string)
	for _, row := range rows {
		invoiceNo := row["invoice_no"]
		if invoiceNo == "" {
			return nil, fmt.Errorf("row missing required invoice_no field")
		}
		if _, seen := grouped[invoiceNo]; !seen {
			order = append(order, invoiceNo)
		}
		grouped[invoiceNo] = append(grouped[invoiceNo], row)
	}

	invoices := make([]models.Invoice, 0, len(order))
	for _, invoiceNo := range order {
		group := grouped[invoiceNo]
		head := group[0]

		inv := models.Invoice{
			InvoiceNo: invoiceNo,
			Vendor:    head["vendor"],
			Currency:  strings.ToUpper(head["currency"]),
			Subtotal:  parseMoneyOrZero(head["subtotal"]),
			Tax:       parseMoneyOrZero(head["tax"]),
			Total:     parseMoneyOrZero(head["total"]),
		}
		if d, err := parseDate(head["invoice_date"]); err == nil {
			inv.InvoiceDate = d
		}
		if head["due_date"] != "" {
			if d, err := parseDate(head["due_date"]); err == nil {
				inv.DueDate = &d
			}
		}

		for _, row := range group {
			line := models.InvoiceLine{
				Desc:      row["desc"],
				Qty:       parseNullable(row["qty"]),
				UnitPrice: parseNullable(row["unit_price"]),
				LineTotal: parseMoneyOrZero(row["line_total"]),
			}
			if sku := row["sku"]; sku != "" {
				line.SKU = &sku
			}
			inv.Lines = append(inv.Lines, line)
		}

		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// jsonLine / jsonInvoice mirror the document shape produced by exporters and
// by the vision extractor. Amounts may arrive as numbers or strings; dates
// may use "date" instead of "invoice_date".
type jsonLine struct {
	SKU       *string             `json:"sku"`
	Desc      string              `json:"desc"`
	Qty       decimal.NullDecimal `json:"qty"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	LineTotal decimal.Decimal     `json:"line_total"`
}

type jsonInvoice struct {
	Vendor      string          `json:"vendor"`
	InvoiceNo   string          `json:"invoice_no"`
	InvoiceDate string          `json:"invoice_date"`
	Date        string          `json:"date"`
	DueDate     string          `json:"due_date"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Lines       []jsonLine      `json:"lines"`
}

// ParseJSON parses a single invoice document.
func ParseJSON(data []byte) (*models.Invoice, error) {
	var doc jsonInvoice
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse invoice JSON: %w", err)
	}
	return doc.toInvoice()
}

func (doc *jsonInvoice) toInvoice() (*models.Invoice, error) {
	inv := models.Invoice{
		Vendor:    doc.Vendor,
		InvoiceNo: doc.InvoiceNo,
		Currency:  strings.ToUpper(doc.Currency),
		Subtotal:  doc.Subtotal,
		Tax:       doc.Tax,
		Total:     doc.Total,
	}

	dateStr := doc.InvoiceDate
	if dateStr == "" {
		dateStr = doc.Date
	}
	if dateStr != "" {
		d, err := parseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid invoice_date %q: %w", dateStr, err)
		}
		inv.InvoiceDate = d
	}
	if doc.DueDate != "" {
		if d, err := parseDate(doc.DueDate); err == nil {
			inv.DueDate = &d
		}
	}

	for _, l := range doc.Lines {
		inv.Lines = append(inv.Lines, models.InvoiceLine{
			SKU:       l.SKU,
			Desc:      l.Desc,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return &inv, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(s))
}

// parseMoneyOrZero parses a required amount, falling back to zero so the
// reconciler can flag the discrepancy instead of the parser rejecting the
// whole file.
func parseMoneyOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseNullable parses an optional amount; anything unparseable stays null
// and is surfaced downstream as a line calculation error.
func parseNullable(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
