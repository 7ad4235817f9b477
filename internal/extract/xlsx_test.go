package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	rows := [][]any{
		{"invoice_no", "vendor", "invoice_date", "currency", "subtotal", "tax", "total", "sku", "desc", "qty", "unit_price", "line_total"},
		{"X-1", "Acme Corp", "2026-03-10", "USD", "30.00", "3.00", "33.00", "SKU-1", "Widget", "2", "15.00", "30.00"},
		{"X-1", "Acme Corp", "2026-03-10", "USD", "30.00", "3.00", "33.00", "SKU-2", "Gadget", "1", "0.00", "0.00"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &row))
	}

	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	invoices, err := ParseXLSX(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "X-1", invoices[0].InvoiceNo)
	require.Len(t, invoices[0].Lines, 2)
	assert.Equal(t, "Gadget", invoices[0].Lines[1].Desc)
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := ParseXLSX([]byte("plain text"))
	assert.Error(t, err)
}
