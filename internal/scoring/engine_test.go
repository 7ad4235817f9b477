package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

type fakeSources struct {
	facts        *models.InvoiceFacts
	factsErr     error
	priceBase    map[string]*models.UnitPriceBaseline
	priceErr     error
	spendBase    *models.VendorSpendBaseline
	spendErr     error
	duplicates   []models.DuplicateMatch
	duplicateErr error
}

func (f *fakeSources) InvoiceFacts(_ context.Context, _, _ string) (*models.InvoiceFacts, error) {
	return f.facts, f.factsErr
}

func (f *fakeSources) UnitPriceBaseline(_ context.Context, _, _, sku string, _ *string) (*models.UnitPriceBaseline, error) {
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.priceBase[sku], nil
}

func (f *fakeSources) VendorSpendBaseline(_ context.Context, _, _ string) (*models.VendorSpendBaseline, error) {
	return f.spendBase, f.spendErr
}

func (f *fakeSources) FindPotentialDuplicates(_ context.Context, _, _, _ string, _ *string, _ *decimal.Decimal) ([]models.DuplicateMatch, error) {
	return f.duplicates, f.duplicateErr
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func ndec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func baseFacts() *models.InvoiceFacts {
	return &models.InvoiceFacts{
		InvoiceID: "inv-1",
		OrgID:     "org-1",
		VendorID:  "ven-1",
		InvoiceNo: strPtr("INV-1001"),
		Total:     decPtr("500.00"),
		Lines: []models.LineFacts{
			{LineID: "line-1", SKU: strPtr("SKU-1"), Desc: strPtr("Widget"), UnitPrice: ndec("35.00")},
		},
	}
}

func newTestEngine(f *fakeSources) *Engine {
	return NewEngine(f, f, f, zap.NewNop())
}

func TestScoreInvoice_UnknownInvoice(t *testing.T) {
	engine := newTestEngine(&fakeSources{})

	alerts, err := engine.ScoreInvoice(context.Background(), "org-1", "missing")

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestScoreInvoice_NoHistoryNoAlerts(t *testing.T) {
	engine := newTestEngine(&fakeSources{facts: baseFacts()})

	alerts, err := engine.ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestUnitPriceDelta_Severities(t *testing.T) {
	tests := []struct {
		name         string
		unitPrice    string
		median       string
		sampleSize   int
		wantCount    int
		wantSeverity models.Severity
	}{
		{name: "3.5x median is high", unitPrice: "35.00", median: "10.00", sampleSize: 10, wantCount: 1, wantSeverity: models.SeverityHigh},
		{name: "2.5x median is medium", unitPrice: "25.00", median: "10.00", sampleSize: 10, wantCount: 1, wantSeverity: models.SeverityMedium},
		{name: "exactly 3x is high", unitPrice: "30.00", median: "10.00", sampleSize: 10, wantCount: 1, wantSeverity: models.SeverityHigh},
		{name: "exactly 2x is medium", unitPrice: "20.00", median: "10.00", sampleSize: 10, wantCount: 1, wantSeverity: models.SeverityMedium},
		{name: "1.5x is unremarkable", unitPrice: "15.00", median: "10.00", sampleSize: 10, wantCount: 0},
		{name: "small sample never alerts", unitPrice: "99.00", median: "10.00", sampleSize: 4, wantCount: 0},
		{name: "zero median never alerts", unitPrice: "99.00", median: "0.00", sampleSize: 10, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := baseFacts()
			facts.Lines[0].UnitPrice = ndec(tt.unitPrice)
			f := &fakeSources{
				facts: facts,
				priceBase: map[string]*models.UnitPriceBaseline{
					"SKU-1": {
						SKU:             "SKU-1",
						SampleSize:      tt.sampleSize,
						MedianUnitPrice: decimal.RequireFromString(tt.median),
					},
				},
			}

			alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

			require.NoError(t, err)
			require.Len(t, alerts, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, models.AlertTypeUnitPriceDelta, alerts[0].Type)
				assert.Equal(t, tt.wantSeverity, alerts[0].Severity)
				assert.Equal(t, "SKU-1", alerts[0].Meta["sku"])
				assert.Equal(t, tt.sampleSize, alerts[0].Meta["sample_size"])
			}
		})
	}
}

func TestUnitPriceDelta_SkipsLinesWithoutKey(t *testing.T) {
	facts := baseFacts()
	facts.Lines = []models.LineFacts{
		{LineID: "line-1", SKU: nil, UnitPrice: ndec("99.00")},
		{LineID: "line-2", SKU: strPtr("SKU-1"), UnitPrice: decimal.NullDecimal{}},
	}
	f := &fakeSources{
		facts: facts,
		priceBase: map[string]*models.UnitPriceBaseline{
			"SKU-1": {SKU: "SKU-1", SampleSize: 10, MedianUnitPrice: decimal.RequireFromString("1.00")},
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestVendorVolumeSpike_Windows(t *testing.T) {
	tests := []struct {
		name       string
		baseline   *models.VendorSpendBaseline
		total      string
		wantCount  int
		wantWindow string
	}{
		{
			name: "prefers 90d window",
			baseline: &models.VendorSpendBaseline{
				InvoiceCount30d: 1, TotalSpend30d: decimal.RequireFromString("50.00"),
				InvoiceCount90d: 5, TotalSpend90d: decimal.RequireFromString("500.00"),
			},
			total: "350.00", wantCount: 1, wantWindow: "90d",
		},
		{
			name: "falls back to 30d window",
			baseline: &models.VendorSpendBaseline{
				InvoiceCount30d: 3, TotalSpend30d: decimal.RequireFromString("300.00"),
				InvoiceCount90d: 2, TotalSpend90d: decimal.RequireFromString("200.00"),
			},
			total: "350.00", wantCount: 1, wantWindow: "30d",
		},
		{
			name: "insufficient history in both windows",
			baseline: &models.VendorSpendBaseline{
				InvoiceCount30d: 2, TotalSpend30d: decimal.RequireFromString("200.00"),
				InvoiceCount90d: 2, TotalSpend90d: decimal.RequireFromString("200.00"),
			},
			total: "9999.00", wantCount: 0,
		},
		{
			name: "zero spend never divides",
			baseline: &models.VendorSpendBaseline{
				InvoiceCount30d: 5, TotalSpend30d: decimal.Zero,
				InvoiceCount90d: 5, TotalSpend90d: decimal.Zero,
			},
			total: "9999.00", wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := baseFacts()
			facts.Lines = nil
			facts.Total = decPtr(tt.total)
			f := &fakeSources{facts: facts, spendBase: tt.baseline}

			alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

			require.NoError(t, err)
			require.Len(t, alerts, tt.wantCount)
			if tt.wantCount > 0 {
				assert.Equal(t, models.AlertTypeVendorVolumeSpike, alerts[0].Type)
				assert.Equal(t, tt.wantWindow, alerts[0].Meta["baseline_window"])
			}
		})
	}
}

func TestVendorVolumeSpike_NoTotalNoAlert(t *testing.T) {
	facts := baseFacts()
	facts.Lines = nil
	facts.Total = nil
	f := &fakeSources{
		facts: facts,
		spendBase: &models.VendorSpendBaseline{
			InvoiceCount90d: 10, TotalSpend90d: decimal.RequireFromString("100.00"),
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDuplicateInvoice_StrongMatchIsHigh(t *testing.T) {
	facts := baseFacts()
	facts.Lines = nil
	f := &fakeSources{
		facts: facts,
		duplicates: []models.DuplicateMatch{
			{InvoiceID: "inv-7", InvoiceNo: strPtr("INV-1001"), Total: decPtr("500.00"), MatchInvoiceNo: true, MatchTotal: true},
			{InvoiceID: "inv-8", InvoiceNo: strPtr("INV-2002"), Total: decPtr("500.00"), MatchTotal: true},
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, models.AlertTypeDuplicateInvoice, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)

	summaries, ok := alert.Meta["duplicates"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, summaries, 2, "every candidate duplicate is listed")
}

func TestDuplicateInvoice_SingleFieldMatchIsMedium(t *testing.T) {
	facts := baseFacts()
	facts.Lines = nil
	f := &fakeSources{
		facts: facts,
		duplicates: []models.DuplicateMatch{
			{InvoiceID: "inv-7", Total: decPtr("500.00"), MatchTotal: true},
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)
}

func TestScoreInvoice_RuleErrorDiscardsEverything(t *testing.T) {
	facts := baseFacts()
	f := &fakeSources{
		facts:    facts,
		spendErr: errors.New("baseline query failed"),
		duplicates: []models.DuplicateMatch{
			{InvoiceID: "inv-7", InvoiceNo: strPtr("INV-1001"), MatchInvoiceNo: true},
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.Error(t, err)
	assert.Nil(t, alerts)
}

func TestScoreInvoice_RuleOrderPreserved(t *testing.T) {
	facts := baseFacts()
	facts.Total = decPtr("400.00")
	f := &fakeSources{
		facts: facts,
		priceBase: map[string]*models.UnitPriceBaseline{
			"SKU-1": {SKU: "SKU-1", SampleSize: 10, MedianUnitPrice: decimal.RequireFromString("10.00")},
		},
		spendBase: &models.VendorSpendBaseline{
			InvoiceCount90d: 4, TotalSpend90d: decimal.RequireFromString("400.00"),
		},
		duplicates: []models.DuplicateMatch{
			{InvoiceID: "inv-7", Total: decPtr("400.00"), MatchTotal: true},
		},
	}

	alerts, err := newTestEngine(f).ScoreInvoice(context.Background(), "org-1", "inv-1")

	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, models.AlertTypeUnitPriceDelta, alerts[0].Type)
	assert.Equal(t, models.AlertTypeVendorVolumeSpike, alerts[1].Type)
	assert.Equal(t, models.AlertTypeDuplicateInvoice, alerts[2].Type)
}
