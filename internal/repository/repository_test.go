package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// newTestDB opens an in-memory database with the real schema applied.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_initial_schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

// seedInvoice persists a vendor (by name) and one invoice with lines,
// returning the vendor and invoice ids.
func seedInvoice(t *testing.T, db *sql.DB, orgID, vendorName string, inv models.Invoice) (string, string) {
	t.Helper()
	logger := zap.NewNop()
	vendors := NewVendorRepository(db, logger)
	invoices := NewInvoiceRepository(db, logger)

	var vendorID, invoiceID string
	inTx(t, db, func(tx *sql.Tx) {
		var err error
		vendorID, err = vendors.Ensure(context.Background(), tx, orgID, vendorName)
		require.NoError(t, err)

		inv.OrgID = orgID
		inv.VendorID = vendorID
		invoiceID, err = invoices.Insert(context.Background(), tx, &inv)
		require.NoError(t, err)
		require.NoError(t, invoices.ReplaceLines(context.Background(), tx, invoiceID, inv.Lines))
	})
	return vendorID, invoiceID
}

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n)
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validDec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}
