package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVendorEnsure_Idempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db, zap.NewNop())

	var first, second string
	inTx(t, db, func(tx *sql.Tx) {
		var err error
		first, err = repo.Ensure(context.Background(), tx, "org-1", "Acme Corp")
		require.NoError(t, err)
		second, err = repo.Ensure(context.Background(), tx, "org-1", "Acme Corp")
		require.NoError(t, err)
	})

	assert.Equal(t, first, second)

	// Same name in a different org is a different vendor.
	var other string
	inTx(t, db, func(tx *sql.Tx) {
		var err error
		other, err = repo.Ensure(context.Background(), tx, "org-2", "Acme Corp")
		require.NoError(t, err)
	})
	assert.NotEqual(t, first, other)
}

func TestVendorEnsure_NilTx(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db, zap.NewNop())

	id, err := repo.Ensure(context.Background(), nil, "org-1", "Acme Corp")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestVendorListAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db, zap.NewNop())

	var acmeID string
	inTx(t, db, func(tx *sql.Tx) {
		var err error
		_, err = repo.Ensure(context.Background(), tx, "org-1", "Zeta Supplies")
		require.NoError(t, err)
		acmeID, err = repo.Ensure(context.Background(), tx, "org-1", "Acme Corp")
		require.NoError(t, err)
	})

	vendors, err := repo.List(context.Background(), "org-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, "Acme Corp", vendors[0].Name, "sorted by name")

	vendor, err := repo.GetByID(context.Background(), "org-1", acmeID)
	require.NoError(t, err)
	require.NotNil(t, vendor)
	assert.Equal(t, "Acme Corp", vendor.Name)

	missing, err := repo.GetByID(context.Background(), "org-1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
