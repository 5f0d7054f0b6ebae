package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
}

func TestMigrationSource_CadaVersionTieneUpYDown(t *testing.T) {
	src, err := migrationSource()
	require.NoError(t, err)
	defer src.Close()

	var versions []uint
	version, err := src.First()
	for err == nil {
		versions = append(versions, version)

		up, _, upErr := src.ReadUp(version)
		require.NoError(t, upErr, "up de la versión %d", version)
		up.Close()
		down, _, downErr := src.ReadDown(version)
		require.NoError(t, downErr, "down de la versión %d", version)
		down.Close()

		version, err = src.Next(version)
	}
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, []uint{1, 2}, versions)
}

func TestMigrationFiscal_CreaLasTablas(t *testing.T) {
	script, err := migrationFS.ReadFile("migrations/001_fiscal.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"fiscal_documents", "correction_letters", "tenant_certificates", "submission_locks"} {
		assert.Contains(t, string(script), "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, string(script), "UNIQUE (document_id, sequence)")

	down, err := migrationFS.ReadFile("migrations/001_fiscal.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TABLE IF EXISTS fiscal_documents")

	pending, err := migrationFS.ReadFile("migrations/002_cancel_pending.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(pending), "cancel_requested_at")
}
