package pgvector

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(postgres.Wrap(db)), mock
}

func TestStore_EnsureSchema(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vector_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_vector_records_document").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Upsert(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO vector_records")
	prep.ExpectExec().
		WithArgs("docs", "c1", "d1", "[0.5,1]", []byte(`{"ordinal":"0"}`), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("docs", "c2", "d1", "[3]", []byte(`{}`), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Upsert(context.Background(), "docs", []*domain.VectorRecord{
		{ChunkID: "c1", DocumentID: "d1", Vector: []float32{0.5, 1}, Metadata: map[string]string{"ordinal": "0"}, Version: 2},
		{ChunkID: "c2", DocumentID: "d1", Vector: []float32{3}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertRollsBack(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO vector_records").ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.Upsert(context.Background(), "docs", []*domain.VectorRecord{{ChunkID: "c1", Vector: []float32{1}}})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM vector_records").
		WithArgs("docs", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "embedding", "metadata", "version"}).
			AddRow("d1", "[0.5,1]", []byte(`{"ordinal":"0"}`), int64(2)))

	rec, err := store.Get(context.Background(), "docs", "c1")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.DocumentID)
	assert.Equal(t, []float32{0.5, 1}, rec.Vector)
	assert.Equal(t, map[string]string{"ordinal": "0"}, rec.Metadata)
	assert.Equal(t, int64(2), rec.Version)
}

func TestStore_GetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM vector_records").
		WithArgs("docs", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "embedding", "metadata", "version"}))

	_, err := store.Get(context.Background(), "docs", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeleteAndCount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM vector_records").
		WithArgs("docs", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("docs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	require.NoError(t, store.Delete(context.Background(), "docs", []string{"c1", "c2"}))
	require.NoError(t, store.Delete(context.Background(), "docs", nil))

	n, err := store.Count(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
