package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/penzu-sync/internal/journal"
)

func TestUpsertMergesDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntryStoreWithPool(mock, "entries")
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO entries \(id, document, synced_at\)`).
		WithArgs("1", []byte(`{"id":1,"title":"new"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), int64(1), journal.Entry{"id": int64(1), "title": "new"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertQueryMergesWithExistingDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntryStoreWithPool(mock, "journal_entries")
	require.NoError(t, err)

	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE\s+SET document = journal_entries\.document \|\| EXCLUDED\.document`).
		WithArgs("abc", []byte(`{"id":"abc"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), "abc", journal.Entry{"id": "abc"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntryStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO entries").
		WithArgs("9", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = store.Upsert(context.Background(), int64(9), journal.Entry{"id": int64(9)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert entry 9")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMarshalError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntryStoreWithPool(mock, "entries")
	require.NoError(t, err)

	err = store.Upsert(context.Background(), "x", journal.Entry{"id": "x", "bad": make(chan int)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal entry")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewEntryStoreWithPool(mock, "entries")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entries`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEntryStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEntryStoreWithPool(nil, "entries")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEntryStoreWithPool(mock, "entries; DROP TABLE x")
	require.Error(t, err)
}

func TestNewEntryStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewEntryStore(context.Background(), EntryStoreConfig{})
	require.Error(t, err)
}
