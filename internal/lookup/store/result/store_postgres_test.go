package result

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/lookup/models"
	txcontext "verigate/pkg/platform/tx"
)

var selectColumns = []string{"id", "candidate_id", "lookup_type", "lookup_value", "response_data", "status_code", "message", "created_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock, db
}

func TestPostgresStoreAppend(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("inserts record with null payload", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		rec := &models.LookupRecord{
			ID:          uuid.New(),
			CandidateID: "cand-1",
			LookupType:  models.LookupPAN,
			LookupValue: "ABCDE1234F",
			StatusCode:  models.StatusNotFound,
			Message:     "not found",
			CreatedAt:   at,
		}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lookup_records")).
			WithArgs(rec.ID, "cand-1", "pan", "ABCDE1234F", nil, models.StatusNotFound, "not found", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Append(ctx, rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins transaction from context", func(t *testing.T) {
		store, mock, db := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lookup_records")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		runner := txcontext.SQLRunner{DB: db}
		err := runner.RunInTx(ctx, func(ctx context.Context) error {
			return store.Append(ctx, &models.LookupRecord{CandidateID: "c", LookupType: models.LookupMobile, LookupValue: "9876543210", StatusCode: 1, CreatedAt: at})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver error", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lookup_records")).
			WillReturnError(errors.New("connection reset"))

		err := store.Append(ctx, &models.LookupRecord{CandidateID: "c", LookupType: models.LookupPAN, LookupValue: "X", CreatedAt: at})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert lookup record")
	})
}

func TestPostgresStoreFindLatest(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("filters by type and maps row", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		id := uuid.New()
		rows := sqlmock.NewRows(selectColumns).
			AddRow(id.String(), "cand-1", "mobile_to_uan", "9876543210", []byte(`{"uan":"100"}`), 1, "", at)
		mock.ExpectQuery(regexp.QuoteMeta("lookup_type = ANY($2)")).
			WithArgs("cand-1", sqlmock.AnyArg()).
			WillReturnRows(rows)

		got, err := store.FindLatest(ctx, "cand-1", []models.LookupType{models.LookupMobileToUAN, models.LookupMobile})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, models.LookupMobileToUAN, got.LookupType)
		assert.JSONEq(t, `{"uan":"100"}`, string(got.ResponseData))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows yields nil", func(t *testing.T) {
		store, mock, _ := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM lookup_records WHERE candidate_id = $1 ORDER BY")).
			WithArgs("cand-2").
			WillReturnRows(sqlmock.NewRows(selectColumns))

		got, err := store.FindLatest(ctx, "cand-2", nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestPostgresStoreFindNegative(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, mock, _ := newMockStore(t)

	rows := sqlmock.NewRows(selectColumns).
		AddRow(uuid.NewString(), "cand-x", "pan", "ZZZZZ9999Z", nil, 9, "not found", at)
	mock.ExpectQuery(regexp.QuoteMeta("status_code = $3")).
		WithArgs("pan", "ZZZZZ9999Z", models.StatusNotFound).
		WillReturnRows(rows)

	got, err := store.FindNegative(ctx, models.LookupPAN, "ZZZZZ9999Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsNegative())
	assert.Nil(t, got.ResponseData)
}

func TestPostgresStoreGroupByType(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store, mock, _ := newMockStore(t)

	rows := sqlmock.NewRows(selectColumns).
		AddRow(uuid.NewString(), "cand-1", "pan", "P2", nil, 1, "", at).
		AddRow(uuid.NewString(), "cand-1", "mobile", "M1", nil, 1, "", at.Add(-time.Minute)).
		AddRow(uuid.NewString(), "cand-1", "pan", "P1", nil, 9, "", at.Add(-time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("cand-1").
		WillReturnRows(rows)

	grouped, err := store.GroupByType(ctx, "cand-1", nil)
	require.NoError(t, err)
	require.Len(t, grouped[models.LookupPAN], 2)
	assert.Equal(t, "P2", grouped[models.LookupPAN][0].LookupValue)
	assert.Equal(t, "P1", grouped[models.LookupPAN][1].LookupValue)
	assert.Len(t, grouped[models.LookupMobile], 1)
}
