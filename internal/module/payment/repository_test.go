package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	return db, mock
}

func expectDuplicateEventInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payment_webhook_events"`)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
}

func expectEventLoad(mock sqlmock.Sqlmock, committed bool, createdAt time.Time) {
	rows := sqlmock.NewRows([]string{"id", "processor", "event_id", "committed", "committed_at", "created_at"}).
		AddRow(uuid.NewString(), "stripe", "evt_1", committed, nil, createdAt)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payment_webhook_events"`)).
		WillReturnRows(rows)
}

func TestGormDedupClaimTakesOverStaleClaim(t *testing.T) {
	db, mock := newMockDB(t)
	idx := NewGormDedupIndex(db)

	stale := time.Now().Add(-10 * time.Minute)
	expectDuplicateEventInsert(mock)
	expectEventLoad(mock, false, stale)
	// The takeover must pin the created_at it observed, so the update
	// carries four args: the new timestamp, processor, event id, and the
	// observed created_at.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payment_webhook_events" SET`)).
		WithArgs(sqlmock.AnyArg(), "stripe", "evt_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := idx.Claim(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDedupClaimLosesStaleTakeoverRace(t *testing.T) {
	db, mock := newMockDB(t)
	idx := NewGormDedupIndex(db)

	stale := time.Now().Add(-10 * time.Minute)
	expectDuplicateEventInsert(mock)
	expectEventLoad(mock, false, stale)
	// Another worker refreshed created_at between our read and our
	// update, so the conditional update matches no rows. The claim must
	// be denied; two workers must never both take over one stale event.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payment_webhook_events" SET`)).
		WithArgs(sqlmock.AnyArg(), "stripe", "evt_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := idx.Claim(context.Background(), "stripe", "evt_1")
	assert.ErrorIs(t, err, ErrEventInFlight)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDedupClaimCommittedEventIsDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	idx := NewGormDedupIndex(db)

	expectDuplicateEventInsert(mock)
	expectEventLoad(mock, true, time.Now().Add(-10*time.Minute))

	claimed, err := idx.Claim(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormDedupClaimFreshClaimIsInFlight(t *testing.T) {
	db, mock := newMockDB(t)
	idx := NewGormDedupIndex(db)

	expectDuplicateEventInsert(mock)
	expectEventLoad(mock, false, time.Now().Add(-time.Second))

	claimed, err := idx.Claim(context.Background(), "stripe", "evt_1")
	assert.ErrorIs(t, err, ErrEventInFlight)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
