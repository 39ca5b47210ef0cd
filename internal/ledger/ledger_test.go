package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/tenderwatch/internal/ledger"
	"github.com/dataparency-dev/tenderwatch/internal/model"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestReserveNewTripleSucceeds(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	sub := model.Subscriber{ID: "s1"}
	mock.ExpectQuery(`INSERT INTO delivery`).
		WithArgs(sub.ID, "f1", "t1", model.DeliveryTentative, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(model.DeliveryTentative))

	outcome, err := l.Reserve(context.Background(), sub, "f1", "t1")
	require.NoError(t, err)
	require.Equal(t, ledger.Reserved, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveConflictReturnsAlreadyDelivered(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	sub := model.Subscriber{ID: "s1"}
	mock.ExpectQuery(`INSERT INTO delivery`).
		WithArgs(sub.ID, "f1", "t1", model.DeliveryTentative, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	outcome, err := l.Reserve(context.Background(), sub, "f1", "t1")
	require.NoError(t, err)
	require.Equal(t, ledger.AlreadyDelivered, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveSkipsDBForBlockedSubscriber(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	sub := model.Subscriber{ID: "s1", DeliveryBlocked: true}

	outcome, err := l.Reserve(context.Background(), sub, "f1", "t1")
	require.NoError(t, err)
	require.Equal(t, ledger.AlreadyDelivered, outcome)
	require.NoError(t, mock.ExpectationsWereMet()) // no SQL expected at all
}

func TestConfirmUpdatesState(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	mock.ExpectExec(`UPDATE delivery SET state`).
		WithArgs(model.DeliveryConfirmed, sqlmock.AnyArg(), "s1", "f1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Confirm(context.Background(), "s1", "f1", "t1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonDeletesTentativeRow(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	mock.ExpectExec(`DELETE FROM delivery`).
		WithArgs("s1", "f1", "t1", model.DeliveryTentative).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Abandon(context.Background(), "s1", "f1", "t1", ledger.CauseQuietHours))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredReservationsCountsRows(t *testing.T) {
	db, mock := newMock(t)
	l := ledger.New(db)

	mock.ExpectExec(`DELETE FROM delivery WHERE state`).
		WithArgs(model.DeliveryTentative, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := l.SweepExpiredReservations(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
