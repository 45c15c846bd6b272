package dbexec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEach_VisitsEveryRow(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT "id" FROM "person" WHERE "deletedAt" IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	var ids []string
	err := Each(context.Background(), NewPoolExecutor(db), `SELECT "id" FROM "person" WHERE "deletedAt" IS NULL`, nil, func(rows Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEach_StopsOnCallbackError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2))

	stop := errors.New("stop")
	calls := 0
	err := Each(context.Background(), NewPoolExecutor(db), "SELECT 1", nil, func(Rows) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPoolExecutor_NilDB(t *testing.T) {
	var exec *PoolExecutor
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = NewPoolExecutor(nil).ExecContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
}
