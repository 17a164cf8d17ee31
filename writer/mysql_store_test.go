package writer

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"skinflow/models"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	return newMockStoreWith(t, func() (*sql.DB, sqlmock.Sqlmock, error) { return sqlmock.New() })
}

// newMockStoreWith lets callers pass sqlmock options; sqlmock's option type is
// unexported, so the options are applied inside the supplied constructor.
func newMockStoreWith(t *testing.T, newMock func() (*sql.DB, sqlmock.Sqlmock, error)) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := newMock()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewMySQLStore(gdb, "market_prices"), mock
}

var storeNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func storeEntries() []models.Entry {
	return []models.Entry{
		{Name: "AK-47 | Redline (Field-Tested)", Record: models.DecodeRecord([]byte(`{"price": 10.5}`))},
		{Name: "AWP | Asiimov (Battle-Scarred)", Record: models.DecodeRecord([]byte(`{"starting_at": 40, "highest_order": 38}`))},
		{Name: "★ Karambit | Doppler (Factory New)", Record: models.DecodeRecord([]byte(`{"doppler": {"Ruby": 2000}}`))},
	}
}

func TestMySQLStoreUpsertBatchChunks(t *testing.T) {
	store, mock := newMockStore(t)
	insert := regexp.QuoteMeta("INSERT INTO `market_prices`") + ".*" + regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")

	mock.ExpectBegin()
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	n, err := store.UpsertBatch(context.Background(), "buff163", storeEntries(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreUpsertBatchConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `market_prices`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	n, err := store.UpsertBatch(context.Background(), "steam", storeEntries(), 10)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, ErrWriteConflict), "expected write conflict, got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStoreUpsertEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	n, err := store.UpsertBatch(context.Background(), "steam", nil, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStorePing(t *testing.T) {
	store, mock := newMockStoreWith(t, func() (*sql.DB, sqlmock.Sqlmock, error) {
		return sqlmock.New(sqlmock.MonitorPingsOption(true))
	})
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestToMarketPrice(t *testing.T) {
	entries := storeEntries()
	row := toMarketPrice("buff163", entries[2], storeNow)
	assert.Equal(t, "karambit_doppler_factory_new", row.NormalizedKey)
	assert.Equal(t, string(models.KindPhased), row.Kind)
	assert.True(t, row.HasPhases)
	assert.JSONEq(t, `{"doppler": {"Ruby": 2000}}`, row.Data)

	flat := toMarketPrice("buff163", models.Entry{Name: "Case", Record: models.DecodeRecord([]byte(`{"starting_at": 0.123456, "highest_order": 0.1}`))}, storeNow)
	require.True(t, flat.StartingAt.Valid)
	assert.Equal(t, "0.1235", flat.StartingAt.Decimal.String())
	assert.False(t, flat.Price.Valid)

	empty := toMarketPrice("steam", models.Entry{Name: "x"}, storeNow)
	assert.Equal(t, "null", empty.Data)
}

func TestClassifyMySQLErrorPassthrough(t *testing.T) {
	plain := errors.New("bad connection")
	assert.Same(t, plain, classifyMySQLError(plain))
	assert.True(t, errors.Is(classifyMySQLError(gorm.ErrDuplicatedKey), ErrWriteConflict))
}
