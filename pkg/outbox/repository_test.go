package outbox

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockDB создаёт GORM поверх sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return db, mock
}

func TestOutboxRepository_MarkProcessed_ResetsRetryCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	// После ack брокера запись получает processed_at, а retry_count
	// обнуляется: прошлые неудачные попытки больше ничего не значат
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET `processed_at`=?,`retry_count`=?")).
		WithArgs(sqlmock.AnyArg(), 0, "outbox-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkProcessed(context.Background(), "outbox-123")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_MarkProcessed_MissingRecord(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	// UPDATE без затронутых строк — не ошибка SQL: транзакция коммитится,
	// а ErrOutboxNotFound возвращает уже репозиторий
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox` SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.MarkProcessed(context.Background(), "ghost-record")

	assert.ErrorIs(t, err, ErrOutboxNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
