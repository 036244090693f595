package repository

import (
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlRecorder matches expectations as regular expressions and keeps every
// statement gorm produced.
type sqlRecorder struct {
	mu         sync.Mutex
	statements []string
}

func (r *sqlRecorder) Match(expectedSQL, actualSQL string) error {
	r.mu.Lock()
	r.statements = append(r.statements, actualSQL)
	r.mu.Unlock()
	return sqlmock.QueryMatcherRegexp.Match(expectedSQL, actualSQL)
}

func (r *sqlRecorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statements) == 0 {
		return ""
	}
	return r.statements[len(r.statements)-1]
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sqlRecorder) {
	t.Helper()

	recorder := &sqlRecorder{}
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return db, mock, recorder
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}
