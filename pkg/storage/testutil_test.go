package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

// newTestStorage creates a fresh file-backed SQLite storage for each test.
// A file is used rather than :memory: because each pooled connection to
// :memory: sees its own empty database.
func newTestStorage(t *testing.T) (*GormStorage, *clock.MockClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, ConfigurePool(db, WithConfig(SQLitePoolConfig())))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mockClock := clock.NewMockClock()
	s := NewGormStorage(uow.New(db, uow.RetryDelay(time.Millisecond)), WithClock(mockClock))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s, mockClock
}

func addOne(t *testing.T, s *GormStorage, req *core.JobRequest) *core.JobItem {
	t.Helper()
	items, err := s.AddJobs(context.Background(), []*core.JobRequest{req})
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func ids(items []*core.JobItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
