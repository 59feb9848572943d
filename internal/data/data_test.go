package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"credit-service/internal/biz"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试独立的内存库；单连接使事务串行执行
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestData(t *testing.T) *Data {
	t.Helper()
	return &Data{db: newTestDB(t)}
}

// newTestDataWithRedis 带 miniredis 缓存的数据层
func newTestDataWithRedis(t *testing.T) (*Data, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return &Data{db: newTestDB(t), rdb: rdb}, mr
}

func testConfig() *biz.LedgerConfig {
	return &biz.LedgerConfig{
		ModeratorBypass: true,
		DefaultSLA:      10 * time.Minute,
		Packs: map[string]biz.PackPolicy{
			"starter":    {TakesLimit: 10, HDLimit: 2, SLA: 10 * time.Minute},
			"collection": {TakesLimit: 30, HDLimit: 6, SLA: 15 * time.Minute, PlaylistSteps: 5},
		},
		Referral: biz.ReferralPolicy{
			MinQualifyingStars: 249,
			Hold:               72 * time.Hour,
			DailyLimit:         5,
			MonthlyLimit:       30,
			Ladder:             biz.NewLadder(map[int64]int64{249: 2, 499: 4, 999: 8}),
			BatchSize:          100,
		},
		Watchdog: biz.WatchdogPolicy{
			StaleAfter:     10 * time.Minute,
			AbandonedAfter: 24 * time.Hour,
			BatchSize:      100,
		},
	}
}

func testLogger() log.Logger {
	return log.NewFilter(log.DefaultLogger, log.FilterLevel(log.LevelError))
}

func mustBalance(t *testing.T, repo biz.LedgerRepo, userID string) *biz.UserBalance {
	t.Helper()
	b, err := repo.GetUserBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUserBalance(%s) error: %v", userID, err)
	}
	if b == nil {
		t.Fatalf("GetUserBalance(%s) = nil, want row", userID)
	}
	return b
}
