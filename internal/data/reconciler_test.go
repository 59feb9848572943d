package data

import (
	"context"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/uuid"
)

type reconcilerFixture struct {
	data     *Data
	sessions biz.SessionRepo
	favorite *biz.FavoriteUseCase
	referral biz.ReferralRepo
	ledger   biz.LedgerRepo
	uc       *biz.ReconcilerUseCase
}

func newReconcilerFixture(t *testing.T, d *Data, locker biz.SweepLocker) *reconcilerFixture {
	t.Helper()
	cfg := testConfig()
	sessions := NewSessionRepo(d, testLogger())
	favorites := NewFavoriteRepo(d, testLogger())
	referrals := NewReferralRepo(d, testLogger())
	favUC := biz.NewFavoriteUseCase(favorites, sessions, cfg, testLogger())
	refUC := biz.NewReferralUseCase(referrals, NewNotifier(&conf.Bootstrap{}, nil, testLogger()), cfg, testLogger())
	return &reconcilerFixture{
		data:     d,
		sessions: sessions,
		favorite: favUC,
		referral: referrals,
		ledger:   NewLedgerRepo(d, testLogger()),
		uc:       biz.NewReconcilerUseCase(favorites, sessions, favUC, refUC, locker, cfg, testLogger()),
	}
}

func (f *reconcilerFixture) stuckFavorite(t *testing.T, packID string, steps int32, age time.Duration) (*biz.Session, *biz.Favorite) {
	t.Helper()
	ctx := context.Background()
	s := createSession(t, f.sessions, &biz.Session{UID: "u1", PackID: packID, TakesLimit: 10, HDLimit: 2, TotalSteps: steps})
	f.sessions.ConsumeHD(ctx, s.ID)
	fav, err := f.favorite.CreateFavorite(ctx, s.ID, uuid.New().String(), "a")
	if err != nil {
		t.Fatal(err)
	}
	f.favorite.MarkRendering(ctx, fav.ID)
	f.data.db.Model(&model.Favorite{}).Where("favorite_id = ?", fav.ID).
		UpdateColumn("updated_at", time.Now().Add(-age))
	return s, fav
}

func TestReconciler_StuckRendering(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, newTestData(t), nil)
	playlist, playlistFav := f.stuckFavorite(t, "collection", 5, 20*time.Minute)
	single, singleFav := f.stuckFavorite(t, "starter", 0, 20*time.Minute)
	_, freshFav := f.stuckFavorite(t, "starter", 0, time.Minute)

	result, err := f.uc.RunSweep(ctx, constants.SweepStuckRendering, time.Minute)
	if err != nil {
		t.Fatalf("RunSweep() error: %v", err)
	}
	if result.Scanned != 2 || result.Processed != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 scanned / 2 processed", result)
	}

	// 合集超过 SLA：补偿并归还 HD
	got, _ := f.favorite.GetFavorite(ctx, playlistFav.ID)
	if got.HDStatus != biz.HDNone || got.CompensatedAt == nil {
		t.Errorf("playlist favorite = %+v, want compensated", got)
	}
	if s, _ := f.sessions.GetSession(ctx, playlist.ID); s.HDUsed != 0 {
		t.Errorf("playlist hd_used = %d, want 0", s.HDUsed)
	}

	// 单张套餐只回退状态，不补偿
	got, _ = f.favorite.GetFavorite(ctx, singleFav.ID)
	if got.HDStatus != biz.HDNone || got.CompensatedAt != nil {
		t.Errorf("single favorite = %+v, want reset only", got)
	}
	if s, _ := f.sessions.GetSession(ctx, single.ID); s.HDUsed != 1 {
		t.Errorf("single hd_used = %d, want 1", s.HDUsed)
	}

	got, _ = f.favorite.GetFavorite(ctx, freshFav.ID)
	if got.HDStatus != biz.HDRendering {
		t.Errorf("fresh favorite = %s, want rendering", got.HDStatus)
	}

	// 再跑一次不会重复补偿
	again, err := f.uc.RunSweep(ctx, constants.SweepStuckRendering, time.Minute)
	if err != nil || again.Scanned != 0 {
		t.Errorf("second sweep = %+v, %v; want nothing scanned", again, err)
	}
	logs, _ := f.favorite.ListCompensations(ctx, "u1")
	if len(logs) != 1 {
		t.Errorf("compensations = %d, want 1", len(logs))
	}
}

func TestReconciler_Abandoned(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, newTestData(t), nil)
	idle := createSession(t, f.sessions, &biz.Session{UID: "u1", PackID: "collection", TakesLimit: 30, TotalSteps: 5})
	f.sessions.AdvanceStep(ctx, idle.ID)
	f.data.db.Model(&model.Session{}).Where("session_id = ?", idle.ID).
		UpdateColumn("last_activity_at", time.Now().Add(-25*time.Hour))
	active := createSession(t, f.sessions, &biz.Session{UID: "u2", PackID: "collection", TakesLimit: 30, TotalSteps: 5})

	result, err := f.uc.RunSweep(ctx, constants.SweepAbandoned, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 {
		t.Errorf("processed = %d, want 1", result.Processed)
	}
	if s, _ := f.sessions.GetSession(ctx, idle.ID); s.Status != biz.SessionAbandoned {
		t.Errorf("idle status = %s, want abandoned", s.Status)
	}
	if s, _ := f.sessions.GetSession(ctx, active.ID); s.Status != biz.SessionActive {
		t.Errorf("active status = %s, want active", s.Status)
	}
}

func TestReconciler_BonusPromotion(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, newTestData(t), nil)
	now := time.Now()
	f.referral.CreateBonus(ctx, &biz.ReferralBonus{
		ID: uuid.New().String(), ReferrerUID: "ref", ReferralUID: "friend", PaymentID: "pay-1",
		HDCreditsAmount: 2, Status: biz.BonusPending, CreatedAt: now.Add(-73 * time.Hour), AvailableAt: now.Add(-time.Hour),
	}, biz.BonusLimits{})

	result, err := f.uc.RunSweep(ctx, constants.SweepBonusPromotion, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 {
		t.Errorf("promoted = %d, want 1", result.Processed)
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralAvailable; got != 2 {
		t.Errorf("referral_available = %d, want 2", got)
	}
}

func TestReconciler_MissingTablesAreEmpty(t *testing.T) {
	ctx := context.Background()
	d := newTestData(t)
	f := newReconcilerFixture(t, d, nil)
	if err := d.db.Migrator().DropTable(&model.Favorite{}, &model.Session{}, &model.ReferralBonus{}); err != nil {
		t.Fatalf("DropTable() error: %v", err)
	}

	stuck, err := NewFavoriteRepo(d, testLogger()).ListStuckRendering(ctx, time.Now(), 10)
	if err != nil || len(stuck) != 0 {
		t.Errorf("ListStuckRendering() = %d, %v; want empty", len(stuck), err)
	}
	idle, err := f.sessions.ListAbandonedCandidates(ctx, time.Now(), 10)
	if err != nil || len(idle) != 0 {
		t.Errorf("ListAbandonedCandidates() = %d, %v; want empty", len(idle), err)
	}
	due, err := f.referral.ListDuePending(ctx, time.Now(), 10)
	if err != nil || len(due) != 0 {
		t.Errorf("ListDuePending() = %d, %v; want empty", len(due), err)
	}

	for _, name := range []string{constants.SweepStuckRendering, constants.SweepAbandoned, constants.SweepBonusPromotion} {
		result, err := f.uc.RunSweep(ctx, name, time.Minute)
		if err != nil {
			t.Errorf("RunSweep(%s) error: %v", name, err)
			continue
		}
		if result.Scanned != 0 || result.Processed != 0 || result.Failed != 0 {
			t.Errorf("RunSweep(%s) = %+v, want empty", name, result)
		}
	}
}

func TestReconciler_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDataWithRedis(t)
	locker := NewSweepLocker(redsync.New(goredis.NewPool(d.rdb)), testLogger())
	f := newReconcilerFixture(t, d, locker)

	unlock, ok, err := locker.TryLock(ctx, constants.SweepAbandoned, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	result, err := f.uc.RunSweep(ctx, constants.SweepAbandoned, time.Minute)
	if err != nil || !result.Skipped {
		t.Errorf("RunSweep(locked) = %+v, %v; want skipped", result, err)
	}

	unlock()
	result, err = f.uc.RunSweep(ctx, constants.SweepAbandoned, time.Minute)
	if err != nil || result.Skipped {
		t.Errorf("RunSweep(unlocked) = %+v, %v; want run", result, err)
	}
}

func TestSweepLocker(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDataWithRedis(t)
	locker := NewSweepLocker(redsync.New(goredis.NewPool(d.rdb)), testLogger())

	unlock, ok, err := locker.TryLock(ctx, "job", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock() = %v, %v", ok, err)
	}
	if !mr.Exists(constants.RedisKeySweepLock + "job") {
		t.Error("lock key not written")
	}
	if _, ok, err := locker.TryLock(ctx, "job", time.Minute); err != nil || ok {
		t.Errorf("second TryLock() = %v, %v; want busy", ok, err)
	}
	unlock()
	if _, ok, _ := locker.TryLock(ctx, "job", time.Minute); !ok {
		t.Error("TryLock after unlock failed")
	}

	// 没有 Redis 时总是获取成功
	noop := NewSweepLocker(nil, testLogger())
	if _, ok, err := noop.TryLock(ctx, "job", time.Minute); err != nil || !ok {
		t.Errorf("TryLock(no redis) = %v, %v; want true", ok, err)
	}
}
