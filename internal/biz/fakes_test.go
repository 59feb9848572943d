package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

func testLogger() log.Logger {
	return log.NewFilter(log.DefaultLogger, log.FilterLevel(log.LevelError))
}

func testConfig() *LedgerConfig {
	return &LedgerConfig{
		ModeratorBypass: true,
		DefaultSLA:      10 * time.Minute,
		Packs: map[string]PackPolicy{
			"starter": {TakesLimit: 10, HDLimit: 2, SLA: 10 * time.Minute},
		},
		Referral: ReferralPolicy{
			MinQualifyingStars: 249,
			Hold:               72 * time.Hour,
			DailyLimit:         5,
			MonthlyLimit:       30,
			Ladder:             NewLadder(map[int64]int64{249: 2, 499: 4, 999: 8}),
			BatchSize:          10,
		},
		Watchdog: WatchdogPolicy{StaleAfter: 10 * time.Minute, AbandonedAfter: 24 * time.Hour, BatchSize: 10},
	}
}

// fakeLedgerRepo 记录调用；未覆盖的方法调用会 panic
type fakeLedgerRepo struct {
	LedgerRepo
	mu    sync.Mutex
	calls []string
	err   error
	// refund Release 返回的实际退回额度
	refund int64
}

func (f *fakeLedgerRepo) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeLedgerRepo) Hold(ctx context.Context, userID, jobID string, amount int64, bypass bool) (HoldOutcome, error) {
	return HoldApplied, f.record("hold:" + jobID)
}

func (f *fakeLedgerRepo) Capture(ctx context.Context, userID, jobID string, amount int64) (bool, error) {
	return true, f.record("capture:" + jobID)
}

func (f *fakeLedgerRepo) Release(ctx context.Context, userID, jobID string, amount int64) (int64, error) {
	if err := f.record("release:" + jobID); err != nil {
		return 0, err
	}
	return f.refund, nil
}

type fakeFavoriteRepo struct {
	FavoriteRepo
	compensated []string
}

func (f *fakeFavoriteRepo) Compensate(ctx context.Context, req *CompensationRequest) (*CompensationLog, error) {
	f.compensated = append(f.compensated, req.FavoriteID)
	return &CompensationLog{FavoriteID: req.FavoriteID, Reason: req.Reason, CompType: "hd_return", Amount: 1, CorrelationID: req.CorrelationID}, nil
}

// fakeReferralRepo 内存版奖励存储
type fakeReferralRepo struct {
	ReferralRepo
	byPayment map[string]*ReferralBonus
	due       []string
	createErr error
	revoked   []string
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{byPayment: make(map[string]*ReferralBonus)}
}

func (f *fakeReferralRepo) GetBonusByPaymentID(ctx context.Context, paymentID string) (*ReferralBonus, error) {
	return f.byPayment[paymentID], nil
}

func (f *fakeReferralRepo) CreateBonus(ctx context.Context, b *ReferralBonus, limits BonusLimits) (*ReferralBonus, bool, error) {
	if f.createErr != nil {
		return nil, false, f.createErr
	}
	if existing, ok := f.byPayment[b.PaymentID]; ok {
		return existing, false, nil
	}
	f.byPayment[b.PaymentID] = b
	return b, true, nil
}

func (f *fakeReferralRepo) ListDuePending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return f.due, nil
}

func (f *fakeReferralRepo) PromoteBonus(ctx context.Context, bonusID string, now time.Time) (*ReferralBonus, bool, error) {
	if bonusID == "broken" {
		return nil, false, errors.New("db down")
	}
	return &ReferralBonus{ID: bonusID, ReferrerUID: "ref", HDCreditsAmount: 2, Status: BonusAvailable}, true, nil
}

func (f *fakeReferralRepo) RevokeByPayment(ctx context.Context, paymentID, reason string, now time.Time) (*ReferralBonus, BonusStatus, error) {
	b, ok := f.byPayment[paymentID]
	if !ok {
		return nil, "", ErrNotFound
	}
	f.revoked = append(f.revoked, paymentID)
	before := b.Status
	b.Status = BonusRevoked
	return b, before, nil
}

type fakeNotifier struct {
	err  error
	sent []string
}

func (n *fakeNotifier) Notify(ctx context.Context, userID, message string) error {
	n.sent = append(n.sent, userID)
	return n.err
}

type fakeLocker struct {
	busy   bool
	locked []string
}

func (l *fakeLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l.busy {
		return nil, false, nil
	}
	l.locked = append(l.locked, name)
	return func() {}, true, nil
}

type fakeSessionRepo struct {
	SessionRepo
	sessions   map[string]*Session
	candidates []*Session
	// stillIdle 为 false 的会话在标记时视为已恢复活动
	stillIdle map[string]bool
	markErr   error
	marked    []string
}

func (f *fakeSessionRepo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return f.sessions[sessionID], nil
}

func (f *fakeSessionRepo) ListAbandonedCandidates(ctx context.Context, idleBefore time.Time, limit int) ([]*Session, error) {
	return f.candidates, nil
}

func (f *fakeSessionRepo) MarkAbandoned(ctx context.Context, sessionID string, idleBefore time.Time) (bool, error) {
	if f.markErr != nil && sessionID == "broken" {
		return false, f.markErr
	}
	if !f.stillIdle[sessionID] {
		return false, nil
	}
	f.marked = append(f.marked, sessionID)
	return true, nil
}
