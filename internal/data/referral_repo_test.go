package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/google/uuid"
)

type referralFixture struct {
	ledger biz.LedgerRepo
	repo   biz.ReferralRepo
	uc     *biz.ReferralUseCase
}

func newReferralFixture(t *testing.T) *referralFixture {
	t.Helper()
	d := newTestData(t)
	repo := NewReferralRepo(d, testLogger())
	return &referralFixture{
		ledger: NewLedgerRepo(d, testLogger()),
		repo:   repo,
		uc:     biz.NewReferralUseCase(repo, NewNotifier(&conf.Bootstrap{}, nil, testLogger()), testConfig(), testLogger()),
	}
}

// pendingBonus 直接写入一条 pending 奖励，available_at 由调用方指定
func (f *referralFixture) pendingBonus(t *testing.T, referrer string, amount int64, availableAt time.Time) *biz.ReferralBonus {
	t.Helper()
	b, inserted, err := f.repo.CreateBonus(context.Background(), &biz.ReferralBonus{
		ID:              uuid.New().String(),
		ReferrerUID:     referrer,
		ReferralUID:     "friend-" + uuid.New().String()[:8],
		PaymentID:       "pay-" + uuid.New().String(),
		PackStars:       249,
		HDCreditsAmount: amount,
		Status:          biz.BonusPending,
		CreatedAt:       time.Now(),
		AvailableAt:     availableAt,
	}, biz.BonusLimits{})
	if err != nil || !inserted {
		t.Fatalf("CreateBonus() = %v, %v", inserted, err)
	}
	return b
}

// availableBonus 写入并立即转为 available
func (f *referralFixture) availableBonus(t *testing.T, referrer string, amount int64) *biz.ReferralBonus {
	t.Helper()
	b := f.pendingBonus(t, referrer, amount, time.Now().Add(-time.Minute))
	promoted, ok, err := f.repo.PromoteBonus(context.Background(), b.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("PromoteBonus() = %v, %v", ok, err)
	}
	return promoted
}

func payment(stars int64) *biz.Payment {
	return &biz.Payment{ID: "pay-" + uuid.New().String(), ProductID: "pack", Amount: stars}
}

func TestReferral_CreateBonusIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	p := payment(300)

	first, err := f.uc.CreateBonus(ctx, "ref", "friend", p)
	if err != nil || first == nil {
		t.Fatalf("CreateBonus() = %v, %v", first, err)
	}
	second, err := f.uc.CreateBonus(ctx, "ref", "friend", p)
	if err != nil || second == nil {
		t.Fatalf("replayed CreateBonus() = %v, %v", second, err)
	}
	if first.ID != second.ID {
		t.Errorf("replay created a new bonus: %s != %s", first.ID, second.ID)
	}
	if first.Status != biz.BonusPending || first.HDCreditsAmount != 2 {
		t.Errorf("bonus = %+v, want pending with 2 credits", first)
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralPending; got != 2 {
		t.Errorf("referral_pending = %d, want 2", got)
	}
}

func TestReferral_CreateBonusNotQualified(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)

	tests := []struct {
		name     string
		referrer string
		referral string
		payment  *biz.Payment
	}{
		{"below threshold", "ref", "friend", payment(100)},
		{"single unlock", "ref", "friend", &biz.Payment{ID: "pay-unlock", ProductID: constants.ProductIDUnlock, Amount: 999}},
		{"self referral", "ref", "ref", payment(999)},
		{"missing payment", "ref", "friend", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := f.uc.CreateBonus(ctx, tt.referrer, tt.referral, tt.payment)
			if err != nil || b != nil {
				t.Errorf("CreateBonus() = %v, %v; want nil, nil", b, err)
			}
		})
	}
	bonuses, _ := f.uc.ListBonuses(ctx, "ref")
	if len(bonuses) != 0 {
		t.Errorf("bonuses = %d, want 0", len(bonuses))
	}
}

func TestReferral_HourlyBurstFlagged(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)

	for i := 0; i < 5; i++ {
		if _, err := f.uc.CreateBonus(ctx, "ref", "friend", payment(249)); err != nil {
			t.Fatalf("#%d CreateBonus() error: %v", i, err)
		}
	}
	if anomalous, err := f.uc.CheckAnomaly(ctx, "ref"); err != nil || !anomalous {
		t.Errorf("CheckAnomaly() = %v, %v; want true", anomalous, err)
	}
	if _, err := f.uc.CreateBonus(ctx, "ref", "friend", payment(249)); !errors.Is(err, biz.ErrFlaggedForReview) {
		t.Errorf("6th CreateBonus() error = %v, want flagged", err)
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralPending; got != 10 {
		t.Errorf("referral_pending = %d, want 10", got)
	}
}

func TestReferral_DailyAndMonthlyLimits(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	now := time.Now()
	f.pendingBonus(t, "ref", 2, now.Add(time.Hour))
	f.pendingBonus(t, "ref", 2, now.Add(time.Hour))

	// 小时窗口放在未来，只检查日/月上限
	limits := biz.BonusLimits{
		Daily:      2,
		Monthly:    30,
		HourStart:  now.Add(time.Hour),
		DayStart:   now.Add(-time.Hour),
		MonthStart: now.Add(-24 * time.Hour),
	}
	b := &biz.ReferralBonus{ID: uuid.New().String(), ReferrerUID: "ref", ReferralUID: "x", PaymentID: "pay-day", HDCreditsAmount: 2, Status: biz.BonusPending, CreatedAt: now, AvailableAt: now}
	if _, _, err := f.repo.CreateBonus(ctx, b, limits); !errors.Is(err, biz.ErrLimitExceeded) {
		t.Errorf("daily limit error = %v, want limit exceeded", err)
	}

	limits.Daily, limits.Monthly = 10, 2
	if _, _, err := f.repo.CreateBonus(ctx, b, limits); !errors.Is(err, biz.ErrLimitExceeded) {
		t.Errorf("monthly limit error = %v, want limit exceeded", err)
	}
}

func TestReferral_ProcessPending(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	due := f.pendingBonus(t, "ref", 2, time.Now().Add(-time.Minute))
	f.pendingBonus(t, "ref", 4, time.Now().Add(time.Hour))

	promoted, err := f.uc.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	if again, _ := f.uc.ProcessPending(ctx); again != 0 {
		t.Errorf("second ProcessPending promoted %d, want 0", again)
	}

	b, _ := f.uc.GetBonus(ctx, due.ID)
	if b.Status != biz.BonusAvailable {
		t.Errorf("status = %s, want available", b.Status)
	}
	bal := mustBalance(t, f.ledger, "ref")
	if bal.ReferralPending != 4 || bal.ReferralAvailable != 2 {
		t.Errorf("pending=%d available=%d, want 4/2", bal.ReferralPending, bal.ReferralAvailable)
	}
}

func TestReferral_SpendCreditsBoundary(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	f.availableBonus(t, "ref", 5)

	if ok, err := f.uc.SpendCredits(ctx, "ref", 6); err != nil || ok {
		t.Errorf("SpendCredits(6) = %v, %v; want false", ok, err)
	}
	if ok, err := f.uc.SpendCredits(ctx, "ref", 5); err != nil || !ok {
		t.Errorf("SpendCredits(5) = %v, %v; want true", ok, err)
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralAvailable; got != 0 {
		t.Errorf("referral_available = %d, want 0", got)
	}
}

func TestReferral_RevokeAfterSpendCreatesDebt(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	b := f.availableBonus(t, "ref", 2)

	if ok, _ := f.uc.SpendCredits(ctx, "ref", 2); !ok {
		t.Fatal("SpendCredits(2) rejected")
	}
	if ok, err := f.uc.MarkSpent(ctx, b.ID); err != nil || !ok {
		t.Fatalf("MarkSpent() = %v, %v", ok, err)
	}
	if ok, err := f.uc.RevokeBonusByPayment(ctx, b.PaymentID, ""); err != nil || !ok {
		t.Fatalf("RevokeBonusByPayment() = %v, %v", ok, err)
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralDebt; got != 2 {
		t.Errorf("referral_debt = %d, want 2", got)
	}

	// 欠款未清偿前新的可用额度也不能花
	f.availableBonus(t, "ref", 4)
	if ok, _ := f.uc.SpendCredits(ctx, "ref", 1); ok {
		t.Error("SpendCredits with debt applied")
	}
	remaining, err := f.uc.ClearDebt(ctx, "ref", 2)
	if err != nil || remaining != 0 {
		t.Fatalf("ClearDebt() = %d, %v", remaining, err)
	}
	if ok, _ := f.uc.SpendCredits(ctx, "ref", 1); !ok {
		t.Error("SpendCredits after debt cleared rejected")
	}

	got, _ := f.uc.GetBonus(ctx, b.ID)
	if got.Status != biz.BonusRevoked || got.RevokeReason != constants.RevokeReasonRefund || got.RevokedAt == nil {
		t.Errorf("bonus = %+v, want revoked(refund)", got)
	}
}

func TestReferral_RevokeByStatus(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)

	pending := f.pendingBonus(t, "ref", 2, time.Now().Add(time.Hour))
	if ok, _ := f.uc.RevokeBonusByPayment(ctx, pending.PaymentID, "refund"); !ok {
		t.Fatal("revoke pending rejected")
	}
	if got := mustBalance(t, f.ledger, "ref").ReferralPending; got != 0 {
		t.Errorf("referral_pending = %d, want 0", got)
	}

	available := f.availableBonus(t, "ref", 4)
	if ok, _ := f.uc.RevokeBonusByPayment(ctx, available.PaymentID, "refund"); !ok {
		t.Fatal("revoke available rejected")
	}
	bal := mustBalance(t, f.ledger, "ref")
	if bal.ReferralAvailable != 0 || bal.ReferralDebt != 0 {
		t.Errorf("available=%d debt=%d, want 0/0", bal.ReferralAvailable, bal.ReferralDebt)
	}

	// 重复撤销和未知支付都视为空操作
	if ok, err := f.uc.RevokeBonusByPayment(ctx, available.PaymentID, "refund"); ok || err != nil {
		t.Errorf("repeated revoke = %v, %v; want false, nil", ok, err)
	}
	if ok, err := f.uc.RevokeBonusByPayment(ctx, "pay-unknown", "refund"); ok || err != nil {
		t.Errorf("revoke unknown = %v, %v; want false, nil", ok, err)
	}
}

func TestReferral_RevokeAvailableShortfallBecomesDebt(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	b := f.availableBonus(t, "ref", 4)

	// 已经花掉部分额度但奖励尚未标记 spent
	if ok, _ := f.uc.SpendCredits(ctx, "ref", 3); !ok {
		t.Fatal("SpendCredits(3) rejected")
	}
	if ok, _ := f.uc.RevokeBonusByPayment(ctx, b.PaymentID, "refund"); !ok {
		t.Fatal("revoke rejected")
	}
	bal := mustBalance(t, f.ledger, "ref")
	if bal.ReferralAvailable != 0 || bal.ReferralDebt != 3 {
		t.Errorf("available=%d debt=%d, want 0/3", bal.ReferralAvailable, bal.ReferralDebt)
	}
}

func TestReferral_FreezeBonus(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	b := f.availableBonus(t, "ref", 4)

	if ok, err := f.uc.FreezeBonus(ctx, b.ID); err != nil || !ok {
		t.Fatalf("FreezeBonus() = %v, %v", ok, err)
	}
	if ok, _ := f.uc.FreezeBonus(ctx, b.ID); ok {
		t.Error("freezing a pending bonus applied")
	}
	got, _ := f.uc.GetBonus(ctx, b.ID)
	if got.Status != biz.BonusPending || got.AvailableAt.Before(time.Now().Add(365*24*time.Hour)) {
		t.Errorf("bonus = %+v, want pending far in the future", got)
	}
	bal := mustBalance(t, f.ledger, "ref")
	if bal.ReferralAvailable != 0 || bal.ReferralPending != 4 {
		t.Errorf("available=%d pending=%d, want 0/4", bal.ReferralAvailable, bal.ReferralPending)
	}
	if promoted, _ := f.uc.ProcessPending(ctx); promoted != 0 {
		t.Errorf("frozen bonus promoted")
	}
}

func TestReferral_FreezeAfterPartialSpend(t *testing.T) {
	ctx := context.Background()
	f := newReferralFixture(t)
	b := f.availableBonus(t, "ref", 4)
	if ok, err := f.uc.SpendCredits(ctx, "ref", 3); err != nil || !ok {
		t.Fatalf("SpendCredits(3) = %v, %v", ok, err)
	}

	if ok, err := f.uc.FreezeBonus(ctx, b.ID); !errors.Is(err, biz.ErrInsufficientBalance) || ok {
		t.Fatalf("FreezeBonus(partly spent) = %v, %v; want insufficient balance", ok, err)
	}
	got, _ := f.uc.GetBonus(ctx, b.ID)
	if got.Status != biz.BonusAvailable {
		t.Errorf("status = %s, want available", got.Status)
	}
	bal := mustBalance(t, f.ledger, "ref")
	if bal.ReferralAvailable != 1 || bal.ReferralPending != 0 {
		t.Errorf("available=%d pending=%d, want 1/0", bal.ReferralAvailable, bal.ReferralPending)
	}

	// 退款撤销时已花掉的部分计入欠款
	if ok, err := f.uc.RevokeBonusByPayment(ctx, b.PaymentID, "refund"); err != nil || !ok {
		t.Fatalf("RevokeBonusByPayment() = %v, %v", ok, err)
	}
	bal = mustBalance(t, f.ledger, "ref")
	if bal.ReferralAvailable != 0 || bal.ReferralPending != 0 || bal.ReferralDebt != 3 {
		t.Errorf("available=%d pending=%d debt=%d, want 0/0/3", bal.ReferralAvailable, bal.ReferralPending, bal.ReferralDebt)
	}
}

func TestReferral_ClearDebtUnknownUser(t *testing.T) {
	f := newReferralFixture(t)
	if _, err := f.uc.ClearDebt(context.Background(), "ghost", 1); !errors.Is(err, biz.ErrNotFound) {
		t.Errorf("ClearDebt(ghost) error = %v, want not found", err)
	}
}
