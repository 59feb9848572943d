package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
)

func TestLedger_HoldIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	if err := repo.CreditTokens(ctx, "u1", 10); err != nil {
		t.Fatalf("CreditTokens() error: %v", err)
	}

	outcome, err := repo.Hold(ctx, "u1", "job-1", 3, true)
	if err != nil {
		t.Fatalf("Hold() error: %v", err)
	}
	if outcome != biz.HoldApplied {
		t.Errorf("first Hold = %v, want applied", outcome)
	}
	outcome, err = repo.Hold(ctx, "u1", "job-1", 3, true)
	if err != nil {
		t.Fatalf("replayed Hold() error: %v", err)
	}
	if outcome != biz.HoldAlreadyApplied {
		t.Errorf("replayed Hold = %v, want already applied", outcome)
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 7 {
		t.Errorf("credit_balance = %d, want 7", got)
	}
	entries, err := repo.ListEntries(ctx, "u1", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Operation != constants.LedgerOpHold {
		t.Errorf("entries = %+v, want single HOLD", entries)
	}
}

func TestLedger_HoldInsufficient(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())

	// 没有余额行
	if _, err := repo.Hold(ctx, "ghost", "job-1", 1, true); !errors.Is(err, biz.ErrInsufficientBalance) {
		t.Errorf("Hold(no row) error = %v, want insufficient", err)
	}

	repo.CreditTokens(ctx, "u1", 2)
	if _, err := repo.Hold(ctx, "u1", "job-1", 3, true); !errors.Is(err, biz.ErrInsufficientBalance) {
		t.Errorf("Hold(3 > 2) error = %v, want insufficient", err)
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 2 {
		t.Errorf("credit_balance = %d, want 2 (no side effects)", got)
	}
	entries, _ := repo.ListEntries(ctx, "u1", "job-1")
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestLedger_ModeratorBypass(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	if err := repo.SetRole(ctx, "mod", constants.RoleModerator); err != nil {
		t.Fatalf("SetRole() error: %v", err)
	}

	outcome, err := repo.Hold(ctx, "mod", "job-1", 5, true)
	if err != nil {
		t.Fatalf("Hold() error: %v", err)
	}
	if outcome != biz.HoldBypassed {
		t.Errorf("Hold = %v, want bypassed", outcome)
	}
	entries, _ := repo.ListEntries(ctx, "mod", "")
	if len(entries) != 0 {
		t.Errorf("bypassed hold wrote %d entries, want 0", len(entries))
	}

	// 关闭豁免后按普通用户处理
	if _, err := repo.Hold(ctx, "mod", "job-2", 5, false); !errors.Is(err, biz.ErrInsufficientBalance) {
		t.Errorf("Hold(bypass off) error = %v, want insufficient", err)
	}
}

func TestLedger_ConcurrentHoldsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.CreditTokens(ctx, "u1", 10)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
		denied  atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Hold(ctx, "u1", fmt.Sprintf("job-%d", i), 1, true)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, biz.ErrInsufficientBalance):
				denied.Add(1)
			default:
				t.Errorf("Hold() unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if applied.Load() != 10 || denied.Load() != 15 {
		t.Errorf("applied=%d denied=%d, want 10/15", applied.Load(), denied.Load())
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 0 {
		t.Errorf("credit_balance = %d, want 0", got)
	}
}

func TestLedger_ConcurrentReplaysDebitOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.CreditTokens(ctx, "u1", 10)

	var (
		wg    sync.WaitGroup
		first atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := repo.Hold(ctx, "u1", "job-1", 4, true)
			if err != nil {
				t.Errorf("Hold() error: %v", err)
				return
			}
			if outcome == biz.HoldApplied {
				first.Add(1)
			}
		}()
	}
	wg.Wait()

	if first.Load() != 1 {
		t.Errorf("applied %d times, want 1", first.Load())
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 6 {
		t.Errorf("credit_balance = %d, want 6", got)
	}
}

func TestLedger_Conservation(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.CreditTokens(ctx, "u1", 100)

	for job, amount := range map[string]int64{"a": 30, "b": 20, "c": 10} {
		if _, err := repo.Hold(ctx, "u1", job, amount, true); err != nil {
			t.Fatalf("Hold(%s) error: %v", job, err)
		}
	}
	if ok, err := repo.Capture(ctx, "u1", "a", 0); err != nil || !ok {
		t.Fatalf("Capture(a) = %v, %v", ok, err)
	}
	if refunded, err := repo.Release(ctx, "u1", "b", 0); err != nil || refunded != 20 {
		t.Fatalf("Release(b) = %d, %v; want hold amount 20", refunded, err)
	}

	entries, err := repo.ListEntries(ctx, "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	var held, released int64
	for _, e := range entries {
		switch e.Operation {
		case constants.LedgerOpHold:
			held += e.Amount
		case constants.LedgerOpRelease:
			released += e.Amount
		}
	}
	balance := mustBalance(t, repo, "u1").CreditBalance
	if balance != 60 {
		t.Errorf("credit_balance = %d, want 60", balance)
	}
	if balance+held-released != 100 {
		t.Errorf("balance + holds - releases = %d, want 100", balance+held-released)
	}
}

func TestLedger_CaptureReleaseNoops(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.CreditTokens(ctx, "u1", 10)

	// 没有 HOLD
	if ok, err := repo.Capture(ctx, "u1", "none", 1); err != nil || ok {
		t.Errorf("Capture(no hold) = %v, %v; want false, nil", ok, err)
	}
	if refunded, err := repo.Release(ctx, "u1", "none", 1); err != nil || refunded != 0 {
		t.Errorf("Release(no hold) = %d, %v; want 0, nil", refunded, err)
	}

	repo.Hold(ctx, "u1", "captured", 2, true)
	repo.Capture(ctx, "u1", "captured", 2)
	if ok, _ := repo.Capture(ctx, "u1", "captured", 2); ok {
		t.Error("second Capture applied, want no-op")
	}
	if refunded, _ := repo.Release(ctx, "u1", "captured", 2); refunded != 0 {
		t.Error("Release after Capture applied, want no-op")
	}

	repo.Hold(ctx, "u1", "released", 3, true)
	repo.Release(ctx, "u1", "released", 3)
	if refunded, _ := repo.Release(ctx, "u1", "released", 3); refunded != 0 {
		t.Error("second Release applied, want no-op")
	}
	if ok, _ := repo.Capture(ctx, "u1", "released", 3); ok {
		t.Error("Capture after Release applied, want no-op")
	}

	if got := mustBalance(t, repo, "u1").CreditBalance; got != 8 {
		t.Errorf("credit_balance = %d, want 8", got)
	}
}

func TestLedger_ReleaseCappedAtHold(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.CreditTokens(ctx, "u1", 10)
	repo.Hold(ctx, "u1", "job", 4, true)

	refunded, err := repo.Release(ctx, "u1", "job", 50)
	if err != nil || refunded != 4 {
		t.Fatalf("Release(50) = %d, %v; want capped at 4", refunded, err)
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 10 {
		t.Errorf("credit_balance = %d, want 10", got)
	}
	entries, _ := repo.ListEntries(ctx, "u1", "job")
	for _, e := range entries {
		if e.Operation == constants.LedgerOpRelease && e.Amount != 4 {
			t.Errorf("RELEASE entry amount = %d, want 4", e.Amount)
		}
	}
}

func TestLedger_SpendHDPrefersPromo(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestData(t), testLogger())
	repo.GrantHD(ctx, "u1", 1, true)
	repo.GrantHD(ctx, "u1", 1, false)

	tests := []struct {
		want    string
		wantErr error
	}{
		{want: constants.HDBucketPromo},
		{want: constants.HDBucketPaid},
		{wantErr: biz.ErrInsufficientBalance},
	}
	for i, tt := range tests {
		got, err := repo.SpendHD(ctx, "u1")
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("#%d SpendHD() error = %v, want %v", i, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("#%d SpendHD() = %q, %v; want %q", i, got, err, tt.want)
		}
	}
}

func TestLedger_BalanceCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDataWithRedis(t)
	repo := NewLedgerRepo(d, testLogger())
	repo.CreditTokens(ctx, "u1", 10)

	if got := mustBalance(t, repo, "u1").CreditBalance; got != 10 {
		t.Fatalf("credit_balance = %d, want 10", got)
	}
	if !mr.Exists(constants.RedisKeyBalance + "u1") {
		t.Fatal("balance not cached after read")
	}

	if _, err := repo.Hold(ctx, "u1", "job-1", 4, true); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(constants.RedisKeyBalance + "u1") {
		t.Error("balance cache not invalidated after Hold")
	}
	if got := mustBalance(t, repo, "u1").CreditBalance; got != 6 {
		t.Errorf("credit_balance after Hold = %d, want 6", got)
	}
}

func TestLedger_BalanceCacheRefillAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	d, mr := newTestDataWithRedis(t)
	key := constants.RedisKeyBalance + "u1"

	// 读者在读库前拿到版本号，随后写者提交并失效
	version, err := d.balanceVersion(ctx, "u1")
	if err != nil {
		t.Fatalf("balanceVersion() error: %v", err)
	}
	if err := d.invalidateBalance("u1"); err != nil {
		t.Fatalf("invalidateBalance() error: %v", err)
	}
	filled, err := d.fillBalance(ctx, "u1", version, []byte(`{"credit_balance":10}`))
	if err != nil || filled {
		t.Fatalf("fillBalance(stale) = %v, %v; want dropped", filled, err)
	}
	if mr.Exists(key) {
		t.Fatal("stale balance cached after invalidate")
	}

	// 版本号未变时正常回填
	version, _ = d.balanceVersion(ctx, "u1")
	if filled, err := d.fillBalance(ctx, "u1", version, []byte(`{"credit_balance":6}`)); err != nil || !filled {
		t.Fatalf("fillBalance(current) = %v, %v; want filled", filled, err)
	}
	if !mr.Exists(key) {
		t.Error("balance not cached")
	}
}
