package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-service/internal/constants"
)

func TestReferralQualifies(t *testing.T) {
	uc := NewReferralUseCase(newFakeReferralRepo(), nil, testConfig(), testLogger())
	tests := []struct {
		name    string
		payment *Payment
		want    bool
	}{
		{"pack at threshold", &Payment{ID: "p1", ProductID: "pack", Amount: 249}, true},
		{"below threshold", &Payment{ID: "p2", ProductID: "pack", Amount: 248}, false},
		{"single unlock", &Payment{ID: "p3", ProductID: constants.ProductIDUnlock, Amount: 999}, false},
		{"no payment id", &Payment{ProductID: "pack", Amount: 999}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := uc.Qualifies(tt.payment); got != tt.want {
				t.Errorf("Qualifies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReferralCreateBonusHoldWindow(t *testing.T) {
	repo := newFakeReferralRepo()
	uc := NewReferralUseCase(repo, nil, testConfig(), testLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return fixed }

	b, err := uc.CreateBonus(context.Background(), "ref", "friend", &Payment{ID: "p1", ProductID: "pack", Amount: 999})
	if err != nil {
		t.Fatal(err)
	}
	if b.HDCreditsAmount != 8 || b.Status != BonusPending {
		t.Errorf("bonus = %+v", b)
	}
	if want := fixed.Add(72 * time.Hour); !b.AvailableAt.Equal(want) {
		t.Errorf("available_at = %v, want %v", b.AvailableAt, want)
	}

	repo.createErr = ErrFlaggedForReview
	if _, err := uc.CreateBonus(context.Background(), "ref", "friend", &Payment{ID: "p2", ProductID: "pack", Amount: 999}); !errors.Is(err, ErrFlaggedForReview) {
		t.Errorf("CreateBonus() error = %v, want flagged", err)
	}
}

func TestProcessPendingNotifyFailureKeepsPromotion(t *testing.T) {
	repo := newFakeReferralRepo()
	repo.due = []string{"b1", "broken", "b2"}
	notifier := &fakeNotifier{err: errors.New("mq unavailable")}
	uc := NewReferralUseCase(repo, notifier, testConfig(), testLogger())

	promoted, err := uc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending() error: %v", err)
	}
	if promoted != 2 {
		t.Errorf("promoted = %d, want 2", promoted)
	}
	if len(notifier.sent) != 2 {
		t.Errorf("notifications attempted = %d, want 2", len(notifier.sent))
	}
}

func TestRevokeSpentBonus(t *testing.T) {
	repo := newFakeReferralRepo()
	repo.byPayment["p1"] = &ReferralBonus{ID: "b1", ReferrerUID: "ref", PaymentID: "p1", HDCreditsAmount: 2, Status: BonusSpent}
	uc := NewReferralUseCase(repo, nil, testConfig(), testLogger())

	ok, err := uc.RevokeBonusByPayment(context.Background(), "p1", "")
	if err != nil || !ok {
		t.Fatalf("RevokeBonusByPayment() = %v, %v", ok, err)
	}
	if ok, err := uc.RevokeBonusByPayment(context.Background(), "missing", ""); ok || err != nil {
		t.Errorf("RevokeBonusByPayment(missing) = %v, %v; want false, nil", ok, err)
	}
	if _, err := uc.RevokeBonusByPayment(context.Background(), "", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("RevokeBonusByPayment(empty) error = %v, want invalid argument", err)
	}
}
