package service

import (
	"testing"
	"time"

	"github.com/avolkov/rewarding-system/internal/model"
)

func TestRemainingDaysInMonth(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{
			name: "middle of march",
			now:  time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
			want: 20,
		},
		{
			name: "first of month",
			now:  time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			want: 30,
		},
		{
			name: "last evening of month",
			now:  time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC),
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remainingDaysInMonth(tt.now); got != tt.want {
				t.Fatalf("remainingDaysInMonth(%v) = %d, want %d", tt.now, got, tt.want)
			}
		})
	}
}

func TestWinnersNeededToday(t *testing.T) {
	tests := []struct {
		name          string
		quota         int
		winners       int
		remainingDays int
		want          int
	}{
		{"even spread", 100, 40, 20, 3},
		{"quota exhausted", 100, 100, 20, 0},
		{"quota overshot", 100, 120, 20, 0},
		{"last day takes the rest", 100, 95, 1, 5},
		{"zero remaining days clamps to one", 10, 0, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coupon := &model.Coupon{MonthQuota: tt.quota, MonthWinners: tt.winners}
			if got := winnersNeededToday(coupon, tt.remainingDays); got != tt.want {
				t.Fatalf("winnersNeededToday = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWinnerBonus_SteppedRange(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	for i := 0; i < 100; i++ {
		bonus := svc.winnerBonus()
		if bonus < 3 || bonus > 18 {
			t.Fatalf("bonus = %d, want within [3, 18]", bonus)
		}
		if bonus%3 != 0 {
			t.Fatalf("bonus = %d, want a multiple of 3", bonus)
		}
	}
}

func TestFreeGrantSize_WithinBounds(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	coupon := &model.Coupon{HeapSize: 100, Coefficient: 1}

	for i := 0; i < 100; i++ {
		size := svc.freeGrantSize(coupon, 0)
		if size < 4 || size > 42 {
			t.Fatalf("size = %d, want within [4, 42]", size)
		}
	}
}

func TestFreeGrantSize_DividesByCoefficient(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	coupon := &model.Coupon{HeapSize: 100, Coefficient: 3}

	for i := 0; i < 100; i++ {
		size := svc.freeGrantSize(coupon, 0)
		// 42/3 = 14 — потолок случайного начисления для тройного коэффициента.
		if size < 4 || size > 14 {
			t.Fatalf("size = %d, want within [4, 14]", size)
		}
	}
}

func TestFreeGrantSize_CollapsedRange(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	coupon := &model.Coupon{HeapSize: 100, Coefficient: 1}

	// Остаток почти у порога: свободного места нет, начисляется один купон.
	if size := svc.freeGrantSize(coupon, 98); size != 1 {
		t.Fatalf("size = %d, want 1", size)
	}
}

func TestPlanWinningSlots(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	coupons := []model.Coupon{
		{ID: 1, MonthQuota: 100, MonthWinners: 40},
		{ID: 2, MonthQuota: 10, MonthWinners: 10},
	}

	slots := svc.planWinningSlots(coupons, 10, 20)

	if got := len(slots[1]); got != 3 {
		t.Fatalf("slots for coupon 1 = %d, want 3", got)
	}
	if _, ok := slots[2]; ok {
		t.Fatalf("exhausted quota must not get slots")
	}
	for idx := range slots[1] {
		if idx < 0 || idx >= 10 {
			t.Fatalf("slot index %d out of pool", idx)
		}
	}
}

func TestPlanWinningSlots_ClampsToPool(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)

	coupons := []model.Coupon{
		{ID: 1, MonthQuota: 100, MonthWinners: 0},
	}

	// Нужно 50 победителей при очереди из трёх кандидатов.
	slots := svc.planWinningSlots(coupons, 3, 2)

	if got := len(slots[1]); got != 3 {
		t.Fatalf("slots = %d, want clamp to pool size 3", got)
	}
}
