package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avolkov/rewarding-system/internal/model"
)

func TestShouldNotify(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		prepared int
		last     time.Time
		want     bool
	}{
		{"enough rewards", 2, now.Add(-time.Hour), true},
		{"one fresh reward waits", 1, now.Add(-24 * time.Hour), false},
		{"one stale reward goes out", 1, now.Add(-4 * 24 * time.Hour), true},
		{"exactly at staleness limit", 1, now.Add(-3 * 24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.shouldNotify(tt.prepared, tt.last, now); got != tt.want {
				t.Fatalf("shouldNotify(%d, %v) = %v, want %v", tt.prepared, tt.last, got, tt.want)
			}
		})
	}
}

func prepareRewards(repo *memRepo, op *model.Operator, memberID, couponID int64, counts []int, at time.Time) {
	for _, c := range counts {
		repo.rewards = append(repo.rewards, &model.Reward{
			ID:         repo.id(),
			OperatorID: op.ID,
			MemberID:   memberID,
			CouponID:   couponID,
			Count:      c,
			Type:       model.RewardTypeFree,
			Status:     model.RewardStatusPrepared,
			CreatedAt:  at,
		})
	}
}

func TestSendFreeRewards_MarksSent(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	repo := newMemRepo()
	op := repo.addOperator(model.Operator{Name: "Alpha", IsActive: true, Expiry: now.AddDate(1, 0, 0)})
	coupon := repo.addCoupon(model.Coupon{OperatorID: op.ID, Name: "Discount", Type: model.CouponTypeDiscount, HeapSize: 100})
	m := repo.addMember(op.ID, model.Member{Email: "m@example.com"})
	prepareRewards(repo, op, m.ID, coupon.ID, []int{5, 3}, now.Add(-time.Hour))

	n := &stubNotifier{}
	svc := newTestService(repo, n)

	if err := svc.SendFreeRewards(context.Background(), now); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(n.sent) != 1 || n.sent[0] != m.ID {
		t.Fatalf("sent to %v, want [%d]", n.sent, m.ID)
	}
	if len(n.groups[0]) != 1 || n.groups[0][0].OperatorName != "Alpha" {
		t.Fatalf("groups = %+v, want one Alpha group", n.groups[0])
	}

	for _, rw := range repo.rewards {
		if rw.Status != model.RewardStatusSent {
			t.Fatalf("reward %d status = %s, want Sent", rw.ID, rw.Status)
		}
	}
}

func TestSendFreeRewards_BelowGateWaits(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	repo := newMemRepo()
	op := repo.addOperator(model.Operator{Name: "Alpha", IsActive: true, Expiry: now.AddDate(1, 0, 0)})
	coupon := repo.addCoupon(model.Coupon{OperatorID: op.ID, Name: "Discount", Type: model.CouponTypeDiscount, HeapSize: 100})
	m := repo.addMember(op.ID, model.Member{Email: "m@example.com"})
	prepareRewards(repo, op, m.ID, coupon.ID, []int{5}, now.Add(-time.Hour))

	n := &stubNotifier{}
	svc := newTestService(repo, n)

	if err := svc.SendFreeRewards(context.Background(), now); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(n.sent) != 0 {
		t.Fatalf("sent to %v, want nobody below the gate", n.sent)
	}
	if repo.rewards[0].Status != model.RewardStatusPrepared {
		t.Fatalf("reward status = %s, want Prepared", repo.rewards[0].Status)
	}
}

func TestSendFreeRewards_DeliveryFailureKeepsPrepared(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	repo := newMemRepo()
	op := repo.addOperator(model.Operator{Name: "Alpha", IsActive: true, Expiry: now.AddDate(1, 0, 0)})
	coupon := repo.addCoupon(model.Coupon{OperatorID: op.ID, Name: "Discount", Type: model.CouponTypeDiscount, HeapSize: 100})
	m := repo.addMember(op.ID, model.Member{Email: "m@example.com"})
	prepareRewards(repo, op, m.ID, coupon.ID, []int{5, 3}, now.Add(-time.Hour))

	n := &stubNotifier{sendErr: errors.New("gateway down")}
	svc := newTestService(repo, n)

	if err := svc.SendFreeRewards(context.Background(), now); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, rw := range repo.rewards {
		if rw.Status != model.RewardStatusPrepared {
			t.Fatalf("reward %d status = %s, want Prepared after failed delivery", rw.ID, rw.Status)
		}
	}
}

func TestSendFreeRewards_NoContactChannel(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	repo := newMemRepo()
	op := repo.addOperator(model.Operator{Name: "Alpha", IsActive: true, Expiry: now.AddDate(1, 0, 0)})
	coupon := repo.addCoupon(model.Coupon{OperatorID: op.ID, Name: "Discount", Type: model.CouponTypeDiscount, HeapSize: 100})
	m := repo.addMember(op.ID, model.Member{})
	prepareRewards(repo, op, m.ID, coupon.ID, []int{5, 3}, now.Add(-time.Hour))

	n := &stubNotifier{}
	svc := newTestService(repo, n)

	if err := svc.SendFreeRewards(context.Background(), now); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(n.sent) != 0 {
		t.Fatalf("sent to %v, want nobody without a contact channel", n.sent)
	}
	// Без канала связи вознаграждения помечаются отправленными,
	// чтобы не перебирать участника на каждом прогоне.
	for _, rw := range repo.rewards {
		if rw.Status != model.RewardStatusSent {
			t.Fatalf("reward %d status = %s, want Sent", rw.ID, rw.Status)
		}
	}
}

func TestSendFreeRewards_NoNotifierConfigured(t *testing.T) {
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	repo := newMemRepo()
	op := repo.addOperator(model.Operator{Name: "Alpha", IsActive: true, Expiry: now.AddDate(1, 0, 0)})
	coupon := repo.addCoupon(model.Coupon{OperatorID: op.ID, Name: "Discount", Type: model.CouponTypeDiscount, HeapSize: 100})
	m := repo.addMember(op.ID, model.Member{Email: "m@example.com"})
	prepareRewards(repo, op, m.ID, coupon.ID, []int{5, 3}, now.Add(-time.Hour))

	svc := newTestService(repo, nil)

	if err := svc.SendFreeRewards(context.Background(), now); err != nil {
		t.Fatalf("send: %v", err)
	}
	if repo.rewards[0].Status != model.RewardStatusPrepared {
		t.Fatalf("reward status = %s, want Prepared when mailing is off", repo.rewards[0].Status)
	}
}
