package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avolkov/rewarding-system/internal/model"
)

func TestSendRewardNotice_OK(t *testing.T) {
	var got noticeRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/notifications" {
			t.Fatalf("path = %s, want /api/notifications", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	member := &model.Member{ID: 7, Email: "m@example.com", Phone: "+79001234567"}
	groups := []RewardGroup{
		{OperatorName: "Coastal Store", Items: []RewardItem{{CouponName: "Gift Card", Count: 12}}},
	}

	if err := client.SendRewardNotice(ctx, member, groups); err != nil {
		t.Fatalf("SendRewardNotice error: %v", err)
	}

	if got.Email != "m@example.com" {
		t.Fatalf("email = %q, want m@example.com", got.Email)
	}
	if got.Phone != "+79001234567" {
		t.Fatalf("phone = %q, want +79001234567", got.Phone)
	}
	if len(got.Groups) != 1 || got.Groups[0].OperatorName != "Coastal Store" {
		t.Fatalf("unexpected groups: %+v", got.Groups)
	}
}

func TestSendRewardNotice_InvalidPhoneDropped(t *testing.T) {
	var got noticeRequest

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	member := &model.Member{ID: 7, Email: "m@example.com", Phone: "not-a-number"}

	if err := client.SendRewardNotice(context.Background(), member, nil); err != nil {
		t.Fatalf("SendRewardNotice error: %v", err)
	}
	if got.Phone != "" {
		t.Fatalf("invalid phone must be dropped, got %q", got.Phone)
	}
}

func TestSendRewardNotice_NoContactChannel(t *testing.T) {
	client := NewClient("localhost:9")

	member := &model.Member{ID: 7}

	if err := client.SendRewardNotice(context.Background(), member, nil); err == nil {
		t.Fatalf("expected error for member without contact channel")
	}
}

func TestSendRewardNotice_RetriesServerError(t *testing.T) {
	var calls int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	member := &model.Member{ID: 7, Email: "m@example.com"}

	if err := client.SendRewardNotice(context.Background(), member, nil); err != nil {
		t.Fatalf("SendRewardNotice error: %v", err)
	}
	if atomic.LoadInt64(&calls) < 2 {
		t.Fatalf("expected retry after server error, calls = %d", calls)
	}
}

func TestComposeSummary(t *testing.T) {
	groups := []RewardGroup{
		{OperatorName: "Alpha", Items: []RewardItem{{CouponName: "Discount", Count: 5}, {CouponName: "Gift", Count: 3}}},
		{OperatorName: "Beta", Items: []RewardItem{{CouponName: "Order", Count: 1}}},
	}

	got := ComposeSummary(groups)
	want := "Alpha Discount: 5, Gift: 3 - Beta Order: 1"
	if got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}
