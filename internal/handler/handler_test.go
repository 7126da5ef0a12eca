package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/middleware"
	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/repository"
)

type stubService struct {
	prepareErr error
	sendErr    error
	resetErr   error

	summariesResp []model.CouponSummary
	summariesErr  error

	winnersResp []model.CouponWinner
	winnersErr  error

	useErr    error
	donateErr error
	manualErr error
	saveErr   error
	deleteErr error

	savedCoupon *model.Coupon

	grantedResp   int
	grantErr      error
	paymentAmount float64

	usedMemberID int64
	usedCouponID int64
	donatedCount int
}

func (s *stubService) PrepareFreeRewards(ctx context.Context, now time.Time) error {
	return s.prepareErr
}

func (s *stubService) SendFreeRewards(ctx context.Context, now time.Time) error {
	return s.sendErr
}

func (s *stubService) ResetMonthlyWinners(ctx context.Context) error {
	return s.resetErr
}

func (s *stubService) GetCouponSummaries(ctx context.Context, memberID int64) ([]model.CouponSummary, error) {
	return s.summariesResp, s.summariesErr
}

func (s *stubService) GetPendingWinners(ctx context.Context, operatorID int64) ([]model.CouponWinner, error) {
	return s.winnersResp, s.winnersErr
}

func (s *stubService) RewardForJoin(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error) {
	return s.grantedResp, s.grantErr
}

func (s *stubService) RewardForReferral(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error) {
	return s.grantedResp, s.grantErr
}

func (s *stubService) RewardForPayment(ctx context.Context, operatorID, memberID int64, amount float64, objectID string, now time.Time) (int, error) {
	s.paymentAmount = amount
	return s.grantedResp, s.grantErr
}

func (s *stubService) UseCoupon(ctx context.Context, memberID, couponID int64, objectID string) error {
	s.usedMemberID = memberID
	s.usedCouponID = couponID
	return s.useErr
}

func (s *stubService) DonateCoupon(ctx context.Context, donorID, receiverID, couponID int64, count int, objectID string, now time.Time) error {
	s.donatedCount = count
	return s.donateErr
}

func (s *stubService) RewardManual(ctx context.Context, operatorID, memberID, couponID int64, count int, now time.Time) error {
	return s.manualErr
}

func (s *stubService) SaveCoupon(ctx context.Context, c *model.Coupon) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	c.ID = 101
	s.savedCoupon = c
	return nil
}

func (s *stubService) DeleteCoupon(ctx context.Context, couponID int64) error {
	return s.deleteErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func TestUseCoupon_Success(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(useRequest{
		MemberID: 7,
		CouponID: 3,
		ObjectID: "prize-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/use", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.UseCoupon(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.usedMemberID != 7 || svc.usedCouponID != 3 {
		t.Fatalf("service called with member=%d coupon=%d", svc.usedMemberID, svc.usedCouponID)
	}
}

func TestUseCoupon_InsufficientBalance(t *testing.T) {
	svc := &stubService{
		useErr: repository.ErrInsufficientBalance,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(useRequest{MemberID: 7, CouponID: 3})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/use", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.UseCoupon(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestUseCoupon_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/use", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	h.UseCoupon(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestDonateCoupon_NotRelated(t *testing.T) {
	svc := &stubService{
		donateErr: repository.ErrMembersNotRelated,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(donateRequest{
		DonorID:    1,
		ReceiverID: 2,
		CouponID:   3,
		Count:      5,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/donate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.DonateCoupon(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestDonateCoupon_RejectsNonPositiveCount(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(donateRequest{
		DonorID:    1,
		ReceiverID: 2,
		CouponID:   3,
		Count:      0,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/donate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.DonateCoupon(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
	if svc.donatedCount != 0 {
		t.Fatalf("service must not be called on invalid request")
	}
}

func TestGetMemberSummaries_NoContent(t *testing.T) {
	svc := &stubService{
		summariesResp: []model.CouponSummary{},
	}
	h := newTestHandler(t, svc)

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/members/5/summaries", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestGetMemberSummaries_JSONResponse(t *testing.T) {
	svc := &stubService{
		summariesResp: []model.CouponSummary{
			{OperatorID: 9, Count: 120, ThresholdReached: true},
		},
	}
	h := newTestHandler(t, svc)

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/members/5/summaries", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []summaryResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].OperatorID != 9 || resp[0].Count != 120 || !resp[0].ThresholdReached {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestGetOperatorWinners_JSONResponse(t *testing.T) {
	svc := &stubService{
		winnersResp: []model.CouponWinner{
			{MemberID: 5, CouponID: 3},
		},
	}
	h := newTestHandler(t, svc)

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/operators/9/winners", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []winnerResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].MemberID != 5 || resp[0].CouponID != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTriggerPrepare_RequiresToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/cron/prepare", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestTriggerPrepare_AcceptedWithToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/cron/prepare", nil)
	req.Header.Set("Authorization", "Bearer test-secret")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusAccepted)
	}
}

func TestDeleteCoupon_NotFound(t *testing.T) {
	svc := &stubService{
		deleteErr: repository.ErrCouponNotFound,
	}
	h := newTestHandler(t, svc)

	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/coupons/77", nil)
	req.Header.Set("Authorization", "Bearer test-secret")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestMemberJoined_ReportsGranted(t *testing.T) {
	svc := &stubService{grantedResp: 7}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(joinEventRequest{OperatorID: 9, MemberID: 5})

	req := httptest.NewRequest(http.MethodPost, "/api/events/join", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.MemberJoined(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp grantedResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Granted != 7 {
		t.Fatalf("granted = %d, want 7", resp.Granted)
	}
}

func TestPaymentReceived_RejectsNonPositiveAmount(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentEventRequest{OperatorID: 9, MemberID: 5, Amount: 0})

	req := httptest.NewRequest(http.MethodPost, "/api/events/payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PaymentReceived(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
	if svc.paymentAmount != 0 {
		t.Fatalf("service must not be called on invalid amount")
	}
}

func TestPaymentReceived_PassesAmount(t *testing.T) {
	svc := &stubService{grantedResp: 2}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(paymentEventRequest{OperatorID: 9, MemberID: 5, Amount: 49.9, ObjectID: "pay-1"})

	req := httptest.NewRequest(http.MethodPost, "/api/events/payment", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.PaymentReceived(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.paymentAmount != 49.9 {
		t.Fatalf("amount = %v, want 49.9", svc.paymentAmount)
	}
}

func TestSaveCoupon_ReturnsAssignedID(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(couponRequest{
		OperatorID: 9,
		Name:       "Discount",
		Slug:       "discount",
		Type:       "Discount",
		HeapSize:   100,
		MonthQuota: 40,
		IsActive:   true,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SaveCoupon(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]int64
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != 101 {
		t.Fatalf("id = %d, want 101", resp["id"])
	}
	if svc.savedCoupon == nil || svc.savedCoupon.Status != model.CouponStatusPending {
		t.Fatalf("saved coupon = %+v, want pending moderation status", svc.savedCoupon)
	}
}

func TestSaveCoupon_RejectsZeroHeap(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(couponRequest{OperatorID: 9, Name: "Discount", Type: "Discount"})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SaveCoupon(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestRewardManual_OperatorNotFound(t *testing.T) {
	svc := &stubService{
		manualErr: repository.ErrOperatorNotFound,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(manualRewardRequest{
		OperatorID: 9,
		MemberID:   5,
		CouponID:   3,
		Count:      2,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/rewards/manual", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RewardManual(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}
