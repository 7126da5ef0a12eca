// Package handler содержит HTTP-обработчики API движка вознаграждений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avolkov/rewarding-system/internal/middleware"
	"github.com/avolkov/rewarding-system/internal/model"
	"github.com/avolkov/rewarding-system/internal/repository"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	PrepareFreeRewards(ctx context.Context, now time.Time) error
	SendFreeRewards(ctx context.Context, now time.Time) error
	ResetMonthlyWinners(ctx context.Context) error

	GetCouponSummaries(ctx context.Context, memberID int64) ([]model.CouponSummary, error)
	GetPendingWinners(ctx context.Context, operatorID int64) ([]model.CouponWinner, error)

	RewardForJoin(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error)
	RewardForReferral(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error)
	RewardForPayment(ctx context.Context, operatorID, memberID int64, amount float64, objectID string, now time.Time) (int, error)

	UseCoupon(ctx context.Context, memberID, couponID int64, objectID string) error
	DonateCoupon(ctx context.Context, donorID, receiverID, couponID int64, count int, objectID string, now time.Time) error
	RewardManual(ctx context.Context, operatorID, memberID, couponID int64, count int, now time.Time) error
	SaveCoupon(ctx context.Context, c *model.Coupon) error
	DeleteCoupon(ctx context.Context, couponID int64) error
}

// Handler реализует HTTP-обработчики API движка вознаграждений.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// TriggerPrepare запускает дневное распределение бесплатных купонов.
func (h *Handler) TriggerPrepare(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PrepareFreeRewards(r.Context(), time.Now()); err != nil {
		h.logger.Error("prepare trigger error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// TriggerSend запускает рассылку уведомлений о накопленных вознаграждениях.
func (h *Handler) TriggerSend(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SendFreeRewards(r.Context(), time.Now()); err != nil {
		h.logger.Error("send trigger error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// TriggerResetMonth обнуляет месячные счётчики победителей купонов.
func (h *Handler) TriggerResetMonth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetMonthlyWinners(r.Context()); err != nil {
		h.logger.Error("reset month trigger error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type summaryResponse struct {
	OperatorID       int64 `json:"operator_id"`
	Count            int   `json:"count"`
	ThresholdReached bool  `json:"threshold_reached"`
}

// GetMemberSummaries возвращает агрегаты купонов участника по операторам.
func (h *Handler) GetMemberSummaries(w http.ResponseWriter, r *http.Request) {
	memberID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	summaries, err := h.service.GetCouponSummaries(r.Context(), memberID)
	if err != nil {
		h.logger.Error("get summaries error", zap.Error(err), zap.Int64("memberID", memberID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(summaries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, summaryResponse{
			OperatorID:       s.OperatorID,
			Count:            s.Count,
			ThresholdReached: s.ThresholdReached,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type winnerResponse struct {
	MemberID int64 `json:"member_id"`
	CouponID int64 `json:"coupon_id"`
}

// GetOperatorWinners возвращает участников, достигших порога по купонам
// оператора и ещё не получивших приз.
func (h *Handler) GetOperatorWinners(w http.ResponseWriter, r *http.Request) {
	operatorID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	winners, err := h.service.GetPendingWinners(r.Context(), operatorID)
	if err != nil {
		h.logger.Error("get winners error", zap.Error(err), zap.Int64("operatorID", operatorID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(winners) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]winnerResponse, 0, len(winners))
	for _, win := range winners {
		resp = append(resp, winnerResponse{MemberID: win.MemberID, CouponID: win.CouponID})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type joinEventRequest struct {
	OperatorID int64 `json:"operator_id"`
	MemberID   int64 `json:"member_id"`
}

type grantedResponse struct {
	Granted int `json:"granted"`
}

// MemberJoined начисляет стартовые наборы купонов новому участнику сообщества.
func (h *Handler) MemberJoined(w http.ResponseWriter, r *http.Request) {
	h.handleMembershipEvent(w, r, h.service.RewardForJoin)
}

// MemberReferred начисляет купоны участнику, пригласившему нового.
func (h *Handler) MemberReferred(w http.ResponseWriter, r *http.Request) {
	h.handleMembershipEvent(w, r, h.service.RewardForReferral)
}

func (h *Handler) handleMembershipEvent(w http.ResponseWriter, r *http.Request,
	reward func(ctx context.Context, operatorID, memberID int64, now time.Time) (int, error)) {

	var req joinEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OperatorID == 0 || req.MemberID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	total, err := reward(r.Context(), req.OperatorID, req.MemberID, time.Now())
	if err != nil {
		h.logger.Error("membership event error", zap.Error(err),
			zap.Int64("operatorID", req.OperatorID), zap.Int64("memberID", req.MemberID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(grantedResponse{Granted: total})
}

type paymentEventRequest struct {
	OperatorID int64   `json:"operator_id"`
	MemberID   int64   `json:"member_id"`
	Amount     float64 `json:"amount"`
	ObjectID   string  `json:"object_id"`
}

// PaymentReceived начисляет купоны за онлайн-платёж участника.
func (h *Handler) PaymentReceived(w http.ResponseWriter, r *http.Request) {
	var req paymentEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OperatorID == 0 || req.MemberID == 0 || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	total, err := h.service.RewardForPayment(r.Context(), req.OperatorID, req.MemberID, req.Amount, req.ObjectID, time.Now())
	if err != nil {
		h.logger.Error("payment event error", zap.Error(err),
			zap.Int64("operatorID", req.OperatorID), zap.Int64("memberID", req.MemberID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(grantedResponse{Granted: total})
}

type useRequest struct {
	MemberID int64  `json:"member_id"`
	CouponID int64  `json:"coupon_id"`
	ObjectID string `json:"object_id"`
}

// UseCoupon списывает полную кучу купонов участника в обмен на приз.
func (h *Handler) UseCoupon(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.MemberID == 0 || req.CouponID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UseCoupon(r.Context(), req.MemberID, req.CouponID, req.ObjectID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrCouponNotFound), errors.Is(err, repository.ErrBalanceNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("use coupon error", zap.Error(err),
				zap.Int64("memberID", req.MemberID), zap.Int64("couponID", req.CouponID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type donateRequest struct {
	DonorID    int64  `json:"donor_id"`
	ReceiverID int64  `json:"receiver_id"`
	CouponID   int64  `json:"coupon_id"`
	Count      int    `json:"count"`
	ObjectID   string `json:"object_id"`
}

// DonateCoupon передаёт купоны от одного участника другому.
func (h *Handler) DonateCoupon(w http.ResponseWriter, r *http.Request) {
	var req donateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.DonorID == 0 || req.ReceiverID == 0 || req.CouponID == 0 || req.Count <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.DonateCoupon(r.Context(), req.DonorID, req.ReceiverID, req.CouponID, req.Count, req.ObjectID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrMembersNotRelated):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrCouponNotFound), errors.Is(err, repository.ErrBalanceNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("donate coupon error", zap.Error(err),
				zap.Int64("donorID", req.DonorID), zap.Int64("receiverID", req.ReceiverID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type manualRewardRequest struct {
	OperatorID int64 `json:"operator_id"`
	MemberID   int64 `json:"member_id"`
	CouponID   int64 `json:"coupon_id"`
	Count      int   `json:"count"`
}

// RewardManual начисляет участнику купоны по решению оператора.
func (h *Handler) RewardManual(w http.ResponseWriter, r *http.Request) {
	var req manualRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OperatorID == 0 || req.MemberID == 0 || req.CouponID == 0 || req.Count <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.RewardManual(r.Context(), req.OperatorID, req.MemberID, req.CouponID, req.Count, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOperatorNotFound), errors.Is(err, repository.ErrCouponNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("manual reward error", zap.Error(err),
				zap.Int64("memberID", req.MemberID), zap.Int64("couponID", req.CouponID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type couponRequest struct {
	ID          int64  `json:"id,omitempty"`
	OperatorID  int64  `json:"operator_id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	HeapSize    int    `json:"heap_size"`
	MonthQuota  int    `json:"month_quota"`
	IsActive    bool   `json:"is_active"`
}

// SaveCoupon создаёт или обновляет купон оператора.
func (h *Handler) SaveCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OperatorID == 0 || req.Name == "" || req.HeapSize <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	coupon := &model.Coupon{
		ID:          req.ID,
		OperatorID:  req.OperatorID,
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Type:        model.CouponType(req.Type),
		Status:      model.CouponStatusPending,
		HeapSize:    req.HeapSize,
		MonthQuota:  req.MonthQuota,
		IsActive:    req.IsActive,
	}

	if err := h.service.SaveCoupon(r.Context(), coupon); err != nil {
		switch {
		case errors.Is(err, repository.ErrOperatorNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("save coupon error", zap.Error(err), zap.Int64("operatorID", req.OperatorID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{"id": coupon.ID})
}

// DeleteCoupon помечает купон удалённым и запускает фоновую очистку.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), couponID); err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete coupon error", zap.Error(err), zap.Int64("couponID", couponID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
