package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avolkov/rewarding-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка вознаграждений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/members/{id}/summaries", h.GetMemberSummaries)
		r.Get("/operators/{id}/winners", h.GetOperatorWinners)

		r.Post("/coupons/use", h.UseCoupon)
		r.Post("/coupons/donate", h.DonateCoupon)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/cron/prepare", h.TriggerPrepare)
			r.Post("/cron/send", h.TriggerSend)
			r.Post("/cron/reset-month", h.TriggerResetMonth)

			r.Post("/events/join", h.MemberJoined)
			r.Post("/events/referral", h.MemberReferred)
			r.Post("/events/payment", h.PaymentReceived)

			r.Post("/rewards/manual", h.RewardManual)
			r.Post("/coupons", h.SaveCoupon)
			r.Delete("/coupons/{id}", h.DeleteCoupon)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
