package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"rentalcore/internal/models"
	"rentalcore/internal/service"

	"github.com/go-chi/chi/v5"
)

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return false
	}
	return true
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var draft service.BookingDraft
	if !decodeBody(w, r, &draft) {
		return
	}
	b, err := s.svc.Bookings.CreateBooking(r.Context(), draft, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleRecompute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Stages.Recompute(r.Context(), id, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var inspection models.ReturnInspection
	if !decodeBody(w, r, &inspection) {
		return
	}
	b, err := s.svc.Bookings.RecordInspection(r.Context(), id, inspection, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.svc.Bookings.CancelBooking(r.Context(), id, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.SettleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Settlements.Settle(r.Context(), id, req, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type refundQuoteResponse struct {
	*service.RefundQuote
	Resolved *float64 `json:"resolved_amount,omitempty"`
}

func (s *HTTPServer) handleRefundQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var requested float64
	if raw := strings.TrimSpace(r.URL.Query().Get("amount")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a number")
			return
		}
		requested = v
	}

	q, err := s.svc.Refunds.Quote(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := refundQuoteResponse{RefundQuote: q}
	if requested != 0 || q.Type == models.RefundFull {
		amount, err := q.Resolve(requested)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		resp.Resolved = &amount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.RefundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Refunds.Process(r.Context(), id, req, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRefundReject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := s.svc.Refunds.Reject(r.Context(), id, req.Reason, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleCoverage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		RequestedHours float64 `json:"requested_hours"`
		BaseAmount     float64 `json:"base_amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	coverage, err := s.svc.Reservations.Quote(r.Context(), id, req.RequestedHours, req.BaseAmount, s.now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, coverage)
}

func (s *HTTPServer) handleFailedHooks(w http.ResponseWriter, r *http.Request) {
	if s.svc.Hooks == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []models.HookTask{}})
		return
	}
	tasks, err := s.svc.Hooks.GetFailedHookTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.HookTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}
