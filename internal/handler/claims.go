package handler

import (
	"net/http"

	"github.com/mmeshcher/holidayd/internal/model"
)

// GetEarnings возвращает начисления текущего пользователя; ?status= фильтрует по статусу.
func (h *Handler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	status := model.EarningStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.EarningPending, model.EarningProcessed, model.EarningPaid:
	default:
		badRequest(w, "unknown earning status")
		return
	}

	earnings, err := h.settlement.Earnings(r.Context(), userID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(earnings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, earnings)
}

type claimRequest struct {
	EarningIDs []int64 `json:"earning_ids"`
}

// CreateClaim создаёт заявку на выплату начислений текущего пользователя.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}

	claim, err := h.settlement.CreateClaim(r.Context(), userID, req.EarningIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

// ApproveClaim одобряет заявку на выплату.
func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	claim, err := h.settlement.ApproveClaim(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

type rejectRequest struct {
	Note string `json:"note"`
}

// RejectClaim отклоняет заявку на выплату с необязательным комментарием.
func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req rejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "malformed request body")
			return
		}
	}

	claim, err := h.settlement.RejectClaim(r.Context(), id, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}
