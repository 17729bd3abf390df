package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/holidayd/internal/ledger"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

type creditRequest struct {
	UserID      int64        `json:"user_id"`
	Kind        string       `json:"kind"`
	Amount      model.Tokens `json:"amount"`
	Type        model.TxType `json:"type"`
	Description string       `json:"description"`
	Reference   string       `json:"reference"`
}

// Credit зачисляет токены пользователю от имени администратора (refund, bonus, gift).
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "user_id is required")
		return
	}
	if req.Type == model.TxPurchase {
		badRequest(w, "purchases are credited through the wallet purchase endpoint")
		return
	}

	kind, err := model.ParseTokenKind(req.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ref, ok := parseReference(w, req.Reference)
	if !ok {
		return
	}

	tx, err := h.ledger.Credit(r.Context(), req.UserID, kind, req.Amount, req.Type, ledger.Metadata{
		Description: req.Description,
		Reference:   ref,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

type distributeRequest struct {
	UserIDs     []int64      `json:"user_ids"`
	Kind        string       `json:"kind"`
	Amount      model.Tokens `json:"amount"`
	Type        model.TxType `json:"type"`
	Description string       `json:"description"`
}

type distributeResponse struct {
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Results   []ledger.DistributeResult `json:"results"`
}

// Distribute начисляет токены группе пользователей; ошибки по отдельным пользователям
// возвращаются в результатах и не прерывают распределение.
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body")
		return
	}
	if len(req.UserIDs) == 0 {
		badRequest(w, "user_ids is required")
		return
	}

	kind, err := model.ParseTokenKind(req.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	results, err := h.ledger.Distribute(r.Context(), ledger.DistributeRequest{
		UserIDs:     req.UserIDs,
		Kind:        kind,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := distributeResponse{Results: results}
	for _, res := range results {
		if res.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Audit сверяет балансы пользователя с суммой его транзакций.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var kinds []model.TokenKind
	for _, raw := range r.URL.Query()["kind"] {
		kind, err := model.ParseTokenKind(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		kinds = append(kinds, kind)
	}

	entries, err := h.ledger.Audit(r.Context(), userID, kinds...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// RunSweep выполняет один запуск чистильщика для пары (тип сущности, режим).
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	mode, err := sweeper.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	res := h.sweeper.Run(r.Context(), kind, mode)
	writeJSON(w, sweepStatus(res), res)
}

// RunAllSweeps выполняет все запуски чистильщика по очереди.
func (h *Handler) RunAllSweeps(w http.ResponseWriter, r *http.Request) {
	results := h.sweeper.RunAll(r.Context())

	status := http.StatusOK
	for _, res := range results {
		if !res.Success {
			status = http.StatusInternalServerError
			break
		}
	}

	writeJSON(w, status, results)
}

func sweepStatus(res sweeper.Result) int {
	switch {
	case res.Skipped:
		return http.StatusConflict
	case !res.Success:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}
