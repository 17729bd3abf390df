package handler

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/holidayd/internal/ledger"
	"github.com/mmeshcher/holidayd/internal/model"
)

// GetBalance возвращает балансы текущего пользователя по всем видам токенов.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	balances, err := h.ledger.Balances(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balances)
}

// GetTransactions возвращает историю транзакций текущего пользователя, новые первыми.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	filter := model.TransactionFilter{UserID: userID}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := model.ParseTokenKind(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Kind = kind
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		badRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		badRequest(w, "invalid offset")
		return
	}

	txs, err := h.ledger.History(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, txs)
}

type quoteResponse struct {
	Kind   model.TokenKind `json:"kind"`
	Price  model.LKR       `json:"price_lkr"`
	Tokens model.Tokens    `json:"tokens"`
}

// Quote возвращает цену в токенах для суммы в рупиях.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseTokenKind(r.URL.Query().Get("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	price, err := model.ParseLKR(r.URL.Query().Get("lkr"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tokens, err := h.ledger.Quote(kind, price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{Kind: kind, Price: price, Tokens: tokens})
}

type spendRequest struct {
	Kind        string       `json:"kind"`
	Amount      model.Tokens `json:"amount"`
	Description string       `json:"description"`
	RelatedType string       `json:"related_type"`
	RelatedID   int64        `json:"related_id"`
	Reference   string       `json:"reference"`
}

// Spend списывает токены текущего пользователя.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req spendRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body")
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

	tx, err := h.ledger.Debit(r.Context(), userID, kind, req.Amount, ledger.Metadata{
		Description: req.Description,
		RelatedType: req.RelatedType,
		RelatedID:   req.RelatedID,
		Reference:   ref,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

type purchaseRequest struct {
	Kind          string    `json:"kind"`
	Amount        model.LKR `json:"amount_lkr"`
	PaymentMethod string    `json:"payment_method"`
	PaymentID     string    `json:"payment_id"`
	PaymentStatus string    `json:"payment_status"`
	PromoCode     string    `json:"promo_code"`
	Reference     string    `json:"reference"`
}

type purchaseResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Earning     *model.Earning     `json:"earning,omitempty"`
	PromoError  string             `json:"promo_error,omitempty"`
}

// Purchase зачисляет токены по подтверждённой оплате. Промокод начисляет комиссию его владельцу
// не более одного раза на покупку; ошибка промокода не отменяет зачисление и возвращается в поле promo_error.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body")
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
	if req.PaymentStatus == "" {
		badRequest(w, "payment_status is required")
		return
	}

	tx, err := h.ledger.Purchase(r.Context(), ledger.PurchaseRequest{
		UserID: userID,
		Kind:   kind,
		Amount: req.Amount,
		Payment: model.Payment{
			Method:     req.PaymentMethod,
			ExternalID: req.PaymentID,
			Status:     req.PaymentStatus,
		},
		Reference: ref,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := purchaseResponse{Transaction: tx}
	if req.PromoCode != "" {
		earning, err := h.settlement.RecordPromoEarning(r.Context(), req.PromoCode, tx)
		if err != nil {
			h.logger.Warn("promo earning not recorded",
				zap.Int64("user_id", userID),
				zap.String("promo_code", req.PromoCode),
				zap.Error(err),
			)
			resp.PromoError = err.Error()
		} else {
			resp.Earning = earning
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseReference(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	ref, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, "reference must be a UUID")
		return uuid.Nil, false
	}
	return ref, true
}
