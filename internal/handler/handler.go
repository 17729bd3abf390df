// Package handler содержит HTTP-обработчики API сервиса holidayd.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/holidayd/internal/ledger"
	"github.com/mmeshcher/holidayd/internal/middleware"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

// Ledger определяет операции с балансами, используемые обработчиками.
type Ledger interface {
	Balances(ctx context.Context, userID int64) (*model.Balances, error)
	History(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	Quote(kind model.TokenKind, price model.LKR) (model.Tokens, error)
	Credit(ctx context.Context, userID int64, kind model.TokenKind, amount model.Tokens, txType model.TxType, meta ledger.Metadata) (*model.Transaction, error)
	Debit(ctx context.Context, userID int64, kind model.TokenKind, amount model.Tokens, meta ledger.Metadata) (*model.Transaction, error)
	Purchase(ctx context.Context, req ledger.PurchaseRequest) (*model.Transaction, error)
	Distribute(ctx context.Context, req ledger.DistributeRequest) ([]ledger.DistributeResult, error)
	Audit(ctx context.Context, userID int64, kinds ...model.TokenKind) ([]ledger.AuditEntry, error)
}

// Settlement определяет операции с начислениями и заявками на выплату.
type Settlement interface {
	RecordPromoEarning(ctx context.Context, code string, purchase *model.Transaction) (*model.Earning, error)
	Earnings(ctx context.Context, userID int64, status model.EarningStatus) ([]model.Earning, error)
	CreateClaim(ctx context.Context, userID int64, earningIDs []int64) (*model.ClaimRequest, error)
	ApproveClaim(ctx context.Context, id int64) (*model.ClaimRequest, error)
	RejectClaim(ctx context.Context, id int64, note string) (*model.ClaimRequest, error)
}

// Sweeper запускает переходы истечения по требованию администратора.
type Sweeper interface {
	Run(ctx context.Context, kind model.EntityKind, mode sweeper.Mode) sweeper.Result
	RunAll(ctx context.Context) []sweeper.Result
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services объединяет зависимости обработчиков.
type Services struct {
	Ledger     Ledger
	Settlement Settlement
	Sweeper    Sweeper
	Store      Pinger
}

// Handler реализует HTTP-обработчики API сервиса holidayd.
type Handler struct {
	ledger         Ledger
	settlement     Settlement
	sweeper        Sweeper
	store          Pinger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Services, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger:         s.Ledger,
		settlement:     s.Settlement,
		sweeper:        s.Sweeper,
		store:          s.Store,
		logger:         logger,
		authMiddleware: auth,
	}
}

// Health сообщает о доступности хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type errorResponse struct {
	Error     string        `json:"error"`
	Kind      string        `json:"kind,omitempty"`
	Required  *model.Tokens `json:"required,omitempty"`
	Available *model.Tokens `json:"available,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidTokenKind),
		errors.Is(err, model.ErrInvalidTxType),
		errors.Is(err, model.ErrInvalidID),
		errors.Is(err, model.ErrEmptyClaim),
		errors.Is(err, model.ErrPaymentNotCompleted),
		errors.Is(err, model.ErrPromoCodeInactive),
		errors.Is(err, model.ErrSelfReferral):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrEarningOwnerMismatch):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrEarningNotClaimable),
		errors.Is(err, model.ErrClaimNotPending),
		errors.Is(err, model.ErrReferenceConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отвечает JSON с описанием ошибки. Внутренние ошибки не раскрываются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var insufficient *model.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		resp.Kind = string(insufficient.Kind)
		resp.Required = &insufficient.Required
		resp.Available = &insufficient.Available
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp = errorResponse{Error: http.StatusText(status)}
	}

	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
