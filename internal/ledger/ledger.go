// Package ledger реализует учёт токенов HSC, HSG и HSD.
//
// Каждое изменение баланса сопровождается ровно одной неизменяемой транзакцией,
// в которой зафиксированы баланс до и после операции. Атомарность изменения
// обеспечивает хранилище (Store.ApplyBalanceChange).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/holidayd/internal/metrics"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/validation"
)

const distributeConcurrency = 8

// Store описывает хранилище балансов и журнала транзакций.
type Store interface {
	ApplyBalanceChange(ctx context.Context, change model.BalanceChange) (*model.Transaction, error)
	GetBalances(ctx context.Context, userID int64) (*model.Balances, error)
	ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error)
	SumTransactions(ctx context.Context, userID int64, kind model.TokenKind) (model.Tokens, error)
}

// Rates задаёт курс: сколько LKR стоит один токен каждого вида.
type Rates map[model.TokenKind]decimal.Decimal

// Metadata содержит необязательные сведения об операции.
type Metadata struct {
	Description string
	RelatedType string
	RelatedID   int64
	// Reference — ключ идемпотентности; нулевое значение генерируется автоматически.
	Reference uuid.UUID
	Payment   *model.Payment
}

// Service ведёт балансы пользователей.
type Service struct {
	store  Store
	rates  Rates
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewService создаёт сервис учёта токенов.
func NewService(store Store, rates Rates, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		rates:  rates,
		clock:  clock,
		logger: logger,
	}
}

// Credit зачисляет amount токенов вида kind. Тип операции должен увеличивать баланс.
func (s *Service) Credit(ctx context.Context, userID int64, kind model.TokenKind, amount model.Tokens, txType model.TxType, meta Metadata) (*model.Transaction, error) {
	if !txType.Valid() || !txType.IsCredit() {
		return nil, fmt.Errorf("%w: %q cannot credit", model.ErrInvalidTxType, txType)
	}
	return s.apply(ctx, userID, kind, amount, txType, meta)
}

// Debit списывает amount токенов вида kind. Баланс не может стать отрицательным.
func (s *Service) Debit(ctx context.Context, userID int64, kind model.TokenKind, amount model.Tokens, meta Metadata) (*model.Transaction, error) {
	return s.apply(ctx, userID, kind, amount, model.TxSpend, meta)
}

func (s *Service) apply(ctx context.Context, userID int64, kind model.TokenKind, amount model.Tokens, txType model.TxType, meta Metadata) (*model.Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, kind)
	}
	if err := validation.PositiveTokens(amount); err != nil {
		metrics.LedgerRejections.WithLabelValues(string(kind), "invalid_amount").Inc()
		return nil, err
	}

	ref := meta.Reference
	if ref == uuid.Nil {
		ref = uuid.New()
	}

	change := model.BalanceChange{
		UserID:      userID,
		Kind:        kind,
		Type:        txType,
		Amount:      amount,
		Description: meta.Description,
		Reference:   ref,
		RelatedType: meta.RelatedType,
		RelatedID:   meta.RelatedID,
		Payment:     meta.Payment,
		At:          s.clock.Now(),
	}

	tx, err := s.store.ApplyBalanceChange(ctx, change)
	if err != nil {
		s.reject(change, err)
		return nil, err
	}

	metrics.LedgerTransactions.WithLabelValues(string(kind), string(txType)).Inc()
	s.logger.Debug("balance changed",
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("type", string(txType)),
		zap.Stringer("amount", amount),
		zap.Stringer("balance_after", tx.BalanceAfter),
		zap.Int64("tx_id", tx.ID),
	)
	return tx, nil
}

func (s *Service) reject(change model.BalanceChange, err error) {
	fields := []zap.Field{
		zap.Int64("user_id", change.UserID),
		zap.String("kind", string(change.Kind)),
		zap.String("type", string(change.Type)),
		zap.Stringer("amount", change.Amount),
		zap.Error(err),
	}

	var reason string
	switch {
	case errors.Is(err, model.ErrInsufficientBalance):
		reason = "insufficient_balance"
	case errors.Is(err, model.ErrReferenceConflict):
		reason = "reference_conflict"
	case errors.Is(err, model.ErrNotFound):
		reason = "not_found"
	default:
		reason = "store_error"
		s.logger.Error("balance change failed", fields...)
	}
	if reason != "store_error" {
		s.logger.Debug("balance change rejected", fields...)
	}
	metrics.LedgerRejections.WithLabelValues(string(change.Kind), reason).Inc()
}

func (s *Service) rate(kind model.TokenKind) (decimal.Decimal, error) {
	if !kind.Valid() {
		return decimal.Zero, fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, kind)
	}
	r, ok := s.rates[kind]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no rate configured for %s", model.ErrInvalidTokenKind, kind)
	}
	return r, nil
}

// PurchaseRequest описывает покупку токенов за рупии.
type PurchaseRequest struct {
	UserID    int64
	Kind      model.TokenKind
	Amount    model.LKR
	Payment   model.Payment
	Reference uuid.UUID
}

// Purchase зачисляет токены, оплаченные внешним платежом. Сумма переводится по курсу с округлением вниз.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*model.Transaction, error) {
	if req.Payment.Status != model.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: status %q", model.ErrPaymentNotCompleted, req.Payment.Status)
	}
	if err := validation.PositiveLKR(req.Amount); err != nil {
		return nil, err
	}

	rate, err := s.rate(req.Kind)
	if err != nil {
		return nil, err
	}

	tokens := req.Amount.TokensForPayment(rate)
	if tokens <= 0 {
		return nil, fmt.Errorf("%w: LKR %s buys less than 0.01 %s", model.ErrInvalidAmount, req.Amount, req.Kind)
	}

	payment := req.Payment
	payment.Amount = req.Amount

	return s.Credit(ctx, req.UserID, req.Kind, tokens, model.TxPurchase, Metadata{
		Description: fmt.Sprintf("Purchased %s %s for LKR %s", tokens, req.Kind, req.Amount),
		Reference:   req.Reference,
		Payment:     &payment,
	})
}

// Quote возвращает цену в токенах для суммы в рупиях, с округлением вверх.
func (s *Service) Quote(kind model.TokenKind, price model.LKR) (model.Tokens, error) {
	if err := validation.PositiveLKR(price); err != nil {
		return 0, err
	}
	rate, err := s.rate(kind)
	if err != nil {
		return 0, err
	}
	return price.TokensForPrice(rate), nil
}

// DistributeRequest описывает массовое начисление токенов администратором.
type DistributeRequest struct {
	UserIDs     []int64
	Kind        model.TokenKind
	Amount      model.Tokens
	Type        model.TxType
	Description string
}

// DistributeResult содержит результат начисления одному пользователю.
type DistributeResult struct {
	UserID      int64              `json:"user_id"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Err         error              `json:"-"`
	Error       string             `json:"error,omitempty"`
}

// Distribute начисляет токены каждому пользователю независимо: ошибка для одного не останавливает остальных.
func (s *Service) Distribute(ctx context.Context, req DistributeRequest) ([]DistributeResult, error) {
	if req.Type != model.TxBonus && req.Type != model.TxGift {
		return nil, fmt.Errorf("%w: distribution must be bonus or gift", model.ErrInvalidTxType)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, req.Kind)
	}
	if err := validation.PositiveTokens(req.Amount); err != nil {
		return nil, err
	}

	ids, err := validation.UniqueIDs(req.UserIDs)
	if err != nil {
		return nil, err
	}

	results := make([]DistributeResult, len(ids))

	var g errgroup.Group
	g.SetLimit(distributeConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			tx, err := s.Credit(ctx, id, req.Kind, req.Amount, req.Type, Metadata{Description: req.Description})
			results[i] = DistributeResult{UserID: id, Transaction: tx, Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Balances возвращает все балансы пользователя.
func (s *Service) Balances(ctx context.Context, userID int64) (*model.Balances, error) {
	return s.store.GetBalances(ctx, userID)
}

// History возвращает историю транзакций; пустой Kind означает все виды токенов.
func (s *Service) History(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, filter.Kind)
	}
	filter.Limit, filter.Offset = validation.Page(filter.Limit, filter.Offset)
	return s.store.ListTransactions(ctx, filter)
}

// AuditEntry сравнивает сохранённый баланс с суммой транзакций.
type AuditEntry struct {
	Kind       model.TokenKind `json:"kind"`
	Balance    model.Tokens    `json:"balance"`
	LedgerSum  model.Tokens    `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}

// Audit проверяет, что баланс каждого вида токена равен сумме его транзакций со знаком.
// Без аргументов kinds проверяются все виды.
func (s *Service) Audit(ctx context.Context, userID int64, kinds ...model.TokenKind) ([]AuditEntry, error) {
	if len(kinds) == 0 {
		kinds = model.TokenKinds
	}

	balances, err := s.store.GetBalances(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := make([]AuditEntry, 0, len(kinds))
	for _, kind := range kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, kind)
		}
		sum, err := s.store.SumTransactions(ctx, userID, kind)
		if err != nil {
			return nil, err
		}
		entry := AuditEntry{
			Kind:       kind,
			Balance:    balances.Of(kind),
			LedgerSum:  sum,
			Consistent: balances.Of(kind) == sum,
		}
		if !entry.Consistent {
			s.logger.Warn("ledger mismatch",
				zap.Int64("user_id", userID),
				zap.String("kind", string(kind)),
				zap.Stringer("balance", entry.Balance),
				zap.Stringer("ledger_sum", entry.LedgerSum),
			)
		}
		res = append(res, entry)
	}
	return res, nil
}
