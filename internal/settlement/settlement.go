// Package settlement ведёт начисления агентам и заявки на их выплату.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/holidayd/internal/metrics"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/validation"
)

// Store описывает хранилище начислений и заявок.
type Store interface {
	GetPromoCode(ctx context.Context, code string) (*model.PromoCode, error)
	CreateEarning(ctx context.Context, e *model.Earning) (bool, error)
	EarningByPurchase(ctx context.Context, purchaseTxID int64) (*model.Earning, error)
	ListEarnings(ctx context.Context, userID int64, status model.EarningStatus) ([]model.Earning, error)
	CreateClaim(ctx context.Context, userID int64, earningIDs []int64, now time.Time) (*model.ClaimRequest, error)
	GetClaim(ctx context.Context, id int64) (*model.ClaimRequest, error)
	ApproveClaim(ctx context.Context, id int64, now time.Time) (*model.ClaimRequest, error)
	RejectClaim(ctx context.Context, id int64, note string, now time.Time) (*model.ClaimRequest, error)
	MarkClaimNotified(ctx context.Context, id int64) (bool, error)
	GetRecipient(ctx context.Context, userID int64) (*model.Recipient, error)
}

// Notifier сообщает агенту о решении по заявке.
type Notifier interface {
	ClaimApproved(ctx context.Context, to model.Recipient, c *model.ClaimRequest) error
	ClaimRejected(ctx context.Context, to model.Recipient, c *model.ClaimRequest) error
}

// Service управляет начислениями и заявками на выплату.
type Service struct {
	store      Store
	notifier   Notifier
	commission decimal.Decimal
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewService создаёт сервис. commission задаёт процент агента от суммы покупки по промокоду.
func NewService(store Store, notifier Notifier, commission decimal.Decimal, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		notifier:   notifier,
		commission: commission,
		clock:      clock,
		logger:     logger,
	}
}

// EarningInput описывает новое начисление.
type EarningInput struct {
	UserID      int64
	Amount      model.LKR
	Source      string
	PromoCodeID int64
	BuyerID     int64

	// PurchaseTxID связывает начисление с покупкой; на одну покупку приходится не более одного начисления.
	PurchaseTxID int64
}

// RecordEarning создаёт начисление в статусе pending.
func (s *Service) RecordEarning(ctx context.Context, in EarningInput) (*model.Earning, error) {
	if err := validation.PositiveLKR(in.Amount); err != nil {
		return nil, err
	}

	e := &model.Earning{
		UserID:       in.UserID,
		PromoCodeID:  in.PromoCodeID,
		BuyerID:      in.BuyerID,
		PurchaseTxID: in.PurchaseTxID,
		Source:       in.Source,
		Amount:       in.Amount,
		Status:       model.EarningPending,
		CreatedAt:    s.clock.Now(),
	}
	created, err := s.store.CreateEarning(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create earning: %w", err)
	}
	if !created {
		s.logger.Info("earning replayed",
			zap.Int64("earning_id", e.ID),
			zap.Int64("purchase_tx_id", e.PurchaseTxID),
		)
		return e, nil
	}

	s.logger.Info("earning recorded",
		zap.Int64("earning_id", e.ID),
		zap.Int64("user_id", e.UserID),
		zap.Stringer("amount_lkr", e.Amount),
	)
	return e, nil
}

// RecordPromoEarning начисляет комиссию владельцу промокода за покупку purchase.
// Повтор для той же покупки возвращает уже созданное начисление.
func (s *Service) RecordPromoEarning(ctx context.Context, code string, purchase *model.Transaction) (*model.Earning, error) {
	if purchase == nil || purchase.ID <= 0 || purchase.Payment == nil {
		return nil, fmt.Errorf("%w: promo earning requires a recorded purchase", model.ErrInvalidAmount)
	}

	existing, err := s.store.EarningByPurchase(ctx, purchase.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, model.ErrEarningNotFound):
		return nil, fmt.Errorf("find purchase earning: %w", err)
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if !validation.IsValidPromoCode(code) {
		return nil, fmt.Errorf("%w: malformed code %q", model.ErrPromoCodeNotFound, code)
	}

	promo, err := s.store.GetPromoCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !promo.Usable(s.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", model.ErrPromoCodeInactive, code)
	}
	buyerID := purchase.UserID
	if promo.UserID == buyerID {
		return nil, model.ErrSelfReferral
	}

	paid := purchase.Payment.Amount
	amount := paid.Percent(s.commission)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: commission on LKR %s rounds to zero", model.ErrInvalidAmount, paid)
	}

	return s.RecordEarning(ctx, EarningInput{
		UserID:       promo.UserID,
		Amount:       amount,
		Source:       "promo:" + promo.Code,
		PromoCodeID:  promo.ID,
		BuyerID:      buyerID,
		PurchaseTxID: purchase.ID,
	})
}

// Earnings возвращает начисления пользователя; пустой status означает все.
func (s *Service) Earnings(ctx context.Context, userID int64, status model.EarningStatus) ([]model.Earning, error) {
	return s.store.ListEarnings(ctx, userID, status)
}

// CreateClaim объединяет начисления пользователя в заявку на выплату.
// Все начисления должны принадлежать пользователю, быть в статусе pending и не входить в другую заявку.
func (s *Service) CreateClaim(ctx context.Context, userID int64, earningIDs []int64) (*model.ClaimRequest, error) {
	if len(earningIDs) == 0 {
		return nil, model.ErrEmptyClaim
	}
	ids, err := validation.UniqueIDs(earningIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEarningNotFound, err)
	}

	c, err := s.store.CreateClaim(ctx, userID, ids, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("claim created",
		zap.Int64("claim_id", c.ID),
		zap.Int64("user_id", userID),
		zap.Int("earnings", len(c.EarningIDs)),
		zap.Stringer("total_lkr", c.Total),
	)
	return c, nil
}

// Claim возвращает заявку.
func (s *Service) Claim(ctx context.Context, id int64) (*model.ClaimRequest, error) {
	return s.store.GetClaim(ctx, id)
}

// ApproveClaim одобряет заявку: начисления переходят в paid, сама заявка в approved.
// Письмо агенту отправляется не более одного раза; ошибка отправки не отменяет одобрение.
func (s *Service) ApproveClaim(ctx context.Context, id int64) (*model.ClaimRequest, error) {
	c, err := s.store.ApproveClaim(ctx, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	metrics.ClaimsProcessed.WithLabelValues(string(c.Status)).Inc()
	s.logger.Info("claim approved", zap.Int64("claim_id", c.ID), zap.Stringer("total_lkr", c.Total))

	s.notify(ctx, c)
	return c, nil
}

// RejectClaim отклоняет заявку; её начисления снова доступны для новых заявок.
func (s *Service) RejectClaim(ctx context.Context, id int64, note string) (*model.ClaimRequest, error) {
	c, err := s.store.RejectClaim(ctx, id, strings.TrimSpace(note), s.clock.Now())
	if err != nil {
		return nil, err
	}
	metrics.ClaimsProcessed.WithLabelValues(string(c.Status)).Inc()
	s.logger.Info("claim rejected", zap.Int64("claim_id", c.ID), zap.String("note", c.Note))

	s.notify(ctx, c)
	return c, nil
}

func (s *Service) notify(ctx context.Context, c *model.ClaimRequest) {
	if s.notifier == nil {
		return
	}

	log := s.logger.With(zap.Int64("claim_id", c.ID))

	won, err := s.store.MarkClaimNotified(ctx, c.ID)
	if err != nil {
		log.Error("mark claim notified", zap.Error(err))
		return
	}
	if !won {
		return
	}
	c.NotificationEmailSent = true

	to, err := s.store.GetRecipient(ctx, c.UserID)
	if err != nil {
		log.Error("load claim recipient", zap.Error(err))
		return
	}

	send := s.notifier.ClaimApproved
	if c.Status == model.ClaimRejected {
		send = s.notifier.ClaimRejected
	}
	if err := send(ctx, *to, c); err != nil {
		log.Warn("claim notification failed", zap.Error(err))
	}
}
