package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/mmeshcher/holidayd/internal/model"
)

// AddPromoCode добавляет промокод и возвращает его идентификатор.
func (s *Store) AddPromoCode(p model.PromoCode) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.id()
	}
	s.promoCodes[p.Code] = &p
	s.expirables[model.KindPromoCode][p.ID] = &model.Expirable{
		Kind:      model.KindPromoCode,
		ID:        p.ID,
		Owner:     model.Recipient{UserID: p.UserID},
		Label:     p.Code,
		Status:    p.Status,
		ExpiresAt: p.ExpiresAt,
	}
	return p.ID
}

// GetPromoCode возвращает промокод с актуальным статусом.
func (s *Store) GetPromoCode(_ context.Context, code string) (*model.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.promoCodes[code]
	if !ok {
		return nil, model.ErrPromoCodeNotFound
	}
	res := *p
	if e, ok := s.expirables[model.KindPromoCode][p.ID]; ok {
		res.Status = e.Status
		res.ExpiresAt = e.ExpiresAt
	}
	return &res, nil
}

// CreateEarning сохраняет начисление. Если начисление за ту же покупку уже есть,
// e заполняется сохранённым значением и возвращается false.
func (s *Store) CreateEarning(_ context.Context, e *model.Earning) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.earningByPurchase(e.PurchaseTxID); prev != nil {
		*e = copyEarning(prev)
		return false, nil
	}
	if _, ok := s.users[e.UserID]; !ok {
		return false, model.ErrUserNotFound
	}
	e.ID = s.id()
	cp := *e
	s.earnings[e.ID] = &cp
	return true, nil
}

// EarningByPurchase возвращает начисление, созданное за покупку purchaseTxID.
func (s *Store) EarningByPurchase(_ context.Context, purchaseTxID int64) (*model.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.earningByPurchase(purchaseTxID)
	if e == nil {
		return nil, model.ErrEarningNotFound
	}
	res := copyEarning(e)
	return &res, nil
}

func (s *Store) earningByPurchase(purchaseTxID int64) *model.Earning {
	if purchaseTxID == 0 {
		return nil
	}
	for _, e := range s.earnings {
		if e.PurchaseTxID == purchaseTxID {
			return e
		}
	}
	return nil
}

// Earning возвращает копию начисления.
func (s *Store) Earning(id int64) (model.Earning, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.earnings[id]
	if !ok {
		return model.Earning{}, false
	}
	return copyEarning(e), true
}

func copyEarning(e *model.Earning) model.Earning {
	res := *e
	if e.ClaimID != nil {
		id := *e.ClaimID
		res.ClaimID = &id
	}
	if e.PaidAt != nil {
		at := *e.PaidAt
		res.PaidAt = &at
	}
	return res
}

// ListEarnings возвращает начисления пользователя, новые первыми.
func (s *Store) ListEarnings(_ context.Context, userID int64, status model.EarningStatus) ([]model.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Earning
	for _, e := range s.earnings {
		if e.UserID == userID && (status == "" || e.Status == status) {
			res = append(res, copyEarning(e))
		}
	}
	slices.SortFunc(res, func(a, b model.Earning) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return res, nil
}

// CreateClaim объединяет начисления в заявку; все проверки и запись выполняются атомарно.
func (s *Store) CreateClaim(_ context.Context, userID int64, earningIDs []int64, now time.Time) (*model.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total model.LKR
	for _, id := range earningIDs {
		e, ok := s.earnings[id]
		if !ok {
			return nil, model.ErrEarningNotFound
		}
		if e.UserID != userID {
			return nil, model.ErrEarningOwnerMismatch
		}
		if !e.Claimable() {
			return nil, fmt.Errorf("%w: earning %d", model.ErrEarningNotClaimable, id)
		}
		total += e.Amount
	}

	c := &model.ClaimRequest{
		ID:         s.id(),
		UserID:     userID,
		EarningIDs: slices.Clone(earningIDs),
		Total:      total,
		Status:     model.ClaimPending,
		CreatedAt:  now,
	}
	s.claims[c.ID] = c

	for _, id := range earningIDs {
		claimID := c.ID
		s.earnings[id].ClaimID = &claimID
	}

	res := copyClaim(c)
	return &res, nil
}

func copyClaim(c *model.ClaimRequest) model.ClaimRequest {
	res := *c
	res.EarningIDs = slices.Clone(c.EarningIDs)
	if c.ProcessedAt != nil {
		at := *c.ProcessedAt
		res.ProcessedAt = &at
	}
	return res
}

// GetClaim возвращает заявку.
func (s *Store) GetClaim(_ context.Context, id int64) (*model.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, model.ErrClaimNotFound
	}
	res := copyClaim(c)
	return &res, nil
}

func (s *Store) pendingClaim(id int64) (*model.ClaimRequest, error) {
	c, ok := s.claims[id]
	if !ok {
		return nil, model.ErrClaimNotFound
	}
	if c.Status != model.ClaimPending {
		return nil, fmt.Errorf("%w: claim %d is %s", model.ErrClaimNotPending, id, c.Status)
	}
	return c, nil
}

// ApproveClaim одобряет заявку и переводит её начисления в paid.
func (s *Store) ApproveClaim(_ context.Context, id int64, now time.Time) (*model.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.pendingClaim(id)
	if err != nil {
		return nil, err
	}

	for _, eid := range c.EarningIDs {
		e := s.earnings[eid]
		if e.Status.CanAdvance(model.EarningPaid) {
			e.Status = model.EarningPaid
			paidAt := now
			e.PaidAt = &paidAt
		}
	}

	c.Status = model.ClaimApproved
	processedAt := now
	c.ProcessedAt = &processedAt

	res := copyClaim(c)
	return &res, nil
}

// RejectClaim отклоняет заявку и освобождает её начисления.
func (s *Store) RejectClaim(_ context.Context, id int64, note string, now time.Time) (*model.ClaimRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.pendingClaim(id)
	if err != nil {
		return nil, err
	}

	for _, eid := range c.EarningIDs {
		if e := s.earnings[eid]; e.Status == model.EarningPending {
			e.ClaimID = nil
		}
	}

	c.Status = model.ClaimRejected
	c.Note = note
	processedAt := now
	c.ProcessedAt = &processedAt

	res := copyClaim(c)
	return &res, nil
}

// MarkClaimNotified устанавливает флаг отправки письма, если он ещё не установлен.
func (s *Store) MarkClaimNotified(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if !ok {
		return false, model.ErrClaimNotFound
	}
	if c.NotificationEmailSent {
		return false, nil
	}
	c.NotificationEmailSent = true
	return true, nil
}
