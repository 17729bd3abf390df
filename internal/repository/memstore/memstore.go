// Package memstore содержит хранилище в памяти процесса.
// Все операции выполняются под одним мьютексом, что даёт линеаризуемое поведение,
// эквивалентное блокировке строки пользователя в PostgreSQL.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/holidayd/internal/model"
)

// Store хранит данные в памяти и реализует интерфейсы хранилищ всех сервисов.
type Store struct {
	mu sync.Mutex

	users        map[int64]*model.User
	transactions []model.Transaction
	references   map[uuid.UUID]int

	expirables map[model.EntityKind]map[int64]*model.Expirable
	promoCodes map[string]*model.PromoCode

	earnings map[int64]*model.Earning
	claims   map[int64]*model.ClaimRequest

	notifications []model.Notification

	nextID int64
}

// New создаёт пустое хранилище.
func New() *Store {
	s := &Store{
		users:      make(map[int64]*model.User),
		references: make(map[uuid.UUID]int),
		expirables: make(map[model.EntityKind]map[int64]*model.Expirable),
		promoCodes: make(map[string]*model.PromoCode),
		earnings:   make(map[int64]*model.Earning),
		claims:     make(map[int64]*model.ClaimRequest),
	}
	for _, kind := range model.EntityKinds {
		s.expirables[kind] = make(map[int64]*model.Expirable)
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close ничего не делает.
func (s *Store) Close() error {
	return nil
}

// AddUser добавляет пользователя и возвращает его идентификатор.
func (s *Store) AddUser(u model.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == 0 {
		u.ID = s.id()
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	s.users[u.ID] = &u
	return u.ID
}

// User возвращает копию пользователя.
func (s *Store) User(id int64) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// GetRecipient возвращает контактные данные пользователя.
func (s *Store) GetRecipient(_ context.Context, userID int64) (*model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &model.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name}, nil
}

// CreateNotification сохраняет уведомление.
func (s *Store) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[n.UserID]; !ok {
		return model.ErrUserNotFound
	}
	n.ID = s.id()
	s.notifications = append(s.notifications, *n)
	return nil
}

// Notifications возвращает уведомления пользователя в порядке создания.
func (s *Store) Notifications(userID int64) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			res = append(res, n)
		}
	}
	return res
}

// ApplyBalanceChange изменяет баланс и дописывает транзакцию в журнал атомарно.
func (s *Store) ApplyBalanceChange(_ context.Context, change model.BalanceChange) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !change.Kind.Valid() {
		return nil, model.ErrInvalidTokenKind
	}

	u, ok := s.users[change.UserID]
	if !ok {
		return nil, model.ErrUserNotFound
	}

	if i, ok := s.references[change.Reference]; ok {
		existing := s.transactions[i]
		if !change.Matches(&existing) {
			return nil, model.ErrReferenceConflict
		}
		return &existing, nil
	}

	before := u.Balances.Of(change.Kind)
	after, err := before.AddChecked(change.Delta())
	if err != nil {
		return nil, err
	}
	if after < 0 {
		return nil, &model.InsufficientBalanceError{
			Kind:      change.Kind,
			Required:  change.Amount,
			Available: before,
		}
	}

	u.Balances.Set(change.Kind, after)

	t := model.Transaction{
		ID:            s.id(),
		Reference:     change.Reference,
		UserID:        change.UserID,
		Kind:          change.Kind,
		Type:          change.Type,
		Amount:        change.Amount,
		Description:   change.Description,
		BalanceBefore: before,
		BalanceAfter:  after,
		RelatedType:   change.RelatedType,
		RelatedID:     change.RelatedID,
		CreatedAt:     change.At,
	}
	if change.Payment != nil {
		p := *change.Payment
		t.Payment = &p
	}

	s.transactions = append(s.transactions, t)
	s.references[t.Reference] = len(s.transactions) - 1

	return &t, nil
}

// GetBalances возвращает балансы пользователя.
func (s *Store) GetBalances(_ context.Context, userID int64) (*model.Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	b := u.Balances
	return &b, nil
}

// ListTransactions возвращает историю пользователя, новые первыми.
func (s *Store) ListTransactions(_ context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Transaction
	skipped := 0
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != filter.UserID || (filter.Kind != "" && t.Kind != filter.Kind) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if filter.Limit > 0 && len(res) >= filter.Limit {
			break
		}
		res = append(res, t)
	}
	return res, nil
}

// SumTransactions возвращает сумму транзакций со знаком по виду токена.
func (s *Store) SumTransactions(_ context.Context, userID int64, kind model.TokenKind) (model.Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum model.Tokens
	for _, t := range s.transactions {
		if t.UserID == userID && t.Kind == kind {
			sum += t.Signed()
		}
	}
	return sum, nil
}

// AddExpirable добавляет истекающую сущность и возвращает её идентификатор.
// Контакты владельца подставляются из пользователя при выборке.
func (s *Store) AddExpirable(e model.Expirable) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		e.ID = s.id()
	}
	s.expirables[e.Kind][e.ID] = &e
	return e.ID
}

// Expirable возвращает копию истекающей сущности.
func (s *Store) Expirable(kind model.EntityKind, id int64) (model.Expirable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expirables[kind][id]
	if !ok {
		return model.Expirable{}, false
	}
	return s.withOwner(*e), true
}

func (s *Store) withOwner(e model.Expirable) model.Expirable {
	if u, ok := s.users[e.Owner.UserID]; ok {
		e.Owner = model.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name}
	}
	return e
}

func (s *Store) selectExpirables(kind model.EntityKind, limit int, match func(e *model.Expirable) bool) ([]model.Expirable, error) {
	table, ok := s.expirables[kind]
	if !ok {
		return nil, model.ErrEntityNotFound
	}

	var res []model.Expirable
	for _, e := range table {
		if match(e) {
			res = append(res, s.withOwner(*e))
		}
	}

	slices.SortFunc(res, func(a, b model.Expirable) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// FindWarningCandidates возвращает сущности, истекающие в интервале (from, to], без отправленного предупреждения.
func (s *Store) FindWarningCandidates(_ context.Context, kind model.EntityKind, from, to time.Time, limit int) ([]model.Expirable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := model.ExpirableStatuses(kind)
	return s.selectExpirables(kind, limit, func(e *model.Expirable) bool {
		return !e.WarningSent &&
			slices.Contains(statuses, e.Status) &&
			e.ExpiresAt.After(from) && !e.ExpiresAt.After(to)
	})
}

// FindExpiredCandidates возвращает сущности со сроком до now без выполненного перехода в expired.
func (s *Store) FindExpiredCandidates(_ context.Context, kind model.EntityKind, now time.Time, limit int) ([]model.Expirable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectExpirables(kind, limit, func(e *model.Expirable) bool {
		return e.NeedsExpiry(now)
	})
}

// ClaimWarning устанавливает флаг предупреждения, если он ещё не установлен.
func (s *Store) ClaimWarning(_ context.Context, kind model.EntityKind, id int64, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expirables[kind][id]
	if !ok {
		return false, model.ErrEntityNotFound
	}
	if e.WarningSent || e.Status == model.StatusExpired {
		return false, nil
	}
	e.WarningSent = true
	return true, nil
}

// ExpireEntity переводит сущность в expired и устанавливает флаг уведомления за один шаг.
// notify равен true, только если флаг был снят до вызова.
func (s *Store) ExpireEntity(_ context.Context, kind model.EntityKind, id int64, now time.Time) (changed, notify bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expirables[kind][id]
	if !ok {
		return false, false, model.ErrEntityNotFound
	}
	if !e.NeedsExpiry(now) {
		return false, false, nil
	}

	notify = !e.ExpiredSent
	e.Status = model.StatusExpired
	e.ExpiredSent = true

	if kind == model.KindMembership || kind == model.KindCommercialPartner {
		s.resetUserFlags(kind, e.Owner.UserID, now)
	}
	return true, notify, nil
}

func (s *Store) resetUserFlags(kind model.EntityKind, userID int64, now time.Time) {
	u, ok := s.users[userID]
	if !ok {
		return
	}

	for _, other := range s.expirables[kind] {
		if other.Owner.UserID == userID && other.Status == model.StatusActive && other.ExpiresAt.After(now) {
			return
		}
	}

	switch kind {
	case model.KindMembership:
		u.IsMember = false
		u.MembershipExpiresAt = nil
	case model.KindCommercialPartner:
		u.IsPartner = false
		u.PartnerExpiresAt = nil
	}
}
