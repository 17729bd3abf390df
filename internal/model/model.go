// Package model содержит доменные сущности сервиса holidayd.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenKind описывает вид внутренней валюты платформы.
type TokenKind string

const (
	TokenHSC TokenKind = "HSC"
	TokenHSG TokenKind = "HSG"
	TokenHSD TokenKind = "HSD"
)

// TokenKinds перечисляет все виды токенов в фиксированном порядке.
var TokenKinds = []TokenKind{TokenHSC, TokenHSG, TokenHSD}

// Valid сообщает, является ли вид токена известным.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenHSC, TokenHSG, TokenHSD:
		return true
	}
	return false
}

// ParseTokenKind разбирает вид токена без учёта регистра.
func ParseTokenKind(s string) (TokenKind, error) {
	k := TokenKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTokenKind, s)
	}
	return k, nil
}

// TxType описывает бизнес-причину изменения баланса.
type TxType string

const (
	TxPurchase TxType = "purchase"
	TxSpend    TxType = "spend"
	TxRefund   TxType = "refund"
	TxBonus    TxType = "bonus"
	TxGift     TxType = "gift"
)

// Valid сообщает, является ли тип операции известным.
func (t TxType) Valid() bool {
	switch t {
	case TxPurchase, TxSpend, TxRefund, TxBonus, TxGift:
		return true
	}
	return false
}

// IsCredit сообщает, увеличивает ли операция баланс.
func (t TxType) IsCredit() bool {
	switch t {
	case TxPurchase, TxRefund, TxBonus, TxGift:
		return true
	}
	return false
}

// User представляет владельца токенового счёта.
type User struct {
	ID                  int64
	Email               string
	Name                string
	Role                string
	Balances            Balances
	IsMember            bool
	MembershipExpiresAt *time.Time
	IsPartner           bool
	PartnerExpiresAt    *time.Time
	CreatedAt           time.Time
}

// Recipient содержит контактные данные получателя уведомлений.
type Recipient struct {
	UserID int64
	Email  string
	Name   string
}

// Balances содержит независимые балансы пользователя по видам токенов.
type Balances struct {
	HSC Tokens `json:"hsc"`
	HSG Tokens `json:"hsg"`
	HSD Tokens `json:"hsd"`
}

// Of возвращает баланс по виду токена.
func (b Balances) Of(kind TokenKind) Tokens {
	switch kind {
	case TokenHSC:
		return b.HSC
	case TokenHSG:
		return b.HSG
	case TokenHSD:
		return b.HSD
	}
	return 0
}

// Set устанавливает баланс по виду токена.
func (b *Balances) Set(kind TokenKind, v Tokens) {
	switch kind {
	case TokenHSC:
		b.HSC = v
	case TokenHSG:
		b.HSG = v
	case TokenHSD:
		b.HSD = v
	}
}

// PaymentStatusCompleted означает подтверждённую внешнюю оплату.
const PaymentStatusCompleted = "completed"

// Payment описывает детали внешней оплаты, связанной с транзакцией.
type Payment struct {
	Method     string `json:"method"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Amount     LKR    `json:"amount_lkr"`
}

// Transaction представляет неизменяемую запись об одном изменении баланса.
type Transaction struct {
	ID            int64     `json:"id"`
	Reference     uuid.UUID `json:"reference"`
	UserID        int64     `json:"user_id"`
	Kind          TokenKind `json:"kind"`
	Type          TxType    `json:"type"`
	Amount        Tokens    `json:"amount"`
	Description   string    `json:"description"`
	BalanceBefore Tokens    `json:"balance_before"`
	BalanceAfter  Tokens    `json:"balance_after"`
	RelatedType   string    `json:"related_type,omitempty"`
	RelatedID     int64     `json:"related_id,omitempty"`
	Payment       *Payment  `json:"payment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Signed возвращает сумму транзакции со знаком, определяемым типом операции.
func (t Transaction) Signed() Tokens {
	if t.Type.IsCredit() {
		return t.Amount
	}
	return -t.Amount
}

// BalanceChange описывает запрошенное изменение баланса одного пользователя.
type BalanceChange struct {
	UserID      int64
	Kind        TokenKind
	Type        TxType
	Amount      Tokens
	Description string
	Reference   uuid.UUID
	RelatedType string
	RelatedID   int64
	Payment     *Payment
	At          time.Time
}

// Delta возвращает изменение баланса со знаком.
func (c BalanceChange) Delta() Tokens {
	if c.Type.IsCredit() {
		return c.Amount
	}
	return -c.Amount
}

// Matches сообщает, описывает ли транзакция то же самое изменение (для повторов по Reference).
func (c BalanceChange) Matches(tx *Transaction) bool {
	return tx.UserID == c.UserID && tx.Kind == c.Kind && tx.Type == c.Type && tx.Amount == c.Amount
}

// TransactionFilter задаёт выборку истории транзакций.
type TransactionFilter struct {
	UserID int64
	Kind   TokenKind
	Limit  int
	Offset int
}

// Notification описывает уведомление внутри приложения.
type Notification struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Severity описывает важность уведомления.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)
