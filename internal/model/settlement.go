package model

import "time"

// EarningStatus описывает статус начисления агенту.
type EarningStatus string

const (
	EarningPending   EarningStatus = "pending"
	EarningProcessed EarningStatus = "processed"
	EarningPaid      EarningStatus = "paid"
)

var earningRank = map[EarningStatus]int{
	EarningPending:   0,
	EarningProcessed: 1,
	EarningPaid:      2,
}

// CanAdvance сообщает, допустим ли переход статуса начисления (только вперёд).
func (s EarningStatus) CanAdvance(to EarningStatus) bool {
	from, ok := earningRank[s]
	if !ok {
		return false
	}
	next, ok := earningRank[to]
	return ok && next > from
}

// Earning описывает сумму, причитающуюся агенту за покупку по его промокоду.
type Earning struct {
	ID           int64         `json:"id"`
	UserID       int64         `json:"user_id"`
	PromoCodeID  int64         `json:"promo_code_id,omitempty"`
	BuyerID      int64         `json:"buyer_id,omitempty"`
	PurchaseTxID int64         `json:"purchase_tx_id,omitempty"`
	Source       string        `json:"source"`
	Amount       LKR           `json:"amount_lkr"`
	Status       EarningStatus `json:"status"`
	ClaimID      *int64        `json:"claim_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	PaidAt       *time.Time    `json:"paid_at,omitempty"`
}

// Claimable сообщает, может ли начисление войти в новую заявку.
func (e Earning) Claimable() bool {
	return e.Status == EarningPending && e.ClaimID == nil
}

// ClaimStatus описывает статус заявки на выплату.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// ClaimRequest объединяет несколько начислений одного пользователя в одну выплату.
type ClaimRequest struct {
	ID                    int64       `json:"id"`
	UserID                int64       `json:"user_id"`
	EarningIDs            []int64     `json:"earning_ids"`
	Total                 LKR         `json:"total_lkr"`
	Status                ClaimStatus `json:"status"`
	Note                  string      `json:"note,omitempty"`
	NotificationEmailSent bool        `json:"-"`
	CreatedAt             time.Time   `json:"created_at"`
	ProcessedAt           *time.Time  `json:"processed_at,omitempty"`
}

// PromoCode описывает реферальный код агента.
type PromoCode struct {
	ID        int64
	UserID    int64
	Code      string
	Status    Status
	ExpiresAt time.Time
}

// Usable сообщает, можно ли применить промокод в момент now.
func (p PromoCode) Usable(now time.Time) bool {
	return p.Status == StatusActive && now.Before(p.ExpiresAt)
}
