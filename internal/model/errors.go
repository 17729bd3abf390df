package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — базовая ошибка отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrClaimNotFound возвращается, если заявка на выплату не найдена.
	ErrClaimNotFound = fmt.Errorf("claim request %w", ErrNotFound)
	// ErrEarningNotFound возвращается, если начисление не найдено.
	ErrEarningNotFound = fmt.Errorf("earning %w", ErrNotFound)
	// ErrPromoCodeNotFound возвращается, если промокод не найден.
	ErrPromoCodeNotFound = fmt.Errorf("promo code %w", ErrNotFound)
	// ErrEntityNotFound возвращается, если истекающая сущность не найдена.
	ErrEntityNotFound = fmt.Errorf("entity %w", ErrNotFound)

	// ErrInvalidAmount возвращается при неположительной или слишком точной сумме.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidID возвращается для неположительного идентификатора.
	ErrInvalidID = errors.New("invalid id")
	// ErrInvalidTokenKind возвращается для неизвестного вида токена.
	ErrInvalidTokenKind = errors.New("invalid token kind")
	// ErrInvalidTxType возвращается для типа операции, недопустимого в данном контексте.
	ErrInvalidTxType = errors.New("invalid transaction type")
	// ErrReferenceConflict возвращается при повторном использовании Reference с другими параметрами.
	ErrReferenceConflict = errors.New("transaction reference reused with different parameters")
	// ErrPaymentNotCompleted возвращается при попытке зачислить неподтверждённую оплату.
	ErrPaymentNotCompleted = errors.New("payment is not completed")

	// ErrEmptyClaim возвращается при создании заявки без начислений.
	ErrEmptyClaim = errors.New("claim request has no earnings")
	// ErrEarningNotClaimable возвращается, если начисление уже оплачено или включено в заявку.
	ErrEarningNotClaimable = errors.New("earning is not claimable")
	// ErrEarningOwnerMismatch возвращается, если начисление принадлежит другому пользователю.
	ErrEarningOwnerMismatch = errors.New("earning belongs to another user")
	// ErrClaimNotPending возвращается при повторной обработке заявки.
	ErrClaimNotPending = errors.New("claim request is not pending")
	// ErrPromoCodeInactive возвращается для неактивного или истёкшего промокода.
	ErrPromoCodeInactive = errors.New("promo code is not active")
	// ErrSelfReferral возвращается, если покупатель использует собственный промокод.
	ErrSelfReferral = errors.New("promo code owner cannot earn from own purchase")

	// ErrStoreUnavailable оборачивает временные ошибки хранилища после исчерпания повторов.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotificationDelivery оборачивает ошибки отправки уведомлений и писем.
	ErrNotificationDelivery = errors.New("notification delivery failed")
)

// InsufficientBalanceError содержит подробности отказа в списании.
type InsufficientBalanceError struct {
	Kind      TokenKind
	Required  Tokens
	Available Tokens
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %s, available %s", e.Kind, e.Required, e.Available)
}

// Is позволяет сравнивать ошибку с ErrInsufficientBalance через errors.Is.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
