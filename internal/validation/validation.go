// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"net/mail"
	"unicode"

	"github.com/mmeshcher/holidayd/internal/model"
)

const (
	promoCodeMinLen = 4
	promoCodeMaxLen = 20

	defaultPageSize = 20
	maxPageSize     = 100
)

// IsValidPromoCode проверяет формат промокода: 4–20 заглавных латинских букв, цифр или дефисов.
func IsValidPromoCode(code string) bool {
	if len(code) < promoCodeMinLen || len(code) > promoCodeMaxLen {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case unicode.IsDigit(ch):
		case ch == '-':
		default:
			return false
		}
	}

	return code[0] != '-' && code[len(code)-1] != '-'
}

// IsValidEmail проверяет, что строка является одиночным почтовым адресом.
func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// PositiveTokens проверяет, что количество токенов больше нуля.
func PositiveTokens(amount model.Tokens) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %s must be positive", model.ErrInvalidAmount, amount)
	}
	return nil
}

// PositiveLKR проверяет, что сумма в рупиях больше нуля.
func PositiveLKR(amount model.LKR) error {
	if amount <= 0 {
		return fmt.Errorf("%w: LKR %s must be positive", model.ErrInvalidAmount, amount)
	}
	return nil
}

// Page нормализует параметры постраничной выборки.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// UniqueIDs проверяет, что идентификаторы положительны, и убирает повторы с сохранением порядка.
func UniqueIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	res := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w %d", model.ErrInvalidID, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res, nil
}
