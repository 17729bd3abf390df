package model

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Tokens хранит количество токенов в сотых долях токена.
type Tokens int64

// LKR хранит денежную сумму в центах шри-ланкийской рупии.
type LKR int64

const minorUnitExp = -2

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// TokensFromDecimal переводит десятичное значение в сотые доли токена.
// Значения с точностью больше двух знаков отклоняются.
func TokensFromDecimal(d decimal.Decimal) (Tokens, error) {
	v, err := toMinor(d)
	if err != nil {
		return 0, err
	}
	return Tokens(v), nil
}

// ParseTokens разбирает строковое представление количества токенов.
func ParseTokens(s string) (Tokens, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return TokensFromDecimal(d)
}

// Decimal возвращает количество токенов как десятичное число.
func (t Tokens) Decimal() decimal.Decimal {
	return decimal.New(int64(t), minorUnitExp)
}

func (t Tokens) String() string {
	return t.Decimal().StringFixed(2)
}

// MarshalJSON кодирует значение как JSON-число с двумя знаками.
func (t Tokens) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalJSON принимает JSON-число или строку.
func (t *Tokens) UnmarshalJSON(b []byte) error {
	v, err := ParseTokens(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// LKRFromDecimal переводит сумму в рупиях в центы.
func LKRFromDecimal(d decimal.Decimal) (LKR, error) {
	v, err := toMinor(d)
	if err != nil {
		return 0, err
	}
	return LKR(v), nil
}

// ParseLKR разбирает строковое представление суммы в рупиях.
func ParseLKR(s string) (LKR, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return LKRFromDecimal(d)
}

// Decimal возвращает сумму как десятичное число рупий.
func (l LKR) Decimal() decimal.Decimal {
	return decimal.New(int64(l), minorUnitExp)
}

func (l LKR) String() string {
	return l.Decimal().StringFixed(2)
}

// MarshalJSON кодирует значение как JSON-число с двумя знаками.
func (l LKR) MarshalJSON() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalJSON принимает JSON-число или строку.
func (l *LKR) UnmarshalJSON(b []byte) error {
	v, err := ParseLKR(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// TokensForPayment переводит оплаченную сумму в токены по курсу rate (LKR за один токен).
// Округление вниз: пользователь не получает больше, чем оплатил.
func (l LKR) TokensForPayment(rate decimal.Decimal) Tokens {
	return Tokens(l.Decimal().Div(rate).Shift(-minorUnitExp).Floor().IntPart())
}

// TokensForPrice переводит цену в токены по курсу rate (LKR за один токен).
// Округление вверх: списывается не меньше, чем стоит услуга.
func (l LKR) TokensForPrice(rate decimal.Decimal) Tokens {
	return Tokens(l.Decimal().Div(rate).Shift(-minorUnitExp).Ceil().IntPart())
}

// Percent возвращает долю суммы в процентах, округлённую до цента.
func (l LKR) Percent(p decimal.Decimal) LKR {
	return LKR(l.Decimal().Mul(p).Div(decimal.NewFromInt(100)).Round(2).Shift(-minorUnitExp).IntPart())
}

func toMinor(d decimal.Decimal) (int64, error) {
	if d.Exponent() < minorUnitExp && !d.Equal(d.Truncate(2)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, d.String())
	}
	minor := d.Shift(-minorUnitExp)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d.String())
	}
	return minor.IntPart(), nil
}

// AddChecked складывает значения и возвращает ErrInvalidAmount при переполнении.
func (t Tokens) AddChecked(delta Tokens) (Tokens, error) {
	sum := t + delta
	if (delta > 0 && sum < t) || (delta < 0 && sum > t) {
		return 0, fmt.Errorf("%w: %s + %s overflows the balance", ErrInvalidAmount, t, delta)
	}
	return sum, nil
}
