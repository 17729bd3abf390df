package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokens(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Tokens
		wantErr bool
	}{
		{name: "integer", in: "100", want: 10000},
		{name: "two decimals", in: "12.34", want: 1234},
		{name: "trailing zeros", in: "1.500", want: 150},
		{name: "too precise", in: "0.001", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
		{name: "largest", in: "92233720368547758.07", want: math.MaxInt64},
		{name: "smallest", in: "-92233720368547758.08", want: math.MinInt64},
		{name: "just past int64", in: "92233720368547758.08", wantErr: true},
		{name: "wraps to a cent", in: "184467440737095516.17", wantErr: true},
		{name: "far out of range", in: "100000000000000000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTokens(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLKROutOfRange(t *testing.T) {
	_, err := ParseLKR("100000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	var v struct {
		Amount LKR `json:"amount_lkr"`
	}
	err = json.Unmarshal([]byte(`{"amount_lkr":184467440737095516.17}`), &v)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTokensAddChecked(t *testing.T) {
	sum, err := Tokens(150).AddChecked(-50)
	require.NoError(t, err)
	assert.Equal(t, Tokens(100), sum)

	_, err = Tokens(math.MaxInt64 - 1).AddChecked(2)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Tokens(math.MinInt64 + 1).AddChecked(-2)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTokensJSON(t *testing.T) {
	b, err := json.Marshal(Balances{HSC: 10050})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hsc":100.50,"hsg":0.00,"hsd":0.00}`, string(b))

	var v struct {
		Amount Tokens `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"2.5"}`), &v))
	assert.Equal(t, Tokens(250), v.Amount)
}

func TestLKRConversionRounding(t *testing.T) {
	rate := decimal.RequireFromString("3")

	// 10 LKR / 3 = 3.333… tokens
	assert.Equal(t, Tokens(333), LKR(1000).TokensForPayment(rate))
	assert.Equal(t, Tokens(334), LKR(1000).TokensForPrice(rate))

	assert.Equal(t, Tokens(10000), LKR(30000).TokensForPayment(rate))
	assert.Equal(t, Tokens(10000), LKR(30000).TokensForPrice(rate))
}

func TestLKRPercent(t *testing.T) {
	assert.Equal(t, LKR(1500), LKR(15000).Percent(decimal.NewFromInt(10)))
	// 0.05 * 10% = 0.005 → 0.01
	assert.Equal(t, LKR(1), LKR(5).Percent(decimal.NewFromInt(10)))
}

func TestTxTypeDirection(t *testing.T) {
	for _, tp := range []TxType{TxPurchase, TxRefund, TxBonus, TxGift} {
		assert.True(t, tp.IsCredit(), tp)
	}
	assert.False(t, TxSpend.IsCredit())

	tx := Transaction{Type: TxSpend, Amount: 500}
	assert.Equal(t, Tokens(-500), tx.Signed())
}

func TestInsufficientBalanceError(t *testing.T) {
	var err error = &InsufficientBalanceError{Kind: TokenHSC, Required: 6000, Available: 5000}

	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, "insufficient HSC balance: required 60.00, available 50.00", err.Error())
}

func TestNotFoundErrorsWrapBase(t *testing.T) {
	for _, err := range []error{ErrUserNotFound, ErrClaimNotFound, ErrEarningNotFound, ErrPromoCodeNotFound} {
		assert.True(t, errors.Is(err, ErrNotFound), err.Error())
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(KindAdvertisement, StatusActive, StatusExpired))
	assert.True(t, CanTransition(KindAdvertisement, StatusPaused, StatusExpired))
	assert.False(t, CanTransition(KindAdvertisement, StatusPending, StatusExpired))
	assert.False(t, CanTransition(KindMembership, StatusCancelled, StatusExpired))

	assert.Equal(t, []Status{StatusActive, StatusPaused}, ExpirableStatuses(KindAdvertisement))
	assert.Equal(t, []Status{StatusActive}, ExpirableStatuses(KindMembership))
}

func TestExpirableWindows(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ad := Expirable{Kind: KindAdvertisement, Status: StatusActive, ExpiresAt: now.Add(12 * time.Hour)}

	assert.True(t, ad.NeedsWarning(now, 6*time.Hour, 24*time.Hour))
	assert.False(t, ad.NeedsWarning(now, 0, 6*time.Hour))
	assert.False(t, ad.NeedsExpiry(now))

	ad.WarningSent = true
	assert.False(t, ad.NeedsWarning(now, 6*time.Hour, 24*time.Hour))

	ad.ExpiresAt = now.Add(-time.Hour)
	assert.True(t, ad.NeedsExpiry(now))

	ad.ExpiredSent = true
	assert.True(t, ad.NeedsExpiry(now), "stale notification flag does not block expiry")

	ad.Status = StatusExpired
	assert.False(t, ad.NeedsExpiry(now))

	ad.ExpiredSent = false
	assert.True(t, ad.NeedsExpiry(now))
}

func TestEarningStatusOnlyAdvances(t *testing.T) {
	assert.True(t, EarningPending.CanAdvance(EarningPaid))
	assert.True(t, EarningPending.CanAdvance(EarningProcessed))
	assert.False(t, EarningPaid.CanAdvance(EarningPending))
	assert.False(t, EarningPaid.CanAdvance(EarningPaid))
}
