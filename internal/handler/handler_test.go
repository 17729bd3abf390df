package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/holidayd/internal/ledger"
	"github.com/mmeshcher/holidayd/internal/mailer"
	"github.com/mmeshcher/holidayd/internal/middleware"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/notify"
	"github.com/mmeshcher/holidayd/internal/repository/memstore"
	"github.com/mmeshcher/holidayd/internal/settlement"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

var testNow = time.Date(2026, 9, 1, 4, 30, 0, 0, time.UTC)

type testServer struct {
	t          *testing.T
	store      *memstore.Store
	settlement *settlement.Service
	auth       *middleware.AuthMiddleware
	router     http.Handler
	admin      int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	clock := clockwork.NewFakeClockAt(testNow)
	notifier := notify.New(store, mailer.NewLogMailer(nil), nil, notify.WithClock(clock))

	rates := ledger.Rates{
		model.TokenHSC: decimal.NewFromInt(100),
		model.TokenHSG: decimal.NewFromInt(250),
		model.TokenHSD: decimal.NewFromInt(100),
	}
	ledgerSvc := ledger.NewService(store, rates, clock, nil)
	settlementSvc := settlement.NewService(store, notifier, decimal.NewFromInt(10), clock, nil)
	sw := sweeper.New(store, notifier, clock, sweeper.Config{Limit: 100, BatchSize: 10}, nil, nil)

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(Services{
		Ledger:     ledgerSvc,
		Settlement: settlementSvc,
		Sweeper:    sw,
		Store:      store,
	}, nil, auth)

	return &testServer{
		t:          t,
		store:      store,
		settlement: settlementSvc,
		auth:       auth,
		router:     h.SetupRouter(),
		admin:      store.AddUser(model.User{Email: "admin@example.com", Role: middleware.RoleAdmin}),
	}
}

func (s *testServer) do(userID int64, role, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(s.t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		token, err := s.auth.IssueToken(userID, role, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestWalletFlow(t *testing.T) {
	s := newTestServer(t)
	user := s.store.AddUser(model.User{Email: "traveller@example.com"})

	rec := s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/purchase", map[string]any{
		"kind":           "hsc",
		"amount_lkr":     "5000.00",
		"payment_method": "card",
		"payment_id":     "pi_123",
		"payment_status": "completed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	purchase := decode[purchaseResponse](t, rec)
	assert.Equal(t, model.Tokens(5000), purchase.Transaction.Amount)
	assert.Equal(t, model.Tokens(5000), purchase.Transaction.BalanceAfter)

	rec = s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/spend", map[string]any{
		"kind":   "HSC",
		"amount": "60.00",
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	insufficient := decode[errorResponse](t, rec)
	assert.Equal(t, "insufficient HSC balance: required 60.00, available 50.00", insufficient.Error)
	require.NotNil(t, insufficient.Available)
	assert.Equal(t, model.Tokens(5000), *insufficient.Available)

	rec = s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/spend", map[string]any{
		"kind":         "HSC",
		"amount":       "20.50",
		"description":  "Featured listing",
		"related_type": "advertisement",
		"related_id":   9,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(user, middleware.RoleUser, http.MethodGet, "/api/wallet/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[model.Balances](t, rec)
	assert.Equal(t, model.Tokens(2950), balances.HSC)
	assert.Zero(t, balances.HSG)

	rec = s.do(user, middleware.RoleUser, http.MethodGet, "/api/wallet/transactions?kind=HSC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]model.Transaction](t, rec)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxSpend, txs[0].Type)
	assert.Equal(t, model.TxPurchase, txs[1].Type)

	rec = s.do(user, middleware.RoleUser, http.MethodGet, "/api/wallet/transactions?kind=HSD", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWalletValidation(t *testing.T) {
	s := newTestServer(t)
	user := s.store.AddUser(model.User{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "unknown kind", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "BTC", "amount": "1"}, status: http.StatusBadRequest},
		{name: "zero amount", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "HSC", "amount": "0"}, status: http.StatusBadRequest},
		{name: "too precise", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "HSC", "amount": "1.001"}, status: http.StatusBadRequest},
		{name: "bad reference", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "HSC", "amount": "1", "reference": "nope"}, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "HSC", "amount": "1", "extra": true}, status: http.StatusBadRequest},
		{name: "pending payment", method: http.MethodPost, path: "/api/wallet/purchase", body: map[string]any{"kind": "HSC", "amount_lkr": "100", "payment_status": "pending"}, status: http.StatusBadRequest},
		{name: "missing payment status", method: http.MethodPost, path: "/api/wallet/purchase", body: map[string]any{"kind": "HSC", "amount_lkr": "100"}, status: http.StatusBadRequest},
		{name: "amount out of range", method: http.MethodPost, path: "/api/wallet/purchase", body: map[string]any{"kind": "HSC", "amount_lkr": "100000000000000000000", "payment_status": "completed"}, status: http.StatusBadRequest},
		{name: "spend out of range", method: http.MethodPost, path: "/api/wallet/spend", body: map[string]any{"kind": "HSC", "amount": "184467440737095516.17"}, status: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, path: "/api/wallet/transactions?limit=ten", status: http.StatusBadRequest},
		{name: "bad quote", method: http.MethodGet, path: "/api/wallet/quote?kind=HSC&lkr=abc", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(user, middleware.RoleUser, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestQuoteRoundsUp(t *testing.T) {
	s := newTestServer(t)
	user := s.store.AddUser(model.User{})

	rec := s.do(user, middleware.RoleUser, http.MethodGet, "/api/wallet/quote?kind=HSG&lkr=1000.01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quote := decode[quoteResponse](t, rec)
	assert.Equal(t, model.Tokens(401), quote.Tokens)
}

func TestSpendReplayWithReference(t *testing.T) {
	s := newTestServer(t)
	user := s.store.AddUser(model.User{})

	rec := s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/tokens/credit", map[string]any{
		"user_id": user, "kind": "HSD", "amount": "10", "type": "bonus",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]any{"kind": "HSD", "amount": "4", "reference": "4b8f8c1e-0a43-4e5e-9d0e-6f1a3a3c2b10"}
	first := s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/spend", body)
	second := s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/spend", body)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decode[model.Transaction](t, first).ID, decode[model.Transaction](t, second).ID)

	body["amount"] = "5"
	conflict := s.do(user, middleware.RoleUser, http.MethodPost, "/api/wallet/spend", body)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	rec = s.do(user, middleware.RoleUser, http.MethodGet, "/api/wallet/balance", nil)
	assert.Equal(t, model.Tokens(600), decode[model.Balances](t, rec).HSD)
}

func TestPurchaseWithPromoCode(t *testing.T) {
	s := newTestServer(t)
	agent := s.store.AddUser(model.User{Email: "agent@example.com"})
	buyer := s.store.AddUser(model.User{})
	s.store.AddPromoCode(model.PromoCode{UserID: agent, Code: "SUNNY-10", Status: model.StatusActive, ExpiresAt: testNow.Add(48 * time.Hour)})

	rec := s.do(buyer, middleware.RoleUser, http.MethodPost, "/api/wallet/purchase", map[string]any{
		"kind": "HSC", "amount_lkr": "2500", "payment_status": "completed", "promo_code": "sunny-10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[purchaseResponse](t, rec)
	require.NotNil(t, resp.Earning)
	assert.Equal(t, agent, resp.Earning.UserID)
	assert.Equal(t, model.LKR(25000), resp.Earning.Amount)
	assert.Empty(t, resp.PromoError)

	rec = s.do(agent, middleware.RoleAgent, http.MethodPost, "/api/wallet/purchase", map[string]any{
		"kind": "HSC", "amount_lkr": "100", "payment_status": "completed", "promo_code": "SUNNY-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[purchaseResponse](t, rec)
	assert.Nil(t, resp.Earning)
	assert.Contains(t, resp.PromoError, "own purchase")
	assert.Equal(t, model.Tokens(100), resp.Transaction.Amount, "purchase stands without the earning")
}

func TestPurchaseReplayRecordsOneEarning(t *testing.T) {
	s := newTestServer(t)
	agent := s.store.AddUser(model.User{Email: "agent@example.com"})
	buyer := s.store.AddUser(model.User{})
	s.store.AddPromoCode(model.PromoCode{UserID: agent, Code: "SUNNY-10", Status: model.StatusActive, ExpiresAt: testNow.Add(48 * time.Hour)})

	body := map[string]any{
		"kind":           "HSC",
		"amount_lkr":     "2500",
		"payment_status": "completed",
		"promo_code":     "SUNNY-10",
		"reference":      "0f7d2c4a-5b1e-4c8a-9a3d-2e6b7f1c0d94",
	}

	var first purchaseResponse
	for i := range 3 {
		rec := s.do(buyer, middleware.RoleUser, http.MethodPost, "/api/wallet/purchase", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[purchaseResponse](t, rec)
		require.NotNil(t, resp.Earning)
		if i == 0 {
			first = resp
			continue
		}
		assert.Equal(t, first.Transaction.ID, resp.Transaction.ID)
		assert.Equal(t, first.Earning.ID, resp.Earning.ID)
	}

	rec := s.do(buyer, middleware.RoleUser, http.MethodGet, "/api/wallet/balance", nil)
	assert.Equal(t, model.Tokens(2500), decode[model.Balances](t, rec).HSC)

	earnings, err := s.settlement.Earnings(t.Context(), agent, "")
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Equal(t, first.Transaction.ID, earnings[0].PurchaseTxID)
	assert.Equal(t, model.LKR(25000), earnings[0].Amount)
}

func TestClaimFlow(t *testing.T) {
	s := newTestServer(t)
	agent := s.store.AddUser(model.User{Email: "agent@example.com"})

	e1, err := s.settlement.RecordEarning(t.Context(), settlement.EarningInput{UserID: agent, Amount: 150000, Source: "booking"})
	require.NoError(t, err)
	e2, err := s.settlement.RecordEarning(t.Context(), settlement.EarningInput{UserID: agent, Amount: 50000, Source: "booking"})
	require.NoError(t, err)

	rec := s.do(agent, middleware.RoleAgent, http.MethodGet, "/api/earnings?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Earning](t, rec), 2)

	rec = s.do(agent, middleware.RoleAgent, http.MethodPost, "/api/claims", map[string]any{"earning_ids": []int64{e1.ID, e2.ID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	claim := decode[model.ClaimRequest](t, rec)
	assert.Equal(t, model.LKR(200000), claim.Total)

	rec = s.do(agent, middleware.RoleAgent, http.MethodPost, "/api/claims", map[string]any{"earning_ids": []int64{e1.ID}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	approvePath := fmt.Sprintf("/api/admin/claims/%d/approve", claim.ID)

	rec = s.do(agent, middleware.RoleAgent, http.MethodPost, approvePath, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, approvePath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ClaimApproved, decode[model.ClaimRequest](t, rec).Status)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, approvePath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/claims/999/reject", map[string]any{"note": "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	notes := s.store.Notifications(agent)
	require.Len(t, notes, 1)
	assert.Equal(t, model.SeveritySuccess, notes[0].Severity)
}

func TestCreateClaimForeignEarning(t *testing.T) {
	s := newTestServer(t)
	agent := s.store.AddUser(model.User{})
	other := s.store.AddUser(model.User{})

	e, err := s.settlement.RecordEarning(t.Context(), settlement.EarningInput{UserID: other, Amount: 1000})
	require.NoError(t, err)

	rec := s.do(agent, middleware.RoleAgent, http.MethodPost, "/api/claims", map[string]any{"earning_ids": []int64{e.ID}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(agent, middleware.RoleAgent, http.MethodPost, "/api/claims", map[string]any{"earning_ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDistributeAndAudit(t *testing.T) {
	s := newTestServer(t)
	u1 := s.store.AddUser(model.User{})
	u2 := s.store.AddUser(model.User{})

	rec := s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/tokens/distribute", map[string]any{
		"user_ids": []int64{u1, u2, 4040}, "kind": "HSG", "amount": "3.25", "type": "gift", "description": "Vesak gift",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[distributeResponse](t, rec)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.NotEmpty(t, resp.Results[2].Error)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodGet, fmt.Sprintf("/api/admin/ledger/audit/%d?kind=HSG", u1), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]ledger.AuditEntry](t, rec)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Consistent)
	assert.Equal(t, model.Tokens(325), entries[0].Balance)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/tokens/credit", map[string]any{
		"user_id": u1, "kind": "HSG", "amount": "1", "type": "spend",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t)
	owner := s.store.AddUser(model.User{Email: "owner@example.com"})
	ad := s.store.AddExpirable(model.Expirable{
		Kind:      model.KindAdvertisement,
		Owner:     model.Recipient{UserID: owner},
		Label:     "Ella Rock Homestay",
		Status:    model.StatusActive,
		ExpiresAt: testNow.Add(-time.Minute),
	})

	rec := s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/sweeps/ads/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[sweeper.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Processed)

	e, _ := s.store.Expirable(model.KindAdvertisement, ad)
	assert.Equal(t, model.StatusExpired, e.Status)
	assert.True(t, e.ExpiredSent)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/sweeps/ads/explode", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(s.admin, middleware.RoleAdmin, http.MethodPost, "/api/admin/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]sweeper.Result](t, rec), len(model.EntityKinds)*len(sweeper.Modes))
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(0, "", http.MethodGet, "/api/wallet/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(s.admin, middleware.RoleUser, http.MethodPost, "/api/admin/sweeps", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(0, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &model.InsufficientBalanceError{Kind: model.TokenHSC, Required: 10, Available: 5}, want: http.StatusPaymentRequired},
		{err: fmt.Errorf("spend: %w", model.ErrInvalidAmount), want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: %w", model.ErrEarningNotFound, model.ErrInvalidID), want: http.StatusBadRequest},
		{err: model.ErrUserNotFound, want: http.StatusNotFound},
		{err: model.ErrClaimNotPending, want: http.StatusConflict},
		{err: model.ErrEarningOwnerMismatch, want: http.StatusForbidden},
		{err: fmt.Errorf("%w: %w", model.ErrStoreUnavailable, errors.New("dial tcp")), want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
