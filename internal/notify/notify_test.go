package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/holidayd/internal/mailer"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/repository/memstore"
)

type stubMailer struct {
	mu    sync.Mutex
	sent  []mailer.Message
	err   error
	block bool
}

func (m *stubMailer) Send(ctx context.Context, msg mailer.Message) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var testNow = time.Date(2026, 6, 1, 4, 30, 0, 0, time.UTC)

func colombo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Colombo")
	require.NoError(t, err)
	return loc
}

func TestExpirationWarning(t *testing.T) {
	store := memstore.New()
	uid := store.AddUser(model.User{Email: "owner@example.com", Name: "Nimal"})
	m := &stubMailer{}
	n := New(store, m, nil, WithClock(clockwork.NewFakeClockAt(testNow)), WithLocation(colombo(t)))

	ad := model.Expirable{
		Kind:      model.KindAdvertisement,
		ID:        42,
		Owner:     model.Recipient{UserID: uid, Email: "owner@example.com", Name: "Nimal"},
		Label:     "Kandy Tours",
		Status:    model.StatusActive,
		ExpiresAt: testNow.Add(12 * time.Hour),
		Content:   &model.ContentRef{Type: "tour_package", ID: 9},
	}

	require.NoError(t, n.ExpirationWarning(context.Background(), ad))

	require.Len(t, m.sent, 1)
	msg := m.sent[0]
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Equal(t, "advertisement_expiring", msg.Template)
	assert.Equal(t, "tour_package", msg.Data["content_type"])

	notes := store.Notifications(uid)
	require.Len(t, notes, 1)
	assert.Equal(t, model.SeverityWarning, notes[0].Severity)
	assert.Equal(t, testNow, notes[0].CreatedAt)
	// 16:30 UTC = 22:00 в Коломбо
	assert.Contains(t, notes[0].Message, "1 Jun 2026 22:00")
}

func TestSendEmailFailureKeepsInAppNotification(t *testing.T) {
	store := memstore.New()
	uid := store.AddUser(model.User{Email: "owner@example.com"})
	m := &stubMailer{err: errors.New("relay down")}
	n := New(store, m, nil)

	err := n.Expired(context.Background(), model.Expirable{
		Kind:  model.KindMembership,
		Owner: model.Recipient{UserID: uid, Email: "owner@example.com"},
		Label: "monthly",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotificationDelivery)
	assert.Contains(t, err.Error(), "relay down")

	assert.Len(t, store.Notifications(uid), 1)
}

func TestSendEmailTimeout(t *testing.T) {
	store := memstore.New()
	uid := store.AddUser(model.User{Email: "a@example.com"})
	n := New(store, &stubMailer{block: true}, nil, WithEmailTimeout(20*time.Millisecond))

	err := n.Send(context.Background(), model.Recipient{UserID: uid, Email: "a@example.com"}, Note{
		Title:    "t",
		Message:  "m",
		Template: "x",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, model.ErrNotificationDelivery)
}

func TestClaimNotifications(t *testing.T) {
	store := memstore.New()
	uid := store.AddUser(model.User{Email: "agent@example.com"})
	m := &stubMailer{}
	n := New(store, m, nil)
	to := model.Recipient{UserID: uid, Email: "agent@example.com"}

	claim := &model.ClaimRequest{ID: 5, UserID: uid, Total: 150000, EarningIDs: []int64{1, 2}, Status: model.ClaimRejected, Note: "duplicate booking"}

	require.NoError(t, n.ClaimRejected(context.Background(), to, claim))
	require.Len(t, m.sent, 1)
	assert.Equal(t, "claim_rejected", m.sent[0].Template)
	assert.Equal(t, "1500.00", m.sent[0].Data["total_lkr"])

	notes := store.Notifications(uid)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "Reason: duplicate booking")
}

func TestSendWithoutEmailAddressSkipsMail(t *testing.T) {
	store := memstore.New()
	uid := store.AddUser(model.User{})
	m := &stubMailer{}
	n := New(store, m, nil)

	require.NoError(t, n.Send(context.Background(), model.Recipient{UserID: uid}, Note{Title: "t", Template: "x"}))
	assert.Empty(t, m.sent)
	assert.Len(t, store.Notifications(uid), 1)
}
