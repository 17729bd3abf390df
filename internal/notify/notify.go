// Package notify доставляет пользователям уведомления внутри приложения и письма.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mmeshcher/holidayd/internal/mailer"
	"github.com/mmeshcher/holidayd/internal/model"
)

// DefaultEmailTimeout ограничивает время отправки одного письма.
const DefaultEmailTimeout = 30 * time.Second

// Store сохраняет уведомления внутри приложения.
type Store interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
}

// Note содержит текст уведомления для одного получателя.
type Note struct {
	Title    string
	Message  string
	Severity model.Severity
	Subject  string
	Template string
	Data     map[string]any
}

// Notifier сохраняет уведомление и отправляет письмо.
type Notifier struct {
	store   Store
	mailer  mailer.Mailer
	clock   clockwork.Clock
	loc     *time.Location
	timeout time.Duration
	logger  *zap.Logger
}

// Option настраивает Notifier.
type Option func(*Notifier)

// WithClock задаёт часы.
func WithClock(c clockwork.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// WithLocation задаёт часовой пояс, в котором даты выводятся в текстах уведомлений.
func WithLocation(loc *time.Location) Option {
	return func(n *Notifier) { n.loc = loc }
}

// WithEmailTimeout задаёт таймаут отправки письма.
func WithEmailTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// New создаёт Notifier.
func New(store Store, m mailer.Mailer, logger *zap.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		store:   store,
		mailer:  m,
		clock:   clockwork.NewRealClock(),
		loc:     time.UTC,
		timeout: DefaultEmailTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send сохраняет уведомление и отправляет письмо. Обе попытки выполняются независимо;
// ошибки объединяются и оборачиваются в model.ErrNotificationDelivery.
func (n *Notifier) Send(ctx context.Context, to model.Recipient, note Note) error {
	var errs []error

	if n.store != nil {
		severity := note.Severity
		if severity == "" {
			severity = model.SeverityInfo
		}
		rec := &model.Notification{
			UserID:    to.UserID,
			Title:     note.Title,
			Message:   note.Message,
			Severity:  severity,
			Data:      note.Data,
			CreatedAt: n.clock.Now(),
		}
		if err := n.store.CreateNotification(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("create notification: %w", err))
		}
	}

	if n.mailer != nil && to.Email != "" && note.Template != "" {
		if err := n.sendEmail(ctx, to, note); err != nil {
			errs = append(errs, fmt.Errorf("send email: %w", err))
		}
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", model.ErrNotificationDelivery, errors.Join(errs...))
		n.logger.Warn("notification delivery failed",
			zap.Int64("user_id", to.UserID),
			zap.String("template", note.Template),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (n *Notifier) sendEmail(ctx context.Context, to model.Recipient, note Note) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	return n.mailer.Send(ctx, mailer.Message{
		To:       to.Email,
		ToName:   to.Name,
		Subject:  note.Subject,
		Template: note.Template,
		Data:     note.Data,
	})
}

func (n *Notifier) formatTime(t time.Time) string {
	return t.In(n.loc).Format("2 Jan 2006 15:04 MST")
}
