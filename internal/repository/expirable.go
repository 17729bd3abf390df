package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/holidayd/internal/model"
)

type expirableTable struct {
	name       string
	label      string
	hasContent bool
	// userReset сбрасывает флаги пользователя, когда у него не осталось активных записей.
	userReset string
}

var expirableTables = map[model.EntityKind]expirableTable{
	model.KindAdvertisement: {
		name:       "advertisements",
		label:      "title",
		hasContent: true,
	},
	model.KindMembership: {
		name:      "memberships",
		label:     "plan",
		userReset: "is_member = FALSE, membership_expires_at = NULL",
	},
	model.KindCommercialPartner: {
		name:      "commercial_partners",
		label:     "business_name",
		userReset: "is_partner = FALSE, partner_expires_at = NULL",
	},
	model.KindPromoCode: {
		name:  "promo_codes",
		label: "code",
	},
}

func tableFor(kind model.EntityKind) (expirableTable, error) {
	t, ok := expirableTables[kind]
	if !ok {
		return expirableTable{}, fmt.Errorf("%w: unknown entity kind %q", model.ErrEntityNotFound, kind)
	}
	return t, nil
}

func (t expirableTable) selectColumns() string {
	content := "NULL::text, NULL::bigint"
	if t.hasContent {
		content = "e.content_type, e.content_id"
	}
	return fmt.Sprintf(`e.id, e.user_id, u.email, u.name, e.%s, e.status, e.expires_at,
		e.expiration_warning_email_sent, e.expired_notification_email_sent, %s`, t.label, content)
}

func statusStrings(statuses []model.Status) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}

// FindWarningCandidates возвращает сущности, истекающие в интервале (from, to], по которым ещё не отправлено предупреждение.
func (r *PostgresRepository) FindWarningCandidates(ctx context.Context, kind model.EntityKind, from, to time.Time, limit int) ([]model.Expirable, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s
		FROM %s e
		JOIN users u ON u.id = e.user_id
		WHERE e.status = ANY($1)
		  AND NOT e.expiration_warning_email_sent
		  AND e.expires_at > $2 AND e.expires_at <= $3
		ORDER BY e.expires_at
		LIMIT $4`, t.selectColumns(), t.name)

	return r.queryExpirables(ctx, kind, query,
		statusStrings(model.ExpirableStatuses(kind)), from, to, limit)
}

// FindExpiredCandidates возвращает сущности со сроком до now, которые ещё не в expired
// либо уже в expired, но без отправленного уведомления.
func (r *PostgresRepository) FindExpiredCandidates(ctx context.Context, kind model.EntityKind, now time.Time, limit int) ([]model.Expirable, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	statuses := append(model.ExpirableStatuses(kind), model.StatusExpired)

	query := fmt.Sprintf(`SELECT %s
		FROM %s e
		JOIN users u ON u.id = e.user_id
		WHERE e.status = ANY($1)
		  AND (e.status <> 'expired' OR NOT e.expired_notification_email_sent)
		  AND e.expires_at < $2
		ORDER BY e.expires_at
		LIMIT $3`, t.selectColumns(), t.name)

	return r.queryExpirables(ctx, kind, query, statusStrings(statuses), now, limit)
}

func (r *PostgresRepository) queryExpirables(ctx context.Context, kind model.EntityKind, query string, args ...any) ([]model.Expirable, error) {
	var res []model.Expirable
	err := r.withRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select %s candidates: %w", kind, err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				e           model.Expirable
				status      string
				contentType *string
				contentID   *int64
			)
			err := rows.Scan(
				&e.ID, &e.Owner.UserID, &e.Owner.Email, &e.Owner.Name, &e.Label, &status, &e.ExpiresAt,
				&e.WarningSent, &e.ExpiredSent, &contentType, &contentID,
			)
			if err != nil {
				return fmt.Errorf("scan %s: %w", kind, err)
			}
			e.Kind = kind
			e.Status = model.Status(status)
			if contentType != nil && contentID != nil {
				e.Content = &model.ContentRef{Type: model.ListingType(*contentType), ID: *contentID}
			}
			res = append(res, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ClaimWarning атомарно отмечает, что предупреждение по сущности отправляется.
// Возвращает false, если флаг уже был установлен другим исполнителем.
func (r *PostgresRepository) ClaimWarning(ctx context.Context, kind model.EntityKind, id int64, now time.Time) (bool, error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	var claimed bool
	err = r.withRetry(ctx, func(ctx context.Context) error {
		tag, err := r.pool.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET expiration_warning_email_sent = TRUE, updated_at = $2
			 WHERE id = $1 AND NOT expiration_warning_email_sent AND status <> 'expired'`, t.name),
			id, now,
		)
		if err != nil {
			return fmt.Errorf("claim %s warning: %w", kind, err)
		}
		claimed = tag.RowsAffected() == 1
		return nil
	})
	return claimed, err
}

// ExpireEntity переводит сущность в expired и отмечает отправку уведомления.
// changed сообщает, что запись была обработана этим вызовом, а notify сообщает, что флаг уведомления был снят до него.
// Для членства и партнёрства в той же транзакции сбрасываются флаги пользователя,
// если у него нет другой действующей записи.
func (r *PostgresRepository) ExpireEntity(ctx context.Context, kind model.EntityKind, id int64, now time.Time) (changed, notify bool, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return false, false, err
	}

	statuses := statusStrings(model.ExpirableStatuses(kind))

	err = r.withRetry(ctx, func(ctx context.Context) error {
		changed, notify = false, false

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			userID int64
			sent   bool
		)
		err = tx.QueryRow(ctx, fmt.Sprintf(
			`SELECT user_id, expired_notification_email_sent
			 FROM %s
			 WHERE id = $1
			   AND expires_at < $2
			   AND (status = ANY($3) OR (status = 'expired' AND NOT expired_notification_email_sent))
			 FOR UPDATE`, t.name),
			id, now, statuses,
		).Scan(&userID, &sent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("lock %s: %w", kind, err)
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET status = 'expired', expired_notification_email_sent = TRUE, updated_at = $2
			 WHERE id = $1`, t.name),
			id, now,
		); err != nil {
			return fmt.Errorf("expire %s: %w", kind, err)
		}

		if t.userReset != "" {
			_, err = tx.Exec(ctx, fmt.Sprintf(
				`UPDATE users SET %s
				 WHERE id = $1 AND NOT EXISTS (
				     SELECT 1 FROM %s WHERE user_id = $1 AND status = 'active' AND expires_at > $2
				 )`, t.userReset, t.name),
				userID, now,
			)
			if err != nil {
				return fmt.Errorf("reset user flags: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		changed, notify = true, !sent
		return nil
	})
	return changed, notify, err
}
