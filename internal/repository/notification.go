package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmeshcher/holidayd/internal/model"
)

// CreateNotification сохраняет уведомление для пользователя.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	var data []byte
	if len(n.Data) > 0 {
		var err error
		data, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO notifications (user_id, title, message, severity, data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			n.UserID, n.Title, n.Message, string(n.Severity), data, n.CreatedAt,
		).Scan(&n.ID)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		return nil
	})
}
