package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/holidayd/internal/model"
)

const transactionColumns = `id, reference, user_id, token_kind, type, amount, description,
	balance_before, balance_after, related_type, related_id,
	payment_method, payment_external_id, payment_status, payment_amount_lkr, created_at`

func balanceColumn(kind model.TokenKind) (string, error) {
	switch kind {
	case model.TokenHSC:
		return "hsc_balance", nil
	case model.TokenHSG:
		return "hsg_balance", nil
	case model.TokenHSD:
		return "hsd_balance", nil
	}
	return "", fmt.Errorf("%w: %q", model.ErrInvalidTokenKind, kind)
}

// ApplyBalanceChange изменяет баланс и записывает транзакцию в одной транзакции БД.
// Строка пользователя блокируется (FOR UPDATE), поэтому изменения одного пользователя выполняются строго последовательно.
func (r *PostgresRepository) ApplyBalanceChange(ctx context.Context, change model.BalanceChange) (*model.Transaction, error) {
	column, err := balanceColumn(change.Kind)
	if err != nil {
		return nil, err
	}

	var res *model.Transaction
	err = r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var before int64
		err = tx.QueryRow(ctx,
			`SELECT `+column+` FROM users WHERE id = $1 FOR UPDATE`,
			change.UserID,
		).Scan(&before)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		existing, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM token_transactions WHERE reference = $1`,
			change.Reference,
		))
		switch {
		case err == nil:
			if !change.Matches(existing) {
				return model.ErrReferenceConflict
			}
			res = existing
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("select by reference: %w", err)
		}

		after, err := model.Tokens(before).AddChecked(change.Delta())
		if err != nil {
			return err
		}
		if after < 0 {
			return &model.InsufficientBalanceError{
				Kind:      change.Kind,
				Required:  change.Amount,
				Available: model.Tokens(before),
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET `+column+` = $2 WHERE id = $1`,
			change.UserID, int64(after),
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		var payMethod, payExternalID, payStatus *string
		var payAmount *int64
		if p := change.Payment; p != nil {
			payMethod = nullString(p.Method)
			payExternalID = nullString(p.ExternalID)
			payStatus = nullString(p.Status)
			payAmount = nullInt64(int64(p.Amount))
		}

		created, err := scanTransaction(tx.QueryRow(ctx,
			`INSERT INTO token_transactions (
				reference, user_id, token_kind, type, amount, description,
				balance_before, balance_after, related_type, related_id,
				payment_method, payment_external_id, payment_status, payment_amount_lkr, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING `+transactionColumns,
			change.Reference, change.UserID, string(change.Kind), string(change.Type), int64(change.Amount), change.Description,
			before, int64(after), nullString(change.RelatedType), nullInt64(change.RelatedID),
			payMethod, payExternalID, payStatus, payAmount, change.At,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return model.ErrReferenceConflict
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// GetBalances возвращает балансы пользователя по всем видам токенов.
func (r *PostgresRepository) GetBalances(ctx context.Context, userID int64) (*model.Balances, error) {
	var hsc, hsg, hsd int64
	err := r.pool.QueryRow(ctx,
		`SELECT hsc_balance, hsg_balance, hsd_balance FROM users WHERE id = $1`,
		userID,
	).Scan(&hsc, &hsg, &hsd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get balances: %w", err)
	}

	return &model.Balances{
		HSC: model.Tokens(hsc),
		HSG: model.Tokens(hsg),
		HSD: model.Tokens(hsd),
	}, nil
}

// ListTransactions возвращает историю транзакций пользователя, новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM token_transactions
		 WHERE user_id = $1 AND ($2 = '' OR token_kind = $2)
		 ORDER BY id DESC
		 LIMIT $3 OFFSET $4`,
		filter.UserID, string(filter.Kind), filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumTransactions возвращает сумму транзакций пользователя со знаком по виду токена.
func (r *PostgresRepository) SumTransactions(ctx context.Context, userID int64, kind model.TokenKind) (model.Tokens, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = $3 THEN -amount ELSE amount END), 0)
		 FROM token_transactions
		 WHERE user_id = $1 AND token_kind = $2`,
		userID, string(kind), string(model.TxSpend),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return model.Tokens(sum), nil
}

// GetRecipient возвращает контактные данные пользователя.
func (r *PostgresRepository) GetRecipient(ctx context.Context, userID int64) (*model.Recipient, error) {
	var rc model.Recipient
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name FROM users WHERE id = $1`,
		userID,
	).Scan(&rc.UserID, &rc.Email, &rc.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &rc, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t                                   model.Transaction
		kind, txType                        string
		amount, before, after               int64
		relatedType                         *string
		relatedID                           *int64
		payMethod, payExternalID, payStatus *string
		payAmount                           *int64
	)

	err := row.Scan(
		&t.ID, &t.Reference, &t.UserID, &kind, &txType, &amount, &t.Description,
		&before, &after, &relatedType, &relatedID,
		&payMethod, &payExternalID, &payStatus, &payAmount, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = model.TokenKind(kind)
	t.Type = model.TxType(txType)
	t.Amount = model.Tokens(amount)
	t.BalanceBefore = model.Tokens(before)
	t.BalanceAfter = model.Tokens(after)
	t.RelatedType = deref(relatedType)
	t.RelatedID = deref(relatedID)

	if payMethod != nil || payExternalID != nil || payStatus != nil {
		t.Payment = &model.Payment{
			Method:     deref(payMethod),
			ExternalID: deref(payExternalID),
			Status:     deref(payStatus),
			Amount:     model.LKR(deref(payAmount)),
		}
	}

	return &t, nil
}
