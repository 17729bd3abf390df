package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/holidayd/internal/model"
)

const claimColumns = `c.id, c.user_id, c.total_lkr, c.status, c.note, c.notification_email_sent, c.created_at, c.processed_at,
	ARRAY(SELECT ce.earning_id FROM claim_request_earnings ce WHERE ce.claim_id = c.id ORDER BY ce.earning_id)`

// GetPromoCode возвращает промокод по его значению.
func (r *PostgresRepository) GetPromoCode(ctx context.Context, code string) (*model.PromoCode, error) {
	var (
		p      model.PromoCode
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, code, status, expires_at FROM promo_codes WHERE code = $1`,
		code,
	).Scan(&p.ID, &p.UserID, &p.Code, &status, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	p.Status = model.Status(status)
	return &p, nil
}

const earningColumns = `id, user_id, promo_code_id, buyer_id, purchase_tx_id, source, amount_lkr, status, claim_id, created_at, paid_at`

// CreateEarning сохраняет новое начисление и заполняет его идентификатор.
// Повтор для той же покупки не создаёт строку: e заполняется сохранённым начислением и возвращается false.
func (r *PostgresRepository) CreateEarning(ctx context.Context, e *model.Earning) (bool, error) {
	var created bool
	err := r.withRetry(ctx, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx,
			`INSERT INTO earnings (user_id, promo_code_id, buyer_id, purchase_tx_id, source, amount_lkr, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (purchase_tx_id) DO NOTHING
			 RETURNING id`,
			e.UserID, nullInt64(e.PromoCodeID), nullInt64(e.BuyerID), nullInt64(e.PurchaseTxID),
			e.Source, int64(e.Amount), string(e.Status), e.CreatedAt,
		).Scan(&e.ID)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("insert earning: %w", err)
		}

		prev, err := r.EarningByPurchase(ctx, e.PurchaseTxID)
		if err != nil {
			return err
		}
		*e = *prev
		created = false
		return nil
	})
	return created, err
}

// EarningByPurchase возвращает начисление, созданное за покупку purchaseTxID.
func (r *PostgresRepository) EarningByPurchase(ctx context.Context, purchaseTxID int64) (*model.Earning, error) {
	e, err := scanEarning(r.pool.QueryRow(ctx,
		`SELECT `+earningColumns+` FROM earnings WHERE purchase_tx_id = $1`, purchaseTxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEarningNotFound
		}
		return nil, fmt.Errorf("get purchase earning: %w", err)
	}
	return e, nil
}

// ListEarnings возвращает начисления пользователя; пустой status означает любые.
func (r *PostgresRepository) ListEarnings(ctx context.Context, userID int64, status model.EarningStatus) ([]model.Earning, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+earningColumns+`
		 FROM earnings
		 WHERE user_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC, id DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select earnings: %w", err)
	}
	defer rows.Close()

	var res []model.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		res = append(res, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateClaim объединяет начисления в заявку на выплату.
// Начисления блокируются до проверки, поэтому одно начисление не может попасть в две заявки.
func (r *PostgresRepository) CreateClaim(ctx context.Context, userID int64, earningIDs []int64, now time.Time) (*model.ClaimRequest, error) {
	var claim *model.ClaimRequest
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT `+earningColumns+`
			 FROM earnings
			 WHERE id = ANY($1)
			 ORDER BY id
			 FOR UPDATE`,
			earningIDs,
		)
		if err != nil {
			return fmt.Errorf("lock earnings: %w", err)
		}

		var earnings []model.Earning
		for rows.Next() {
			e, err := scanEarning(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan earning: %w", err)
			}
			earnings = append(earnings, *e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(earnings) != len(earningIDs) {
			return model.ErrEarningNotFound
		}

		var total model.LKR
		for _, e := range earnings {
			if e.UserID != userID {
				return model.ErrEarningOwnerMismatch
			}
			if !e.Claimable() {
				return fmt.Errorf("%w: earning %d", model.ErrEarningNotClaimable, e.ID)
			}
			total += e.Amount
		}

		c := &model.ClaimRequest{
			UserID:     userID,
			EarningIDs: earningIDs,
			Total:      total,
			Status:     model.ClaimPending,
			CreatedAt:  now,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO claim_requests (user_id, total_lkr, status, created_at)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			userID, int64(total), string(model.ClaimPending), now,
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE earnings SET claim_id = $1 WHERE id = ANY($2)`,
			c.ID, earningIDs,
		); err != nil {
			return fmt.Errorf("link earnings: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO claim_request_earnings (claim_id, earning_id)
			 SELECT $1, unnest($2::bigint[])`,
			c.ID, earningIDs,
		); err != nil {
			return fmt.Errorf("insert claim earnings: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		claim = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// GetClaim возвращает заявку вместе с идентификаторами её начислений.
func (r *PostgresRepository) GetClaim(ctx context.Context, id int64) (*model.ClaimRequest, error) {
	c, err := scanClaim(r.pool.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claim_requests c WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrClaimNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

// ApproveClaim одобряет заявку и переводит все её начисления в paid.
func (r *PostgresRepository) ApproveClaim(ctx context.Context, id int64, now time.Time) (*model.ClaimRequest, error) {
	return r.processClaim(ctx, id, func(ctx context.Context, tx pgx.Tx, c *model.ClaimRequest) error {
		if _, err := tx.Exec(ctx,
			`UPDATE earnings SET status = $2, paid_at = $3
			 WHERE claim_id = $1 AND status IN ($4, $5)`,
			id, string(model.EarningPaid), now, string(model.EarningPending), string(model.EarningProcessed),
		); err != nil {
			return fmt.Errorf("mark earnings paid: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE claim_requests SET status = $2, processed_at = $3 WHERE id = $1`,
			id, string(model.ClaimApproved), now,
		); err != nil {
			return fmt.Errorf("approve claim: %w", err)
		}

		c.Status = model.ClaimApproved
		c.ProcessedAt = &now
		return nil
	})
}

// RejectClaim отклоняет заявку и возвращает её начисления в свободное состояние.
func (r *PostgresRepository) RejectClaim(ctx context.Context, id int64, note string, now time.Time) (*model.ClaimRequest, error) {
	return r.processClaim(ctx, id, func(ctx context.Context, tx pgx.Tx, c *model.ClaimRequest) error {
		if _, err := tx.Exec(ctx,
			`UPDATE earnings SET claim_id = NULL WHERE claim_id = $1 AND status = $2`,
			id, string(model.EarningPending),
		); err != nil {
			return fmt.Errorf("release earnings: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE claim_requests SET status = $2, note = $3, processed_at = $4 WHERE id = $1`,
			id, string(model.ClaimRejected), note, now,
		); err != nil {
			return fmt.Errorf("reject claim: %w", err)
		}

		c.Status = model.ClaimRejected
		c.Note = note
		c.ProcessedAt = &now
		return nil
	})
}

func (r *PostgresRepository) processClaim(ctx context.Context, id int64, apply func(ctx context.Context, tx pgx.Tx, c *model.ClaimRequest) error) (*model.ClaimRequest, error) {
	var res *model.ClaimRequest
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		c, err := scanClaim(tx.QueryRow(ctx,
			`SELECT `+claimColumns+` FROM claim_requests c WHERE c.id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrClaimNotFound
			}
			return fmt.Errorf("lock claim: %w", err)
		}

		if c.Status != model.ClaimPending {
			return fmt.Errorf("%w: claim %d is %s", model.ErrClaimNotPending, id, c.Status)
		}

		if err := apply(ctx, tx, c); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		res = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MarkClaimNotified атомарно отмечает отправку письма по заявке.
// Возвращает false, если письмо уже было отправлено.
func (r *PostgresRepository) MarkClaimNotified(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE claim_requests SET notification_email_sent = TRUE WHERE id = $1 AND NOT notification_email_sent`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark claim notified: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEarning(row pgx.Row) (*model.Earning, error) {
	var (
		e                       model.Earning
		promoID, buyerID, txID *int64
		amount           int64
		status           string
	)
	err := row.Scan(&e.ID, &e.UserID, &promoID, &buyerID, &txID, &e.Source, &amount, &status, &e.ClaimID, &e.CreatedAt, &e.PaidAt)
	if err != nil {
		return nil, err
	}
	e.PromoCodeID = deref(promoID)
	e.BuyerID = deref(buyerID)
	e.PurchaseTxID = deref(txID)
	e.Amount = model.LKR(amount)
	e.Status = model.EarningStatus(status)
	return &e, nil
}

func scanClaim(row pgx.Row) (*model.ClaimRequest, error) {
	var (
		c      model.ClaimRequest
		total  int64
		status string
	)
	err := row.Scan(&c.ID, &c.UserID, &total, &status, &c.Note, &c.NotificationEmailSent, &c.CreatedAt, &c.ProcessedAt, &c.EarningIDs)
	if err != nil {
		return nil, err
	}
	c.Total = model.LKR(total)
	c.Status = model.ClaimStatus(status)
	return &c, nil
}
