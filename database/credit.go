/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

const balanceColumns = `user_id, credit_type, balance, expires_at, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func scanBalances(rows *sql.Rows) ([]model.CreditBalance, error) {
	balances := []model.CreditBalance{}
	for rows.Next() {
		var b model.CreditBalance
		var expiresAt sql.NullTime
		if err := rows.Scan(&b.UserID, &b.Type, &b.Balance, &expiresAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan credit balance", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			b.ExpiresAt = &t
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over credit balances", err)
	}
	return balances, nil
}

func selectBalances(ctx context.Context, q queryer, userID string, forUpdate bool) ([]model.CreditBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM reelscript.credit_balances WHERE user_id = $1 ORDER BY credit_type`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit balances", err)
	}
	defer rows.Close()
	return scanBalances(rows)
}

func (d Datasource) GetCreditBalances(ctx context.Context, userID string) ([]model.CreditBalance, error) {
	return selectBalances(ctx, d.Conn, userID, false)
}

func insertCreditTransaction(ctx context.Context, tx *sql.Tx, txn *model.CreditTransaction) error {
	txn.TransactionID = model.GenerateUUIDWithSuffix("ctx")
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reelscript.credit_transactions (
			transaction_id, user_id, credit_type, amount, balance_after, kind, description, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`, txn.TransactionID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Kind,
		txn.Description, txn.CorrelationID, txn.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Credit transaction already recorded for this correlation", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record credit transaction", err)
	}
	return nil
}

func setBalance(ctx context.Context, tx *sql.Tx, userID string, creditType model.CreditType, balance int64, expiresAt *time.Time, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE reelscript.credit_balances
		SET balance = $3, expires_at = $4, updated_at = $5
		WHERE user_id = $1 AND credit_type = $2
	`, userID, creditType, balance, expiresAt, now)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update credit balance", err)
	}
	return nil
}

// ConsumeCredits draws amount from the user's buckets in priority order.
// All balance rows are locked for the duration of the transaction, and a
// shortfall rolls back without writing anything.
func (d Datasource) ConsumeCredits(ctx context.Context, userID string, amount int64, correlationID string, now time.Time) (model.CreditBreakdown, error) {
	return d.charge(ctx, userID, amount, correlationID, now, nil)
}

// charge debits the user and, when then is set, runs it inside the same
// transaction. Nothing is written unless both succeed.
func (d Datasource) charge(ctx context.Context, userID string, amount int64, correlationID string, now time.Time, then func(tx *sql.Tx) error) (model.CreditBreakdown, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return model.CreditBreakdown{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	breakdown, err := consumeTx(ctx, tx, userID, amount, correlationID, now)
	if err != nil {
		return model.CreditBreakdown{}, err
	}
	if then != nil {
		if err := then(tx); err != nil {
			return model.CreditBreakdown{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.CreditBreakdown{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return breakdown, nil
}

func consumeTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, correlationID string, now time.Time) (model.CreditBreakdown, error) {
	balances, err := selectBalances(ctx, tx, userID, true)
	if err != nil {
		return model.CreditBreakdown{}, err
	}

	draws, breakdown, err := model.PlanConsumption(balances, amount, now)
	if errors.Is(err, model.ErrInsufficientCredits) {
		return model.CreditBreakdown{}, apierror.NewAPIError(apierror.ErrInsufficientCredits, "Insufficient credits", map[string]int64{
			"required":  amount,
			"available": model.TotalEffective(balances, now),
		})
	}

	expiry := make(map[model.CreditType]*time.Time, len(balances))
	for _, b := range balances {
		expiry[b.Type] = b.ExpiresAt
	}

	for _, draw := range draws {
		if err := setBalance(ctx, tx, userID, draw.Type, draw.BalanceAfter, expiry[draw.Type], now); err != nil {
			return model.CreditBreakdown{}, err
		}
		err := insertCreditTransaction(ctx, tx, &model.CreditTransaction{
			UserID:        userID,
			Type:          draw.Type,
			Amount:        -draw.Amount,
			BalanceAfter:  draw.BalanceAfter,
			Kind:          model.KindGeneration,
			Description:   "script generation",
			CorrelationID: correlationID,
			CreatedAt:     now,
		})
		if err != nil {
			return model.CreditBreakdown{}, err
		}
	}
	return breakdown, nil
}

// GrantCredits upserts the bucket and records the grant in the same transaction.
// A conditional grant whose condition does not hold returns no transactions.
func (d Datasource) GrantCredits(ctx context.Context, grant model.CreditGrant, now time.Time) ([]model.CreditTransaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO reelscript.credit_balances (user_id, credit_type, balance, expires_at, created_at, updated_at)
		VALUES ($1, $2, 0, NULL, $3, $3)
		ON CONFLICT (user_id, credit_type) DO NOTHING
	`, grant.UserID, grant.Type, now)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create credit balance", err)
	}
	created, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create credit balance", err)
	}
	if grant.OnlyIfNew && created == 0 {
		return nil, nil
	}

	var balance int64
	var current sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT balance, expires_at FROM reelscript.credit_balances
		WHERE user_id = $1 AND credit_type = $2
		FOR UPDATE
	`, grant.UserID, grant.Type).Scan(&balance, &current)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock credit balance", err)
	}

	if grant.OnlyIfExpiredBy != nil && (!current.Valid || current.Time.After(*grant.OnlyIfExpiredBy)) {
		return nil, nil
	}

	var expiresAt *time.Time
	if current.Valid {
		expiresAt = &current.Time
	}
	if grant.ExpiresAt != nil {
		expiresAt = grant.ExpiresAt
	}

	txns := []model.CreditTransaction{}
	if grant.ResetPrior && balance != 0 {
		expired := model.CreditTransaction{
			UserID:        grant.UserID,
			Type:          grant.Type,
			Amount:        -balance,
			BalanceAfter:  0,
			Kind:          model.KindExpire,
			Description:   fmt.Sprintf("unused %s credits expired", grant.Type),
			CorrelationID: grant.CorrelationID,
			CreatedAt:     now,
		}
		if err := insertCreditTransaction(ctx, tx, &expired); err != nil {
			return nil, err
		}
		txns = append(txns, expired)
		balance = 0
	}

	newBalance := max(balance+grant.Amount, 0)
	if err := setBalance(ctx, tx, grant.UserID, grant.Type, newBalance, expiresAt, now); err != nil {
		return nil, err
	}

	granted := model.CreditTransaction{
		UserID:        grant.UserID,
		Type:          grant.Type,
		Amount:        newBalance - balance,
		BalanceAfter:  newBalance,
		Kind:          grant.Kind,
		Description:   grant.Description,
		CorrelationID: grant.CorrelationID,
		CreatedAt:     now,
	}
	if err := insertCreditTransaction(ctx, tx, &granted); err != nil {
		return nil, err
	}
	txns = append(txns, granted)

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return txns, nil
}

// RefundCredits reverses every generation draw recorded under correlationID.
// The user's balance rows are locked before checking for an earlier refund,
// so concurrent refunds of the same correlation apply once.
func (d Datasource) RefundCredits(ctx context.Context, correlationID string, now time.Time) ([]model.CreditTransaction, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, credit_type, amount
		FROM reelscript.credit_transactions
		WHERE correlation_id = $1 AND kind = 'generation'
		ORDER BY id ASC
	`, correlationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve generation entries", err)
	}
	var draws []model.CreditTransaction
	for rows.Next() {
		var t model.CreditTransaction
		if err := rows.Scan(&t.UserID, &t.Type, &t.Amount); err != nil {
			rows.Close()
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan generation entry", err)
		}
		draws = append(draws, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over generation entries", err)
	}
	if len(draws) == 0 {
		return nil, nil
	}

	userID := draws[0].UserID
	balances, err := selectBalances(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}

	var refunded bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM reelscript.credit_transactions WHERE correlation_id = $1 AND kind = 'refund')
	`, correlationID).Scan(&refunded)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check for refund", err)
	}
	if refunded {
		return nil, nil
	}

	current := make(map[model.CreditType]model.CreditBalance, len(balances))
	for _, b := range balances {
		current[b.Type] = b
	}

	txns := []model.CreditTransaction{}
	for _, draw := range draws {
		b := current[draw.Type]
		b.Balance -= draw.Amount
		current[draw.Type] = b

		if err := setBalance(ctx, tx, userID, draw.Type, b.Balance, b.ExpiresAt, now); err != nil {
			return nil, err
		}
		refund := model.CreditTransaction{
			UserID:        userID,
			Type:          draw.Type,
			Amount:        -draw.Amount,
			BalanceAfter:  b.Balance,
			Kind:          model.KindRefund,
			Description:   "refund for failed generation",
			CorrelationID: correlationID,
			CreatedAt:     now,
		}
		if err := insertCreditTransaction(ctx, tx, &refund); err != nil {
			return nil, err
		}
		txns = append(txns, refund)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return txns, nil
}

func (d Datasource) GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, user_id, credit_type, amount, balance_after, kind,
			COALESCE(description, ''), COALESCE(correlation_id, ''), created_at
		FROM reelscript.credit_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit transactions", err)
	}
	defer rows.Close()

	txns := []model.CreditTransaction{}
	for rows.Next() {
		var t model.CreditTransaction
		err := rows.Scan(&t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Kind,
			&t.Description, &t.CorrelationID, &t.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan credit transaction", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over credit transactions", err)
	}
	return txns, nil
}

// HasLedgerEntry reports whether an entry of kind was recorded under correlationID.
func (d Datasource) HasLedgerEntry(ctx context.Context, correlationID string, kind model.TransactionKind) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM reelscript.credit_transactions WHERE correlation_id = $1 AND kind = $2)
	`, correlationID, kind).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to look up ledger entry", err)
	}
	return exists, nil
}

// ListExpiredFreeBalances returns users whose free bucket expired at or before now.
func (d Datasource) ListExpiredFreeBalances(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT user_id FROM reelscript.credit_balances
		WHERE credit_type = 'free' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY user_id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list expired free balances", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan user id", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (d Datasource) ListUsersWithoutFreeBalance(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT u.user_id, u.email
		FROM reelscript.users u
		LEFT JOIN reelscript.credit_balances b ON b.user_id = u.user_id AND b.credit_type = 'free'
		WHERE b.user_id IS NULL
		ORDER BY u.user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list users without free balance", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.UserID, &u.Email); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan user", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
