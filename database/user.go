package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
)

func (d Datasource) CreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	user.UserID = model.GenerateUUIDWithSuffix("usr")
	user.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO users (user_id, telegram_id, username, anon_user_id, email, balance_tokens, ref_code, referrer_id, created_at)
		 VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6, NULLIF($7,''), NULLIF($8,''), $9)`,
		user.UserID, user.TelegramID, user.Username, user.AnonUserID, user.Email, user.BalanceTokens, user.RefCode, user.ReferrerID, user.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create user", err)
	}

	return user, nil
}

func scanUserRow(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var telegramID, username, anonUserID, email, refCode, referrerID sql.NullString
	err := row.Scan(&user.UserID, &telegramID, &username, &anonUserID, &email,
		&user.BalanceTokens, &refCode, &referrerID, &user.HasLeftReview, &user.HasChannelSub, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	user.TelegramID = telegramID.String
	user.Username = username.String
	user.AnonUserID = anonUserID.String
	user.Email = email.String
	user.RefCode = refCode.String
	user.ReferrerID = referrerID.String
	return user, nil
}

const userSelectColumns = `user_id, telegram_id, username, anon_user_id, email, balance_tokens, ref_code, referrer_id, has_left_review, has_channel_sub, created_at`

func (d Datasource) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM users WHERE user_id = $1
	`, userSelectColumns), id)

	user, err := scanUserRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}
	return user, nil
}

func (d Datasource) GetUserByAnonID(ctx context.Context, anonID string) (*model.User, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM users WHERE anon_user_id = $1
	`, userSelectColumns), anonID)

	user, err := scanUserRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with anon id '%s' not found", anonID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}
	return user, nil
}

func (d Datasource) GetUserByRefCode(ctx context.Context, refCode string) (*model.User, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM users WHERE ref_code = $1
	`, userSelectColumns), refCode)

	user, err := scanUserRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("User with ref code '%s' not found", refCode), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve user", err)
	}
	return user, nil
}

// ReserveBalance atomically verifies and decrements a user's balance. The
// balance check and the decrement are one statement; there is no window in
// which two reservations can both observe the same funds.
//
// Returns false (with no error) when the balance is insufficient. That is a
// normal business outcome, not a failure.
func (d Datasource) ReserveBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	ctx, span := otel.Tracer("ledger.reserve").Start(ctx, "Reserving tokens")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE users
		SET balance_tokens = balance_tokens - $2
		WHERE user_id = $1 AND balance_tokens >= $2
	`, userID, amount)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve balance", err)
	}
	return rowsAffected > 0, nil
}

// CreditIdempotent applies a one-shot credit as a single guarded write. The
// ledger entry is inserted first; the partial unique index on
// (user_id, reference) rejects a duplicate, and the balance update only fires
// when the insert landed. One-shot user flags are flipped in the same
// statement for the bonus references that carry them.
//
// Returns true only for the call that actually granted the credit.
func (d Datasource) CreditIdempotent(ctx context.Context, txn *model.Transaction) (bool, error) {
	ctx, span := otel.Tracer("ledger.credit").Start(ctx, "Applying idempotent credit")
	defer span.End()

	if txn.Reference == "" {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotent credit requires a reference", nil)
	}
	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	metaDataJSON, err := marshalMetaData(txn.MetaData)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		WITH ins AS (
			INSERT INTO transactions (transaction_id, user_id, job_id, type, provider, status, amount_rub, tokens_delta, currency, reference, meta_data, created_at)
			VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (user_id, reference) WHERE reference IS NOT NULL DO NOTHING
			RETURNING user_id
		)
		UPDATE users u
		SET balance_tokens = u.balance_tokens + $8,
			has_left_review = CASE WHEN $10 = 'review_bonus' THEN TRUE ELSE u.has_left_review END,
			has_channel_sub = CASE WHEN $10 = 'channel_bonus' THEN TRUE ELSE u.has_channel_sub END
		FROM ins
		WHERE u.user_id = ins.user_id
	`, txn.TransactionID, txn.UserID, txn.JobID, txn.Type, txn.Provider, txn.Status,
		txn.AmountRub, txn.TokensDelta, txn.Currency, txn.Reference, metaDataJSON, txn.CreatedAt)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply credit", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to apply credit", err)
	}
	return rowsAffected > 0, nil
}
