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
)

const txnSelectColumns = `transaction_id, user_id, COALESCE(job_id, ''), type, COALESCE(provider, ''), COALESCE(status, ''), COALESCE(amount_rub, 0), COALESCE(tokens_delta, 0), currency, COALESCE(reference, ''), meta_data, created_at`

// RecordTransaction appends one immutable ledger entry. Entries are never
// updated or deleted.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := otel.Tracer("ledger.record").Start(ctx, "Saving transaction to db")
	defer span.End()

	if txn.TransactionID == "" {
		txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	metaDataJSON, err := marshalMetaData(txn.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, user_id, job_id, type, provider, status, amount_rub, tokens_delta, currency, reference, meta_data, created_at)
		VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''), $6, $7, $8, $9, NULLIF($10,''), $11, $12)
	`, txn.TransactionID, txn.UserID, txn.JobID, txn.Type, txn.Provider, txn.Status,
		txn.AmountRub, txn.TokensDelta, txn.Currency, txn.Reference, metaDataJSON, txn.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	return txn, nil
}

func scanTxnRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var metaDataJSON []byte
	err := scanner.Scan(&txn.TransactionID, &txn.UserID, &txn.JobID, &txn.Type, &txn.Provider,
		&txn.Status, &txn.AmountRub, &txn.TokensDelta, &txn.Currency, &txn.Reference, &metaDataJSON, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalMetaData(metaDataJSON, &txn.MetaData); err != nil {
		return nil, err
	}
	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE transaction_id = $1
	`, txnSelectColumns), id)

	txn, err := scanTxnRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) TransactionExistsByRef(ctx context.Context, userID, reference string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM transactions WHERE user_id = $1 AND reference = $2)
	`, userID, reference).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check if transaction exists", err)
	}
	return exists, nil
}

func (d Datasource) GetTransactionsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, txnSelectColumns), userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	var txns []*model.Transaction
	for rows.Next() {
		txn, err := scanTxnRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// SumTokensByReference totals token deltas credited under a reference, used
// for referral earnings stats.
func (d Datasource) SumTokensByReference(ctx context.Context, userID, reference string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_delta), 0) FROM transactions
		WHERE user_id = $1 AND reference LIKE $2 || '%'
	`, userID, reference).Scan(&total)
	if err != nil {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum transactions", err)
	}
	return total, nil
}
