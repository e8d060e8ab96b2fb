package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"

	"github.com/shopspring/decimal"
)

const jobSelectColumns = `job_id, user_id, COALESCE(model_id, ''), COALESCE(anon_user_id, ''), COALESCE(order_id, ''), COALESCE(service_type, ''), status, COALESCE(price_rub, 0), tokens_reserved, tokens_consumed, is_paid, COALESCE(request_id, ''), COALESCE(endpoint_id, ''), input, COALESCE(result_url, ''), meta_data, created_at`

func (d Datasource) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	ctx, span := otel.Tracer("job.create").Start(ctx, "Saving job to db")
	defer span.End()

	if job.JobID == "" {
		job.JobID = model.GenerateUUIDWithSuffix("job")
	}
	if job.OrderID == "" {
		job.OrderID = model.GenerateOrderID()
	}
	job.CreatedAt = time.Now()

	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal job input", err)
	}
	metaDataJSON, err := marshalMetaData(job.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO jobs (job_id, user_id, model_id, anon_user_id, order_id, service_type, status, price_rub, tokens_reserved, tokens_consumed, is_paid, input, meta_data, created_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), $7, $8, $9, $10, $11, $12, $13, $14)
	`, job.JobID, job.UserID, job.ModelID, job.AnonUserID, job.OrderID, job.ServiceType, job.Status,
		job.PriceRub, job.TokensReserved, job.TokensConsumed, job.IsPaid, inputJSON, metaDataJSON, job.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record job", err)
	}

	return job, nil
}

func scanJobRow(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Job, error) {
	job := &model.Job{}
	var inputJSON, metaDataJSON []byte
	err := scanner.Scan(&job.JobID, &job.UserID, &job.ModelID, &job.AnonUserID, &job.OrderID,
		&job.ServiceType, &job.Status, &job.PriceRub, &job.TokensReserved, &job.TokensConsumed,
		&job.IsPaid, &job.RequestID, &job.EndpointID, &inputJSON, &job.ResultURL, &metaDataJSON, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
			return nil, err
		}
	}
	if err := unmarshalMetaData(metaDataJSON, &job.MetaData); err != nil {
		return nil, err
	}
	return job, nil
}

func (d Datasource) GetJobByID(ctx context.Context, id string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE job_id = $1`, jobSelectColumns), id)

	job, err := scanJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	return job, nil
}

func (d Datasource) GetJobByOrderID(ctx context.Context, orderID string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE order_id = $1`, jobSelectColumns), orderID)

	job, err := scanJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with order id '%s' not found", orderID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	return job, nil
}

func (d Datasource) GetJobByRequestID(ctx context.Context, requestID string) (*model.Job, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM jobs WHERE request_id = $1`, jobSelectColumns), requestID)

	job, err := scanJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Job with request id '%s' not found", requestID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve job", err)
	}
	return job, nil
}

func (d Datasource) GetJobsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Job, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, jobSelectColumns), userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetRequestHandle records the provider correlation pair on a job. The handle
// is written once; a second submission attempt finds request_id already set
// and reports false.
func (d Datasource) SetRequestHandle(ctx context.Context, jobID string, handle model.RequestHandle) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE jobs
		SET request_id = $2, endpoint_id = $3
		WHERE job_id = $1 AND request_id IS NULL
	`, jobID, handle.RequestID, handle.EndpointID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set request handle", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set request handle", err)
	}
	return rowsAffected > 0, nil
}

// MarkJobPaid flips a waiting_payment job to queued. The status guard makes
// duplicate gateway deliveries a no-op: only the first delivery observes
// waiting_payment and wins the transition.
func (d Datasource) MarkJobPaid(ctx context.Context, orderID string) (*model.Job, bool, error) {
	ctx, span := otel.Tracer("job.paid").Start(ctx, "Marking job paid")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE jobs
		SET is_paid = TRUE, status = '%s'
		WHERE order_id = $1 AND status = '%s'
		RETURNING %s
	`, model.StatusQueued, model.StatusWaitingPayment, jobSelectColumns), orderID)

	job, err := scanJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark job paid", err)
	}
	return job, true, nil
}

// MarkJobProcessing moves a queued job to processing. Idempotent: a job
// already processing (or terminal) is left untouched.
func (d Datasource) MarkJobProcessing(ctx context.Context, jobID string) error {
	_, err := d.Conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs
		SET status = '%s'
		WHERE job_id = $1 AND status = '%s'
	`, model.StatusProcessing, model.StatusQueued), jobID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark job processing", err)
	}
	return nil
}

// CompleteJob transitions a job to done and sets the result reference. The
// reservation is consumed in the same statement. The terminal guard is the
// whole concurrency story: whichever driver (webhook or poller) lands first
// wins; the loser's write affects zero rows.
func (d Datasource) CompleteJob(ctx context.Context, jobID string, resultURL string) (bool, error) {
	ctx, span := otel.Tracer("job.complete").Start(ctx, "Applying completion")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs
		SET status = '%s', result_url = $2, tokens_consumed = tokens_reserved
		WHERE job_id = $1 AND status NOT IN ('%s', '%s')
	`, model.StatusDone, model.StatusDone, model.StatusFailed), jobID, resultURL)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete job", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete job", err)
	}
	return rowsAffected > 0, nil
}

// FailJob transitions a job to failed under the same terminal guard as
// CompleteJob.
func (d Datasource) FailJob(ctx context.Context, jobID string) (bool, error) {
	ctx, span := otel.Tracer("job.fail").Start(ctx, "Applying failure")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs
		SET status = '%s'
		WHERE job_id = $1 AND status NOT IN ('%s', '%s')
	`, model.StatusFailed, model.StatusDone, model.StatusFailed), jobID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail job", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail job", err)
	}
	return rowsAffected > 0, nil
}

// RefundJobReservation returns a job's reserved tokens to its owner. The
// select-lock-update-credit sequence is one SQL statement, so calling it twice
// can never double-credit: the second call finds tokens_reserved already zero
// and selects no row.
//
// Returns the owner, the refunded amount, and whether this call performed the
// refund.
func (d Datasource) RefundJobReservation(ctx context.Context, jobID string) (string, decimal.Decimal, bool, error) {
	ctx, span := otel.Tracer("ledger.refund").Start(ctx, "Refunding reservation")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		WITH held AS (
			SELECT job_id, user_id, tokens_reserved
			FROM jobs
			WHERE job_id = $1 AND tokens_reserved > 0
			FOR UPDATE
		), released AS (
			UPDATE jobs j
			SET tokens_reserved = 0, tokens_consumed = 0
			FROM held
			WHERE j.job_id = held.job_id
		), credited AS (
			UPDATE users u
			SET balance_tokens = u.balance_tokens + held.tokens_reserved
			FROM held
			WHERE u.user_id = held.user_id
		)
		SELECT user_id, tokens_reserved FROM held
	`, jobID)

	var userID string
	var amount decimal.Decimal
	err := row.Scan(&userID, &amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", decimal.Zero, false, nil
		}
		return "", decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to refund reservation", err)
	}
	return userID, amount, true, nil
}

// ListPollableJobs returns paid jobs in a non-terminal status that have a
// provider request handle, which is the poller's sweep set.
func (d Datasource) ListPollableJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE is_paid = TRUE AND status IN ('%s', '%s') AND request_id IS NOT NULL
		ORDER BY created_at ASC
	`, jobSelectColumns, model.StatusQueued, model.StatusProcessing))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list pollable jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
