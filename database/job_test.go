/*
Copyright 2024 Kreatum Authors.

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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/model"
)

func TestCreateJob_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	job := &model.Job{
		UserID:         "usr_1",
		ModelID:        "mdl_1",
		Status:         model.StatusQueued,
		TokensReserved: decimal.NewFromInt(120),
		IsPaid:         true,
		Input: []model.InputItem{
			{Kind: model.InputKindText, Value: "a cat surfing"},
		},
	}

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateJob(context.Background(), job)
	assert.NoError(t, err)
	assert.Contains(t, created.JobID, "job_")
	assert.NotEmpty(t, created.OrderID)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRequestHandle_SetOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	handle := model.RequestHandle{RequestID: "req-abc", EndpointID: "fal-ai/veo3"}

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job_1", handle.RequestID, handle.EndpointID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := ds.SetRequestHandle(context.Background(), "job_1", handle)
	assert.NoError(t, err)
	assert.True(t, ok)
}

// A second submission attempt finds request_id already set; the write lands
// on zero rows.
func TestSetRequestHandle_AlreadySet(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ds.SetRequestHandle(context.Background(), "job_1", model.RequestHandle{RequestID: "req-other"})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func jobRows(job *model.Job) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"job_id", "user_id", "model_id", "anon_user_id", "order_id", "service_type",
		"status", "price_rub", "tokens_reserved", "tokens_consumed", "is_paid",
		"request_id", "endpoint_id", "input", "result_url", "meta_data", "created_at",
	}).AddRow(
		job.JobID, job.UserID, job.ModelID, job.AnonUserID, job.OrderID, job.ServiceType,
		job.Status, job.PriceRub.String(), job.TokensReserved.String(), job.TokensConsumed.String(), job.IsPaid,
		job.RequestID, job.EndpointID, []byte(`[]`), job.ResultURL, []byte(`{}`), job.CreatedAt,
	)
}

func TestMarkJobPaid_FirstDeliveryWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	expected := &model.Job{
		JobID:          "job_1",
		UserID:         "usr_1",
		OrderID:        "ord-1",
		Status:         model.StatusQueued,
		TokensReserved: decimal.NewFromInt(120),
		IsPaid:         true,
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("UPDATE jobs").
		WithArgs("ord-1").
		WillReturnRows(jobRows(expected))

	job, won, err := ds.MarkJobPaid(context.Background(), "ord-1")
	assert.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.True(t, job.IsPaid)
}

// A duplicate delivery finds the job no longer in waiting_payment; the guard
// rejects it and the caller must not submit the job again.
func TestMarkJobPaid_DuplicateDeliveryNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("UPDATE jobs").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	job, won, err := ds.MarkJobPaid(context.Background(), "ord-1")
	assert.NoError(t, err)
	assert.False(t, won)
	assert.Nil(t, job)
}

func TestCompleteJob_TerminalGuard(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job_1", "https://cdn.example/result.mp4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := ds.CompleteJob(context.Background(), "job_1", "https://cdn.example/result.mp4")
	assert.NoError(t, err)
	assert.True(t, ok)

	// second driver loses the race, zero rows
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = ds.CompleteJob(context.Background(), "job_1", "https://cdn.example/other.mp4")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFailJob_AlreadyTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job_1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := ds.FailJob(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRefundJobReservation_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}).
			AddRow("usr_1", "120"))

	userID, amount, refunded, err := ds.RefundJobReservation(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, "usr_1", userID)
	assert.True(t, amount.Equal(decimal.NewFromInt(120)))
}

// A second refund call selects no row because the reservation is already
// zero. Nothing is credited twice.
func TestRefundJobReservation_AlreadyRefunded(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}))

	_, amount, refunded, err := ds.RefundJobReservation(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.False(t, refunded)
	assert.True(t, amount.IsZero())
}

func TestListPollableJobs(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	pollable := &model.Job{
		JobID:          "job_1",
		UserID:         "usr_1",
		OrderID:        "ord-1",
		Status:         model.StatusProcessing,
		TokensReserved: decimal.NewFromInt(50),
		IsPaid:         true,
		RequestID:      "req-abc",
		EndpointID:     "fal-ai/veo3",
		CreatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM jobs").
		WillReturnRows(jobRows(pollable))

	jobs, err := ds.ListPollableJobs(context.Background())
	assert.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, "req-abc", jobs[0].RequestID)
}
