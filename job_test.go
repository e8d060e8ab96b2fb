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

package kreatum

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

var jobColumns = []string{
	"job_id", "user_id", "model_id", "anon_user_id", "order_id", "service_type",
	"status", "price_rub", "tokens_reserved", "tokens_consumed", "is_paid",
	"request_id", "endpoint_id", "input", "result_url", "meta_data", "created_at",
}

func jobRow(job *model.Job) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns).AddRow(
		job.JobID, job.UserID, job.ModelID, job.AnonUserID, job.OrderID, job.ServiceType,
		job.Status, job.PriceRub.String(), job.TokensReserved.String(), job.TokensConsumed.String(), job.IsPaid,
		job.RequestID, job.EndpointID, []byte(`[{"kind":"text","value":"a cat"}]`), job.ResultURL,
		[]byte(`{}`), time.Now(),
	)
}

func modelRow(genModel *model.GenModel) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"model_id", "name", "title", "endpoint", "cost_unit", "cost_per_unit_tokens",
		"currency", "max_file_count", "options", "created_at",
	}).AddRow(
		genModel.ModelID, genModel.Name, genModel.Title, genModel.Endpoint, genModel.CostUnit,
		genModel.CostPerUnitTokens.String(), genModel.Currency, genModel.MaxFileCount, []byte(`{}`), time.Now(),
	)
}

func textInput(prompt string) []model.InputItem {
	return []model.InputItem{{Kind: model.InputKindText, Value: prompt}}
}

func TestPriceJob(t *testing.T) {
	cnf := &config.Configuration{Pricing: config.PricingConfig{UsdToRub: 100}}

	t.Run("usd catalog price converts then rounds up", func(t *testing.T) {
		genModel := &model.GenModel{
			CostPerUnitTokens: decimal.RequireFromString("0.5"),
			Currency:          "USD",
		}
		priceRub, tokens := priceJob(cnf, genModel, 2)
		assert.True(t, priceRub.Equal(decimal.NewFromInt(100)), "got %s", priceRub)
		assert.True(t, tokens.Equal(decimal.NewFromInt(120)), "got %s", tokens)
	})

	t.Run("rub catalog price used directly", func(t *testing.T) {
		genModel := &model.GenModel{
			CostPerUnitTokens: decimal.NewFromInt(10),
			Currency:          "RUB",
		}
		priceRub, tokens := priceJob(cnf, genModel, 1)
		assert.True(t, priceRub.Equal(decimal.NewFromInt(10)))
		assert.True(t, tokens.Equal(decimal.NewFromInt(12)))
	})

	t.Run("never below one token", func(t *testing.T) {
		genModel := &model.GenModel{
			CostPerUnitTokens: decimal.RequireFromString("0.01"),
			Currency:          "RUB",
		}
		_, tokens := priceJob(cnf, genModel, 1)
		assert.True(t, tokens.GreaterThanOrEqual(decimal.NewFromInt(1)))
	})

	t.Run("zero units priced as one", func(t *testing.T) {
		genModel := &model.GenModel{
			CostPerUnitTokens: decimal.NewFromInt(10),
			Currency:          "RUB",
		}
		priceRub, _ := priceJob(cnf, genModel, 0)
		assert.True(t, priceRub.Equal(decimal.NewFromInt(10)))
	})
}

func TestCreateJob_ReservedAndSubmitted(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://queue.example.test/fal-ai/veo3",
		httpmock.NewStringResponder(200, `{"request_id": "req_abc"}`))

	genModel := &model.GenModel{
		ModelID:           "mdl_1",
		Name:              "veo3",
		Endpoint:          "fal-ai/veo3",
		CostPerUnitTokens: decimal.NewFromInt(100),
		Currency:          "RUB",
	}

	mock.ExpectQuery("SELECT .+ FROM models WHERE name =").
		WithArgs("veo3").
		WillReturnRows(modelRow(genModel))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM models WHERE model_id =").
		WithArgs("mdl_1").
		WillReturnRows(modelRow(genModel))
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := k.CreateJob(context.Background(), JobRequest{
		UserID:    "usr_1",
		ModelName: "veo3",
		Units:     1,
		Input:     textInput("a cat on a skateboard"),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.True(t, job.IsPaid)
	assert.True(t, job.TokensReserved.Equal(decimal.NewFromInt(120)))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

// A request carrying only an anon id runs against that client's users row;
// the job row always references a real user.
func TestCreateJob_AnonOnlyResolvesOwner(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://queue.example.test/fal-ai/veo3",
		httpmock.NewStringResponder(200, `{"request_id": "req_abc"}`))

	genModel := &model.GenModel{
		ModelID:           "mdl_1",
		Name:              "veo3",
		Endpoint:          "fal-ai/veo3",
		CostPerUnitTokens: decimal.NewFromInt(100),
		Currency:          "RUB",
	}

	mock.ExpectQuery("SELECT .+ FROM users WHERE anon_user_id =").
		WithArgs("anon-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "telegram_id", "username", "anon_user_id", "email", "balance_tokens",
			"ref_code", "referrer_id", "has_left_review", "has_channel_sub", "created_at",
		}).AddRow("usr_9", "", "", "anon-1", "", "500", "ref9", "", false, false, time.Now()))
	mock.ExpectQuery("SELECT .+ FROM models WHERE name =").
		WithArgs("veo3").
		WillReturnRows(modelRow(genModel))
	mock.ExpectExec("UPDATE users").
		WithArgs("usr_9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM models WHERE model_id =").
		WithArgs("mdl_1").
		WillReturnRows(modelRow(genModel))
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := k.CreateJob(context.Background(), JobRequest{
		AnonUserID: "anon-1",
		ModelName:  "veo3",
		Units:      1,
		Input:      textInput("a cat on a skateboard"),
	})
	assert.NoError(t, err)
	assert.Equal(t, "usr_9", job.UserID)
	assert.Equal(t, "anon-1", job.AnonUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An anon id never seen before gets a users row on the spot.
func TestCreateJob_AnonFirstTouchCreatesUser(t *testing.T) {
	k, mock := newTestService(t)

	genModel := &model.GenModel{
		ModelID:           "mdl_1",
		Name:              "veo3",
		Endpoint:          "fal-ai/veo3",
		CostPerUnitTokens: decimal.NewFromInt(100),
		Currency:          "RUB",
	}

	mock.ExpectQuery("SELECT .+ FROM users WHERE anon_user_id =").
		WithArgs("anon-new").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM models WHERE name =").
		WithArgs("veo3").
		WillReturnRows(modelRow(genModel))
	// a fresh user holds no balance, the job parks in waiting_payment
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	job, err := k.CreateJob(context.Background(), JobRequest{
		AnonUserID: "anon-new",
		ModelName:  "veo3",
		Units:      1,
		Input:      textInput("a cat on a skateboard"),
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, job.UserID)
	assert.Equal(t, model.StatusWaitingPayment, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_RequiresOwner(t *testing.T) {
	k, mock := newTestService(t)

	_, err := k.CreateJob(context.Background(), JobRequest{
		ModelName: "veo3",
		Units:     1,
		Input:     textInput("a cat"),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_InsufficientBalanceParksWaitingPayment(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	genModel := &model.GenModel{
		ModelID:           "mdl_1",
		Name:              "veo3",
		CostPerUnitTokens: decimal.NewFromInt(1000),
		Currency:          "RUB",
	}

	mock.ExpectQuery("SELECT .+ FROM models WHERE name =").
		WithArgs("veo3").
		WillReturnRows(modelRow(genModel))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	job, err := k.CreateJob(context.Background(), JobRequest{
		UserID:    "usr_1",
		ModelName: "veo3",
		Units:     1,
		Input:     textInput("a cat"),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusWaitingPayment, job.Status)
	assert.False(t, job.IsPaid)
	assert.NotEmpty(t, job.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
	// nothing went to the provider
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestCreateJob_RejectsEmptyInput(t *testing.T) {
	k, _ := newTestService(t)

	_, err := k.CreateJob(context.Background(), JobRequest{
		UserID:    "usr_1",
		ModelName: "veo3",
	})
	assert.Error(t, err)
}

func TestCancelJob_RefundsPaidJob(t *testing.T) {
	k, mock := newTestService(t)

	job := &model.Job{
		JobID:          "job_1",
		UserID:         "usr_1",
		Status:         model.StatusProcessing,
		IsPaid:         true,
		TokensReserved: decimal.NewFromInt(120),
	}

	mock.ExpectQuery("SELECT .+ FROM jobs WHERE job_id =").
		WithArgs("job_1").
		WillReturnRows(jobRow(job))
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}).AddRow("usr_1", "120"))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	failed := &model.Job{JobID: "job_1", UserID: "usr_1", Status: model.StatusFailed}
	mock.ExpectQuery("SELECT .+ FROM jobs WHERE job_id =").
		WithArgs("job_1").
		WillReturnRows(jobRow(failed))

	got, err := k.CancelJob(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelJob_TerminalJobConflicts(t *testing.T) {
	k, mock := newTestService(t)

	done := &model.Job{JobID: "job_1", UserID: "usr_1", Status: model.StatusDone}
	mock.ExpectQuery("SELECT .+ FROM jobs WHERE job_id =").
		WithArgs("job_1").
		WillReturnRows(jobRow(done))

	_, err := k.CancelJob(context.Background(), "job_1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
