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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

func TestResolveEndpoint(t *testing.T) {
	cnf := &config.Configuration{
		Provider: config.ProviderConfig{DefaultEndpoint: "fal-ai/default"},
	}

	t.Run("override wins", func(t *testing.T) {
		job := &model.Job{MetaData: map[string]interface{}{"endpoint_override": "fal-ai/custom"}}
		genModel := &model.GenModel{Endpoint: "fal-ai/catalog"}
		assert.Equal(t, "fal-ai/custom", resolveEndpoint(cnf, job, genModel))
	})

	t.Run("catalog endpoint next", func(t *testing.T) {
		job := &model.Job{}
		genModel := &model.GenModel{Name: "veo3", Endpoint: "fal-ai/veo3"}
		assert.Equal(t, "fal-ai/veo3", resolveEndpoint(cnf, job, genModel))
	})

	t.Run("catalog name when no endpoint", func(t *testing.T) {
		job := &model.Job{}
		genModel := &model.GenModel{Name: "veo3"}
		assert.Equal(t, "veo3", resolveEndpoint(cnf, job, genModel))
	})

	t.Run("configured default as last resort", func(t *testing.T) {
		assert.Equal(t, "fal-ai/default", resolveEndpoint(cnf, &model.Job{}, nil))
	})
}

func TestBuildArguments(t *testing.T) {
	job := &model.Job{
		Input: []model.InputItem{
			{Kind: model.InputKindText, Value: "a cat"},
			{Kind: model.InputKindImage, URL: "https://cdn.example.test/in.png"},
			{Kind: model.InputKindText, Name: "duration", Value: "8"},
			{Kind: model.InputKindText, Name: "prompt", Value: "smuggled"},
		},
	}

	args := buildArguments(job)
	assert.Equal(t, "a cat", args["prompt"])
	assert.Equal(t, "https://cdn.example.test/in.png", args["image_url"])
	assert.Equal(t, "8", args["duration"])
	assert.Len(t, args, 3)
}

func TestSubmitJob_AlreadySubmittedIsNoOp(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	job := pollableJob() // has a request handle already

	err := k.SubmitJob(context.Background(), job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

// A rejected submission is final: the reservation comes back and the job
// moves to failed.
func TestSubmitJob_ProviderRejectionRefundsAndFails(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://queue.example.test/fal-ai/default",
		httpmock.NewStringResponder(422, `{"detail": "invalid arguments"}`))

	job := &model.Job{
		JobID:          "job_1",
		UserID:         "usr_1",
		OrderID:        "ord-1",
		Status:         model.StatusQueued,
		TokensReserved: decimal.NewFromInt(120),
		IsPaid:         true,
		Input:          textInput("a cat"),
	}

	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}).AddRow("usr_1", "120"))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := k.SubmitJob(context.Background(), job)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Losing the set-once race on the request handle is not an error.
func TestSubmitJob_HandleRaceDiscarded(t *testing.T) {
	k, mock := newTestService(t)
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://queue.example.test/fal-ai/default",
		httpmock.NewStringResponder(200, `{"request_id": "req_abc"}`))

	job := &model.Job{
		JobID:  "job_1",
		UserID: "usr_1",
		Status: model.StatusQueued,
		IsPaid: true,
		Input:  textInput("a cat"),
	}

	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := k.SubmitJob(context.Background(), job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
