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
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

// JobRequest is the service-level input for creating a generation job.
type JobRequest struct {
	UserID           string
	AnonUserID       string
	ModelName        string
	ServiceType      string
	Units            int64
	EndpointOverride string
	Input            []model.InputItem
}

// priceJob computes the rouble price and token reservation for a request
// against its catalog model. Catalog prices in USD are converted at the
// configured rate first; everything rounds up.
func priceJob(cnf *config.Configuration, genModel *model.GenModel, units int64) (decimal.Decimal, decimal.Decimal) {
	if units <= 0 {
		units = 1
	}

	unitRub := genModel.CostPerUnitTokens
	if strings.EqualFold(genModel.Currency, "USD") {
		unitRub = model.UsdToRub(genModel.CostPerUnitTokens, cnf.Pricing.UsdToRub)
	}
	priceRub := unitRub.Mul(decimal.NewFromInt(units))

	tokens := model.RublesToTokens(priceRub)
	one := decimal.NewFromInt(1)
	if tokens.LessThan(one) {
		tokens = one
	}
	return priceRub, tokens
}

// CreateJob validates, prices and records a new job. When the user's balance
// covers the price the tokens are reserved and the job goes straight to
// queued and is submitted; otherwise it is parked in waiting_payment with no
// reservation taken, waiting for the payment correlator.
func (k *Kreatum) CreateJob(ctx context.Context, req JobRequest) (*model.Job, error) {
	ctx, span := otel.Tracer("kreatum.job").Start(ctx, "CreateJob")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if err := model.ValidateInput(req.Input); err != nil {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		owner, err := k.ensureJobUser(ctx, req.AnonUserID)
		if err != nil {
			return nil, err
		}
		userID = owner.UserID
	}

	genModel, err := k.datasource.GetModelByName(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}

	priceRub, tokens := priceJob(cnf, genModel, req.Units)

	job := &model.Job{
		JobID:          model.GenerateUUIDWithSuffix("job"),
		UserID:         userID,
		ModelID:        genModel.ModelID,
		AnonUserID:     req.AnonUserID,
		OrderID:        model.GenerateOrderID(),
		ServiceType:    req.ServiceType,
		PriceRub:       priceRub,
		TokensReserved: tokens,
		Input:          req.Input,
	}
	if req.EndpointOverride != "" {
		job.MetaData = map[string]interface{}{"endpoint_override": req.EndpointOverride}
	}

	reserved, err := k.ReserveTokens(ctx, userID, job.JobID, tokens)
	if err != nil {
		return nil, err
	}

	if reserved {
		job.Status = model.StatusQueued
		job.IsPaid = true
	} else {
		job.Status = model.StatusWaitingPayment
		logrus.Infof("job %s parked in waiting_payment: balance below %s tokens", job.JobID, tokens)
	}

	created, err := k.datasource.CreateJob(ctx, job)
	if err != nil {
		if reserved {
			// The hold exists but the job row does not; put the tokens back
			// directly, there is no job row to refund through.
			if _, creditErr := k.datasource.CreditIdempotent(ctx, &model.Transaction{
				UserID:      userID,
				Type:        model.TypeRefund,
				Status:      model.TxnStatusSuccess,
				TokensDelta: tokens,
				Currency:    "RUB",
				Reference:   "orphaned_hold:" + job.JobID,
			}); creditErr != nil {
				logrus.Errorf("failed to release orphaned hold for job %s: %v", job.JobID, creditErr)
			}
		}
		return nil, err
	}

	if reserved {
		if err := k.SubmitJob(ctx, created); err != nil {
			logrus.Errorf("submission failed for job %s: %v", created.JobID, err)
		}
	}
	return created, nil
}

// ensureJobUser maps an anonymous client id onto a users row, creating one on
// first touch. A job always belongs to a users row: the anon id alone cannot
// hold a balance or satisfy the jobs foreign key.
func (k *Kreatum) ensureJobUser(ctx context.Context, anonID string) (*model.User, error) {
	if anonID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Job needs a user_id or an anon_user_id", nil)
	}

	owner, err := k.datasource.GetUserByAnonID(ctx, anonID)
	if err == nil {
		return owner, nil
	}
	if apiErr, ok := err.(apierror.APIError); !ok || apiErr.Code != apierror.ErrNotFound {
		return nil, err
	}
	return k.CreateUser(ctx, &model.User{AnonUserID: anonID}, "")
}

// GetJob returns a job by its id.
func (k *Kreatum) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return k.datasource.GetJobByID(ctx, jobID)
}

// GetJobsByUser returns a user's jobs, newest first.
func (k *Kreatum) GetJobsByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return k.datasource.GetJobsByUserID(ctx, userID, limit, offset)
}

// CancelJob forces a job to failed and refunds the reservation. There is no
// cancelled state and no provider-side cancel; a late provider signal for the
// job hits the terminal guard and becomes a no-op.
func (k *Kreatum) CancelJob(ctx context.Context, jobID string) (*model.Job, error) {
	ctx, span := otel.Tracer("kreatum.job").Start(ctx, "CancelJob")
	defer span.End()

	job, err := k.datasource.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminalStatus(job.Status) {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Job is already finished", nil)
	}

	failed, err := k.datasource.FailJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if failed && job.IsPaid {
		if _, err := k.RefundJob(ctx, jobID, "cancelled by user"); err != nil {
			logrus.Errorf("refund on cancel failed for job %s: %v", jobID, err)
		}
	}

	return k.datasource.GetJobByID(ctx, jobID)
}
