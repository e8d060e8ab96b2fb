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
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
	"github.com/kreatum/kreatum/payment"
)

// CreatePaymentIntent creates a gateway payment for a waiting_payment job and
// returns the confirmation URL the user is redirected to.
func (k *Kreatum) CreatePaymentIntent(ctx context.Context, orderID, returnURL, email string) (*payment.Intent, error) {
	ctx, span := otel.Tracer("kreatum.correlator").Start(ctx, "CreatePaymentIntent")
	defer span.End()

	job, err := k.datasource.GetJobByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusWaitingPayment {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Job is not awaiting payment", nil)
	}

	intent, err := k.payment.CreatePayment(ctx, payment.CreatePaymentRequest{
		OrderID:     job.OrderID,
		UserID:      job.UserID,
		AnonUserID:  job.AnonUserID,
		AmountRub:   job.PriceRub,
		Description: "Generation order " + job.OrderID,
		ReturnURL:   returnURL,
		Email:       email,
	})
	if err != nil {
		return nil, err
	}

	_, err = k.datasource.RecordTransaction(ctx, &model.Transaction{
		UserID:    job.UserID,
		JobID:     job.JobID,
		Type:      model.TypeGatewayPayment,
		Provider:  "gateway",
		Status:    model.TxnStatusPending,
		AmountRub: job.PriceRub,
		Currency:  "RUB",
		MetaData:  map[string]interface{}{"payment_id": intent.PaymentID},
	})
	if err != nil {
		logrus.Errorf("failed to record pending payment for order %s: %v", orderID, err)
	}
	return intent, nil
}

// HandleGatewayEvent is the payment correlator. The raw payload is always
// written to the audit log first, whether or not it can be interpreted.
//
// An event whose metadata names a known order pays for that job: the
// waiting_payment guard admits exactly one delivery, which then submits the
// job. Any other settled event is a standalone top-up credited idempotently
// under the gateway's own payment id.
func (k *Kreatum) HandleGatewayEvent(ctx context.Context, rawBody []byte) error {
	ctx, span := otel.Tracer("kreatum.correlator").Start(ctx, "HandleGatewayEvent")
	defer span.End()

	logID := k.AuditEvent(ctx, "payment", rawBody)

	if err := k.applyGatewayEvent(ctx, rawBody); err != nil {
		return err
	}
	k.MarkEventProcessed(ctx, logID)
	return nil
}

func (k *Kreatum) applyGatewayEvent(ctx context.Context, rawBody []byte) error {
	event, err := payment.ParseWebhookEvent(rawBody)
	if err != nil {
		return err
	}
	if !payment.IsPaidStatus(event.Object.Status) {
		logrus.Infof("gateway event %s status %s ignored", event.Object.ID, event.Object.Status)
		return nil
	}

	if orderID := event.Object.OrderID(); orderID != "" {
		job, err := k.datasource.GetJobByOrderID(ctx, orderID)
		if err == nil {
			return k.applyJobPayment(ctx, job, event)
		}
		logrus.Warnf("gateway event %s names unknown order %s, treating as top-up", event.Object.ID, orderID)
	}
	return k.applyTopUp(ctx, event)
}

func (k *Kreatum) applyJobPayment(ctx context.Context, job *model.Job, event *payment.WebhookEvent) error {
	paid, won, err := k.datasource.MarkJobPaid(ctx, job.OrderID)
	if err != nil {
		return err
	}
	if !won {
		logrus.Infof("duplicate payment delivery for order %s ignored", job.OrderID)
		return nil
	}

	_, err = k.datasource.RecordTransaction(ctx, &model.Transaction{
		UserID:    paid.UserID,
		JobID:     paid.JobID,
		Type:      model.TypeGatewayPayment,
		Provider:  "gateway",
		Status:    model.TxnStatusSuccess,
		AmountRub: event.Object.AmountRub(),
		Currency:  "RUB",
		Reference: event.Object.ID,
	})
	if err != nil {
		logrus.Errorf("failed to record payment for order %s: %v", paid.OrderID, err)
	}

	k.rewardReferrerOnFirstPayment(ctx, paid.UserID)

	if err := k.SubmitJob(ctx, paid); err != nil {
		logrus.Errorf("submission after payment of order %s: %v", paid.OrderID, err)
	}
	return nil
}

// applyTopUp credits a user's balance from a settled payment that matches no
// order. The gateway's payment id is the idempotency key, so redelivery can
// never credit twice.
func (k *Kreatum) applyTopUp(ctx context.Context, event *payment.WebhookEvent) error {
	userID := event.Object.UserID()
	if userID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Gateway event matches no order and names no user", nil)
	}

	amountRub := event.Object.AmountRub()
	tokens := model.RublesToTokens(amountRub)
	if tokens.LessThanOrEqual(decimal.Zero) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Gateway event carries no amount", nil)
	}

	applied, err := k.CreditTokens(ctx, &model.Transaction{
		UserID:      userID,
		Type:        model.TypeGatewayPayment,
		Provider:    "gateway",
		Status:      model.TxnStatusSuccess,
		AmountRub:   amountRub,
		TokensDelta: tokens,
		Currency:    "RUB",
		Reference:   event.Object.ID,
	})
	if err != nil {
		return err
	}
	if !applied {
		logrus.Infof("duplicate top-up event %s ignored", event.Object.ID)
		return nil
	}

	k.rewardReferrerOnFirstPayment(ctx, userID)
	return nil
}

// AuditEvent persists a raw webhook body before interpretation and returns
// the audit row id. Best effort: an audit failure must never abort processing
// of the event itself, so it yields an empty id instead of an error.
func (k *Kreatum) AuditEvent(ctx context.Context, eventType string, rawBody []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		payload = map[string]interface{}{"raw": string(rawBody)}
	}
	entry, err := k.datasource.LogWebhookEvent(ctx, &model.WebhookLog{
		EventType: eventType,
		Payload:   payload,
	})
	if err != nil {
		logrus.Errorf("failed to audit %s event: %v", eventType, err)
		return ""
	}
	return entry.LogID
}

// MarkEventProcessed flips the processed flag on an audit row once the event
// it recorded has been fully handled. Unprocessed rows are the redelivery
// and replay surface, so the flag is only advisory and failures are logged.
func (k *Kreatum) MarkEventProcessed(ctx context.Context, logID string) {
	if logID == "" {
		return
	}
	if err := k.datasource.MarkWebhookProcessed(ctx, logID); err != nil {
		logrus.Errorf("failed to mark audit row %s processed: %v", logID, err)
	}
}
