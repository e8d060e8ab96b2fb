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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/model"
)

// ReserveTokens attempts to hold amount tokens from the user's balance for a
// job. The hold and the balance check are one guarded write; on success a
// charge entry lands in the ledger log. Returns false when the balance cannot
// cover the amount.
func (k *Kreatum) ReserveTokens(ctx context.Context, userID, jobID string, amount decimal.Decimal) (bool, error) {
	ctx, span := otel.Tracer("kreatum.ledger").Start(ctx, "ReserveTokens")
	defer span.End()

	reserved, err := k.datasource.ReserveBalance(ctx, userID, amount)
	if err != nil {
		return false, err
	}
	if !reserved {
		return false, nil
	}

	_, err = k.datasource.RecordTransaction(ctx, &model.Transaction{
		UserID:      userID,
		JobID:       jobID,
		Type:        model.TypeCharge,
		Status:      model.TxnStatusSuccess,
		TokensDelta: amount.Neg(),
		Currency:    "RUB",
	})
	if err != nil {
		// The hold itself succeeded; a missing log entry is not a reason to
		// block the job.
		logrus.Errorf("failed to record charge for job %s: %v", jobID, err)
	}
	return true, nil
}

// RefundJob returns a job's held tokens to its owner. Safe to call from any
// failure path: the guarded refund statement makes repeat calls no-ops, and
// the ledger entry is only written by the call that actually moved tokens.
func (k *Kreatum) RefundJob(ctx context.Context, jobID, reason string) (bool, error) {
	ctx, span := otel.Tracer("kreatum.ledger").Start(ctx, "RefundJob")
	defer span.End()

	userID, amount, refunded, err := k.datasource.RefundJobReservation(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !refunded {
		return false, nil
	}

	_, err = k.datasource.RecordTransaction(ctx, &model.Transaction{
		UserID:      userID,
		JobID:       jobID,
		Type:        model.TypeRefund,
		Status:      model.TxnStatusSuccess,
		TokensDelta: amount,
		Currency:    "RUB",
		MetaData:    map[string]interface{}{"reason": reason},
	})
	if err != nil {
		logrus.Errorf("failed to record refund for job %s: %v", jobID, err)
	}

	logrus.Infof("refunded %s tokens to %s for job %s (%s)", amount, userID, jobID, reason)
	return true, nil
}

// CreditTokens applies an idempotent credit keyed by reference. The first
// delivery of a given reference credits the user; every later one reports
// false.
func (k *Kreatum) CreditTokens(ctx context.Context, txn *model.Transaction) (bool, error) {
	ctx, span := otel.Tracer("kreatum.ledger").Start(ctx, "CreditTokens")
	defer span.End()

	applied, err := k.datasource.CreditIdempotent(ctx, txn)
	if err != nil {
		return false, err
	}
	if applied {
		logrus.Infof("credited %s tokens to %s ref=%s", txn.TokensDelta, txn.UserID, txn.Reference)
	}
	return applied, nil
}
