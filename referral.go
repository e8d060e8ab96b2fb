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

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

// ReferralResult reports what a referral application actually did.
type ReferralResult struct {
	InviterID     string `json:"inviter_id"`
	AlreadyLinked bool   `json:"already_linked"`
	BonusGranted  bool   `json:"bonus_granted"`
}

// ApplyReferral links an invitee to the owner of a referral code and credits
// the inviter's bonus. Both halves are idempotent on their own guard: a
// repeat call reports alreadyLinked with no second bonus, and a race between
// two calls grants the bonus exactly once.
func (k *Kreatum) ApplyReferral(ctx context.Context, refCode, inviteeID string) (*ReferralResult, error) {
	ctx, span := otel.Tracer("kreatum.referral").Start(ctx, "ApplyReferral")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	inviter, err := k.datasource.GetUserByRefCode(ctx, refCode)
	if err != nil {
		return nil, err
	}

	linked, err := k.datasource.LinkReferral(ctx, &model.Referral{
		InviterID: inviter.UserID,
		InviteeID: inviteeID,
	})
	if err != nil {
		return nil, err
	}

	result := &ReferralResult{InviterID: inviter.UserID, AlreadyLinked: !linked}
	if !linked {
		return result, nil
	}

	granted, err := k.CreditTokens(ctx, &model.Transaction{
		UserID:      inviter.UserID,
		Type:        model.TypePromo,
		Status:      model.TxnStatusSuccess,
		TokensDelta: decimal.NewFromInt(cnf.Pricing.ReferralBonus),
		Currency:    "RUB",
		Reference:   model.RefReferralBonus + ":" + inviteeID,
	})
	if err != nil {
		return nil, err
	}
	result.BonusGranted = granted
	return result, nil
}

// GetReferralStats summarizes an inviter's referrals, including the tokens
// earned through referral bonuses.
func (k *Kreatum) GetReferralStats(ctx context.Context, inviterID string) (*model.ReferralStats, error) {
	stats, err := k.datasource.GetReferralStats(ctx, inviterID)
	if err != nil {
		return nil, err
	}
	earned, err := k.datasource.SumTokensByReference(ctx, inviterID, model.RefReferralBonus)
	if err != nil {
		return nil, err
	}
	stats.TokensEarned = earned
	return stats, nil
}

// rewardReferrerOnFirstPayment grants the inviter's payment bonus the first
// time their invitee pays. The invitee_paid flag flip and the idempotent
// credit each guard their own half; any later payment is a no-op.
func (k *Kreatum) rewardReferrerOnFirstPayment(ctx context.Context, inviteeID string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Errorf("referral reward config: %v", err)
		return
	}

	inviterID, flipped, err := k.datasource.MarkInviteePaid(ctx, inviteeID)
	if err != nil {
		logrus.Errorf("referral reward for invitee %s: %v", inviteeID, err)
		return
	}
	if !flipped {
		return
	}

	if _, err := k.CreditTokens(ctx, &model.Transaction{
		UserID:      inviterID,
		Type:        model.TypePromo,
		Status:      model.TxnStatusSuccess,
		TokensDelta: decimal.NewFromInt(cnf.Pricing.ReferralBonus),
		Currency:    "RUB",
		Reference:   model.RefReferralBonus + ":paid:" + inviteeID,
	}); err != nil {
		logrus.Errorf("referral reward credit for inviter %s: %v", inviterID, err)
	}
}
