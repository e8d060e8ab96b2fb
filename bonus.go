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

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

// GrantReviewBonus credits the one-time review bonus. The credit and the
// has_left_review flag flip are one guarded write, so concurrent or repeated
// claims grant at most once. Returns whether this call granted it.
func (k *Kreatum) GrantReviewBonus(ctx context.Context, userID string) (bool, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return false, err
	}
	return k.CreditTokens(ctx, &model.Transaction{
		UserID:      userID,
		Type:        model.TypePromo,
		Status:      model.TxnStatusSuccess,
		TokensDelta: decimal.NewFromInt(cnf.Pricing.ReviewBonus),
		Currency:    "RUB",
		Reference:   model.RefReviewBonus,
	})
}

// GrantChannelBonus credits the one-time channel-subscription bonus, same
// mechanism as the review bonus.
func (k *Kreatum) GrantChannelBonus(ctx context.Context, userID string) (bool, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return false, err
	}
	return k.CreditTokens(ctx, &model.Transaction{
		UserID:      userID,
		Type:        model.TypePromo,
		Status:      model.TxnStatusSuccess,
		TokensDelta: decimal.NewFromInt(cnf.Pricing.ChannelBonus),
		Currency:    "RUB",
		Reference:   model.RefChannelBonus,
	})
}
