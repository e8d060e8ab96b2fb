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

package model

import (
	"github.com/shopspring/decimal"
)

// tokensPerRub: 1 rouble buys 1.2 tokens. Conversions always round up so the
// user is never undercharged by a fraction of a token.
var tokensPerRub = decimal.NewFromFloat(1.2)

// RublesToTokens converts a rouble amount to whole tokens, ceiling-rounded.
func RublesToTokens(rub decimal.Decimal) decimal.Decimal {
	return rub.Mul(tokensPerRub).Ceil()
}

// UsdToRub converts a USD amount at the given rate, ceiling-rounded to kopecks.
func UsdToRub(usd decimal.Decimal, rate float64) decimal.Decimal {
	return usd.Mul(decimal.NewFromFloat(rate)).RoundUp(2)
}

// TokensForJob computes the reservation for a job priced from a catalog model:
// cost per unit times the unit count, ceiling-rounded to whole tokens, with a
// floor of one token per job.
func TokensForJob(costPerUnitTokens decimal.Decimal, units int64) decimal.Decimal {
	if units <= 0 {
		units = 1
	}
	tokens := costPerUnitTokens.Mul(decimal.NewFromInt(units)).Ceil()
	one := decimal.NewFromInt(1)
	if tokens.LessThan(one) {
		return one
	}
	return tokens
}
