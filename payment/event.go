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

package payment

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/kreatum/kreatum/internal/apierror"
)

// WebhookEvent is a gateway notification. The object id is the gateway's
// payment id and doubles as the idempotency reference for balance credits.
type WebhookEvent struct {
	Event  string      `json:"event"`
	Object EventObject `json:"object"`
}

type EventObject struct {
	ID       string                 `json:"id"`
	Status   string                 `json:"status"`
	Paid     bool                   `json:"paid"`
	Amount   amountPayload          `json:"amount"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ParseWebhookEvent decodes a raw webhook body. A payload without a payment
// id is rejected; everything else is left to the correlator to judge.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Malformed gateway event", err)
	}
	if event.Object.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Gateway event missing payment id", nil)
	}
	return &event, nil
}

// AmountRub returns the settled amount, or zero when absent or malformed.
func (o EventObject) AmountRub() decimal.Decimal {
	if o.Amount.Value == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(o.Amount.Value)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

func (o EventObject) metadataString(key string) string {
	if o.Metadata == nil {
		return ""
	}
	if v, ok := o.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// OrderID returns the order correlation key carried in metadata, if any.
func (o EventObject) OrderID() string {
	return o.metadataString("order_id")
}

// UserID returns the user correlation key carried in metadata, if any.
func (o EventObject) UserID() string {
	return o.metadataString("user_id")
}

func decodeJSON(body []byte, target interface{}) error {
	return json.Unmarshal(body, target)
}
