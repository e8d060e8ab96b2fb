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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/config"
)

func mockGatewayConfig() {
	config.MockConfig(&config.Configuration{
		PaymentGateway: config.PaymentGatewayConfig{
			ShopId:  "shop-1",
			ApiKey:  "key-1",
			ApiBase: "https://gateway.example.test",
		},
	})
}

func TestCreatePayment_Success(t *testing.T) {
	mockGatewayConfig()
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://gateway.example.test/v3/payments",
		func(req *http.Request) (*http.Response, error) {
			assert.NotEmpty(t, req.Header.Get("Idempotence-Key"))
			assert.Contains(t, req.Header.Get("Authorization"), "Basic ")
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"id":     "pay-123",
				"status": "pending",
				"confirmation": map[string]interface{}{
					"confirmation_url": "https://gateway.example.test/confirm/pay-123",
				},
			})
		})

	client := NewClient()
	intent, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:     "ord-1",
		UserID:      "usr_1",
		AmountRub:   decimal.NewFromInt(500),
		Description: "Video generation",
		ReturnURL:   "https://kreatum.example/return",
	})
	assert.NoError(t, err)
	assert.Equal(t, "pay-123", intent.PaymentID)
	assert.Equal(t, "https://gateway.example.test/confirm/pay-123", intent.PaymentURL)
}

// A receipt the gateway cannot digest must not block the payment: the second
// attempt omits the receipt and carries a fresh idempotence key.
func TestCreatePayment_ReceiptFallback(t *testing.T) {
	mockGatewayConfig()
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var keys []string
	httpmock.RegisterResponder("POST", "https://gateway.example.test/v3/payments",
		func(req *http.Request) (*http.Response, error) {
			keys = append(keys, req.Header.Get("Idempotence-Key"))

			body, _ := io.ReadAll(req.Body)
			var payload map[string]interface{}
			assert.NoError(t, json.Unmarshal(body, &payload))

			if _, hasReceipt := payload["receipt"]; hasReceipt {
				return httpmock.NewJsonResponse(400, map[string]interface{}{
					"description": "Invalid receipt.items[0].vat_code",
				})
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"id": "pay-456",
				"confirmation": map[string]interface{}{
					"confirmation_url": "https://gateway.example.test/confirm/pay-456",
				},
			})
		})

	client := NewClient()
	intent, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:     "ord-2",
		AmountRub:   decimal.NewFromFloat(99.90),
		Description: "Video generation",
		ReturnURL:   "https://kreatum.example/return",
		Email:       "buyer@example.com",
	})
	assert.NoError(t, err)
	assert.Equal(t, "pay-456", intent.PaymentID)
	assert.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}

func TestCreatePayment_GatewayError(t *testing.T) {
	mockGatewayConfig()
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://gateway.example.test/v3/payments",
		httpmock.NewJsonResponderOrPanic(401, map[string]interface{}{"description": "Unauthorized"}))

	client := NewClient()
	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:   "ord-3",
		AmountRub: decimal.NewFromInt(100),
		ReturnURL: "https://kreatum.example/return",
	})
	assert.Error(t, err)
}

func TestParseWebhookEvent(t *testing.T) {
	body := []byte(`{
		"event": "payment.succeeded",
		"object": {
			"id": "pay-123",
			"status": "succeeded",
			"paid": true,
			"amount": {"value": "500.00", "currency": "RUB"},
			"metadata": {"order_id": "ord-1", "user_id": "usr_1"}
		}
	}`)

	event, err := ParseWebhookEvent(body)
	assert.NoError(t, err)
	assert.Equal(t, "pay-123", event.Object.ID)
	assert.Equal(t, "ord-1", event.Object.OrderID())
	assert.Equal(t, "usr_1", event.Object.UserID())
	assert.True(t, event.Object.AmountRub().Equal(decimal.NewFromInt(500)))
	assert.True(t, IsPaidStatus(event.Object.Status))
}

func TestParseWebhookEvent_MissingPaymentID(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`{"event": "payment.succeeded", "object": {}}`))
	assert.Error(t, err)
}

func TestIsPaidStatus(t *testing.T) {
	assert.True(t, IsPaidStatus("succeeded"))
	assert.True(t, IsPaidStatus("SUCCEEDED_WITH_3DS"))
	assert.True(t, IsPaidStatus("waiting_for_capture"))
	assert.False(t, IsPaidStatus("canceled"))
	assert.False(t, IsPaidStatus("pending"))
}
