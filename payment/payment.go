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

// Package payment integrates the external payment gateway. It creates
// payment intents and decodes the gateway's webhook notifications.
package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/internal/request"
)

// Gateway payment statuses that count as settled money.
const (
	EventStatusSucceeded      = "succeeded"
	EventStatusSucceeded3DS   = "succeeded_with_3ds"
	EventStatusWaitingCapture = "waiting_for_capture"
)

// IsPaidStatus reports whether a gateway status represents received funds.
func IsPaidStatus(status string) bool {
	switch strings.ToLower(status) {
	case EventStatusSucceeded, EventStatusSucceeded3DS, EventStatusWaitingCapture:
		return true
	}
	return false
}

// Intent is a created payment awaiting user confirmation.
type Intent struct {
	PaymentID  string `json:"payment_id"`
	PaymentURL string `json:"payment_url"`
}

// CreatePaymentRequest carries everything the gateway needs to build an
// intent. Metadata fields travel to the gateway and come back verbatim on the
// webhook; order and user correlation depends on them.
type CreatePaymentRequest struct {
	OrderID     string
	UserID      string
	AnonUserID  string
	AmountRub   decimal.Decimal
	Description string
	ReturnURL   string
	Email       string
}

type amountPayload struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type createPaymentPayload struct {
	Amount       amountPayload          `json:"amount"`
	Capture      bool                   `json:"capture"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata"`
	Confirmation map[string]string      `json:"confirmation"`
	Receipt      map[string]interface{} `json:"receipt,omitempty"`
}

type createPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// Client is an HTTP client for the payment gateway API.
type Client struct{}

func NewClient() *Client {
	return &Client{}
}

// CreatePayment creates a gateway payment intent and returns the redirect
// URL. When an email is present a fiscal receipt rides along; a 400 caused by
// the receipt is retried once without it, with a fresh idempotence key, since
// a bad receipt must not block the payment itself.
func (c *Client) CreatePayment(ctx context.Context, p CreatePaymentRequest) (*Intent, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if cnf.PaymentGateway.ShopId == "" || cnf.PaymentGateway.ApiKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Payment gateway credentials not configured", nil)
	}

	amount := amountPayload{Value: p.AmountRub.StringFixed(2), Currency: "RUB"}
	base := createPaymentPayload{
		Amount:      amount,
		Capture:     true,
		Description: p.Description,
		Metadata: map[string]interface{}{
			"order_id":   p.OrderID,
			"user_id":    p.UserID,
			"anonUserId": p.AnonUserID,
			"email":      p.Email,
		},
		Confirmation: map[string]string{"type": "redirect", "return_url": p.ReturnURL},
	}

	payload := base
	includeReceipt := p.Email != ""
	if includeReceipt {
		payload.Receipt = receiptFor(p.Email, p.Description, amount)
	}

	logrus.Infof("payment create: order_id=%s amount=%s include_receipt=%t", p.OrderID, amount.Value, includeReceipt)

	resp, body, err := c.post(ctx, cnf, "/v3/payments", payload)
	if err != nil {
		return nil, err
	}

	// A malformed receipt is the gateway's problem with our fiscal data, not
	// with the payment. Retry once without it.
	if resp.StatusCode == http.StatusBadRequest && includeReceipt && strings.Contains(strings.ToLower(string(body)), "receipt") {
		logrus.Warnf("payment create: gateway rejected receipt for order_id=%s, retrying without it", p.OrderID)
		resp, body, err = c.post(ctx, cnf, "/v3/payments", base)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apierror.NewAPIError(apierror.ErrUpstreamFailure,
			fmt.Sprintf("Payment gateway returned status %d", resp.StatusCode), nil)
	}

	var created createPaymentResponse
	if err := decodeJSON(body, &created); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Failed to decode gateway response", err)
	}
	if created.ID == "" || created.Confirmation.ConfirmationURL == "" {
		return nil, apierror.NewAPIError(apierror.ErrUpstreamFailure,
			"Gateway response missing payment id or confirmation url", nil)
	}

	return &Intent{PaymentID: created.ID, PaymentURL: created.Confirmation.ConfirmationURL}, nil
}

func receiptFor(email, description string, amount amountPayload) map[string]interface{} {
	if len(description) > 128 {
		description = description[:128]
	}
	return map[string]interface{}{
		"customer":        map[string]string{"email": email},
		"tax_system_code": 1,
		"items": []map[string]interface{}{
			{
				"description":     description,
				"amount":          amount,
				"quantity":        "1.00",
				"vat_code":        1,
				"payment_subject": "service",
				"payment_mode":    "full_payment",
			},
		},
	}
}

// post sends an authenticated request with a fresh idempotence key. The key
// is per attempt, not per order: a receipt-retry must not be deduplicated
// against the rejected first attempt.
func (c *Client) post(ctx context.Context, cnf *config.Configuration, path string, payload interface{}) (*http.Response, []byte, error) {
	buf, err := request.ToJsonReq(payload)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode gateway payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cnf.PaymentGateway.ApiBase+path, buf)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build gateway request", err)
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(cnf.PaymentGateway.ShopId, cnf.PaymentGateway.ApiKey))
	req.Header.Set("Idempotence-Key", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Payment gateway request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Failed to read gateway response", err)
	}
	return resp, body, nil
}
