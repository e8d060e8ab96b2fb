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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job statuses. Done and Failed are terminal: no transition ever overwrites
// them, which is what makes webhook/poller races safe.
const (
	StatusWaitingPayment = "waiting_payment"
	StatusQueued         = "queued"
	StatusProcessing     = "processing"
	StatusDone           = "done"
	StatusFailed         = "failed"
)

// Transaction types for the append-only token ledger.
const (
	TypeCharge         = "charge"
	TypeRefund         = "refund"
	TypePromo          = "promo"
	TypeGatewayPayment = "gateway_payment"
)

const (
	TxnStatusSuccess = "success"
	TxnStatusPending = "pending"
	TxnStatusFailed  = "failed"
)

// One-shot credit references. Each is applied at most once per user.
const (
	RefReviewBonus   = "review_bonus"
	RefChannelBonus  = "channel_bonus"
	RefReferralBonus = "referral_bonus"
)

// IsTerminalStatus reports whether a job status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusDone || status == StatusFailed
}

// GenerateUUIDWithSuffix generates a UUID and prefixes it with the module name,
// e.g. "job_9f8b...". The prefix makes identifiers self-describing in logs.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// GenerateOrderID returns the opaque correlation string that joins a job to
// its provider submission and to payment gateway metadata. Globally unique.
func GenerateOrderID() string {
	return uuid.New().String()
}

type User struct {
	ID            int64           `json:"-"`
	UserID        string          `json:"user_id"`
	TelegramID    string          `json:"telegram_id,omitempty"`
	Username      string          `json:"username,omitempty"`
	AnonUserID    string          `json:"anon_user_id,omitempty"`
	Email         string          `json:"email,omitempty"`
	BalanceTokens decimal.Decimal `json:"balance_tokens"`
	RefCode       string          `json:"ref_code,omitempty"`
	ReferrerID    string          `json:"referrer_id,omitempty"`
	HasLeftReview bool            `json:"has_left_review"`
	HasChannelSub bool            `json:"has_channel_sub"`
	CreatedAt     time.Time       `json:"created_at"`
}

// GenModel is a catalog entry for a generation model: what it costs and which
// provider endpoint executes it.
type GenModel struct {
	ID                int64                  `json:"-"`
	ModelID           string                 `json:"model_id"`
	Name              string                 `json:"name"`
	Title             string                 `json:"title"`
	Endpoint          string                 `json:"endpoint,omitempty"`
	CostUnit          string                 `json:"cost_unit"`
	CostPerUnitTokens decimal.Decimal        `json:"cost_per_unit_tokens"`
	Currency          string                 `json:"currency"`
	MaxFileCount      int                    `json:"max_file_count"`
	Options           map[string]interface{} `json:"options,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// RequestHandle is the provider-side correlation pair returned by a successful
// submission. It is set once on the job and never overwritten.
type RequestHandle struct {
	RequestID  string `json:"request_id"`
	EndpointID string `json:"endpoint_id"`
}

func (h RequestHandle) IsZero() bool {
	return h.RequestID == ""
}

type Job struct {
	ID             int64                  `json:"-"`
	JobID          string                 `json:"job_id"`
	UserID         string                 `json:"user_id"`
	ModelID        string                 `json:"model_id,omitempty"`
	AnonUserID     string                 `json:"anon_user_id,omitempty"`
	OrderID        string                 `json:"order_id"`
	ServiceType    string                 `json:"service_type"`
	Status         string                 `json:"status"`
	PriceRub       decimal.Decimal        `json:"price_rub"`
	TokensReserved decimal.Decimal        `json:"tokens_reserved"`
	TokensConsumed decimal.Decimal        `json:"tokens_consumed"`
	IsPaid         bool                   `json:"is_paid"`
	RequestID      string                 `json:"request_id,omitempty"`
	EndpointID     string                 `json:"endpoint_id,omitempty"`
	Input          []InputItem            `json:"input"`
	ResultURL      string                 `json:"result_url,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func (job *Job) ToJSON() ([]byte, error) {
	return json.Marshal(job)
}

// Handle returns the provider request handle recorded on the job, if any.
func (job *Job) Handle() RequestHandle {
	return RequestHandle{RequestID: job.RequestID, EndpointID: job.EndpointID}
}

// Transaction is an immutable ledger entry. Reference doubles as the
// idempotency key for one-shot credits; (user_id, reference) is unique.
type Transaction struct {
	ID            int64                  `json:"-"`
	TransactionID string                 `json:"transaction_id"`
	UserID        string                 `json:"user_id"`
	JobID         string                 `json:"job_id,omitempty"`
	Type          string                 `json:"type"`
	Provider      string                 `json:"provider,omitempty"`
	Status        string                 `json:"status"`
	AmountRub     decimal.Decimal        `json:"amount_rub"`
	TokensDelta   decimal.Decimal        `json:"tokens_delta"`
	Currency      string                 `json:"currency"`
	Reference     string                 `json:"reference,omitempty"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

type Referral struct {
	ID          int64     `json:"-"`
	ReferralID  string    `json:"referral_id"`
	InviterID   string    `json:"inviter_id"`
	InviteeID   string    `json:"invitee_id"`
	InviteePaid bool      `json:"invitee_paid"`
	RewardGiven bool      `json:"reward_given"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReferralStats summarizes one inviter's referral activity.
type ReferralStats struct {
	InviterID    string          `json:"inviter_id"`
	InvitedCount int64           `json:"invited_count"`
	PaidCount    int64           `json:"paid_count"`
	TokensEarned decimal.Decimal `json:"tokens_earned"`
}

// WebhookLog is the append-only raw-event audit record. It is written before
// any interpretation so malformed payloads are never silently lost.
type WebhookLog struct {
	ID        int64                  `json:"-"`
	LogID     string                 `json:"log_id"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	Processed bool                   `json:"processed"`
	CreatedAt time.Time              `json:"created_at"`
}
