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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"

	"github.com/kreatum/kreatum/model"
)

// CreateJob is the request body for submitting a generation job.
type CreateJob struct {
	UserID           string      `json:"user_id"`
	AnonUserID       string      `json:"anon_user_id"`
	Model            string      `json:"model"`
	ServiceType      string      `json:"service_type"`
	Units            int64       `json:"units"`
	EndpointOverride string      `json:"endpoint_override"`
	Input            []InputItem `json:"input"`
}

// InputItem mirrors one element of the job's ordered input list.
type InputItem struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Value string `json:"value"`
	URL   string `json:"url"`
}

func userOrAnonValidation(j *CreateJob) validation.RuleFunc {
	return func(value interface{}) error {
		if j.UserID == "" && j.AnonUserID == "" {
			return errors.New("either user_id or anon_user_id is required")
		}
		return nil
	}
}

func (j *CreateJob) ValidateCreateJob() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Model, validation.Required),
		validation.Field(&j.Input, validation.Required),
		validation.Field(&j.UserID, validation.By(userOrAnonValidation(j))),
	)
}

// ToInput converts the request items into the service-level input list.
func (j *CreateJob) ToInput() []model.InputItem {
	items := make([]model.InputItem, 0, len(j.Input))
	for _, item := range j.Input {
		items = append(items, model.InputItem{
			Kind:  item.Kind,
			Name:  item.Name,
			Value: item.Value,
			URL:   item.URL,
		})
	}
	return items
}

// CreatePayment is the request body for creating a gateway payment for a
// waiting order.
type CreatePayment struct {
	OrderID   string `json:"order_id"`
	ReturnURL string `json:"return_url"`
	Email     string `json:"email"`
}

func (p *CreatePayment) ValidateCreatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.OrderID, validation.Required),
		validation.Field(&p.ReturnURL, validation.Required, is.URL),
		validation.Field(&p.Email, validation.When(p.Email != "", is.Email)),
	)
}

// CreateUser is the request body for registering a user.
type CreateUser struct {
	TelegramID   string `json:"telegram_id"`
	Username     string `json:"username"`
	AnonUserID   string `json:"anon_user_id"`
	Email        string `json:"email"`
	ReferrerCode string `json:"referrer_code"`
}

func (u *CreateUser) ValidateCreateUser() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Email, validation.When(u.Email != "", is.Email)),
	)
}

// ApplyReferral is the request body for linking an invitee to a referral code.
type ApplyReferral struct {
	RefCode   string `json:"ref_code"`
	InviteeID string `json:"invitee_id"`
}

func (r *ApplyReferral) ValidateApplyReferral() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefCode, validation.Required),
		validation.Field(&r.InviteeID, validation.Required),
	)
}

// GrantBonus is the request body for the one-time promo bonuses.
type GrantBonus struct {
	UserID string `json:"user_id"`
}

func (b *GrantBonus) ValidateGrantBonus() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.UserID, validation.Required),
	)
}

// CreateModel is the request body for adding a catalog entry.
type CreateModel struct {
	Name         string                 `json:"name"`
	Title        string                 `json:"title"`
	Endpoint     string                 `json:"endpoint"`
	CostUnit     string                 `json:"cost_unit"`
	CostPerUnit  string                 `json:"cost_per_unit"`
	Currency     string                 `json:"currency"`
	MaxFileCount int                    `json:"max_file_count"`
	Options      map[string]interface{} `json:"options"`
}

func (m *CreateModel) ValidateCreateModel() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Name, validation.Required),
		validation.Field(&m.CostPerUnit, validation.Required, is.Float),
		validation.Field(&m.Currency, validation.Required, validation.In("RUB", "USD")),
	)
}

// ToGenModel converts the request into a catalog entry.
func (m *CreateModel) ToGenModel() (*model.GenModel, error) {
	cost, err := decimal.NewFromString(m.CostPerUnit)
	if err != nil {
		return nil, err
	}
	return &model.GenModel{
		Name:              m.Name,
		Title:             m.Title,
		Endpoint:          m.Endpoint,
		CostUnit:          m.CostUnit,
		CostPerUnitTokens: cost,
		Currency:          m.Currency,
		MaxFileCount:      m.MaxFileCount,
		Options:           m.Options,
	}, nil
}
