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
	"log"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/cache"
	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/database"
	"github.com/kreatum/kreatum/model"
)

func newTestDataSource() (database.IDataSource, sqlmock.Sqlmock, error) {
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: "localhost:6379"},
		Provider: config.ProviderConfig{
			Key:               "test-key",
			QueueURL:          "https://queue.example.test",
			DefaultEndpoint:   "fal-ai/default",
			RequestTimeoutSec: 5,
			MediaTimeoutSec:   5,
			PollIntervalSec:   1,
		},
		S3: config.S3Config{
			Endpoint:        "https://s3.example.test",
			BucketName:      "kreatum-results",
			Region:          "us-east-1",
			AccessKeyId:     "access",
			SecretAccessKey: "secret",
			PresignTTLSec:   3600,
		},
		PaymentGateway: config.PaymentGatewayConfig{
			ShopId:  "shop-1",
			ApiKey:  "key-1",
			ApiBase: "https://gateway.example.test",
		},
		Pricing: config.PricingConfig{
			UsdToRub:      100,
			ReviewBonus:   20,
			ChannelBonus:  10,
			ReferralBonus: 50,
		},
	})
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	newCache, err := cache.NewCache()
	if err != nil {
		log.Printf("an error '%s' was not expected", err)
	}
	return database.Datasource{Conn: db, Cache: newCache}, mock, nil
}

func newTestService(t *testing.T) (*Kreatum, sqlmock.Sqlmock) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	k, err := NewKreatum(datasource)
	assert.NoError(t, err)
	return k, mock
}

func TestReserveTokens_RecordsCharge(t *testing.T) {
	k, mock := newTestService(t)
	amount := decimal.NewFromInt(120)

	mock.ExpectExec("UPDATE users").
		WithArgs("usr_1", amount).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	reserved, err := k.ReserveTokens(context.Background(), "usr_1", "job_1", amount)
	assert.NoError(t, err)
	assert.True(t, reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Insufficient funds routes to waiting_payment; the ledger records nothing.
func TestReserveTokens_InsufficientFunds(t *testing.T) {
	k, mock := newTestService(t)
	amount := decimal.NewFromInt(10000)

	mock.ExpectExec("UPDATE users").
		WithArgs("usr_1", amount).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reserved, err := k.ReserveTokens(context.Background(), "usr_1", "job_1", amount)
	assert.NoError(t, err)
	assert.False(t, reserved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Reserve then refund with no consumption is balance-neutral, and a second
// refund call moves nothing.
func TestRefundJob_Idempotent(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}).AddRow("usr_1", "120"))
	mock.ExpectExec("INSERT INTO transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	refunded, err := k.RefundJob(context.Background(), "job_1", "test")
	assert.NoError(t, err)
	assert.True(t, refunded)

	// second call: reservation already zero, no ledger entry
	mock.ExpectQuery("WITH held AS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "tokens_reserved"}))

	refunded, err = k.RefundJob(context.Background(), "job_1", "test")
	assert.NoError(t, err)
	assert.False(t, refunded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The same reference credits exactly once; the second delivery reports
// already granted.
func TestCreditTokens_SameReferenceOnce(t *testing.T) {
	k, mock := newTestService(t)

	txn := func() *model.Transaction {
		return &model.Transaction{
			UserID:      "usr_1",
			Type:        model.TypeGatewayPayment,
			Status:      model.TxnStatusSuccess,
			TokensDelta: decimal.NewFromInt(600),
			Currency:    "RUB",
			Reference:   "pay_evt_1",
		}
	}

	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	applied, err := k.CreditTokens(context.Background(), txn())
	assert.NoError(t, err)
	assert.True(t, applied)

	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 0))
	applied, err = k.CreditTokens(context.Background(), txn())
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
