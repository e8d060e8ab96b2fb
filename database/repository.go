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

package database

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kreatum/kreatum/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	user       // User records and balance mutations
	job        // Job records and state transitions
	transaction // Append-only token ledger entries
	referral   // Referral links
	webhookLog // Raw webhook audit log
	modelCatalog
}

// user defines methods for handling users and guarded balance mutations.
type user interface {
	CreateUser(ctx context.Context, user *model.User) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByAnonID(ctx context.Context, anonID string) (*model.User, error)
	GetUserByRefCode(ctx context.Context, refCode string) (*model.User, error)
	ReserveBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error)
	CreditIdempotent(ctx context.Context, txn *model.Transaction) (bool, error)
}

// job defines methods for handling jobs. All transitions into a terminal
// state are conditional writes guarded by the current status.
type job interface {
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, error)
	GetJobByID(ctx context.Context, id string) (*model.Job, error)
	GetJobByOrderID(ctx context.Context, orderID string) (*model.Job, error)
	GetJobByRequestID(ctx context.Context, requestID string) (*model.Job, error)
	GetJobsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Job, error)
	SetRequestHandle(ctx context.Context, jobID string, handle model.RequestHandle) (bool, error)
	MarkJobPaid(ctx context.Context, orderID string) (*model.Job, bool, error)
	MarkJobProcessing(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, resultURL string) (bool, error)
	FailJob(ctx context.Context, jobID string) (bool, error)
	RefundJobReservation(ctx context.Context, jobID string) (string, decimal.Decimal, bool, error)
	ListPollableJobs(ctx context.Context) ([]*model.Job, error)
}

// transaction defines methods for the append-only ledger log.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	TransactionExistsByRef(ctx context.Context, userID, reference string) (bool, error)
	GetTransactionsByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error)
	SumTokensByReference(ctx context.Context, userID, reference string) (decimal.Decimal, error)
}

// referral defines methods for referral links.
type referral interface {
	LinkReferral(ctx context.Context, referral *model.Referral) (bool, error)
	MarkInviteePaid(ctx context.Context, inviteeID string) (string, bool, error)
	GetReferralStats(ctx context.Context, inviterID string) (*model.ReferralStats, error)
	GetReferralsByInviter(ctx context.Context, inviterID string, limit, offset int) ([]*model.Referral, error)
}

// webhookLog defines methods for the raw webhook audit log.
type webhookLog interface {
	LogWebhookEvent(ctx context.Context, entry *model.WebhookLog) (*model.WebhookLog, error)
	MarkWebhookProcessed(ctx context.Context, logID string) error
}

// modelCatalog defines read access to the generation-model catalog.
type modelCatalog interface {
	CreateModel(ctx context.Context, genModel *model.GenModel) (*model.GenModel, error)
	GetModelByID(ctx context.Context, id string) (*model.GenModel, error)
	GetModelByName(ctx context.Context, name string) (*model.GenModel, error)
}
