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
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

// CreateUser registers a user. Every user gets a referral code; when the
// request names a referrer's code the referral link is applied in the same
// call.
func (k *Kreatum) CreateUser(ctx context.Context, user *model.User, referrerCode string) (*model.User, error) {
	ctx, span := otel.Tracer("kreatum.user").Start(ctx, "CreateUser")
	defer span.End()

	if user.RefCode == "" {
		user.RefCode = strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
	}

	created, err := k.datasource.CreateUser(ctx, user)
	if err != nil {
		return nil, err
	}

	if referrerCode != "" {
		if _, err := k.ApplyReferral(ctx, referrerCode, created.UserID); err != nil {
			// Registration stands even when the code is bad.
			if apiErr, ok := err.(apierror.APIError); !ok || apiErr.Code != apierror.ErrNotFound {
				return nil, err
			}
		}
	}
	return created, nil
}

// GetUser returns a user by id.
func (k *Kreatum) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return k.datasource.GetUserByID(ctx, userID)
}

// GetUserByAnonID returns a user by their anonymous visitor id.
func (k *Kreatum) GetUserByAnonID(ctx context.Context, anonID string) (*model.User, error) {
	return k.datasource.GetUserByAnonID(ctx, anonID)
}

// GetTransactions returns a user's ledger history, newest first.
func (k *Kreatum) GetTransactions(ctx context.Context, userID string, limit, offset int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return k.datasource.GetTransactionsByUserID(ctx, userID, limit, offset)
}
