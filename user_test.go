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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/model"
)

func TestCreateUser_GeneratesRefCode(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := k.CreateUser(context.Background(), &model.User{
		Username: gofakeit.Username(),
		Email:    gofakeit.Email(),
	}, "")
	assert.NoError(t, err)
	assert.NotEmpty(t, created.UserID)
	assert.Len(t, created.RefCode, 10)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_WithReferrerCode(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM users WHERE ref_code =").
		WithArgs("abc123").
		WillReturnRows(inviterRows())
	mock.ExpectExec("INSERT INTO referrals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := k.CreateUser(context.Background(), &model.User{
		Username: gofakeit.Username(),
	}, "abc123")
	assert.NoError(t, err)
	assert.NotEmpty(t, created.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A bad referral code does not fail registration.
func TestCreateUser_UnknownReferrerCodeIgnored(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT .+ FROM users WHERE ref_code =").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	created, err := k.CreateUser(context.Background(), &model.User{
		Username: gofakeit.Username(),
	}, "nope")
	assert.NoError(t, err)
	assert.NotEmpty(t, created.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
