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
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func inviterRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "telegram_id", "username", "anon_user_id", "email", "balance_tokens",
		"ref_code", "referrer_id", "has_left_review", "has_channel_sub", "created_at",
	}).AddRow(
		"usr_inviter", "", "inviter", "", "", "500", "abc123", "", false, false, time.Now(),
	)
}

func TestApplyReferral_LinksAndCreditsOnce(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectQuery("SELECT .+ FROM users WHERE ref_code =").
		WithArgs("abc123").
		WillReturnRows(inviterRows())
	mock.ExpectExec("INSERT INTO referrals").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := k.ApplyReferral(context.Background(), "abc123", "usr_invitee")
	assert.NoError(t, err)
	assert.Equal(t, "usr_inviter", result.InviterID)
	assert.False(t, result.AlreadyLinked)
	assert.True(t, result.BonusGranted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReferral_RepeatLinkIsNoOp(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectQuery("SELECT .+ FROM users WHERE ref_code =").
		WithArgs("abc123").
		WillReturnRows(inviterRows())
	mock.ExpectExec("INSERT INTO referrals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := k.ApplyReferral(context.Background(), "abc123", "usr_invitee")
	assert.NoError(t, err)
	assert.True(t, result.AlreadyLinked)
	assert.False(t, result.BonusGranted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReferral_UnknownCode(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectQuery("SELECT .+ FROM users WHERE ref_code =").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := k.ApplyReferral(context.Background(), "nope", "usr_invitee")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReferralStats_IncludesEarnedTokens(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("usr_inviter").
		WillReturnRows(sqlmock.NewRows([]string{"count", "paid"}).AddRow(3, 1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("usr_inviter", "referral_bonus").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("100"))

	stats, err := k.GetReferralStats(context.Background(), "usr_inviter")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.InvitedCount)
	assert.Equal(t, int64(1), stats.PaidCount)
	assert.Equal(t, "100", stats.TokensEarned.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantReviewBonus_OncePerUser(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	granted, err := k.GrantReviewBonus(context.Background(), "usr_1")
	assert.NoError(t, err)
	assert.True(t, granted)

	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 0))
	granted, err = k.GrantReviewBonus(context.Background(), "usr_1")
	assert.NoError(t, err)
	assert.False(t, granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantChannelBonus(t *testing.T) {
	k, mock := newTestService(t)

	mock.ExpectExec("WITH ins AS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	granted, err := k.GrantChannelBonus(context.Background(), "usr_1")
	assert.NoError(t, err)
	assert.True(t, granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
