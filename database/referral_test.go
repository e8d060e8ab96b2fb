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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/model"
)

func TestLinkReferral_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO referrals").
		WillReturnResult(sqlmock.NewResult(1, 1))

	linked, err := ds.LinkReferral(context.Background(), &model.Referral{
		InviterID: "usr_inviter",
		InviteeID: "usr_invitee",
	})
	assert.NoError(t, err)
	assert.True(t, linked)
}

func TestLinkReferral_DuplicatePair(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO referrals").
		WillReturnResult(sqlmock.NewResult(0, 0))

	linked, err := ds.LinkReferral(context.Background(), &model.Referral{
		InviterID: "usr_inviter",
		InviteeID: "usr_invitee",
	})
	assert.NoError(t, err)
	assert.False(t, linked)
}

func TestLinkReferral_SelfReferral(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	linked, err := ds.LinkReferral(context.Background(), &model.Referral{
		InviterID: "usr_1",
		InviteeID: "usr_1",
	})
	assert.NoError(t, err)
	assert.False(t, linked)
}

func TestMarkInviteePaid_FirstPaymentOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("UPDATE referrals").
		WithArgs("usr_invitee").
		WillReturnRows(sqlmock.NewRows([]string{"inviter_id"}).AddRow("usr_inviter"))

	inviterID, flipped, err := ds.MarkInviteePaid(context.Background(), "usr_invitee")
	assert.NoError(t, err)
	assert.True(t, flipped)
	assert.Equal(t, "usr_inviter", inviterID)

	// later payments find the flag set
	mock.ExpectQuery("UPDATE referrals").
		WithArgs("usr_invitee").
		WillReturnRows(sqlmock.NewRows([]string{"inviter_id"}))

	_, flipped, err = ds.MarkInviteePaid(context.Background(), "usr_invitee")
	assert.NoError(t, err)
	assert.False(t, flipped)
}

func TestGetReferralStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("usr_inviter").
		WillReturnRows(sqlmock.NewRows([]string{"count", "paid"}).AddRow(5, 2))

	stats, err := ds.GetReferralStats(context.Background(), "usr_inviter")
	assert.NoError(t, err)
	assert.Equal(t, int64(5), stats.InvitedCount)
	assert.Equal(t, int64(2), stats.PaidCount)
}
