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
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/kreatum/kreatum/api/model"
	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/model"
)

// CreateUser registers a user. When the request carries a referrer code the
// referral link and inviter bonus are applied in the same call.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the user.
// - 201 Created: If the user is successfully registered.
func (a Api) CreateUser(c *gin.Context) {
	var newUser model2.CreateUser
	if err := c.ShouldBindJSON(&newUser); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newUser.ValidateCreateUser(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.kreatum.CreateUser(c.Request.Context(), &model.User{
		TelegramID: newUser.TelegramID,
		Username:   newUser.Username,
		AnonUserID: newUser.AnonUserID,
		Email:      newUser.Email,
	}, newUser.ReferrerCode)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetUser retrieves a user by their ID.
func (a Api) GetUser(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.kreatum.GetUser(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetTransactions lists a user's ledger history, newest first.
func (a Api) GetTransactions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.kreatum.GetTransactions(c.Request.Context(), id, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetReferralStats summarizes a user's referrals and the tokens they earned.
func (a Api) GetReferralStats(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.kreatum.GetReferralStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ApplyReferral links an invitee to the owner of a referral code.
//
// Responses:
// - 404 Not Found: If the referral code matches no user.
// - 200 OK: With what the application actually did.
func (a Api) ApplyReferral(c *gin.Context) {
	var req model2.ApplyReferral
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateApplyReferral(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.kreatum.ApplyReferral(c.Request.Context(), req.RefCode, req.InviteeID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GrantReviewBonus credits the one-time review bonus.
func (a Api) GrantReviewBonus(c *gin.Context) {
	a.grantBonus(c, a.kreatum.GrantReviewBonus)
}

// GrantChannelBonus credits the one-time channel-subscription bonus.
func (a Api) GrantChannelBonus(c *gin.Context) {
	a.grantBonus(c, a.kreatum.GrantChannelBonus)
}

func (a Api) grantBonus(c *gin.Context, grant func(ctx context.Context, userID string) (bool, error)) {
	var req model2.GrantBonus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateGrantBonus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	granted, err := grant(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"granted": granted})
}
