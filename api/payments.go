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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/kreatum/kreatum/api/model"
	"github.com/kreatum/kreatum/internal/apierror"
)

// CreatePayment creates a gateway payment for a waiting order and returns
// the confirmation URL the user is redirected to.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the request.
// - 409 Conflict: If the order is not awaiting payment.
// - 201 Created: With the payment id and confirmation URL.
func (a Api) CreatePayment(c *gin.Context) {
	var newPayment model2.CreatePayment
	if err := c.ShouldBindJSON(&newPayment); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newPayment.ValidateCreatePayment(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.kreatum.CreatePaymentIntent(c.Request.Context(), newPayment.OrderID, newPayment.ReturnURL, newPayment.Email)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}
