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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kreatum/kreatum"
	model2 "github.com/kreatum/kreatum/api/model"
	"github.com/kreatum/kreatum/internal/apierror"
)

// CreateJob handles the submission of a new generation job.
// It binds the incoming JSON request to a CreateJob object, validates it,
// and then prices and records the job. A job the balance cannot cover is
// returned in waiting_payment together with its order id.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the job.
// - 201 Created: If the job is successfully recorded.
func (a Api) CreateJob(c *gin.Context) {
	var newJob model2.CreateJob
	if err := c.ShouldBindJSON(&newJob); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newJob.ValidateCreateJob(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.kreatum.CreateJob(c.Request.Context(), kreatum.JobRequest{
		UserID:           newJob.UserID,
		AnonUserID:       newJob.AnonUserID,
		ModelName:        newJob.Model,
		ServiceType:      newJob.ServiceType,
		Units:            newJob.Units,
		EndpointOverride: newJob.EndpointOverride,
		Input:            newJob.ToInput(),
	})
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetJob retrieves a job by its ID.
//
// Responses:
// - 400 Bad Request: If the job ID is missing.
// - 404 Not Found: If the job does not exist.
// - 200 OK: If the job is found.
func (a Api) GetJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.kreatum.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetJobs lists a user's jobs, newest first. The user is named by the
// user_id query parameter; limit and offset page the result.
func (a Api) GetJobs(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.kreatum.GetJobsByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob forces a non-terminal job to failed and refunds its reservation.
//
// Responses:
// - 409 Conflict: If the job is already finished.
// - 200 OK: With the failed job.
func (a Api) CancelJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.kreatum.CancelJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CreateModel adds an entry to the generation model catalog.
func (a Api) CreateModel(c *gin.Context) {
	var newModel model2.CreateModel
	if err := c.ShouldBindJSON(&newModel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newModel.ValidateCreateModel(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	genModel, err := newModel.ToGenModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.kreatum.CreateCatalogModel(c.Request.Context(), genModel)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}
