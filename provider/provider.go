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

// Package provider talks to the generation provider's queue API: submitting
// requests, polling their status and pulling results. All outbound calls are
// bounded by the configured timeouts, and sensitive argument values never
// reach the logs.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/internal/apierror"
	"github.com/kreatum/kreatum/internal/request"
	"github.com/kreatum/kreatum/model"
)

// Normalized provider states. Everything the provider reports collapses into
// one of these before the reconciler sees it.
const (
	StateInQueue    = "IN_QUEUE"
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
	StateCancelled  = "CANCELLED"
	StateUnknown    = "UNKNOWN"
)

// Client is a thin HTTP client over the provider queue API.
type Client struct{}

func NewClient() *Client {
	return &Client{}
}

// StatusResponse is the normalized view of a queue status reply.
type StatusResponse struct {
	Status        string `json:"status"`
	ResponseURL   string `json:"response_url"`
	QueuePosition int    `json:"queue_position"`
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	ResponseURL string `json:"response_url"`
	StatusURL   string `json:"status_url"`
	CancelURL   string `json:"cancel_url"`
}

// maskArgs returns a copy of the submission arguments safe for logging.
// Image URLs carry presigned credentials and prompts carry user content;
// neither belongs in a log line.
func maskArgs(args map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(args))
	for k, v := range args {
		masked[k] = v
	}
	if _, ok := masked["image_url"]; ok {
		masked["image_url"] = "<https>"
	}
	if v, ok := masked["prompt"]; ok {
		masked["prompt"] = fmt.Sprintf("<len=%d>", len(fmt.Sprintf("%v", v)))
	}
	return masked
}

// NormalizeState folds the provider's status vocabulary (and its historical
// spellings) into the canonical state set. A status that matches nothing maps
// to StateUnknown; callers must not move a job on it.
func NormalizeState(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case s == StateCompleted || strings.Contains(s, "COMPLETED") || s == "OK":
		return StateCompleted
	case s == StateInQueue || strings.Contains(s, "QUEUE"):
		return StateInQueue
	case strings.Contains(s, "FAILED") || strings.Contains(s, "ERROR"):
		return StateFailed
	case strings.Contains(s, "CANCEL"):
		return StateCancelled
	case s == StateInProgress || strings.Contains(s, "PROGRESS") || strings.Contains(s, "RUNNING") || strings.Contains(s, "PROCESS"):
		return StateInProgress
	default:
		return StateUnknown
	}
}

// IsTerminalState reports whether a normalized state admits no further
// provider-side progress.
func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}

// Submit enqueues a generation request and returns the correlation handle.
// A reply without a request_id is a hard error: without the handle the job
// can never be reconciled, so the caller must refund and fail it.
func (c *Client) Submit(ctx context.Context, endpoint string, args map[string]interface{}) (model.RequestHandle, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return model.RequestHandle{}, err
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(cnf.Provider.QueueURL, "/"), endpoint)
	logrus.Infof("provider submit endpoint=%s args=%v", endpoint, maskArgs(args))

	payload, err := request.ToJsonReq(args)
	if err != nil {
		return model.RequestHandle{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode submission", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return model.RequestHandle{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build submission request", err)
	}
	req.Header.Set("Authorization", "Key "+cnf.Provider.Key)

	var submitted submitResponse
	resp, err := request.CallWithTimeout(req, &submitted, time.Duration(cnf.Provider.RequestTimeoutSec)*time.Second)
	if err != nil {
		return model.RequestHandle{}, apierror.NewAPIError(apierror.ErrUpstreamFailure, "Provider submission failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return model.RequestHandle{}, apierror.NewAPIError(apierror.ErrUpstreamFailure,
			fmt.Sprintf("Provider rejected submission with status %d", resp.StatusCode), nil)
	}
	if submitted.RequestID == "" {
		return model.RequestHandle{}, apierror.NewAPIError(apierror.ErrUpstreamFailure,
			"Provider did not return a request id", nil)
	}

	logrus.Infof("provider submit -> request_id=%s endpoint=%s", submitted.RequestID, endpoint)
	return model.RequestHandle{RequestID: submitted.RequestID, EndpointID: endpoint}, nil
}

// Status polls the queue for a request's current state. The returned status
// is always normalized.
func (c *Client) Status(ctx context.Context, handle model.RequestHandle) (*StatusResponse, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/requests/%s/status",
		strings.TrimRight(cnf.Provider.QueueURL, "/"), handle.EndpointID, handle.RequestID)

	var status StatusResponse
	if err := c.getJSON(ctx, url, &status, time.Duration(cnf.Provider.RequestTimeoutSec)*time.Second); err != nil {
		return nil, err
	}
	status.Status = NormalizeState(status.Status)
	logrus.Infof("provider status request_id=%s -> %s", handle.RequestID, status.Status)
	return &status, nil
}

// Result fetches the final response payload for a completed request.
func (c *Client) Result(ctx context.Context, handle model.RequestHandle) (map[string]interface{}, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/requests/%s",
		strings.TrimRight(cnf.Provider.QueueURL, "/"), handle.EndpointID, handle.RequestID)

	var result map[string]interface{}
	if err := c.getJSON(ctx, url, &result, time.Duration(cnf.Provider.RequestTimeoutSec)*time.Second); err != nil {
		return nil, err
	}
	return result, nil
}

// FetchQueueJSON performs an authorized GET against an absolute queue URL,
// such as the response_url a webhook delivery carries.
func (c *Client) FetchQueueJSON(ctx context.Context, url string) (map[string]interface{}, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := c.getJSON(ctx, url, &result, time.Duration(cnf.Provider.RequestTimeoutSec)*time.Second); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, url string, response interface{}, timeout time.Duration) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	logrus.Infof("provider GET %s headers={'Authorization': 'Key ****'}", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to build provider request", err)
	}
	req.Header.Set("Authorization", "Key "+cnf.Provider.Key)

	resp, err := request.CallWithTimeout(req, response, timeout)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrUpstreamFailure, "Provider request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apierror.NewAPIError(apierror.ErrUpstreamFailure,
			fmt.Sprintf("Provider returned status %d for %s", resp.StatusCode, url), nil)
	}
	return nil
}

// FetchBytes downloads generated media with a generous timeout and a short
// retry window for transient failures. The content type accompanies the bytes
// so storage can set it on upload.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, string, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, "", err
	}

	client := &http.Client{Timeout: time.Duration(cnf.Provider.MediaTimeoutSec) * time.Second}

	var body []byte
	var contentType string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("media fetch returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return backoff.Permanent(fmt.Errorf("media fetch returned status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, "", apierror.NewAPIError(apierror.ErrUpstreamFailure, "Failed to fetch media", err)
	}

	logrus.Infof("provider GET %s <- bytes=%d", url, len(body))
	return body, contentType, nil
}
