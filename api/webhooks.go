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
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kreatum/kreatum"
	"github.com/kreatum/kreatum/config"
)

// ProviderWebhook receives generation completion callbacks. The shared token
// in the query string authenticates the caller; deliveries are at-least-once
// and a duplicate or late event is acknowledged without effect.
//
// Past the token check the endpoint always acknowledges with 200. An error
// status here only makes the provider redeliver a payload that will fail the
// same way again; the audit log keeps the evidence and the poller recovers
// the job on its next sweep.
//
// Responses:
// - 401 Unauthorized: If the token is missing or wrong.
// - 200 OK: Always, whether the event was applied, discarded or unusable.
func (a Api) ProviderWebhook(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conf.Provider.WebhookToken != "" {
		token := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(conf.Provider.WebhookToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logID := a.kreatum.AuditEvent(c.Request.Context(), "provider", rawBody)

	var event kreatum.ProviderEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		logrus.Warnf("unparseable provider event audited as %s: %v", logID, err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if event.RequestID == "" {
		logrus.Warnf("provider event without request_id audited as %s", logID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if err := a.kreatum.HandleProviderEvent(c.Request.Context(), event); err != nil {
		logrus.Errorf("provider event for request %s not applied: %v", event.RequestID, err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	a.kreatum.MarkEventProcessed(c.Request.Context(), logID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// PaymentWebhook receives gateway notifications. The raw body is audited
// before interpretation; the correlator decides between paying an order and
// crediting a top-up. The gateway is always acknowledged with 200 so it does
// not redeliver; failed interpretations stay visible in the audit log.
func (a Api) PaymentWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.kreatum.HandleGatewayEvent(c.Request.Context(), rawBody); err != nil {
		logrus.Errorf("gateway event not applied: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
