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

package notification

import (
	"errors"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/kreatum/kreatum/config"
)

func TestSlackNotification_PostsToWebhook(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Notification: config.Notification{
			Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.example.test/T000/B000"},
		},
	})
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://hooks.slack.example.test/T000/B000",
		httpmock.NewStringResponder(200, `{}`))

	SlackNotification(errors.New("poller list: connection refused"))

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["POST https://hooks.slack.example.test/T000/B000"])
}
