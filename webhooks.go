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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/model"
)

// SendJobEvent enqueues a job lifecycle notification for the external bot
// server. Fire and forget: enqueue failures are logged, never surfaced into
// job state.
func (k *Kreatum) SendJobEvent(event string, job *model.Job, data map[string]interface{}) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Errorf("job event config: %v", err)
		return
	}
	if conf.Notification.JobEvent.Url == "" {
		return
	}

	payload := JobEventPayload{
		Event:   event,
		JobID:   job.JobID,
		OrderID: job.OrderID,
		UserID:  job.UserID,
		Data:    data,
	}
	if err := k.queue.queueJobEvent(payload); err != nil {
		logrus.Errorf("failed to enqueue %s for job %s: %v", event, job.JobID, err)
	}
}

// ProcessJobEvent processes a job event task from the queue and delivers it
// to the configured notification sink.
func ProcessJobEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.JobEvent.Url == "" {
		return nil
	}

	var payload JobEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing job event: %s %s", payload.Event, payload.JobID)
	return deliverJobEvent(conf, payload)
}

func deliverJobEvent(conf *config.Configuration, payload JobEventPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Println("Error marshaling job event:", err)
		return err
	}

	req, err := http.NewRequest("POST", conf.Notification.JobEvent.Url, bytes.NewBuffer(body))
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.JobEvent.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Job event delivery failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	log.Printf("Job event delivered: %s %s", payload.Event, payload.JobID)
	return nil
}
