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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/kreatum/kreatum/config"
	redis_db "github.com/kreatum/kreatum/internal/redis-db"
)

// Queue wraps the asynq client used for job event notifications.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// JobEventPayload is the task payload for job lifecycle notifications.
type JobEventPayload struct {
	Event   string                 `json:"event"`
	JobID   string                 `json:"job_id"`
	OrderID string                 `json:"order_id"`
	UserID  string                 `json:"user_id"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueJobEvent enqueues a job lifecycle event for asynchronous delivery.
// The task id includes the event name, so each lifecycle stage of a job is
// enqueued at most once even when two reconciler drivers observe it.
func (q *Queue) queueJobEvent(payload JobEventPayload) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskID := payload.JobID + ":" + payload.Event
	if existing, err := q.Inspector.GetTaskInfo(cfg.Queue.JobEventQueue, taskID); err == nil && existing != nil {
		log.Printf(" [*] job event already queued: %s %s", payload.JobID, payload.Event)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(cfg.Queue.JobEventQueue),
	}
	task := asynq.NewTask(cfg.Queue.JobEventQueue, data, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued job event: %s %s", payload.JobID, payload.Event)
	return nil
}
