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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/database"
	redis_db "github.com/kreatum/kreatum/internal/redis-db"
	"github.com/kreatum/kreatum/payment"
	"github.com/kreatum/kreatum/provider"
	"github.com/kreatum/kreatum/storage"
)

// Kreatum is the main service. It owns the datasource, the provider and
// gateway clients, object storage and the notification queue.
type Kreatum struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	provider   *provider.Client
	storage    *storage.Store
	payment    *payment.Client
}

// NewKreatum initializes the service with the provided datasource. It wires
// the Redis client, the task queue, the provider and payment clients and
// object storage.
func NewKreatum(db database.IDataSource) (*Kreatum, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Kreatum{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		provider:   provider.NewClient(),
		storage:    store,
		payment:    payment.NewClient(),
	}, nil
}
