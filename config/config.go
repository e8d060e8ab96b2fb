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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"KREATUM_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"KREATUM_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"KREATUM_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"KREATUM_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"KREATUM_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"KREATUM_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"KREATUM_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"KREATUM_REDIS_DNS"`
}

type QueueConfig struct {
	JobEventQueue  string `json:"job_event_queue" envconfig:"KREATUM_QUEUE_JOB_EVENT"`
	MonitoringPort string `json:"monitoring_port" envconfig:"KREATUM_QUEUE_MONITORING_PORT"`
}

// ProviderConfig holds the generation provider (queue API) settings.
// DefaultEndpoint is the model path used when neither the request nor the
// catalog entry declares one.
type ProviderConfig struct {
	Key                  string `json:"key" envconfig:"KREATUM_PROVIDER_KEY"`
	QueueURL             string `json:"queue_url" envconfig:"KREATUM_PROVIDER_QUEUE_URL"`
	DefaultEndpoint      string `json:"default_endpoint" envconfig:"KREATUM_PROVIDER_DEFAULT_ENDPOINT"`
	WebhookToken         string `json:"webhook_token" envconfig:"KREATUM_PROVIDER_WEBHOOK_TOKEN"`
	PollIntervalSec      int    `json:"poll_interval_sec" envconfig:"KREATUM_PROVIDER_POLL_INTERVAL_SEC"`
	RequestTimeoutSec    int    `json:"request_timeout_sec" envconfig:"KREATUM_PROVIDER_REQUEST_TIMEOUT_SEC"`
	MediaTimeoutSec      int    `json:"media_timeout_sec" envconfig:"KREATUM_PROVIDER_MEDIA_TIMEOUT_SEC"`
	RefundOnMediaFailure bool   `json:"refund_on_media_failure" envconfig:"KREATUM_PROVIDER_REFUND_ON_MEDIA_FAILURE"`
}

type S3Config struct {
	Endpoint        string `json:"endpoint" envconfig:"KREATUM_S3_ENDPOINT"`
	AccessKeyId     string `json:"access_key_id" envconfig:"KREATUM_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"KREATUM_S3_SECRET_ACCESS_KEY"`
	BucketName      string `json:"bucket_name" envconfig:"KREATUM_S3_BUCKET_NAME"`
	Region          string `json:"region" envconfig:"KREATUM_S3_REGION"`
	PresignTTLSec   int    `json:"presign_ttl_sec" envconfig:"KREATUM_S3_PRESIGN_TTL_SEC"`
}

type PaymentGatewayConfig struct {
	ShopId    string `json:"shop_id" envconfig:"KREATUM_PAYMENT_SHOP_ID"`
	ApiKey    string `json:"api_key" envconfig:"KREATUM_PAYMENT_API_KEY"`
	ApiBase   string `json:"api_base" envconfig:"KREATUM_PAYMENT_API_BASE"`
	ReturnUrl string `json:"return_url" envconfig:"KREATUM_PAYMENT_RETURN_URL"`
}

type PricingConfig struct {
	UsdToRub      float64 `json:"usd_to_rub" envconfig:"KREATUM_PRICING_USD_TO_RUB"`
	ReviewBonus   int64   `json:"review_bonus_tokens" envconfig:"KREATUM_PRICING_REVIEW_BONUS"`
	ChannelBonus  int64   `json:"channel_bonus_tokens" envconfig:"KREATUM_PRICING_CHANNEL_BONUS"`
	ReferralBonus int64   `json:"referral_bonus_tokens" envconfig:"KREATUM_PRICING_REFERRAL_BONUS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"KREATUM_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"KREATUM_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"KREATUM_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack    SlackWebhook `json:"slack"`
	JobEvent struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"job_event"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"KREATUM_PROJECT_NAME"`
	Server         ServerConfig         `json:"server"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Queue          QueueConfig          `json:"queue"`
	Provider       ProviderConfig       `json:"provider"`
	S3             S3Config             `json:"s3"`
	PaymentGateway PaymentGatewayConfig `json:"payment_gateway"`
	Pricing        PricingConfig        `json:"pricing"`
	Notification   Notification         `json:"notification"`
	RateLimit      RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("kreatum", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called kreatum.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Kreatum Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.JobEventQueue == "" {
		cnf.Queue.JobEventQueue = "new:job-event"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Provider.QueueURL == "" {
		cnf.Provider.QueueURL = "https://queue.fal.run"
	}
	cnf.Provider.QueueURL = strings.TrimSuffix(cnf.Provider.QueueURL, "/")
	if cnf.Provider.PollIntervalSec <= 0 {
		cnf.Provider.PollIntervalSec = 20
	}
	if cnf.Provider.RequestTimeoutSec <= 0 {
		cnf.Provider.RequestTimeoutSec = 60
	}
	if cnf.Provider.MediaTimeoutSec <= 0 {
		cnf.Provider.MediaTimeoutSec = 180
	}

	if cnf.S3.PresignTTLSec <= 0 {
		cnf.S3.PresignTTLSec = 86400
	}

	if cnf.PaymentGateway.ApiBase == "" {
		cnf.PaymentGateway.ApiBase = "https://api.yookassa.ru"
	}
	cnf.PaymentGateway.ApiBase = strings.TrimSuffix(cnf.PaymentGateway.ApiBase, "/")

	if cnf.Pricing.UsdToRub <= 0 {
		cnf.Pricing.UsdToRub = 100
	}
	if cnf.Pricing.ReviewBonus <= 0 {
		cnf.Pricing.ReviewBonus = 20
	}
	if cnf.Pricing.ChannelBonus <= 0 {
		cnf.Pricing.ChannelBonus = 10
	}
	if cnf.Pricing.ReferralBonus <= 0 {
		cnf.Pricing.ReferralBonus = 50
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
