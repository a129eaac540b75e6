/*
Copyright 2026 ReelScript Authors.

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
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"REELSCRIPT_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"REELSCRIPT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"REELSCRIPT_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"REELSCRIPT_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"REELSCRIPT_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"REELSCRIPT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"REELSCRIPT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"REELSCRIPT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"REELSCRIPT_REDIS_SKIP_TLS_VERIFY"`
}

// LLMConfig points the generator at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL               string  `json:"base_url" envconfig:"REELSCRIPT_LLM_BASE_URL"`
	APIKey                string  `json:"api_key" envconfig:"REELSCRIPT_LLM_API_KEY"`
	Model                 string  `json:"model" envconfig:"REELSCRIPT_LLM_MODEL"`
	PremiumModel          string  `json:"premium_model" envconfig:"REELSCRIPT_LLM_PREMIUM_MODEL"`
	TimeoutSec            int     `json:"timeout_sec" envconfig:"REELSCRIPT_LLM_TIMEOUT_SEC"`
	MaxRetries            int     `json:"max_retries" envconfig:"REELSCRIPT_LLM_MAX_RETRIES"`
	RetryDelayMs          int     `json:"retry_delay_ms" envconfig:"REELSCRIPT_LLM_RETRY_DELAY_MS"`
	InputPricePerMillion  float64 `json:"input_price_per_million" envconfig:"REELSCRIPT_LLM_INPUT_PRICE"`
	OutputPricePerMillion float64 `json:"output_price_per_million" envconfig:"REELSCRIPT_LLM_OUTPUT_PRICE"`
}

type QueueConfig struct {
	StandardQueue         string `json:"standard_queue" envconfig:"REELSCRIPT_QUEUE_STANDARD"`
	ElevatedQueue         string `json:"elevated_queue" envconfig:"REELSCRIPT_QUEUE_ELEVATED"`
	WebhookQueue          string `json:"webhook_queue" envconfig:"REELSCRIPT_QUEUE_WEBHOOK"`
	StandardConcurrency   int    `json:"standard_concurrency" envconfig:"REELSCRIPT_QUEUE_STANDARD_CONCURRENCY"`
	ElevatedConcurrency   int    `json:"elevated_concurrency" envconfig:"REELSCRIPT_QUEUE_ELEVATED_CONCURRENCY"`
	MaxRetry              int    `json:"max_retry" envconfig:"REELSCRIPT_QUEUE_MAX_RETRY"`
	RetryBaseDelaySec     int    `json:"retry_base_delay_sec" envconfig:"REELSCRIPT_QUEUE_RETRY_BASE_DELAY_SEC"`
	CompletedRetentionSec int    `json:"completed_retention_sec" envconfig:"REELSCRIPT_QUEUE_COMPLETED_RETENTION_SEC"`
	JobTimeoutSec         int    `json:"job_timeout_sec" envconfig:"REELSCRIPT_QUEUE_JOB_TIMEOUT_SEC"`
	MonitoringPort        string `json:"monitoring_port" envconfig:"REELSCRIPT_QUEUE_MONITORING_PORT"`
}

// CreditConfig holds pricing and the monthly free allotment.
type CreditConfig struct {
	FreeMonthlyAllotment int64 `json:"free_monthly_allotment" envconfig:"REELSCRIPT_CREDITS_FREE_MONTHLY"`
	StandardScriptCost   int64 `json:"standard_script_cost" envconfig:"REELSCRIPT_CREDITS_STANDARD_COST"`
	PremiumScriptCost    int64 `json:"premium_script_cost" envconfig:"REELSCRIPT_CREDITS_PREMIUM_COST"`
	RegenerationCost     int64 `json:"regeneration_cost" envconfig:"REELSCRIPT_CREDITS_REGENERATION_COST"`
	RenewalIntervalSec   int   `json:"renewal_interval_sec" envconfig:"REELSCRIPT_CREDITS_RENEWAL_INTERVAL_SEC"`
	RenewalBatchSize     int   `json:"renewal_batch_size" envconfig:"REELSCRIPT_CREDITS_RENEWAL_BATCH_SIZE"`
}

type GenerationConfig struct {
	ExpansionConcurrency int     `json:"expansion_concurrency" envconfig:"REELSCRIPT_GENERATION_EXPANSION_CONCURRENCY"`
	MaxScriptsPerBatch   int     `json:"max_scripts_per_batch" envconfig:"REELSCRIPT_GENERATION_MAX_SCRIPTS"`
	PlanTemperature      float32 `json:"plan_temperature" envconfig:"REELSCRIPT_GENERATION_PLAN_TEMPERATURE"`
	ScriptTemperature    float32 `json:"script_temperature" envconfig:"REELSCRIPT_GENERATION_SCRIPT_TEMPERATURE"`
	PlanMaxTokens        int     `json:"plan_max_tokens" envconfig:"REELSCRIPT_GENERATION_PLAN_MAX_TOKENS"`
	ScriptMaxTokens      int     `json:"script_max_tokens" envconfig:"REELSCRIPT_GENERATION_SCRIPT_MAX_TOKENS"`
	ProjectCacheTTLSec   int     `json:"project_cache_ttl_sec" envconfig:"REELSCRIPT_GENERATION_PROJECT_CACHE_TTL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"REELSCRIPT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"REELSCRIPT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"REELSCRIPT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"REELSCRIPT_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"REELSCRIPT_ENABLE_TELEMETRY"`
	EnableTracing   bool             `json:"enable_tracing" envconfig:"REELSCRIPT_ENABLE_TRACING"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	LLM             LLMConfig        `json:"llm"`
	Queue           QueueConfig      `json:"queue"`
	Credits         CreditConfig     `json:"credits"`
	Generation      GenerationConfig `json:"generation"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("reelscript", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called reelscript.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "ReelScript"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.LLM.BaseURL), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.LLM.applyDefaults()
	cnf.Queue.applyDefaults()
	cnf.Credits.applyDefaults()
	cnf.Generation.applyDefaults()

	if cnf.Queue.ElevatedQueue == cnf.Queue.StandardQueue {
		return errors.New("standard and elevated queues must be distinct")
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
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (l *LLMConfig) applyDefaults() {
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.PremiumModel == "" {
		l.PremiumModel = l.Model
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 120
	}
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 2
	}
	if l.RetryDelayMs <= 0 {
		l.RetryDelayMs = 1000
	}
}

func (q *QueueConfig) applyDefaults() {
	if q.StandardQueue == "" {
		q.StandardQueue = "generation:standard"
	}
	if q.ElevatedQueue == "" {
		q.ElevatedQueue = "generation:elevated"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "webhooks"
	}
	if q.StandardConcurrency <= 0 {
		q.StandardConcurrency = 2
	}
	if q.ElevatedConcurrency <= 0 {
		q.ElevatedConcurrency = 3
	}
	if q.MaxRetry <= 0 {
		q.MaxRetry = 2
	}
	if q.RetryBaseDelaySec <= 0 {
		q.RetryBaseDelaySec = 5
	}
	if q.CompletedRetentionSec <= 0 {
		q.CompletedRetentionSec = 3600
	}
	if q.JobTimeoutSec <= 0 {
		q.JobTimeoutSec = 900
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
}

func (c *CreditConfig) applyDefaults() {
	if c.FreeMonthlyAllotment <= 0 {
		c.FreeMonthlyAllotment = 20
	}
	if c.StandardScriptCost <= 0 {
		c.StandardScriptCost = 1
	}
	if c.PremiumScriptCost <= 0 {
		c.PremiumScriptCost = 2
	}
	if c.RegenerationCost <= 0 {
		c.RegenerationCost = 1
	}
	if c.RenewalIntervalSec <= 0 {
		c.RenewalIntervalSec = 86400
	}
	if c.RenewalBatchSize <= 0 {
		c.RenewalBatchSize = 500
	}
}

func (g *GenerationConfig) applyDefaults() {
	if g.ExpansionConcurrency <= 0 {
		g.ExpansionConcurrency = 1
	}
	if g.MaxScriptsPerBatch <= 0 {
		g.MaxScriptsPerBatch = 50
	}
	if g.PlanTemperature <= 0 {
		g.PlanTemperature = 0.9
	}
	if g.ScriptTemperature <= 0 {
		g.ScriptTemperature = 0.7
	}
	if g.PlanMaxTokens <= 0 {
		g.PlanMaxTokens = 4000
	}
	if g.ScriptMaxTokens <= 0 {
		g.ScriptMaxTokens = 2000
	}
	if g.ProjectCacheTTLSec <= 0 {
		g.ProjectCacheTTLSec = 300
	}
}

// MockConfig sets a mock configuration for testing purposes.
// Defaults are filled in so callers only need to set what they assert on.
func MockConfig(mockConfig *Configuration) {
	mockConfig.LLM.applyDefaults()
	mockConfig.Queue.applyDefaults()
	mockConfig.Credits.applyDefaults()
	mockConfig.Generation.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
