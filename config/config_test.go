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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "data source DNS is required")

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	err = cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "redis DNS is required")

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		LLM:        LLMConfig{BaseURL: " http://llm.local/v1/ "},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "ReelScript", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "http://llm.local/v1", cnf.LLM.BaseURL)
	assert.Equal(t, 2, cnf.LLM.MaxRetries)
	assert.Equal(t, "generation:standard", cnf.Queue.StandardQueue)
	assert.Equal(t, "generation:elevated", cnf.Queue.ElevatedQueue)
	assert.Equal(t, 2, cnf.Queue.StandardConcurrency)
	assert.Equal(t, 3, cnf.Queue.ElevatedConcurrency)
	assert.Equal(t, 2, cnf.Queue.MaxRetry)
	assert.Equal(t, 5, cnf.Queue.RetryBaseDelaySec)
	assert.Equal(t, int64(20), cnf.Credits.FreeMonthlyAllotment)
	assert.Equal(t, int64(2), cnf.Credits.PremiumScriptCost)
	assert.Equal(t, 1, cnf.Generation.ExpansionConcurrency)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond)
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
}

func TestValidateRejectsSharedLaneQueue(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Queue:      QueueConfig{StandardQueue: "generation", ElevatedQueue: "generation"},
	}
	assert.Error(t, cnf.validateAndAddDefaults())
}

func TestRateLimitDefaults(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
	}
	require.NoError(t, cnf.validateAndAddDefaults())
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "reelscript.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Credits:     CreditConfig{FreeMonthlyAllotment: 35},
	}
	require.NoError(t, json.NewEncoder(tmpFile).Encode(sampleConfig))
	tmpFile.Close()

	t.Setenv("REELSCRIPT_PROJECT_NAME", "Env Project")
	t.Setenv("REELSCRIPT_LLM_MODEL", "llama3")

	require.NoError(t, loadConfigFromFile(tmpFile.Name()))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, "llama3", loadedConfig.LLM.Model)
	assert.Equal(t, "llama3", loadedConfig.LLM.PremiumModel)
	assert.Equal(t, int64(35), loadedConfig.Credits.FreeMonthlyAllotment)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "reelscript.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init-config-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, json.NewEncoder(tmpFile).Encode(sampleConfig))
	tmpFile.Close()

	require.NoError(t, InitConfig(tmpFile.Name()))

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "init-config-dns", loadedConfig.DataSource.Dns)
}

func TestMockConfigFillsDefaults(t *testing.T) {
	MockConfig(&Configuration{})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cnf.Credits.StandardScriptCost)
	assert.Equal(t, "webhooks", cnf.Queue.WebhookQueue)
}
