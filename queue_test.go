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

package reelscript

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/model"
)

func newTestQueue(t *testing.T, webhookURL string) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	cnf.Notification.Webhook.Url = webhookURL
	config.MockConfig(cnf)

	q := NewQueue(cnf)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueBatchUsesLaneAndTaskID(t *testing.T) {
	q := newTestQueue(t, "")

	require.NoError(t, q.EnqueueBatch(context.Background(), "bat_1", model.LaneElevated))

	info, err := q.Inspector.GetTaskInfo("generation:elevated", "bat_1")
	require.NoError(t, err)
	assert.Equal(t, TaskGenerateBatch, info.Type)
	assert.Equal(t, 2, info.MaxRetry)

	var payload GenerateBatchPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, GenerateBatchPayload{Type: TaskGenerateBatch, BatchID: "bat_1"}, payload)
}

func TestEnqueueBatchDuplicateIsIgnored(t *testing.T) {
	q := newTestQueue(t, "")

	require.NoError(t, q.EnqueueBatch(context.Background(), "bat_1", model.LaneStandard))
	require.NoError(t, q.EnqueueBatch(context.Background(), "bat_1", model.LaneStandard))

	tasks, err := q.Inspector.ListPendingTasks("generation:standard")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestEnqueueRegeneration(t *testing.T) {
	q := newTestQueue(t, "")

	err := q.EnqueueRegeneration(context.Background(), RegeneratePayload{
		ScriptID:       "scr_v2",
		SourceScriptID: "scr_root",
		Instruction:    "shorter",
	}, model.LaneStandard)
	require.NoError(t, err)

	info, err := q.JobState("scr_v2")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "generation:standard", info.Queue)
	assert.Equal(t, "pending", info.State)
	assert.Equal(t, 0, info.Retried)
}

func TestJobStateUnknownTask(t *testing.T) {
	q := newTestQueue(t, "")

	info, err := q.JobState("bat_missing")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestEnqueueWebhookWithoutURLIsNoop(t *testing.T) {
	q := newTestQueue(t, "")

	require.NoError(t, q.EnqueueWebhook(context.Background(), NewWebhook{Event: EventBatchCompleted}))

	queues, err := q.Inspector.Queues()
	require.NoError(t, err)
	assert.NotContains(t, queues, "webhooks")
}

func TestEnqueueWebhook(t *testing.T) {
	q := newTestQueue(t, "https://hooks.example.com/reelscript")

	require.NoError(t, q.EnqueueWebhook(context.Background(), NewWebhook{Event: EventBatchCompleted, Payload: map[string]string{"batch_id": "bat_1"}}))

	tasks, err := q.Inspector.ListPendingTasks("webhooks")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "webhooks", tasks[0].Type)
}

func TestRetryDelayIsExponential(t *testing.T) {
	delay := RetryDelay(5 * time.Second)
	assert.Equal(t, 5*time.Second, delay(0, nil, nil))
	assert.Equal(t, 10*time.Second, delay(1, nil, nil))
	assert.Equal(t, 20*time.Second, delay(2, nil, nil))
}
