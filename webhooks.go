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
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/internal/request"
	"github.com/reelscript/reelscript/model"
)

const (
	EventBatchCompleted    = "batch.completed"
	EventBatchFailed       = "batch.failed"
	EventScriptRegenerated = "script.regenerated"
	EventScriptFailed      = "script.failed"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

type batchEvent struct {
	BatchID   string            `json:"batch_id"`
	ProjectID string            `json:"project_id"`
	UserID    string            `json:"user_id"`
	Status    model.BatchStatus `json:"status"`
	Requested int               `json:"requested_count"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

type scriptEvent struct {
	ScriptID       string             `json:"script_id"`
	ParentScriptID string             `json:"parent_script_id"`
	BatchID        string             `json:"batch_id"`
	Status         model.ScriptStatus `json:"status"`
	Score          *int               `json:"score,omitempty"`
	Error          string             `json:"error,omitempty"`
	At             time.Time          `json:"at"`
}

// notifyBatch is best effort: a webhook that cannot be queued is logged and
// never fails the job.
func (r *ReelScript) notifyBatch(ctx context.Context, batch *model.Batch, status model.BatchStatus, reason string) {
	event := EventBatchCompleted
	if status == model.BatchFailed {
		event = EventBatchFailed
	}
	r.sendWebhook(ctx, NewWebhook{Event: event, Payload: batchEvent{
		BatchID:   batch.BatchID,
		ProjectID: batch.ProjectID,
		UserID:    batch.UserID,
		Status:    status,
		Requested: batch.RequestedCount,
		Error:     reason,
		At:        r.now(),
	}})
}

func (r *ReelScript) notifyScript(ctx context.Context, script *model.Script) {
	event := EventScriptRegenerated
	if script.Status == model.ScriptFailed {
		event = EventScriptFailed
	}
	r.sendWebhook(ctx, NewWebhook{Event: event, Payload: scriptEvent{
		ScriptID:       script.ScriptID,
		ParentScriptID: script.RootID(),
		BatchID:        script.BatchID,
		Status:         script.Status,
		Score:          script.Score,
		Error:          script.ErrorMessage,
		At:             r.now(),
	}})
}

func (r *ReelScript) sendWebhook(ctx context.Context, hook NewWebhook) {
	if r.queue == nil {
		return
	}
	if err := r.queue.EnqueueWebhook(ctx, hook); err != nil {
		logrus.WithError(err).WithField("event", hook.Event).Warn("failed to enqueue webhook")
	}
}

// ProcessWebhook delivers a queued webhook to the configured endpoint.
//
// Parameters:
// - ctx context.Context: The task context.
// - task *asynq.Task: The task containing the webhook notification data.
//
// Returns:
// - error: An error if delivery fails, so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid webhook payload: %v: %w", err, asynq.SkipRetry)
	}

	logrus.WithField("event", payload.Event).Info("processing webhook")
	return request.PostJSON(ctx, conf.Notification.Webhook.Url, payload, conf.Notification.Webhook.Headers, nil)
}
