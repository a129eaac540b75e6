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
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/internal/notification"
)

// isFinalAttempt reports whether a failure now exhausts the task's retries.
// Outside an asynq handler there are no retries, so every attempt is final.
func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// settle decides what asynq sees for a failed job. Retryable errors go back
// for another attempt unless this was the last one; everything else skips
// retry. finalize runs exactly when no attempt is left.
func settle(ctx context.Context, taskType string, err error, finalize func() error) error {
	retryable := apierror.IsRetryable(err)
	if retryable && !isFinalAttempt(ctx) {
		jobOutcomes.WithLabelValues(taskType, "retry").Inc()
		logrus.WithError(err).WithField("type", taskType).Warn("job failed, will retry")
		return err
	}

	jobOutcomes.WithLabelValues(taskType, "failed").Inc()
	if ferr := finalize(); ferr != nil {
		logrus.WithError(ferr).WithField("type", taskType).Error("failed to finalize job")
		notification.NotifyError(ferr)
	}
	if retryable {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// ProcessGenerateBatch is the asynq handler for generate-batch tasks.
func (r *ReelScript) ProcessGenerateBatch(ctx context.Context, t *asynq.Task) error {
	var payload GenerateBatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("invalid batch payload: %v: %w", err, asynq.SkipRetry)
	}

	logger := logrus.WithField("batch_id", payload.BatchID)
	logger.Info("processing batch")
	err := r.RunBatch(ctx, payload.BatchID)
	if err == nil {
		jobOutcomes.WithLabelValues(TaskGenerateBatch, "completed").Inc()
		return nil
	}
	if apierror.Is(err, apierror.ErrNotFound) {
		logger.Warn("batch no longer exists, dropping job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if errors.Is(err, ErrBatchRefunded) {
		logger.Warn("batch was refunded, dropping job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return settle(ctx, TaskGenerateBatch, err, func() error {
		return r.FinalizeFailedBatch(ctx, payload.BatchID, err)
	})
}

// ProcessRegenerateScript is the asynq handler for regenerate-script tasks.
func (r *ReelScript) ProcessRegenerateScript(ctx context.Context, t *asynq.Task) error {
	var payload RegeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("invalid regeneration payload: %v: %w", err, asynq.SkipRetry)
	}

	logrus.WithFields(logrus.Fields{
		"script_id": payload.ScriptID,
		"source_id": payload.SourceScriptID,
	}).Info("processing regeneration")
	err := r.RunRegeneration(ctx, payload)
	if err == nil {
		jobOutcomes.WithLabelValues(TaskRegenerateScript, "completed").Inc()
		return nil
	}
	return settle(ctx, TaskRegenerateScript, err, func() error {
		return r.FailRegeneration(ctx, payload.ScriptID, err)
	})
}

// RegisterHandlers wires every task type the workers serve.
func (r *ReelScript) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskGenerateBatch, r.ProcessGenerateBatch)
	mux.HandleFunc(TaskRegenerateScript, r.ProcessRegenerateScript)
	mux.HandleFunc(r.cnf.Queue.WebhookQueue, ProcessWebhook)
}
