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
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/reelscript/reelscript/config"
	redis_db "github.com/reelscript/reelscript/internal/redis-db"
	"github.com/reelscript/reelscript/model"
)

const (
	TaskGenerateBatch    = "generate-batch"
	TaskRegenerateScript = "regenerate-script"
)

// GenerateBatchPayload is the body of a generate-batch task.
type GenerateBatchPayload struct {
	Type    string `json:"type"`
	BatchID string `json:"batch_id"`
}

// RegeneratePayload is the body of a regenerate-script task. ScriptID is the
// pending row created when the request was accepted.
type RegeneratePayload struct {
	Type           string `json:"type"`
	ScriptID       string `json:"script_id"`
	SourceScriptID string `json:"source_script_id"`
	Instruction    string `json:"instruction"`
}

// Queue represents the asynq client and inspector for the generation lanes.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
	webhooks  string
}

// RedisClientOpt converts the configured Redis address into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		conf:      conf.Queue,
		webhooks:  conf.Notification.Webhook.Url,
	}
}

// LaneQueue maps a lane to its asynq queue name.
func (q *Queue) LaneQueue(lane model.Lane) string {
	if lane == model.LaneElevated {
		return q.conf.ElevatedQueue
	}
	return q.conf.StandardQueue
}

func (q *Queue) jobOptions(taskID string, lane model.Lane) []asynq.Option {
	return []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(q.LaneQueue(lane)),
		asynq.MaxRetry(q.conf.MaxRetry),
		asynq.Timeout(time.Duration(q.conf.JobTimeoutSec) * time.Second),
		asynq.Retention(time.Duration(q.conf.CompletedRetentionSec) * time.Second),
	}
}

// enqueue treats a task id conflict as success: the job for that id is
// already queued, running or retained.
func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	ctx, span := tracer.Start(ctx, "Enqueue "+task.Type())
	defer span.End()

	info, err := q.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("type", task.Type()).Info("job already enqueued, skipping duplicate")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithFields(logrus.Fields{"type": task.Type(), "id": info.ID, "queue": info.Queue}).Info("job enqueued")
	return nil
}

// EnqueueBatch schedules a generate-batch job keyed by the batch id.
func (q *Queue) EnqueueBatch(ctx context.Context, batchID string, lane model.Lane) error {
	payload, err := json.Marshal(GenerateBatchPayload{Type: TaskGenerateBatch, BatchID: batchID})
	if err != nil {
		return err
	}
	return q.enqueue(ctx, asynq.NewTask(TaskGenerateBatch, payload), q.jobOptions(batchID, lane)...)
}

// EnqueueRegeneration schedules a regenerate-script job keyed by the new script id.
func (q *Queue) EnqueueRegeneration(ctx context.Context, payload RegeneratePayload, lane model.Lane) error {
	payload.Type = TaskRegenerateScript
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, asynq.NewTask(TaskRegenerateScript, body), q.jobOptions(payload.ScriptID, lane)...)
}

// EnqueueWebhook queues an outbound notification. Nothing is queued when no
// webhook url is configured.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	if q.webhooks == "" {
		return nil
	}
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.WebhookQueue, payload)
	return q.enqueue(ctx, task, asynq.Queue(q.conf.WebhookQueue), asynq.MaxRetry(q.conf.MaxRetry))
}

// JobInfo is the queue's view of a generation job.
type JobInfo struct {
	Queue     string     `json:"queue"`
	State     string     `json:"state"`
	Retried   int        `json:"retried"`
	MaxRetry  int        `json:"max_retry"`
	LastError string     `json:"last_error,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func jobInfo(info *asynq.TaskInfo) *JobInfo {
	job := &JobInfo{
		Queue:     info.Queue,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if !info.NextProcessAt.IsZero() {
		next := info.NextProcessAt
		job.NextRunAt = &next
	}
	return job
}

// JobState looks a generation job up in both lanes.
//
// Parameters:
// - taskID string: The batch id or regeneration script id.
//
// Returns:
// - *JobInfo: The job, or nil if it is in neither lane.
// - error: An error if the inspector fails for a reason other than a missing task.
func (q *Queue) JobState(taskID string) (*JobInfo, error) {
	for _, name := range []string{q.conf.StandardQueue, q.conf.ElevatedQueue} {
		info, err := q.Inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return jobInfo(info), nil
		}
		if !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// RetryDelay is exponential from base: base, 2*base, 4*base and so on.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		return base << uint(n)
	}
}
