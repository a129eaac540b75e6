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
	"embed"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/database"
	"github.com/reelscript/reelscript/internal/cache"
	"github.com/reelscript/reelscript/internal/llm"
	"github.com/reelscript/reelscript/internal/prompts"
	"github.com/reelscript/reelscript/model"
)

var tracer = otel.Tracer("reelscript")

//go:embed sql/*.sql
var SQLFiles embed.FS

// JobEnqueuer hands work to the background workers and reports on it.
type JobEnqueuer interface {
	EnqueueBatch(ctx context.Context, batchID string, lane model.Lane) error
	EnqueueRegeneration(ctx context.Context, payload RegeneratePayload, lane model.Lane) error
	EnqueueWebhook(ctx context.Context, hook NewWebhook) error
	JobState(taskID string) (*JobInfo, error) // nil when the queue no longer holds the job
}

// ReelScript ties the ledger, the generation pipeline and the queue together.
// The API server and the workers each build one and share nothing else.
type ReelScript struct {
	datasource database.IDataSource
	queue      JobEnqueuer
	llm        llm.Client
	prompts    *prompts.Builder
	cache      cache.Cache
	cnf        *config.Configuration
	now        func() time.Time
}

// NewReelScript initializes a ReelScript instance with its collaborators.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
// - client llm.Client: The chat completion backend.
// - queue JobEnqueuer: Where batch, regeneration and webhook jobs are sent.
//
// Returns:
// - *ReelScript: The new instance.
// - error: An error if the configuration or the embedded prompt tables cannot be loaded.
func NewReelScript(db database.IDataSource, client llm.Client, queue JobEnqueuer) (*ReelScript, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	builder, err := prompts.Load()
	if err != nil {
		return nil, err
	}
	return &ReelScript{
		datasource: db,
		queue:      queue,
		llm:        client,
		prompts:    builder,
		cnf:        cnf,
		now:        time.Now,
	}, nil
}

// WithCache enables the project context cache.
func (r *ReelScript) WithCache(c cache.Cache) *ReelScript {
	r.cache = c
	return r
}

// Prompts exposes the platform tables for request validation.
func (r *ReelScript) Prompts() *prompts.Builder {
	return r.prompts
}
