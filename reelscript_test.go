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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/database/mocks"
	"github.com/reelscript/reelscript/internal/llm"
	"github.com/reelscript/reelscript/internal/prompts"
	"github.com/reelscript/reelscript/model"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type llmCall struct {
	messages []llm.Message
	opts     llm.Options
}

func (c llmCall) system() string { return c.messages[0].Content }
func (c llmCall) user() string   { return c.messages[1].Content }

// fakeLLM answers by prompt kind and records every call.
type fakeLLM struct {
	mu       sync.Mutex
	calls    []llmCall
	plan     func(call llmCall) (string, error)
	script   func(call llmCall) (string, error)
	repair   func(call llmCall) (string, error)
	revision func(call llmCall) (string, error)
}

func (f *fakeLLM) ChatCompletion(_ context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	f.mu.Lock()
	call := llmCall{messages: messages, opts: opts}
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	var handler func(llmCall) (string, error)
	switch system := call.system(); {
	case strings.Contains(system, "repair malformed JSON"):
		handler = f.repair
	case strings.Contains(system, "plans short-form"):
		handler = f.plan
	case strings.Contains(system, "revising"):
		handler = f.revision
	default:
		handler = f.script
	}
	if handler == nil {
		return "not json", nil
	}
	return handler(call)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLLM) callsMatching(fragment string) []llmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llmCall
	for _, c := range f.calls {
		if strings.Contains(c.system(), fragment) {
			out = append(out, c)
		}
	}
	return out
}

type fakeQueue struct {
	mu            sync.Mutex
	batches       map[string]model.Lane
	regenerations []RegeneratePayload
	webhooks      []NewWebhook
	jobs          map[string]*JobInfo
	err           error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{batches: map[string]model.Lane{}, jobs: map[string]*JobInfo{}}
}

func (q *fakeQueue) EnqueueBatch(_ context.Context, batchID string, lane model.Lane) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.batches[batchID] = lane
	return nil
}

func (q *fakeQueue) EnqueueRegeneration(_ context.Context, payload RegeneratePayload, _ model.Lane) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.regenerations = append(q.regenerations, payload)
	return nil
}

func (q *fakeQueue) EnqueueWebhook(_ context.Context, hook NewWebhook) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.webhooks = append(q.webhooks, hook)
	return nil
}

func (q *fakeQueue) JobState(taskID string) (*JobInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[taskID], nil
}

func (q *fakeQueue) events() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, h := range q.webhooks {
		out = append(out, h.Event)
	}
	return out
}

func newTestReelScript(t *testing.T, ds *mocks.MockDataSource, client llm.Client, queue JobEnqueuer) *ReelScript {
	t.Helper()
	config.MockConfig(&config.Configuration{
		ProjectName: "ReelScript",
		LLM:         config.LLMConfig{Model: "gpt-4o-mini", PremiumModel: "gpt-4o"},
	})
	cnf, err := config.Fetch()
	require.NoError(t, err)

	return &ReelScript{
		datasource: ds,
		queue:      queue,
		llm:        client,
		prompts:    prompts.MustLoad(),
		cnf:        cnf,
		now:        func() time.Time { return testNow },
	}
}

func testProject() *model.Project {
	return &model.Project{
		ProjectID:       "prj_1",
		UserID:          "usr_1",
		ProductName:     "LashLift Mascara",
		Description:     "Smudge-proof tubing mascara",
		Benefits:        []string{"lasts all day", "no smudging"},
		ForbiddenClaims: []string{"cures"},
		TargetAudience:  "women 25-40",
		Personas: []model.Persona{
			{PersonaID: "per_1", ProjectID: "prj_1", Name: "Busy mom", Description: "No time for touch-ups"},
			{PersonaID: "per_2", ProjectID: "prj_1", Name: "Gym goer", Description: "Sweats through makeup"},
		},
	}
}

func testBatch(requested int, existing int) *model.Batch {
	b := &model.Batch{
		BatchID:        "bat_1",
		ProjectID:      "prj_1",
		UserID:         "usr_1",
		RequestedCount: requested,
		Platform:       "tiktok",
		Angles:         []string{"problem-solution", "testimonial"},
		Durations:      []int{15, 30},
		QualityTier:    model.TierStandard,
		Status:         model.BatchPending,
		CreditsCharged: int64(requested),
	}
	for i := 0; i < existing; i++ {
		b.Scripts = append(b.Scripts, model.Script{ScriptID: "scr_existing", BatchID: "bat_1", Status: model.ScriptCompleted})
	}
	return b
}

func plansJSON(t *testing.T, n int) string {
	t.Helper()
	plans := make([]model.Plan, n)
	for i := range plans {
		plans[i] = model.Plan{
			Angle:    "Problem Solution",
			Duration: 14,
			HookIdea: "Smudged lashes at 3pm",
			Beats:    []string{"hook", "problem", "demo"},
		}
	}
	raw, err := json.Marshal(map[string]interface{}{"plans": plans})
	require.NoError(t, err)
	return string(raw)
}

const validScriptJSON = `{
  "hook": "Stop scrolling if your mascara smudges by 3pm?",
  "storyboard": [
    {"time_range": "0-3s", "shot": "Close-up of smudged lashes", "on_screen_text": "3pm raccoon eyes", "spoken": "My mascara never lasts all day."},
    {"time_range": "3-9s", "shot": "Apply LashLift in the mirror", "on_screen_text": "Tubing formula", "spoken": "This one has no smudging, even at the gym.", "broll": "gym mirror"},
    {"time_range": "9-15s", "shot": "Show lashes after a workout", "on_screen_text": "Still perfect", "spoken": "Grab yours today."}
  ],
  "cta_variants": ["Shop now", "Try it today"],
  "filming_checklist": ["Ring light", "Gym bag prop"],
  "warnings": []
}`

// persistedScripts returns every script passed to CreateScript, in call order.
func persistedScripts(ds *mocks.MockDataSource) []*model.Script {
	var out []*model.Script
	for _, call := range ds.Calls {
		if call.Method == "CreateScript" {
			out = append(out, call.Arguments.Get(1).(*model.Script))
		}
	}
	return out
}

func countStatus(scripts []*model.Script, status model.ScriptStatus) int {
	n := 0
	for _, s := range scripts {
		if s.Status == status {
			n++
		}
	}
	return n
}
