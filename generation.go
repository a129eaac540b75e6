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
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	levenshtein "github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/internal/cache"
	"github.com/reelscript/reelscript/internal/llm"
	"github.com/reelscript/reelscript/internal/prompts"
	"github.com/reelscript/reelscript/model"
	"github.com/reelscript/reelscript/scoring"
)

// scriptDraft is the content the model returns for one script.
type scriptDraft struct {
	Hook             string       `json:"hook"`
	Storyboard       []model.Beat `json:"storyboard"`
	CTAVariants      []string     `json:"cta_variants"`
	FilmingChecklist []string     `json:"filming_checklist"`
	Warnings         []string     `json:"warnings"`
}

type planEnvelope struct {
	Plans []model.Plan `json:"plans"`
}

// cleanJSON strips markdown fences and any prose around the outermost JSON value.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closing := byte('}')
	if s[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(s, closing)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// decodePlans accepts either {"plans":[...]} or a bare array.
func decodePlans(raw string) ([]model.Plan, error) {
	cleaned := cleanJSON(raw)
	var plans []model.Plan
	if strings.HasPrefix(cleaned, "[") {
		if err := json.Unmarshal([]byte(cleaned), &plans); err != nil {
			return nil, err
		}
	} else {
		var env planEnvelope
		if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
			return nil, err
		}
		plans = env.Plans
	}
	if len(plans) == 0 {
		return nil, errors.New("response contains no plans")
	}
	return plans, nil
}

func decodeScript(raw string) (scriptDraft, error) {
	var draft scriptDraft
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &draft); err != nil {
		return draft, err
	}
	if strings.TrimSpace(draft.Hook) == "" {
		return draft, errors.New("script is missing a hook")
	}
	if len(draft.Storyboard) == 0 {
		return draft, errors.New("script is missing a storyboard")
	}
	return draft, nil
}

func chatMessages(p prompts.Prompt) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: p.System},
		{Role: llm.RoleUser, Content: p.User},
	}
}

// completeJSON calls the model and decodes its answer. A response that does
// not decode is sent back once for repair at temperature 0; a second decode
// failure is MALFORMED_OUTPUT.
func completeJSON[T any](ctx context.Context, client llm.Client, prompt prompts.Prompt, opts llm.Options, shape string, decode func(string) (T, error)) (T, error) {
	var zero T

	raw, err := client.ChatCompletion(ctx, chatMessages(prompt), opts)
	if err != nil {
		return zero, err
	}
	out, parseErr := decode(raw)
	if parseErr == nil {
		return out, nil
	}

	logrus.WithError(parseErr).Warn("model output did not parse, requesting repair")
	repairOpts := opts
	repairOpts.Temperature = 0
	repairOpts.JSONMode = true
	fixed, err := client.ChatCompletion(ctx, chatMessages(prompts.RepairPrompt(raw, parseErr, shape)), repairOpts)
	if err != nil {
		selfRepairs.WithLabelValues("error").Inc()
		return zero, err
	}
	out, parseErr = decode(fixed)
	if parseErr != nil {
		selfRepairs.WithLabelValues("failed").Inc()
		return zero, apierror.NewAPIError(apierror.ErrMalformedOutput, "Model output is not valid JSON after repair", parseErr)
	}
	selfRepairs.WithLabelValues("repaired").Inc()
	return out, nil
}

func (r *ReelScript) modelFor(tier model.QualityTier) string {
	if tier == model.TierPremium && r.cnf.LLM.PremiumModel != "" {
		return r.cnf.LLM.PremiumModel
	}
	return r.cnf.LLM.Model
}

func (r *ReelScript) planOptions(tier model.QualityTier) llm.Options {
	return llm.Options{
		Model:       r.modelFor(tier),
		Temperature: r.cnf.Generation.PlanTemperature,
		MaxTokens:   r.cnf.Generation.PlanMaxTokens,
		JSONMode:    true,
	}
}

func (r *ReelScript) scriptOptions(tier model.QualityTier) llm.Options {
	return llm.Options{
		Model:       r.modelFor(tier),
		Temperature: r.cnf.Generation.ScriptTemperature,
		MaxTokens:   r.cnf.Generation.ScriptMaxTokens,
		JSONMode:    true,
	}
}

// applyDraft fills script with the draft, scores it and merges warnings from
// the model, the scorer and the beat count check.
func (r *ReelScript) applyDraft(script *model.Script, draft scriptDraft, forbiddenClaims []string) {
	script.Hook = strings.TrimSpace(draft.Hook)
	script.Storyboard = draft.Storyboard
	script.CTAVariants = draft.CTAVariants
	script.FilmingChecklist = draft.FilmingChecklist
	script.ErrorMessage = ""

	score, warnings := scoring.Score(script, forbiddenClaims)
	script.Score = &score

	all := append([]string{}, draft.Warnings...)
	all = append(all, warnings...)
	minBeats, maxBeats := r.prompts.BeatRange(script.Duration)
	if n := len(script.Storyboard); n < minBeats || n > maxBeats {
		all = append(all, fmt.Sprintf("storyboard has %d beats, expected %d-%d for %ds", n, minBeats, maxBeats, script.Duration))
	}
	script.Warnings = dedupe(all)
	script.Status = model.ScriptCompleted
	script.UpdatedAt = r.now()
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// nearestAngle maps a model-written angle onto the closest requested angle.
func nearestAngle(angle string, allowed []string) string {
	if len(allowed) == 0 {
		return angle
	}
	target := strings.ToLower(strings.TrimSpace(angle))
	best, bestDistance := allowed[0], -1
	for _, candidate := range allowed {
		c := strings.ToLower(candidate)
		if c == target {
			return candidate
		}
		d := levenshtein.DistanceForStrings([]rune(target), []rune(c), levenshtein.DefaultOptions)
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best
}

// nearestDuration snaps to the closest requested duration, preferring the shorter on ties.
func nearestDuration(duration int, allowed []int) int {
	if len(allowed) == 0 {
		return duration
	}
	best := allowed[0]
	for _, d := range allowed[1:] {
		if abs(d-duration) < abs(best-duration) || (abs(d-duration) == abs(best-duration) && d < best) {
			best = d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func projectCacheKey(id string) string {
	return "project:" + id
}

// invalidateProject drops the cached brief so the next read goes to the database.
func (r *ReelScript) invalidateProject(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, projectCacheKey(id)); err != nil {
		logrus.WithError(err).WithField("project_id", id).Warn("project cache invalidation failed")
	}
}

// loadProject reads the brief through the cache when one is configured.
func (r *ReelScript) loadProject(ctx context.Context, id string) (*model.Project, error) {
	if r.cache != nil {
		var project model.Project
		err := r.cache.Get(ctx, projectCacheKey(id), &project)
		if err == nil {
			return &project, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			logrus.WithError(err).Warn("project cache read failed")
		}
	}

	project, err := r.datasource.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		ttl := time.Duration(r.cnf.Generation.ProjectCacheTTLSec) * time.Second
		if err := r.cache.Set(ctx, projectCacheKey(id), project, ttl); err != nil {
			logrus.WithError(err).Warn("project cache write failed")
		}
	}
	return project, nil
}
