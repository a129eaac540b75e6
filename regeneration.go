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
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/internal/prompts"
	"github.com/reelscript/reelscript/model"
)

func requireStoryboard(source *model.Script) error {
	if !source.HasStoryboard() {
		return apierror.NewAPIError(apierror.ErrInvariantViolation,
			fmt.Sprintf("script %s has no storyboard to regenerate from", source.ScriptID), nil)
	}
	return nil
}

// newVersion returns the row for a regeneration of source. Lineage is flat:
// the parent is always the root of source.
func (r *ReelScript) newVersion(source *model.Script, instruction string) *model.Script {
	root := source.RootID()
	now := r.now()
	return &model.Script{
		ScriptID:       model.GenerateUUIDWithSuffix("scr"),
		BatchID:        source.BatchID,
		Status:         model.ScriptPending,
		Angle:          source.Angle,
		Duration:       source.Duration,
		ParentScriptID: &root,
		Instruction:    instruction,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RequestRegeneration charges for a regeneration and records a pending
// version in one transaction, then queues the work.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req model.RegenerationRequest: The source script, the instruction and the caller.
//
// Returns:
// - *model.Script: The pending version row.
// - error: INVARIANT_VIOLATION when the source has no storyboard, NOT_FOUND when
// the caller does not own it, INSUFFICIENT_CREDITS or TRANSIENT.
func (r *ReelScript) RequestRegeneration(ctx context.Context, req model.RegenerationRequest) (*model.Script, error) {
	ctx, span := tracer.Start(ctx, "RequestRegeneration", trace.WithAttributes(attribute.String("script.source_id", req.ScriptID)))
	defer span.End()

	req.Instruction = strings.TrimSpace(req.Instruction)
	if req.UserID == "" || req.ScriptID == "" || req.Instruction == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "user_id, script_id and instruction are required", nil)
	}

	source, err := r.datasource.GetScript(ctx, req.ScriptID)
	if err != nil {
		return nil, err
	}
	if err := requireStoryboard(source); err != nil {
		return nil, err
	}
	batch, err := r.datasource.GetBatch(ctx, source.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != req.UserID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Script not found", nil)
	}

	script := r.newVersion(source, req.Instruction)
	lane := r.laneFor(ctx, req.UserID)
	breakdown, err := r.datasource.CreateChargedScript(ctx, script, req.UserID, r.cnf.Credits.RegenerationCost, r.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	observeConsumption(breakdown)

	payload := RegeneratePayload{
		Type:           TaskRegenerateScript,
		ScriptID:       script.ScriptID,
		SourceScriptID: source.ScriptID,
		Instruction:    req.Instruction,
	}
	if err := r.queue.EnqueueRegeneration(ctx, payload, lane); err != nil {
		span.RecordError(err)
		script.MarkFailed("failed to schedule regeneration")
		if serr := r.datasource.SaveScriptResult(ctx, script); serr != nil {
			logrus.WithError(serr).WithField("script_id", script.ScriptID).Error("failed to mark unscheduled regeneration as failed")
		}
		r.refundQuietly(ctx, script.ScriptID)
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to schedule regeneration", err)
	}
	return script, nil
}

// Regenerate produces a revised version of a script and persists it as a new
// row. The source row is never changed. No credits are charged here.
func (r *ReelScript) Regenerate(ctx context.Context, sourceScriptID, instruction string) (*model.Script, error) {
	ctx, span := tracer.Start(ctx, "Regenerate", trace.WithAttributes(attribute.String("script.source_id", sourceScriptID)))
	defer span.End()

	source, err := r.datasource.GetScript(ctx, sourceScriptID)
	if err != nil {
		return nil, err
	}
	if err := requireStoryboard(source); err != nil {
		return nil, err
	}

	script := r.newVersion(source, strings.TrimSpace(instruction))
	if err := r.regenerateInto(ctx, source, script); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := r.datasource.CreateScript(ctx, script); err != nil {
		return nil, err
	}
	scriptsPersisted.WithLabelValues(string(script.Status)).Inc()
	return script, nil
}

// RunRegeneration fills a pending version created by RequestRegeneration.
// Versions already in a final state are left alone.
func (r *ReelScript) RunRegeneration(ctx context.Context, payload RegeneratePayload) error {
	ctx, span := tracer.Start(ctx, "RunRegeneration", trace.WithAttributes(attribute.String("script.id", payload.ScriptID)))
	defer span.End()

	script, err := r.datasource.GetScript(ctx, payload.ScriptID)
	if err != nil {
		return err
	}
	if script.Status.Final() {
		return nil
	}
	if err := r.datasource.UpdateScriptStatus(ctx, script.ScriptID, model.ScriptGenerating); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return nil
		}
		return err
	}

	source, err := r.datasource.GetScript(ctx, payload.SourceScriptID)
	if err != nil {
		return err
	}
	if err := requireStoryboard(source); err != nil {
		return err
	}
	if script.Instruction == "" {
		script.Instruction = payload.Instruction
	}

	if err := r.regenerateInto(ctx, source, script); err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.datasource.SaveScriptResult(ctx, script); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return nil
		}
		return err
	}
	scriptsPersisted.WithLabelValues(string(script.Status)).Inc()
	if script.Score != nil {
		scriptScores.Observe(float64(*script.Score))
	}
	r.notifyScript(ctx, script)
	return nil
}

func (r *ReelScript) regenerateInto(ctx context.Context, source, script *model.Script) error {
	batch, err := r.datasource.GetBatch(ctx, source.BatchID)
	if err != nil {
		return err
	}
	project, err := r.loadProject(ctx, batch.ProjectID)
	if err != nil {
		return err
	}

	draft, err := completeJSON(ctx, r.llm, r.prompts.RegenerationPrompt(prompts.RegenerationInput{
		Project:     project,
		Platform:    batch.Platform,
		Source:      source,
		Instruction: script.Instruction,
	}), r.scriptOptions(batch.QualityTier), prompts.ScriptShape, decodeScript)
	if err != nil {
		return err
	}
	r.applyDraft(script, draft, project.ForbiddenClaims)
	return nil
}

// FailRegeneration closes a queued version that ran out of attempts and
// refunds its charge.
func (r *ReelScript) FailRegeneration(ctx context.Context, scriptID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	script, err := r.datasource.GetScript(ctx, scriptID)
	if err != nil {
		return err
	}
	if script.Status.Final() {
		return nil
	}

	script.MarkFailed(cause.Error())
	script.UpdatedAt = r.now()
	if err := r.datasource.SaveScriptResult(ctx, script); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return nil
		}
		return err
	}
	scriptsPersisted.WithLabelValues(string(model.ScriptFailed)).Inc()
	if _, err := r.RefundCorrelation(ctx, scriptID); err != nil {
		return err
	}
	r.notifyScript(ctx, script)
	return nil
}

// GetScript returns a single script version.
func (r *ReelScript) GetScript(ctx context.Context, id string) (*model.Script, error) {
	return r.datasource.GetScript(ctx, id)
}

// GetScriptVersions returns the root of id's lineage followed by every
// regeneration of it.
func (r *ReelScript) GetScriptVersions(ctx context.Context, id string) ([]model.Script, error) {
	script, err := r.datasource.GetScript(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.datasource.GetScriptVersions(ctx, script.RootID())
}
