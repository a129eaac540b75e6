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
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/internal/prompts"
	"github.com/reelscript/reelscript/model"
)

const shortfallReason = "plan generation returned fewer plans than requested"

// ErrBatchRefunded marks a failed batch whose charge was already given back.
// Such a batch is never generated again.
var ErrBatchRefunded = errors.New("batch was refunded")

func (r *ReelScript) validateBatchRequest(req *model.BatchRequest) error {
	if req.UserID == "" || req.ProjectID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "user_id and project_id are required", nil)
	}
	if req.Count < 1 || req.Count > r.cnf.Generation.MaxScriptsPerBatch {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("count must be between 1 and %d", r.cnf.Generation.MaxScriptsPerBatch), nil)
	}

	if req.Platform == "" {
		req.Platform = r.prompts.DefaultPlatform()
	}
	if !r.prompts.HasPlatform(req.Platform) {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("unsupported platform %q, expected one of %s", req.Platform, strings.Join(r.prompts.Platforms(), ", ")), nil)
	}

	angles := make([]string, 0, len(req.Angles))
	for _, a := range req.Angles {
		if a = strings.TrimSpace(a); a != "" {
			angles = append(angles, a)
		}
	}
	if len(angles) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "at least one angle is required", nil)
	}
	req.Angles = angles

	if len(req.Durations) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "at least one duration is required", nil)
	}
	for _, d := range req.Durations {
		if d <= 0 || d > r.prompts.MaxDuration() {
			return apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("durations must be between 1 and %d seconds", r.prompts.MaxDuration()), nil)
		}
	}

	if req.QualityTier == "" {
		req.QualityTier = model.TierStandard
	}
	if !req.QualityTier.Valid() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown quality tier %q", req.QualityTier), nil)
	}
	return nil
}

// CreateBatch debits the batch cost and records the batch in one transaction,
// then enqueues its generation job. The returned batch is pending; progress is observed with
// GetBatch.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - req model.BatchRequest: What to generate and for whom.
//
// Returns:
// - *model.Batch: The pending batch.
// - error: INVALID_INPUT, NOT_FOUND for a project the user does not own,
// INSUFFICIENT_CREDITS, or TRANSIENT when the job could not be queued.
func (r *ReelScript) CreateBatch(ctx context.Context, req model.BatchRequest) (*model.Batch, error) {
	ctx, span := tracer.Start(ctx, "CreateBatch")
	defer span.End()

	if err := r.validateBatchRequest(&req); err != nil {
		return nil, err
	}

	project, err := r.loadProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil && !briefCovers(project, req) {
		// The cached brief may predate an ownership or persona change.
		r.invalidateProject(ctx, req.ProjectID)
		if project, err = r.loadProject(ctx, req.ProjectID); err != nil {
			return nil, err
		}
	}
	if project.UserID != req.UserID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Project not found", nil)
	}
	for _, id := range req.PersonaIDs {
		if len(project.PersonasFor([]string{id})) == 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("persona %s does not belong to this project", id), nil)
		}
	}

	now := r.now()
	batch := &model.Batch{
		BatchID:        model.GenerateUUIDWithSuffix("bat"),
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		RequestedCount: req.Count,
		Platform:       req.Platform,
		Angles:         req.Angles,
		Durations:      req.Durations,
		PersonaIDs:     req.PersonaIDs,
		QualityTier:    req.QualityTier,
		Status:         model.BatchPending,
		CreditsCharged: int64(req.Count) * r.ScriptCost(req.QualityTier),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(attribute.String("batch.id", batch.BatchID))

	lane := r.laneFor(ctx, req.UserID)
	breakdown, err := r.datasource.CreateChargedBatch(ctx, batch, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	observeConsumption(breakdown)

	if err := r.queue.EnqueueBatch(ctx, batch.BatchID, lane); err != nil {
		span.RecordError(err)
		if uerr := r.datasource.UpdateBatchStatus(ctx, batch.BatchID, model.BatchFailed, "failed to schedule generation"); uerr != nil {
			logrus.WithError(uerr).WithField("batch_id", batch.BatchID).Error("failed to mark unscheduled batch as failed")
		}
		r.refundQuietly(ctx, batch.BatchID)
		return nil, apierror.NewAPIError(apierror.ErrTransient, "Failed to schedule batch generation", err)
	}

	logrus.WithFields(logrus.Fields{
		"batch_id": batch.BatchID,
		"count":    batch.RequestedCount,
		"lane":     lane,
		"credits":  batch.CreditsCharged,
	}).Info("batch accepted")
	return batch, nil
}

func (r *ReelScript) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	return r.datasource.GetBatch(ctx, id)
}

// BatchView is a batch together with its generation job, while the queue
// still holds the job.
type BatchView struct {
	*model.Batch
	Job *JobInfo `json:"job,omitempty"`
}

// GetBatchView returns the batch and the queue's view of its job. A failed
// queue lookup is logged and the job is left out.
func (r *ReelScript) GetBatchView(ctx context.Context, id string) (*BatchView, error) {
	batch, err := r.datasource.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := r.queue.JobState(id)
	if err != nil {
		logrus.WithError(err).WithField("batch_id", id).Warn("could not read job state")
	}
	return &BatchView{Batch: batch, Job: job}, nil
}

// briefCovers reports whether project can serve req as loaded.
func briefCovers(project *model.Project, req model.BatchRequest) bool {
	if project.UserID != req.UserID {
		return false
	}
	for _, id := range req.PersonaIDs {
		if len(project.PersonasFor([]string{id})) == 0 {
			return false
		}
	}
	return true
}

func (r *ReelScript) refundQuietly(ctx context.Context, correlationID string) {
	if _, err := r.RefundCorrelation(ctx, correlationID); err != nil {
		logrus.WithError(err).WithField("correlation_id", correlationID).Error("refund failed")
	}
}

// RunBatch generates the scripts a batch still owes. It is safe to call again
// after an interruption: a completed batch is left alone and a partially
// generated batch only produces the missing scripts.
//
// Parameters:
// - ctx context.Context: The job context.
// - batchID string: The batch to process.
//
// Returns:
// - error: BATCH_FAILURE when plan generation, loading the brief or
// persistence fails. The batch is marked failed in that case.
// INVARIANT_VIOLATION when the batch has no angles or durations, or wraps
// ErrBatchRefunded when a failed batch was already refunded.
func (r *ReelScript) RunBatch(ctx context.Context, batchID string) error {
	ctx, span := tracer.Start(ctx, "RunBatch", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	batch, err := r.datasource.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	logger := logrus.WithField("batch_id", batchID)
	if !batch.Status.CanTransitionTo(model.BatchProcessing) {
		logger.WithField("status", batch.Status).Info("batch cannot be processed, nothing to do")
		return nil
	}

	if batch.Status == model.BatchFailed {
		refunded, err := r.datasource.HasLedgerEntry(ctx, batchID, model.KindRefund)
		if err != nil {
			return err
		}
		if refunded {
			return apierror.NewAPIError(apierror.ErrInvariantViolation,
				fmt.Sprintf("Batch %s was refunded and cannot be generated again", batchID), ErrBatchRefunded)
		}
	}

	if len(batch.Angles) == 0 || len(batch.Durations) == 0 {
		err := apierror.NewAPIError(apierror.ErrInvariantViolation,
			fmt.Sprintf("Batch %s has no angles or durations to generate", batchID), nil)
		r.markFailed(ctx, batch, err)
		return err
	}

	if err := r.datasource.UpdateBatchStatus(ctx, batchID, model.BatchProcessing, ""); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			logger.Info("batch completed concurrently, nothing to do")
			return nil
		}
		return err
	}
	batch.Status = model.BatchProcessing

	remaining := batch.Remaining()
	span.SetAttributes(attribute.Int("batch.remaining", remaining))
	if remaining <= 0 {
		return r.completeBatch(ctx, batch)
	}
	logger.WithField("remaining", remaining).Info("generating scripts")

	project, err := r.loadProject(ctx, batch.ProjectID)
	if err != nil {
		return r.failBatch(ctx, batch, err)
	}
	personas := project.PersonasFor(batch.PersonaIDs)

	plans, err := completeJSON(ctx, r.llm, r.prompts.PlanPrompt(prompts.PlanInput{
		Project:   project,
		Personas:  personas,
		Platform:  batch.Platform,
		Angles:    batch.Angles,
		Durations: batch.Durations,
		Count:     remaining,
	}), r.planOptions(batch.QualityTier), prompts.PlanShape, decodePlans)
	if err != nil {
		return r.failBatch(ctx, batch, err)
	}
	if len(plans) > remaining {
		logger.WithField("extra", len(plans)-remaining).Info("dropping surplus plans")
		plans = plans[:remaining]
	}

	if err := r.expandPlans(ctx, batch, project, personas, plans); err != nil {
		return r.failBatch(ctx, batch, err)
	}
	if err := r.recordShortfall(ctx, batch, remaining-len(plans)); err != nil {
		return r.failBatch(ctx, batch, err)
	}
	return r.completeBatch(ctx, batch)
}

// expandPlans turns each plan into a persisted script. A unit that fails is
// persisted as a failed script and the rest carry on. Only cancellation and
// persistence errors stop the loop.
func (r *ReelScript) expandPlans(ctx context.Context, batch *model.Batch, project *model.Project, personas []model.Persona, plans []model.Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cnf.Generation.ExpansionConcurrency)

	for _, plan := range plans {
		plan := plan
		plan.Angle = nearestAngle(plan.Angle, batch.Angles)
		plan.Duration = nearestDuration(plan.Duration, batch.Durations)

		g.Go(func() error {
			script := r.expandPlan(gctx, batch, project, personas, plan)
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.datasource.CreateScript(gctx, script); err != nil {
				return err
			}
			scriptsPersisted.WithLabelValues(string(script.Status)).Inc()
			if script.Score != nil {
				scriptScores.Observe(float64(*script.Score))
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *ReelScript) expandPlan(ctx context.Context, batch *model.Batch, project *model.Project, personas []model.Persona, plan model.Plan) *model.Script {
	ctx, span := tracer.Start(ctx, "ExpandPlan", trace.WithAttributes(
		attribute.String("plan.angle", plan.Angle),
		attribute.Int("plan.duration", plan.Duration),
	))
	defer span.End()

	now := r.now()
	script := &model.Script{
		ScriptID:  model.GenerateUUIDWithSuffix("scr"),
		BatchID:   batch.BatchID,
		Status:    model.ScriptGenerating,
		Angle:     plan.Angle,
		Duration:  plan.Duration,
		CreatedAt: now,
		UpdatedAt: now,
	}

	draft, err := completeJSON(ctx, r.llm, r.prompts.ExpansionPrompt(prompts.ExpansionInput{
		Project:  project,
		Personas: personas,
		Platform: batch.Platform,
		Plan:     plan,
	}), r.scriptOptions(batch.QualityTier), prompts.ScriptShape, decodeScript)
	if err != nil {
		span.RecordError(err)
		unitErr := apierror.NewAPIError(apierror.ErrUnitFailure, "Script expansion failed", err)
		logrus.WithError(unitErr).WithField("batch_id", batch.BatchID).Warn("script expansion failed")
		script.MarkFailed(err.Error())
		script.UpdatedAt = r.now()
		return script
	}

	r.applyDraft(script, draft, project.ForbiddenClaims)
	return script
}

// recordShortfall persists failed scripts for plans the model never produced,
// so the batch always accounts for its requested count.
func (r *ReelScript) recordShortfall(ctx context.Context, batch *model.Batch, missing int) error {
	for i := 0; i < missing; i++ {
		now := r.now()
		script := &model.Script{
			ScriptID:  model.GenerateUUIDWithSuffix("scr"),
			BatchID:   batch.BatchID,
			Angle:     batch.Angles[i%len(batch.Angles)],
			Duration:  batch.Durations[i%len(batch.Durations)],
			CreatedAt: now,
			UpdatedAt: now,
		}
		script.MarkFailed(shortfallReason)
		if err := r.datasource.CreateScript(ctx, script); err != nil {
			return err
		}
		scriptsPersisted.WithLabelValues(string(model.ScriptFailed)).Inc()
	}
	return nil
}

func (r *ReelScript) completeBatch(ctx context.Context, batch *model.Batch) error {
	if err := r.datasource.UpdateBatchStatus(ctx, batch.BatchID, model.BatchCompleted, ""); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return nil
		}
		return r.failBatch(ctx, batch, err)
	}
	logrus.WithField("batch_id", batch.BatchID).Info("batch completed")
	r.notifyBatch(ctx, batch, model.BatchCompleted, "")
	return nil
}

// failBatch records cause on the batch and returns it as a BATCH_FAILURE so
// the queue retries the job.
func (r *ReelScript) failBatch(ctx context.Context, batch *model.Batch, cause error) error {
	r.markFailed(ctx, batch, cause)
	return apierror.NewAPIError(apierror.ErrBatchFailure, fmt.Sprintf("Batch %s failed", batch.BatchID), cause)
}

func (r *ReelScript) markFailed(ctx context.Context, batch *model.Batch, cause error) {
	if !batch.Status.CanTransitionTo(model.BatchFailed) {
		return
	}
	if err := r.datasource.UpdateBatchStatus(context.WithoutCancel(ctx), batch.BatchID, model.BatchFailed, cause.Error()); err != nil {
		logrus.WithError(err).WithField("batch_id", batch.BatchID).Error("failed to mark batch as failed")
		return
	}
	batch.Status = model.BatchFailed
}

// FinalizeFailedBatch runs once no attempts are left. It makes sure the batch
// reads failed, refunds its charge and notifies subscribers. A batch that
// completed in the meantime is not refunded.
func (r *ReelScript) FinalizeFailedBatch(ctx context.Context, batchID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	batch, err := r.datasource.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.Status.CanTransitionTo(model.BatchFailed) {
		return nil
	}

	reason := cause.Error()
	if err := r.datasource.UpdateBatchStatus(ctx, batchID, model.BatchFailed, reason); err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			return nil
		}
		return err
	}
	if _, err := r.RefundCorrelation(ctx, batchID); err != nil {
		return err
	}
	r.notifyBatch(ctx, batch, model.BatchFailed, reason)
	return nil
}
