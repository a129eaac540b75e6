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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

// CreateChargedBatch debits the batch's CreditsCharged under its id and
// inserts the batch row in one transaction, so a batch exists exactly when
// its charge does.
func (d Datasource) CreateChargedBatch(ctx context.Context, batch *model.Batch, now time.Time) (model.CreditBreakdown, error) {
	return d.charge(ctx, batch.UserID, batch.CreditsCharged, batch.BatchID, now, func(tx *sql.Tx) error {
		return insertBatch(ctx, tx, batch)
	})
}

func insertBatch(ctx context.Context, db execer, batch *model.Batch) error {
	durations := make([]int64, len(batch.Durations))
	for i, v := range batch.Durations {
		durations[i] = int64(v)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO reelscript.batches (
			batch_id, project_id, user_id, requested_count, platform, angles, durations,
			persona_ids, quality_tier, status, credits_charged, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, batch.BatchID, batch.ProjectID, batch.UserID, batch.RequestedCount, batch.Platform,
		pq.Array(batch.Angles), pq.Array(durations), pq.Array(batch.PersonaIDs),
		batch.QualityTier, batch.Status, batch.CreditsCharged, batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Batch with this ID already exists", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create batch", err)
	}
	return nil
}

// GetBatch loads a batch with its root scripts. Regenerations share the
// batch id but are not counted against the requested total.
func (d Datasource) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	batch := model.Batch{}
	var durations []int64
	var errorMessage sql.NullString

	row := d.Conn.QueryRowContext(ctx, `
		SELECT batch_id, project_id, user_id, requested_count, platform, angles, durations,
			persona_ids, quality_tier, status, error_message, credits_charged, created_at, updated_at
		FROM reelscript.batches
		WHERE batch_id = $1
	`, id)
	err := row.Scan(&batch.BatchID, &batch.ProjectID, &batch.UserID, &batch.RequestedCount, &batch.Platform,
		pq.Array(&batch.Angles), pq.Array(&durations), pq.Array(&batch.PersonaIDs), &batch.QualityTier,
		&batch.Status, &errorMessage, &batch.CreditsCharged, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Batch not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch", err)
	}
	batch.ErrorMessage = errorMessage.String
	batch.Durations = make([]int, len(durations))
	for i, v := range durations {
		batch.Durations[i] = int(v)
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+scriptColumns+`
		FROM reelscript.scripts
		WHERE batch_id = $1 AND parent_script_id IS NULL
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve batch scripts", err)
	}
	defer rows.Close()

	batch.Scripts, err = scanScripts(rows)
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// UpdateBatchStatus only moves a batch along an allowed transition. A row in
// any other status is left untouched and reported as a conflict.
func (d Datasource) UpdateBatchStatus(ctx context.Context, id string, status model.BatchStatus, errorMessage string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE reelscript.batches
		SET status = $2, error_message = NULLIF($3, ''), updated_at = $4
		WHERE batch_id = $1 AND status = ANY($5)
	`, id, status, errorMessage, time.Now(), pq.Array(model.TransitionSources(status)))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch status", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Batch cannot move to %s or does not exist", status), nil)
	}
	return nil
}
