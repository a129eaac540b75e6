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
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

const scriptColumns = `script_id, batch_id, status, angle, duration, hook, storyboard, cta_variants,
	filming_checklist, warnings, score, parent_script_id, instruction, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScript(row rowScanner) (model.Script, error) {
	script := model.Script{}
	var (
		hook, instruction, errorMessage sql.NullString
		parentID                        sql.NullString
		score                           sql.NullInt64
		storyboard                      []byte
	)

	err := row.Scan(&script.ScriptID, &script.BatchID, &script.Status, &script.Angle, &script.Duration,
		&hook, &storyboard, pq.Array(&script.CTAVariants), pq.Array(&script.FilmingChecklist),
		pq.Array(&script.Warnings), &score, &parentID, &instruction, &errorMessage,
		&script.CreatedAt, &script.UpdatedAt)
	if err != nil {
		return script, err
	}

	script.Hook = hook.String
	script.Instruction = instruction.String
	script.ErrorMessage = errorMessage.String
	if parentID.Valid {
		script.ParentScriptID = &parentID.String
	}
	if score.Valid {
		s := int(score.Int64)
		script.Score = &s
	}
	if len(storyboard) > 0 {
		if err := json.Unmarshal(storyboard, &script.Storyboard); err != nil {
			return script, err
		}
	}
	return script, nil
}

func scanScripts(rows *sql.Rows) ([]model.Script, error) {
	scripts := []model.Script{}
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan script data", err)
		}
		scripts = append(scripts, script)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over scripts", err)
	}
	return scripts, nil
}

func storyboardJSON(beats []model.Beat) ([]byte, error) {
	if len(beats) == 0 {
		return nil, nil
	}
	return json.Marshal(beats)
}

func nullScore(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (d Datasource) CreateScript(ctx context.Context, script *model.Script) error {
	return insertScript(ctx, d.Conn, script)
}

// CreateChargedScript debits amount from userID under the script's id and
// inserts the script row in the same transaction.
func (d Datasource) CreateChargedScript(ctx context.Context, script *model.Script, userID string, amount int64, now time.Time) (model.CreditBreakdown, error) {
	return d.charge(ctx, userID, amount, script.ScriptID, now, func(tx *sql.Tx) error {
		return insertScript(ctx, tx, script)
	})
}

func insertScript(ctx context.Context, db execer, script *model.Script) error {
	storyboard, err := storyboardJSON(script.Storyboard)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal storyboard", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO reelscript.scripts (`+scriptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, script.ScriptID, script.BatchID, script.Status, script.Angle, script.Duration,
		script.Hook, storyboard, pq.Array(script.CTAVariants), pq.Array(script.FilmingChecklist),
		pq.Array(script.Warnings), nullScore(script.Score), nullString(script.ParentScriptID),
		script.Instruction, script.ErrorMessage, script.CreatedAt, script.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apierror.NewAPIError(apierror.ErrConflict, "Script with this ID already exists", err)
			case "foreign_key_violation":
				return apierror.NewAPIError(apierror.ErrNotFound, "Batch or parent script not found", err)
			}
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create script", err)
	}
	return nil
}

func (d Datasource) GetScript(ctx context.Context, id string) (*model.Script, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+scriptColumns+`
		FROM reelscript.scripts
		WHERE script_id = $1
	`, id)

	script, err := scanScript(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Script not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve script", err)
	}
	return &script, nil
}

// GetScriptVersions returns the root followed by every regeneration of it.
func (d Datasource) GetScriptVersions(ctx context.Context, rootID string) ([]model.Script, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+scriptColumns+`
		FROM reelscript.scripts
		WHERE script_id = $1 OR parent_script_id = $1
		ORDER BY created_at ASC
	`, rootID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve script versions", err)
	}
	defer rows.Close()
	return scanScripts(rows)
}

// UpdateScriptStatus only moves scripts that are still in flight.
func (d Datasource) UpdateScriptStatus(ctx context.Context, id string, status model.ScriptStatus) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE reelscript.scripts
		SET status = $2, updated_at = $3
		WHERE script_id = $1 AND status IN ('pending', 'generating')
	`, id, status, time.Now())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update script status", err)
	}
	return requireAffected(result, "Script is final or does not exist")
}

// SaveScriptResult writes the final content of a pending or generating row.
func (d Datasource) SaveScriptResult(ctx context.Context, script *model.Script) error {
	storyboard, err := storyboardJSON(script.Storyboard)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal storyboard", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE reelscript.scripts
		SET status = $2, hook = $3, storyboard = $4, cta_variants = $5, filming_checklist = $6,
			warnings = $7, score = $8, error_message = $9, updated_at = $10
		WHERE script_id = $1 AND status IN ('pending', 'generating')
	`, script.ScriptID, script.Status, script.Hook, storyboard, pq.Array(script.CTAVariants),
		pq.Array(script.FilmingChecklist), pq.Array(script.Warnings), nullScore(script.Score),
		script.ErrorMessage, script.UpdatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save script result", err)
	}
	return requireAffected(result, "Script is final or does not exist")
}

func requireAffected(result sql.Result, message string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, message, nil)
	}
	return nil
}
