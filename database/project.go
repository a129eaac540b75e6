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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/reelscript/reelscript/internal/apierror"
	"github.com/reelscript/reelscript/model"
)

func (d Datasource) GetProject(ctx context.Context, id string) (*model.Project, error) {
	project := model.Project{}
	var description, audience sql.NullString

	err := d.Conn.QueryRowContext(ctx, `
		SELECT project_id, user_id, product_name, description, benefits, forbidden_claims, target_audience
		FROM reelscript.projects
		WHERE project_id = $1
	`, id).Scan(&project.ProjectID, &project.UserID, &project.ProductName, &description,
		pq.Array(&project.Benefits), pq.Array(&project.ForbiddenClaims), &audience)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Project not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve project", err)
	}
	project.Description = description.String
	project.TargetAudience = audience.String

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT persona_id, project_id, name, COALESCE(description, ''), pain_points
		FROM reelscript.personas
		WHERE project_id = $1
		ORDER BY name
	`, id)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve personas", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Persona
		if err := rows.Scan(&p.PersonaID, &p.ProjectID, &p.Name, &p.Description, pq.Array(&p.PainPoints)); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan persona", err)
		}
		project.Personas = append(project.Personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over personas", err)
	}
	return &project, nil
}

// HashEmail is the form deleted account emails are stored in.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// IsDeletedEmail reports whether an account with this email was deleted before.
func (d Datasource) IsDeletedEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM reelscript.deleted_accounts WHERE email_hash = $1)
	`, HashEmail(email)).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check deleted accounts", err)
	}
	return exists, nil
}
