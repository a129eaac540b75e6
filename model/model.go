package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID prefixed with the given module name, e.g. "bat_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// QualityTier selects the model and per-script price of a batch.
type QualityTier string

const (
	TierStandard QualityTier = "standard"
	TierPremium  QualityTier = "premium"
)

func (t QualityTier) Valid() bool {
	return t == TierStandard || t == TierPremium
}

// Lane is the queue lane a job runs on.
type Lane string

const (
	LaneStandard Lane = "standard"
	LaneElevated Lane = "elevated"
)

// Project is the product brief owned by the project service.
type Project struct {
	ProjectID       string    `json:"project_id"`
	UserID          string    `json:"user_id"`
	ProductName     string    `json:"product_name"`
	Description     string    `json:"description"`
	Benefits        []string  `json:"benefits"`
	ForbiddenClaims []string  `json:"forbidden_claims"`
	TargetAudience  string    `json:"target_audience"`
	Personas        []Persona `json:"personas,omitempty"`
}

type Persona struct {
	PersonaID   string   `json:"persona_id"`
	ProjectID   string   `json:"project_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PainPoints  []string `json:"pain_points"`
}

// PersonasFor returns the personas matching ids, or all personas when ids is empty.
func (p *Project) PersonasFor(ids []string) []Persona {
	if len(ids) == 0 {
		return p.Personas
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []Persona
	for _, persona := range p.Personas {
		if _, ok := wanted[persona.PersonaID]; ok {
			out = append(out, persona)
		}
	}
	return out
}

type User struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
