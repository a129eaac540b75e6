package model

import (
	"encoding/json"
	"time"
)

type ScriptStatus string

const (
	ScriptPending    ScriptStatus = "pending"
	ScriptGenerating ScriptStatus = "generating"
	ScriptCompleted  ScriptStatus = "completed"
	ScriptFailed     ScriptStatus = "failed"
)

// Final reports whether the script can no longer change.
func (s ScriptStatus) Final() bool {
	return s == ScriptCompleted || s == ScriptFailed
}

// Beat is one storyboard segment.
type Beat struct {
	TimeRange    string   `json:"time_range"`
	Shot         string   `json:"shot"`
	OnScreenText string   `json:"on_screen_text"`
	Spoken       string   `json:"spoken"`
	BRoll        []string `json:"broll,omitempty"`
}

// UnmarshalJSON also accepts broll as a single string.
func (b *Beat) UnmarshalJSON(data []byte) error {
	type plain Beat
	var raw struct {
		plain
		BRoll json.RawMessage `json:"broll"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Beat(raw.plain)
	b.BRoll = nil
	if len(raw.BRoll) == 0 || string(raw.BRoll) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw.BRoll, &list); err == nil {
		b.BRoll = list
		return nil
	}
	var single string
	if err := json.Unmarshal(raw.BRoll, &single); err != nil {
		return err
	}
	if single != "" {
		b.BRoll = []string{single}
	}
	return nil
}

type Script struct {
	ScriptID         string       `json:"script_id"`
	BatchID          string       `json:"batch_id"`
	Status           ScriptStatus `json:"status"`
	Angle            string       `json:"angle"`
	Duration         int          `json:"duration"`
	Hook             string       `json:"hook,omitempty"`
	Storyboard       []Beat       `json:"storyboard,omitempty"`
	CTAVariants      []string     `json:"cta_variants,omitempty"`
	FilmingChecklist []string     `json:"filming_checklist,omitempty"`
	Warnings         []string     `json:"warnings,omitempty"`
	Score            *int         `json:"score"`
	ParentScriptID   *string      `json:"parent_script_id,omitempty"`
	Instruction      string       `json:"instruction,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// RootID is the lineage root of the script. Lineage is flat, so a
// regeneration's parent is always the root.
func (s *Script) RootID() string {
	if s.ParentScriptID != nil && *s.ParentScriptID != "" {
		return *s.ParentScriptID
	}
	return s.ScriptID
}

func (s *Script) HasStoryboard() bool {
	return len(s.Storyboard) > 0
}

// MarkFailed clears generated content and records the failure.
func (s *Script) MarkFailed(reason string) {
	s.Status = ScriptFailed
	s.ErrorMessage = reason
	s.Hook = ""
	s.Storyboard = nil
	s.CTAVariants = nil
	s.FilmingChecklist = nil
	s.Warnings = nil
	s.Score = nil
}

// RegenerationRequest asks for a revised version of an existing script.
type RegenerationRequest struct {
	UserID      string `json:"user_id"`
	ScriptID    string `json:"script_id"`
	Instruction string `json:"instruction"`
}
