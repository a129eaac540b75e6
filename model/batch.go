package model

import "time"

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

var batchStatuses = []BatchStatus{BatchPending, BatchProcessing, BatchCompleted, BatchFailed}

// CanTransitionTo reports whether a batch in status s may move to next.
// failed -> processing is only taken by a retry of a batch that was not refunded.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchPending:
		return next == BatchProcessing || next == BatchFailed
	case BatchProcessing:
		return next == BatchProcessing || next == BatchCompleted || next == BatchFailed
	case BatchFailed:
		return next == BatchProcessing || next == BatchFailed
	default:
		return false
	}
}

// TransitionSources lists the statuses a batch may be in to move to next.
func TransitionSources(next BatchStatus) []string {
	var sources []string
	for _, s := range batchStatuses {
		if s.CanTransitionTo(next) {
			sources = append(sources, string(s))
		}
	}
	return sources
}

type Batch struct {
	BatchID        string      `json:"batch_id"`
	ProjectID      string      `json:"project_id"`
	UserID         string      `json:"user_id"`
	RequestedCount int         `json:"requested_count"`
	Platform       string      `json:"platform"`
	Angles         []string    `json:"angles"`
	Durations      []int       `json:"durations"`
	PersonaIDs     []string    `json:"persona_ids,omitempty"`
	QualityTier    QualityTier `json:"quality_tier"`
	Status         BatchStatus `json:"status"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CreditsCharged int64       `json:"credits_charged"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Scripts        []Script    `json:"scripts,omitempty"`
}

// Remaining is the number of scripts still owed by the batch.
func (b *Batch) Remaining() int {
	return b.RequestedCount - len(b.Scripts)
}

// BatchRequest is what a caller submits to start generation.
type BatchRequest struct {
	UserID      string      `json:"user_id"`
	ProjectID   string      `json:"project_id"`
	Count       int         `json:"count"`
	Platform    string      `json:"platform"`
	Angles      []string    `json:"angles"`
	Durations   []int       `json:"durations"`
	PersonaIDs  []string    `json:"persona_ids,omitempty"`
	QualityTier QualityTier `json:"quality_tier"`
}

// Plan is a pass-one blueprint for a single script. It is never persisted.
type Plan struct {
	Angle           string   `json:"angle"`
	Duration        int      `json:"duration"`
	HookIdea        string   `json:"hook_idea"`
	Beats           []string `json:"beats"`
	ComplianceNotes []string `json:"compliance_notes"`
}
