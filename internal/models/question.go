package models

import (
	"fmt"
	"time"
)

// OptionsSchemaVersion tags the stored options envelope so future archetypes
// (multi-select, matching) can be told apart from the current single-answer
// map at the store boundary.
const OptionsSchemaVersion = 1

type Question struct {
	ID            int64             `json:"id"`
	SectionID     int64             `json:"section_id"`
	QuestionText  string            `json:"question_text"`
	Options       map[string]string `json:"options"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   string            `json:"explanation"`
	Position      int               `json:"position"`
	IsSelected    bool              `json:"is_selected"`
	CreatedAt     time.Time         `json:"created_at"`
}

// OptionsEnvelope is the persisted shape of Question.Options.
type OptionsEnvelope struct {
	SchemaVersion int               `json:"schema_version"`
	Options       map[string]string `json:"options"`
}

// ValidateOptions enforces the structural invariants on a question before it
// crosses the store boundary.
func (q *Question) ValidateOptions() error {
	if q.QuestionText == "" {
		return fmt.Errorf("empty question_text")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("expected at least 2 options, got %d", len(q.Options))
	}
	if q.CorrectAnswer == "" {
		return fmt.Errorf("empty correct_answer")
	}
	if _, ok := q.Options[q.CorrectAnswer]; !ok {
		return fmt.Errorf("correct_answer %q is not an option label", q.CorrectAnswer)
	}
	for label, text := range q.Options {
		if label == "" || text == "" {
			return fmt.Errorf("option %q has empty label or text", label)
		}
	}
	return nil
}

type SelectQuestionRequest struct {
	IsSelected bool `json:"is_selected"`
}

// ── Proofreading ──────────────────────────────────────

type ProofreadStatus string

const (
	ProofreadCompleted ProofreadStatus = "completed"
	ProofreadFailed    ProofreadStatus = "failed"
	ProofreadSkipped   ProofreadStatus = "skipped"
)

// ProofreadRunRecord is the audit record of one proofreading invocation.
// It is overwritten, not appended, on the section row.
type ProofreadRunRecord struct {
	Status             ProofreadStatus `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	BatchCount         int             `json:"batch_count"`
	QuestionsChecked   int             `json:"questions_checked"`
	IssuesFound        int             `json:"issues_found"`
	CorrectionsApplied []int64         `json:"corrections_applied"`
	TotalTokens        int             `json:"total_tokens"`
	TotalCostCents     int             `json:"total_cost_cents"`
	Error              *string         `json:"error,omitempty"`
}
