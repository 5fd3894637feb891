package models

import "time"

type SectionStatus string

const (
	SectionPending   SectionStatus = "pending"
	SectionReady     SectionStatus = "ready"
	SectionInReview  SectionStatus = "in_review"
	SectionFinalized SectionStatus = "finalized"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var ValidDifficulties = map[Difficulty]bool{
	DifficultyEasy:   true,
	DifficultyMedium: true,
	DifficultyHard:   true,
}

type Paper struct {
	ID          int64     `json:"id"`
	InstituteID int64     `json:"institute_id"`
	Title       string    `json:"title"`
	// Templated papers carry multiple sections; legacy papers are a single
	// subject with a paper-level target question count.
	Templated           bool       `json:"templated"`
	TargetQuestionCount int        `json:"target_question_count,omitempty"`
	Sections            []Section  `json:"sections,omitempty"`
	CreatedBy           int64      `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	FinalizedAt         *time.Time `json:"finalized_at,omitempty"`
}

type Section struct {
	ID            int64         `json:"id"`
	PaperID       int64         `json:"paper_id"`
	Subject       string        `json:"subject"`
	Position      int           `json:"position"`
	TargetCount   int           `json:"target_count"`
	MarkingScheme string        `json:"marking_scheme,omitempty"`
	Difficulty    Difficulty    `json:"difficulty"`
	ChapterIDs    []int64       `json:"chapter_ids"`
	Status        SectionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ── Request Types ─────────────────────────────────────

type SectionTemplate struct {
	Subject       string     `json:"subject"`
	TargetCount   int        `json:"target_count"`
	MarkingScheme string     `json:"marking_scheme,omitempty"`
	Difficulty    Difficulty `json:"difficulty"`
}

type CreatePaperRequest struct {
	Title string `json:"title"`
	// Sections instantiates a templated paper. Leave empty and set
	// target_question_count + subject for a legacy single-subject paper.
	Sections            []SectionTemplate `json:"sections,omitempty"`
	Subject             string            `json:"subject,omitempty"`
	TargetQuestionCount int               `json:"target_question_count,omitempty"`
	Difficulty          Difficulty        `json:"difficulty,omitempty"`
}

type AssignChaptersRequest struct {
	ChapterIDs []int64 `json:"chapter_ids"`
}

type GenerateSectionResponse struct {
	SectionID          int64               `json:"section_id"`
	Status             SectionStatus       `json:"status"`
	QuestionsGenerated int                 `json:"questions_generated"`
	Proofread          *ProofreadRunRecord `json:"proofread,omitempty"`
	Message            string              `json:"message"`
}

type FinalizePaperResponse struct {
	PaperID     int64     `json:"paper_id"`
	FinalizedAt time.Time `json:"finalized_at"`
}
