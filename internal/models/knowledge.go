package models

import "time"

type KnowledgeStatus string

const (
	KnowledgePending   KnowledgeStatus = "pending"
	KnowledgeAnalyzing KnowledgeStatus = "analyzing"
	KnowledgeCompleted KnowledgeStatus = "completed"
	KnowledgeFailed    KnowledgeStatus = "failed"
)

type DepthLevel string

const (
	DepthBasic        DepthLevel = "basic"
	DepthIntermediate DepthLevel = "intermediate"
	DepthAdvanced     DepthLevel = "advanced"
)

var depthRank = map[DepthLevel]int{
	DepthBasic:        1,
	DepthIntermediate: 2,
	DepthAdvanced:     3,
}

// MaxDepth returns the deeper of two depth levels. Unknown levels rank
// below "basic" so garbage from the model never wins over cached data.
func MaxDepth(a, b DepthLevel) DepthLevel {
	if depthRank[b] > depthRank[a] {
		return b
	}
	return a
}

type Subtopic struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// ScopeAnalysis is the incrementally-merged topic knowledge for a chapter.
// Merging is strictly additive: topics/subtopics are unioned, depth takes the
// per-topic maximum, terminology takes the newest value on key collision.
type ScopeAnalysis struct {
	Topics              []string              `json:"topics"`
	Subtopics           map[string][]Subtopic `json:"subtopics,omitempty"`
	DepthIndicators     map[string]DepthLevel `json:"depth_indicators,omitempty"`
	TerminologyMappings map[string]string     `json:"terminology_mappings,omitempty"`
	SourceMaterials     []string              `json:"source_materials,omitempty"`
}

type StyleExample struct {
	QuestionText  string `json:"question_text"`
	QuestionType  string `json:"question_type,omitempty"`
	MarkingWeight string `json:"marking_weight,omitempty"`
}

// StyleExamples are exemplar questions lifted from source material. Unlike
// ScopeAnalysis, merging appends without deduplication.
type StyleExamples struct {
	Questions       []StyleExample `json:"questions"`
	SourceMaterials []string       `json:"source_materials,omitempty"`
}

type ChapterKnowledge struct {
	ID                int64           `json:"id"`
	ChapterID         int64           `json:"chapter_id"`
	InstituteID       int64           `json:"institute_id"`
	ScopeAnalysis     *ScopeAnalysis  `json:"scope_analysis,omitempty"`
	StyleExamples     *StyleExamples  `json:"style_examples,omitempty"`
	MaterialIDs       []int64         `json:"material_ids"`
	Status            KnowledgeStatus `json:"status"`
	AnalysisAttemptID string          `json:"analysis_attempt_id,omitempty"`
	AnalysisError     *string         `json:"analysis_error,omitempty"`
	AnalysisStartedAt *time.Time      `json:"analysis_started_at,omitempty"`
	AnalyzedAt        *time.Time      `json:"analyzed_at,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// MaterialAnalysis is what one analyzed material contributes to the cache.
type MaterialAnalysis struct {
	ScopeAnalysis *ScopeAnalysis `json:"scope_analysis"`
	StyleExamples *StyleExamples `json:"style_examples"`
}

type Material struct {
	ID          int64     `json:"id"`
	ChapterID   int64     `json:"chapter_id"`
	InstituteID int64     `json:"institute_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	UploadedBy  int64     `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type UploadMaterialRequest struct {
	ChapterID int64  `json:"chapter_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

type UploadMaterialResponse struct {
	MaterialID int64             `json:"material_id"`
	Knowledge  *ChapterKnowledge `json:"knowledge,omitempty"`
	Status     KnowledgeStatus   `json:"status"`
	Message    string            `json:"message"`
}
