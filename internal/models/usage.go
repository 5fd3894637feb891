package models

import "time"

type UsageOperation string

const (
	OpKnowledgeAnalysis  UsageOperation = "knowledge_analysis"
	OpQuestionGeneration UsageOperation = "question_generation"
	OpProofreading       UsageOperation = "proofreading"
)

type UsageRecord struct {
	ID               int64          `json:"id"`
	InstituteID      int64          `json:"institute_id"`
	Operation        UsageOperation `json:"operation"`
	ModelUsed        string         `json:"model_used"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	CostCents        int            `json:"cost_cents"`
	CreatedAt        time.Time      `json:"created_at"`
}

type UsageAggregate struct {
	PeriodType  string `json:"period_type"` // "day" or "month"
	PeriodKey   string `json:"period_key"`  // 2026-08-23 or 2026-08
	InstituteID int64  `json:"institute_id"`
	Operations  int    `json:"operations"`
	TotalTokens int    `json:"total_tokens"`
	CostCents   int    `json:"cost_cents"`
}

// OperationTotal is the month-to-date rollup for one operation type.
type OperationTotal struct {
	Operation   UsageOperation `json:"operation"`
	Calls       int            `json:"calls"`
	TotalTokens int            `json:"total_tokens"`
	CostCents   int            `json:"cost_cents"`
}

type UsageSummary struct {
	Today       UsageAggregate   `json:"today"`
	ThisMonth   UsageAggregate   `json:"this_month"`
	ByOperation []OperationTotal `json:"by_operation"`
}
