package knowledge

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/examcraft/backend/internal/jsonrepair"
	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/models"
)

// UsageRecorder receives token usage for every billable LLM call.
type UsageRecorder interface {
	Record(ctx context.Context, instituteID int64, op models.UsageOperation, model string, promptTokens, completionTokens int) error
}

type Service struct {
	store  *Store
	client llm.Client
	model  string
	usage  UsageRecorder
}

func NewService(store *Store, client llm.Client, model string, usage UsageRecorder) *Service {
	return &Service{store: store, client: client, model: model, usage: usage}
}

// UploadMaterial stores the material, analyzes it, and merges the analysis
// into the chapter's knowledge cache. Analysis failure is not fatal to the
// upload: the material is saved, the cache keeps its prior data, and the
// failure is recorded on the row for later retry.
func (s *Service) UploadMaterial(ctx context.Context, instituteID, userID int64, req models.UploadMaterialRequest) (*models.UploadMaterialResponse, error) {
	if req.ChapterID <= 0 {
		return nil, fmt.Errorf("chapter_id is required")
	}
	if req.Title == "" || req.Content == "" {
		return nil, fmt.Errorf("title and content are required")
	}

	material, err := s.store.CreateMaterial(&models.Material{
		ChapterID:   req.ChapterID,
		InstituteID: instituteID,
		Title:       req.Title,
		Content:     req.Content,
		UploadedBy:  userID,
	})
	if err != nil {
		return nil, err
	}
	material.Content = req.Content

	knowledge, err := s.AnalyzeMaterial(ctx, instituteID, material)
	if err != nil {
		log.Printf("WARN: analysis failed for material %d (chapter %d): %v",
			material.ID, material.ChapterID, err)
		failed, getErr := s.store.GetByChapter(req.ChapterID, instituteID)
		if getErr != nil {
			return nil, getErr
		}
		return &models.UploadMaterialResponse{
			MaterialID: material.ID,
			Knowledge:  failed,
			Status:     models.KnowledgeFailed,
			Message:    "material saved; analysis failed and can be retried",
		}, nil
	}

	return &models.UploadMaterialResponse{
		MaterialID: material.ID,
		Knowledge:  knowledge,
		Status:     knowledge.Status,
		Message:    "material analyzed and merged into chapter knowledge",
	}, nil
}

// AnalyzeMaterial runs one material through the LLM and merges the result.
// Each attempt gets its own id so stale failures cannot clobber newer runs.
func (s *Service) AnalyzeMaterial(ctx context.Context, instituteID int64, material *models.Material) (*models.ChapterKnowledge, error) {
	if _, err := s.store.EnsureForChapter(material.ChapterID, instituteID); err != nil {
		return nil, err
	}

	attemptID := uuid.NewString()
	if err := s.store.BeginAnalysis(material.ChapterID, instituteID, attemptID); err != nil {
		return nil, err
	}

	resp, err := s.client.Generate(ctx, analysisSystemPrompt, buildAnalysisPrompt(material))
	if err != nil {
		s.recordFailure(material, instituteID, attemptID, fmt.Sprintf("llm call: %v", err))
		return nil, fmt.Errorf("analyze material %d: %w", material.ID, err)
	}

	s.recordUsage(ctx, instituteID, resp)

	var analysis models.MaterialAnalysis
	if err := jsonrepair.Unmarshal(resp.Content, &analysis); err != nil {
		s.recordFailure(material, instituteID, attemptID, fmt.Sprintf("parse analysis: %v", err))
		return nil, fmt.Errorf("parse analysis for material %d: %w", material.ID, err)
	}
	if analysis.ScopeAnalysis == nil && analysis.StyleExamples == nil {
		s.recordFailure(material, instituteID, attemptID, "analysis contained no scope or style data")
		return nil, fmt.Errorf("analysis for material %d contained no usable data", material.ID)
	}

	merged, err := s.store.MergeAnalysis(ctx, material.ChapterID, instituteID, material.ID, &analysis)
	if err != nil {
		s.recordFailure(material, instituteID, attemptID, fmt.Sprintf("merge: %v", err))
		return nil, err
	}

	log.Printf("Analyzed material %d into chapter %d: %d topics, %d style examples",
		material.ID, material.ChapterID, topicCount(merged), styleCount(merged))
	return merged, nil
}

// GetChapterKnowledge returns the cache row, or nil when the chapter has
// never had a material uploaded.
func (s *Service) GetChapterKnowledge(chapterID, instituteID int64) (*models.ChapterKnowledge, error) {
	return s.store.GetByChapter(chapterID, instituteID)
}

func (s *Service) recordFailure(material *models.Material, instituteID int64, attemptID, msg string) {
	if err := s.store.FailAnalysis(material.ChapterID, instituteID, attemptID, msg); err != nil {
		log.Printf("WARN: could not record analysis failure for chapter %d: %v",
			material.ChapterID, err)
	}
}

func (s *Service) recordUsage(ctx context.Context, instituteID int64, resp *llm.Response) {
	if s.usage == nil {
		return
	}
	if err := s.usage.Record(ctx, instituteID, models.OpKnowledgeAnalysis, s.model,
		resp.PromptTokens, resp.CompletionTokens); err != nil {
		log.Printf("WARN: could not record analysis usage: %v", err)
	}
}

func topicCount(k *models.ChapterKnowledge) int {
	if k == nil || k.ScopeAnalysis == nil {
		return 0
	}
	return len(k.ScopeAnalysis.Topics)
}

func styleCount(k *models.ChapterKnowledge) int {
	if k == nil || k.StyleExamples == nil {
		return 0
	}
	return len(k.StyleExamples.Questions)
}
