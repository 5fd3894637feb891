package paper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/examcraft/backend/internal/generator"
	"github.com/examcraft/backend/internal/models"
)

// ErrNotFound is returned when a paper, section, or question does not exist
// within the caller's institute.
var ErrNotFound = errors.New("not found")

// PreconditionError reports a lifecycle rule violation: the entity exists but
// is in the wrong state for the requested transition. Offenders names the
// entities blocking it, when there are specific ones.
type PreconditionError struct {
	Reason    string
	Offenders []int64
}

func (e *PreconditionError) Error() string {
	if len(e.Offenders) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Offenders)
}

// Storage is what the service needs from the persistence layer.
type Storage interface {
	CreatePaper(ctx context.Context, paper *models.Paper) (*models.Paper, error)
	GetPaper(paperID, instituteID int64) (*models.Paper, error)
	ListPapers(instituteID int64) ([]models.Paper, error)
	MarkPaperFinalized(paperID int64) (time.Time, error)

	GetSection(sectionID, instituteID int64) (*models.Section, error)
	SetSectionChapters(sectionID int64, chapterIDs []int64, status models.SectionStatus) error
	SetSectionStatus(sectionID int64, status models.SectionStatus) error
	SaveProofreadRecord(sectionID int64, record *models.ProofreadRunRecord) error
	GetProofreadRecord(sectionID, instituteID int64) (*models.ProofreadRunRecord, error)

	ReplaceSectionQuestions(ctx context.Context, sectionID int64, questions []models.Question) ([]models.Question, error)
	DeleteSectionQuestions(ctx context.Context, sectionID int64) error
	ListQuestions(sectionID int64) ([]*models.Question, error)
	ApplyCorrections(ctx context.Context, questions []*models.Question, correctedIDs []int64) error
	SetQuestionSelected(questionID, sectionID int64, selected bool) (bool, error)
	CountQuestions(sectionID int64) (selected, total int, err error)
}

// KnowledgeReader fetches the cached chapter knowledge generation draws from.
type KnowledgeReader interface {
	GetChapterKnowledge(chapterID, instituteID int64) (*models.ChapterKnowledge, error)
}

type QuestionGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

type Proofreader interface {
	Run(ctx context.Context, instituteID int64, questions []*models.Question) *models.ProofreadRunRecord
}

type UsageRecorder interface {
	Record(ctx context.Context, instituteID int64, op models.UsageOperation, model string, promptTokens, completionTokens int) error
}

type Service struct {
	store     Storage
	knowledge KnowledgeReader
	generator QuestionGenerator
	proofread Proofreader
	usage     UsageRecorder
	modelName string
}

func NewService(store Storage, knowledge KnowledgeReader, gen QuestionGenerator, proofreader Proofreader, usage UsageRecorder, modelName string) *Service {
	return &Service{
		store:     store,
		knowledge: knowledge,
		generator: gen,
		proofread: proofreader,
		usage:     usage,
		modelName: modelName,
	}
}

// ── Paper Lifecycle ─────────────────────────────────────

// CreatePaper builds either a templated paper from section templates or a
// legacy single-subject paper, which gets one implicit section.
func (s *Service) CreatePaper(ctx context.Context, instituteID, userID int64, req models.CreatePaperRequest) (*models.Paper, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	paper := &models.Paper{
		InstituteID: instituteID,
		Title:       req.Title,
		CreatedBy:   userID,
	}

	if len(req.Sections) > 0 {
		paper.Templated = true
		for i, tmpl := range req.Sections {
			if tmpl.Subject == "" {
				return nil, fmt.Errorf("section %d: subject is required", i+1)
			}
			if tmpl.TargetCount <= 0 {
				return nil, fmt.Errorf("section %d: target_count must be positive", i+1)
			}
			if !models.ValidDifficulties[tmpl.Difficulty] {
				return nil, fmt.Errorf("section %d: invalid difficulty %q", i+1, tmpl.Difficulty)
			}
			paper.Sections = append(paper.Sections, models.Section{
				Subject:       tmpl.Subject,
				Position:      i + 1,
				TargetCount:   tmpl.TargetCount,
				MarkingScheme: tmpl.MarkingScheme,
				Difficulty:    tmpl.Difficulty,
			})
		}
		return s.store.CreatePaper(ctx, paper)
	}

	// Legacy shape: one subject, paper-level question count.
	if req.Subject == "" {
		return nil, fmt.Errorf("subject is required for a single-subject paper")
	}
	if req.TargetQuestionCount <= 0 {
		return nil, fmt.Errorf("target_question_count must be positive")
	}
	if !models.ValidDifficulties[req.Difficulty] {
		return nil, fmt.Errorf("invalid difficulty %q", req.Difficulty)
	}
	paper.TargetQuestionCount = req.TargetQuestionCount
	paper.Sections = []models.Section{{
		Subject:     req.Subject,
		Position:    1,
		TargetCount: req.TargetQuestionCount,
		Difficulty:  req.Difficulty,
	}}
	return s.store.CreatePaper(ctx, paper)
}

func (s *Service) GetPaper(paperID, instituteID int64) (*models.Paper, error) {
	p, err := s.store.GetPaper(paperID, instituteID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) ListPapers(instituteID int64) ([]models.Paper, error) {
	return s.store.ListPapers(instituteID)
}

// FinalizePaper locks the paper. A templated paper requires every section
// finalized; a legacy paper requires its selected question count to equal the
// paper's target.
func (s *Service) FinalizePaper(ctx context.Context, paperID, instituteID int64) (*models.FinalizePaperResponse, error) {
	p, err := s.store.GetPaper(paperID, instituteID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.FinalizedAt != nil {
		return nil, &PreconditionError{Reason: "paper is already finalized"}
	}

	if p.Templated {
		var offenders []int64
		for _, sec := range p.Sections {
			if sec.Status != models.SectionFinalized {
				offenders = append(offenders, sec.ID)
			}
		}
		if len(offenders) > 0 {
			return nil, &PreconditionError{
				Reason:    "sections are not finalized",
				Offenders: offenders,
			}
		}
	} else {
		selected := 0
		for _, sec := range p.Sections {
			secSelected, _, err := s.store.CountQuestions(sec.ID)
			if err != nil {
				return nil, err
			}
			selected += secSelected
		}
		if selected != p.TargetQuestionCount {
			return nil, &PreconditionError{
				Reason: fmt.Sprintf("paper needs exactly %d selected questions, has %d",
					p.TargetQuestionCount, selected),
			}
		}
		for _, sec := range p.Sections {
			if err := s.store.SetSectionStatus(sec.ID, models.SectionFinalized); err != nil {
				return nil, err
			}
		}
	}

	finalizedAt, err := s.store.MarkPaperFinalized(paperID)
	if err != nil {
		return nil, err
	}
	log.Printf("Finalized paper %d for institute %d", paperID, instituteID)
	return &models.FinalizePaperResponse{PaperID: paperID, FinalizedAt: finalizedAt}, nil
}

// ── Section Lifecycle ───────────────────────────────────

// AssignChapters binds chapters to a section and moves it to ready. On a
// section that already has questions this is a destructive reset: the
// questions are deleted and review starts over.
func (s *Service) AssignChapters(ctx context.Context, sectionID, instituteID int64, chapterIDs []int64) (*models.Section, error) {
	if len(chapterIDs) == 0 {
		return nil, fmt.Errorf("chapter_ids must not be empty")
	}

	sec, err := s.getSectionOnUnfinalizedPaper(sectionID, instituteID)
	if err != nil {
		return nil, err
	}

	if sec.Status == models.SectionInReview || sec.Status == models.SectionFinalized {
		log.Printf("WARN: reassigning chapters on section %d (%s) deletes its questions",
			sectionID, sec.Status)
		if err := s.store.DeleteSectionQuestions(ctx, sectionID); err != nil {
			return nil, err
		}
	}

	if err := s.store.SetSectionChapters(sectionID, chapterIDs, models.SectionReady); err != nil {
		return nil, err
	}
	return s.store.GetSection(sectionID, instituteID)
}

// GenerateSection runs the full pipeline for one section: load chapter
// knowledge, generate an over-sized draft batch, persist it, proofread it,
// and move the section to in_review. Re-running on an in_review section
// replaces its questions.
func (s *Service) GenerateSection(ctx context.Context, sectionID, instituteID int64) (*models.GenerateSectionResponse, error) {
	sec, err := s.getSectionOnUnfinalizedPaper(sectionID, instituteID)
	if err != nil {
		return nil, err
	}

	switch sec.Status {
	case models.SectionPending:
		return nil, &PreconditionError{
			Reason:    "section has no chapters assigned",
			Offenders: []int64{sec.ID},
		}
	case models.SectionFinalized:
		return nil, &PreconditionError{
			Reason:    "section is finalized",
			Offenders: []int64{sec.ID},
		}
	}

	knowledge, err := s.loadKnowledge(sec, instituteID)
	if err != nil {
		return nil, err
	}

	result, err := s.generator.Generate(ctx, generator.Request{
		Subject:       sec.Subject,
		Difficulty:    sec.Difficulty,
		TargetCount:   sec.TargetCount,
		MarkingScheme: sec.MarkingScheme,
		Knowledge:     knowledge,
	})
	if err != nil {
		return nil, fmt.Errorf("generate section %d: %w", sectionID, err)
	}
	s.recordGenerationUsage(ctx, instituteID, result)

	saved, err := s.store.ReplaceSectionQuestions(ctx, sectionID, result.Questions)
	if err != nil {
		return nil, err
	}

	questions := make([]*models.Question, len(saved))
	for i := range saved {
		questions[i] = &saved[i]
	}

	record := s.proofread.Run(ctx, instituteID, questions)
	if err := s.store.ApplyCorrections(ctx, questions, record.CorrectionsApplied); err != nil {
		return nil, err
	}
	if err := s.store.SaveProofreadRecord(sectionID, record); err != nil {
		return nil, err
	}

	if err := s.store.SetSectionStatus(sectionID, models.SectionInReview); err != nil {
		return nil, err
	}

	log.Printf("Generated section %d: %d questions (%d rejected), proofread %s",
		sectionID, len(saved), result.Rejected, record.Status)
	return &models.GenerateSectionResponse{
		SectionID:          sectionID,
		Status:             models.SectionInReview,
		QuestionsGenerated: len(saved),
		Proofread:          record,
		Message:            "questions generated and proofread; select the final set to finalize",
	}, nil
}

// SelectQuestion toggles whether a generated question makes the final paper.
// Only meaningful while the section is in review.
func (s *Service) SelectQuestion(sectionID, questionID, instituteID int64, selected bool) error {
	sec, err := s.getSection(sectionID, instituteID)
	if err != nil {
		return err
	}
	if sec.Status != models.SectionInReview {
		return &PreconditionError{
			Reason:    fmt.Sprintf("section is %s, not in_review", sec.Status),
			Offenders: []int64{sec.ID},
		}
	}

	ok, err := s.store.SetQuestionSelected(questionID, sectionID, selected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// FinalizeSection locks a section once exactly target_count questions are
// selected.
func (s *Service) FinalizeSection(sectionID, instituteID int64) (*models.Section, error) {
	sec, err := s.getSection(sectionID, instituteID)
	if err != nil {
		return nil, err
	}

	switch sec.Status {
	case models.SectionFinalized:
		return nil, &PreconditionError{Reason: "section is already finalized", Offenders: []int64{sec.ID}}
	case models.SectionPending, models.SectionReady:
		return nil, &PreconditionError{Reason: "section has no questions to finalize", Offenders: []int64{sec.ID}}
	}

	selected, total, err := s.store.CountQuestions(sectionID)
	if err != nil {
		return nil, err
	}
	if selected != sec.TargetCount {
		return nil, &PreconditionError{
			Reason: fmt.Sprintf("section needs exactly %d selected questions, has %d of %d",
				sec.TargetCount, selected, total),
			Offenders: []int64{sec.ID},
		}
	}

	if err := s.store.SetSectionStatus(sectionID, models.SectionFinalized); err != nil {
		return nil, err
	}
	return s.store.GetSection(sectionID, instituteID)
}

func (s *Service) ListQuestions(sectionID, instituteID int64) ([]*models.Question, error) {
	if _, err := s.getSection(sectionID, instituteID); err != nil {
		return nil, err
	}
	return s.store.ListQuestions(sectionID)
}

func (s *Service) GetProofreadRecord(sectionID, instituteID int64) (*models.ProofreadRunRecord, error) {
	if _, err := s.getSection(sectionID, instituteID); err != nil {
		return nil, err
	}
	return s.store.GetProofreadRecord(sectionID, instituteID)
}

// ── Internal Helpers ────────────────────────────────────

func (s *Service) getSection(sectionID, instituteID int64) (*models.Section, error) {
	sec, err := s.store.GetSection(sectionID, instituteID)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, ErrNotFound
	}
	return sec, nil
}

func (s *Service) getSectionOnUnfinalizedPaper(sectionID, instituteID int64) (*models.Section, error) {
	sec, err := s.getSection(sectionID, instituteID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPaper(sec.PaperID, instituteID)
	if err != nil {
		return nil, err
	}
	if p != nil && p.FinalizedAt != nil {
		return nil, &PreconditionError{Reason: "paper is finalized", Offenders: []int64{sec.PaperID}}
	}
	return sec, nil
}

// loadKnowledge requires every assigned chapter to have completed analysis;
// generation on unanalyzed chapters would hallucinate scope.
func (s *Service) loadKnowledge(sec *models.Section, instituteID int64) ([]*models.ChapterKnowledge, error) {
	var offenders []int64
	knowledge := make([]*models.ChapterKnowledge, 0, len(sec.ChapterIDs))
	for _, chapterID := range sec.ChapterIDs {
		k, err := s.knowledge.GetChapterKnowledge(chapterID, instituteID)
		if err != nil {
			return nil, err
		}
		if k == nil || k.Status != models.KnowledgeCompleted || k.ScopeAnalysis == nil {
			offenders = append(offenders, chapterID)
			continue
		}
		knowledge = append(knowledge, k)
	}
	if len(offenders) > 0 {
		return nil, &PreconditionError{
			Reason:    "chapters have no completed knowledge analysis",
			Offenders: offenders,
		}
	}
	return knowledge, nil
}

func (s *Service) recordGenerationUsage(ctx context.Context, instituteID int64, result *generator.Result) {
	if s.usage == nil {
		return
	}
	if err := s.usage.Record(ctx, instituteID, models.OpQuestionGeneration, s.modelName,
		result.PromptTokens, result.CompletionTokens); err != nil {
		log.Printf("WARN: could not record generation usage: %v", err)
	}
}
