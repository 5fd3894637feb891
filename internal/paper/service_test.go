package paper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/examcraft/backend/internal/generator"
	"github.com/examcraft/backend/internal/models"
)

// ── Fakes ───────────────────────────────────────────────

type fakeStore struct {
	papers    map[int64]*models.Paper
	sections  map[int64]*models.Section
	questions map[int64][]*models.Question // keyed by section id
	records   map[int64]*models.ProofreadRunRecord
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		papers:    make(map[int64]*models.Paper),
		sections:  make(map[int64]*models.Section),
		questions: make(map[int64][]*models.Question),
		records:   make(map[int64]*models.ProofreadRunRecord),
		nextID:    1,
	}
}

func (f *fakeStore) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeStore) CreatePaper(ctx context.Context, paper *models.Paper) (*models.Paper, error) {
	p := *paper
	p.ID = f.id()
	p.Sections = nil
	for _, sec := range paper.Sections {
		saved := sec
		saved.ID = f.id()
		saved.PaperID = p.ID
		saved.Status = models.SectionPending
		f.sections[saved.ID] = &saved
		p.Sections = append(p.Sections, saved)
	}
	f.papers[p.ID] = &p
	return &p, nil
}

func (f *fakeStore) GetPaper(paperID, instituteID int64) (*models.Paper, error) {
	p, ok := f.papers[paperID]
	if !ok || p.InstituteID != instituteID {
		return nil, nil
	}
	copied := *p
	copied.Sections = nil
	for _, sec := range f.sections {
		if sec.PaperID == paperID {
			copied.Sections = append(copied.Sections, *sec)
		}
	}
	return &copied, nil
}

func (f *fakeStore) ListPapers(instituteID int64) ([]models.Paper, error) {
	var papers []models.Paper
	for _, p := range f.papers {
		if p.InstituteID == instituteID {
			papers = append(papers, *p)
		}
	}
	return papers, nil
}

func (f *fakeStore) MarkPaperFinalized(paperID int64) (time.Time, error) {
	now := time.Now().UTC()
	f.papers[paperID].FinalizedAt = &now
	return now, nil
}

func (f *fakeStore) GetSection(sectionID, instituteID int64) (*models.Section, error) {
	sec, ok := f.sections[sectionID]
	if !ok {
		return nil, nil
	}
	p := f.papers[sec.PaperID]
	if p == nil || p.InstituteID != instituteID {
		return nil, nil
	}
	copied := *sec
	return &copied, nil
}

func (f *fakeStore) SetSectionChapters(sectionID int64, chapterIDs []int64, status models.SectionStatus) error {
	f.sections[sectionID].ChapterIDs = chapterIDs
	f.sections[sectionID].Status = status
	return nil
}

func (f *fakeStore) SetSectionStatus(sectionID int64, status models.SectionStatus) error {
	f.sections[sectionID].Status = status
	return nil
}

func (f *fakeStore) SaveProofreadRecord(sectionID int64, record *models.ProofreadRunRecord) error {
	f.records[sectionID] = record
	return nil
}

func (f *fakeStore) GetProofreadRecord(sectionID, instituteID int64) (*models.ProofreadRunRecord, error) {
	return f.records[sectionID], nil
}

func (f *fakeStore) ReplaceSectionQuestions(ctx context.Context, sectionID int64, questions []models.Question) ([]models.Question, error) {
	f.questions[sectionID] = nil
	saved := make([]models.Question, len(questions))
	for i, q := range questions {
		q.ID = f.id()
		q.SectionID = sectionID
		q.Position = i + 1
		saved[i] = q
		stored := q
		f.questions[sectionID] = append(f.questions[sectionID], &stored)
	}
	return saved, nil
}

func (f *fakeStore) DeleteSectionQuestions(ctx context.Context, sectionID int64) error {
	delete(f.questions, sectionID)
	return nil
}

func (f *fakeStore) ListQuestions(sectionID int64) ([]*models.Question, error) {
	return f.questions[sectionID], nil
}

func (f *fakeStore) ApplyCorrections(ctx context.Context, questions []*models.Question, correctedIDs []int64) error {
	corrected := make(map[int64]bool)
	for _, id := range correctedIDs {
		corrected[id] = true
	}
	for _, q := range questions {
		if !corrected[q.ID] {
			continue
		}
		for _, stored := range f.questions[q.SectionID] {
			if stored.ID == q.ID {
				*stored = *q
			}
		}
	}
	return nil
}

func (f *fakeStore) SetQuestionSelected(questionID, sectionID int64, selected bool) (bool, error) {
	for _, q := range f.questions[sectionID] {
		if q.ID == questionID {
			q.IsSelected = selected
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountQuestions(sectionID int64) (int, int, error) {
	selected := 0
	for _, q := range f.questions[sectionID] {
		if q.IsSelected {
			selected++
		}
	}
	return selected, len(f.questions[sectionID]), nil
}

type fakeKnowledge struct {
	completed map[int64]bool
}

func (f *fakeKnowledge) GetChapterKnowledge(chapterID, instituteID int64) (*models.ChapterKnowledge, error) {
	if !f.completed[chapterID] {
		return nil, nil
	}
	return &models.ChapterKnowledge{
		ChapterID:   chapterID,
		InstituteID: instituteID,
		Status:      models.KnowledgeCompleted,
		ScopeAnalysis: &models.ScopeAnalysis{
			Topics: []string{fmt.Sprintf("topic-%d", chapterID)},
		},
	}, nil
}

type fakeGenerator struct {
	lastRequest generator.Request
	err         error
}

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastRequest = req
	count := generator.OverGenerateCount(req.TargetCount)
	questions := make([]models.Question, count)
	for i := range questions {
		questions[i] = models.Question{
			QuestionText:  fmt.Sprintf("Generated question %d", i+1),
			Options:       map[string]string{"A": "one", "B": "two", "C": "three", "D": "four"},
			CorrectAnswer: "A",
			Explanation:   "Explanation",
		}
	}
	return &generator.Result{Questions: questions, PromptTokens: 100, CompletionTokens: 200}, nil
}

type fakeProofreader struct {
	correctIDs func(questions []*models.Question) []int64
}

func (f *fakeProofreader) Run(ctx context.Context, instituteID int64, questions []*models.Question) *models.ProofreadRunRecord {
	record := &models.ProofreadRunRecord{
		Status:             models.ProofreadCompleted,
		StartedAt:          time.Now().UTC(),
		BatchCount:         1,
		QuestionsChecked:   len(questions),
		CorrectionsApplied: []int64{},
	}
	if f.correctIDs != nil {
		record.CorrectionsApplied = f.correctIDs(questions)
		record.IssuesFound = len(record.CorrectionsApplied)
	}
	return record
}

// ── Test Setup ──────────────────────────────────────────

const testInstitute = int64(42)

func newTestService(store *fakeStore) (*Service, *fakeGenerator) {
	gen := &fakeGenerator{}
	svc := NewService(store,
		&fakeKnowledge{completed: map[int64]bool{1: true, 2: true}},
		gen,
		&fakeProofreader{},
		nil, "test-model")
	return svc, gen
}

func createTemplatedPaper(t *testing.T, svc *Service) *models.Paper {
	t.Helper()
	p, err := svc.CreatePaper(context.Background(), testInstitute, 1, models.CreatePaperRequest{
		Title: "Midterm",
		Sections: []models.SectionTemplate{
			{Subject: "Physics", TargetCount: 10, Difficulty: models.DifficultyMedium},
			{Subject: "Chemistry", TargetCount: 5, Difficulty: models.DifficultyEasy},
		},
	})
	if err != nil {
		t.Fatalf("create paper: %v", err)
	}
	return p
}

func asPrecondition(t *testing.T, err error) *PreconditionError {
	t.Helper()
	pe, ok := err.(*PreconditionError)
	if !ok {
		t.Fatalf("expected PreconditionError, got %T: %v", err, err)
	}
	return pe
}

// ── Tests ───────────────────────────────────────────────

func TestGenerateSection_PendingSectionRejected(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	_, err := svc.GenerateSection(context.Background(), p.Sections[0].ID, testInstitute)
	pe := asPrecondition(t, err)
	if pe.Reason != "section has no chapters assigned" {
		t.Errorf("unexpected reason: %s", pe.Reason)
	}
}

func TestAssignChapters_MovesToReady(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	sec, err := svc.AssignChapters(context.Background(), p.Sections[0].ID, testInstitute, []int64{1, 2})
	if err != nil {
		t.Fatalf("assign chapters: %v", err)
	}
	if sec.Status != models.SectionReady {
		t.Errorf("status = %s, want ready", sec.Status)
	}
	if len(sec.ChapterIDs) != 2 {
		t.Errorf("chapter ids = %v", sec.ChapterIDs)
	}
}

func TestGenerateSection_UnanalyzedChaptersNamed(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	// Chapter 99 has no completed knowledge.
	if _, err := svc.AssignChapters(context.Background(), p.Sections[0].ID, testInstitute, []int64{1, 99}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}

	_, err := svc.GenerateSection(context.Background(), p.Sections[0].ID, testInstitute)
	pe := asPrecondition(t, err)
	if len(pe.Offenders) != 1 || pe.Offenders[0] != 99 {
		t.Errorf("offenders = %v, want [99]", pe.Offenders)
	}
}

func TestGenerateSection_HappyPath(t *testing.T) {
	store := newFakeStore()
	svc, gen := newTestService(store)
	p := createTemplatedPaper(t, svc)
	secID := p.Sections[0].ID

	if _, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{1, 2}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}

	resp, err := svc.GenerateSection(context.Background(), secID, testInstitute)
	if err != nil {
		t.Fatalf("generate section: %v", err)
	}

	if resp.Status != models.SectionInReview {
		t.Errorf("status = %s, want in_review", resp.Status)
	}
	// Over-generation: 10 targeted -> 15 drafted.
	if resp.QuestionsGenerated != 15 {
		t.Errorf("questions generated = %d, want 15", resp.QuestionsGenerated)
	}
	if gen.lastRequest.Subject != "Physics" || len(gen.lastRequest.Knowledge) != 2 {
		t.Errorf("unexpected generation request: %+v", gen.lastRequest)
	}
	if resp.Proofread == nil || resp.Proofread.Status != models.ProofreadCompleted {
		t.Errorf("expected completed proofread record, got %+v", resp.Proofread)
	}
	if store.records[secID] == nil {
		t.Error("proofread record not persisted")
	}

	sec, _ := store.GetSection(secID, testInstitute)
	if sec.Status != models.SectionInReview {
		t.Errorf("stored status = %s", sec.Status)
	}
}

func TestGenerateSection_ProofreadCorrectionsPersisted(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	proofreader := &fakeProofreader{correctIDs: func(questions []*models.Question) []int64 {
		questions[0].CorrectAnswer = "B"
		return []int64{questions[0].ID}
	}}
	svc := NewService(store, &fakeKnowledge{completed: map[int64]bool{1: true}},
		gen, proofreader, nil, "test-model")

	p := createTemplatedPaper(t, svc)
	secID := p.Sections[0].ID
	if _, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{1}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}
	if _, err := svc.GenerateSection(context.Background(), secID, testInstitute); err != nil {
		t.Fatalf("generate section: %v", err)
	}

	stored, _ := store.ListQuestions(secID)
	if stored[0].CorrectAnswer != "B" {
		t.Errorf("correction not persisted: %q", stored[0].CorrectAnswer)
	}
}

func TestSelectQuestion_OnlyInReview(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)
	secID := p.Sections[0].ID

	err := svc.SelectQuestion(secID, 1, testInstitute, true)
	asPrecondition(t, err)
}

func TestFinalizeSection_RequiresExactSelection(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)
	secID := p.Sections[1].ID // Chemistry, target 5

	if _, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{1}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}
	if _, err := svc.GenerateSection(context.Background(), secID, testInstitute); err != nil {
		t.Fatalf("generate section: %v", err)
	}

	// Too few selected.
	questions, _ := store.ListQuestions(secID)
	for _, q := range questions[:3] {
		if err := svc.SelectQuestion(secID, q.ID, testInstitute, true); err != nil {
			t.Fatalf("select question: %v", err)
		}
	}
	if _, err := svc.FinalizeSection(secID, testInstitute); err == nil {
		t.Fatal("expected finalize to fail with 3 of 5 selected")
	}

	// Exactly the target.
	for _, q := range questions[3:5] {
		if err := svc.SelectQuestion(secID, q.ID, testInstitute, true); err != nil {
			t.Fatalf("select question: %v", err)
		}
	}
	sec, err := svc.FinalizeSection(secID, testInstitute)
	if err != nil {
		t.Fatalf("finalize section: %v", err)
	}
	if sec.Status != models.SectionFinalized {
		t.Errorf("status = %s, want finalized", sec.Status)
	}

	// Selection is frozen after finalize.
	if err := svc.SelectQuestion(secID, questions[5].ID, testInstitute, true); err == nil {
		t.Error("expected selection on finalized section to fail")
	}
}

func TestAssignChapters_DestructiveResetInReview(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)
	secID := p.Sections[0].ID

	if _, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{1}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}
	if _, err := svc.GenerateSection(context.Background(), secID, testInstitute); err != nil {
		t.Fatalf("generate section: %v", err)
	}

	sec, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{2})
	if err != nil {
		t.Fatalf("reassign chapters: %v", err)
	}
	if sec.Status != models.SectionReady {
		t.Errorf("status after reset = %s, want ready", sec.Status)
	}
	questions, _ := store.ListQuestions(secID)
	if len(questions) != 0 {
		t.Errorf("expected questions deleted on reset, found %d", len(questions))
	}
}

func TestFinalizePaper_TemplatedNamesUnfinishedSections(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	_, err := svc.FinalizePaper(context.Background(), p.ID, testInstitute)
	pe := asPrecondition(t, err)
	if len(pe.Offenders) != 2 {
		t.Errorf("offenders = %v, want both sections", pe.Offenders)
	}
}

func TestFinalizePaper_Templated(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	for _, target := range []struct {
		secID int64
		count int
	}{{p.Sections[0].ID, 10}, {p.Sections[1].ID, 5}} {
		if _, err := svc.AssignChapters(context.Background(), target.secID, testInstitute, []int64{1}); err != nil {
			t.Fatalf("assign chapters: %v", err)
		}
		if _, err := svc.GenerateSection(context.Background(), target.secID, testInstitute); err != nil {
			t.Fatalf("generate section: %v", err)
		}
		questions, _ := store.ListQuestions(target.secID)
		for _, q := range questions[:target.count] {
			if err := svc.SelectQuestion(target.secID, q.ID, testInstitute, true); err != nil {
				t.Fatalf("select question: %v", err)
			}
		}
		if _, err := svc.FinalizeSection(target.secID, testInstitute); err != nil {
			t.Fatalf("finalize section: %v", err)
		}
	}

	resp, err := svc.FinalizePaper(context.Background(), p.ID, testInstitute)
	if err != nil {
		t.Fatalf("finalize paper: %v", err)
	}
	if resp.PaperID != p.ID {
		t.Errorf("paper id = %d", resp.PaperID)
	}

	// Double finalize is rejected.
	if _, err := svc.FinalizePaper(context.Background(), p.ID, testInstitute); err == nil {
		t.Error("expected second finalize to fail")
	}

	// A finalized paper's sections are frozen.
	if _, err := svc.AssignChapters(context.Background(), p.Sections[0].ID, testInstitute, []int64{2}); err == nil {
		t.Error("expected chapter assignment on finalized paper to fail")
	}
}

func TestFinalizePaper_LegacyCountsSelected(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	p, err := svc.CreatePaper(context.Background(), testInstitute, 1, models.CreatePaperRequest{
		Title:               "Weekly quiz",
		Subject:             "Biology",
		TargetQuestionCount: 4,
		Difficulty:          models.DifficultyEasy,
	})
	if err != nil {
		t.Fatalf("create legacy paper: %v", err)
	}
	if p.Templated {
		t.Fatal("expected legacy paper")
	}
	if len(p.Sections) != 1 {
		t.Fatalf("expected one implicit section, got %d", len(p.Sections))
	}
	secID := p.Sections[0].ID

	if _, err := svc.AssignChapters(context.Background(), secID, testInstitute, []int64{1}); err != nil {
		t.Fatalf("assign chapters: %v", err)
	}
	if _, err := svc.GenerateSection(context.Background(), secID, testInstitute); err != nil {
		t.Fatalf("generate section: %v", err)
	}

	// Wrong selected count blocks finalization.
	if _, err := svc.FinalizePaper(context.Background(), p.ID, testInstitute); err == nil {
		t.Fatal("expected finalize with 0 selected to fail")
	}

	questions, _ := store.ListQuestions(secID)
	for _, q := range questions[:4] {
		if err := svc.SelectQuestion(secID, q.ID, testInstitute, true); err != nil {
			t.Fatalf("select question: %v", err)
		}
	}

	if _, err := svc.FinalizePaper(context.Background(), p.ID, testInstitute); err != nil {
		t.Fatalf("finalize legacy paper: %v", err)
	}
}

func TestInstituteScoping(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	p := createTemplatedPaper(t, svc)

	const otherInstitute = int64(7)
	if _, err := svc.GetPaper(p.ID, otherInstitute); err != ErrNotFound {
		t.Errorf("expected ErrNotFound across institutes, got %v", err)
	}
	if _, err := svc.AssignChapters(context.Background(), p.Sections[0].ID, otherInstitute, []int64{1}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound across institutes, got %v", err)
	}
}
