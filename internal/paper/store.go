// Package paper owns papers, their sections, and the section lifecycle:
// pending (no chapters) -> ready (chapters assigned) -> in_review (questions
// generated and proofread) -> finalized.
package paper

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/examcraft/backend/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Papers ──────────────────────────────────────────────

func (s *Store) CreatePaper(ctx context.Context, paper *models.Paper) (*models.Paper, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var saved models.Paper
	err = tx.QueryRow(
		`INSERT INTO papers (institute_id, title, templated, target_question_count, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, institute_id, title, templated, target_question_count, created_by, created_at`,
		paper.InstituteID, paper.Title, paper.Templated, paper.TargetQuestionCount, paper.CreatedBy,
	).Scan(&saved.ID, &saved.InstituteID, &saved.Title, &saved.Templated,
		&saved.TargetQuestionCount, &saved.CreatedBy, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create paper: %w", err)
	}

	for _, section := range paper.Sections {
		var sec models.Section
		err = tx.QueryRow(
			`INSERT INTO paper_sections (paper_id, subject, position, target_count, marking_scheme, difficulty, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, paper_id, subject, position, target_count, marking_scheme, difficulty, status, created_at`,
			saved.ID, section.Subject, section.Position, section.TargetCount,
			section.MarkingScheme, section.Difficulty, models.SectionPending,
		).Scan(&sec.ID, &sec.PaperID, &sec.Subject, &sec.Position, &sec.TargetCount,
			&sec.MarkingScheme, &sec.Difficulty, &sec.Status, &sec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("create section: %w", err)
		}
		saved.Sections = append(saved.Sections, sec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit paper: %w", err)
	}
	return &saved, nil
}

func (s *Store) GetPaper(paperID, instituteID int64) (*models.Paper, error) {
	var p models.Paper
	err := s.db.QueryRow(
		`SELECT id, institute_id, title, templated, target_question_count,
		        created_by, created_at, finalized_at
		 FROM papers WHERE id = $1 AND institute_id = $2`,
		paperID, instituteID,
	).Scan(&p.ID, &p.InstituteID, &p.Title, &p.Templated, &p.TargetQuestionCount,
		&p.CreatedBy, &p.CreatedAt, &p.FinalizedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}

	sections, err := s.SectionsForPaper(p.ID)
	if err != nil {
		return nil, err
	}
	p.Sections = sections
	return &p, nil
}

func (s *Store) ListPapers(instituteID int64) ([]models.Paper, error) {
	rows, err := s.db.Query(
		`SELECT id, institute_id, title, templated, target_question_count,
		        created_by, created_at, finalized_at
		 FROM papers WHERE institute_id = $1
		 ORDER BY created_at DESC`,
		instituteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	var papers []models.Paper
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.ID, &p.InstituteID, &p.Title, &p.Templated,
			&p.TargetQuestionCount, &p.CreatedBy, &p.CreatedAt, &p.FinalizedAt); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

func (s *Store) MarkPaperFinalized(paperID int64) (time.Time, error) {
	var finalizedAt time.Time
	err := s.db.QueryRow(
		`UPDATE papers SET finalized_at = NOW() WHERE id = $1 RETURNING finalized_at`,
		paperID,
	).Scan(&finalizedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("finalize paper: %w", err)
	}
	return finalizedAt, nil
}

// ── Sections ────────────────────────────────────────────

const sectionCols = `s.id, s.paper_id, s.subject, s.position, s.target_count,
	        s.marking_scheme, s.difficulty, s.chapter_ids, s.status, s.created_at`

// GetSection scopes through the owning paper so one institute can never
// touch another institute's sections.
func (s *Store) GetSection(sectionID, instituteID int64) (*models.Section, error) {
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM paper_sections s
		 JOIN papers p ON p.id = s.paper_id
		 WHERE s.id = $1 AND p.institute_id = $2`, sectionCols),
		sectionID, instituteID,
	)
	sec, err := scanSection(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get section: %w", err)
	}
	return sec, nil
}

func (s *Store) SectionsForPaper(paperID int64) ([]models.Section, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM paper_sections s
		 WHERE s.paper_id = $1 ORDER BY s.position ASC`, sectionCols),
		paperID,
	)
	if err != nil {
		return nil, fmt.Errorf("sections for paper: %w", err)
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, *sec)
	}
	return sections, rows.Err()
}

// SetSectionChapters stores the chapter assignment and moves the section to
// the given status in one statement.
func (s *Store) SetSectionChapters(sectionID int64, chapterIDs []int64, status models.SectionStatus) error {
	_, err := s.db.Exec(
		`UPDATE paper_sections SET chapter_ids = $1, status = $2 WHERE id = $3`,
		pq.Array(chapterIDs), status, sectionID,
	)
	if err != nil {
		return fmt.Errorf("set section chapters: %w", err)
	}
	return nil
}

func (s *Store) SetSectionStatus(sectionID int64, status models.SectionStatus) error {
	_, err := s.db.Exec(
		`UPDATE paper_sections SET status = $1 WHERE id = $2`,
		status, sectionID,
	)
	if err != nil {
		return fmt.Errorf("set section status: %w", err)
	}
	return nil
}

// SaveProofreadRecord overwrites the section's audit record; only the latest
// run is kept.
func (s *Store) SaveProofreadRecord(sectionID int64, record *models.ProofreadRunRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal proofread record: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE paper_sections SET proofread_run = $1 WHERE id = $2`,
		encoded, sectionID,
	)
	if err != nil {
		return fmt.Errorf("save proofread record: %w", err)
	}
	return nil
}

func (s *Store) GetProofreadRecord(sectionID, instituteID int64) (*models.ProofreadRunRecord, error) {
	var encoded []byte
	err := s.db.QueryRow(
		`SELECT s.proofread_run FROM paper_sections s
		 JOIN papers p ON p.id = s.paper_id
		 WHERE s.id = $1 AND p.institute_id = $2`,
		sectionID, instituteID,
	).Scan(&encoded)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get proofread record: %w", err)
	}
	if len(encoded) == 0 {
		return nil, nil
	}
	var record models.ProofreadRunRecord
	if err := json.Unmarshal(encoded, &record); err != nil {
		return nil, fmt.Errorf("decode proofread record: %w", err)
	}
	return &record, nil
}

// ── Questions ───────────────────────────────────────────

// ReplaceSectionQuestions wipes the section's questions and inserts the new
// batch with positions in order. Options are stored as a versioned envelope.
func (s *Store) ReplaceSectionQuestions(ctx context.Context, sectionID int64, questions []models.Question) ([]models.Question, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions WHERE section_id = $1`, sectionID); err != nil {
		return nil, fmt.Errorf("delete old questions: %w", err)
	}

	saved := make([]models.Question, 0, len(questions))
	for i, q := range questions {
		envelope, err := json.Marshal(models.OptionsEnvelope{
			SchemaVersion: models.OptionsSchemaVersion,
			Options:       q.Options,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal options: %w", err)
		}

		q.SectionID = sectionID
		q.Position = i + 1
		err = tx.QueryRow(
			`INSERT INTO questions (section_id, question_text, options, correct_answer, explanation, position, is_selected)
			 VALUES ($1, $2, $3, $4, $5, $6, false)
			 RETURNING id, created_at`,
			sectionID, q.QuestionText, envelope, q.CorrectAnswer, q.Explanation, q.Position,
		).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert question: %w", err)
		}
		saved = append(saved, q)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit questions: %w", err)
	}
	return saved, nil
}

func (s *Store) DeleteSectionQuestions(ctx context.Context, sectionID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE section_id = $1`, sectionID)
	if err != nil {
		return fmt.Errorf("delete section questions: %w", err)
	}
	return nil
}

func (s *Store) ListQuestions(sectionID int64) ([]*models.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, section_id, question_text, options, correct_answer,
		        explanation, position, is_selected, created_at
		 FROM questions WHERE section_id = $1 ORDER BY position ASC`,
		sectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []*models.Question
	for rows.Next() {
		var q models.Question
		var envelope []byte
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionText, &envelope,
			&q.CorrectAnswer, &q.Explanation, &q.Position, &q.IsSelected, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := decodeOptions(envelope, &q); err != nil {
			return nil, err
		}
		questions = append(questions, &q)
	}
	return questions, rows.Err()
}

// ApplyCorrections writes the proofread corrections back. Only questions
// whose ids appear in correctedIDs are touched.
func (s *Store) ApplyCorrections(ctx context.Context, questions []*models.Question, correctedIDs []int64) error {
	if len(correctedIDs) == 0 {
		return nil
	}

	corrected := make(map[int64]bool, len(correctedIDs))
	for _, id := range correctedIDs {
		corrected[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range questions {
		if !corrected[q.ID] {
			continue
		}
		envelope, err := json.Marshal(models.OptionsEnvelope{
			SchemaVersion: models.OptionsSchemaVersion,
			Options:       q.Options,
		})
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		_, err = tx.Exec(
			`UPDATE questions
			 SET question_text = $1, options = $2, correct_answer = $3, explanation = $4
			 WHERE id = $5`,
			q.QuestionText, envelope, q.CorrectAnswer, q.Explanation, q.ID,
		)
		if err != nil {
			return fmt.Errorf("apply correction: %w", err)
		}
	}

	return tx.Commit()
}

// SetQuestionSelected flips the selection flag; returns false when the
// question does not belong to the section.
func (s *Store) SetQuestionSelected(questionID, sectionID int64, selected bool) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE questions SET is_selected = $1 WHERE id = $2 AND section_id = $3`,
		selected, questionID, sectionID,
	)
	if err != nil {
		return false, fmt.Errorf("set question selected: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set question selected rows: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) CountQuestions(sectionID int64) (selected, total int, err error) {
	err = s.db.QueryRow(
		`SELECT COUNT(*) FILTER (WHERE is_selected), COUNT(*)
		 FROM questions WHERE section_id = $1`,
		sectionID,
	).Scan(&selected, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("count questions: %w", err)
	}
	return selected, total, nil
}

// ── Scan Helpers ────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSection(row rowScanner) (*models.Section, error) {
	var sec models.Section
	var chapterIDs pq.Int64Array
	err := row.Scan(&sec.ID, &sec.PaperID, &sec.Subject, &sec.Position,
		&sec.TargetCount, &sec.MarkingScheme, &sec.Difficulty,
		&chapterIDs, &sec.Status, &sec.CreatedAt)
	if err != nil {
		return nil, err
	}
	sec.ChapterIDs = []int64(chapterIDs)
	return &sec, nil
}

func decodeOptions(envelope []byte, q *models.Question) error {
	var env models.OptionsEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return fmt.Errorf("decode options for question %d: %w", q.ID, err)
	}
	if env.SchemaVersion != models.OptionsSchemaVersion {
		return fmt.Errorf("question %d has unsupported options schema %d", q.ID, env.SchemaVersion)
	}
	q.Options = env.Options
	return nil
}
