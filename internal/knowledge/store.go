package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/examcraft/backend/internal/models"
)

// maxMergeRetries bounds the optimistic-concurrency loop. Two materials for
// the same chapter analyzed at once is the common conflict; anything beyond a
// handful of retries means something is hammering the row.
const maxMergeRetries = 5

// ErrMergeConflict is returned when the version-checked update loses every
// retry. The caller can re-run the merge; the analysis result is not lost.
var ErrMergeConflict = fmt.Errorf("knowledge merge conflict: version changed on every retry")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Materials ───────────────────────────────────────────

func (s *Store) CreateMaterial(m *models.Material) (*models.Material, error) {
	var saved models.Material
	err := s.db.QueryRow(
		`INSERT INTO materials (chapter_id, institute_id, title, content, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, chapter_id, institute_id, title, uploaded_by, created_at`,
		m.ChapterID, m.InstituteID, m.Title, m.Content, m.UploadedBy,
	).Scan(&saved.ID, &saved.ChapterID, &saved.InstituteID, &saved.Title,
		&saved.UploadedBy, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create material: %w", err)
	}
	return &saved, nil
}

func (s *Store) GetMaterial(materialID, instituteID int64) (*models.Material, error) {
	var m models.Material
	err := s.db.QueryRow(
		`SELECT id, chapter_id, institute_id, title, content, uploaded_by, created_at
		 FROM materials WHERE id = $1 AND institute_id = $2`,
		materialID, instituteID,
	).Scan(&m.ID, &m.ChapterID, &m.InstituteID, &m.Title, &m.Content,
		&m.UploadedBy, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get material: %w", err)
	}
	return &m, nil
}

func (s *Store) ListMaterials(chapterID, instituteID int64) ([]models.Material, error) {
	rows, err := s.db.Query(
		`SELECT id, chapter_id, institute_id, title, uploaded_by, created_at
		 FROM materials WHERE chapter_id = $1 AND institute_id = $2
		 ORDER BY created_at ASC`,
		chapterID, instituteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var materials []models.Material
	for rows.Next() {
		var m models.Material
		if err := rows.Scan(&m.ID, &m.ChapterID, &m.InstituteID, &m.Title,
			&m.UploadedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

// ── Chapter Knowledge ───────────────────────────────────

const knowledgeCols = `id, chapter_id, institute_id, scope_analysis, style_examples,
	        material_ids, status, analysis_attempt_id, analysis_error,
	        analysis_started_at, analyzed_at, version, created_at, updated_at`

// EnsureForChapter creates the cache row in pending state if it does not
// exist, then returns the current row either way.
func (s *Store) EnsureForChapter(chapterID, instituteID int64) (*models.ChapterKnowledge, error) {
	_, err := s.db.Exec(
		`INSERT INTO chapter_knowledge (chapter_id, institute_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chapter_id, institute_id) DO NOTHING`,
		chapterID, instituteID, models.KnowledgePending,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert chapter knowledge: %w", err)
	}
	return s.GetByChapter(chapterID, instituteID)
}

func (s *Store) GetByChapter(chapterID, instituteID int64) (*models.ChapterKnowledge, error) {
	row := s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM chapter_knowledge
		 WHERE chapter_id = $1 AND institute_id = $2`, knowledgeCols),
		chapterID, instituteID,
	)
	k, err := scanKnowledge(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get chapter knowledge: %w", err)
	}
	return k, nil
}

// BeginAnalysis marks the row analyzing and stamps the attempt id. Cached
// scope and style data stay in place so a failed attempt never erases them.
func (s *Store) BeginAnalysis(chapterID, instituteID int64, attemptID string) error {
	_, err := s.db.Exec(
		`UPDATE chapter_knowledge
		 SET status = $1, analysis_attempt_id = $2, analysis_error = NULL,
		     analysis_started_at = NOW(), updated_at = NOW()
		 WHERE chapter_id = $3 AND institute_id = $4`,
		models.KnowledgeAnalyzing, attemptID, chapterID, instituteID,
	)
	if err != nil {
		return fmt.Errorf("begin analysis: %w", err)
	}
	return nil
}

// FailAnalysis records the failure but only if attemptID still owns the row,
// so a stale attempt cannot clobber a newer run's state.
func (s *Store) FailAnalysis(chapterID, instituteID int64, attemptID, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE chapter_knowledge
		 SET status = $1, analysis_error = $2, updated_at = NOW()
		 WHERE chapter_id = $3 AND institute_id = $4 AND analysis_attempt_id = $5`,
		models.KnowledgeFailed, errMsg, chapterID, instituteID, attemptID,
	)
	if err != nil {
		return fmt.Errorf("fail analysis: %w", err)
	}
	return nil
}

// MergeAnalysis folds one material's analysis into the cached knowledge under
// optimistic concurrency: read the row with its version, merge in memory,
// write back guarded by the version. A lost race re-reads and re-merges; the
// merge is additive and idempotent so replays are safe.
func (s *Store) MergeAnalysis(ctx context.Context, chapterID, instituteID, materialID int64, incoming *models.MaterialAnalysis) (*models.ChapterKnowledge, error) {
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		current, err := s.GetByChapter(chapterID, instituteID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("chapter knowledge missing for chapter %d", chapterID)
		}

		mergedScope := MergeScope(current.ScopeAnalysis, incoming.ScopeAnalysis)
		mergedStyles := MergeStyles(current.StyleExamples, incoming.StyleExamples)
		materialIDs := appendMaterialID(current.MaterialIDs, materialID)

		scopeJSON, err := marshalNullable(mergedScope)
		if err != nil {
			return nil, fmt.Errorf("marshal scope analysis: %w", err)
		}
		stylesJSON, err := marshalNullable(mergedStyles)
		if err != nil {
			return nil, fmt.Errorf("marshal style examples: %w", err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE chapter_knowledge
			 SET scope_analysis = $1, style_examples = $2, material_ids = $3,
			     status = $4, analysis_error = NULL, analyzed_at = NOW(),
			     version = version + 1, updated_at = NOW()
			 WHERE id = $5 AND version = $6`,
			scopeJSON, stylesJSON, pq.Array(materialIDs),
			models.KnowledgeCompleted, current.ID, current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("merge analysis: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("merge analysis rows affected: %w", err)
		}
		if affected == 1 {
			return s.GetByChapter(chapterID, instituteID)
		}
		// Version moved under us; loop re-reads and re-merges.
	}
	return nil, ErrMergeConflict
}

func appendMaterialID(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *models.ScopeAnalysis:
		if x == nil {
			return nil, nil
		}
	case *models.StyleExamples:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledge(row rowScanner) (*models.ChapterKnowledge, error) {
	var k models.ChapterKnowledge
	var scopeJSON, stylesJSON []byte
	var attemptID sql.NullString
	var materialIDs pq.Int64Array

	err := row.Scan(&k.ID, &k.ChapterID, &k.InstituteID, &scopeJSON, &stylesJSON,
		&materialIDs, &k.Status, &attemptID, &k.AnalysisError,
		&k.AnalysisStartedAt, &k.AnalyzedAt, &k.Version, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}

	k.MaterialIDs = []int64(materialIDs)
	if attemptID.Valid {
		k.AnalysisAttemptID = attemptID.String
	}
	if len(scopeJSON) > 0 {
		var scope models.ScopeAnalysis
		if err := json.Unmarshal(scopeJSON, &scope); err != nil {
			return nil, fmt.Errorf("decode scope analysis: %w", err)
		}
		k.ScopeAnalysis = &scope
	}
	if len(stylesJSON) > 0 {
		var styles models.StyleExamples
		if err := json.Unmarshal(stylesJSON, &styles); err != nil {
			return nil, fmt.Errorf("decode style examples: %w", err)
		}
		k.StyleExamples = &styles
	}
	return &k, nil
}
