package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

func Connect() (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "examcraft_user")
	password := getEnv("DB_PASSWORD", "examcraft_password")
	dbname := getEnv("DB_NAME", "examcraft")
	sslmode := getEnv("DB_SSLMODE", "disable")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func Migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id           BIGSERIAL PRIMARY KEY,
		institute_id BIGINT NOT NULL,
		email        VARCHAR(255) UNIQUE NOT NULL,
		name         VARCHAR(255) NOT NULL,
		password     VARCHAR(255) NOT NULL,
		created_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_institute ON users(institute_id);

	CREATE TABLE IF NOT EXISTS materials (
		id           BIGSERIAL PRIMARY KEY,
		chapter_id   BIGINT NOT NULL,
		institute_id BIGINT NOT NULL,
		title        VARCHAR(255) NOT NULL,
		content      TEXT NOT NULL,
		uploaded_by  BIGINT NOT NULL REFERENCES users(id),
		created_at   TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_materials_chapter ON materials(chapter_id, institute_id);

	CREATE TABLE IF NOT EXISTS chapter_knowledge (
		id                  BIGSERIAL PRIMARY KEY,
		chapter_id          BIGINT NOT NULL,
		institute_id        BIGINT NOT NULL,
		scope_analysis      JSONB,
		style_examples      JSONB,
		material_ids        BIGINT[] NOT NULL DEFAULT '{}',
		status              VARCHAR(20) NOT NULL DEFAULT 'pending',
		analysis_attempt_id VARCHAR(36),
		analysis_error      TEXT,
		analysis_started_at TIMESTAMP WITH TIME ZONE,
		analyzed_at         TIMESTAMP WITH TIME ZONE,
		version             BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at          TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE(chapter_id, institute_id)
	);

	CREATE INDEX IF NOT EXISTS idx_knowledge_status ON chapter_knowledge(institute_id, status);

	CREATE TABLE IF NOT EXISTS papers (
		id                    BIGSERIAL PRIMARY KEY,
		institute_id          BIGINT NOT NULL,
		title                 VARCHAR(255) NOT NULL,
		templated             BOOLEAN NOT NULL DEFAULT FALSE,
		target_question_count INT NOT NULL DEFAULT 0,
		created_by            BIGINT NOT NULL REFERENCES users(id),
		created_at            TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		finalized_at          TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_papers_institute ON papers(institute_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS paper_sections (
		id             BIGSERIAL PRIMARY KEY,
		paper_id       BIGINT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
		subject        VARCHAR(100) NOT NULL,
		position       INT NOT NULL,
		target_count   INT NOT NULL,
		marking_scheme VARCHAR(255) NOT NULL DEFAULT '',
		difficulty     VARCHAR(20) NOT NULL,
		chapter_ids    BIGINT[] NOT NULL DEFAULT '{}',
		status         VARCHAR(20) NOT NULL DEFAULT 'pending',
		proofread_run  JSONB,
		created_at     TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE(paper_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_sections_paper ON paper_sections(paper_id, position);
	CREATE INDEX IF NOT EXISTS idx_sections_status ON paper_sections(status);

	CREATE TABLE IF NOT EXISTS questions (
		id             BIGSERIAL PRIMARY KEY,
		section_id     BIGINT NOT NULL REFERENCES paper_sections(id) ON DELETE CASCADE,
		question_text  TEXT NOT NULL,
		options        JSONB NOT NULL,
		correct_answer VARCHAR(10) NOT NULL,
		explanation    TEXT NOT NULL,
		position       INT NOT NULL,
		is_selected    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_questions_section ON questions(section_id, position);
	CREATE INDEX IF NOT EXISTS idx_questions_selected ON questions(section_id, is_selected);

	CREATE TABLE IF NOT EXISTS usage_records (
		id                BIGSERIAL PRIMARY KEY,
		institute_id      BIGINT NOT NULL,
		operation         VARCHAR(50) NOT NULL,
		model_used        VARCHAR(100) NOT NULL,
		prompt_tokens     INT NOT NULL DEFAULT 0,
		completion_tokens INT NOT NULL DEFAULT 0,
		total_tokens      INT NOT NULL DEFAULT 0,
		cost_cents        INT NOT NULL DEFAULT 0,
		created_at        TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_institute ON usage_records(institute_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS usage_aggregates (
		id           BIGSERIAL PRIMARY KEY,
		institute_id BIGINT NOT NULL,
		period_type  VARCHAR(10) NOT NULL,
		period_key   VARCHAR(10) NOT NULL,
		operations   INT NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		cost_cents   BIGINT NOT NULL DEFAULT 0,
		UNIQUE(institute_id, period_type, period_key)
	);
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Idempotent column additions for databases created before these fields.
	alterStatements := []string{
		`ALTER TABLE paper_sections ADD COLUMN IF NOT EXISTS proofread_run JSONB`,
		`ALTER TABLE paper_sections ADD COLUMN IF NOT EXISTS marking_scheme VARCHAR(255) NOT NULL DEFAULT ''`,
		`ALTER TABLE chapter_knowledge ADD COLUMN IF NOT EXISTS analysis_attempt_id VARCHAR(36)`,
		`ALTER TABLE chapter_knowledge ADD COLUMN IF NOT EXISTS analysis_started_at TIMESTAMP WITH TIME ZONE`,
		`ALTER TABLE chapter_knowledge ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0`,
		`ALTER TABLE papers ADD COLUMN IF NOT EXISTS templated BOOLEAN NOT NULL DEFAULT FALSE`,
	}
	for _, stmt := range alterStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("alter table failed: %w", err)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
