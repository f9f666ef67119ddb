// Package store provides SQLite-backed persistence for projects,
// chapters, lines, roles, voices, and the emotion/strength vocabularies.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saybook/saybook/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_chapters_project ON chapters(project_id, number);

CREATE TABLE IF NOT EXISTS roles (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	voice_id   INTEGER NOT NULL DEFAULT 0,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS voices (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	description    TEXT NOT NULL DEFAULT '',
	reference_path TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lines (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chapter_id INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
	line_order INTEGER NOT NULL,
	role_id    INTEGER NOT NULL DEFAULT 0,
	text       TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	strength   TEXT NOT NULL DEFAULT '',
	audio_path TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_lines_chapter ON lines(chapter_id, line_order);

CREATE TABLE IF NOT EXISTS emotions (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS strengths (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
`

// Seed vocabularies match what the synthesis feature mapping understands.
var (
	seedEmotions = []string{
		"高兴", "生气", "伤心", "害怕", "厌恶", "低落", "惊喜", "平静",
		"疑惑", "紧张", "感动", "无奈", "得意", "嘲讽", "焦虑", "温柔", "坚定", "哀求",
	}
	seedStrengths = []string{"微弱", "稍弱", "中等", "较强", "强烈"}
)

// Store wraps the SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema and seed vocabularies exist
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := seedVocabularies(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed vocabularies: %w", err)
	}

	return &Store{db: db}, nil
}

func seedVocabularies(db *sql.DB) error {
	for _, name := range seedEmotions {
		if _, err := db.Exec(`INSERT OR IGNORE INTO emotions(name) VALUES (?)`, name); err != nil {
			return err
		}
	}
	for _, name := range seedStrengths {
		if _, err := db.Exec(`INSERT OR IGNORE INTO strengths(name) VALUES (?)`, name); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- projects ---

// CreateProject inserts a new project
func (s *Store) CreateProject(ctx context.Context, name string) (*types.Project, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(name, created_at) VALUES (?, ?)`,
		name, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Project{ID: id, Name: name, CreatedAt: now}, nil
}

// GetProject fetches one project by id
func (s *Store) GetProject(ctx context.Context, id int64) (*types.Project, error) {
	var p types.Project
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &p, nil
}

// ListProjects returns all projects ordered by id
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []types.Project
	for rows.Next() {
		var p types.Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- chapters ---

// CreateChapter inserts a new chapter
func (s *Store) CreateChapter(ctx context.Context, projectID int64, number int, title, text string) (*types.Chapter, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chapters(project_id, number, title, text) VALUES (?, ?, ?, ?)`,
		projectID, number, title, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create chapter: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Chapter{ID: id, ProjectID: projectID, Number: number, Title: title, Text: text}, nil
}

// GetChapter fetches one chapter by id
func (s *Store) GetChapter(ctx context.Context, id int64) (*types.Chapter, error) {
	var c types.Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, number, title, text FROM chapters WHERE id = ?`, id).
		Scan(&c.ID, &c.ProjectID, &c.Number, &c.Title, &c.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chapter %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &c, nil
}

// ListChapters returns a project's chapters ordered by number
func (s *Store) ListChapters(ctx context.Context, projectID int64) ([]types.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, number, title, text FROM chapters WHERE project_id = ? ORDER BY number`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []types.Chapter
	for rows.Next() {
		var c types.Chapter
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Number, &c.Title, &c.Text); err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// --- lines ---

// CreateLine inserts a line and returns it with its assigned id
func (s *Store) CreateLine(ctx context.Context, line *types.Line) (*types.Line, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lines(chapter_id, line_order, role_id, text, emotion, strength, audio_path, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ChapterID, line.Order, line.RoleID, line.Text, line.Emotion, line.Strength, line.AudioPath, line.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *line
	out.ID = id
	return &out, nil
}

// GetLine fetches a single line by id
func (s *Store) GetLine(ctx context.Context, id int64) (*types.Line, error) {
	var l types.Line
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chapter_id, line_order, role_id, text, emotion, strength, audio_path, status
		 FROM lines WHERE id = ?`, id).
		Scan(&l.ID, &l.ChapterID, &l.Order, &l.RoleID, &l.Text, &l.Emotion, &l.Strength, &l.AudioPath, &l.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("line %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get line: %w", err)
	}
	return &l, nil
}

// ListLines returns a chapter's lines in line order
func (s *Store) ListLines(ctx context.Context, chapterID int64) ([]types.Line, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chapter_id, line_order, role_id, text, emotion, strength, audio_path, status
		 FROM lines WHERE chapter_id = ? ORDER BY line_order`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines: %w", err)
	}
	defer rows.Close()

	var lines []types.Line
	for rows.Next() {
		var l types.Line
		if err := rows.Scan(&l.ID, &l.ChapterID, &l.Order, &l.RoleID, &l.Text, &l.Emotion, &l.Strength, &l.AudioPath, &l.Status); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CountLines returns the number of persisted lines for a chapter
func (s *Store) CountLines(ctx context.Context, chapterID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lines WHERE chapter_id = ?`, chapterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count lines: %w", err)
	}
	return n, nil
}

// DeleteLinesForChapter removes all of a chapter's lines
func (s *Store) DeleteLinesForChapter(ctx context.Context, chapterID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lines WHERE chapter_id = ?`, chapterID); err != nil {
		return fmt.Errorf("failed to delete lines: %w", err)
	}
	return nil
}

// SetLineAudioPath updates a line's audio path
func (s *Store) SetLineAudioPath(ctx context.Context, lineID int64, audioPath string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE lines SET audio_path = ? WHERE id = ?`, audioPath, lineID); err != nil {
		return fmt.Errorf("failed to set audio path: %w", err)
	}
	return nil
}

// SetLineStatus updates a line's processing status
func (s *Store) SetLineStatus(ctx context.Context, lineID int64, status string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE lines SET status = ? WHERE id = ?`, status, lineID); err != nil {
		return fmt.Errorf("failed to set line status: %w", err)
	}
	return nil
}

// --- roles ---

// CreateRole inserts a role, or returns the existing one with the same name
func (s *Store) CreateRole(ctx context.Context, projectID int64, name string) (*types.Role, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO roles(project_id, name) VALUES (?, ?)`, projectID, name); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return s.GetRoleByName(ctx, projectID, name)
}

// GetRole fetches one role by id
func (s *Store) GetRole(ctx context.Context, id int64) (*types.Role, error) {
	var r types.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, voice_id FROM roles WHERE id = ?`, id).
		Scan(&r.ID, &r.ProjectID, &r.Name, &r.VoiceID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

// GetRoleByName fetches one role by project and name
func (s *Store) GetRoleByName(ctx context.Context, projectID int64, name string) (*types.Role, error) {
	var r types.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, voice_id FROM roles WHERE project_id = ? AND name = ?`,
		projectID, name).
		Scan(&r.ID, &r.ProjectID, &r.Name, &r.VoiceID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %q not found in project %d", name, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &r, nil
}

// ListRoles returns a project's roles ordered by id
func (s *Store) ListRoles(ctx context.Context, projectID int64) ([]types.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, voice_id FROM roles WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []types.Role
	for rows.Next() {
		var r types.Role
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.VoiceID); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// SetRoleVoice binds a role to a voice
func (s *Store) SetRoleVoice(ctx context.Context, roleID, voiceID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE roles SET voice_id = ? WHERE id = ?`, voiceID, roleID); err != nil {
		return fmt.Errorf("failed to set role voice: %w", err)
	}
	return nil
}

// --- voices ---

// CreateVoice inserts a voice
func (s *Store) CreateVoice(ctx context.Context, name, description, referencePath string) (*types.Voice, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO voices(name, description, reference_path) VALUES (?, ?, ?)`,
		name, description, referencePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &types.Voice{ID: id, Name: name, Description: description, ReferencePath: referencePath}, nil
}

// GetVoice fetches one voice by id
func (s *Store) GetVoice(ctx context.Context, id int64) (*types.Voice, error) {
	var v types.Voice
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, reference_path FROM voices WHERE id = ?`, id).
		Scan(&v.ID, &v.Name, &v.Description, &v.ReferencePath)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("voice %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voice: %w", err)
	}
	return &v, nil
}

// ListVoices returns all voices ordered by id
func (s *Store) ListVoices(ctx context.Context) ([]types.Voice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, reference_path FROM voices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	defer rows.Close()

	var voices []types.Voice
	for rows.Next() {
		var v types.Voice
		if err := rows.Scan(&v.ID, &v.Name, &v.Description, &v.ReferencePath); err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}

// --- vocabularies ---

// ListEmotions returns the emotion vocabulary
func (s *Store) ListEmotions(ctx context.Context) ([]types.Emotion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM emotions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emotions: %w", err)
	}
	defer rows.Close()

	var emotions []types.Emotion
	for rows.Next() {
		var e types.Emotion
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, err
		}
		emotions = append(emotions, e)
	}
	return emotions, rows.Err()
}

// ListStrengths returns the strength vocabulary
func (s *Store) ListStrengths(ctx context.Context) ([]types.Strength, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM strengths ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strengths: %w", err)
	}
	defer rows.Close()

	var strengths []types.Strength
	for rows.Next() {
		var st types.Strength
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, err
		}
		strengths = append(strengths, st)
	}
	return strengths, rows.Err()
}
