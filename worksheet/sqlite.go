package worksheet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/chatrelay"
	"github.com/shaharia-lab/chatrelay/observability"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// SQLiteStorage is an SQLite implementation of Storage.
type SQLiteStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger observability.Logger
}

// NewSQLiteStorage creates a new SQLiteStorage on an open database handle
// and initializes the schema.
func NewSQLiteStorage(db *sql.DB, logger observability.Logger) (*SQLiteStorage, error) {
	storage := &SQLiteStorage{
		db:     db,
		logger: logger,
	}

	if err := storage.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the necessary tables if they don't exist
func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createLessonsTableSQL := `
	CREATE TABLE IF NOT EXISTS lessons (
		uuid TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`

	createTopicsTableSQL := `
	CREATE TABLE IF NOT EXISTS topics (
		uuid TEXT PRIMARY KEY,
		lesson_uuid TEXT NOT NULL,
		title TEXT NOT NULL,
		FOREIGN KEY (lesson_uuid) REFERENCES lessons(uuid) ON DELETE CASCADE
	);`

	createProblemsTableSQL := `
	CREATE TABLE IF NOT EXISTS problems (
		uuid TEXT PRIMARY KEY,
		topic_uuid TEXT NOT NULL,
		title TEXT NOT NULL,
		question TEXT NOT NULL,
		prompt TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (topic_uuid) REFERENCES topics(uuid) ON DELETE CASCADE
	);`

	createTopicsIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_topics_lesson_uuid ON topics (lesson_uuid);
	`

	createProblemsIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_problems_topic_uuid ON problems (topic_uuid);
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createLessonsTableSQL); err != nil {
		return fmt.Errorf("failed to create lessons table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, createTopicsTableSQL); err != nil {
		return fmt.Errorf("failed to create topics table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, createProblemsTableSQL); err != nil {
		return fmt.Errorf("failed to create problems table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, createTopicsIndexSQL); err != nil {
		return fmt.Errorf("failed to create topics lesson index: %w", err)
	}

	if _, err := tx.ExecContext(ctx, createProblemsIndexSQL); err != nil {
		return fmt.Errorf("failed to create problems topic index: %w", err)
	}

	return tx.Commit()
}

// ListLessons returns the full tree, lessons ordered oldest first.
func (s *SQLiteStorage) ListLessons(ctx context.Context) ([]Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lessonsSQL := `SELECT uuid, title, created_at FROM lessons ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, lessonsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var lesson Lesson
		if err := rows.Scan(&lesson.ID, &lesson.Title, &lesson.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson row: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lesson rows: %w", err)
	}

	for i := range lessons {
		topics, err := s.loadTopics(ctx, lessons[i].ID)
		if err != nil {
			return nil, err
		}
		lessons[i].Topics = topics
	}

	return lessons, nil
}

func (s *SQLiteStorage) loadTopics(ctx context.Context, lessonID string) ([]Topic, error) {
	topicsSQL := `SELECT uuid, title FROM topics WHERE lesson_uuid = ? ORDER BY rowid ASC`
	rows, err := s.db.QueryContext(ctx, topicsSQL, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var topic Topic
		if err := rows.Scan(&topic.ID, &topic.Title); err != nil {
			return nil, fmt.Errorf("failed to scan topic row: %w", err)
		}
		topics = append(topics, topic)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic rows: %w", err)
	}

	for i := range topics {
		problems, err := s.loadProblems(ctx, topics[i].ID)
		if err != nil {
			return nil, err
		}
		topics[i].Problems = problems
	}

	return topics, nil
}

func (s *SQLiteStorage) loadProblems(ctx context.Context, topicID string) ([]Problem, error) {
	problemsSQL := `
	SELECT uuid, title, question, prompt, published, created_at
	FROM problems
	WHERE topic_uuid = ?
	ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, problemsSQL, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query problems: %w", err)
	}
	defer rows.Close()

	var problems []Problem
	for rows.Next() {
		var problem Problem
		if err := rows.Scan(
			&problem.ID,
			&problem.Title,
			&problem.Question,
			&problem.Prompt,
			&problem.Published,
			&problem.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan problem row: %w", err)
		}
		problems = append(problems, problem)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating problem rows: %w", err)
	}

	return problems, nil
}

// GetProblem retrieves a single problem by ID.
func (s *SQLiteStorage) GetProblem(ctx context.Context, problemID string) (*Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getProblem(ctx, problemID)
}

func (s *SQLiteStorage) getProblem(ctx context.Context, problemID string) (*Problem, error) {
	problemSQL := `
	SELECT uuid, title, question, prompt, published, created_at
	FROM problems
	WHERE uuid = ?`

	var problem Problem
	err := s.db.QueryRowContext(ctx, problemSQL, problemID).Scan(
		&problem.ID,
		&problem.Title,
		&problem.Question,
		&problem.Prompt,
		&problem.Published,
		&problem.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query problem: %w", err)
	}

	return &problem, nil
}

// ProblemContext resolves a published problem into conversation context.
func (s *SQLiteStorage) ProblemContext(ctx context.Context, problemID string) (chatrelay.ProblemContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	problem, err := s.getProblem(ctx, problemID)
	if err != nil {
		return chatrelay.ProblemContext{}, err
	}
	if !problem.Published {
		return chatrelay.ProblemContext{}, ErrNotPublished
	}

	return chatrelay.ProblemContext{
		SystemPrompt:    problem.Prompt,
		InitialQuestion: problem.Question,
	}, nil
}

// CreateLesson inserts a new empty lesson.
func (s *SQLiteStorage) CreateLesson(ctx context.Context, title string) (*Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson := &Lesson{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	insertSQL := `INSERT INTO lessons (uuid, title, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insertSQL, lesson.ID, lesson.Title, lesson.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert lesson (uuid: %s): %w", lesson.ID, err)
	}

	return lesson, nil
}

// CreateTopic inserts a new empty topic under an existing lesson.
func (s *SQLiteStorage) CreateTopic(ctx context.Context, lessonID string, title string) (*Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for adding topic: %w", err)
	}
	defer tx.Rollback()

	if err := rowExists(ctx, tx, `SELECT COUNT(*) FROM lessons WHERE uuid = ?`, lessonID); err != nil {
		return nil, err
	}

	topic := &Topic{
		ID:    uuid.NewString(),
		Title: title,
	}

	insertSQL := `INSERT INTO topics (uuid, lesson_uuid, title) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertSQL, topic.ID, lessonID, topic.Title); err != nil {
		return nil, fmt.Errorf("failed to insert topic: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return topic, nil
}

// CreateProblem inserts a problem under an existing topic. The ID and
// creation time are assigned by the store.
func (s *SQLiteStorage) CreateProblem(ctx context.Context, topicID string, problem Problem) (*Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for adding problem: %w", err)
	}
	defer tx.Rollback()

	if err := rowExists(ctx, tx, `SELECT COUNT(*) FROM topics WHERE uuid = ?`, topicID); err != nil {
		return nil, err
	}

	problem.ID = uuid.NewString()
	problem.CreatedAt = time.Now().UTC()

	insertSQL := `
	INSERT INTO problems (uuid, topic_uuid, title, question, prompt, published, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(
		ctx,
		insertSQL,
		problem.ID,
		topicID,
		problem.Title,
		problem.Question,
		problem.Prompt,
		problem.Published,
		problem.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert problem: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &problem, nil
}

// UpdateProblem replaces the stored problem with the same ID.
func (s *SQLiteStorage) UpdateProblem(ctx context.Context, problem Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updateSQL := `
	UPDATE problems SET title = ?, question = ?, prompt = ?, published = ?
	WHERE uuid = ?`

	result, err := s.db.ExecContext(
		ctx,
		updateSQL,
		problem.Title,
		problem.Question,
		problem.Prompt,
		problem.Published,
		problem.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update problem: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteLesson removes a lesson and everything under it.
func (s *SQLiteStorage) DeleteLesson(ctx context.Context, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting lesson: %w", err)
	}
	defer tx.Rollback()

	if err := rowExists(ctx, tx, `SELECT COUNT(*) FROM lessons WHERE uuid = ?`, lessonID); err != nil {
		return err
	}

	// The driver does not enable foreign key cascades by default, so the
	// children are removed explicitly.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM problems WHERE topic_uuid IN (SELECT uuid FROM topics WHERE lesson_uuid = ?)`, lessonID); err != nil {
		return fmt.Errorf("failed to delete lesson problems: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE lesson_uuid = ?`, lessonID); err != nil {
		return fmt.Errorf("failed to delete lesson topics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE uuid = ?`, lessonID); err != nil {
		return fmt.Errorf("failed to delete lesson: %w", err)
	}

	return tx.Commit()
}

// DeleteTopic removes a topic and its problems.
func (s *SQLiteStorage) DeleteTopic(ctx context.Context, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting topic: %w", err)
	}
	defer tx.Rollback()

	if err := rowExists(ctx, tx, `SELECT COUNT(*) FROM topics WHERE uuid = ?`, topicID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM problems WHERE topic_uuid = ?`, topicID); err != nil {
		return fmt.Errorf("failed to delete topic problems: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE uuid = ?`, topicID); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}

	return tx.Commit()
}

// DeleteProblem removes a single problem.
func (s *SQLiteStorage) DeleteProblem(ctx context.Context, problemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM problems WHERE uuid = ?`, problemID)
	if err != nil {
		return fmt.Errorf("failed to delete problem: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, id string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return nil
}
