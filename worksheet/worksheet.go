// Package worksheet stores moderator-authored content: lessons containing
// topics containing problems. A published problem supplies the teacher
// prompt and opening question for a relay conversation. Chat transcripts are
// never stored here, only the authored material.
package worksheet

import (
	"context"
	"errors"
	"time"

	"github.com/shaharia-lab/chatrelay"
)

// ErrNotFound indicates the requested lesson, topic or problem does not exist.
var ErrNotFound = errors.New("worksheet: not found")

// ErrNotPublished indicates the problem exists but is not available to
// students yet.
var ErrNotPublished = errors.New("worksheet: problem not published")

// Problem is one exercise a student can chat about. Prompt is the
// moderator-authored instruction steering the assistant; Question is the
// opening message shown to the student.
type Problem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Question  string    `json:"question"`
	Prompt    string    `json:"prompt"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
}

// Topic groups related problems inside a lesson.
type Topic struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Problems []Problem `json:"problems"`
}

// Lesson is the top of the authored content tree.
type Lesson struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Topics    []Topic   `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
}

// Storage persists the lesson tree. Implementations must be safe for
// concurrent use.
type Storage interface {
	// ListLessons returns the full tree, lessons ordered oldest first.
	ListLessons(ctx context.Context) ([]Lesson, error)

	// GetProblem retrieves a single problem by ID.
	GetProblem(ctx context.Context, problemID string) (*Problem, error)

	// ProblemContext resolves a published problem into the system prompt and
	// initial question a conversation starts from. Unpublished problems
	// return ErrNotPublished.
	ProblemContext(ctx context.Context, problemID string) (chatrelay.ProblemContext, error)

	CreateLesson(ctx context.Context, title string) (*Lesson, error)
	CreateTopic(ctx context.Context, lessonID string, title string) (*Topic, error)
	CreateProblem(ctx context.Context, topicID string, problem Problem) (*Problem, error)

	// UpdateProblem replaces the stored problem with the same ID.
	UpdateProblem(ctx context.Context, problem Problem) error

	DeleteLesson(ctx context.Context, lessonID string) error
	DeleteTopic(ctx context.Context, topicID string) error
	DeleteProblem(ctx context.Context, problemID string) error

	// Close releases any underlying resources.
	Close() error
}
