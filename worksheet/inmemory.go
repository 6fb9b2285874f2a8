package worksheet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/chatrelay"
)

// InMemoryStorage is an in-memory implementation of Storage, suitable for
// tests and single-process deployments.
type InMemoryStorage struct {
	mu      sync.RWMutex
	lessons []*Lesson
}

// NewInMemoryStorage creates a new empty InMemoryStorage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{}
}

// ListLessons returns a deep copy of the tree, lessons ordered oldest first.
func (s *InMemoryStorage) ListLessons(ctx context.Context) ([]Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lessons := make([]Lesson, 0, len(s.lessons))
	for _, lesson := range s.lessons {
		copied := *lesson
		copied.Topics = make([]Topic, len(lesson.Topics))
		for i, topic := range lesson.Topics {
			copied.Topics[i] = topic
			copied.Topics[i].Problems = append([]Problem(nil), topic.Problems...)
		}
		lessons = append(lessons, copied)
	}
	return lessons, nil
}

// GetProblem retrieves a single problem by ID.
func (s *InMemoryStorage) GetProblem(ctx context.Context, problemID string) (*Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	problem := s.findProblem(problemID)
	if problem == nil {
		return nil, ErrNotFound
	}
	copied := *problem
	return &copied, nil
}

// ProblemContext resolves a published problem into conversation context.
func (s *InMemoryStorage) ProblemContext(ctx context.Context, problemID string) (chatrelay.ProblemContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	problem := s.findProblem(problemID)
	if problem == nil {
		return chatrelay.ProblemContext{}, ErrNotFound
	}
	if !problem.Published {
		return chatrelay.ProblemContext{}, ErrNotPublished
	}
	return chatrelay.ProblemContext{
		SystemPrompt:    problem.Prompt,
		InitialQuestion: problem.Question,
	}, nil
}

// CreateLesson appends a new empty lesson.
func (s *InMemoryStorage) CreateLesson(ctx context.Context, title string) (*Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson := &Lesson{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	s.lessons = append(s.lessons, lesson)

	copied := *lesson
	return &copied, nil
}

// CreateTopic appends a new empty topic to an existing lesson.
func (s *InMemoryStorage) CreateTopic(ctx context.Context, lessonID string, title string) (*Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lesson := range s.lessons {
		if lesson.ID == lessonID {
			topic := Topic{
				ID:    uuid.NewString(),
				Title: title,
			}
			lesson.Topics = append(lesson.Topics, topic)
			return &topic, nil
		}
	}
	return nil, ErrNotFound
}

// CreateProblem appends a problem to an existing topic. The ID and creation
// time are assigned by the store.
func (s *InMemoryStorage) CreateProblem(ctx context.Context, topicID string, problem Problem) (*Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lesson := range s.lessons {
		for i := range lesson.Topics {
			if lesson.Topics[i].ID != topicID {
				continue
			}
			problem.ID = uuid.NewString()
			problem.CreatedAt = time.Now().UTC()
			lesson.Topics[i].Problems = append(lesson.Topics[i].Problems, problem)
			copied := problem
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateProblem replaces the stored problem with the same ID.
func (s *InMemoryStorage) UpdateProblem(ctx context.Context, problem Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lesson := range s.lessons {
		for i := range lesson.Topics {
			for j := range lesson.Topics[i].Problems {
				if lesson.Topics[i].Problems[j].ID == problem.ID {
					created := lesson.Topics[i].Problems[j].CreatedAt
					lesson.Topics[i].Problems[j] = problem
					lesson.Topics[i].Problems[j].CreatedAt = created
					return nil
				}
			}
		}
	}
	return ErrNotFound
}

// DeleteLesson removes a lesson and everything under it.
func (s *InMemoryStorage) DeleteLesson(ctx context.Context, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, lesson := range s.lessons {
		if lesson.ID == lessonID {
			s.lessons = append(s.lessons[:i], s.lessons[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// DeleteTopic removes a topic and its problems.
func (s *InMemoryStorage) DeleteTopic(ctx context.Context, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lesson := range s.lessons {
		for i := range lesson.Topics {
			if lesson.Topics[i].ID == topicID {
				lesson.Topics = append(lesson.Topics[:i], lesson.Topics[i+1:]...)
				return nil
			}
		}
	}
	return ErrNotFound
}

// DeleteProblem removes a single problem.
func (s *InMemoryStorage) DeleteProblem(ctx context.Context, problemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lesson := range s.lessons {
		for i := range lesson.Topics {
			problems := lesson.Topics[i].Problems
			for j := range problems {
				if problems[j].ID == problemID {
					lesson.Topics[i].Problems = append(problems[:j], problems[j+1:]...)
					return nil
				}
			}
		}
	}
	return ErrNotFound
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStorage) Close() error {
	return nil
}

func (s *InMemoryStorage) findProblem(problemID string) *Problem {
	for _, lesson := range s.lessons {
		for i := range lesson.Topics {
			for j := range lesson.Topics[i].Problems {
				if lesson.Topics[i].Problems[j].ID == problemID {
					return &lesson.Topics[i].Problems[j]
				}
			}
		}
	}
	return nil
}
