package topics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"postflow-bot/internal/domain"
)

type stubTopicRepo struct {
	topics  []domain.Topic
	nextID  int64
	deleted []int64
	cleared bool
}

func (r *stubTopicRepo) CreateTopic(_ context.Context, userID int64, name string) (domain.Topic, error) {
	for _, topic := range r.topics {
		if strings.EqualFold(topic.Name, name) {
			return domain.Topic{}, domain.NewValidationError("name", "такая тема уже есть")
		}
	}
	r.nextID++
	topic := domain.Topic{ID: r.nextID, UserID: userID, Name: name}
	r.topics = append(r.topics, topic)
	return topic, nil
}

func (r *stubTopicRepo) ListTopics(_ context.Context, _ int64) ([]domain.Topic, error) {
	return r.topics, nil
}

func (r *stubTopicRepo) GetTopic(_ context.Context, id, _ int64) (domain.Topic, error) {
	for _, topic := range r.topics {
		if topic.ID == id {
			return topic, nil
		}
	}
	return domain.Topic{}, domain.NewNotFound("тема", id)
}

func (r *stubTopicRepo) DeleteTopic(_ context.Context, id, _ int64) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *stubTopicRepo) DeleteAllTopics(_ context.Context, _ int64) (int, error) {
	r.cleared = true
	n := len(r.topics)
	r.topics = nil
	return n, nil
}

func (r *stubTopicRepo) CountTopics(_ context.Context, _ int64) (int, error) {
	return len(r.topics), nil
}

func TestAddTopicValidatesName(t *testing.T) {
	svc := NewService(&stubTopicRepo{}, DefaultLimit)

	for _, name := range []string{"", "ab", "  аб  ", strings.Repeat("ы", 31)} {
		if _, err := svc.AddTopic(context.Background(), 1, name); !errors.Is(err, ErrTopicName) {
			t.Fatalf("имя %q должно отклоняться, получили %v", name, err)
		}
	}

	topic, err := svc.AddTopic(context.Background(), 1, "  Go и облака  ")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if topic.Name != "Go и облака" {
		t.Fatalf("имя должно сохраняться без крайних пробелов: %q", topic.Name)
	}
}

func TestAddTopicEnforcesLimit(t *testing.T) {
	repo := &stubTopicRepo{}
	svc := NewService(repo, 2)

	for _, name := range []string{"Первая тема", "Вторая тема"} {
		if _, err := svc.AddTopic(context.Background(), 1, name); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if _, err := svc.AddTopic(context.Background(), 1, "Третья тема"); !errors.Is(err, ErrTopicLimit) {
		t.Fatalf("ожидали лимит тем, получили %v", err)
	}
}

func TestAddTopicRejectsDuplicateName(t *testing.T) {
	repo := &stubTopicRepo{}
	svc := NewService(repo, DefaultLimit)

	if _, err := svc.AddTopic(context.Background(), 1, "Релизы Go"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.AddTopic(context.Background(), 1, "релизы go"); !domain.IsValidation(err) {
		t.Fatalf("дубликат без учёта регистра должен отклоняться, получили %v", err)
	}
}

func TestRemoveAllTopicsReturnsCount(t *testing.T) {
	repo := &stubTopicRepo{}
	svc := NewService(repo, DefaultLimit)

	for _, name := range []string{"Первая тема", "Вторая тема", "Третья тема"} {
		if _, err := svc.AddTopic(context.Background(), 1, name); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	n, err := svc.RemoveAllTopics(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 3 || !repo.cleared {
		t.Fatalf("должны удалиться все 3 темы, получили %d", n)
	}
}
