package topics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"postflow-bot/internal/domain"
)

// DefaultLimit — стандартный потолок количества тем у оператора.
const DefaultLimit = 10

var (
	ErrTopicLimit = errors.New("превышен лимит тем")
	ErrTopicName  = errors.New("имя темы должно быть от 3 до 30 символов")
)

// Service управляет темами для генерации. Тема — короткое имя, которое
// подставляется в промпт одним нажатием.
type Service struct {
	repo  domain.TopicRepo
	limit int
}

// NewService создаёт сервис тем. Нулевой и отрицательный limit отключает
// проверку лимита.
func NewService(repo domain.TopicRepo, limit int) *Service {
	return &Service{repo: repo, limit: limit}
}

// AddTopic добавляет тему оператору. Имя хранится как введено, уникальность
// без учёта регистра обеспечивает хранилище.
func (s *Service) AddTopic(ctx context.Context, userID int64, name string) (domain.Topic, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 30 {
		return domain.Topic{}, ErrTopicName
	}
	count, err := s.repo.CountTopics(ctx, userID)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("подсчёт тем: %w", err)
	}
	if s.limit > 0 && count >= s.limit {
		return domain.Topic{}, ErrTopicLimit
	}
	topic, err := s.repo.CreateTopic(ctx, userID, name)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("сохранение темы: %w", err)
	}
	return topic, nil
}

// ListTopics возвращает темы оператора.
func (s *Service) ListTopics(ctx context.Context, userID int64) ([]domain.Topic, error) {
	topics, err := s.repo.ListTopics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("список тем: %w", err)
	}
	return topics, nil
}

// GetTopic возвращает тему оператора по идентификатору.
func (s *Service) GetTopic(ctx context.Context, id, userID int64) (domain.Topic, error) {
	topic, err := s.repo.GetTopic(ctx, id, userID)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("получение темы: %w", err)
	}
	return topic, nil
}

// RemoveTopic удаляет тему оператора.
func (s *Service) RemoveTopic(ctx context.Context, id, userID int64) error {
	if err := s.repo.DeleteTopic(ctx, id, userID); err != nil {
		return fmt.Errorf("удаление темы: %w", err)
	}
	return nil
}

// RemoveAllTopics удаляет все темы оператора и возвращает их количество.
func (s *Service) RemoveAllTopics(ctx context.Context, userID int64) (int, error) {
	n, err := s.repo.DeleteAllTopics(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("очистка тем: %w", err)
	}
	return n, nil
}
