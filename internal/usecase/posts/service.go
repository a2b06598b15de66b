package posts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postflow-bot/internal/domain"
)

// Service реализует жизненный цикл постов поверх хранилища. Операции,
// затрагивающие несколько строк, хранилище выполняет одной транзакцией,
// поэтому частичных состояний после сбоя не остаётся.
type Service struct {
	repo    domain.PostRepo
	metrics domain.BusinessMetricRepo
}

// NewService создаёт сервис постов. metrics может быть nil.
func NewService(repo domain.PostRepo, metrics domain.BusinessMetricRepo) *Service {
	return &Service{repo: repo, metrics: metrics}
}

// CreateDraft создаёт черновик и его сегменты треда.
func (s *Service) CreateDraft(ctx context.Context, content string, origin domain.PostOrigin, prompt, mediaKey string) (domain.Post, error) {
	content = strings.TrimSpace(content)
	segments, err := validateContent(content)
	if err != nil {
		return domain.Post{}, err
	}
	if origin == "" {
		origin = domain.PostOriginManual
	}

	post := domain.Post{
		Content:          content,
		Origin:           origin,
		GenerationPrompt: prompt,
		Status:           domain.PostStatusDraft,
		MediaKey:         mediaKey,
	}
	created, err := s.repo.CreatePost(ctx, post, segments)
	if err != nil {
		return domain.Post{}, fmt.Errorf("создание поста: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventPostCreated, created.ID)
	return created, nil
}

// Get возвращает пост вместе с сегментами и записью расписания.
func (s *Service) Get(ctx context.Context, id int64) (domain.Post, error) {
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("получение поста: %w", err)
	}
	return post, nil
}

// UpdateContent заменяет текст поста и пересоздаёт сегменты целиком.
func (s *Service) UpdateContent(ctx context.Context, id int64, content string) (domain.Post, error) {
	content = strings.TrimSpace(content)
	segments, err := validateContent(content)
	if err != nil {
		return domain.Post{}, err
	}
	if err := s.repo.UpdateContent(ctx, id, content, segments); err != nil {
		return domain.Post{}, fmt.Errorf("обновление поста: %w", err)
	}
	return s.Get(ctx, id)
}

// SetStatus переводит пост в новый статус.
func (s *Service) SetStatus(ctx context.Context, id int64, status domain.PostStatus, platformID, errorMessage string) error {
	if err := s.repo.SetStatus(ctx, id, status, platformID, errorMessage); err != nil {
		return fmt.Errorf("смена статуса: %w", err)
	}
	return nil
}

// MarkExecuted атомарно фиксирует исход публикации поста.
func (s *Service) MarkExecuted(ctx context.Context, postID int64, res domain.PublishResult) error {
	if err := s.repo.MarkExecuted(ctx, postID, res); err != nil {
		return fmt.Errorf("фиксация публикации: %w", err)
	}
	event := domain.BusinessMetricEventPostPublished
	if !res.Succeeded {
		event = domain.BusinessMetricEventPostFailed
	}
	s.record(ctx, event, postID)
	return nil
}

// Delete удаляет пост каскадно вместе с сегментами и расписанием.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeletePost(ctx, id); err != nil {
		return fmt.Errorf("удаление поста: %w", err)
	}
	return nil
}

// ListRecent возвращает последние посты.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]domain.Post, error) {
	list, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("список постов: %w", err)
	}
	return list, nil
}

// ListDrafts возвращает все черновики.
func (s *Service) ListDrafts(ctx context.Context) ([]domain.Post, error) {
	list, err := s.repo.ListDrafts(ctx)
	if err != nil {
		return nil, fmt.Errorf("список черновиков: %w", err)
	}
	return list, nil
}

// Schedule переводит пост в Scheduled и создаёт pending-запись расписания.
// У поста может быть только одна запись, повторная постановка отклоняется.
// Время хранится в UTC.
func (s *Service) Schedule(ctx context.Context, postID int64, at time.Time, jobID string) (domain.ScheduledPost, error) {
	sched, err := s.repo.Schedule(ctx, postID, at.UTC(), jobID)
	if err != nil {
		return domain.ScheduledPost{}, fmt.Errorf("постановка в расписание: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventPostScheduled, postID)
	return sched, nil
}

// Reschedule сдвигает время pending-записи, идентификатор задания не меняется.
func (s *Service) Reschedule(ctx context.Context, postID int64, at time.Time) error {
	if err := s.repo.Reschedule(ctx, postID, at.UTC()); err != nil {
		return fmt.Errorf("перенос расписания: %w", err)
	}
	return nil
}

// CancelSchedule помечает запись расписания cancelled, а пост — Cancelled.
func (s *Service) CancelSchedule(ctx context.Context, postID int64) error {
	if err := s.repo.CancelSchedule(ctx, postID); err != nil {
		return fmt.Errorf("отмена расписания: %w", err)
	}
	return nil
}

// ListPending возвращает pending-пары по возрастанию времени срабатывания.
func (s *Service) ListPending(ctx context.Context) ([]domain.PendingPost, error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("список ожидающих: %w", err)
	}
	return pending, nil
}

// UpdateJobID записывает новый идентификатор задания в запись расписания.
func (s *Service) UpdateJobID(ctx context.Context, postID int64, jobID string) error {
	if err := s.repo.UpdateJobID(ctx, postID, jobID); err != nil {
		return fmt.Errorf("обновление идентификатора задания: %w", err)
	}
	return nil
}

// Statistics возвращает счётчики постов по статусам.
func (s *Service) Statistics(ctx context.Context) (domain.PostStats, error) {
	stats, err := s.repo.Statistics(ctx)
	if err != nil {
		return domain.PostStats{}, fmt.Errorf("статистика: %w", err)
	}
	return stats, nil
}

// validateContent проверяет текст и возвращает его сегменты.
func validateContent(content string) ([]string, error) {
	if content == "" {
		return nil, domain.NewValidationError("content", "текст поста пуст")
	}
	segments := SplitContent(content, MaxSegmentLength)
	if len(segments) > MaxThreadSegments {
		return nil, domain.NewValidationError("content", fmt.Sprintf("текст требует %d сегментов при лимите %d", len(segments), MaxThreadSegments))
	}
	return segments, nil
}

// record пишет бизнес-событие. Сбой записи не влияет на операцию.
func (s *Service) record(ctx context.Context, event string, postID int64) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		PostID:     &postID,
		OccurredAt: time.Now().UTC(),
	})
}
