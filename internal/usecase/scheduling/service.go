package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/usecase/posts"
)

const (
	// fireTimeout ограничивает длительность одного срабатывания целиком:
	// публикация, запись исхода, уведомление.
	fireTimeout = 2 * time.Minute
	// latchTTL держит ключ защёлки дольше любого разумного интервала между
	// рестартом и повторной регистрацией того же задания.
	latchTTL = 10 * time.Minute
)

// Service связывает хранилище постов, реестр таймеров и публикацию.
// Хранилище всегда мутируется раньше реестра: после сбоя процесса реестр
// восстанавливается из pending-записей, обратное неверно.
type Service struct {
	store     *posts.Service
	registry  domain.TimerRegistry
	publisher domain.Publisher
	notifier  domain.Notifier
	latch     domain.FireLatch
	clock     domain.Clock
	ownerID   int64
	grace     time.Duration
	log       zerolog.Logger
}

// NewService создаёт слой планирования. ownerID — телеграм оператора для
// уведомлений об исходе, grace — задержка просроченных заданий при
// регидрации.
func NewService(store *posts.Service, registry domain.TimerRegistry, publisher domain.Publisher, notifier domain.Notifier, latch domain.FireLatch, clock domain.Clock, ownerID int64, grace time.Duration, log zerolog.Logger) *Service {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Service{
		store:     store,
		registry:  registry,
		publisher: publisher,
		notifier:  notifier,
		latch:     latch,
		clock:     clock,
		ownerID:   ownerID,
		grace:     grace,
		log:       log,
	}
}

// SchedulePost назначает публикацию поста на момент at. Сначала создаётся
// pending-запись, затем регистрируется таймер с тем же идентификатором.
func (s *Service) SchedulePost(ctx context.Context, postID int64, at time.Time) (domain.ScheduledPost, error) {
	at = at.UTC()
	jobID := fmt.Sprintf("post_%d_%d", postID, at.Unix())

	sched, err := s.store.Schedule(ctx, postID, at, jobID)
	if err != nil {
		return domain.ScheduledPost{}, err
	}

	s.registry.ScheduleOnce(jobID, sched.ScheduledFor, s.fireFunc(postID, jobID))
	s.log.Info().Int64("post_id", postID).Str("job_id", jobID).Time("fire_at", sched.ScheduledFor).Msg("публикация назначена")
	return sched, nil
}

// Reschedule переносит время назначенной публикации. Идентификатор
// задания сохраняется, внешние ссылки на него остаются действительными.
func (s *Service) Reschedule(ctx context.Context, postID int64, at time.Time) (domain.ScheduledPost, error) {
	at = at.UTC()

	post, err := s.store.Get(ctx, postID)
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	sched := post.Schedule
	if sched == nil {
		return domain.ScheduledPost{}, domain.NewNotFound("расписание поста", postID)
	}
	if sched.Status != domain.ScheduleStatusPending {
		return domain.ScheduledPost{}, &domain.SchedulerLookupError{JobID: sched.JobID}
	}

	if err := s.store.Reschedule(ctx, postID, at); err != nil {
		return domain.ScheduledPost{}, err
	}
	if err := s.registry.Reschedule(sched.JobID, at); err != nil {
		// Строка pending есть, а таймера нет. Повторная регистрация
		// восстанавливает его, терять задание нельзя.
		s.log.Warn().Int64("post_id", postID).Str("job_id", sched.JobID).Msg("таймер отсутствовал при переносе, зарегистрирован заново")
		s.registry.ScheduleOnce(sched.JobID, at, s.fireFunc(postID, sched.JobID))
	}

	updated := *sched
	updated.ScheduledFor = at
	s.log.Info().Int64("post_id", postID).Str("job_id", sched.JobID).Time("fire_at", at).Msg("публикация перенесена")
	return updated, nil
}

// CancelSchedule снимает назначенную публикацию: запись помечается
// cancelled, пост переходит в Cancelled, таймер снимается.
func (s *Service) CancelSchedule(ctx context.Context, postID int64) error {
	post, err := s.store.Get(ctx, postID)
	if err != nil {
		return err
	}
	sched := post.Schedule
	if sched == nil {
		return domain.NewNotFound("расписание поста", postID)
	}
	if sched.Status != domain.ScheduleStatusPending {
		return &domain.SchedulerLookupError{JobID: sched.JobID}
	}

	if err := s.store.CancelSchedule(ctx, postID); err != nil {
		return err
	}
	if err := s.registry.Cancel(sched.JobID); err != nil {
		s.log.Warn().Int64("post_id", postID).Str("job_id", sched.JobID).Msg("таймер отсутствовал при отмене")
	}
	s.log.Info().Int64("post_id", postID).Str("job_id", sched.JobID).Msg("публикация отменена")
	return nil
}

// PublishNow публикует пост немедленно, минуя расписание. Назначенный
// таймер, если он был, снимается, а его pending-запись закрывается вместе
// с исходом публикации.
func (s *Service) PublishNow(ctx context.Context, postID int64) (domain.PublishOutcome, error) {
	post, err := s.store.Get(ctx, postID)
	if err != nil {
		return domain.PublishOutcome{}, err
	}
	if post.Status == domain.PostStatusPublished {
		return domain.PublishOutcome{}, domain.NewValidationError("status", "пост уже опубликован")
	}

	if sched := post.Schedule; sched != nil && sched.Status == domain.ScheduleStatusPending {
		if err := s.registry.Cancel(sched.JobID); err != nil {
			s.log.Warn().Int64("post_id", postID).Str("job_id", sched.JobID).Msg("таймер отсутствовал при немедленной публикации")
		}
	}

	return s.publish(ctx, post), nil
}

// DeletePost удаляет пост и снимает его таймер, если тот был назначен.
// Возвращает удалённый пост, чтобы вызывающая сторона убрала вложения.
func (s *Service) DeletePost(ctx context.Context, postID int64) (domain.Post, error) {
	post, err := s.store.Get(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if sched := post.Schedule; sched != nil && sched.Status == domain.ScheduleStatusPending {
		if err := s.registry.Cancel(sched.JobID); err != nil {
			s.log.Warn().Int64("post_id", postID).Str("job_id", sched.JobID).Msg("таймер отсутствовал при удалении")
		}
	}
	if err := s.store.Delete(ctx, postID); err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

// Rehydrate восстанавливает таймеры из pending-записей хранилища.
// Вызывается один раз при старте, до приёма новых запросов планирования.
// Просроченные задания получают время now+grace, чтобы сработать ровно
// один раз, а не потеряться и не зациклить рестарт.
func (s *Service) Rehydrate(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	restored := 0
	for _, p := range pending {
		jobID := p.Schedule.JobID
		if jobID == "" {
			// Запись без идентификатора: новый пишется в строку сразу,
			// чтобы внешние ссылки совпадали с реестром.
			jobID = fmt.Sprintf("post_%d_%s", p.Post.ID, uuid.NewString()[:8])
			if err := s.store.UpdateJobID(ctx, p.Post.ID, jobID); err != nil {
				s.log.Error().Err(err).Int64("post_id", p.Post.ID).Msg("идентификатор задания не записан, таймер не восстановлен")
				continue
			}
		}

		at := p.Schedule.ScheduledFor
		if !at.After(now) {
			at = now.Add(s.grace)
		}
		s.registry.ScheduleOnce(jobID, at, s.fireFunc(p.Post.ID, jobID))
		restored++
		s.log.Debug().Int64("post_id", p.Post.ID).Str("job_id", jobID).Time("fire_at", at).Msg("таймер восстановлен")
	}

	if restored > 0 {
		metrics.RehydratedJobs.Add(float64(restored))
		s.log.Info().Int("count", restored).Msg("восстановлены отложенные публикации")
	}
	return restored, nil
}

func (s *Service) fireFunc(postID int64, jobID string) func() {
	return func() { s.fire(postID, jobID) }
}

// fire выполняется в горутине таймера и не блокирует интерактивную
// обработку. Защёлка не даёт заданию выполниться дважды, если таймер
// успели зарегистрировать повторно.
func (s *Service) fire(postID int64, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	err := s.latch.Once(ctx, "fire:"+jobID, latchTTL, func() error {
		return s.executeDue(ctx, postID, jobID)
	})
	if err != nil {
		s.log.Error().Err(err).Int64("post_id", postID).Str("job_id", jobID).Msg("срабатывание не выполнено")
	}
}

// executeDue публикует назначенный пост. Расхождение с хранилищем
// трактуется в пользу строки: не pending — задание уже сработало либо
// было отменено, публиковать нельзя.
func (s *Service) executeDue(ctx context.Context, postID int64, jobID string) error {
	post, err := s.store.Get(ctx, postID)
	if err != nil {
		if domain.IsNotFound(err) {
			s.log.Warn().Int64("post_id", postID).Str("job_id", jobID).Msg("пост удалён до срабатывания, задание пропущено")
			return nil
		}
		return fmt.Errorf("загрузка поста перед публикацией: %w", err)
	}

	sched := post.Schedule
	if post.Status != domain.PostStatusScheduled || sched == nil || sched.Status != domain.ScheduleStatusPending || sched.JobID != jobID {
		s.log.Warn().Int64("post_id", postID).Str("job_id", jobID).Msg("запись расписания изменилась, срабатывание пропущено")
		return nil
	}

	outcome := s.publish(ctx, post)
	s.notifier.Notify(ctx, s.ownerID, outcome)
	return nil
}

// publish выполняет ровно одну попытку публикации и фиксирует исход.
// Повторов нет: неудача оставляет пост в Failed с текстом ошибки.
func (s *Service) publish(ctx context.Context, post domain.Post) domain.PublishOutcome {
	var (
		platformID string
		segmentIDs []string
		err        error
	)
	kind := "single"
	start := time.Now()
	if post.IsThread() {
		kind = "thread"
		segmentIDs, err = s.publisher.PublishThread(ctx, post.SegmentTexts(), post.MediaKey)
		if len(segmentIDs) > 0 {
			platformID = segmentIDs[0]
		}
	} else {
		platformID, err = s.publisher.PublishSingle(ctx, post.Content, post.MediaKey)
	}
	metrics.ObservePublish(kind, start, err)

	res := domain.PublishResult{
		Succeeded:          err == nil,
		PlatformID:         platformID,
		SegmentPlatformIDs: segmentIDs,
		ExecutedAt:         s.clock.Now(),
	}
	if err != nil {
		res.ErrorMessage = err.Error()
		s.log.Error().Err(err).Int64("post_id", post.ID).Msg("публикация не удалась")
	}

	if markErr := s.store.MarkExecuted(ctx, post.ID, res); markErr != nil {
		s.log.Error().Err(markErr).Int64("post_id", post.ID).Msg("исход публикации не записан")
	}

	return domain.PublishOutcome{
		PostID:     post.ID,
		Published:  err == nil,
		PlatformID: platformID,
		Segments:   len(post.Segments),
		ErrText:    res.ErrorMessage,
	}
}
