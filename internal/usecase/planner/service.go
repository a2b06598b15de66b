package planner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
	"postflow-bot/internal/usecase/posts"
	"postflow-bot/internal/usecase/scheduling"
)

// Service ведёт сессии мастера недельного плана и выполняет действия
// переходов: создание черновиков, генерацию, откат, подтверждение.
// На каждого оператора — своя независимая сессия.
type Service struct {
	store   *posts.Service
	sched   *scheduling.Service
	gen     domain.Generator
	metrics domain.BusinessMetricRepo
	clock   domain.Clock
	loc     *time.Location
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewService создаёт сервис мастера. gen и metrics могут быть nil: без
// генератора слот сразу переводится на ручной ввод.
func NewService(store *posts.Service, sched *scheduling.Service, gen domain.Generator, metrics domain.BusinessMetricRepo, clock domain.Clock, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		sched:    sched,
		gen:      gen,
		metrics:  metrics,
		clock:    clock,
		loc:      loc,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// Start открывает новую сессию. Незавершённая прежняя сессия того же
// оператора откатывается: её черновики удаляются, осиротевших постов не
// остаётся.
func (s *Service) Start(ctx context.Context, userID int64) *Session {
	s.mu.Lock()
	old := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()

	if old != nil && !old.Terminal() && len(old.CreatedPosts) > 0 {
		s.log.Info().Int64("user_id", userID).Int("drafts", len(old.CreatedPosts)).Msg("прежняя сессия плана прервана, черновики удаляются")
		s.deleteDrafts(ctx, old.CreatedPosts)
	}

	sess := NewSession(userID, s.clock.Now().In(s.loc))
	s.mu.Lock()
	s.sessions[userID] = sess
	s.mu.Unlock()
	return sess
}

// Session возвращает активную сессию оператора.
func (s *Service) Session(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Apply применяет событие к сессии оператора и выполняет действие
// перехода. Ошибка валидации оставляет шаг на месте, вызывающая сторона
// повторяет запрос ввода по возвращённой сессии.
func (s *Service) Apply(ctx context.Context, userID int64, ev Event) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.NewNotFound("сессия планирования", userID)
	}

	action, err := Transition(sess, ev, s.clock.Now().In(s.loc))
	if err != nil {
		if errors.Is(err, ErrEmptyPlan) {
			s.drop(userID)
		}
		return sess, err
	}
	return s.execute(ctx, sess, action)
}

func (s *Service) execute(ctx context.Context, sess *Session, action Action) (*Session, error) {
	now := s.clock.Now().In(s.loc)

	switch action.Kind {
	case ActionGenerate:
		content, err := s.generate(ctx, action.Prompt)
		if err != nil {
			// Слот переводится на ручной ввод, ошибка уходит оператору.
			if _, terr := Transition(sess, GenerationFailed{}, now); terr != nil {
				s.log.Error().Err(terr).Int64("user_id", sess.UserID).Msg("переход после сбоя генерации не применился")
			}
			return sess, err
		}
		next, terr := Transition(sess, GenerationSucceeded{Content: content, Prompt: action.Prompt}, now)
		if terr != nil {
			return sess, terr
		}
		return s.execute(ctx, sess, next)

	case ActionCreateDraft:
		post, err := s.store.CreateDraft(ctx, action.Content, action.Origin, action.Prompt, "")
		if err != nil {
			return sess, err
		}
		next, terr := Transition(sess, DraftCreated{PostID: post.ID}, now)
		if terr != nil {
			return sess, terr
		}
		return s.execute(ctx, sess, next)

	case ActionDeleteDrafts:
		s.drop(sess.UserID)
		s.deleteDrafts(ctx, action.PostIDs)
		return sess, nil

	case ActionSchedulePlan:
		s.confirm(ctx, sess)
		return sess, nil

	default:
		return sess, nil
	}
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", &domain.ExternalServiceError{Service: "generator", Category: domain.ServiceErrorConnection, Message: "генерация отключена"}
	}
	return s.gen.Generate(ctx, prompt)
}

// confirm назначает публикацию каждому черновику плана. Неудачный слот
// остаётся черновиком, успехи не откатываются, счётчики ведутся раздельно.
func (s *Service) confirm(ctx context.Context, sess *Session) {
	for i := range sess.Slots {
		slot := &sess.Slots[i]
		if _, err := s.sched.SchedulePost(ctx, slot.PostID, slot.At); err != nil {
			slot.Failed = true
			sess.Failed++
			s.log.Warn().Err(err).Int64("post_id", slot.PostID).Msg("слот плана не назначен, пост остался черновиком")
			continue
		}
		sess.Succeeded++
	}
	s.drop(sess.UserID)
	metrics.PlansConfirmed.Inc()

	// Сбой записи метрики не влияет на подтверждение.
	if s.metrics != nil {
		_ = s.metrics.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventPlanConfirmed,
			Metadata:   map[string]any{"slots": len(sess.Slots), "succeeded": sess.Succeeded, "failed": sess.Failed},
			OccurredAt: s.clock.Now().UTC(),
		})
	}
}

func (s *Service) deleteDrafts(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.log.Warn().Err(err).Int64("post_id", id).Msg("черновик отменённого плана не удалён")
		}
	}
}

func (s *Service) drop(userID int64) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}
