package planner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"postflow-bot/internal/domain"
)

// StateKind — шаг мастера недельного плана.
type StateKind string

const (
	StateSelectingDays         StateKind = "selecting_days"
	StateSelectingPostsPerDay  StateKind = "selecting_posts_per_day"
	StateCollectingTimes       StateKind = "collecting_times"
	StateSelectingContentMode  StateKind = "selecting_content_mode"
	StateAwaitingManualContent StateKind = "awaiting_manual_content"
	StateAwaitingAIPrompt      StateKind = "awaiting_ai_prompt"
	StateReviewingPlan         StateKind = "reviewing_plan"
	StateConfirmed             StateKind = "confirmed"
	StateCancelled             StateKind = "cancelled"
)

// MaxPostsPerDay ограничивает ввод на шаге выбора количества постов.
const MaxPostsPerDay = 10

// ErrEmptyPlan возвращается, когда после отбрасывания прошедших слотов в
// очереди ничего не осталось. Черновики к этому моменту ещё не созданы,
// откатывать нечего, сессия закрывается целиком.
var ErrEmptyPlan = errors.New("в плане не осталось ни одного будущего слота")

// PlanDay — один выбранный день недели, привязанный к конкретной дате.
type PlanDay struct {
	Weekday int
	Date    time.Time
	Times   []string
}

// PlanSlot — один будущий пост плана.
type PlanSlot struct {
	Date   time.Time
	Clock  string
	At     time.Time
	PostID int64
	Failed bool
}

// Session — состояние мастера для одного оператора. Живёт только в
// памяти: до создания первого черновика обрыв сессии не оставляет следов.
// Доступ однописательный, одновременные события одной сессии не
// поддерживаются.
type Session struct {
	UserID       int64
	State        StateKind
	Days         map[int]struct{}
	PostsPerDay  int
	DayOrder     []PlanDay
	DayCursor    int
	Slots        []PlanSlot
	SlotCursor   int
	CreatedPosts []int64
	Succeeded    int
	Failed       int
	StartedAt    time.Time
}

// NewSession создаёт сессию на первом шаге мастера.
func NewSession(userID int64, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     StateSelectingDays,
		Days:      make(map[int]struct{}),
		StartedAt: now,
	}
}

// SelectedDays возвращает выбранные индексы дней по возрастанию.
func (s *Session) SelectedDays() []int {
	days := make([]int, 0, len(s.Days))
	for day := range s.Days {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

// CurrentDay возвращает день, для которого сейчас собираются времена.
func (s *Session) CurrentDay() (PlanDay, bool) {
	if s.State != StateCollectingTimes || s.DayCursor >= len(s.DayOrder) {
		return PlanDay{}, false
	}
	return s.DayOrder[s.DayCursor], true
}

// CurrentSlot возвращает слот, над которым идёт контент-цикл.
func (s *Session) CurrentSlot() (PlanSlot, bool) {
	if s.SlotCursor >= len(s.Slots) {
		return PlanSlot{}, false
	}
	return s.Slots[s.SlotCursor], true
}

// Terminal сообщает, завершена ли сессия.
func (s *Session) Terminal() bool {
	return s.State == StateConfirmed || s.State == StateCancelled
}

// Event — входное событие мастера.
type Event interface{ isEvent() }

// ToggleDay переключает день недели на шаге выбора дней. 0 — понедельник.
type ToggleDay struct{ Day int }

// DaysDone завершает выбор дней.
type DaysDone struct{}

// SetPostsPerDay задаёт количество постов на каждый выбранный день.
type SetPostsPerDay struct{ Raw string }

// TimesEntered — список «HH:MM» через запятую для текущего дня.
type TimesEntered struct{ Raw string }

// ChooseManual выбирает ручной ввод текста для текущего слота.
type ChooseManual struct{}

// ChooseGenerated выбирает генерацию текста для текущего слота.
type ChooseGenerated struct{}

// ContentProvided — свободный текст оператора: контент слота на шаге
// ручного ввода либо промпт на шаге генерации.
type ContentProvided struct{ Text string }

// GenerationSucceeded — генератор вернул текст для текущего слота.
type GenerationSucceeded struct {
	Content string
	Prompt  string
}

// GenerationFailed — генерация не удалась, слот переводится на ручной ввод.
type GenerationFailed struct{}

// DraftCreated — черновик слота записан в хранилище.
type DraftCreated struct{ PostID int64 }

// Confirm подтверждает план на шаге обзора.
type Confirm struct{}

// Cancel прерывает сессию из любого незавершённого шага.
type Cancel struct{}

func (ToggleDay) isEvent()           {}
func (DaysDone) isEvent()            {}
func (SetPostsPerDay) isEvent()      {}
func (TimesEntered) isEvent()        {}
func (ChooseManual) isEvent()        {}
func (ChooseGenerated) isEvent()     {}
func (ContentProvided) isEvent()     {}
func (GenerationSucceeded) isEvent() {}
func (GenerationFailed) isEvent()    {}
func (DraftCreated) isEvent()        {}
func (Confirm) isEvent()             {}
func (Cancel) isEvent()              {}

// ActionKind — побочное действие, которое должен выполнить вызывающий
// слой после перехода.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionCreateDraft
	ActionGenerate
	ActionDeleteDrafts
	ActionSchedulePlan
)

// Action описывает требуемое побочное действие. Сам переход действий не
// выполняет.
type Action struct {
	Kind    ActionKind
	Content string
	Prompt  string
	Origin  domain.PostOrigin
	PostIDs []int64
}

// Transition применяет событие к сессии. Функция чистая: вся работа с
// хранилищем и генератором описывается возвращаемым Action. Ошибка
// валидации оставляет сессию на том же шаге, состояние не меняется.
func Transition(sess *Session, ev Event, now time.Time) (Action, error) {
	if _, ok := ev.(Cancel); ok {
		if sess.Terminal() {
			return Action{}, unexpected(sess, ev)
		}
		sess.State = StateCancelled
		return Action{Kind: ActionDeleteDrafts, PostIDs: append([]int64(nil), sess.CreatedPosts...)}, nil
	}

	switch sess.State {
	case StateSelectingDays:
		return transitionSelectingDays(sess, ev)
	case StateSelectingPostsPerDay:
		return transitionPostsPerDay(sess, ev, now)
	case StateCollectingTimes:
		return transitionCollectingTimes(sess, ev, now)
	case StateSelectingContentMode:
		return transitionContentMode(sess, ev)
	case StateAwaitingManualContent:
		return transitionManualContent(sess, ev)
	case StateAwaitingAIPrompt:
		return transitionAIPrompt(sess, ev)
	case StateReviewingPlan:
		return transitionReviewing(sess, ev)
	default:
		return Action{}, unexpected(sess, ev)
	}
}

func transitionSelectingDays(sess *Session, ev Event) (Action, error) {
	switch e := ev.(type) {
	case ToggleDay:
		if e.Day < 0 || e.Day > 6 {
			return Action{}, domain.NewValidationError("day", fmt.Sprintf("индекс дня %d вне диапазона 0..6", e.Day))
		}
		if _, ok := sess.Days[e.Day]; ok {
			delete(sess.Days, e.Day)
		} else {
			sess.Days[e.Day] = struct{}{}
		}
		return Action{}, nil
	case DaysDone:
		if len(sess.Days) == 0 {
			return Action{}, domain.NewValidationError("days", "выберите хотя бы один день")
		}
		sess.State = StateSelectingPostsPerDay
		return Action{}, nil
	default:
		return Action{}, unexpected(sess, ev)
	}
}

func transitionPostsPerDay(sess *Session, ev Event, now time.Time) (Action, error) {
	e, ok := ev.(SetPostsPerDay)
	if !ok {
		return Action{}, unexpected(sess, ev)
	}
	n, err := strconv.Atoi(strings.TrimSpace(e.Raw))
	if err != nil {
		return Action{}, domain.NewValidationError("posts_per_day", fmt.Sprintf("%q не число", e.Raw))
	}
	if n < 1 || n > MaxPostsPerDay {
		return Action{}, domain.NewValidationError("posts_per_day", fmt.Sprintf("количество должно быть от 1 до %d", MaxPostsPerDay))
	}
	sess.PostsPerDay = n
	sess.DayOrder = MapDays(sess.Days, now)
	sess.DayCursor = 0
	sess.State = StateCollectingTimes
	return Action{}, nil
}

func transitionCollectingTimes(sess *Session, ev Event, now time.Time) (Action, error) {
	e, ok := ev.(TimesEntered)
	if !ok {
		return Action{}, unexpected(sess, ev)
	}
	day := &sess.DayOrder[sess.DayCursor]

	times, err := parseTimes(e.Raw, sess.PostsPerDay)
	if err != nil {
		return Action{}, err
	}
	// Для сегодняшней даты каждое время строго позже текущего момента,
	// иначе отклоняется весь ввод и день запрашивается заново.
	if sameDate(day.Date, now) {
		for _, clock := range times {
			if !clockInstant(day.Date, clock).After(now) {
				return Action{}, domain.NewValidationError("times", fmt.Sprintf("время %s сегодня уже прошло", clock))
			}
		}
	}

	day.Times = times
	sess.DayCursor++
	if sess.DayCursor < len(sess.DayOrder) {
		return Action{}, nil
	}
	return buildQueue(sess, now)
}

// buildQueue собирает плоскую очередь слотов. Слот, чей момент уже
// прошёл, молча отбрасывается. Пустая очередь закрывает сессию.
func buildQueue(sess *Session, now time.Time) (Action, error) {
	var slots []PlanSlot
	for _, day := range sess.DayOrder {
		for _, clock := range day.Times {
			at := clockInstant(day.Date, clock)
			if !at.After(now) {
				continue
			}
			slots = append(slots, PlanSlot{Date: day.Date, Clock: clock, At: at})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].At.Before(slots[j].At) })

	if len(slots) == 0 {
		sess.State = StateCancelled
		return Action{}, ErrEmptyPlan
	}
	sess.Slots = slots
	sess.SlotCursor = 0
	sess.State = StateSelectingContentMode
	return Action{}, nil
}

func transitionContentMode(sess *Session, ev Event) (Action, error) {
	switch ev.(type) {
	case ChooseManual:
		sess.State = StateAwaitingManualContent
		return Action{}, nil
	case ChooseGenerated:
		sess.State = StateAwaitingAIPrompt
		return Action{}, nil
	default:
		return Action{}, unexpected(sess, ev)
	}
}

func transitionManualContent(sess *Session, ev Event) (Action, error) {
	switch e := ev.(type) {
	case ContentProvided:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return Action{}, domain.NewValidationError("content", "текст поста пуст")
		}
		return Action{Kind: ActionCreateDraft, Content: text, Origin: domain.PostOriginManual}, nil
	case DraftCreated:
		return draftCreated(sess, e)
	default:
		return Action{}, unexpected(sess, ev)
	}
}

func transitionAIPrompt(sess *Session, ev Event) (Action, error) {
	switch e := ev.(type) {
	case ContentProvided:
		prompt := strings.TrimSpace(e.Text)
		if prompt == "" {
			return Action{}, domain.NewValidationError("prompt", "промпт пуст")
		}
		return Action{Kind: ActionGenerate, Prompt: prompt}, nil
	case GenerationSucceeded:
		return Action{Kind: ActionCreateDraft, Content: e.Content, Origin: domain.PostOriginGenerated, Prompt: e.Prompt}, nil
	case GenerationFailed:
		sess.State = StateAwaitingManualContent
		return Action{}, nil
	case DraftCreated:
		return draftCreated(sess, e)
	default:
		return Action{}, unexpected(sess, ev)
	}
}

// draftCreated записывает созданный черновик в слот и двигает курсор.
func draftCreated(sess *Session, e DraftCreated) (Action, error) {
	sess.Slots[sess.SlotCursor].PostID = e.PostID
	sess.CreatedPosts = append(sess.CreatedPosts, e.PostID)
	sess.SlotCursor++
	if sess.SlotCursor < len(sess.Slots) {
		sess.State = StateSelectingContentMode
	} else {
		sess.State = StateReviewingPlan
	}
	return Action{}, nil
}

func transitionReviewing(sess *Session, ev Event) (Action, error) {
	if _, ok := ev.(Confirm); !ok {
		return Action{}, unexpected(sess, ev)
	}
	sess.State = StateConfirmed
	return Action{Kind: ActionSchedulePlan}, nil
}

func unexpected(sess *Session, ev Event) error {
	return domain.NewValidationError("wizard", fmt.Sprintf("шаг %s не принимает событие %T", sess.State, ev))
}

// parseTimes разбирает «HH:MM, HH:MM». Любая некорректная запись,
// дубликат или неверное количество отклоняет ввод целиком.
func parseTimes(raw string, want int) ([]string, error) {
	parts := strings.Split(raw, ",")
	times := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clock, err := parseClock(part)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[clock]; dup {
			return nil, domain.NewValidationError("times", fmt.Sprintf("время %s повторяется", clock))
		}
		seen[clock] = struct{}{}
		times = append(times, clock)
	}
	if len(times) != want {
		return nil, domain.NewValidationError("times", fmt.Sprintf("нужно ровно %d времён, получено %d", want, len(times)))
	}
	return times, nil
}

// parseClock нормализует запись времени к виду «07:05».
func parseClock(s string) (string, error) {
	pieces := strings.Split(s, ":")
	if len(pieces) != 2 {
		return "", domain.NewValidationError("times", fmt.Sprintf("%q не похоже на HH:MM", s))
	}
	hour, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return "", domain.NewValidationError("times", fmt.Sprintf("%q не похоже на HH:MM", s))
	}
	minute, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
	if err != nil {
		return "", domain.NewValidationError("times", fmt.Sprintf("%q не похоже на HH:MM", s))
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", domain.NewValidationError("times", fmt.Sprintf("времени %q не существует", s))
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}
