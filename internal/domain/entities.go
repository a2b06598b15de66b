package domain

import "time"

// PostStatus описывает этап жизненного цикла поста.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
	PostStatusCancelled PostStatus = "cancelled"
)

// PostOrigin указывает, как появился текст поста.
type PostOrigin string

const (
	// PostOriginManual — текст написан оператором вручную.
	PostOriginManual PostOrigin = "manual"
	// PostOriginGenerated — текст получен от генератора контента.
	PostOriginGenerated PostOrigin = "generated"
)

// Post — единица контента для публикации.
type Post struct {
	ID               int64
	Content          string
	Origin           PostOrigin
	GenerationPrompt string
	Status           PostStatus
	PlatformID       string
	ErrorMessage     string
	MediaKey         string
	CreatedAt        time.Time
	PublishedAt      *time.Time

	Segments []ThreadSegment
	Schedule *ScheduledPost
}

// IsThread сообщает, разбит ли пост на несколько сегментов.
func (p Post) IsThread() bool { return len(p.Segments) > 1 }

// SegmentTexts возвращает тексты сегментов в порядке индексов.
func (p Post) SegmentTexts() []string {
	texts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		texts = append(texts, s.Content)
	}
	return texts
}

// ThreadSegment — один фрагмент треда. Индексация с единицы.
type ThreadSegment struct {
	ID         int64
	PostID     int64
	Idx        int
	Content    string
	PlatformID string
}

// ScheduleStatus описывает состояние записи планирования.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

// ScheduledPost — долговременная запись «этот пост сработает в этот момент UTC».
// У поста может быть не больше одной такой записи.
type ScheduledPost struct {
	ID           int64
	PostID       int64
	ScheduledFor time.Time
	JobID        string
	Status       ScheduleStatus
	CreatedAt    time.Time
	ExecutedAt   *time.Time
}

// PendingPost — пара пост+расписание, источник регидрации таймеров.
type PendingPost struct {
	Post     Post
	Schedule ScheduledPost
}

// Topic — сохранённая тема для генерации контента.
type Topic struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
}

// PostStats — счётчики постов по статусам. Draft считается как остаток от
// Total, поэтому отменённые посты попадают в него.
type PostStats struct {
	Total     int
	Published int
	Scheduled int
	Failed    int
	Draft     int
}

// PublishResult фиксирует исход попытки публикации поста.
type PublishResult struct {
	Succeeded          bool
	PlatformID         string
	SegmentPlatformIDs []string
	ErrorMessage       string
	ExecutedAt         time.Time
}

// PublishOutcome — данные для уведомления оператора об итоге срабатывания.
type PublishOutcome struct {
	PostID     int64
	Published  bool
	PlatformID string
	Segments   int
	ErrText    string
}
