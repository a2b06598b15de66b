package domain

import (
	"context"
	"time"
)

// PostRepo управляет постами, сегментами тредов и записями расписания.
// Операции, затрагивающие несколько строк, выполняются одной транзакцией.
type PostRepo interface {
	// CreatePost сохраняет пост и его сегменты. Сегменты передаются уже
	// нарезанными; при одном фрагменте строки сегментов не создаются.
	CreatePost(ctx context.Context, post Post, segments []string) (Post, error)
	// GetPost возвращает пост вместе с сегментами и записью расписания.
	GetPost(ctx context.Context, id int64) (Post, error)
	// UpdateContent заменяет текст и пересоздаёт сегменты целиком.
	UpdateContent(ctx context.Context, id int64, content string, segments []string) error
	// SetStatus меняет статус поста. published_at выставляется автоматически
	// при переходе в Published; platformID и errorMessage пишутся, если непустые.
	SetStatus(ctx context.Context, id int64, status PostStatus, platformID, errorMessage string) error
	// MarkExecuted атомарно фиксирует исход публикации: статус поста,
	// идентификаторы платформы на сегментах и терминальный статус
	// pending-записи расписания, если она есть.
	MarkExecuted(ctx context.Context, postID int64, res PublishResult) error
	// DeletePost удаляет пост каскадно вместе с сегментами и расписанием.
	DeletePost(ctx context.Context, id int64) error
	ListRecent(ctx context.Context, limit int) ([]Post, error)
	ListDrafts(ctx context.Context) ([]Post, error)
	// Schedule переводит пост в Scheduled и создаёт pending-запись.
	// Возвращает ошибку, если запись расписания у поста уже есть.
	Schedule(ctx context.Context, postID int64, at time.Time, jobID string) (ScheduledPost, error)
	// Reschedule сдвигает время pending-записи. Идентификатор задания не меняется.
	Reschedule(ctx context.Context, postID int64, at time.Time) error
	// CancelSchedule помечает запись cancelled, а пост — Cancelled.
	CancelSchedule(ctx context.Context, postID int64) error
	// ListPending возвращает пары со статусами pending+Scheduled по
	// возрастанию scheduled_for. Это источник истины для регидрации.
	ListPending(ctx context.Context) ([]PendingPost, error)
	// UpdateJobID записывает новый идентификатор задания в запись расписания.
	UpdateJobID(ctx context.Context, postID int64, jobID string) error
	Statistics(ctx context.Context) (PostStats, error)
}

// TopicRepo хранит темы для генерации.
type TopicRepo interface {
	// CreateTopic добавляет тему. Имя уникально без учёта регистра;
	// при дубликате возвращается ошибка валидации.
	CreateTopic(ctx context.Context, userID int64, name string) (Topic, error)
	ListTopics(ctx context.Context, userID int64) ([]Topic, error)
	GetTopic(ctx context.Context, id, userID int64) (Topic, error)
	DeleteTopic(ctx context.Context, id, userID int64) error
	DeleteAllTopics(ctx context.Context, userID int64) (int, error)
	CountTopics(ctx context.Context, userID int64) (int, error)
}

// BusinessMetric описывает бизнесовое событие для последующего анализа.
type BusinessMetric struct {
	Event      string
	PostID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventPostCreated фиксирует создание черновика.
	BusinessMetricEventPostCreated = "post_created"
	// BusinessMetricEventPostScheduled фиксирует постановку поста в расписание.
	BusinessMetricEventPostScheduled = "post_scheduled"
	// BusinessMetricEventPostPublished фиксирует успешную публикацию.
	BusinessMetricEventPostPublished = "post_published"
	// BusinessMetricEventPostFailed фиксирует неудачную попытку публикации.
	BusinessMetricEventPostFailed = "post_publish_failed"
	// BusinessMetricEventPlanConfirmed фиксирует подтверждение недельного плана.
	BusinessMetricEventPlanConfirmed = "plan_confirmed"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}

// TimerInfo описывает один зарегистрированный таймер.
type TimerInfo struct {
	JobID  string
	FireAt time.Time
}

// TimerRegistry — реестр таймеров процесса. Срабатывание не раньше
// назначенного момента и не больше одного раза на задание.
type TimerRegistry interface {
	// ScheduleOnce регистрирует таймер либо молча заменяет существующий
	// с тем же идентификатором.
	ScheduleOnce(jobID string, at time.Time, fire func())
	// Cancel снимает таймер. Для неизвестного идентификатора возвращает
	// SchedulerLookupError.
	Cancel(jobID string) error
	// Reschedule переносит время существующего таймера. Для неизвестного
	// идентификатора возвращает SchedulerLookupError.
	Reschedule(jobID string, at time.Time) error
	// List возвращает активные таймеры.
	List() []TimerInfo
	// Stop снимает все таймеры. Уже запущенные колбэки дорабатывают.
	Stop()
}

// TimerHandle управляет одним запущенным таймером. Stop сообщает, успел
// ли таймер сработать.
type TimerHandle interface {
	Stop() bool
}

// Clock абстрагирует время, чтобы регидрацию и мастер планирования можно
// было тестировать без ожиданий настенных часов.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) TimerHandle
}

// Publisher публикует контент на внешней платформе.
type Publisher interface {
	// PublishSingle публикует один пост, возвращает идентификатор платформы.
	PublishSingle(ctx context.Context, text, mediaKey string) (string, error)
	// PublishThread публикует цепочку ответов. При частичном успехе
	// возвращает уже полученные идентификаторы вместе с ошибкой.
	PublishThread(ctx context.Context, texts []string, mediaKey string) ([]string, error)
	TestConnection(ctx context.Context) (string, error)
}

// Generator создаёт и дорабатывает текст поста.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateForTopic(ctx context.Context, topic string, targetLen int) (string, error)
	Improve(ctx context.Context, content, instructions string) (string, error)
	TestConnection(ctx context.Context) error
}

// Notifier доставляет оператору итог срабатывания. Сбои доставки только
// логируются и не влияют на результат планирования.
type Notifier interface {
	Notify(ctx context.Context, userID int64, outcome PublishOutcome)
}

// MediaStore хранит приложенные к постам файлы.
type MediaStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// FireLatch не даёт одному заданию сработать дважды.
type FireLatch interface {
	// Once выполняет fn, если ключ удалось захватить первым. При ошибке fn
	// захват снимается.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
