package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
)

// Postgres реализует репозитории постов, тем и бизнес-метрик на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.PostRepo = (*Postgres)(nil)
var _ domain.TopicRepo = (*Postgres)(nil)
var _ domain.BusinessMetricRepo = (*Postgres)(nil)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// storageErr оборачивает неожиданный сбой хранилища в PersistenceError.
// Отсутствие строки и нарушение уникальности вызывающие методы
// обрабатывают до обёртки.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

// CreatePost сохраняет пост и его сегменты одной транзакцией.
func (p *Postgres) CreatePost(ctx context.Context, post domain.Post, segments []string) (domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if post.Status == "" {
		post.Status = domain.PostStatusDraft
	}
	if post.Origin == "" {
		post.Origin = domain.PostOriginManual
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return domain.Post{}, storageErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO posts (content, origin, generation_prompt, status, media_key)
VALUES ($1, $2, NULLIF($3,''), $4, NULLIF($5,''))
RETURNING id, created_at
`, post.Content, post.Origin, post.GenerationPrompt, post.Status, post.MediaKey).Scan(&post.ID, &post.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	if err != nil {
		return domain.Post{}, storageErr("posts_insert", err)
	}

	post.Segments = nil
	if len(segments) > 1 {
		for i, text := range segments {
			seg := domain.ThreadSegment{PostID: post.ID, Idx: i + 1, Content: text}
			start = time.Now()
			err = tx.QueryRow(ctx, `
INSERT INTO thread_segments (post_id, seg_index, content)
VALUES ($1, $2, $3)
RETURNING id
`, seg.PostID, seg.Idx, seg.Content).Scan(&seg.ID)
			metrics.ObserveNetworkRequest("postgres", "thread_segments_insert", "thread_segments", start, err)
			if err != nil {
				return domain.Post{}, storageErr("thread_segments_insert", err)
			}
			post.Segments = append(post.Segments, seg)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "posts", start, err)
	if err != nil {
		return domain.Post{}, storageErr("commit", err)
	}
	return post, nil
}

// GetPost возвращает пост вместе с сегментами и записью расписания.
func (p *Postgres) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		post      domain.Post
		prompt    sql.NullString
		platform  sql.NullString
		errMsg    sql.NullString
		mediaKey  sql.NullString
		published sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, content, origin, generation_prompt, status, platform_id, error_message, media_key, created_at, published_at
FROM posts WHERE id=$1
`, id).Scan(&post.ID, &post.Content, &post.Origin, &prompt, &post.Status, &platform, &errMsg, &mediaKey, &post.CreatedAt, &published)
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.NewNotFound("пост", id)
	}
	if err != nil {
		return domain.Post{}, storageErr("posts_get", err)
	}
	if prompt.Valid {
		post.GenerationPrompt = prompt.String
	}
	if platform.Valid {
		post.PlatformID = platform.String
	}
	if errMsg.Valid {
		post.ErrorMessage = errMsg.String
	}
	if mediaKey.Valid {
		post.MediaKey = mediaKey.String
	}
	if published.Valid {
		ts := published.Time
		post.PublishedAt = &ts
	}

	post.Segments, err = p.loadSegments(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	post.Schedule, err = p.loadSchedule(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	return post, nil
}

func (p *Postgres) loadSegments(ctx context.Context, postID int64) ([]domain.ThreadSegment, error) {
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, post_id, seg_index, content, platform_id
FROM thread_segments WHERE post_id=$1 ORDER BY seg_index
`, postID)
	metrics.ObserveNetworkRequest("postgres", "thread_segments_list", "thread_segments", start, err)
	if err != nil {
		return nil, storageErr("thread_segments_list", err)
	}
	defer rows.Close()

	var segments []domain.ThreadSegment
	for rows.Next() {
		var (
			seg      domain.ThreadSegment
			platform sql.NullString
		)
		if err := rows.Scan(&seg.ID, &seg.PostID, &seg.Idx, &seg.Content, &platform); err != nil {
			return nil, storageErr("thread_segments_list", err)
		}
		if platform.Valid {
			seg.PlatformID = platform.String
		}
		segments = append(segments, seg)
	}
	return segments, storageErr("thread_segments_list", rows.Err())
}

func (p *Postgres) loadSchedule(ctx context.Context, postID int64) (*domain.ScheduledPost, error) {
	var (
		sched    domain.ScheduledPost
		jobID    sql.NullString
		executed sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, post_id, scheduled_for, job_id, status, created_at, executed_at
FROM scheduled_posts WHERE post_id=$1
`, postID).Scan(&sched.ID, &sched.PostID, &sched.ScheduledFor, &jobID, &sched.Status, &sched.CreatedAt, &executed)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_get", "scheduled_posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scheduled_posts_get", err)
	}
	if jobID.Valid {
		sched.JobID = jobID.String
	}
	if executed.Valid {
		ts := executed.Time
		sched.ExecutedAt = &ts
	}
	return &sched, nil
}

// UpdateContent заменяет текст поста и пересоздаёт сегменты.
func (p *Postgres) UpdateContent(ctx context.Context, id int64, content string, segments []string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return storageErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `UPDATE posts SET content=$2 WHERE id=$1`, id, content)
	metrics.ObserveNetworkRequest("postgres", "posts_update_content", "posts", start, err)
	if err != nil {
		return storageErr("posts_update_content", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("пост", id)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM thread_segments WHERE post_id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "thread_segments_delete", "thread_segments", start, err)
	if err != nil {
		return storageErr("thread_segments_delete", err)
	}

	if len(segments) > 1 {
		for i, text := range segments {
			start = time.Now()
			_, err = tx.Exec(ctx, `
INSERT INTO thread_segments (post_id, seg_index, content)
VALUES ($1, $2, $3)
`, id, i+1, text)
			metrics.ObserveNetworkRequest("postgres", "thread_segments_insert", "thread_segments", start, err)
			if err != nil {
				return storageErr("thread_segments_insert", err)
			}
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "posts", start, err)
	return storageErr("commit", err)
}

// SetStatus меняет статус поста. При переходе в published проставляется
// published_at; platform_id и error_message затираются только непустыми значениями.
func (p *Postgres) SetStatus(ctx context.Context, id int64, status domain.PostStatus, platformID, errorMessage string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE posts SET
  status=$2,
  platform_id=COALESCE(NULLIF($3,''), platform_id),
  error_message=COALESCE(NULLIF($4,''), error_message),
  published_at=CASE WHEN $2='published' THEN now() ELSE published_at END
WHERE id=$1
`, id, status, platformID, errorMessage)
	metrics.ObserveNetworkRequest("postgres", "posts_set_status", "posts", start, err)
	if err != nil {
		return storageErr("posts_set_status", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("пост", id)
	}
	return nil
}

// MarkExecuted атомарно фиксирует исход публикации: статус поста,
// идентификаторы платформы на сегментах и терминальный статус pending-записи.
func (p *Postgres) MarkExecuted(ctx context.Context, postID int64, res domain.PublishResult) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	executedAt := res.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	postStatus := domain.PostStatusFailed
	schedStatus := domain.ScheduleStatusFailed
	if res.Succeeded {
		postStatus = domain.PostStatusPublished
		schedStatus = domain.ScheduleStatusCompleted
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return storageErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	out, err := tx.Exec(ctx, `
UPDATE posts SET
  status=$2,
  platform_id=COALESCE(NULLIF($3,''), platform_id),
  error_message=NULLIF($4,''),
  published_at=CASE WHEN $5 THEN $6::timestamptz ELSE published_at END
WHERE id=$1
`, postID, postStatus, res.PlatformID, res.ErrorMessage, res.Succeeded, executedAt)
	metrics.ObserveNetworkRequest("postgres", "posts_mark_executed", "posts", start, err)
	if err != nil {
		return storageErr("posts_mark_executed", err)
	}
	if out.RowsAffected() == 0 {
		return domain.NewNotFound("пост", postID)
	}

	for i, platformID := range res.SegmentPlatformIDs {
		if platformID == "" {
			continue
		}
		start = time.Now()
		_, err = tx.Exec(ctx, `
UPDATE thread_segments SET platform_id=$3 WHERE post_id=$1 AND seg_index=$2
`, postID, i+1, platformID)
		metrics.ObserveNetworkRequest("postgres", "thread_segments_set_platform", "thread_segments", start, err)
		if err != nil {
			return storageErr("thread_segments_set_platform", err)
		}
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE scheduled_posts SET status=$2, executed_at=$3 WHERE post_id=$1 AND status='pending'
`, postID, schedStatus, executedAt)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_mark_executed", "scheduled_posts", start, err)
	if err != nil {
		return storageErr("scheduled_posts_mark_executed", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "posts", start, err)
	return storageErr("commit", err)
}

// DeletePost удаляет пост. Сегменты и запись расписания уходят каскадом.
func (p *Postgres) DeletePost(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM posts WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "posts_delete", "posts", start, err)
	if err != nil {
		return storageErr("posts_delete", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("пост", id)
	}
	return nil
}

// ListRecent возвращает последние посты по убыванию даты создания.
func (p *Postgres) ListRecent(ctx context.Context, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, content, origin, generation_prompt, status, platform_id, error_message, media_key, created_at, published_at
FROM posts ORDER BY created_at DESC, id DESC LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_recent", "posts", start, err)
	if err != nil {
		return nil, storageErr("posts_list_recent", err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, storageErr("posts_list_recent", err)
	}
	return p.attachRelations(ctx, posts)
}

// ListDrafts возвращает черновики по убыванию даты создания.
func (p *Postgres) ListDrafts(ctx context.Context) ([]domain.Post, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, content, origin, generation_prompt, status, platform_id, error_message, media_key, created_at, published_at
FROM posts WHERE status='draft' ORDER BY created_at DESC, id DESC
`)
	metrics.ObserveNetworkRequest("postgres", "posts_list_drafts", "posts", start, err)
	if err != nil {
		return nil, storageErr("posts_list_drafts", err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, storageErr("posts_list_drafts", err)
	}
	return p.attachRelations(ctx, posts)
}

func scanPosts(rows pgx.Rows) ([]domain.Post, error) {
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post      domain.Post
			prompt    sql.NullString
			platform  sql.NullString
			errMsg    sql.NullString
			mediaKey  sql.NullString
			published sql.NullTime
		)
		if err := rows.Scan(&post.ID, &post.Content, &post.Origin, &prompt, &post.Status, &platform, &errMsg, &mediaKey, &post.CreatedAt, &published); err != nil {
			return nil, err
		}
		if prompt.Valid {
			post.GenerationPrompt = prompt.String
		}
		if platform.Valid {
			post.PlatformID = platform.String
		}
		if errMsg.Valid {
			post.ErrorMessage = errMsg.String
		}
		if mediaKey.Valid {
			post.MediaKey = mediaKey.String
		}
		if published.Valid {
			ts := published.Time
			post.PublishedAt = &ts
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// attachRelations подгружает сегменты и записи расписания для пачки постов.
func (p *Postgres) attachRelations(ctx context.Context, posts []domain.Post) ([]domain.Post, error) {
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]int64, 0, len(posts))
	index := make(map[int64]int, len(posts))
	for i, post := range posts {
		ids = append(ids, post.ID)
		index[post.ID] = i
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, post_id, seg_index, content, platform_id
FROM thread_segments WHERE post_id = ANY($1) ORDER BY post_id, seg_index
`, ids)
	metrics.ObserveNetworkRequest("postgres", "thread_segments_list_batch", "thread_segments", start, err)
	if err != nil {
		return nil, storageErr("thread_segments_list_batch", err)
	}
	for rows.Next() {
		var (
			seg      domain.ThreadSegment
			platform sql.NullString
		)
		if err := rows.Scan(&seg.ID, &seg.PostID, &seg.Idx, &seg.Content, &platform); err != nil {
			rows.Close()
			return nil, storageErr("thread_segments_list_batch", err)
		}
		if platform.Valid {
			seg.PlatformID = platform.String
		}
		if i, ok := index[seg.PostID]; ok {
			posts[i].Segments = append(posts[i].Segments, seg)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("thread_segments_list_batch", err)
	}

	start = time.Now()
	rows, err = p.pool.Query(ctx, `
SELECT id, post_id, scheduled_for, job_id, status, created_at, executed_at
FROM scheduled_posts WHERE post_id = ANY($1)
`, ids)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_list_batch", "scheduled_posts", start, err)
	if err != nil {
		return nil, storageErr("scheduled_posts_list_batch", err)
	}
	for rows.Next() {
		var (
			sched    domain.ScheduledPost
			jobID    sql.NullString
			executed sql.NullTime
		)
		if err := rows.Scan(&sched.ID, &sched.PostID, &sched.ScheduledFor, &jobID, &sched.Status, &sched.CreatedAt, &executed); err != nil {
			rows.Close()
			return nil, storageErr("scheduled_posts_list_batch", err)
		}
		if jobID.Valid {
			sched.JobID = jobID.String
		}
		if executed.Valid {
			ts := executed.Time
			sched.ExecutedAt = &ts
		}
		if i, ok := index[sched.PostID]; ok {
			copied := sched
			posts[i].Schedule = &copied
		}
	}
	rows.Close()
	return posts, storageErr("scheduled_posts_list_batch", rows.Err())
}

// Schedule переводит пост в scheduled и создаёт pending-запись расписания.
func (p *Postgres) Schedule(ctx context.Context, postID int64, at time.Time, jobID string) (domain.ScheduledPost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "scheduled_posts", start, err)
	if err != nil {
		return domain.ScheduledPost{}, storageErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `UPDATE posts SET status='scheduled' WHERE id=$1`, postID)
	metrics.ObserveNetworkRequest("postgres", "posts_set_scheduled", "posts", start, err)
	if err != nil {
		return domain.ScheduledPost{}, storageErr("posts_set_scheduled", err)
	}
	if res.RowsAffected() == 0 {
		return domain.ScheduledPost{}, domain.NewNotFound("пост", postID)
	}

	sched := domain.ScheduledPost{PostID: postID, ScheduledFor: at.UTC(), JobID: jobID, Status: domain.ScheduleStatusPending}
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO scheduled_posts (post_id, scheduled_for, job_id, status)
VALUES ($1, $2, NULLIF($3,''), 'pending')
RETURNING id, created_at
`, postID, sched.ScheduledFor, jobID).Scan(&sched.ID, &sched.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_insert", "scheduled_posts", start, err)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == uniqueViolation {
			return domain.ScheduledPost{}, domain.NewValidationError("schedule", "у поста уже есть запись расписания")
		}
		return domain.ScheduledPost{}, storageErr("scheduled_posts_insert", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "scheduled_posts", start, err)
	if err != nil {
		return domain.ScheduledPost{}, storageErr("commit", err)
	}
	return sched, nil
}

// Reschedule сдвигает время pending-записи, идентификатор задания не трогает.
func (p *Postgres) Reschedule(ctx context.Context, postID int64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET scheduled_for=$2 WHERE post_id=$1 AND status='pending'
`, postID, at.UTC())
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_reschedule", "scheduled_posts", start, err)
	if err != nil {
		return storageErr("scheduled_posts_reschedule", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("расписание поста", postID)
	}
	return nil
}

// CancelSchedule помечает pending-запись cancelled, а пост — cancelled.
func (p *Postgres) CancelSchedule(ctx context.Context, postID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "scheduled_posts", start, err)
	if err != nil {
		return storageErr("begin_tx", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `
UPDATE scheduled_posts SET status='cancelled' WHERE post_id=$1 AND status='pending'
`, postID)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_cancel", "scheduled_posts", start, err)
	if err != nil {
		return storageErr("scheduled_posts_cancel", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("расписание поста", postID)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `UPDATE posts SET status='cancelled' WHERE id=$1`, postID)
	metrics.ObserveNetworkRequest("postgres", "posts_set_cancelled", "posts", start, err)
	if err != nil {
		return storageErr("posts_set_cancelled", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "scheduled_posts", start, err)
	return storageErr("commit", err)
}

// ListPending возвращает пары пост+расписание со статусами pending и scheduled
// по возрастанию scheduled_for. Это источник истины для регидрации таймеров.
func (p *Postgres) ListPending(ctx context.Context) ([]domain.PendingPost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT p.id, p.content, p.origin, p.generation_prompt, p.status, p.platform_id, p.error_message, p.media_key, p.created_at, p.published_at,
       s.id, s.post_id, s.scheduled_for, s.job_id, s.status, s.created_at, s.executed_at
FROM scheduled_posts s
JOIN posts p ON p.id = s.post_id
WHERE s.status='pending' AND p.status='scheduled'
ORDER BY s.scheduled_for, s.id
`)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_list_pending", "scheduled_posts", start, err)
	if err != nil {
		return nil, storageErr("scheduled_posts_list_pending", err)
	}
	defer rows.Close()

	var pending []domain.PendingPost
	for rows.Next() {
		var (
			item      domain.PendingPost
			prompt    sql.NullString
			platform  sql.NullString
			errMsg    sql.NullString
			mediaKey  sql.NullString
			published sql.NullTime
			jobID     sql.NullString
			executed  sql.NullTime
		)
		if err := rows.Scan(
			&item.Post.ID, &item.Post.Content, &item.Post.Origin, &prompt, &item.Post.Status, &platform, &errMsg, &mediaKey, &item.Post.CreatedAt, &published,
			&item.Schedule.ID, &item.Schedule.PostID, &item.Schedule.ScheduledFor, &jobID, &item.Schedule.Status, &item.Schedule.CreatedAt, &executed,
		); err != nil {
			return nil, storageErr("scheduled_posts_list_pending", err)
		}
		if prompt.Valid {
			item.Post.GenerationPrompt = prompt.String
		}
		if platform.Valid {
			item.Post.PlatformID = platform.String
		}
		if errMsg.Valid {
			item.Post.ErrorMessage = errMsg.String
		}
		if mediaKey.Valid {
			item.Post.MediaKey = mediaKey.String
		}
		if published.Valid {
			ts := published.Time
			item.Post.PublishedAt = &ts
		}
		if jobID.Valid {
			item.Schedule.JobID = jobID.String
		}
		if executed.Valid {
			ts := executed.Time
			item.Schedule.ExecutedAt = &ts
		}
		pending = append(pending, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scheduled_posts_list_pending", err)
	}

	for i := range pending {
		segments, err := p.loadSegments(ctx, pending[i].Post.ID)
		if err != nil {
			return nil, err
		}
		pending[i].Post.Segments = segments
		sched := pending[i].Schedule
		pending[i].Post.Schedule = &sched
	}
	return pending, nil
}

// UpdateJobID записывает новый идентификатор задания в pending-запись.
func (p *Postgres) UpdateJobID(ctx context.Context, postID int64, jobID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET job_id=$2 WHERE post_id=$1 AND status='pending'
`, postID, jobID)
	metrics.ObserveNetworkRequest("postgres", "scheduled_posts_update_job_id", "scheduled_posts", start, err)
	if err != nil {
		return storageErr("scheduled_posts_update_job_id", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("расписание поста", postID)
	}
	return nil
}

// Statistics считает посты по статусам одним запросом.
func (p *Postgres) Statistics(ctx context.Context) (domain.PostStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var stats domain.PostStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE status='published'),
       count(*) FILTER (WHERE status='scheduled'),
       count(*) FILTER (WHERE status='failed')
FROM posts
`).Scan(&stats.Total, &stats.Published, &stats.Scheduled, &stats.Failed)
	metrics.ObserveNetworkRequest("postgres", "posts_statistics", "posts", start, err)
	if err != nil {
		return domain.PostStats{}, storageErr("posts_statistics", err)
	}
	stats.Draft = stats.Total - stats.Published - stats.Scheduled - stats.Failed
	return stats, nil
}

// CreateTopic добавляет тему. Имя уникально для пользователя без учёта регистра.
func (p *Postgres) CreateTopic(ctx context.Context, userID int64, name string) (domain.Topic, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	topic := domain.Topic{UserID: userID, Name: name}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO topics (user_id, name)
VALUES ($1, $2)
RETURNING id, created_at
`, userID, name).Scan(&topic.ID, &topic.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "topics_insert", "topics", start, err)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == uniqueViolation {
			return domain.Topic{}, domain.NewValidationError("name", "такая тема уже сохранена")
		}
		return domain.Topic{}, storageErr("topics_insert", err)
	}
	return topic, nil
}

// ListTopics возвращает темы пользователя в порядке добавления.
func (p *Postgres) ListTopics(ctx context.Context, userID int64) ([]domain.Topic, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, name, created_at
FROM topics WHERE user_id=$1 ORDER BY created_at, id
`, userID)
	metrics.ObserveNetworkRequest("postgres", "topics_list", "topics", start, err)
	if err != nil {
		return nil, storageErr("topics_list", err)
	}
	defer rows.Close()

	var topics []domain.Topic
	for rows.Next() {
		var topic domain.Topic
		if err := rows.Scan(&topic.ID, &topic.UserID, &topic.Name, &topic.CreatedAt); err != nil {
			return nil, storageErr("topics_list", err)
		}
		topics = append(topics, topic)
	}
	return topics, storageErr("topics_list", rows.Err())
}

// GetTopic возвращает тему пользователя по идентификатору.
func (p *Postgres) GetTopic(ctx context.Context, id, userID int64) (domain.Topic, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var topic domain.Topic
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, name, created_at
FROM topics WHERE id=$1 AND user_id=$2
`, id, userID).Scan(&topic.ID, &topic.UserID, &topic.Name, &topic.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "topics_get", "topics", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Topic{}, domain.NewNotFound("тема", id)
	}
	if err != nil {
		return domain.Topic{}, storageErr("topics_get", err)
	}
	return topic, nil
}

// DeleteTopic удаляет тему пользователя.
func (p *Postgres) DeleteTopic(ctx context.Context, id, userID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM topics WHERE id=$1 AND user_id=$2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "topics_delete", "topics", start, err)
	if err != nil {
		return storageErr("topics_delete", err)
	}
	if res.RowsAffected() == 0 {
		return domain.NewNotFound("тема", id)
	}
	return nil
}

// DeleteAllTopics удаляет все темы пользователя и возвращает число удалённых.
func (p *Postgres) DeleteAllTopics(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM topics WHERE user_id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "topics_delete_all", "topics", start, err)
	if err != nil {
		return 0, storageErr("topics_delete_all", err)
	}
	return int(res.RowsAffected()), nil
}

// CountTopics возвращает число тем пользователя.
func (p *Postgres) CountTopics(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM topics WHERE user_id=$1`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "topics_count", "topics", start, err)
	if err != nil {
		return 0, storageErr("topics_count", err)
	}
	return count, nil
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var postID sql.NullInt64
	if metric.PostID != nil {
		postID = sql.NullInt64{Int64: *metric.PostID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, post_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, postID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return storageErr("business_metrics_insert", err)
}
