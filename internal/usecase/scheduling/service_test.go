package scheduling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/usecase/posts"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type memRepo struct {
	posts       map[int64]*domain.Post
	nextSchedID int64
	jobUpdates  []string
}

func newMemRepo(list ...domain.Post) *memRepo {
	repo := &memRepo{posts: make(map[int64]*domain.Post)}
	for i := range list {
		p := list[i]
		repo.posts[p.ID] = &p
	}
	return repo
}

func (r *memRepo) get(id int64) (*domain.Post, error) {
	p, ok := r.posts[id]
	if !ok {
		return nil, domain.NewNotFound("пост", id)
	}
	return p, nil
}

func (r *memRepo) CreatePost(_ context.Context, post domain.Post, segments []string) (domain.Post, error) {
	post.ID = int64(len(r.posts) + 1)
	if len(segments) > 1 {
		for i, text := range segments {
			post.Segments = append(post.Segments, domain.ThreadSegment{PostID: post.ID, Idx: i + 1, Content: text})
		}
	}
	r.posts[post.ID] = &post
	return post, nil
}

func (r *memRepo) GetPost(_ context.Context, id int64) (domain.Post, error) {
	p, err := r.get(id)
	if err != nil {
		return domain.Post{}, err
	}
	copied := *p
	copied.Segments = append([]domain.ThreadSegment(nil), p.Segments...)
	if p.Schedule != nil {
		sched := *p.Schedule
		copied.Schedule = &sched
	}
	return copied, nil
}

func (r *memRepo) UpdateContent(_ context.Context, id int64, content string, segments []string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	p.Content = content
	p.Segments = nil
	if len(segments) > 1 {
		for i, text := range segments {
			p.Segments = append(p.Segments, domain.ThreadSegment{PostID: id, Idx: i + 1, Content: text})
		}
	}
	return nil
}

func (r *memRepo) SetStatus(_ context.Context, id int64, status domain.PostStatus, platformID, errorMessage string) error {
	p, err := r.get(id)
	if err != nil {
		return err
	}
	p.Status = status
	if platformID != "" {
		p.PlatformID = platformID
	}
	if errorMessage != "" {
		p.ErrorMessage = errorMessage
	}
	return nil
}

func (r *memRepo) MarkExecuted(_ context.Context, postID int64, res domain.PublishResult) error {
	p, err := r.get(postID)
	if err != nil {
		return err
	}
	if res.Succeeded {
		p.Status = domain.PostStatusPublished
		executed := res.ExecutedAt
		p.PublishedAt = &executed
	} else {
		p.Status = domain.PostStatusFailed
	}
	p.PlatformID = res.PlatformID
	p.ErrorMessage = res.ErrorMessage
	for i, id := range res.SegmentPlatformIDs {
		if i < len(p.Segments) {
			p.Segments[i].PlatformID = id
		}
	}
	if p.Schedule != nil && p.Schedule.Status == domain.ScheduleStatusPending {
		if res.Succeeded {
			p.Schedule.Status = domain.ScheduleStatusCompleted
		} else {
			p.Schedule.Status = domain.ScheduleStatusFailed
		}
		executed := res.ExecutedAt
		p.Schedule.ExecutedAt = &executed
	}
	return nil
}

func (r *memRepo) DeletePost(_ context.Context, id int64) error {
	if _, err := r.get(id); err != nil {
		return err
	}
	delete(r.posts, id)
	return nil
}

func (r *memRepo) ListRecent(context.Context, int) ([]domain.Post, error) { return nil, nil }
func (r *memRepo) ListDrafts(context.Context) ([]domain.Post, error)     { return nil, nil }

func (r *memRepo) Schedule(_ context.Context, postID int64, at time.Time, jobID string) (domain.ScheduledPost, error) {
	p, err := r.get(postID)
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	if p.Schedule != nil {
		return domain.ScheduledPost{}, domain.NewValidationError("schedule", "у поста уже есть запись расписания")
	}
	r.nextSchedID++
	p.Status = domain.PostStatusScheduled
	p.Schedule = &domain.ScheduledPost{ID: r.nextSchedID, PostID: postID, ScheduledFor: at, JobID: jobID, Status: domain.ScheduleStatusPending}
	return *p.Schedule, nil
}

func (r *memRepo) Reschedule(_ context.Context, postID int64, at time.Time) error {
	p, err := r.get(postID)
	if err != nil {
		return err
	}
	if p.Schedule == nil {
		return domain.NewNotFound("расписание поста", postID)
	}
	p.Schedule.ScheduledFor = at
	return nil
}

func (r *memRepo) CancelSchedule(_ context.Context, postID int64) error {
	p, err := r.get(postID)
	if err != nil {
		return err
	}
	if p.Schedule == nil {
		return domain.NewNotFound("расписание поста", postID)
	}
	p.Schedule.Status = domain.ScheduleStatusCancelled
	p.Status = domain.PostStatusCancelled
	return nil
}

func (r *memRepo) ListPending(context.Context) ([]domain.PendingPost, error) {
	var pending []domain.PendingPost
	for _, p := range r.posts {
		if p.Status == domain.PostStatusScheduled && p.Schedule != nil && p.Schedule.Status == domain.ScheduleStatusPending {
			pending = append(pending, domain.PendingPost{Post: *p, Schedule: *p.Schedule})
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Schedule.ScheduledFor.Before(pending[j].Schedule.ScheduledFor)
	})
	return pending, nil
}

func (r *memRepo) UpdateJobID(_ context.Context, postID int64, jobID string) error {
	p, err := r.get(postID)
	if err != nil {
		return err
	}
	if p.Schedule == nil {
		return domain.NewNotFound("расписание поста", postID)
	}
	p.Schedule.JobID = jobID
	r.jobUpdates = append(r.jobUpdates, jobID)
	return nil
}

func (r *memRepo) Statistics(context.Context) (domain.PostStats, error) {
	return domain.PostStats{}, nil
}

type timerCall struct {
	jobID string
	at    time.Time
	fire  func()
}

type fakeRegistry struct {
	scheduled   []timerCall
	rescheduled []timerCall
	cancelled   []string
	cancelErr   error
	reschedErr  error
}

func (f *fakeRegistry) ScheduleOnce(jobID string, at time.Time, fire func()) {
	f.scheduled = append(f.scheduled, timerCall{jobID: jobID, at: at, fire: fire})
}

func (f *fakeRegistry) Cancel(jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return f.cancelErr
}

func (f *fakeRegistry) Reschedule(jobID string, at time.Time) error {
	if f.reschedErr != nil {
		return f.reschedErr
	}
	f.rescheduled = append(f.rescheduled, timerCall{jobID: jobID, at: at})
	return nil
}

func (f *fakeRegistry) List() []domain.TimerInfo { return nil }
func (f *fakeRegistry) Stop()                    {}

type fakePublisher struct {
	singleID    string
	threadIDs   []string
	err         error
	singleCalls int
	threadCalls int
	lastTexts   []string
}

func (f *fakePublisher) PublishSingle(_ context.Context, text, _ string) (string, error) {
	f.singleCalls++
	f.lastTexts = []string{text}
	if f.err != nil {
		return "", f.err
	}
	return f.singleID, nil
}

func (f *fakePublisher) PublishThread(_ context.Context, texts []string, _ string) ([]string, error) {
	f.threadCalls++
	f.lastTexts = texts
	return f.threadIDs, f.err
}

func (f *fakePublisher) TestConnection(context.Context) (string, error) { return "tester", nil }

type fakeNotifier struct {
	userIDs  []int64
	outcomes []domain.PublishOutcome
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, outcome domain.PublishOutcome) {
	f.userIDs = append(f.userIDs, userID)
	f.outcomes = append(f.outcomes, outcome)
}

type recordLatch struct {
	keys []string
}

func (l *recordLatch) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	l.keys = append(l.keys, key)
	return fn()
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) AfterFunc(time.Duration, func()) domain.TimerHandle { return noHandle{} }

type noHandle struct{}

func (noHandle) Stop() bool { return true }

func newTestService(repo *memRepo) (*Service, *fakeRegistry, *fakePublisher, *fakeNotifier, *recordLatch) {
	reg := &fakeRegistry{}
	pub := &fakePublisher{singleID: "111"}
	notifier := &fakeNotifier{}
	latch := &recordLatch{}
	store := posts.NewService(repo, nil)
	svc := NewService(store, reg, pub, notifier, latch, fixedClock{now: testNow}, 42, 5*time.Second, zerolog.Nop())
	return svc, reg, pub, notifier, latch
}

func draft(id int64, content string) domain.Post {
	return domain.Post{ID: id, Content: content, Origin: domain.PostOriginManual, Status: domain.PostStatusDraft}
}

func threadDraft(id int64) domain.Post {
	p := draft(id, strings.Repeat("Д", 600))
	for i, text := range posts.SplitContent(p.Content, posts.MaxSegmentLength) {
		p.Segments = append(p.Segments, domain.ThreadSegment{PostID: id, Idx: i + 1, Content: text})
	}
	return p
}

func TestSchedulePostCreatesRowAndTimer(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, _, _, _ := newTestService(repo)

	at := testNow.Add(2 * time.Hour)
	sched, err := svc.SchedulePost(context.Background(), 1, at)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	wantJob := fmt.Sprintf("post_1_%d", at.Unix())
	if sched.JobID != wantJob {
		t.Fatalf("ожидали идентификатор %q, получили %q", wantJob, sched.JobID)
	}
	if repo.posts[1].Status != domain.PostStatusScheduled {
		t.Fatalf("пост должен перейти в scheduled, получили %q", repo.posts[1].Status)
	}
	if len(reg.scheduled) != 1 || reg.scheduled[0].jobID != wantJob || !reg.scheduled[0].at.Equal(at) {
		t.Fatalf("таймер зарегистрирован неверно: %+v", reg.scheduled)
	}
}

func TestSchedulePostRejectsSecondSchedule(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, _, _, _ := newTestService(repo)

	at := testNow.Add(time.Hour)
	if _, err := svc.SchedulePost(context.Background(), 1, at); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err := svc.SchedulePost(context.Background(), 1, at.Add(time.Hour))
	if !domain.IsValidation(err) {
		t.Fatalf("повторная постановка должна отклоняться, получили %v", err)
	}
	if len(reg.scheduled) != 1 {
		t.Fatalf("второй таймер не должен появиться, получили %d", len(reg.scheduled))
	}
}

func TestFireCallbackPublishesAndNotifies(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, pub, notifier, latch := newTestService(repo)

	at := testNow.Add(time.Hour)
	sched, err := svc.SchedulePost(context.Background(), 1, at)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reg.scheduled[0].fire()

	if pub.singleCalls != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", pub.singleCalls)
	}
	post := repo.posts[1]
	if post.Status != domain.PostStatusPublished || post.PlatformID != "111" {
		t.Fatalf("исход не зафиксирован: статус %q, платформа %q", post.Status, post.PlatformID)
	}
	if post.Schedule.Status != domain.ScheduleStatusCompleted || post.Schedule.ExecutedAt == nil {
		t.Fatalf("pending-запись не закрыта: %+v", post.Schedule)
	}
	if len(notifier.outcomes) != 1 || !notifier.outcomes[0].Published || notifier.userIDs[0] != 42 {
		t.Fatalf("оператор не уведомлён об успехе: %+v", notifier.outcomes)
	}
	if len(latch.keys) != 1 || latch.keys[0] != "fire:"+sched.JobID {
		t.Fatalf("защёлка взята с неверным ключом: %v", latch.keys)
	}
}

func TestFireCallbackSkipsCancelledSchedule(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, pub, notifier, _ := newTestService(repo)

	if _, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.CancelSchedule(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку отмены: %v", err)
	}

	// Таймер, который не успели снять, не должен публиковать.
	reg.scheduled[0].fire()

	if pub.singleCalls != 0 {
		t.Fatalf("публикации быть не должно")
	}
	if len(notifier.outcomes) != 0 {
		t.Fatalf("уведомления быть не должно")
	}
	if repo.posts[1].Status != domain.PostStatusCancelled {
		t.Fatalf("пост должен остаться cancelled, получили %q", repo.posts[1].Status)
	}
}

func TestFirePublishFailureMarksFailed(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, pub, notifier, _ := newTestService(repo)
	pub.err = &domain.ExternalServiceError{Service: "x", Category: domain.ServiceErrorRateLimited, Message: "too many requests"}

	if _, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	reg.scheduled[0].fire()

	post := repo.posts[1]
	if post.Status != domain.PostStatusFailed {
		t.Fatalf("ожидали статус failed, получили %q", post.Status)
	}
	if post.ErrorMessage == "" {
		t.Fatalf("текст ошибки должен сохраниться")
	}
	if post.Schedule.Status != domain.ScheduleStatusFailed {
		t.Fatalf("запись расписания должна стать failed, получили %q", post.Schedule.Status)
	}
	if len(notifier.outcomes) != 1 || notifier.outcomes[0].Published {
		t.Fatalf("оператор должен получить уведомление о неудаче")
	}
	if pub.singleCalls != 1 {
		t.Fatalf("повторных попыток быть не должно, получили %d", pub.singleCalls)
	}
}

func TestPublishNowSingle(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, _, pub, notifier, _ := newTestService(repo)

	outcome, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !outcome.Published || outcome.PlatformID != "111" {
		t.Fatalf("неожиданный исход: %+v", outcome)
	}
	if pub.singleCalls != 1 {
		t.Fatalf("ожидали одну публикацию")
	}
	if len(notifier.outcomes) != 0 {
		t.Fatalf("немедленная публикация не уведомляет отдельно")
	}
	if repo.posts[1].Status != domain.PostStatusPublished {
		t.Fatalf("пост должен стать published, получили %q", repo.posts[1].Status)
	}
}

func TestPublishNowThreadPersistsSegmentIDs(t *testing.T) {
	repo := newMemRepo(threadDraft(1))
	svc, _, pub, _, _ := newTestService(repo)
	pub.threadIDs = []string{"a1", "a2", "a3"}

	outcome, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pub.threadCalls != 1 {
		t.Fatalf("ожидали публикацию треда")
	}
	if outcome.PlatformID != "a1" || outcome.Segments != 3 {
		t.Fatalf("неожиданный исход: %+v", outcome)
	}
	for i, want := range []string{"a1", "a2", "a3"} {
		if repo.posts[1].Segments[i].PlatformID != want {
			t.Fatalf("сегмент %d без идентификатора платформы", i)
		}
	}
}

func TestPublishNowPartialThreadKeepsReceivedIDs(t *testing.T) {
	repo := newMemRepo(threadDraft(1))
	svc, _, pub, _, _ := newTestService(repo)
	pub.threadIDs = []string{"a1"}
	pub.err = &domain.ExternalServiceError{Service: "x", Category: domain.ServiceErrorServer, Message: "internal error"}

	outcome, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if outcome.Published {
		t.Fatalf("частичный тред не считается успехом")
	}
	post := repo.posts[1]
	if post.Status != domain.PostStatusFailed {
		t.Fatalf("ожидали статус failed, получили %q", post.Status)
	}
	if post.Segments[0].PlatformID != "a1" {
		t.Fatalf("полученный идентификатор должен сохраниться")
	}
	if post.Segments[1].PlatformID != "" {
		t.Fatalf("недоставленный сегмент должен остаться без идентификатора")
	}
}

func TestPublishNowRejectsPublishedPost(t *testing.T) {
	p := draft(1, "текст")
	p.Status = domain.PostStatusPublished
	repo := newMemRepo(p)
	svc, _, pub, _, _ := newTestService(repo)

	_, err := svc.PublishNow(context.Background(), 1)
	if !domain.IsValidation(err) {
		t.Fatalf("повторная публикация должна отклоняться, получили %v", err)
	}
	if pub.singleCalls != 0 {
		t.Fatalf("публикации быть не должно")
	}
}

func TestRescheduleKeepsJobID(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, _, _, _ := newTestService(repo)

	first, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	newAt := testNow.Add(3 * time.Hour)
	updated, err := svc.Reschedule(context.Background(), 1, newAt)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.JobID != first.JobID {
		t.Fatalf("идентификатор задания должен сохраниться: %q vs %q", updated.JobID, first.JobID)
	}
	if !repo.posts[1].Schedule.ScheduledFor.Equal(newAt) {
		t.Fatalf("время в хранилище не обновилось")
	}
	if len(reg.rescheduled) != 1 || reg.rescheduled[0].jobID != first.JobID || !reg.rescheduled[0].at.Equal(newAt) {
		t.Fatalf("таймер перенесён неверно: %+v", reg.rescheduled)
	}
}

func TestRescheduleRestoresLostTimer(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, _, _, _ := newTestService(repo)

	first, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reg.reschedErr = &domain.SchedulerLookupError{JobID: first.JobID}
	newAt := testNow.Add(2 * time.Hour)
	if _, err := svc.Reschedule(context.Background(), 1, newAt); err != nil {
		t.Fatalf("потерянный таймер должен восстанавливаться, получили %v", err)
	}

	last := reg.scheduled[len(reg.scheduled)-1]
	if last.jobID != first.JobID || !last.at.Equal(newAt) {
		t.Fatalf("таймер восстановлен неверно: %+v", last)
	}
}

func TestRescheduleWithoutPendingRow(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, _, _, _, _ := newTestService(repo)

	if _, err := svc.Reschedule(context.Background(), 1, testNow.Add(time.Hour)); !domain.IsNotFound(err) {
		t.Fatalf("без записи расписания ожидали not found, получили %v", err)
	}

	if _, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	repo.posts[1].Schedule.Status = domain.ScheduleStatusCompleted
	if _, err := svc.Reschedule(context.Background(), 1, testNow.Add(2*time.Hour)); !domain.IsSchedulerLookup(err) {
		t.Fatalf("сработавшее задание должно давать ошибку поиска, получили %v", err)
	}
}

func TestCancelScheduleMarksRowAndPost(t *testing.T) {
	repo := newMemRepo(draft(1, "текст"))
	svc, reg, _, _, _ := newTestService(repo)

	sched, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := svc.CancelSchedule(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	post := repo.posts[1]
	if post.Status != domain.PostStatusCancelled || post.Schedule.Status != domain.ScheduleStatusCancelled {
		t.Fatalf("отмена не отражена в хранилище: %q / %q", post.Status, post.Schedule.Status)
	}
	if len(reg.cancelled) != 1 || reg.cancelled[0] != sched.JobID {
		t.Fatalf("таймер не снят: %v", reg.cancelled)
	}
}

func TestDeletePostCancelsTimer(t *testing.T) {
	p := draft(1, "текст")
	p.MediaKey = "media/abc.jpg"
	repo := newMemRepo(p)
	svc, reg, _, _, _ := newTestService(repo)

	sched, err := svc.SchedulePost(context.Background(), 1, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	deleted, err := svc.DeletePost(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if deleted.MediaKey != "media/abc.jpg" {
		t.Fatalf("удалённый пост должен вернуться с ключом вложения")
	}
	if len(reg.cancelled) != 1 || reg.cancelled[0] != sched.JobID {
		t.Fatalf("таймер не снят при удалении: %v", reg.cancelled)
	}
	if _, ok := repo.posts[1]; ok {
		t.Fatalf("пост должен быть удалён")
	}
}

func TestRehydrateRestoresAndClampsOverdue(t *testing.T) {
	future := draft(1, "будущий")
	future.Status = domain.PostStatusScheduled
	future.Schedule = &domain.ScheduledPost{ID: 1, PostID: 1, ScheduledFor: testNow.Add(time.Hour), JobID: "post_1_100", Status: domain.ScheduleStatusPending}

	overdue := draft(2, "просроченный")
	overdue.Status = domain.PostStatusScheduled
	overdue.Schedule = &domain.ScheduledPost{ID: 2, PostID: 2, ScheduledFor: testNow.Add(-10 * time.Minute), JobID: "post_2_200", Status: domain.ScheduleStatusPending}

	repo := newMemRepo(future, overdue)
	svc, reg, _, _, _ := newTestService(repo)

	restored, err := svc.Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if restored != 2 {
		t.Fatalf("ожидали 2 восстановленных таймера, получили %d", restored)
	}

	byJob := map[string]timerCall{}
	for _, call := range reg.scheduled {
		byJob[call.jobID] = call
	}
	if call, ok := byJob["post_1_100"]; !ok || !call.at.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("будущее задание должно сохранить своё время: %+v", call)
	}
	if call, ok := byJob["post_2_200"]; !ok || !call.at.Equal(testNow.Add(5*time.Second)) {
		t.Fatalf("просроченное задание должно сработать через грейс: %+v", call)
	}
}

func TestRehydrateAssignsMissingJobID(t *testing.T) {
	p := draft(3, "без идентификатора")
	p.Status = domain.PostStatusScheduled
	p.Schedule = &domain.ScheduledPost{ID: 3, PostID: 3, ScheduledFor: testNow.Add(time.Hour), JobID: "", Status: domain.ScheduleStatusPending}

	repo := newMemRepo(p)
	svc, reg, _, _, _ := newTestService(repo)

	if _, err := svc.Rehydrate(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	jobID := repo.posts[3].Schedule.JobID
	if jobID == "" || !strings.HasPrefix(jobID, "post_3_") {
		t.Fatalf("новый идентификатор должен записаться в строку, получили %q", jobID)
	}
	if len(repo.jobUpdates) != 1 || repo.jobUpdates[0] != jobID {
		t.Fatalf("идентификатор должен уйти в хранилище до регистрации таймера")
	}
	if len(reg.scheduled) != 1 || reg.scheduled[0].jobID != jobID {
		t.Fatalf("таймер должен использовать записанный идентификатор: %+v", reg.scheduled)
	}
}

func TestRehydrateFiresOverdueExactlyOnce(t *testing.T) {
	p := draft(4, "просроченный")
	p.Status = domain.PostStatusScheduled
	p.Schedule = &domain.ScheduledPost{ID: 4, PostID: 4, ScheduledFor: testNow.Add(-time.Hour), JobID: "post_4_400", Status: domain.ScheduleStatusPending}

	repo := newMemRepo(p)
	svc, reg, pub, notifier, _ := newTestService(repo)

	if _, err := svc.Rehydrate(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reg.scheduled[0].fire()
	// Повторное срабатывание того же задания ничего не публикует.
	reg.scheduled[0].fire()

	if pub.singleCalls != 1 {
		t.Fatalf("ожидали ровно одну публикацию, получили %d", pub.singleCalls)
	}
	if len(notifier.outcomes) != 1 {
		t.Fatalf("ожидали ровно одно уведомление, получили %d", len(notifier.outcomes))
	}
	if repo.posts[4].Status != domain.PostStatusPublished {
		t.Fatalf("пост должен быть опубликован, получили %q", repo.posts[4].Status)
	}
}
