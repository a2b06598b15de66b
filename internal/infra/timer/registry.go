package timer

import (
	"sort"
	"sync"
	"time"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
)

// SystemClock реализует domain.Clock поверх настенных часов процесса.
type SystemClock struct{}

// Now возвращает текущий момент в UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// AfterFunc запускает fn в отдельной горутине не раньше чем через d.
func (SystemClock) AfterFunc(d time.Duration, fn func()) domain.TimerHandle {
	return systemHandle{timer: time.AfterFunc(d, fn)}
}

type systemHandle struct {
	timer *time.Timer
}

func (h systemHandle) Stop() bool { return h.timer.Stop() }

// Registry — однопроцессный реестр одноразовых таймеров. Содержимое
// реестра — перестраиваемый кэш: источником истины о расписании остаётся
// хранилище, а реестр восстанавливается из него при старте.
type Registry struct {
	clock domain.Clock

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

type entry struct {
	jobID  string
	fireAt time.Time
	fire   func()
	handle domain.TimerHandle
}

var _ domain.TimerRegistry = (*Registry)(nil)

// NewRegistry создаёт пустой реестр поверх заданных часов.
func NewRegistry(clock domain.Clock) *Registry {
	return &Registry{clock: clock, entries: make(map[string]*entry)}
}

// ScheduleOnce регистрирует одноразовый таймер. Повторный вызов с тем же
// идентификатором молча заменяет прежнее время срабатывания, второй
// таймер не создаётся. Просроченное время срабатывает сразу, но никогда
// раньше назначенного момента.
func (r *Registry) ScheduleOnce(jobID string, at time.Time, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	if old, ok := r.entries[jobID]; ok {
		old.handle.Stop()
		delete(r.entries, jobID)
	}

	delay := at.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}

	e := &entry{jobID: jobID, fireAt: at, fire: fire}
	e.handle = r.clock.AfterFunc(delay, func() { r.fired(e) })
	r.entries[jobID] = e
	metrics.SetActiveTimers(len(r.entries))
}

// fired извлекает запись и выполняет колбэк. Запись сравнивается по
// указателю: срабатывание заменённого таймера не должно трогать запись,
// занявшую его идентификатор.
func (r *Registry) fired(e *entry) {
	r.mu.Lock()
	current, ok := r.entries[e.jobID]
	if !ok || current != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, e.jobID)
	metrics.SetActiveTimers(len(r.entries))
	r.mu.Unlock()

	e.fire()
}

// Cancel снимает таймер до срабатывания.
func (r *Registry) Cancel(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[jobID]
	if !ok {
		return &domain.SchedulerLookupError{JobID: jobID}
	}
	e.handle.Stop()
	delete(r.entries, jobID)
	metrics.SetActiveTimers(len(r.entries))
	return nil
}

// Reschedule атомарно переносит время существующего таймера. Прежний
// таймер снимается, на его место встаёт новый с тем же идентификатором.
func (r *Registry) Reschedule(jobID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[jobID]
	if !ok {
		return &domain.SchedulerLookupError{JobID: jobID}
	}
	old.handle.Stop()

	delay := at.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}

	e := &entry{jobID: jobID, fireAt: at, fire: old.fire}
	e.handle = r.clock.AfterFunc(delay, func() { r.fired(e) })
	r.entries[jobID] = e
	return nil
}

// List возвращает активные таймеры по возрастанию времени срабатывания.
func (r *Registry) List() []domain.TimerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]domain.TimerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, domain.TimerInfo{JobID: e.jobID, FireAt: e.fireAt})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].FireAt.Equal(infos[j].FireAt) {
			return infos[i].JobID < infos[j].JobID
		}
		return infos[i].FireAt.Before(infos[j].FireAt)
	})
	return infos
}

// Stop снимает все таймеры и запрещает новые регистрации. Колбэки,
// которые уже начали выполняться, дорабатывают до конца.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, e := range r.entries {
		e.handle.Stop()
		delete(r.entries, id)
	}
	metrics.SetActiveTimers(0)
}
