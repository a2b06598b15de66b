package domain

import (
	"errors"
	"fmt"
)

// ValidationError описывает отклонённый пользовательский ввод. Состояние в
// хранилище при этом не меняется, шаг просто повторяется.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation сообщает, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError означает отсутствие поста или записи расписания.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d не найден", e.Entity, e.ID)
}

// NewNotFound создаёт ошибку отсутствия сущности.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound сообщает, является ли ошибка ошибкой отсутствия.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ServiceErrorCategory классифицирует сбой внешнего сервиса для
// пользовательского сообщения.
type ServiceErrorCategory string

const (
	ServiceErrorRateLimited ServiceErrorCategory = "rate_limited"
	ServiceErrorAuth        ServiceErrorCategory = "auth"
	ServiceErrorQuota       ServiceErrorCategory = "quota"
	ServiceErrorPolicy      ServiceErrorCategory = "policy_violation"
	ServiceErrorDuplicate   ServiceErrorCategory = "duplicate"
	ServiceErrorLength      ServiceErrorCategory = "length"
	ServiceErrorConnection  ServiceErrorCategory = "connection"
	ServiceErrorServer      ServiceErrorCategory = "server"
	ServiceErrorUnknown     ServiceErrorCategory = "unknown"
)

// ExternalServiceError — сбой публикации или генерации во внешнем сервисе.
// Попытка не повторяется автоматически.
type ExternalServiceError struct {
	Service  string
	Category ServiceErrorCategory
	Message  string
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// AsExternal возвращает ExternalServiceError из цепочки ошибок, если он там есть.
func AsExternal(err error) (*ExternalServiceError, bool) {
	var ee *ExternalServiceError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// PersistenceError — сбой хранилища. Транзакция откатилась целиком,
// частичных записей не остаётся.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("хранилище, %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SchedulerLookupError — задание таймера с таким идентификатором не
// зарегистрировано: уже сработало либо потеряно.
type SchedulerLookupError struct {
	JobID string
}

func (e *SchedulerLookupError) Error() string {
	return fmt.Sprintf("задание %q не зарегистрировано", e.JobID)
}

// IsSchedulerLookup сообщает, является ли ошибка ошибкой поиска задания.
func IsSchedulerLookup(err error) bool {
	var se *SchedulerLookupError
	return errors.As(err, &se)
}
