// Package shared содержит ошибки, общие для всех доменных пакетов.
package shared

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════
// БАЗОВЫЕ ВИДЫ ОШИБОК
// ═══════════════════════════════════════════════════════════════════════════

// Виды ошибок. Проверяются через errors.Is, в том числе сквозь DomainError.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidID       = errors.New("invalid ID")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrNotSupported    = errors.New("not supported")

	// ErrIllegalState — операция невозможна в текущем состоянии объекта.
	ErrIllegalState = errors.New("illegal state")
	// ErrInvalidOperation — недопустимый переход (например, Pause вне Running).
	ErrInvalidOperation = errors.New("invalid operation")

	ErrUnauthorized = errors.New("unauthorized")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// ═══════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ═══════════════════════════════════════════════════════════════════════════

// DomainError — ошибка с контекстом: где (Domain.Op), какого вида (Kind),
// что случилось (Message) и, возможно, из-за чего (Err).
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap отдаёт и вид, и причину, поэтому errors.Is и errors.As видят оба.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewDomainError создаёт ошибку без причины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError создаёт ошибку с причиной err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ═══════════════════════════════════════════════════════════════════════════
// ОШИБКИ ПО ДОМЕНАМ
// ═══════════════════════════════════════════════════════════════════════════

// Студенты и хранилище.
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Add", ErrAlreadyExists, "student already exists")
	ErrInvalidStudentID     = NewDomainError("student", "Validate", ErrInvalidID, "invalid student ID")
	ErrInvalidThreshold     = NewDomainError("student", "FuzzySearch", ErrValueOutOfRange, "similarity threshold must be between 0 and 1")
)

// Поллер посещаемости.
var (
	ErrNilProfile       = NewDomainError("poller", "AddProfile", ErrInvalidArgument, "profile cannot be nil")
	ErrNoProfiles       = NewDomainError("poller", "Build", ErrValidation, "at least one profile is required")
	ErrInvalidInterval  = NewDomainError("poller", "Build", ErrValueOutOfRange, "polling interval must be positive")
	ErrPollerDisposed   = NewDomainError("poller", "Start", ErrIllegalState, "poller has been disposed")
	ErrUnknownTimeRange = NewDomainError("attendance", "ParseTimeWindow", ErrInvalidFormat, "unknown time window preset")
)

// Краулер.
var (
	ErrCrawlerAlreadyStarted = NewDomainError("crawler", "Start", ErrInvalidOperation, "crawler can only be started once")
	ErrSchoolYearLookup      = NewDomainError("crawler", "Start", ErrExternalService, "failed to get current school year")
)

// Bark.
var ErrBarkFailed = NewDomainError("bark", "Send", ErrExternalService, "Bark push request failed")

// ═══════════════════════════════════════════════════════════════════════════
// КЛАССИФИКАЦИЯ
// ═══════════════════════════════════════════════════════════════════════════

var (
	validationKinds = []error{ErrValidation, ErrInvalidArgument, ErrInvalidID, ErrEmptyValue, ErrValueOutOfRange, ErrInvalidFormat}
	externalKinds   = []error{ErrExternalService, ErrServiceUnavailable, ErrTimeout, ErrRateLimited}
	retryableKinds  = []error{ErrServiceUnavailable, ErrTimeout, ErrRateLimited}
)

func isAny(err error, kinds []error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation — ошибка во входных данных; повтор не поможет.
func IsValidation(err error) bool { return isAny(err, validationKinds) }

func IsExternalService(err error) bool { return isAny(err, externalKinds) }

// IsRetryable — временный отказ внешней системы.
func IsRetryable(err error) bool { return isAny(err, retryableKinds) }
