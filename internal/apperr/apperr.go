// Package apperr описывает ошибки предметной области: у каждой есть вид (Kind),
// стабильный код и сообщение для пользователя. Вид отделяет нарушения бизнес-правил
// от инфраструктурных сбоев.
package apperr

import (
	"errors"
	"fmt"
)

// Kind вид ошибки.
type Kind int

// Виды ошибок.
const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindInsufficientCredit
	KindInvalidInput
	KindTransientDispatch
	KindConcurrencyConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindInvalidInput:
		return "invalid_input"
	case KindTransientDispatch:
		return "transient_dispatch"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	default:
		return "internal"
	}
}

// Code стабильный код ошибки.
type Code string

// Коды ошибок.
const (
	CodeSubscriptionNotFound  Code = "SUBSCRIPTION_NOT_FOUND"
	CodeBookingNotFound       Code = "BOOKING_NOT_FOUND"
	CodeNotificationNotFound  Code = "NOTIFICATION_NOT_FOUND"
	CodeClientNotFound        Code = "CLIENT_NOT_FOUND"
	CodeInactiveSubscription  Code = "INACTIVE_SUBSCRIPTION"
	CodeNoCreditsRemaining    Code = "NO_CREDITS_REMAINING"
	CodeNoActiveSubscription  Code = "NO_ACTIVE_SUBSCRIPTION"
	CodeSubscriptionNotOwned  Code = "SUBSCRIPTION_NOT_OWNED"
	CodeBookingNotCancellable Code = "BOOKING_NOT_CANCELLABLE"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeValidationFailed      Code = "VALIDATION_FAILED"
	CodeDispatchFailed        Code = "DISPATCH_FAILED"
	CodeConcurrencyConflict   Code = "CONCURRENCY_CONFLICT"
	CodeStorageUnavailable    Code = "STORAGE_UNAVAILABLE"
)

// Error ошибка приложения.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает по коду, а если у цели код пустой, то по виду.
// Так errors.Is(err, ErrInvalidState) срабатывает для любой ошибки этого вида.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// New создаёт ошибку.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf копирует вид и код base, подставляя новое сообщение.
func Newf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap копирует base и добавляет причину.
func Wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// Сторожевые значения по видам.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState        = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInsufficientCredit  = &Error{Kind: KindInsufficientCredit, Message: "insufficient credit"}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrTransientDispatch   = &Error{Kind: KindTransientDispatch, Message: "dispatch failed"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrent modification"}
)

// Конкретные ошибки.
var (
	ErrSubscriptionNotFound  = New(KindNotFound, CodeSubscriptionNotFound, "subscription not found")
	ErrBookingNotFound       = New(KindNotFound, CodeBookingNotFound, "booking not found")
	ErrNotificationNotFound  = New(KindNotFound, CodeNotificationNotFound, "notification not found")
	ErrClientNotFound        = New(KindNotFound, CodeClientNotFound, "client not found")
	ErrInactiveSubscription  = New(KindInvalidState, CodeInactiveSubscription, "subscription is not active")
	ErrNoCreditsRemaining    = New(KindInsufficientCredit, CodeNoCreditsRemaining, "no classes left on the subscription")
	ErrNoActiveSubscription  = New(KindInvalidState, CodeNoActiveSubscription, "client has no active subscription")
	ErrSubscriptionNotOwned  = New(KindInvalidInput, CodeSubscriptionNotOwned, "subscription belongs to another client")
	ErrBookingNotCancellable = New(KindInvalidState, CodeBookingNotCancellable, "booking can no longer be cancelled")
	ErrInvalidTransition     = New(KindInvalidState, CodeInvalidTransition, "operation is not allowed in the current status")
	ErrValidation            = New(KindInvalidInput, CodeValidationFailed, "validation failed")
	ErrDispatchFailed        = New(KindTransientDispatch, CodeDispatchFailed, "notification dispatch failed")
	ErrConflict              = New(KindConcurrencyConflict, CodeConcurrencyConflict, "record was modified concurrently")
	ErrStorageUnavailable    = New(KindInternal, CodeStorageUnavailable, "storage is unavailable")
)

// KindOf возвращает вид первой ошибки приложения в цепочке или KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf возвращает код первой ошибки приложения в цепочке.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBusiness сообщает, что ошибка нарушает бизнес-правило и её нужно показать пользователю,
// а не повторять.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidState, KindInsufficientCredit, KindInvalidInput:
		return true
	default:
		return false
	}
}
