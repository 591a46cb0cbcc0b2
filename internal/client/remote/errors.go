package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind класс ошибки удаленного хранилища
type Kind int

const (
	// KindTransient сетевая ошибка или таймаут: повтор с backoff
	KindTransient Kind = iota
	// KindRejected сервер отклонил мутацию (конфликт версий): принудительный pull и повтор
	KindRejected
	// KindPermissionDenied недостаточно прав: в UI, без повторов
	KindPermissionDenied
	// KindSerialization неверная форма данных: повтор до N раз, затем отказ
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindPermissionDenied:
		return "permission_denied"
	case KindSerialization:
		return "serialization"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error ошибка удаленного вызова с классом
type Error struct {
	Err     error
	Op      string
	Message string
	Kind    Kind
	Status  int
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создает ошибку заданного класса
func NewError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindForStatus сопоставляет HTTP статус классу ошибки
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusConflict, http.StatusGone:
		return KindRejected
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermissionDenied
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return KindSerialization
	}
	return KindTransient
}

// Classify возвращает класс любой ошибки.
// Неизвестные ошибки считаются временными: повтор безопасен благодаря ключам идемпотентности.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	var (
		netErr         net.Error
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		unsupportedErr *json.UnsupportedValueError
		unsupportedTyp *json.UnsupportedTypeError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		return KindTransient
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.As(err, &unsupportedErr), errors.As(err, &unsupportedTyp):
		return KindSerialization
	}
	return KindTransient
}

// IsRetryable сообщает, следует ли повторять операцию
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
