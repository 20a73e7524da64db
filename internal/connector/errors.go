package connector

import (
	"errors"
	"fmt"
)

// Ошибки коннекторов.
var (
	// ErrUnknownConnector — коннектор не зарегистрирован.
	ErrUnknownConnector = errors.New("unknown connector")

	// ErrInvalidConfig — невалидный payload шага.
	ErrInvalidConfig = errors.New("invalid connector config")

	// ErrHTTPRequest — HTTP-запрос не выполнен.
	ErrHTTPRequest = errors.New("http request failed")
)

// PermanentError — ошибка, повтор которой не поможет.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf — Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent проверяет, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
