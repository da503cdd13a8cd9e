package source

import (
	"context"
	"errors"
	"net"
)

type Kind int

const (
	KindQuery Kind = iota
	KindConnect
	KindPermission
	KindModule
	KindSyntax
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "ConnectError"
	case KindPermission:
		return "PermissionError"
	case KindModule:
		return "ModuleNotFoundError"
	case KindSyntax:
		return "SyntaxError"
	case KindServer:
		return "ServerError"
	default:
		return "QueryError"
	}
}

// RequestError is what a content source reports for a failed request.
// Retryable is the client's own verdict.
type RequestError struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func ConnectError(err error) *RequestError {
	return &RequestError{Kind: KindConnect, Message: err.Error(), Retryable: true, Err: err}
}

// IsConnectionError covers RequestError{Kind: KindConnect} and raw network errors.
func IsConnectionError(err error) bool {
	if re, ok := AsRequestError(err); ok {
		return re.Kind == KindConnect
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
