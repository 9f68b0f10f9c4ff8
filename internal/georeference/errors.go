package georeference

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindStateConflict
	KindExecution
	KindMetadata
	KindScheduling
	KindSync
)

var kindNames = map[Kind]string{
	KindInternal:      "internal",
	KindNotFound:      "not_found",
	KindValidation:    "validation",
	KindStateConflict: "state_conflict",
	KindExecution:     "execution_failure",
	KindMetadata:      "metadata_failure",
	KindScheduling:    "scheduling_failure",
	KindSync:          "sync_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus is the response status the API uses for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindExecution:
		return http.StatusBadRequest
	case KindStateConflict:
		return http.StatusConflict
	case KindScheduling:
		return http.StatusServiceUnavailable
	case KindSync:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified georeference failure. Msg is safe to show to API
// callers; Err keeps the cause for logs and errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
