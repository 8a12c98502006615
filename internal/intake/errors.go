package intake

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a request failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindStructural
	KindDenied
	KindValidation
	KindUnsupported
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindDenied:
		return "denied"
	case KindValidation:
		return "validation"
	case KindUnsupported:
		return "unsupported"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinels matched with errors.Is against any *Error of the same kind.
var (
	ErrUnknown     = errors.New("unknown failure")
	ErrStructural  = errors.New("structural error")
	ErrDenied      = errors.New("authorization denied")
	ErrValidation  = errors.New("validation failed")
	ErrUnsupported = errors.New("unsupported content")
	ErrUnavailable = errors.New("service unavailable")
)

func (k Kind) sentinel() error {
	switch k {
	case KindStructural:
		return ErrStructural
	case KindDenied:
		return ErrDenied
	case KindValidation:
		return ErrValidation
	case KindUnsupported:
		return ErrUnsupported
	case KindUnavailable:
		return ErrUnavailable
	default:
		return ErrUnknown
	}
}

// Messages reported to API clients.
const (
	MsgInvalidData      = "Unexpected or invalid data received"
	MsgKeyNotAuthorized = "API key not authorized"
	MsgTicketDenied     = "Ticket denied"
	MsgValidation       = "Unable to create new ticket: validation errors"
	MsgUnknown          = "Unable to create new ticket: unknown error"
	MsgTooLong          = "Unable to create new ticket: value too long"
)

// Error is a classified intake failure. Code refines the kind where the transport
// distinguishes cases: 401 or 403 for denials, 415, 416, 417 or 501 for unsupported content.
type Error struct {
	Kind   Kind
	Code   int
	Msg    string
	Errors *ValidationErrors
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Message is the client facing text, without the internal cause.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.sentinel().Error()
}

// KindOf classifies any error. Errors that are not *Error are unknown.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUnknown
}

// AsError returns err as *Error, wrapping foreign errors as unknown failures.
func AsError(err error) *Error {
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	return &Error{Kind: KindUnknown, Msg: MsgUnknown, Cause: err}
}

func structural(cause error) *Error {
	return &Error{Kind: KindStructural, Code: 400, Msg: MsgInvalidData, Cause: cause}
}

// Unsupported builds an unsupported content error with the given status code.
func Unsupported(code int, msg string) *Error {
	return &Error{Kind: KindUnsupported, Code: code, Msg: msg}
}

// KeyNotAuthorized is returned for a missing, unknown or unprivileged API key.
func KeyNotAuthorized() *Error {
	return &Error{Kind: KindDenied, Code: 401, Msg: MsgKeyNotAuthorized}
}

func unavailable(cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: 503, Msg: "Service unavailable", Cause: cause}
}

func tooLong(cause error) *Error {
	return &Error{Kind: KindUnsupported, Code: 413, Msg: MsgTooLong, Cause: cause}
}

func unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, Code: 500, Msg: MsgUnknown, Cause: cause}
}

// ValidationErrors keeps field messages in insertion order. The reserved errno field marks
// a denial; once set it short-circuits ordinary reporting.
type ValidationErrors struct {
	keys  []string
	msgs  map[string]string
	errno int
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{msgs: make(map[string]string)}
}

// Add records msg for field. The first message per field is kept.
func (v *ValidationErrors) Add(field, msg string) {
	if v.msgs == nil {
		v.msgs = make(map[string]string)
	}
	if _, ok := v.msgs[field]; ok {
		return
	}
	v.keys = append(v.keys, field)
	v.msgs[field] = msg
}

// Deny sets errno.
func (v *ValidationErrors) Deny(errno int, reason string) {
	v.errno = errno
	v.Add("errno", reason)
}

func (v *ValidationErrors) Errno() int { return v.errno }

func (v *ValidationErrors) Has(field string) bool {
	_, ok := v.msgs[field]
	return ok
}

func (v *ValidationErrors) Get(field string) string { return v.msgs[field] }

func (v *ValidationErrors) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

func (v *ValidationErrors) Fields() []string {
	return append([]string(nil), v.keys...)
}

// Map returns the messages without errno.
func (v *ValidationErrors) Map() map[string]string {
	out := make(map[string]string, len(v.keys))
	for _, k := range v.keys {
		if k == "errno" {
			continue
		}
		out[k] = v.msgs[k]
	}
	return out
}

// Error renders "field: message" lines in insertion order.
func (v *ValidationErrors) Error() string {
	lines := make([]string, 0, len(v.keys))
	for _, k := range v.keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, v.msgs[k]))
	}
	return strings.Join(lines, "\n")
}

// Err converts the collected messages into a classified error, or nil when empty.
// errno 403 yields "Ticket denied"; any other errno is reported as a validation failure.
func (v *ValidationErrors) Err() error {
	if v.Len() == 0 {
		return nil
	}
	if v.errno == 403 {
		return &Error{Kind: KindDenied, Code: 403, Msg: MsgTicketDenied, Errors: v}
	}
	return &Error{Kind: KindValidation, Code: 400, Msg: MsgValidation + ":\n" + v.Error(), Errors: v}
}
