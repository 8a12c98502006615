// Package channel maps intake outcomes onto what each transport reports: an HTTP status and
// body for the API, a process exit code for the mail pipe.
package channel

import (
	"net/http"

	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// Exit codes of the pipe channel, from sysexits.h.
const (
	ExitOK          = 0
	ExitDataErr     = 65
	ExitNoInput     = 66
	ExitUnavailable = 69
	ExitTempFail    = 75
	ExitNoPerm      = 77
)

// MsgRetry is reported when processing finished without a ticket or an error.
const MsgRetry = "Request failed - retry again!"

// Outcome labels used in logs and metrics.
const (
	OutcomeCreated = "created"
)

// ErrorBody is the JSON document the API writes for a failed request.
type ErrorBody struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Reply is a translated outcome. Code is an HTTP status for the API and an exit code for
// the pipe. Temporary marks failures the sender should retry.
type Reply struct {
	Code      int
	Ticket    string
	Error     *ErrorBody
	Outcome   string
	Temporary bool
}

// Translator turns the result of one intake request into a channel reply.
type Translator interface {
	Translate(ticket *models.Ticket, err error) Reply
}

// API translates for the HTTP channel.
type API struct{}

// Pipe translates for the mail pipe.
type Pipe struct{}

func (API) Translate(ticket *models.Ticket, err error) Reply {
	ie, ok := classify(ticket, err)
	if ok {
		return Reply{Code: http.StatusCreated, Ticket: ticket.Number, Outcome: OutcomeCreated}
	}
	return Reply{
		Code:      apiStatus(ie),
		Error:     errorBody(ie),
		Outcome:   ie.Kind.String(),
		Temporary: temporary(ie.Kind),
	}
}

func (Pipe) Translate(ticket *models.Ticket, err error) Reply {
	ie, ok := classify(ticket, err)
	if ok {
		return Reply{Code: ExitOK, Ticket: ticket.Number, Outcome: OutcomeCreated}
	}
	return Reply{
		Code:      exitCode(ie.Kind),
		Error:     errorBody(ie),
		Outcome:   ie.Kind.String(),
		Temporary: temporary(ie.Kind),
	}
}

// classify reports ok for a created ticket. A missing ticket without an error is treated
// as unsupported content.
func classify(ticket *models.Ticket, err error) (*intake.Error, bool) {
	if err != nil {
		return intake.AsError(err), false
	}
	if ticket == nil {
		return intake.Unsupported(416, MsgRetry), false
	}
	return nil, true
}

func apiStatus(ie *intake.Error) int {
	switch ie.Kind {
	case intake.KindStructural, intake.KindValidation:
		return http.StatusBadRequest
	case intake.KindDenied:
		if ie.Code == http.StatusUnauthorized || ie.Code == http.StatusForbidden {
			return ie.Code
		}
		return http.StatusForbidden
	case intake.KindUnsupported:
		switch ie.Code {
		case http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType,
			http.StatusRequestedRangeNotSatisfiable, http.StatusExpectationFailed, http.StatusNotImplemented:
			return ie.Code
		}
		return http.StatusUnsupportedMediaType
	case intake.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func exitCode(k intake.Kind) int {
	switch k {
	case intake.KindStructural, intake.KindValidation:
		return ExitNoInput
	case intake.KindDenied:
		return ExitNoPerm
	case intake.KindUnsupported:
		return ExitDataErr
	case intake.KindUnavailable:
		return ExitUnavailable
	default:
		return ExitTempFail
	}
}

func temporary(k intake.Kind) bool {
	return k == intake.KindUnavailable || k == intake.KindUnknown
}

func errorBody(ie *intake.Error) *ErrorBody {
	body := &ErrorBody{Error: ie.Message()}
	if ie.Kind == intake.KindValidation && ie.Errors != nil {
		body.Errors = ie.Errors.Map()
	}
	return body
}
