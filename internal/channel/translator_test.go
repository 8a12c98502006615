package channel

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

func validationError() error {
	v := intake.NewValidationErrors()
	v.Add("email", "Valid email address required")
	v.Add("subject", "Issue Summary is required")
	return v.Err()
}

func deniedError(errno int) error {
	v := intake.NewValidationErrors()
	v.Deny(errno, "Banned email - spam@example.com")
	return v.Err()
}

func TestTranslateSuccess(t *testing.T) {
	ticket := &models.Ticket{ID: 4, Number: "100004"}

	api := API{}.Translate(ticket, nil)
	assert.Equal(t, http.StatusCreated, api.Code)
	assert.Equal(t, "100004", api.Ticket)
	assert.Nil(t, api.Error)
	assert.Equal(t, OutcomeCreated, api.Outcome)

	pipe := Pipe{}.Translate(ticket, nil)
	assert.Equal(t, ExitOK, pipe.Code)
	assert.False(t, pipe.Temporary)
}

func TestTranslateFailures(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		apiCode   int
		exitCode  int
		temporary bool
	}{
		{"structural", &intake.Error{Kind: intake.KindStructural, Code: 400, Msg: intake.MsgInvalidData}, 400, ExitNoInput, false},
		{"validation", validationError(), 400, ExitNoInput, false},
		{"key not authorized", intake.KeyNotAuthorized(), 401, ExitNoPerm, false},
		{"ticket denied", deniedError(403), 403, ExitNoPerm, false},
		{"unsupported media", intake.Unsupported(415, "Unsupported content type"), 415, ExitDataErr, false},
		{"not implemented", intake.Unsupported(501, "XML extension not supported"), 501, ExitDataErr, false},
		{"post failure", intake.Unsupported(417, "Unable to post to matched thread"), 417, ExitDataErr, false},
		{"value too long", &intake.Error{Kind: intake.KindUnsupported, Code: 413, Msg: intake.MsgTooLong}, 413, ExitDataErr, false},
		{"unsupported without code", &intake.Error{Kind: intake.KindUnsupported}, 415, ExitDataErr, false},
		{"unavailable", &intake.Error{Kind: intake.KindUnavailable, Code: 503}, 503, ExitUnavailable, true},
		{"unknown", &intake.Error{Kind: intake.KindUnknown, Msg: intake.MsgUnknown}, 500, ExitTempFail, true},
		{"foreign error", errors.New("disk full"), 500, ExitTempFail, true},
		{"wrapped", fmt.Errorf("deliver: %w", intake.KeyNotAuthorized()), 401, ExitNoPerm, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api := API{}.Translate(nil, tc.err)
			assert.Equal(t, tc.apiCode, api.Code)
			assert.Equal(t, tc.temporary, api.Temporary)
			require.NotNil(t, api.Error)
			assert.False(t, api.Error.Success)

			pipe := Pipe{}.Translate(nil, tc.err)
			assert.Equal(t, tc.exitCode, pipe.Code)
			assert.Equal(t, tc.temporary, pipe.Temporary)
		})
	}
}

func TestTranslateMissingTicket(t *testing.T) {
	reply := Pipe{}.Translate(nil, nil)
	assert.Equal(t, ExitDataErr, reply.Code)
	assert.Equal(t, MsgRetry, reply.Error.Error)

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, API{}.Translate(nil, nil).Code)
}

func TestErrorBody(t *testing.T) {
	t.Run("validation lists fields", func(t *testing.T) {
		body := API{}.Translate(nil, validationError()).Error
		assert.Contains(t, body.Error, intake.MsgValidation)
		assert.Equal(t, map[string]string{
			"email":   "Valid email address required",
			"subject": "Issue Summary is required",
		}, body.Errors)
	})

	t.Run("denial hides reasons", func(t *testing.T) {
		body := API{}.Translate(nil, deniedError(403)).Error
		assert.Equal(t, intake.MsgTicketDenied, body.Error)
		assert.Empty(t, body.Errors)
	})

	t.Run("cause is not exposed", func(t *testing.T) {
		err := &intake.Error{Kind: intake.KindUnknown, Msg: intake.MsgUnknown, Cause: errors.New("pq: password authentication failed")}
		body := API{}.Translate(nil, err).Error
		assert.Equal(t, intake.MsgUnknown, body.Error)
	})
}

func TestTranslatorInterface(t *testing.T) {
	for _, tr := range []Translator{API{}, Pipe{}} {
		assert.Equal(t, "validation", tr.Translate(nil, validationError()).Outcome)
	}
}
