package intake

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrors(t *testing.T) {
	t.Run("empty yields nil", func(t *testing.T) {
		assert.NoError(t, NewValidationErrors().Err())
		var v *ValidationErrors
		assert.Zero(t, v.Len())
	})

	t.Run("keeps insertion order and first message", func(t *testing.T) {
		v := NewValidationErrors()
		v.Add("subject", "This field is required")
		v.Add("email", "Enter a valid email address")
		v.Add("subject", "ignored")

		assert.Equal(t, []string{"subject", "email"}, v.Fields())
		assert.Equal(t, "subject: This field is required\nemail: Enter a valid email address", v.Error())

		err := v.Err()
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, MsgValidation+":\n"+v.Error(), AsError(err).Message())
	})

	t.Run("errno short-circuits to a denial", func(t *testing.T) {
		v := NewValidationErrors()
		v.Add("subject", "This field is required")
		v.Deny(403, "Banned email")

		err := v.Err()
		assert.ErrorIs(t, err, ErrDenied)
		assert.NotErrorIs(t, err, ErrValidation)
		ie := AsError(err)
		assert.Equal(t, 403, ie.Code)
		assert.Equal(t, MsgTicketDenied, ie.Message())
		assert.Equal(t, map[string]string{"subject": "This field is required"}, v.Map())
	})

	t.Run("other errno is a validation failure", func(t *testing.T) {
		v := NewValidationErrors()
		v.Deny(409, "Duplicate submission")

		err := v.Err()
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrDenied)
		ie := AsError(err)
		assert.Equal(t, 400, ie.Code)
		assert.Equal(t, 409, v.Errno())
		assert.Contains(t, ie.Message(), "errno: Duplicate submission")
	})
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	testCases := []struct {
		name string
		err  error
		kind Kind
		code int
	}{
		{"structural", structural(cause), KindStructural, 400},
		{"key", KeyNotAuthorized(), KindDenied, 401},
		{"unsupported", Unsupported(501, "XML not supported"), KindUnsupported, 501},
		{"unavailable", unavailable(cause), KindUnavailable, 503},
		{"unknown", unknown(cause), KindUnknown, 500},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tc.err)
			assert.Equal(t, tc.kind, KindOf(wrapped))
			assert.Equal(t, tc.code, AsError(wrapped).Code)
		})
	}

	t.Run("foreign errors are unknown", func(t *testing.T) {
		ie := AsError(cause)
		require.NotNil(t, ie)
		assert.Equal(t, KindUnknown, ie.Kind)
		assert.ErrorIs(t, ie, cause)
		assert.Equal(t, MsgUnknown, ie.Message())
	})
}
