package postmaster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-intake/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-intake/internal/intake"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

type stubProcessor struct {
	meta *filters.MessageContext
	msg  *connector.FetchedMessage
	res  Result
	err  error
}

func (s *stubProcessor) Process(_ context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	s.meta = meta
	s.msg = msg
	return s.res, s.err
}

type stubFilter struct {
	err error
}

func (f stubFilter) ID() string { return "stub" }

func (f stubFilter) Apply(_ context.Context, m *filters.MessageContext) error {
	if f.err != nil {
		return f.err
	}
	m.Annotations["seen"] = true
	return nil
}

func fetched() *connector.FetchedMessage {
	msg := &connector.FetchedMessage{UID: "1", Connector: "pop3", Raw: []byte("Subject: hi\r\n\r\nbody")}
	msg.WithAccount(connector.Account{Name: "support", AllowTrustedHeaders: true})
	return msg
}

func TestServiceDeliverRunsChainAndProcessor(t *testing.T) {
	proc := &stubProcessor{res: Result{Action: ActionNewTicket, Object: models.ObjectRef{Type: models.ObjectTicket, ID: 1}}}
	svc := Service{FilterChain: filters.NewChain(stubFilter{}), Handler: proc}
	msg := fetched()

	res, err := svc.Deliver(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ActionNewTicket, res.Action)
	assert.Same(t, msg, proc.msg)
	require.NotNil(t, proc.meta)
	assert.Equal(t, true, proc.meta.Annotations["seen"])
	assert.Equal(t, "support", proc.meta.Account.Name)
}

func TestServiceDeliverStopsOnFilterError(t *testing.T) {
	proc := &stubProcessor{}
	svc := Service{FilterChain: filters.NewChain(stubFilter{err: errors.New("boom")}), Handler: proc}

	_, err := svc.Deliver(context.Background(), fetched())
	require.Error(t, err)
	assert.Nil(t, proc.msg)
}

func validationFailure() error {
	v := intake.NewValidationErrors()
	v.Add("email", "Valid email address required")
	return v.Err()
}

func TestServiceHandle(t *testing.T) {
	testCases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"validation consumes message", validationFailure(), false},
		{"unsupported consumes message", intake.Unsupported(417, "Unable to post to matched thread"), false},
		{"unavailable keeps message", &intake.Error{Kind: intake.KindUnavailable, Code: 503}, true},
		{"unknown keeps message", errors.New("disk full"), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			proc := &stubProcessor{res: Result{Action: ActionFollowUp}, err: tc.err}
			svc := Service{Handler: proc, Logger: zap.New(core)}

			err := svc.Handle(context.Background(), fetched())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 1, logs.Len())
		})
	}
}
