package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	status int
	err    error
	got    *sgmail.SGMailV3
}

func (f *fakeSender) SendWithContext(_ context.Context, m *sgmail.SGMailV3) (*rest.Response, error) {
	f.got = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "{}"}, nil
}

func TestAlertMessage(t *testing.T) {
	m, err := alertMessage(" ops@whatsdish.test ", "alerts@whatsdish.test", "cart reconciled", "item=<burger>")
	require.NoError(t, err)

	assert.Equal(t, alertSenderName, m.From.Name)
	assert.Equal(t, "ops@whatsdish.test", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "alerts@whatsdish.test", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "item=<burger>", m.Content[0].Value)
	assert.Equal(t, "<pre>item=&lt;burger&gt;</pre>", m.Content[1].Value)

	_, err = alertMessage("", "alerts@whatsdish.test", "s", "b")
	assert.Error(t, err)
}

func TestSendGridClient_Send(t *testing.T) {
	ctx := context.Background()

	ok := &fakeSender{status: 202}
	require.NoError(t, (&SendGridClient{sender: ok}).Send(ctx, "a@x", "b@x", "s", "b"))
	assert.NotNil(t, ok.got)

	err := (&SendGridClient{sender: &fakeSender{status: 401}}).Send(ctx, "a@x", "b@x", "s", "b")
	assert.ErrorIs(t, err, ErrAlertRejected)

	boom := errors.New("dial tcp: timeout")
	err = (&SendGridClient{sender: &fakeSender{err: boom}}).Send(ctx, "a@x", "b@x", "s", "b")
	assert.ErrorIs(t, err, boom)

	assert.Error(t, NewSendGridClient(" ").Send(ctx, "a@x", "b@x", "s", "b"))
}
