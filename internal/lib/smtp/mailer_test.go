package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) Mail(from string) error { return m.Called(from).Error(0) }
func (m *ClientMock) Rcpt(to string) error   { return m.Called(to).Error(0) }
func (m *ClientMock) Quit() error            { return m.Called().Error(0) }
func (m *ClientMock) Close() error           { return m.Called().Error(0) }

func (m *ClientMock) Data() (io.WriteCloser, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

type DialerMock struct {
	mock.Mock
}

func (m *DialerMock) Connect(ctx context.Context) (Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Client), args.Error(1)
}

func (m *DialerMock) From() string { return m.Called().String(0) }

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestMailer_Send(t *testing.T) {
	client := new(ClientMock)
	dialer := new(DialerMock)
	buf := &bufferCloser{}

	dialer.On("From").Return("studio@example.com")
	dialer.On("Connect", mock.Anything).Return(client, nil)
	client.On("Mail", "studio@example.com").Return(nil)
	client.On("Rcpt", "anna@example.com").Return(nil)
	client.On("Data").Return(buf, nil)
	client.On("Quit").Return(nil)
	client.On("Close").Return(nil)

	m := NewMailer(dialer, newNoopLogger())
	err := m.Send(context.Background(), "anna@example.com", "Напоминание", "Занятие завтра")
	require.NoError(t, err)

	assert.True(t, buf.closed)
	assert.Contains(t, buf.String(), "To: anna@example.com\r\n")
	assert.Contains(t, buf.String(), "Subject: =?utf-8?q?")
	assert.Contains(t, buf.String(), "\r\n\r\nЗанятие завтра")
	client.AssertExpectations(t)
	dialer.AssertExpectations(t)
}

func TestMailer_SendErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *ClientMock, d *DialerMock)
	}{
		{
			name: "connect failed",
			setup: func(_ *ClientMock, d *DialerMock) {
				d.On("Connect", mock.Anything).Return(nil, errors.New("dial tcp: refused"))
			},
		},
		{
			name: "recipient rejected",
			setup: func(c *ClientMock, d *DialerMock) {
				d.On("Connect", mock.Anything).Return(c, nil)
				c.On("Mail", "studio@example.com").Return(nil)
				c.On("Rcpt", "anna@example.com").Return(errors.New("550 no such user"))
				c.On("Close").Return(nil)
			},
		},
		{
			name: "data failed",
			setup: func(c *ClientMock, d *DialerMock) {
				d.On("Connect", mock.Anything).Return(c, nil)
				c.On("Mail", "studio@example.com").Return(nil)
				c.On("Rcpt", "anna@example.com").Return(nil)
				c.On("Data").Return(nil, errors.New("554 transaction failed"))
				c.On("Close").Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(ClientMock)
			dialer := new(DialerMock)
			dialer.On("From").Return("studio@example.com")
			tt.setup(client, dialer)

			err := NewMailer(dialer, newNoopLogger()).Send(context.Background(), "anna@example.com", "s", "b")
			assert.Error(t, err)
		})
	}
}

func TestMailer_SendEmptyRecipient(t *testing.T) {
	dialer := new(DialerMock)
	err := NewMailer(dialer, newNoopLogger()).Send(context.Background(), " ", "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipient)
	dialer.AssertNotCalled(t, "Connect")
}
