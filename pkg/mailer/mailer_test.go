package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender is a mock implementation of Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, email *Email) (Receipt, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Receipt), args.Error(1)
}

func validEmail() *Email {
	return &Email{
		To:      []string{"alice@example.com"},
		Subject: "Hello",
		Text:    "Hi Alice",
	}
}

func TestMailer_Send_Success(t *testing.T) {
	t.Parallel()

	mockSender := &MockSender{}
	m := New(mockSender, Config{DefaultFrom: "noreply@example.com"})

	mockSender.On("Send", mock.Anything, mock.MatchedBy(func(email *Email) bool {
		return email.From == "noreply@example.com" && email.To[0] == "alice@example.com"
	})).Return(Receipt{ID: "r-1", Provider: "mock"}, nil)

	receipt, err := m.Send(context.Background(), validEmail())

	require.NoError(t, err)
	assert.Equal(t, "r-1", receipt.ID)
	mockSender.AssertExpectations(t)
}

func TestMailer_Send_KeepsExplicitFrom(t *testing.T) {
	t.Parallel()

	mockSender := &MockSender{}
	m := New(mockSender, Config{DefaultFrom: "noreply@example.com"})

	email := validEmail()
	email.From = "team@example.com"

	mockSender.On("Send", mock.Anything, mock.MatchedBy(func(e *Email) bool {
		return e.From == "team@example.com"
	})).Return(Receipt{ID: "r-2"}, nil)

	_, err := m.Send(context.Background(), email)
	require.NoError(t, err)
	mockSender.AssertExpectations(t)
}

func TestMailer_Send_AddsPriorityHeaders(t *testing.T) {
	t.Parallel()

	mockSender := &MockSender{}
	m := New(mockSender, Config{DefaultFrom: "noreply@example.com"})

	email := validEmail()
	email.Priority = PriorityHigh
	email.Headers = map[string]string{"X-Custom": "1"}

	mockSender.On("Send", mock.Anything, mock.MatchedBy(func(e *Email) bool {
		return e.Headers["X-Priority"] == "1" && e.Headers["X-Custom"] == "1"
	})).Return(Receipt{ID: "r-3"}, nil)

	_, err := m.Send(context.Background(), email)
	require.NoError(t, err)
	mockSender.AssertExpectations(t)

	_, touched := email.Headers["X-Priority"]
	assert.False(t, touched, "caller headers must not be modified")
}

func TestMailer_Send_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(e *Email)
		cfg     Config
		wantErr error
	}{
		{
			name:    "no recipient",
			mutate:  func(e *Email) { e.To = nil },
			cfg:     Config{DefaultFrom: "a@example.com"},
			wantErr: ErrNoRecipient,
		},
		{
			name:    "no subject",
			mutate:  func(e *Email) { e.Subject = "" },
			cfg:     Config{DefaultFrom: "a@example.com"},
			wantErr: ErrNoSubject,
		},
		{
			name:    "no content",
			mutate:  func(e *Email) { e.Text = "" },
			cfg:     Config{DefaultFrom: "a@example.com"},
			wantErr: ErrNoContent,
		},
		{
			name:    "no sender",
			mutate:  func(*Email) {},
			cfg:     Config{},
			wantErr: ErrNoSender,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mockSender := &MockSender{}
			m := New(mockSender, tt.cfg)

			email := validEmail()
			tt.mutate(email)

			_, err := m.Send(context.Background(), email)
			require.ErrorIs(t, err, tt.wantErr)
			mockSender.AssertNotCalled(t, "Send")
		})
	}
}

func TestMailer_Send_SenderFailure(t *testing.T) {
	t.Parallel()

	mockSender := &MockSender{}
	m := New(mockSender, Config{DefaultFrom: "noreply@example.com"})

	providerErr := errors.New("provider down")
	mockSender.On("Send", mock.Anything, mock.Anything).Return(Receipt{}, providerErr)

	_, err := m.Send(context.Background(), validEmail())

	require.ErrorIs(t, err, ErrSendFailed)
	require.ErrorIs(t, err, providerErr)
}

func TestLogSender_Send(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	receipt, err := s.Send(context.Background(), validEmail())
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.ID)
	assert.Equal(t, TransportLog, receipt.Provider)
	assert.Contains(t, buf.String(), "alice@example.com")
}

func TestLogSender_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLogSender(slog.New(slog.DiscardHandler)).Send(ctx, validEmail())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSenderFunc(t *testing.T) {
	t.Parallel()

	var got *Email
	s := SenderFunc(func(_ context.Context, e *Email) (Receipt, error) {
		got = e
		return Receipt{ID: "fn"}, nil
	})

	email := validEmail()
	r, err := s.Send(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, "fn", r.ID)
	assert.Same(t, email, got)
}

func TestRecipient(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a@example.com", Recipient("", "a@example.com"))
	assert.Equal(t, "Alice <a@example.com>", Recipient("Alice", "a@example.com"))
}

func TestTagString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{struct{}{}, "true"},
		{nil, "true"},
		{"x", "x"},
		{false, "false"},
		{42, "42"},
		{int64(7), "7"},
		{1.5, "1.5"},
		{[]int{1}, "[1]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TagString(tt.in))
	}
	assert.Len(t, SimpleTags("a", "", "b"), 2)
}
