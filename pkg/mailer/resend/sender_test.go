package resend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/pkg/mailer"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, mailer.ErrInvalidConfig)

	s, err := New(Config{APIKey: "re_test"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSender_Request(t *testing.T) {
	t.Parallel()

	s, err := New(Config{APIKey: "re_test", SenderEmail: "noreply@example.com", SenderName: "CHES"})
	require.NoError(t, err)

	req := s.request(&mailer.Email{
		To:      []string{"a@example.com"},
		CC:      []string{"c@example.com"},
		Subject: "Hi",
		HTML:    "<p>Hi</p>",
		Tags:    mailer.Tags{"tx": "123"},
		Attachments: []mailer.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Content: []byte("x")},
		},
	})

	assert.Equal(t, "CHES <noreply@example.com>", req.From)
	assert.Equal(t, []string{"a@example.com"}, req.To)
	assert.Equal(t, []string{"c@example.com"}, req.Cc)
	require.Len(t, req.Attachments, 1)
	assert.Equal(t, "a.txt", req.Attachments[0].Filename)
	require.Len(t, req.Tags, 1)
	assert.Equal(t, "123", req.Tags[0].Value)
}

func TestSender_RequestKeepsExplicitFrom(t *testing.T) {
	t.Parallel()

	s, err := New(Config{APIKey: "re_test", SenderEmail: "noreply@example.com"})
	require.NoError(t, err)

	req := s.request(&mailer.Email{From: "team@example.com", To: []string{"a@example.com"}})
	assert.Equal(t, "team@example.com", req.From)
}

func TestTagValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "true"},
		{"allowed", "news_2024-q1", "news_2024-q1"},
		{"spaces and dots", "spring sale.v2", "spring_sale_v2"},
		{"unicode", "café", "caf_"},
		{"long", strings.Repeat("a", 300), strings.Repeat("a", 256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tagValue(tt.in))
		})
	}
}

func TestSender_RequestSortsTags(t *testing.T) {
	t.Parallel()

	s, err := New(Config{APIKey: "re_test", SenderEmail: "noreply@example.com"})
	require.NoError(t, err)

	req := s.request(&mailer.Email{To: []string{"a@example.com"}, Tags: mailer.SimpleTags("b", "a")})
	require.Len(t, req.Tags, 2)
	assert.Equal(t, "a", req.Tags[0].Name)
	assert.Equal(t, "true", req.Tags[0].Value)
	assert.Equal(t, "b", req.Tags[1].Name)
}
