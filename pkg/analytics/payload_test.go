package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/validation"
)

func TestDecodeEvent_Valid(t *testing.T) {
	body := `{
		"event": " login_form_cta_click ",
		"url": "https://example.com/page",
		"referrer": "https://google.com",
		"device": "mobile",
		"ipAddress": "192.168.1.1",
		"timestamp": "2024-02-20T12:34:56Z",
		"trackingUserId": "user_123",
		"sessionId": "session_abc",
		"pageTitle": "Home Page",
		"pageLoadTime": 1200,
		"metadata": {"browser": "Chrome", "os": "Android", "screenSize": "1080x1920", "plan": 3}
	}`

	p, err := DecodeEvent(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "login_form_cta_click", p.Event)
	require.NotNil(t, p.PageLoadTime)
	assert.Equal(t, int64(1200), *p.PageLoadTime)
	assert.Equal(t, "Chrome", p.Metadata.Browser())
	assert.Equal(t, "Android", p.Metadata.OS())
	assert.Equal(t, "1080x1920", p.Metadata.ScreenSize())
	assert.EqualValues(t, 3, p.Metadata["plan"])

	e, err := p.toEvent("key-1", time.Date(2024, 2, 20, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 20, 12, 34, 56, 0, time.UTC), e.Timestamp)
	assert.Equal(t, "2024-02-20", e.Day())
	assert.Equal(t, "key-1", e.APIKeyID)
	assert.NotEmpty(t, e.ID)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "missing required fields",
			body: `{}`,
			want: []string{"Event name is required", "URL is required", "Timestamp is required"},
		},
		{
			name: "bad formats",
			body: `{"event":"click","url":"nope","ipAddress":"999.1.1.1","timestamp":"yesterday"}`,
			want: []string{"URL must be valid", "IP address must be valid", "Timestamp must be a valid ISO 8601 date"},
		},
		{
			name: "url too long",
			body: `{"event":"click","url":"https://example.com/` + strings.Repeat("a", 2048) + `","timestamp":"2024-02-20"}`,
			want: []string{"URL must not exceed 2048 characters"},
		},
		{
			name: "page load time not an integer",
			body: `{"event":"click","url":"https://example.com","timestamp":"2024-02-20","pageLoadTime":12.5}`,
			want: []string{"Page load time must be an integer"},
		},
		{
			name: "negative page load time",
			body: `{"event":"click","url":"https://example.com","timestamp":"2024-02-20","pageLoadTime":-1}`,
			want: []string{"Page load time must be a non-negative integer"},
		},
		{
			name: "metadata not an object",
			body: `{"event":"click","url":"https://example.com","timestamp":"2024-02-20","metadata":"x"}`,
			want: []string{"Metadata must be an object"},
		},
		{
			name: "metadata fields with wrong types",
			body: `{"event":"click","url":"https://example.com","timestamp":"2024-02-20","metadata":{"browser":1,"os":true,"screenSize":[1]}}`,
			want: []string{"Browser must be a string", "OS must be a string", "Screen size must be a string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.True(t, validation.IsValidationError(err))
			for _, msg := range tt.want {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestDecodeEvent_MalformedJSON(t *testing.T) {
	_, err := DecodeEvent(strings.NewReader(`{"event":`))
	assert.ErrorIs(t, err, validation.ErrMalformedJSON)
}

func TestMetadataAccessors(t *testing.T) {
	var empty Metadata
	assert.Equal(t, "", empty.Browser())

	m := Metadata{"browser": 42}
	assert.Equal(t, "", m.Browser())
}
