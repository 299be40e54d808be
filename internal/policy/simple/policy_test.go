package simple

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyAllowFetch(t *testing.T) {
	t.Parallel()

	p := New("Paywall.example", " ")
	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"https", "https://news.example.com/a", true},
		{"http with port", "http://127.0.0.1:8080/a", true},
		{"denied host", "https://paywall.example/story", false},
		{"mailto", "mailto:someone@example.com", false},
		{"relative", "/articles/1", false},
		{"empty", "", false},
		{"javascript", "javascript:alert(1)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := p.AllowFetch(tt.url)
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrDisallowedURL)
		})
	}
}

func TestNilPolicyStillChecksScheme(t *testing.T) {
	t.Parallel()

	var p *Policy
	require.NoError(t, p.AllowFetch("https://example.com"))
	require.Error(t, p.AllowFetch("ftp://example.com"))
}
