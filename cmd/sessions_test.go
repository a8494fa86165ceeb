package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServerBaseURL(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"default", "", "http://127.0.0.1:3500"},
		{"host port", "example.com:8080", "http://example.com:8080"},
		{"explicit scheme", "https://advisr.example.com", "https://advisr.example.com"},
		{"trailing slash", "http://localhost:3500/", "http://localhost:3500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADVISR_SERVER_ADDR", tt.env)
			assert.Equal(t, tt.want, serverBaseURL())
		})
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
	assert.NotEqual(t, "-", formatTime(time.Now()))
}
