package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatWaitTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{23*time.Hour + 59*time.Minute + time.Second, "23 hours 59 minutes 1 second"},
		{time.Hour, "1 hour"},
		{2*time.Minute + 30*time.Second, "2 minutes 30 seconds"},
		{1500 * time.Millisecond, "2 seconds"},
		{time.Nanosecond, "1 second"},
		{0, "0 seconds"},
		{-time.Second, "0 seconds"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatWaitTime(tt.in), tt.in.String())
	}
}
