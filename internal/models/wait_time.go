package models

import (
	"fmt"
	"strings"
	"time"
)

// FormatWaitTime renders d as e.g. "23 hours 59 minutes 1 second", rounding up to whole seconds.
// Zero components are omitted.
func FormatWaitTime(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}

	total := int64((d + time.Second - 1) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
