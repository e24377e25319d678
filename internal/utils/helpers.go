package utils

import (
	"fmt"
	"time"
)

// Now is overridable so golden tests produce stable timestamps.
var Now = time.Now

func AgeSince(t time.Time) string {
	d := Now().Sub(t)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

func Int64Ptr(i int64) *int64 { return &i }

// TailBytes keeps the last max bytes of s. The most recent output is the
// most diagnostic, so truncation drops the head.
func TailBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func FormatMi(bytes int64) string {
	return fmt.Sprintf("%dMi", bytes/(1024*1024))
}
