package domain

import (
	"testing"
	"time"
)

func mustTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}
