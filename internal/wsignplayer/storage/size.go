package storage

import (
	units "github.com/docker/go-units"
)

// FormatBytes renders a byte count for humans (e.g., "40MB")
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return units.HumanSize(float64(n))
}

// ParseBytes parses a human size such as "500MB" into bytes
func ParseBytes(s string) (int64, error) {
	return units.FromHumanSize(s)
}

// WithMargin returns size increased by percent
func WithMargin(size int64, percent int) int64 {
	if size <= 0 {
		return 0
	}
	return size + size*int64(percent)/100
}
