package actions

import (
	"strconv"
	"time"
)

const timeoutSecond = time.Second

func intToStr(n int) string {
	return strconv.Itoa(n)
}

// firstNonEmpty returns the first non-blank string, matching the
// source's `err or out` fallback when a subprocess fails silently on
// stderr.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
