package utils

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/phederal/sio/pkg/log"
)

// Base64Id returns a 20 character URL-safe random identifier. Ids are unique
// for the lifetime of the process with overwhelming probability.
func Base64Id() (string, error) {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// SetTimeout schedules fn to run once after delay.
func SetTimeout(fn func(), delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, fn)
}

// ClearTimeout stops a timer created by SetTimeout. Safe on nil.
func ClearTimeout(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// Log returns the process-wide logger.
func Log() *log.Log {
	return log.Default()
}

// Contains returns the first needle contained in haystack, or "".
func Contains(haystack string, needles []string) string {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return needle
		}
	}
	return ""
}
