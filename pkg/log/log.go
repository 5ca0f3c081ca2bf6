// Package log implements namespaced debug logging in the manner of the
// debug.js module: loggers are silent unless their namespace matches one of
// the comma-separated patterns in the DEBUG environment variable.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
)

var (
	palette = []color.Color{
		color.FgCyan, color.FgGreen, color.FgYellow,
		color.FgBlue, color.FgMagenta, color.FgLightCyan,
	}

	patternsOnce sync.Once
	patterns     []string

	defaultLog = NewLog("sio")
)

type Log struct {
	namespace string
	enabled   bool
	color     color.Color
}

func NewLog(namespace string) *Log {
	var sum int
	for _, c := range namespace {
		sum += int(c)
	}
	return &Log{
		namespace: namespace,
		enabled:   enabled(namespace),
		color:     palette[sum%len(palette)],
	}
}

// Default returns the process-wide logger used for operator-facing warnings.
func Default() *Log {
	return defaultLog
}

func enabled(namespace string) bool {
	patternsOnce.Do(func() {
		for _, p := range strings.Split(os.Getenv("DEBUG"), ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
	})
	for _, p := range patterns {
		if p == "*" || p == namespace {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(namespace, prefix) {
			return true
		}
	}
	return false
}

func (l *Log) Debug(format string, args ...any) {
	if !l.enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n",
		time.Now().Format("2006-01-02T15:04:05.000Z07:00"),
		l.color.Render(l.namespace),
		fmt.Sprintf(format, args...))
}

func (l *Log) Info(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.FgGreen.Render("[INFO] "+l.namespace), fmt.Sprintf(format, args...))
}

func (l *Log) Warning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.FgYellow.Render("[WARN] "+l.namespace), fmt.Sprintf(format, args...))
}

func (l *Log) Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.FgRed.Render("[ERROR] "+l.namespace), fmt.Sprintf(format, args...))
}
