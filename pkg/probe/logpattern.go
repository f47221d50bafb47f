package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// LogPatternChecker scans a component's log file for a readiness pattern.
// Fallback for daemons without a probeable endpoint.
type LogPatternChecker struct {
	// Path is the log file to scan
	Path string

	// Pattern is the substring that signals readiness
	Pattern string
}

// NewLogPatternChecker creates a log pattern probe
func NewLogPatternChecker(path, pattern string) *LogPatternChecker {
	return &LogPatternChecker{Path: path, Pattern: pattern}
}

// Check scans the log for the pattern
func (l *LogPatternChecker) Check(ctx context.Context) Result {
	start := time.Now()

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("reading log: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if !strings.Contains(string(data), l.Pattern) {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("pattern %q not found in %s", l.Pattern, l.Path),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("pattern %q found", l.Pattern),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (l *LogPatternChecker) Type() CheckType {
	return CheckTypeLogPattern
}
