package runner

import (
	"strings"
	"time"
)

// Result holds the output of a local command execution.
type Result struct {
	RunID     string
	ExitCode  int // -1 when killed by a signal
	Stdout    []byte
	Stderr    []byte
	Truncated bool // a stream exceeded MaxOutput
	TimedOut  bool
	Duration  time.Duration
}

// FirstLine returns the first line of stdout without its line ending.
func (r *Result) FirstLine() string {
	line, _, _ := strings.Cut(string(r.Stdout), "\n")
	return strings.TrimSuffix(line, "\r")
}
