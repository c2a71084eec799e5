package ppl

import (
	"fmt"

	"github.com/pkg/errors"
)

// Runtime error kinds. These are fatal unless the failing step runs inside
// a try block. Column and cast-type errors are reported by the engine.
var (
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrFileNotFound      = errors.New("file not found")
	ErrPermission        = errors.New("permission denied")
	ErrTimerNotRunning   = errors.New("timer not running")
	ErrAssertionFailed   = errors.New("assertion failed")
	ErrNoFilesMatched    = errors.New("no files matched")
	ErrNoData            = errors.New("no data loaded (use 'source' first)")
)

// Structural error kinds, detected before execution begins.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrGroupWithoutAgg = errors.New("'group by' must be followed by an aggregation")
	ErrIncludeCycle    = errors.New("include cycle")
)

// ParseError reports a malformed command line: the 1-based source line, a
// description of what went wrong, and the expected syntax.
type ParseError struct {
	Line     int
	Text     string
	Expected string
}

func (e *ParseError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("Line %d: %s", e.Line, e.Text)
	}
	return fmt.Sprintf("Line %d: %s. Expected: %s", e.Line, e.Text, e.Expected)
}

func parseErr(line int, text, expected string) error {
	return &ParseError{Line: line, Text: text, Expected: expected}
}
