package ppl

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"ppl/internal/engine"
)

// State is the mutable context a pipeline runs against: the current table,
// user variables, running timers and the sandbox root.
type State struct {
	Table   *engine.Table
	Vars    map[string]string
	Sandbox string
	// BaseDir anchors relative paths in source, save, join, merge,
	// foreach and 'set sandbox'. Defaults to the pipeline file's dir.
	BaseDir string
	// DefaultChunkSize applies chunked streaming to every source that
	// does not carry its own 'chunk N'. Zero disables it.
	DefaultChunkSize int
	Stdout           io.Writer
	Log              *slog.Logger

	timers  *timerRegistry
	grouped []string // pending 'group by' columns, consumed by the next aggregation
}

// NewState returns a State with empty variables and timers, writing to
// stdout and logging nowhere by default.
func NewState(baseDir string) *State {
	return &State{
		Vars:    make(map[string]string),
		BaseDir: baseDir,
		Stdout:  os.Stdout,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timers:  newTimerRegistry(),
	}
}

// resolvePath anchors a relative path at BaseDir.
func (st *State) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || st.BaseDir == "" {
		return p
	}
	return filepath.Join(st.BaseDir, p)
}

// table returns the current table, or an error when nothing was loaded.
func (st *State) table() (*engine.Table, error) {
	if st.Table == nil {
		return nil, ErrNoData
	}
	return st.Table, nil
}
