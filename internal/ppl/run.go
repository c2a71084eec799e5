// Package ppl implements the pipeline language runtime: reading .ppl
// files, parsing command lines into steps, and executing them against a
// mutable pipeline state.
package ppl

import (
	"context"
	"path/filepath"
)

// RunFile reads, parses and executes the pipeline at path against st.
// Relative paths inside the pipeline resolve against the pipeline file's
// directory unless st already carries a BaseDir.
func RunFile(ctx context.Context, path string, st *State) error {
	lines, err := NewReader(st.Sandbox).Read(path)
	if err != nil {
		return err
	}
	steps, err := Parse(lines)
	if err != nil {
		return err
	}
	if st.BaseDir == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		st.BaseDir = filepath.Dir(abs)
	}
	return Run(ctx, steps, st)
}
