package test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ppl/internal/ppl"
)

// TestCase is one end-to-end pipeline run: a .ppl script plus its data
// files, executed in a fresh temp directory.
type TestCase struct {
	Name        string            // Test name
	Script      string            // .ppl script content
	Files       map[string]string // fixture files, relative path -> content
	Stdout      []string          // substrings expected in pipeline output
	NotStdout   []string          // substrings that must not appear
	ShouldFail  bool              // whether the run must return an error
	ErrContains string            // substring expected in the error
}

// RunPipelineTest executes a pipeline script and validates the results.
// It returns the final state so callers can assert on the output table.
func RunPipelineTest(t *testing.T, tc TestCase) *ppl.State {
	t.Helper()

	dir := t.TempDir()
	for name, content := range tc.Files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create fixture dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write fixture %s: %v", name, err)
		}
	}
	scriptPath := filepath.Join(dir, "pipeline.ppl")
	if err := os.WriteFile(scriptPath, []byte(tc.Script), 0o644); err != nil {
		t.Fatalf("Failed to write test script: %v", err)
	}

	st := ppl.NewState("")
	var out bytes.Buffer
	st.Stdout = &out

	err := ppl.RunFile(context.Background(), scriptPath, st)

	if tc.ShouldFail {
		if err == nil {
			t.Fatalf("Expected pipeline to fail but it succeeded.\nOutput: %s", out.String())
		}
		if tc.ErrContains != "" && !strings.Contains(err.Error(), tc.ErrContains) {
			t.Errorf("Error %q does not contain %q", err.Error(), tc.ErrContains)
		}
	} else if err != nil {
		t.Fatalf("Pipeline failed: %v\nOutput: %s", err, out.String())
	}

	for _, want := range tc.Stdout {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output missing %q.\nOutput: %s", want, out.String())
		}
	}
	for _, bad := range tc.NotStdout {
		if strings.Contains(out.String(), bad) {
			t.Errorf("Output should not contain %q.\nOutput: %s", bad, out.String())
		}
	}
	return st
}
