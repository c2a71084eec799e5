package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"ppl/internal/ppl"
)

const configFile = "ppl.yaml"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  ppl <pipeline.ppl>        - Run a pipeline")
		fmt.Println("  ppl lines <pipeline.ppl>  - Debug cleaned lines (after includes)")
		fmt.Println("  ppl steps <pipeline.ppl>  - Debug parsed steps")
		os.Exit(1)
	}

	if os.Args[1] == "lines" {
		if len(os.Args) < 3 {
			fmt.Println("Usage: ppl lines <pipeline.ppl>")
			os.Exit(1)
		}
		linesDebug(os.Args[2])
		return
	}

	if os.Args[1] == "steps" {
		if len(os.Args) < 3 {
			fmt.Println("Usage: ppl steps <pipeline.ppl>")
			os.Exit(1)
		}
		stepsDebug(os.Args[2])
		return
	}

	os.Exit(run(os.Args[1]))
}

func run(path string) int {
	cfg, err := ppl.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	st := ppl.NewState("")
	st.Log = newLogger(cfg.LogLevel, cfg.LogFormat)
	st.Sandbox = cfg.Sandbox
	st.DefaultChunkSize = cfg.DefaultChunkSize

	if err := ppl.RunFile(context.Background(), path, st); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println("\nPipeline completed successfully.")
	switch {
	case st.Table == nil:
		fmt.Println("Pipeline produced no output.")
	case st.Table.NRows() == 0:
		fmt.Println("Output is an empty table (all rows were filtered out).")
	default:
		fmt.Printf("Output: %d row(s) x %d column(s).\n", st.Table.NRows(), len(st.Table.Names()))
		fmt.Println("\nPreview (first 10 rows):")
		fmt.Println(st.Table.Head(10).String())
	}
	return 0
}

func newLogger(level, format string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lv}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func linesDebug(path string) {
	lines, err := ppl.NewReader(configSandbox()).Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Cleaned lines: %s\n", path)
	fmt.Printf("%-4s %-30s %s\n", "Line", "File", "Text")
	fmt.Println(strings.Repeat("-", 72))
	for _, l := range lines {
		fmt.Printf("%-4d %-30s %s\n", l.Number, shorten(l.File, 30), l.Text)
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%d command line(s)\n", len(lines))
}

func stepsDebug(path string) {
	lines, err := ppl.NewReader(configSandbox()).Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	steps, err := ppl.Parse(lines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parse error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Steps: %s\n", path)
	fmt.Println(strings.Repeat("-", 72))
	printSteps(steps, "")
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%d step(s)\n", len(steps))
}

func printSteps(steps []ppl.Step, indent string) {
	for i, s := range steps {
		fmt.Printf("%s%d. %s\n", indent, i+1, ppl.DescribeStep(s))
		if t, ok := s.(*ppl.TryStep); ok {
			printSteps(t.Body, indent+"   ")
			fmt.Printf("%s   on_error: %s\n", indent, ppl.DescribeStep(t.Recover))
		}
	}
}

// configSandbox reads the sandbox root for the debug subcommands, so they
// honor the same include restrictions as a real run.
func configSandbox() string {
	cfg, err := ppl.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	return cfg.Sandbox
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
