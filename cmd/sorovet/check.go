package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sorovet/sorovet"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <pattern>...",
	Short: "Run a one-shot validation pass over contract source files",
	Long:  `Run the diagnostic rules against files matched by the given glob patterns (doublestar syntax, e.g. 'src/**/*.rs') and print the findings. Exits non-zero when any finding has error severity`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().Bool("json", false, "emit findings as JSON instead of text")
	checkCmd.Flags().Bool("no-hints", false, "suppress hint-severity findings")
	checkCmd.Flags().Int("jobs", 0, "max parallel workers (0=auto)")
}

// checkedFile is the per-file result of a check run, in output order.
type checkedFile struct {
	Path        string              `json:"path"`
	Diagnostics []checkedDiagnostic `json:"diagnostics"`
}

type checkedDiagnostic struct {
	Line      int    `json:"line"`      // 1-based for display.
	Character int    `json:"character"` // 1-based for display.
	Severity  string `json:"severity"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("failed to get json flag: %w", err)
	}
	noHints, err := cmd.Flags().GetBool("no-hints")
	if err != nil {
		return fmt.Errorf("failed to get no-hints flag: %w", err)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	paths, err := expandPatterns(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matched the given patterns")
	}

	// One-shot run: quiet logger, no caches to warm or persist.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := sorovet.DefaultConfig()
	cfg.UseMemoryCache = false
	cfg.UseDiskCache = false
	service, err := sorovet.NewServiceWithConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis service: %w", err)
	}
	defer service.Close()

	settings := sorovet.DocumentSettings{DiagnosticsEnabled: true}

	// Each goroutine owns one slot, so the slice needs no lock.
	results := make([]checkedFile, len(paths))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)
	for i, path := range paths {
		g.Go(func() error {
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				return fmt.Errorf("failed to read %s: %w", path, readErr)
			}
			uri, uriErr := sorovet.PathToURI(path)
			if uriErr != nil {
				return fmt.Errorf("failed to build URI for %s: %w", path, uriErr)
			}
			snap := sorovet.Snapshot{URI: uri, Text: string(content), Version: 1}
			diags := service.Validate(ctx, snap, settings)

			file := checkedFile{Path: path, Diagnostics: []checkedDiagnostic{}}
			for _, d := range diags {
				if noHints && d.Severity == sorovet.SeverityHint {
					continue
				}
				file.Diagnostics = append(file.Diagnostics, checkedDiagnostic{
					Line:      d.Range.Start.Line + 1,
					Character: d.Range.Start.Character + 1,
					Severity:  severityName(d.Severity),
					Code:      d.Code,
					Message:   d.Message,
				})
			}
			results[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	hasErrors := false
	total := 0
	for _, file := range results {
		total += len(file.Diagnostics)
		for _, d := range file.Diagnostics {
			if d.Severity == "error" {
				hasErrors = true
			}
		}
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return fmt.Errorf("failed to encode findings: %w", err)
		}
	} else {
		printPretty(os.Stdout, results, total, useColor(cmd, os.Stdout))
	}

	if hasErrors {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return fmt.Errorf("") // Silent error - findings already printed
	}
	return nil
}

// expandPatterns resolves doublestar glob patterns (and plain paths) into a
// sorted, de-duplicated file list.
func expandPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if matches == nil {
			// A literal path with no glob metacharacters still counts.
			if st, statErr := os.Stat(pattern); statErr == nil && !st.IsDir() {
				matches = []string{pattern}
			}
		}
		for _, m := range matches {
			if st, statErr := os.Stat(m); statErr != nil || st.IsDir() {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// printPretty writes the findings as aligned, optionally colorized text.
func printPretty(w io.Writer, results []checkedFile, total int, colorize bool) {
	errorColor := color.New(color.FgRed, color.Bold)
	warnColor := color.New(color.FgYellow)
	infoColor := color.New(color.FgCyan)
	hintColor := color.New(color.FgHiBlack)
	if !colorize {
		for _, c := range []*color.Color{errorColor, warnColor, infoColor, hintColor} {
			c.DisableColor()
		}
	}

	sevWidth := 0
	for _, file := range results {
		for _, d := range file.Diagnostics {
			if w := runewidth.StringWidth(d.Severity); w > sevWidth {
				sevWidth = w
			}
		}
	}

	for _, file := range results {
		if len(file.Diagnostics) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", file.Path)
		for _, d := range file.Diagnostics {
			sevColor := infoColor
			switch d.Severity {
			case "error":
				sevColor = errorColor
			case "warning":
				sevColor = warnColor
			case "hint":
				sevColor = hintColor
			}
			padded := runewidth.FillRight(d.Severity, sevWidth)
			fmt.Fprintf(w, "  %4d:%-3d %s  %s [%s]\n",
				d.Line, d.Character, sevColor.Sprint(padded), d.Message, d.Code)
		}
	}

	if total == 0 {
		fmt.Fprintf(w, "checked %d file(s): no findings\n", len(results))
	} else {
		fmt.Fprintf(w, "checked %d file(s): %d finding(s)\n", len(results), total)
	}
}

// severityName renders a severity for display and JSON output.
func severityName(s sorovet.DiagnosticSeverity) string {
	switch s {
	case sorovet.SeverityError:
		return "error"
	case sorovet.SeverityWarning:
		return "warning"
	case sorovet.SeverityInfo:
		return "info"
	case sorovet.SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}
