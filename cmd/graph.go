package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"sigforge/compiler"
	"sigforge/config"
	"sigforge/service"
	"sigforge/simulate"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// ErrChecksFailed is returned when validation or the test suite fails, so
// scripts get a non-zero exit status.
var ErrChecksFailed = errors.New("checks failed")

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.json|->",
		Short: "Validate a signature graph",
		Long:  "Check a graph for cycles, dangling edges, connection limits and invalid component parameters.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			if err := loadGraph(cmd, app, opts, args[0]); err != nil {
				return err
			}
			res := app.Session.Validate()

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				if err := outputAsJSON(out, res); err != nil {
					return err
				}
			} else {
				renderValidation(out, app.Session.Snapshot().Metadata().Name, res)
			}
			if !res.IsValid {
				return fmt.Errorf("%w: %d validation errors", ErrChecksFailed, len(res.Errors))
			}
			return nil
		},
	}
}

func newCompileCmd(opts *options) *cobra.Command {
	var (
		formatName string
		all        bool
		outDir     string
		copts      compiler.Options
	)

	cmd := &cobra.Command{
		Use:   "compile <graph.json|->",
		Short: "Compile a graph into detection rules",
		Long: `Compile a graph into one format, or every format with --all.

Formats: snort, suricata, yara, sigma, json, xml, elasticsearch, splunk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			if err := loadGraph(cmd, app, opts, args[0]); err != nil {
				return err
			}

			// Flags override configured defaults.
			defaults := app.CompileDefaults()
			if copts.Action == "" {
				copts.Action = defaults.Action
			}
			if copts.Lookback == "" {
				copts.Lookback = defaults.Lookback
			}

			out := cmd.OutOrStdout()
			if all {
				results, err := app.Session.CompileAll(ctx, copts)
				if err != nil {
					return err
				}
				if outDir != "" {
					return writeRules(out, opts, outDir, results)
				}
				if opts.outputJSON {
					return outputAsJSON(out, results)
				}
				renderCompileAll(out, results)
				return nil
			}

			format, err := compiler.ParseFormat(formatName)
			if err != nil {
				return err
			}
			rule, err := app.Session.Compile(ctx, format, copts)
			if err != nil {
				return err
			}
			if opts.outputJSON {
				return outputAsJSON(out, rule)
			}
			if !opts.quiet {
				for _, w := range rule.Warnings {
					warningColor.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
				}
			}
			fmt.Fprintln(out, rule.Text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&formatName, "format", "f", string(compiler.FormatSuricata), "Target format")
	cmd.Flags().BoolVar(&all, "all", false, "Compile every format")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "With --all, write one file per format into this directory")
	cmd.Flags().BoolVar(&copts.DryRun, "dry-run", false, "Preview the SID without reserving it")
	cmd.Flags().StringVar(&copts.Action, "action", "", "Snort/Suricata action: alert, drop, pass or reject")
	cmd.Flags().StringVar(&copts.SplunkIndex, "splunk-index", "", "Splunk index to search")
	cmd.Flags().BoolVar(&copts.SplunkStats, "splunk-stats", false, "Append a stats aggregation to Splunk searches")
	cmd.Flags().StringVar(&copts.Lookback, "lookback", "", "Search window for Elasticsearch and Splunk, e.g. 24h")
	return cmd
}

// ruleExtensions maps formats to the file extension their tools expect.
var ruleExtensions = map[compiler.Format]string{
	compiler.FormatSnort:    ".rules",
	compiler.FormatSuricata: ".rules",
	compiler.FormatYARA:     ".yar",
	compiler.FormatSigma:    ".yml",
	compiler.FormatJSON:     ".json",
	compiler.FormatXML:      ".xml",
	compiler.FormatElastic:  ".es.json",
	compiler.FormatSplunk:   ".spl",
}

func writeRules(out io.Writer, opts *options, dir string, results []service.FormatResult) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, r := range results {
		if r.Rule == nil {
			if !opts.quiet {
				warningColor.Fprintf(out, "skipped %s: %s\n", r.Format, r.Error)
			}
			continue
		}
		path := filepath.Join(dir, string(r.Format)+ruleExtensions[r.Format])
		if err := os.WriteFile(path, []byte(r.Rule.Text+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if !opts.quiet {
			successColor.Fprintf(out, "✓ ")
			fmt.Fprintf(out, "%s\n", path)
		}
	}
	return nil
}

func newTestCmd(opts *options) *cobra.Command {
	var (
		testName     string
		dataFile     string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "test <graph.json|->",
		Short: "Run the simulation suite against a graph",
		Long: `Run every simulation test, or a single one with --test.

Tests: component-validation, rule-syntax, logic-validation, performance-test,
data-simulation, format-generation, false-positive, coverage-analysis.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false, func(cfg *config.Config) {
				if dataFile != "" {
					cfg.SampleData = dataFile
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(app)

			if err := loadGraph(cmd, app, opts, args[0]); err != nil {
				return err
			}

			var s *spinner.Spinner
			if showProgress && !opts.outputJSON && !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Running simulation..."
				s.Start()
			}

			out := cmd.OutOrStdout()
			if testName != "" {
				t, err := simulate.ParseTestType(testName)
				if err != nil {
					stopSpinner(s)
					return err
				}
				res, err := app.Session.RunTest(ctx, t)
				stopSpinner(s)
				if err != nil {
					return err
				}
				if opts.outputJSON {
					if err := outputAsJSON(out, res); err != nil {
						return err
					}
				} else {
					renderTestResult(out, res)
				}
				if res.Status == simulate.StatusFailed || res.Status == simulate.StatusError {
					return fmt.Errorf("%w: %s %s", ErrChecksFailed, res.Type, res.Status)
				}
				return nil
			}

			report, err := app.Session.RunAllTests(ctx)
			stopSpinner(s)
			if err != nil {
				return err
			}
			if opts.outputJSON {
				if err := outputAsJSON(out, report); err != nil {
					return err
				}
			} else {
				renderReport(out, report)
			}
			if report.Status == simulate.StatusFailed {
				return fmt.Errorf("%w: %d failed, %d errors", ErrChecksFailed, report.Aggregate.Failed, report.Aggregate.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&testName, "test", "t", "", "Run only this test")
	cmd.Flags().StringVar(&dataFile, "data", "", "Sample records (JSON array or JSON lines) for data-simulation")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	return cmd
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
