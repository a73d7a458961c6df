// Package cmd provides the sigforge command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"sigforge/bootstrap"
	"sigforge/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const (
	maxGraphFileSize = 10 * 1024 * 1024
	defaultTimeout   = 5 * time.Minute
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configFile string
	outputJSON bool
	noColor    bool
	quiet      bool
	verbose    bool
	strict     bool
}

// NewRootCmd builds the sigforge command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "sigforge",
		Short: "Build, compile and test detection signatures",
		Long: `sigforge turns a graph of detection components into IDS, YARA, Sigma,
SIEM and structured rules, and checks the result against a simulation suite.

Graphs are JSON documents as produced by the editor or "GET /api/graph".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor || opts.outputJSON {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-essential output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")
	root.PersistentFlags().BoolVar(&opts.strict, "strict", false, "Refuse graph files with unknown components or dangling edges")

	root.AddCommand(
		newValidateCmd(opts),
		newCompileCmd(opts),
		newTestCmd(opts),
		newFormatsCmd(opts),
		newCatalogCmd(opts),
		newServeCmd(opts),
		newSIDCmd(opts),
	)
	return root
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadApp reads configuration and builds the application. CLI commands log
// warnings only unless --verbose is set; serve keeps the configured level.
// overrides are applied to the loaded config before anything is built.
func loadApp(ctx context.Context, opts *options, keepLogLevel bool, overrides ...func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	level := cfg.Log.Level
	switch {
	case opts.verbose:
		level = "debug"
	case !keepLogLevel:
		level = "warn"
	}
	logger, _, err := bootstrap.InitLogger(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewApp(ctx, cfg, logger)
}

// loadGraph imports the graph file into the app session and prints import
// warnings.
func loadGraph(cmd *cobra.Command, app *bootstrap.App, opts *options, path string) error {
	data, err := readGraphFile(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	warnings, err := app.Session.Import(data, opts.strict)
	if err != nil {
		return err
	}
	if !opts.quiet && !opts.outputJSON {
		for _, w := range warnings {
			warningColor.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
	}
	return nil
}

// readGraphFile reads path, or stdin when path is "-".
func readGraphFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, maxGraphFileSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxGraphFileSize {
			return nil, fmt.Errorf("graph input exceeds %d bytes", maxGraphFileSize)
		}
		return data, nil
	}
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("cannot access graph file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxGraphFileSize {
		return nil, fmt.Errorf("graph file exceeds %d bytes", maxGraphFileSize)
	}
	return os.ReadFile(clean) // #nosec G304 -- operator supplied graph path
}

func outputAsJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func closeApp(app *bootstrap.App) {
	if app == nil {
		return
	}
	app.Close()
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
