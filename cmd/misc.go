package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"sigforge/bootstrap"
	"sigforge/compiler"

	"github.com/spf13/cobra"
)

func newFormatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported output formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, compiler.Formats)
			}
			renderFormats(out)
			return nil
		},
	}
}

func newCatalogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [component-id]",
		Short: "List component definitions",
		Long:  "List the built-in components plus any loaded from catalog.files, or show one in detail.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				def, ok := app.Catalog.Get(args[0])
				if !ok {
					return fmt.Errorf("unknown component %q", args[0])
				}
				if opts.outputJSON {
					return outputAsJSON(out, def)
				}
				renderCatalogDetails(out, def)
				return nil
			}

			defs := app.Catalog.List()
			if opts.outputJSON {
				return outputAsJSON(out, defs)
			}
			renderCatalogTable(out, defs)
			return nil
		},
	}
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve the editing session over HTTP and stream graph events over WebSocket until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := bootstrap.SignalContext(parent)
			defer stop()

			app, err := loadApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer closeApp(app)

			if !opts.quiet {
				addr := net.JoinHostPort(app.Config.API.Host, strconv.Itoa(app.Config.API.Port))
				infoColor.Fprintf(cmd.ErrOrStderr(), "sigforge API on http://%s\n", addr)
			}
			return app.Serve(ctx)
		},
	}
}

func newSIDCmd(opts *options) *cobra.Command {
	sid := &cobra.Command{
		Use:   "sid",
		Short: "Inspect and move SID allocator state",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show used SIDs and the next free SID per range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			alloc := app.Compiler.SIDs()
			next := make(map[compiler.SIDCategory]int)
			for _, c := range []compiler.SIDCategory{compiler.SIDMalware, compiler.SIDNetwork, compiler.SIDWeb, compiler.SIDCustom} {
				next[c] = alloc.Peek(c)
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return outputAsJSON(out, map[string]any{
					"backend": app.Config.Storage.Backend,
					"used":    alloc.UsedCount(),
					"next":    next,
				})
			}
			printSection(out, "SID Allocator")
			printField(out, "Backend", app.Config.Storage.Backend)
			printField(out, "Used", fmt.Sprintf("%d", alloc.UsedCount()))
			for _, c := range []compiler.SIDCategory{compiler.SIDMalware, compiler.SIDNetwork, compiler.SIDWeb, compiler.SIDCustom} {
				printField(out, "Next "+string(c), fmt.Sprintf("%d", next[c]))
			}
			return nil
		},
	}

	var outFile string
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Write allocator state as msgpack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			data, err := app.Compiler.SIDs().Snapshot()
			if err != nil {
				return err
			}
			if outFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(filepath.Clean(outFile), data, 0o600); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			if !opts.quiet {
				successColor.Fprintf(cmd.ErrOrStderr(), "✓ %d used SIDs written to %s\n", app.Compiler.SIDs().UsedCount(), outFile)
			}
			return nil
		},
	}
	snapshot.Flags().StringVarP(&outFile, "out", "o", "", "Output file (default stdout)")

	restore := &cobra.Command{
		Use:   "restore <snapshot-file|->",
		Short: "Merge a snapshot into the configured SID store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			app, err := loadApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer closeApp(app)

			data, err := readGraphFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			alloc := app.Compiler.SIDs()
			before := alloc.UsedCount()
			if err := alloc.Restore(ctx, data); err != nil {
				return err
			}
			if !opts.quiet {
				successColor.Fprintf(cmd.OutOrStdout(), "✓ restored %d SIDs (%d used)\n", alloc.UsedCount()-before, alloc.UsedCount())
			}
			return nil
		},
	}

	sid.AddCommand(status, snapshot, restore)
	return sid
}
