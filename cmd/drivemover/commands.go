package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/grokify/drivemover"
	"github.com/grokify/drivemover/report"
)

var errDestinationNotEmpty = errors.New("destination folder is not empty (use --not-empty-override to move anyway)")

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configPath, logLevel, logFormat string

	root := &cobra.Command{
		Use:   "drivemover",
		Short: "Move a Google Drive folder tree into another folder or shared drive",
		Long: `drivemover moves every file and folder under a source folder into a
destination folder, such as the root of a shared drive. Files that cannot
change drives are copied, optionally with their comments. Emptied source
folders are deleted.

Progress is checkpointed after every folder, so an interrupted or
time-limited run picks up where it stopped when run again with the same
arguments.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := FindConfig(configPath)
			if err != nil {
				return err
			}
			cfg, err := Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			level, err := ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), level, cfg.LogFormat)
			if path != "" {
				a.logger.Debug("loaded config", "path", path)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default: first of "+fmt.Sprint(DefaultSearchPaths())+")")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text, json")

	root.AddCommand(
		newMoveCmd(a),
		newStatusCmd(a),
		newErrorsCmd(a),
		newCancelCmd(a),
		newStateCmd(a),
	)
	return root
}

// requestFlags are the flags that, with the two folder IDs, identify a move.
type requestFlags struct {
	copyComments bool
	mergeFolders bool
}

func (f *requestFlags) add(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.copyComments, "copy-comments", false, "copy comments onto files that have to be copied")
	cmd.Flags().BoolVar(&f.mergeFolders, "merge-folders", false, "record the merge-folders setting in the checkpoint key (folders are always created new)")
}

func (f *requestFlags) request(args []string) drivemover.Request {
	return drivemover.Request{
		SourceID:      args[0],
		DestinationID: args[1],
		CopyComments:  f.copyComments,
		MergeFolders:  f.mergeFolders,
	}
}

// withStore opens the checkpoint store for the duration of fn.
func (a *app) withStore(fn func(*drivemover.BackendStore) error) error {
	store, backend, err := openStore(a.cfg.Checkpoint, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			a.logger.Warn("closing checkpoint backend", "error", err)
		}
	}()
	return fn(store)
}

func (a *app) compression() drivemover.Compression {
	c, _ := drivemover.ParseCompression(a.cfg.Checkpoint.Compression)
	return c
}

func newMoveCmd(a *app) *cobra.Command {
	var (
		rf               requestFlags
		notEmptyOverride bool
		loop             bool
		saveReport       bool
		budget           time.Duration
		include, exclude []string
		filterFile       string
	)

	cmd := &cobra.Command{
		Use:   "move SOURCE_ID DESTINATION_ID",
		Short: "Move the contents of a folder, resuming a previous run",
		Example: `  drivemover move 1AbcSource 0XyzSharedDrive --budget 5m
  drivemover move 1AbcSource 0XyzSharedDrive --loop --copy-comments --exclude '*.tmp'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := rf.request(args)
			req.NotEmptyOverride = notEmptyOverride

			mc := a.cfg.Move
			if cmd.Flags().Changed("budget") {
				mc.Budget = budget
			}
			mc.Include = append(mc.Include, include...)
			mc.Exclude = append(mc.Exclude, exclude...)
			if filterFile != "" {
				mc.FilterFile = filterFile
			}
			f, err := buildFilter(mc)
			if err != nil {
				return err
			}

			d, err := openDrive(ctx, a.cfg.GDrive, a.logger)
			if err != nil {
				return err
			}

			opts := []drivemover.Option{
				drivemover.WithLogger(a.logger),
				drivemover.WithBudget(mc.Budget),
				drivemover.WithFilter(f),
				drivemover.WithPageSize(mc.PageSize),
			}
			return a.withStore(func(store *drivemover.BackendStore) error {
				for {
					res, err := drivemover.Start(ctx, d, store, req, opts...)
					if err != nil {
						_ = printJSON(cmd.OutOrStdout(), res)
						return err
					}
					if res.Reason == drivemover.ReasonNotEmpty {
						_ = printJSON(cmd.OutOrStdout(), res)
						return errDestinationNotEmpty
					}
					if res.Complete || !loop {
						if res.Complete && saveReport && len(res.Errors) > 0 {
							if err := a.saveReport(ctx, store, req, res.Errors); err != nil {
								return err
							}
						}
						return printJSON(cmd.OutOrStdout(), res)
					}

					a.logger.Info("move not finished, continuing", "pending", res.Pending)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(mc.LoopDelay):
					}
				}
			})
		},
	}

	rf.add(cmd)
	fl := cmd.Flags()
	fl.BoolVar(&notEmptyOverride, "not-empty-override", false, "start even if the destination folder is not empty")
	fl.BoolVar(&loop, "loop", false, "keep invoking until the move is complete")
	fl.BoolVar(&saveReport, "report", false, "store the error log as NDJSON on the checkpoint backend when done")
	fl.DurationVar(&budget, "budget", 0, "stop picking up new folders after this long (0 = no limit)")
	fl.StringArrayVar(&include, "include", nil, "only move files matching this pattern (repeatable)")
	fl.StringArrayVar(&exclude, "exclude", nil, "leave items matching this pattern in place; a trailing / matches folders (repeatable)")
	fl.StringVar(&filterFile, "filter-from", "", "read include (+ pattern) and exclude (- pattern) rules from a file")
	return cmd
}

func (a *app) saveReport(ctx context.Context, store *drivemover.BackendStore, req drivemover.Request, errs []drivemover.MoveError) error {
	p := report.Path(req.Params().Key(), a.compression())
	if err := report.WriteErrors(ctx, store.Backend(), p, errs); err != nil {
		return err
	}
	a.logger.Info("saved error report", "path", p, "errors", len(errs))
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "status SOURCE_ID DESTINATION_ID",
		Short: "Show the checkpoint of a move without changing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *drivemover.BackendStore) error {
				res, err := drivemover.Status(cmd.Context(), store, rf.request(args))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	rf.add(cmd)
	return cmd
}

func newErrorsCmd(a *app) *cobra.Command {
	var (
		rf    requestFlags
		save  bool
		saved bool
	)
	cmd := &cobra.Command{
		Use:   "errors SOURCE_ID DESTINATION_ID",
		Short: "Print the items a move could not handle as NDJSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := rf.request(args)
			return a.withStore(func(store *drivemover.BackendStore) error {
				var errs []drivemover.MoveError
				if saved {
					var err error
					errs, err = report.ReadErrors(ctx, store.Backend(), report.Path(req.Params().Key(), a.compression()))
					if err != nil {
						return err
					}
				} else {
					res, err := drivemover.Status(ctx, store, req)
					if err != nil {
						return err
					}
					errs = res.Errors
				}

				if save {
					return a.saveReport(ctx, store, req, errs)
				}
				return report.Encode(nopWriteCloser{cmd.OutOrStdout()}, errs)
			})
		},
	}
	rf.add(cmd)
	cmd.Flags().BoolVar(&save, "save", false, "store the report on the checkpoint backend instead of printing it")
	cmd.Flags().BoolVar(&saved, "saved", false, "read a previously stored report instead of the checkpoint")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "cancel SOURCE_ID DESTINATION_ID",
		Short: "Delete the checkpoint of a move, abandoning it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := rf.request(args)
			return a.withStore(func(store *drivemover.BackendStore) error {
				if err := drivemover.Cancel(cmd.Context(), store, req); err != nil {
					return err
				}
				a.logger.Info("cancelled move", "key", req.Params().Key())
				return nil
			})
		},
	}
	rf.add(cmd)
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage stored checkpoints and reports",
	}

	var target BackendConfig
	copyCmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy all checkpoints and reports to another backend",
		Example: `  drivemover state copy --to s3 --to-option bucket=moves --to-option region=eu-west-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dst, err := openBackend(target)
			if err != nil {
				return err
			}
			defer func() { _ = dst.Close() }()

			return a.withStore(func(store *drivemover.BackendStore) error {
				prefix := a.cfg.Checkpoint.Prefix
				if prefix == "" {
					prefix = drivemover.DefaultCheckpointPrefix
				}
				total := 0
				for _, p := range []string{prefix, report.DefaultPrefix} {
					copied, err := drivemover.CopyPrefix(cmd.Context(), store.Backend(), dst, p+"/")
					total += len(copied)
					if err != nil {
						return err
					}
				}
				a.logger.Info("copied state", "objects", total, "to", target.Backend)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "copied %d objects\n", total)
				return err
			})
		},
	}
	copyCmd.Flags().StringVar(&target.Backend, "to", "", "target backend name (file, s3, sftp, sqlite)")
	copyCmd.Flags().StringToStringVar(&target.Options, "to-option", nil, "target backend option key=value (repeatable)")
	_ = copyCmd.MarkFlagRequired("to")

	cmd.AddCommand(copyCmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
