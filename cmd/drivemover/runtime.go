package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/grokify/drivemover"
	_ "github.com/grokify/drivemover/backend/file"
	_ "github.com/grokify/drivemover/backend/memory"
	_ "github.com/grokify/drivemover/backend/s3"
	_ "github.com/grokify/drivemover/backend/sftp"
	_ "github.com/grokify/drivemover/backend/sqlite"
	"github.com/grokify/drivemover/filter"
	"github.com/grokify/drivemover/gdrive"
	"github.com/grokify/drivemover/multi"
)

// openDrive connects to the drive service. Tests replace it.
var openDrive = func(ctx context.Context, cfg GDriveConfig, logger *slog.Logger) (drivemover.Drive, error) {
	d, err := gdrive.NewFromConfig(ctx, cfg.toGDrive(), gdrive.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func parseMirrorMode(s string) (multi.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best_effort", "best-effort":
		return multi.BestEffort, nil
	case "strict":
		return multi.Strict, nil
	}
	return multi.BestEffort, fmt.Errorf("unknown mirror mode %q (valid: best_effort, strict)", s)
}

func openBackend(bc BackendConfig) (drivemover.Backend, error) {
	options := maps.Clone(bc.Options)
	if options == nil {
		options = map[string]string{}
	}
	if bc.Backend == "file" && options["root"] == "" {
		options["root"] = defaultStateDir()
	}
	b, err := drivemover.Open(bc.Backend, options)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", bc.Backend, err)
	}
	return b, nil
}

// openStore opens the checkpoint backend, wrapped with its mirrors when
// any are configured. Closing the returned backend closes all of them.
func openStore(cfg CheckpointConfig, logger *slog.Logger) (*drivemover.BackendStore, drivemover.Backend, error) {
	compression, err := drivemover.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}
	mode, err := parseMirrorMode(cfg.MirrorMode)
	if err != nil {
		return nil, nil, err
	}

	backend, err := openBackend(cfg.BackendConfig)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Mirrors) > 0 {
		var mirrors []drivemover.Backend
		closeAll := func() error {
			errs := []error{backend.Close()}
			for _, m := range mirrors {
				errs = append(errs, m.Close())
			}
			return errors.Join(errs...)
		}
		for _, mc := range cfg.Mirrors {
			m, err := openBackend(mc)
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			mirrors = append(mirrors, m)
		}
		backend, err = multi.New(backend, mirrors, multi.WithMode(mode), multi.WithLogger(logger))
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
	}

	opts := []drivemover.StoreOption{drivemover.WithCompression(compression)}
	if cfg.Prefix != "" {
		opts = append(opts, drivemover.WithPrefix(cfg.Prefix))
	}
	return drivemover.NewBackendStore(backend, opts...), backend, nil
}

// buildFilter combines the configured and command-line filter rules.
// It returns nil when there are none.
func buildFilter(cfg MoveConfig) (*filter.Filter, error) {
	var opts []filter.Option
	for _, p := range cfg.Include {
		opts = append(opts, filter.Include(p))
	}
	for _, p := range cfg.Exclude {
		opts = append(opts, filter.Exclude(p))
	}
	if cfg.FilterFile != "" {
		opt, err := filter.FromFile(cfg.FilterFile)
		if err != nil {
			return nil, fmt.Errorf("loading filter file: %w", err)
		}
		opts = append(opts, opt)
	}
	if len(opts) == 0 {
		return nil, nil
	}
	return filter.New(opts...), nil
}
