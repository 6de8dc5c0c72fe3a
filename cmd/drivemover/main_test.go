package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grokify/drivemover"
	"github.com/grokify/drivemover/drivetest"
	"github.com/grokify/drivemover/multi"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "drivemover.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DRIVEMOVER_GDRIVE_TOKEN", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, drivemover.DefaultCheckpointPrefix, cfg.Checkpoint.Prefix)
	assert.Equal(t, drivemover.DefaultPageSize, int(cfg.Move.PageSize))
	assert.Equal(t, time.Second, cfg.Move.LoopDelay)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DRIVEMOVER_GDRIVE_TOKEN", "")
	t.Setenv("STATE_BUCKET", "moves")
	p := writeConfig(t, `
log_level: debug
log_format: json
checkpoint:
  backend: s3
  options:
    bucket: ${STATE_BUCKET}
    region: eu-west-1
  compression: zstd
  mirrors:
    - backend: sqlite
      options:
        path: /var/lib/drivemover/mirror.db
  mirror_mode: strict
gdrive:
  credentials_file: /keys/sa.json
  subject: admin@example.com
  requests_per_second: 5
move:
  budget: 5m
  exclude: ["*.tmp", "Archive/"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "s3", cfg.Checkpoint.Backend)
	assert.Equal(t, "moves", cfg.Checkpoint.Options["bucket"])
	assert.Equal(t, "zstd", cfg.Checkpoint.Compression)
	require.Len(t, cfg.Checkpoint.Mirrors, 1)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Mirrors[0].Backend)
	assert.Equal(t, "/keys/sa.json", cfg.GDrive.CredentialsFile)
	assert.Equal(t, 5.0, cfg.GDrive.RequestsPerSecond)
	assert.Equal(t, 5*time.Minute, cfg.Move.Budget)
	assert.Equal(t, []string{"*.tmp", "Archive/"}, cfg.Move.Exclude)
	assert.Equal(t, drivemover.DefaultCheckpointPrefix, cfg.Checkpoint.Prefix)

	mode, err := parseMirrorMode(cfg.Checkpoint.MirrorMode)
	require.NoError(t, err)
	assert.Equal(t, multi.Strict, mode)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("DRIVEMOVER_GDRIVE_TOKEN", "")
	for name, body := range map[string]string{
		"log level":   "log_level: loud\n",
		"log format":  "log_format: xml\n",
		"compression": "checkpoint:\n  compression: brotli\n",
		"mirror":      "checkpoint:\n  mirrors:\n    - options: {root: /tmp}\n",
		"mirror mode": "checkpoint:\n  mirror_mode: sometimes\n",
		"budget":      "move:\n  budget: -1m\n",
		"token":       "gdrive:\n  token_file: token.json\n  credentials_file: \"\"\n",
		"yaml":        "checkpoint: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestFindConfig(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeConfig(t, "")
	got, err := FindConfig(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo, "json").Info("hello", "k", "v")
	assert.True(t, json.Valid(buf.Bytes()))

	buf.Reset()
	newLogger(&buf, slog.LevelWarn, "text").Info("hidden")
	assert.Empty(t, buf.String())
}

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter(MoveConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)

	rules := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(rules, []byte("+ *.pdf\n- Archive/\n"), 0o600))
	f, err = buildFilter(MoveConfig{Exclude: []string{"*.tmp"}, FilterFile: rules})
	require.NoError(t, err)
	assert.True(t, f.MatchPath("Reports/q3.pdf"))
	assert.False(t, f.MatchPath("notes.txt"))

	_, err = buildFilter(MoveConfig{FilterFile: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

// cliFixture is a fake drive with a source tree and a CLI config whose
// checkpoints live in a temp dir, mirrored to SQLite.
type cliFixture struct {
	drive  *drivetest.Drive
	src    string
	dst    string
	config string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Setenv("DRIVEMOVER_GDRIVE_TOKEN", "")
	dir := t.TempDir()
	t.Setenv("DM_STATE", dir)

	d := drivetest.New()
	fx := &cliFixture{drive: d}
	fx.src = d.AddFolder("", "src")
	fx.dst = d.AddFolder("", "dst")
	d.AddFile(fx.src, "a.txt")
	sub := d.AddFolder(fx.src, "Sub")
	d.AddFile(sub, "b.txt")
	d.AddFile(sub, "skip.tmp")

	fx.config = writeConfig(t, `
log_level: error
checkpoint:
  backend: file
  options:
    root: ${DM_STATE}/state
  compression: gzip
  mirrors:
    - backend: sqlite
      options:
        path: ${DM_STATE}/mirror.db
move:
  loop_delay: 1ms
`)

	prev := openDrive
	openDrive = func(context.Context, GDriveConfig, *slog.Logger) (drivemover.Drive, error) {
		return d, nil
	}
	t.Cleanup(func() { openDrive = prev })
	return fx
}

func (fx *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--config", fx.config))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeResult(t *testing.T, out string) drivemover.Result {
	t.Helper()
	var res drivemover.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestMoveCommand(t *testing.T) {
	fx := newCLIFixture(t)

	out, err := fx.run(t, "move", fx.src, fx.dst, "--exclude", "*.tmp")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.Equal(t, drivemover.StatusSuccess, res.Status)
	assert.True(t, res.Complete)

	newSub, ok := fx.drive.Child(fx.dst, "Sub")
	require.True(t, ok)
	_, ok = fx.drive.Child(newSub.ID, "b.txt")
	assert.True(t, ok)
	_, ok = fx.drive.Child(fx.dst, "a.txt")
	assert.True(t, ok)

	out, err = fx.run(t, "status", fx.src, fx.dst)
	require.NoError(t, err)
	assert.True(t, decodeResult(t, out).Complete)
}

func TestMoveCommandNotEmpty(t *testing.T) {
	fx := newCLIFixture(t)
	fx.drive.AddFile(fx.dst, "existing")

	out, err := fx.run(t, "move", fx.src, fx.dst)
	assert.ErrorIs(t, err, errDestinationNotEmpty)
	assert.Equal(t, drivemover.ReasonNotEmpty, decodeResult(t, out).Reason)

	_, err = fx.run(t, "move", fx.src, fx.dst, "--not-empty-override")
	require.NoError(t, err)
}

func TestMoveCommandLoopsUntilComplete(t *testing.T) {
	fx := newCLIFixture(t)

	out, err := fx.run(t, "move", fx.src, fx.dst, "--loop", "--budget", "1ns")
	require.NoError(t, err)
	assert.True(t, decodeResult(t, out).Complete)
	assert.Empty(t, fx.drive.Children(fx.src))
}

func TestMoveCommandBudgetLeavesCheckpoint(t *testing.T) {
	fx := newCLIFixture(t)

	out, err := fx.run(t, "move", fx.src, fx.dst, "--budget", "1ns")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.False(t, res.Complete)
	assert.Positive(t, res.Pending)

	out, err = fx.run(t, "status", fx.src, fx.dst)
	require.NoError(t, err)
	assert.Equal(t, res.Pending, decodeResult(t, out).Pending)

	// A different request key has no checkpoint.
	out, err = fx.run(t, "status", fx.src, fx.dst, "--copy-comments")
	require.NoError(t, err)
	assert.True(t, decodeResult(t, out).Complete)

	out, err = fx.run(t, "state", "copy", "--to", "sqlite", "--to-option", "path="+filepath.Join(t.TempDir(), "copy.db"))
	require.NoError(t, err)
	assert.Equal(t, "copied 1 objects\n", out)

	_, err = fx.run(t, "cancel", fx.src, fx.dst)
	require.NoError(t, err)
	out, err = fx.run(t, "status", fx.src, fx.dst)
	require.NoError(t, err)
	assert.True(t, decodeResult(t, out).Complete)
}

func TestErrorsCommand(t *testing.T) {
	fx := newCLIFixture(t)
	fx.drive.FailOn(drivetest.OpReparent, "b.txt", &drivemover.APIError{Code: 403, Message: "no access"})

	out, err := fx.run(t, "move", fx.src, fx.dst, "--report")
	require.NoError(t, err)
	res := decodeResult(t, out)
	assert.True(t, res.Complete)
	require.Len(t, res.Errors, 1)

	out, err = fx.run(t, "errors", fx.src, fx.dst)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"file":["Sub","b.txt"],"error":"no access"}`, lines[0])

	saved, err := fx.run(t, "errors", fx.src, fx.dst, "--saved")
	require.NoError(t, err)
	assert.Equal(t, out, saved)

	_, err = fx.run(t, "cancel", fx.src, fx.dst)
	require.NoError(t, err)
	out, err = fx.run(t, "errors", fx.src, fx.dst)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestMergeFoldersFlagUsage(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"move"})
	require.NoError(t, err)
	usage := cmd.Flags().Lookup("merge-folders").Usage
	assert.Contains(t, usage, "checkpoint key")
	assert.NotContains(t, usage, "merge into existing")
}

func TestCommandsRequireTwoArgs(t *testing.T) {
	fx := newCLIFixture(t)
	_, err := fx.run(t, "status", fx.src)
	assert.Error(t, err)
}
