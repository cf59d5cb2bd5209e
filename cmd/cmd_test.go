package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/registry"
	"github.com/conneroisu/asyncview/internal/view"
)

func testCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	return cmd, &out
}

func lines(out *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(out.String()), "\n")
}

func TestDemoCommand(t *testing.T) {
	cmd, out := testCommand(t)
	demoValues, demoDelay, demoFail = []int{1, 2, 3}, 0, ""

	require.NoError(t, runDemo(cmd, nil))

	assert.Equal(t, []string{
		"numbers #1: Numbers | Waiting for first value | 0 updates, subscribed",
		"numbers #2: Numbers | 1 | 1 updates, subscribed",
		"numbers #3: Numbers | 2 | 2 updates, subscribed",
		"numbers #4: Numbers | 3 | 3 updates, subscribed",
		"numbers #5: Numbers | 3 | 3 updates, completed",
		"numbers completed, retained 3",
		"greeting #1: Greeting | Waiting for first value | 0 updates, subscribed",
		"greeting #2: Greeting | hello, world | 1 updates, completed",
	}, lines(out))
}

func TestDemoCommandFailure(t *testing.T) {
	cmd, out := testCommand(t)
	demoValues, demoDelay, demoFail = []int{7}, time.Millisecond, "backend down"
	t.Cleanup(func() { demoFail = "" })

	require.NoError(t, runDemo(cmd, nil))

	got := lines(out)
	last := got[len(got)-1]
	assert.True(t, strings.HasPrefix(last, "greeting #2: Greeting | "), last)
	assert.Contains(t, last, "backend down")
	assert.True(t, strings.HasSuffix(last, "0 updates, failed"), last)
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"8080", false},
		{"1", false},
		{"65535", false},
		{"0", true},
		{"65536", true},
		{"-1", true},
		{"http", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidatePort(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPortFlag(t *testing.T) {
	var port int
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.VarP(newPortValue(8080, &port), "port", "p", "port")

	assert.Equal(t, 8080, port)
	assert.Equal(t, "port", fs.Lookup("port").Value.Type())

	require.NoError(t, fs.Parse([]string{"-p", "9000"}))
	assert.Equal(t, 9000, port)
	assert.Equal(t, "9000", fs.Lookup("port").Value.String())

	assert.Error(t, fs.Parse([]string{"--port", "70000"}))
	assert.Equal(t, 9000, port, "rejected values leave the flag unchanged")
}

func TestServeFlagsBindToConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	var port int
	fs.Var(newPortValue(8080, &port), "port", "port")
	require.NoError(t, viper.BindPFlag("server.port", fs.Lookup("port")))
	require.NoError(t, fs.Parse([]string{"--port", "9191"}))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestConfigShow(t *testing.T) {
	cmd, out := testCommand(t)

	configFormat = "yaml"
	require.NoError(t, runConfigShow(cmd, nil))
	assert.Contains(t, out.String(), "port: 8080")
	assert.Contains(t, out.String(), "name: clock")
	assert.Contains(t, out.String(), "debounce: 100ms")

	out.Reset()
	configFormat = "json"
	t.Cleanup(func() { configFormat = "yaml" })
	require.NoError(t, runConfigShow(cmd, nil))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Contains(t, decoded, "Server")

	out.Reset()
	configFormat = "toml"
	require.NoError(t, runConfigShow(cmd, nil))
	assert.Contains(t, out.String(), "[server]")
	assert.Contains(t, out.String(), "port = 8080")

	configFormat = "ini"
	assert.Error(t, runConfigShow(cmd, nil))
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	valid := write("valid.yml", `
server:
  port: 9090
views:
  - name: greeting
    source: static
    params:
      value: hi
`)
	warning := write("warning.yml", `
views:
  - name: greeting
    source: static
`)
	invalid := write("invalid.yml", `
server:
  port: 70000
views:
  - name: greeting
    source: carrier-pigeon
`)

	tests := []struct {
		name    string
		file    string
		strict  bool
		wantErr bool
		want    string
	}{
		{name: "valid", file: valid, want: "Configuration is valid."},
		{name: "warnings pass", file: warning, want: "with 1 warnings"},
		{name: "warnings fail in strict mode", file: warning, strict: true, wantErr: true},
		{name: "errors", file: invalid, wantErr: true, want: "server.port"},
		{name: "missing file", file: filepath.Join(dir, "missing.yml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, out := testCommand(t)
			configFile, configStrict = tt.file, tt.strict
			t.Cleanup(func() { configFile, configStrict = "", false })

			err := runConfigValidate(cmd, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd, out := testCommand(t)

	versionFormat = "json"
	t.Cleanup(func() { versionFormat = "text" })
	require.NoError(t, runVersionCommand(cmd, nil))

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	out.Reset()
	versionFormat = "text"
	require.NoError(t, runVersionCommand(cmd, nil))
	assert.True(t, strings.HasPrefix(out.String(), "asyncview "))

	versionFormat = "xml"
	assert.Error(t, runVersionCommand(cmd, nil))
}

func TestConsoleSinkWaitsForTerminalState(t *testing.T) {
	var out bytes.Buffer
	sink := newConsoleSink(&out)

	sink.Publish(context.Background(), view.Update{View: "a", HTML: "<p>one</p><p>two</p>", State: projector.StateSubscribed, Seq: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.wait(ctx, "a"), context.DeadlineExceeded)

	sink.Publish(context.Background(), view.Update{View: "a", HTML: "<p>done</p>", State: projector.StateCompleted, Seq: 2})
	sink.Publish(context.Background(), view.Update{View: "a", HTML: "<p>done</p>", State: projector.StateCompleted, Seq: 3})
	require.NoError(t, sink.wait(context.Background(), "a"))

	assert.Equal(t, "a #1: one | two\na #2: done\na #3: done\n", out.String())
}

func TestApplyWatchFlags(t *testing.T) {
	cfg := config.Default()
	watchExtensions, watchDebounce, watchFailFast = []string{".go"}, 250*time.Millisecond, true
	t.Cleanup(func() { watchExtensions, watchDebounce, watchFailFast = nil, 0, false })

	applyWatchFlags(cfg, []string{"./src"})
	assert.Equal(t, []string{"./src"}, cfg.Watch.Paths)
	assert.Equal(t, []string{".go"}, cfg.Watch.Extensions)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.True(t, cfg.Watch.FailOnError)
}

func TestWatchArgsRejectUnsafePaths(t *testing.T) {
	assert.NoError(t, watchCmd.Args(watchCmd, []string{"./src", "internal"}))
	assert.Error(t, watchCmd.Args(watchCmd, []string{"../outside"}))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Info(context.Background(), "hello", "key", "value")
	require.NoError(t, closeLog())
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	dir := t.TempDir()
	logger, closeLog, err = newLogger(config.LoggingConfig{Level: "info", Format: "text", Dir: dir}, io.Discard)
	require.NoError(t, err)
	logger.Info(context.Background(), "to file")
	require.NoError(t, closeLog())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, _, err = newLogger(config.LoggingConfig{Level: "loud"}, io.Discard)
	assert.Error(t, err)
}

func TestReleaseViewsLogsCleanupFailure(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closeLog()

	reg := registry.New(nil)
	v := view.New[int]("changes", nil)
	require.NoError(t, reg.Register(v, config.SourceWatch, func() error { return errors.New("watcher close failed") }))

	releaseViews(context.Background(), reg, logger)

	assert.Zero(t, reg.Count())
	assert.Contains(t, buf.String(), "failed to release views")
	assert.Contains(t, buf.String(), "watcher close failed")
}

func TestRunLoopDrainsOnStop(t *testing.T) {
	lp, stop := runLoop(context.Background(), logging.NewNop())
	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		lp.Dispatch(func() { got = append(got, i) })
	}
	stop()
	assert.Equal(t, []int{1, 2, 3}, got)
}
