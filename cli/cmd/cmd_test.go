package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/types"
)

// newTestApp creates a cli.App with every command wired up and
// ExitErrHandler suppressed so errors are returned instead of calling os.Exit.
func newTestApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "sluice"
	app.Commands = []*cli.Command{RunCommand(), InspectCommand(), VersionCommand("test-commit")}
	app.Writer = out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

// exitCode extracts the exit code of an app.Run error; nil is 0.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error is not an ExitCoder: %v", err)
	}
	return ec.ExitCode()
}

// newFlagContext builds a context where only setValues are explicitly set.
func newFlagContext(t *testing.T, defaults, setValues map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range defaults {
		fs.String(name, val, "")
	}
	for name := range setValues {
		if fs.Lookup(name) == nil {
			fs.String(name, "", "")
		}
	}
	for name, val := range setValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	hasTUI := false
	for _, f := range ReadOnlyFlags() {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}
	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newFlagContext(t, nil, map[string]string{"uri": "mem:1"})
	if got := resolveString(c, "uri", "mem:2"); got != "mem:1" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newFlagContext(t, map[string]string{"uri": ""}, nil)
	if got := resolveString(c, "uri", "mem:2"); got != "mem:2" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_FlagDefault(t *testing.T) {
	c := newFlagContext(t, map[string]string{"combiner": "ordered"}, nil)
	if got := resolveString(c, "combiner", ""); got != "ordered" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestResolveString_ConfigBeatsFlagDefault(t *testing.T) {
	c := newFlagContext(t, map[string]string{"combiner": "ordered"}, nil)
	if got := resolveString(c, "combiner", "sorted"); got != "sorted" {
		t.Errorf("config should beat an unset flag's default, got %q", got)
	}
}

func TestConfigVal(t *testing.T) {
	if got := configVal(nil, func(c *config.Config) string { return c.URI }); got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
	cfg := &config.Config{Workers: 6}
	if got := configVal(cfg, func(c *config.Config) int { return c.Workers }); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}
}

func TestResolveInt(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("workers", 0, "")
	c := cli.NewContext(app, fs, nil)
	if got := resolveInt(c, "workers", 8); got != 8 {
		t.Errorf("expected config fallback 8, got %d", got)
	}
	_ = fs.Set("workers", "2")
	if got := resolveInt(c, "workers", 8); got != 2 {
		t.Errorf("expected CLI to win with 2, got %d", got)
	}
}

func TestResolveBool(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("output-s3-path-style", false, "")
	c := cli.NewContext(app, fs, nil)
	if !resolveBool(c, "output-s3-path-style", true) {
		t.Error("expected config true when flag unset")
	}
	_ = fs.Set("output-s3-path-style", "false")
	if resolveBool(c, "output-s3-path-style", true) {
		t.Error("expected explicit CLI false to win")
	}
}

func TestResolveDuration(t *testing.T) {
	app := cli.NewApp()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("tick-interval", 0, "")
	c := cli.NewContext(app, fs, nil)
	if got := resolveDuration(c, "tick-interval", time.Second); got != time.Second {
		t.Errorf("expected config fallback 1s, got %v", got)
	}
	_ = fs.Set("tick-interval", "30ms")
	if got := resolveDuration(c, "tick-interval", time.Second); got != 30*time.Millisecond {
		t.Errorf("expected CLI 30ms to win, got %v", got)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"sluice", "version", "--format", "json"})
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if resp.Version != types.Version || resp.Commit != "test-commit" {
		t.Errorf("unexpected version response: %+v", resp)
	}
}

func TestVersionCommand_TUIRejected(t *testing.T) {
	err := newTestApp(io.Discard).Run([]string{"sluice", "version", "--tui"})
	if exitCode(t, err) != 1 {
		t.Errorf("expected exit 1 for --tui, got %v", err)
	}
}
