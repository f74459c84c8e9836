package stage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// Environment variables exported to command stages.
const (
	EnvRunToken   = "HVCFLOW_RUN_TOKEN"
	EnvStage      = "HVCFLOW_STAGE"
	EnvOutputRoot = "HVCFLOW_OUTPUT_ROOT"
	EnvConfig     = "HVCFLOW_CONFIG"
)

// Argument placeholders expanded by Command.
const (
	ArgConfig     = "{config}"
	ArgToken      = "{token}"
	ArgOutputRoot = "{output_root}"
	ArgStage      = "{stage}"
)

// stderrTail bounds how much captured stderr is attached to an error.
const stderrTail = 4096

// ParseCommand splits a command line with shell quoting rules.
func ParseCommand(line string) ([]string, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("parse command: empty command line")
	}
	return argv, nil
}

// Command runs a stage as an external process.
//
// Argv may reference {config}, {token}, {output_root} and {stage}; when it
// does not mention {config} the config path is appended as the last argument.
// The same values are exported as HVCFLOW_* environment variables.
type Command struct {
	Argv []string
	Dir  string
	Env  []string

	// Stdout and Stderr receive the process output. A nil Stderr is captured
	// and its tail attached to the returned error.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// NewCommand builds a Command from a shell-quoted command line.
func NewCommand(line string) (*Command, error) {
	argv, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return &Command{Argv: argv}, nil
}

// Run executes the command and waits for it to exit.
func (c *Command) Run(ctx context.Context, inv Invocation) error {
	if len(c.Argv) == 0 {
		return &Error{Kind: inv.Kind, Config: inv.ConfigPath, Err: fmt.Errorf("no command configured")}
	}
	argv := c.expand(inv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		EnvRunToken+"="+inv.RunToken,
		EnvStage+"="+string(inv.Kind),
		EnvOutputRoot+"="+inv.OutputRoot,
		EnvConfig+"="+inv.ConfigPath,
	)
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}

	var captured bytes.Buffer
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = &captured
	}

	logger := c.logger()
	logger.Debug("stage command starting", "stage", inv.Kind, "argv", argv, "token", inv.RunToken)
	start := time.Now()

	err := cmd.Run()
	logger.Debug("stage command finished", "stage", inv.Kind, "duration", time.Since(start), "error", err)

	if err != nil {
		if tail := tailString(captured.String(), stderrTail); tail != "" {
			err = fmt.Errorf("%w\nstderr:\n%s", err, tail)
		}
		return &Error{Kind: inv.Kind, Config: inv.ConfigPath, Err: err}
	}
	return nil
}

func (c *Command) expand(inv Invocation) []string {
	r := strings.NewReplacer(
		ArgConfig, inv.ConfigPath,
		ArgToken, inv.RunToken,
		ArgOutputRoot, inv.OutputRoot,
		ArgStage, string(inv.Kind),
	)
	argv := make([]string, 0, len(c.Argv)+1)
	hasConfig := false
	for _, a := range c.Argv {
		if strings.Contains(a, ArgConfig) {
			hasConfig = true
		}
		argv = append(argv, r.Replace(a))
	}
	if !hasConfig {
		argv = append(argv, inv.ConfigPath)
	}
	return argv
}

func (c *Command) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
