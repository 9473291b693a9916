package maxutils

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes external commands. Implementations must treat a non-zero
// exit status as an error; commands are always given as argument vectors,
// never as shell strings.
type Runner interface {
	// Run executes the command and discards stdout.
	Run(name string, args ...string) error
	// Output executes the command and returns its stdout.
	Output(name string, args ...string) (string, error)
}

// ExecRunner runs commands as child processes, logging each invocation.
type ExecRunner struct {
	Log *logrus.Logger
}

// NewRunner returns an ExecRunner logging to log. A nil log uses the
// logrus standard logger.
func NewRunner(log *logrus.Logger) *ExecRunner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExecRunner{Log: log}
}

// Run executes name with args, capturing stderr for error reporting.
func (r *ExecRunner) Run(name string, args ...string) error {
	r.Log.WithField("cmd", name).Debug(strings.Join(append([]string{name}, args...), " "))
	var stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, args, stderr.String(), err)
	}
	return nil
}

// Output executes name with args and returns stdout as a string.
func (r *ExecRunner) Output(name string, args ...string) (string, error) {
	r.Log.WithField("cmd", name).Debug(strings.Join(append([]string{name}, args...), " "))
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, args, stderr.String(), err)
	}
	return stdout.String(), nil
}

func commandError(name string, args []string, stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	if msg != "" {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
	}
	return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
}
