package dynamake

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// Runner spawns the subprocess behind an action. Shell joins words through
// a shell (so pipes, redirection, and globbing work); Spawn execs argv
// directly with no shell interposed. Both block until the process exits
// and report its exit code.
type Runner interface {
	Shell(ctx context.Context, words []string) (int, error)
	Spawn(ctx context.Context, words []string) (int, error)
}

// ShellRunner is the default Runner, backed by os/exec. Every shell-form
// action is run as "sh -c" with prefix prepended.
type ShellRunner struct {
	Prefix string // e.g. "set -eou pipefail;"
	Stdout *os.File
	Stderr *os.File
}

// NewShellRunner returns a runner writing to os.Stdout/os.Stderr.
func NewShellRunner(prefix string) *ShellRunner {
	return &ShellRunner{Prefix: prefix, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Shell joins words with spaces, prepends the configured prefix, and runs
// the result through "sh -c".
func (r *ShellRunner) Shell(ctx context.Context, words []string) (int, error) {
	script := strings.Join(words, " ")
	if r.Prefix != "" {
		script = r.Prefix + " " + script
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	return r.run(cmd)
}

// Spawn execs words[0] with words[1:] as arguments, with no shell.
func (r *ShellRunner) Spawn(ctx context.Context, words []string) (int, error) {
	if len(words) == 0 {
		return 0, nil
	}
	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	return r.run(cmd)
}

func (r *ShellRunner) run(cmd *exec.Cmd) (int, error) {
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
