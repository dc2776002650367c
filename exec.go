package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Step is one shell command in an ordered privileged batch. Tolerant steps
// never abort the batch; they are used by cleanup sequences where every
// command must be attempted regardless of earlier failures.
type Step struct {
	Cmd      string
	Tolerant bool
}

func step(format string, args ...any) Step {
	return Step{Cmd: fmt.Sprintf(format, args...)}
}

func tolerant(format string, args ...any) Step {
	return Step{Cmd: fmt.Sprintf(format, args...), Tolerant: true}
}

// RunResult is the aggregate outcome of a batch: overall success plus the
// combined captured output of every executed step.
type RunResult struct {
	Stdout string
	Stderr string
	OK     bool
}

// Output returns the best available diagnostic text for a result, never an
// empty string.
func (r RunResult) Output() string {
	out := strings.TrimSpace(r.Stderr)
	if out == "" {
		out = strings.TrimSpace(r.Stdout)
	}
	if out == "" {
		out = "command failed with no output"
	}
	return out
}

// Runner executes ordered batches of shell commands with elevated
// privileges. The orchestration core only consumes this capability; it
// never spawns processes itself, which lets tests substitute a recording
// fake.
type Runner interface {
	Run(ctx context.Context, steps []Step) RunResult
}

// ShellRunner executes each step through sh -c, short-circuiting on the
// first strict failure.
type ShellRunner struct {
	// Shell overrides the interpreter, e.g. "su" wrappers on devices where
	// the process itself is not root. Empty means /bin/sh.
	Shell string
}

func (s *ShellRunner) Run(ctx context.Context, steps []Step) RunResult {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var stdout, stderr bytes.Buffer
	for _, st := range steps {
		cmd := exec.CommandContext(ctx, shell, "-c", st.Cmd)
		var out, errOut bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &errOut
		err := cmd.Run()

		stdout.Write(out.Bytes())
		stderr.Write(errOut.Bytes())

		if err != nil {
			if st.Tolerant {
				log.Debug().Str("cmd", st.Cmd).Err(err).Msg("tolerant step failed, continuing")
				continue
			}
			log.Debug().Str("cmd", st.Cmd).Err(err).Msg("step failed, aborting batch")
			return RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
		}
	}

	return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), OK: true}
}

// runOne is a convenience for single-command batches.
func runOne(ctx context.Context, r Runner, cmd string) RunResult {
	return r.Run(ctx, []Step{{Cmd: cmd}})
}
