package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunner_Run(t *testing.T) {
	t.Parallel()

	runner := &ShellRunner{}

	t.Run("executes_successful_batch", func(t *testing.T) {
		t.Parallel()

		res := runner.Run(context.Background(), []Step{
			{Cmd: "echo hello"},
			{Cmd: "true"},
		})

		assert.True(t, res.OK)
		assert.Contains(t, res.Stdout, "hello")
	})

	t.Run("strict_failure_aborts_batch", func(t *testing.T) {
		t.Parallel()

		res := runner.Run(context.Background(), []Step{
			{Cmd: "false"},
			{Cmd: "echo after"},
		})

		require.False(t, res.OK)
		assert.NotContains(t, res.Stdout, "after")
	})

	t.Run("tolerant_failure_continues_batch", func(t *testing.T) {
		t.Parallel()

		res := runner.Run(context.Background(), []Step{
			{Cmd: "false", Tolerant: true},
			{Cmd: "echo after"},
		})

		assert.True(t, res.OK)
		assert.Contains(t, res.Stdout, "after")
	})

	t.Run("captures_stderr", func(t *testing.T) {
		t.Parallel()

		res := runner.Run(context.Background(), []Step{
			{Cmd: "echo oops >&2; false"},
		})

		require.False(t, res.OK)
		assert.Contains(t, res.Stderr, "oops")
	})
}

func TestRunResult_Output(t *testing.T) {
	t.Parallel()

	t.Run("prefers_stderr", func(t *testing.T) {
		t.Parallel()

		res := RunResult{Stdout: "out", Stderr: "err"}

		assert.Equal(t, "err", res.Output())
	})

	t.Run("falls_back_to_stdout", func(t *testing.T) {
		t.Parallel()

		res := RunResult{Stdout: "out\n"}

		assert.Equal(t, "out", res.Output())
	})

	t.Run("substitutes_generic_message_for_empty_output", func(t *testing.T) {
		t.Parallel()

		res := RunResult{}

		assert.Equal(t, "command failed with no output", res.Output())
	})
}
