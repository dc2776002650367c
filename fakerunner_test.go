package main

import (
	"context"
	"strings"
)

// fakeRunner records every batch and executed command, answering each step
// from scripted responses matched by substring. Unmatched steps succeed
// with no output.
type fakeRunner struct {
	batches   [][]Step
	executed  []string
	responses []fakeResponse
}

type fakeResponse struct {
	match  string
	stdout string
	stderr string
	fail   bool
}

func (f *fakeRunner) on(match string, r fakeResponse) {
	r.match = match
	f.responses = append(f.responses, r)
}

func (f *fakeRunner) failOn(match string, stderr string) {
	f.responses = append(f.responses, fakeResponse{match: match, stderr: stderr, fail: true})
}

func (f *fakeRunner) Run(_ context.Context, steps []Step) RunResult {
	f.batches = append(f.batches, steps)

	var stdout, stderr strings.Builder
	for _, st := range steps {
		f.executed = append(f.executed, st.Cmd)

		resp, found := f.lookup(st.Cmd)
		if found {
			stdout.WriteString(resp.stdout)
			stderr.WriteString(resp.stderr)
			if resp.fail && !st.Tolerant {
				return RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
			}
		}
	}
	return RunResult{Stdout: stdout.String(), Stderr: stderr.String(), OK: true}
}

func (f *fakeRunner) lookup(cmd string) (fakeResponse, bool) {
	for _, resp := range f.responses {
		if strings.Contains(cmd, resp.match) {
			return resp, true
		}
	}
	return fakeResponse{}, false
}

// indexOf returns the position of the first executed command containing
// substr, or -1.
func (f *fakeRunner) indexOf(substr string) int {
	for i, cmd := range f.executed {
		if strings.Contains(cmd, substr) {
			return i
		}
	}
	return -1
}

func (f *fakeRunner) ran(substr string) bool {
	return f.indexOf(substr) >= 0
}
