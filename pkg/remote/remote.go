// Package remote runs shell scripts on inventory hosts and collects the
// per-host results.
package remote

import (
	"context"
	"fmt"

	"github.com/kballard/go-shellquote"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// Executor runs one named operation across many hosts. Execute blocks until
// every task has finished. A non-nil error means the batch itself could not
// run; per-host failures are reported in each Result.
type Executor interface {
	Execute(ctx context.Context, name string, tasks []Task, opts Options) ([]Result, error)
}

// Task is a script to run on one host.
type Task struct {
	Host   *inventory.Host
	Script string
}

// Fetch copies Remote from each host to Dir/<alias>/Name once the task's
// script has run. With Remove set the remote file is deleted afterwards.
type Fetch struct {
	Remote string
	Dir    string
	Name   string
	Remove bool
}

// Options tune an Execute call.
type Options struct {
	// Background detaches the script on the host and returns immediately.
	Background bool
	Fetch      []Fetch
}

// Result is the outcome of one task.
type Result struct {
	Host    string
	Output  string
	Err     error
	Fetched []string // local paths written by Fetch
}

// Failed reports whether the task did not complete.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Check turns the failed results of a batch into a RemoteOperationError.
// It returns nil when every host succeeded.
func Check(op string, results []Result) error {
	var failures []util.HostFailure
	for _, r := range results {
		if r.Failed() {
			failures = append(failures, util.HostFailure{Host: r.Host, Output: r.Output, Err: r.Err})
		}
	}
	return util.NewRemoteOperationError(op, failures)
}

// Command quotes argv into a single shell command line.
func Command(argv ...string) string {
	return shellquote.Join(argv...)
}

// SplitCommand splits a shell command line into argv.
func SplitCommand(line string) ([]string, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	return argv, nil
}

// shellLine wraps script so it can be handed to a login shell as one word.
func shellLine(script string, background bool) string {
	line := Command("sh", "-c", script)
	if background {
		line = "nohup " + line + " >/dev/null 2>&1 &"
	}
	return line
}
