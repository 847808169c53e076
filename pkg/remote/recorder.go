package remote

import (
	"context"
	"sync"
)

// Call is one Execute invocation seen by a Recorder.
type Call struct {
	Name  string
	Tasks []Task
	Opts  Options
}

// Recorder is an Executor that runs nothing. It keeps every call so the
// scripts can be printed (dry runs) or inspected. Respond, when set,
// supplies the output and error of each task.
type Recorder struct {
	Respond func(name string, t Task) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Execute implements Executor.
func (r *Recorder) Execute(ctx context.Context, name string, tasks []Task, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Tasks: append([]Task(nil), tasks...), Opts: opts})
	r.mu.Unlock()

	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = Result{Host: t.Host.Alias}
		if r.Respond != nil {
			results[i].Output, results[i].Err = r.Respond(name, t)
		}
	}
	return results, nil
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
