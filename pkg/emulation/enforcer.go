package emulation

import (
	"context"

	"go.uber.org/multierr"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// Enforcer installs and removes plans on hosts. Each operation is a single
// Execute call covering every host. Running two operations at once on
// overlapping devices of the same host is not supported: whichever reaches
// the kernel last wins.
type Enforcer struct {
	exec   remote.Executor
	store  *StateStore // nil: nothing persisted
	name   string
	dryRun bool
}

// NewEnforcer returns an enforcer recording touched devices under name in
// store.
func NewEnforcer(exec remote.Executor, store *StateStore, name string) *Enforcer {
	return &Enforcer{exec: exec, store: store, name: name}
}

// SetDryRun makes the enforcer read recorded state but never write it,
// for runs whose executor only records scripts.
func (e *Enforcer) SetDryRun(on bool) {
	e.dryRun = on
}

// Target names devices to reset on a host.
type Target struct {
	Host    *inventory.Host
	Devices []string
}

func (e *Enforcer) loadState() (*State, error) {
	if e.store == nil {
		return &State{Name: e.name, Hosts: map[string]*TouchedHost{}}, nil
	}
	return e.store.Load(e.name)
}

func (e *Enforcer) saveState(s *State) error {
	if e.store == nil || e.dryRun {
		return nil
	}
	return e.store.Save(s)
}

// Deploy resets every planned device, and every device touched by an
// earlier deploy, then installs the plan when enabled is true. With enabled
// false it only resets, which disables emulation without dropping the
// plan. Applying the same plan twice yields the same kernel state.
//
// Hosts that fail do not stop the others; their failures are returned
// together as a RemoteOperationError once every host has run.
func (e *Enforcer) Deploy(ctx context.Context, plan *Plan, enabled bool) error {
	op := "deploy"
	if !enabled {
		op = "disable"
	}
	log := util.WithOperation(op)

	state, err := e.loadState()
	if err != nil {
		return err
	}

	hosts := make(map[string]*inventory.Host)
	cleanup := make(map[string][]string)
	for alias, th := range state.Hosts {
		h := th.Host
		hosts[alias] = &h
		cleanup[alias] = append(cleanup[alias], th.Devices...)
	}
	planned := plan.Devices()
	for _, h := range plan.Hosts() {
		hosts[h.Alias] = h
		cleanup[h.Alias] = util.DedupStrings(append(planned[h.Alias], cleanup[h.Alias]...))
	}

	results, err := e.run(ctx, "emulation-"+op, hosts, plan.Scripts(cleanup, enabled))
	if err != nil {
		return e.interrupted(state, hosts, cleanup, results, err)
	}

	for _, r := range results {
		h := hosts[r.Host]
		if r.Failed() {
			// Unknown kernel state: keep everything we may have touched.
			state.Touch(h, cleanup[r.Host]...)
			continue
		}
		state.Forget(r.Host)
		if devs := planned[r.Host]; len(devs) > 0 {
			state.Touch(h, devs...)
		}
	}
	state.Enabled = enabled
	state.Mode = plan.Mode
	if err := multierr.Append(e.saveState(state), remote.Check(op, results)); err != nil {
		return err
	}
	log.Infof("%d host(s) updated", len(results))
	return nil
}

// Destroy resets every device recorded by earlier deploys plus extra.
// Nothing to reset is success.
func (e *Enforcer) Destroy(ctx context.Context, extra ...Target) error {
	state, err := e.loadState()
	if err != nil {
		return err
	}

	hosts := make(map[string]*inventory.Host)
	cleanup := make(map[string][]string)
	for alias, th := range state.Hosts {
		h := th.Host
		hosts[alias] = &h
		cleanup[alias] = th.Devices
	}
	for _, t := range extra {
		if len(t.Devices) == 0 {
			continue
		}
		hosts[t.Host.Alias] = t.Host
		cleanup[t.Host.Alias] = util.DedupStrings(append(cleanup[t.Host.Alias], t.Devices...))
	}
	if len(cleanup) == 0 {
		util.WithOperation("destroy").Info("nothing to clean")
		return nil
	}

	empty := &Plan{}
	results, err := e.run(ctx, "emulation-destroy", hosts, empty.Scripts(cleanup, false))
	if err != nil {
		return e.interrupted(state, hosts, cleanup, results, err)
	}
	for _, r := range results {
		if r.Failed() {
			state.Touch(hosts[r.Host], cleanup[r.Host]...)
			continue
		}
		state.Forget(r.Host)
	}
	state.Enabled = false
	return multierr.Append(e.saveState(state), remote.Check("destroy", results))
}

// interrupted handles an Execute that failed as a whole. When some results
// came back, scripts may have run on any host, so every device of the batch
// stays recorded.
func (e *Enforcer) interrupted(state *State, hosts map[string]*inventory.Host, cleanup map[string][]string, results []remote.Result, err error) error {
	if results == nil {
		return err
	}
	for alias, devs := range cleanup {
		state.Touch(hosts[alias], devs...)
	}
	return multierr.Append(err, e.saveState(state))
}

func (e *Enforcer) run(ctx context.Context, name string, hosts map[string]*inventory.Host, scripts []HostScript) ([]remote.Result, error) {
	tasks := make([]remote.Task, 0, len(scripts))
	for _, s := range scripts {
		util.WithHost(s.Alias).Debugf("script:\n%s", s)
		tasks = append(tasks, remote.Task{Host: hosts[s.Alias], Script: s.String()})
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return e.exec.Execute(ctx, name, tasks, remote.Options{})
}
