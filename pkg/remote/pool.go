package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// runner executes on one kind of host.
type runner interface {
	run(ctx context.Context, h *inventory.Host, line string) (string, error)
	fetch(ctx context.Context, h *inventory.Host, path string) ([]byte, error)
}

// Pool is the Executor used by the CLI. Hosts marked Local run through
// os/exec; every other host is reached over SSH. At most
// Config.Parallelism hosts are contacted at once.
type Pool struct {
	cfg   settings.Config
	ssh   runner
	local runner
}

// NewPool returns a Pool using cfg for connection defaults.
func NewPool(cfg settings.Config) *Pool {
	return &Pool{
		cfg:   cfg,
		ssh:   newSSHRunner(cfg),
		local: localRunner{},
	}
}

// Execute implements Executor. Results are in task order.
func (p *Pool) Execute(ctx context.Context, name string, tasks []Task, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if opts.Background && len(opts.Fetch) > 0 {
		return nil, fmt.Errorf("%s: background tasks cannot fetch files", name)
	}

	limit := p.cfg.Parallelism
	if limit < 1 {
		limit = 1
	}
	log := util.WithOperation(name)
	log.Debugf("running on %d host(s), parallelism %d", len(tasks), limit)

	results := make([]Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = p.runTask(ctx, task, opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%s: %w", name, err)
	}
	return results, nil
}

func (p *Pool) runTask(ctx context.Context, task Task, opts Options) Result {
	h := task.Host
	res := Result{Host: h.Alias}
	r := p.ssh
	if h.Local {
		r = p.local
	}

	out, err := r.run(ctx, h, shellLine(task.Script, opts.Background))
	res.Output = out
	if err != nil {
		res.Err = err
		util.WithHost(h.Alias).Debugf("task failed: %v", err)
		return res
	}

	for _, f := range opts.Fetch {
		data, err := r.fetch(ctx, h, f.Remote)
		if err != nil {
			res.Err = fmt.Errorf("fetch %s: %w", f.Remote, err)
			return res
		}
		dir := filepath.Join(f.Dir, util.SanitizeName(h.Alias))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			res.Err = err
			return res
		}
		local := filepath.Join(dir, f.Name)
		if err := os.WriteFile(local, data, 0o644); err != nil {
			res.Err = err
			return res
		}
		res.Fetched = append(res.Fetched, local)

		if f.Remove {
			if out, err := r.run(ctx, h, Command("rm", "-f", f.Remote)); err != nil {
				util.WithHost(h.Alias).Debugf("remove %s: %v %s", f.Remote, err, out)
			}
		}
	}
	return res
}
