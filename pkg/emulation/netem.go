package emulation

import (
	"context"
	"fmt"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/topology"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// DefaultName names emulations whose spec has no name.
const DefaultName = "default"

// Netem runs an emulation spec against a set of roles. Every operation
// recomputes the plan from the emulation file and the topology it was given.
type Netem struct {
	spec      *Spec
	roles     inventory.Roles
	topo      topology.Map
	cfg       settings.Config
	resolve   ResolveOptions
	enforcer  *Enforcer
	validator *Validator
}

// New prepares an emulation. topo should come from a Syncer run over the
// roles' hosts; when networks is non-nil its bindings are annotated with
// them.
func New(spec *Spec, roles inventory.Roles, networks inventory.Networks, topo topology.Map, exec remote.Executor, cfg settings.Config) *Netem {
	if networks != nil {
		topo.Bind(networks)
	}
	name := spec.Name
	if name == "" {
		name = DefaultName
	}
	return &Netem{
		spec:      spec,
		roles:     roles,
		topo:      topo,
		cfg:       cfg,
		resolve:   DefaultResolveOptions(),
		enforcer:  NewEnforcer(exec, NewStateStore(cfg.StateDir), name),
		validator: NewValidator(exec),
	}
}

// SetResolveOptions replaces the address resolution options.
func (n *Netem) SetResolveOptions(opts ResolveOptions) {
	n.resolve = opts
}

// SetDryRun leaves recorded state untouched by Deploy, Disable and
// Destroy. Use it with an executor that does not reach the hosts.
func (n *Netem) SetDryRun(on bool) {
	n.enforcer.SetDryRun(on)
}

// Name is the emulation name state is recorded under.
func (n *Netem) Name() string {
	return n.enforcer.name
}

// Groups returns the groups taking part: the group patterns
// expanded against the role names, or every role when none is listed.
func (n *Netem) Groups() ([]string, error) {
	names := n.roles.Names()
	if len(n.spec.Groups) == 0 {
		return names, nil
	}
	groups, err := ExpandAll(n.spec.Groups, names)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if _, ok := n.roles[g]; !ok {
			return nil, util.NewUnknownGroupError(g, "")
		}
	}
	return groups, nil
}

// Constraints returns the normalized group constraints.
func (n *Netem) Constraints() ([]GroupConstraint, error) {
	groups, err := n.Groups()
	if err != nil {
		return nil, err
	}
	def, err := n.spec.Defaults()
	if err != nil {
		return nil, err
	}
	if def.Network == "" {
		def.Network = n.cfg.DefaultNetwork
	}
	explicit, err := n.spec.Explicit()
	if err != nil {
		return nil, err
	}
	return Normalize(groups, def, explicit)
}

// Plan compiles the emulation. It makes no remote call.
func (n *Netem) Plan() (*Plan, error) {
	mode, err := n.spec.PlanMode()
	if err != nil {
		return nil, err
	}
	constraints, err := n.Constraints()
	if err != nil {
		return nil, err
	}
	rules, warnings, err := Resolve(constraints, n.roles, n.topo, n.resolve)
	if err != nil {
		return nil, err
	}

	var plan *Plan
	switch mode {
	case ModeFlat:
		plan = BuildFlat(rules)
	default:
		opts := DefaultHTBOptions()
		if n.cfg.HTBDefaultRate != "" {
			r, err := ParseRate(n.cfg.HTBDefaultRate)
			if err != nil {
				return nil, fmt.Errorf("htb default rate: %w", err)
			}
			opts.DefaultRate = r
		}
		plan = BuildHTB(rules, opts)
	}
	plan.Warnings = append(warnings, plan.Warnings...)

	util.WithFields(map[string]interface{}{
		"mode":        plan.Mode,
		"constraints": len(constraints),
		"rules":       len(rules),
	}).Debug("plan built")
	return plan, nil
}

// Deploy installs the plan, or only resets devices when the emulation has
// enable: false.
func (n *Netem) Deploy(ctx context.Context) (*Plan, error) {
	plan, err := n.Plan()
	if err != nil {
		return nil, err
	}
	return plan, n.enforcer.Deploy(ctx, plan, n.spec.Enabled())
}

// Disable resets the planned devices and keeps the state for a later Deploy.
func (n *Netem) Disable(ctx context.Context) (*Plan, error) {
	plan, err := n.Plan()
	if err != nil {
		return nil, err
	}
	return plan, n.enforcer.Deploy(ctx, plan, false)
}

// Destroy resets every device touched by earlier deploys and every device
// the current plan would use. If the plan cannot be built only the
// recorded devices are reset.
func (n *Netem) Destroy(ctx context.Context) error {
	var targets []Target
	plan, err := n.Plan()
	if err != nil {
		util.WithOperation("destroy").Warnf("plan unavailable, using recorded devices only: %v", err)
	} else {
		devices := plan.Devices()
		for _, h := range plan.Hosts() {
			targets = append(targets, Target{Host: h, Devices: devices[h.Alias]})
		}
	}
	return n.enforcer.Destroy(ctx, targets...)
}

// Validate compares the installed qdiscs with the plan and writes the
// report to outputDir.
func (n *Netem) Validate(ctx context.Context, outputDir string) (*Report, error) {
	plan, err := n.Plan()
	if err != nil {
		return nil, err
	}
	return n.validator.Validate(ctx, plan, outputDir)
}
