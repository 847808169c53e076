package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbkit-project/tbkit/pkg/audit"
	"github.com/tbkit-project/tbkit/pkg/cli"
	"github.com/tbkit-project/tbkit/pkg/emulation"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/util"
)

var (
	emulationFile string
	executeMode   bool
)

func newEmulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "emulate",
		Aliases: []string{"netem"},
		Short:   "Plan, deploy and check traffic emulation",
		Long: `Shape the traffic between host groups as described by an emulation file.

deploy, disable and destroy print the tc scripts they would run; add -x
to run them. plan and validate never change the hosts.

  tbkit -i hosts.yaml emulate plan -e wan.yaml
  tbkit -i hosts.yaml emulate deploy -e wan.yaml -x
  tbkit -i hosts.yaml emulate validate -e wan.yaml -o out/
  tbkit emulate list
  tbkit emulate history --last 24h`,
	}

	cmd.AddCommand(
		newEmulatePlanCmd(),
		newEmulateWriteCmd(audit.OpDeploy, "Install the emulation on the hosts",
			func(ctx context.Context, n *emulation.Netem) (*emulation.Plan, error) { return n.Deploy(ctx) }),
		newEmulateWriteCmd(audit.OpDisable, "Reset the planned devices, keeping the emulation recorded",
			func(ctx context.Context, n *emulation.Netem) (*emulation.Plan, error) { return n.Disable(ctx) }),
		newEmulateWriteCmd(audit.OpDestroy, "Reset every device the emulation has touched and forget it",
			func(ctx context.Context, n *emulation.Netem) (*emulation.Plan, error) { return nil, n.Destroy(ctx) }),
		newEmulateValidateCmd(),
		newEmulateListCmd(),
		newEmulateHistoryCmd(),
	)
	return cmd
}

func addEmulationFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&emulationFile, "emulation", "e", "", "Emulation file (YAML)")
	cmd.MarkFlagRequired("emulation")
	cmd.Flags().BoolVar(&fromRedis, "from-redis", false, "Read the topology snapshot from Redis")
}

// openEmulation loads the -e file and syncs the testbed. The emulation
// runs its tc scripts through exec.
func openEmulation(ctx context.Context, cfg settings.Config, exec remote.Executor) (*emulation.Netem, error) {
	spec, err := emulation.LoadSpec(emulationFile)
	if err != nil {
		return nil, err
	}
	// topology sync only reads, so it always reaches the hosts
	tb, err := openTestbed(ctx, cfg, remote.NewPool(cfg))
	if err != nil {
		return nil, err
	}
	return emulation.New(spec, tb.roles, tb.networks, tb.topo, exec, cfg), nil
}

func newEmulatePlanCmd() *cobra.Command {
	var showScripts bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compile the emulation and print the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			n, err := openEmulation(ctx, app.config(), &remote.Recorder{})
			if err != nil {
				return err
			}
			plan, err := n.Plan()
			if err != nil {
				return err
			}
			printWarnings(plan.Warnings)
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}
			printPlan(plan)
			if showScripts {
				fmt.Println()
				for _, s := range plan.Scripts(plan.Devices(), true) {
					printScript(s.Alias, s.String())
				}
			}
			return nil
		},
	}
	addEmulationFlag(cmd)
	cmd.Flags().BoolVar(&showScripts, "scripts", false, "Also print the tc scripts of a fresh install")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

// newEmulateWriteCmd builds deploy, disable and destroy. Without -x the
// operation runs against a Recorder and the recorded scripts are printed.
func newEmulateWriteCmd(op audit.Operation, short string, run func(context.Context, *emulation.Netem) (*emulation.Plan, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(op),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := app.config()

			var exec remote.Executor = remote.NewPool(cfg)
			rec := &remote.Recorder{}
			if !executeMode {
				exec = rec
			}
			n, err := openEmulation(ctx, cfg, exec)
			if err != nil {
				return err
			}
			n.SetDryRun(!executeMode)

			ev := audit.NewEvent(n.Name(), op).WithDryRun(!executeMode)
			plan, err := run(ctx, n)
			if plan != nil {
				ev.WithMode(string(plan.Mode))
				ev.WithHosts(hostAliases(plan)...)
				printWarnings(plan.Warnings)
			}
			app.record(ev, err)

			if !executeMode {
				calls := rec.Calls()
				for _, c := range calls {
					for _, t := range c.Tasks {
						printScript(t.Host.Alias, t.Script)
					}
				}
				if len(calls) == 0 && err == nil {
					fmt.Println("nothing to do")
				}
				printDryRunNotice()
				return err
			}

			if err != nil {
				return fmt.Errorf("%s %s: %w", op, n.Name(), err)
			}
			fmt.Printf("%s %s %s (%s)\n", green("✓"), op, n.Name(), ev.Duration.Round(time.Millisecond))
			return nil
		},
	}
	addEmulationFlag(cmd)
	cmd.Flags().BoolVarP(&executeMode, "execute", "x", false, "Execute (default is a preview)")
	return cmd
}

func newEmulateValidateCmd() *cobra.Command {
	var (
		outputDir string
		strict    bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compare the installed qdiscs with the plan",
		Long: `Capture the qdiscs, classes and filters of every planned device, compare
them with the plan and write report.json, report.md and report.xml (JUnit)
plus the raw captures to the output directory.

  tbkit -i hosts.yaml emulate validate -e wan.yaml -o out/
  tbkit -i hosts.yaml emulate validate -e wan.yaml --strict   # exit 1 on mismatch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := app.config()
			n, err := openEmulation(ctx, cfg, remote.NewPool(cfg))
			if err != nil {
				return err
			}
			if outputDir == "" {
				outputDir = filepath.Join(emulation.NewStateStore(cfg.StateDir).Dir(n.Name()),
					"validate-"+time.Now().Format("20060102-150405"))
			}

			ev := audit.NewEvent(n.Name(), audit.OpValidate)
			report, err := n.Validate(ctx, outputDir)
			if report != nil {
				ev.WithMode(string(report.Mode))
				printReport(report)
				fmt.Printf("\nreport written to %s\n", outputDir)
				if strict && err == nil {
					err = report.Err()
				}
			}
			app.record(ev, err)
			return err
		},
	}
	addEmulationFlag(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Report directory (default under the state directory)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the installed state differs from the plan")
	return cmd
}

func newEmulateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List emulations with recorded state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := emulation.NewStateStore(app.config().StateDir)
			names, err := store.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no emulations recorded")
				return nil
			}

			t := cli.NewTable("NAME", "STATUS", "MODE", "HOSTS", "UPDATED")
			for _, name := range names {
				state, err := store.Load(name)
				if err != nil {
					t.Row(name, red("unreadable"), "", "", "")
					continue
				}
				status := yellow("disabled")
				if state.Enabled {
					status = green("enabled")
				}
				t.Row(name, status, string(state.Mode), strconv.Itoa(len(state.Hosts)),
					state.Updated.Local().Format("2006-01-02 15:04:05"))
			}
			t.Flush()
			return nil
		},
	}
}

func newEmulateHistoryCmd() *cobra.Command {
	var (
		filter   audit.Filter
		op       string
		last     string
		failures bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the journal of emulation operations",
		Long: `Show deploy, disable, destroy and validate runs, newest last.

  tbkit emulate history
  tbkit emulate history --name wan --last 24h
  tbkit emulate history --host h1 --failures`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.audit == nil {
				return fmt.Errorf("audit journal unavailable")
			}
			filter.Operation = audit.Operation(op)
			filter.FailureOnly = failures
			if last != "" {
				d, err := time.ParseDuration(last)
				if err != nil {
					return fmt.Errorf("invalid duration: %s", last)
				}
				filter.StartTime = time.Now().Add(-d)
			}

			events, err := app.audit.Query(filter)
			if err != nil {
				return fmt.Errorf("querying audit log: %w", err)
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(events)
			}
			if len(events) == 0 {
				fmt.Println("No audit events found")
				return nil
			}

			t := cli.NewTable("TIMESTAMP", "USER", "EMULATION", "OPERATION", "HOSTS", "STATUS")
			for _, ev := range events {
				t.Row(ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.User, ev.Emulation,
					string(ev.Operation), strings.Join(ev.Hosts, ","), eventStatus(ev))
			}
			t.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Emulation, "name", "", "Filter by emulation name")
	cmd.Flags().StringVar(&op, "op", "", "Filter by operation (deploy, disable, destroy, validate)")
	cmd.Flags().StringVar(&filter.Host, "host", "", "Filter by host alias")
	cmd.Flags().StringVar(&last, "last", "", "Show events from last duration (e.g., 24h)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum events to show")
	cmd.Flags().BoolVar(&failures, "failures", false, "Show only failed operations")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	return cmd
}

func eventStatus(ev *audit.Event) string {
	switch {
	case ev.DryRun:
		return yellow("dry-run")
	case ev.Success:
		return green("ok")
	case len(ev.FailedHosts) > 0:
		return red("failed: " + strings.Join(ev.FailedHosts, ","))
	default:
		return red("failed")
	}
}

func hostAliases(plan *emulation.Plan) []string {
	hosts := plan.Hosts()
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Alias
	}
	return out
}

func printWarnings(warnings []util.Warning) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, yellow("warning:"), w)
	}
}

func printPlan(plan *emulation.Plan) {
	if plan.Empty() {
		fmt.Printf("mode %s: no device to shape\n", plan.Mode)
		return
	}
	fmt.Print(plan.Describe())
}

func printScript(alias, script string) {
	fmt.Println(bold("# " + alias))
	fmt.Print(script)
	if !strings.HasSuffix(script, "\n") {
		fmt.Println()
	}
}

func printReport(report *emulation.Report) {
	t := cli.NewTable("HOST", "DEVICE", "STATUS")
	for _, h := range report.Hosts {
		if h.Error != "" {
			t.Row(h.Host, "-", red("capture failed: "+h.Error))
			continue
		}
		for _, d := range h.Devices {
			status := green("✓ ok")
			if !d.OK {
				status = red(fmt.Sprintf("✗ %d mismatch(es)", len(d.Mismatches)))
			}
			t.Row(h.Host, d.Device, status)
		}
	}
	t.Flush()

	for _, m := range report.Mismatches() {
		fmt.Printf("  %s/%s: expected %s, got %s\n", m.Host, m.Device, m.Expected, m.Actual)
	}
}

func printDryRunNotice() {
	fmt.Println("\n" + yellow("DRY-RUN: No changes applied. Use -x to execute."))
}
