package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbkit-project/tbkit/pkg/cli"
	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/settings"
)

func newRunCmd() *cobra.Command {
	var (
		roles      []string
		background bool
		serial     bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command on testbed hosts",
		Long: `Run a command on every host, or on the hosts of the given roles.

A single argument is taken as a shell line; several are quoted as argv.

  tbkit -i hosts.yaml run -- tc qdisc show dev eth0
  tbkit -i hosts.yaml run --on paris 'ping -c1 10.0.0.2 | tail -1'
  tbkit -i hosts.yaml run --on berlin --background -- iperf3 -s`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := runScript(args)
			if err != nil {
				return err
			}

			if serial {
				restore := app.scope.Override(func(c *settings.Config) { c.Parallelism = 1 })
				defer restore()
			}
			cfg := app.config()

			p, err := newProvider()
			if err != nil {
				return err
			}
			ctx := context.Background()
			all, _, err := p.Init(ctx)
			if err != nil {
				return fmt.Errorf("provider %s: %w", providerKind, err)
			}
			hosts, err := selectHosts(all, roles)
			if err != nil {
				return err
			}

			tasks := make([]remote.Task, len(hosts))
			for i, h := range hosts {
				tasks[i] = remote.Task{Host: h, Script: script}
			}
			results, err := remote.NewPool(cfg).Execute(ctx, "run", tasks, remote.Options{Background: background})
			if err != nil {
				return err
			}
			printResults(results)
			return remote.Check("run", results)
		},
	}
	cmd.Flags().StringSliceVar(&roles, "on", nil, "Only hosts of this role (repeatable)")
	cmd.Flags().BoolVar(&background, "background", false, "Detach the command and return immediately")
	cmd.Flags().BoolVar(&serial, "serial", false, "Contact one host at a time")
	return cmd
}

// runScript turns the run arguments into one shell line. A lone argument
// is used as written once it parses as shell words.
func runScript(args []string) (string, error) {
	if len(args) == 1 {
		if _, err := remote.SplitCommand(args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	}
	return remote.Command(args...), nil
}

// selectHosts returns the hosts of the named roles, or every host.
func selectHosts(all inventory.Roles, roles []string) ([]*inventory.Host, error) {
	if len(roles) == 0 {
		return all.All().Sorted(), nil
	}
	set := inventory.NewHostSet()
	for _, r := range roles {
		hs, ok := all[r]
		if !ok {
			return nil, fmt.Errorf("unknown role %q (have %s)", r, strings.Join(all.Names(), ", "))
		}
		set = set.Union(hs)
	}
	return set.Sorted(), nil
}

func printResults(results []remote.Result) {
	width := 0
	for _, r := range results {
		if len(r.Host) > width {
			width = len(r.Host)
		}
	}
	for _, r := range results {
		name := cli.DotPad(r.Host, width+4)
		if r.Failed() {
			fmt.Printf("%s %s %v\n", name, red("✗"), r.Err)
		} else {
			fmt.Printf("%s %s\n", name, green("✓"))
		}
		for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
			if line != "" {
				fmt.Println("  " + dim(line))
			}
		}
	}
}
