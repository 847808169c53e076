package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbkit-project/tbkit/pkg/cli"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/topology"
	"github.com/tbkit-project/tbkit/pkg/util"
)

var jsonOutput bool

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Acquire the hosts and show roles, networks and devices",
		Long: `Run the provider, sync the topology of every host and print it.

  tbkit -i hosts.yaml up
  tbkit --provider local --role paris up
  tbkit -i hosts.yaml up --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := app.config()
			tb, err := openTestbed(ctx, cfg, remote.NewPool(cfg))
			if err != nil {
				return err
			}
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(tb.topo)
			}
			printTestbed(tb)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	cmd.Flags().BoolVar(&fromRedis, "from-redis", false, "Read the topology snapshot from Redis")
	return cmd
}

func printTestbed(tb *testbed) {
	fmt.Println(bold("Hosts"))
	t := cli.NewTable("HOST", "ADDRESS", "ROLES").WithPrefix("  ")
	for _, h := range tb.hosts() {
		t.Row(h.Alias, h.Address, strings.Join(tb.rolesOf(h.Alias), ", "))
	}
	t.Flush()

	if names := tb.networks.Names(); len(names) > 0 {
		fmt.Println()
		fmt.Println(bold("Networks"))
		t = cli.NewTable("NETWORK", "PREFIXES").WithPrefix("  ")
		for _, name := range names {
			prefixes := make([]string, len(tb.networks[name]))
			for i, p := range tb.networks[name] {
				prefixes[i] = p.String()
			}
			t.Row(name, strings.Join(prefixes, " "))
		}
		t.Flush()
	}

	fmt.Println()
	printTopology(tb.topo)
}

func printTopology(m topology.Map) {
	fmt.Println(bold("Topology"))
	if len(m) == 0 {
		fmt.Println(dim("  no devices"))
		return
	}
	t := cli.NewTable("HOST", "DEVICE", "ADDRESSES").WithPrefix("  ")
	for _, alias := range m.Aliases() {
		for _, d := range m.Host(alias).Devices {
			if !d.Active() {
				continue
			}
			t.Row(alias, d.Name, bindings(d))
		}
	}
	t.Flush()
}

func newTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Sync and publish host topology",
	}

	var publish bool
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Read the devices of every host",
		Long: `Read the devices and addresses of every host and print them.

With --publish the snapshot is stored in Redis (setting topology_redis),
so later commands can use --from-redis instead of contacting the hosts.

  tbkit -i hosts.yaml topology sync
  tbkit -i hosts.yaml topology sync --publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg := app.config()
			tb, err := openTestbed(ctx, cfg, remote.NewPool(cfg))
			if err != nil {
				return err
			}

			if publish {
				store, err := openTopologyStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Save(ctx, tb.topo); err != nil {
					return fmt.Errorf("publishing topology: %w", err)
				}
				fmt.Printf("%s published %d host(s) to %s\n", green("✓"), len(tb.topo), cfg.TopologyRedis)
				util.Infof("topology of %d host(s) published to %s", len(tb.topo), cfg.TopologyRedis)
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(tb.topo)
			}
			printTopology(tb.topo)
			return nil
		},
	}
	syncCmd.Flags().BoolVar(&publish, "publish", false, "Store the snapshot in Redis")
	syncCmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")

	cmd.AddCommand(syncCmd)
	return cmd
}
