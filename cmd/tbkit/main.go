// tbkit - testbed network emulation
//
// tbkit takes a set of hosts from a provider, learns which devices and
// addresses they carry, and shapes the traffic between groups of hosts with
// tc/netem (delay, rate, loss).
//
// Write commands preview by default and need -x to touch the hosts:
//
//	tbkit -i hosts.yaml up                       # hosts, roles and topology
//	tbkit -i hosts.yaml emulate plan -e wan.yaml  # compiled plan, no remote call
//	tbkit -i hosts.yaml emulate deploy -e wan.yaml      # preview the tc scripts
//	tbkit -i hosts.yaml emulate deploy -e wan.yaml -x   # install them
//	tbkit -i hosts.yaml emulate validate -e wan.yaml -o out/
//	tbkit -i hosts.yaml emulate destroy -e wan.yaml -x
//	tbkit --provider local --role paris emulate deploy -e wan.yaml -x
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbkit-project/tbkit/pkg/audit"
	"github.com/tbkit-project/tbkit/pkg/cli"
	"github.com/tbkit-project/tbkit/pkg/provider"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/util"
	"github.com/tbkit-project/tbkit/pkg/version"
)

// App holds what PersistentPreRunE sets up for the subcommands.
type App struct {
	scope *settings.Scope
	audit audit.Logger // nil when the journal could not be opened
}

var (
	app = &App{}

	verbose       bool
	logFormat     string
	providerKind  string
	inventoryFile string
	localAlias    string
	localRoles    []string
	parallelism   int
	noColor       bool
)

func main() {
	defer app.close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error:"), err)
		app.close()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "tbkit",
	Short:             "Testbed network emulation",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `tbkit shapes the traffic between groups of testbed hosts with tc/netem.

Hosts come from a provider (an inventory file, or the local machine).
Emulation files describe delay, rate and loss between the host groups.
Write commands preview the tc scripts by default; use -x to execute.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		if err := util.Configure(level, logFormat); err != nil {
			return err
		}
		if noColor {
			cli.SetColor(false)
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}
		return app.init()
	},
}

func (a *App) init() error {
	s, err := settings.Load()
	if err != nil {
		util.Warnf("Could not load settings: %v", err)
		s = &settings.Settings{}
	}

	cfg, err := settings.Resolve(s)
	if err != nil {
		return err
	}
	if parallelism > 0 {
		cfg = cfg.With(func(c *settings.Config) { c.Parallelism = parallelism })
	}
	a.scope = settings.NewScope(cfg)

	logger, err := audit.NewFileLogger(filepath.Join(cfg.StateDir, audit.DefaultFile), audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024, // 10MB
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
	} else {
		a.audit = logger
	}
	return nil
}

func (a *App) close() {
	if a.audit != nil {
		a.audit.Close()
	}
}

// record journals ev once the operation finished with err.
func (a *App) record(ev *audit.Event, err error) {
	ev.Finish(err)
	if a.audit == nil {
		return
	}
	if logErr := a.audit.Log(ev); logErr != nil {
		util.Warnf("Could not write audit event: %v", logErr)
	}
}

func (a *App) config() settings.Config {
	if a.scope == nil {
		return settings.Defaults()
	}
	return a.scope.Current()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&providerKind, "provider", string(provider.KindStatic), "Host provider: static or local")
	pf.StringVarP(&inventoryFile, "inventory", "i", "", "Inventory file (static provider)")
	pf.StringVar(&localAlias, "alias", "", "Alias of the local host (local provider)")
	pf.StringSliceVar(&localRoles, "role", nil, "Role held by the local host (local provider, repeatable)")
	pf.IntVarP(&parallelism, "parallel", "p", 0, "Hosts contacted at once (default from settings)")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "testbed", Title: "Testbed:"},
		&cobra.Group{ID: "emulation", Title: "Emulation:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	for _, cmd := range []*cobra.Command{newUpCmd(), newTopologyCmd(), newRunCmd()} {
		cmd.GroupID = "testbed"
		rootCmd.AddCommand(cmd)
	}
	emulateCmd := newEmulateCmd()
	emulateCmd.GroupID = "emulation"
	rootCmd.AddCommand(emulateCmd)
	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Line("tbkit"))
	},
}

// isSettingsOrHelp reports commands that run without loading the
// configuration.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "help", "version", "completion":
			return true
		}
	}
	return false
}

func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
func dim(s string) string    { return cli.Dim(s) }
