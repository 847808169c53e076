package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tbkit-project/tbkit/pkg/cli"
	"github.com/tbkit-project/tbkit/pkg/emulation"
	"github.com/tbkit-project/tbkit/pkg/settings"
)

const validSettings = "network, ssh_user, ssh_key, ssh_port, parallelism, state_dir, htb_default_rate, topology_redis"

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.tbkit/settings.json.

TBKIT_* environment variables override these values.

Examples:
  tbkit settings show
  tbkit settings set ssh_user ubuntu
  tbkit settings set network experiment
  tbkit settings set topology_redis 10.0.0.100:6379
  tbkit settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		cfg, err := settings.Resolve(s)
		if err != nil {
			return err
		}

		fmt.Printf("Settings file: %s\n\n", settings.DefaultSettingsPath())

		t := cli.NewTable("SETTING", "VALUE", "EFFECTIVE")
		for _, name := range settingNames() {
			value, _ := getSetting(s, name)
			if value == "" {
				value = "(not set)"
			}
			t.Row(name, value, effectiveSetting(cfg, name))
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  network          - Logical network emulations are scoped to by default
  ssh_user         - SSH user for hosts without one
  ssh_key          - SSH private key file
  ssh_port         - SSH port for hosts without one
  parallelism      - Hosts contacted at once
  state_dir        - Where emulation state and the audit journal live
  htb_default_rate - Rate of the catch-all HTB class (e.g. 10gbit)
  topology_redis   - Redis address holding topology snapshots`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			s = &settings.Settings{}
		}
		if err := setSetting(s, args[0], args[1]); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		value, err := getSetting(s, args[0])
		if err != nil {
			return err
		}
		if value == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(value)
		}
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.Save(); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settings.DefaultSettingsPath())
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}

func settingNames() []string {
	return []string{"network", "ssh_user", "ssh_key", "ssh_port", "parallelism", "state_dir", "htb_default_rate", "topology_redis"}
}

func unknownSetting(name string) error {
	return fmt.Errorf("unknown setting: %s (valid: %s)", name, validSettings)
}

func getSetting(s *settings.Settings, name string) (string, error) {
	itoa := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	switch name {
	case "network", "default_network":
		return s.DefaultNetwork, nil
	case "ssh_user":
		return s.SSHUser, nil
	case "ssh_key", "ssh_key_file":
		return s.SSHKeyFile, nil
	case "ssh_port":
		return itoa(s.SSHPort), nil
	case "parallelism":
		return itoa(s.Parallelism), nil
	case "state_dir":
		return s.StateDir, nil
	case "htb_default_rate":
		return s.HTBDefaultRate, nil
	case "topology_redis":
		return s.TopologyRedis, nil
	}
	return "", unknownSetting(name)
}

// setSetting validates value before storing it.
func setSetting(s *settings.Settings, name, value string) error {
	atoi := func(min int) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil || n < min {
			return 0, fmt.Errorf("%s: want an integer >= %d, got %q", name, min, value)
		}
		return n, nil
	}
	switch name {
	case "network", "default_network":
		s.DefaultNetwork = value
	case "ssh_user":
		s.SSHUser = value
	case "ssh_key", "ssh_key_file":
		s.SSHKeyFile = value
	case "ssh_port":
		n, err := atoi(1)
		if err != nil {
			return err
		}
		s.SSHPort = n
	case "parallelism":
		n, err := atoi(1)
		if err != nil {
			return err
		}
		s.Parallelism = n
	case "state_dir":
		s.StateDir = value
	case "htb_default_rate":
		if _, err := emulation.ParseRate(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		s.HTBDefaultRate = value
	case "topology_redis":
		s.TopologyRedis = value
	default:
		return unknownSetting(name)
	}
	return nil
}

func effectiveSetting(c settings.Config, name string) string {
	switch name {
	case "network":
		return c.DefaultNetwork
	case "ssh_user":
		return c.SSHUser
	case "ssh_key":
		return c.SSHKeyFile
	case "ssh_port":
		return strconv.Itoa(c.SSHPort)
	case "parallelism":
		return strconv.Itoa(c.Parallelism)
	case "state_dir":
		return c.StateDir
	case "htb_default_rate":
		return c.HTBDefaultRate
	case "topology_redis":
		return c.TopologyRedis
	}
	return ""
}
