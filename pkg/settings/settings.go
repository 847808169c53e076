// Package settings manages persistent user settings for the tbkit CLI and
// the immutable runtime configuration derived from them.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences
type Settings struct {
	// DefaultNetwork scopes emulation to one logical network when the
	// emulation file does not name one
	DefaultNetwork string `json:"default_network,omitempty"`

	// SSHUser, SSHKeyFile and SSHPort are the defaults for hosts that do
	// not carry their own connection details
	SSHUser    string `json:"ssh_user,omitempty"`
	SSHKeyFile string `json:"ssh_key_file,omitempty"`
	SSHPort    int    `json:"ssh_port,omitempty"`

	// Parallelism bounds how many hosts are contacted at once
	Parallelism int `json:"parallelism,omitempty"`

	// StateDir overrides where emulation state is kept (~/.tbkit)
	StateDir string `json:"state_dir,omitempty"`

	// HTBDefaultRate is the rate of the catch-all HTB class
	HTBDefaultRate string `json:"htb_default_rate,omitempty"`

	// TopologyRedis is a Redis address holding topology snapshots
	TopologyRedis string `json:"topology_redis,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tbkit_settings.json"
	}
	return filepath.Join(home, ".tbkit", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
