package emulation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// State is persisted to <state dir>/emulations/<name>/state.json.
type State struct {
	Name    string                  `json:"name"`
	Updated time.Time               `json:"updated"`
	Enabled bool                    `json:"enabled"`
	Mode    Mode                    `json:"mode,omitempty"`
	Hosts   map[string]*TouchedHost `json:"hosts"`
}

// TouchedHost records the devices whose qdiscs tbkit may have changed.
type TouchedHost struct {
	Host    inventory.Host `json:"host"`
	Devices []string       `json:"devices"`
}

// Touch adds devices of h.
func (s *State) Touch(h *inventory.Host, devices ...string) {
	if s.Hosts == nil {
		s.Hosts = make(map[string]*TouchedHost)
	}
	th, ok := s.Hosts[h.Alias]
	if !ok {
		th = &TouchedHost{Host: *h}
		s.Hosts[h.Alias] = th
	}
	th.Devices = util.DedupStrings(append(th.Devices, devices...))
	sort.Strings(th.Devices)
}

// Forget drops a host.
func (s *State) Forget(alias string) {
	delete(s.Hosts, alias)
}

// Empty reports whether no device is recorded.
func (s *State) Empty() bool {
	return len(s.Hosts) == 0
}

// StateStore reads and writes the state of named emulations.
type StateStore struct {
	dir string
}

// NewStateStore keeps state under stateDir/emulations.
func NewStateStore(stateDir string) *StateStore {
	return &StateStore{dir: filepath.Join(stateDir, "emulations")}
}

// Dir returns the state directory of an emulation.
func (s *StateStore) Dir(name string) string {
	return filepath.Join(s.dir, util.SanitizeName(name))
}

// Load reads the state of name. A missing file yields an empty state.
func (s *StateStore) Load(name string) (*State, error) {
	path := filepath.Join(s.Dir(name), "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Name: name, Hosts: map[string]*TouchedHost{}}, nil
		}
		return nil, fmt.Errorf("emulation: read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("emulation: parse state.json: %w", err)
	}
	if state.Hosts == nil {
		state.Hosts = map[string]*TouchedHost{}
	}
	return &state, nil
}

// Save writes state.json. An empty state removes the directory instead.
func (s *StateStore) Save(state *State) error {
	if state.Empty() {
		return s.Remove(state.Name)
	}
	dir := s.Dir(state.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("emulation: create state dir: %w", err)
	}

	state.Updated = time.Now()
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("emulation: marshal state: %w", err)
	}

	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("emulation: write state: %w", err)
	}
	return nil
}

// Remove deletes the state directory of name.
func (s *StateStore) Remove(name string) error {
	return os.RemoveAll(s.Dir(name))
}

// List returns the names of emulations with saved state.
func (s *StateStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("emulation: list state: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
