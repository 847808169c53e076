package emulation

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tbkit-project/tbkit/pkg/inventory"
)

func TestState_TouchForget(t *testing.T) {
	s := &State{}
	h := &inventory.Host{Alias: "a", Address: "192.0.2.1"}
	s.Touch(h, "eth1", "eth0")
	s.Touch(h, "eth0", "lo")

	if got := s.Hosts["a"].Devices; !reflect.DeepEqual(got, []string{"eth0", "eth1", "lo"}) {
		t.Errorf("Devices = %v", got)
	}
	if s.Hosts["a"].Host.Address != "192.0.2.1" {
		t.Error("host details not recorded")
	}
	s.Forget("a")
	if !s.Empty() {
		t.Error("Forget() should leave the state empty")
	}
}

func TestStateStore_SaveLoad(t *testing.T) {
	store := NewStateStore(t.TempDir())

	missing, err := store.Load("lab")
	if err != nil || !missing.Empty() || missing.Name != "lab" {
		t.Fatalf("Load() missing = %+v, %v", missing, err)
	}

	s := &State{Name: "lab", Enabled: true, Mode: ModeFlat}
	s.Touch(&inventory.Host{Alias: "a"}, "eth0")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if s.Updated.IsZero() {
		t.Error("Save() should stamp Updated")
	}

	loaded, err := store.Load("lab")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Enabled || loaded.Mode != ModeFlat || !reflect.DeepEqual(loaded.Hosts["a"].Devices, []string{"eth0"}) {
		t.Errorf("Load() = %+v", loaded)
	}

	names, err := store.List()
	if err != nil || !reflect.DeepEqual(names, []string{"lab"}) {
		t.Errorf("List() = %v, %v", names, err)
	}

	loaded.Forget("a")
	if err := store.Save(loaded); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(store.Dir("lab")); !os.IsNotExist(err) {
		t.Error("saving an empty state should remove its directory")
	}
}

func TestStateStore_Corrupt(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := os.MkdirAll(store.Dir("lab"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir("lab"), "state.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("lab"); err == nil {
		t.Error("corrupt state should fail to load")
	}
}

func TestStateStore_ListWithoutDir(t *testing.T) {
	names, err := NewStateStore(filepath.Join(t.TempDir(), "nope")).List()
	if err != nil || names != nil {
		t.Errorf("List() = %v, %v", names, err)
	}
}
