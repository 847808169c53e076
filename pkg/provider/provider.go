// Package provider acquires hosts and hands them back as roles and
// logical networks. Each testbed kind implements Provider; the kind is
// chosen by name when the provider is built.
package provider

import (
	"context"
	"fmt"

	"github.com/tbkit-project/tbkit/pkg/inventory"
)

// Kind names a provider implementation.
type Kind string

const (
	// KindStatic reads an inventory file describing hosts that already exist.
	KindStatic Kind = "static"
	// KindLocal offers the machine tbkit runs on as a single host.
	KindLocal Kind = "local"
)

// Kinds lists the supported provider kinds.
func Kinds() []Kind {
	return []Kind{KindStatic, KindLocal}
}

// Provider acquires and releases resources.
type Provider interface {
	// Init makes the resources available and describes them.
	Init(ctx context.Context) (inventory.Roles, inventory.Networks, error)
	// Destroy releases whatever Init acquired.
	Destroy(ctx context.Context) error
}

// Options carry what the providers need to be built.
type Options struct {
	// InventoryFile is read by the static provider.
	InventoryFile string
	// Alias and Roles name the local host and the roles it holds.
	Alias string
	Roles []string
}

// New builds the provider of the given kind.
func New(kind Kind, opts Options) (Provider, error) {
	switch kind {
	case KindStatic:
		if opts.InventoryFile == "" {
			return nil, fmt.Errorf("provider %s: inventory file required", kind)
		}
		return &Static{path: opts.InventoryFile}, nil
	case KindLocal:
		return NewLocal(opts.Alias, opts.Roles...), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q (want one of %v)", kind, Kinds())
	}
}
