// Package audit keeps a journal of the operations that changed, or tried
// to change, traffic control state on testbed hosts.
package audit

import (
	"errors"
	"os"
	"os/user"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// Operation names an audited action.
type Operation string

const (
	OpDeploy   Operation = "deploy"
	OpDisable  Operation = "disable"
	OpDestroy  Operation = "destroy"
	OpValidate Operation = "validate"
)

// Event is one journal entry.
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	User        string        `json:"user"`
	Emulation   string        `json:"emulation"`
	Operation   Operation     `json:"operation"`
	Mode        string        `json:"mode,omitempty"`
	Hosts       []string      `json:"hosts,omitempty"`
	FailedHosts []string      `json:"failed_hosts,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	DryRun      bool          `json:"dry_run"`
	Duration    time.Duration `json:"duration"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Emulation   string
	Operation   Operation
	Host        string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int // newest events kept when exceeded
}

// NewEvent starts an event for the current user.
func NewEvent(emulation string, op Operation) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      currentUser(),
		Emulation: emulation,
		Operation: op,
	}
}

// WithMode records the plan mode.
func (e *Event) WithMode(mode string) *Event {
	e.Mode = mode
	return e
}

// WithHosts records the hosts the operation addressed.
func (e *Event) WithHosts(hosts ...string) *Event {
	e.Hosts = append([]string(nil), hosts...)
	sort.Strings(e.Hosts)
	return e
}

// WithDryRun marks an operation that only printed its scripts.
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}

// Finish records the outcome and the time elapsed since Timestamp. Hosts
// named by a RemoteOperationError are listed as failed.
func (e *Event) Finish(err error) *Event {
	e.Duration = time.Since(e.Timestamp)
	if err == nil {
		e.Success = true
		return e
	}
	e.Success = false
	e.Error = err.Error()
	var roe *util.RemoteOperationError
	if errors.As(err, &roe) {
		e.FailedHosts = roe.Hosts()
	}
	return e
}

func (e *Event) involves(host string) bool {
	for _, h := range e.Hosts {
		if h == host {
			return true
		}
	}
	return false
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
