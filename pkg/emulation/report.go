package emulation

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/tbkit-project/tbkit/pkg/util"
)

// DateTimeFormat is used in report headers.
const DateTimeFormat = "2006-01-02 15:04:05"

// Report is the outcome of one validation run.
type Report struct {
	RunID   string       `json:"run_id"`
	Mode    Mode         `json:"mode"`
	Created time.Time    `json:"created"`
	Hosts   []HostReport `json:"hosts"`
}

// HostReport holds the checks of one host.
type HostReport struct {
	Host    string         `json:"host"`
	Dump    string         `json:"dump,omitempty"` // relative to the output directory
	Error   string         `json:"error,omitempty"`
	Devices []DeviceReport `json:"devices,omitempty"`
}

// DeviceReport holds the checks of one device.
type DeviceReport struct {
	Device     string          `json:"device"`
	OK         bool            `json:"ok"`
	Mismatches []util.Mismatch `json:"mismatches,omitempty"`
}

// Mismatches returns every mismatch in host then device order.
func (r *Report) Mismatches() []util.Mismatch {
	var out []util.Mismatch
	for _, h := range r.Hosts {
		for _, d := range h.Devices {
			out = append(out, d.Mismatches...)
		}
	}
	return out
}

// OK reports whether every host was read and matched the plan.
func (r *Report) OK() bool {
	for _, h := range r.Hosts {
		if h.Error != "" {
			return false
		}
	}
	return len(r.Mismatches()) == 0
}

// Err returns a ValidationMismatchError when the plan was not found
// installed, for callers treating that as fatal.
func (r *Report) Err() error {
	if m := r.Mismatches(); len(m) > 0 {
		return &util.ValidationMismatchError{Mismatches: m}
	}
	return nil
}

// Write stores report.json, report.md and report.xml in dir.
func (r *Report) Write(dir string) error {
	return multierr.Combine(
		r.WriteJSON(filepath.Join(dir, "report.json")),
		r.WriteMarkdown(filepath.Join(dir, "report.md")),
		r.WriteJUnit(filepath.Join(dir, "report.xml")),
	)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteMarkdown writes a markdown report to the given path.
func (r *Report) WriteMarkdown(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "# tbkit validation %s (%s mode)\n\n", r.Created.Format(DateTimeFormat), r.Mode)
	fmt.Fprintf(f, "Run `%s`\n\n", r.RunID)

	fmt.Fprintln(f, "| Host | Device | Result | Capture |")
	fmt.Fprintln(f, "|------|--------|--------|---------|")
	for _, h := range r.Hosts {
		if h.Error != "" {
			fmt.Fprintf(f, "| %s | - | ERROR | - |\n", h.Host)
			continue
		}
		for _, d := range h.Devices {
			result := "PASS"
			if !d.OK {
				result = "FAIL"
			}
			fmt.Fprintf(f, "| %s | %s | %s | %s |\n", h.Host, d.Device, result, h.Dump)
		}
	}

	if m := r.Mismatches(); len(m) > 0 {
		fmt.Fprintf(f, "\n## Mismatches\n\n")
		for _, x := range m {
			fmt.Fprintf(f, "- %s\n", x)
		}
	}

	hasErrors := false
	for _, h := range r.Hosts {
		if h.Error == "" {
			continue
		}
		if !hasErrors {
			fmt.Fprintf(f, "\n## Unreachable hosts\n\n")
			hasErrors = true
		}
		fmt.Fprintf(f, "- %s: %s\n", h.Host, h.Error)
	}
	return nil
}

// WriteJUnit writes a JUnit XML report for CI integration: one suite per
// host, one case per device.
func (r *Report) WriteJUnit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	suites := junitTestSuites{}
	for _, h := range r.Hosts {
		suite := junitTestSuite{Name: h.Host}
		if h.Error != "" {
			suite.Tests = 1
			suite.Errors = 1
			suite.Cases = append(suite.Cases, junitTestCase{
				Name:      "capture",
				ClassName: h.Host,
				Error:     &junitError{Message: h.Error, Type: "remote"},
			})
			suites.Suites = append(suites.Suites, suite)
			continue
		}
		for _, d := range h.Devices {
			suite.Tests++
			tc := junitTestCase{Name: d.Device, ClassName: h.Host}
			if !d.OK {
				suite.Failures++
				msg := ""
				for i, m := range d.Mismatches {
					if i > 0 {
						msg += "; "
					}
					msg += fmt.Sprintf("expected %s, found %s", m.Expected, m.Actual)
				}
				tc.Failure = &junitFailure{Message: msg, Type: "mismatch"}
			}
			suite.Cases = append(suite.Cases, tc)
		}
		suites.Suites = append(suites.Suites, suite)
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0o644)
}

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}
