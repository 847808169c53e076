package emulation

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// DumpFile is the name of the per-host capture in the output directory.
const DumpFile = "tc.txt"

// Validator reads back installed qdiscs and compares them with a plan. It
// never changes host state.
type Validator struct {
	exec  remote.Executor
	newID func() string
}

// NewValidator returns a validator running its reads through exec.
func NewValidator(exec remote.Executor) *Validator {
	return &Validator{exec: exec, newID: uuid.NewString}
}

// Validate captures `tc` output for every planned device into
// outputDir/<alias>/tc.txt, compares it with the plan and writes
// report.json, report.md and report.xml to outputDir.
//
// Mismatches are recorded in the report, not returned; use Report.Err to
// treat them as fatal. Hosts whose capture failed are returned as a
// RemoteOperationError after the report of the others is written.
func (v *Validator) Validate(ctx context.Context, plan *Plan, outputDir string) (*Report, error) {
	runID := v.newID()
	remotePath := "/tmp/tbkit-validate-" + runID + ".txt"
	devices := plan.Devices()
	hosts := plan.Hosts()

	report := &Report{RunID: runID, Mode: plan.Mode, Created: time.Now()}
	if len(hosts) == 0 {
		return report, report.Write(outputDir)
	}

	tasks := make([]remote.Task, len(hosts))
	for i, h := range hosts {
		tasks[i] = remote.Task{Host: h, Script: dumpScript(devices[h.Alias], remotePath)}
	}
	results, err := v.exec.Execute(ctx, "emulation-validate", tasks, remote.Options{
		Fetch: []remote.Fetch{{Remote: remotePath, Dir: outputDir, Name: DumpFile, Remove: true}},
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		hr := HostReport{Host: r.Host}
		if r.Failed() {
			hr.Error = r.Err.Error()
			report.Hosts = append(report.Hosts, hr)
			continue
		}
		hr.Dump = filepath.Join(util.SanitizeName(r.Host), DumpFile)
		if len(r.Fetched) == 0 {
			if err := writeDump(outputDir, r.Host, r.Output); err != nil {
				return nil, err
			}
		}
		installed := ParseDump(r.Output)
		hr.Devices = compareHost(plan, r.Host, installed)
		report.Hosts = append(report.Hosts, hr)
	}

	if err := report.Write(outputDir); err != nil {
		return nil, err
	}
	if n := len(report.Mismatches()); n > 0 {
		util.WithOperation("validate").Warnf("%d mismatch(es), see %s", n, outputDir)
	}
	return report, remote.Check("validate", results)
}

func dumpScript(devices []string, path string) string {
	lines := []string{"{"}
	for _, dev := range devices {
		lines = append(lines,
			remote.Command("echo", deviceMarker+dev),
			tc("qdisc", "show", "dev", dev),
			tc("class", "show", "dev", dev),
			tc("filter", "show", "dev", dev),
		)
	}
	lines = append(lines, "} > "+remote.Command(path)+" 2>&1", remote.Command("cat", path))
	return strings.Join(lines, "\n") + "\n"
}

func writeDump(outputDir, alias, output string) error {
	dir := filepath.Join(outputDir, util.SanitizeName(alias))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, DumpFile), []byte(output), 0o644)
}

func compareHost(plan *Plan, alias string, installed map[string]*InstalledDevice) []DeviceReport {
	var out []DeviceReport
	for _, e := range plan.Flat {
		if e.Host.Alias == alias {
			out = append(out, newDeviceReport(alias, e.Device, compareFlat(e, installed[e.Device])))
		}
	}
	for _, t := range plan.Trees {
		if t.Host.Alias == alias {
			out = append(out, newDeviceReport(alias, t.Device, compareTree(t, installed[t.Device])))
		}
	}
	return out
}

type diff struct{ expected, actual string }

func newDeviceReport(alias, device string, diffs []diff) DeviceReport {
	dr := DeviceReport{Device: device, OK: len(diffs) == 0}
	for _, d := range diffs {
		dr.Mismatches = append(dr.Mismatches, util.Mismatch{Host: alias, Device: device, Expected: d.expected, Actual: d.actual})
	}
	return dr
}

func compareFlat(e FlatEntry, d *InstalledDevice) []diff {
	want := "netem " + e.Impairment.String()
	if d == nil {
		return []diff{{want, "device not in capture"}}
	}
	n, ok := d.NetemAt("root")
	if !ok {
		return []diff{{want, "root qdisc " + orNone(d.RootKind)}}
	}
	if !sameImpairment(e.Impairment, n.Impairment(), true) {
		return []diff{{want, "netem " + n.Impairment().String()}}
	}
	return nil
}

func compareTree(t DeviceTree, d *InstalledDevice) []diff {
	if d == nil {
		return []diff{{"htb root", "device not in capture"}}
	}
	if d.RootKind != "htb" {
		return []diff{{"htb root", "root qdisc " + orNone(d.RootKind)}}
	}

	var diffs []diff
	if want := fmt.Sprintf("%x", DefaultClassMinor); d.DefaultID != want {
		diffs = append(diffs, diff{"htb default " + want, "htb default " + orNone(d.DefaultID)})
	}
	diffs = append(diffs, compareClass(d, fmt.Sprintf("1:%d", DefaultClassMinor), t.DefaultRate)...)

	for _, c := range t.Classes {
		rate := t.DefaultRate
		if c.Impairment.Rate != nil {
			rate = *c.Impairment.Rate
		}
		diffs = append(diffs, compareClass(d, c.ID(), rate)...)

		if len(c.Impairment.netemArgs(false)) > 0 {
			want := fmt.Sprintf("%s netem %s", c.ID(), strings.Join(c.Impairment.netemArgs(false), " "))
			n, ok := d.NetemAt(c.ID())
			if !ok {
				diffs = append(diffs, diff{want, c.ID() + " no netem"})
			} else if !sameImpairment(c.Impairment, n.Impairment(), false) {
				diffs = append(diffs, diff{want, fmt.Sprintf("%s netem %s", c.ID(), n.Impairment())})
			}
		}

		want, got := sortedAddrs(c.Targets), sortedAddrs(d.Filters[c.ID()])
		if !equalAddrs(want, got) {
			diffs = append(diffs, diff{
				fmt.Sprintf("%s filters %s", c.ID(), joinAddrs(want)),
				fmt.Sprintf("%s filters %s", c.ID(), joinAddrs(got)),
			})
		}
	}
	return diffs
}

func compareClass(d *InstalledDevice, id string, rate Rate) []diff {
	want := fmt.Sprintf("class %s rate %s", id, rate)
	c, ok := d.Classes[id]
	if !ok {
		return []diff{{want, "class " + id + " missing"}}
	}
	if c.Rate == nil || printedRate(*c.Rate) != printedRate(rate) {
		got := "?"
		if c.Rate != nil {
			got = c.Rate.String()
		}
		return []diff{{want, fmt.Sprintf("class %s rate %s", id, got)}}
	}
	return nil
}

// printedRate renders r the way tc shows it back: the kernel keeps whole
// bytes per second, and tc drops the digits below its K/M/G/T unit.
func printedRate(r Rate) string {
	bits := uint64(r) / 8 * 8
	units := []string{"", "K", "M", "G", "T"}
	i := 0
	for ; i < len(units)-1; i++ {
		if bits < 1000 || (bits%1000 != 0 && bits < 1000*1000) {
			break
		}
		bits /= 1000
	}
	return fmt.Sprintf("%d%sbit", bits, units[i])
}

// sameImpairment compares what tc reports with what was asked. tc omits a
// zero delay or loss, so unset and zero are the same. The rate is only
// checked when asked for and withRate is true, at the precision tc prints.
func sameImpairment(want, got Impairment, withRate bool) bool {
	if durationOrZero(want.Delay) != durationOrZero(got.Delay) {
		return false
	}
	if math.Abs(floatOrZero(want.Loss)-floatOrZero(got.Loss)) > 1e-6 {
		return false
	}
	if withRate && want.Rate != nil && (got.Rate == nil || printedRate(*got.Rate) != printedRate(*want.Rate)) {
		return false
	}
	return true
}

func durationOrZero(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func equalAddrs(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinAddrs(addrs []netip.Addr) string {
	if len(addrs) == 0 {
		return "none"
	}
	s := make([]string, len(addrs))
	for i, a := range addrs {
		s[i] = a.String()
	}
	return strings.Join(s, ",")
}
