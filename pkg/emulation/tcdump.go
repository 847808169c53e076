package emulation

import (
	"bufio"
	"encoding/hex"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// deviceMarker starts the section of one device in a validation dump.
const deviceMarker = "### dev "

// InstalledNetem is a netem qdisc as reported by `tc qdisc show`.
type InstalledNetem struct {
	Parent string // "root" or a class id
	Delay  *time.Duration
	Rate   *Rate
	Loss   *float64
}

// Impairment returns the installed values.
func (n InstalledNetem) Impairment() Impairment {
	return Impairment{Delay: n.Delay, Rate: n.Rate, Loss: n.Loss}
}

// InstalledClass is an HTB class as reported by `tc class show`.
type InstalledClass struct {
	ID   string
	Rate *Rate
}

// InstalledDevice is what tc reports for one device.
type InstalledDevice struct {
	Name      string
	RootKind  string // kind of the root qdisc, "" when none
	DefaultID string // htb default class minor, hex as printed
	Netems    []InstalledNetem
	Classes   map[string]InstalledClass
	Filters   map[string][]netip.Addr // flowid -> destinations
}

// NetemAt returns the netem qdisc attached at parent.
func (d *InstalledDevice) NetemAt(parent string) (InstalledNetem, bool) {
	for _, n := range d.Netems {
		if n.Parent == parent {
			return n, true
		}
	}
	return InstalledNetem{}, false
}

// ParseDump reads a validation dump: for each device a "### dev <name>"
// line followed by the output of `tc qdisc show`, `tc class show` and
// `tc filter show` for that device.
func ParseDump(dump string) map[string]*InstalledDevice {
	devices := make(map[string]*InstalledDevice)
	var cur *InstalledDevice
	var flow string // flowid of the filter whose match lines follow
	var v6 []string // pending ip6 dst words
	flushV6 := func() {
		if cur != nil && len(v6) == 4 && flow != "" {
			if a, ok := hexAddr(strings.Join(v6, "")); ok {
				cur.Filters[flow] = append(cur.Filters[flow], a)
			}
		}
		v6 = nil
	}

	sc := bufio.NewScanner(strings.NewReader(dump))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if name, ok := strings.CutPrefix(line, deviceMarker); ok {
			flushV6()
			cur = &InstalledDevice{
				Name:    strings.TrimSpace(name),
				Classes: make(map[string]InstalledClass),
				Filters: make(map[string][]netip.Addr),
			}
			devices[cur.Name] = cur
			flow = ""
			continue
		}
		if cur == nil || line == "" {
			continue
		}
		f := strings.Fields(line)
		switch f[0] {
		case "qdisc":
			parseQdisc(cur, f)
		case "class":
			parseClass(cur, f)
		case "filter":
			flushV6()
			flow = fieldAfter(f, "flowid")
		case "match":
			if len(f) < 4 || flow == "" {
				continue
			}
			value, _, _ := strings.Cut(f[1], "/")
			switch off, _ := strconv.Atoi(f[3]); {
			case off == 16 && len(v6) == 0:
				if a, ok := hexAddr(value); ok {
					cur.Filters[flow] = append(cur.Filters[flow], a)
				}
			case off >= 24 && off <= 36:
				v6 = append(v6, value)
				if len(v6) == 4 {
					flushV6()
				}
			}
		}
	}
	flushV6()
	return devices
}

func parseQdisc(d *InstalledDevice, f []string) {
	if len(f) < 3 {
		return
	}
	kind := f[1]
	parent := "root"
	if p := fieldAfter(f, "parent"); p != "" {
		parent = p
	}
	if parent == "root" {
		d.RootKind = kind
	}
	switch kind {
	case "htb":
		d.DefaultID = strings.TrimPrefix(fieldAfter(f, "default"), "0x")
	case "netem":
		n := InstalledNetem{Parent: parent}
		if v := fieldAfter(f, "delay"); v != "" {
			if delay, err := ParseDelay(v); err == nil {
				n.Delay = &delay
			}
		}
		if v := fieldAfter(f, "rate"); v != "" {
			if r, err := ParseRate(v); err == nil {
				n.Rate = &r
			}
		}
		if v := fieldAfter(f, "loss"); v != "" {
			if l, err := ParseLoss(v); err == nil {
				n.Loss = &l
			}
		}
		d.Netems = append(d.Netems, n)
	}
}

func parseClass(d *InstalledDevice, f []string) {
	if len(f) < 3 || f[1] != "htb" {
		return
	}
	c := InstalledClass{ID: f[2]}
	if v := fieldAfter(f, "rate"); v != "" {
		if r, err := ParseRate(v); err == nil {
			c.Rate = &r
		}
	}
	d.Classes[c.ID] = c
}

// fieldAfter returns the word following key.
func fieldAfter(f []string, key string) string {
	for i := 0; i+1 < len(f); i++ {
		if f[i] == key {
			return f[i+1]
		}
	}
	return ""
}

func hexAddr(s string) (netip.Addr, bool) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice(b)
}
