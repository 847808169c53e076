// Package emulation compiles declarative network impairments between groups
// of hosts into per-device traffic control plans, installs them, and checks
// what the hosts report back.
//
// The pipeline is Expand -> Normalize -> Resolve -> BuildFlat/BuildHTB ->
// Enforcer -> Validator. Everything before the Enforcer is pure.
package emulation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Rate is a bandwidth in bits per second.
type Rate uint64

var rateUnits = []struct {
	suffix string
	mult   float64
}{
	// Longest suffixes first so "kbit" is not read as "bit".
	{"tbit", 1e12}, {"gbit", 1e9}, {"mbit", 1e6}, {"kbit", 1e3},
	{"tbps", 8e12}, {"gbps", 8e9}, {"mbps", 8e6}, {"kbps", 8e3},
	{"bit", 1}, {"bps", 8},
}

// ParseRate reads a rate in tc syntax: a number followed by bit, kbit,
// mbit, gbit or tbit (SI, bits) or bps, kbps, ... (bytes). Units are
// case-insensitive; a bare number is bits per second.
func ParseRate(s string) (Rate, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	mult := 1.0
	for _, u := range rateUnits {
		if strings.HasSuffix(t, u.suffix) {
			t = strings.TrimSpace(strings.TrimSuffix(t, u.suffix))
			mult = u.mult
			break
		}
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return Rate(math.Round(v * mult)), nil
}

// String renders r with the largest unit dividing it exactly.
func (r Rate) String() string {
	for _, u := range []struct {
		suffix string
		mult   uint64
	}{{"tbit", 1e12}, {"gbit", 1e9}, {"mbit", 1e6}, {"kbit", 1e3}} {
		if r != 0 && uint64(r)%u.mult == 0 {
			return fmt.Sprintf("%d%s", uint64(r)/u.mult, u.suffix)
		}
	}
	return fmt.Sprintf("%dbit", uint64(r))
}

// ParseDelay reads a delay such as "10ms", "1.5ms", "200us" or "1s". The tc
// spellings "msec", "usec" and "sec" are accepted too, and a bare number is
// microseconds as in tc. netem works in whole microseconds, so a delay with
// a finer part is rejected.
func ParseDelay(s string) (time.Duration, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	for _, r := range []struct{ from, to string }{{"usec", "us"}, {"msec", "ms"}, {"sec", "s"}} {
		if strings.HasSuffix(t, r.from) {
			t = strings.TrimSuffix(t, r.from) + r.to
			break
		}
	}
	if _, err := strconv.ParseFloat(t, 64); err == nil {
		t += "us"
	}
	d, err := time.ParseDuration(t)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid delay %q", s)
	}
	if d%time.Microsecond != 0 {
		return 0, fmt.Errorf("invalid delay %q (finer than a microsecond)", s)
	}
	return d, nil
}

// ParseLoss reads a loss percentage: "1", "0.5%" or "2 %".
func ParseLoss(s string) (float64, error) {
	t := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(t, 64)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("invalid loss %q (want a percentage between 0 and 100)", s)
	}
	return v, nil
}

func formatDelay(d time.Duration) string {
	if d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
	return fmt.Sprintf("%dus", d/time.Microsecond)
}

func formatLoss(l float64) string {
	return strconv.FormatFloat(l, 'g', -1, 64) + "%"
}

// Impairment is the degradation applied to a flow. A nil field leaves that
// dimension unconstrained. Impairments are values; Merge returns a new one.
type Impairment struct {
	Delay *time.Duration
	Rate  *Rate
	Loss  *float64
}

// Delayed, Limited and Lossy build single-field impairments.
func Delayed(d time.Duration) Impairment { return Impairment{Delay: &d} }
func Limited(r Rate) Impairment          { return Impairment{Rate: &r} }
func Lossy(l float64) Impairment         { return Impairment{Loss: &l} }

// Merge returns i with every field set in o taking o's value.
func (i Impairment) Merge(o Impairment) Impairment {
	out := i
	if o.Delay != nil {
		d := *o.Delay
		out.Delay = &d
	}
	if o.Rate != nil {
		r := *o.Rate
		out.Rate = &r
	}
	if o.Loss != nil {
		l := *o.Loss
		out.Loss = &l
	}
	return out
}

// IsZero reports whether no field is set.
func (i Impairment) IsZero() bool {
	return i.Delay == nil && i.Rate == nil && i.Loss == nil
}

// Equal compares field values.
func (i Impairment) Equal(o Impairment) bool {
	return i.Key() == o.Key()
}

// Key is a canonical string identifying the impairment value.
func (i Impairment) Key() string {
	delay, rate, loss := "-", "-", "-"
	if i.Delay != nil {
		delay = formatDelay(*i.Delay)
	}
	if i.Rate != nil {
		rate = i.Rate.String()
	}
	if i.Loss != nil {
		loss = formatLoss(*i.Loss)
	}
	return "delay=" + delay + " rate=" + rate + " loss=" + loss
}

func (i Impairment) String() string {
	if i.IsZero() {
		return "none"
	}
	return strings.Join(i.netemArgs(true), " ")
}

// netemArgs renders the netem options. With withRate false the rate is
// left to an enclosing HTB class.
func (i Impairment) netemArgs(withRate bool) []string {
	var args []string
	if i.Delay != nil {
		args = append(args, "delay", formatDelay(*i.Delay))
	}
	if withRate && i.Rate != nil {
		args = append(args, "rate", i.Rate.String())
	}
	if i.Loss != nil {
		args = append(args, "loss", formatLoss(*i.Loss))
	}
	return args
}
