// Package keepalive probes link health by shelling out to the system ping
// utility, bound to the cellular interface (§4.2, §6: "ping -c 1 -I <iface>
// -W <sec> <host>"). The ICMP ping utility itself is an out-of-scope external
// collaborator; this package only owns invoking and timing it, the way
// modemctl owns invoking modem_ctl.
package keepalive

import (
	"context"
	"os/exec"
	"strconv"
	"time"
)

const (
	probeCount   = 3
	perProbeWait = 20 * time.Second
	guardPeriod  = 5 * time.Second
)

// Runner abstracts process execution so tests never shell out to a real
// ping binary.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, iface, host string, waitSec int) bool
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, timeout time.Duration, iface, host string, waitSec int) bool {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "ping", "-c", "1", "-I", iface, "-W", strconv.Itoa(waitSec), host)
	return cmd.Run() == nil
}

// Prober runs the keepalive probe sequence for one interface/host pair.
type Prober struct {
	runner Runner
	iface  string
	host   string
}

// New returns a Prober pinging host over iface using the real ping binary.
func New(iface, host string) *Prober {
	return &Prober{runner: execRunner{}, iface: iface, host: host}
}

// NewWithRunner is used by tests to inject a fake Runner.
func NewWithRunner(r Runner, iface, host string) *Prober {
	return &Prober{runner: r, iface: iface, host: host}
}

// Check runs one probe of up to probeCount ICMP echoes (§4.2) and reports
// alive as soon as any echo succeeds. It fails only once all three echoes
// fail or error.
func (p *Prober) Check(ctx context.Context) bool {
	for i := 0; i < probeCount; i++ {
		if p.runner.Run(ctx, perProbeWait+guardPeriod, p.iface, p.host, int(perProbeWait.Seconds())) {
			return true
		}
	}
	return false
}
