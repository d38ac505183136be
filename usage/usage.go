// Package usage wraps the external byte-counter utility (§4.5), tracking
// cumulative tx/rx for the cellular interface and resetting it on overflow.
// Grounded on the original Python's cellular_utility/vnstat.py: a thin
// exec.Command wrapper around the vnstat binary, same update()/usage() split
// and delete-and-restart-on-overflow behavior, expressed in modemctl's
// Runner-interface idiom so it can be faked in tests.
package usage

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/cellular"
)

// maxCounter mirrors vnstat.py's TXRX_MAX: 2^63-1, the largest int64.
const maxCounter = int64(9223372036854775807)

var (
	totalRxRe  = regexp.MustCompile(`totalrx;([0-9]+)\n`)
	totalRxkRe = regexp.MustCompile(`totalrxk;([0-9]+)\n`)
	totalTxRe  = regexp.MustCompile(`totaltx;([0-9]+)\n`)
	totalTxkRe = regexp.MustCompile(`totaltxk;([0-9]+)\n`)
)

// Runner abstracts exec.Command so tests don't need a real vnstat/service
// binary on disk.
type Runner interface {
	Run(ctx context.Context, bin string, args ...string) (output string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, bin string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	return string(out), err
}

// Counter tracks the byte counter for one interface.
type Counter struct {
	runner Runner
	iface  string
}

// New returns a Counter backed by the real vnstat binary.
func New(iface string) *Counter {
	return &Counter{runner: execRunner{}, iface: iface}
}

// NewWithRunner is used by tests to inject a fake Runner.
func NewWithRunner(r Runner, iface string) *Counter {
	return &Counter{runner: r, iface: iface}
}

// Update refreshes the underlying database for the interface.
func (c *Counter) Update(ctx context.Context) error {
	_, err := c.runner.Run(ctx, "vnstat", "-i", c.iface, "-u")
	if err != nil {
		log.Warnf("usage: update %s: %v", c.iface, err)
	}
	return err
}

// Usage reads the cumulative counters and returns them in kilobytes. An
// overflowing counter (either value >= 2^63-1) triggers delete-and-reset and
// a placeholder result (§4.5, §8): the caller should surface {-1,-1}.
func (c *Counter) Usage(ctx context.Context) (cellular.Usage, error) {
	output, err := c.runner.Run(ctx, "vnstat", "-i", c.iface, "--dumpdb")
	if err != nil {
		log.Warnf("usage: dumpdb %s: %v", c.iface, err)
		return cellular.PlaceholderUsage(), err
	}

	rx, okRx := match(totalRxRe, output)
	rxk, okRxk := match(totalRxkRe, output)
	tx, okTx := match(totalTxRe, output)
	txk, okTxk := match(totalTxkRe, output)
	if !okRx || !okRxk || !okTx || !okTxk {
		log.Warnf("usage: parse error: %q", output)
		return cellular.PlaceholderUsage(), &ParseError{Output: output}
	}

	// Checked before multiplying, since tx*1024 would otherwise wrap int64.
	overflow := tx > (maxCounter-txk)/1024 || rx > (maxCounter-rxk)/1024
	txKB := tx*1024 + txk
	rxKB := rx*1024 + rxk

	if overflow || txKB >= maxCounter || rxKB >= maxCounter {
		log.Warnf("usage: overflow tx=%d rx=%d, deleting and resetting", txKB, rxKB)
		if derr := c.delete(ctx); derr != nil {
			return cellular.PlaceholderUsage(), derr
		}
		return cellular.PlaceholderUsage(), &OverflowError{TxKB: txKB, RxKB: rxKB}
	}

	return cellular.Usage{TxKB: txKB, RxKB: rxKB}, nil
}

func (c *Counter) delete(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, "service", "vnstat", "stop"); err != nil {
		return err
	}
	if _, err := c.runner.Run(ctx, "vnstat", "-i", c.iface, "--delete", "--force"); err != nil {
		return err
	}
	if _, err := c.runner.Run(ctx, "service", "vnstat", "start"); err != nil {
		return err
	}
	return nil
}

func match(re *regexp.Regexp, output string) (int64, bool) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseError surfaces an unrecognized --dumpdb output.
type ParseError struct {
	Output string
}

func (e *ParseError) Error() string { return "usage: unparseable dumpdb output" }

// OverflowError surfaces that the counter was deleted and reset after an
// overflow was observed.
type OverflowError struct {
	TxKB, RxKB int64
}

func (e *OverflowError) Error() string { return "usage: counter overflowed, reset" }
